package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blackcap/blackcap/scheduler/domain"
)

type serveCmd struct{}

func (c *serveCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation loop until interrupted",
	}
}

func (c *serveCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cl.realize(ctx); err != nil {
		return err
	}
	log.WithFields(log.Fields{"clusters": len(cl.clusters)}).Info("reconciler starting")
	cl.reconciler.Loop(ctx)
	log.Info("reconciler stopped")
	return nil
}

type submitJobCmd struct {
	name  string
	image string
	caps  string
	owner string
}

func (c *submitJobCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit-job -- argv...",
		Short: "Create a PENDING job record",
	}
	cmd.Flags().StringVar(&c.name, "name", "", "job name")
	cmd.Flags().StringVar(&c.image, "image", "", "container image for orchestrator clusters")
	cmd.Flags().StringVar(&c.caps, "caps", "", "comma-separated capability labels the cluster must have")
	return cmd
}

func (c *submitJobCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if err := cl.realize(ctx); err != nil {
		return err
	}
	user, err := cl.user(ctx)
	if err != nil {
		return err
	}

	id, err := domain.NewJobID()
	if err != nil {
		return err
	}
	job := &domain.Job{
		ID:    id,
		Owner: user.ID,
		Spec: domain.JobSpec{
			Name:         c.name,
			Argv:         args,
			Image:        c.image,
			RequiredCaps: splitLabels(c.caps),
		},
		Status: domain.Pending,
	}
	if err := cl.store.CreateJob(ctx, job); err != nil {
		return err
	}
	fmt.Println("Job Id:", id)
	return nil
}

type createScheduleCmd struct{}

func (c *createScheduleCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "create-schedule jobId...",
		Short: "Assign jobs to clusters and persist the schedules",
	}
}

func (c *createScheduleCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("at least one job id must be provided")
	}
	ctx := context.Background()
	if err := cl.realize(ctx); err != nil {
		return err
	}
	user, err := cl.user(ctx)
	if err != nil {
		return err
	}

	reqs := make([]domain.ScheduleCreateRequest, 0, len(args))
	for _, jobID := range args {
		reqs = append(reqs, domain.ScheduleCreateRequest{JobID: jobID})
	}
	results, err := cl.service.CreateSchedules(ctx, user, reqs)
	if err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Printf("job %s: error: %v\n", res.JobID, res.Err)
			continue
		}
		fmt.Printf("job %s: schedule %s on cluster %s\n", res.JobID, res.Schedule.ID, res.Schedule.ClusterID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d schedule requests failed", failed, len(results))
	}
	return nil
}

type getScheduleCmd struct {
	queryType string
}

func (c *getScheduleCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-schedule value",
		Short: "Query schedules by schedule, job or cluster id",
	}
	cmd.Flags().StringVar(&c.queryType, "by", "schedule", "query key: schedule, job or cluster")
	return cmd
}

func (c *getScheduleCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("a query value must be provided")
	}
	ctx := context.Background()
	if err := cl.realize(ctx); err != nil {
		return err
	}
	user, err := cl.user(ctx)
	if err != nil {
		return err
	}

	var qt domain.ScheduleQueryType
	switch c.queryType {
	case "schedule":
		qt = domain.QueryByScheduleID
	case "job":
		qt = domain.QueryByJobID
	case "cluster":
		qt = domain.QueryByClusterID
	default:
		return fmt.Errorf("unknown query key %q", c.queryType)
	}

	scheds, err := cl.service.GetSchedules(ctx, user, domain.ScheduleGetQuery{Type: qt, Value: args[0]})
	if err != nil {
		return err
	}
	for _, sched := range scheds {
		fmt.Println(sched.String())
	}
	fmt.Printf("%d schedule(s)\n", len(scheds))
	return nil
}

type updateScheduleCmd struct {
	externalJobID string
}

func (c *updateScheduleCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-schedule scheduleId",
		Short: "Update a schedule's external job id",
	}
	cmd.Flags().StringVar(&c.externalJobID, "external-job-id", "", "backend job id to record")
	return cmd
}

func (c *updateScheduleCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("a schedule id must be provided")
	}
	ctx := context.Background()
	if err := cl.realize(ctx); err != nil {
		return err
	}
	user, err := cl.user(ctx)
	if err != nil {
		return err
	}

	req := domain.ScheduleUpdateRequest{ScheduleID: args[0]}
	if c.externalJobID != "" {
		req.ExternalJobID = &c.externalJobID
	}
	results, err := cl.service.UpdateSchedules(ctx, user, []domain.ScheduleUpdateRequest{req})
	if err != nil {
		return err
	}
	if results[0].Err != nil {
		return results[0].Err
	}
	fmt.Println(results[0].Schedule.String())
	return nil
}

type deleteScheduleCmd struct{}

func (c *deleteScheduleCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-schedule scheduleId...",
		Short: "Delete schedules",
	}
}

func (c *deleteScheduleCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("at least one schedule id must be provided")
	}
	ctx := context.Background()
	if err := cl.realize(ctx); err != nil {
		return err
	}
	user, err := cl.user(ctx)
	if err != nil {
		return err
	}

	reqs := make([]domain.ScheduleDeleteRequest, 0, len(args))
	for _, id := range args {
		reqs = append(reqs, domain.ScheduleDeleteRequest{ScheduleID: id})
	}
	results, err := cl.service.DeleteSchedules(ctx, user, reqs)
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Found {
			fmt.Printf("schedule %s: deleted\n", res.ScheduleID)
		} else {
			fmt.Printf("schedule %s: not found\n", res.ScheduleID)
		}
	}
	return nil
}

type withdrawCmd struct{}

func (c *withdrawCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw jobId",
		Short: "Withdraw a job and stop reconciling it",
	}
}

func (c *withdrawCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("a job id must be provided")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := cl.realize(ctx); err != nil {
		return err
	}
	user, err := cl.user(ctx)
	if err != nil {
		return err
	}
	if err := cl.service.WithdrawJob(ctx, user, args[0]); err != nil {
		return err
	}
	fmt.Println("Job withdrawn:", args[0])
	return nil
}

func splitLabels(joined string) []string {
	if joined == "" {
		return nil
	}
	labels := []string{}
	for _, label := range strings.Split(joined, ",") {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			labels = append(labels, trimmed)
		}
	}
	return labels
}
