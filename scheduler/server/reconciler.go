package server

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/blackcap/blackcap/cloud/cluster"
	"github.com/blackcap/blackcap/common/stats"
	"github.com/blackcap/blackcap/scheduler/domain"
	"github.com/blackcap/blackcap/scheduler/store"
)

// Reconciler config variables, read at initialization.
// PollInterval - how often the loop scans active schedules.
// PollTimeout - per-call deadline on cluster backend requests; expiry is
// treated as a transient failure.
// RetryInitialInterval / RetryTimeout - exponential backoff policy for
// transient backend failures inside one reconcile pass.
// MaxParallel - how many jobs are reconciled concurrently. Polling for
// any single job is never concurrent with itself.
// QueryRate / QueryBurst - rate limit across all backend status queries.
type ReconcilerConfig struct {
	PollInterval         time.Duration
	PollTimeout          time.Duration
	RetryInitialInterval time.Duration
	RetryTimeout         time.Duration
	MaxParallel          int
	QueryRate            rate.Limit
	QueryBurst           int
}

const (
	DefaultPollInterval         = 10 * time.Second
	DefaultPollTimeout          = 5 * time.Second
	DefaultRetryInitialInterval = 250 * time.Millisecond
	DefaultRetryTimeout         = 30 * time.Second
	DefaultMaxParallel          = 8
	DefaultQueryRate            = rate.Limit(20)
	DefaultQueryBurst           = 20
)

func (c *ReconcilerConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = DefaultRetryInitialInterval
	}
	if c.RetryTimeout <= 0 {
		c.RetryTimeout = DefaultRetryTimeout
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = DefaultMaxParallel
	}
	if c.QueryRate <= 0 {
		c.QueryRate = DefaultQueryRate
	}
	if c.QueryBurst <= 0 {
		c.QueryBurst = DefaultQueryBurst
	}
}

// backendStatusTable maps the backends' status vocabulary onto the job
// status enum. Unknown tokens are ignored with a warning rather than
// failing the poll.
var backendStatusTable = map[string]domain.Status{
	"PENDING":   domain.Scheduled,
	"QUEUED":    domain.Scheduled,
	"SUBMITTED": domain.Scheduled,
	"RUNNING":   domain.Running,
	"STARTED":   domain.Running,
	"COMPLETED": domain.Succeeded,
	"SUCCEEDED": domain.Succeeded,
	"DONE":      domain.Succeeded,
	"FAILED":    domain.Failed,
	"ERROR":     domain.Failed,
	"CANCELLED": domain.Cancelled,
	"KILLED":    domain.Cancelled,
}

// Reconciler drives submitted work to completion: schedules without an
// external job id get submitted to their cluster, the rest get their
// backend status polled and mapped onto the job status enum. Job status
// only ever advances; the store rejects regressions.
type Reconciler struct {
	config       ReconcilerConfig
	store        store.ScheduleStore
	clusterState *clusterState
	limiter      *rate.Limiter
	stat         stats.StatsReceiver

	mu       sync.Mutex
	inflight map[string]bool // jobIDs being reconciled right now
}

func NewReconciler(clusters []cluster.Cluster, st store.ScheduleStore, config ReconcilerConfig, stat stats.StatsReceiver) *Reconciler {
	config.applyDefaults()
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Reconciler{
		config:       config,
		store:        st,
		clusterState: newClusterState(clusters),
		limiter:      rate.NewLimiter(config.QueryRate, config.QueryBurst),
		stat:         stat.Scope("reconciler"),
		inflight:     map[string]bool{},
	}
}

// Loop runs reconcile passes until ctx is cancelled.
func (r *Reconciler) Loop(ctx context.Context) {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Step(ctx)
		}
	}
}

// Step runs one reconcile pass over every active schedule. Jobs are
// reconciled in parallel up to MaxParallel; a job already being
// reconciled by a previous pass is skipped, which serializes polling per
// job.
func (r *Reconciler) Step(ctx context.Context) {
	scheds, err := r.store.ListActiveSchedules(ctx)
	if err != nil {
		log.WithFields(log.Fields{"err": err}).Error("listing active schedules failed")
		return
	}
	r.stat.Gauge("activeSchedules").Update(int64(len(scheds)))

	var g errgroup.Group
	g.SetLimit(r.config.MaxParallel)
	for i := range scheds {
		sched := scheds[i]
		if !r.acquire(sched.JobID) {
			continue
		}
		g.Go(func() error {
			defer r.release(sched.JobID)
			if err := r.reconcileOne(ctx, sched.ID); err != nil {
				r.stat.Counter("reconcileFailures").Inc(1)
				log.WithFields(log.Fields{
					"scheduleID": sched.ID,
					"jobID":      sched.JobID,
					"err":        err,
				}).Error("reconcile failed; will retry next pass")
			}
			return nil
		})
	}
	g.Wait()
}

func (r *Reconciler) acquire(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[jobID] {
		return false
	}
	r.inflight[jobID] = true
	return true
}

func (r *Reconciler) release(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, jobID)
}

func (r *Reconciler) reconcileOne(ctx context.Context, scheduleID string) error {
	sched, ok, err := r.getSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !ok || sched.Cancelled {
		return nil
	}

	job, err := r.store.GetJob(ctx, sched.JobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return r.retireSchedule(ctx, sched.ID)
	}

	cl, ok := r.clusterState.get(sched.ClusterID)
	if !ok {
		return domain.NewNotFoundError("cluster", sched.ClusterID)
	}

	if sched.ExternalJobID == "" {
		return r.submit(ctx, cl, job, sched)
	}
	return r.poll(ctx, cl, job, sched)
}

// submit prepares and submits the job to its cluster and records the
// backend's id. Per-job serialization in Step makes this at-most-once
// per job per pass; the recorded external id stops later passes from
// resubmitting.
func (r *Reconciler) submit(ctx context.Context, cl cluster.Cluster, job *domain.Job, sched *domain.Schedule) error {
	prepCtx, cancel := context.WithTimeout(ctx, r.config.PollTimeout)
	err := cl.Prepare(prepCtx, job)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !cluster.Retryable(err) {
			return r.failJob(ctx, job.ID, sched.ID, err)
		}
		return &domain.TransientBackendError{Cause: err}
	}

	var externalID string
	err = r.withRetry(ctx, func() error {
		subCtx, cancel := context.WithTimeout(ctx, r.config.PollTimeout)
		defer cancel()
		id, err := cl.Submit(subCtx, job)
		if err == nil {
			externalID = id
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !cluster.Retryable(err) {
			return r.failJob(ctx, job.ID, sched.ID, err)
		}
		return &domain.TransientBackendError{Cause: err}
	}

	// Withdrawn while we were submitting? Leave the record alone; the
	// next pass sees the cancelled schedule and stops.
	cur, ok, err := r.getSchedule(ctx, sched.ID)
	if err != nil || !ok {
		return err
	}
	if cur.Cancelled {
		log.WithFields(log.Fields{"jobID": job.ID}).Info("job withdrawn during submission")
		return nil
	}

	results := r.store.UpdateSchedules(ctx, []domain.ScheduleUpdateRequest{
		{ScheduleID: sched.ID, ExternalJobID: &externalID},
	})
	if results[0].Err != nil {
		return results[0].Err
	}
	r.stat.Counter("submitted").Inc(1)
	log.WithFields(log.Fields{
		"jobID":      job.ID,
		"clusterID":  cl.ID(),
		"externalID": externalID,
	}).Info("submitted job to cluster")
	return nil
}

// poll queries the backend and advances the job's status. On transient
// failure the job status is left untouched.
func (r *Reconciler) poll(ctx context.Context, cl cluster.Cluster, job *domain.Job, sched *domain.Schedule) error {
	started := time.Now()
	defer func() { r.stat.Latency("pollLatency").RecordDuration(time.Since(started)) }()

	var tokens []string
	err := r.withRetry(ctx, func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		pollCtx, cancel := context.WithTimeout(ctx, r.config.PollTimeout)
		defer cancel()
		seq, err := cl.GetStatus(pollCtx, sched.ExternalJobID)
		if err != nil {
			return err
		}
		tokens = cluster.Collect(seq)
		return nil
	})
	if err != nil {
		if cluster.Retryable(err) {
			return &domain.TransientBackendError{Cause: err}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.PermanentBackendError{Cause: err}
	}
	r.stat.Counter("polls").Inc(1)

	next, ok := aggregateStatuses(tokens)
	if !ok {
		// Nothing recognizable came back; try again next pass.
		return nil
	}

	// Cancellation check before every write.
	cur, ok, err := r.getSchedule(ctx, sched.ID)
	if err != nil || !ok {
		return err
	}
	if cur.Cancelled {
		return nil
	}

	changed, err := r.store.UpdateJobStatus(ctx, job.ID, next)
	if err != nil {
		return err
	}
	if changed {
		r.stat.Counter("statusAdvanced").Inc(1)
		log.WithFields(log.Fields{
			"jobID":  job.ID,
			"status": next,
		}).Info("advanced job status")
	}
	if next.Terminal() {
		return r.retireSchedule(ctx, sched.ID)
	}
	return nil
}

// aggregateStatuses folds the per-sub-task status tokens into one job
// status. Any failure fails the job; the job only succeeds when every
// sub-task has.
func aggregateStatuses(tokens []string) (domain.Status, bool) {
	mapped := []domain.Status{}
	for _, token := range tokens {
		st, ok := backendStatusTable[strings.ToUpper(token)]
		if !ok {
			log.WithFields(log.Fields{"token": token}).Warn("unknown backend status token")
			continue
		}
		mapped = append(mapped, st)
	}
	if len(mapped) == 0 {
		return domain.Pending, false
	}

	allSucceeded := true
	anySucceeded := false
	anyRunning := false
	for _, st := range mapped {
		switch st {
		case domain.Failed:
			return domain.Failed, true
		case domain.Cancelled:
			return domain.Cancelled, true
		case domain.Succeeded:
			anySucceeded = true
		case domain.Running:
			anyRunning = true
			allSucceeded = false
		default:
			allSucceeded = false
		}
	}
	if allSucceeded {
		return domain.Succeeded, true
	}
	if anyRunning || anySucceeded {
		return domain.Running, true
	}
	return domain.Scheduled, true
}

// withRetry retries op with bounded exponential backoff while it fails
// transiently. Non-retryable errors abort immediately.
func (r *Reconciler) withRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.config.RetryInitialInterval
	policy.MaxElapsedTime = r.config.RetryTimeout

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !cluster.Retryable(err) {
			return backoff.Permanent(err)
		}
		if attempt > 1 {
			r.stat.Counter("retries").Inc(1)
		}
		return err
	}, backoff.WithContext(policy, ctx))
}

// retireSchedule soft-deletes the schedule of a job that reached a
// terminal state, releasing the job for the uniqueness invariant.
func (r *Reconciler) retireSchedule(ctx context.Context, scheduleID string) error {
	cancelled := true
	results := r.store.UpdateSchedules(ctx, []domain.ScheduleUpdateRequest{
		{ScheduleID: scheduleID, Cancelled: &cancelled},
	})
	if results[0].Err != nil && !domain.IsNotFound(results[0].Err) {
		return results[0].Err
	}
	return nil
}

// failJob marks the job failed after a permanent backend rejection and
// retires its schedule.
func (r *Reconciler) failJob(ctx context.Context, jobID, scheduleID string, cause error) error {
	log.WithFields(log.Fields{"jobID": jobID, "err": cause}).Error("backend permanently rejected job")
	r.stat.Counter("permanentFailures").Inc(1)
	if _, err := r.store.UpdateJobStatus(ctx, jobID, domain.Failed); err != nil {
		return err
	}
	return r.retireSchedule(ctx, scheduleID)
}

func (r *Reconciler) getSchedule(ctx context.Context, scheduleID string) (*domain.Schedule, bool, error) {
	scheds, err := r.store.GetSchedules(ctx, domain.ScheduleGetQuery{
		Type:  domain.QueryByScheduleID,
		Value: scheduleID,
	})
	if err != nil {
		return nil, false, err
	}
	if len(scheds) == 0 {
		return nil, false, nil
	}
	return &scheds[0], true, nil
}
