package server

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/blackcap/blackcap/cloud/cluster"
	"github.com/blackcap/blackcap/common/stats"
	"github.com/blackcap/blackcap/scheduler/domain"
)

// Scheduler assigns jobs to clusters. It performs no deduplication of
// its own; the one-active-schedule-per-job invariant is the store's to
// enforce at create time.
type Scheduler struct {
	clusterState *clusterState
	store        jobReader
	stat         stats.StatsReceiver
}

// jobReader is the slice of the store the scheduler needs.
type jobReader interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
}

func NewScheduler(clusters []cluster.Cluster, store jobReader, stat stats.StatsReceiver) *Scheduler {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Scheduler{
		clusterState: newClusterState(clusters),
		store:        store,
		stat:         stat.Scope("scheduler"),
	}
}

// Schedule selects a target cluster for the requested job and returns
// the placement ready for persistence. Among clusters whose capabilities
// superset the job's required labels it picks the least loaded, breaking
// ties by cluster id ascending. Fails with a *domain.NoEligibleClusterError
// when no cluster qualifies.
func (s *Scheduler) Schedule(ctx context.Context, req domain.ScheduleCreateRequest) (domain.ScheduledCreateRequest, error) {
	if req.JobID == "" {
		return domain.ScheduledCreateRequest{}, domain.NewValidationError("schedule request has no job id")
	}

	job, err := s.store.GetJob(ctx, req.JobID)
	if err != nil {
		return domain.ScheduledCreateRequest{}, err
	}

	candidates := s.clusterState.candidates(job.Spec.RequiredCaps)
	if len(candidates) == 0 {
		s.stat.Counter("noEligibleCluster").Inc(1)
		return domain.ScheduledCreateRequest{}, &domain.NoEligibleClusterError{
			JobID:        job.ID,
			RequiredCaps: job.Spec.RequiredCaps,
		}
	}

	chosen := candidates[0]
	log.WithFields(log.Fields{
		"jobID":     job.ID,
		"clusterID": chosen.ID(),
		"running":   chosen.Info().Capacity.Running,
	}).Info("assigned job to cluster")
	s.stat.Counter("assigned").Inc(1)

	return domain.ScheduledCreateRequest{JobID: job.ID, ClusterID: chosen.ID()}, nil
}
