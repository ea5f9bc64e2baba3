package server

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/blackcap/blackcap/common/stats"
	"github.com/blackcap/blackcap/scheduler/auth"
	"github.com/blackcap/blackcap/scheduler/domain"
	"github.com/blackcap/blackcap/scheduler/store"
)

// ScheduleService is the caller-facing surface over scheduling. Every
// mutating operation consults the Identity Provider first and rejects
// unauthorized requests before any side effects.
type ScheduleService struct {
	scheduler *Scheduler
	store     store.ScheduleStore
	auther    auth.Auther
	stat      stats.StatsReceiver
}

func NewScheduleService(scheduler *Scheduler, st store.ScheduleStore, auther auth.Auther, stat stats.StatsReceiver) *ScheduleService {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &ScheduleService{scheduler: scheduler, store: st, auther: auther, stat: stat.Scope("service")}
}

func (s *ScheduleService) authorize(ctx context.Context, user *domain.User, action auth.Action) error {
	allowed, err := s.auther.Authorize(ctx, user, action)
	if err != nil {
		log.WithFields(log.Fields{"action": action, "err": err}).Warn("authorization check failed")
		return domain.NewUnauthorizedError(string(action))
	}
	if !allowed {
		s.stat.Counter("unauthorized").Inc(1)
		return domain.NewUnauthorizedError(string(action))
	}
	return nil
}

// CreateSchedules runs the scheduler for each request and persists the
// resulting placements. Per-item failures (no eligible cluster, missing
// job, duplicate active schedule) land in the result list; the batch
// itself always completes.
func (s *ScheduleService) CreateSchedules(ctx context.Context, user *domain.User, reqs []domain.ScheduleCreateRequest) ([]domain.ScheduleResult, error) {
	if err := s.authorize(ctx, user, auth.ActionCreateSchedule); err != nil {
		return nil, err
	}

	results := make([]domain.ScheduleResult, len(reqs))
	placements := []domain.ScheduledCreateRequest{}
	placementIdx := []int{}
	for i, req := range reqs {
		placed, err := s.scheduler.Schedule(ctx, req)
		if err != nil {
			results[i] = domain.ScheduleResult{JobID: req.JobID, Err: err}
			continue
		}
		placements = append(placements, placed)
		placementIdx = append(placementIdx, i)
	}

	created := s.store.CreateSchedules(ctx, placements, user)
	for j, res := range created {
		results[placementIdx[j]] = res
	}
	return results, nil
}

// GetSchedules answers schedule queries. Reads are open to any
// authenticated caller.
func (s *ScheduleService) GetSchedules(ctx context.Context, user *domain.User, q domain.ScheduleGetQuery) ([]domain.Schedule, error) {
	if err := s.authorize(ctx, user, auth.ActionGetSchedule); err != nil {
		return nil, err
	}
	return s.store.GetSchedules(ctx, q)
}

// UpdateSchedules applies per-item updates, isolating failures.
func (s *ScheduleService) UpdateSchedules(ctx context.Context, user *domain.User, reqs []domain.ScheduleUpdateRequest) ([]domain.ScheduleResult, error) {
	if err := s.authorize(ctx, user, auth.ActionUpdateSchedule); err != nil {
		return nil, err
	}
	return s.store.UpdateSchedules(ctx, reqs), nil
}

// DeleteSchedules removes schedules; missing rows are reported in the
// results, not as a batch failure.
func (s *ScheduleService) DeleteSchedules(ctx context.Context, user *domain.User, reqs []domain.ScheduleDeleteRequest) ([]domain.DeleteResult, error) {
	if err := s.authorize(ctx, user, auth.ActionDeleteSchedule); err != nil {
		return nil, err
	}
	return s.store.DeleteSchedules(ctx, reqs)
}

// WithdrawJob cancels a job. The schedule's cancelled flag is set first
// so a reconcile pass in flight stops before its next write, then the
// job moves to CANCELLED unless it already reached a terminal state.
func (s *ScheduleService) WithdrawJob(ctx context.Context, user *domain.User, jobID string) error {
	if err := s.authorize(ctx, user, auth.ActionUpdateSchedule); err != nil {
		return err
	}

	scheds, err := s.store.GetSchedules(ctx, domain.ScheduleGetQuery{Type: domain.QueryByJobID, Value: jobID})
	if err != nil {
		return err
	}
	cancelled := true
	for _, sched := range scheds {
		if !sched.Active() {
			continue
		}
		results := s.store.UpdateSchedules(ctx, []domain.ScheduleUpdateRequest{
			{ScheduleID: sched.ID, Cancelled: &cancelled},
		})
		if results[0].Err != nil && !domain.IsNotFound(results[0].Err) {
			return results[0].Err
		}
	}

	changed, err := s.store.UpdateJobStatus(ctx, jobID, domain.Cancelled)
	if err != nil {
		return err
	}
	if changed {
		log.WithFields(log.Fields{"jobID": jobID}).Info("job withdrawn")
	}
	return nil
}
