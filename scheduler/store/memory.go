package store

import (
	"context"
	"sync"
	"time"

	"github.com/blackcap/blackcap/scheduler/domain"
)

// InMemoryStore implements ScheduleStore and UserStore with in-process
// maps. A single mutex serializes every operation, which gives the
// create path the same read-check-write atomicity the SQL store gets
// from transactions.
type InMemoryStore struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	schedules map[string]*domain.Schedule
	users     map[string]*domain.User // keyed by email
	hashes    map[string][]byte
	now       func() time.Time
}

func MakeInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs:      map[string]*domain.Job{},
		schedules: map[string]*domain.Schedule{},
		users:     map[string]*domain.User{},
		hashes:    map[string][]byte{},
		now:       time.Now,
	}
}

func (s *InMemoryStore) CreateJob(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return domain.NewValidationError("job %s already exists", job.ID)
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *InMemoryStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.NewNotFoundError("job", jobID)
	}
	copied := *job
	return &copied, nil
}

func (s *InMemoryStore) UpdateJobStatus(ctx context.Context, jobID string, to domain.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, domain.NewNotFoundError("job", jobID)
	}
	if !domain.ValidTransition(job.Status, to) {
		return false, nil
	}
	job.Status = to
	return true, nil
}

func (s *InMemoryStore) CreateSchedules(ctx context.Context, reqs []domain.ScheduledCreateRequest, user *domain.User) []domain.ScheduleResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]domain.ScheduleResult, 0, len(reqs))
	for _, req := range reqs {
		results = append(results, s.createOne(req))
	}
	return results
}

// createOne holds s.mu.
func (s *InMemoryStore) createOne(req domain.ScheduledCreateRequest) domain.ScheduleResult {
	job, ok := s.jobs[req.JobID]
	if !ok {
		return domain.ScheduleResult{JobID: req.JobID, Err: domain.NewNotFoundError("job", req.JobID)}
	}
	if job.Status.Terminal() {
		return domain.ScheduleResult{JobID: req.JobID,
			Err: domain.NewValidationError("job %s already reached %s", req.JobID, job.Status)}
	}
	for _, sched := range s.schedules {
		if sched.JobID == req.JobID && sched.Active() {
			return domain.ScheduleResult{JobID: req.JobID, Err: domain.NewDuplicateScheduleError(req.JobID)}
		}
	}

	id, err := domain.NewScheduleID()
	if err != nil {
		return domain.ScheduleResult{JobID: req.JobID, Err: err}
	}
	now := s.now()
	sched := &domain.Schedule{
		ID:        id,
		JobID:     req.JobID,
		ClusterID: req.ClusterID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.schedules[id] = sched
	if domain.ValidTransition(job.Status, domain.Scheduled) {
		job.Status = domain.Scheduled
	}
	copied := *sched
	return domain.ScheduleResult{JobID: req.JobID, Schedule: &copied}
}

func (s *InMemoryStore) GetSchedules(ctx context.Context, q domain.ScheduleGetQuery) ([]domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	match := func(sched *domain.Schedule) bool { return false }
	switch q.Type {
	case domain.QueryByScheduleID:
		match = func(sched *domain.Schedule) bool { return sched.ID == q.Value }
	case domain.QueryByJobID:
		match = func(sched *domain.Schedule) bool { return sched.JobID == q.Value }
	case domain.QueryByClusterID:
		match = func(sched *domain.Schedule) bool { return sched.ClusterID == q.Value }
	default:
		return nil, domain.NewValidationError("unknown schedule query type %s", q.Type)
	}

	found := []domain.Schedule{}
	for _, sched := range s.schedules {
		if match(sched) {
			found = append(found, *sched)
		}
	}
	domain.SortSchedules(found)
	return found, nil
}

func (s *InMemoryStore) UpdateSchedules(ctx context.Context, reqs []domain.ScheduleUpdateRequest) []domain.ScheduleResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]domain.ScheduleResult, 0, len(reqs))
	for _, req := range reqs {
		sched, ok := s.schedules[req.ScheduleID]
		if !ok {
			results = append(results, domain.ScheduleResult{Err: domain.NewNotFoundError("schedule", req.ScheduleID)})
			continue
		}
		// Cancellation is one-way. Clearing the flag could leave two
		// active schedules for the same job.
		if req.Cancelled != nil && !*req.Cancelled {
			results = append(results, domain.ScheduleResult{JobID: sched.JobID,
				Err: domain.NewValidationError("schedule %s: cancellation cannot be undone", req.ScheduleID)})
			continue
		}
		if req.ExternalJobID != nil {
			sched.ExternalJobID = *req.ExternalJobID
		}
		if req.Cancelled != nil {
			sched.Cancelled = *req.Cancelled
		}
		sched.UpdatedAt = s.now()
		copied := *sched
		results = append(results, domain.ScheduleResult{JobID: sched.JobID, Schedule: &copied})
	}
	return results
}

func (s *InMemoryStore) DeleteSchedules(ctx context.Context, reqs []domain.ScheduleDeleteRequest) ([]domain.DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]domain.DeleteResult, 0, len(reqs))
	for _, req := range reqs {
		_, ok := s.schedules[req.ScheduleID]
		if ok {
			delete(s.schedules, req.ScheduleID)
		}
		results = append(results, domain.DeleteResult{ScheduleID: req.ScheduleID, Found: ok})
	}
	return results, nil
}

func (s *InMemoryStore) ListActiveSchedules(ctx context.Context) ([]domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := []domain.Schedule{}
	for _, sched := range s.schedules {
		if !sched.Active() {
			continue
		}
		job, ok := s.jobs[sched.JobID]
		if !ok || job.Status.Terminal() {
			continue
		}
		active = append(active, *sched)
	}
	domain.SortSchedules(active)
	return active, nil
}

func (s *InMemoryStore) CreateUser(ctx context.Context, user *domain.User, passwordHash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Email]; ok {
		return domain.NewDuplicateUserError(user.Email)
	}
	copied := *user
	s.users[user.Email] = &copied
	s.hashes[user.Email] = append([]byte{}, passwordHash...)
	return nil
}

func (s *InMemoryStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[email]
	if !ok {
		return nil, nil, domain.NewNotFoundError("user", email)
	}
	copied := *user
	return &copied, append([]byte{}, s.hashes[email]...), nil
}

var _ ScheduleStore = (*InMemoryStore)(nil)
var _ UserStore = (*InMemoryStore)(nil)
