package server

import (
	"context"
	"testing"

	"github.com/blackcap/blackcap/cloud/cluster"
	"github.com/blackcap/blackcap/cloud/cluster/memory"
	"github.com/blackcap/blackcap/scheduler/auth"
	"github.com/blackcap/blackcap/scheduler/domain"
	"github.com/blackcap/blackcap/scheduler/store"
)

// denyingAuther rejects everyone, for exercising the unauthorized path.
type denyingAuther struct{}

func (a *denyingAuther) Register(ctx context.Context, creates []auth.UserCreate) ([]domain.User, []error) {
	return nil, nil
}

func (a *denyingAuther) Login(ctx context.Context, creds auth.Credentials) (*domain.User, string, error) {
	return nil, "", domain.NewUnauthorizedError("login")
}

func (a *denyingAuther) ExtractUser(ctx context.Context, cookie string) (*domain.User, error) {
	return nil, auth.ErrNoCookie
}

func (a *denyingAuther) Authorize(ctx context.Context, user *domain.User, action auth.Action) (bool, error) {
	return false, nil
}

func makeService(t *testing.T, clusters ...cluster.Cluster) (*ScheduleService, *store.InMemoryStore) {
	t.Helper()
	s := store.MakeInMemoryStore()
	auther := auth.MakeCookieAuther(s, []byte("test-secret"), 0)
	scheduler := NewScheduler(clusters, s, nil)
	return NewScheduleService(scheduler, s, auther, nil), s
}

func testUser() *domain.User {
	return &domain.User{ID: "u1", Email: "u1@example.com"}
}

func TestUnauthorizedCreateHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	s := store.MakeInMemoryStore()
	makePendingJob(t, s, "job1")
	scheduler := NewScheduler([]cluster.Cluster{memory.NewCluster("c1", nil, 0)}, s, nil)
	service := NewScheduleService(scheduler, s, &denyingAuther{}, nil)

	_, err := service.CreateSchedules(ctx, testUser(), []domain.ScheduleCreateRequest{{JobID: "job1"}})
	if !domain.IsUnauthorized(err) {
		t.Fatalf("expected an unauthorized error, got %v", err)
	}

	scheds, err := s.GetSchedules(ctx, domain.ScheduleGetQuery{Type: domain.QueryByJobID, Value: "job1"})
	if err != nil {
		t.Fatalf("querying schedules: %v", err)
	}
	if len(scheds) != 0 {
		t.Errorf("expected no side effects from an unauthorized request, got %d schedules", len(scheds))
	}
}

func TestBatchCreateIsolatesDuplicates(t *testing.T) {
	ctx := context.Background()
	service, s := makeService(t, memory.NewCluster("c1", nil, 0))
	makePendingJob(t, s, "job1")
	makePendingJob(t, s, "job2")
	makePendingJob(t, s, "job3")

	// job2 is already scheduled before the batch runs.
	pre := s.CreateSchedules(ctx, []domain.ScheduledCreateRequest{{JobID: "job2", ClusterID: "c1"}}, nil)
	if pre[0].Err != nil {
		t.Fatalf("pre-scheduling job2: %v", pre[0].Err)
	}

	results, err := service.CreateSchedules(ctx, testUser(), []domain.ScheduleCreateRequest{
		{JobID: "job1"},
		{JobID: "job2"},
		{JobID: "job3"},
	})
	if err != nil {
		t.Fatalf("expected the batch to complete, got %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	if results[0].Err != nil {
		t.Errorf("expected request 1 to succeed, got %v", results[0].Err)
	}
	if !domain.IsConflict(results[1].Err) {
		t.Errorf("expected request 2 to fail with a conflict, got %v", results[1].Err)
	}
	if results[2].Err != nil {
		t.Errorf("expected request 3 to succeed, got %v", results[2].Err)
	}

	for _, jobID := range []string{"job1", "job3"} {
		scheds, err := s.GetSchedules(ctx, domain.ScheduleGetQuery{Type: domain.QueryByJobID, Value: jobID})
		if err != nil {
			t.Fatalf("querying schedules for %s: %v", jobID, err)
		}
		if len(scheds) != 1 {
			t.Errorf("expected 1 persisted schedule for %s, got %d", jobID, len(scheds))
		}
	}
}

func TestBatchCreateReportsNoEligibleClusterPerItem(t *testing.T) {
	ctx := context.Background()
	service, s := makeService(t, memory.NewCluster("cpu1", []string{"linux"}, 0))
	makePendingJob(t, s, "gpujob", "gpu")
	makePendingJob(t, s, "cpujob")

	results, err := service.CreateSchedules(ctx, testUser(), []domain.ScheduleCreateRequest{
		{JobID: "gpujob"},
		{JobID: "cpujob"},
	})
	if err != nil {
		t.Fatalf("expected the batch to complete, got %v", err)
	}
	if _, ok := results[0].Err.(*domain.NoEligibleClusterError); !ok {
		t.Errorf("expected request 1 to fail with NoEligibleClusterError, got %v", results[0].Err)
	}
	if results[1].Err != nil {
		t.Errorf("expected request 2 to succeed, got %v", results[1].Err)
	}
}

func TestWithdrawJobStopsReconciliation(t *testing.T) {
	ctx := context.Background()
	service, s := makeService(t, memory.NewCluster("c1", nil, 0))
	makePendingJob(t, s, "job1")

	results, err := service.CreateSchedules(ctx, testUser(), []domain.ScheduleCreateRequest{{JobID: "job1"}})
	if err != nil || results[0].Err != nil {
		t.Fatalf("creating schedule: %v %v", err, results[0].Err)
	}

	if err := service.WithdrawJob(ctx, testUser(), "job1"); err != nil {
		t.Fatalf("withdrawing job: %v", err)
	}

	job, err := s.GetJob(ctx, "job1")
	if err != nil {
		t.Fatalf("getting job: %v", err)
	}
	if job.Status != domain.Cancelled {
		t.Errorf("expected job to be CANCELLED, got %v", job.Status)
	}

	active, err := s.ListActiveSchedules(ctx)
	if err != nil {
		t.Fatalf("listing active schedules: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active schedules after withdrawal, got %d", len(active))
	}
}
