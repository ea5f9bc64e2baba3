package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/blackcap/blackcap/cloud/cluster"
	"github.com/blackcap/blackcap/scheduler/domain"
)

func TestPrepareChecksCapabilities(t *testing.T) {
	ctx := context.Background()
	c := NewCluster("mem1", []string{"linux", "gpu"}, 4)

	ok := &domain.Job{ID: "job1", Spec: domain.JobSpec{RequiredCaps: []string{"gpu"}}}
	if err := c.Prepare(ctx, ok); err != nil {
		t.Errorf("expected a satisfiable job to prepare, got %v", err)
	}

	bad := &domain.Job{ID: "job2", Spec: domain.JobSpec{RequiredCaps: []string{"windows"}}}
	err := c.Prepare(ctx, bad)
	var prep *cluster.PreparationError
	if !errors.As(err, &prep) {
		t.Errorf("expected PreparationError for an unsatisfiable job, got %v", err)
	}
	if cluster.Retryable(err) {
		t.Error("a capability mismatch must not be retried")
	}
}

func TestSubmitAndGetStatus(t *testing.T) {
	ctx := context.Background()
	c := NewCluster("mem1", nil, 4)

	extID, err := c.Submit(ctx, &domain.Job{ID: "job1"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if extID == "" {
		t.Fatal("expected submit to mint an external id")
	}

	seq, err := c.GetStatus(ctx, extID)
	if err != nil {
		t.Fatalf("status query failed: %v", err)
	}
	if tokens := cluster.Collect(seq); len(tokens) != 1 || tokens[0] != "QUEUED" {
		t.Errorf("expected a fresh submission to report QUEUED, got %v", tokens)
	}

	c.SetStatuses(extID, "RUNNING", "COMPLETED")
	seq, err = c.GetStatus(ctx, extID)
	if err != nil {
		t.Fatalf("status query failed: %v", err)
	}
	if tokens := cluster.Collect(seq); len(tokens) != 2 || tokens[0] != "RUNNING" {
		t.Errorf("expected the scripted statuses, got %v", tokens)
	}
}

func TestGetStatusUnknownJob(t *testing.T) {
	c := NewCluster("mem1", nil, 4)
	_, err := c.GetStatus(context.Background(), "mem1-999")
	var sqe *cluster.StatusQueryError
	if !errors.As(err, &sqe) {
		t.Errorf("expected StatusQueryError for an unknown job, got %v", err)
	}
}

func TestFailNextIsSingleShot(t *testing.T) {
	ctx := context.Background()
	c := NewCluster("mem1", nil, 4)
	c.FailNext(errors.New("connection reset"))

	if _, err := c.Submit(ctx, &domain.Job{ID: "job1"}); !cluster.Retryable(err) {
		t.Errorf("expected the injected failure to be retryable, got %v", err)
	}
	if _, err := c.Submit(ctx, &domain.Job{ID: "job1"}); err != nil {
		t.Errorf("expected the failure injection to clear after one call, got %v", err)
	}
}

func TestInfoCountsActiveJobs(t *testing.T) {
	ctx := context.Background()
	c := NewCluster("mem1", []string{"linux"}, 4)

	ext1, _ := c.Submit(ctx, &domain.Job{ID: "job1"})
	ext2, _ := c.Submit(ctx, &domain.Job{ID: "job2"})
	c.SetStatuses(ext1, "RUNNING")
	c.SetStatuses(ext2, "COMPLETED")

	info := c.Info()
	if info.Capacity.Running != 1 {
		t.Errorf("expected 1 active job, got %d", info.Capacity.Running)
	}
	if info.Capacity.Limit != 4 {
		t.Errorf("expected the configured limit, got %d", info.Capacity.Limit)
	}
}

func TestFactoryParsesParams(t *testing.T) {
	cl, err := Factory("mem1", []byte(`{"capabilities":["linux"],"limit":2}`))
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	info := cl.Info()
	if len(info.Capabilities) != 1 || info.Capabilities[0] != "linux" || info.Capacity.Limit != 2 {
		t.Errorf("params not applied: %v", info)
	}

	if _, err := Factory("mem1", []byte(`{`)); err == nil {
		t.Error("expected malformed params to fail")
	}

	if _, err := Factory("mem1", nil); err != nil {
		t.Errorf("expected absent params to be fine, got %v", err)
	}
}
