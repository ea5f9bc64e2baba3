package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blackcap/blackcap/cloud/cluster"
	"github.com/blackcap/blackcap/scheduler/domain"
)

func batchJob(id string, argv ...string) *domain.Job {
	return &domain.Job{ID: id, Spec: domain.JobSpec{Name: id, Argv: argv}}
}

// waitForStatus polls until the process settles out of RUNNING.
func waitForStatus(t *testing.T, c *Cluster, extID string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		seq, err := c.GetStatus(context.Background(), extID)
		if err != nil {
			t.Fatalf("status query failed: %v", err)
		}
		tokens := cluster.Collect(seq)
		if len(tokens) != 1 {
			t.Fatalf("expected a single status token, got %v", tokens)
		}
		if tokens[0] != "RUNNING" {
			return tokens[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("process never settled")
	return ""
}

func TestPrepareValidatesJob(t *testing.T) {
	ctx := context.Background()
	c := NewCluster("batch1", Params{Capabilities: []string{"linux"}})

	if err := c.Prepare(ctx, batchJob("job1", "true")); err != nil {
		t.Errorf("expected a runnable job to prepare, got %v", err)
	}

	var prep *cluster.PreparationError
	if err := c.Prepare(ctx, batchJob("job2")); !errors.As(err, &prep) {
		t.Errorf("expected PreparationError for an empty argv, got %v", err)
	}

	gpu := batchJob("job3", "true")
	gpu.Spec.RequiredCaps = []string{"gpu"}
	if err := c.Prepare(ctx, gpu); !errors.As(err, &prep) {
		t.Errorf("expected PreparationError for an unsatisfiable job, got %v", err)
	}

	missing := NewCluster("batch2", Params{WorkDir: "/nonexistent-blackcap-workdir"})
	if err := missing.Prepare(ctx, batchJob("job4", "true")); !errors.As(err, &prep) {
		t.Errorf("expected PreparationError for a missing workDir, got %v", err)
	}
}

func TestSubmitTracksProcessOutcome(t *testing.T) {
	ctx := context.Background()
	c := NewCluster("batch1", Params{})

	extID, err := c.Submit(ctx, batchJob("job1", "true"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if status := waitForStatus(t, c, extID); status != "COMPLETED" {
		t.Errorf("expected a successful command to report COMPLETED, got %s", status)
	}

	extID, err = c.Submit(ctx, batchJob("job2", "false"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if status := waitForStatus(t, c, extID); status != "FAILED" {
		t.Errorf("expected a failing command to report FAILED, got %s", status)
	}
}

func TestSubmitMissingBinaryIsPermanent(t *testing.T) {
	c := NewCluster("batch1", Params{})
	_, err := c.Submit(context.Background(), batchJob("job1", "no-such-binary-anywhere"))
	var perm *cluster.PermanentSubmissionError
	if !errors.As(err, &perm) {
		t.Fatalf("expected PermanentSubmissionError for a missing binary, got %v", err)
	}
	if cluster.Retryable(err) {
		t.Error("a missing binary must not be retried")
	}
}

func TestGetStatusUnknownJob(t *testing.T) {
	c := NewCluster("batch1", Params{})
	_, err := c.GetStatus(context.Background(), "batch1-999")
	var sqe *cluster.StatusQueryError
	if !errors.As(err, &sqe) {
		t.Errorf("expected StatusQueryError for an unknown job, got %v", err)
	}
}
