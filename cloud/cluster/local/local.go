// Package local provides a batch-system cluster backend that executes
// job commands as local processes. It stands in for an external batch
// scheduler on a single machine.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/blackcap/blackcap/cloud/cluster"
	"github.com/blackcap/blackcap/scheduler/domain"
)

// Params is the config parameter block for a local cluster.
type Params struct {
	Capabilities []string `json:"capabilities"`
	Limit        int      `json:"limit"`
	WorkDir      string   `json:"workDir"`
}

type procState struct {
	status string // RUNNING, COMPLETED or FAILED
}

type Cluster struct {
	id           string
	capabilities []string
	limit        int
	workDir      string

	mu     sync.Mutex
	procs  map[string]*procState
	nextID int
}

func NewCluster(id string, p Params) *Cluster {
	return &Cluster{
		id:           id,
		capabilities: p.Capabilities,
		limit:        p.Limit,
		workDir:      p.WorkDir,
		procs:        map[string]*procState{},
	}
}

// Factory builds a local cluster from its config parameter block.
func Factory(id string, params json.RawMessage) (cluster.Cluster, error) {
	var p Params
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("bad local cluster params: %v", err)
		}
	}
	return NewCluster(id, p), nil
}

func (c *Cluster) ID() string {
	return c.id
}

func (c *Cluster) Info() domain.ClusterInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	running := 0
	for _, ps := range c.procs {
		if ps.status == "RUNNING" {
			running++
		}
	}
	return domain.ClusterInfo{
		ID:           c.id,
		Capabilities: append([]string{}, c.capabilities...),
		Capacity:     domain.Capacity{Running: running, Limit: c.limit},
	}
}

func (c *Cluster) Prepare(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info := c.Info()
	if !info.HasCapabilities(job.Spec.RequiredCaps) {
		return cluster.NewPreparationError(
			"cluster %s cannot run job %s: requires %v, has %v",
			c.id, job.ID, job.Spec.RequiredCaps, c.capabilities)
	}
	if len(job.Spec.Argv) == 0 {
		return cluster.NewPreparationError("job %s has an empty argv", job.ID)
	}
	if c.workDir != "" {
		if _, err := os.Stat(c.workDir); err != nil {
			return cluster.NewPreparationError("cluster %s workDir unusable: %v", c.id, err)
		}
	}
	return nil
}

func (c *Cluster) Submit(ctx context.Context, job *domain.Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(job.Spec.Argv) == 0 {
		return "", cluster.NewPermanentSubmissionError("job %s has an empty argv", job.ID)
	}

	cmd := exec.Command(job.Spec.Argv[0], job.Spec.Argv[1:]...)
	cmd.Dir = c.workDir
	cmd.Env = os.Environ()
	for k, v := range job.Spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if err := cmd.Start(); err != nil {
		// The binary not existing or not being executable is not going
		// to fix itself.
		if _, ok := err.(*exec.Error); ok {
			return "", cluster.NewPermanentSubmissionError("job %s command rejected: %v", job.ID, err)
		}
		return "", cluster.NewSubmissionError(err, "starting job %s on %s", job.ID, c.id)
	}

	c.mu.Lock()
	c.nextID++
	externalID := fmt.Sprintf("%s-%d", c.id, c.nextID)
	ps := &procState{status: "RUNNING"}
	c.procs[externalID] = ps
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"jobID":      job.ID,
		"externalID": externalID,
		"pid":        cmd.Process.Pid,
	}).Info("started local process for job")

	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			ps.status = "FAILED"
		} else {
			ps.status = "COMPLETED"
		}
	}()

	return externalID, nil
}

func (c *Cluster) GetStatus(ctx context.Context, externalJobID string) (cluster.StatusSeq, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.procs[externalJobID]
	if !ok {
		return nil, cluster.NewStatusQueryError(nil, "cluster %s has no job %s", c.id, externalJobID)
	}
	return cluster.NewStatusSeq(ps.status), nil
}

var _ cluster.Cluster = (*Cluster)(nil)
