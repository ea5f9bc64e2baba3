// Package memory provides an in-memory cluster backend for local runs
// and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/blackcap/blackcap/cloud/cluster"
	"github.com/blackcap/blackcap/scheduler/domain"
)

// Params is the config parameter block for a memory cluster.
type Params struct {
	Capabilities []string `json:"capabilities"`
	Limit        int      `json:"limit"`
}

type jobEntry struct {
	statuses []string
}

// Cluster runs nothing; submitted jobs advance through scripted statuses
// set by the test or demo driver.
type Cluster struct {
	id           string
	capabilities []string
	limit        int

	mu      sync.Mutex
	jobs    map[string]*jobEntry
	nextID  int
	errNext error // injected failure for the next backend call
}

func NewCluster(id string, capabilities []string, limit int) *Cluster {
	return &Cluster{
		id:           id,
		capabilities: capabilities,
		limit:        limit,
		jobs:         map[string]*jobEntry{},
	}
}

// Factory builds a memory cluster from its config parameter block.
func Factory(id string, params json.RawMessage) (cluster.Cluster, error) {
	var p Params
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("bad memory cluster params: %v", err)
		}
	}
	return NewCluster(id, p.Capabilities, p.Limit), nil
}

func (c *Cluster) ID() string {
	return c.id
}

func (c *Cluster) Info() domain.ClusterInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	running := 0
	for _, e := range c.jobs {
		for _, st := range e.statuses {
			if st == "RUNNING" || st == "QUEUED" {
				running++
				break
			}
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
	return nil
}

func (c *Cluster) Submit(ctx context.Context, job *domain.Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeErr(); err != nil {
		return "", cluster.NewSubmissionError(err, "submit to %s failed", c.id)
	}
	c.nextID++
	externalID := fmt.Sprintf("%s-%d", c.id, c.nextID)
	c.jobs[externalID] = &jobEntry{statuses: []string{"QUEUED"}}
	return externalID, nil
}

func (c *Cluster) GetStatus(ctx context.Context, externalJobID string) (cluster.StatusSeq, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeErr(); err != nil {
		return nil, cluster.NewStatusQueryError(err, "status query to %s failed", c.id)
	}
	e, ok := c.jobs[externalJobID]
	if !ok {
		return nil, cluster.NewStatusQueryError(nil, "cluster %s has no job %s", c.id, externalJobID)
	}
	return cluster.NewStatusSeq(append([]string{}, e.statuses...)...), nil
}

// SetStatuses scripts the status tokens returned for a submitted job.
func (c *Cluster) SetStatuses(externalJobID string, statuses ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs[externalJobID] = &jobEntry{statuses: statuses}
}

// FailNext makes the next Submit or GetStatus call fail with the given
// cause, for exercising retry paths.
func (c *Cluster) FailNext(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errNext = cause
}

func (c *Cluster) takeErr() error {
	err := c.errNext
	c.errNext = nil
	return err
}

var _ cluster.Cluster = (*Cluster)(nil)
