// Package remote provides a cluster backend over a container
// orchestrator's REST job API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"

	"github.com/blackcap/blackcap/cloud/cluster"
	"github.com/blackcap/blackcap/scheduler/domain"
)

const DefaultHTTPTries = 3 // transport-level retries; the reconciler owns the outer retry policy

// Params is the config parameter block for a remote cluster.
type Params struct {
	Addr         string   `json:"addr"`
	Namespace    string   `json:"namespace"`
	Capabilities []string `json:"capabilities"`
	Limit        int      `json:"limit"`
}

type submitRequest struct {
	Name      string            `json:"name"`
	Image     string            `json:"image"`
	Argv      []string          `json:"argv,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Namespace string            `json:"namespace,omitempty"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type statusResponse struct {
	Statuses []string `json:"statuses"`
}

type Cluster struct {
	id     string
	params Params
	client *pester.Client

	mu      sync.Mutex
	running map[string]bool // externalID -> still counted as load
}

func makePesterClient() *pester.Client {
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = DefaultHTTPTries
	client.LogHook = func(e pester.ErrEntry) {
		log.Errorf("Retrying after failed attempt: %+v", e)
	}
	return client
}

func NewCluster(id string, p Params) *Cluster {
	return &Cluster{
		id:      id,
		params:  p,
		client:  makePesterClient(),
		running: map[string]bool{},
	}
}

// Factory builds a remote cluster from its config parameter block.
func Factory(id string, params json.RawMessage) (cluster.Cluster, error) {
	var p Params
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("bad remote cluster params: %v", err)
		}
	}
	if p.Addr == "" {
		return nil, fmt.Errorf("remote cluster %s requires an addr", id)
	}
	return NewCluster(id, p), nil
}

func (c *Cluster) ID() string {
	return c.id
}

func (c *Cluster) Info() domain.ClusterInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.ClusterInfo{
		ID:           c.id,
		Capabilities: append([]string{}, c.params.Capabilities...),
		Capacity:     domain.Capacity{Running: len(c.running), Limit: c.params.Limit},
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
			c.id, job.ID, job.Spec.RequiredCaps, c.params.Capabilities)
	}
	if job.Spec.Image == "" {
		return cluster.NewPreparationError("job %s has no image; cluster %s runs containers", job.ID, c.id)
	}
	return nil
}

func (c *Cluster) Submit(ctx context.Context, job *domain.Job) (string, error) {
	body, err := json.Marshal(submitRequest{
		Name:      job.Spec.Name,
		Image:     job.Spec.Image,
		Argv:      job.Spec.Argv,
		Env:       job.Spec.Env,
		Namespace: c.params.Namespace,
	})
	if err != nil {
		return "", cluster.NewPermanentSubmissionError("encoding job %s: %v", job.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/v1/jobs"), bytes.NewReader(body))
	if err != nil {
		return "", cluster.NewPermanentSubmissionError("building request for job %s: %v", job.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", cluster.NewSubmissionError(err, "submitting job %s to %s", job.ID, c.id)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", cluster.NewPermanentSubmissionError(
			"cluster %s rejected job %s: %s", c.id, job.ID, readBody(resp.Body))
	default:
		return "", cluster.NewSubmissionError(nil,
			"cluster %s returned %d for job %s", c.id, resp.StatusCode, job.ID)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", cluster.NewSubmissionError(err, "decoding submit response from %s", c.id)
	}
	if sr.JobID == "" {
		return "", cluster.NewSubmissionError(nil, "cluster %s returned an empty job id", c.id)
	}

	c.mu.Lock()
	c.running[sr.JobID] = true
	c.mu.Unlock()
	return sr.JobID, nil
}

func (c *Cluster) GetStatus(ctx context.Context, externalJobID string) (cluster.StatusSeq, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.url("/api/v1/jobs/"+externalJobID+"/status"), nil)
	if err != nil {
		return nil, cluster.NewStatusQueryError(err, "building status request for %s", externalJobID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, cluster.NewStatusQueryError(err, "querying %s for job %s", c.id, externalJobID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, cluster.NewStatusQueryError(nil,
			"cluster %s returned %d for job %s", c.id, resp.StatusCode, externalJobID)
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, cluster.NewStatusQueryError(err, "decoding status response from %s", c.id)
	}

	c.markDone(externalJobID, sr.Statuses)
	return cluster.NewStatusSeq(sr.Statuses...), nil
}

// markDone drops finished jobs from the local load count.
func (c *Cluster) markDone(externalJobID string, statuses []string) {
	for _, st := range statuses {
		switch strings.ToUpper(st) {
		case "COMPLETED", "SUCCEEDED", "DONE", "FAILED", "ERROR", "CANCELLED", "KILLED":
		default:
			return
		}
	}
	c.mu.Lock()
	delete(c.running, externalJobID)
	c.mu.Unlock()
}

func (c *Cluster) url(path string) string {
	return strings.TrimSuffix(c.params.Addr, "/") + path
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 1024))
	return strings.TrimSpace(string(b))
}

var _ cluster.Cluster = (*Cluster)(nil)
