// Package domain provides definitions for Blackcap Jobs, Schedules and Clusters
package domain

import (
	"fmt"
	"sort"
	"time"

	uuid "github.com/nu7hatch/gouuid"
)

// Job is a unit of submitted work with a lifecycle status.
// The Job is owned by whichever submission subsystem created it; the
// scheduling core only references jobs by id and advances their status.
type Job struct {
	ID     string
	Owner  string // user id of the submitter, weak reference
	Spec   JobSpec
	Status Status
}

func (j *Job) String() string {
	return fmt.Sprintf("job:%s, owner:%s, status:%s, spec:{%s}", j.ID, j.Owner, j.Status, j.Spec.String())
}

// JobSpec is the payload describing the work to execute. The scheduling
// core treats it as opaque except for RequiredCaps, which drives cluster
// selection.
type JobSpec struct {
	Name    string
	Argv    []string
	Env     map[string]string
	Image   string // container image, used by orchestrator backends only
	Timeout time.Duration

	// Labels a cluster must carry to be eligible to run this job.
	RequiredCaps []string
}

func (js *JobSpec) String() string {
	return fmt.Sprintf("name:%s, argv:%v, image:%s, caps:%v", js.Name, js.Argv, js.Image, js.RequiredCaps)
}

// Schedule is the binding of a Job to a target Cluster.
type Schedule struct {
	ID        string
	JobID     string
	ClusterID string

	// Identifier returned by the cluster backend after submission.
	// Empty until submission succeeds.
	ExternalJobID string

	// Set when the job is withdrawn or reaches a terminal state. A
	// cancelled schedule no longer counts against the one-active-schedule
	// -per-job invariant and is skipped by the reconciler.
	Cancelled bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Schedule) String() string {
	return fmt.Sprintf("schedule:%s, job:%s, cluster:%s, externalId:%s, cancelled:%t",
		s.ID, s.JobID, s.ClusterID, s.ExternalJobID, s.Cancelled)
}

// Active reports whether this schedule still counts against the
// one-active-schedule-per-job invariant.
func (s *Schedule) Active() bool {
	return !s.Cancelled
}

// Capacity is a cluster's current load and limit. Limit <= 0 means
// unbounded.
type Capacity struct {
	Running int
	Limit   int
}

// ClusterInfo describes an execution backend to the scheduler.
type ClusterInfo struct {
	ID           string
	Capabilities []string
	Capacity     Capacity
}

// HasCapabilities reports whether the cluster's capability set is a
// superset of required.
func (ci *ClusterInfo) HasCapabilities(required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range ci.Capabilities {
			if want == have {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// User identifies a caller, as established by the Identity Provider.
type User struct {
	ID           string
	Email        string
	Name         string
	Organisation string
}

// ScheduleCreateRequest asks the scheduler to place a job.
type ScheduleCreateRequest struct {
	JobID string
}

// ScheduledCreateRequest is a placed job ready for persistence, produced
// by the scheduler.
type ScheduledCreateRequest struct {
	JobID     string
	ClusterID string
}

// ScheduleQueryType selects the key a schedule query matches on.
type ScheduleQueryType int

const (
	QueryByScheduleID ScheduleQueryType = iota
	QueryByJobID
	QueryByClusterID
)

func (qt ScheduleQueryType) String() string {
	switch qt {
	case QueryByScheduleID:
		return "ScheduleId"
	case QueryByJobID:
		return "JobId"
	case QueryByClusterID:
		return "ClusterId"
	}
	return fmt.Sprintf("Unknown(%d)", int(qt))
}

// ScheduleGetQuery selects schedules by a single key.
type ScheduleGetQuery struct {
	Type  ScheduleQueryType
	Value string
}

// ScheduleUpdateRequest carries the updatable fields of a schedule.
// Nil pointer fields are left unchanged.
type ScheduleUpdateRequest struct {
	ScheduleID    string
	ExternalJobID *string
	Cancelled     *bool
}

// ScheduleDeleteRequest removes a schedule by id.
type ScheduleDeleteRequest struct {
	ScheduleID string
}

// ScheduleResult is the per-item outcome of a batch create or update.
// Exactly one of Schedule and Err is set.
type ScheduleResult struct {
	JobID    string
	Schedule *Schedule
	Err      error
}

// DeleteResult is the per-item outcome of a batch delete. Missing rows
// are reported via Found, not as errors.
type DeleteResult struct {
	ScheduleID string
	Found      bool
}

// NewScheduleID mints a unique schedule id.
func NewScheduleID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewJobID mints a unique job id.
func NewJobID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// SortSchedules orders schedules by id for deterministic output.
func SortSchedules(schedules []Schedule) {
	sort.Slice(schedules, func(i, j int) bool { return schedules[i].ID < schedules[j].ID })
}
