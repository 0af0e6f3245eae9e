package schemas

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a ledger job.
type JobStatus string

const (
	StatusPending  JobStatus = "pending"
	StatusClaimed  JobStatus = "claimed"
	StatusSuccess  JobStatus = "success"
	StatusFailed   JobStatus = "failed"
	StatusRetrying JobStatus = "retrying"
	StatusSkipped  JobStatus = "skipped"
)

// AllStatuses lists every status in display order.
var AllStatuses = []JobStatus{
	StatusPending, StatusClaimed, StatusRetrying, StatusSuccess, StatusFailed, StatusSkipped,
}

// ParseJobStatus validates a status read from storage.
func ParseJobStatus(s string) (JobStatus, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

var transitions = map[JobStatus][]JobStatus{
	StatusPending:  {StatusClaimed, StatusSkipped},
	StatusClaimed:  {StatusSuccess, StatusFailed, StatusRetrying, StatusPending},
	StatusRetrying: {StatusPending},
}

// CanTransition reports whether a job may move from one status to another.
// claimed -> pending is reserved for the stale-claim sweep.
func CanTransition(from, to JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is one unit of work in the progress ledger.
type Job struct {
	ID            string       `json:"job_id"`
	Account       string       `json:"account"`
	PayloadRef    string       `json:"payload_ref"`
	GoalParams    string       `json:"goal_params"`
	Status        JobStatus    `json:"status"`
	WorkerID      string       `json:"worker_id"`
	ClaimedAt     time.Time    `json:"claimed_at"`
	CompletedAt   time.Time    `json:"completed_at"`
	Error         string       `json:"error"`
	Attempts      int          `json:"attempts"`
	MaxAttempts   int          `json:"max_attempts"`
	RetryAt       time.Time    `json:"retry_at"`
	ErrorType     FailureCode  `json:"error_type"`
	ErrorCategory FailureClass `json:"error_category"`
}

// Goal decodes the job's goal parameters.
func (j Job) Goal() (Goal, error) {
	return DecodeGoal(j.GoalParams)
}

// AttemptsExhausted reports whether another retry would exceed the attempt budget.
func (j Job) AttemptsExhausted() bool {
	return j.MaxAttempts > 0 && j.Attempts >= j.MaxAttempts
}

// Stats counts jobs by status.
type Stats struct {
	Total    int               `json:"total"`
	ByStatus map[JobStatus]int `json:"by_status"`
}

// Count returns the number of jobs in status s.
func (s Stats) Count(st JobStatus) int { return s.ByStatus[st] }
