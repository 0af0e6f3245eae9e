package schemas

import "time"

// OutcomeRecord is the archived result of one finished job attempt.
type OutcomeRecord struct {
	JobID         string        `json:"job_id"`
	Account       string        `json:"account"`
	WorkerID      string        `json:"worker_id"`
	Status        JobStatus     `json:"status"`
	Attempt       int           `json:"attempt"`
	State         string        `json:"state"`
	ErrorType     FailureCode   `json:"error_type,omitempty"`
	ErrorCategory FailureClass  `json:"error_category,omitempty"`
	Error         string        `json:"error,omitempty"`
	Steps         int           `json:"steps"`
	Duration      time.Duration `json:"duration"`
	LastScreen    ScreenType    `json:"last_screen,omitempty"`
	Screenshot    string        `json:"screenshot,omitempty"`
	FinishedAt    time.Time     `json:"finished_at"`
}
