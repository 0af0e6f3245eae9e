package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// Columns is the fixed column order of the ledger file.
var Columns = []string{
	"job_id", "account", "payload_ref", "goal_params", "status", "worker_id",
	"claimed_at", "completed_at", "error", "attempts", "max_attempts", "retry_at",
	"error_type", "error_category",
}

// Encode writes the header and one row per job.
func Encode(w io.Writer, jobs []schemas.Job) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, j := range jobs {
		if err := cw.Write(encodeRow(j)); err != nil {
			return fmt.Errorf("encoding job %s: %w", j.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func encodeRow(j schemas.Job) []string {
	return []string{
		j.ID,
		j.Account,
		j.PayloadRef,
		j.GoalParams,
		string(j.Status),
		j.WorkerID,
		formatTime(j.ClaimedAt),
		formatTime(j.CompletedAt),
		j.Error,
		strconv.Itoa(j.Attempts),
		strconv.Itoa(j.MaxAttempts),
		formatTime(j.RetryAt),
		string(j.ErrorType),
		string(j.ErrorCategory),
	}
}

// Decode reads a ledger. An empty input is an empty ledger.
func Decode(r io.Reader) ([]schemas.Job, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Columns)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []schemas.Job{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger header: %w", err)
	}
	for i, col := range Columns {
		if strings.TrimPrefix(header[i], "\uFEFF") != col {
			return nil, fmt.Errorf("ledger column %d is %q, want %q", i+1, header[i], col)
		}
	}

	jobs := []schemas.Job{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading ledger: %w", err)
		}
		j, err := decodeRow(rec)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("ledger line %d: %w", line, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func decodeRow(rec []string) (schemas.Job, error) {
	var (
		j   schemas.Job
		err error
	)
	j.ID = rec[0]
	j.Account = rec[1]
	j.PayloadRef = rec[2]
	j.GoalParams = rec[3]
	if j.Status, err = schemas.ParseJobStatus(rec[4]); err != nil {
		return j, err
	}
	j.WorkerID = rec[5]
	if j.ClaimedAt, err = parseTime("claimed_at", rec[6]); err != nil {
		return j, err
	}
	if j.CompletedAt, err = parseTime("completed_at", rec[7]); err != nil {
		return j, err
	}
	j.Error = rec[8]
	if j.Attempts, err = parseInt("attempts", rec[9]); err != nil {
		return j, err
	}
	if j.MaxAttempts, err = parseInt("max_attempts", rec[10]); err != nil {
		return j, err
	}
	if j.RetryAt, err = parseTime("retry_at", rec[11]); err != nil {
		return j, err
	}
	j.ErrorType = schemas.FailureCode(rec[12])
	j.ErrorCategory = schemas.FailureClass(rec[13])
	return j, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", field, err)
	}
	return t.UTC(), nil
}

func parseInt(field, s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return n, nil
}
