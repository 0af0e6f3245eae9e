// Package seed reads campaign files into ledger jobs.
package seed

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// Defaults apply to every entry that does not override them.
type Defaults struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Flow        string `yaml:"flow"`
}

// Entry is one job in a campaign file.
type Entry struct {
	ID          string `yaml:"id"`
	Account     string `yaml:"account"`
	Payload     string `yaml:"payload"`
	Flow        string `yaml:"flow"`
	Caption     string `yaml:"caption"`
	Target      string `yaml:"target"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// Campaign is the top-level campaign document.
type Campaign struct {
	Defaults Defaults `yaml:"defaults"`
	Entries  []Entry  `yaml:"jobs"`
}

// newID is swapped in tests.
var newID = uuid.NewString

// Load reads and parses a campaign file.
func Load(path string) (*Campaign, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open campaign: %w", err)
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a campaign. Unknown keys are rejected so typos surface early.
func Parse(r io.Reader) (*Campaign, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Campaign
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return &c, nil
		}
		return nil, fmt.Errorf("decode campaign: %w", err)
	}
	return &c, nil
}

// Jobs converts every entry into a job. Entries that cannot run are returned
// as skipped with the reason in Error, so the ledger records them.
func (c *Campaign) Jobs() []schemas.Job {
	jobs := make([]schemas.Job, 0, len(c.Entries))
	for _, e := range c.Entries {
		jobs = append(jobs, c.job(e))
	}
	return jobs
}

func (c *Campaign) job(e Entry) schemas.Job {
	j := schemas.Job{
		ID:          strings.TrimSpace(e.ID),
		Account:     strings.TrimSpace(e.Account),
		PayloadRef:  strings.TrimSpace(e.Payload),
		Status:      schemas.StatusPending,
		MaxAttempts: e.MaxAttempts,
	}
	if j.ID == "" {
		j.ID = newID()
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = c.Defaults.MaxAttempts
	}

	flowName := e.Flow
	if flowName == "" {
		flowName = c.Defaults.Flow
	}
	goal, err := c.goal(flowName, e)
	if err == nil && j.Account == "" {
		err = fmt.Errorf("missing account")
	}
	if err == nil && goal.Flow == schemas.FlowPublish && j.PayloadRef == "" {
		err = fmt.Errorf("publish job has no payload")
	}
	if err != nil {
		j.Status = schemas.StatusSkipped
		j.Error = err.Error()
	}
	// Keep whatever goal could be built so a skipped row still shows intent.
	if params, encErr := schemas.EncodeGoal(goal); encErr == nil {
		j.GoalParams = params
	}
	return j
}

func (c *Campaign) goal(flowName string, e Entry) (schemas.Goal, error) {
	flow, err := schemas.ParseFlow(flowName)
	if err != nil {
		return schemas.Goal{Flow: schemas.Flow(flowName), Caption: e.Caption, Target: e.Target}, err
	}
	g := schemas.Goal{Flow: flow, Caption: e.Caption, Target: strings.TrimPrefix(strings.TrimSpace(e.Target), "@")}
	return g, g.Validate()
}

// LoadJobs is Load followed by Jobs.
func LoadJobs(path string) ([]schemas.Job, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	return c.Jobs(), nil
}
