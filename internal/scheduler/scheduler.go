// Package scheduler assigns due dates to unscheduled tasks. The model
// proposes a plan; every assignment is validated in code before it is
// applied, since the plan is untrusted output.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/uswahq/uswa/internal/llm"
	"github.com/uswahq/uswa/internal/storage"
)

const noBacklogMessage = "No unscheduled tasks found."

// TaskStore is the slice of the datastore the scheduler needs.
type TaskStore interface {
	ListBacklog(workspaceID string, limit int) ([]storage.Task, error)
	LoadByDay(workspaceID string, from time.Time) (map[string]int, error)
	UpdateTaskDueDate(workspaceID, taskID string, due time.Time) error
}

// Completer is the completion service.
type Completer interface {
	Complete(ctx context.Context, model, system string, msgs []llm.Message, jsonMode bool) (string, error)
}

// Options bound the planning window.
type Options struct {
	MaxBacklog  int // tasks considered per run
	DailyCap    int // scheduled tasks per day, existing load included
	HorizonDays int // days from tomorrow the plan may reach
}

func (o Options) withDefaults() Options {
	if o.MaxBacklog <= 0 {
		o.MaxBacklog = 20
	}
	if o.DailyCap <= 0 {
		o.DailyCap = 3
	}
	if o.HorizonDays <= 0 {
		o.HorizonDays = 7
	}
	return o
}

// Scheduler plans due dates for the backlog of one workspace per run.
type Scheduler struct {
	store     TaskStore
	completer Completer
	model     string
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

func New(store TaskStore, completer Completer, model string, opts Options) *Scheduler {
	return &Scheduler{
		store:     store,
		completer: completer,
		model:     model,
		opts:      opts.withDefaults(),
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// Result reports one scheduling run.
type Result struct {
	Scheduled int
	Skipped   int
	Message   string
}

// plan mirrors the JSON shape the prompt mandates.
type plan struct {
	Updates []planUpdate `json:"updates"`
}

type planUpdate struct {
	ID      string `json:"id"`
	DueDate string `json:"due_date"`
}

// Run schedules the workspace backlog. An empty backlog short-circuits
// without calling the completion service. Each proposed assignment is
// validated independently: one rejected update never blocks the rest.
func (s *Scheduler) Run(ctx context.Context, workspaceID string) (Result, error) {
	if workspaceID == "" {
		return Result{}, fmt.Errorf("workspace id is required")
	}

	backlog, err := s.store.ListBacklog(workspaceID, s.opts.MaxBacklog)
	if err != nil {
		return Result{}, fmt.Errorf("listing backlog: %w", err)
	}
	if len(backlog) == 0 {
		return Result{Message: noBacklogMessage}, nil
	}

	tomorrow := s.now().AddDate(0, 0, 1)
	tomorrow = time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, time.UTC)

	load, err := s.store.LoadByDay(workspaceID, tomorrow)
	if err != nil {
		return Result{}, fmt.Errorf("loading schedule: %w", err)
	}

	raw, err := s.completer.Complete(ctx, s.model, s.prompt(tomorrow, load), []llm.Message{
		{Role: "user", Content: backlogSummary(backlog)},
	}, true)
	if err != nil {
		return Result{}, fmt.Errorf("completion service: %w", err)
	}

	// An unparseable plan degrades to a no-op run; the backlog is untouched
	// and a later run can try again.
	var p plan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.logger.Warn("unparseable schedule plan", "workspace_id", workspaceID, "error", err)
		return Result{Message: "The proposed schedule could not be read; no tasks were scheduled."}, nil
	}

	known := make(map[string]bool, len(backlog))
	for _, t := range backlog {
		known[t.ID] = true
	}
	last := tomorrow.AddDate(0, 0, s.opts.HorizonDays-1)

	var res Result
	for _, u := range p.Updates {
		due, reason := s.validate(u, known, load, tomorrow, last)
		if reason != "" {
			s.logger.Warn("rejecting planned assignment",
				"workspace_id", workspaceID, "task_id", u.ID, "due_date", u.DueDate, "reason", reason)
			res.Skipped++
			continue
		}
		if err := s.store.UpdateTaskDueDate(workspaceID, u.ID, due); err != nil {
			s.logger.Warn("applying assignment failed",
				"workspace_id", workspaceID, "task_id", u.ID, "error", err)
			res.Skipped++
			continue
		}
		// Applied updates count against the day's cap for the rest of the run.
		load[due.Format(storage.DateOnly)]++
		known[u.ID] = false
		res.Scheduled++
	}

	res.Message = fmt.Sprintf("Scheduled %d task(s) over the next %d days.", res.Scheduled, s.opts.HorizonDays)
	if res.Skipped > 0 {
		res.Message += fmt.Sprintf(" Skipped %d invalid assignment(s).", res.Skipped)
	}
	return res, nil
}

// validate checks one proposed assignment against the run's constraints and
// returns the parsed date, or a non-empty rejection reason.
func (s *Scheduler) validate(u planUpdate, known map[string]bool, load map[string]int, first, last time.Time) (time.Time, string) {
	if !known[u.ID] {
		return time.Time{}, "unknown or already scheduled task"
	}
	due, err := time.ParseInLocation(storage.DateOnly, u.DueDate, time.UTC)
	if err != nil {
		return time.Time{}, "unparseable due date"
	}
	if due.Before(first) {
		return time.Time{}, "due date before tomorrow"
	}
	if due.After(last) {
		return time.Time{}, "due date beyond planning horizon"
	}
	if load[u.DueDate] >= s.opts.DailyCap {
		return time.Time{}, "daily cap reached"
	}
	return due, ""
}

func (s *Scheduler) prompt(tomorrow time.Time, load map[string]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a task scheduler. Assign a due date to each task below.

Rules:
- Scheduling starts tomorrow, %s. Never assign an earlier date.
- Schedule urgent and high priority tasks first.
- At most %d tasks per day, counting tasks already scheduled.
- Spread the work across the next %d days.

Existing load per day:
`, tomorrow.Format(storage.DateOnly), s.opts.DailyCap, s.opts.HorizonDays)
	for i := 0; i < s.opts.HorizonDays; i++ {
		day := tomorrow.AddDate(0, 0, i).Format(storage.DateOnly)
		fmt.Fprintf(&b, "- %s: %d scheduled\n", day, load[day])
	}
	b.WriteString(`
Respond with a single JSON object: {"updates":[{"id":"<task id>","due_date":"YYYY-MM-DD"}]}`)
	return b.String()
}

func backlogSummary(tasks []storage.Task) string {
	var b strings.Builder
	b.WriteString("Unscheduled tasks:\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "- id=%s priority=%s title=%q\n", t.ID, t.Priority, t.Title)
	}
	return b.String()
}
