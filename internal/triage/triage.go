// Package triage scans unread mailbox messages and turns actionable ones into
// tasks.
package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/uswahq/uswa/internal/llm"
	"github.com/uswahq/uswa/internal/mail"
	"github.com/uswahq/uswa/internal/storage"
)

const (
	defaultMaxMessages = 5

	// taskTitlePrefix marks tasks that originate from the inbox.
	taskTitlePrefix = "📧 "

	reconnectMessage = "Your email connection has expired. Please reconnect your Gmail account and try again."
	noMailMessage    = "No unread emails found."
)

// Mailbox lists unread messages for an access token.
type Mailbox interface {
	ListUnread(ctx context.Context, accessToken string, max int) ([]mail.Message, error)
}

// TaskCreator resolves the default project and inserts tasks.
type TaskCreator interface {
	DefaultProject(workspaceID string) (storage.Project, error)
	CreateTask(t storage.Task) error
}

// Completer is the completion service.
type Completer interface {
	Complete(ctx context.Context, model, system string, msgs []llm.Message, jsonMode bool) (string, error)
}

// Triager classifies unread mail and creates tasks from actionable messages.
type Triager struct {
	mailbox     Mailbox
	tasks       TaskCreator
	completer   Completer
	model       string
	maxMessages int
	logger      *slog.Logger
}

// New creates a Triager using the given classification model. If maxMessages
// <= 0, the default (5) is used.
func New(mailbox Mailbox, tasks TaskCreator, completer Completer, model string, maxMessages int) *Triager {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	return &Triager{
		mailbox:     mailbox,
		tasks:       tasks,
		completer:   completer,
		model:       model,
		maxMessages: maxMessages,
		logger:      slog.Default(),
	}
}

// Input identifies one triage run.
type Input struct {
	WorkspaceID string
	UserID      string
	AccessToken string
}

// Result reports one triage run.
type Result struct {
	Scanned      int
	TasksCreated int
	Message      string
}

// verdict mirrors the JSON shape the classification prompt mandates.
type verdict struct {
	IsTask   bool   `json:"is_task"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
}

// Run scans the unread mailbox. A rejected access token surfaces as a
// reconnect message, not an error; one message's failure never blocks the
// rest of the scan.
func (tr *Triager) Run(ctx context.Context, in Input) (Result, error) {
	if in.WorkspaceID == "" {
		return Result{}, fmt.Errorf("workspace id is required")
	}
	if in.AccessToken == "" {
		return Result{Message: reconnectMessage}, nil
	}

	msgs, err := tr.mailbox.ListUnread(ctx, in.AccessToken, tr.maxMessages)
	if err != nil {
		if errors.Is(err, mail.ErrUnauthorized) {
			return Result{Message: reconnectMessage}, nil
		}
		return Result{}, fmt.Errorf("listing unread mail: %w", err)
	}
	if len(msgs) == 0 {
		return Result{Message: noMailMessage}, nil
	}

	project, err := tr.tasks.DefaultProject(in.WorkspaceID)
	if err != nil {
		return Result{}, fmt.Errorf("resolving default project: %w", err)
	}

	res := Result{Scanned: len(msgs)}
	for _, m := range msgs {
		v, err := tr.classify(ctx, m)
		if err != nil {
			tr.logger.Warn("classifying message failed",
				"workspace_id", in.WorkspaceID, "message_id", m.ID, "error", err)
			continue
		}
		if !v.IsTask {
			continue
		}

		title := strings.TrimSpace(v.Title)
		if title == "" {
			title = m.Subject
		}
		priority := v.Priority
		if !storage.ValidPriority(priority) {
			priority = storage.PriorityMedium
		}

		task := storage.Task{
			ID:          uuid.New().String(),
			WorkspaceID: in.WorkspaceID,
			ProjectID:   project.ID,
			Title:       taskTitlePrefix + title,
			Status:      storage.StatusTodo,
			Priority:    priority,
			CreatorID:   in.UserID,
			AssigneeID:  in.UserID,
		}
		if err := tr.tasks.CreateTask(task); err != nil {
			tr.logger.Warn("creating task from message failed",
				"workspace_id", in.WorkspaceID, "message_id", m.ID, "error", err)
			continue
		}
		res.TasksCreated++
	}

	res.Message = fmt.Sprintf("Scanned %d email(s) and created %d task(s).", res.Scanned, res.TasksCreated)
	return res, nil
}

func (tr *Triager) classify(ctx context.Context, m mail.Message) (verdict, error) {
	const system = `You triage email. Decide whether the email below requires the recipient to act.

Respond with a single JSON object:
{"is_task":true|false,"title":"<short task title>","priority":"low|medium|high|urgent"}

Set is_task to false for newsletters, notifications, and messages that need no action.`

	content := fmt.Sprintf("From: %s\nSubject: %s\n\n%s", m.From, m.Subject, m.Snippet)
	raw, err := tr.completer.Complete(ctx, tr.model, system, []llm.Message{{Role: "user", Content: content}}, true)
	if err != nil {
		return verdict{}, err
	}

	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return verdict{}, fmt.Errorf("unparseable verdict: %w", err)
	}
	return v, nil
}
