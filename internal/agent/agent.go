// Package agent implements the grounded, tool-calling conversation turn: one
// structured decision per user message, with at most one task-creation side
// effect.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/uswahq/uswa/internal/llm"
	"github.com/uswahq/uswa/internal/retrieval"
	"github.com/uswahq/uswa/internal/storage"
)

const defaultHistoryWindow = 12

const taskCreateApology = "Sorry, I couldn't create that task right now. Please try again."

// ConversationStore persists and reads the append-only conversation log.
type ConversationStore interface {
	AppendChatMessage(m storage.ChatMessage) error
	RecentChatMessages(workspaceID, sessionID string, limit int) ([]storage.ChatMessage, error)
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

// ContextRetriever produces grounding matches for a query.
type ContextRetriever interface {
	Retrieve(ctx context.Context, workspaceID, query string) ([]retrieval.Match, error)
}

// Agent handles one chat turn at a time. It is stateless across requests; all
// durable state lives in the datastore.
type Agent struct {
	retriever ContextRetriever
	convo     ConversationStore
	tasks     TaskCreator
	completer Completer
	model     string
	window    int
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Agent using the given chat model. If window <= 0, the
// default recent-history window (12 turns) is used.
func New(retriever ContextRetriever, convo ConversationStore, tasks TaskCreator, completer Completer, model string, window int) *Agent {
	if window <= 0 {
		window = defaultHistoryWindow
	}
	return &Agent{
		retriever: retriever,
		convo:     convo,
		tasks:     tasks,
		completer: completer,
		model:     model,
		window:    window,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// Input is one user chat turn.
type Input struct {
	WorkspaceID string
	UserID      string
	SessionID   string
	Message     string
}

// Result is the assistant's reply for the turn.
type Result struct {
	Reply string
}

// Chat runs one decision turn: log the message, retrieve grounding, ask the
// completion service for a structured decision, execute at most one side
// effect, and log the reply.
func (a *Agent) Chat(ctx context.Context, in Input) (Result, error) {
	if in.WorkspaceID == "" {
		return Result{}, fmt.Errorf("workspace id is required")
	}

	if err := a.convo.AppendChatMessage(storage.ChatMessage{
		ID:          uuid.New().String(),
		WorkspaceID: in.WorkspaceID,
		SessionID:   in.SessionID,
		Role:        "user",
		Content:     in.Message,
	}); err != nil {
		return Result{}, fmt.Errorf("recording message: %w", err)
	}

	history, err := a.convo.RecentChatMessages(in.WorkspaceID, in.SessionID, a.window)
	if err != nil {
		return Result{}, fmt.Errorf("loading conversation window: %w", err)
	}

	// Grounding failure degrades to an ungrounded turn; the completion
	// service still sees the explicit no-context marker.
	grounding := retrieval.NoContextMarker
	matches, err := a.retriever.Retrieve(ctx, in.WorkspaceID, in.Message)
	if err != nil {
		a.logger.Warn("retrieval failed, answering without grounding",
			"workspace_id", in.WorkspaceID, "error", err)
	} else {
		grounding = retrieval.BuildContext(matches)
	}

	raw, err := a.completer.Complete(ctx, a.model, a.systemPrompt(grounding), sanitize(history), true)
	if err != nil {
		return Result{}, fmt.Errorf("completion service: %w", err)
	}

	decision := ParseDecision(raw)

	var reply string
	switch decision.Kind {
	case DecisionCreateTask:
		reply = a.createTask(in, decision)
	default:
		reply = decision.Reply
		if reply == "" {
			reply = "I'm not sure how to respond to that."
		}
	}

	// A failed reply append loses only the log entry, not the turn.
	if err := a.convo.AppendChatMessage(storage.ChatMessage{
		ID:          uuid.New().String(),
		WorkspaceID: in.WorkspaceID,
		SessionID:   in.SessionID,
		Role:        "assistant",
		Content:     reply,
	}); err != nil {
		a.logger.Warn("recording assistant reply failed", "workspace_id", in.WorkspaceID, "error", err)
	}

	return Result{Reply: reply}, nil
}

// createTask executes the create_task decision. Datastore failures surface as
// a user-visible apology, never a raw error.
func (a *Agent) createTask(in Input, d Decision) string {
	priority := d.Priority
	if !storage.ValidPriority(priority) {
		priority = storage.PriorityMedium
	}

	project, err := a.tasks.DefaultProject(in.WorkspaceID)
	if err != nil {
		a.logger.Error("resolving default project failed", "workspace_id", in.WorkspaceID, "error", err)
		return taskCreateApology
	}

	task := storage.Task{
		ID:          uuid.New().String(),
		WorkspaceID: in.WorkspaceID,
		ProjectID:   project.ID,
		Title:       d.Title,
		Status:      storage.StatusTodo,
		Priority:    priority,
		CreatorID:   in.UserID,
	}
	if err := a.tasks.CreateTask(task); err != nil {
		a.logger.Error("creating task failed", "workspace_id", in.WorkspaceID, "error", err)
		return taskCreateApology
	}

	return fmt.Sprintf("Done! I've created the task %q.", d.Title)
}

func (a *Agent) systemPrompt(grounding string) string {
	return fmt.Sprintf(`You are USWA, a helpful work assistant. Today is %s.

Answer questions using the workspace context below. If the context does not cover the question, say so instead of guessing.

Respond with a single JSON object in exactly one of these shapes:
{"tool":"create_task","title":"<task title>","priority":"low|medium|high|urgent"}
{"tool":null,"reply":"<your answer>"}

Use create_task only when the user asks for a task to be created.

Workspace context:
%s`, a.now().Format("January 2, 2006"), grounding)
}

// sanitize reduces persisted turns to role+content. Extraneous fields such as
// ids and timestamps have caused provider-side request rejection.
func sanitize(history []storage.ChatMessage) []llm.Message {
	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return msgs
}
