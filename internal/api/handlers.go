// Package api exposes the assistant pipelines over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/uswahq/uswa/internal/agent"
	"github.com/uswahq/uswa/internal/ingest"
	"github.com/uswahq/uswa/internal/scheduler"
	"github.com/uswahq/uswa/internal/storage"
	"github.com/uswahq/uswa/internal/triage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Ingester runs the ingestion pipeline for one document.
type Ingester interface {
	Ingest(ctx context.Context, documentID, filePath string) (ingest.Result, error)
}

// ChatAgent runs one conversation turn.
type ChatAgent interface {
	Chat(ctx context.Context, in agent.Input) (agent.Result, error)
}

// AutoScheduler plans due dates for a workspace backlog.
type AutoScheduler interface {
	Run(ctx context.Context, workspaceID string) (scheduler.Result, error)
}

// InboxTriager scans a mailbox and creates tasks.
type InboxTriager interface {
	Run(ctx context.Context, in triage.Input) (triage.Result, error)
}

// AppDeps holds the wired pipelines behind the HTTP surface.
type AppDeps struct {
	Ingester  Ingester
	Agent     ChatAgent
	Scheduler AutoScheduler
	Triager   InboxTriager
	Token     string
}

// NewAppHandler returns the HTTP API. All routes except /health require the
// bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/ingest", handleIngest(deps))
		r.Post("/chat", handleChat(deps))
		r.Post("/auto-schedule", handleAutoSchedule(deps))
		r.Post("/triage", handleTriage(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type ingestRequest struct {
	DocumentID string `json:"document_id"`
	FilePath   string `json:"file_path"`
}

func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.DocumentID == "" || req.FilePath == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "document_id and file_path are required")
			return
		}

		res, err := deps.Ingester.Ingest(r.Context(), req.DocumentID, req.FilePath)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "ingestion failed: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"success": res.Embedded,
			"message": res.Message,
		})
	}
}

type chatRequest struct {
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	Message     string `json:"message"`
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.WorkspaceID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "workspace_id is required")
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		res, err := deps.Agent.Chat(r.Context(), agent.Input{
			WorkspaceID: req.WorkspaceID,
			UserID:      req.UserID,
			SessionID:   req.SessionID,
			Message:     req.Message,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "chat failed: %v", err)
			return
		}

		writeJSON(w, map[string]string{"reply": res.Reply})
	}
}

type scheduleRequest struct {
	WorkspaceID string `json:"workspace_id"`
}

func handleAutoSchedule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.WorkspaceID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "workspace_id is required")
			return
		}

		res, err := deps.Scheduler.Run(r.Context(), req.WorkspaceID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "scheduling failed: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"scheduled_count": res.Scheduled,
			"message":         res.Message,
		})
	}
}

type triageRequest struct {
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	MailToken   string `json:"mail_token"`
}

func handleTriage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req triageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.WorkspaceID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "workspace_id is required")
			return
		}

		res, err := deps.Triager.Run(r.Context(), triage.Input{
			WorkspaceID: req.WorkspaceID,
			UserID:      req.UserID,
			AccessToken: req.MailToken,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "triage failed: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"scanned_count": res.Scanned,
			"created_count": res.TasksCreated,
			"message":       res.Message,
		})
	}
}

// decodeBody decodes a bounded JSON body into v, writing the error response
// itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
