package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Task statuses.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusDone       = "done"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ValidStatus reports whether s is a known task status.
func ValidStatus(s string) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known task priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Project groups tasks inside a workspace. Every task belongs to exactly one.
type Project struct {
	ID          string
	WorkspaceID string
	Name        string
	CreatedAt   time.Time
}

// Document is an uploaded file plus its extracted text and embedding.
// ContentText and Embedding are filled in by the ingestion pipeline after the
// row is created; a row with an empty embedding is a valid resting state
// (full-text readable, excluded from similarity search).
type Document struct {
	ID             string
	WorkspaceID    string
	Name           string
	FilePath       string
	ContentText    string
	Embedding      []float32
	EmbeddingModel string
	OwnerID        string
	Shared         bool
	CreatedAt      time.Time
}

// Task is a unit of work scoped to one workspace and one project.
type Task struct {
	ID          string
	WorkspaceID string
	ProjectID   string
	Title       string
	Status      string
	Priority    string
	CreatorID   string
	AssigneeID  string
	DueDate     *time.Time
	CreatedAt   time.Time
}

// ChatMessage is one turn of the assistant conversation log. Append-only.
type ChatMessage struct {
	ID          string
	WorkspaceID string
	SessionID   string
	Role        string // "user" or "assistant"
	Content     string
	CreatedAt   time.Time
}
