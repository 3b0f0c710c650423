package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DateOnly is the storage format for due dates.
const DateOnly = "2006-01-02"

// Store wraps a SQLite database with methods for projects, documents, tasks,
// and the conversation log. All reads and writes are scoped by workspace_id;
// that filter is a correctness invariant, not an optimization.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "uswa.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database for components that query it directly,
// such as the knowledge index.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Projects ---

// CreateProject inserts a new project.
func (s *Store) CreateProject(p Project) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO projects (id, workspace_id, name, created_at)
		VALUES (?, ?, ?, ?)`,
		p.ID, p.WorkspaceID, p.Name, createdAt.Format(time.RFC3339),
	)
	return err
}

// DefaultProject returns the oldest project in the workspace, lazily creating
// one named "General" when none exists. A task row is never committed without
// a resolvable project/workspace pair.
func (s *Store) DefaultProject(workspaceID string) (Project, error) {
	var p Project
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, workspace_id, name, created_at
		FROM projects WHERE workspace_id = ?
		ORDER BY created_at ASC LIMIT 1`, workspaceID,
	).Scan(&p.ID, &p.WorkspaceID, &p.Name, &createdAt)
	if err == sql.ErrNoRows {
		p = Project{
			ID:          uuid.New().String(),
			WorkspaceID: workspaceID,
			Name:        "General",
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.CreateProject(p); err != nil {
			return Project{}, fmt.Errorf("creating default project: %w", err)
		}
		return p, nil
	}
	if err != nil {
		return Project{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Project{}, fmt.Errorf("parsing created_at: %w", err)
	}
	p.CreatedAt = t
	return p, nil
}

// --- Documents ---

// CreateDocument inserts a document row. ContentText and Embedding are
// typically empty at creation and filled in by ingestion.
func (s *Store) CreateDocument(d Document) error {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	shared := 0
	if d.Shared {
		shared = 1
	}
	var blob []byte
	if len(d.Embedding) > 0 {
		blob = EncodeVector(d.Embedding)
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (id, workspace_id, name, file_path, content_text, embedding, embedding_model, owner_id, shared, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.WorkspaceID, d.Name, d.FilePath, d.ContentText, blob, d.EmbeddingModel, d.OwnerID, shared,
		createdAt.Format(time.RFC3339),
	)
	return err
}

// GetDocument loads one document by id.
func (s *Store) GetDocument(id string) (Document, error) {
	var d Document
	var blob []byte
	var shared int
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, workspace_id, name, file_path, content_text, embedding, embedding_model, owner_id, shared, created_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.WorkspaceID, &d.Name, &d.FilePath, &d.ContentText, &blob, &d.EmbeddingModel, &d.OwnerID, &shared, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if len(blob) > 0 {
		vec, err := DecodeVector(blob)
		if err != nil {
			return Document{}, fmt.Errorf("decoding embedding for %s: %w", d.ID, err)
		}
		d.Embedding = vec
	}
	d.Shared = shared != 0
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}

// UpdateDocumentContent persists extracted text for a document. This happens
// before embedding so the document is readable even if embedding fails later.
func (s *Store) UpdateDocumentContent(id, contentText string) error {
	res, err := s.db.Exec(`UPDATE documents SET content_text = ? WHERE id = ?`, contentText, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateDocumentEmbedding persists an embedding and the model that produced
// it. The model identifier travels with the vector so vectors from different
// models are never compared.
func (s *Store) UpdateDocumentEmbedding(id, model string, embedding []float32) error {
	res, err := s.db.Exec(`UPDATE documents SET embedding = ?, embedding_model = ? WHERE id = ?`,
		EncodeVector(embedding), model, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CountStaleEmbeddings returns how many documents in the workspace carry an
// embedding produced by a different model than the current one. Such rows are
// excluded from similarity search until re-ingested.
func (s *Store) CountStaleEmbeddings(workspaceID, model string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM documents
		WHERE workspace_id = ? AND embedding IS NOT NULL AND embedding_model != ?`,
		workspaceID, model,
	).Scan(&count)
	return count, err
}

// --- Tasks ---

// CreateTask inserts a task after validating its status, priority, and
// project/workspace pair.
func (s *Store) CreateTask(t Task) error {
	if t.WorkspaceID == "" || t.ProjectID == "" {
		return fmt.Errorf("task requires workspace and project")
	}
	if !ValidStatus(t.Status) {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if !ValidPriority(t.Priority) {
		return fmt.Errorf("invalid priority %q", t.Priority)
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var due interface{}
	if t.DueDate != nil {
		due = t.DueDate.Format(DateOnly)
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, workspace_id, project_id, title, status, priority, creator_id, assignee_id, due_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.WorkspaceID, t.ProjectID, t.Title, t.Status, t.Priority,
		t.CreatorID, t.AssigneeID, due, createdAt.Format(time.RFC3339),
	)
	return err
}

// GetTask loads one task by id.
func (s *Store) GetTask(id string) (Task, error) {
	row := s.db.QueryRow(`
		SELECT id, workspace_id, project_id, title, status, priority, creator_id, assignee_id, due_date, created_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	return t, err
}

// ListBacklog returns up to limit unscheduled todo tasks for the workspace.
func (s *Store) ListBacklog(workspaceID string, limit int) ([]Task, error) {
	rows, err := s.db.Query(`
		SELECT id, workspace_id, project_id, title, status, priority, creator_id, assignee_id, due_date, created_at
		FROM tasks
		WHERE workspace_id = ? AND status = 'todo' AND due_date IS NULL
		ORDER BY created_at ASC LIMIT ?`, workspaceID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// LoadByDay counts scheduled tasks per due date, from the given date onward.
func (s *Store) LoadByDay(workspaceID string, from time.Time) (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT due_date FROM tasks
		WHERE workspace_id = ? AND due_date IS NOT NULL AND due_date >= ?`,
		workspaceID, from.Format(DateOnly),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	load := make(map[string]int)
	for rows.Next() {
		var due string
		if err := rows.Scan(&due); err != nil {
			return nil, err
		}
		load[due]++
	}
	return load, rows.Err()
}

// UpdateTaskDueDate sets the due date of a task within one workspace. The
// workspace filter prevents a plan generated for one workspace from touching
// another's tasks.
func (s *Store) UpdateTaskDueDate(workspaceID, taskID string, due time.Time) error {
	res, err := s.db.Exec(`UPDATE tasks SET due_date = ? WHERE id = ? AND workspace_id = ?`,
		due.Format(DateOnly), taskID, workspaceID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- Conversation log ---

// AppendChatMessage appends one turn to the conversation log.
func (s *Store) AppendChatMessage(m ChatMessage) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO chat_messages (id, workspace_id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.WorkspaceID, m.SessionID, m.Role, m.Content,
		createdAt.Format(time.RFC3339Nano),
	)
	return err
}

// RecentChatMessages returns the most recent limit turns of a session in
// chronological order. The agent reads this bounded window, never the full
// history, to bound prompt size.
func (s *Store) RecentChatMessages(workspaceID, sessionID string, limit int) ([]ChatMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, workspace_id, session_id, role, content, created_at FROM (
			SELECT id, workspace_id, session_id, role, content, created_at
			FROM chat_messages
			WHERE workspace_id = ? AND session_id = ?
			ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`,
		workspaceID, sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.SessionID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var due sql.NullString
	var createdAt string
	err := row.Scan(&t.ID, &t.WorkspaceID, &t.ProjectID, &t.Title, &t.Status, &t.Priority,
		&t.CreatorID, &t.AssigneeID, &due, &createdAt)
	if err != nil {
		return Task{}, err
	}
	if due.Valid {
		d, err := time.Parse(DateOnly, due.String)
		if err != nil {
			return Task{}, fmt.Errorf("parsing due_date for task %s: %w", t.ID, err)
		}
		t.DueDate = &d
	}
	ct, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Task{}, fmt.Errorf("parsing created_at for task %s: %w", t.ID, err)
	}
	t.CreatedAt = ct
	return t, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
