// Package memory is LEONA's persistence layer: an append-only conversation
// log, a mutable task list, a preference map, and the smart-home device
// registry, all in a single SQLite database.
package memory

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for conversations, tasks,
// preferences, and devices.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "leona.db")
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

// --- Conversations ---

// StoreConversation appends one exchange to the conversation log.
func (s *Store) StoreConversation(c Conversation) error {
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, created_at, user_input, response, context)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.CreatedAt.UTC().Format(time.RFC3339), c.UserInput, c.Response, c.Context,
	)
	return err
}

// RecentConversations returns the most recent exchanges, newest first.
func (s *Store) RecentConversations(limit int) ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, user_input, response, context
		FROM conversations ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConversations(rows)
}

// Context performs keyword-overlap retrieval over stored inputs: each token
// of the query is matched as a case-insensitive substring, the most recent
// matches win, and the result is formatted as alternating turns ready to
// inject into a prompt. Returns "" when nothing matches.
func (s *Store) Context(query string, limit int) (string, error) {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return "", nil
	}

	var clauses []string
	var args []any
	for _, tok := range tokens {
		clauses = append(clauses, "LOWER(user_input) LIKE ?")
		args = append(args, "%"+tok+"%")
	}
	args = append(args, limit)

	q := `SELECT id, created_at, user_input, response, context FROM conversations WHERE ` +
		strings.Join(clauses, " OR ") +
		` ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	matches, err := scanConversations(rows)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("Previous related conversations:\n")
	for _, m := range matches {
		sb.WriteString("User: " + m.UserInput + "\n")
		sb.WriteString("LEONA: " + m.Response + "\n---\n")
	}
	return sb.String(), nil
}

// ConversationCount returns the total number of stored exchanges.
func (s *Store) ConversationCount() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM conversations").Scan(&n)
	return n, err
}

func scanConversations(rows *sql.Rows) ([]Conversation, error) {
	var results []Conversation
	for rows.Next() {
		var c Conversation
		var createdAt string
		if err := rows.Scan(&c.ID, &createdAt, &c.UserInput, &c.Response, &c.Context); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		c.CreatedAt = t
		results = append(results, c)
	}
	return results, rows.Err()
}

// --- Tasks ---

// StoreTask inserts a new task. Empty status defaults to pending; priority
// outside 1..3 is clamped to 3.
func (s *Store) StoreTask(t Task) error {
	status := t.Status
	if status == "" {
		status = TaskStatusPending
	}
	priority := t.Priority
	if priority < 1 || priority > 3 {
		priority = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, created_at, due_date, title, description, status, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CreatedAt.UTC().Format(time.RFC3339), t.DueDate.UTC().Format(time.RFC3339),
		t.Title, t.Description, status, priority,
	)
	return err
}

// PendingTasks returns all pending tasks ordered by priority (high first)
// and then due date (soonest first).
func (s *Store) PendingTasks() ([]Task, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, due_date, title, description, status, priority
		FROM tasks WHERE status = ? ORDER BY priority ASC, due_date ASC`, TaskStatusPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Task
	for rows.Next() {
		var t Task
		var createdAt, dueDate string
		if err := rows.Scan(&t.ID, &createdAt, &dueDate, &t.Title, &t.Description, &t.Status, &t.Priority); err != nil {
			return nil, err
		}
		ct, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		dt, err := time.Parse(time.RFC3339, dueDate)
		if err != nil {
			return nil, fmt.Errorf("parsing due_date: %w", err)
		}
		t.CreatedAt = ct
		t.DueDate = dt
		results = append(results, t)
	}
	return results, rows.Err()
}

// UpdateTaskStatus sets the status of an existing task.
func (s *Store) UpdateTaskStatus(id, status string) error {
	res, err := s.db.Exec("UPDATE tasks SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Preferences ---

// SetPreference upserts a preference; last write wins. Value is opaque
// (callers typically store JSON).
func (s *Store) SetPreference(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetPreference returns the stored value for key, or ErrNotFound.
func (s *Store) GetPreference(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// --- Devices ---

// UpsertDevice inserts or replaces a smart-home device record.
func (s *Store) UpsertDevice(d Device) error {
	capabilities := d.Capabilities
	if capabilities == "" {
		capabilities = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO devices (id, type, state, last_seen, capabilities, integration)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			state = excluded.state,
			last_seen = excluded.last_seen,
			capabilities = excluded.capabilities,
			integration = excluded.integration`,
		d.ID, d.Type, d.State, d.LastSeen.UTC().Format(time.RFC3339), capabilities, d.Integration,
	)
	return err
}

// GetDevice returns one device by ID, or ErrNotFound.
func (s *Store) GetDevice(id string) (Device, error) {
	var d Device
	var lastSeen string
	err := s.db.QueryRow(`
		SELECT id, type, state, last_seen, capabilities, integration
		FROM devices WHERE id = ?`, id,
	).Scan(&d.ID, &d.Type, &d.State, &lastSeen, &d.Capabilities, &d.Integration)
	if err == sql.ErrNoRows {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, err
	}
	t, err := time.Parse(time.RFC3339, lastSeen)
	if err != nil {
		return Device{}, fmt.Errorf("parsing last_seen: %w", err)
	}
	d.LastSeen = t
	return d, nil
}

// ListDevices returns all registered devices ordered by ID.
func (s *Store) ListDevices() ([]Device, error) {
	rows, err := s.db.Query(`
		SELECT id, type, state, last_seen, capabilities, integration
		FROM devices ORDER BY id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Device
	for rows.Next() {
		var d Device
		var lastSeen string
		if err := rows.Scan(&d.ID, &d.Type, &d.State, &lastSeen, &d.Capabilities, &d.Integration); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, lastSeen)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		d.LastSeen = t
		results = append(results, d)
	}
	return results, rows.Err()
}
