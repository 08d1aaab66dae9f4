// Package history records task runs, interrupts and takeover events in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/harbor/internal/models"
)

// TaskRun is one recorded task cycle.
type TaskRun struct {
	ID            int64
	SessionID     string
	TaskID        models.TaskID
	Domain        models.Domain
	Success       bool
	ErrorKind     models.Kind
	ErrorMessage  string
	ObservedState models.State
	ExpectedState models.State
	Actions       []string
	Duration      time.Duration
	StartedAt     time.Time
}

// InterruptRecord is one handled interrupt.
type InterruptRecord struct {
	Trigger    string
	Class      string
	Task       models.TaskID
	Checkpoint models.Checkpoint
	Step       int
	Success    bool
	OccurredAt time.Time
}

// Store manages the SQLite run history.
type Store struct {
	db        *sql.DB
	dbPath    string
	sessionID string
	now       func() time.Time
}

// NewStore opens (creating if needed) the database at dbPath and applies
// migrations. ":memory:" opens a private in-memory database.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; an in-memory database also lives and dies with its connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{
		db:        db,
		dbPath:    dbPath,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
	if err := store.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

// execWithRetry executes a statement with exponential backoff on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// SessionID identifies the agent session rows are recorded under.
func (s *Store) SessionID() string {
	return s.sessionID
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordRun inserts a task run and sets its ID.
func (s *Store) RecordRun(ctx context.Context, run *TaskRun) error {
	if run.SessionID == "" {
		run.SessionID = s.sessionID
	}
	actions, err := encodeList(run.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `INSERT INTO task_runs
		(session_id, task_id, domain, success, error_kind, error_message, observed_state, expected_state, actions, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.SessionID,
		string(run.TaskID),
		string(run.Domain),
		run.Success,
		string(run.ErrorKind),
		run.ErrorMessage,
		string(run.ObservedState),
		string(run.ExpectedState),
		actions,
		run.Duration.Milliseconds(),
		run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert task run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// RecentRuns returns up to limit runs, most recent first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]TaskRun, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, task_id, domain, success, error_kind, error_message,
		observed_state, expected_state, actions, duration_ms, started_at
		FROM task_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query task runs: %w", err)
	}
	defer rows.Close()

	var runs []TaskRun
	for rows.Next() {
		var (
			r                                   TaskRun
			task, domain, kind, observed, expct string
			actions                             string
			ms                                  int64
			errMsg                              sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &task, &domain, &r.Success, &kind, &errMsg,
			&observed, &expct, &actions, &ms, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("scan task run: %w", err)
		}
		r.TaskID = models.TaskID(task)
		r.Domain = models.Domain(domain)
		r.ErrorKind = models.Kind(kind)
		r.ErrorMessage = errMsg.String
		r.ObservedState = models.State(observed)
		r.ExpectedState = models.State(expct)
		r.Duration = time.Duration(ms) * time.Millisecond
		if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
			return nil, fmt.Errorf("unmarshal actions: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task runs: %w", err)
	}
	return runs, nil
}

// FailureCounts returns failed runs per task over the whole history.
func (s *Store) FailureCounts(ctx context.Context) (map[models.TaskID]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, COUNT(*) FROM task_runs WHERE success = 0 GROUP BY task_id`)
	if err != nil {
		return nil, fmt.Errorf("query failure counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.TaskID]int)
	for rows.Next() {
		var task string
		var n int
		if err := rows.Scan(&task, &n); err != nil {
			return nil, fmt.Errorf("scan failure count: %w", err)
		}
		counts[models.TaskID(task)] = n
	}
	return counts, rows.Err()
}

// RecordInterrupt inserts a handled interrupt.
func (s *Store) RecordInterrupt(ctx context.Context, rec InterruptRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO interrupts
		(session_id, trigger_name, class, task_id, checkpoint, step, success, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.sessionID, rec.Trigger, rec.Class, string(rec.Task), string(rec.Checkpoint), rec.Step, rec.Success, rec.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("insert interrupt: %w", err)
	}
	return nil
}

// InterruptCounts returns handled interrupts per trigger.
func (s *Store) InterruptCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT trigger_name, COUNT(*) FROM interrupts GROUP BY trigger_name`)
	if err != nil {
		return nil, fmt.Errorf("query interrupt counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan interrupt count: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// RecordTakeover inserts a takeover event. Re-recording the same event ID
// is a no-op.
func (s *Store) RecordTakeover(ctx context.Context, ev models.TakeoverEvent) error {
	actions, err := encodeList(ev.ActionsTaken)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	markers, err := encodeList(ev.MarkersSeen)
	if err != nil {
		return fmt.Errorf("marshal markers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO takeover_events
		(id, session_id, domain, task_id, reason, last_observed_state, actions, markers, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, s.sessionID, string(ev.Domain), string(ev.Task), ev.Reason, string(ev.LastObservedState),
		actions, markers, ev.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert takeover event: %w", err)
	}
	return nil
}

// Takeovers returns up to limit takeover events, most recent first.
func (s *Store) Takeovers(ctx context.Context, limit int) ([]models.TakeoverEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, domain, task_id, reason, last_observed_state, actions, markers, occurred_at
		FROM takeover_events ORDER BY occurred_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query takeover events: %w", err)
	}
	defer rows.Close()

	var events []models.TakeoverEvent
	for rows.Next() {
		var (
			ev                                  models.TakeoverEvent
			domain, task, observed, acts, marks string
		)
		if err := rows.Scan(&ev.ID, &domain, &task, &ev.Reason, &observed, &acts, &marks, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan takeover event: %w", err)
		}
		ev.Kind = models.EventKindHumanTakeover
		ev.Domain = models.Domain(domain)
		ev.Task = models.TaskID(task)
		ev.LastObservedState = models.State(observed)
		if err := json.Unmarshal([]byte(acts), &ev.ActionsTaken); err != nil {
			return nil, fmt.Errorf("unmarshal actions: %w", err)
		}
		if err := json.Unmarshal([]byte(marks), &ev.MarkersSeen); err != nil {
			return nil, fmt.Errorf("unmarshal markers: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate takeover events: %w", err)
	}
	return events, nil
}

func encodeList(items []string) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
