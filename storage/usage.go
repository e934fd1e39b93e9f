package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"convo/model"
)

// UsageRecord is one completed exchange as billed by the provider.
type UsageRecord struct {
	ID               int64
	SessionID        string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FinishReason     string
	Truncations      int // Messages removed from the history so far
	Streamed         bool
	CreatedAt        time.Time
}

// UsageTotals aggregates the records of a session.
type UsageTotals struct {
	Exchanges        int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Truncations      int
}

// UsageLedger keeps token usage in a sqlite database under the data
// directory.
type UsageLedger struct {
	db *sql.DB
}

func NewUsageLedger(dataDir string) (*UsageLedger, error) {
	dbPath := filepath.Join(dataDir, "usage.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	ledger := &UsageLedger{db: db}

	if err := ledger.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return ledger, nil
}

func (l *UsageLedger) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		finish_reason TEXT,
		truncations INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_session ON usage(session_id);
	`

	if _, err := l.db.Exec(schema); err != nil {
		return err
	}

	// Ledgers created before streamed exchanges were tracked lack the column.
	if err := l.migrateSchema(); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	return nil
}

func (l *UsageLedger) migrateSchema() error {
	hasStreamed, err := l.columnExists("usage", "streamed")
	if err != nil {
		return fmt.Errorf("failed to check for streamed column: %w", err)
	}

	if !hasStreamed {
		if _, err := l.db.Exec(`ALTER TABLE usage ADD COLUMN streamed INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("failed to add streamed column: %w", err)
		}
	}

	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info
func (l *UsageLedger) columnExists(tableName, columnName string) (bool, error) {
	rows, err := l.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return false, err
		}
		if name == columnName {
			return true, nil
		}
	}

	return false, rows.Err()
}

// Record stores rec and fills in its ID.
func (l *UsageLedger) Record(rec *UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	result, err := l.db.Exec(`
	INSERT INTO usage (session_id, provider, model, prompt_tokens, completion_tokens, total_tokens, finish_reason, truncations, streamed, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.SessionID,
		rec.Provider,
		rec.Model,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.TotalTokens,
		rec.FinishReason,
		rec.Truncations,
		rec.Streamed,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	rec.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read usage id: %w", err)
	}
	return nil
}

// RecordResult stores the usage reported with res. Results without usage
// (some streams never report it) are recorded with zero tokens.
func (l *UsageLedger) RecordResult(sessionID string, res *model.Result, truncations int, streamed bool) (*UsageRecord, error) {
	if res == nil {
		return nil, fmt.Errorf("no result to record")
	}

	rec := &UsageRecord{
		SessionID:    sessionID,
		Provider:     res.Provider,
		Model:        res.Model,
		FinishReason: res.FinishReason(),
		Truncations:  truncations,
		Streamed:     streamed,
	}
	if res.Usage != nil {
		rec.PromptTokens = res.Usage.PromptTokens
		rec.CompletionTokens = res.Usage.CompletionTokens
		rec.TotalTokens = res.Usage.TotalTokens
	}

	if err := l.Record(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns the records of a session, oldest first.
func (l *UsageLedger) List(sessionID string) ([]UsageRecord, error) {
	rows, err := l.db.Query(`
	SELECT id, session_id, provider, model, prompt_tokens, completion_tokens, total_tokens, finish_reason, truncations, streamed, created_at
	FROM usage
	WHERE session_id = ?
	ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var (
			rec    UsageRecord
			finish sql.NullString
		)
		err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.Provider,
			&rec.Model,
			&rec.PromptTokens,
			&rec.CompletionTokens,
			&rec.TotalTokens,
			&finish,
			&rec.Truncations,
			&rec.Streamed,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		rec.FinishReason = finish.String
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Totals sums the usage of a session. Truncations is the latest count
// since each record carries the running total.
func (l *UsageLedger) Totals(sessionID string) (UsageTotals, error) {
	var t UsageTotals
	err := l.db.QueryRow(`
	SELECT COUNT(*),
		COALESCE(SUM(prompt_tokens), 0),
		COALESCE(SUM(completion_tokens), 0),
		COALESCE(SUM(total_tokens), 0),
		COALESCE(MAX(truncations), 0)
	FROM usage
	WHERE session_id = ?
	`, sessionID).Scan(&t.Exchanges, &t.PromptTokens, &t.CompletionTokens, &t.TotalTokens, &t.Truncations)
	if err != nil {
		return UsageTotals{}, fmt.Errorf("failed to total usage: %w", err)
	}
	return t, nil
}

// DeleteSession removes every record of a session.
func (l *UsageLedger) DeleteSession(sessionID string) error {
	_, err := l.db.Exec(`DELETE FROM usage WHERE session_id = ?`, sessionID)
	return err
}

func (l *UsageLedger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
