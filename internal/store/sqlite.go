package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fieldrelay/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It holds a single
// connection, which serializes every write.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS daily_reports (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	day             TEXT NOT NULL,
	records         TEXT NOT NULL DEFAULT '[]',
	report          BLOB,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (conversation_id, day)
);

CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id     TEXT NOT NULL,
	title       TEXT,
	sender_id   INTEGER,
	sender_name TEXT,
	text        TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, conversationID string, day model.Day) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM daily_reports WHERE conversation_id = ? AND day = ?`,
		conversationID, day.String(),
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get artifact %s/%s", conversationID, day)
	}
	if len(blob) == 0 {
		return nil, nil
	}
	return blob, nil
}

func (s *SQLiteStore) LoadArtifact(ctx context.Context, conversationID string, day model.Day) (*model.DailyArtifact, error) {
	var (
		recordsJSON string
		blob        []byte
		updatedAt   time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT records, report, updated_at FROM daily_reports WHERE conversation_id = ? AND day = ?`,
		conversationID, day.String(),
	).Scan(&recordsJSON, &blob, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load artifact %s/%s", conversationID, day)
	}

	var records []model.Record
	if err := json.Unmarshal([]byte(recordsJSON), &records); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal records")
	}
	return &model.DailyArtifact{
		ConversationID: conversationID,
		Day:            day,
		Records:        records,
		Blob:           blob,
		UpdatedAt:      updatedAt,
	}, nil
}

func (s *SQLiteStore) UpsertArtifact(ctx context.Context, conversationID string, day model.Day, records []model.Record) (*model.DailyArtifact, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var existingJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT records FROM daily_reports WHERE conversation_id = ? AND day = ?`,
		conversationID, day.String(),
	).Scan(&existingJSON)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(err, "sqlite: read artifact")
	}

	var existing []model.Record
	if existingJSON != "" {
		if err := json.Unmarshal([]byte(existingJSON), &existing); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal records")
		}
	}

	merged, blob, _, err := compile(existing, records)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: compile artifact")
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal records")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO daily_reports (conversation_id, day, records, report, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (conversation_id, day) DO UPDATE SET
			records = excluded.records,
			report = excluded.report,
			updated_at = excluded.updated_at`,
		conversationID, day.String(), string(mergedJSON), blob, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert artifact")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit")
	}

	return &model.DailyArtifact{
		ConversationID: conversationID,
		Day:            day,
		Records:        merged,
		Blob:           blob,
		UpdatedAt:      now,
	}, nil
}

func (s *SQLiteStore) ListArtifactDays(ctx context.Context, conversationID string) ([]model.Day, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day FROM daily_reports WHERE conversation_id = ? ORDER BY day DESC`,
		conversationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list artifact days")
	}
	defer rows.Close() //nolint:errcheck

	var days []model.Day
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan artifact day")
		}
		d, err := model.ParseDay(raw)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: parse artifact day")
		}
		days = append(days, d)
	}
	return days, eris.Wrap(rows.Err(), "sqlite: iterate artifact days")
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg model.ChatMessage) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, title, sender_id, sender_name, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.Title, msg.SenderID, msg.SenderName, msg.Text, createdAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save message for %s", msg.ConversationID)
}

// CountMessages returns the number of logged messages for a conversation.
func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, conversationID,
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count messages")
}
