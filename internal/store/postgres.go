package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldrelay/internal/db"
	"github.com/sells-group/fieldrelay/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS daily_reports (
	id              BIGSERIAL PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	day             DATE NOT NULL,
	records         JSONB NOT NULL DEFAULT '[]'::jsonb,
	report          BYTEA,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (conversation_id, day)
);

CREATE TABLE IF NOT EXISTS messages (
	id          BIGSERIAL PRIMARY KEY,
	chat_id     TEXT NOT NULL,
	title       TEXT,
	sender_id   BIGINT,
	sender_name TEXT,
	text        TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_daily_reports_conversation ON daily_reports(conversation_id, day DESC);
CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetArtifact(ctx context.Context, conversationID string, day model.Day) ([]byte, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx,
		`SELECT report FROM daily_reports WHERE conversation_id = $1 AND day = $2`,
		conversationID, day.Time(),
	).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get artifact %s/%s", conversationID, day)
	}
	if len(blob) == 0 {
		return nil, nil
	}
	return blob, nil
}

func (s *PostgresStore) LoadArtifact(ctx context.Context, conversationID string, day model.Day) (*model.DailyArtifact, error) {
	var (
		recordsJSON []byte
		blob        []byte
		updatedAt   time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT records, report, updated_at FROM daily_reports WHERE conversation_id = $1 AND day = $2`,
		conversationID, day.Time(),
	).Scan(&recordsJSON, &blob, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load artifact %s/%s", conversationID, day)
	}

	var records []model.Record
	if err := json.Unmarshal(recordsJSON, &records); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal records")
	}
	return &model.DailyArtifact{
		ConversationID: conversationID,
		Day:            day,
		Records:        records,
		Blob:           blob,
		UpdatedAt:      updatedAt,
	}, nil
}

// UpsertArtifact locks the (conversation, day) row for the duration of the
// merge so concurrent workers never lose each other's records.
func (s *PostgresStore) UpsertArtifact(ctx context.Context, conversationID string, day model.Day, records []model.Record) (*model.DailyArtifact, error) {
	now := time.Now().UTC()
	art := &model.DailyArtifact{ConversationID: conversationID, Day: day, UpdatedAt: now}

	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO daily_reports (conversation_id, day, records, created_at, updated_at)
			 VALUES ($1, $2, '[]'::jsonb, $3, $3)
			 ON CONFLICT (conversation_id, day) DO NOTHING`,
			conversationID, day.Time(), now,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert artifact row")
		}

		var existingJSON []byte
		err = tx.QueryRow(ctx,
			`SELECT records FROM daily_reports WHERE conversation_id = $1 AND day = $2 FOR UPDATE`,
			conversationID, day.Time(),
		).Scan(&existingJSON)
		if err != nil {
			return eris.Wrap(err, "postgres: lock artifact row")
		}

		var existing []model.Record
		if len(existingJSON) > 0 {
			if err := json.Unmarshal(existingJSON, &existing); err != nil {
				return eris.Wrap(err, "postgres: unmarshal records")
			}
		}

		merged, blob, added, err := compile(existing, records)
		if err != nil {
			return eris.Wrap(err, "postgres: compile artifact")
		}
		mergedJSON, err := json.Marshal(merged)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal records")
		}

		_, err = tx.Exec(ctx,
			`UPDATE daily_reports SET records = $1, report = $2, updated_at = $3 WHERE conversation_id = $4 AND day = $5`,
			mergedJSON, blob, now, conversationID, day.Time(),
		)
		if err != nil {
			return eris.Wrap(err, "postgres: update artifact")
		}

		zap.L().Debug("postgres: artifact upserted",
			zap.String("conversation_id", conversationID),
			zap.Stringer("day", day),
			zap.Int("added", added),
			zap.Int("total", len(merged)),
		)
		art.Records = merged
		art.Blob = blob
		return nil
	})
	if err != nil {
		return nil, err
	}
	return art, nil
}

func (s *PostgresStore) ListArtifactDays(ctx context.Context, conversationID string) ([]model.Day, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT day FROM daily_reports WHERE conversation_id = $1 ORDER BY day DESC`,
		conversationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list artifact days")
	}
	defer rows.Close()

	var days []model.Day
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, eris.Wrap(err, "postgres: scan artifact day")
		}
		days = append(days, model.DayOf(d))
	}
	return days, eris.Wrap(rows.Err(), "postgres: iterate artifact days")
}

func (s *PostgresStore) SaveMessage(ctx context.Context, msg model.ChatMessage) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (chat_id, title, sender_id, sender_name, text, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ConversationID, msg.Title, msg.SenderID, msg.SenderName, msg.Text, createdAt,
	)
	return eris.Wrapf(err, "postgres: save message for %s", msg.ConversationID)
}
