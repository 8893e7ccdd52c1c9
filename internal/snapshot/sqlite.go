package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// SQLiteStore is the on-device durable store.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteStore wraps an open database and creates the snapshot table if needed.
func NewSQLiteStore(ctx context.Context, db *sql.DB, log zerolog.Logger) (*SQLiteStore, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS session_snapshots (
			exam_id  TEXT PRIMARY KEY,
			payload  BLOB NOT NULL,
			saved_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create snapshot table: %w", err)
	}
	return &SQLiteStore{
		db:  db,
		log: log.With().Str("component", "snapshot_sqlite").Logger(),
	}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, examID string) (*model.Snapshot, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM session_snapshots WHERE exam_id = ?`, examID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}

	snap, err := Decode(raw)
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("Dropping corrupt snapshot")
		if rmErr := s.removeIfUnchanged(ctx, examID, raw); rmErr != nil {
			s.log.Error().Err(rmErr).Str("exam_id", examID).Msg("Remove corrupt snapshot failed")
		}
		return nil, ErrNotFound
	}
	return snap, nil
}

func (s *SQLiteStore) Put(ctx context.Context, examID string, snap *model.Snapshot) error {
	raw, err := Encode(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO session_snapshots (exam_id, payload, saved_at) VALUES (?, ?, ?)`,
		examID, raw, snap.SavedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, examID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE exam_id = ?`, examID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT exam_id, payload FROM session_snapshots ORDER BY exam_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var (
		out     []*model.Snapshot
		corrupt = map[string][]byte{}
	)
	for rows.Next() {
		var (
			examID string
			raw    []byte
		)
		if err := rows.Scan(&examID, &raw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap, err := Decode(raw)
		if err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID).Msg("Dropping corrupt snapshot")
			corrupt[examID] = raw
			continue
		}
		out = append(out, snap)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}

	// Deleting while rows is open would deadlock on the single connection.
	for id, raw := range corrupt {
		_ = s.removeIfUnchanged(ctx, id, raw)
	}
	return out, nil
}

// removeIfUnchanged deletes the row only if it still holds raw, so a Put
// racing with the self-heal survives.
func (s *SQLiteStore) removeIfUnchanged(ctx context.Context, examID string, raw []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_snapshots WHERE exam_id = ? AND payload = ?`, examID, raw,
	); err != nil {
		return fmt.Errorf("delete corrupt snapshot: %w", err)
	}
	return nil
}
