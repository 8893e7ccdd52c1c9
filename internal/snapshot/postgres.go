package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// PostgresStore keeps snapshots in the session_snapshots table created by
// the migrations under migrations/.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, log zerolog.Logger) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		log:  log.With().Str("component", "snapshot_postgres").Logger(),
	}
}

func (s *PostgresStore) Get(ctx context.Context, examID string) (*model.Snapshot, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM session_snapshots WHERE exam_id = $1`, examID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *PostgresStore) Put(ctx context.Context, examID string, snap *model.Snapshot) error {
	raw, err := Encode(snap)
	if err != nil {
		return err
	}
	// UPSERT: a snapshot always fully replaces the previous one.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO session_snapshots (exam_id, payload, saved_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (exam_id) DO UPDATE
		 SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at`,
		examID, raw, snap.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, examID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM session_snapshots WHERE exam_id = $1`, examID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*model.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT exam_id, payload FROM session_snapshots ORDER BY exam_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}

	for id, raw := range corrupt {
		_ = s.removeIfUnchanged(ctx, id, raw)
	}
	return out, nil
}

// removeIfUnchanged deletes the row only if it still holds raw, so a Put
// racing with the self-heal survives.
func (s *PostgresStore) removeIfUnchanged(ctx context.Context, examID string, raw []byte) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM session_snapshots WHERE exam_id = $1 AND payload = $2`, examID, raw,
	); err != nil {
		return fmt.Errorf("delete corrupt snapshot: %w", err)
	}
	return nil
}
