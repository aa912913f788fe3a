package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicate     = errors.New("duplicate record")
	ErrInvalidFilter = errors.New("invalid filter parameters")
)

// Repository defines the interface for snapshot persistence
type Repository interface {
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
	// LatestSnapshot returns the most recently completed snapshot of a quest
	LatestSnapshot(ctx context.Context, quest string) (*Snapshot, error)
	// ListSnapshots returns a quest's snapshots, newest first. A limit of
	// zero returns all of them.
	ListSnapshots(ctx context.Context, quest string, limit int) ([]*Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

const snapshotColumns = `
	id, run_id, quest, method, partition_mode, posts, voters,
	entries, rankings, flagged, hash, started_at, completed_at, created_at`

// PostgresRepository implements Repository interface using PostgreSQL
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRepository creates a repository over an open pool
func NewPostgresRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{
		pool:   pool,
		logger: logger,
	}
}

// SaveSnapshot persists a snapshot
func (r *PostgresRepository) SaveSnapshot(ctx context.Context, s *Snapshot) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("validating snapshot: %w", err)
	}

	query := `INSERT INTO tally_snapshots (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.RunID, s.Quest, s.Method, s.PartitionMode, s.Posts, s.Voters,
		s.Entries, s.Rankings, s.Flagged, s.Hash, s.StartedAt, s.CompletedAt, s.CreatedAt,
	)
	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting snapshot: %w", err)
	}

	r.logger.Debug("Saved snapshot",
		zap.String("id", s.ID),
		zap.String("quest", s.Quest),
		zap.Int("entries", len(s.Entries)))
	return nil
}

// GetSnapshot retrieves a snapshot by ID
func (r *PostgresRepository) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM tally_snapshots WHERE id = $1`
	return r.querySnapshot(ctx, query, id)
}

// LatestSnapshot retrieves the newest snapshot for a quest
func (r *PostgresRepository) LatestSnapshot(ctx context.Context, quest string) (*Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM tally_snapshots
		WHERE quest = $1
		ORDER BY completed_at DESC, created_at DESC
		LIMIT 1`
	return r.querySnapshot(ctx, query, quest)
}

// ListSnapshots retrieves a quest's snapshots, newest first
func (r *PostgresRepository) ListSnapshots(ctx context.Context, quest string, limit int) ([]*Snapshot, error) {
	if limit < 0 {
		return nil, ErrInvalidFilter
	}

	query := `SELECT ` + snapshotColumns + ` FROM tally_snapshots
		WHERE quest = $1
		ORDER BY completed_at DESC, created_at DESC`
	args := []any{quest}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot list: %w", err)
	}

	snapshots, err := pgx.CollectRows(rows, scanSnapshot)
	if err != nil {
		return nil, fmt.Errorf("scanning snapshot rows: %w", err)
	}
	return snapshots, nil
}

// DeleteSnapshot removes a snapshot
func (r *PostgresRepository) DeleteSnapshot(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM tally_snapshots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *PostgresRepository) querySnapshot(ctx context.Context, query string, arg any) (*Snapshot, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}

	s, err := pgx.CollectOneRow(rows, scanSnapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning snapshot: %w", err)
	}
	return s, nil
}

func scanSnapshot(row pgx.CollectableRow) (*Snapshot, error) {
	s := &Snapshot{}
	err := row.Scan(
		&s.ID, &s.RunID, &s.Quest, &s.Method, &s.PartitionMode, &s.Posts, &s.Voters,
		&s.Entries, &s.Rankings, &s.Flagged, &s.Hash, &s.StartedAt, &s.CompletedAt, &s.CreatedAt,
	)
	return s, err
}

// Helper function to check for PostgreSQL duplicate key errors
func isPgDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
}
