package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/ports"
)

// ChangeChannel returns the LISTEN/NOTIFY channel a table announces writes on.
func ChangeChannel(table string) string {
	return table + "_changes"
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresRepository persists analysis results into Postgres and announces
// each insert on the history change channel.
type PostgresRepository struct {
	pool  *pgxpool.Pool
	table string
}

var _ ports.ResultRepository = (*PostgresRepository)(nil)

// NewPostgresRepository wires a pgx pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, table: domain.HistoryCollection}
}

// DefaultMaxConns sizes the results pool when the DSN does not set
// pool_max_conns. Feed listeners dial their own connections and do not count
// against it.
const DefaultMaxConns int32 = 8

// PoolConfig parses databaseURL and applies the pool limits.
func PoolConfig(databaseURL string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if !strings.Contains(databaseURL, "pool_max_conns") {
		cfg.MaxConns = DefaultMaxConns
	}
	return cfg, nil
}

// Connect opens and pings a pool.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := PoolConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Insert stores result under id.
func (r *PostgresRepository) Insert(ctx context.Context, id string, result domain.AnalysisResult) error {
	if r.pool == nil {
		return errors.New("postgres pool not configured")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}

	query, args, err := insertQuery(r.table, id, payload, result)
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", ChangeChannel(r.table), id); err != nil {
		return fmt.Errorf("notify analysis: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit analysis: %w", err)
	}
	return nil
}

// Latest returns the newest result or nil.
func (r *PostgresRepository) Latest(ctx context.Context) (*domain.StoredResult, error) {
	rows, err := r.Recent(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Recent returns up to limit results, newest first.
func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]domain.StoredResult, error) {
	if r.pool == nil {
		return nil, errors.New("postgres pool not configured")
	}
	query, args, err := recentQuery(r.table, limit)
	if err != nil {
		return nil, fmt.Errorf("build recent: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	result := make([]domain.StoredResult, 0, limit)
	for rows.Next() {
		stored, err := scanStored(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

// ByID returns one result or nil.
func (r *PostgresRepository) ByID(ctx context.Context, id string) (*domain.StoredResult, error) {
	if r.pool == nil {
		return nil, errors.New("postgres pool not configured")
	}
	query, args, err := byIDQuery(r.table, id)
	if err != nil {
		return nil, fmt.Errorf("build by id: %w", err)
	}

	stored, err := scanStored(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func scanStored(row pgx.Row) (domain.StoredResult, error) {
	var (
		id   string
		data []byte
	)
	if err := row.Scan(&id, &data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StoredResult{}, err
		}
		return domain.StoredResult{}, fmt.Errorf("scan analysis: %w", err)
	}
	var result domain.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return domain.StoredResult{}, fmt.Errorf("decode analysis %s: %w", id, err)
	}
	return domain.StoredResult{ID: id, Result: result}, nil
}

func insertQuery(table, id string, payload []byte, result domain.AnalysisResult) (string, []any, error) {
	return psql.Insert(table).
		Columns("id", "data", "score", "certainty", "analyzed_at").
		Values(id, payload, result.Score, result.Certainty, result.Timestamp).
		ToSql()
}

func recentQuery(table string, limit int) (string, []any, error) {
	return psql.Select("id", "data").
		From(table).
		OrderBy("analyzed_at DESC").
		Limit(uint64(limit)).
		ToSql()
}

func byIDQuery(table, id string) (string, []any, error) {
	return psql.Select("id", "data").
		From(table).
		Where(sq.Eq{"id": id}).
		ToSql()
}
