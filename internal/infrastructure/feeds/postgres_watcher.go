// Package feeds delivers upstream push updates to the feed cache.
package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/infrastructure/storage"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/ports"
)

const (
	defaultBackoff = 2 * time.Second
	maxBackoff     = time.Minute
	closeTimeout   = 5 * time.Second
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresWatcher subscribes to feed tables through LISTEN/NOTIFY. Every
// subscription dials a dedicated connection outside the pool, so listeners
// never compete with result writes for pooled connections.
type PostgresWatcher struct {
	dial    func(ctx context.Context) (*pgx.Conn, error)
	history ports.ResultRepository
	backoff time.Duration
	logger  *slog.Logger
}

var _ ports.FeedSubscriber = (*PostgresWatcher)(nil)

// ListenerConnections is the number of connections a watcher holds open:
// one per source plus the history channel.
func ListenerConnections() int {
	return domain.SourceCount() + 1
}

// NewPostgresWatcher builds a watcher that dials listeners with the pool's
// connection settings. history serves the most recent stored analyses when
// the results channel fires.
func NewPostgresWatcher(pool *pgxpool.Pool, history ports.ResultRepository, logger *slog.Logger) *PostgresWatcher {
	var dial func(context.Context) (*pgx.Conn, error)
	if pool != nil {
		connConfig := pool.Config().ConnConfig
		dial = func(ctx context.Context) (*pgx.Conn, error) {
			return pgx.ConnectConfig(ctx, connConfig.Copy())
		}
	}
	return newWatcher(dial, history, logger)
}

func newWatcher(dial func(context.Context) (*pgx.Conn, error), history ports.ResultRepository, logger *slog.Logger) *PostgresWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresWatcher{
		dial:    dial,
		history: history,
		backoff: defaultBackoff,
		logger:  logger.With("component", "postgres_watcher"),
	}
}

// WithBackoff sets the initial reconnect delay. It doubles up to a minute.
func (w *PostgresWatcher) WithBackoff(d time.Duration) *PostgresWatcher {
	if d > 0 {
		w.backoff = d
	}
	return w
}

// Subscribe delivers the source's latest document now and after every change
// until ctx ends.
func (w *PostgresWatcher) Subscribe(ctx context.Context, src domain.Source, handle ports.DocumentHandler) error {
	channel := storage.ChangeChannel(src.Collection)
	return w.keepListening(ctx, channel,
		func(ctx context.Context, conn *pgx.Conn) error {
			doc, err := loadLatest(ctx, conn, src)
			if err != nil {
				return err
			}
			handle(doc, nil)
			return nil
		},
		func(err error) { handle(nil, err) },
	)
}

// SubscribeHistory delivers the newest limit stored analyses now and after
// every insert until ctx ends.
func (w *PostgresWatcher) SubscribeHistory(ctx context.Context, limit int, handle ports.HistoryHandler) error {
	if w.history == nil {
		return errors.New("history repository not configured")
	}
	channel := storage.ChangeChannel(domain.HistoryCollection)
	return w.keepListening(ctx, channel,
		func(ctx context.Context, _ *pgx.Conn) error {
			rows, err := w.history.Recent(ctx, limit)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			records := make([]domain.AnalysisResult, 0, len(rows))
			for _, r := range rows {
				records = append(records, r.Result)
			}
			handle(records, nil)
			return nil
		},
		func(err error) { handle(nil, err) },
	)
}

// keepListening reconnects after failures, reporting each one, until ctx ends.
func (w *PostgresWatcher) keepListening(
	ctx context.Context,
	channel string,
	reload func(context.Context, *pgx.Conn) error,
	fail func(error),
) error {
	if w.dial == nil {
		return errors.New("postgres connection not configured")
	}
	backoff := w.backoff
	for {
		err := w.listen(ctx, channel, reload)
		if ctx.Err() != nil {
			return nil
		}
		fail(err)
		w.logger.Warn("feed channel failed, reconnecting", "channel", channel, "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (w *PostgresWatcher) listen(ctx context.Context, channel string, reload func(context.Context, *pgx.Conn) error) error {
	conn, err := w.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	if err := reload(ctx, conn); err != nil {
		return err
	}
	w.logger.Debug("listening", "channel", channel)

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait on %s: %w", channel, err)
		}
		if err := reload(ctx, conn); err != nil {
			return err
		}
	}
}

func loadLatest(ctx context.Context, conn *pgx.Conn, src domain.Source) (*domain.SourceDocument, error) {
	query, args, err := latestQuery(src)
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", src.ID, err)
	}

	var (
		id      string
		data    []byte
		recency pgtype.Timestamptz
	)
	err = conn.QueryRow(ctx, query, args...).Scan(&id, &data, &recency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", src.ID, err)
	}
	return decodeDocument(src, id, data, recency)
}

func decodeDocument(src domain.Source, id string, data []byte, recency pgtype.Timestamptz) (*domain.SourceDocument, error) {
	fields := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("decode %s document %s: %w", src.ID, id, err)
		}
	}
	// A JSON null payload carries nothing to analyse.
	if fields == nil {
		return nil, nil
	}
	if recency.Valid {
		fields[src.RecencyField] = recency
	}
	return &domain.SourceDocument{ID: id, Fields: fields}, nil
}

func latestQuery(src domain.Source) (string, []any, error) {
	recency := pgx.Identifier{src.RecencyField}.Sanitize()
	q := psql.Select("id", "data", recency).From(pgx.Identifier{src.Collection}.Sanitize())
	if src.FixedDocID != "" {
		return q.Where(sq.Eq{"id": src.FixedDocID}).ToSql()
	}
	return q.OrderBy(recency + " DESC").Limit(1).ToSql()
}
