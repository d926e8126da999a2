package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
)

const notifyFunction = `CREATE OR REPLACE FUNCTION blackswan_notify_change() RETURNS trigger AS $$
BEGIN
  IF TG_OP = 'DELETE' THEN
    PERFORM pg_notify(TG_TABLE_NAME || '_changes', OLD.id);
    RETURN OLD;
  END IF;
  PERFORM pg_notify(TG_TABLE_NAME || '_changes', NEW.id);
  RETURN NEW;
END;
$$ LANGUAGE plpgsql`

// EnsureSchema creates the results table and, when feeds is set, one table per
// upstream source with a trigger that announces every write.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, feeds bool) error {
	stmts := []string{resultsTableDDL(domain.HistoryCollection)}
	if feeds {
		stmts = append(stmts, notifyFunction)
		for _, src := range domain.Sources() {
			stmts = append(stmts, feedTableDDL(src)...)
		}
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func resultsTableDDL(table string) string {
	t := pgx.Identifier{table}.Sanitize()
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  data JSONB NOT NULL,
  score INTEGER NOT NULL,
  certainty INTEGER NOT NULL,
  analyzed_at TIMESTAMPTZ NOT NULL,
  stored_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, t)
}

func feedTableDDL(src domain.Source) []string {
	t := pgx.Identifier{src.Collection}.Sanitize()
	col := pgx.Identifier{src.RecencyField}.Sanitize()
	trigger := pgx.Identifier{src.Collection + "_notify"}.Sanitize()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  data JSONB NOT NULL,
  %s TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, t, col),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s`, trigger, t),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s
  FOR EACH ROW EXECUTE FUNCTION blackswan_notify_change()`, trigger, t),
	}
}
