package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"QuantGate/internal/domain/models"
	domrepo "QuantGate/internal/domain/repository"
	pkgch "QuantGate/pkg/clickhouse"
	applogger "QuantGate/pkg/logger"
)

const DefaultRunsTable = "backtest_runs"

// RunSchema returns the idempotent DDL of the run history table.
func RunSchema(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            job_id       String,
            strategy_id  String,
            symbol       String,
            resolution   LowCardinality(String),
            success      UInt8,
            completed    UInt8,
            termination  LowCardinality(String),
            final_value  Float64,
            max_drawdown Float64,
            trade_count  UInt32,
            chart_url    String,
            chart_mode   LowCardinality(String),
            error        String,
            started_at   DateTime64(3),
            finished_at  DateTime64(3)
        ) ENGINE = MergeTree
        ORDER BY (finished_at, job_id)
    `, table)}
}

var runColumns = []string{
	"job_id", "strategy_id", "symbol", "resolution", "success", "completed", "termination",
	"final_value", "max_drawdown", "trade_count", "chart_url", "chart_mode", "error",
	"started_at", "finished_at",
}

// CHRunStore implements RunStore backed by ClickHouse.
type CHRunStore struct {
	ch    *pkgch.Client
	db    *sql.DB
	table string
	l     *applogger.Logger
}

// NewCHRunStore creates the history table if needed. The store owns ch.
func NewCHRunStore(ctx context.Context, ch *pkgch.Client, table string, l *applogger.Logger) (domrepo.RunStore, error) {
	if table == "" {
		table = DefaultRunsTable
	}
	if l == nil {
		l = applogger.Nop()
	}
	if err := ch.InitSchema(ctx, RunSchema(table)); err != nil {
		return nil, err
	}
	return &CHRunStore{ch: ch, db: ch.DB(), table: table, l: l}, nil
}

func (s *CHRunStore) Save(ctx context.Context, rec models.RunRecord) error {
	if _, err := s.db.ExecContext(ctx, insertRunQuery(s.table), runArgs(rec)...); err != nil {
		s.l.Error("clickhouse save_run error",
			applogger.String("table", s.table),
			applogger.String("job_id", rec.JobID),
			applogger.Error(err),
		)
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *CHRunStore) Recent(ctx context.Context, limit int) ([]models.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, recentRunsQuery(s.table), limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	out := make([]models.RunRecord, 0, limit)
	for rows.Next() {
		var (
			r                  models.RunRecord
			success, completed uint8
			trades             uint32
			res, term, mode    string
		)
		if err := rows.Scan(&r.JobID, &r.StrategyID, &r.Symbol, &res, &success, &completed, &term,
			&r.FinalValue, &r.MaxDrawdown, &trades, &r.ChartURL, &mode, &r.Error,
			&r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Resolution = models.Resolution(res)
		r.Success = success == 1
		r.Completed = completed == 1
		r.Termination = models.Termination(term)
		r.TradeCount = int(trades)
		r.ChartMode = models.ResolverMode(mode)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHRunStore) Close() error {
	return s.ch.Close()
}

func insertRunQuery(table string) string {
	ph := make([]string, len(runColumns))
	for i := range ph {
		ph[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(runColumns, ", "), strings.Join(ph, ", "))
}

func recentRunsQuery(table string) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY finished_at DESC LIMIT ?", strings.Join(runColumns, ", "), table)
}

func runArgs(r models.RunRecord) []interface{} {
	return []interface{}{
		r.JobID, r.StrategyID, r.Symbol, string(r.Resolution), boolToUInt8(r.Success), boolToUInt8(r.Completed),
		string(r.Termination), r.FinalValue, r.MaxDrawdown, uint32(r.TradeCount), r.ChartURL,
		string(r.ChartMode), r.Error, r.StartedAt, r.FinishedAt,
	}
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
