package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/bankbridge/bankbridge/internal/domain"
)

// SQLSTATE 55P03: lock_not_available, raised when lock_timeout expires.
const pgLockNotAvailable = "55P03"

// Postgres drives the PostgreSQL ledger over a pgx pool. The procedures
// here are stored functions returning a result row, so calls run as
// SELECT * FROM name(...) and the row is keyed by column name.
type Postgres struct {
	pool        *pgxpool.Pool
	seedBalance int64
	log         *zap.Logger
}

// NewPostgres builds a pgx pool and verifies connectivity.
func NewPostgres(ctx context.Context, dsn string, seedBalance int64, log *zap.Logger) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool, seedBalance: seedBalance, log: log}, nil
}

func (p *Postgres) Name() domain.Engine { return domain.EnginePostgres }

// CallProcedure executes a stored function (mode "func") or a plain
// procedure. Functions return their result row keyed by column name.
func (p *Postgres) CallProcedure(ctx context.Context, call ProcCall) (map[string]any, error) {
	if err := ValidateProcName(call.Name); err != nil {
		return nil, err
	}
	if call.Mode != ModeFunc {
		if _, err := p.pool.Exec(ctx, postgresCallText(call.Name, len(call.Args)), call.Args...); err != nil {
			return nil, p.wrap("call "+call.Name, err)
		}
		return map[string]any{"status": "ok"}, nil
	}

	rows, err := p.pool.Query(ctx, postgresSelectText(call.Name, len(call.Args)), call.Args...)
	if err != nil {
		return nil, p.wrap("call "+call.Name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, p.wrap("call "+call.Name, err)
		}
		return nil, fmt.Errorf("postgres function %s returned no rows", call.Name)
	}
	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("postgres read row: %w", err)
	}
	fields := rows.FieldDescriptions()
	out := make(map[string]any, len(values))
	for i, fd := range fields {
		out[fd.Name] = normalizeSQLValue(values[i])
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, p.wrap("call "+call.Name, err)
	}
	return out, nil
}

func postgresSelectText(name string, argCount int) string {
	return fmt.Sprintf("SELECT * FROM %s(%s)", name, postgresBinds(argCount))
}

func postgresCallText(name string, argCount int) string {
	return fmt.Sprintf("CALL %s(%s)", name, postgresBinds(argCount))
}

func postgresBinds(argCount int) string {
	binds := make([]string, argCount)
	for i := range binds {
		binds[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(binds, ", ")
}

// Reset truncates transactional state and restores seed balances in one
// transaction under a short lock_timeout.
func (p *Postgres) Reset(ctx context.Context) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres begin reset: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET LOCAL lock_timeout = '2s'"); err != nil {
		return p.wrap("reset", err)
	}
	if _, err := tx.Exec(ctx,
		"TRUNCATE TABLE transactions, holds, ledger_entries RESTART IDENTITY"); err != nil {
		return p.wrap("reset", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE accounts SET balance = $1, hold_amount = 0", p.seedBalance); err != nil {
		return p.wrap("reset accounts", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres commit reset: %w", err)
	}
	return nil
}

// Seed creates the account population once, streamed in with COPY.
func (p *Postgres) Seed(ctx context.Context, accounts int) error {
	var count int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count); err != nil {
		return fmt.Errorf("postgres count accounts: %w", err)
	}
	if count > 0 {
		p.log.Info("postgres accounts already seeded", zap.Int("count", count))
		return nil
	}

	rows := make([][]any, 0, accounts)
	for n := 1; n <= accounts; n++ {
		rows = append(rows, []any{domain.AccountNumber(domain.EnginePostgres, n), p.seedBalance, 0})
	}
	copied, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{"accounts"},
		[]string{"account_id", "balance", "hold_amount"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("postgres seed accounts: %w", err)
	}
	p.log.Info("postgres accounts seeded", zap.Int64("count", copied))
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) wrap(op string, err error) error {
	if postgresBusy(err) {
		return fmt.Errorf("%w: %v", domain.ErrEngineBusy, err)
	}
	return fmt.Errorf("postgres %s: %w", op, err)
}

// postgresBusy reports whether err carries SQLSTATE 55P03.
func postgresBusy(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable
}
