package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/bankbridge/bankbridge/internal/domain"
)

// MySQL error 1205: lock wait timeout exceeded.
const mysqlErrLockWait = 1205

// mysqlLockWaitSeconds bounds how long reset statements wait on row locks
// before the engine reports busy.
const mysqlLockWaitSeconds = 2

// MySQL drives the MySQL ledger over database/sql. OUT parameters ride on
// session variables, so every call pins one pooled connection for both the
// CALL and the read-back SELECT.
type MySQL struct {
	db          *sql.DB
	seedBalance int64
	log         *zap.Logger
}

// NewMySQL opens a MySQL pool and verifies connectivity.
func NewMySQL(dsn string, seedBalance int64, log *zap.Logger) (*MySQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &MySQL{db: db, seedBalance: seedBalance, log: log}, nil
}

func (m *MySQL) Name() domain.Engine { return domain.EngineMySQL }

// CallProcedure runs CALL name(?, ..., @o0, ...) and reads the session
// variables back on the same connection.
func (m *MySQL) CallProcedure(ctx context.Context, call ProcCall) (map[string]any, error) {
	if err := ValidateProcName(call.Name); err != nil {
		return nil, err
	}
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("mysql conn: %w", err)
	}
	defer conn.Close()

	callText, selectText := mysqlCallText(call.Name, len(call.Args), call.OutCount)
	if _, err := conn.ExecContext(ctx, callText, call.Args...); err != nil {
		return nil, m.wrap("call "+call.Name, err)
	}
	if call.OutCount == 0 {
		return map[string]any{}, nil
	}

	dests := make([]any, call.OutCount)
	for i := range dests {
		dests[i] = new(any)
	}
	if err := conn.QueryRowContext(ctx, selectText).Scan(dests...); err != nil {
		return nil, fmt.Errorf("mysql read out params: %w", err)
	}
	out := make(map[string]any, call.OutCount)
	for i, name := range outNamesOrIndexed(call.OutNames, call.OutCount) {
		out[name] = normalizeSQLValue(*dests[i].(*any))
	}
	return out, nil
}

// mysqlCallText builds the CALL statement and the SELECT that reads the
// session variables back.
func mysqlCallText(name string, argCount, outCount int) (string, string) {
	parts := make([]string, 0, argCount+outCount)
	for i := 0; i < argCount; i++ {
		parts = append(parts, "?")
	}
	outVars := make([]string, 0, outCount)
	for i := 0; i < outCount; i++ {
		v := fmt.Sprintf("@o%d", i)
		parts = append(parts, v)
		outVars = append(outVars, v)
	}
	callText := fmt.Sprintf("CALL %s(%s)", name, strings.Join(parts, ", "))
	if outCount == 0 {
		return callText, ""
	}
	return callText, "SELECT " + strings.Join(outVars, ", ")
}

// Reset clears transactional state and restores every account to the seed
// balance, waiting at most mysqlLockWaitSeconds on any row lock.
func (m *MySQL) Reset(ctx context.Context) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("mysql conn: %w", err)
	}
	defer conn.Close()

	timeout := fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", mysqlLockWaitSeconds)
	if _, err := conn.ExecContext(ctx, timeout); err != nil {
		return m.wrap("reset", err)
	}
	for _, table := range []string{"ledger_entries", "holds", "transactions"} {
		if _, err := conn.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return m.wrap("reset "+table, err)
		}
	}
	if _, err := conn.ExecContext(ctx,
		"UPDATE accounts SET balance = ?, hold_amount = 0", m.seedBalance); err != nil {
		return m.wrap("reset accounts", err)
	}
	return nil
}

// Seed creates the account population once. A populated table is left
// alone.
func (m *MySQL) Seed(ctx context.Context, accounts int) error {
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count); err != nil {
		return fmt.Errorf("mysql count accounts: %w", err)
	}
	if count > 0 {
		m.log.Info("mysql accounts already seeded", zap.Int("count", count))
		return nil
	}

	const batchSize = 200
	for start := 1; start <= accounts; start += batchSize {
		end := min(start+batchSize-1, accounts)
		var sb strings.Builder
		sb.WriteString("INSERT INTO accounts (account_id, balance, hold_amount) VALUES ")
		args := make([]any, 0, (end-start+1)*2)
		for n := start; n <= end; n++ {
			if n > start {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, 0)")
			args = append(args, domain.AccountNumber(domain.EngineMySQL, n), m.seedBalance)
		}
		if _, err := m.db.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("mysql seed accounts: %w", err)
		}
	}
	m.log.Info("mysql accounts seeded", zap.Int("count", accounts))
	return nil
}

func (m *MySQL) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MySQL) Close() {
	if err := m.db.Close(); err != nil {
		m.log.Warn("mysql close", zap.Error(err))
	}
}

func (m *MySQL) wrap(op string, err error) error {
	if mysqlBusy(err) {
		return fmt.Errorf("%w: %v", domain.ErrEngineBusy, err)
	}
	return fmt.Errorf("mysql %s: %w", op, err)
}

// mysqlBusy reports whether err is a lock wait timeout.
func mysqlBusy(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlErrLockWait
}
