package engine

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	go_ora "github.com/sijms/go-ora/v2"
	"go.uber.org/zap"

	"github.com/bankbridge/bankbridge/internal/domain"
)

// oracleLockWaitSeconds bounds the LOCK TABLE ... WAIT used by reset.
const oracleLockWaitSeconds = 2

// Oracle drives the Oracle ledger through go-ora. Procedures run as
// anonymous PL/SQL blocks; the wire protocol pads Args with placeholders
// for the OUT positions, which are rebound here as typed OUT parameters
// per the out_types hints.
type Oracle struct {
	db          *sql.DB
	seedBalance int64
	log         *zap.Logger
}

// NewOracle opens an Oracle pool and verifies connectivity.
func NewOracle(dsn string, seedBalance int64, log *zap.Logger) (*Oracle, error) {
	db, err := sql.Open("oracle", dsn)
	if err != nil {
		return nil, fmt.Errorf("open oracle: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping oracle: %w", err)
	}
	return &Oracle{db: db, seedBalance: seedBalance, log: log}, nil
}

func (o *Oracle) Name() domain.Engine { return domain.EngineOracle }

// oracleOut receives one OUT position. Which field is live depends on the
// type hint.
type oracleOut struct {
	hint string
	str  string
	num  float64
	date time.Time
}

func (d *oracleOut) value() any {
	switch {
	case strings.HasPrefix(d.hint, "VARCHAR"):
		return d.str
	case d.hint == "DATE" || strings.HasPrefix(d.hint, "TIMESTAMP"):
		return d.date
	default:
		if d.num == math.Trunc(d.num) {
			return int64(d.num)
		}
		return d.num
	}
}

// CallProcedure executes BEGIN name(:1, ...); END; with the last OutCount
// positions bound as OUT parameters.
func (o *Oracle) CallProcedure(ctx context.Context, call ProcCall) (map[string]any, error) {
	if err := ValidateProcName(call.Name); err != nil {
		return nil, err
	}
	total := len(call.Args)
	if call.OutCount > total {
		return nil, fmt.Errorf("out_count %d exceeds argument count %d", call.OutCount, total)
	}
	inCount := total - call.OutCount

	params := make([]any, 0, total)
	params = append(params, call.Args[:inCount]...)
	outs := make([]*oracleOut, call.OutCount)
	for i := 0; i < call.OutCount; i++ {
		hint := ""
		if i < len(call.OutTypes) {
			hint = strings.ToUpper(call.OutTypes[i])
		}
		dest := &oracleOut{hint: hint}
		outs[i] = dest
		switch {
		case strings.HasPrefix(hint, "VARCHAR"):
			params = append(params, go_ora.Out{Dest: &dest.str, Size: 256})
		case hint == "DATE" || strings.HasPrefix(hint, "TIMESTAMP"):
			params = append(params, go_ora.Out{Dest: &dest.date})
		default:
			params = append(params, go_ora.Out{Dest: &dest.num})
		}
	}

	if _, err := o.db.ExecContext(ctx, oracleBlockText(call.Name, total), params...); err != nil {
		return nil, o.wrap("call "+call.Name, err)
	}

	values := make([]any, call.OutCount)
	for i, d := range outs {
		values[i] = d.value()
	}
	out := make(map[string]any, call.OutCount+1)
	for i, name := range outNamesOrIndexed(call.OutNames, call.OutCount) {
		out[name] = values[i]
	}
	all := make([]any, 0, total)
	all = append(all, call.Args[:inCount]...)
	all = append(all, values...)
	out["all"] = all
	return out, nil
}

// oracleBlockText builds the anonymous block wrapping one procedure call.
func oracleBlockText(name string, argCount int) string {
	binds := make([]string, argCount)
	for i := range binds {
		binds[i] = fmt.Sprintf(":%d", i+1)
	}
	return fmt.Sprintf("BEGIN %s(%s); END;", name, strings.Join(binds, ", "))
}

// Reset clears transactional state and restores seed balances inside one
// transaction. The table lock is acquired with a bounded WAIT so a busy
// engine answers ORA-30006 instead of blocking.
func (o *Oracle) Reset(ctx context.Context) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("oracle begin reset: %w", err)
	}
	defer tx.Rollback()

	lock := fmt.Sprintf("LOCK TABLE accounts IN EXCLUSIVE MODE WAIT %d", oracleLockWaitSeconds)
	if _, err := tx.ExecContext(ctx, lock); err != nil {
		return o.wrap("reset lock", err)
	}
	for _, table := range []string{"ledger_entries", "holds", "transactions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return o.wrap("reset "+table, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE accounts SET balance = :1, hold_amount = 0", o.seedBalance); err != nil {
		return o.wrap("reset accounts", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("oracle commit reset: %w", err)
	}
	return nil
}

// Seed creates the account population once.
func (o *Oracle) Seed(ctx context.Context, accounts int) error {
	var count int
	if err := o.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count); err != nil {
		return fmt.Errorf("oracle count accounts: %w", err)
	}
	if count > 0 {
		o.log.Info("oracle accounts already seeded", zap.Int("count", count))
		return nil
	}

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("oracle begin seed: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO accounts (account_id, balance, hold_amount) VALUES (:1, :2, 0)")
	if err != nil {
		return fmt.Errorf("oracle prepare seed: %w", err)
	}
	defer stmt.Close()

	for n := 1; n <= accounts; n++ {
		if _, err := stmt.ExecContext(ctx, domain.AccountNumber(domain.EngineOracle, n), o.seedBalance); err != nil {
			return fmt.Errorf("oracle seed account %d: %w", n, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("oracle commit seed: %w", err)
	}
	o.log.Info("oracle accounts seeded", zap.Int("count", accounts))
	return nil
}

func (o *Oracle) Ping(ctx context.Context) error {
	return o.db.PingContext(ctx)
}

func (o *Oracle) Close() {
	if err := o.db.Close(); err != nil {
		o.log.Warn("oracle close", zap.Error(err))
	}
}

func (o *Oracle) wrap(op string, err error) error {
	if oracleBusy(err) {
		return fmt.Errorf("%w: %v", domain.ErrEngineBusy, err)
	}
	return fmt.Errorf("oracle %s: %w", op, err)
}

// oracleBusy reports whether err is a resource-busy condition: ORA-00054
// (NOWAIT) or ORA-30006 (WAIT timeout expired). go-ora wraps server errors
// in several layers, so the codes are matched textually.
func oracleBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "ORA-00054") || strings.Contains(msg, "ORA-30006")
}
