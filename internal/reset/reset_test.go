package reset

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bankbridge/bankbridge/internal/domain"
	"github.com/bankbridge/bankbridge/internal/engine"
)

type fakeEngine struct {
	name     domain.Engine
	resetErr error
	resets   int
}

func (f *fakeEngine) Name() domain.Engine { return f.name }
func (f *fakeEngine) CallProcedure(ctx context.Context, call engine.ProcCall) (map[string]any, error) {
	return nil, nil
}
func (f *fakeEngine) Reset(ctx context.Context) error { f.resets++; return f.resetErr }
func (f *fakeEngine) Ping(ctx context.Context) error  { return nil }
func (f *fakeEngine) Close()                          {}

func stoppedGate() bool { return false }

func TestResetAllEngines(t *testing.T) {
	mysql := &fakeEngine{name: domain.EngineMySQL}
	postgres := &fakeEngine{name: domain.EnginePostgres}
	reg := engine.NewRegistry()
	reg.Register(mysql)
	reg.Register(postgres)

	c := NewCoordinator(reg, stoppedGate, zap.NewNop())
	out, err := c.Reset(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"mysql": "ok", "postgres": "ok"}, out)
	assert.Equal(t, 1, mysql.resets)
	assert.Equal(t, 1, postgres.resets)
}

func TestResetReportsBusyEngine(t *testing.T) {
	mysql := &fakeEngine{
		name:     domain.EngineMySQL,
		resetErr: fmt.Errorf("reset: %w", domain.ErrEngineBusy),
	}
	oracle := &fakeEngine{name: domain.EngineOracle}
	reg := engine.NewRegistry()
	reg.Register(mysql)
	reg.Register(oracle)

	c := NewCoordinator(reg, stoppedGate, zap.NewNop())
	out, err := c.Reset(context.Background())
	require.NoError(t, err)

	// The busy engine is skipped, the rest still reset.
	assert.Equal(t, "busy", out["mysql"])
	assert.Equal(t, "ok", out["oracle"])
	assert.Equal(t, 1, oracle.resets)
}

func TestResetReportsFailureText(t *testing.T) {
	oracle := &fakeEngine{
		name:     domain.EngineOracle,
		resetErr: errors.New("ORA-00942: table or view does not exist"),
	}
	reg := engine.NewRegistry()
	reg.Register(oracle)

	c := NewCoordinator(reg, stoppedGate, zap.NewNop())
	out, err := c.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "error: ORA-00942: table or view does not exist", out["oracle"])
}

func TestResetRefusedWhileGeneratorRuns(t *testing.T) {
	mysql := &fakeEngine{name: domain.EngineMySQL}
	reg := engine.NewRegistry()
	reg.Register(mysql)

	c := NewCoordinator(reg, func() bool { return true }, zap.NewNop())
	out, err := c.Reset(context.Background())
	assert.ErrorIs(t, err, ErrGeneratorRunning)
	assert.Nil(t, out)
	assert.Zero(t, mysql.resets)
}
