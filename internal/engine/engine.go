// Package engine adapts the four backing ledger engines to one procedure
// surface. The three SQL engines execute real stored procedures; the
// document store has no procedure language, so its adapter only pings and
// resets while the procedure layer lives in mongoproc.
package engine

import (
	"context"
	"fmt"
	"regexp"

	"github.com/bankbridge/bankbridge/internal/domain"
)

// Call modes. Functions return a result row; procedures return OUT
// parameters (or nothing).
const (
	ModeProc = "proc"
	ModeFunc = "func"
)

// ProcCall describes one stored-procedure invocation. Args hold the
// positional arguments; for Oracle the wire protocol pads them with
// placeholders so the last OutCount positions carry the OUT binds, typed
// by the OutTypes hints.
type ProcCall struct {
	Name     string
	Args     []any
	OutCount int
	OutNames []string
	OutTypes []string
	Mode     string
}

// Engine is the uniform surface over one backing ledger engine.
type Engine interface {
	Name() domain.Engine

	// CallProcedure executes one stored procedure and returns the OUT
	// values keyed by their names.
	CallProcedure(ctx context.Context, call ProcCall) (map[string]any, error)

	// Reset clears transactional state and restores seed balances. A lock
	// wait timeout surfaces as domain.ErrEngineBusy; callers report it and
	// never retry.
	Reset(ctx context.Context) error

	Ping(ctx context.Context) error
	Close()
}

// Registry holds the engines enabled on this deployment.
type Registry struct {
	engines map[domain.Engine]Engine
}

func NewRegistry() *Registry {
	return &Registry{engines: make(map[domain.Engine]Engine)}
}

func (r *Registry) Register(e Engine) {
	r.engines[e.Name()] = e
}

// Get returns the adapter for name, or an error when the engine is not
// enabled here.
func (r *Registry) Get(name domain.Engine) (Engine, error) {
	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("engine %q is not enabled", name)
	}
	return e, nil
}

// All returns the enabled engines in bank-code order.
func (r *Registry) All() []Engine {
	out := make([]Engine, 0, len(r.engines))
	for _, name := range domain.AllEngines() {
		if e, ok := r.engines[name]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Names returns the enabled engine names in bank-code order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.engines))
	for _, e := range r.All() {
		out = append(out, string(e.Name()))
	}
	return out
}

// Close closes every registered engine.
func (r *Registry) Close() {
	for _, e := range r.All() {
		e.Close()
	}
}

var procNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateProcName rejects anything that could not be a plain procedure
// identifier before it is spliced into a CALL statement.
func ValidateProcName(name string) error {
	if !procNamePattern.MatchString(name) {
		return fmt.Errorf("invalid procedure name %q", name)
	}
	return nil
}
