// Package reset restores every engine to its seeded baseline: transaction,
// hold, and ledger tables truncated, account balances rewound.
package reset

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/bankbridge/bankbridge/internal/domain"
	"github.com/bankbridge/bankbridge/internal/engine"
)

// ErrGeneratorRunning is returned verbatim to callers; a reset under live
// load would race the generator's own writes.
var ErrGeneratorRunning = errors.New("Cannot reset while RDG is running")

// Coordinator resets engines independently: one busy or broken engine does
// not stop the others, it just shows up in the outcome map.
type Coordinator struct {
	registry *engine.Registry
	gate     func() bool
	log      *zap.Logger
}

// NewCoordinator wires the registry and the generator gate. gate reports
// whether the load generator is currently active.
func NewCoordinator(registry *engine.Registry, gate func() bool, log *zap.Logger) *Coordinator {
	return &Coordinator{registry: registry, gate: gate, log: log}
}

// Reset wipes every registered engine and reports the per-engine outcome:
// "ok", "busy" when the engine refused its lock within the timeout, or the
// error text. Busy engines are not retried.
func (c *Coordinator) Reset(ctx context.Context) (map[string]string, error) {
	if c.gate != nil && c.gate() {
		return nil, ErrGeneratorRunning
	}

	out := make(map[string]string)
	for _, eng := range c.registry.All() {
		name := string(eng.Name())
		err := eng.Reset(ctx)
		switch {
		case err == nil:
			out[name] = "ok"
			c.log.Info("engine reset", zap.String("engine", name))
		case errors.Is(err, domain.ErrEngineBusy):
			out[name] = "busy"
			c.log.Warn("engine busy, reset skipped",
				zap.String("engine", name), zap.Error(err))
		default:
			out[name] = "error: " + err.Error()
			c.log.Error("engine reset failed",
				zap.String("engine", name), zap.Error(err))
		}
	}
	return out, nil
}
