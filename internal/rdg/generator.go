// Package rdg is the random data generator: a rate-controlled synthetic
// load driver that draws transfer requests over the active engines and
// pushes them through the transfer pipeline.
package rdg

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bankbridge/bankbridge/internal/domain"
)

// accountRange is the per-engine account span written by the seeder;
// generated account numbers stay inside it.
const accountRange = 795

// Config is the settings for one generator run.
type Config struct {
	BaseURL     string          `json:"base_url"`
	RPS         int             `json:"rps"`
	Concurrent  int             `json:"concurrent"`
	Engines     []domain.Engine `json:"active_dbms"`
	MinAmount   int64           `json:"min_amount"`
	MaxAmount   int64           `json:"max_amount"`
	AllowSameDB bool            `json:"allow_same_db"`
}

func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.RPS <= 0 {
		return fmt.Errorf("rps must be positive, got %d", c.RPS)
	}
	if c.Concurrent <= 0 {
		return fmt.Errorf("concurrent must be positive, got %d", c.Concurrent)
	}
	if len(c.Engines) == 0 {
		return fmt.Errorf("active_dbms must name at least one engine")
	}
	for _, e := range c.Engines {
		if !e.Valid() {
			return fmt.Errorf("%w: %q", domain.ErrUnknownEngine, string(e))
		}
	}
	if c.MinAmount < 1 {
		return fmt.Errorf("min_amount must be positive, got %d", c.MinAmount)
	}
	if c.MaxAmount < c.MinAmount {
		return fmt.Errorf("max_amount %d is below min_amount %d", c.MaxAmount, c.MinAmount)
	}
	if !c.AllowSameDB && len(c.Engines) < 2 {
		return fmt.Errorf("allow_same_db=false needs at least two active engines")
	}
	return nil
}

// generator draws random transfer requests. Safe for concurrent use.
type generator struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

func newGenerator(cfg Config) *generator {
	return &generator{cfg: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Next synthesizes one transfer: source and destination engines drawn from
// the active set, account numbers inside the seeded range, and an
// idempotency key prefixed with the engine pair ("mp-" for mongo to
// postgres) so logs stay greppable by route.
func (g *generator) Next() domain.TransferRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	src := g.cfg.Engines[g.rng.Intn(len(g.cfg.Engines))]
	var dst domain.Engine
	if g.cfg.AllowSameDB {
		dst = g.cfg.Engines[g.rng.Intn(len(g.cfg.Engines))]
	} else {
		others := make([]domain.Engine, 0, len(g.cfg.Engines)-1)
		for _, e := range g.cfg.Engines {
			if e != src {
				others = append(others, e)
			}
		}
		dst = others[g.rng.Intn(len(others))]
	}

	srcAccount := g.account(src)
	dstAccount := g.account(dst)
	// Self-transfers can only collide inside one engine.
	for src == dst && dstAccount == srcAccount {
		dstAccount = g.account(dst)
	}

	amount := g.cfg.MinAmount + g.rng.Int63n(g.cfg.MaxAmount-g.cfg.MinAmount+1)

	return domain.TransferRequest{
		SrcAccountID:   srcAccount,
		DstAccountID:   dstAccount,
		Amount:         amount,
		IdempotencyKey: string(src[0]) + string(dst[0]) + "-" + uuid.NewString(),
	}
}

func (g *generator) account(eng domain.Engine) int64 {
	return domain.AccountNumber(eng, 1+g.rng.Intn(accountRange))
}
