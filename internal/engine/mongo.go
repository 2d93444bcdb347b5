package engine

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/bankbridge/bankbridge/internal/domain"
	"github.com/bankbridge/bankbridge/internal/mongoproc"
)

// Mongo wraps the document store so the registry can ping and reset it
// uniformly. There is no stored-procedure surface here; the procedure
// layer is mongoproc, reached over /mongo_proc.
type Mongo struct {
	client *mongo.Client
	procs  *mongoproc.Service
	log    *zap.Logger
}

func NewMongo(client *mongo.Client, procs *mongoproc.Service, log *zap.Logger) *Mongo {
	return &Mongo{client: client, procs: procs, log: log}
}

func (m *Mongo) Name() domain.Engine { return domain.EngineMongo }

func (m *Mongo) CallProcedure(ctx context.Context, call ProcCall) (map[string]any, error) {
	return nil, fmt.Errorf("%w: %s", domain.ErrProcedureUnsupported, call.Name)
}

func (m *Mongo) Reset(ctx context.Context) error {
	return m.procs.Reset(ctx)
}

// Seed creates the account population once.
func (m *Mongo) Seed(ctx context.Context, accounts int) error {
	return m.procs.SeedAccounts(ctx, accounts)
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *Mongo) Close() {
	if err := m.client.Disconnect(context.Background()); err != nil {
		m.log.Warn("mongo disconnect", zap.Error(err))
	}
}
