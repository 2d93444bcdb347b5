// Package mongoproc is the stored-procedure surface of the document store.
// The engine has no multi-document transactions here; every procedure is a
// sequence of single-document conditional updates plus idempotent inserts
// keyed by unique indexes, so a replayed call converges on the same state
// instead of double-applying.
package mongoproc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/bankbridge/bankbridge/internal/domain"
)

// Collection names.
const (
	colAccounts = "accounts"
	colTxns     = "transactions"
	colHolds    = "holds"
	colLedger   = "ledger_entries"
)

// Result is what every procedure hands back to the HTTP layer. Business
// outcomes travel in Status and Result; errors are reserved for
// infrastructure failures.
type Result struct {
	TxnID  string `json:"txn_id,omitempty"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
}

// Service runs the document-store procedures against one database.
type Service struct {
	db          *mongo.Database
	accounts    *mongo.Collection
	txns        *mongo.Collection
	holds       *mongo.Collection
	ledger      *mongo.Collection
	seedBalance int64
	log         *zap.Logger
}

// New binds a procedure service to db. The seed balance is what Reset
// restores every account to.
func New(db *mongo.Database, seedBalance int64, log *zap.Logger) *Service {
	return &Service{
		db:          db,
		accounts:    db.Collection(colAccounts),
		txns:        db.Collection(colTxns),
		holds:       db.Collection(colHolds),
		ledger:      db.Collection(colLedger),
		seedBalance: seedBalance,
		log:         log,
	}
}

// EnsureIndexes creates the unique indexes the procedures rely on for
// idempotency. Safe to call repeatedly.
func (s *Service) EnsureIndexes(ctx context.Context) error {
	_, err := s.txns.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uq_txn_idempotency_key"),
	})
	if err != nil {
		return fmt.Errorf("transactions index: %w", err)
	}
	_, err = s.holds.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uq_hold_idempotency_key"),
	})
	if err != nil {
		return fmt.Errorf("holds index: %w", err)
	}
	_, err = s.ledger.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "txn_id", Value: 1},
			{Key: "account_id", Value: 1},
			{Key: "amount", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("uq_ledger_leg"),
	})
	if err != nil {
		return fmt.Errorf("ledger index: %w", err)
	}
	return nil
}

// Reset clears transactional state and restores every account to the seed
// balance with no outstanding holds.
func (s *Service) Reset(ctx context.Context) error {
	for _, col := range []*mongo.Collection{s.ledger, s.holds, s.txns} {
		if _, err := col.DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("clear %s: %w", col.Name(), err)
		}
	}
	balance, err := toDecimal128(decimal.NewFromInt(s.seedBalance))
	if err != nil {
		return err
	}
	_, err = s.accounts.UpdateMany(ctx, bson.M{}, bson.M{
		"$set": bson.M{"balance": balance, "hold_amount": decimal128Zero},
	})
	if err != nil {
		return fmt.Errorf("restore accounts: %w", err)
	}
	return nil
}

// SeedAccounts creates the account population once. An already populated
// collection is left alone.
func (s *Service) SeedAccounts(ctx context.Context, accounts int) error {
	count, err := s.accounts.EstimatedDocumentCount(ctx)
	if err != nil {
		return fmt.Errorf("count accounts: %w", err)
	}
	if count > 0 {
		s.log.Info("mongo accounts already seeded", zap.Int64("count", count))
		return nil
	}
	balance, err := toDecimal128(decimal.NewFromInt(s.seedBalance))
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	docs := make([]any, 0, accounts)
	for n := 1; n <= accounts; n++ {
		docs = append(docs, bson.M{
			"_id":         domain.AccountNumber(domain.EngineMongo, n),
			"balance":     balance,
			"hold_amount": decimal128Zero,
			"created_at":  now,
		})
	}
	if _, err := s.accounts.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("seed accounts: %w", err)
	}
	s.log.Info("mongo accounts seeded", zap.Int("count", accounts))
	return nil
}

// Helpers

var decimal128Zero = mustDecimal128("0")

func mustDecimal128(s string) primitive.Decimal128 {
	d, err := primitive.ParseDecimal128(s)
	if err != nil {
		panic(err)
	}
	return d
}

// toDecimal128 converts an amount to the Decimal128 the documents store.
func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	d128, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("amount %s: %w", d, err)
	}
	return d128, nil
}

// negDecimal128 returns -d. Debit ledger legs store negative amounts.
func negDecimal128(d primitive.Decimal128) (primitive.Decimal128, error) {
	dec, err := decimal.NewFromString(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("amount %s: %w", d, err)
	}
	return toDecimal128(dec.Neg())
}

// insertOutcome reports whether an idempotent insert created the document
// or found it already present.
type insertOutcome int

const (
	inserted insertOutcome = iota
	alreadyPresent
)

// idemInsert inserts doc unless a document matching filter already exists.
// A duplicate key collision between the lookup and the insert also counts
// as already present.
func idemInsert(ctx context.Context, col *mongo.Collection, filter, doc bson.M) (insertOutcome, error) {
	err := col.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if err == nil {
		return alreadyPresent, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return inserted, fmt.Errorf("lookup %s: %w", col.Name(), err)
	}
	if _, err := col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return alreadyPresent, nil
		}
		return inserted, fmt.Errorf("insert %s: %w", col.Name(), err)
	}
	return inserted, nil
}

// Document shapes the procedures read back.

type txnDoc struct {
	ID             primitive.ObjectID   `bson:"_id"`
	Type           string               `bson:"type"`
	Status         string               `bson:"status"`
	SrcAccountID   int64                `bson:"src_account_id"`
	DstAccountID   int64                `bson:"dst_account_id"`
	DstBank        string               `bson:"dst_bank"`
	Amount         primitive.Decimal128 `bson:"amount"`
	IdempotencyKey string               `bson:"idempotency_key"`
	CreatedAt      time.Time            `bson:"created_at"`
}

type holdDoc struct {
	ID             primitive.ObjectID   `bson:"_id"`
	AccountID      int64                `bson:"account_id"`
	Amount         primitive.Decimal128 `bson:"amount"`
	Status         string               `bson:"status"`
	IdempotencyKey string               `bson:"idempotency_key"`
	CreatedAt      time.Time            `bson:"created_at"`
}
