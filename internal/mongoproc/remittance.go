package mongoproc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/bankbridge/bankbridge/internal/domain"
)

// HoldParams carries the arguments of the hold and prepare procedures.
type HoldParams struct {
	SrcAccountID   int64
	DstAccountID   int64
	DstBank        string
	Amount         decimal.Decimal
	IdempotencyKey string
	Type           string
}

// RemittanceHold reserves funds on the source account. The transaction
// record is created idempotently; a replayed key reports the recorded
// status and never reserves funds a second time.
func (s *Service) RemittanceHold(ctx context.Context, p HoldParams) (Result, error) {
	amount128, err := toDecimal128(p.Amount)
	if err != nil {
		return Result{}, err
	}
	typ := p.Type
	if typ == "" {
		typ = domain.TypeInternal
	}
	now := time.Now().UTC()

	// 1. Create the transaction once per key.
	outcome, err := idemInsert(ctx, s.txns,
		bson.M{"idempotency_key": p.IdempotencyKey},
		bson.M{
			"type":            typ,
			"status":          domain.StatusHeld,
			"src_account_id":  p.SrcAccountID,
			"dst_account_id":  p.DstAccountID,
			"dst_bank":        p.DstBank,
			"amount":          amount128,
			"idempotency_key": p.IdempotencyKey,
			"created_at":      now,
		})
	if err != nil {
		return Result{}, err
	}

	var txn txnDoc
	if err := s.txns.FindOne(ctx, bson.M{"idempotency_key": p.IdempotencyKey}).Decode(&txn); err != nil {
		return Result{}, fmt.Errorf("load transaction: %w", err)
	}

	// 2. A replayed key reports the recorded outcome.
	if outcome == alreadyPresent {
		return Result{TxnID: txn.ID.Hex(), Status: txn.Status}, nil
	}

	// 3. Reserve only while balance - hold_amount still covers the amount.
	res, err := s.accounts.UpdateOne(ctx,
		bson.M{
			"_id": p.SrcAccountID,
			"$expr": bson.M{"$gte": bson.A{
				bson.M{"$subtract": bson.A{"$balance", "$hold_amount"}},
				amount128,
			}},
		},
		bson.M{"$inc": bson.M{"hold_amount": amount128}},
	)
	if err != nil {
		return Result{}, fmt.Errorf("reserve funds: %w", err)
	}
	if res.ModifiedCount != 1 {
		if _, err := s.txns.UpdateOne(ctx, bson.M{"_id": txn.ID},
			bson.M{"$set": bson.M{"status": domain.StatusInsufficient}}); err != nil {
			return Result{}, fmt.Errorf("mark insufficient: %w", err)
		}
		return Result{TxnID: txn.ID.Hex(), Status: domain.StatusInsufficient}, nil
	}

	// 4. Record the hold.
	if _, err := idemInsert(ctx, s.holds,
		bson.M{"idempotency_key": p.IdempotencyKey},
		bson.M{
			"account_id":      p.SrcAccountID,
			"amount":          amount128,
			"status":          domain.HoldActive,
			"idempotency_key": p.IdempotencyKey,
			"created_at":      now,
		}); err != nil {
		return Result{}, err
	}
	return Result{TxnID: txn.ID.Hex(), Status: domain.StatusHeld}, nil
}

// RemittanceRelease gives a reservation back to the source account. A
// captured hold is never rewound; releasing twice is a steady state.
func (s *Service) RemittanceRelease(ctx context.Context, idempotencyKey string) (Result, error) {
	var txn txnDoc
	err := s.txns.FindOne(ctx, bson.M{"idempotency_key": idempotencyKey}).Decode(&txn)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Result{Status: domain.StatusHeld, Result: domain.ResultTxNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load transaction: %w", err)
	}

	var hold holdDoc
	err = s.holds.FindOne(ctx, bson.M{"idempotency_key": idempotencyKey}).Decode(&hold)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Result{TxnID: txn.ID.Hex(), Status: domain.StatusHeld, Result: domain.ResultHoldNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load hold: %w", err)
	}

	switch hold.Status {
	case domain.HoldReleased:
		return Result{TxnID: txn.ID.Hex(), Status: domain.StatusReleased, Result: domain.ResultAlreadyReleased}, nil
	case domain.HoldCaptured:
		return Result{TxnID: txn.ID.Hex(), Status: domain.StatusConfirmed, Result: domain.ResultAlreadyCaptured}, nil
	}

	neg, err := negDecimal128(hold.Amount)
	if err != nil {
		return Result{}, err
	}

	// Drop the reservation only while it is still outstanding.
	res, err := s.accounts.UpdateOne(ctx,
		bson.M{"_id": hold.AccountID, "hold_amount": bson.M{"$gte": hold.Amount}},
		bson.M{"$inc": bson.M{"hold_amount": neg}},
	)
	if err != nil {
		return Result{}, fmt.Errorf("release funds: %w", err)
	}
	if res.ModifiedCount != 1 {
		return Result{TxnID: txn.ID.Hex(), Status: domain.StatusHeld, Result: domain.ResultConcurrencyFail}, nil
	}

	if _, err := s.holds.UpdateOne(ctx, bson.M{"idempotency_key": idempotencyKey},
		bson.M{"$set": bson.M{"status": domain.HoldReleased}}); err != nil {
		return Result{}, fmt.Errorf("mark hold released: %w", err)
	}
	if _, err := s.txns.UpdateOne(ctx, bson.M{"_id": txn.ID},
		bson.M{"$set": bson.M{"status": domain.StatusReleased}}); err != nil {
		return Result{}, fmt.Errorf("mark transaction released: %w", err)
	}
	return Result{TxnID: txn.ID.Hex(), Status: domain.StatusReleased, Result: domain.ResultOK}, nil
}

// ReceivePrepare records an incoming external transfer on the destination
// engine and verifies the destination account exists. No funds move here;
// the later credit confirm does that.
func (s *Service) ReceivePrepare(ctx context.Context, p HoldParams) (Result, error) {
	amount128, err := toDecimal128(p.Amount)
	if err != nil {
		return Result{}, err
	}
	typ := p.Type
	if typ == "" {
		typ = domain.TypeIncomingExternal
	}
	now := time.Now().UTC()

	if _, err := idemInsert(ctx, s.txns,
		bson.M{"idempotency_key": p.IdempotencyKey},
		bson.M{
			"type":            typ,
			"status":          domain.StatusHeld,
			"src_account_id":  p.SrcAccountID,
			"dst_account_id":  p.DstAccountID,
			"dst_bank":        p.DstBank,
			"amount":          amount128,
			"idempotency_key": p.IdempotencyKey,
			"created_at":      now,
		}); err != nil {
		return Result{}, err
	}

	var txn txnDoc
	if err := s.txns.FindOne(ctx, bson.M{"idempotency_key": p.IdempotencyKey}).Decode(&txn); err != nil {
		return Result{}, fmt.Errorf("load transaction: %w", err)
	}

	count, err := s.accounts.CountDocuments(ctx, bson.M{"_id": p.DstAccountID})
	if err != nil {
		return Result{}, fmt.Errorf("check destination account: %w", err)
	}
	if count == 0 {
		if _, err := s.txns.UpdateOne(ctx, bson.M{"_id": txn.ID},
			bson.M{"$set": bson.M{"status": domain.StatusUnknownAccount}}); err != nil {
			return Result{}, fmt.Errorf("mark unknown account: %w", err)
		}
		return Result{TxnID: txn.ID.Hex(), Status: domain.StatusUnknownAccount}, nil
	}
	return Result{TxnID: txn.ID.Hex(), Status: domain.StatusHeld}, nil
}
