package mongoproc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/bankbridge/bankbridge/internal/domain"
)

// ConfirmDebitLocal captures a hold on the source account: the reservation
// and the balance drop together, and the negative ledger leg is posted.
func (s *Service) ConfirmDebitLocal(ctx context.Context, idempotencyKey string) (Result, error) {
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
		return Result{TxnID: txn.ID.Hex(), Status: domain.StatusHeld, Result: domain.ResultHoldReleased}, nil
	case domain.HoldCaptured:
		return Result{TxnID: txn.ID.Hex(), Status: domain.StatusConfirmed, Result: domain.ResultAlreadyConfirmed}, nil
	}

	neg, err := negDecimal128(txn.Amount)
	if err != nil {
		return Result{}, err
	}

	// Capture while the reservation still covers the amount.
	res, err := s.accounts.UpdateOne(ctx,
		bson.M{"_id": txn.SrcAccountID, "hold_amount": bson.M{"$gte": txn.Amount}},
		bson.M{"$inc": bson.M{"hold_amount": neg, "balance": neg}},
	)
	if err != nil {
		return Result{}, fmt.Errorf("capture hold: %w", err)
	}
	if res.ModifiedCount != 1 {
		return Result{TxnID: txn.ID.Hex(), Status: domain.StatusHeld, Result: domain.ResultConcurrencyFail}, nil
	}

	// Debit leg, negative amount.
	if _, err := idemInsert(ctx, s.ledger,
		bson.M{"txn_id": txn.ID, "account_id": txn.SrcAccountID, "amount": neg},
		bson.M{
			"txn_id":     txn.ID,
			"account_id": txn.SrcAccountID,
			"amount":     neg,
			"entry_type": domain.EntryDebit,
			"created_at": time.Now().UTC(),
		}); err != nil {
		return Result{}, err
	}

	if _, err := s.holds.UpdateOne(ctx, bson.M{"idempotency_key": idempotencyKey},
		bson.M{"$set": bson.M{"status": domain.HoldCaptured}}); err != nil {
		return Result{}, fmt.Errorf("mark hold captured: %w", err)
	}
	if _, err := s.txns.UpdateOne(ctx, bson.M{"_id": txn.ID},
		bson.M{"$set": bson.M{"status": domain.StatusConfirmed}}); err != nil {
		return Result{}, fmt.Errorf("mark transaction confirmed: %w", err)
	}
	return Result{TxnID: txn.ID.Hex(), Status: domain.StatusConfirmed, Result: domain.ResultOK}, nil
}

// ConfirmCreditLocal posts the credit leg on the destination account. The
// unique ledger leg is what makes the call replay-safe: a leg that already
// exists turns the call into a no-op.
func (s *Service) ConfirmCreditLocal(ctx context.Context, idempotencyKey string) (Result, error) {
	var txn txnDoc
	err := s.txns.FindOne(ctx, bson.M{"idempotency_key": idempotencyKey}).Decode(&txn)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Result{Status: domain.StatusHeld, Result: domain.ResultTxNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load transaction: %w", err)
	}

	legFilter := bson.M{"txn_id": txn.ID, "account_id": txn.DstAccountID, "amount": txn.Amount}
	err = s.ledger.FindOne(ctx, legFilter).Err()
	if err == nil {
		if _, err := s.txns.UpdateOne(ctx, bson.M{"_id": txn.ID},
			bson.M{"$set": bson.M{"status": domain.StatusConfirmed}}); err != nil {
			return Result{}, fmt.Errorf("mark transaction confirmed: %w", err)
		}
		return Result{TxnID: txn.ID.Hex(), Status: domain.StatusConfirmed, Result: domain.ResultAlreadyPosted}, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return Result{}, fmt.Errorf("check ledger leg: %w", err)
	}

	if _, err := s.accounts.UpdateOne(ctx, bson.M{"_id": txn.DstAccountID},
		bson.M{"$inc": bson.M{"balance": txn.Amount}}); err != nil {
		return Result{}, fmt.Errorf("credit destination: %w", err)
	}

	// Credit leg, positive amount. Losing the insert race means another
	// writer credited too, so back this increment out.
	outcome, err := idemInsert(ctx, s.ledger, legFilter, bson.M{
		"txn_id":     txn.ID,
		"account_id": txn.DstAccountID,
		"amount":     txn.Amount,
		"entry_type": domain.EntryCredit,
		"created_at": time.Now().UTC(),
	})
	if err != nil {
		return Result{}, err
	}
	if outcome == alreadyPresent {
		neg, err := negDecimal128(txn.Amount)
		if err != nil {
			return Result{}, err
		}
		if _, err := s.accounts.UpdateOne(ctx, bson.M{"_id": txn.DstAccountID},
			bson.M{"$inc": bson.M{"balance": neg}}); err != nil {
			return Result{}, fmt.Errorf("undo duplicate credit: %w", err)
		}
		if _, err := s.txns.UpdateOne(ctx, bson.M{"_id": txn.ID},
			bson.M{"$set": bson.M{"status": domain.StatusConfirmed}}); err != nil {
			return Result{}, fmt.Errorf("mark transaction confirmed: %w", err)
		}
		return Result{TxnID: txn.ID.Hex(), Status: domain.StatusConfirmed, Result: domain.ResultAlreadyPosted}, nil
	}

	if _, err := s.txns.UpdateOne(ctx, bson.M{"_id": txn.ID},
		bson.M{"$set": bson.M{"status": domain.StatusConfirmed}}); err != nil {
		return Result{}, fmt.Errorf("mark transaction confirmed: %w", err)
	}
	return Result{TxnID: txn.ID.Hex(), Status: domain.StatusConfirmed, Result: domain.ResultOK}, nil
}

// TransferConfirmInternal settles a same-engine transfer in one call:
// debit the source (capturing the hold when one exists), credit the
// destination, and post both ledger legs. The response carries no txn_id,
// matching the two OUT values of the SQL procedure.
func (s *Service) TransferConfirmInternal(ctx context.Context, idempotencyKey string) (Result, error) {
	var txn txnDoc
	err := s.txns.FindOne(ctx, bson.M{"idempotency_key": idempotencyKey}).Decode(&txn)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Result{Status: domain.StatusHeld, Result: domain.ResultTxNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load transaction: %w", err)
	}
	if txn.Status == domain.StatusConfirmed {
		return Result{Status: domain.StatusConfirmed, Result: domain.ResultAlreadyConfirmed}, nil
	}

	neg, err := negDecimal128(txn.Amount)
	if err != nil {
		return Result{}, err
	}

	var hold holdDoc
	hadHold := true
	err = s.holds.FindOne(ctx, bson.M{"idempotency_key": idempotencyKey}).Decode(&hold)
	if errors.Is(err, mongo.ErrNoDocuments) {
		hadHold = false
	} else if err != nil {
		return Result{}, fmt.Errorf("load hold: %w", err)
	}

	if hadHold {
		switch hold.Status {
		case domain.HoldCaptured:
			return Result{Status: domain.StatusConfirmed, Result: domain.ResultAlreadyConfirmed}, nil
		case domain.HoldReleased:
			return Result{Status: domain.StatusHeld, Result: domain.ResultHoldReleased}, nil
		}
		res, err := s.accounts.UpdateOne(ctx,
			bson.M{"_id": txn.SrcAccountID, "hold_amount": bson.M{"$gte": txn.Amount}},
			bson.M{"$inc": bson.M{"hold_amount": neg, "balance": neg}},
		)
		if err != nil {
			return Result{}, fmt.Errorf("capture hold: %w", err)
		}
		if res.ModifiedCount != 1 {
			return Result{Status: domain.StatusHeld, Result: domain.ResultConcurrencyFail}, nil
		}
		if _, err := s.holds.UpdateOne(ctx, bson.M{"idempotency_key": idempotencyKey},
			bson.M{"$set": bson.M{"status": domain.HoldCaptured}}); err != nil {
			return Result{}, fmt.Errorf("mark hold captured: %w", err)
		}
	} else {
		res, err := s.accounts.UpdateOne(ctx,
			bson.M{"_id": txn.SrcAccountID, "balance": bson.M{"$gte": txn.Amount}},
			bson.M{"$inc": bson.M{"balance": neg}},
		)
		if err != nil {
			return Result{}, fmt.Errorf("debit source: %w", err)
		}
		if res.ModifiedCount != 1 {
			return Result{Status: domain.StatusHeld, Result: domain.ResultInsufficientFunds}, nil
		}
	}

	if _, err := s.accounts.UpdateOne(ctx, bson.M{"_id": txn.DstAccountID},
		bson.M{"$inc": bson.M{"balance": txn.Amount}}); err != nil {
		return Result{}, fmt.Errorf("credit destination: %w", err)
	}

	now := time.Now().UTC()
	if _, err := idemInsert(ctx, s.ledger,
		bson.M{"txn_id": txn.ID, "account_id": txn.SrcAccountID, "amount": neg},
		bson.M{
			"txn_id":     txn.ID,
			"account_id": txn.SrcAccountID,
			"amount":     neg,
			"entry_type": domain.EntryDebit,
			"created_at": now,
		}); err != nil {
		return Result{}, err
	}
	if _, err := idemInsert(ctx, s.ledger,
		bson.M{"txn_id": txn.ID, "account_id": txn.DstAccountID, "amount": txn.Amount},
		bson.M{
			"txn_id":     txn.ID,
			"account_id": txn.DstAccountID,
			"amount":     txn.Amount,
			"entry_type": domain.EntryCredit,
			"created_at": now,
		}); err != nil {
		return Result{}, err
	}

	if _, err := s.txns.UpdateOne(ctx, bson.M{"_id": txn.ID},
		bson.M{"$set": bson.M{"status": domain.StatusConfirmed}}); err != nil {
		return Result{}, fmt.Errorf("mark transaction confirmed: %w", err)
	}
	return Result{Status: domain.StatusConfirmed, Result: domain.ResultOK}, nil
}
