package mongoproc

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/bankbridge/bankbridge/internal/domain"
)

func holdParams() HoldParams {
	return HoldParams{
		SrcAccountID:   100001,
		DstAccountID:   100002,
		DstBank:        "1",
		Amount:         decimal.NewFromInt(2000),
		IdempotencyKey: "mm-fixture",
		Type:           domain.TypeInternal,
	}
}

func TestRemittanceHold(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("reserves funds and records the hold", func(mt *mtest.T) {
		svc := testService(mt)
		oid := primitive.NewObjectID()
		mt.AddMockResponses(
			findNone(colTxns),
			mtest.CreateSuccessResponse(),
			findDoc(colTxns, txnFixture(oid, domain.StatusHeld, "2000")),
			updateResult(1, 1),
			findNone(colHolds),
			mtest.CreateSuccessResponse(),
		)

		res, err := svc.RemittanceHold(context.Background(), holdParams())
		require.NoError(t, err)
		assert.Equal(t, oid.Hex(), res.TxnID)
		assert.Equal(t, domain.StatusHeld, res.Status)
	})

	mt.Run("replayed key reports recorded status without reserving again", func(mt *mtest.T) {
		svc := testService(mt)
		oid := primitive.NewObjectID()
		// Only the two transaction lookups run; any balance update would
		// hit an unqueued response and fail.
		mt.AddMockResponses(
			findDoc(colTxns, bson.D{{Key: "_id", Value: oid}}),
			findDoc(colTxns, txnFixture(oid, domain.StatusHeld, "2000")),
		)

		res, err := svc.RemittanceHold(context.Background(), holdParams())
		require.NoError(t, err)
		assert.Equal(t, oid.Hex(), res.TxnID)
		assert.Equal(t, domain.StatusHeld, res.Status)
	})

	mt.Run("insufficient available balance marks the transaction", func(mt *mtest.T) {
		svc := testService(mt)
		oid := primitive.NewObjectID()
		mt.AddMockResponses(
			findNone(colTxns),
			mtest.CreateSuccessResponse(),
			findDoc(colTxns, txnFixture(oid, domain.StatusHeld, "2000")),
			updateResult(0, 0),
			updateResult(1, 1),
		)

		res, err := svc.RemittanceHold(context.Background(), holdParams())
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInsufficient, res.Status)
	})

	mt.Run("losing the hold insert race still succeeds", func(mt *mtest.T) {
		svc := testService(mt)
		oid := primitive.NewObjectID()
		mt.AddMockResponses(
			findNone(colTxns),
			mtest.CreateSuccessResponse(),
			findDoc(colTxns, txnFixture(oid, domain.StatusHeld, "2000")),
			updateResult(1, 1),
			findNone(colHolds),
			duplicateKey(),
		)

		res, err := svc.RemittanceHold(context.Background(), holdParams())
		require.NoError(t, err)
		assert.Equal(t, domain.StatusHeld, res.Status)
	})
}

func TestRemittanceRelease(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("missing transaction", func(mt *mtest.T) {
		svc := testService(mt)
		mt.AddMockResponses(findNone(colTxns))

		res, err := svc.RemittanceRelease(context.Background(), "mm-fixture")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusHeld, res.Status)
		assert.Equal(t, domain.ResultTxNotFound, res.Result)
	})

	mt.Run("missing hold leaves the transaction untouched", func(mt *mtest.T) {
		svc := testService(mt)
		oid := primitive.NewObjectID()
		mt.AddMockResponses(
			findDoc(colTxns, txnFixture(oid, domain.StatusHeld, "2000")),
			findNone(colHolds),
		)

		res, err := svc.RemittanceRelease(context.Background(), "mm-fixture")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusHeld, res.Status)
		assert.Equal(t, domain.ResultHoldNotFound, res.Result)
	})

	mt.Run("releasing twice is a steady state", func(mt *mtest.T) {
		svc := testService(mt)
		oid := primitive.NewObjectID()
		mt.AddMockResponses(
			findDoc(colTxns, txnFixture(oid, domain.StatusReleased, "2000")),
			findDoc(colHolds, holdFixture(primitive.NewObjectID(), domain.HoldReleased, "2000")),
		)

		res, err := svc.RemittanceRelease(context.Background(), "mm-fixture")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusReleased, res.Status)
		assert.Equal(t, domain.ResultAlreadyReleased, res.Result)
	})

	mt.Run("captured hold is never rewound", func(mt *mtest.T) {
		svc := testService(mt)
		oid := primitive.NewObjectID()
		mt.AddMockResponses(
			findDoc(colTxns, txnFixture(oid, domain.StatusConfirmed, "2000")),
			findDoc(colHolds, holdFixture(primitive.NewObjectID(), domain.HoldCaptured, "2000")),
		)

		res, err := svc.RemittanceRelease(context.Background(), "mm-fixture")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusConfirmed, res.Status)
		assert.Equal(t, domain.ResultAlreadyCaptured, res.Result)
	})

	mt.Run("active hold releases funds and closes out", func(mt *mtest.T) {
		svc := testService(mt)
		oid := primitive.NewObjectID()
		mt.AddMockResponses(
			findDoc(colTxns, txnFixture(oid, domain.StatusHeld, "2000")),
			findDoc(colHolds, holdFixture(primitive.NewObjectID(), domain.HoldActive, "2000")),
			updateResult(1, 1),
			updateResult(1, 1),
			updateResult(1, 1),
		)

		res, err := svc.RemittanceRelease(context.Background(), "mm-fixture")
		require.NoError(t, err)
		assert.Equal(t, oid.Hex(), res.TxnID)
		assert.Equal(t, domain.StatusReleased, res.Status)
		assert.Equal(t, domain.ResultOK, res.Result)
	})

	mt.Run("reservation already gone reports concurrency failure", func(mt *mtest.T) {
		svc := testService(mt)
		oid := primitive.NewObjectID()
		mt.AddMockResponses(
			findDoc(colTxns, txnFixture(oid, domain.StatusHeld, "2000")),
			findDoc(colHolds, holdFixture(primitive.NewObjectID(), domain.HoldActive, "2000")),
			updateResult(0, 0),
		)

		res, err := svc.RemittanceRelease(context.Background(), "mm-fixture")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusHeld, res.Status)
		assert.Equal(t, domain.ResultConcurrencyFail, res.Result)
	})
}

func TestReceivePrepare(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("known destination account prepares as held", func(mt *mtest.T) {
		svc := testService(mt)
		oid := primitive.NewObjectID()
		p := holdParams()
		p.Type = domain.TypeIncomingExternal
		mt.AddMockResponses(
			findNone(colTxns),
			mtest.CreateSuccessResponse(),
			findDoc(colTxns, txnFixture(oid, domain.StatusHeld, "2000")),
			findDoc(colAccounts, bson.D{{Key: "_id", Value: int32(1)}, {Key: "n", Value: int32(1)}}),
		)

		res, err := svc.ReceivePrepare(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, oid.Hex(), res.TxnID)
		assert.Equal(t, domain.StatusHeld, res.Status)
	})

	mt.Run("unknown destination account is rejected", func(mt *mtest.T) {
		svc := testService(mt)
		oid := primitive.NewObjectID()
		p := holdParams()
		p.Type = domain.TypeIncomingExternal
		mt.AddMockResponses(
			findNone(colTxns),
			mtest.CreateSuccessResponse(),
			findDoc(colTxns, txnFixture(oid, domain.StatusHeld, "2000")),
			findNone(colAccounts),
			updateResult(1, 1),
		)

		res, err := svc.ReceivePrepare(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusUnknownAccount, res.Status)
	})
}
