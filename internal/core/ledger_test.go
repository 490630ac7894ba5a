package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltaTransaction(t *testing.T) {
	tests := []struct {
		name       string
		before     any
		after      any
		wantType   TxnType
		wantAmount string
		wantOK     bool
	}{
		{"increase is adjustment", 100, 250, TxnAdjustment, "150", true},
		{"decrease is refund", 250, 100, TxnRefund, "150", true},
		{"equal writes nothing", 250, 250, "", "0", false},
		{"missing before counts as zero", nil, "1,000.50", TxnAdjustment, "1000.5", true},
		{"cleared after counts as zero", 80.5, nil, TxnRefund, "80.5", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta := receivedDelta(FieldDiff{Before: tt.before, After: tt.after})
			typ, amount, ok := deltaTransaction(delta)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantType, typ)
			assert.True(t, amount.Equal(decimal.RequireFromString(tt.wantAmount)), "amount %s", amount)
			assert.False(t, amount.IsNegative())
		})
	}
}

func TestOccurredAt(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	got := occurredAt(RowData{FieldSignDate: "2024-03-15"}, loc, now)
	assert.True(t, got.Equal(time.Date(2024, 3, 14, 16, 0, 0, 0, time.UTC)), "got %s", got)

	assert.Equal(t, now, occurredAt(RowData{FieldSignDate: "15/03/2024"}, loc, now))
	assert.Equal(t, now, occurredAt(RowData{}, loc, now))
}

func TestNotes(t *testing.T) {
	assert.Equal(t, "Import commit row 7", newRowNote(7))
	assert.Equal(t, "Import refund row 3, delta=-150", deltaNote(TxnRefund, 3, decimal.NewFromInt(-150)))
}

func TestSummarizeLedger(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	txns := []Transaction{
		{ID: "b", TxnType: TxnDownPayment, Amount: decimal.NewFromInt(300), OccurredAt: t0.AddDate(0, 1, 0)},
		{ID: "a", TxnType: TxnDeposit, Amount: decimal.NewFromInt(100), OccurredAt: t0},
		{ID: "c", TxnType: TxnRefund, Amount: decimal.NewFromInt(50), OccurredAt: t0.AddDate(0, 2, 0)},
	}

	totals := summarizeLedger(txns)
	assert.True(t, totals.TotalReceived.Equal(decimal.NewFromInt(350)))
	assert.Equal(t, 3, totals.Count)
	require.NotNil(t, totals.Latest)
	assert.Equal(t, "c", totals.Latest.ID)
	require.NotNil(t, totals.Earliest)
	assert.Equal(t, "a", totals.Earliest.ID)

	empty := summarizeLedger(nil)
	assert.True(t, empty.TotalReceived.IsZero())
	assert.Nil(t, empty.Latest)
}
