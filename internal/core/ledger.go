package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// receivedDelta returns after - before of the received amount field diff.
// A missing side counts as zero.
func receivedDelta(fd FieldDiff) decimal.Decimal {
	before, _ := asDecimal(fd.Before)
	after, _ := asDecimal(fd.After)
	return after.Sub(before)
}

// deltaTransaction turns a received-amount delta into a ledger entry.
// Positive deltas are adjustments and negative deltas refunds; the amount is
// always the magnitude. A zero delta yields nothing.
func deltaTransaction(delta decimal.Decimal) (TxnType, decimal.Decimal, bool) {
	switch delta.Sign() {
	case 1:
		return TxnAdjustment, delta, true
	case -1:
		return TxnRefund, delta.Abs(), true
	default:
		return "", decimal.Zero, false
	}
}

// occurredAt places a transaction on the row's sign date at local midnight,
// or at now when the row has no usable date.
func occurredAt(after RowData, loc *time.Location, now time.Time) time.Time {
	if d, ok := after.Date(FieldSignDate); ok {
		if t, err := time.ParseInLocation(time.DateOnly, d, loc); err == nil {
			return t
		}
	}
	return now
}

func newRowNote(rowNo int) string {
	return fmt.Sprintf("Import commit row %d", rowNo)
}

func deltaNote(t TxnType, rowNo int, delta decimal.Decimal) string {
	return fmt.Sprintf("Import %s row %d, delta=%s", t, rowNo, delta.String())
}

// LedgerTotals summarizes a unit's transactions.
type LedgerTotals struct {
	TotalReceived decimal.Decimal
	Count         int
	Latest        *Transaction
	Earliest      *Transaction
}

// summarizeLedger nets inflows against refunds. txns may be in any order.
func summarizeLedger(txns []Transaction) LedgerTotals {
	totals := LedgerTotals{TotalReceived: decimal.Zero, Count: len(txns)}
	for i := range txns {
		t := &txns[i]
		if t.TxnType == TxnRefund {
			totals.TotalReceived = totals.TotalReceived.Sub(t.Amount)
		} else {
			totals.TotalReceived = totals.TotalReceived.Add(t.Amount)
		}
		if totals.Latest == nil || t.OccurredAt.After(totals.Latest.OccurredAt) ||
			(t.OccurredAt.Equal(totals.Latest.OccurredAt) && t.CreatedAt.After(totals.Latest.CreatedAt)) {
			totals.Latest = t
		}
		if totals.Earliest == nil || t.OccurredAt.Before(totals.Earliest.OccurredAt) {
			totals.Earliest = t
		}
	}
	return totals
}
