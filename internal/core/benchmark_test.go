package core

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// Conversion Benchmarks
// ============================================================================

// BenchmarkParseDecimal covers the money formats spreadsheets hand us.
// Every NEW and CHANGED row parses several amounts during commit.
func BenchmarkParseDecimal(b *testing.B) {
	testCases := []string{
		"123",
		"-456.78",
		"¥1,234.56",
		"(123.45)",      // Accounting negative
		"1，234，567.89元", // Full-width separators
		"  999.99  ",
		"not a number",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			parseDecimal(tc)
		}
	}
}

// BenchmarkRowData_Decimal measures reads through the loosely typed row map.
func BenchmarkRowData_Decimal(b *testing.B) {
	row := RowData{
		FieldDealPrice:      json.Number("1250000"),
		FieldActualReceived: "¥350,000.00",
		FieldAreaM2:         98.6,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		row.Decimal(FieldDealPrice)
		row.Decimal(FieldActualReceived)
		row.Decimal(FieldAreaM2)
	}
}

func BenchmarkNormalizeDateOnly(b *testing.B) {
	testCases := []string{"2024-03-15", "2024-02-30", "15/03/2024", ""}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			normalizeDateOnly(tc)
		}
	}
}

// ============================================================================
// Derivation Benchmarks
// ============================================================================

func BenchmarkClassifySaleStatus(b *testing.B) {
	testCases := []string{"已签约", "认购", "认购转签约", "工抵完成", "待售", ""}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ClassifySaleStatus(tc)
		}
	}
}

func BenchmarkNormalizePhone(b *testing.B) {
	testCases := []string{"13812345678", "+86 138 1234 5678", "021-12345678", "garbage"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			NormalizePhone(tc, "CN")
		}
	}
}

// BenchmarkAttributes_Merge merges a full derived bag into an existing one,
// which is what every commit does per touched unit.
func BenchmarkAttributes_Merge(b *testing.B) {
	existing := Attributes{CreatedImportLogID: "imp-1", Extra: map[string]any{"legacy": "x"}}
	incoming := Attributes{LastImportLogID: "imp-2", LastUpdateSource: UpdateSourceExcelImport}
	for i, key := range derivedKeys {
		existing.Set(key, DerivedValue{Value: fmt.Sprintf("old-%d", i), Source: SourceInferredTxn})
		incoming.Set(key, DerivedValue{Value: fmt.Sprintf("new-%d", i), Source: SourceImported})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		existing.Merge(incoming)
	}
}

// ============================================================================
// Ledger Benchmarks
// ============================================================================

// BenchmarkSummarizeLedger runs the preview fold over ledgers of growing size.
func BenchmarkSummarizeLedger(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		txns := make([]Transaction, n)
		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := range txns {
			typ := TxnInstallment
			if i%10 == 9 {
				typ = TxnRefund
			}
			txns[i] = Transaction{
				TxnType:    typ,
				Amount:     decimal.NewFromInt(int64(1000 + i)),
				OccurredAt: start.Add(time.Duration(i) * time.Hour),
				CreatedAt:  start,
			}
		}

		b.Run(fmt.Sprintf("txns=%d", n), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				summarizeLedger(txns)
			}
		})
	}
}
