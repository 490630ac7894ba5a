package core

import (
	"context"
	"fmt"
	"time"

	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/logging"
)

// RollbackResult reports what a rollback removed. KeptUnits lists units
// created by the import that were left in place because they have since
// acquired transactions, files or another creator.
type RollbackResult struct {
	ImportLogID                 string       `json:"importLogId"`
	Status                      ImportStatus `json:"status"`
	RollbackDeletedTransactions int64        `json:"rollbackDeletedTransactions"`
	RollbackDeletedUnits        int          `json:"rollbackDeletedUnits"`
	KeptUnits                   []string     `json:"keptUnits,omitempty"`
}

// Rollback reverts a confirmed import: it deletes every transaction the
// import created and every unit it created that nothing else has touched
// since. Column edits applied to pre-existing units by CHANGED rows are not
// reverted.
func (s *Service) Rollback(ctx context.Context, importLogID string) (RollbackResult, error) {
	log := logging.ForImport(ctx, importLogID)

	var result RollbackResult
	err := s.store.WithTx(ctx, func(tx Tx) error {
		il, err := tx.LockImportLog(ctx, importLogID)
		if err != nil {
			return err
		}
		if err := requireStatus(il, "rollback", StatusConfirmed); err != nil {
			return err
		}

		deletedTxns, err := tx.DeleteTransactionsByImport(ctx, importLogID)
		if err != nil {
			return fmt.Errorf("delete transactions: %w", err)
		}

		rows, err := tx.ListImportLogRows(ctx, importLogID)
		if err != nil {
			return fmt.Errorf("load rows: %w", err)
		}

		deletedUnits := 0
		var kept []string
		for _, code := range newRowUnitCodes(rows) {
			deleted, err := tx.DeleteUnitIfUntouched(ctx, il.ProjectID, code, importLogID)
			if err != nil {
				return fmt.Errorf("delete unit %s: %w", code, err)
			}
			if deleted {
				deletedUnits++
			} else {
				kept = append(kept, code)
			}
		}

		now := s.now()
		summary := map[string]any{
			"rollback_at":                   now.UTC().Format(time.RFC3339),
			"rollback_deleted_transactions": deletedTxns,
			"rollback_deleted_units":        deletedUnits,
		}
		if err := tx.AdvanceImportLog(ctx, importLogID, StatusConfirmed, StatusRolledBack, summary, now); err != nil {
			return fmt.Errorf("mark rolled back: %w", err)
		}

		result = RollbackResult{
			ImportLogID:                 importLogID,
			Status:                      StatusRolledBack,
			RollbackDeletedTransactions: deletedTxns,
			RollbackDeletedUnits:        deletedUnits,
			KeptUnits:                   kept,
		}
		return nil
	})
	if err != nil {
		return RollbackResult{}, fmt.Errorf("rollback import %s: %w", importLogID, err)
	}

	log.Info("rollback completed",
		"deleted_transactions", result.RollbackDeletedTransactions,
		"deleted_units", result.RollbackDeletedUnits,
		"kept_units", len(result.KeptUnits),
	)
	return result, nil
}

// newRowUnitCodes returns the distinct unit codes of NEW rows in row order.
func newRowUnitCodes(rows []ImportLogRow) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, r := range rows {
		if r.ActionType != ActionNew {
			continue
		}
		code := r.AfterData.String(FieldUnitCode)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}
