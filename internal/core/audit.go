package core

import (
	"context"
	"fmt"
	"sort"
)

// Row-level failure reasons recorded on audit entries.
const (
	errMissingUnitCode   = "Missing unit_code"
	errChangedUnitAbsent = "CHANGED row cannot be applied because unit does not exist"
)

// rowAudits builds one audit entry per field diff of row, in field name
// order. When a failed row has no field diffs, a single unit_code entry is
// written so the failure is still visible.
func (s *Service) rowAudits(importLogID string, row ImportLogRow, applied bool, errMsg string) []ImportChangeAudit {
	diffs := row.FieldDiffs
	if len(diffs) == 0 {
		if applied {
			return nil
		}
		diffs = map[string]FieldDiff{
			FieldUnitCode: {Before: nil, After: row.AfterData[FieldUnitCode]},
		}
	}

	fields := make([]string, 0, len(diffs))
	for f := range diffs {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	entity := row.EntityType
	if entity == "" {
		entity = EntityUnit
	}

	now := s.now()
	audits := make([]ImportChangeAudit, 0, len(fields))
	for _, f := range fields {
		d := diffs[f]
		audits = append(audits, ImportChangeAudit{
			ID:           s.newID(),
			ImportLogID:  importLogID,
			RowNo:        row.RowNo,
			EntityType:   entity,
			BusinessKey:  row.BusinessKey,
			FieldName:    f,
			BeforeValue:  jsonValue(d.Before),
			AfterValue:   jsonValue(d.After),
			Applied:      applied,
			ErrorMessage: errMsg,
			CreatedAt:    now,
		})
	}
	return audits
}

// GetAudits returns the audit trail of an import ordered by row number and
// field name.
func (s *Service) GetAudits(ctx context.Context, importLogID string) ([]ImportChangeAudit, error) {
	var audits []ImportChangeAudit
	err := s.store.Read(ctx, func(tx Tx) error {
		if _, err := tx.GetImportLog(ctx, importLogID); err != nil {
			return err
		}
		var err error
		audits, err = tx.ListAudits(ctx, importLogID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get audits: %w", err)
	}
	return audits, nil
}
