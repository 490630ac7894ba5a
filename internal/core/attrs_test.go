package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributesMerge_Precedence(t *testing.T) {
	imported := DerivedValue{Value: "中建三局", Source: SourceImported}
	inferred := DerivedValue{Value: "Acme", Source: SourceInferredInternal}
	missing := DerivedValue{Source: SourceMissing}

	tests := []struct {
		name string
		prev DerivedValue
		next DerivedValue
		want DerivedValue
	}{
		{"inferred never replaces imported", imported, inferred, imported},
		{"missing never replaces known", inferred, missing, inferred},
		{"imported replaces inferred", inferred, imported, imported},
		{"later imported replaces earlier", imported, DerivedValue{Value: "中铁", Source: SourceImported}, DerivedValue{Value: "中铁", Source: SourceImported}},
		{"equal rank later wins", inferred, DerivedValue{Value: "华东", Source: SourceInferredRelation}, DerivedValue{Value: "华东", Source: SourceInferredRelation}},
		{"missing replaces missing", missing, missing, missing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prev, next Attributes
			prev.Set(DerivedGeneralContractorUnit, tt.prev)
			next.Set(DerivedGeneralContractorUnit, tt.next)

			got, _ := prev.Merge(next).Get(DerivedGeneralContractorUnit)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAttributesMerge_Bookkeeping(t *testing.T) {
	prev := Attributes{
		CreatedImportLogID: "first",
		LastImportLogID:    "first",
		Extra:              map[string]any{"ocr_checked": true},
	}
	next := Attributes{
		CreatedImportLogID: "second",
		LastImportLogID:    "second",
		LastUpdateSource:   UpdateSourceExcelImport,
	}

	merged := prev.Merge(next)
	assert.Equal(t, "first", merged.CreatedImportLogID)
	assert.Equal(t, "second", merged.LastImportLogID)
	assert.Equal(t, UpdateSourceExcelImport, merged.LastUpdateSource)
	assert.Equal(t, true, merged.Extra["ocr_checked"])

	// inputs untouched
	assert.Equal(t, "first", prev.LastImportLogID)
	assert.Empty(t, next.Extra)
}

func TestAttributesJSON_KeepsUnknownKeys(t *testing.T) {
	raw := `{
		"created_import_log_id": "imp-1",
		"rename_flag": true,
		"sign_date": {"value": "2024-03-15", "source": "imported", "basis": "导入列 sign_date"},
		"ocr_checked": true
	}`

	var a Attributes
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	assert.Equal(t, "imp-1", a.CreatedImportLogID)
	require.NotNil(t, a.RenameFlag)
	assert.True(t, *a.RenameFlag)
	v, ok := a.Get(DerivedSignDate)
	require.True(t, ok)
	assert.Equal(t, "2024-03-15", v.Value)
	assert.Equal(t, true, a.Extra["ocr_checked"])

	out, err := json.Marshal(a)
	require.NoError(t, err)
	var flat map[string]any
	require.NoError(t, json.Unmarshal(out, &flat))
	assert.Equal(t, "imp-1", flat["created_import_log_id"])
	assert.Equal(t, true, flat["ocr_checked"])
	assert.NotContains(t, flat, "last_import_log_id")
}
