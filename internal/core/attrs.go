package core

import (
	"encoding/json"
	"maps"
)

// Provenance tells where a derived value came from.
type Provenance string

const (
	SourceImported         Provenance = "imported"
	SourceInferredInternal Provenance = "inferred_internal"
	SourceInferredRelation Provenance = "inferred_relation"
	SourceInferredTxn      Provenance = "inferred_txn"
	SourceMissing          Provenance = "missing"
)

func (p Provenance) rank() int {
	switch p {
	case SourceImported:
		return 2
	case SourceInferredInternal, SourceInferredRelation, SourceInferredTxn:
		return 1
	default:
		return 0
	}
}

// DerivedValue is a business field together with its provenance and a
// human-readable basis.
type DerivedValue struct {
	Value  string     `json:"value,omitempty"`
	Source Provenance `json:"source"`
	Basis  string     `json:"basis,omitempty"`
}

// Known returns whether the value is present.
func (v DerivedValue) Known() bool {
	return v.Source != SourceMissing && v.Source != "" && v.Value != ""
}

// Derived attribute keys.
const (
	DerivedConstructionUnit      = "construction_unit"
	DerivedGeneralContractorUnit = "general_contractor_unit"
	DerivedSubcontractorUnit     = "subcontractor_unit"
	DerivedSubscribeDate         = "subscribe_date"
	DerivedSignDate              = "sign_date"
	DerivedRenameStatus          = "rename_status"
	DerivedReceiptRatio          = "receipt_ratio"
	DerivedContactPhone          = "contact_phone"
	DerivedContactAddress        = "contact_address"
)

var derivedKeys = []string{
	DerivedConstructionUnit,
	DerivedGeneralContractorUnit,
	DerivedSubcontractorUnit,
	DerivedSubscribeDate,
	DerivedSignDate,
	DerivedRenameStatus,
	DerivedReceiptRatio,
	DerivedContactPhone,
	DerivedContactAddress,
}

// UpdateSourceExcelImport marks units last written by an import commit.
const UpdateSourceExcelImport = "excel_import"

// Attributes is a unit's dynamic attribute bag. It is stored as one JSON
// object; unknown keys written by other tools are kept in Extra and survive
// merges.
type Attributes struct {
	CreatedImportLogID  string
	LastImportLogID     string
	LastUpdateSource    string
	LastUpdateFileName  string
	LastUpdateSessionID string
	RenameFlag          *bool
	Derived             map[string]DerivedValue
	Extra               map[string]any
}

const (
	attrCreatedImportLogID  = "created_import_log_id"
	attrLastImportLogID     = "last_import_log_id"
	attrLastUpdateSource    = "last_update_source"
	attrLastUpdateFileName  = "last_update_file_name"
	attrLastUpdateSessionID = "last_update_session_id"
	attrRenameFlag          = "rename_flag"
)

// Get returns the derived value stored under key.
func (a Attributes) Get(key string) (DerivedValue, bool) {
	v, ok := a.Derived[key]
	return v, ok
}

// Set stores a derived value.
func (a *Attributes) Set(key string, v DerivedValue) {
	if a.Derived == nil {
		a.Derived = make(map[string]DerivedValue)
	}
	a.Derived[key] = v
}

// Merge folds incoming into a and returns the result. Neither input is
// modified. Per key:
//
//   - created_import_log_id: the first non-empty value is kept forever.
//   - last_* pointers and rename_flag: incoming wins when set.
//   - derived values: an imported value is only replaced by another imported
//     value; a missing value never replaces a known one; otherwise incoming
//     wins.
//   - extra keys: incoming wins.
func (a Attributes) Merge(incoming Attributes) Attributes {
	out := a.Clone()

	if out.CreatedImportLogID == "" {
		out.CreatedImportLogID = incoming.CreatedImportLogID
	}
	if incoming.LastImportLogID != "" {
		out.LastImportLogID = incoming.LastImportLogID
	}
	if incoming.LastUpdateSource != "" {
		out.LastUpdateSource = incoming.LastUpdateSource
	}
	if incoming.LastUpdateFileName != "" {
		out.LastUpdateFileName = incoming.LastUpdateFileName
	}
	if incoming.LastUpdateSessionID != "" {
		out.LastUpdateSessionID = incoming.LastUpdateSessionID
	}
	if incoming.RenameFlag != nil {
		flag := *incoming.RenameFlag
		out.RenameFlag = &flag
	}

	for key, next := range incoming.Derived {
		prev, ok := out.Derived[key]
		if ok && !preferDerived(prev, next) {
			continue
		}
		out.Set(key, next)
	}

	for key, v := range incoming.Extra {
		if out.Extra == nil {
			out.Extra = make(map[string]any)
		}
		out.Extra[key] = v
	}
	return out
}

func preferDerived(prev, next DerivedValue) bool {
	if !next.Known() {
		return !prev.Known()
	}
	return next.Source.rank() >= prev.Source.rank()
}

// Clone returns a deep copy.
func (a Attributes) Clone() Attributes {
	out := a
	out.Derived = maps.Clone(a.Derived)
	out.Extra = maps.Clone(a.Extra)
	if a.RenameFlag != nil {
		flag := *a.RenameFlag
		out.RenameFlag = &flag
	}
	return out
}

// MarshalJSON writes the bag as one flat object.
func (a Attributes) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(a.Extra)+len(a.Derived)+6)
	maps.Copy(m, a.Extra)
	putString(m, attrCreatedImportLogID, a.CreatedImportLogID)
	putString(m, attrLastImportLogID, a.LastImportLogID)
	putString(m, attrLastUpdateSource, a.LastUpdateSource)
	putString(m, attrLastUpdateFileName, a.LastUpdateFileName)
	putString(m, attrLastUpdateSessionID, a.LastUpdateSessionID)
	if a.RenameFlag != nil {
		m[attrRenameFlag] = *a.RenameFlag
	}
	for k, v := range a.Derived {
		m[k] = v
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads a flat object, routing known keys to their fields.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Attributes{}
	if raw == nil {
		return nil
	}

	stringFields := map[string]*string{
		attrCreatedImportLogID:  &a.CreatedImportLogID,
		attrLastImportLogID:     &a.LastImportLogID,
		attrLastUpdateSource:    &a.LastUpdateSource,
		attrLastUpdateFileName:  &a.LastUpdateFileName,
		attrLastUpdateSessionID: &a.LastUpdateSessionID,
	}
	derived := make(map[string]bool, len(derivedKeys))
	for _, k := range derivedKeys {
		derived[k] = true
	}

	for key, msg := range raw {
		if dst, ok := stringFields[key]; ok {
			if err := json.Unmarshal(msg, dst); err != nil {
				return err
			}
			continue
		}
		if key == attrRenameFlag {
			var flag bool
			if err := json.Unmarshal(msg, &flag); err != nil {
				return err
			}
			a.RenameFlag = &flag
			continue
		}
		if derived[key] {
			var v DerivedValue
			if err := json.Unmarshal(msg, &v); err == nil && v.Source != "" {
				a.Set(key, v)
				continue
			}
		}
		var v any
		if err := json.Unmarshal(msg, &v); err != nil {
			return err
		}
		if a.Extra == nil {
			a.Extra = make(map[string]any)
		}
		a.Extra[key] = v
	}
	return nil
}

func putString(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}
