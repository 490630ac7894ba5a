package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// markerInternal in the internal/external column marks a unit sold to the
// organization's own staff or affiliates.
const markerInternal = "内部"

// deriveContext is what the inference chain may look at besides the row.
type deriveContext struct {
	after            RowData
	organizationName string
	internalExternal string
	dealPrice        decimal.NullDecimal
	bindings         []UnitCounterparty
	customer         *Customer
}

// deriveAttributes computes the derived business fields of one committed
// row. Each value carries its provenance so a later merge can decide
// whether it may replace what the unit already has.
func deriveAttributes(dc deriveContext) Attributes {
	var attrs Attributes

	internal := isInternal(dc.internalExternal)
	attrs.Set(DerivedConstructionUnit, deriveParty(dc, FieldConstructionUnit, "", internal))
	attrs.Set(DerivedGeneralContractorUnit, deriveParty(dc, FieldGeneralContractorUnit, RoleGeneralContractor, internal))
	attrs.Set(DerivedSubcontractorUnit, deriveParty(dc, FieldSubcontractorUnit, RoleSubcontractor, internal))

	attrs.Set(DerivedSubscribeDate, deriveDate(dc.after, FieldSubscribeDate))
	attrs.Set(DerivedSignDate, deriveDate(dc.after, FieldSignDate))

	if raw := dc.after.String(FieldRenameStatusRaw); raw != "" {
		attrs.Set(DerivedRenameStatus, DerivedValue{Value: raw, Source: SourceImported, Basis: "导入更名状态"})
		attrs.RenameFlag = parseRenameFlag(raw)
	} else {
		attrs.Set(DerivedRenameStatus, DerivedValue{Source: SourceMissing})
	}

	attrs.Set(DerivedReceiptRatio, deriveReceiptRatio(dc))

	var phone, address string
	if dc.customer != nil {
		phone, address = dc.customer.Phone, dc.customer.Address
	}
	attrs.Set(DerivedContactPhone, deriveContact(dc.after.String(FieldPhone), phone, "客户档案电话"))
	attrs.Set(DerivedContactAddress, deriveContact(dc.after.String(FieldAddress), address, "客户档案地址"))

	return attrs
}

func isInternal(flag string) bool {
	return strings.Contains(flag, markerInternal)
}

// deriveParty resolves a construction-side organization:
// imported value, then the organization itself for internal units, then a
// counterparty bound to the unit in role. Construction unit has no role.
func deriveParty(dc deriveContext, field string, role CounterpartyRole, internal bool) DerivedValue {
	if v := dc.after.String(field); v != "" {
		return DerivedValue{Value: v, Source: SourceImported, Basis: "导入列 " + field}
	}
	if internal && dc.organizationName != "" {
		return DerivedValue{
			Value:  dc.organizationName,
			Source: SourceInferredInternal,
			Basis:  "内部房源，取本组织名称",
		}
	}
	if role != "" {
		if name := boundCounterparty(dc.bindings, role); name != "" {
			return DerivedValue{
				Value:  name,
				Source: SourceInferredRelation,
				Basis:  "房源关联单位（" + string(role) + "）",
			}
		}
	}
	return DerivedValue{Source: SourceMissing}
}

func boundCounterparty(bindings []UnitCounterparty, role CounterpartyRole) string {
	for _, b := range bindings {
		if b.Role == role && b.CounterpartyName != "" {
			return b.CounterpartyName
		}
	}
	return ""
}

func deriveDate(after RowData, field string) DerivedValue {
	if d, ok := after.Date(field); ok {
		return DerivedValue{Value: d, Source: SourceImported, Basis: "导入列 " + field}
	}
	return DerivedValue{Source: SourceMissing}
}

// parseRenameFlag reads yes/no out of free-form rename status text. Negative
// markers are checked first: "未更名" contains "更名".
func parseRenameFlag(raw string) *bool {
	text := strings.TrimSpace(raw)
	for _, m := range []string{"否", "无", "未"} {
		if strings.Contains(text, m) {
			f := false
			return &f
		}
	}
	for _, m := range []string{"是", "已", "更名", "需"} {
		if strings.Contains(text, m) {
			t := true
			return &t
		}
	}
	return nil
}

func deriveReceiptRatio(dc deriveContext) DerivedValue {
	if r, ok := parseRatio(dc.after.String(FieldReceiptRatioInput)); ok {
		return DerivedValue{Value: formatRatio(r), Source: SourceImported, Basis: "导入列 " + FieldReceiptRatioInput}
	}
	received, ok := dc.after.Decimal(FieldActualReceived)
	price := dc.after.NullDecimal(FieldDealPrice)
	if !price.Valid {
		price = dc.dealPrice
	}
	if ok && price.Valid && price.Decimal.IsPositive() {
		return DerivedValue{
			Value:  formatRatio(received.Div(price.Decimal)),
			Source: SourceInferredTxn,
			Basis:  "实收金额 / 成交总价",
		}
	}
	return DerivedValue{Source: SourceMissing}
}

func formatRatio(r decimal.Decimal) string {
	return r.Round(4).String()
}

func deriveContact(imported, fromCustomer, basis string) DerivedValue {
	if imported != "" {
		return DerivedValue{Value: imported, Source: SourceImported, Basis: "导入联系方式"}
	}
	if fromCustomer != "" {
		return DerivedValue{Value: fromCustomer, Source: SourceInferredRelation, Basis: basis}
	}
	return DerivedValue{Source: SourceMissing}
}
