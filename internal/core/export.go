package core

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	sheetPreview = "Preview"
	sheetAudits  = "Audits"
)

var previewHeaders = []string{
	"项目", "房号", "业态", "面积(㎡)", "成交总价", "状态", "状态依据", "销售状态原文", "内外部",
	"施工单位", "施工单位来源", "总包单位", "总包单位来源", "分包单位", "分包单位来源",
	"认购日期", "认购日期来源", "签约日期", "签约日期来源", "更名状态", "收款比例", "收款比例来源",
	"客户", "电话", "累计实收", "交易笔数", "最近交易类型", "最近交易日期", "最近交易金额", "最近付款方式",
	"最近导入", "更新时间",
}

var auditHeaders = []string{
	"行号", "实体", "业务键", "字段", "修改前", "修改后", "已应用", "错误",
}

// ExportWorkbook writes the committed preview and the audit trail of an
// import as an .xlsx workbook. Both sheets come from one read.
func (s *Service) ExportWorkbook(ctx context.Context, importLogID string, w io.Writer) error {
	var (
		preview []PreviewRow
		audits  []ImportChangeAudit
	)
	err := s.store.Read(ctx, func(tx Tx) error {
		var err error
		if preview, err = s.committedPreview(ctx, tx, importLogID); err != nil {
			return err
		}
		if audits, err = tx.ListAudits(ctx, importLogID); err != nil {
			return fmt.Errorf("load audits: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetPreview); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(sheetAudits); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	if err := writeRow(f, sheetPreview, 1, toCells(previewHeaders)); err != nil {
		return err
	}
	for i, p := range preview {
		if err := writeRow(f, sheetPreview, i+2, s.previewCells(p)); err != nil {
			return err
		}
	}

	if err := writeRow(f, sheetAudits, 1, toCells(auditHeaders)); err != nil {
		return err
	}
	for i, a := range audits {
		cells := []any{
			a.RowNo, a.EntityType, a.BusinessKey, a.FieldName,
			cellValue(a.BeforeValue), cellValue(a.AfterValue), a.Applied, a.ErrorMessage,
		}
		if err := writeRow(f, sheetAudits, i+2, cells); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (s *Service) previewCells(p PreviewRow) []any {
	var lastAt string
	if p.LastTxnOccurredAt != nil {
		lastAt = p.LastTxnOccurredAt.Format(time.DateOnly)
	}
	return []any{
		p.ProjectName, p.UnitCode, p.PropertyType, nullDecimalCell(p.AreaM2), nullDecimalCell(p.DealPrice),
		p.StatusDisplay, p.StatusBasis, p.SaleStatusRaw, p.InternalExternal,
		p.ConstructionUnit.Value, string(p.ConstructionUnit.Source),
		p.GeneralContractorUnit.Value, string(p.GeneralContractorUnit.Source),
		p.SubcontractorUnit.Value, string(p.SubcontractorUnit.Source),
		p.SubscribeDate.Value, string(p.SubscribeDate.Source),
		p.SignDate.Value, string(p.SignDate.Source),
		p.RenameStatus.Value,
		p.ReceiptRatio.Value, string(p.ReceiptRatio.Source),
		p.CustomerName, p.Phone, p.TotalReceived.InexactFloat64(), p.TransactionCount,
		string(p.LastTxnType), lastAt, nullDecimalCell(p.LastTxnAmount), p.LastPaymentMethod,
		p.LastImportLogID, p.UpdatedAt.In(s.loc).Format(time.DateTime),
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toCells(headers []string) []any {
	cells := make([]any, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	return cells
}

func nullDecimalCell(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.InexactFloat64()
}

func cellValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64, int:
		return x
	default:
		return fmt.Sprint(x)
	}
}
