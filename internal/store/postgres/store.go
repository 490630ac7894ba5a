// Package postgres implements core.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/core"
)

// Store runs every core.Tx inside one database transaction.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps a connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx commits when fn returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx core.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Read runs fn in a read-only repeatable-read transaction so a projection
// sees one snapshot.
func (s *Store) Read(ctx context.Context, fn func(tx core.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	return fn(&pgTx{q: tx})
}

type pgTx struct {
	q pgx.Tx
}

var _ core.Tx = (*pgTx)(nil)

func notFound(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return core.NotFound(entity, id)
	}
	return err
}

func createdAt(t time.Time) pgtype.Timestamptz {
	return ToPgTimestamptz(&t)
}

// ----------------------------------------------------------------------------
// Organizations and projects
// ----------------------------------------------------------------------------

func (t *pgTx) InsertOrganization(ctx context.Context, org *core.Organization) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO organizations (id, name, created_at) VALUES ($1, $2, COALESCE($3, now()))`,
		ToPgUUID(org.ID), org.Name, createdAt(org.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

func (t *pgTx) InsertProject(ctx context.Context, p *core.Project) error {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO projects (id, organization_id, project_name, created_at)
		SELECT $1::uuid, o.id, $3::text, COALESCE($4::timestamptz, now()) FROM organizations o WHERE o.id = $2`,
		ToPgUUID(p.ID), ToPgUUID(p.OrganizationID), p.Name, createdAt(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("organization", p.OrganizationID)
	}
	return nil
}

func (t *pgTx) GetProject(ctx context.Context, id string) (core.Project, error) {
	var (
		p          core.Project
		pid, orgID pgtype.UUID
	)
	err := t.q.QueryRow(ctx, `
		SELECT p.id, p.organization_id, o.name, p.project_name, p.created_at
		FROM projects p JOIN organizations o ON o.id = p.organization_id
		WHERE p.id = $1`, ToPgUUID(id)).
		Scan(&pid, &orgID, &p.OrganizationName, &p.Name, &p.CreatedAt)
	if err != nil {
		return core.Project{}, notFound(err, "project", id)
	}
	p.ID = PgUUIDToString(pid)
	p.OrganizationID = PgUUIDToString(orgID)
	return p, nil
}

// ----------------------------------------------------------------------------
// Import logs, rows and audits
// ----------------------------------------------------------------------------

const importLogColumns = `id, organization_id, project_id, source_file_name, source_file_sha256,
	status, total_rows, new_rows, changed_rows, unchanged_rows, error_rows,
	header_mapping, diff_summary, created_by, created_at, updated_at, confirmed_at, rolled_back_at`

func scanImportLog(row pgx.Row) (core.ImportLog, error) {
	var (
		il                   core.ImportLog
		id, orgID, projectID pgtype.UUID
		status               string
		mapping, summary     []byte
		createdBy            pgtype.Text
		confirmed, rolled    pgtype.Timestamptz
	)
	err := row.Scan(&id, &orgID, &projectID, &il.SourceFileName, &il.SourceFileHash,
		&status, &il.Counts.TotalRows, &il.Counts.NewRows, &il.Counts.ChangedRows,
		&il.Counts.UnchangedRows, &il.Counts.ErrorRows,
		&mapping, &summary, &createdBy, &il.CreatedAt, &il.UpdatedAt, &confirmed, &rolled)
	if err != nil {
		return core.ImportLog{}, err
	}
	il.ID = PgUUIDToString(id)
	il.OrganizationID = PgUUIDToString(orgID)
	il.ProjectID = PgUUIDToString(projectID)
	il.Status = core.ImportStatus(status)
	il.CreatedBy = createdBy.String
	il.ConfirmedAt = PgTimestamptzToPtr(confirmed)
	il.RolledBackAt = PgTimestamptzToPtr(rolled)
	if err := unmarshalJSON(mapping, &il.HeaderMapping); err != nil {
		return core.ImportLog{}, fmt.Errorf("decode header_mapping: %w", err)
	}
	if err := unmarshalJSON(summary, &il.Summary); err != nil {
		return core.ImportLog{}, fmt.Errorf("decode diff_summary: %w", err)
	}
	return il, nil
}

func (t *pgTx) InsertImportLog(ctx context.Context, il *core.ImportLog) error {
	mapping := il.HeaderMapping
	if mapping == nil {
		mapping = map[string]string{}
	}
	summary := il.Summary
	if summary == nil {
		summary = map[string]any{}
	}
	mappingJSON, err := marshalJSON(mapping)
	if err != nil {
		return fmt.Errorf("encode header mapping: %w", err)
	}
	summaryJSON, err := marshalJSON(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	_, err = t.q.Exec(ctx, `
		INSERT INTO import_logs (`+importLogColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			COALESCE($15, now()), COALESCE($16, now()), $17, $18)`,
		ToPgUUID(il.ID), ToPgUUID(il.OrganizationID), ToPgUUID(il.ProjectID),
		il.SourceFileName, il.SourceFileHash, string(il.Status),
		il.Counts.TotalRows, il.Counts.NewRows, il.Counts.ChangedRows,
		il.Counts.UnchangedRows, il.Counts.ErrorRows,
		mappingJSON, summaryJSON, ToPgText(il.CreatedBy),
		createdAt(il.CreatedAt), createdAt(il.UpdatedAt),
		ToPgTimestamptz(il.ConfirmedAt), ToPgTimestamptz(il.RolledBackAt))
	if err != nil {
		return fmt.Errorf("insert import log: %w", err)
	}
	return nil
}

func (t *pgTx) InsertImportLogRows(ctx context.Context, importLogID string, rows []core.DiffRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		before, err := marshalJSON(r.BeforeData)
		if err != nil {
			return fmt.Errorf("encode row %d before data: %w", r.RowNo, err)
		}
		after, err := marshalJSON(r.AfterData)
		if err != nil {
			return fmt.Errorf("encode row %d after data: %w", r.RowNo, err)
		}
		diffs := r.FieldDiffs
		if diffs == nil {
			diffs = map[string]core.FieldDiff{}
		}
		fieldDiffs, err := marshalJSON(diffs)
		if err != nil {
			return fmt.Errorf("encode row %d field diffs: %w", r.RowNo, err)
		}
		entity := r.EntityType
		if entity == "" {
			entity = core.EntityUnit
		}
		batch.Queue(`
			INSERT INTO import_log_rows (import_log_id, row_no, action_type, business_key,
				entity_type, before_data, after_data, field_diffs, error_message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			ToPgUUID(importLogID), r.RowNo, string(r.ActionType), ToPgText(r.BusinessKey),
			entity, before, after, fieldDiffs, ToPgText(r.ErrorMessage))
	}

	br := t.q.SendBatch(ctx, batch)
	defer br.Close()
	for _, r := range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert import row %d: %w", r.RowNo, err)
		}
	}
	return br.Close()
}

func (t *pgTx) GetImportLog(ctx context.Context, id string) (core.ImportLog, error) {
	il, err := scanImportLog(t.q.QueryRow(ctx,
		`SELECT `+importLogColumns+` FROM import_logs WHERE id = $1`, ToPgUUID(id)))
	if err != nil {
		return core.ImportLog{}, notFound(err, "import log", id)
	}
	return il, nil
}

func (t *pgTx) LockImportLog(ctx context.Context, id string) (core.ImportLog, error) {
	il, err := scanImportLog(t.q.QueryRow(ctx,
		`SELECT `+importLogColumns+` FROM import_logs WHERE id = $1 FOR UPDATE`, ToPgUUID(id)))
	if err != nil {
		return core.ImportLog{}, notFound(err, "import log", id)
	}
	return il, nil
}

func (t *pgTx) AdvanceImportLog(ctx context.Context, id string, from, to core.ImportStatus, summary map[string]any, at time.Time) error {
	if summary == nil {
		summary = map[string]any{}
	}
	patch, err := marshalJSON(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	tag, err := t.q.Exec(ctx, `
		UPDATE import_logs SET
			status = $3::text,
			diff_summary = diff_summary || $4::jsonb,
			updated_at = $5::timestamptz,
			confirmed_at = CASE WHEN $3::text = 'confirmed' THEN $5::timestamptz ELSE confirmed_at END,
			rolled_back_at = CASE WHEN $3::text = 'rolled_back' THEN $5::timestamptz ELSE rolled_back_at END
		WHERE id = $1 AND status = $2::text`,
		ToPgUUID(id), string(from), string(to), patch, at)
	if err != nil {
		return fmt.Errorf("advance import log: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = t.q.QueryRow(ctx, `SELECT status FROM import_logs WHERE id = $1`, ToPgUUID(id)).Scan(&current)
	if err != nil {
		return notFound(err, "import log", id)
	}
	return &core.StateConflictError{
		ImportLogID: id,
		Operation:   "advance to " + string(to),
		Current:     core.ImportStatus(current),
		Required:    from,
	}
}

func (t *pgTx) ListImportLogRows(ctx context.Context, importLogID string) ([]core.ImportLogRow, error) {
	rows, err := t.q.Query(ctx, `
		SELECT row_no, action_type, business_key, entity_type, before_data, after_data,
			field_diffs, error_message
		FROM import_log_rows WHERE import_log_id = $1 ORDER BY row_no`, ToPgUUID(importLogID))
	if err != nil {
		return nil, fmt.Errorf("list import rows: %w", err)
	}
	defer rows.Close()

	var out []core.ImportLogRow
	for rows.Next() {
		var (
			r                    core.ImportLogRow
			action               string
			businessKey, errMsg  pgtype.Text
			before, after, diffs []byte
		)
		if err := rows.Scan(&r.RowNo, &action, &businessKey, &r.EntityType,
			&before, &after, &diffs, &errMsg); err != nil {
			return nil, fmt.Errorf("scan import row: %w", err)
		}
		r.ImportLogID = importLogID
		r.ActionType = core.ActionType(action)
		r.BusinessKey = businessKey.String
		r.ErrorMessage = errMsg.String
		if err := unmarshalJSON(before, &r.BeforeData); err != nil {
			return nil, fmt.Errorf("decode row %d before data: %w", r.RowNo, err)
		}
		if err := unmarshalJSON(after, &r.AfterData); err != nil {
			return nil, fmt.Errorf("decode row %d after data: %w", r.RowNo, err)
		}
		if err := unmarshalJSON(diffs, &r.FieldDiffs); err != nil {
			return nil, fmt.Errorf("decode row %d field diffs: %w", r.RowNo, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertAudits(ctx context.Context, audits []core.ImportChangeAudit) error {
	if len(audits) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range audits {
		before, err := marshalJSON(a.BeforeValue)
		if err != nil {
			return fmt.Errorf("encode audit before value: %w", err)
		}
		after, err := marshalJSON(a.AfterValue)
		if err != nil {
			return fmt.Errorf("encode audit after value: %w", err)
		}
		id := a.ID
		if id == "" {
			id = uuid.New().String()
		}
		batch.Queue(`
			INSERT INTO import_change_audits (id, import_log_id, row_no, entity_type, business_key,
				field_name, before_value, after_value, applied, error_message, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()))`,
			ToPgUUID(id), ToPgUUID(a.ImportLogID), a.RowNo, a.EntityType, ToPgText(a.BusinessKey),
			a.FieldName, before, after, a.Applied, ToPgText(a.ErrorMessage), createdAt(a.CreatedAt))
	}

	br := t.q.SendBatch(ctx, batch)
	defer br.Close()
	for range audits {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert audit: %w", err)
		}
	}
	return br.Close()
}

func (t *pgTx) ListAudits(ctx context.Context, importLogID string) ([]core.ImportChangeAudit, error) {
	rows, err := t.q.Query(ctx, `
		SELECT id, row_no, entity_type, business_key, field_name, before_value, after_value,
			applied, error_message, created_at
		FROM import_change_audits WHERE import_log_id = $1
		ORDER BY row_no, field_name`, ToPgUUID(importLogID))
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	defer rows.Close()

	var out []core.ImportChangeAudit
	for rows.Next() {
		var (
			a                   core.ImportChangeAudit
			id                  pgtype.UUID
			businessKey, errMsg pgtype.Text
			before, after       []byte
		)
		if err := rows.Scan(&id, &a.RowNo, &a.EntityType, &businessKey, &a.FieldName,
			&before, &after, &a.Applied, &errMsg, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		a.ID = PgUUIDToString(id)
		a.ImportLogID = importLogID
		a.BusinessKey = businessKey.String
		a.ErrorMessage = errMsg.String
		if err := unmarshalJSON(before, &a.BeforeValue); err != nil {
			return nil, fmt.Errorf("decode audit before value: %w", err)
		}
		if err := unmarshalJSON(after, &a.AfterValue); err != nil {
			return nil, fmt.Errorf("decode audit after value: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ----------------------------------------------------------------------------
// Customers
// ----------------------------------------------------------------------------

const customerColumns = `id, name, phone, address, id_card_masked, created_at`

func scanCustomer(row pgx.Row) (core.Customer, error) {
	var (
		c                      core.Customer
		id                     pgtype.UUID
		phone, address, idCard pgtype.Text
	)
	if err := row.Scan(&id, &c.Name, &phone, &address, &idCard, &c.CreatedAt); err != nil {
		return core.Customer{}, err
	}
	c.ID = PgUUIDToString(id)
	c.Phone = phone.String
	c.Address = address.String
	c.IDCardMasked = idCard.String
	return c, nil
}

func (t *pgTx) FindCustomerByName(ctx context.Context, name string) (core.Customer, error) {
	c, err := scanCustomer(t.q.QueryRow(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE name = $1 ORDER BY created_at ASC, id ASC LIMIT 1`, name))
	if err != nil {
		return core.Customer{}, notFound(err, "customer", name)
	}
	return c, nil
}

func (t *pgTx) InsertCustomer(ctx context.Context, c *core.Customer) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))`,
		ToPgUUID(c.ID), c.Name, ToPgText(c.Phone), ToPgText(c.Address),
		ToPgText(c.IDCardMasked), createdAt(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (t *pgTx) GetCustomer(ctx context.Context, id string) (core.Customer, error) {
	c, err := scanCustomer(t.q.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`, ToPgUUID(id)))
	if err != nil {
		return core.Customer{}, notFound(err, "customer", id)
	}
	return c, nil
}

// ----------------------------------------------------------------------------
// Units
// ----------------------------------------------------------------------------

const unitColumns = `id, project_id, unit_code, property_type, area_m2, deal_price, status,
	sale_status_raw, internal_external, current_customer_id, dynamic_attrs, created_at, updated_at`

func scanUnit(row pgx.Row) (core.Unit, error) {
	var (
		u                                     core.Unit
		id, projectID, customerID             pgtype.UUID
		propertyType, saleRaw, internalExtern pgtype.Text
		area, price                           pgtype.Numeric
		status                                string
		attrs                                 []byte
	)
	err := row.Scan(&id, &projectID, &u.UnitCode, &propertyType, &area, &price, &status,
		&saleRaw, &internalExtern, &customerID, &attrs, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return core.Unit{}, err
	}
	u.ID = PgUUIDToString(id)
	u.ProjectID = PgUUIDToString(projectID)
	u.PropertyType = propertyType.String
	u.Area = PgNumericToDecimal(area)
	u.DealPrice = PgNumericToDecimal(price)
	u.Status = core.UnitStatus(status)
	u.SaleStatusRaw = saleRaw.String
	u.InternalExternal = internalExtern.String
	u.CurrentCustomerID = PgUUIDToString(customerID)
	if err := unmarshalJSON(attrs, &u.Attrs); err != nil {
		return core.Unit{}, fmt.Errorf("decode dynamic_attrs: %w", err)
	}
	return u, nil
}

func (t *pgTx) LockUnitByCode(ctx context.Context, projectID, unitCode string) (core.Unit, error) {
	u, err := scanUnit(t.q.QueryRow(ctx, `
		SELECT `+unitColumns+` FROM units
		WHERE project_id = $1 AND unit_code = $2 FOR UPDATE`,
		ToPgUUID(projectID), unitCode))
	if err != nil {
		return core.Unit{}, notFound(err, "unit", unitCode)
	}
	return u, nil
}

func (t *pgTx) InsertUnit(ctx context.Context, u *core.Unit) (bool, error) {
	attrs, err := marshalJSON(u.Attrs)
	if err != nil {
		return false, fmt.Errorf("encode dynamic attrs: %w", err)
	}
	status := u.Status
	if status == "" {
		status = core.UnitAvailable
	}
	tag, err := t.q.Exec(ctx, `
		INSERT INTO units (`+unitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			COALESCE($12, now()), COALESCE($13, now()))
		ON CONFLICT (project_id, unit_code) DO NOTHING`,
		ToPgUUID(u.ID), ToPgUUID(u.ProjectID), u.UnitCode, ToPgText(u.PropertyType),
		ToPgNumeric(u.Area), ToPgNumeric(u.DealPrice), string(status),
		ToPgText(u.SaleStatusRaw), ToPgText(u.InternalExternal), ToPgUUID(u.CurrentCustomerID),
		attrs, createdAt(u.CreatedAt), createdAt(u.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("insert unit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) UpdateUnit(ctx context.Context, u *core.Unit) error {
	attrs, err := marshalJSON(u.Attrs)
	if err != nil {
		return fmt.Errorf("encode dynamic attrs: %w", err)
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE units SET
			property_type = $2, area_m2 = $3, deal_price = $4, status = $5,
			sale_status_raw = $6, internal_external = $7, current_customer_id = $8,
			dynamic_attrs = $9, updated_at = COALESCE($10, now())
		WHERE id = $1`,
		ToPgUUID(u.ID), ToPgText(u.PropertyType), ToPgNumeric(u.Area), ToPgNumeric(u.DealPrice),
		string(u.Status), ToPgText(u.SaleStatusRaw), ToPgText(u.InternalExternal),
		ToPgUUID(u.CurrentCustomerID), attrs, createdAt(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("update unit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("unit", u.ID)
	}
	return nil
}

func (t *pgTx) ListUnitsByCodes(ctx context.Context, projectID string, codes []string) ([]core.Unit, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	rows, err := t.q.Query(ctx, `
		SELECT `+unitColumns+` FROM units
		WHERE project_id = $1 AND unit_code = ANY($2)
		ORDER BY unit_code`, ToPgUUID(projectID), codes)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var out []core.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (t *pgTx) GetUnit(ctx context.Context, id string) (core.Unit, error) {
	u, err := scanUnit(t.q.QueryRow(ctx,
		`SELECT `+unitColumns+` FROM units WHERE id = $1`, ToPgUUID(id)))
	if err != nil {
		return core.Unit{}, notFound(err, "unit", id)
	}
	return u, nil
}

// DeleteUnitIfUntouched is one guarded statement so a ledger entry or file
// added by another transaction keeps the unit alive.
func (t *pgTx) DeleteUnitIfUntouched(ctx context.Context, projectID, unitCode, importLogID string) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		DELETE FROM units u
		WHERE u.project_id = $1
		  AND u.unit_code = $2
		  AND u.dynamic_attrs->>'created_import_log_id' = $3
		  AND NOT EXISTS (SELECT 1 FROM transactions t WHERE t.unit_id = u.id)
		  AND NOT EXISTS (SELECT 1 FROM files f WHERE f.unit_id = u.id)`,
		ToPgUUID(projectID), unitCode, importLogID)
	if err != nil {
		return false, fmt.Errorf("delete unit %s: %w", unitCode, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ----------------------------------------------------------------------------
// Transactions
// ----------------------------------------------------------------------------

func (t *pgTx) InsertTransaction(ctx context.Context, txn *core.Transaction) error {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO transactions (id, unit_id, txn_type, occurred_at, amount, payment_method,
			source_import_log_id, created_by, note, created_at)
		SELECT $1::uuid, u.id, $3::text, $4::timestamptz, $5::numeric, $6::text, $7::uuid,
			$8::text, $9::text, COALESCE($10::timestamptz, now())
		FROM units u WHERE u.id = $2`,
		ToPgUUID(txn.ID), ToPgUUID(txn.UnitID), string(txn.TxnType), txn.OccurredAt,
		ToPgNumeric(decimal.NewNullDecimal(txn.Amount)), ToPgText(txn.PaymentMethod),
		ToPgUUID(txn.SourceImportLogID), ToPgText(txn.CreatedBy), ToPgText(txn.Note),
		createdAt(txn.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("unit", txn.UnitID)
	}
	return nil
}

func (t *pgTx) DeleteTransactionsByImport(ctx context.Context, importLogID string) (int64, error) {
	tag, err := t.q.Exec(ctx,
		`DELETE FROM transactions WHERE source_import_log_id = $1`, ToPgUUID(importLogID))
	if err != nil {
		return 0, fmt.Errorf("delete import transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) ListTransactionsByUnit(ctx context.Context, unitID string) ([]core.Transaction, error) {
	rows, err := t.q.Query(ctx, `
		SELECT id, txn_type, occurred_at, amount, payment_method, source_import_log_id,
			created_by, note, created_at
		FROM transactions WHERE unit_id = $1
		ORDER BY occurred_at DESC, created_at DESC`, ToPgUUID(unitID))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			txn                     core.Transaction
			id, importID            pgtype.UUID
			txnType                 string
			amount                  pgtype.Numeric
			method, createdBy, note pgtype.Text
		)
		if err := rows.Scan(&id, &txnType, &txn.OccurredAt, &amount, &method, &importID,
			&createdBy, &note, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txn.ID = PgUUIDToString(id)
		txn.UnitID = unitID
		txn.TxnType = core.TxnType(txnType)
		txn.Amount = PgNumericToDecimal(amount).Decimal
		txn.PaymentMethod = method.String
		txn.SourceImportLogID = PgUUIDToString(importID)
		txn.CreatedBy = createdBy.String
		txn.Note = note.String
		out = append(out, txn)
	}
	return out, rows.Err()
}

// ----------------------------------------------------------------------------
// Counterparties
// ----------------------------------------------------------------------------

func (t *pgTx) UpsertCounterparty(ctx context.Context, name string) (core.Counterparty, error) {
	var (
		cp core.Counterparty
		id pgtype.UUID
	)
	err := t.q.QueryRow(ctx, `
		INSERT INTO counterparties (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, created_at`,
		ToPgUUID(uuid.New().String()), name).Scan(&id, &cp.Name, &cp.CreatedAt)
	if err != nil {
		return core.Counterparty{}, fmt.Errorf("upsert counterparty: %w", err)
	}
	cp.ID = PgUUIDToString(id)
	return cp, nil
}

func (t *pgTx) BindCounterparty(ctx context.Context, unitID, counterpartyID string, role core.CounterpartyRole) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO unit_counterparties (unit_id, counterparty_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		ToPgUUID(unitID), ToPgUUID(counterpartyID), string(role))
	if err != nil {
		return fmt.Errorf("bind counterparty: %w", err)
	}
	return nil
}

func (t *pgTx) ListUnitCounterparties(ctx context.Context, unitID string) ([]core.UnitCounterparty, error) {
	rows, err := t.q.Query(ctx, `
		SELECT uc.counterparty_id, c.name, uc.role
		FROM unit_counterparties uc JOIN counterparties c ON c.id = uc.counterparty_id
		WHERE uc.unit_id = $1
		ORDER BY uc.created_at, c.name`, ToPgUUID(unitID))
	if err != nil {
		return nil, fmt.Errorf("list unit counterparties: %w", err)
	}
	defer rows.Close()

	var out []core.UnitCounterparty
	for rows.Next() {
		var (
			b    core.UnitCounterparty
			cpID pgtype.UUID
			role string
		)
		if err := rows.Scan(&cpID, &b.CounterpartyName, &role); err != nil {
			return nil, fmt.Errorf("scan unit counterparty: %w", err)
		}
		b.UnitID = unitID
		b.CounterpartyID = PgUUIDToString(cpID)
		b.Role = core.CounterpartyRole(role)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ----------------------------------------------------------------------------
// Files
// ----------------------------------------------------------------------------

func (t *pgTx) InsertUnitFile(ctx context.Context, f *core.UnitFile) error {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO files (id, unit_id, file_name, created_at)
		SELECT $1::uuid, u.id, $3::text, COALESCE($4::timestamptz, now()) FROM units u WHERE u.id = $2`,
		ToPgUUID(f.ID), ToPgUUID(f.UnitID), f.FileName, createdAt(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("unit", f.UnitID)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Snapshot
// ----------------------------------------------------------------------------

func (t *pgTx) ProjectSnapshot(ctx context.Context, projectID string) ([]core.UnitSnapshot, error) {
	rows, err := t.q.Query(ctx, `
		SELECT p.project_name, u.unit_code, u.property_type, u.area_m2, u.deal_price,
			u.sale_status_raw, u.internal_external, c.name,
			lt.amount, lt.payment_method, lt.occurred_at
		FROM units u
		JOIN projects p ON p.id = u.project_id
		LEFT JOIN customers c ON c.id = u.current_customer_id
		LEFT JOIN LATERAL (
			SELECT t.amount, t.payment_method, t.occurred_at
			FROM transactions t
			WHERE t.unit_id = u.id
			ORDER BY t.occurred_at DESC, t.created_at DESC
			LIMIT 1
		) lt ON true
		WHERE u.project_id = $1
		ORDER BY u.unit_code`, ToPgUUID(projectID))
	if err != nil {
		return nil, fmt.Errorf("project snapshot: %w", err)
	}
	defer rows.Close()

	var out []core.UnitSnapshot
	for rows.Next() {
		var (
			s                                         core.UnitSnapshot
			propertyType, saleRaw, internal, customer pgtype.Text
			method                                    pgtype.Text
			area, price, amount                       pgtype.Numeric
			occurred                                  pgtype.Timestamptz
		)
		if err := rows.Scan(&s.ProjectName, &s.UnitCode, &propertyType, &area, &price,
			&saleRaw, &internal, &customer, &amount, &method, &occurred); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		s.PropertyType = propertyType.String
		s.Area = PgNumericToDecimal(area)
		s.DealPrice = PgNumericToDecimal(price)
		s.SaleStatusRaw = saleRaw.String
		s.InternalExternal = internal.String
		s.CustomerName = customer.String
		s.LatestAmount = PgNumericToDecimal(amount)
		s.LatestMethod = method.String
		s.LatestOccurredAt = PgTimestamptzToPtr(occurred)
		out = append(out, s)
	}
	return out, rows.Err()
}
