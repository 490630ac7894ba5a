// Package memory is an in-process implementation of core.Store.
//
// A transaction holds the store mutex for its whole duration, works on a
// deep copy of the state, and replaces the live state only when the
// callback returns nil and the context is still alive. Concurrent
// transactions are therefore serialized and a failed one leaves no trace.
// Nothing is persisted across restarts.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/core"
)

// Store is a mutex-guarded in-memory core.Store.
type Store struct {
	mu    sync.RWMutex
	state state
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

// WithTx implements core.Store.
func (s *Store) WithTx(ctx context.Context, fn func(tx core.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// Read implements core.Store. Writes inside fn fail with errReadOnly.
func (s *Store) Read(ctx context.Context, fn func(tx core.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{state: s.state, readOnly: true})
}

type unitKey struct {
	projectID string
	unitCode  string
}

type state struct {
	orgs           map[string]core.Organization
	projects       map[string]core.Project
	imports        map[string]core.ImportLog
	rows           map[string][]core.ImportLogRow
	audits         []core.ImportChangeAudit
	customers      []core.Customer
	units          map[string]core.Unit
	unitIndex      map[unitKey]string
	txns           []core.Transaction
	counterparties []core.Counterparty
	bindings       []core.UnitCounterparty
	files          []core.UnitFile
}

func newState() state {
	return state{
		orgs:      make(map[string]core.Organization),
		projects:  make(map[string]core.Project),
		imports:   make(map[string]core.ImportLog),
		rows:      make(map[string][]core.ImportLogRow),
		units:     make(map[string]core.Unit),
		unitIndex: make(map[unitKey]string),
	}
}

// clone copies everything mutable. Import rows and audits are never
// modified after insert, so their slices are shared.
func (s state) clone() state {
	out := state{
		orgs:           maps.Clone(s.orgs),
		projects:       maps.Clone(s.projects),
		imports:        make(map[string]core.ImportLog, len(s.imports)),
		rows:           maps.Clone(s.rows),
		audits:         append([]core.ImportChangeAudit(nil), s.audits...),
		customers:      append([]core.Customer(nil), s.customers...),
		units:          make(map[string]core.Unit, len(s.units)),
		unitIndex:      maps.Clone(s.unitIndex),
		txns:           append([]core.Transaction(nil), s.txns...),
		counterparties: append([]core.Counterparty(nil), s.counterparties...),
		bindings:       append([]core.UnitCounterparty(nil), s.bindings...),
		files:          append([]core.UnitFile(nil), s.files...),
	}
	for id, il := range s.imports {
		out.imports[id] = cloneImportLog(il)
	}
	for id, u := range s.units {
		out.units[id] = cloneUnit(u)
	}
	return out
}

func cloneImportLog(il core.ImportLog) core.ImportLog {
	il.HeaderMapping = maps.Clone(il.HeaderMapping)
	il.Summary = maps.Clone(il.Summary)
	if il.ConfirmedAt != nil {
		t := *il.ConfirmedAt
		il.ConfirmedAt = &t
	}
	if il.RolledBackAt != nil {
		t := *il.RolledBackAt
		il.RolledBackAt = &t
	}
	return il
}

func cloneUnit(u core.Unit) core.Unit {
	u.Attrs = u.Attrs.Clone()
	return u
}

func cloneRow(r core.DiffRow) core.DiffRow {
	r.BeforeData = maps.Clone(r.BeforeData)
	r.AfterData = maps.Clone(r.AfterData)
	r.FieldDiffs = maps.Clone(r.FieldDiffs)
	return r
}

type memTx struct {
	state    state
	readOnly bool
}

func (t *memTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

var _ core.Tx = (*memTx)(nil)

// ----------------------------------------------------------------------------
// Organizations and projects
// ----------------------------------------------------------------------------

func (t *memTx) InsertOrganization(_ context.Context, org *core.Organization) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.orgs[org.ID]; ok {
		return errDuplicate("organizations", org.ID)
	}
	t.state.orgs[org.ID] = *org
	return nil
}

func (t *memTx) InsertProject(_ context.Context, p *core.Project) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.orgs[p.OrganizationID]; !ok {
		return core.NotFound("organization", p.OrganizationID)
	}
	if _, ok := t.state.projects[p.ID]; ok {
		return errDuplicate("projects", p.ID)
	}
	stored := *p
	stored.OrganizationName = ""
	t.state.projects[p.ID] = stored
	return nil
}

func (t *memTx) GetProject(_ context.Context, id string) (core.Project, error) {
	p, ok := t.state.projects[id]
	if !ok {
		return core.Project{}, core.NotFound("project", id)
	}
	p.OrganizationName = t.state.orgs[p.OrganizationID].Name
	return p, nil
}

// ----------------------------------------------------------------------------
// Import logs, rows and audits
// ----------------------------------------------------------------------------

func (t *memTx) InsertImportLog(_ context.Context, il *core.ImportLog) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.projects[il.ProjectID]; !ok {
		return core.NotFound("project", il.ProjectID)
	}
	if _, ok := t.state.imports[il.ID]; ok {
		return errDuplicate("import_logs", il.ID)
	}
	t.state.imports[il.ID] = cloneImportLog(*il)
	return nil
}

func (t *memTx) InsertImportLogRows(_ context.Context, importLogID string, rows []core.DiffRow) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.imports[importLogID]; !ok {
		return core.NotFound("import log", importLogID)
	}
	existing := t.state.rows[importLogID]
	seen := make(map[int]bool, len(existing)+len(rows))
	for _, r := range existing {
		seen[r.RowNo] = true
	}
	stored := append([]core.ImportLogRow(nil), existing...)
	for _, r := range rows {
		if seen[r.RowNo] {
			return errDuplicate("import_log_rows", importLogID)
		}
		seen[r.RowNo] = true
		stored = append(stored, core.ImportLogRow{ImportLogID: importLogID, DiffRow: cloneRow(r)})
	}
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].RowNo < stored[j].RowNo })
	t.state.rows[importLogID] = stored
	return nil
}

func (t *memTx) GetImportLog(_ context.Context, id string) (core.ImportLog, error) {
	il, ok := t.state.imports[id]
	if !ok {
		return core.ImportLog{}, core.NotFound("import log", id)
	}
	return cloneImportLog(il), nil
}

// LockImportLog is GetImportLog: the store mutex already serializes
// transactions.
func (t *memTx) LockImportLog(ctx context.Context, id string) (core.ImportLog, error) {
	if err := t.writable(); err != nil {
		return core.ImportLog{}, err
	}
	return t.GetImportLog(ctx, id)
}

func (t *memTx) AdvanceImportLog(_ context.Context, id string, from, to core.ImportStatus, summary map[string]any, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	il, ok := t.state.imports[id]
	if !ok {
		return core.NotFound("import log", id)
	}
	if il.Status != from {
		return &core.StateConflictError{ImportLogID: id, Operation: "advance to " + string(to), Current: il.Status, Required: from}
	}
	il = cloneImportLog(il)
	il.Status = to
	il.UpdatedAt = at
	if il.Summary == nil {
		il.Summary = make(map[string]any, len(summary))
	}
	maps.Copy(il.Summary, summary)
	switch to {
	case core.StatusConfirmed:
		il.ConfirmedAt = &at
	case core.StatusRolledBack:
		il.RolledBackAt = &at
	}
	t.state.imports[id] = il
	return nil
}

func (t *memTx) ListImportLogRows(_ context.Context, importLogID string) ([]core.ImportLogRow, error) {
	rows := t.state.rows[importLogID]
	out := make([]core.ImportLogRow, len(rows))
	for i, r := range rows {
		out[i] = core.ImportLogRow{ImportLogID: r.ImportLogID, DiffRow: cloneRow(r.DiffRow)}
	}
	return out, nil
}

func (t *memTx) InsertAudits(_ context.Context, audits []core.ImportChangeAudit) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, a := range audits {
		if _, ok := t.state.imports[a.ImportLogID]; !ok {
			return core.NotFound("import log", a.ImportLogID)
		}
	}
	t.state.audits = append(t.state.audits, audits...)
	return nil
}

func (t *memTx) ListAudits(_ context.Context, importLogID string) ([]core.ImportChangeAudit, error) {
	var out []core.ImportChangeAudit
	for _, a := range t.state.audits {
		if a.ImportLogID == importLogID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RowNo != out[j].RowNo {
			return out[i].RowNo < out[j].RowNo
		}
		return out[i].FieldName < out[j].FieldName
	})
	return out, nil
}

// ----------------------------------------------------------------------------
// Customers
// ----------------------------------------------------------------------------

// FindCustomerByName returns the earliest created customer with name.
func (t *memTx) FindCustomerByName(_ context.Context, name string) (core.Customer, error) {
	var (
		found core.Customer
		ok    bool
	)
	for _, c := range t.state.customers {
		if c.Name != name {
			continue
		}
		if !ok || c.CreatedAt.Before(found.CreatedAt) {
			found, ok = c, true
		}
	}
	if !ok {
		return core.Customer{}, core.NotFound("customer", name)
	}
	return found, nil
}

func (t *memTx) InsertCustomer(_ context.Context, c *core.Customer) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.state.customers = append(t.state.customers, *c)
	return nil
}

func (t *memTx) GetCustomer(_ context.Context, id string) (core.Customer, error) {
	for _, c := range t.state.customers {
		if c.ID == id {
			return c, nil
		}
	}
	return core.Customer{}, core.NotFound("customer", id)
}

// ----------------------------------------------------------------------------
// Units
// ----------------------------------------------------------------------------

func (t *memTx) LockUnitByCode(_ context.Context, projectID, unitCode string) (core.Unit, error) {
	id, ok := t.state.unitIndex[unitKey{projectID, unitCode}]
	if !ok {
		return core.Unit{}, core.NotFound("unit", unitCode)
	}
	return cloneUnit(t.state.units[id]), nil
}

func (t *memTx) InsertUnit(_ context.Context, u *core.Unit) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	if _, ok := t.state.projects[u.ProjectID]; !ok {
		return false, core.NotFound("project", u.ProjectID)
	}
	key := unitKey{u.ProjectID, u.UnitCode}
	if _, ok := t.state.unitIndex[key]; ok {
		return false, nil
	}
	t.state.units[u.ID] = cloneUnit(*u)
	t.state.unitIndex[key] = u.ID
	return true, nil
}

func (t *memTx) UpdateUnit(_ context.Context, u *core.Unit) error {
	if err := t.writable(); err != nil {
		return err
	}
	prev, ok := t.state.units[u.ID]
	if !ok {
		return core.NotFound("unit", u.ID)
	}
	next := cloneUnit(*u)
	next.ProjectID, next.UnitCode, next.CreatedAt = prev.ProjectID, prev.UnitCode, prev.CreatedAt
	t.state.units[u.ID] = next
	return nil
}

func (t *memTx) ListUnitsByCodes(_ context.Context, projectID string, codes []string) ([]core.Unit, error) {
	var out []core.Unit
	for _, code := range codes {
		if id, ok := t.state.unitIndex[unitKey{projectID, code}]; ok {
			out = append(out, cloneUnit(t.state.units[id]))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitCode < out[j].UnitCode })
	return out, nil
}

func (t *memTx) GetUnit(_ context.Context, id string) (core.Unit, error) {
	u, ok := t.state.units[id]
	if !ok {
		return core.Unit{}, core.NotFound("unit", id)
	}
	return cloneUnit(u), nil
}

func (t *memTx) DeleteUnitIfUntouched(_ context.Context, projectID, unitCode, importLogID string) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	key := unitKey{projectID, unitCode}
	id, ok := t.state.unitIndex[key]
	if !ok {
		return false, nil
	}
	if t.state.units[id].Attrs.CreatedImportLogID != importLogID {
		return false, nil
	}
	for _, txn := range t.state.txns {
		if txn.UnitID == id {
			return false, nil
		}
	}
	for _, f := range t.state.files {
		if f.UnitID == id {
			return false, nil
		}
	}

	delete(t.state.units, id)
	delete(t.state.unitIndex, key)
	kept := t.state.bindings[:0:0]
	for _, b := range t.state.bindings {
		if b.UnitID != id {
			kept = append(kept, b)
		}
	}
	t.state.bindings = kept
	return true, nil
}

// ----------------------------------------------------------------------------
// Transactions
// ----------------------------------------------------------------------------

func (t *memTx) InsertTransaction(_ context.Context, txn *core.Transaction) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.units[txn.UnitID]; !ok {
		return core.NotFound("unit", txn.UnitID)
	}
	t.state.txns = append(t.state.txns, *txn)
	return nil
}

func (t *memTx) DeleteTransactionsByImport(_ context.Context, importLogID string) (int64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	var deleted int64
	kept := t.state.txns[:0:0]
	for _, txn := range t.state.txns {
		if txn.SourceImportLogID == importLogID {
			deleted++
			continue
		}
		kept = append(kept, txn)
	}
	t.state.txns = kept
	return deleted, nil
}

// ListTransactionsByUnit returns the unit's ledger, newest first.
func (t *memTx) ListTransactionsByUnit(_ context.Context, unitID string) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, txn := range t.state.txns {
		if txn.UnitID == unitID {
			out = append(out, txn)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(txns []core.Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		if !txns[i].OccurredAt.Equal(txns[j].OccurredAt) {
			return txns[i].OccurredAt.After(txns[j].OccurredAt)
		}
		return txns[i].CreatedAt.After(txns[j].CreatedAt)
	})
}

// ----------------------------------------------------------------------------
// Counterparties and files
// ----------------------------------------------------------------------------

func (t *memTx) UpsertCounterparty(_ context.Context, name string) (core.Counterparty, error) {
	if err := t.writable(); err != nil {
		return core.Counterparty{}, err
	}
	for _, cp := range t.state.counterparties {
		if cp.Name == name {
			return cp, nil
		}
	}
	cp := core.Counterparty{ID: newID(), Name: name, CreatedAt: time.Now()}
	t.state.counterparties = append(t.state.counterparties, cp)
	return cp, nil
}

func (t *memTx) BindCounterparty(_ context.Context, unitID, counterpartyID string, role core.CounterpartyRole) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.units[unitID]; !ok {
		return core.NotFound("unit", unitID)
	}
	for _, b := range t.state.bindings {
		if b.UnitID == unitID && b.CounterpartyID == counterpartyID && b.Role == role {
			return nil
		}
	}
	t.state.bindings = append(t.state.bindings, core.UnitCounterparty{
		UnitID:         unitID,
		CounterpartyID: counterpartyID,
		Role:           role,
	})
	return nil
}

func (t *memTx) ListUnitCounterparties(_ context.Context, unitID string) ([]core.UnitCounterparty, error) {
	names := make(map[string]string, len(t.state.counterparties))
	for _, cp := range t.state.counterparties {
		names[cp.ID] = cp.Name
	}
	var out []core.UnitCounterparty
	for _, b := range t.state.bindings {
		if b.UnitID == unitID {
			b.CounterpartyName = names[b.CounterpartyID]
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *memTx) InsertUnitFile(_ context.Context, f *core.UnitFile) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.units[f.UnitID]; !ok {
		return core.NotFound("unit", f.UnitID)
	}
	t.state.files = append(t.state.files, *f)
	return nil
}

// ----------------------------------------------------------------------------
// Snapshots
// ----------------------------------------------------------------------------

func (t *memTx) ProjectSnapshot(_ context.Context, projectID string) ([]core.UnitSnapshot, error) {
	p, ok := t.state.projects[projectID]
	if !ok {
		return nil, core.NotFound("project", projectID)
	}

	latest := make(map[string]core.Transaction)
	for _, txn := range t.state.txns {
		cur, seen := latest[txn.UnitID]
		if !seen || txn.OccurredAt.After(cur.OccurredAt) ||
			(txn.OccurredAt.Equal(cur.OccurredAt) && txn.CreatedAt.After(cur.CreatedAt)) {
			latest[txn.UnitID] = txn
		}
	}
	customers := make(map[string]string, len(t.state.customers))
	for _, c := range t.state.customers {
		customers[c.ID] = c.Name
	}

	var out []core.UnitSnapshot
	for _, u := range t.state.units {
		if u.ProjectID != projectID {
			continue
		}
		snap := core.UnitSnapshot{
			ProjectName:      p.Name,
			UnitCode:         u.UnitCode,
			PropertyType:     u.PropertyType,
			Area:             u.Area,
			DealPrice:        u.DealPrice,
			SaleStatusRaw:    u.SaleStatusRaw,
			InternalExternal: u.InternalExternal,
			CustomerName:     customers[u.CurrentCustomerID],
		}
		if txn, ok := latest[u.ID]; ok {
			at := txn.OccurredAt
			snap.LatestAmount.Decimal, snap.LatestAmount.Valid = txn.Amount, true
			snap.LatestMethod = txn.PaymentMethod
			snap.LatestOccurredAt = &at
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitCode < out[j].UnitCode })
	return out, nil
}
