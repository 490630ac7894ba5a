package core

import (
	"context"
	"time"
)

// Store is the persistence port. WithTx runs fn in one atomic transaction:
// everything fn wrote is committed when it returns nil and discarded
// otherwise. Read runs fn against a consistent view for projections and
// must not be used for writes.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Read(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of repository operations available inside a transaction.
// Lookups that find nothing return an error matching ErrNotFound.
type Tx interface {
	InsertOrganization(ctx context.Context, org *Organization) error
	InsertProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (Project, error)

	InsertImportLog(ctx context.Context, log *ImportLog) error
	InsertImportLogRows(ctx context.Context, importLogID string, rows []DiffRow) error
	GetImportLog(ctx context.Context, id string) (ImportLog, error)
	// LockImportLog reads the import log and holds a row lock on it until
	// the transaction ends.
	LockImportLog(ctx context.Context, id string) (ImportLog, error)
	// AdvanceImportLog moves the log from one status to the next and merges
	// summary into its summary bag.
	AdvanceImportLog(ctx context.Context, id string, from, to ImportStatus, summary map[string]any, at time.Time) error
	ListImportLogRows(ctx context.Context, importLogID string) ([]ImportLogRow, error)

	InsertAudits(ctx context.Context, audits []ImportChangeAudit) error
	ListAudits(ctx context.Context, importLogID string) ([]ImportChangeAudit, error)

	FindCustomerByName(ctx context.Context, name string) (Customer, error)
	InsertCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, id string) (Customer, error)

	// LockUnitByCode reads a unit and holds a row lock on it.
	LockUnitByCode(ctx context.Context, projectID, unitCode string) (Unit, error)
	// InsertUnit inserts u unless (ProjectID, UnitCode) is taken, in which
	// case it returns false and writes nothing.
	InsertUnit(ctx context.Context, u *Unit) (bool, error)
	UpdateUnit(ctx context.Context, u *Unit) error
	ListUnitsByCodes(ctx context.Context, projectID string, codes []string) ([]Unit, error)
	GetUnit(ctx context.Context, id string) (Unit, error)
	// DeleteUnitIfUntouched deletes the unit only when its attributes still
	// name importLogID as creator and it has no transactions and no files.
	DeleteUnitIfUntouched(ctx context.Context, projectID, unitCode, importLogID string) (bool, error)

	InsertTransaction(ctx context.Context, t *Transaction) error
	DeleteTransactionsByImport(ctx context.Context, importLogID string) (int64, error)
	ListTransactionsByUnit(ctx context.Context, unitID string) ([]Transaction, error)

	// UpsertCounterparty returns the counterparty with name, creating it
	// when absent.
	UpsertCounterparty(ctx context.Context, name string) (Counterparty, error)
	// BindCounterparty links a counterparty to a unit; repeated calls are
	// no-ops.
	BindCounterparty(ctx context.Context, unitID, counterpartyID string, role CounterpartyRole) error
	ListUnitCounterparties(ctx context.Context, unitID string) ([]UnitCounterparty, error)

	InsertUnitFile(ctx context.Context, f *UnitFile) error

	ProjectSnapshot(ctx context.Context, projectID string) ([]UnitSnapshot, error)
}
