package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/logging"
	"github.com/shopspring/decimal"
)

// CreateOrganization creates an organization.
func (s *Service) CreateOrganization(ctx context.Context, name string) (Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Organization{}, invalidInput("organization name is required")
	}
	org := Organization{ID: s.newID(), Name: name, CreatedAt: s.now()}
	if err := s.store.WithTx(ctx, func(tx Tx) error {
		return tx.InsertOrganization(ctx, &org)
	}); err != nil {
		return Organization{}, fmt.Errorf("create organization: %w", err)
	}
	return org, nil
}

// CreateProject creates a project under an existing organization.
func (s *Service) CreateProject(ctx context.Context, organizationID, name string) (Project, error) {
	name = strings.TrimSpace(name)
	if organizationID == "" || name == "" {
		return Project{}, invalidInput("organizationId and name are required")
	}
	p := Project{ID: s.newID(), OrganizationID: organizationID, Name: name, CreatedAt: s.now()}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertProject(ctx, &p); err != nil {
			return err
		}
		var err error
		p, err = tx.GetProject(ctx, p.ID)
		return err
	})
	if err != nil {
		return Project{}, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

// RecordTransactionInput is a manually entered ledger entry.
type RecordTransactionInput struct {
	UnitID        string
	TxnType       TxnType
	Amount        decimal.Decimal
	OccurredAt    time.Time
	PaymentMethod string
	CreatedBy     string
	Note          string
}

// RecordTransaction appends a manual transaction to a unit's ledger. Manual
// entries have no source import, so rollback never removes them and a unit
// holding one is never deleted by rollback.
func (s *Service) RecordTransaction(ctx context.Context, in RecordTransactionInput) (Transaction, error) {
	if in.UnitID == "" {
		return Transaction{}, invalidInput("unitId is required")
	}
	if !in.TxnType.Valid() {
		return Transaction{}, invalidInput("invalid enum: txnType %q", in.TxnType)
	}
	if !in.Amount.IsPositive() {
		return Transaction{}, invalidInput("amount must be positive")
	}

	now := s.now()
	txn := Transaction{
		ID:            s.newID(),
		UnitID:        in.UnitID,
		TxnType:       in.TxnType,
		OccurredAt:    in.OccurredAt,
		Amount:        in.Amount,
		PaymentMethod: strings.TrimSpace(in.PaymentMethod),
		CreatedBy:     firstNonEmpty(in.CreatedBy, ActorIDFromContext(ctx)),
		Note:          in.Note,
		CreatedAt:     now,
	}
	if txn.OccurredAt.IsZero() {
		txn.OccurredAt = now
	}

	err := s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetUnit(ctx, in.UnitID); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, &txn)
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("record transaction: %w", err)
	}

	logging.WithFields(ctx, "unit_id", in.UnitID).Info("manual transaction recorded",
		"txn_type", txn.TxnType, "amount", txn.Amount.String())
	return txn, nil
}

// AttachFile links a document to a unit.
func (s *Service) AttachFile(ctx context.Context, unitID, fileName string) (UnitFile, error) {
	fileName = strings.TrimSpace(fileName)
	if unitID == "" || fileName == "" {
		return UnitFile{}, invalidInput("unitId and fileName are required")
	}
	f := UnitFile{ID: s.newID(), UnitID: unitID, FileName: fileName, CreatedAt: s.now()}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetUnit(ctx, unitID); err != nil {
			return err
		}
		return tx.InsertUnitFile(ctx, &f)
	})
	if err != nil {
		return UnitFile{}, fmt.Errorf("attach file: %w", err)
	}
	return f, nil
}
