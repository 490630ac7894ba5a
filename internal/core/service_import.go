package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/logging"
)

// CreateImportInput describes one spreadsheet upload.
type CreateImportInput struct {
	OrganizationID        string
	ProjectID             string
	FileName              string
	File                  io.Reader
	CreatedBy             string
	HeaderMappingOverride map[string]string
}

// CreateImportResult is returned by CreateImportAndDiff.
type CreateImportResult struct {
	ImportLogID   string            `json:"importLogId"`
	HeaderMapping map[string]string `json:"headerMapping"`
	Rows          []DiffRow         `json:"rows"`
	Summary       RowSummary        `json:"summary"`
}

// CreateImportAndDiff stores the uploaded file, asks the diff service to
// compare it with the project's current units, and persists the import log
// with its rows in state diffed. No unit, customer or transaction is touched.
func (s *Service) CreateImportAndDiff(ctx context.Context, in CreateImportInput) (CreateImportResult, error) {
	if in.ProjectID == "" {
		return CreateImportResult{}, invalidInput("projectId is required")
	}
	if in.File == nil {
		return CreateImportResult{}, invalidInput("no file provided")
	}
	fileName := filepath.Base(strings.TrimSpace(in.FileName))
	if fileName == "." || fileName == string(filepath.Separator) || fileName == "" {
		return CreateImportResult{}, invalidInput("file name is required")
	}

	var (
		project Project
		snaps   []UnitSnapshot
	)
	err := s.store.Read(ctx, func(tx Tx) error {
		var err error
		if project, err = tx.GetProject(ctx, in.ProjectID); err != nil {
			return err
		}
		snaps, err = tx.ProjectSnapshot(ctx, in.ProjectID)
		return err
	})
	if err != nil {
		return CreateImportResult{}, fmt.Errorf("load project snapshot: %w", err)
	}
	if in.OrganizationID == "" {
		in.OrganizationID = project.OrganizationID
	} else if in.OrganizationID != project.OrganizationID {
		return CreateImportResult{}, invalidInput("project %s does not belong to organization %s", in.ProjectID, in.OrganizationID)
	}

	filePath, hash, err := s.saveUpload(fileName, in.File)
	if err != nil {
		return CreateImportResult{}, err
	}
	// the stored file is only kept once the import is persisted
	persisted := false
	defer func() {
		if !persisted {
			os.Remove(filePath)
		}
	}()

	log := logging.WithFields(ctx, "project_id", in.ProjectID, "file", fileName)
	log.Info("diff requested", "existing_units", len(snaps))

	diff, err := s.runDiff(ctx, DiffRequest{
		FilePath:              filePath,
		ExistingRows:          snapshotRows(snaps, s.loc),
		HeaderMappingOverride: in.HeaderMappingOverride,
	})
	if err != nil {
		return CreateImportResult{}, fmt.Errorf("diff %s: %w", fileName, err)
	}

	if err := validateDiffRows(diff.Rows); err != nil {
		return CreateImportResult{}, err
	}

	counts := SummarizeRows(diff.Rows)
	summary := diff.Summary.Bag()
	if diff.Summary == (RowSummary{}) {
		summary = counts.Bag()
	}

	il := &ImportLog{
		ID:             s.newID(),
		OrganizationID: in.OrganizationID,
		ProjectID:      in.ProjectID,
		SourceFileName: fileName,
		SourceFileHash: hash,
		Status:         StatusDiffed,
		Counts:         counts,
		HeaderMapping:  diff.HeaderMapping,
		Summary:        summary,
		CreatedBy:      firstNonEmpty(in.CreatedBy, ActorIDFromContext(ctx)),
		CreatedAt:      s.now(),
	}
	il.UpdatedAt = il.CreatedAt

	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertImportLog(ctx, il); err != nil {
			return err
		}
		return tx.InsertImportLogRows(ctx, il.ID, diff.Rows)
	})
	if err != nil {
		return CreateImportResult{}, fmt.Errorf("persist import: %w", err)
	}
	persisted = true

	log.Info("import diffed",
		"import_log_id", il.ID,
		"total_rows", counts.TotalRows,
		"new_rows", counts.NewRows,
		"changed_rows", counts.ChangedRows,
		"error_rows", counts.ErrorRows,
	)

	return CreateImportResult{
		ImportLogID:   il.ID,
		HeaderMapping: diff.HeaderMapping,
		Rows:          diff.Rows,
		Summary:       counts,
	}, nil
}

// runDiff calls the differ while holding a limiter slot. The slot is freed
// even when the differ panics.
func (s *Service) runDiff(ctx context.Context, req DiffRequest) (DiffResult, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return DiffResult{}, err
	}
	defer s.limiter.Release()
	return s.differ.Diff(ctx, req)
}

// saveUpload copies r into the upload directory and returns the stored path
// and the sha256 of the content.
func (s *Service) saveUpload(fileName string, r io.Reader) (string, string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(s.uploadDir, s.newID()+"_"+fileName)

	f, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("create upload file: %w", err)
	}

	h := sha256.New()
	src := r
	if s.maxFileSize > 0 {
		src = io.LimitReader(r, s.maxFileSize+1)
	}
	n, err := io.Copy(io.MultiWriter(f, h), src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("write upload file: %w", err)
	}

	switch {
	case n == 0:
		os.Remove(path)
		return "", "", invalidInput("empty file")
	case s.maxFileSize > 0 && n > s.maxFileSize:
		os.Remove(path)
		return "", "", invalidInput("file too large: limit is %d bytes", s.maxFileSize)
	}
	return path, hex.EncodeToString(h.Sum(nil)), nil
}

func validateDiffRows(rows []DiffRow) error {
	seen := make(map[int]bool, len(rows))
	for _, r := range rows {
		if seen[r.RowNo] {
			return invalidInput("diff returned duplicate row number %d", r.RowNo)
		}
		seen[r.RowNo] = true
	}
	return nil
}

// GetDiff returns the persisted diff rows of an import ordered by row number.
func (s *Service) GetDiff(ctx context.Context, importLogID string) ([]ImportLogRow, error) {
	var rows []ImportLogRow
	err := s.store.Read(ctx, func(tx Tx) error {
		if _, err := tx.GetImportLog(ctx, importLogID); err != nil {
			return err
		}
		var err error
		rows, err = tx.ListImportLogRows(ctx, importLogID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get diff: %w", err)
	}
	return rows, nil
}
