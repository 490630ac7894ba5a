package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/config"
	"github.com/google/uuid"
)

// fallbackLedgerZone is used when the configured zone cannot be loaded.
var fallbackLedgerZone = time.FixedZone("UTC+8", 8*60*60)

// Service provides import creation, commit, rollback and the read-side
// projections over a Store.
type Service struct {
	store  Store
	differ Differ

	limiter     *DiffLimiter
	uploadDir   string
	maxFileSize int64
	loc         *time.Location
	phoneRegion string

	now   func() time.Time
	newID func() string
}

// NewService creates a new Service instance.
func NewService(store Store, differ Differ, cfg config.ImportConfig) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("new service: store is required")
	}
	if differ == nil {
		return nil, fmt.Errorf("new service: differ is required")
	}

	uploadDir := cfg.UploadDir
	if uploadDir == "" {
		uploadDir = filepath.Join(os.TempDir(), "ipmds-uploads")
	}
	if !filepath.IsAbs(uploadDir) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		uploadDir = filepath.Join(wd, uploadDir)
	}

	loc := fallbackLedgerZone
	if cfg.LedgerTimezone != "" {
		l, err := time.LoadLocation(cfg.LedgerTimezone)
		if err != nil {
			slog.Warn("ledger timezone unavailable, using UTC+8", "zone", cfg.LedgerTimezone, "error", err)
		} else {
			loc = l
		}
	}

	region := cfg.PhoneRegion
	if region == "" {
		region = "CN"
	}

	return &Service{
		store:       store,
		differ:      differ,
		limiter:     NewDiffLimiter(cfg.MaxConcurrentDiffs, cfg.DiffWaitTime),
		uploadDir:   uploadDir,
		maxFileSize: cfg.MaxFileSize,
		loc:         loc,
		phoneRegion: region,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}, nil
}

// Limiter exposes the diff limiter so shutdown can drain it.
func (s *Service) Limiter() *DiffLimiter {
	return s.limiter
}

// LedgerLocation returns the zone sign dates are interpreted in.
func (s *Service) LedgerLocation() *time.Location {
	return s.loc
}

// SetClock replaces the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// GetImportLog returns one import log.
func (s *Service) GetImportLog(ctx context.Context, id string) (ImportLog, error) {
	var il ImportLog
	err := s.store.Read(ctx, func(tx Tx) error {
		var err error
		il, err = tx.GetImportLog(ctx, id)
		return err
	})
	if err != nil {
		return ImportLog{}, fmt.Errorf("get import log: %w", err)
	}
	return il, nil
}
