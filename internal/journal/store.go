package journal

import (
	"context"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"

	"venuelink/pkg/exception"
)

// Store persists journal batches.
type Store interface {
	SaveOrderEvents(ctx context.Context, records []OrderEventRecord) error
	SaveBalances(ctx context.Context, records []BalanceRecord) error
}

// GormStore writes journal rows through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the journal tables.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&OrderEventRecord{}, &BalanceRecord{}); err != nil {
		return nil, errors.Wrap(exception.ErrInternal, "migrate journal").With("error", err.Error())
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) SaveOrderEvents(ctx context.Context, records []OrderEventRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(records, len(records)).Error; err != nil {
		return errors.Wrap(exception.ErrTransport, "save order events").With("rows", len(records)).With("error", err.Error())
	}
	return nil
}

func (s *GormStore) SaveBalances(ctx context.Context, records []BalanceRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(records, len(records)).Error; err != nil {
		return errors.Wrap(exception.ErrTransport, "save balances").With("rows", len(records)).With("error", err.Error())
	}
	return nil
}
