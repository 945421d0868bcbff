package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// RepositoryPort defines persistence for ledger activities.
type RepositoryPort interface {
	InsertActivities(ctx context.Context, records []ActivityRecord) (int, error)
}

// Service validates and imports activity records.
type Service struct {
	repo     RepositoryPort
	validate *validator.Validate
	now      func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// CheckImport validates a candidate batch for one account. Records whose
// account does not match accountID are hard errors.
func (s *Service) CheckImport(ctx context.Context, accountID string, records []ActivityRecord) (ImportCheck, error) {
	check := ImportCheck{Valid: true}
	for i, rec := range records {
		if rec.AccountID != accountID {
			check.Errors = append(check.Errors, fmt.Sprintf("record %d: account mismatch (%s)", i, rec.AccountID))
			continue
		}
		if err := s.validate.StructCtx(ctx, rec); err != nil {
			check.Errors = append(check.Errors, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		if rec.Comment == "" {
			check.Warnings = append(check.Warnings, fmt.Sprintf("record %d: empty comment", i))
		}
		if rec.Date.After(s.now()) {
			check.Warnings = append(check.Warnings, fmt.Sprintf("record %d: future date %s", i, rec.Date.Format("2006-01-02")))
		}
	}
	check.Valid = len(check.Errors) == 0
	return check, nil
}

// Import persists the batch and returns how many records were inserted.
// Records already present (same account and external reference) are skipped.
func (s *Service) Import(ctx context.Context, records []ActivityRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	return s.repo.InsertActivities(ctx, records)
}
