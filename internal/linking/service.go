package linking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/ledgerlink/ledgerlink/internal/aggregator"
	"github.com/ledgerlink/ledgerlink/internal/secrets"
)

// AggregatorPort defines the aggregator operations the tracker needs.
type AggregatorPort interface {
	CreateAgreement(ctx context.Context, req aggregator.AgreementRequest) (*aggregator.Agreement, error)
	CreateRequisition(ctx context.Context, req aggregator.RequisitionRequest) (*aggregator.Requisition, error)
	Requisition(ctx context.Context, id string) (*aggregator.Requisition, error)
	DeleteRequisition(ctx context.Context, id string) error
	AccountMetadata(ctx context.Context, id string) (*aggregator.AccountMetadata, error)
	AccountDetails(ctx context.Context, id string) (*aggregator.AccountDetails, error)
}

// Sentinel errors.
var (
	// ErrNotLinked indicates a promotion attempt on a requisition that has
	// not reached the linked terminal state.
	ErrNotLinked = errors.New("linking: requisition not linked")
	// ErrAccountNotFound indicates an unknown bank account id.
	ErrAccountNotFound = errors.New("linking: bank account not found")
)

// ServiceConfig carries tracker settings.
type ServiceConfig struct {
	// RedirectURL is where the bank sends the user after the consent flow.
	RedirectURL string
	// UserLocale selects the consent UI language, e.g. "en" or "pt-PT".
	UserLocale string
	// MaxAge is how long an unfinished requisition may linger before
	// cleanup removes it.
	MaxAge time.Duration
}

// Service tracks requisitions and promotes linked ones into bank accounts.
type Service struct {
	api    AggregatorPort
	store  secrets.Store
	logger *slog.Logger
	cfg    ServiceConfig
	now    func() time.Time

	// Serializes read-modify-write cycles on the requisition and account
	// maps; the secret store itself is not transactional.
	mu sync.Mutex
}

// NewService builds the tracker.
func NewService(api AggregatorPort, store secrets.Store, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	return &Service{api: api, store: store, logger: logger, cfg: cfg, now: time.Now}
}

// CreateAgreementInput carries end-user agreement parameters.
type CreateAgreementInput struct {
	InstitutionID      string `json:"institution_id" validate:"required"`
	MaxHistoricalDays  int    `json:"max_historical_days" validate:"omitempty,min=1,max=730"`
	AccessValidForDays int    `json:"access_valid_for_days" validate:"omitempty,min=1,max=180"`
}

// CreateAgreement creates an agreement covering balances, details and
// transactions for one linking attempt.
func (s *Service) CreateAgreement(ctx context.Context, input CreateAgreementInput) (*aggregator.Agreement, error) {
	if input.InstitutionID == "" {
		return nil, errors.New("linking: institution id required")
	}
	return s.api.CreateAgreement(ctx, aggregator.AgreementRequest{
		InstitutionID:      input.InstitutionID,
		MaxHistoricalDays:  input.MaxHistoricalDays,
		AccessValidForDays: input.AccessValidForDays,
		AccessScope:        []string{"balances", "details", "transactions"},
	})
}

// CreateRequisitionInput starts one linking attempt.
type CreateRequisitionInput struct {
	InstitutionID string `json:"institution_id" validate:"required"`
	Reference     string `json:"reference"`
	AgreementID   string `json:"agreement_id"`
}

// CreateRequisition creates the handshake and persists it immediately so it
// survives a restart while the user is inside the bank's consent flow.
func (s *Service) CreateRequisition(ctx context.Context, input CreateRequisitionInput) (*aggregator.Requisition, error) {
	if input.InstitutionID == "" {
		return nil, errors.New("linking: institution id required")
	}
	reference := input.Reference
	if reference == "" {
		reference = uuid.NewString()
	}

	req, err := s.api.CreateRequisition(ctx, aggregator.RequisitionRequest{
		InstitutionID: input.InstitutionID,
		Redirect:      s.cfg.RedirectURL,
		Reference:     reference,
		UserLanguage:  userLanguage(s.cfg.UserLocale),
		Agreement:     input.AgreementID,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	reqs, err := s.loadRequisitions(ctx)
	if err != nil {
		return nil, err
	}
	reqs[req.ID] = *req
	if err := s.saveRequisitions(ctx, reqs); err != nil {
		return nil, err
	}

	s.logger.Info("created requisition",
		slog.String("requisition_id", req.ID),
		slog.String("institution_id", input.InstitutionID))
	return req, nil
}

// GetRequisition re-fetches the handshake from the aggregator. The status
// is mutated externally, so the stored copy is only ever a snapshot; the
// latest observed state is written back for cleanup decisions.
func (s *Service) GetRequisition(ctx context.Context, id string) (*aggregator.Requisition, error) {
	req, err := s.api.Requisition(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	reqs, err := s.loadRequisitions(ctx)
	if err != nil {
		return nil, err
	}
	if _, tracked := reqs[req.ID]; tracked {
		reqs[req.ID] = *req
		if err := s.saveRequisitions(ctx, reqs); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// ListRequisitions returns the locally tracked requisition snapshots.
func (s *Service) ListRequisitions(ctx context.Context) ([]aggregator.Requisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs, err := s.loadRequisitions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]aggregator.Requisition, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteRequisition removes the handshake server-side and locally.
func (s *Service) DeleteRequisition(ctx context.Context, id string) error {
	if err := s.api.DeleteRequisition(ctx, id); err != nil {
		var apiErr *aggregator.APIError
		if !errors.As(err, &apiErr) || apiErr.Status != 404 {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs, err := s.loadRequisitions(ctx)
	if err != nil {
		return err
	}
	delete(reqs, id)
	return s.saveRequisitions(ctx, reqs)
}

// Promote turns a linked requisition's account ids into persisted
// BankAccount records. Re-running it for an already promoted account merges
// fresh metadata but never disturbs an existing wallet mapping.
func (s *Service) Promote(ctx context.Context, id string) ([]BankAccount, error) {
	req, err := s.GetRequisition(ctx, id)
	if err != nil {
		return nil, err
	}
	if Status(req.Status) != StatusLinked {
		return nil, fmt.Errorf("%w: status %s", ErrNotLinked, req.Status)
	}

	promoted := make([]BankAccount, 0, len(req.Accounts))
	for _, accountID := range req.Accounts {
		account, err := s.fetchAccount(ctx, accountID, req.InstitutionID)
		if err != nil {
			return nil, err
		}
		promoted = append(promoted, account)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.loadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for i, account := range promoted {
		if prev, ok := existing[account.ID]; ok {
			account.WalletAccountID = prev.WalletAccountID
		}
		existing[account.ID] = account
		promoted[i] = account
	}
	if err := s.saveAccounts(ctx, existing); err != nil {
		return nil, err
	}

	s.logger.Info("promoted requisition",
		slog.String("requisition_id", id),
		slog.Int("accounts", len(promoted)))
	return promoted, nil
}

func (s *Service) fetchAccount(ctx context.Context, accountID, institutionID string) (BankAccount, error) {
	meta, err := s.api.AccountMetadata(ctx, accountID)
	if err != nil {
		return BankAccount{}, fmt.Errorf("linking: account %s metadata: %w", accountID, err)
	}
	details, err := s.api.AccountDetails(ctx, accountID)
	if err != nil {
		return BankAccount{}, fmt.Errorf("linking: account %s details: %w", accountID, err)
	}

	account := BankAccount{
		ID:            meta.ID,
		InstitutionID: meta.InstitutionID,
		Status:        meta.Status,
		IBAN:          meta.IBAN,
	}
	if account.ID == "" {
		account.ID = accountID
	}
	if account.InstitutionID == "" {
		account.InstitutionID = institutionID
	}
	if details.Account.IBAN != "" {
		account.IBAN = details.Account.IBAN
	}
	account.OwnerName = details.Account.OwnerName
	return account, nil
}

// LinkedAccounts lists all promoted bank accounts.
func (s *Service) LinkedAccounts(ctx context.Context) ([]BankAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, err := s.loadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]BankAccount, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SyncEligibleAccounts lists accounts with a wallet mapping.
func (s *Service) SyncEligibleAccounts(ctx context.Context) ([]BankAccount, error) {
	accounts, err := s.LinkedAccounts(ctx)
	if err != nil {
		return nil, err
	}
	eligible := accounts[:0]
	for _, account := range accounts {
		if account.SyncEligible() {
			eligible = append(eligible, account)
		}
	}
	return eligible, nil
}

// MapWalletAccount sets (or clears) the ledger account a bank account syncs
// into.
func (s *Service) MapWalletAccount(ctx context.Context, bankAccountID, walletAccountID string) (*BankAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, err := s.loadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	account, ok := accounts[bankAccountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, bankAccountID)
	}
	account.WalletAccountID = walletAccountID
	accounts[bankAccountID] = account
	if err := s.saveAccounts(ctx, accounts); err != nil {
		return nil, err
	}
	return &account, nil
}

// CleanupStale removes failed requisitions and abandoned intermediate ones
// older than MaxAge from local storage, deleting them server-side as well.
// Linked requisitions are never touched; failed handshakes are never
// retried automatically.
func (s *Service) CleanupStale(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	snapshot, err := s.loadRequisitions(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var removed []string
	for id := range snapshot {
		req, err := s.api.Requisition(ctx, id)
		if err != nil {
			var apiErr *aggregator.APIError
			if errors.As(err, &apiErr) && apiErr.Status == 404 {
				removed = append(removed, id)
				continue
			}
			return removed, err
		}
		status := Status(req.Status)
		switch {
		case status == StatusLinked:
			continue
		case status.Failed():
			removed = append(removed, id)
		case s.olderThanMaxAge(req.Created):
			removed = append(removed, id)
		}
	}

	for _, id := range removed {
		if err := s.DeleteRequisition(ctx, id); err != nil {
			s.logger.Warn("cleanup requisition",
				slog.String("requisition_id", id), slog.Any("error", err))
		}
	}
	sort.Strings(removed)
	return removed, nil
}

func (s *Service) olderThanMaxAge(created string) bool {
	ts, err := time.Parse(time.RFC3339, created)
	if err != nil {
		// Unparsable creation time counts as stale; without it the entry
		// could linger forever.
		return true
	}
	return s.now().Sub(ts) > s.cfg.MaxAge
}

func (s *Service) loadRequisitions(ctx context.Context) (map[string]aggregator.Requisition, error) {
	out := make(map[string]aggregator.Requisition)
	if err := s.loadJSON(ctx, secrets.RequisitionsKey(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) saveRequisitions(ctx context.Context, reqs map[string]aggregator.Requisition) error {
	return s.saveJSON(ctx, secrets.RequisitionsKey(), reqs)
}

func (s *Service) loadAccounts(ctx context.Context) (map[string]BankAccount, error) {
	out := make(map[string]BankAccount)
	if err := s.loadJSON(ctx, secrets.LinkedAccountsKey(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) saveAccounts(ctx context.Context, accounts map[string]BankAccount) error {
	return s.saveJSON(ctx, secrets.LinkedAccountsKey(), accounts)
}

func (s *Service) loadJSON(ctx context.Context, key secrets.Key, out any) error {
	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, secrets.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("linking: decode %s: %w", key, err)
	}
	return nil
}

func (s *Service) saveJSON(ctx context.Context, key secrets.Key, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("linking: encode %s: %w", key, err)
	}
	return s.store.Set(ctx, key, string(raw))
}

// userLanguage derives the two-letter consent UI language from a locale
// string, defaulting to EN.
func userLanguage(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return "EN"
	}
	base, _ := tag.Base()
	return strings.ToUpper(base.String())
}
