package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/platform/textutil"
	"github.com/bazaarly/api/internal/repositories"
)

const (
	payoutIDPrefix = "po_"
)

var (
	ifscPattern = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
	vpaPattern  = regexp.MustCompile(`^[a-zA-Z0-9.\-_]{2,256}@[a-zA-Z]{2,64}$`)
)

// PayoutServiceDeps bundles collaborators required to construct the payout service.
type PayoutServiceDeps struct {
	Payouts     repositories.PayoutRepository
	Accounts    repositories.PayoutAccountRepository
	Earnings    repositories.EarningRepository
	Settings    SettingsService
	Receipts    ReceiptArchiver
	Notifier    Notifier
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type payoutService struct {
	payouts  repositories.PayoutRepository
	accounts repositories.PayoutAccountRepository
	earnings repositories.EarningRepository
	settings SettingsService
	receipts ReceiptArchiver
	notifier Notifier
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewPayoutService wires the vendor payout workflow. The receipt archiver is optional.
func NewPayoutService(deps PayoutServiceDeps) (PayoutService, error) {
	if deps.Payouts == nil {
		return nil, errors.New("payout service: payout repository is required")
	}
	if deps.Accounts == nil {
		return nil, errors.New("payout service: payout account repository is required")
	}
	if deps.Earnings == nil {
		return nil, errors.New("payout service: earning repository is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("payout service: settings service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &payoutService{
		payouts:  deps.Payouts,
		accounts: deps.Accounts,
		earnings: deps.Earnings,
		settings: deps.Settings,
		receipts: deps.Receipts,
		notifier: notifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// RequestPayout reserves unpaid earnings oldest-first for the requested amount.
func (s *payoutService) RequestPayout(ctx context.Context, cmd RequestPayoutCommand) (PayoutRequest, error) {
	vendorID := strings.TrimSpace(cmd.VendorID)
	if vendorID == "" {
		return PayoutRequest{}, fmt.Errorf("%w: vendor id is required", ErrPayoutInvalidInput)
	}
	if cmd.Amount <= 0 {
		return PayoutRequest{}, fmt.Errorf("%w: amount must be positive", ErrPayoutInvalidInput)
	}
	settings, err := s.settings.Current(ctx)
	if err != nil {
		return PayoutRequest{}, err
	}
	if cmd.Amount < settings.MinimumPayout {
		return PayoutRequest{}, fmt.Errorf("%w: %d is below minimum %d", ErrPayoutBelowMinimum, cmd.Amount, settings.MinimumPayout)
	}

	var (
		account    PayoutAccount
		newAccount bool
	)
	if len(cmd.AccountDetails) > 0 {
		account, err = s.buildPayoutAccount(SavePayoutAccountCommand{
			VendorID: vendorID,
			Method:   cmd.Method,
			Details:  cmd.AccountDetails,
		})
		if err != nil {
			return PayoutRequest{}, err
		}
		newAccount = true
	} else {
		account, err = s.accounts.Get(ctx, vendorID)
		if err != nil {
			if isRepoNotFound(err) {
				return PayoutRequest{}, fmt.Errorf("%w: vendor %s", ErrPayoutAccountMissing, vendorID)
			}
			return PayoutRequest{}, fmt.Errorf("payout service: load account: %w", err)
		}
		if cmd.Method != "" && cmd.Method != account.Method {
			return PayoutRequest{}, fmt.Errorf("%w: saved account uses %s", ErrPayoutInvalidInput, account.Method)
		}
	}

	request := PayoutRequest{
		ID:                     payoutIDPrefix + s.newID(),
		VendorID:               vendorID,
		Amount:                 cmd.Amount,
		Method:                 account.Method,
		AccountDetailsSnapshot: cloneDetails(account.Details),
		Status:                 domain.PayoutRequestPending,
		RequestedAt:            s.clock(),
	}
	stored, err := s.payouts.Create(ctx, request, func() string {
		return earningIDPrefix + s.newID()
	})
	if err != nil {
		return PayoutRequest{}, mapPayoutRepositoryError(err)
	}
	// The request carries its own account snapshot; a failed save is logged, not returned.
	if newAccount {
		if err := s.saveAccount(ctx, account); err != nil {
			s.logger(ctx, "payout.account.save_failed", map[string]any{
				"vendorId": vendorID,
				"payoutId": stored.ID,
				"error":    err.Error(),
			})
		}
	}

	s.logger(ctx, "payout.requested", map[string]any{
		"payoutId": stored.ID,
		"vendorId": vendorID,
		"amount":   stored.Amount,
		"earnings": len(stored.EarningIDs),
	})
	s.notifier.Notify(ctx, notifyEventPayoutRequested, map[string]any{
		"payoutId": stored.ID,
		"vendorId": vendorID,
		"amount":   stored.Amount,
	})
	return stored, nil
}

// ProcessPayout applies an admin decision. Approval marks the reserved earnings paid;
// rejection returns them to unpaid.
func (s *payoutService) ProcessPayout(ctx context.Context, cmd ProcessPayoutCommand) (PayoutRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	adminID := strings.TrimSpace(cmd.AdminID)
	if requestID == "" || adminID == "" {
		return PayoutRequest{}, fmt.Errorf("%w: request id and admin id are required", ErrPayoutInvalidInput)
	}
	if cmd.Decision != domain.PayoutDecisionApprove && cmd.Decision != domain.PayoutDecisionReject {
		return PayoutRequest{}, fmt.Errorf("%w: unknown decision %q", ErrPayoutInvalidInput, cmd.Decision)
	}

	processed, err := s.payouts.Process(ctx, repositories.ProcessPayoutCommand{
		RequestID:   requestID,
		Decision:    cmd.Decision,
		ProcessedBy: adminID,
		Note:        strings.TrimSpace(cmd.Note),
		ProcessedAt: s.clock(),
	})
	if err != nil {
		mapped := mapPayoutRepositoryError(err)
		if errors.Is(mapped, ErrLedgerInvariant) {
			s.logger(ctx, "ledger_violation", map[string]any{
				"payoutId": requestID,
				"error":    err.Error(),
			})
		}
		return PayoutRequest{}, mapped
	}

	fields := map[string]any{
		"payoutId": processed.ID,
		"vendorId": processed.VendorID,
		"status":   string(processed.Status),
		"adminId":  adminID,
	}
	if processed.Status == domain.PayoutRequestCompleted && s.receipts != nil {
		path, archiveErr := s.receipts.ArchivePayoutReceipt(ctx, processed)
		if archiveErr != nil {
			fields["receiptError"] = archiveErr.Error()
		} else {
			fields["receipt"] = path
		}
	}
	s.logger(ctx, "payout.processed", fields)
	s.notifier.Notify(ctx, notifyEventPayoutProcessed, map[string]any{
		"payoutId": processed.ID,
		"vendorId": processed.VendorID,
		"status":   string(processed.Status),
		"amount":   processed.Amount,
	})
	return processed, nil
}

func (s *payoutService) ListPayouts(ctx context.Context, filter PayoutListFilter) (domain.CursorPage[PayoutRequest], error) {
	page, err := s.payouts.List(ctx, repositories.PayoutListFilter{
		VendorID:   strings.TrimSpace(filter.VendorID),
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[PayoutRequest]{}, fmt.Errorf("payout service: list: %w", err)
	}
	return page, nil
}

// SavePayoutAccount validates and stores the vendor's remittance destination.
func (s *payoutService) SavePayoutAccount(ctx context.Context, cmd SavePayoutAccountCommand) (PayoutAccount, error) {
	account, err := s.buildPayoutAccount(cmd)
	if err != nil {
		return PayoutAccount{}, err
	}
	if err := s.saveAccount(ctx, account); err != nil {
		return PayoutAccount{}, err
	}
	return account, nil
}

func (s *payoutService) buildPayoutAccount(cmd SavePayoutAccountCommand) (PayoutAccount, error) {
	vendorID := strings.TrimSpace(cmd.VendorID)
	if vendorID == "" {
		return PayoutAccount{}, fmt.Errorf("%w: vendor id is required", ErrPayoutInvalidInput)
	}
	if !cmd.Method.Valid() {
		return PayoutAccount{}, fmt.Errorf("%w: unsupported payout method %q", ErrPayoutInvalidInput, cmd.Method)
	}
	details, err := normalisePayoutDetails(cmd.Method, cmd.Details)
	if err != nil {
		return PayoutAccount{}, err
	}
	return PayoutAccount{
		VendorID:  vendorID,
		Method:    cmd.Method,
		Details:   details,
		UpdatedAt: s.clock(),
	}, nil
}

func (s *payoutService) saveAccount(ctx context.Context, account PayoutAccount) error {
	if err := s.accounts.Save(ctx, account); err != nil {
		return fmt.Errorf("payout service: save account: %w", err)
	}
	s.logger(ctx, "payout.account.saved", map[string]any{
		"vendorId": account.VendorID,
		"method":   string(account.Method),
	})
	return nil
}

// GetVendorEarnings returns every earning row with derived totals.
func (s *payoutService) GetVendorEarnings(ctx context.Context, vendorID string) (VendorEarningsView, error) {
	vendorID = strings.TrimSpace(vendorID)
	if vendorID == "" {
		return VendorEarningsView{}, fmt.Errorf("%w: vendor id is required", ErrPayoutInvalidInput)
	}
	ledger, err := s.earnings.VendorLedger(ctx, vendorID)
	if err != nil {
		return VendorEarningsView{}, fmt.Errorf("payout service: read vendor ledger: %w", err)
	}
	earnings := ledger.Earnings
	if earnings == nil {
		earnings = []domain.VendorEarning{}
	}
	summary := domain.SummariseEarnings(vendorID, earnings, ledger.Payouts)
	if summary.Outstanding() != 0 {
		s.logger(ctx, "ledger_violation", map[string]any{
			"vendorId":         vendorID,
			"paid":             summary.Paid,
			"completedPayouts": summary.CompletedPayouts,
		})
		return VendorEarningsView{}, fmt.Errorf("%w: vendor %s paid earnings %d differ from completed payouts %d",
			ErrLedgerInvariant, vendorID, summary.Paid, summary.CompletedPayouts)
	}
	return VendorEarningsView{Summary: summary, Earnings: earnings}, nil
}

func normalisePayoutDetails(method PayoutMethod, details map[string]string) (map[string]string, error) {
	out := textutil.NormalizeStringMap(details)
	switch method {
	case domain.PayoutMethodBank:
		if out["accountHolder"] == "" {
			return nil, fmt.Errorf("%w: accountHolder is required", ErrPayoutInvalidInput)
		}
		account := strings.ReplaceAll(out["accountNumber"], " ", "")
		if len(account) < 6 || len(account) > 20 || strings.Trim(account, "0123456789") != "" {
			return nil, fmt.Errorf("%w: accountNumber must be 6-20 digits", ErrPayoutInvalidInput)
		}
		out["accountNumber"] = account
		if ifsc := strings.ToUpper(out["ifsc"]); ifsc != "" {
			if !ifscPattern.MatchString(ifsc) {
				return nil, fmt.Errorf("%w: ifsc is malformed", ErrPayoutInvalidInput)
			}
			out["ifsc"] = ifsc
		} else if out["routingNumber"] == "" {
			return nil, fmt.Errorf("%w: ifsc or routingNumber is required", ErrPayoutInvalidInput)
		}
	case domain.PayoutMethodUPI:
		if !vpaPattern.MatchString(out["vpa"]) {
			return nil, fmt.Errorf("%w: vpa is malformed", ErrPayoutInvalidInput)
		}
	}
	return out, nil
}

func mapPayoutRepositoryError(err error) error {
	if code, ok := repositories.LedgerErrorCodeOf(err); ok {
		switch code {
		case repositories.LedgerErrorInvalidState:
			return fmt.Errorf("%w: %v", ErrPayoutConflict, err)
		default:
			return translateLedgerError(err)
		}
	}
	switch {
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrPayoutNotFound, err)
	case isRepoConflict(err):
		return fmt.Errorf("%w: %v", ErrPayoutConflict, err)
	}
	return fmt.Errorf("payout service: %w", err)
}

func cloneDetails(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
