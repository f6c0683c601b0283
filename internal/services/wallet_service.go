package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/repositories"
)

const (
	walletTxnIDPrefix    = "wtx_"
	walletRefundIDPrefix = "wtx_refund_"

	maxWalletTopUp = 100_000_00
)

// WalletServiceDeps bundles collaborators required to construct the wallet service.
type WalletServiceDeps struct {
	Wallets     repositories.WalletRepository
	Orders      repositories.OrderRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type walletService struct {
	wallets repositories.WalletRepository
	orders  repositories.OrderRepository
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

// NewWalletService wires the wallet ledger service.
func NewWalletService(deps WalletServiceDeps) (WalletService, error) {
	if deps.Wallets == nil {
		return nil, errors.New("wallet service: wallet repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("wallet service: order repository is required")
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
	return &walletService{
		wallets: deps.Wallets,
		orders:  deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// GetBalance derives the balance from the full ledger. A negative result is a ledger violation.
func (s *walletService) GetBalance(ctx context.Context, userID string) (WalletBalance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return WalletBalance{}, fmt.Errorf("%w: user id is required", ErrWalletInvalidInput)
	}
	txns, err := s.wallets.ListByUser(ctx, userID)
	if err != nil {
		return WalletBalance{}, fmt.Errorf("wallet service: list transactions: %w", err)
	}
	balance := domain.SummariseWallet(userID, txns)
	if balance.Balance < 0 {
		s.logger(ctx, "ledger_violation", map[string]any{
			"userId":  userID,
			"balance": balance.Balance,
			"credits": balance.Credits,
			"debits":  balance.Debits,
		})
		return WalletBalance{}, fmt.Errorf("%w: wallet %s derived balance %d", ErrLedgerInvariant, userID, balance.Balance)
	}
	return balance, nil
}

func (s *walletService) ListTransactions(ctx context.Context, userID string) ([]WalletTransaction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrWalletInvalidInput)
	}
	txns, err := s.wallets.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("wallet service: list transactions: %w", err)
	}
	return txns, nil
}

// TopUp appends a credit to the user's ledger.
func (s *walletService) TopUp(ctx context.Context, cmd WalletTopUpCommand) (WalletTransaction, error) {
	userID := strings.TrimSpace(cmd.UserID)
	switch {
	case userID == "":
		return WalletTransaction{}, fmt.Errorf("%w: user id is required", ErrWalletInvalidInput)
	case cmd.Amount <= 0:
		return WalletTransaction{}, fmt.Errorf("%w: amount must be positive", ErrWalletInvalidInput)
	case cmd.Amount > maxWalletTopUp:
		return WalletTransaction{}, fmt.Errorf("%w: amount exceeds %d", ErrWalletInvalidInput, maxWalletTopUp)
	}
	description := strings.TrimSpace(cmd.Description)
	if description == "" {
		description = "Wallet top-up"
	}
	txn := WalletTransaction{
		ID:          walletTxnIDPrefix + s.newID(),
		UserID:      userID,
		Type:        domain.WalletCredit,
		Amount:      cmd.Amount,
		Description: description,
		CreatedAt:   s.clock(),
	}
	if err := s.append(ctx, txn); err != nil {
		return WalletTransaction{}, err
	}
	s.logger(ctx, "wallet.credited", map[string]any{
		"userId":  userID,
		"txnId":   txn.ID,
		"amount":  txn.Amount,
		"actorId": cmd.ActorID,
	})
	return txn, nil
}

// Refund credits the buyer with the total of a settled order and reverses the vendor earnings
// it produced, atomically. Refunds are refused once any of those earnings entered a payout.
func (s *walletService) Refund(ctx context.Context, cmd WalletRefundCommand) (WalletTransaction, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return WalletTransaction{}, fmt.Errorf("%w: order id is required", ErrWalletInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return WalletTransaction{}, mapOrderRepositoryError(err)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID != "" && userID != order.BuyerID {
		return WalletTransaction{}, fmt.Errorf("%w: order %s does not belong to %s", ErrWalletInvalidInput, orderID, userID)
	}
	if order.Refunded() {
		return WalletTransaction{}, fmt.Errorf("%w: order %s is already refunded", ErrWalletConflict, orderID)
	}
	if !order.Settled() {
		return WalletTransaction{}, fmt.Errorf("%w: order %s has not been paid", ErrOrderInvalidState, orderID)
	}
	if order.Total <= 0 {
		return WalletTransaction{}, fmt.Errorf("%w: order %s has nothing to refund", ErrWalletInvalidInput, orderID)
	}

	reason := strings.TrimSpace(cmd.Reason)
	description := "Refund for order " + order.ID
	if reason != "" {
		description += ": " + reason
	}
	result, err := s.orders.Refund(ctx, repositories.RefundCommand{
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		CreditID:    walletRefundIDPrefix + order.ID,
		Description: description,
		Reason:      reason,
		RefundedAt:  s.clock(),
	})
	if err != nil {
		return WalletTransaction{}, s.mapRefundError(ctx, order.ID, err)
	}

	var reversed int64
	for _, earning := range result.Reversed {
		reversed += earning.NetEarning
	}
	s.logger(ctx, "wallet.refunded", map[string]any{
		"userId":          order.BuyerID,
		"orderId":         order.ID,
		"amount":          result.Credit.Amount,
		"reversedEntries": len(result.Reversed),
		"reversedAmount":  reversed,
		"actorId":         cmd.ActorID,
	})
	return result.Credit, nil
}

func (s *walletService) mapRefundError(ctx context.Context, orderID string, err error) error {
	code, ok := repositories.LedgerErrorCodeOf(err)
	if !ok {
		if isRepoConflict(err) {
			return fmt.Errorf("%w: %v", ErrWalletConflict, err)
		}
		return mapOrderRepositoryError(err)
	}
	switch code {
	case repositories.LedgerErrorAlreadyRefunded, repositories.LedgerErrorEarningsCommitted:
		return fmt.Errorf("%w: %v", ErrWalletConflict, err)
	case repositories.LedgerErrorInvariant:
		s.logger(ctx, "ledger_violation", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
	return translateLedgerError(err)
}

// Reconcile recomputes the balance and fails loudly when the ledger is inconsistent.
func (s *walletService) Reconcile(ctx context.Context, userID string) (WalletBalance, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return WalletBalance{}, err
	}
	s.logger(ctx, "wallet.reconciled", map[string]any{
		"userId":       balance.UserID,
		"balance":      balance.Balance,
		"transactions": balance.Transactions,
	})
	return balance, nil
}

func (s *walletService) append(ctx context.Context, txn WalletTransaction) error {
	if err := s.wallets.AppendCredit(ctx, txn); err != nil {
		if isRepoConflict(err) {
			return fmt.Errorf("%w: %v", ErrWalletConflict, err)
		}
		return fmt.Errorf("wallet service: append: %w", err)
	}
	return nil
}
