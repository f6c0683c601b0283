package domain

import "time"

// WalletTransactionType distinguishes ledger credits from debits.
type WalletTransactionType string

const (
	WalletCredit WalletTransactionType = "credit"
	WalletDebit  WalletTransactionType = "debit"
)

// WalletTransaction is an append-only wallet ledger entry.
type WalletTransaction struct {
	ID             string
	UserID         string
	Type           WalletTransactionType
	Amount         int64
	Description    string
	RelatedOrderID string
	CreatedAt      time.Time
}

// SignedAmount returns the amount with debits negated.
func (t WalletTransaction) SignedAmount() int64 {
	if t.Type == WalletDebit {
		return -t.Amount
	}
	return t.Amount
}

// DeriveBalance sums credits minus debits.
func DeriveBalance(txns []WalletTransaction) int64 {
	var balance int64
	for _, txn := range txns {
		balance += txn.SignedAmount()
	}
	return balance
}

// WalletBalance summarises a user's ledger.
type WalletBalance struct {
	UserID       string
	Balance      int64
	Credits      int64
	Debits       int64
	Transactions int
}

// SummariseWallet derives the balance view from the full ledger.
func SummariseWallet(userID string, txns []WalletTransaction) WalletBalance {
	summary := WalletBalance{UserID: userID, Transactions: len(txns)}
	for _, txn := range txns {
		switch txn.Type {
		case WalletCredit:
			summary.Credits += txn.Amount
		case WalletDebit:
			summary.Debits += txn.Amount
		}
	}
	summary.Balance = summary.Credits - summary.Debits
	return summary
}
