package storage

import (
	"fmt"
	"strings"
)

// PayoutReceiptPath returns the object key of the remittance receipt for a processed payout.
// The key is derived from identifiers only, so it can be recomputed when serving downloads.
func PayoutReceiptPath(vendorID, payoutID string) (string, error) {
	vendor, err := validateSegment("vendorID", vendorID)
	if err != nil {
		return "", err
	}
	payout, err := validateSegment("payoutID", payoutID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("payouts/%s/receipts/%s.json", vendor, payout), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
