package storage

import (
	"errors"

	"github.com/bazaarly/api/internal/platform/auth"
)

// ErrPermissionDenied is returned when the caller may not read the receipt.
var ErrPermissionDenied = errors.New("storage: permission denied")

// AuthorizeReceiptDownload allows the vendor that owns the payout and administrators.
func AuthorizeReceiptDownload(identity *auth.Identity, vendorID string) error {
	if identity == nil {
		return ErrPermissionDenied
	}
	if identity.IsAdmin() {
		return nil
	}
	if vendorID != "" && identity.UID == vendorID && identity.HasRole(auth.RoleVendor) {
		return nil
	}
	return ErrPermissionDenied
}
