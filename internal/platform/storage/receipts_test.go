package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/platform/auth"
	"github.com/bazaarly/api/internal/services"
)

type recordedObject struct {
	bucket      string
	object      string
	contentType string
	metadata    map[string]string
	data        []byte
}

type fakeWriter struct {
	objects []recordedObject
	err     error
}

func (f *fakeWriter) WriteObject(_ context.Context, bucket, object, contentType string, metadata map[string]string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.objects = append(f.objects, recordedObject{bucket: bucket, object: object, contentType: contentType, metadata: metadata, data: data})
	return nil
}

func TestArchivePayoutReceipt(t *testing.T) {
	issued := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	processed := issued.Add(-time.Hour)
	writer := &fakeWriter{}
	archive, err := NewReceiptArchive(writer, "receipts", WithArchiveClock(func() time.Time { return issued }))
	if err != nil {
		t.Fatalf("NewReceiptArchive: %v", err)
	}

	path, err := archive.ArchivePayoutReceipt(context.Background(), services.PayoutRequest{
		ID:                     "po_1",
		VendorID:               "vendor-1",
		Amount:                 7200,
		Method:                 domain.PayoutMethodBank,
		AccountDetailsSnapshot: map[string]string{"accountNumber": "123456789"},
		Status:                 domain.PayoutRequestCompleted,
		EarningIDs:             []string{"earn_1"},
		ProcessedAt:            &processed,
		ProcessedBy:            "admin-1",
	})
	if err != nil {
		t.Fatalf("ArchivePayoutReceipt: %v", err)
	}
	if path != "payouts/vendor-1/receipts/po_1.json" {
		t.Fatalf("unexpected path %s", path)
	}
	if len(writer.objects) != 1 {
		t.Fatalf("expected one object, got %d", len(writer.objects))
	}
	obj := writer.objects[0]
	if obj.bucket != "receipts" || obj.contentType != "application/json" || obj.metadata["payoutId"] != "po_1" {
		t.Fatalf("unexpected object %+v", obj)
	}
	var receipt payoutReceipt
	if err := json.Unmarshal(obj.data, &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.Amount != 7200 || !receipt.IssuedAt.Equal(issued) || receipt.ProcessedBy != "admin-1" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if receipt.Destination["accountNumber"] != "*****6789" {
		t.Fatalf("expected masked destination, got %q", receipt.Destination["accountNumber"])
	}
}

func TestArchivePayoutReceiptWriterFailure(t *testing.T) {
	archive, err := NewReceiptArchive(&fakeWriter{err: errors.New("bucket missing")}, "receipts")
	if err != nil {
		t.Fatalf("NewReceiptArchive: %v", err)
	}
	if _, err := archive.ArchivePayoutReceipt(context.Background(), services.PayoutRequest{ID: "po_1", VendorID: "v1"}); err == nil {
		t.Fatal("expected write failure")
	}
}

func TestReceiptDownloadURLAuthorization(t *testing.T) {
	client, err := NewClient(&fakeSigner{email: "receipts@example.iam.gserviceaccount.com"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	archive, err := NewReceiptArchive(&fakeWriter{}, "receipts", WithURLSigner(client))
	if err != nil {
		t.Fatalf("NewReceiptArchive: %v", err)
	}
	ctx := context.Background()

	owner := &auth.Identity{UID: "vendor-1", Roles: []string{auth.RoleVendor}}
	if _, err := archive.ReceiptDownloadURL(ctx, owner, "vendor-1", "po_1"); err != nil {
		t.Fatalf("owner download: %v", err)
	}
	admin := &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}
	if _, err := archive.ReceiptDownloadURL(ctx, admin, "vendor-1", "po_1"); err != nil {
		t.Fatalf("admin download: %v", err)
	}
	other := &auth.Identity{UID: "vendor-2", Roles: []string{auth.RoleVendor}}
	if _, err := archive.ReceiptDownloadURL(ctx, other, "vendor-1", "po_1"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := archive.ReceiptDownloadURL(ctx, nil, "vendor-1", "po_1"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied for anonymous, got %v", err)
	}

	unsigned, err := NewReceiptArchive(&fakeWriter{}, "receipts")
	if err != nil {
		t.Fatalf("NewReceiptArchive: %v", err)
	}
	if _, err := unsigned.ReceiptDownloadURL(ctx, owner, "vendor-1", "po_1"); !errors.Is(err, ErrDownloadsDisabled) {
		t.Fatalf("expected ErrDownloadsDisabled, got %v", err)
	}
}
