package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/bazaarly/api/internal/platform/auth"
	"github.com/bazaarly/api/internal/services"
)

// ObjectWriter persists a single object.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object, contentType string, metadata map[string]string, data []byte) error
}

// GCSWriter writes objects through a Cloud Storage client.
type GCSWriter struct {
	client *gcs.Client
}

// NewGCSWriter wraps client.
func NewGCSWriter(client *gcs.Client) (*GCSWriter, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	return &GCSWriter{client: client}, nil
}

// WriteObject uploads data. Existing receipts are never overwritten.
func (w *GCSWriter) WriteObject(ctx context.Context, bucket, object, contentType string, metadata map[string]string, data []byte) error {
	obj := w.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType
	writer.Metadata = metadata
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// ReceiptArchive stores payout remittance receipts as JSON documents and serves signed download
// links for them.
type ReceiptArchive struct {
	writer ObjectWriter
	bucket string
	urls   *Client
	clock  func() time.Time
}

// ReceiptArchiveOption customises the archive.
type ReceiptArchiveOption func(*ReceiptArchive)

// WithURLSigner enables signed receipt downloads.
func WithURLSigner(client *Client) ReceiptArchiveOption {
	return func(a *ReceiptArchive) { a.urls = client }
}

// WithArchiveClock overrides the time source stamped on receipts.
func WithArchiveClock(clock func() time.Time) ReceiptArchiveOption {
	return func(a *ReceiptArchive) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewReceiptArchive constructs an archive writing into bucket.
func NewReceiptArchive(writer ObjectWriter, bucket string, opts ...ReceiptArchiveOption) (*ReceiptArchive, error) {
	if writer == nil {
		return nil, errors.New("receipt archive: writer is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	archive := &ReceiptArchive{writer: writer, bucket: bucket, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(archive)
		}
	}
	return archive, nil
}

type payoutReceipt struct {
	PayoutID    string            `json:"payoutId"`
	VendorID    string            `json:"vendorId"`
	Amount      int64             `json:"amount"`
	Method      string            `json:"method"`
	Destination map[string]string `json:"destination,omitempty"`
	EarningIDs  []string          `json:"earningIds"`
	RequestedAt time.Time         `json:"requestedAt"`
	ProcessedAt *time.Time        `json:"processedAt,omitempty"`
	ProcessedBy string            `json:"processedBy,omitempty"`
	Note        string            `json:"note,omitempty"`
	IssuedAt    time.Time         `json:"issuedAt"`
}

// ArchivePayoutReceipt writes the receipt of a completed payout and returns its object path.
func (a *ReceiptArchive) ArchivePayoutReceipt(ctx context.Context, request services.PayoutRequest) (string, error) {
	path, err := PayoutReceiptPath(request.VendorID, request.ID)
	if err != nil {
		return "", err
	}
	receipt := payoutReceipt{
		PayoutID:    request.ID,
		VendorID:    request.VendorID,
		Amount:      request.Amount,
		Method:      string(request.Method),
		Destination: maskDetails(request.AccountDetailsSnapshot),
		EarningIDs:  append([]string(nil), request.EarningIDs...),
		RequestedAt: request.RequestedAt,
		ProcessedAt: request.ProcessedAt,
		ProcessedBy: request.ProcessedBy,
		Note:        request.Note,
		IssuedAt:    a.clock().UTC(),
	}
	data, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("receipt archive: marshal: %w", err)
	}
	metadata := map[string]string{"payoutId": request.ID, "vendorId": request.VendorID}
	if err := a.writer.WriteObject(ctx, a.bucket, path, "application/json", metadata, data); err != nil {
		return "", fmt.Errorf("receipt archive: write %s: %w", path, err)
	}
	return path, nil
}

// ErrDownloadsDisabled is returned when no URL signer is configured.
var ErrDownloadsDisabled = errors.New("storage: receipt downloads are not configured")

// ReceiptDownloadURL returns a signed link to the receipt of a payout owned by vendorID.
func (a *ReceiptArchive) ReceiptDownloadURL(ctx context.Context, identity *auth.Identity, vendorID, payoutID string) (SignedURLResult, error) {
	if a == nil || a.urls == nil {
		return SignedURLResult{}, ErrDownloadsDisabled
	}
	if err := AuthorizeReceiptDownload(identity, vendorID); err != nil {
		return SignedURLResult{}, err
	}
	path, err := PayoutReceiptPath(vendorID, payoutID)
	if err != nil {
		return SignedURLResult{}, err
	}
	return a.urls.SignedDownloadURL(ctx, a.bucket, path, DownloadOptions{
		Disposition:  fmt.Sprintf("attachment; filename=%q", payoutID+".json"),
		ResponseType: "application/json",
	})
}

// maskDetails keeps only the last four characters of each destination value.
func maskDetails(details map[string]string) map[string]string {
	if len(details) == 0 {
		return nil
	}
	masked := make(map[string]string, len(details))
	for key, value := range details {
		value = strings.TrimSpace(value)
		if len(value) <= 4 {
			masked[key] = value
			continue
		}
		masked[key] = strings.Repeat("*", len(value)-4) + value[len(value)-4:]
	}
	return masked
}
