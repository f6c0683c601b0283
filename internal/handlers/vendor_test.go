package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/platform/auth"
	"github.com/bazaarly/api/internal/platform/storage"
	"github.com/bazaarly/api/internal/services"
)

type stubReceiptLinker struct {
	gotVendor string
	gotPayout string
}

func (s *stubReceiptLinker) ReceiptDownloadURL(_ context.Context, identity *auth.Identity, vendorID, payoutID string) (storage.SignedURLResult, error) {
	s.gotVendor, s.gotPayout = vendorID, payoutID
	if err := storage.AuthorizeReceiptDownload(identity, vendorID); err != nil {
		return storage.SignedURLResult{}, err
	}
	return storage.SignedURLResult{URL: "https://storage.example/" + payoutID, ExpiresAt: time.Date(2024, 6, 1, 12, 15, 0, 0, time.UTC)}, nil
}

func vendor(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleVendor}}
}

func newVendorRouter(payouts services.PayoutService, receipts ReceiptLinker) chi.Router {
	router := chi.NewRouter()
	router.Route("/vendor", NewVendorHandlers(nil, payouts, receipts).Routes)
	return router
}

func TestVendorHandlersEarnings(t *testing.T) {
	payouts := &stubPayoutService{
		earnings: services.VendorEarningsView{
			Summary: services.EarningsSummary{VendorID: "v1", Unpaid: 7200, Paid: 1000, CompletedPayouts: 1000, Commission: 900},
			Earnings: []services.VendorEarning{
				{ID: "ve_1", OrderID: "ord_1", ProductID: "p1", GrossAmount: 8000, CommissionRateBps: 1000, CommissionAmount: 800, NetEarning: 7200, PayoutStatus: domain.PayoutStatusUnpaid},
			},
		},
	}
	rr := httptest.NewRecorder()
	newVendorRouter(payouts, nil).ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/vendor/earnings", "", vendor("v1")))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp vendorEarningsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.VendorID != "v1" || resp.Summary.Unpaid != 7200 || len(resp.Earnings) != 1 || resp.Earnings[0].NetEarning != 7200 {
		t.Fatalf("unexpected earnings %+v", resp)
	}
}

func TestVendorHandlersRequestPayout(t *testing.T) {
	var captured services.RequestPayoutCommand
	payouts := &stubPayoutService{
		requestFn: func(_ context.Context, cmd services.RequestPayoutCommand) (services.PayoutRequest, error) {
			captured = cmd
			if cmd.Amount < 1000 {
				return services.PayoutRequest{}, services.ErrPayoutBelowMinimum
			}
			if cmd.Amount > 7200 {
				return services.PayoutRequest{}, services.ErrInsufficientEarnings
			}
			return services.PayoutRequest{
				ID:          "po_1",
				VendorID:    cmd.VendorID,
				Amount:      cmd.Amount,
				Method:      cmd.Method,
				Status:      domain.PayoutRequestPending,
				EarningIDs:  []string{"ve_1"},
				RequestedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	router := newVendorRouter(payouts, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/vendor/payouts", `{"amount":5000,"method":"UPI","accountDetails":{"vpa":"shop@bank"}}`, vendor("v1")))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.VendorID != "v1" || captured.Method != domain.PayoutMethodUPI || captured.AccountDetails["vpa"] != "shop@bank" {
		t.Fatalf("unexpected command %+v", captured)
	}
	var resp payoutPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "pending" || len(resp.EarningIDs) != 0 {
		t.Fatalf("vendors must not see reservation details, got %+v", resp)
	}

	cases := map[string]int{
		`{"amount":10,"method":"bank"}`:    http.StatusUnprocessableEntity,
		`{"amount":90000,"method":"bank"}`: http.StatusConflict,
	}
	for body, want := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/vendor/payouts", body, vendor("v1")))
		if rr.Code != want {
			t.Fatalf("%s: expected %d, got %d", body, want, rr.Code)
		}
	}
}

func TestVendorHandlersListPayoutsScopesToCaller(t *testing.T) {
	var captured services.PayoutListFilter
	payouts := &stubPayoutService{
		listFn: func(_ context.Context, filter services.PayoutListFilter) (domain.CursorPage[services.PayoutRequest], error) {
			captured = filter
			return domain.CursorPage[services.PayoutRequest]{Items: []services.PayoutRequest{{ID: "po_1", VendorID: filter.VendorID}}}, nil
		},
	}
	router := newVendorRouter(payouts, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/vendor/payouts?status=pending&vendorId=v2", "", vendor("v1")))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.VendorID != "v1" || captured.Status == nil || *captured.Status != domain.PayoutRequestPending {
		t.Fatalf("unexpected filter %+v", captured)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/vendor/payouts?status=lost", "", vendor("v1")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
}

func TestVendorHandlersSavePayoutAccount(t *testing.T) {
	payouts := &stubPayoutService{
		saveFn: func(_ context.Context, cmd services.SavePayoutAccountCommand) (services.PayoutAccount, error) {
			if cmd.Method != domain.PayoutMethodBank {
				return services.PayoutAccount{}, services.ErrPayoutInvalidInput
			}
			return services.PayoutAccount{VendorID: cmd.VendorID, Method: cmd.Method, Details: cmd.Details}, nil
		},
	}
	router := newVendorRouter(payouts, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPut, "/vendor/payout-account", `{"method":"bank","details":{"accountNumber":"12345678"}}`, vendor("v1")))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPut, "/vendor/payout-account", `{"method":"cheque"}`, vendor("v1")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestVendorHandlersReceiptLink(t *testing.T) {
	linker := &stubReceiptLinker{}
	router := newVendorRouter(&stubPayoutService{}, linker)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/vendor/payouts/po_1/receipt", "", vendor("v1")))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if linker.gotVendor != "v1" || linker.gotPayout != "po_1" {
		t.Fatalf("expected caller scoped lookup, got %s/%s", linker.gotVendor, linker.gotPayout)
	}
	var resp receiptLinkResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.URL != "https://storage.example/po_1" {
		t.Fatalf("unexpected link %+v", resp)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/vendor/payouts/po_1/receipt", "", buyer("v1")))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-vendor identity, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	newVendorRouter(&stubPayoutService{}, nil).ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/vendor/payouts/po_1/receipt", "", vendor("v1")))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without receipts, got %d", rr.Code)
	}
}
