package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bazaarly/api/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func newRequest(method, path, body, key, uid string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RoleBuyer}}))
	}
	return req
}

func TestMiddleware_KeyOptionalByDefault(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newRequest(http.MethodPost, "/orders", `{}`, "", "u1"))
		if rr.Code != http.StatusCreated {
			t.Fatalf("unexpected status %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected both keyless requests to reach the handler, got %d", calls)
	}
}

func TestMiddleware_RequiredKey(t *testing.T) {
	store := NewMemoryStore()
	handlerCalled := false
	handler := Middleware(store, WithRequiredKey())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		handlerCalled = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest(http.MethodPost, "/orders", `{"foo":"bar"}`, "", "u1"))
	if handlerCalled {
		t.Fatal("handler should not be invoked when header is missing")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest(http.MethodPost, "/orders", `{}`, strings.Repeat("k", maxKeyLength+1), "u1"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected oversize key to be refused, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_invalid")
}

func TestMiddleware_SkipsSafeMethods(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithRequiredKey())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest(http.MethodGet, "/orders", "", "", "u1"))
	if calls != 1 || rr.Code != http.StatusOK {
		t.Fatalf("expected GET to pass through, calls=%d status=%d", calls, rr.Code)
	}
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "session=secret")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newRequest(http.MethodPost, "/orders", `{"foo":"bar"}`, "abc-123", "u1"))
	if rr1.Code != http.StatusCreated || rr1.Header().Get(replayHeaderName) != "" {
		t.Fatalf("unexpected first response status=%d replay=%q", rr1.Code, rr1.Header().Get(replayHeaderName))
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newRequest(http.MethodPost, "/orders", `{"foo":"bar"}`, "abc-123", "u1"))
	if calls != 1 {
		t.Fatalf("expected handler not to be called again, got %d calls", calls)
	}
	if rr2.Code != http.StatusCreated {
		t.Fatalf("expected replayed status 201, got %d", rr2.Code)
	}
	if rr2.Body.String() != `{"ok":true}` {
		t.Fatalf("unexpected replay body %q", rr2.Body.String())
	}
	if rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header")
	}
	if rr2.Header().Get("Set-Cookie") != "" {
		t.Fatalf("cookies must not be replayed")
	}
}

func TestMiddleware_KeysScopedPerPrincipal(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for _, uid := range []string{"buyer-1", "buyer-2"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newRequest(http.MethodPost, "/orders", `{}`, "same-key", uid))
		if rr.Code != http.StatusCreated {
			t.Fatalf("unexpected status %d for %s", rr.Code, uid)
		}
	}
	if calls != 2 {
		t.Fatalf("expected each principal to own its key, got %d calls", calls)
	}
}

func TestMiddleware_FingerprintConflict(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest(http.MethodPost, "/orders", `{"qty":1}`, "dup", "u1"))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest(http.MethodPost, "/orders", `{"qty":2}`, "dup", "u1"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingConflict(t *testing.T) {
	store := NewMemoryStore()
	req := newRequest(http.MethodPost, "/payments", `{}`, "inflight", "u1")
	principal := requester(req.Context())
	fingerprint := requestFingerprint(req, []byte(`{}`), principal)
	if _, err := store.Reserve(context.Background(), scopedKey("inflight", principal), fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is pending")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ServerErrorsAreNotStored(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest(http.MethodPost, "/payments", `{}`, "retry-me", "u1"))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 to pass through, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest(http.MethodPost, "/payments", `{}`, "retry-me", "u1"))
	if rr.Code != http.StatusOK || calls != 2 {
		t.Fatalf("expected retry to run the handler, status=%d calls=%d", rr.Code, calls)
	}
}

func TestMiddleware_SaveFailureReleasesKey(t *testing.T) {
	store := &failingSaveStore{MemoryStore: NewMemoryStore()}
	var events []string
	logger := func(_ context.Context, event string, fields map[string]any) {
		events = append(events, event+":"+fields["stage"].(string))
	}
	handler := Middleware(store, WithLogger(logger))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ord_1"}`))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest(http.MethodPost, "/orders", `{}`, "k1", "u1"))
	if rr.Code != http.StatusCreated || rr.Body.String() != `{"id":"ord_1"}` {
		t.Fatalf("expected handler response to be returned, got %d %q", rr.Code, rr.Body.String())
	}
	if store.released != 1 {
		t.Fatalf("expected key to be released, got %d releases", store.released)
	}
	if len(events) != 1 || events[0] != "idempotency.store.failed:save" {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "old", "f", fixedTime, time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := store.Reserve(ctx, "fresh", "f", fixedTime, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	removed, err := store.CleanupExpired(ctx, fixedTime.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	res, err := store.Reserve(ctx, "old", "other", fixedTime.Add(10*time.Minute), time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected expired key to be reusable, got %+v %v", res, err)
	}
}

type failingSaveStore struct {
	*MemoryStore
	released int
}

func (s *failingSaveStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	return errors.New("firestore unavailable")
}

func (s *failingSaveStore) Release(ctx context.Context, key, fingerprint string) error {
	s.released++
	return s.MemoryStore.Release(ctx, key, fingerprint)
}

func assertErrorResponse(t *testing.T, body []byte, wantCode string) {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if payload["error"] != wantCode {
		t.Fatalf("expected error code %q, got %v", wantCode, payload["error"])
	}
}
