package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/bazaarly/api/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		ok      bool
		sampled bool
		spanID  string
	}{
		{name: "decimal span sampled", header: "105445aa7843bc8bf206b12000100000/1;o=1", ok: true, sampled: true, spanID: "0000000000000001"},
		{name: "hex span", header: "105445aa7843bc8bf206b12000100000/00f067aa0ba902b7;o=0", ok: true, spanID: "00f067aa0ba902b7"},
		{name: "no options", header: "105445aa7843bc8bf206b12000100000/42", ok: true, spanID: "000000000000002a"},
		{name: "short trace", header: "abc/1;o=1"},
		{name: "missing span", header: "105445aa7843bc8bf206b12000100000"},
		{name: "zero span", header: "105445aa7843bc8bf206b12000100000/0"},
		{name: "empty", header: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sc, ok := parseCloudTraceContext(tc.header)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if sc.IsSampled() != tc.sampled || !sc.IsRemote() {
				t.Fatalf("unexpected span context %+v", sc)
			}
			if sc.SpanID().String() != tc.spanID {
				t.Fatalf("span id = %s, want %s", sc.SpanID(), tc.spanID)
			}
		})
	}
}

func TestTraceMiddlewareStoresTraceInfo(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("bazaarly-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		info, ok = requestctx.Trace(r.Context())
		if !ok {
			t.Fatalf("expected trace info on context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if info.ProjectID != "bazaarly-prod" {
		t.Fatalf("expected project id, got %+v", info)
	}
	// the global no-op tracer propagates the remote parent unchanged
	if info.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected traceparent trace id, got %s", info.TraceID)
	}
	if !strings.HasPrefix(rr.Header().Get(cloudTraceHeader), info.TraceID+"/") {
		t.Fatalf("expected cloud trace response header, got %q", rr.Header().Get(cloudTraceHeader))
	}
}

func TestRemoteSpanContextFallsBackToCloudTrace(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/7;o=1")
	ctx, remote := remoteSpanContext(req)
	if !remote {
		t.Fatalf("expected remote parent from cloud trace header")
	}
	if got := trace.SpanContextFromContext(ctx).TraceID().String(); got != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", got)
	}
}
