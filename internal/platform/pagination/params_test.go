package pagination

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFromRequestDefaults(t *testing.T) {
	pager, err := FromRequest(httptest.NewRequest("GET", "/orders", nil))
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if pager.PageSize != DefaultPageSize || pager.PageToken != "" {
		t.Fatalf("unexpected defaults %+v", pager)
	}
}

func TestFromRequestClampsPageSize(t *testing.T) {
	pager, err := FromRequest(httptest.NewRequest("GET", "/orders?pageSize=500", nil))
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if pager.PageSize != DefaultMaxPageSize {
		t.Fatalf("expected clamp to %d, got %d", DefaultMaxPageSize, pager.PageSize)
	}
}

func TestFromRequestRejectsInvalidValues(t *testing.T) {
	cases := map[string]error{
		"/orders?pageSize=abc":          ErrInvalidPageSize,
		"/orders?pageSize=0":            ErrInvalidPageSize,
		"/orders?pageToken=%%%bad":      ErrInvalidPageToken,
		"/orders?pageToken=bm90LWpzb24": ErrInvalidPageToken,
	}
	for target, want := range cases {
		_, err := FromRequest(httptest.NewRequest("GET", target, nil))
		if !errors.Is(err, want) {
			t.Fatalf("%s: expected %v, got %v", target, want, err)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := EncodeToken(Cursor{StartAt: []any{"20"}})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if len(cursor.StartAt) != 1 || cursor.StartAt[0] != "20" {
		t.Fatalf("unexpected cursor %+v", cursor)
	}
	if empty, _ := EncodeToken(Cursor{}); empty != "" {
		t.Fatalf("expected empty token for empty cursor")
	}
}

func TestKeysetRoundTrip(t *testing.T) {
	at := time.Date(2025, 2, 3, 4, 5, 6, 7, time.UTC)
	token, err := EncodeKeyset(at, "ord_9")
	if err != nil {
		t.Fatalf("EncodeKeyset: %v", err)
	}
	gotAt, gotID, ok, err := DecodeKeyset(token)
	if err != nil || !ok {
		t.Fatalf("DecodeKeyset: ok=%v err=%v", ok, err)
	}
	if !gotAt.Equal(at) || gotID != "ord_9" {
		t.Fatalf("unexpected keyset %v %s", gotAt, gotID)
	}
	if _, _, ok, err := DecodeKeyset(""); ok || err != nil {
		t.Fatalf("expected empty token to yield no keyset, got ok=%v err=%v", ok, err)
	}
	offset, _ := EncodeToken(Cursor{StartAt: []any{"20"}})
	if _, _, _, err := DecodeKeyset(offset); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken for offset token, got %v", err)
	}
}
