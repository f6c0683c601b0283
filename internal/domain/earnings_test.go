package domain

import (
	"math"
	"testing"
)

func TestMulDivHalfUpRounds(t *testing.T) {
	cases := []struct {
		a, b, c int64
		want    int64
	}{
		{a: 12345, b: 1000, c: 10000, want: 1235},
		{a: 12344, b: 1000, c: 10000, want: 1234},
		{a: -12345, b: 1000, c: 10000, want: -1235},
		{a: 0, b: 1000, c: 10000, want: 0},
	}
	for _, tc := range cases {
		if got := MulDivHalfUp(tc.a, tc.b, tc.c); got != tc.want {
			t.Fatalf("MulDivHalfUp(%d, %d, %d) = %d, want %d", tc.a, tc.b, tc.c, got, tc.want)
		}
	}
}

func TestMulDivHalfUpLargeProduct(t *testing.T) {
	gross := int64(math.MaxInt64 / 2)
	got := MulDivHalfUp(gross, 1000, 10000)
	want := gross / 10
	if got != want {
		t.Fatalf("expected %d without overflow, got %d", want, got)
	}
	if got := MulDivHalfUp(math.MaxInt64, 10000, 10000); got != math.MaxInt64 {
		t.Fatalf("expected full rate to return the amount, got %d", got)
	}
}

func TestCheckedMulDetectsOverflow(t *testing.T) {
	if v, ok := CheckedMul(1<<31, 1<<31); !ok || v != 1<<62 {
		t.Fatalf("expected 2^62, got %d %v", v, ok)
	}
	if _, ok := CheckedMul(1<<32, 1<<31); ok {
		t.Fatalf("expected 2^63 to overflow")
	}
	if _, ok := CheckedMul(-1, 5); ok {
		t.Fatalf("expected negative operand to be rejected")
	}
}

func TestSummariseEarningsExcludesReversed(t *testing.T) {
	summary := SummariseEarnings("v1", []VendorEarning{
		{GrossAmount: 1000, CommissionAmount: 100, NetEarning: 900, PayoutStatus: PayoutStatusUnpaid},
		{GrossAmount: 2000, CommissionAmount: 200, NetEarning: 1800, PayoutStatus: PayoutStatusReversed},
	}, nil)
	if summary.Unpaid != 900 || summary.Reversed != 1800 || summary.Commission != 100 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}
