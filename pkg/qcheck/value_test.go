package qcheck

import (
	"testing"
	"time"
)

func TestFromAnyRoundTrip(t *testing.T) {
	tests := []struct {
		in   any
		kind ValueKind
	}{
		{nil, KindNull},
		{true, KindBool},
		{int64(3), KindInt},
		{3.5, KindFloat},
		{"hello", KindString},
		{[]any{1.0, 2.0}, KindList},
	}

	for _, tt := range tests {
		v := FromAny(tt.in)
		if v.Kind() != tt.kind {
			t.Errorf("FromAny(%v).Kind() = %v, want %v", tt.in, v.Kind(), tt.kind)
		}
	}
}

func TestValueEqualSoftFloat(t *testing.T) {
	a := NewFloat(1.004)
	b := NewFloat(1.0)
	if !a.Equal(b) {
		t.Errorf("1.004 should soft-equal 1.0 within tolerance")
	}

	c := NewFloat(1.02)
	if a.Equal(c) {
		t.Errorf("1.004 should not soft-equal 1.02")
	}
}

func TestValueEqualNull(t *testing.T) {
	if !Null.Equal(Null) {
		t.Errorf("null should equal null")
	}
	if Null.Equal(NewInt(0)) {
		t.Errorf("null should not equal zero")
	}
}

func TestValueEqualIntFloat(t *testing.T) {
	if !NewInt(4).Equal(NewFloat(4.0)) {
		t.Errorf("integer 4 should equal float 4.0")
	}
}

func TestOrderingNullNeverOrders(t *testing.T) {
	if _, ok := Ordering(Null, NewInt(1)); ok {
		t.Errorf("ordering against null should not be meaningful")
	}
	if _, ok := Ordering(NewInt(1), Null); ok {
		t.Errorf("ordering against null should not be meaningful")
	}
}

func TestOrderingNumeric(t *testing.T) {
	cmp, ok := Ordering(NewInt(1), NewFloat(2.0))
	if !ok || cmp >= 0 {
		t.Errorf("Ordering(1, 2.0) = (%d, %v), want (-1, true)", cmp, ok)
	}
}

func TestOrderingDates(t *testing.T) {
	early := NewDate(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	late := NewDate(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))
	cmp, ok := Ordering(early, late)
	if !ok || cmp >= 0 {
		t.Errorf("Ordering(early, late) = (%d, %v), want (-1, true)", cmp, ok)
	}
}

func TestAsDateFromString(t *testing.T) {
	v := NewString("2024-03-15")
	d, ok := v.AsDate()
	if !ok {
		t.Fatalf("expected 2024-03-15 to parse as a date")
	}
	if d.Year() != 2024 || d.Month() != time.March || d.Day() != 15 {
		t.Errorf("parsed date = %v, want 2024-03-15", d)
	}
}

func TestAsDateSlashLayout(t *testing.T) {
	v := NewString("2024/03/15")
	if _, ok := v.AsDate(); !ok {
		t.Errorf("expected 2024/03/15 to parse as a date")
	}
}

func TestToAnyRoundTrip(t *testing.T) {
	if got := NewInt(5).ToAny(); got != int64(5) {
		t.Errorf("ToAny() = %v, want int64(5)", got)
	}
	if got := Null.ToAny(); got != nil {
		t.Errorf("ToAny() of null = %v, want nil", got)
	}
}
