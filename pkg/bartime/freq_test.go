package bartime

import (
	"testing"
	"time"
)

func TestParseFrequency(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
		periods int
		unit    string
	}{
		{"1min", false, 1, "min"},
		{"5min", false, 5, "min"},
		{"1h", false, 1, "h"},
		{"1d", false, 1, "d"},
		{"", true, 0, ""},
		{"min", true, 0, ""},
		{"5x", true, 0, ""},
	}
	for _, c := range cases {
		f, err := ParseFrequency(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseFrequency(%q): expected error, got none", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseFrequency(%q): unexpected error: %v", c.in, err)
		}
		if f.Periods != c.periods || f.Unit != c.unit {
			t.Errorf("ParseFrequency(%q) = %+v, want periods=%d unit=%s", c.in, f, c.periods, c.unit)
		}
	}
}

func TestIsMultipleOf(t *testing.T) {
	native := MustParseFrequency("1min")
	five := MustParseFrequency("5min")
	hour := MustParseFrequency("1h")
	if !five.IsMultipleOf(native) {
		t.Error("5min should be a multiple of 1min")
	}
	if !hour.IsMultipleOf(native) {
		t.Error("1h should be a multiple of 1min")
	}
	weirdNative := MustParseFrequency("7min")
	if five.IsMultipleOf(weirdNative) {
		t.Error("5min should not be a multiple of 7min")
	}
}

func TestCeilFloor(t *testing.T) {
	freq := MustParseFrequency("5min")
	ts := time.Date(2026, 1, 1, 10, 2, 30, 0, time.UTC)

	floored := Floor(ts, freq)
	want := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	if !floored.Equal(want) {
		t.Errorf("Floor = %v, want %v", floored, want)
	}

	ceiled := Ceil(ts, freq)
	wantCeil := time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC)
	if !ceiled.Equal(wantCeil) {
		t.Errorf("Ceil = %v, want %v", ceiled, wantCeil)
	}

	// Exactly on a boundary: Ceil should be idempotent.
	onBoundary := time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC)
	if c := Ceil(onBoundary, freq); !c.Equal(onBoundary) {
		t.Errorf("Ceil(on boundary) = %v, want %v", c, onBoundary)
	}
}

func TestMaxEnd(t *testing.T) {
	native := MustParseFrequency("1min")
	freq := MustParseFrequency("5min")
	now := time.Date(2026, 1, 1, 10, 7, 42, 0, time.UTC)
	// floor(now, 5min) = 10:05; max_end = 10:05 - 1min = 10:04
	got := MaxEnd(now, freq, native)
	want := time.Date(2026, 1, 1, 10, 4, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("MaxEnd = %v, want %v", got, want)
	}
}
