package cronx

import (
	"testing"
	"time"
)

func TestPrevFiveMinuteBoundary(t *testing.T) {
	t.Parallel()
	ref := time.Date(2025, 3, 10, 14, 6, 0, 0, time.UTC) // one minute past 14:05
	got, err := Prev("*/5 * * * *", ref, time.UTC)
	if err != nil {
		t.Fatalf("Prev error: %v", err)
	}
	want := time.Date(2025, 3, 10, 14, 5, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Prev = %v, want %v", got, want)
	}
}

func TestPrevExactlyOnBoundary(t *testing.T) {
	t.Parallel()
	ref := time.Date(2025, 3, 10, 14, 5, 0, 0, time.UTC)
	got, err := Prev("*/5 * * * *", ref, time.UTC)
	if err != nil {
		t.Fatalf("Prev error: %v", err)
	}
	if !got.Equal(ref) {
		t.Fatalf("Prev on a boundary = %v, want %v", got, ref)
	}
}

func TestPrevSparseSchedule(t *testing.T) {
	t.Parallel()
	// Monthly firing: window expansion has to reach back several weeks.
	ref := time.Date(2025, 3, 20, 9, 30, 0, 0, time.UTC)
	got, err := Prev("0 0 1 * *", ref, time.UTC)
	if err != nil {
		t.Fatalf("Prev error: %v", err)
	}
	want := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Prev = %v, want %v", got, want)
	}
}

func TestNextStrictlyAfter(t *testing.T) {
	t.Parallel()
	ref := time.Date(2025, 3, 10, 14, 5, 0, 0, time.UTC)
	got, err := Next("*/5 * * * *", ref, time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	want := time.Date(2025, 3, 10, 14, 10, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNextHonorsLocation(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 9am daily in New York.
	ref := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) // 08:00 in NY
	got, err := Next("0 9 * * *", ref, loc)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	want := time.Date(2025, 6, 1, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := Validate("*/5 * * * *"); err != nil {
		t.Fatalf("valid expression rejected: %v", err)
	}
	if err := Validate("not a cron"); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}

func TestLocationFallback(t *testing.T) {
	t.Parallel()
	if got := Location(""); got != time.UTC {
		t.Fatalf("empty tz = %v, want UTC", got)
	}
	if got := Location("Not/AZone"); got != time.UTC {
		t.Fatalf("unknown tz = %v, want UTC", got)
	}
}
