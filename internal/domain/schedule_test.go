package domain

import (
	"errors"
	"testing"
	"time"
)

func mustUTC(t *testing.T, layout, v string) time.Time {
	t.Helper()
	ts, err := time.Parse(layout, v)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts.UTC()
}

func TestIsDue_NeverSummarized(t *testing.T) {
	u := &User{ID: 1, Period: PeriodWeekly}
	for _, now := range []time.Time{time.Unix(0, 0), time.Now(), time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)} {
		if !IsDue(now, u) {
			t.Fatalf("user without last summary must be due at %s", now)
		}
	}
}

func TestIsDue_BoundaryInclusive(t *testing.T) {
	last := mustUTC(t, time.RFC3339, "2025-05-05T12:00:00Z")
	for _, p := range Periods {
		u := &User{ID: 1, Period: p, LastSummaryAt: &last}
		boundary := last.Add(p.Duration())

		if !IsDue(boundary, u) {
			t.Fatalf("period %d: want due at boundary %s", p, boundary)
		}
		if IsDue(boundary.Add(-time.Second), u) {
			t.Fatalf("period %d: want not due one second before boundary", p)
		}
		if !IsDue(boundary.Add(time.Hour), u) {
			t.Fatalf("period %d: want due after boundary", p)
		}
	}
}

func TestWindow_AnchoredAtNow(t *testing.T) {
	now := mustUTC(t, time.RFC3339, "2025-05-08T13:00:00Z")
	since, until := Window(now, PeriodThreeDays)
	if !until.Equal(now) {
		t.Fatalf("until: want %s, got %s", now, until)
	}
	if want := now.Add(-72 * time.Hour); !since.Equal(want) {
		t.Fatalf("since: want %s, got %s", want, since)
	}
}

func TestPeriod_Valid(t *testing.T) {
	tests := []struct {
		p    Period
		want bool
	}{
		{1, true}, {3, true}, {7, true},
		{0, false}, {2, false}, {-1, false}, {30, false},
	}
	for _, tt := range tests {
		if got := tt.p.Valid(); got != tt.want {
			t.Errorf("Period(%d).Valid() = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestParsePeriod(t *testing.T) {
	if p, err := ParsePeriod(" 3 "); err != nil || p != PeriodThreeDays {
		t.Fatalf("want 3, got %d (%v)", p, err)
	}
	for _, in := range []string{"", "2", "abc", "-7"} {
		if _, err := ParsePeriod(in); !errors.Is(err, ErrInvalidPeriod) {
			t.Errorf("ParsePeriod(%q): want ErrInvalidPeriod, got %v", in, err)
		}
	}
}

func TestParseHandle(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "bare", in: "durov", want: "durov"},
		{name: "at sign", in: "@durov", want: "durov"},
		{name: "link", in: "https://t.me/python_news", want: "python_news"},
		{name: "link with post", in: "t.me/vcnews/58098", want: "vcnews"},
		{name: "spaces", in: "  @linuxos_tg  ", want: "linuxos_tg"},
		{name: "mixed case", in: "@Durov", want: "durov"},
		{name: "empty", in: "@", wantErr: ErrEmptyHandle},
		{name: "too short", in: "abc", wantErr: ErrInvalidHandle},
		{name: "starts with digit", in: "1channel", wantErr: ErrInvalidHandle},
		{name: "bad chars", in: "chan-nel", wantErr: ErrInvalidHandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHandle(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("want %q, got %q", tt.want, got)
			}
		})
	}
}
