package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrEmptyHandle   = errors.New("empty channel handle")
	ErrInvalidHandle = errors.New("invalid channel handle")
	ErrInvalidPeriod = errors.New("invalid summary period")
)

// Public usernames: 5..32 chars, letters, digits and underscores, starting with a letter.
var handleRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,30}[A-Za-z0-9]$`)

var handlePrefixes = []string{
	"https://t.me/",
	"http://t.me/",
	"https://telegram.me/",
	"http://telegram.me/",
	"t.me/",
	"telegram.me/",
}

// NormalizeHandle accepts "@name", "name", "t.me/name" or "https://t.me/name[/123]"
// and returns the bare username. The result is not validated.
func NormalizeHandle(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, p := range handlePrefixes {
		if strings.HasPrefix(lower, p) {
			s = s[len(p):]
			break
		}
	}
	s = strings.TrimPrefix(s, "@")
	// drop a trailing post id or slash: "name/123", "name/"
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

// ParseHandle normalizes and validates a user-supplied channel handle.
// Usernames are case-insensitive, so the result is lower-cased.
func ParseHandle(s string) (string, error) {
	h := strings.ToLower(NormalizeHandle(s))
	if h == "" {
		return "", ErrEmptyHandle
	}
	if !handleRe.MatchString(h) {
		return "", fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	return h, nil
}

// ParsePeriod parses a period in days ("1", "3", "7") into a supported Period.
func ParsePeriod(s string) (Period, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	p := Period(n)
	if !p.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPeriod, n)
	}
	return p, nil
}
