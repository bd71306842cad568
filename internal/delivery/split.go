package delivery

import (
	"iter"
	"regexp"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// MaxMessageLen is Telegram's limit for one text message, in UTF-16 code
// units.
const MaxMessageLen = 4096

// protectedRe matches constructs a chunk boundary must not fall inside:
// complete anchors, any other tag, and HTML entities.
var protectedRe = regexp.MustCompile(`(?is)<a\s[^>]*>.*?</a>|<[^>]*>|&#?[a-zA-Z0-9]+;`)

type span struct{ start, end int }

// splitLevels in order of preference. minShare is the smallest acceptable
// chunk, as a fraction of the window, for that level.
var splitLevels = []struct {
	seps     []string
	minShare int // divisor of the window length; 0 accepts any position
}{
	{seps: []string{"\n\n"}, minShare: 4},
	{seps: []string{"\n"}, minShare: 4},
	{seps: []string{". ", "! ", "? ", "… "}, minShare: 4},
	{seps: []string{" "}, minShare: 0},
}

// SplitForTransmit yields consecutive chunks of text, each at most maxLen
// UTF-16 code units (the unit Telegram counts), preferring paragraph, line,
// sentence and word boundaries, and never cutting inside an anchor, tag or
// entity unless that construct alone is longer than maxLen. A rune wider
// than maxLen is yielded on its own. Concatenating the chunks gives back
// text exactly. An empty text yields nothing. A non-positive maxLen means
// MaxMessageLen.
func SplitForTransmit(text string, maxLen int) iter.Seq[string] {
	if maxLen <= 0 {
		maxLen = MaxMessageLen
	}
	return func(yield func(string) bool) {
		spans := protectedSpans(text)
		off := 0
		for off < len(text) {
			rest := text[off:]
			cut := unitOffset(rest, maxLen)
			if cut == len(rest) {
				yield(rest)
				return
			}
			n := splitPoint(rest, cut, off, spans)
			if !yield(rest[:n]) {
				return
			}
			off += n
		}
	}
}

// Split collects SplitForTransmit into a slice.
func Split(text string, maxLen int) []string {
	var out []string
	for chunk := range SplitForTransmit(text, maxLen) {
		out = append(out, chunk)
	}
	return out
}

func protectedSpans(text string) []span {
	idx := protectedRe.FindAllStringIndex(text, -1)
	out := make([]span, 0, len(idx))
	for _, m := range idx {
		out = append(out, span{m[0], m[1]})
	}
	return out
}

// unitOffset returns the byte offset just past the longest prefix of s that
// fits in n UTF-16 code units, or len(s) if all of s fits. At least one rune
// is taken so the split always advances.
func unitOffset(s string, n int) int {
	i, units := 0, 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		w := utf16Width(r)
		if units+w > n && i > 0 {
			break
		}
		units += w
		i += size
	}
	return i
}

// UTF16Len is the length of s as Telegram counts it.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16Width(r)
	}
	return n
}

func utf16Width(r rune) int {
	if w := utf16.RuneLen(r); w > 0 {
		return w
	}
	return 1 // invalid runes are sent as U+FFFD
}

// safe reports whether an absolute byte position lies outside every span.
func safe(pos int, spans []span) bool {
	for _, s := range spans {
		if s.start >= pos {
			return true
		}
		if pos < s.end {
			return false
		}
	}
	return true
}

// splitPoint picks the chunk length (in bytes) for rest, at most cut.
func splitPoint(rest string, cut, off int, spans []span) int {
	window := rest[:cut]
	for _, lvl := range splitLevels {
		minPos := 1
		if lvl.minShare > 0 {
			minPos = max(1, cut/lvl.minShare)
		}
		best := 0
		for _, sep := range lvl.seps {
			if p := lastSafeAfter(window, sep, off, minPos, spans); p > best {
				best = p
			}
		}
		if best > 0 {
			return best
		}
	}

	// No boundary: back off to the start of the construct that straddles cut.
	for _, s := range spans {
		if s.start-off >= cut {
			break
		}
		if s.end-off > cut && s.start-off > 0 {
			return s.start - off
		}
	}
	return cut
}

// lastSafeAfter finds the last position just after sep in window that is at
// least minPos and not inside a protected span. It returns 0 if none.
func lastSafeAfter(window, sep string, off, minPos int, spans []span) int {
	end := len(window)
	for end > 0 {
		i := strings.LastIndex(window[:end], sep)
		if i < 0 {
			return 0
		}
		p := i + len(sep)
		if p < minPos {
			return 0
		}
		if safe(off+p, spans) {
			return p
		}
		end = i
	}
	return 0
}
