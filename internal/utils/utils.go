package utils

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	maxLineSize = 2 * 1024 * 1024 // 2 mib, audio transcripts can be long
)

// ReadLines - Calls fn for every non-blank line of the file with its 1-based line number. Stops at the first error.
func ReadLines(path string, fn func(lineNum int, line []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if err := fn(lineNum, line); err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNum, err)
		}
	}
	return scanner.Err()
}

// Cosine - Cosine similarity of two vectors. Mismatched lengths or zero vectors give 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize - Scales v to unit length in place. Zero vectors are left alone.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// TruncateRunes - Cut s to at most n runes, appending "..." when something was cut. Byte slicing would split CJK characters.
func TruncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// Words - Lowercased letter/digit tokens. CJK text has no spaces so every Han character counts as its own token.
func Words(s string) []string {
	var (
		words []string
		cur   strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			words = append(words, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return words
}

// Bigrams - Adjacent Han character pairs plus whole non-Han words. A cheap stand-in for word segmentation.
func Bigrams(s string) []string {
	words := Words(s)
	var out []string
	for i, w := range words {
		if utf8.RuneCountInString(w) > 1 || !isHan(w) {
			out = append(out, w)
			continue
		}
		if i+1 < len(words) && isHan(words[i+1]) {
			out = append(out, w+words[i+1])
		}
	}
	return out
}

func isHan(w string) bool {
	r, _ := utf8.DecodeRuneInString(w)
	return utf8.RuneCountInString(w) == 1 && unicode.Is(unicode.Han, r)
}

// Seconds - Duration as fractional seconds, the unit used in every timing field.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}
