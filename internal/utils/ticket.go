package utils

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minKeyLen    = 2
	maxKeyLen    = 3
	maxNumberLen = 6
)

// TicketFilter restricts which ticket tokens are accepted.
type TicketFilter struct {
	// Prefix must match the start of the project key (case-insensitive).
	Prefix string
	// KnownProjects, when non-empty, lists the only accepted project keys.
	KnownProjects []string
}

func (f TicketFilter) accepts(key string) bool {
	if f.Prefix != "" && !strings.HasPrefix(key, strings.ToUpper(strings.TrimSpace(f.Prefix))) {
		return false
	}
	if len(f.KnownProjects) == 0 {
		return true
	}
	for _, p := range f.KnownProjects {
		if strings.EqualFold(strings.TrimSpace(p), key) {
			return true
		}
	}
	return false
}

// ExtractTicketID returns the first ticket ID in text accepted by filter,
// normalized as KEY-NUMBER. Tokens look like "XY-123", "xy 123", "xy:123" or
// "XY123" and may appear anywhere in the text.
func ExtractTicketID(text string, filter TicketFilter) (string, bool) {
	var found string
	scanTickets(text, func(key, number string) bool {
		if !filter.accepts(key) {
			return true
		}
		found = key + "-" + number
		return false
	})
	return found, found != ""
}

// ExtractTicketIDs returns every distinct ticket ID accepted by filter, in
// order of appearance.
func ExtractTicketIDs(text string, filter TicketFilter) []string {
	var ids []string
	seen := make(map[string]bool)
	scanTickets(text, func(key, number string) bool {
		if !filter.accepts(key) {
			return true
		}
		id := key + "-" + number
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
		return true
	})
	return ids
}

// NormalizeTicketID turns user input such as "abc123", "abc 123" or "abc-123"
// into "ABC-123". Input that does not look like a ticket is returned
// upper-cased without spaces.
func NormalizeTicketID(input string) string {
	cleaned := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(input), " ", ""))
	if strings.Contains(cleaned, "-") {
		return cleaned
	}
	i := strings.IndexFunc(cleaned, func(r rune) bool { return r < 'A' || r > 'Z' })
	if i <= 0 || !isDigits(cleaned[i:]) {
		return cleaned
	}
	return fmt.Sprintf("%s-%s", cleaned[:i], cleaned[i:])
}

// scanTickets walks the ticket tokens of text from left to right and calls fn
// with the upper-cased project key and number until fn returns false.
func scanTickets(text string, fn func(key, number string) bool) {
	for i := 0; i < len(text); i++ {
		if !isASCIILetter(text[i]) || (i > 0 && isASCIILetter(text[i-1])) {
			continue
		}
		key, number, end, ok := matchTicketAt(text, i)
		if !ok {
			continue
		}
		if !fn(strings.ToUpper(key), number) {
			return
		}
		i = end - 1
	}
}

// matchTicketAt matches a token starting at a letter-run boundary.
func matchTicketAt(text string, start int) (key, number string, end int, ok bool) {
	pos := start
	for pos < len(text) && isASCIILetter(text[pos]) {
		pos++
	}
	if n := pos - start; n < minKeyLen || n > maxKeyLen {
		return "", "", 0, false
	}
	key = text[start:pos]

	if pos < len(text) && (text[pos] == '-' || text[pos] == ':') {
		pos++
	}
	for pos < len(text) {
		r, size := utf8.DecodeRuneInString(text[pos:])
		if !unicode.IsSpace(r) {
			break
		}
		pos += size
	}

	digitsStart := pos
	for pos < len(text) && isDigit(text[pos]) {
		pos++
	}
	if n := pos - digitsStart; n == 0 || n > maxNumberLen {
		return "", "", 0, false
	}
	if pos < len(text) && text[pos] == '-' {
		return "", "", 0, false
	}
	return key, text[digitsStart:pos], pos, true
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}
