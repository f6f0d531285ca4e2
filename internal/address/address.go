// Package address decomposes free-text postal addresses into street, postal
// code and city.
//
// The parser is deliberately heuristic. It understands the common European
// layout used in HubSpot exports:
//
//	<street>, <postal code> <city>
//	<street>\n<postal code> <city>
//
// Anything else (no separator, more than one separator, a lone token after the
// separator) is reported as a failure and all components are left empty. A
// failure is not an error: callers treat it as "no address" and let required
// field checks decide whether the row is usable.
package address

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Parts holds the components of a successfully parsed address.
type Parts struct {
	City       string
	Street     string
	PostalCode string
}

var (
	lineBreaks = regexp.MustCompile(`[\r\n]+`)
	spaces     = regexp.MustCompile(`[\s\v\p{Z}\x{85}\x{1c}-\x{1f}]+`)
)

// Parse splits s into its components. ok is false when s does not match the
// supported layout; Parts is then the zero value.
//
// Parse is pure: identical input always yields identical output.
func Parse(s string) (p Parts, ok bool) {
	s = normalize(s)
	if s == "" {
		return Parts{}, false
	}

	segments := strings.Split(s, ",")
	if len(segments) != 2 {
		return Parts{}, false
	}
	street, zipCity := segments[0], segments[1]

	tokens := strings.Split(strings.TrimSpace(zipCity), " ")
	if len(tokens) < 2 {
		return Parts{}, false
	}

	zip := []string{tokens[0]}
	city := []string{tokens[len(tokens)-1]}
	interior := tokens[1 : len(tokens)-1]

	for i, tok := range interior {
		if isAlpha(tok) {
			city = append(append([]string{}, interior[i:]...), city...)
			break
		}
		zip = append(zip, tok)
	}

	return Parts{
		City:       strings.Join(city, " "),
		Street:     street,
		PostalCode: strings.Join(zip, " "),
	}, true
}

// normalize composes s to NFC, turns line breaks into commas, collapses
// whitespace and trims the result.
func normalize(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFC.String(s)
	s = lineBreaks.ReplaceAllString(s, ",")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// isAlpha reports whether tok is non-empty and made of letters only.
func isAlpha(tok string) bool {
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
