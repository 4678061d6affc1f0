// Package normalize canonicalizes free-text contact values so that
// semantically identical inputs compare equal.
//
// Every function is total: it never fails and never panics. An input that is
// empty after normalization yields "", which callers treat as absent. The same
// functions run when a value is persisted and when it is fingerprinted, so a
// stored value always reproduces its own fingerprint.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Class selects the per-field rules applied on top of Text.
type Class int

const (
	ClassText Class = iota
	ClassStreet
	ClassPostalCode
	ClassEmail
	ClassPhone
	ClassURL
	ClassHeader
)

// Apply normalizes raw according to class.
func Apply(class Class, raw string) string {
	switch class {
	case ClassStreet:
		return Street(raw)
	case ClassPostalCode:
		return PostalCode(raw)
	case ClassEmail:
		return Email(raw)
	case ClassPhone:
		return Phone(raw)
	case ClassURL:
		return URL(raw)
	case ClassHeader:
		return Header(raw)
	default:
		return Text(raw)
	}
}

// Text applies NFKC composition, trims, case-folds and collapses every run of
// whitespace to a single space.
//
//	Text("  123   Main St ") == "123 main st"
//	Text("   ")               == ""
func Text(raw string) string {
	if raw == "" {
		return ""
	}
	s := norm.NFKC.String(raw)
	// cases.Caser is stateful; one per call keeps Text safe for concurrent use.
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Header normalizes an import column name.
func Header(raw string) string {
	return Text(raw)
}

// Street is Text with address punctuation removed, so "123 Main St." and
// "123 main st" match.
func Street(raw string) string {
	return Text(strings.Map(func(r rune) rune {
		switch r {
		case '.':
			return -1
		case ',', '#':
			return ' '
		}
		return r
	}, raw))
}

// PostalCode is Text without inner spaces or hyphens.
func PostalCode(raw string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, Text(raw))
}

// Email folds case and drops all whitespace.
func Email(raw string) string {
	return strings.Join(strings.Fields(Text(raw)), "")
}

// Phone keeps digits and a leading plus sign.
//
//	Phone("(555) 010-2000") == "5550102000"
//	Phone("+1 555 010 2000") == "+15550102000"
func Phone(raw string) string {
	s := norm.NFKC.String(strings.TrimSpace(raw))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}

// URL is Text without scheme, leading "www." or trailing slashes.
//
//	URL("https://www.Example.com/") == "example.com"
func URL(raw string) string {
	s := Text(raw)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimRight(s, "/")
}
