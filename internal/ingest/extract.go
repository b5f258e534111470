package ingest

import "strings"

// SplitName splits a free-text full name on whitespace. The first token is
// the first name; the remaining tokens, joined by single spaces, form the
// last name.
func SplitName(raw string) (first, last string) {
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// Address is a postal address split into its positional parts.
type Address struct {
	Street string
	City   string
	State  string
	Zip    string
}

// SplitAddress reads "street, city, state, zip". Missing trailing segments
// are left empty and segments past the fourth are ignored.
//
// Only the comma-positional form is understood. An address like
// "123 Main St Springfield IL 62704" ends up entirely in Street.
func SplitAddress(raw string) Address {
	if strings.TrimSpace(raw) == "" {
		return Address{}
	}

	var seg [4]string
	for i, p := range strings.SplitN(raw, ",", 5) {
		if i == len(seg) {
			break
		}
		seg[i] = strings.TrimSpace(p)
	}
	return Address{Street: seg[0], City: seg[1], State: seg[2], Zip: seg[3]}
}

// SplitPhone separates an extension written after a lowercase 'x' marker,
// as in "555-1234 x402". ext is nil only when there is no marker; a bare
// trailing marker yields an empty extension. Text after a second marker is
// dropped.
func SplitPhone(raw string) (phone string, ext *string) {
	before, after, found := strings.Cut(raw, "x")
	if !found {
		return strings.TrimSpace(raw), nil
	}

	after, _, _ = strings.Cut(after, "x")
	e := strings.TrimSpace(after)
	return strings.TrimSpace(before), &e
}
