// Package domainname validates queried domain names and converts them to
// their ASCII (punycode) form.
package domainname

import (
	"strings"

	"golang.org/x/net/idna"

	"github.com/jonathan/breachcase/internal/failure"
)

var profile = idna.New(
	idna.MapForLookup(),
	idna.BidiRule(),
	idna.ValidateLabels(true),
	idna.CheckHyphens(true),
	idna.StrictDomainName(true),
	idna.VerifyDNSLength(true),
	idna.Transitional(false),
)

// Normalize trims, lowercases and punycode-encodes name. It rejects URLs,
// e-mail addresses, single-label names and anything IDNA lookup refuses.
func Normalize(name string) (string, error) {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return "", failure.Configuration("domain is required")
	}
	if strings.ContainsAny(name, "/:@ ") {
		return "", failure.Configuration("invalid domain %q: expected a bare domain name", name)
	}

	ascii, err := profile.ToASCII(name)
	if err != nil {
		return "", failure.Configuration("invalid domain %q: %v", name, err)
	}
	ascii = strings.ToLower(ascii)
	if !strings.Contains(ascii, ".") {
		return "", failure.Configuration("invalid domain %q: needs at least two labels", name)
	}
	return ascii, nil
}

// Display returns the Unicode form of an ASCII domain, or the input when it
// cannot be decoded.
func Display(ascii string) string {
	u, err := idna.Display.ToUnicode(ascii)
	if err != nil {
		return ascii
	}
	return u
}
