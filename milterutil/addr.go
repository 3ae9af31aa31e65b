package milterutil

import (
	"strings"

	"golang.org/x/net/idna"
)

// AddAngle wraps addr in angle brackets unless it already is.
func AddAngle(addr string) string {
	if hasAngle(addr) {
		return addr
	}
	return "<" + addr + ">"
}

// RemoveAngle strips the angle brackets around addr.
func RemoveAngle(addr string) string {
	if hasAngle(addr) {
		return addr[1 : len(addr)-1]
	}
	return addr
}

func hasAngle(addr string) bool {
	return len(addr) > 1 && addr[0] == '<' && addr[len(addr)-1] == '>'
}

// ASCIIAddress converts the domain part of the e-mail address addr to its IDNA ASCII form.
// The local part stays untouched. Addresses without a domain and domains
// that are no valid IDNA names get returned as-is.
func ASCIIAddress(addr string) string {
	return convertDomain(addr, idna.Lookup.ToASCII)
}

// UnicodeAddress is the inverse of [ASCIIAddress].
func UnicodeAddress(addr string) string {
	return convertDomain(addr, idna.Lookup.ToUnicode)
}

func convertDomain(addr string, convert func(string) (string, error)) string {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 || at == len(addr)-1 {
		return addr
	}
	domain, err := convert(addr[at+1:])
	if err != nil {
		return addr
	}
	return addr[:at+1] + domain
}
