package milterutil

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/d--j/go-milter-agent/codec"
)

// MaxReplySize is the biggest reply text that fits into one reply-code packet
// (64 KiB minus the action byte and the terminating null byte).
const MaxReplySize = 64*1024 - 2

// DefaultMaximumLineLength is the line length (in bytes, without the line ending) [FormatReply] wraps at.
// SMTP allows 1000 bytes but some MTAs break lines earlier.
const DefaultMaximumLineLength = 950

// FormatReply builds an SMTP reply text for smtpCode out of the human-readable reason.
//
// smtpCode must be between 100 and 599. reason may start with an RFC 3463 enhanced status code;
// when its class matches smtpCode it gets repeated on every line of a multi-line reply.
// Line endings get canonicalized to CR LF, long lines get wrapped and % gets escaped as %%.
//
//	FormatReply(250, "Accept")                                  // "250 Accept"
//	FormatReply(550, "5.7.1 Command rejected")                  // "550 5.7.1 Command rejected"
//	FormatReply(550, "5.7.1 Command rejected\nContact support") // "550-5.7.1 Command rejected\r\n550 5.7.1 Contact support"
func FormatReply(smtpCode uint16, reason string) (string, error) {
	if smtpCode < 100 || smtpCode > 599 {
		return "", fmt.Errorf("milter: invalid code %d", smtpCode)
	}
	if len(reason) > MaxReplySize {
		return "", fmt.Errorf("milter: reason too long: %d > %d", len(reason), MaxReplySize)
	}
	text, err := escapeReplyText(reason)
	if err != nil {
		return "", fmt.Errorf("milter: reason: %w", err)
	}
	text = strings.TrimRight(text, "\n")
	code := strconv.Itoa(int(smtpCode))

	extended := ""
	if first, _, found := strings.Cut(text, " "); found && codec.IsEnhancedCode(first) && first[0] == code[0] {
		extended = first
	}
	var lines []string
	for i, line := range strings.Split(text, "\n") {
		if i > 0 && extended != "" && line != "" {
			line = extended + " " + line
		}
		lines = append(lines, wrapLine(line, DefaultMaximumLineLength-len(code)-1)...)
	}

	var b strings.Builder
	for i, line := range lines {
		b.WriteString(code)
		if i == len(lines)-1 {
			b.WriteByte(' ')
		} else {
			b.WriteByte('-')
		}
		b.WriteString(line)
		if i < len(lines)-1 {
			b.WriteString("\r\n")
		}
	}
	if b.Len() > MaxReplySize {
		return "", fmt.Errorf("milter: formatted reason too long: %d > %d", b.Len(), MaxReplySize)
	}
	return b.String(), nil
}

// wrapLine splits line into parts of at most max bytes without cutting through an UTF-8 sequence.
func wrapLine(line string, max int) []string {
	var parts []string
	for len(line) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		if cut == 0 {
			cut = max
		}
		parts = append(parts, line[:cut])
		line = line[cut:]
	}
	return append(parts, line)
}
