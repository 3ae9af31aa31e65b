package milter

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/d--j/go-milter-agent/wire"
)

type MacroStage = byte

const (
	StageConnect        MacroStage = iota // SMFIM_CONNECT
	StageHelo                             // SMFIM_HELO
	StageMail                             // SMFIM_ENVFROM
	StageRcpt                             // SMFIM_ENVRCPT
	StageData                             // SMFIM_DATA
	StageEOM                              // SMFIM_EOM
	StageEOH                              // SMFIM_EOH
	StageEndMarker                        // is used for command level macros for Abort, Unknown and Header commands
)

type MacroName = string

// Macros that have good support between MTAs like sendmail and Postfix
const (
	MacroMTAVersion        MacroName = "v"                    // MTA Version (and MTA name in case of Postfix)
	MacroMTAFQDN           MacroName = "j"                    // MTA fully qualified domain name
	MacroDaemonName        MacroName = "{daemon_name}"        // name of the daemon of the MTA. E.g. MTA-v4 or smtpd or anything the user configured.
	MacroDaemonAddr        MacroName = "{daemon_addr}"        // Local server IP address
	MacroDaemonPort        MacroName = "{daemon_port}"        // Local server TCP port
	MacroIfName            MacroName = "{if_name}"            // Interface name of the interface the MTA is accepting the SMTP connection
	MacroIfAddr            MacroName = "{if_addr}"            // IP address of the interface the MTA is accepting the SMTP connection
	MacroTlsVersion        MacroName = "{tls_version}"        // TLS version in use (set after STARTTLS or when SMTPS is used)
	MacroCipher            MacroName = "{cipher}"             // Cipher suite used (set after STARTTLS or when SMTPS is used)
	MacroCipherBits        MacroName = "{cipher_bits}"        // Strength of the cipher suite in bits (set after STARTTLS or when SMTPS is used)
	MacroCertSubject       MacroName = "{cert_subject}"       // Validated client cert's subject information (only when mutual TLS is in use)
	MacroCertIssuer        MacroName = "{cert_issuer}"        // Validated client cert's issuer information (only when mutual TLS is in use)
	MacroClientAddr        MacroName = "{client_addr}"        // Remote client IP address
	MacroClientPort        MacroName = "{client_port}"        // Remote client TCP port
	MacroClientPTR         MacroName = "{client_ptr}"         // Client name from address → name lookup
	MacroClientName        MacroName = "{client_name}"        // Remote client hostname
	MacroClientConnections MacroName = "{client_connections}" // Connection concurrency for this client
	MacroQueueId           MacroName = "i"                    // The queue ID for this message. Some MTAs only assign a Queue ID after the DATA command (Postfix)
	MacroAuthType          MacroName = "{auth_type}"          // The used authentication method (LOGIN, DIGEST-MD5, etc)
	MacroAuthAuthen        MacroName = "{auth_authen}"        // The username of the authenticated user
	MacroAuthSsf           MacroName = "{auth_ssf}"           // The key length (in bits) of the used encryption layer (TLS) – if any
	MacroAuthAuthor        MacroName = "{auth_author}"        // The optional overwritten username for this message
	MacroMailMailer        MacroName = "{mail_mailer}"        // the delivery agent for this MAIL FROM (e.g., esmtp, lmtp)
	MacroMailHost          MacroName = "{mail_host}"          // the domain part of the MAIL FROM address
	MacroMailAddr          MacroName = "{mail_addr}"          // the MAIL FROM address (only the address without <>)
	MacroRcptMailer        MacroName = "{rcpt_mailer}"        // MacroRcptMailer holds the delivery agent/next hop for the current RCPT TO address. E.g. smtp, local.
	MacroRcptHost          MacroName = "{rcpt_host}"          // The domain part of the RCPT TO address
	MacroRcptAddr          MacroName = "{rcpt_addr}"          // the RCPT TO address (only the address without <>)
)

// Macros that do not have good cross-MTA support. Only usable with sendmail as MTA.
const (
	MacroRFC1413AuthInfo    MacroName = "_"
	MacroHopCount           MacroName = "c"
	MacroSenderHostName     MacroName = "s"
	MacroProtocolUsed       MacroName = "r"
	MacroMTAPid             MacroName = "p"
	MacroDateRFC822Origin   MacroName = "a"
	MacroDateRFC822Current  MacroName = "b"
	MacroDateANSICCurrent   MacroName = "d"
	MacroDateSecondsCurrent MacroName = "t"
)

type Macros interface {
	Get(name MacroName) string
	GetEx(name MacroName) (value string, ok bool)
}

// MacroBag is a default implementation of the Macros interface.
// A MacroBag is safe for concurrent use by multiple goroutines.
// It has special handling for the date-related macros and can be copied.
//
// The zero value of MacroBag is invalid. Use [NewMacroBag] to create an empty MacroBag.
type MacroBag struct {
	macros                  map[MacroName]string
	mutex                   sync.RWMutex
	currentDate, headerDate time.Time
}

func NewMacroBag() *MacroBag {
	return &MacroBag{
		macros: make(map[MacroName]string),
	}
}

func (m *MacroBag) Get(name MacroName) string {
	v, _ := m.GetEx(name)
	return v
}

func (m *MacroBag) GetEx(name MacroName) (value string, ok bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	value, ok = m.macros[name]
	if !ok {
		// "{name}" and "name" denote the same macro
		if alt := WrapMacroName(name); alt != name {
			value, ok = m.macros[alt]
		} else if alt = UnwrapMacroName(name); alt != name {
			value, ok = m.macros[alt]
		}
	}
	if !ok {
		switch name {
		case MacroDateRFC822Origin:
			if !m.headerDate.IsZero() {
				ok = true
				value = m.headerDate.Format(time.RFC822Z)
			}
		case MacroDateRFC822Current, MacroDateSecondsCurrent, MacroDateANSICCurrent:
			ok = true
			current := m.currentDate
			if current.IsZero() {
				current = time.Now()
			}
			switch name {
			case MacroDateRFC822Current:
				value = current.Format(time.RFC822Z)
			case MacroDateSecondsCurrent:
				value = fmt.Sprintf("%d", current.Unix())
			default:
				value = current.Format(time.ANSIC)
			}
		}
	}
	return
}

func (m *MacroBag) Set(name MacroName, value string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.macros[name] = value
}

// Copy copies the macros to a new MacroBag.
// The time.Time values set by [MacroBag.SetCurrentDate] and [MacroBag.SetHeaderDate] do not get copied.
func (m *MacroBag) Copy() *MacroBag {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	macros := make(map[MacroName]string)
	for k, v := range m.macros {
		macros[k] = v
	}
	return &MacroBag{macros: macros}
}

func (m *MacroBag) SetCurrentDate(date time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.currentDate = date
}

func (m *MacroBag) SetHeaderDate(date time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.headerDate = date
}

var _ Macros = &MacroBag{}

// ParseRequestedMacros splits a space or comma separated list of macro names.
func ParseRequestedMacros(str string) []string {
	return removeEmpty(strings.FieldsFunc(str, func(r rune) bool {
		return unicode.IsSpace(r) || r == ','
	}))
}

func removeEmpty(str []string) []string {
	if len(str) == 0 {
		return []string{}
	}
	indexesToKeep := make([]int, 0, len(str))
	for i, s := range str {
		if len(s) > 0 {
			indexesToKeep = append(indexesToKeep, i)
		}
	}
	r := make([]string, 0, len(indexesToKeep))
	for _, index := range indexesToKeep {
		r = append(r, str[index])
	}
	return r
}

// RemoveDuplicates returns str without duplicate entries. The first occurrence wins.
func RemoveDuplicates(str []string) []string {
	if len(str) == 0 {
		return []string{}
	}
	found := make(map[string]bool, len(str))
	indexesToKeep := make([]int, 0, len(str))
	for i, v := range str {
		if !found[v] {
			indexesToKeep = append(indexesToKeep, i)
			found[v] = true
		}
	}
	noDuplicates := make([]string, len(indexesToKeep))
	for i, index := range indexesToKeep {
		noDuplicates[i] = str[index]
	}
	return noDuplicates
}

// StageForCommand returns the macro stage that belongs to the command code.
// ok is false for commands that do not have their own stage in the negotiation (header, body, …).
func StageForCommand(code wire.Code) (stage MacroStage, ok bool) {
	switch code {
	case wire.CodeConn:
		return StageConnect, true
	case wire.CodeHelo:
		return StageHelo, true
	case wire.CodeMail:
		return StageMail, true
	case wire.CodeRcpt:
		return StageRcpt, true
	case wire.CodeData:
		return StageData, true
	case wire.CodeEOB:
		return StageEOM, true
	case wire.CodeEOH:
		return StageEOH, true
	}
	return StageEndMarker, false
}

// CommandForStage is the inverse of [StageForCommand].
func CommandForStage(stage MacroStage) (code wire.Code, ok bool) {
	switch stage {
	case StageConnect:
		return wire.CodeConn, true
	case StageHelo:
		return wire.CodeHelo, true
	case StageMail:
		return wire.CodeMail, true
	case StageRcpt:
		return wire.CodeRcpt, true
	case StageData:
		return wire.CodeData, true
	case StageEOM:
		return wire.CodeEOB, true
	case StageEOH:
		return wire.CodeEOH, true
	}
	return 0, false
}

// IsMacroContext reports whether code is a command that can carry macros in a define-macro command.
func IsMacroContext(code wire.Code) bool {
	switch code {
	case wire.CodeConn, wire.CodeHelo, wire.CodeMail, wire.CodeRcpt, wire.CodeData, wire.CodeHeader,
		wire.CodeEOH, wire.CodeBody, wire.CodeEOB, wire.CodeUnknown:
		return true
	}
	return false
}

// UnwrapMacroName removes the curly braces of a long macro name: "{daemon_name}" becomes "daemon_name".
func UnwrapMacroName(name MacroName) MacroName {
	if len(name) > 2 && name[0] == '{' && name[len(name)-1] == '}' {
		return name[1 : len(name)-1]
	}
	return name
}

// WrapMacroName returns the on-the-wire form of name. Names with more than one character
// get wrapped in curly braces (if they are not already).
func WrapMacroName(name MacroName) MacroName {
	if len(name) <= 1 || (name[0] == '{' && name[len(name)-1] == '}') {
		return name
	}
	return "{" + name + "}"
}

// SortMacroNames sorts names in place. Wrapped names compare by their unwrapped form.
func SortMacroNames(names []MacroName) {
	sort.SliceStable(names, func(i, j int) bool {
		return UnwrapMacroName(names[i]) < UnwrapMacroName(names[j])
	})
}

// MacrosRequests are the macro names a filter wants to receive, per protocol command.
//
// The names of one command are ordered and free of duplicates.
// The zero value is an empty MacrosRequests ready to use.
type MacrosRequests struct {
	symbols map[wire.Code][]MacroName
}

// NewMacrosRequests returns an empty MacrosRequests.
func NewMacrosRequests() *MacrosRequests {
	return &MacrosRequests{}
}

// SetSymbols replaces the list of macro names for command. Duplicates in names get removed.
// An empty names deletes the entry for command.
func (r *MacrosRequests) SetSymbols(command wire.Code, names []MacroName) {
	if len(names) == 0 {
		delete(r.symbols, command)
		return
	}
	if r.symbols == nil {
		r.symbols = make(map[wire.Code][]MacroName)
	}
	r.symbols[command] = RemoveDuplicates(names)
}

// Symbols returns the list of macro names for command or nil. The returned slice must not be modified.
func (r *MacrosRequests) Symbols(command wire.Code) []MacroName {
	if r == nil {
		return nil
	}
	return r.symbols[command]
}

// Commands returns all commands that have macro requests, sorted by their stage number
// (commands without a stage come last, in byte order).
func (r *MacrosRequests) Commands() []wire.Code {
	if r == nil || len(r.symbols) == 0 {
		return nil
	}
	codes := make([]wire.Code, 0, len(r.symbols))
	for c := range r.symbols {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool {
		si, _ := StageForCommand(codes[i])
		sj, _ := StageForCommand(codes[j])
		if si != sj {
			return si < sj
		}
		return codes[i] < codes[j]
	})
	return codes
}

// Len returns the number of commands that have macro requests.
func (r *MacrosRequests) Len() int {
	if r == nil {
		return 0
	}
	return len(r.symbols)
}

// Merge adds the names of src to r. For every command the names already in r keep
// their order, names only src has get appended in the order of src.
func (r *MacrosRequests) Merge(src *MacrosRequests) {
	if src == nil {
		return
	}
	for command, names := range src.symbols {
		existing := r.Symbols(command)
		merged := make([]MacroName, 0, len(existing)+len(names))
		merged = append(merged, existing...)
		merged = append(merged, names...)
		r.SetSymbols(command, merged)
	}
}

// Copy returns a deep copy of r.
func (r *MacrosRequests) Copy() *MacrosRequests {
	c := &MacrosRequests{}
	if r == nil {
		return c
	}
	for command, names := range r.symbols {
		c.SetSymbols(command, append([]MacroName(nil), names...))
	}
	return c
}

// Equal reports whether r and o request exactly the same names in the same order.
func (r *MacrosRequests) Equal(o *MacrosRequests) bool {
	if r.Len() != o.Len() {
		return false
	}
	for _, command := range r.Commands() {
		a, b := r.Symbols(command), o.Symbols(command)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

func (r *MacrosRequests) String() string {
	var b strings.Builder
	for i, command := range r.Commands() {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%s", command, strings.Join(r.Symbols(command), ","))
	}
	return b.String()
}
