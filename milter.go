// Package milter holds the protocol level vocabulary shared by the codec, agent, server and client packages:
// action and step flags, the negotiated [Option], per stage [MacrosRequests], macro names and the error values
// every layer wraps.
package milter

import (
	"fmt"
	"math/bits"
	"strings"
)

// OptAction sets which actions the milter wants to perform.
// Multiple options can be set using a bitmask.
type OptAction uint32

// Set which actions the milter wants to perform.
const (
	OptAddHeader       OptAction = 1 << 0 // SMFIF_ADDHDRS
	OptChangeBody      OptAction = 1 << 1 // SMFIF_CHGBODY / SMFIF_MODBODY
	OptAddRcpt         OptAction = 1 << 2 // SMFIF_ADDRCPT
	OptRemoveRcpt      OptAction = 1 << 3 // SMFIF_DELRCPT
	OptChangeHeader    OptAction = 1 << 4 // SMFIF_CHGHDRS
	OptQuarantine      OptAction = 1 << 5 // SMFIF_QUARANTINE
	OptChangeFrom      OptAction = 1 << 6 // SMFIF_CHGFROM [v6]
	OptAddRcptWithArgs OptAction = 1 << 7 // SMFIF_ADDRCPT_PAR [v6]
	OptSetMacros       OptAction = 1 << 8 // SMFIF_SETSYMLIST [v6]
)

// AllActions combines every action this library can encode and decode.
const AllActions = OptAddHeader | OptChangeBody | OptAddRcpt | OptRemoveRcpt | OptChangeHeader | OptQuarantine | OptChangeFrom | OptAddRcptWithArgs | OptSetMacros

var actionNames = []string{"OptAddHeader", "OptChangeBody", "OptAddRcpt", "OptRemoveRcpt", "OptChangeHeader", "OptQuarantine", "OptChangeFrom", "OptAddRcptWithArgs", "OptSetMacros"}

func (o OptAction) String() string {
	return bitNames(uint32(o), func(bit int) string {
		if bit < len(actionNames) {
			return actionNames[bit]
		}
		return fmt.Sprintf("unknown bit %d", bit)
	})
}

// OptProtocol masks out unwanted parts of the SMTP transaction. These are the "step" flags of the negotiation.
// Multiple options can be set using a bitmask.
type OptProtocol uint32

// The options that the milter can send to the MTA during negotiation to tailor the communication.
const (
	OptNoConnect      OptProtocol = 1 << 0  // MTA does not send connect events. SMFIP_NOCONNECT
	OptNoHelo         OptProtocol = 1 << 1  // MTA does not send HELO/EHLO events. SMFIP_NOHELO
	OptNoMailFrom     OptProtocol = 1 << 2  // MTA does not send MAIL FROM events. SMFIP_NOMAIL
	OptNoRcptTo       OptProtocol = 1 << 3  // MTA does not send RCPT TO events. SMFIP_NORCPT
	OptNoBody         OptProtocol = 1 << 4  // MTA does not send message body data. SMFIP_NOBODY
	OptNoHeaders      OptProtocol = 1 << 5  // MTA does not send message header data. SMFIP_NOHDRS
	OptNoEOH          OptProtocol = 1 << 6  // MTA does not send end of header indication event. SMFIP_NOEOH
	OptNoHeaderReply  OptProtocol = 1 << 7  // Milter does not send a reply to header data. SMFIP_NR_HDR, SMFIP_NOHREPL
	OptNoUnknown      OptProtocol = 1 << 8  // MTA does not send unknown SMTP command events. SMFIP_NOUNKNOWN
	OptNoData         OptProtocol = 1 << 9  // MTA does not send the DATA start event. SMFIP_NODATA
	OptSkip           OptProtocol = 1 << 10 // MTA supports ActSkip. SMFIP_SKIP [v6]
	OptRcptRej        OptProtocol = 1 << 11 // Filter wants rejected RCPTs. SMFIP_RCPT_REJ [v6]
	OptNoConnReply    OptProtocol = 1 << 12 // Milter does not send a reply to connection event. SMFIP_NR_CONN [v6]
	OptNoHeloReply    OptProtocol = 1 << 13 // Milter does not send a reply to HELO/EHLO event. SMFIP_NR_HELO [v6]
	OptNoMailReply    OptProtocol = 1 << 14 // Milter does not send a reply to MAIL FROM event. SMFIP_NR_MAIL [v6]
	OptNoRcptReply    OptProtocol = 1 << 15 // Milter does not send a reply to RCPT TO event. SMFIP_NR_RCPT [v6]
	OptNoDataReply    OptProtocol = 1 << 16 // Milter does not send a reply to DATA start event. SMFIP_NR_DATA [v6]
	OptNoUnknownReply OptProtocol = 1 << 17 // Milter does not send a reply to unknown command event. SMFIP_NR_UNKN [v6]
	OptNoEOHReply     OptProtocol = 1 << 18 // Milter does not send a reply to end of header event. SMFIP_NR_EOH [v6]
	OptNoBodyReply    OptProtocol = 1 << 19 // Milter does not send a reply to body chunk event. SMFIP_NR_BODY [v6]

	// OptHeaderLeadingSpace lets the filter request that the MTA does not swallow a leading space
	// when passing the header value to the milter. SMFIP_HDR_LEADSPC [v6]
	OptHeaderLeadingSpace OptProtocol = 1 << 20
)

const (
	// OptNoEvents combines all flags that suppress an event.
	OptNoEvents OptProtocol = OptNoConnect | OptNoHelo | OptNoMailFrom | OptNoRcptTo | OptNoBody | OptNoHeaders | OptNoEOH | OptNoUnknown | OptNoData

	// OptNoReplies combines all protocol flags that define that your milter does not send a reply
	// to the MTA.
	OptNoReplies OptProtocol = OptNoHeaderReply | OptNoConnReply | OptNoHeloReply | OptNoMailReply | OptNoRcptReply | OptNoDataReply | OptNoUnknownReply | OptNoEOHReply | OptNoBodyReply

	// OptNoMask are the "must not" step flags. Both peers need to agree to keep one of them set
	// when options get merged. All other step flags are opt-in and get combined with OR.
	OptNoMask = OptNoEvents | OptNoReplies

	// AllSteps combines all step flags this library knows about.
	AllSteps = OptNoMask | OptSkip | OptRcptRej | OptHeaderLeadingSpace
)

const (
	optMds256K  uint32 = 1 << 28                       // SMFIP_MDS_256K
	optMds1M    uint32 = 1 << 29                       // SMFIP_MDS_1M
	optInternal        = optMds256K | optMds1M | 1<<30 // internal flags: only used between MTA and libmilter (bit 28,29,30). SMFI_INTERNAL
)

var protocolNames = []string{"OptNoConnect", "OptNoHelo", "OptNoMailFrom", "OptNoRcptTo", "OptNoBody", "OptNoHeaders", "OptNoEOH", "OptNoHeaderReply", "OptNoUnknown", "OptNoData", "OptSkip", "OptRcptRej", "OptNoConnReply", "OptNoHeloReply", "OptNoMailReply", "OptNoRcptReply", "OptNoDataReply", "OptNoUnknownReply", "OptNoEOHReply", "OptNoBodyReply", "OptHeaderLeadingSpace"}

func (o OptProtocol) String() string {
	return bitNames(uint32(o), func(bit int) string {
		switch {
		case bit < len(protocolNames):
			return protocolNames[bit]
		case bit == 28:
			return "optMds256K"
		case bit == 29:
			return "optMds1M"
		case bit == 30:
			return "internal bit 30"
		}
		return fmt.Sprintf("unknown bit %d", bit)
	})
}

// DataSize returns the data size that is encoded in the internal bits of o.
func (o OptProtocol) DataSize() DataSize {
	switch {
	case uint32(o)&optMds1M != 0:
		return DataSize1M
	case uint32(o)&optMds256K != 0:
		return DataSize256K
	}
	return DataSize64K
}

// WithDataSize returns o without any internal bits but with the bit for size set.
func (o OptProtocol) WithDataSize(size DataSize) OptProtocol {
	o = o.Public()
	switch size {
	case DataSize256K:
		o |= OptProtocol(optMds256K)
	case DataSize1M:
		o |= OptProtocol(optMds1M)
	}
	return o
}

// Public masks out the internal bits (data size and reserved bit 30).
func (o OptProtocol) Public() OptProtocol {
	return o & ^OptProtocol(optInternal)
}

func bitNames(v uint32, name func(bit int) string) string {
	if v == 0 {
		return "0"
	}
	var names []string
	for v != 0 {
		bit := bits.TrailingZeros32(v)
		names = append(names, name(bit))
		v &^= 1 << bit
	}
	return strings.Join(names, "|")
}

// DataSize defines the maximum data size for milter or MTA to use.
//
// The DataSize does not include the one byte for the command byte.
// Only three sizes are defined in the milter protocol.
type DataSize uint32

const (
	// DataSize64K is 64KB - 1 byte (command-byte). This is the default buffer size.
	DataSize64K DataSize = 1024*64 - 1
	// DataSize256K is 256KB - 1 byte (command-byte)
	DataSize256K DataSize = 1024*256 - 1
	// DataSize1M is 1MB - 1 byte (command-byte)
	DataSize1M DataSize = 1024*1024 - 1
)

// ProtoFamily is the socket family byte of a connect command.
type ProtoFamily byte

const (
	FamilyUnknown ProtoFamily = 'U' // SMFIA_UNKNOWN
	FamilyUnix    ProtoFamily = 'L' // SMFIA_UNIX
	FamilyInet    ProtoFamily = '4' // SMFIA_INET
	FamilyInet6   ProtoFamily = '6' // SMFIA_INET6
)

func (f ProtoFamily) String() string {
	switch f {
	case FamilyUnknown:
		return "unknown"
	case FamilyUnix:
		return "unix"
	case FamilyInet:
		return "tcp4"
	case FamilyInet6:
		return "tcp6"
	}
	return fmt.Sprintf("ProtoFamily(%q)", byte(f))
}

// Status is the verdict of a filter for one protocol step.
type Status int

const (
	StatusDefault Status = iota
	StatusContinue
	StatusReject
	StatusDiscard
	StatusAccept
	StatusTemporaryFailure
	StatusReplyCode
	StatusNotChange
	StatusProgress
	StatusAbort
	StatusQuarantine
	StatusSkip
	StatusStop
	StatusError
)

var statusNames = []string{"default", "continue", "reject", "discard", "accept", "temporary-failure", "reply-code", "not-change", "progress", "abort", "quarantine", "skip", "stop", "error"}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// IsPass reports whether s lets the SMTP transaction go on for this filter.
func (s Status) IsPass() bool {
	switch s {
	case StatusDefault, StatusContinue, StatusNotChange, StatusProgress, StatusSkip, StatusQuarantine:
		return true
	}
	return false
}
