package codec

import (
	"encoding/binary"
	"fmt"
	"strings"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/wire"
)

// ReplyHandler gets called for every decoded reply. A non-nil error breaks the decoder.
type ReplyHandler func(reply Reply) error

// ReplyDecoder decodes the filter to MTA direction of the protocol.
type ReplyDecoder struct {
	*FrameDecoder
	handler ReplyHandler
}

// NewReplyDecoder returns a ReplyDecoder that calls handler for every decoded reply.
func NewReplyDecoder(handler ReplyHandler) *ReplyDecoder {
	d := &ReplyDecoder{handler: handler}
	d.FrameDecoder = NewFrameDecoder(d.dispatch)
	return d
}

// SetHandler replaces the handler.
func (d *ReplyDecoder) SetHandler(handler ReplyHandler) {
	d.handler = handler
}

func (d *ReplyDecoder) dispatch(frame []byte) error {
	reply, err := DecodeReply(frame)
	if err != nil {
		return err
	}
	if d.handler == nil {
		return nil
	}
	return d.handler(reply)
}

// DecodeReply decodes one packet without its length prefix.
// The returned reply does not reference frame.
func DecodeReply(frame []byte) (Reply, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: reply: empty packet", milter.ErrTooShort)
	}
	code, data := wire.ActionCode(frame[0]), frame[1:]
	switch code {
	case wire.ActOptNeg:
		return decodeNegotiateReply(data)

	case wire.ActContinue:
		return emptyReply("continue", data, &Continue{})
	case wire.ActTempFail:
		return emptyReply("temporary-failure", data, &TemporaryFailure{})
	case wire.ActReject:
		return emptyReply("reject", data, &Reject{})
	case wire.ActAccept:
		return emptyReply("accept", data, &Accept{})
	case wire.ActDiscard:
		return emptyReply("discard", data, &Discard{})
	case wire.ActProgress:
		return emptyReply("progress", data, &Progress{})
	case wire.ActConnFail:
		return emptyReply("connection-failure", data, &ConnectionFailure{})
	case wire.ActShutdown:
		return emptyReply("shutdown", data, &Shutdown{})
	case wire.ActSkip:
		return emptyReply("skip", data, &Skip{})

	case wire.ActReplyCode:
		text, err := readLastCString("reply-code", data)
		if err != nil {
			return nil, err
		}
		return ParseReplyCode(text)

	case wire.ActAddHeader:
		strs, err := readCStrings("add-header", data, 2, 2)
		if err != nil {
			return nil, err
		}
		return &AddHeader{Name: strs[0], Value: strs[1]}, nil

	case wire.ActInsertHeader:
		index, strs, err := decodeIndexedHeader("insert-header", data)
		if err != nil {
			return nil, err
		}
		return &InsertHeader{Index: index, Name: strs[0], Value: strs[1]}, nil

	case wire.ActChangeHeader:
		index, strs, err := decodeIndexedHeader("change-header", data)
		if err != nil {
			return nil, err
		}
		return &ChangeHeader{Index: index, Name: strs[0], Value: strs[1]}, nil

	case wire.ActChangeFrom:
		strs, err := readCStrings("change-from", data, 1, 2)
		if err != nil {
			return nil, err
		}
		r := &ChangeFrom{From: strs[0]}
		if len(strs) == 2 {
			r.Parameters = strs[1]
		}
		return r, nil

	case wire.ActAddRcpt:
		rcpt, err := readLastCString("add-recipient", data)
		if err != nil {
			return nil, err
		}
		return &AddRecipient{Recipient: rcpt}, nil

	case wire.ActAddRcptPar:
		strs, err := readCStrings("add-recipient", data, 1, 2)
		if err != nil {
			return nil, err
		}
		r := &AddRecipient{Recipient: strs[0]}
		if len(strs) == 2 {
			r.Parameters = strs[1]
		}
		return r, nil

	case wire.ActDelRcpt:
		rcpt, err := readLastCString("delete-recipient", data)
		if err != nil {
			return nil, err
		}
		return &DeleteRecipient{Recipient: rcpt}, nil

	case wire.ActReplBody:
		return &ReplaceBody{Chunk: cloneBytes(data)}, nil

	case wire.ActQuarantine:
		reason, err := readLastCString("quarantine", data)
		if err != nil {
			return nil, err
		}
		return &Quarantine{Reason: reason}, nil
	}
	return nil, fmt.Errorf("%w: %s: %s", milter.ErrUnexpectedCommand, code, Inspect(frame))
}

func emptyReply(what string, data []byte, r Reply) (Reply, error) {
	if err := checkLength(what, data, 0, exact); err != nil {
		return nil, err
	}
	return r, nil
}

func decodeIndexedHeader(what string, data []byte) (uint32, []string, error) {
	if err := checkLength(what, data, 4, atLeast); err != nil {
		return 0, nil, err
	}
	index := binary.BigEndian.Uint32(data)
	strs, err := readCStrings(what, data[4:], 2, 2)
	if err != nil {
		return 0, nil, err
	}
	return index, strs, nil
}

// decodeNegotiateReply reads the option and the macro requests that follow it.
// In contrast to the negotiate command trailing bytes are expected here.
func decodeNegotiateReply(data []byte) (*NegotiateReply, error) {
	opt, rest, err := decodeOption("negotiate-reply", data)
	if err != nil {
		return nil, err
	}
	r := &NegotiateReply{Option: opt}
	for len(rest) > 0 {
		if err := checkLength("negotiate-reply: macro stage", rest, 4, atLeast); err != nil {
			return nil, err
		}
		stage := binary.BigEndian.Uint32(rest)
		if stage > 0xff {
			return nil, fmt.Errorf("%w: %d", milter.ErrUnexpectedMacroStage, stage)
		}
		command, ok := milter.CommandForStage(milter.MacroStage(stage))
		if !ok {
			return nil, fmt.Errorf("%w: %d", milter.ErrUnexpectedMacroStage, stage)
		}
		var list string
		list, rest, err = readCString("negotiate-reply: macro list", rest[4:])
		if err != nil {
			return nil, err
		}
		if r.Macros == nil {
			r.Macros = milter.NewMacrosRequests()
		}
		r.Macros.SetSymbols(command, milter.ParseRequestedMacros(list))
	}
	return r, nil
}

// ParseReplyCode parses an SMTP response like "550 5.7.1 Rejected" into a [ReplyCode].
//
// The first digit has to be 4 or 5. An enhanced status code after the three digits is optional.
// Multi-line responses ("550-5.7.1 first\r\n550 5.7.1 second") keep everything after
// the first enhanced status code as message.
func ParseReplyCode(text string) (*ReplyCode, error) {
	if len(text) < 3 || (text[0] != '4' && text[0] != '5') || !isDigit(text[1]) || !isDigit(text[2]) {
		return nil, fmt.Errorf("%w: reply-code: %q", milter.ErrInvalidFormat, text)
	}
	r := &ReplyCode{Code: int(text[0]-'0')*100 + int(text[1]-'0')*10 + int(text[2]-'0')}
	rest := text[3:]
	if rest == "" {
		return r, nil
	}
	if rest[0] != ' ' && rest[0] != '-' {
		return nil, fmt.Errorf("%w: reply-code: %q", milter.ErrInvalidFormat, text)
	}
	rest = rest[1:]
	first, message, found := strings.Cut(rest, " ")
	if IsEnhancedCode(first) && first[0] == text[0] {
		r.Extended = first
		if found {
			r.Message = message
		}
		return r, nil
	}
	r.Message = rest
	return r, nil
}

// IsEnhancedCode reports whether s looks like an RFC 3463 enhanced status code (e.g. 4.2.0).
func IsEnhancedCode(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	if len(parts[0]) != 1 || (parts[0][0] != '2' && parts[0][0] != '4' && parts[0][0] != '5') {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) == 0 || len(p) > 3 {
			return false
		}
		for i := 0; i < len(p); i++ {
			if !isDigit(p[i]) {
				return false
			}
		}
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
