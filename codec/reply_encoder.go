package codec

import (
	"fmt"
	"strings"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/wire"
)

// ReplyEncoder builds filter to MTA packets.
// The returned packets are owned by the caller. A ReplyEncoder is not safe for concurrent use.
type ReplyEncoder struct {
	b   wire.Builder
	tag uint
}

// NewReplyEncoder returns a ready to use ReplyEncoder.
func NewReplyEncoder() *ReplyEncoder {
	return &ReplyEncoder{}
}

// SetTag sets the session tag.
func (e *ReplyEncoder) SetTag(tag uint) {
	e.tag = tag
}

// Tag returns the session tag.
func (e *ReplyEncoder) Tag() uint {
	return e.tag
}

// EncodeNegotiate encodes the negotiation answer of a filter.
// Only macro requests for commands that have a macro stage get sent.
func (e *ReplyEncoder) EncodeNegotiate(opt milter.Option, macros *milter.MacrosRequests) []byte {
	e.b.Start(byte(wire.ActOptNeg))
	appendOption(&e.b, opt)
	for _, command := range macros.Commands() {
		stage, ok := milter.StageForCommand(command)
		if !ok {
			continue
		}
		names := macros.Symbols(command)
		wrapped := make([]string, len(names))
		for i, n := range names {
			wrapped[i] = milter.WrapMacroName(n)
		}
		e.b.AppendUint32(uint32(stage))
		e.b.AppendCString(strings.Join(wrapped, " "))
	}
	return e.b.Bytes()
}

// EncodeContinue encodes a continue reply.
func (e *ReplyEncoder) EncodeContinue() []byte {
	return e.encodeEmpty(wire.ActContinue)
}

// EncodeReplyCode encodes a custom SMTP response. code has to be in the range 400 to 599
// and an extended code has to be of the same class (550 and 5.7.1, not 550 and 4.7.1).
func (e *ReplyEncoder) EncodeReplyCode(code int, extended, message string) ([]byte, error) {
	if code < 400 || code > 599 {
		return nil, fmt.Errorf("%w: reply-code: code %d out of range", milter.ErrInvalidFormat, code)
	}
	if extended != "" && !IsEnhancedCode(extended) {
		return nil, fmt.Errorf("%w: reply-code: extended code %q", milter.ErrInvalidFormat, extended)
	}
	if extended != "" && int(extended[0]-'0') != code/100 {
		return nil, fmt.Errorf("%w: reply-code: extended code %q does not match class of %d", milter.ErrInvalidFormat, extended, code)
	}
	e.b.Start(byte(wire.ActReplyCode))
	e.b.AppendCString(replyText(code, extended, message))
	return e.b.Bytes(), nil
}

// EncodeTemporaryFailure encodes a temporary-failure reply.
func (e *ReplyEncoder) EncodeTemporaryFailure() []byte {
	return e.encodeEmpty(wire.ActTempFail)
}

// EncodeReject encodes a reject reply.
func (e *ReplyEncoder) EncodeReject() []byte {
	return e.encodeEmpty(wire.ActReject)
}

// EncodeAccept encodes an accept reply.
func (e *ReplyEncoder) EncodeAccept() []byte {
	return e.encodeEmpty(wire.ActAccept)
}

// EncodeDiscard encodes a discard reply.
func (e *ReplyEncoder) EncodeDiscard() []byte {
	return e.encodeEmpty(wire.ActDiscard)
}

// EncodeAddHeader encodes an add-header modification.
func (e *ReplyEncoder) EncodeAddHeader(name, value string) []byte {
	e.b.Start(byte(wire.ActAddHeader))
	e.b.AppendCString(name)
	e.b.AppendCString(value)
	return e.b.Bytes()
}

// EncodeInsertHeader encodes an insert-header modification.
func (e *ReplyEncoder) EncodeInsertHeader(index uint32, name, value string) []byte {
	return e.encodeIndexedHeader(wire.ActInsertHeader, index, name, value)
}

// EncodeChangeHeader encodes a change-header modification. An empty value deletes the header.
func (e *ReplyEncoder) EncodeChangeHeader(index uint32, name, value string) []byte {
	return e.encodeIndexedHeader(wire.ActChangeHeader, index, name, value)
}

func (e *ReplyEncoder) encodeIndexedHeader(code wire.ActionCode, index uint32, name, value string) []byte {
	e.b.Start(byte(code))
	e.b.AppendUint32(index)
	e.b.AppendCString(name)
	e.b.AppendCString(value)
	return e.b.Bytes()
}

// EncodeChangeFrom encodes a change-from modification.
func (e *ReplyEncoder) EncodeChangeFrom(from, params string) []byte {
	e.b.Start(byte(wire.ActChangeFrom))
	e.b.AppendCString(from)
	if params != "" {
		e.b.AppendCString(params)
	}
	return e.b.Bytes()
}

// EncodeAddRecipient encodes an add-recipient modification.
// The variant with ESMTP arguments gets used when params is not empty.
func (e *ReplyEncoder) EncodeAddRecipient(rcpt, params string) []byte {
	if params == "" {
		e.b.Start(byte(wire.ActAddRcpt))
		e.b.AppendCString(rcpt)
		return e.b.Bytes()
	}
	e.b.Start(byte(wire.ActAddRcptPar))
	e.b.AppendCString(rcpt)
	e.b.AppendCString(params)
	return e.b.Bytes()
}

// EncodeDeleteRecipient encodes a delete-recipient modification.
func (e *ReplyEncoder) EncodeDeleteRecipient(rcpt string) []byte {
	e.b.Start(byte(wire.ActDelRcpt))
	e.b.AppendCString(rcpt)
	return e.b.Bytes()
}

// EncodeReplaceBody encodes at most [wire.MaxBodyChunk] bytes of chunk.
// packed is the number of bytes of chunk that went into the packet, call it again with the rest.
func (e *ReplyEncoder) EncodeReplaceBody(chunk []byte) (packet []byte, packed int) {
	packed = min(len(chunk), wire.MaxBodyChunk)
	e.b.Start(byte(wire.ActReplBody))
	e.b.AppendBytes(chunk[:packed])
	return e.b.Bytes(), packed
}

// EncodeProgress encodes a progress notification.
func (e *ReplyEncoder) EncodeProgress() []byte {
	return e.encodeEmpty(wire.ActProgress)
}

// EncodeQuarantine encodes a quarantine request.
func (e *ReplyEncoder) EncodeQuarantine(reason string) []byte {
	e.b.Start(byte(wire.ActQuarantine))
	e.b.AppendCString(reason)
	return e.b.Bytes()
}

// EncodeConnectionFailure encodes a connection-failure reply.
func (e *ReplyEncoder) EncodeConnectionFailure() []byte {
	return e.encodeEmpty(wire.ActConnFail)
}

// EncodeShutdown encodes a shutdown reply.
func (e *ReplyEncoder) EncodeShutdown() []byte {
	return e.encodeEmpty(wire.ActShutdown)
}

// EncodeSkip encodes a skip reply.
func (e *ReplyEncoder) EncodeSkip() []byte {
	return e.encodeEmpty(wire.ActSkip)
}

func (e *ReplyEncoder) encodeEmpty(code wire.ActionCode) []byte {
	e.b.Start(byte(code))
	return e.b.Bytes()
}

// Encode encodes any [Reply]. A [ReplaceBody] that does not fit into one packet is an error.
func (e *ReplyEncoder) Encode(reply Reply) ([]byte, error) {
	switch r := reply.(type) {
	case *NegotiateReply:
		return e.EncodeNegotiate(r.Option, r.Macros), nil
	case *Continue:
		return e.EncodeContinue(), nil
	case *ReplyCode:
		return e.EncodeReplyCode(r.Code, r.Extended, r.Message)
	case *TemporaryFailure:
		return e.EncodeTemporaryFailure(), nil
	case *Reject:
		return e.EncodeReject(), nil
	case *Accept:
		return e.EncodeAccept(), nil
	case *Discard:
		return e.EncodeDiscard(), nil
	case *AddHeader:
		return e.EncodeAddHeader(r.Name, r.Value), nil
	case *InsertHeader:
		return e.EncodeInsertHeader(r.Index, r.Name, r.Value), nil
	case *ChangeHeader:
		return e.EncodeChangeHeader(r.Index, r.Name, r.Value), nil
	case *ChangeFrom:
		return e.EncodeChangeFrom(r.From, r.Parameters), nil
	case *AddRecipient:
		return e.EncodeAddRecipient(r.Recipient, r.Parameters), nil
	case *DeleteRecipient:
		return e.EncodeDeleteRecipient(r.Recipient), nil
	case *ReplaceBody:
		if len(r.Chunk) > wire.MaxBodyChunk {
			return nil, fmt.Errorf("%w: replace-body: %d > %d", milter.ErrTooLong, len(r.Chunk), wire.MaxBodyChunk)
		}
		packet, _ := e.EncodeReplaceBody(r.Chunk)
		return packet, nil
	case *Progress:
		return e.EncodeProgress(), nil
	case *Quarantine:
		return e.EncodeQuarantine(r.Reason), nil
	case *ConnectionFailure:
		return e.EncodeConnectionFailure(), nil
	case *Shutdown:
		return e.EncodeShutdown(), nil
	case *Skip:
		return e.EncodeSkip(), nil
	}
	return nil, fmt.Errorf("%w: %T", milter.ErrUnexpectedCommand, reply)
}
