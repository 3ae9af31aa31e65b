package codec

import (
	"fmt"
	"net"
	"sort"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/wire"
)

// CommandEncoder builds MTA to filter packets.
// The returned packets are owned by the caller. A CommandEncoder is not safe for concurrent use.
type CommandEncoder struct {
	b   wire.Builder
	tag uint
}

// NewCommandEncoder returns a ready to use CommandEncoder.
func NewCommandEncoder() *CommandEncoder {
	return &CommandEncoder{}
}

// SetTag sets the session tag.
func (e *CommandEncoder) SetTag(tag uint) {
	e.tag = tag
}

// Tag returns the session tag.
func (e *CommandEncoder) Tag() uint {
	return e.tag
}

// EncodeNegotiate encodes a negotiate command.
func (e *CommandEncoder) EncodeNegotiate(opt milter.Option) []byte {
	e.b.Start(byte(wire.CodeOptNeg))
	appendOption(&e.b, opt)
	return e.b.Bytes()
}

// EncodeDefineMacro encodes macros for the command context.
// The names are sorted and long names get wrapped in curly braces.
func (e *CommandEncoder) EncodeDefineMacro(context wire.Code, macros map[string]string) []byte {
	names := make([]string, 0, len(macros))
	for name := range macros {
		names = append(names, name)
	}
	sort.Strings(names)
	milter.SortMacroNames(names)
	e.b.Start(byte(wire.CodeMacro))
	e.b.AppendByte(byte(context))
	for _, name := range names {
		e.b.AppendCString(milter.WrapMacroName(name))
		e.b.AppendCString(macros[name])
	}
	return e.b.Bytes()
}

// EncodeConnect encodes a connect command.
// addr can be a [*net.TCPAddr], a [*net.UnixAddr] or nil for an unknown address.
// IPv6 addresses get sent without IPv6: prefix.
func (e *CommandEncoder) EncodeConnect(host string, addr net.Addr) ([]byte, error) {
	e.b.Start(byte(wire.CodeConn))
	e.b.AppendCString(host)
	switch a := addr.(type) {
	case nil:
		e.b.AppendByte(byte(milter.FamilyUnknown))
	case *net.TCPAddr:
		if a == nil || a.IP == nil {
			e.b.AppendByte(byte(milter.FamilyUnknown))
			break
		}
		if ip4 := a.IP.To4(); ip4 != nil {
			e.b.AppendByte(byte(milter.FamilyInet))
			e.b.AppendUint16(uint16(a.Port))
			e.b.AppendCString(ip4.String())
		} else {
			e.b.AppendByte(byte(milter.FamilyInet6))
			e.b.AppendUint16(uint16(a.Port))
			e.b.AppendCString(a.IP.String())
		}
	case *net.UnixAddr:
		if a == nil {
			e.b.AppendByte(byte(milter.FamilyUnknown))
			break
		}
		e.b.AppendByte(byte(milter.FamilyUnix))
		e.b.AppendUint16(0)
		e.b.AppendCString(a.Name)
	default:
		return nil, fmt.Errorf("%w: connect: %T", milter.ErrUnknownSocketFamily, addr)
	}
	return e.b.Bytes(), nil
}

// EncodeHelo encodes a helo command.
func (e *CommandEncoder) EncodeHelo(fqdn string) []byte {
	e.b.Start(byte(wire.CodeHelo))
	e.b.AppendCString(fqdn)
	return e.b.Bytes()
}

// EncodeEnvelopeFrom encodes the MAIL FROM address and its optional ESMTP arguments.
func (e *CommandEncoder) EncodeEnvelopeFrom(address string, params ...string) []byte {
	return e.encodeAddress(wire.CodeMail, address, params)
}

// EncodeEnvelopeRecipient encodes one RCPT TO address and its optional ESMTP arguments.
func (e *CommandEncoder) EncodeEnvelopeRecipient(address string, params ...string) []byte {
	return e.encodeAddress(wire.CodeRcpt, address, params)
}

func (e *CommandEncoder) encodeAddress(code wire.Code, address string, params []string) []byte {
	e.b.Start(byte(code))
	e.b.AppendCString(address)
	for _, p := range params {
		e.b.AppendCString(p)
	}
	return e.b.Bytes()
}

// EncodeData encodes a data command.
func (e *CommandEncoder) EncodeData() []byte {
	return e.encodeEmpty(wire.CodeData)
}

// EncodeHeader encodes one header.
func (e *CommandEncoder) EncodeHeader(name, value string) []byte {
	e.b.Start(byte(wire.CodeHeader))
	e.b.AppendCString(name)
	e.b.AppendCString(value)
	return e.b.Bytes()
}

// EncodeEndOfHeader encodes an end-of-header command.
func (e *CommandEncoder) EncodeEndOfHeader() []byte {
	return e.encodeEmpty(wire.CodeEOH)
}

// EncodeBody encodes at most [wire.MaxBodyChunk] bytes of chunk.
// packed is the number of bytes of chunk that went into the packet, call it again with the rest.
func (e *CommandEncoder) EncodeBody(chunk []byte) (packet []byte, packed int) {
	packed = min(len(chunk), wire.MaxBodyChunk)
	e.b.Start(byte(wire.CodeBody))
	e.b.AppendBytes(chunk[:packed])
	return e.b.Bytes(), packed
}

// EncodeEndOfMessage encodes an end-of-message command with an optional last body chunk.
func (e *CommandEncoder) EncodeEndOfMessage(chunk []byte) []byte {
	e.b.Start(byte(wire.CodeEOB))
	e.b.AppendBytes(chunk)
	return e.b.Bytes()
}

// EncodeAbort encodes an abort command.
func (e *CommandEncoder) EncodeAbort() []byte {
	return e.encodeEmpty(wire.CodeAbort)
}

// EncodeQuit encodes a quit command.
func (e *CommandEncoder) EncodeQuit() []byte {
	return e.encodeEmpty(wire.CodeQuit)
}

// EncodeQuitNewConnection encodes a quit-new-connection command.
func (e *CommandEncoder) EncodeQuitNewConnection() []byte {
	return e.encodeEmpty(wire.CodeQuitNewConn)
}

// EncodeUnknown encodes an unknown SMTP command.
func (e *CommandEncoder) EncodeUnknown(command string) []byte {
	e.b.Start(byte(wire.CodeUnknown))
	e.b.AppendCString(command)
	return e.b.Bytes()
}

func (e *CommandEncoder) encodeEmpty(code wire.Code) []byte {
	e.b.Start(byte(code))
	return e.b.Bytes()
}

// Encode encodes any [Command]. A [BodyChunk] that does not fit into one packet is an error.
func (e *CommandEncoder) Encode(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case *Negotiate:
		return e.EncodeNegotiate(c.Option), nil
	case *DefineMacro:
		return e.EncodeDefineMacro(c.Context, c.Macros), nil
	case *Connect:
		return e.EncodeConnect(c.Host, c.Addr)
	case *Helo:
		return e.EncodeHelo(c.FQDN), nil
	case *EnvelopeFrom:
		return e.EncodeEnvelopeFrom(c.Address, c.Parameters...), nil
	case *EnvelopeRecipient:
		return e.EncodeEnvelopeRecipient(c.Address, c.Parameters...), nil
	case *Data:
		return e.EncodeData(), nil
	case *Header:
		return e.EncodeHeader(c.Name, c.Value), nil
	case *EndOfHeader:
		return e.EncodeEndOfHeader(), nil
	case *BodyChunk:
		if len(c.Chunk) > wire.MaxBodyChunk {
			return nil, fmt.Errorf("%w: body: %d > %d", milter.ErrTooLong, len(c.Chunk), wire.MaxBodyChunk)
		}
		packet, _ := e.EncodeBody(c.Chunk)
		return packet, nil
	case *EndOfMessage:
		return e.EncodeEndOfMessage(c.Chunk), nil
	case *Abort:
		return e.EncodeAbort(), nil
	case *Quit:
		return e.EncodeQuit(), nil
	case *QuitNewConnection:
		return e.EncodeQuitNewConnection(), nil
	case *Unknown:
		return e.EncodeUnknown(c.Command), nil
	}
	return nil, fmt.Errorf("%w: %T", milter.ErrUnexpectedCommand, cmd)
}

func appendOption(b *wire.Builder, opt milter.Option) {
	b.AppendUint32(opt.Version)
	b.AppendUint32(uint32(opt.Action))
	b.AppendUint32(uint32(opt.Step))
}
