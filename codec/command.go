package codec

import (
	"net"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/wire"
)

// Command is one message the MTA sends to a filter.
type Command interface {
	// Code returns the command byte of this message.
	Code() wire.Code
	isCommand()
}

// Negotiate opens a session and announces the protocol version and the actions and steps the MTA supports.
type Negotiate struct {
	Option milter.Option
}

// DefineMacro carries macro values for the command Context.
// Macro names are stored without curly braces.
type DefineMacro struct {
	Context wire.Code
	Macros  map[string]string
}

// Connect describes the SMTP client that connected to the MTA.
//
// Addr is a [*net.TCPAddr] for IPv4/IPv6 connections, a [*net.UnixAddr] for unix domain socket connections
// and nil when the MTA does not know the address.
type Connect struct {
	Host string
	Addr net.Addr
}

// Family returns the protocol family of Addr.
func (c *Connect) Family() milter.ProtoFamily {
	switch a := c.Addr.(type) {
	case *net.TCPAddr:
		if a.IP.To4() != nil {
			return milter.FamilyInet
		}
		return milter.FamilyInet6
	case *net.UnixAddr:
		return milter.FamilyUnix
	}
	return milter.FamilyUnknown
}

// Helo is the HELO/EHLO name the SMTP client sent.
type Helo struct {
	FQDN string
}

// EnvelopeFrom is the MAIL FROM address. Parameters are the optional ESMTP arguments.
type EnvelopeFrom struct {
	Address    string
	Parameters []string
}

// EnvelopeRecipient is one RCPT TO address. Parameters are the optional ESMTP arguments.
type EnvelopeRecipient struct {
	Address    string
	Parameters []string
}

// Data signals the SMTP DATA command.
type Data struct{}

// Header is one message header.
type Header struct {
	Name  string
	Value string
}

// EndOfHeader signals that all headers were sent.
type EndOfHeader struct{}

// BodyChunk is a piece of the message body.
type BodyChunk struct {
	Chunk []byte
}

// EndOfMessage signals the end of the message. Chunk is an optional last piece of the body.
type EndOfMessage struct {
	Chunk []byte
}

// Abort aborts the current message. The connection stays open.
type Abort struct{}

// Quit closes the session.
type Quit struct{}

// QuitNewConnection closes the current SMTP connection but keeps the milter session open for the next one.
type QuitNewConnection struct{}

// Unknown carries an SMTP command the MTA did not recognize.
type Unknown struct {
	Command string
}

func (*Negotiate) Code() wire.Code { return wire.CodeOptNeg }
func (*DefineMacro) Code() wire.Code { return wire.CodeMacro }
func (*Connect) Code() wire.Code { return wire.CodeConn }
func (*Helo) Code() wire.Code { return wire.CodeHelo }
func (*EnvelopeFrom) Code() wire.Code { return wire.CodeMail }
func (*EnvelopeRecipient) Code() wire.Code { return wire.CodeRcpt }
func (*Data) Code() wire.Code { return wire.CodeData }
func (*Header) Code() wire.Code { return wire.CodeHeader }
func (*EndOfHeader) Code() wire.Code { return wire.CodeEOH }
func (*BodyChunk) Code() wire.Code { return wire.CodeBody }
func (*EndOfMessage) Code() wire.Code { return wire.CodeEOB }
func (*Abort) Code() wire.Code { return wire.CodeAbort }
func (*Quit) Code() wire.Code { return wire.CodeQuit }
func (*QuitNewConnection) Code() wire.Code { return wire.CodeQuitNewConn }
func (*Unknown) Code() wire.Code { return wire.CodeUnknown }

func (*Negotiate) isCommand() {}
func (*DefineMacro) isCommand() {}
func (*Connect) isCommand() {}
func (*Helo) isCommand() {}
func (*EnvelopeFrom) isCommand() {}
func (*EnvelopeRecipient) isCommand() {}
func (*Data) isCommand() {}
func (*Header) isCommand() {}
func (*EndOfHeader) isCommand() {}
func (*BodyChunk) isCommand() {}
func (*EndOfMessage) isCommand() {}
func (*Abort) isCommand() {}
func (*Quit) isCommand() {}
func (*QuitNewConnection) isCommand() {}
func (*Unknown) isCommand() {}
