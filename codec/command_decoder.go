package codec

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/wire"
)

// CommandHandler gets called for every decoded command. A non-nil error breaks the decoder.
type CommandHandler func(cmd Command) error

// CommandDecoder decodes the MTA to filter direction of the protocol.
type CommandDecoder struct {
	*FrameDecoder
	handler CommandHandler
}

// NewCommandDecoder returns a CommandDecoder that calls handler for every decoded command.
func NewCommandDecoder(handler CommandHandler) *CommandDecoder {
	d := &CommandDecoder{handler: handler}
	d.FrameDecoder = NewFrameDecoder(d.dispatch)
	return d
}

// SetHandler replaces the handler.
func (d *CommandDecoder) SetHandler(handler CommandHandler) {
	d.handler = handler
}

func (d *CommandDecoder) dispatch(frame []byte) error {
	cmd, err := DecodeCommand(frame)
	if err != nil {
		return err
	}
	if d.handler == nil {
		return nil
	}
	return d.handler(cmd)
}

// DecodeCommand decodes one packet without its length prefix.
// The returned command does not reference frame.
func DecodeCommand(frame []byte) (Command, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: command: empty packet", milter.ErrTooShort)
	}
	code, data := wire.Code(frame[0]), frame[1:]
	switch code {
	case wire.CodeOptNeg:
		opt, rest, err := decodeOption("negotiate", data)
		if err != nil {
			return nil, err
		}
		if err := checkLength("negotiate", rest, 0, exact); err != nil {
			return nil, err
		}
		return &Negotiate{Option: opt}, nil

	case wire.CodeMacro:
		return decodeDefineMacro(data)

	case wire.CodeConn:
		return decodeConnect(data)

	case wire.CodeHelo:
		fqdn, err := readLastCString("helo", data)
		if err != nil {
			return nil, err
		}
		return &Helo{FQDN: fqdn}, nil

	case wire.CodeMail:
		addr, params, err := decodeEnvelopeAddress("envelope-from", data)
		if err != nil {
			return nil, err
		}
		return &EnvelopeFrom{Address: addr, Parameters: params}, nil

	case wire.CodeRcpt:
		addr, params, err := decodeEnvelopeAddress("envelope-recipient", data)
		if err != nil {
			return nil, err
		}
		return &EnvelopeRecipient{Address: addr, Parameters: params}, nil

	case wire.CodeData:
		if err := checkLength("data", data, 0, exact); err != nil {
			return nil, err
		}
		return &Data{}, nil

	case wire.CodeHeader:
		strs, err := readCStrings("header", data, 2, 2)
		if err != nil {
			return nil, err
		}
		return &Header{Name: strs[0], Value: strs[1]}, nil

	case wire.CodeEOH:
		if err := checkLength("end-of-header", data, 0, exact); err != nil {
			return nil, err
		}
		return &EndOfHeader{}, nil

	case wire.CodeBody:
		return &BodyChunk{Chunk: cloneBytes(data)}, nil

	case wire.CodeEOB:
		return &EndOfMessage{Chunk: cloneBytes(data)}, nil

	case wire.CodeAbort:
		if err := checkLength("abort", data, 0, exact); err != nil {
			return nil, err
		}
		return &Abort{}, nil

	case wire.CodeQuit:
		if err := checkLength("quit", data, 0, exact); err != nil {
			return nil, err
		}
		return &Quit{}, nil

	case wire.CodeQuitNewConn:
		if err := checkLength("quit-new-connection", data, 0, exact); err != nil {
			return nil, err
		}
		return &QuitNewConnection{}, nil

	case wire.CodeUnknown:
		text, err := readLastCString("unknown", data)
		if err != nil {
			return nil, err
		}
		return &Unknown{Command: text}, nil
	}
	return nil, fmt.Errorf("%w: %s: %s", milter.ErrUnexpectedCommand, code, Inspect(frame))
}

// decodeOption reads the three uint32 values of a negotiation packet.
func decodeOption(what string, data []byte) (milter.Option, []byte, error) {
	if err := checkLength(what, data, 12, atLeast); err != nil {
		return milter.Option{}, nil, err
	}
	opt := milter.Option{
		Version: binary.BigEndian.Uint32(data),
		Action:  milter.OptAction(binary.BigEndian.Uint32(data[4:])),
		Step:    milter.OptProtocol(binary.BigEndian.Uint32(data[8:])),
	}
	return opt, data[12:], nil
}

func decodeDefineMacro(data []byte) (*DefineMacro, error) {
	if err := checkLength("define-macro", data, 1, atLeast); err != nil {
		return nil, err
	}
	context := wire.Code(data[0])
	if !milter.IsMacroContext(context) {
		return nil, fmt.Errorf("%w: %s", milter.ErrUnknownMacroContext, context)
	}
	strs, err := readCStrings("define-macro", data[1:], 0, -1)
	if err != nil {
		return nil, err
	}
	if len(strs)%2 != 0 {
		return nil, fmt.Errorf("%w: define-macro: no value for macro %q", milter.ErrMissingNul, strs[len(strs)-1])
	}
	macros := make(map[string]string, len(strs)/2)
	for i := 0; i < len(strs); i += 2 {
		macros[milter.UnwrapMacroName(strs[i])] = strs[i+1]
	}
	return &DefineMacro{Context: context, Macros: macros}, nil
}

func decodeConnect(data []byte) (*Connect, error) {
	host, rest, err := readCString("connect: host name", data)
	if err != nil {
		return nil, err
	}
	if err := checkLength("connect: family", rest, 1, atLeast); err != nil {
		return nil, err
	}
	family := milter.ProtoFamily(rest[0])
	rest = rest[1:]
	if family == milter.FamilyUnknown {
		// trailing bytes get ignored, the address is unknown anyway
		return &Connect{Host: host}, nil
	}
	if family != milter.FamilyUnix && family != milter.FamilyInet && family != milter.FamilyInet6 {
		return nil, fmt.Errorf("%w: %q", milter.ErrUnknownSocketFamily, byte(family))
	}
	if err := checkLength("connect: port", rest, 2, atLeast); err != nil {
		return nil, err
	}
	port := binary.BigEndian.Uint16(rest)
	address, err := readLastCString("connect: address", rest[2:])
	if err != nil {
		return nil, err
	}
	switch family {
	case milter.FamilyUnix:
		return &Connect{Host: host, Addr: &net.UnixAddr{Name: address, Net: "unix"}}, nil
	case milter.FamilyInet:
		ip := net.ParseIP(address)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("%w: connect: unexpected ip4 address: %q", milter.ErrInvalidFormat, address)
		}
		return &Connect{Host: host, Addr: &net.TCPAddr{IP: ip, Port: int(port)}}, nil
	default:
		ip := parseIP6(address)
		if ip == nil {
			return nil, fmt.Errorf("%w: connect: unexpected ip6 address: %q", milter.ErrInvalidFormat, address)
		}
		return &Connect{Host: host, Addr: &net.TCPAddr{IP: ip, Port: int(port)}}, nil
	}
}

// parseIP6 also accepts the IPv6:dead::cafe form of sendmail and the [dead::cafe] form.
func parseIP6(address string) net.IP {
	if len(address) > 2 && address[0] == '[' && address[len(address)-1] == ']' {
		address = address[1 : len(address)-1]
	} else if strings.HasPrefix(address, "IPv6:") {
		address = address[5:]
	}
	return net.ParseIP(address)
}

func decodeEnvelopeAddress(what string, data []byte) (string, []string, error) {
	strs, err := readCStrings(what, data, 1, -1)
	if err != nil {
		return "", nil, err
	}
	if len(strs) == 1 {
		return strs[0], nil, nil
	}
	return strs[0], strs[1:], nil
}
