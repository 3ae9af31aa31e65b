// Package codec turns a stream of milter packets into typed [Command] and [Reply] values and back.
//
// Decoding is incremental: feed arbitrary sized chunks of the byte stream into a [CommandDecoder] or
// [ReplyDecoder] and the handler gets called once per complete packet, in arrival order.
// Encoding goes the other way: a [CommandEncoder] or [ReplyEncoder] produces the complete packet
// (length prefix included) for one value.
package codec

import (
	"encoding/binary"
	"fmt"
	"strings"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/wire"
)

type decoderState int

const (
	stateStart decoderState = iota
	stateAwaitingLength
	stateAwaitingContent
	stateError
)

func (s decoderState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateAwaitingLength:
		return "awaiting-length"
	case stateAwaitingContent:
		return "awaiting-content"
	case stateError:
		return "error"
	}
	return fmt.Sprintf("decoderState(%d)", int(s))
}

// DispatchFunc gets called with one complete packet: frame[0] is the command byte, frame[1:] the payload.
// frame is only valid during the call.
type DispatchFunc func(frame []byte) error

// FrameDecoder reassembles length prefixed packets out of a byte stream.
//
// After a malformed packet or a failed dispatch the decoder is broken for good:
// every later Feed returns the original error again.
type FrameDecoder struct {
	dispatch      DispatchFunc
	state         decoderState
	buf           []byte
	pos           int
	commandLength int32
	tag           uint
	err           error
}

// NewFrameDecoder returns a FrameDecoder that calls dispatch for every complete packet.
func NewFrameDecoder(dispatch DispatchFunc) *FrameDecoder {
	return &FrameDecoder{dispatch: dispatch}
}

// SetTag sets the session tag that gets logged with decoding problems.
func (d *FrameDecoder) SetTag(tag uint) {
	d.tag = tag
}

// Tag returns the session tag.
func (d *FrameDecoder) Tag() uint {
	return d.tag
}

// Err returns the error that broke this decoder or nil.
func (d *FrameDecoder) Err() error {
	return d.err
}

// Buffered returns the number of bytes that were fed but not yet dispatched (length prefixes not included).
func (d *FrameDecoder) Buffered() int {
	return len(d.buf) - d.pos
}

// Feed appends chunk to the internal buffer and dispatches every complete packet.
func (d *FrameDecoder) Feed(chunk []byte) error {
	if d.state == stateError {
		return fmt.Errorf("milter: decoder is broken: %w", d.err)
	}
	// drop consumed bytes before growing the buffer
	if d.pos > 0 {
		n := copy(d.buf, d.buf[d.pos:])
		d.buf = d.buf[:n]
		d.pos = 0
	}
	d.buf = append(d.buf, chunk...)

	for {
		available := d.buf[d.pos:]
		switch d.state {
		case stateStart:
			if len(available) == 0 {
				return nil
			}
			d.state = stateAwaitingLength
		case stateAwaitingLength:
			if len(available) < wire.LengthSize {
				return nil
			}
			d.commandLength = int32(binary.BigEndian.Uint32(available))
			d.pos += wire.LengthSize
			d.state = stateAwaitingContent
		case stateAwaitingContent:
			// negative lengths compare as huge unsigned numbers and never get satisfied
			length := uint64(uint32(d.commandLength))
			if uint64(len(available)) < length {
				return nil
			}
			if err := d.dispatch(available[:length]); err != nil {
				d.state = stateError
				d.err = err
				milter.Logger().Debug("milter: decode failed", "tag", d.tag, "error", err)
				return err
			}
			d.pos += int(length)
			d.state = stateStart
		default:
			return fmt.Errorf("milter: decoder is broken: %w", d.err)
		}
	}
}

// EndOfInput checks that the stream ended on a packet boundary.
func (d *FrameDecoder) EndOfInput() error {
	switch d.state {
	case stateStart:
		return nil
	case stateAwaitingLength:
		return fmt.Errorf("%w: need %d more bytes for the command length", milter.ErrUnexpectedEnd, wire.LengthSize-d.Buffered())
	case stateAwaitingContent:
		return fmt.Errorf("%w: need %d more bytes for the command content", milter.ErrUnexpectedEnd, uint64(uint32(d.commandLength))-uint64(d.Buffered()))
	}
	return fmt.Errorf("%w: decoder is broken: %v", milter.ErrUnexpectedEnd, d.err)
}

type lengthMode int

const (
	atLeast lengthMode = iota
	exact
)

// checkLength makes sure data has (exactly or at least) expected bytes.
func checkLength(what string, data []byte, expected int, mode lengthMode) error {
	if len(data) < expected {
		return fmt.Errorf("%w: %s: %d < %d: %s", milter.ErrTooShort, what, len(data), expected, Inspect(data))
	}
	if mode == exact && len(data) > expected {
		return fmt.Errorf("%w: %s: %d > %d: %s", milter.ErrTooLong, what, len(data), expected, Inspect(data))
	}
	return nil
}

const inspectLimit = 64

// Inspect renders data for error messages: hex bytes followed by the printable ASCII characters.
// Only the first 64 bytes get rendered.
func Inspect(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	show := data
	if len(show) > inspectLimit {
		show = show[:inspectLimit]
	}
	var b strings.Builder
	for i, c := range show {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	b.WriteString(" (")
	for _, c := range show {
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	b.WriteByte(')')
	if len(data) > inspectLimit {
		fmt.Fprintf(&b, "... %d more bytes", len(data)-inspectLimit)
	}
	return b.String()
}

// readCString reads one null terminated string from the start of data and returns it together with the rest of data.
func readCString(what string, data []byte) (string, []byte, error) {
	pos := wire.FindNul(data)
	if pos == -1 {
		return "", nil, fmt.Errorf("%w: %s: %s", milter.ErrMissingNul, what, Inspect(data))
	}
	return string(data[:pos]), data[pos+1:], nil
}

// readLastCString reads one null terminated string that has to fill data exactly.
func readLastCString(what string, data []byte) (string, error) {
	s, rest, err := readCString(what, data)
	if err != nil {
		return "", err
	}
	if len(rest) > 0 {
		return "", fmt.Errorf("%w: %s: %d bytes after null-byte: %s", milter.ErrTooLong, what, len(rest), Inspect(data))
	}
	return s, nil
}

// readCStrings reads between minCount and maxCount null terminated strings that fill data exactly.
func readCStrings(what string, data []byte, minCount, maxCount int) ([]string, error) {
	var strs []string
	for len(data) > 0 {
		if len(strs) == maxCount {
			return nil, fmt.Errorf("%w: %s: more than %d strings: %s", milter.ErrTooLong, what, maxCount, Inspect(data))
		}
		var s string
		var err error
		s, data, err = readCString(what, data)
		if err != nil {
			return nil, err
		}
		strs = append(strs, s)
	}
	if len(strs) < minCount {
		return nil, fmt.Errorf("%w: %s: %d strings, want at least %d", milter.ErrTooShort, what, len(strs), minCount)
	}
	return strs, nil
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
