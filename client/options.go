package client

import (
	"net"
	"time"

	milter "github.com/d--j/go-milter-agent"
)

// Dialer is the interface of the only method we use of a [net.Dialer].
type Dialer interface {
	Dial(network string, addr string) (net.Conn, error)
}

// SMFI_CURR_PROT
const allProtocols = milter.OptNoConnect | milter.OptNoHelo | milter.OptNoMailFrom | milter.OptNoRcptTo | milter.OptNoBody | milter.OptNoHeaders | milter.OptNoEOH | milter.OptNoUnknown | milter.OptNoData | milter.OptSkip | milter.OptRcptRej | milter.OptNoReplies | milter.OptHeaderLeadingSpace

// SMFI_V2_PROT
const allProtocolsV2 = milter.OptNoConnect | milter.OptNoHelo | milter.OptNoMailFrom | milter.OptNoRcptTo | milter.OptNoBody | milter.OptNoHeaders | milter.OptNoEOH
const allProtocolsV3 = allProtocolsV2 | milter.OptNoUnknown
const allProtocolsV4 = allProtocolsV3 | milter.OptNoData

// protocolsFor returns the step flags an MTA speaking version can offer.
func protocolsFor(version uint32) milter.OptProtocol {
	switch version {
	case 2:
		return allProtocolsV2
	case 3:
		return allProtocolsV3
	case 4, 5:
		return allProtocolsV4
	}
	return allProtocols
}

type options struct {
	dialer         Dialer
	readTimeout    time.Duration
	writeTimeout   time.Duration
	maxVersion     uint32
	actions        milter.OptAction
	protocol       milter.OptProtocol
	offeredMaxData milter.DataSize
	usedMaxData    milter.DataSize
	macros         *milter.MacrosRequests
}

// Option configures a [Client].
type Option func(*options)

// WithDialer sets the [Dialer] the [Client] uses. You can use this to e.g. set the connection timeout of the client.
// The default is to use a [net.Dialer] with a connection timeout of 10 seconds.
func WithDialer(dialer Dialer) Option {
	return func(h *options) {
		h.dialer = dialer
	}
}

// WithReadTimeout sets how long the [Client] waits for a reply of the milter.
// Progress notifications of the milter restart the timeout. The default is 10 seconds.
func WithReadTimeout(timeout time.Duration) Option {
	return func(h *options) {
		h.readTimeout = timeout
	}
}

// WithWriteTimeout sets the write-timeout for all write operations of the [Client].
// The default is 10 seconds.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(h *options) {
		h.writeTimeout = timeout
	}
}

// WithMaximumVersion sets the maximum milter version the MTA offers.
func WithMaximumVersion(version uint32) Option {
	return func(h *options) {
		h.maxVersion = version
	}
}

// WithAction adds action to the actions your MTA supports.
func WithAction(action milter.OptAction) Option {
	return func(h *options) {
		h.actions |= action
	}
}

// WithoutAction removes action from the actions your MTA supports.
func WithoutAction(action milter.OptAction) Option {
	return func(h *options) {
		h.actions &^= action
	}
}

// WithActions sets the actions your MTA supports.
// 0 is a valid value when your MTA only supports accepting or rejecting an SMTP transaction.
func WithActions(actions milter.OptAction) Option {
	return func(h *options) {
		h.actions = actions
	}
}

// WithProtocol adds protocol to the step flags your MTA supports.
// You can normally skip this option, the default is everything this library can handle.
func WithProtocol(protocol milter.OptProtocol) Option {
	return func(h *options) {
		h.protocol |= protocol
	}
}

// WithoutProtocol removes protocol from the step flags your MTA supports.
func WithoutProtocol(protocol milter.OptProtocol) Option {
	return func(h *options) {
		h.protocol &^= protocol
	}
}

// WithProtocols sets the step flags your MTA supports.
func WithProtocols(protocol milter.OptProtocol) Option {
	return func(h *options) {
		h.protocol = protocol
	}
}

// WithOfferedMaxData sets the [milter.DataSize] the MTA offers to milters.
// This is just an indication to the milter that it can send bigger packets.
func WithOfferedMaxData(offeredMaxData milter.DataSize) Option {
	return func(h *options) {
		h.offeredMaxData = offeredMaxData
	}
}

// WithUsedMaxData sets the body chunk size the [Client] uses. 0 means the value of [WithOfferedMaxData].
// Body chunks never get bigger than 65535 bytes.
func WithUsedMaxData(usedMaxData milter.DataSize) Option {
	return func(h *options) {
		h.usedMaxData = usedMaxData
	}
}

// WithoutDefaultMacros deletes all macro definitions that were made before this [Option].
func WithoutDefaultMacros() Option {
	return func(h *options) {
		h.macros = milter.NewMacrosRequests()
	}
}

// WithMacroRequest defines the macros that the [Client] sends at stage.
// A milter can request other macros in the negotiation. Most do not, then they receive these macros.
func WithMacroRequest(stage milter.MacroStage, macros []milter.MacroName) Option {
	return func(h *options) {
		code, ok := milter.CommandForStage(stage)
		if !ok {
			panic("milter: invalid macro stage")
		}
		if h.macros == nil {
			h.macros = milter.NewMacrosRequests()
		}
		h.macros.SetSymbols(code, macros)
	}
}
