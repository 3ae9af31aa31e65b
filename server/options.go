package server

import (
	"time"

	milter "github.com/d--j/go-milter-agent"
)

// NewMilterFunc is the signature of a function that can be used with [WithDynamicMilter] to configure the [Milter] backend.
// opt and maxData are the negotiated values.
type NewMilterFunc func(opt milter.Option, maxData milter.DataSize) Milter

// NegotiationCallbackFunc is the signature of a [WithNegotiationCallback] function.
// With this callback function you can override the negotiation process.
// mta is what the MTA offered (without the data size bits), filter is what the [Server] was configured with.
type NegotiationCallbackFunc func(mta, filter milter.Option, offeredDataSize milter.DataSize) (milter.Option, milter.DataSize, error)

type options struct {
	maxVersion          uint32
	actions             milter.OptAction
	protocol            milter.OptProtocol
	readTimeout         time.Duration
	writeTimeout        time.Duration
	usedMaxData         milter.DataSize
	macros              *milter.MacrosRequests
	newMilter           NewMilterFunc
	negotiationCallback NegotiationCallbackFunc
}

// Option configures a [Server].
type Option func(*options)

// WithAction adds action to the actions your [Milter] needs.
// The MTA has to offer all of them, otherwise the negotiation fails.
func WithAction(action milter.OptAction) Option {
	return func(h *options) {
		h.actions |= action
	}
}

// WithoutAction removes action from the actions your [Milter] needs.
func WithoutAction(action milter.OptAction) Option {
	return func(h *options) {
		h.actions &^= action
	}
}

// WithActions sets the actions your [Milter] needs.
// 0 is a valid value when your milter does not need any message modifications.
func WithActions(actions milter.OptAction) Option {
	return func(h *options) {
		h.actions = actions
	}
}

// WithProtocol adds protocol to the step flags your [Milter] requests.
// Use it to instruct the MTA to not send events that your [Milter] does not need or to not expect a reply
// for events that you do not use to accept or reject an SMTP transaction.
func WithProtocol(protocol milter.OptProtocol) Option {
	return func(h *options) {
		h.protocol |= protocol
	}
}

// WithoutProtocol removes protocol from the step flags your [Milter] requests.
func WithoutProtocol(protocol milter.OptProtocol) Option {
	return func(h *options) {
		h.protocol &^= protocol
	}
}

// WithProtocols sets the step flags your [Milter] requests.
func WithProtocols(protocol milter.OptProtocol) Option {
	return func(h *options) {
		h.protocol = protocol
	}
}

// WithMaximumVersion sets the maximum milter protocol version the [Server] accepts.
func WithMaximumVersion(version uint32) Option {
	return func(h *options) {
		h.maxVersion = version
	}
}

// WithReadTimeout sets how long a session may stay silent before the [Server] closes it.
// The default is 10 seconds. 0 disables the timeout.
func WithReadTimeout(timeout time.Duration) Option {
	return func(h *options) {
		h.readTimeout = timeout
	}
}

// WithWriteTimeout sets how long one write to the MTA may take. A session whose MTA does not read
// its replies in time gets closed. The default is 10 seconds. 0 disables the timeout.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(h *options) {
		h.writeTimeout = timeout
	}
}

// WithUsedMaxData sets the [milter.DataSize] the [Server] uses for body replacement chunks.
// The default 0 uses the size the MTA offered.
func WithUsedMaxData(usedMaxData milter.DataSize) Option {
	return func(h *options) {
		h.usedMaxData = usedMaxData
	}
}

// WithMacroRequest instructs the [Server] to ask for macros at stage.
//
// MTAs like sendmail and Postfix honor your macro requests and only send you the macros you requested.
// Your milter should gracefully handle the case that the MTA does not honor your macro requests.
// The requests only get sent when the MTA offers [milter.OptSetMacros].
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

// WithMilter sets the [Milter] backend the [Server] uses.
func WithMilter(newMilter func() Milter) Option {
	return func(h *options) {
		h.newMilter = func(milter.Option, milter.DataSize) Milter {
			return newMilter()
		}
	}
}

// WithDynamicMilter sets the [Milter] backend the [Server] uses.
// newMilter gets the negotiated values, so you can use this to configure the backend dynamically.
func WithDynamicMilter(newMilter NewMilterFunc) Option {
	return func(h *options) {
		h.newMilter = newMilter
	}
}

// WithNegotiationCallback replaces the default negotiation logic with callback.
func WithNegotiationCallback(callback NegotiationCallbackFunc) Option {
	return func(h *options) {
		h.negotiationCallback = callback
	}
}
