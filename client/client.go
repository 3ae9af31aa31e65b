// Package client implements the MTA side of the milter protocol.
//
// Every [Session] runs its own [reactor.Loop] goroutine that drives an [agent.ReplyAgent].
// The methods of a Session send one event to the milter and block until the milter replied,
// the read timeout expired or the connection broke.
package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/wire"
)

// ErrTimeout is returned when the milter did not reply in time.
var ErrTimeout = errors.New("milter: timeout waiting for reply")

// ErrClosed is returned when the connection to the milter ended.
var ErrClosed = errors.New("milter: session closed")

// Client is a wrapper for managing milter connections to one milter.
//
// You need to call [Client.Session] to actually open a connection to the milter.
type Client struct {
	options options
	network string
	address string
}

// New creates a new Client that connects to a milter at network / address.
//
// Without any opts the Client uses 10 seconds for connection/read/write timeouts, offers every
// action and protocol feature this library supports and uses [milter.DataSize64K] as data size.
// Unless you use [WithoutDefaultMacros] or [WithMacroRequest] the following macros get sent:
//
//	WithMacroRequest(StageConnect, []MacroName{MacroMTAFQDN, MacroDaemonName, MacroIfName, MacroIfAddr})
//	WithMacroRequest(StageHelo, []MacroName{MacroTlsVersion, MacroCipher, MacroCipherBits, MacroCertSubject, MacroCertIssuer})
//	WithMacroRequest(StageMail, []MacroName{MacroAuthType, MacroAuthAuthen, MacroAuthSsf, MacroAuthAuthor, MacroMailMailer, MacroMailHost, MacroMailAddr})
//	WithMacroRequest(StageRcpt, []MacroName{MacroRcptMailer, MacroRcptHost, MacroRcptAddr})
//	WithMacroRequest(StageEOM, []MacroName{MacroQueueId})
//
// New panics when you provide invalid options.
func New(network, address string, opts ...Option) *Client {
	o := options{
		dialer: &net.Dialer{
			Timeout: 10 * time.Second,
		},
		readTimeout:    10 * time.Second,
		writeTimeout:   10 * time.Second,
		maxVersion:     milter.MaxVersion,
		actions:        milter.AllActions,
		offeredMaxData: milter.DataSize64K,
		usedMaxData:    milter.DataSize64K,
		macros:         defaultMacros(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	if o.dialer == nil {
		panic("milter: you cannot pass <nil> to WithDialer")
	}
	if o.maxVersion > milter.MaxVersion || o.maxVersion < 2 {
		panic("milter: this library cannot handle this milter version")
	}
	if !validDataSize(o.offeredMaxData) {
		panic("milter: wrong data size passed to WithOfferedMaxData")
	}
	if o.usedMaxData != 0 && !validDataSize(o.usedMaxData) {
		panic("milter: wrong data size passed to WithUsedMaxData")
	}
	all := protocolsFor(o.maxVersion)
	if o.protocol&^all != 0 {
		panic(fmt.Sprintf("milter: invalid protocol options for milter version %d: %s", o.maxVersion, o.protocol&^all))
	}
	// offering nothing to filters is unlikely, default to all we can handle
	if o.protocol == 0 {
		o.protocol = all
	}

	return &Client{
		options: o,
		network: network,
		address: address,
	}
}

func validDataSize(size milter.DataSize) bool {
	return size == milter.DataSize64K || size == milter.DataSize256K || size == milter.DataSize1M
}

func defaultMacros() *milter.MacrosRequests {
	r := milter.NewMacrosRequests()
	r.SetSymbols(wire.CodeConn, []milter.MacroName{milter.MacroMTAFQDN, milter.MacroDaemonName, milter.MacroIfName, milter.MacroIfAddr})
	r.SetSymbols(wire.CodeHelo, []milter.MacroName{milter.MacroTlsVersion, milter.MacroCipher, milter.MacroCipherBits, milter.MacroCertSubject, milter.MacroCertIssuer})
	r.SetSymbols(wire.CodeMail, []milter.MacroName{milter.MacroAuthType, milter.MacroAuthAuthen, milter.MacroAuthSsf, milter.MacroAuthAuthor, milter.MacroMailMailer, milter.MacroMailHost, milter.MacroMailAddr})
	r.SetSymbols(wire.CodeRcpt, []milter.MacroName{milter.MacroRcptMailer, milter.MacroRcptHost, milter.MacroRcptAddr})
	r.SetSymbols(wire.CodeEOB, []milter.MacroName{milter.MacroQueueId})
	return r
}

// String returns the network and address that this Client connects to.
func (c *Client) String() string {
	return fmt.Sprintf("%s:%s", c.network, c.address)
}

// Session opens a new connection to the milter and negotiates protocol features with it.
//
// macros are the values this Session sends to the milter. It can be nil, then no macros get sent.
// Set macro values as soon as you know them. It is your responsibility to clear command specific
// macros like [milter.MacroRcptMailer] after the command got executed.
//
// Session is safe for concurrent use.
func (c *Client) Session(macros milter.Macros) (*Session, error) {
	conn, err := c.options.dialer.Dial(c.network, c.address)
	if err != nil {
		return nil, fmt.Errorf("milter: session create: %w", err)
	}
	return newSession(conn, macros, c.options)
}
