package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/agent"
	"github.com/d--j/go-milter-agent/codec"
	"github.com/d--j/go-milter-agent/milterutil"
	"github.com/d--j/go-milter-agent/reactor"
	"github.com/d--j/go-milter-agent/wire"
	"github.com/emersion/go-message/textproto"
)

type sessionState int

const (
	stateClosed sessionState = iota
	stateNegotiated
	stateConnectCalled
	stateHeloCalled
	stateMailCalled
	stateRcptCalled
	stateDataCalled
	stateHeaderFieldCalled
	stateHeaderEndCalled
	stateBodyChunkCalled
	stateError
)

// Session is a connection to one milter for one SMTP connection.
//
// The methods of a Session must not be called concurrently.
type Session struct {
	ch    *reactor.ConnChannel
	loop  *reactor.Loop
	agent *agent.ReplyAgent

	readTimeout time.Duration

	// negotiated values
	version      uint32
	actionOpts   milter.OptAction
	protocolOpts milter.OptProtocol
	dataSize     milter.DataSize
	maxBodySize  int
	requests     *milter.MacrosRequests

	macros    milter.Macros
	state     sessionState
	skip      bool
	closedErr error

	// only used on the loop goroutine
	timer reactor.Handle

	mu      sync.Mutex
	replies []codec.Reply
	failure error
	ended   bool
	notify  chan struct{}
	done    chan struct{}
}

func newSession(conn net.Conn, macros milter.Macros, o options) (*Session, error) {
	s := &Session{
		ch:          reactor.NewConnChannel(conn, reactor.WithWriteTimeout(o.writeTimeout)),
		loop:        reactor.NewLoop(),
		readTimeout: o.readTimeout,
		requests:    o.macros.Copy(),
		macros:      macros,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	s.agent = agent.NewReplyAgent(s.ch, s.loop, s.onReply)
	s.agent.SetEventHandler(s.onEvent)
	if err := s.agent.Start(); err != nil {
		_ = s.ch.Close()
		return nil, fmt.Errorf("milter: session create: %w", err)
	}
	go s.run()

	if err := s.negotiate(o); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) run() {
	_ = s.loop.RunUntil(context.Background(), s.agent.Finished)
	// the channel closes the connection after it wrote the last command (QUIT)
	_ = s.ch.CloseRead()
	_ = s.ch.CloseWrite()
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.signal()
	close(s.done)
}

func (s *Session) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.failure == nil {
		s.failure = err
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Session) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	return ErrClosed
}

// onReply runs on the loop goroutine for every decoded reply.
func (s *Session) onReply(reply codec.Reply) error {
	switch reply.(type) {
	case *codec.Progress:
		s.arm()
		return nil
	case *codec.NegotiateReply:
		s.disarm()
	default:
		if codec.IsFinal(reply) {
			s.disarm()
		} else {
			// more replies follow (end-of-message modifications)
			s.arm()
		}
	}
	s.mu.Lock()
	s.replies = append(s.replies, reply)
	s.mu.Unlock()
	s.signal()
	return nil
}

func (s *Session) onEvent(ev agent.Event) {
	switch ev.Kind {
	case agent.EventError:
		milter.Logger().Debug("milter: client session error", "tag", s.agent.Tag(), "error", ev.Err)
		s.fail(ev.Err)
	case agent.EventFinished:
		s.disarm()
		s.signal()
	}
}

// arm (re-)starts the reply timer.
func (s *Session) arm() {
	s.disarm()
	if s.readTimeout <= 0 {
		return
	}
	s.timer = s.loop.AddTimer(s.readTimeout, func() bool {
		s.timer = 0
		s.fail(ErrTimeout)
		s.agent.Shutdown()
		return false
	})
}

func (s *Session) disarm() {
	if s.timer != 0 {
		s.loop.Remove(s.timer)
		s.timer = 0
	}
}

// write hands cmd to the loop goroutine where the agent encodes and sends it.
// With expectReply set the reply timer gets started.
func (s *Session) write(cmd codec.Command, expectReply bool) error {
	result := make(chan error, 1)
	s.loop.Invoke(func() {
		if s.agent.Finished() {
			result <- s.err()
			return
		}
		err := s.agent.SendCommand(cmd)
		if err == nil && expectReply {
			s.arm()
		}
		result <- err
	})
	select {
	case err := <-result:
		return err
	case <-s.done:
		return s.err()
	}
}

// next blocks until the milter sent a reply or the session broke.
func (s *Session) next() (codec.Reply, error) {
	for {
		s.mu.Lock()
		if len(s.replies) > 0 {
			reply := s.replies[0]
			s.replies = s.replies[1:]
			s.mu.Unlock()
			return reply, nil
		}
		failure, ended := s.failure, s.ended
		s.mu.Unlock()
		if failure != nil {
			return nil, failure
		}
		if ended {
			return nil, ErrClosed
		}
		<-s.notify
	}
}

func (s *Session) errorOut(err error) error {
	s.state = stateError
	s.loop.Invoke(s.agent.Shutdown)
	_ = s.ch.Close()
	// give garbage collector a chance to free space
	s.macros = nil
	return err
}

// negotiate exchanges OPTNEG messages with the milter and configures this session to the negotiated values.
func (s *Session) negotiate(o options) error {
	offer := milter.NewOption(o.maxVersion, o.actions, o.protocol.WithDataSize(o.offeredMaxData))
	if err := s.write(&codec.Negotiate{Option: offer}, true); err != nil {
		return s.errorOut(fmt.Errorf("milter: negotiate: optneg write: %w", err))
	}
	reply, err := s.next()
	if err != nil {
		return s.errorOut(fmt.Errorf("milter: negotiate: optneg read: %w", err))
	}
	neg, ok := reply.(*codec.NegotiateReply)
	if !ok {
		return s.errorOut(fmt.Errorf("milter: negotiate: unexpected reply %T", reply))
	}
	filter := neg.Option
	if filter.Version < 2 || filter.Version > o.maxVersion {
		return s.errorOut(fmt.Errorf("milter: negotiate: unsupported protocol version: %d", filter.Version))
	}
	if filter.Action&o.actions != filter.Action {
		return s.errorOut(fmt.Errorf("milter: negotiate: unsupported actions requested: MTA %q filter %q", o.actions, filter.Action))
	}
	s.dataSize = filter.Step.DataSize()
	step := filter.Step.Public()
	if step&o.protocol != step {
		return s.errorOut(fmt.Errorf("milter: negotiate: unsupported protocol options requested: MTA %q filter %q", o.protocol, step))
	}
	// do not send commands that older versions do not understand
	if filter.Version <= 2 {
		step |= milter.OptNoUnknown
	}
	if filter.Version <= 3 {
		step |= milter.OptNoData
	}
	s.version = filter.Version
	s.actionOpts = filter.Action
	s.protocolOpts = step

	used := o.usedMaxData
	if used == 0 {
		used = o.offeredMaxData
	}
	// a body packet carries at most wire.MaxBodyChunk bytes
	s.maxBodySize = min(int(used), wire.MaxBodyChunk)

	// the filter defined the macros it wants to get, we only use them and not the defaults
	if neg.Macros.Len() > 0 {
		s.requests = neg.Macros.Copy()
	}
	s.state = stateNegotiated
	milter.Logger().Debug("milter: client negotiated", "tag", s.agent.Tag(), "option", milter.NewOption(s.version, s.actionOpts, s.protocolOpts).String(), "data_size", s.dataSize)
	return nil
}

// Version returns the negotiated milter protocol version.
func (s *Session) Version() uint32 {
	return s.version
}

// ProtocolOption checks whether the option is set in negotiated options.
func (s *Session) ProtocolOption(opt milter.OptProtocol) bool {
	return s.protocolOpts&opt != 0
}

// ActionOption checks whether the option is set in negotiated options.
func (s *Session) ActionOption(opt milter.OptAction) bool {
	return s.actionOpts&opt != 0
}

// DataSize returns the data size the milter negotiated. The milter may send packets of this size.
func (s *Session) DataSize() milter.DataSize {
	return s.dataSize
}

// Skip can be used after a BodyChunk, HeaderField or Rcpt call to check if the milter indicated to not need any more
// of these events. You can directly skip to the next event class. It is not an error to ignore this
// and just keep sending the same events since Session will handle skipping internally.
func (s *Session) Skip() bool {
	return s.skip
}

// sendMacros sends the values of the macros the milter wants at command.
func (s *Session) sendMacros(command wire.Code) error {
	if s.macros == nil {
		return nil
	}
	names := s.requests.Symbols(command)
	if len(names) == 0 {
		return nil
	}
	values := make(map[string]string, len(names))
	for _, name := range names {
		// only send macros we actually defined
		if v, ok := s.macros.GetEx(name); ok {
			values[milter.UnwrapMacroName(name)] = v
		}
	}
	if len(values) == 0 {
		return nil
	}
	if err := s.write(&codec.DefineMacro{Context: command, Macros: values}, false); err != nil {
		return fmt.Errorf("milter: send macros: %w", err)
	}
	return nil
}

func (s *Session) sendCmdMacros(command wire.Code, macros map[milter.MacroName]string) error {
	if len(macros) == 0 {
		return nil
	}
	values := make(map[string]string, len(macros))
	for name, v := range macros {
		values[milter.UnwrapMacroName(name)] = v
	}
	if err := s.write(&codec.DefineMacro{Context: command, Macros: values}, false); err != nil {
		return fmt.Errorf("milter: send macros: %w", err)
	}
	return nil
}

func (s *Session) readAction(skipOk bool) (*Action, error) {
	reply, err := s.next()
	if err != nil {
		return nil, fmt.Errorf("action read: %w", err)
	}
	act, err := actionOf(reply)
	if err != nil {
		return nil, fmt.Errorf("action read: %w", err)
	}
	if act.Type == ActionSkip && !skipOk {
		return nil, errors.New("action read: unexpected skip message received (can only be received after SMFIC_RCPT, SMFIC_HEADER, SMFIC_BODY when SMFIP_SKIP was negotiated)")
	}
	return act, nil
}

// exchange sends cmd and reads the reply unless noReply is negotiated.
func (s *Session) exchange(what string, cmd codec.Command, noReply milter.OptProtocol, skipOk bool) (*Action, error) {
	expectReply := noReply == 0 || !s.ProtocolOption(noReply)
	if err := s.write(cmd, expectReply); err != nil {
		return nil, s.errorOut(fmt.Errorf("milter: %s: %w", what, err))
	}
	if !expectReply {
		return actionContinue, nil
	}
	act, err := s.readAction(skipOk)
	if err != nil {
		return nil, s.errorOut(fmt.Errorf("milter: %s: %w", what, err))
	}
	if act.Type == ActionSkip {
		s.skip = true
		return actionContinue, nil
	}
	return act, nil
}

// Connect sends the connection information to the milter.
//
// It should be called once per milter session (from Session to Close).
// Exception: After you called Reset you need to call Connect again.
func (s *Session) Connect(hostname string, family milter.ProtoFamily, port uint16, addr string) (*Action, error) {
	if s.state != stateNegotiated {
		return nil, s.errorOut(fmt.Errorf("milter: connect: in wrong state %d", s.state))
	}
	s.skip = false
	s.state = stateConnectCalled

	if err := s.sendMacros(wire.CodeConn); err != nil {
		return nil, s.errorOut(err)
	}
	if s.ProtocolOption(milter.OptNoConnect) {
		return actionContinue, nil
	}

	var netAddr net.Addr
	switch family {
	case milter.FamilyInet, milter.FamilyInet6:
		ip := net.ParseIP(addr)
		if ip == nil {
			return nil, s.errorOut(fmt.Errorf("milter: connect: invalid IP address %q", addr))
		}
		netAddr = &net.TCPAddr{IP: ip, Port: int(port)}
	case milter.FamilyUnix:
		netAddr = &net.UnixAddr{Name: addr, Net: "unix"}
	case milter.FamilyUnknown:
	default:
		return nil, s.errorOut(fmt.Errorf("milter: connect: %w: %c", milter.ErrUnknownSocketFamily, family))
	}
	act, err := s.exchange("connect", &codec.Connect{Host: hostname, Addr: netAddr}, milter.OptNoConnReply, false)
	if err != nil {
		return nil, err
	}
	if act.Type == ActionDiscard {
		milter.LogWarning("Connect got a discard action, ignoring it")
		act = actionContinue
	}
	return act, nil
}

// Helo sends the HELO hostname to the milter.
//
// It should be called once per milter session (from Client.Session to Close).
func (s *Session) Helo(helo string) (*Action, error) {
	if s.state != stateConnectCalled && s.state != stateHeloCalled {
		return nil, s.errorOut(fmt.Errorf("milter: helo: in wrong state %d", s.state))
	}
	s.skip = false
	s.state = stateHeloCalled

	if err := s.sendMacros(wire.CodeHelo); err != nil {
		return nil, s.errorOut(err)
	}
	// synthesise a "go on" reply when the milter does not want this event
	if s.ProtocolOption(milter.OptNoHelo) {
		return actionContinue, nil
	}
	act, err := s.exchange("helo", &codec.Helo{FQDN: helo}, milter.OptNoHeloReply, false)
	if err != nil {
		return nil, err
	}
	if act.Type == ActionDiscard {
		milter.LogWarning("Helo got a discard action, ignoring it")
		act = actionContinue
	}
	return act, nil
}

func addressArgs(esmtpArgs string) []string {
	if esmtpArgs == "" {
		return nil
	}
	return []string{esmtpArgs}
}

// Mail sends the sender (with optional esmtpArgs) to the milter.
// The domain of sender gets converted to its IDNA ASCII form.
func (s *Session) Mail(sender string, esmtpArgs string) (*Action, error) {
	if s.state != stateHeloCalled {
		return nil, s.errorOut(fmt.Errorf("milter: mail: in wrong state %d", s.state))
	}
	s.skip = false
	s.state = stateMailCalled

	if err := s.sendMacros(wire.CodeMail); err != nil {
		return nil, s.errorOut(err)
	}
	if s.ProtocolOption(milter.OptNoMailFrom) {
		return actionContinue, nil
	}
	cmd := &codec.EnvelopeFrom{Address: milterutil.AddAngle(milterutil.ASCIIAddress(sender)), Parameters: addressArgs(esmtpArgs)}
	return s.exchange("mail", cmd, milter.OptNoMailReply, false)
}

// Rcpt sends the RCPT TO rcpt (with optional esmtpArgs) to the milter.
// If s.ProtocolOption(OptRcptRej) is true the milter wants rejected recipients.
// The default is to only send valid recipients to the milter.
func (s *Session) Rcpt(rcpt string, esmtpArgs string) (*Action, error) {
	if s.state != stateMailCalled && s.state != stateRcptCalled {
		return nil, s.errorOut(fmt.Errorf("milter: rcpt: in wrong state %d", s.state))
	}
	if s.skip {
		return actionContinue, nil
	}
	s.state = stateRcptCalled

	if err := s.sendMacros(wire.CodeRcpt); err != nil {
		return nil, s.errorOut(err)
	}
	if s.ProtocolOption(milter.OptNoRcptTo) {
		return actionContinue, nil
	}
	cmd := &codec.EnvelopeRecipient{Address: milterutil.AddAngle(milterutil.ASCIIAddress(rcpt)), Parameters: addressArgs(esmtpArgs)}
	return s.exchange("rcpt", cmd, milter.OptNoRcptReply, s.ProtocolOption(milter.OptSkip))
}

// DataStart sends the start of the DATA command to the milter.
// [Session.Header] calls it automatically, but you should normally call it explicitly.
//
// When your MTA can handle multiple milters in a chain, DataStart is the last event that is called individually for each milter in the chain.
// After DataStart you need to call the HeaderField/Header and BodyChunk/End/Body calls for the whole message serially to each milter.
// The first milter may alter the message and the next milter should receive the altered message, not the original message.
func (s *Session) DataStart() (*Action, error) {
	if s.state != stateRcptCalled {
		return nil, s.errorOut(fmt.Errorf("milter: data: in wrong state %d", s.state))
	}
	s.skip = false
	s.state = stateDataCalled

	if s.version > 3 {
		if err := s.sendMacros(wire.CodeData); err != nil {
			return nil, s.errorOut(err)
		}
	}
	if s.ProtocolOption(milter.OptNoData) {
		return actionContinue, nil
	}
	return s.exchange("data", &codec.Data{}, milter.OptNoDataReply, false)
}

func trimLastLineBreak(in string) string {
	l := len(in)
	if l > 2 && in[l-2:] == "\r\n" {
		return in[:l-2]
	}
	if l > 1 && (in[l-1] == '\n' || in[l-1] == '\r') {
		return in[:l-1]
	}
	return in
}

// HeaderField sends a single header field to the milter.
//
// value should be the original field value without any unfolding applied.
// It may contain the last CR LF that is the end marker of this header.
// [Session.HeaderEnd] must be called after the last field.
//
// macros only get sent when the milter wants header values, and it did not send a skip response.
// Thus, the macros you send here should be relevant to this header only.
func (s *Session) HeaderField(key, value string, macros map[milter.MacroName]string) (*Action, error) {
	if s.state > stateHeaderFieldCalled || s.state < stateDataCalled {
		return nil, s.errorOut(fmt.Errorf("milter: header field: in wrong state %d", s.state))
	}
	if s.skip {
		return actionContinue, nil
	}
	s.state = stateHeaderFieldCalled

	if s.ProtocolOption(milter.OptNoHeaders) {
		return actionContinue, nil
	}
	if err := s.sendCmdMacros(wire.CodeHeader, macros); err != nil {
		return nil, s.errorOut(err)
	}
	cmd := &codec.Header{Name: key, Value: trimLastLineBreak(value)}
	return s.exchange("header field", cmd, milter.OptNoHeaderReply, s.ProtocolOption(milter.OptSkip))
}

// HeaderEnd sends the EOH (End-Of-Header) message to the milter.
//
// No HeaderField calls are allowed after this point.
func (s *Session) HeaderEnd() (*Action, error) {
	if s.state > stateHeaderFieldCalled || s.state < stateDataCalled {
		return nil, s.errorOut(fmt.Errorf("milter: header end: in wrong state %d", s.state))
	}
	s.skip = false
	s.state = stateHeaderEndCalled

	if err := s.sendMacros(wire.CodeEOH); err != nil {
		return nil, s.errorOut(err)
	}
	if s.ProtocolOption(milter.OptNoEOH) {
		return actionContinue, nil
	}
	return s.exchange("header end", &codec.EndOfHeader{}, milter.OptNoEOHReply, false)
}

// Header sends each field of hdr followed by EOH.
//
// You may call HeaderField before calling this method but since it calls HeaderEnd afterward
// you should call BodyChunk or Body next.
func (s *Session) Header(hdr textproto.Header) (*Action, error) {
	if s.state < stateRcptCalled || s.state > stateHeaderFieldCalled {
		return nil, s.errorOut(fmt.Errorf("milter: header: in wrong state %d", s.state))
	}
	if s.state == stateRcptCalled {
		act, err := s.DataStart()
		if err != nil || act.Type != ActionContinue {
			return act, err
		}
	}
	if !s.ProtocolOption(milter.OptNoHeaders) && !s.skip {
		for f := hdr.Fields(); f.Next(); {
			act, err := s.HeaderField(f.Key(), f.Value(), nil)
			if err != nil || act.Type != ActionContinue {
				return act, err
			}
			// HeaderField can set s.skip
			if s.skip {
				break
			}
		}
	}
	return s.HeaderEnd()
}

// BodyChunk sends a single body chunk to the milter.
//
// A chunk must not be bigger than the used data size (at most 65535 bytes).
// BodyChunk can be called even after the milter responded with a skip.
// This method translates a skip response into a continue response,
// but after a skip response [Session.Skip] returns true.
func (s *Session) BodyChunk(chunk []byte) (*Action, error) {
	if s.state < stateHeaderEndCalled || s.state > stateBodyChunkCalled {
		return nil, s.errorOut(fmt.Errorf("milter: body: in wrong state %d", s.state))
	}
	s.state = stateBodyChunkCalled

	if s.skip || s.ProtocolOption(milter.OptNoBody) {
		return actionContinue, nil
	}
	if len(chunk) > s.maxBodySize {
		return nil, s.errorOut(fmt.Errorf("milter: body: too big body chunk: %d > %d", len(chunk), s.maxBodySize))
	}
	return s.exchange("body chunk", &codec.BodyChunk{Chunk: chunk}, milter.OptNoBodyReply, s.ProtocolOption(milter.OptSkip))
}

// Body calls BodyChunk repeatedly to transmit the entire body from r and then calls End.
//
// You may first call BodyChunk and then call Body but after Body the End method gets called automatically.
func (s *Session) Body(r io.Reader) ([]ModifyAction, *Action, error) {
	if s.state < stateHeaderEndCalled || s.state > stateBodyChunkCalled {
		return nil, nil, s.errorOut(fmt.Errorf("milter: body: in wrong state %d", s.state))
	}
	s.state = stateBodyChunkCalled
	if !s.ProtocolOption(milter.OptNoBody) && !s.skip {
		chunks := milterutil.NewChunkReader(r, s.maxBodySize)
		for {
			chunk, err := chunks.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, nil, s.errorOut(fmt.Errorf("milter: body: %w", err))
			}
			act, err := s.BodyChunk(chunk)
			if err != nil {
				return nil, nil, err
			}
			if act.Type != ActionContinue {
				return nil, act, nil
			}
			// BodyChunk can set s.skip
			if s.skip {
				break
			}
		}
	}
	return s.End()
}

// End sends the EOB message and resets session back to the state before Mail
// call. The same Session can be used to check another message arrived
// within the same SMTP connection (Helo and Connect information is preserved).
//
// The returned modifications are in the order the milter sent them.
func (s *Session) End() ([]ModifyAction, *Action, error) {
	if s.state != stateBodyChunkCalled && s.state != stateHeaderEndCalled {
		return nil, nil, s.errorOut(fmt.Errorf("milter: end: in wrong state %d", s.state))
	}
	s.state = stateHeloCalled
	s.skip = false
	if err := s.sendMacros(wire.CodeEOB); err != nil {
		return nil, nil, s.errorOut(err)
	}
	if err := s.write(&codec.EndOfMessage{}, true); err != nil {
		return nil, nil, s.errorOut(fmt.Errorf("milter: end: %w", err))
	}
	var modifyActs []ModifyAction
	for {
		reply, err := s.next()
		if err != nil {
			return nil, nil, s.errorOut(fmt.Errorf("milter: end: %w", err))
		}
		if modifyAct, ok := modifyActionOf(reply); ok {
			modifyActs = append(modifyActs, modifyAct)
			continue
		}
		act, err := actionOf(reply)
		if err != nil || act.Type == ActionSkip {
			return nil, nil, s.errorOut(fmt.Errorf("milter: end: unexpected reply %T", reply))
		}
		return modifyActs, act, nil
	}
}

// Unknown sends an unknown command to the milter. This can happen at any time in the connection,
// although you should probably not call it after DataStart until End was called.
//
// macros only get sent to the milter when it wants unknown commands.
func (s *Session) Unknown(cmd string, macros map[milter.MacroName]string) (*Action, error) {
	if s.state < stateNegotiated || s.state == stateError {
		return nil, s.errorOut(fmt.Errorf("milter: unknown: in wrong state %d", s.state))
	}
	if s.ProtocolOption(milter.OptNoUnknown) {
		return actionContinue, nil
	}
	if err := s.sendCmdMacros(wire.CodeUnknown, macros); err != nil {
		return nil, s.errorOut(err)
	}
	return s.exchange("unknown", &codec.Unknown{Command: cmd}, milter.OptNoUnknownReply, false)
}

// Abort sends Abort to the milter. You can call Mail in this same session after a successful call to Abort.
//
// This should be called for a premature but valid end of the SMTP session.
// That is when the SMTP client issues a RSET or QUIT command after at least Helo was called.
func (s *Session) Abort() error {
	if s.state == stateError || s.state < stateHeloCalled {
		return s.errorOut(fmt.Errorf("milter: abort: in wrong state %d", s.state))
	}
	s.state = stateHeloCalled
	s.skip = false
	if err := s.write(&codec.Abort{}, false); err != nil {
		return s.errorOut(fmt.Errorf("milter: abort: %w", err))
	}
	return nil
}

// Reset sends QUIT_NC to the milter so this session can be used for another SMTP connection.
// macros replaces the macros of the session.
//
// Not all milters can handle QUIT_NC. sendmail and Postfix never re-use a milter connection.
func (s *Session) Reset(macros milter.Macros) error {
	if s.state == stateError || s.state == stateClosed {
		return s.errorOut(fmt.Errorf("milter: reset: in wrong state %d", s.state))
	}
	s.state = stateNegotiated
	s.skip = false
	if err := s.write(&codec.QuitNewConnection{}, false); err != nil {
		return s.errorOut(fmt.Errorf("milter: reset: %w", err))
	}
	s.macros = macros
	return nil
}

// Close sends QUIT to the milter and closes the connection.
//
// You can call Close at any time in the session, and you can call Close multiple times without harm.
func (s *Session) Close() error {
	if s.state == stateClosed || s.state == stateError {
		return s.closedErr
	}
	s.state = stateClosed

	if err := s.write(&codec.Quit{}, false); err != nil {
		s.closedErr = fmt.Errorf("milter: close: quit: %w", err)
	}
	// the writer drains the QUIT packet before it finishes
	s.loop.Invoke(s.agent.Shutdown)
	<-s.done
	return s.closedErr
}
