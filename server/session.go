package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/agent"
	"github.com/d--j/go-milter-agent/codec"
	"github.com/d--j/go-milter-agent/milterutil"
	"github.com/d--j/go-milter-agent/reactor"
	"github.com/d--j/go-milter-agent/wire"
)

var errCloseSession = errors.New("stop current milter processing")

// session keeps the state of one MTA connection. All methods run on the loop goroutine.
type session struct {
	server     *Server
	conn       net.Conn
	loop       *reactor.Loop
	agent      *agent.CommandAgent
	negotiated bool
	opt        milter.Option
	maxData    milter.DataSize
	macros     *stageMacros
	backend    Milter
	closing    bool
	lastInput  time.Time
}

func newSession(s *Server, conn net.Conn) *session {
	return &session{
		server: s,
		conn:   conn,
		loop:   reactor.NewLoop(),
		macros: newStageMacros(),
	}
}

// run drives the session until the agent finished.
func (m *session) run() {
	ch := reactor.NewConnChannel(m.conn, reactor.WithWriteTimeout(m.server.options.writeTimeout))
	defer func() {
		if m.backend != nil {
			m.backend.Cleanup()
			m.backend = nil
		}
		// the channel closes the connection once the last replies were written or the write timed out
		_ = ch.CloseRead()
		_ = ch.CloseWrite()
	}()

	m.agent = agent.NewCommandAgent(ch, m.loop, m.handle)
	m.agent.SetEventHandler(m.onEvent)
	if err := m.agent.Start(); err != nil {
		milter.LogWarning("Error starting session: %v", err)
		return
	}
	m.lastInput = time.Now()
	if timeout := m.server.options.readTimeout; timeout > 0 {
		m.loop.AddTimer(timeout/4, func() bool {
			if time.Since(m.lastInput) < timeout {
				return true
			}
			milter.LogWarning("session %d: no command in %s, closing", m.agent.Tag(), timeout)
			m.close()
			return false
		})
	}
	_ = m.loop.RunUntil(context.Background(), m.agent.Finished)
}

func (m *session) onEvent(ev agent.Event) {
	if ev.Kind == agent.EventError && !m.closing {
		milter.LogWarning("Error reading milter command: %v", ev.Err)
	}
}

func (m *session) close() {
	m.closing = true
	m.agent.Shutdown()
}

func (m *session) handle(cmd codec.Command) error {
	if m.closing {
		return nil
	}
	m.lastInput = time.Now()
	if !m.negotiated {
		neg, ok := cmd.(*codec.Negotiate)
		if !ok {
			milter.LogWarning("Error negotiating: unexpected %s command", cmd.Code())
			m.close()
			return nil
		}
		reply, err := m.negotiate(neg.Option)
		if err != nil {
			milter.LogWarning("Error negotiating: %v", err)
			m.close()
			return nil
		}
		m.negotiated = true
		m.backend = m.newBackend()
		m.send(reply)
		return nil
	}

	resp, err := m.process(cmd)
	if err != nil {
		if !errors.Is(err, errCloseSession) {
			milter.LogWarning("Error performing milter command: %v", err)
			if resp != nil && !m.skipResponse(cmd.Code()) {
				m.send(resp.reply)
			}
		}
		m.close()
		return nil
	}
	// ignore empty responses or responses we indicated to not send
	if resp == nil || m.skipResponse(cmd.Code()) {
		return nil
	}
	m.send(resp.reply)
	if !resp.Continue() && !m.closing {
		m.backend.Cleanup()
		m.backend = m.newBackend()
		m.macros.clearFrom(milter.StageMail)
	}
	return nil
}

func (m *session) send(reply codec.Reply) {
	if err := m.agent.SendReply(reply); err != nil {
		milter.LogWarning("Error writing packet: %v", err)
		m.close()
	}
}

// negotiate intersects the offer of the MTA with the configuration of the server.
func (m *session) negotiate(mta milter.Option) (*codec.NegotiateReply, error) {
	o := m.server.options
	offered := mta.Step.DataSize()
	mta.Step = mta.Step.Public()
	filter := milter.NewOption(min(mta.Version, o.maxVersion), o.actions, o.protocol)

	var opt milter.Option
	var maxData milter.DataSize
	if o.negotiationCallback != nil {
		var err error
		if opt, maxData, err = o.negotiationCallback(mta, filter, offered); err != nil {
			return nil, err
		}
	} else {
		if mta.Version < 2 {
			return nil, fmt.Errorf("milter: negotiate: unsupported protocol version: %d", mta.Version)
		}
		opt = mta
		opt.Combine(filter)
		if opt.Action != filter.Action {
			return nil, fmt.Errorf("milter: negotiate: MTA does not offer required actions. offered: %s requested: %s", mta.Action, filter.Action)
		}
		if opt.Step != filter.Step {
			return nil, fmt.Errorf("milter: negotiate: MTA does not offer required protocol options. offered: %s requested: %s", mta.Step, filter.Step)
		}
		maxData = offered
	}
	if opt.Version < 2 || opt.Version > milter.MaxVersion {
		return nil, fmt.Errorf("milter: negotiate: unsupported protocol version: %d", opt.Version)
	}
	if maxData != milter.DataSize64K && maxData != milter.DataSize256K && maxData != milter.DataSize1M {
		maxData = milter.DataSize64K
	}
	m.maxData = maxData
	if o.usedMaxData != 0 {
		m.maxData = o.usedMaxData
	}

	reply := &codec.NegotiateReply{}
	if o.macros.Len() > 0 {
		if mta.HasAction(milter.OptSetMacros) {
			opt.Action |= milter.OptSetMacros
			reply.Macros = o.macros.Copy()
		} else {
			milter.LogWarning("milter could not send the needed macros since MTA does not support this")
		}
	}
	m.opt = opt
	reply.Option = opt
	reply.Option.Step = opt.Step.WithDataSize(maxData)
	milter.Logger().Debug("milter: negotiated", "tag", m.agent.Tag(), "option", opt, "max_data", maxData)
	return reply, nil
}

func (m *session) newBackend() Milter {
	return m.server.options.newMilter(m.opt, m.maxData)
}

func (m *session) modifier(readOnly bool) *Modifier {
	return &Modifier{
		Macros:      macroView{macros: m.macros},
		send:        m.agent.SendReply,
		progress:    m.progress,
		actions:     m.opt.Action,
		maxDataSize: m.maxData,
		readOnly:    readOnly,
	}
}

// progress sends a progress reply right away, the loop is busy in a callback.
func (m *session) progress() error {
	if err := m.agent.SendReply(&codec.Progress{}); err != nil {
		return err
	}
	return m.agent.Writer().Drain()
}

// process dispatches a command of a negotiated session to the backend.
func (m *session) process(cmd codec.Command) (*Response, error) {
	switch c := cmd.(type) {
	case *codec.Negotiate:
		return nil, fmt.Errorf("milter: negotiate: can only be called once in a connection")

	case *codec.Connect:
		m.macros.clearFrom(milter.StageHelo)
		var port uint16
		var addr string
		switch a := c.Addr.(type) {
		case *net.TCPAddr:
			port, addr = uint16(a.Port), a.IP.String()
		case *net.UnixAddr:
			addr = a.Name
		}
		return m.backend.Connect(c.Host, c.Family().String(), port, addr, m.modifier(true))

	case *codec.Helo:
		m.macros.clearFrom(milter.StageMail)
		return m.backend.Helo(c.FQDN, m.modifier(true))

	case *codec.EnvelopeFrom:
		m.macros.clearFrom(milter.StageRcpt)
		return m.backend.MailFrom(milterutil.RemoveAngle(c.Address), strings.Join(c.Parameters, " "), m.modifier(true))

	case *codec.EnvelopeRecipient:
		m.macros.clearFrom(milter.StageData)
		return m.backend.RcptTo(milterutil.RemoveAngle(c.Address), strings.Join(c.Parameters, " "), m.modifier(true))

	case *codec.Data:
		m.macros.clearFrom(milter.StageEOH)
		return m.backend.Data(m.modifier(true))

	case *codec.Header:
		resp, err := m.backend.Header(c.Name, c.Value, m.modifier(true))
		m.macros.clearFrom(milter.StageEndMarker)
		return resp, err

	case *codec.EndOfHeader:
		m.macros.clearFrom(milter.StageEOM)
		return m.backend.Headers(m.modifier(true))

	case *codec.BodyChunk:
		resp, err := m.backend.BodyChunk(c.Chunk, m.modifier(true))
		m.macros.clearFrom(milter.StageEndMarker)
		return resp, err

	case *codec.EndOfMessage:
		if len(c.Chunk) > 0 {
			resp, err := m.backend.BodyChunk(c.Chunk, m.modifier(true))
			if err != nil || (resp != nil && !resp.Continue()) {
				return resp, err
			}
		}
		return m.backend.EndOfMessage(m.modifier(false))

	case *codec.Unknown:
		resp, err := m.backend.Unknown(c.Command, m.modifier(true))
		m.macros.clearFrom(milter.StageEndMarker)
		return resp, err

	case *codec.DefineMacro:
		stage, ok := milter.StageForCommand(c.Context)
		if !ok {
			// header, body and unknown macros only live for the next command
			stage = milter.StageEndMarker
		}
		m.macros.clearFrom(stage)
		m.macros.set(stage, c.Macros)
		return nil, nil

	case *codec.Abort:
		err := m.backend.Abort(m.modifier(true))
		m.macros.clearFrom(milter.StageMail)
		return nil, err

	case *codec.QuitNewConnection:
		m.backend.Cleanup()
		m.macros.clearFrom(milter.StageConnect)
		m.backend = m.newBackend()
		return nil, nil

	case *codec.Quit:
		m.backend.Cleanup()
		m.backend = nil
		return nil, errCloseSession
	}
	milter.LogWarning("Unrecognized command code: %s", cmd.Code())
	return nil, errCloseSession
}

func (m *session) skipResponse(code wire.Code) bool {
	var step milter.OptProtocol
	switch code {
	case wire.CodeConn:
		step = milter.OptNoConnReply
	case wire.CodeHelo:
		step = milter.OptNoHeloReply
	case wire.CodeMail:
		step = milter.OptNoMailReply
	case wire.CodeRcpt:
		step = milter.OptNoRcptReply
	case wire.CodeData:
		step = milter.OptNoDataReply
	case wire.CodeUnknown:
		step = milter.OptNoUnknownReply
	case wire.CodeEOH:
		step = milter.OptNoEOHReply
	case wire.CodeBody:
		step = milter.OptNoBodyReply
	case wire.CodeHeader:
		step = milter.OptNoHeaderReply
	default:
		return false
	}
	return m.opt.HasStep(step)
}
