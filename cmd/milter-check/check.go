package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/client"
	"github.com/d--j/go-milter-agent/milterutil"
	"github.com/emersion/go-message/textproto"
)

type printer struct {
	w io.Writer
}

func (p printer) println(a ...any) {
	_, _ = fmt.Fprintln(p.w, a...)
}

func (p printer) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(p.w, format+"\n", a...)
}

func (p printer) action(prefix string, act *client.Action) {
	switch act.Type {
	case client.ActionAccept:
		p.println(prefix, "accept")
	case client.ActionReject:
		p.println(prefix, "reject")
	case client.ActionDiscard:
		p.println(prefix, "discard")
	case client.ActionTempFail:
		p.println(prefix, "temp. fail")
	case client.ActionRejectWithCode:
		p.println(prefix, "reply code:", act.SMTPCode, act.SMTPReply)
	case client.ActionContinue:
		p.println(prefix, "continue")
	case client.ActionSkip:
		p.println(prefix, "skip")
	}
}

func (p printer) modifyAction(act client.ModifyAction) {
	switch act.Type {
	case client.ActionAddHeader:
		p.printf("add header: name %s, value %s", act.HeaderName, act.HeaderValue)
	case client.ActionInsertHeader:
		p.printf("insert header: at %d, name %s, value %s", act.HeaderIndex, act.HeaderName, act.HeaderValue)
	case client.ActionChangeFrom:
		p.printf("change from: %s %v", act.From, act.FromArgs)
	case client.ActionChangeHeader:
		p.printf("change header: at %d, name %s, value %s", act.HeaderIndex, act.HeaderName, act.HeaderValue)
	case client.ActionReplaceBody:
		p.println("replace body:", string(act.Body))
	case client.ActionAddRcpt:
		p.println("add rcpt:", act.Rcpt, act.RcptArgs)
	case client.ActionDelRcpt:
		p.println("del rcpt:", act.Rcpt)
	case client.ActionQuarantine:
		p.println("quarantine:", act.Reason)
	}
}

// check runs one SMTP transaction against the milter configured in cfg.
// The message gets read from in, the results get written to out.
func check(cfg *config, in io.Reader, out io.Writer) error {
	family, err := cfg.family()
	if err != nil {
		return err
	}
	p := printer{w: out}
	c := client.New(cfg.Network, cfg.Address,
		client.WithDialer(&net.Dialer{Timeout: cfg.Timeout}),
		client.WithReadTimeout(cfg.Timeout),
		client.WithWriteTimeout(cfg.Timeout),
		client.WithActions(milter.OptAction(cfg.Actions)),
		client.WithProtocols(milter.OptProtocol(cfg.Disabled)),
	)
	s, err := c.Session(cfg.macroBag())
	if err != nil {
		return err
	}
	defer func(s *client.Session) {
		_ = s.Close()
	}(s)
	p.printf("negotiated version %d, data size %d", s.Version(), s.DataSize())

	stop := func(prefix string, act *client.Action, err error) (bool, error) {
		if err != nil {
			return true, err
		}
		p.action(prefix, act)
		return act.StopProcessing() || act.Type == client.ActionDiscard || act.Type == client.ActionAccept, nil
	}

	start := time.Now()
	act, err := s.Connect(cfg.Hostname, family, cfg.Port, cfg.ConnAddr)
	if done, err := stop("CONNECT:", act, err); done {
		return err
	}
	act, err = s.Helo(cfg.Helo)
	if done, err := stop("HELO:", act, err); done {
		return err
	}
	act, err = s.Mail(cfg.From, "")
	if done, err := stop("MAIL:", act, err); done {
		return err
	}

	for _, rcpt := range cfg.Rcpt {
		act, err = s.Rcpt(rcpt, "")
		if err != nil {
			return err
		}
		switch act.Type {
		case client.ActionAccept:
			p.println("RCPT: accept recipient", rcpt)
		case client.ActionReject:
			p.println("RCPT: reject recipient", rcpt)
		case client.ActionDiscard:
			p.println("RCPT: discard")
			return nil
		case client.ActionTempFail:
			p.println("RCPT: temp. fail recipient", rcpt)
		case client.ActionRejectWithCode:
			p.println("RCPT: reply code reject recipient:", act.SMTPCode, act.SMTPReply, rcpt)
		case client.ActionContinue:
			p.println("RCPT: accept recipient (continue)", rcpt)
		case client.ActionSkip:
			p.println("RCPT: accept recipient (skip)", rcpt)
		}
	}

	act, err = s.DataStart()
	if done, err := stop("DATA:", act, err); done {
		return err
	}

	bufR := bufio.NewReader(milterutil.CrLfReader(in))
	hdr, err := textproto.ReadHeader(bufR)
	if err != nil {
		return fmt.Errorf("header parse: %w", err)
	}
	act, err = s.Header(hdr)
	if done, err := stop("HEADER:", act, err); done {
		return err
	}

	modifyActs, act, err := s.Body(bufR)
	if err != nil {
		return err
	}
	for _, act := range modifyActs {
		p.modifyAction(act)
	}
	p.action("EOB:", act)
	p.printf("done in %s", time.Since(start).Round(time.Millisecond))
	return nil
}
