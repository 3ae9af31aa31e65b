package main

import (
	"log/slog"
	"sync/atomic"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/server"
)

var connections atomic.Uint64

// logMilter logs every event and changed macro values. It never changes the message.
type logMilter struct {
	logger      *slog.Logger
	macroValues map[milter.MacroName]string
}

func newLogMilter(logger *slog.Logger) *logMilter {
	return &logMilter{logger: logger.With("id", connections.Add(1))}
}

func (l *logMilter) Connect(host string, family string, port uint16, addr string, m *server.Modifier) (*server.Response, error) {
	l.logger.Info("CONNECT", "host", host, "family", family, "port", port, "addr", addr)
	l.outputChangedMacros(m)
	return server.RespContinue, nil
}

func (l *logMilter) Helo(name string, m *server.Modifier) (*server.Response, error) {
	l.logger.Info("HELO", "name", name)
	l.outputChangedMacros(m)
	return server.RespContinue, nil
}

func (l *logMilter) MailFrom(from string, esmtpArgs string, m *server.Modifier) (*server.Response, error) {
	l.logger.Info("MAIL FROM", "from", from, "args", esmtpArgs)
	l.outputChangedMacros(m)
	return server.RespContinue, nil
}

func (l *logMilter) RcptTo(rcptTo string, esmtpArgs string, m *server.Modifier) (*server.Response, error) {
	l.logger.Info("RCPT TO", "rcpt", rcptTo, "args", esmtpArgs)
	l.outputChangedMacros(m)
	return server.RespContinue, nil
}

func (l *logMilter) Data(m *server.Modifier) (*server.Response, error) {
	l.logger.Info("DATA")
	l.outputChangedMacros(m)
	return server.RespContinue, nil
}

func (l *logMilter) Header(name string, value string, m *server.Modifier) (*server.Response, error) {
	l.logger.Info("HEADER", "name", name, "value", value)
	l.outputChangedMacros(m)
	return server.RespContinue, nil
}

func (l *logMilter) Headers(m *server.Modifier) (*server.Response, error) {
	l.logger.Info("EOH")
	l.outputChangedMacros(m)
	return server.RespContinue, nil
}

func (l *logMilter) BodyChunk(chunk []byte, m *server.Modifier) (*server.Response, error) {
	l.logger.Info("BODY CHUNK", "size", len(chunk))
	l.outputChangedMacros(m)
	return server.RespContinue, nil
}

func (l *logMilter) EndOfMessage(m *server.Modifier) (*server.Response, error) {
	l.logger.Info("EOM")
	l.outputChangedMacros(m)
	return server.RespAccept, nil
}

func (l *logMilter) Abort(m *server.Modifier) error {
	l.logger.Info("ABORT")
	l.outputChangedMacros(m)
	return nil
}

func (l *logMilter) Unknown(cmd string, m *server.Modifier) (*server.Response, error) {
	l.logger.Info("UNKNOWN", "command", cmd)
	l.outputChangedMacros(m)
	return server.RespContinue, nil
}

func (l *logMilter) Cleanup() {
	l.logger.Info("cleanup")
	l.macroValues = nil
}

var loggedMacros = []milter.MacroName{
	milter.MacroMTAVersion,
	milter.MacroMTAFQDN,
	milter.MacroDaemonName,
	milter.MacroDaemonAddr,
	milter.MacroDaemonPort,
	milter.MacroIfName,
	milter.MacroIfAddr,
	milter.MacroTlsVersion,
	milter.MacroCipher,
	milter.MacroCipherBits,
	milter.MacroCertSubject,
	milter.MacroCertIssuer,
	milter.MacroClientAddr,
	milter.MacroClientPort,
	milter.MacroClientName,
	milter.MacroClientPTR,
	milter.MacroClientConnections,
	milter.MacroQueueId,
	milter.MacroAuthType,
	milter.MacroAuthAuthen,
	milter.MacroAuthSsf,
	milter.MacroAuthAuthor,
	milter.MacroMailMailer,
	milter.MacroMailHost,
	milter.MacroMailAddr,
	milter.MacroRcptMailer,
	milter.MacroRcptHost,
	milter.MacroRcptAddr,
	milter.MacroRFC1413AuthInfo,
	milter.MacroHopCount,
	milter.MacroSenderHostName,
	milter.MacroProtocolUsed,
	milter.MacroMTAPid,
	milter.MacroDateRFC822Origin,
	milter.MacroDateRFC822Current,
	milter.MacroDateANSICCurrent,
	milter.MacroDateSecondsCurrent,
}

func (l *logMilter) outputChangedMacros(m *server.Modifier) {
	if l.macroValues == nil {
		l.macroValues = make(map[milter.MacroName]string)
	}
	for _, name := range loggedMacros {
		oldValue := l.macroValues[name]
		newValue := m.Macros.Get(name)
		if oldValue != newValue {
			if oldValue != "" {
				l.logger.Info("  macro changed", "name", name, "old", oldValue, "value", newValue)
			} else {
				l.logger.Info("  macro", "name", name, "value", newValue)
			}
		}
		l.macroValues[name] = newValue
	}
}

var _ server.Milter = (*logMilter)(nil)
