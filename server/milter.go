package server

// Milter is the interface for milter callback handlers.
// Embed [NoOpMilter] in your own implementation to only implement the methods you need.
// One Milter handles one SMTP message. When the MTA sends multiple messages over one connection
// the [Server] creates a new Milter for each message.
type Milter interface {
	// Connect is called to provide SMTP connection data for the incoming message.
	// Suppress with [milter.OptNoConnect].
	//
	// family is one of "unknown", "unix", "tcp4" or "tcp6". port is 0 for "unknown" and "unix".
	//
	// If this method returns an error the error will be logged and the connection will be closed.
	// If there is a [Response] (and we did not negotiate [milter.OptNoConnReply]) this response will be sent before closing the connection.
	Connect(host string, family string, port uint16, addr string, m *Modifier) (*Response, error)

	// Helo is called to process any HELO/EHLO related filters. Suppress with [milter.OptNoHelo].
	Helo(name string, m *Modifier) (*Response, error)

	// MailFrom is called to process filters on the envelope FROM address. Suppress with [milter.OptNoMailFrom].
	// esmtpArgs are the ESMTP parameters separated by a space.
	MailFrom(from string, esmtpArgs string, m *Modifier) (*Response, error)

	// RcptTo is called to process filters on an envelope TO address. Suppress with [milter.OptNoRcptTo].
	RcptTo(rcptTo string, esmtpArgs string, m *Modifier) (*Response, error)

	// Data is called at the beginning of the DATA command (after all RCPT TO commands). Suppress with [milter.OptNoData].
	Data(m *Modifier) (*Response, error)

	// Header is called once for each header of the message. Suppress with [milter.OptNoHeaders].
	Header(name string, value string, m *Modifier) (*Response, error)

	// Headers gets called when all message headers have been processed. Suppress with [milter.OptNoEOH].
	Headers(m *Modifier) (*Response, error)

	// BodyChunk is called for each chunk of the message body. Suppress with [milter.OptNoBody].
	// If you return [RespSkip] the MTA stops sending body chunks, but older MTAs do not support this.
	BodyChunk(chunk []byte, m *Modifier) (*Response, error)

	// EndOfMessage is called at the end of each message. All modifications have to be done here.
	//
	// If this method returns an error the error will be logged and the connection will be closed.
	// If there is a [Response] this response will be sent before closing the connection.
	EndOfMessage(m *Modifier) (*Response, error)

	// Abort is called when the current message has been aborted. Message data should be reset to the
	// state prior to the [Milter.MailFrom] callback, connection data should be preserved.
	// [Milter.Cleanup] is not called before or after Abort.
	Abort(m *Modifier) error

	// Unknown is called when the MTA got an unknown command in the SMTP connection.
	Unknown(cmd string, m *Modifier) (*Response, error)

	// Cleanup always gets called when the Milter is about to be discarded.
	Cleanup()
}

// NoOpMilter is a [Milter] that does nothing and accepts every message.
type NoOpMilter struct{}

var _ Milter = NoOpMilter{}

func (NoOpMilter) Connect(string, string, uint16, string, *Modifier) (*Response, error) {
	return RespContinue, nil
}

func (NoOpMilter) Helo(string, *Modifier) (*Response, error) {
	return RespContinue, nil
}

func (NoOpMilter) MailFrom(string, string, *Modifier) (*Response, error) {
	return RespContinue, nil
}

func (NoOpMilter) RcptTo(string, string, *Modifier) (*Response, error) {
	return RespContinue, nil
}

func (NoOpMilter) Data(*Modifier) (*Response, error) {
	return RespContinue, nil
}

func (NoOpMilter) Header(string, string, *Modifier) (*Response, error) {
	return RespContinue, nil
}

func (NoOpMilter) Headers(*Modifier) (*Response, error) {
	return RespContinue, nil
}

func (NoOpMilter) BodyChunk([]byte, *Modifier) (*Response, error) {
	return RespContinue, nil
}

func (NoOpMilter) EndOfMessage(*Modifier) (*Response, error) {
	return RespAccept, nil
}

func (NoOpMilter) Abort(*Modifier) error {
	return nil
}

func (NoOpMilter) Unknown(string, *Modifier) (*Response, error) {
	return RespContinue, nil
}

func (NoOpMilter) Cleanup() {}
