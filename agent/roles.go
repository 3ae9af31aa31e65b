package agent

import (
	"github.com/d--j/go-milter-agent/codec"
	"github.com/d--j/go-milter-agent/reactor"
)

// CommandAgent is the filter side of a session: it decodes commands and sends replies.
type CommandAgent struct {
	*Agent
	Decoder *codec.CommandDecoder
	Encoder *codec.ReplyEncoder
}

// NewCommandAgent returns a CommandAgent that reads and writes ch (ch may be nil for a decoder-only agent).
// handler gets called for every decoded command.
func NewCommandAgent(ch reactor.Channel, loop reactor.Reactor, handler codec.CommandHandler) *CommandAgent {
	decoder := codec.NewCommandDecoder(handler)
	encoder := codec.NewReplyEncoder()
	var r *Reader
	var w *Writer
	if ch != nil {
		r, w = NewReader(ch), NewWriter(ch)
	}
	a := &CommandAgent{
		Agent:   New(r, w, decoder, encoder),
		Decoder: decoder,
		Encoder: encoder,
	}
	a.SetLoop(loop)
	return a
}

// SendReply encodes reply and writes it.
func (a *CommandAgent) SendReply(reply codec.Reply) error {
	packet, err := a.Encoder.Encode(reply)
	if err != nil {
		return err
	}
	return a.WritePacket(packet)
}

// ReplyAgent is the MTA side of a session: it sends commands and decodes replies.
type ReplyAgent struct {
	*Agent
	Decoder *codec.ReplyDecoder
	Encoder *codec.CommandEncoder
}

// NewReplyAgent returns a ReplyAgent that reads and writes ch (ch may be nil for a decoder-only agent).
// handler gets called for every decoded reply.
func NewReplyAgent(ch reactor.Channel, loop reactor.Reactor, handler codec.ReplyHandler) *ReplyAgent {
	decoder := codec.NewReplyDecoder(handler)
	encoder := codec.NewCommandEncoder()
	var r *Reader
	var w *Writer
	if ch != nil {
		r, w = NewReader(ch), NewWriter(ch)
	}
	a := &ReplyAgent{
		Agent:   New(r, w, decoder, encoder),
		Decoder: decoder,
		Encoder: encoder,
	}
	a.SetLoop(loop)
	return a
}

// SendCommand encodes cmd and writes it.
func (a *ReplyAgent) SendCommand(cmd codec.Command) error {
	packet, err := a.Encoder.Encode(cmd)
	if err != nil {
		return err
	}
	return a.WritePacket(packet)
}
