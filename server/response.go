package server

import (
	"fmt"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/codec"
	"github.com/d--j/go-milter-agent/milterutil"
)

// Response is the verdict a [Milter] callback returns.
type Response struct {
	reply codec.Reply
}

// Reply returns the reply that gets sent to the MTA.
func (r *Response) Reply() codec.Reply {
	return r.reply
}

// Status returns the verdict class of r.
func (r *Response) Status() milter.Status {
	return codec.StatusOf(r.reply)
}

// Continue returns false if the MTA should stop sending events for this transaction, true otherwise.
// A [RespDiscard] Response returns false because the MTA ends sending events of the current
// SMTP transaction to this milter.
func (r *Response) Continue() bool {
	switch r.reply.(type) {
	case *codec.Accept, *codec.Discard, *codec.Reject, *codec.TemporaryFailure, *codec.ReplyCode:
		return false
	}
	return true
}

// String returns a logfmt compatible representation of r.
func (r *Response) String() string {
	switch rep := r.reply.(type) {
	case *codec.Continue:
		return "response=continue"
	case *codec.Accept:
		return "response=accept"
	case *codec.Discard:
		return "response=discard"
	case *codec.Reject:
		return "response=reject"
	case *codec.TemporaryFailure:
		return "response=temp_fail"
	case *codec.Skip:
		return "response=skip"
	case *codec.Progress:
		return "response=progress"
	case *codec.ReplyCode:
		action := "temp_fail"
		if rep.Code > 499 {
			action = "reject"
		}
		return fmt.Sprintf("response=reply_code action=%s code=%d extended=%q reason=%q", action, rep.Code, rep.Extended, rep.Message)
	}
	return fmt.Sprintf("response=unknown action=%s", r.reply.ActionCode())
}

// RejectWithCodeAndReason stops processing and tells the MTA the SMTP code and reason to send.
//
// smtpCode must be between 400 and 599, otherwise this function returns an error.
// See [milterutil.FormatReply] for the rules on the reason string.
func RejectWithCodeAndReason(smtpCode uint16, reason string) (*Response, error) {
	if smtpCode < 400 || smtpCode > 599 {
		return nil, fmt.Errorf("milter: invalid code %d", smtpCode)
	}
	text, err := milterutil.FormatReply(smtpCode, reason)
	if err != nil {
		return nil, err
	}
	reply, err := codec.ParseReplyCode(text)
	if err != nil {
		return nil, err
	}
	return &Response{reply: reply}, nil
}

// Standard responses without data.
var (
	// RespAccept signals to the MTA that the current transaction should be accepted.
	// No more events get sent to the milter after this response.
	RespAccept = &Response{reply: &codec.Accept{}}

	// RespContinue signals to the MTA that the current transaction should continue.
	RespContinue = &Response{reply: &codec.Continue{}}

	// RespDiscard signals to the MTA that the current transaction should be silently discarded.
	// No more events get sent to the milter after this response.
	RespDiscard = &Response{reply: &codec.Discard{}}

	// RespReject signals to the MTA that the current transaction should be rejected with a hard rejection.
	// No more events get sent to the milter after this response.
	RespReject = &Response{reply: &codec.Reject{}}

	// RespTempFail signals to the MTA that the current transaction should be rejected with a temporary error code.
	// No more events get sent to the milter after this response.
	RespTempFail = &Response{reply: &codec.TemporaryFailure{}}

	// RespSkip signals to the MTA that the transaction should continue and that the MTA
	// does not need to send more events of the same type. Only use it as return value of
	// [Milter.RcptTo], [Milter.Header] and [Milter.BodyChunk] and only when [milter.OptSkip] was negotiated.
	RespSkip = &Response{reply: &codec.Skip{}}
)
