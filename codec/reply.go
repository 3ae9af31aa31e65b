package codec

import (
	"strconv"
	"strings"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/wire"
)

// Reply is one message a filter sends to the MTA.
type Reply interface {
	// ActionCode returns the reply byte of this message.
	ActionCode() wire.ActionCode
	isReply()
}

// NegotiateReply is the answer of the filter to [Negotiate].
// Macros is nil when the filter did not request any macros.
type NegotiateReply struct {
	Option milter.Option
	Macros *milter.MacrosRequests
}

// Continue lets the MTA go on with the next step.
type Continue struct{}

// ReplyCode rejects or temp-fails with a custom SMTP response.
//
// Code is the three digit SMTP code (4xx or 5xx), Extended the optional enhanced status code (e.g. 5.7.1).
type ReplyCode struct {
	Code     int
	Extended string
	Message  string
}

// Text returns the SMTP reply text of r, e.g. "550 5.7.1 go away".
func (r *ReplyCode) Text() string {
	return replyText(r.Code, r.Extended, r.Message)
}

func replyText(code int, extended, message string) string {
	// a multi-line message already carries the following "550 " prefixes
	sep := " "
	if strings.Contains(message, "\r\n") {
		sep = "-"
	}
	text := strconv.Itoa(code)
	switch {
	case extended != "" && message != "":
		text += sep + extended + " " + message
	case extended != "":
		text += sep + extended
	case message != "":
		text += sep + message
	}
	return text
}

// TemporaryFailure rejects the current step with a temporary failure.
type TemporaryFailure struct{}

// Reject rejects the current step.
type Reject struct{}

// Accept accepts the message without further filtering.
type Accept struct{}

// Discard accepts the message and silently drops it.
type Discard struct{}

// AddHeader appends a header to the message.
type AddHeader struct {
	Name  string
	Value string
}

// InsertHeader inserts a header at Index.
type InsertHeader struct {
	Index uint32
	Name  string
	Value string
}

// ChangeHeader changes the Index-th occurrence of the header Name. An empty Value deletes the header.
type ChangeHeader struct {
	Index uint32
	Name  string
	Value string
}

// ChangeFrom replaces the envelope sender. Parameters are optional ESMTP arguments.
type ChangeFrom struct {
	From       string
	Parameters string
}

// AddRecipient adds an envelope recipient. Parameters are optional ESMTP arguments.
type AddRecipient struct {
	Recipient  string
	Parameters string
}

// DeleteRecipient removes an envelope recipient.
type DeleteRecipient struct {
	Recipient string
}

// ReplaceBody is one piece of the new message body.
type ReplaceBody struct {
	Chunk []byte
}

// Progress tells the MTA that the filter is still working.
type Progress struct{}

// Quarantine puts the message into quarantine.
type Quarantine struct {
	Reason string
}

// ConnectionFailure makes the MTA close the SMTP connection with a failure.
type ConnectionFailure struct{}

// Shutdown tells the MTA that the filter is going away.
type Shutdown struct{}

// Skip skips the remaining body chunks.
type Skip struct{}

func (*NegotiateReply) ActionCode() wire.ActionCode { return wire.ActOptNeg }
func (*Continue) ActionCode() wire.ActionCode { return wire.ActContinue }
func (*ReplyCode) ActionCode() wire.ActionCode { return wire.ActReplyCode }
func (*TemporaryFailure) ActionCode() wire.ActionCode { return wire.ActTempFail }
func (*Reject) ActionCode() wire.ActionCode { return wire.ActReject }
func (*Accept) ActionCode() wire.ActionCode { return wire.ActAccept }
func (*Discard) ActionCode() wire.ActionCode { return wire.ActDiscard }
func (*AddHeader) ActionCode() wire.ActionCode { return wire.ActAddHeader }
func (*InsertHeader) ActionCode() wire.ActionCode { return wire.ActInsertHeader }
func (*ChangeHeader) ActionCode() wire.ActionCode { return wire.ActChangeHeader }
func (*ChangeFrom) ActionCode() wire.ActionCode { return wire.ActChangeFrom }
func (r *AddRecipient) ActionCode() wire.ActionCode {
	if r.Parameters != "" {
		return wire.ActAddRcptPar
	}
	return wire.ActAddRcpt
}
func (*DeleteRecipient) ActionCode() wire.ActionCode { return wire.ActDelRcpt }
func (*ReplaceBody) ActionCode() wire.ActionCode { return wire.ActReplBody }
func (*Progress) ActionCode() wire.ActionCode { return wire.ActProgress }
func (*Quarantine) ActionCode() wire.ActionCode { return wire.ActQuarantine }
func (*ConnectionFailure) ActionCode() wire.ActionCode { return wire.ActConnFail }
func (*Shutdown) ActionCode() wire.ActionCode { return wire.ActShutdown }
func (*Skip) ActionCode() wire.ActionCode { return wire.ActSkip }

func (*NegotiateReply) isReply() {}
func (*Continue) isReply() {}
func (*ReplyCode) isReply() {}
func (*TemporaryFailure) isReply() {}
func (*Reject) isReply() {}
func (*Accept) isReply() {}
func (*Discard) isReply() {}
func (*AddHeader) isReply() {}
func (*InsertHeader) isReply() {}
func (*ChangeHeader) isReply() {}
func (*ChangeFrom) isReply() {}
func (*AddRecipient) isReply() {}
func (*DeleteRecipient) isReply() {}
func (*ReplaceBody) isReply() {}
func (*Progress) isReply() {}
func (*Quarantine) isReply() {}
func (*ConnectionFailure) isReply() {}
func (*Shutdown) isReply() {}
func (*Skip) isReply() {}

// StatusOf maps a reply to the verdict it stands for.
// Modification replies map to [milter.StatusNotChange] since they do not end the current step.
func StatusOf(r Reply) milter.Status {
	switch r.(type) {
	case *Continue:
		return milter.StatusContinue
	case *ReplyCode:
		return milter.StatusReplyCode
	case *TemporaryFailure:
		return milter.StatusTemporaryFailure
	case *Reject:
		return milter.StatusReject
	case *Accept:
		return milter.StatusAccept
	case *Discard:
		return milter.StatusDiscard
	case *Progress:
		return milter.StatusProgress
	case *Quarantine:
		return milter.StatusQuarantine
	case *Skip:
		return milter.StatusSkip
	case *ConnectionFailure, *Shutdown:
		return milter.StatusStop
	}
	return milter.StatusNotChange
}

// IsFinal reports whether r ends the current protocol step.
// Modification replies, progress notifications and quarantine requests do not.
func IsFinal(r Reply) bool {
	switch r.(type) {
	case *AddHeader, *InsertHeader, *ChangeHeader, *ChangeFrom, *AddRecipient, *DeleteRecipient,
		*ReplaceBody, *Progress, *Quarantine, *NegotiateReply:
		return false
	}
	return true
}
