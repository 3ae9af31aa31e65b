package client

import (
	"fmt"

	"github.com/d--j/go-milter-agent/codec"
)

// ActionType is the verdict class of an [Action].
type ActionType int

const (
	ActionAccept ActionType = iota + 1
	ActionContinue
	ActionDiscard
	ActionReject
	ActionTempFail
	ActionSkip
	ActionRejectWithCode
)

func (t ActionType) String() string {
	switch t {
	case ActionAccept:
		return "accept"
	case ActionContinue:
		return "continue"
	case ActionDiscard:
		return "discard"
	case ActionReject:
		return "reject"
	case ActionTempFail:
		return "temp_fail"
	case ActionSkip:
		return "skip"
	case ActionRejectWithCode:
		return "reply_code"
	}
	return fmt.Sprintf("ActionType(%d)", int(t))
}

// Action is the verdict of a milter for one event.
type Action struct {
	Type ActionType

	// SMTP code if milter wants to abort the connection/message. Zero otherwise.
	SMTPCode uint16
	// Properly formatted reply text if milter wants to abort the connection/message. Empty string otherwise.
	SMTPReply string
}

// StopProcessing returns true when the milter wants to immediately stop this SMTP connection.
// You can use [Action.SMTPReply] to send as reply to the current SMTP command.
func (a Action) StopProcessing() bool {
	return a.SMTPCode > 0
}

var actionContinue = &Action{Type: ActionContinue}

// actionOf maps a final reply to an Action.
func actionOf(reply codec.Reply) (*Action, error) {
	switch r := reply.(type) {
	case *codec.Accept:
		return &Action{Type: ActionAccept}, nil
	case *codec.Continue:
		return &Action{Type: ActionContinue}, nil
	case *codec.Discard:
		return &Action{Type: ActionDiscard}, nil
	case *codec.Reject:
		return &Action{Type: ActionReject, SMTPCode: 550, SMTPReply: "550 5.7.1 Command rejected"}, nil
	case *codec.TemporaryFailure:
		return &Action{Type: ActionTempFail, SMTPCode: 451, SMTPReply: "451 4.7.1 Service unavailable - try again later"}, nil
	case *codec.Skip:
		return &Action{Type: ActionSkip}, nil
	case *codec.ReplyCode:
		return &Action{Type: ActionRejectWithCode, SMTPCode: uint16(r.Code), SMTPReply: r.Text()}, nil
	}
	return nil, fmt.Errorf("unexpected reply %T", reply)
}

// ModifyActionType is the kind of a [ModifyAction].
type ModifyActionType int

const (
	ActionAddRcpt ModifyActionType = iota + 1
	ActionDelRcpt
	ActionQuarantine
	ActionReplaceBody
	ActionChangeFrom
	ActionAddHeader
	ActionChangeHeader
	ActionInsertHeader
)

// ModifyAction is a message modification a milter requested at the end of the message.
type ModifyAction struct {
	Type ModifyActionType

	// Recipient to add/remove if Type == ActionAddRcpt or ActionDelRcpt.
	// This value already includes the necessary <>.
	Rcpt string

	// ESMTP arguments for recipient address if Type = ActionAddRcpt.
	RcptArgs string

	// New envelope sender if Type = ActionChangeFrom.
	// This value already includes the necessary <>.
	From string

	// ESMTP arguments for envelope sender if Type = ActionChangeFrom.
	FromArgs string

	// Portion of body to be replaced if Type == ActionReplaceBody.
	Body []byte

	// Index of the header field to be changed if Type = ActionChangeHeader or Type = ActionInsertHeader.
	//
	// If Type = ActionChangeHeader the index is one-based and per canonical value of HeaderName.
	// If Type = ActionInsertHeader the index is global to all headers and means "insert after the HeaderIndex header".
	// A HeaderIndex of 0 means "at the very beginning".
	HeaderIndex uint32

	// Header field name if Type == ActionAddHeader or ActionChangeHeader or ActionInsertHeader.
	HeaderName string

	// Header field value if Type == ActionAddHeader or ActionChangeHeader or ActionInsertHeader.
	// An empty value with ActionChangeHeader removes the header.
	HeaderValue string

	// Quarantine reason if Type == ActionQuarantine.
	Reason string
}

// modifyActionOf maps a modification reply to a ModifyAction. ok is false for other replies.
func modifyActionOf(reply codec.Reply) (act ModifyAction, ok bool) {
	switch r := reply.(type) {
	case *codec.AddRecipient:
		return ModifyAction{Type: ActionAddRcpt, Rcpt: r.Recipient, RcptArgs: r.Parameters}, true
	case *codec.DeleteRecipient:
		return ModifyAction{Type: ActionDelRcpt, Rcpt: r.Recipient}, true
	case *codec.Quarantine:
		return ModifyAction{Type: ActionQuarantine, Reason: r.Reason}, true
	case *codec.ReplaceBody:
		return ModifyAction{Type: ActionReplaceBody, Body: r.Chunk}, true
	case *codec.ChangeFrom:
		return ModifyAction{Type: ActionChangeFrom, From: r.From, FromArgs: r.Parameters}, true
	case *codec.AddHeader:
		return ModifyAction{Type: ActionAddHeader, HeaderName: r.Name, HeaderValue: r.Value}, true
	case *codec.ChangeHeader:
		index := r.Index
		// sendmail 8 compatibility
		if index == 0 {
			index = 1
		}
		return ModifyAction{Type: ActionChangeHeader, HeaderIndex: index, HeaderName: r.Name, HeaderValue: r.Value}, true
	case *codec.InsertHeader:
		return ModifyAction{Type: ActionInsertHeader, HeaderIndex: r.Index, HeaderName: r.Name, HeaderValue: r.Value}, true
	}
	return ModifyAction{}, false
}
