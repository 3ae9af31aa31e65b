// Package wire includes the byte codes and low level helpers of the raw milter protocol.
package wire

import (
	"encoding/binary"
)

// Code is a command byte sent from the MTA to the filter.
type Code byte

const (
	CodeOptNeg      Code = 'O' // SMFIC_OPTNEG
	CodeMacro       Code = 'D' // SMFIC_MACRO
	CodeConn        Code = 'C' // SMFIC_CONNECT
	CodeQuit        Code = 'Q' // SMFIC_QUIT
	CodeHelo        Code = 'H' // SMFIC_HELO
	CodeMail        Code = 'M' // SMFIC_MAIL
	CodeRcpt        Code = 'R' // SMFIC_RCPT
	CodeHeader      Code = 'L' // SMFIC_HEADER
	CodeEOH         Code = 'N' // SMFIC_EOH
	CodeBody        Code = 'B' // SMFIC_BODY
	CodeEOB         Code = 'E' // SMFIC_BODYEOB
	CodeAbort       Code = 'A' // SMFIC_ABORT
	CodeData        Code = 'T' // SMFIC_DATA
	CodeQuitNewConn Code = 'K' // SMFIC_QUIT_NC [v6]
	CodeUnknown     Code = 'U' // SMFIC_UNKNOWN [v6]
)

var codeNames = map[Code]string{
	CodeOptNeg:      "negotiate",
	CodeMacro:       "define-macro",
	CodeConn:        "connect",
	CodeQuit:        "quit",
	CodeHelo:        "helo",
	CodeMail:        "envelope-from",
	CodeRcpt:        "envelope-recipient",
	CodeHeader:      "header",
	CodeEOH:         "end-of-header",
	CodeBody:        "body",
	CodeEOB:         "end-of-message",
	CodeAbort:       "abort",
	CodeData:        "data",
	CodeQuitNewConn: "quit-new-connection",
	CodeUnknown:     "unknown",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "Code(" + quoteByte(byte(c)) + ")"
}

// ActionCode is a reply byte sent from the filter to the MTA.
type ActionCode byte

const (
	ActAccept    ActionCode = 'a' // SMFIR_ACCEPT
	ActContinue  ActionCode = 'c' // SMFIR_CONTINUE
	ActDiscard   ActionCode = 'd' // SMFIR_DISCARD
	ActReject    ActionCode = 'r' // SMFIR_REJECT
	ActTempFail  ActionCode = 't' // SMFIR_TEMPFAIL
	ActReplyCode ActionCode = 'y' // SMFIR_REPLYCODE
	ActSkip      ActionCode = 's' // SMFIR_SKIP [v6]
	ActProgress  ActionCode = 'p' // SMFIR_PROGRESS [v6]
	ActConnFail  ActionCode = 'f' // SMFIR_CONN_FAIL
	ActShutdown  ActionCode = '4' // SMFIR_SHUTDOWN
	ActOptNeg    ActionCode = 'O' // SMFIC_OPTNEG sent back by the filter

	ActAddRcpt      ActionCode = '+' // SMFIR_ADDRCPT
	ActDelRcpt      ActionCode = '-' // SMFIR_DELRCPT
	ActReplBody     ActionCode = 'b' // SMFIR_REPLBODY
	ActAddHeader    ActionCode = 'h' // SMFIR_ADDHEADER
	ActChangeHeader ActionCode = 'm' // SMFIR_CHGHEADER
	ActInsertHeader ActionCode = 'i' // SMFIR_INSHEADER
	ActQuarantine   ActionCode = 'q' // SMFIR_QUARANTINE
	ActChangeFrom   ActionCode = 'e' // SMFIR_CHGFROM [v6]
	ActAddRcptPar   ActionCode = '2' // SMFIR_ADDRCPT_PAR [v6]
)

var actionNames = map[ActionCode]string{
	ActAccept:       "accept",
	ActContinue:     "continue",
	ActDiscard:      "discard",
	ActReject:       "reject",
	ActTempFail:     "temporary-failure",
	ActReplyCode:    "reply-code",
	ActSkip:         "skip",
	ActProgress:     "progress",
	ActConnFail:     "connection-failure",
	ActShutdown:     "shutdown",
	ActOptNeg:       "negotiate-reply",
	ActAddRcpt:      "add-recipient",
	ActDelRcpt:      "delete-recipient",
	ActReplBody:     "replace-body",
	ActAddHeader:    "add-header",
	ActChangeHeader: "change-header",
	ActInsertHeader: "insert-header",
	ActQuarantine:   "quarantine",
	ActChangeFrom:   "change-from",
	ActAddRcptPar:   "add-recipient-with-parameters",
}

func (c ActionCode) String() string {
	if n, ok := actionNames[c]; ok {
		return n
	}
	return "ActionCode(" + quoteByte(byte(c)) + ")"
}

// IsModification reports whether c is one of the message modification replies
// that are only valid as answer to an end-of-message command.
func (c ActionCode) IsModification() bool {
	switch c {
	case ActAddRcpt, ActDelRcpt, ActReplBody, ActAddHeader, ActChangeHeader, ActInsertHeader,
		ActQuarantine, ActChangeFrom, ActAddRcptPar:
		return true
	}
	return false
}

// MaxBodyChunk is the biggest body or replace-body payload that gets packed into one packet.
const MaxBodyChunk = 65535

// LengthSize is the size of the big endian length prefix of every packet.
const LengthSize = 4

// AppendUint16 appends the big endian encoding of val to dest. It returns the new dest like append does.
func AppendUint16(dest []byte, val uint16) []byte {
	return binary.BigEndian.AppendUint16(dest, val)
}

// AppendUint32 appends the big endian encoding of val to dest. It returns the new dest like append does.
func AppendUint32(dest []byte, val uint32) []byte {
	return binary.BigEndian.AppendUint32(dest, val)
}

func quoteByte(b byte) string {
	if b >= 0x20 && b < 0x7f {
		return "'" + string(rune(b)) + "'"
	}
	const hex = "0123456789abcdef"
	return "0x" + string([]byte{hex[b>>4], hex[b&0xf]})
}
