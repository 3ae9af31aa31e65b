package server

import (
	"errors"
	"fmt"
	"io"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/codec"
	"github.com/d--j/go-milter-agent/milterutil"
)

// ErrModificationNotAllowed is returned by [Modifier] methods when the action was not negotiated
// or when the method gets called outside of [Milter.EndOfMessage].
var ErrModificationNotAllowed = errors.New("milter: modification not allowed via milter protocol negotiation")

// Modifier gives a [Milter] access to the macros of the session and lets it modify the message.
// Modifications are only possible in [Milter.EndOfMessage].
type Modifier struct {
	Macros milter.Macros

	send        func(codec.Reply) error
	progress    func() error
	actions     milter.OptAction
	maxDataSize milter.DataSize
	readOnly    bool
}

// NewTestModifier returns a Modifier for unit tests of [Milter] implementations.
// Every modification gets handed to send, [Modifier.Progress] calls progress.
func NewTestModifier(macros milter.Macros, send func(codec.Reply) error, progress func() error, actions milter.OptAction, maxDataSize milter.DataSize) *Modifier {
	return &Modifier{
		Macros:      macros,
		send:        send,
		progress:    progress,
		actions:     actions,
		maxDataSize: maxDataSize,
	}
}

func (m *Modifier) modify(action milter.OptAction, reply codec.Reply) error {
	if m.readOnly || m.actions&action == 0 {
		return ErrModificationNotAllowed
	}
	return m.send(reply)
}

// AddRecipient appends a new envelope recipient for the current message.
// You can optionally specify esmtpArgs to pass along. You need to negotiate this via [milter.OptAddRcptWithArgs].
func (m *Modifier) AddRecipient(r string, esmtpArgs string) error {
	action := milter.OptAddRcpt
	if esmtpArgs != "" {
		action = milter.OptAddRcptWithArgs
	}
	return m.modify(action, &codec.AddRecipient{Recipient: milterutil.AddAngle(r), Parameters: esmtpArgs})
}

// DeleteRecipient removes an envelope recipient address from the message.
func (m *Modifier) DeleteRecipient(r string) error {
	return m.modify(milter.OptRemoveRcpt, &codec.DeleteRecipient{Recipient: milterutil.AddAngle(r)})
}

// ReplaceBodyRawChunk sends one chunk of the body replacement as-is.
// The chunk must not exceed the negotiated data size.
//
// Do all ReplaceBodyRawChunk calls in one go without other modifications in between.
// MTAs like Postfix do not allow that.
func (m *Modifier) ReplaceBodyRawChunk(chunk []byte) error {
	if len(chunk) > int(m.maxDataSize) {
		return fmt.Errorf("milter: body chunk too large: %d > %d", len(chunk), m.maxDataSize)
	}
	return m.modify(milter.OptChangeBody, &codec.ReplaceBody{Chunk: chunk})
}

// ReplaceBody reads from r and sends its contents in as few chunks as possible.
//
// ReplaceBody does not canonicalize line endings. You can call it multiple times,
// the MTA combines all chunks into the new body.
func (m *Modifier) ReplaceBody(r io.Reader) error {
	if m.readOnly || m.actions&milter.OptChangeBody == 0 {
		return ErrModificationNotAllowed
	}
	chunks := milterutil.NewChunkReader(r, int(m.maxDataSize))
	for {
		chunk, err := chunks.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := m.ReplaceBodyRawChunk(chunk); err != nil {
			return err
		}
	}
}

// Quarantine puts the message into quarantine with reason.
func (m *Modifier) Quarantine(reason string) error {
	return m.modify(milter.OptQuarantine, &codec.Quarantine{Reason: reason})
}

// AddHeader appends a new header to the message.
//
// When the MTA is sendmail it is not guaranteed that the header ends up at the end. If sendmail has a
// (maybe deleted) header of the same name it re-uses that one. Use InsertHeader with a very high index
// when the header has to be the last one.
func (m *Modifier) AddHeader(name, value string) error {
	return m.modify(milter.OptAddHeader, &codec.AddHeader{Name: name, Value: milterutil.CrLfToLf(value)})
}

// ChangeHeader replaces the header at index. The index is per canonical name and one-based.
// An empty value deletes the header. An index bigger than the number of headers with that name adds the header.
func (m *Modifier) ChangeHeader(index int, name, value string) error {
	if index < 0 {
		return fmt.Errorf("milter: invalid header index %d", index)
	}
	return m.modify(milter.OptChangeHeader, &codec.ChangeHeader{Index: uint32(index), Name: name, Value: milterutil.CrLfToLf(value)})
}

// InsertHeader inserts the header after the header at index. index is one-based, 0 means at the very beginning.
//
// sendmail uses the index on its internal header list, which contains headers the milter never sees.
func (m *Modifier) InsertHeader(index int, name, value string) error {
	if index < 0 {
		return fmt.Errorf("milter: invalid header index %d", index)
	}
	// insert-header does not have its own action flag
	action := milter.OptAddHeader
	if m.actions&action == 0 {
		action = milter.OptChangeHeader
	}
	return m.modify(action, &codec.InsertHeader{Index: uint32(index), Name: name, Value: milterutil.CrLfToLf(value)})
}

// ChangeFrom replaces the envelope sender.
func (m *Modifier) ChangeFrom(value string, esmtpArgs string) error {
	return m.modify(milter.OptChangeFrom, &codec.ChangeFrom{From: milterutil.AddAngle(value), Parameters: esmtpArgs})
}

// Progress tells the MTA that a long-running operation is still going on.
// It gets sent immediately, also outside of [Milter.EndOfMessage].
func (m *Modifier) Progress() error {
	return m.progress()
}
