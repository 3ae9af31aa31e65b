package codec

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/wire"
)

func macroRequests(pairs map[wire.Code][]string) *milter.MacrosRequests {
	r := milter.NewMacrosRequests()
	for c, names := range pairs {
		r.SetSymbols(c, names)
	}
	return r
}

func TestReply_RoundTrip(t *testing.T) {
	t.Parallel()
	replies := []Reply{
		&NegotiateReply{Option: milter.NewOption(6, milter.OptAddHeader|milter.OptChangeBody, milter.OptNoConnect)},
		&NegotiateReply{
			Option: milter.NewOption(6, milter.AllActions, 0),
			Macros: macroRequests(map[wire.Code][]string{
				wire.CodeConn: {"j", "{daemon_name}"},
				wire.CodeMail: {"{mail_addr}", "i"},
				wire.CodeEOB:  {"{rcpt_addr}"},
			}),
		},
		&Continue{},
		&ReplyCode{Code: 550, Extended: "5.7.1", Message: "Rejected by policy"},
		&ReplyCode{Code: 451},
		&ReplyCode{Code: 421, Message: "Try again later"},
		&TemporaryFailure{},
		&Reject{},
		&Accept{},
		&Discard{},
		&AddHeader{Name: "X-Spam", Value: "no"},
		&InsertHeader{Index: 1, Name: "Received", Value: "by filter"},
		&ChangeHeader{Index: 2, Name: "Subject", Value: ""},
		&ChangeFrom{From: "<new@example.com>"},
		&ChangeFrom{From: "<new@example.com>", Parameters: "SIZE=100"},
		&AddRecipient{Recipient: "<extra@example.com>"},
		&AddRecipient{Recipient: "<extra@example.com>", Parameters: "NOTIFY=NEVER"},
		&DeleteRecipient{Recipient: "<gone@example.com>"},
		&ReplaceBody{Chunk: []byte("new body\r\n")},
		&ReplaceBody{Chunk: bytes.Repeat([]byte{'r'}, wire.MaxBodyChunk)},
		&Progress{},
		&Quarantine{Reason: "suspicious"},
		&ConnectionFailure{},
		&Shutdown{},
		&Skip{},
	}
	e := NewReplyEncoder()
	var stream []byte
	for _, r := range replies {
		packet, err := e.Encode(r)
		if err != nil {
			t.Fatalf("Encode(%T) error = %v", r, err)
		}
		if packet[wire.LengthSize] != byte(r.ActionCode()) {
			t.Errorf("Encode(%T) used code %q, want %q", r, packet[wire.LengthSize], r.ActionCode())
		}
		stream = append(stream, packet...)
	}
	for _, chunkSize := range []int{1, 5, len(stream)} {
		var got []Reply
		d := NewReplyDecoder(func(r Reply) error {
			got = append(got, r)
			return nil
		})
		rest := stream
		for len(rest) > 0 {
			n := min(chunkSize, len(rest))
			if err := d.Feed(rest[:n]); err != nil {
				t.Fatalf("Feed() error = %v", err)
			}
			rest = rest[n:]
		}
		if err := d.EndOfInput(); err != nil {
			t.Fatalf("EndOfInput() error = %v", err)
		}
		if len(got) != len(replies) {
			t.Fatalf("chunk size %d: got %d replies, want %d", chunkSize, len(got), len(replies))
		}
		for i := range replies {
			if !reflect.DeepEqual(got[i], replies[i]) {
				t.Errorf("chunk size %d: reply %d = %#v, want %#v", chunkSize, i, got[i], replies[i])
			}
		}
	}
}

func TestReplyEncoder_EncodeNegotiate(t *testing.T) {
	t.Parallel()
	e := NewReplyEncoder()
	macros := macroRequests(map[wire.Code][]string{
		wire.CodeMail:   {"mail_addr", "i"},
		wire.CodeConn:   {"j"},
		wire.CodeHeader: {"ignored"},
	})
	got := e.EncodeNegotiate(milter.NewOption(6, 0, 0), macros)
	want := []byte{0, 0, 0, 37, 'O', 0, 0, 0, 6, 0, 0, 0, 0, 0, 0, 0, 0}
	want = append(want, 0, 0, 0, 0)
	want = append(want, "j\x00"...)
	want = append(want, 0, 0, 0, 2)
	want = append(want, "{mail_addr} i\x00"...)
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeNegotiate() = %q, want %q", got, want)
	}
}

func TestDecodeReply_Negotiate(t *testing.T) {
	t.Parallel()
	option := []byte{'O', 0, 0, 0, 6, 0, 0, 0, 1, 0, 0, 0, 2}
	t.Run("no-macros", func(t *testing.T) {
		got, err := DecodeReply(option)
		if err != nil {
			t.Fatal(err)
		}
		want := &NegotiateReply{Option: milter.NewOption(6, 1, 2)}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("DecodeReply() = %#v, want %#v", got, want)
		}
	})
	t.Run("macros", func(t *testing.T) {
		data := append(bytes.Clone(option), 0, 0, 0, 5)
		data = append(data, "{rcpt_addr},  i\x00"...)
		got, err := DecodeReply(data)
		if err != nil {
			t.Fatal(err)
		}
		r := got.(*NegotiateReply)
		if s := r.Macros.Symbols(wire.CodeEOB); !reflect.DeepEqual(s, []string{"{rcpt_addr}", "i"}) {
			t.Fatalf("Symbols() = %q", s)
		}
	})
	tests := []struct {
		name string
		tail []byte
		want error
	}{
		{"unknown-stage", append([]byte{0, 0, 0, 7}, "j\x00"...), milter.ErrUnexpectedMacroStage},
		{"huge-stage", append([]byte{1, 0, 0, 0}, "j\x00"...), milter.ErrUnexpectedMacroStage},
		{"short-stage", []byte{0, 0}, milter.ErrTooShort},
		{"no-nul", append([]byte{0, 0, 0, 1}, "j"...), milter.ErrMissingNul},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append(bytes.Clone(option), tt.tail...)
			if _, err := DecodeReply(data); !errors.Is(err, tt.want) {
				t.Fatalf("DecodeReply() error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := DecodeReply(option[:12]); !errors.Is(err, milter.ErrTooShort) {
		t.Fatalf("DecodeReply(short) error = %v", err)
	}
}

func TestParseReplyCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text    string
		want    *ReplyCode
		wantErr bool
	}{
		{"550", &ReplyCode{Code: 550}, false},
		{"550 5.7.1 Rejected", &ReplyCode{Code: 550, Extended: "5.7.1", Message: "Rejected"}, false},
		{"550 5.7.1", &ReplyCode{Code: 550, Extended: "5.7.1"}, false},
		{"451 Try later", &ReplyCode{Code: 451, Message: "Try later"}, false},
		{"451 5.7.1 mismatching class", &ReplyCode{Code: 451, Message: "5.7.1 mismatching class"}, false},
		{"550-5.7.1 first\r\n550 5.7.1 second", &ReplyCode{Code: 550, Extended: "5.7.1", Message: "first\r\n550 5.7.1 second"}, false},
		{"550 ", &ReplyCode{Code: 550}, false},
		{"250 OK", nil, true},
		{"55", nil, true},
		{"5x0 nope", nil, true},
		{"550x", nil, true},
		{"", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := ParseReplyCode(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseReplyCode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, milter.ErrInvalidFormat) {
					t.Errorf("ParseReplyCode() error = %v, want ErrInvalidFormat", err)
				}
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseReplyCode() = %#v, want %#v", got, tt.want)
			}
			if text := got.Text(); text != strings.TrimRight(tt.text, " ") {
				t.Errorf("Text() = %q", text)
			}
		})
	}
}

func TestIsEnhancedCode(t *testing.T) {
	t.Parallel()
	for s, want := range map[string]bool{
		"5.7.1":     true,
		"4.2.0":     true,
		"2.0.0":     true,
		"5.123.456": true,
		"3.0.0":     false,
		"5.7":       false,
		"5.7.":      false,
		"5.7.1234":  false,
		"a.b.c":     false,
	} {
		if got := IsEnhancedCode(s); got != want {
			t.Errorf("IsEnhancedCode(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestReplyEncoder_EncodeReplyCode(t *testing.T) {
	t.Parallel()
	e := NewReplyEncoder()
	got, err := e.EncodeReplyCode(550, "5.7.1", "Go away")
	if err != nil {
		t.Fatal(err)
	}
	want := append([]byte{0, 0, 0, 19, 'y'}, "550 5.7.1 Go away\x00"...)
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeReplyCode() = %q, want %q", got, want)
	}
	got, err = e.EncodeReplyCode(550, "5.7.1", "first\r\n550 5.7.1 second")
	if err != nil {
		t.Fatal(err)
	}
	want = append([]byte{0, 0, 0, 35, 'y'}, "550-5.7.1 first\r\n550 5.7.1 second\x00"...)
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeReplyCode() = %q, want %q", got, want)
	}
	if _, err := e.EncodeReplyCode(250, "", ""); !errors.Is(err, milter.ErrInvalidFormat) {
		t.Fatalf("EncodeReplyCode(250) error = %v", err)
	}
	if _, err := e.EncodeReplyCode(550, "5.7", ""); !errors.Is(err, milter.ErrInvalidFormat) {
		t.Fatalf("EncodeReplyCode(bad extended) error = %v", err)
	}
	if _, err := e.EncodeReplyCode(550, "4.7.1", "Go away"); !errors.Is(err, milter.ErrInvalidFormat) {
		t.Fatalf("EncodeReplyCode(550, 4.7.1) error = %v", err)
	}
	// everything the encoder accepts survives the way back
	for _, tt := range []ReplyCode{{Code: 451, Extended: "4.7.1", Message: "later"}, {Code: 554}, {Code: 550, Message: "Go away"}} {
		packet, err := e.EncodeReplyCode(tt.Code, tt.Extended, tt.Message)
		if err != nil {
			t.Fatalf("EncodeReplyCode(%+v) error = %v", tt, err)
		}
		got, err := ParseReplyCode(string(packet[5 : len(packet)-1]))
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(*got, tt) {
			t.Errorf("ParseReplyCode() = %+v, want %+v", *got, tt)
		}
	}
}

func TestDecodeReply_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data string
		want error
	}{
		{"empty", "", milter.ErrTooShort},
		{"unexpected", "Z", milter.ErrUnexpectedCommand},
		{"continue-long", "cx", milter.ErrTooLong},
		{"skip-long", "sx", milter.ErrTooLong},
		{"reply-code-no-nul", "y550", milter.ErrMissingNul},
		{"reply-code-bad", "y250 OK\x00", milter.ErrInvalidFormat},
		{"insert-header-short", "i\x00\x00", milter.ErrTooShort},
		{"change-header-one-string", "m\x00\x00\x00\x01Subject\x00", milter.ErrTooShort},
		{"add-header-no-nul", "hX\x00v", milter.ErrMissingNul},
		{"change-from-three", "ea\x00b\x00c\x00", milter.ErrTooLong},
		{"add-rcpt-trailing", "+a\x00b\x00", milter.ErrTooLong},
		{"quarantine-no-nul", "qwhy", milter.ErrMissingNul},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeReply([]byte(tt.data)); !errors.Is(err, tt.want) {
				t.Fatalf("DecodeReply(%q) error = %v, want %v", tt.data, err, tt.want)
			}
		})
	}
}

func TestReplyEncoder_EncodeReplaceBody(t *testing.T) {
	t.Parallel()
	e := NewReplyEncoder()
	body := bytes.Repeat([]byte{'x'}, 3*wire.MaxBodyChunk+1)
	var packets int
	var total int
	for len(body) > 0 {
		_, packed := e.EncodeReplaceBody(body)
		body = body[packed:]
		total += packed
		packets++
	}
	if packets != 4 || total != 3*wire.MaxBodyChunk+1 {
		t.Fatalf("packets = %d, total = %d", packets, total)
	}
}

func TestStatusOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		reply Reply
		want  milter.Status
		final bool
	}{
		{&Continue{}, milter.StatusContinue, true},
		{&Reject{}, milter.StatusReject, true},
		{&ReplyCode{Code: 550}, milter.StatusReplyCode, true},
		{&Skip{}, milter.StatusSkip, true},
		{&AddHeader{}, milter.StatusNotChange, false},
		{&Progress{}, milter.StatusProgress, false},
		{&Shutdown{}, milter.StatusStop, true},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.reply); got != tt.want {
			t.Errorf("StatusOf(%T) = %v, want %v", tt.reply, got, tt.want)
		}
		if got := IsFinal(tt.reply); got != tt.final {
			t.Errorf("IsFinal(%T) = %v, want %v", tt.reply, got, tt.final)
		}
	}
}
