package server

import (
	"reflect"
	"testing"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/codec"
)

func TestRejectWithCodeAndReason(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		code    uint16
		reason  string
		want    codec.Reply
		wantErr bool
	}{
		{"simple", 550, "go away", &codec.ReplyCode{Code: 550, Message: "go away"}, false},
		{"extended", 451, "4.7.1 later", &codec.ReplyCode{Code: 451, Extended: "4.7.1", Message: "later"}, false},
		{"percent", 550, "100%", &codec.ReplyCode{Code: 550, Message: "100%%"}, false},
		{"multi-line", 550, "5.7.1 line 1\nline 2", &codec.ReplyCode{Code: 550, Extended: "5.7.1", Message: "line 1\r\n550 5.7.1 line 2"}, false},
		{"empty", 421, "", &codec.ReplyCode{Code: 421}, false},
		{"too small", 250, "ok", nil, true},
		{"too big", 600, "no", nil, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := RejectWithCodeAndReason(tt.code, tt.reason)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RejectWithCodeAndReason() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if !reflect.DeepEqual(got.Reply(), tt.want) {
				t.Errorf("RejectWithCodeAndReason() = %#v, want %#v", got.Reply(), tt.want)
			}
			if got.Continue() {
				t.Error("Continue() = true")
			}
		})
	}
}

func TestResponse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		resp   *Response
		cont   bool
		status milter.Status
		str    string
	}{
		{RespAccept, false, milter.StatusAccept, "response=accept"},
		{RespContinue, true, milter.StatusContinue, "response=continue"},
		{RespDiscard, false, milter.StatusDiscard, "response=discard"},
		{RespReject, false, milter.StatusReject, "response=reject"},
		{RespTempFail, false, milter.StatusTemporaryFailure, "response=temp_fail"},
		{RespSkip, true, milter.StatusSkip, "response=skip"},
		{&Response{reply: &codec.ReplyCode{Code: 451, Extended: "4.7.1", Message: "later"}}, false, milter.StatusReplyCode, `response=reply_code action=temp_fail code=451 extended="4.7.1" reason="later"`},
	}
	for _, tt := range tests {
		if got := tt.resp.Continue(); got != tt.cont {
			t.Errorf("%s: Continue() = %v, want %v", tt.str, got, tt.cont)
		}
		if got := tt.resp.Status(); got != tt.status {
			t.Errorf("%s: Status() = %v, want %v", tt.str, got, tt.status)
		}
		if got := tt.resp.String(); got != tt.str {
			t.Errorf("String() = %q, want %q", got, tt.str)
		}
	}
}
