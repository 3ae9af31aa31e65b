package server

import (
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/codec"
	"github.com/d--j/go-milter-agent/wire"
)

func TestNoOpMilter(t *testing.T) {
	t.Parallel()
	m := NoOpMilter{}
	mod := NewTestModifier(milter.NewMacroBag(), nil, nil, 0, milter.DataSize64K)
	check := func(name string, resp *Response, err error, want *Response) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
		if resp != want {
			t.Errorf("%s: got %s, want %s", name, resp, want)
		}
	}
	resp, err := m.Connect("", "", 0, "", mod)
	check("Connect", resp, err, RespContinue)
	resp, err = m.Helo("", mod)
	check("Helo", resp, err, RespContinue)
	resp, err = m.MailFrom("", "", mod)
	check("MailFrom", resp, err, RespContinue)
	resp, err = m.RcptTo("", "", mod)
	check("RcptTo", resp, err, RespContinue)
	resp, err = m.Data(mod)
	check("Data", resp, err, RespContinue)
	resp, err = m.Header("", "", mod)
	check("Header", resp, err, RespContinue)
	resp, err = m.Headers(mod)
	check("Headers", resp, err, RespContinue)
	resp, err = m.BodyChunk(nil, mod)
	check("BodyChunk", resp, err, RespContinue)
	resp, err = m.EndOfMessage(mod)
	check("EndOfMessage", resp, err, RespAccept)
	resp, err = m.Unknown("", mod)
	check("Unknown", resp, err, RespContinue)
	if err := m.Abort(mod); err != nil {
		t.Errorf("Abort: unexpected error %v", err)
	}
	m.Cleanup()
}

func TestNew_Panics(t *testing.T) {
	t.Parallel()
	noop := WithMilter(func() Milter { return NoOpMilter{} })
	tests := []struct {
		name string
		opts []Option
	}{
		{"no milter", nil},
		{"version too high", []Option{noop, WithMaximumVersion(milter.MaxVersion + 1)}},
		{"version too low", []Option{noop, WithMaximumVersion(1)}},
		{"invalid data size", []Option{noop, WithUsedMaxData(milter.DataSize(1000))}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			defer func() {
				if recover() == nil {
					t.Error("New did not panic")
				}
			}()
			New(tt.opts...)
		})
	}
}

func serveLocal(t *testing.T, s *Server) (net.Listener, chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() {
		served <- s.Serve(ln)
	}()
	return ln, served
}

func TestServer_NoOpMilter(t *testing.T) {
	t.Parallel()
	s := New(WithMilter(func() Milter { return NoOpMilter{} }), WithAction(milter.OptAddHeader))
	ln, served := serveLocal(t, s)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	mta := &testMTA{t: t, conn: conn, enc: codec.NewCommandEncoder()}
	reply := mta.negotiate(milter.NewOption(6, milter.AllActions, 0))
	if reply.Option.Version != 6 || reply.Option.Action != milter.OptAddHeader {
		t.Errorf("negotiated %v", reply.Option)
	}
	packet, err := mta.enc.EncodeConnect("localhost", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4321})
	if err != nil {
		t.Fatal(err)
	}
	mta.send(packet)
	mta.expect(&codec.Continue{})
	mta.send(mta.enc.EncodeEndOfMessage(nil))
	mta.expect(&codec.Accept{})
	mta.send(mta.enc.EncodeQuit())
	mta.expectClosed()
	_ = conn.Close()

	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := <-served; !errors.Is(err, ErrServerClosed) {
		t.Errorf("Serve() error = %v, want ErrServerClosed", err)
	}
	s.Wait()
}

func TestServer_Close(t *testing.T) {
	t.Parallel()
	s := New(WithMilter(func() Milter { return NoOpMilter{} }))
	_, served1 := serveLocal(t, s)
	_, served2 := serveLocal(t, s)
	// give both Serve calls the chance to register their listener
	time.Sleep(20 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for _, served := range []chan error{served1, served2} {
		select {
		case err := <-served:
			if !errors.Is(err, ErrServerClosed) {
				t.Errorf("Serve() error = %v, want ErrServerClosed", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Serve did not return")
		}
	}
	if err := s.Close(); !errors.Is(err, ErrServerClosed) {
		t.Errorf("second Close() error = %v, want ErrServerClosed", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Serve(ln); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Serve() after Close error = %v, want ErrServerClosed", err)
	}
	s.Wait()
}

func TestServer_Options(t *testing.T) {
	t.Parallel()
	s := New(
		WithMilter(func() Milter { return NoOpMilter{} }),
		WithActions(milter.OptAddHeader|milter.OptChangeBody),
		WithoutAction(milter.OptChangeBody),
		WithProtocols(milter.OptNoHelo|milter.OptNoData),
		WithoutProtocol(milter.OptNoData),
		WithMacroRequest(milter.StageHelo, []milter.MacroName{milter.MacroTlsVersion}),
	)
	if s.options.actions != milter.OptAddHeader {
		t.Errorf("actions = %v", s.options.actions)
	}
	if s.options.protocol != milter.OptNoHelo {
		t.Errorf("protocol = %v", s.options.protocol)
	}
	if got, want := s.options.macros.Symbols(wire.CodeHelo), []string{milter.MacroTlsVersion}; !reflect.DeepEqual(got, want) {
		t.Errorf("macros = %v, want %v", got, want)
	}
	if s.options.readTimeout != 10*time.Second {
		t.Errorf("readTimeout = %v", s.options.readTimeout)
	}
	if s.options.writeTimeout != 10*time.Second {
		t.Errorf("writeTimeout = %v", s.options.writeTimeout)
	}
}
