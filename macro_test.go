package milter

import (
	"reflect"
	"testing"
	"time"

	"github.com/d--j/go-milter-agent/wire"
)

func TestMacroBag_GetMacro(t *testing.T) {
	tests := []struct {
		name   string
		macros map[MacroName]string
		arg    MacroName
		want   string
	}{
		{"QueueID", map[MacroName]string{MacroQueueId: "123"}, MacroQueueId, "123"},
		{"QueueID empty", map[MacroName]string{MacroAuthAuthen: "123"}, MacroQueueId, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ltt := tt
			t.Parallel()
			m := &MacroBag{
				macros: ltt.macros,
			}
			if got := m.Get(ltt.arg); got != ltt.want {
				t.Errorf("Get() = %v, want %v", got, ltt.want)
			}
		})
	}
}

func TestMacroBag_GetMacroEx(t *testing.T) {
	tests := []struct {
		name      string
		macros    map[MacroName]string
		arg       MacroName
		wantValue string
		wantOk    bool
	}{
		{"QueueID", map[MacroName]string{MacroQueueId: "123"}, MacroQueueId, "123", true},
		{"QueueID 2", map[MacroName]string{MacroAuthSsf: "456", MacroQueueId: "123"}, MacroQueueId, "123", true},
		{"QueueID empty", map[MacroName]string{MacroAuthAuthen: "123"}, MacroQueueId, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ltt := tt
			t.Parallel()
			m := &MacroBag{
				macros: ltt.macros,
			}
			gotValue, gotOk := m.GetEx(ltt.arg)
			if gotValue != ltt.wantValue {
				t.Errorf("GetEx() gotValue = %v, want %v", gotValue, ltt.wantValue)
			}
			if gotOk != ltt.wantOk {
				t.Errorf("GetEx() gotOk = %v, want %v", gotOk, ltt.wantOk)
			}
		})
	}
}

func TestMacroBag_GetMacroEx_Dates(t *testing.T) {
	t.Parallel()
	type dates struct {
		current time.Time
		header  time.Time
	}
	date1 := time.Date(2023, time.January, 1, 1, 1, 1, 0, time.UTC)
	tests := []struct {
		name      string
		dates     dates
		macros    map[MacroName]string
		arg       MacroName
		wantValue string
		wantOk    bool
	}{
		{"header: force set", dates{header: date1}, map[MacroName]string{MacroDateRFC822Origin: "123"}, MacroDateRFC822Origin, "123", true},
		{"header: set", dates{header: date1}, map[MacroName]string{}, MacroDateRFC822Origin, "01 Jan 23 01:01 +0000", true},
		{"header: not-set", dates{}, map[MacroName]string{}, MacroDateRFC822Origin, "", false},
		{"current: force set", dates{current: date1}, map[MacroName]string{MacroDateRFC822Current: "123"}, MacroDateRFC822Current, "123", true},
		{"current: set", dates{current: date1}, map[MacroName]string{}, MacroDateRFC822Current, "01 Jan 23 01:01 +0000", true},
		{"current: set seconds", dates{current: date1}, map[MacroName]string{}, MacroDateSecondsCurrent, "1672534861", true},
		{"current: set ANSI", dates{current: date1}, map[MacroName]string{}, MacroDateANSICCurrent, "Sun Jan  1 01:01:01 2023", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ltt := tt
			t.Parallel()
			m := &MacroBag{
				macros: ltt.macros,
			}
			m.SetHeaderDate(ltt.dates.header)
			m.SetCurrentDate(ltt.dates.current)
			gotValue, gotOk := m.GetEx(ltt.arg)
			if gotValue != ltt.wantValue {
				t.Errorf("GetEx() gotValue = %v, want %v", gotValue, ltt.wantValue)
			}
			if gotOk != ltt.wantOk {
				t.Errorf("GetEx() gotOk = %v, want %v", gotOk, ltt.wantOk)
			}
		})
	}
	t.Run("current: not-set", func(t *testing.T) {
		m := &MacroBag{
			macros: map[MacroName]string{},
		}
		gotValue, gotOk := m.GetEx(MacroDateRFC822Current)
		if gotValue == "" {
			t.Errorf("GetEx() gotValue = %v, want not empty", gotValue)
		}
		if gotOk != true {
			t.Errorf("GetEx() gotOk = %v, want %v", gotOk, true)
		}
	})
}

func TestMacroBag_SetMacro(t *testing.T) {
	type args struct {
		name  MacroName
		value string
	}
	tests := []struct {
		name   string
		macros map[MacroName]string
		args   args
	}{
		{"Overwrite", map[MacroName]string{MacroQueueId: "123"}, args{MacroQueueId, "456"}},
		{"Set", map[MacroName]string{}, args{MacroQueueId, "456"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ltt := tt
			t.Parallel()
			m := &MacroBag{
				macros: ltt.macros,
			}
			m.Set(ltt.args.name, ltt.args.value)
			if got := m.Get(ltt.args.name); got != ltt.args.value {
				t.Errorf("Get() = %v, want %v", got, ltt.args.value)
			}
		})
	}
}

func TestMacroBag_Copy(t *testing.T) {
	type fields struct {
		macros      map[MacroName]string
		currentDate time.Time
		headerDate  time.Time
	}
	tests := []struct {
		name   string
		fields fields
		want   map[MacroName]string
	}{
		{"empty", fields{}, map[MacroName]string{}},
		{"simple", fields{macros: map[MacroName]string{MacroQueueId: "123"}}, map[MacroName]string{MacroQueueId: "123"}},
		{"no-dates", fields{macros: map[MacroName]string{MacroQueueId: "123"}, headerDate: time.Now(), currentDate: time.Now()}, map[MacroName]string{MacroQueueId: "123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &MacroBag{
				macros:      tt.fields.macros,
				currentDate: tt.fields.currentDate,
				headerDate:  tt.fields.headerDate,
			}
			if got := m.Copy().macros; !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Copy() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseRequestedMacros(t *testing.T) {
	tests := []struct {
		name string
		str  string
		want []string
	}{
		{"empty", "", []string{}},
		{"spaces", "   \t,,", []string{}},
		{"single", "{auth_authen}", []string{"{auth_authen}"}},
		{"single2", "  {auth_authen},  ", []string{"{auth_authen}"}},
		{"multiple", "  {auth_authen}, {auth_authen} j ", []string{"{auth_authen}", "{auth_authen}", "j"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ltt := tt
			t.Parallel()
			if got := ParseRequestedMacros(ltt.str); !reflect.DeepEqual(got, ltt.want) {
				t.Errorf("ParseRequestedMacros() = %v, want %v", got, ltt.want)
			}
		})
	}
}

func TestRemoveDuplicates(t *testing.T) {
	tests := []struct {
		name string
		str  []string
		want []string
	}{
		{"empty", []string{}, []string{}},
		{"nil", nil, []string{}},
		{"beginning", []string{"a", "a", "b"}, []string{"a", "b"}},
		{"end", []string{"a", "b", "b"}, []string{"a", "b"}},
		{"single", []string{"a"}, []string{"a"}},
		{"multiple", []string{"a", "b", "a", "a"}, []string{"a", "b"}},
		{"multiple2", []string{"b", "a", "b", "a", "a"}, []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ltt := tt
			t.Parallel()
			if got := RemoveDuplicates(ltt.str); !reflect.DeepEqual(got, ltt.want) {
				t.Errorf("RemoveDuplicates() = %v, want %v", got, ltt.want)
			}
		})
	}
}

func Test_removeEmpty(t *testing.T) {
	tests := []struct {
		name string
		str  []string
		want []string
	}{
		{"empty", []string{}, []string{}},
		{"nil", nil, []string{}},
		{"beginning", []string{"", "a", "b"}, []string{"a", "b"}},
		{"end", []string{"a", "b", ""}, []string{"a", "b"}},
		{"single", []string{""}, []string{}},
		{"multiple", []string{"a", "", "b", ""}, []string{"a", "b"}},
		{"multiple2", []string{"", "", "b", "a", ""}, []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ltt := tt
			t.Parallel()
			if got := removeEmpty(ltt.str); !reflect.DeepEqual(got, ltt.want) {
				t.Errorf("removeEmpty() = %v, want %v", got, ltt.want)
			}
		})
	}
}

func TestMacroBag_GetEx_Wrapped(t *testing.T) {
	t.Parallel()
	m := NewMacroBag()
	m.Set("{daemon_name}", "smtpd")
	m.Set("auth_type", "PLAIN")
	if got := m.Get("daemon_name"); got != "smtpd" {
		t.Errorf("Get(daemon_name) = %q", got)
	}
	if got := m.Get(MacroAuthType); got != "PLAIN" {
		t.Errorf("Get(%s) = %q", MacroAuthType, got)
	}
	if _, ok := m.GetEx("{missing}"); ok {
		t.Error("GetEx({missing}) ok")
	}
}

func TestMacroNames(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, wrapped, unwrapped string
	}{
		{"", "", ""},
		{"j", "j", "j"},
		{"{", "{", "{"},
		{"{}", "{}", "{}"},
		{"daemon_name", "{daemon_name}", "daemon_name"},
		{"{daemon_name}", "{daemon_name}", "daemon_name"},
	}
	for _, tt := range tests {
		if got := WrapMacroName(tt.in); got != tt.wrapped {
			t.Errorf("WrapMacroName(%q) = %q, want %q", tt.in, got, tt.wrapped)
		}
		if got := UnwrapMacroName(tt.in); got != tt.unwrapped {
			t.Errorf("UnwrapMacroName(%q) = %q, want %q", tt.in, got, tt.unwrapped)
		}
	}
	names := []string{"{if_name}", "j", "daemon_name", "{auth_type}", "i"}
	SortMacroNames(names)
	want := []string{"{auth_type}", "daemon_name", "i", "{if_name}", "j"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("SortMacroNames() = %v, want %v", names, want)
	}
}

func TestStageForCommand(t *testing.T) {
	t.Parallel()
	for stage := StageConnect; stage < StageEndMarker; stage++ {
		code, ok := CommandForStage(stage)
		if !ok {
			t.Fatalf("CommandForStage(%d) not ok", stage)
		}
		back, ok := StageForCommand(code)
		if !ok || back != stage {
			t.Errorf("StageForCommand(%s) = %d, %v want %d", code, back, ok, stage)
		}
	}
	if _, ok := StageForCommand(wire.CodeHeader); ok {
		t.Error("header has a stage")
	}
	if _, ok := CommandForStage(StageEndMarker); ok {
		t.Error("StageEndMarker has a command")
	}
	if !IsMacroContext(wire.CodeUnknown) || IsMacroContext(wire.CodeQuit) || IsMacroContext(wire.CodeOptNeg) {
		t.Error("IsMacroContext wrong")
	}
}

func TestMacrosRequests_Merge(t *testing.T) {
	t.Parallel()
	dest := NewMacrosRequests()
	dest.SetSymbols(wire.CodeConn, []string{"b", "c"})
	dest.SetSymbols(wire.CodeEOB, []string{"i"})
	src := NewMacrosRequests()
	src.SetSymbols(wire.CodeConn, []string{"a", "b"})
	src.SetSymbols(wire.CodeHelo, []string{"{tls_version}"})
	dest.Merge(src)

	if got, want := dest.Symbols(wire.CodeConn), []string{"b", "c", "a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("connect = %v, want %v", got, want)
	}
	if got, want := dest.Symbols(wire.CodeHelo), []string{"{tls_version}"}; !reflect.DeepEqual(got, want) {
		t.Errorf("helo = %v, want %v", got, want)
	}
	if got, want := dest.Symbols(wire.CodeEOB), []string{"i"}; !reflect.DeepEqual(got, want) {
		t.Errorf("eom = %v, want %v", got, want)
	}
	if got, want := dest.Commands(), []wire.Code{wire.CodeConn, wire.CodeHelo, wire.CodeEOB}; !reflect.DeepEqual(got, want) {
		t.Errorf("Commands() = %v, want %v", got, want)
	}
	// src stays untouched
	if got, want := src.Symbols(wire.CodeConn), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("src connect = %v, want %v", got, want)
	}
}

func TestMacrosRequests_ZeroValue(t *testing.T) {
	t.Parallel()
	var r MacrosRequests
	if r.Len() != 0 || r.Symbols(wire.CodeConn) != nil || r.Commands() != nil {
		t.Fatal("zero value not empty")
	}
	r.SetSymbols(wire.CodeRcpt, []string{"{rcpt_addr}", "{rcpt_addr}", "{rcpt_host}"})
	if got, want := r.Symbols(wire.CodeRcpt), []string{"{rcpt_addr}", "{rcpt_host}"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Symbols() = %v, want %v", got, want)
	}
	r.SetSymbols(wire.CodeRcpt, nil)
	if r.Len() != 0 {
		t.Errorf("Len() = %d", r.Len())
	}
	var nilRequests *MacrosRequests
	r.Merge(nilRequests)
	if r.Len() != 0 {
		t.Errorf("Len() = %d", r.Len())
	}
}

func TestMacrosRequests_CopyEqual(t *testing.T) {
	t.Parallel()
	a := NewMacrosRequests()
	a.SetSymbols(wire.CodeMail, []string{"{mail_addr}", "i"})
	b := a.Copy()
	if !a.Equal(b) {
		t.Fatal("copy not equal")
	}
	b.SetSymbols(wire.CodeMail, []string{"i", "{mail_addr}"})
	if a.Equal(b) {
		t.Fatal("order is ignored")
	}
	if got := a.String(); got != "envelope-from={mail_addr},i" {
		t.Errorf("String() = %q", got)
	}
}
