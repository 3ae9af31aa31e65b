package milter

import (
	"testing"
)

func TestOption_Combine(t *testing.T) {
	tests := []struct {
		name   string
		dest   Option
		src    Option
		want   Option
		wantOk bool
	}{
		{"same version", NewOption(6, OptAddHeader|OptChangeBody, OptNoConnect|OptSkip), NewOption(6, OptAddHeader|OptQuarantine, OptNoConnect|OptNoHelo), NewOption(6, OptAddHeader, OptNoConnect), true},
		{"lower src version", NewOption(6, AllActions, AllSteps), NewOption(2, OptAddRcpt, OptNoBody), NewOption(2, OptAddRcpt, OptNoBody), true},
		{"higher src version", NewOption(2, AllActions, AllSteps), NewOption(6, OptAddRcpt, OptNoBody), NewOption(2, AllActions, AllSteps), false},
		{"zero", Option{}, Option{}, Option{}, true},
	}
	for _, tt_ := range tests {
		t.Run(tt_.name, func(t *testing.T) {
			tt := tt_
			t.Parallel()
			got := tt.dest
			ok := got.Combine(tt.src)
			if ok != tt.wantOk {
				t.Fatalf("Combine() = %v, want %v", ok, tt.wantOk)
			}
			if got != tt.want {
				t.Errorf("Combine() got %v, want %v", got, tt.want)
			}
			if ok && (got.Action&^tt.dest.Action != 0 || got.Action&^tt.src.Action != 0 || got.Step&^tt.dest.Step != 0 || got.Step&^tt.src.Step != 0) {
				t.Errorf("Combine() result %v is not a subset of both inputs", got)
			}
		})
	}
}

func TestOption_Merge(t *testing.T) {
	tests := []struct {
		name   string
		dest   Option
		src    Option
		want   Option
		wantOk bool
	}{
		{"actions add up", NewOption(6, OptAddHeader, 0), NewOption(6, OptQuarantine, 0), NewOption(6, OptAddHeader|OptQuarantine, 0), true},
		{"no flags need both", NewOption(6, 0, OptNoConnect|OptNoHelo), NewOption(6, 0, OptNoConnect), NewOption(6, 0, OptNoConnect), true},
		{"no reply flags need both", NewOption(6, 0, OptNoRcptReply|OptNoBodyReply), NewOption(6, 0, OptNoBodyReply), NewOption(6, 0, OptNoBodyReply), true},
		{"opt-in flags add up", NewOption(6, 0, OptSkip), NewOption(6, 0, OptRcptRej|OptHeaderLeadingSpace), NewOption(6, 0, OptSkip|OptRcptRej|OptHeaderLeadingSpace), true},
		{"mixed", NewOption(6, OptChangeFrom, OptNoBody|OptSkip), NewOption(4, OptAddRcpt, OptNoBody|OptNoEOH), NewOption(4, OptChangeFrom|OptAddRcpt, OptNoBody|OptSkip), true},
		{"higher src version", NewOption(4, 0, OptSkip), NewOption(6, OptAddRcpt, 0), NewOption(4, 0, OptSkip), false},
	}
	for _, tt_ := range tests {
		t.Run(tt_.name, func(t *testing.T) {
			tt := tt_
			t.Parallel()
			got := tt.dest
			ok := got.Merge(tt.src)
			if ok != tt.wantOk {
				t.Fatalf("Merge() = %v, want %v", ok, tt.wantOk)
			}
			if got != tt.want {
				t.Errorf("Merge() got %v, want %v", got, tt.want)
			}
			if !ok {
				return
			}
			if got.Action&(tt.dest.Action|tt.src.Action) != tt.dest.Action|tt.src.Action {
				t.Errorf("Merge() actions %v are not a superset", got.Action)
			}
			if noBits := got.Step & OptNoMask; noBits != tt.dest.Step&tt.src.Step&OptNoMask {
				t.Errorf("Merge() no-flags %v, want %v", noBits, tt.dest.Step&tt.src.Step&OptNoMask)
			}
		})
	}
}

func TestOption_Has(t *testing.T) {
	t.Parallel()
	o := NewOption(6, OptAddHeader|OptChangeFrom, OptSkip|OptNoData)
	if !o.HasAction(OptAddHeader|OptChangeFrom) || o.HasAction(OptAddHeader|OptQuarantine) {
		t.Error("HasAction wrong")
	}
	if !o.HasStep(OptSkip) || o.HasStep(OptNoBody) {
		t.Error("HasStep wrong")
	}
	if got, want := o.String(), "version=6 action=OptAddHeader|OptChangeFrom step=OptNoData|OptSkip"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	d := DefaultOption()
	if d.Version != MaxVersion || d.Action != AllActions || d.Step != 0 {
		t.Errorf("DefaultOption() = %v", d)
	}
}
