package milter

import "fmt"

// MaxVersion is the highest milter protocol version this library speaks.
const MaxVersion uint32 = 6

// Option is the negotiated (or offered) protocol version, action flags and step flags.
//
// Options are passed around by value. Combine and Merge mutate the receiver only.
type Option struct {
	Version uint32
	Action  OptAction
	Step    OptProtocol
}

// NewOption returns an Option with the given values.
func NewOption(version uint32, action OptAction, step OptProtocol) Option {
	return Option{Version: version, Action: action, Step: step}
}

// DefaultOption is what a peer offers when it was not configured otherwise:
// the highest version, all actions and no step restrictions.
func DefaultOption() Option {
	return Option{Version: MaxVersion, Action: AllActions}
}

// Combine intersects o with src. The result has src's version and only the
// action and step bits both sides have set.
//
// Combine fails (and does not change o) when o has a lower version than src.
func (o *Option) Combine(src Option) bool {
	if o.Version < src.Version {
		return false
	}
	o.Version = src.Version
	o.Action &= src.Action
	o.Step &= src.Step
	return true
}

// Merge unites o with src. Actions are additive. Of the step flags the "no"
// flags ([OptNoMask]) only stay set when both sides have them set, all other step
// flags get combined with OR.
//
// Merge fails (and does not change o) when o has a lower version than src.
func (o *Option) Merge(src Option) bool {
	if o.Version < src.Version {
		return false
	}
	o.Version = src.Version
	o.Action |= src.Action
	o.Step = mergeStep(o.Step, src.Step)
	return true
}

func mergeStep(a, b OptProtocol) OptProtocol {
	return (a & b & OptNoMask) | ((a | b) &^ OptNoMask)
}

// HasAction reports whether all bits of action are set.
func (o Option) HasAction(action OptAction) bool {
	return o.Action&action == action
}

// HasStep reports whether all bits of step are set.
func (o Option) HasStep(step OptProtocol) bool {
	return o.Step&step == step
}

func (o Option) String() string {
	return fmt.Sprintf("version=%d action=%s step=%s", o.Version, o.Action, o.Step)
}
