package server

import (
	milter "github.com/d--j/go-milter-agent"
)

// stageOrder is the order in which the MTA sends the macro stages in one SMTP transaction.
var stageOrder = [...]milter.MacroStage{
	milter.StageConnect,
	milter.StageHelo,
	milter.StageMail,
	milter.StageRcpt,
	milter.StageData,
	milter.StageEOH,
	milter.StageEOM,
	milter.StageEndMarker,
}

// stageMacros holds the macros of a session per stage. Names are stored unwrapped.
type stageMacros struct {
	byStage [milter.StageEndMarker + 1]map[milter.MacroName]string
}

func newStageMacros() *stageMacros {
	return &stageMacros{}
}

// lookup finds name in the latest stage that defines it.
func (s *stageMacros) lookup(name milter.MacroName) (string, bool) {
	name = milter.UnwrapMacroName(name)
	for i := len(stageOrder) - 1; i >= 0; i-- {
		if v, ok := s.byStage[stageOrder[i]][name]; ok {
			return v, true
		}
	}
	return "", false
}

// set replaces the macros of stage.
func (s *stageMacros) set(stage milter.MacroStage, macros map[milter.MacroName]string) {
	m := make(map[milter.MacroName]string, len(macros))
	for k, v := range macros {
		m[milter.UnwrapMacroName(k)] = v
	}
	s.byStage[stage] = m
}

// clearFrom removes the macros of stage and every stage that comes after it.
func (s *stageMacros) clearFrom(stage milter.MacroStage) {
	clearing := false
	for _, st := range stageOrder {
		if st == stage {
			clearing = true
		}
		if clearing {
			s.byStage[st] = nil
		}
	}
}

// macroView is the read-only [milter.Macros] view a [Milter] gets.
type macroView struct {
	macros *stageMacros
}

func (v macroView) GetEx(name milter.MacroName) (string, bool) {
	if v.macros == nil {
		return "", false
	}
	return v.macros.lookup(name)
}

func (v macroView) Get(name milter.MacroName) string {
	value, _ := v.GetEx(name)
	return value
}

var _ milter.Macros = macroView{}
