package common

import (
	"errors"
	"fmt"
)

var ErrModulePaused = errors.New("module paused")

// Module names recognised by the pause switch.
const (
	ModuleAMM        = "amm"
	ModuleLending    = "lending"
	ModuleCollateral = "collateral"
	ModuleRouter     = "router"
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}

// PausableModules lists the modules an operator may pause.
func PausableModules() []string {
	return []string{ModuleAMM, ModuleLending, ModuleCollateral, ModuleRouter}
}
