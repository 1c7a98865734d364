package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"lpvault/core"
	nativecommon "lpvault/native/common"
)

// ErrUnknownModule is returned when pausing a module that has no switch.
var ErrUnknownModule = errors.New("router: unknown module")

// SetPaused flips the pause switch of module. Paused modules reject every
// mutation routed through them until resumed; reads keep working.
func (r *Router) SetPaused(ctx context.Context, module string, paused bool) error {
	module = strings.ToLower(strings.TrimSpace(module))
	known := false
	for _, name := range nativecommon.PausableModules() {
		if name == module {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w %q", ErrUnknownModule, module)
	}
	_, err := r.ledger.Execute(ctx, func(tx *core.Tx) error {
		return tx.State.SetModulePaused(module, paused)
	})
	if err != nil {
		return err
	}
	r.logger.Info("module pause updated", slog.String("module", module), slog.Bool("paused", paused))
	return nil
}

// Paused reports the pause switch of every pausable module.
func (r *Router) Paused(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool)
	err := r.ledger.View(ctx, func(tx *core.Tx) error {
		for _, name := range nativecommon.PausableModules() {
			paused, err := tx.State.ModulePaused(name)
			if err != nil {
				return err
			}
			out[name] = paused
		}
		return nil
	})
	return out, err
}
