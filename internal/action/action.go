// Package action performs device-side actions on behalf of action steps.
//
// wait and wait_capture need access to the line stream and are handled by
// the session itself; an Executor only sees tap, tap_pct and screenshot.
package action

import (
	"context"
	"fmt"

	"github.com/crimson-sun/tre/internal/model"
)

// Executor performs one action. ok reports success and msg becomes the
// step's evidence.
type Executor interface {
	Perform(ctx context.Context, a model.Action) (ok bool, msg string)
}

// Unavailable fails every action. It is used when no device is configured.
type Unavailable struct{}

func (Unavailable) Perform(_ context.Context, a model.Action) (bool, string) {
	return false, fmt.Sprintf("%s: no action executor configured", a.Type)
}

// Skipped passes every action without doing anything. Replays of captured
// logs use it since there is no device to drive.
type Skipped struct{}

func (Skipped) Perform(_ context.Context, a model.Action) (bool, string) {
	return true, fmt.Sprintf("%s skipped (replay)", a.Type)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, a model.Action) (bool, string)

func (f Func) Perform(ctx context.Context, a model.Action) (bool, string) { return f(ctx, a) }
