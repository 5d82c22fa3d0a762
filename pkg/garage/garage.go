// Package garage starts garage nodes from embedding programs.
package garage

import (
	"context"

	"garage-control/internal/tasks"
)

// Options re-exposes the tasks.Options type for external callers.
type Options = tasks.Options

// RunCentral starts the coordinator and blocks until ctx is canceled.
func RunCentral(ctx context.Context, opts Options) error {
	return tasks.RunCentral(ctx, opts)
}

// RunGround starts the ground node (gates, cameras, board, ground slots).
func RunGround(ctx context.Context, opts Options) error {
	return tasks.RunGround(ctx, opts)
}

// RunFloor starts the slot scanner node of floor 1 or 2.
func RunFloor(ctx context.Context, opts Options, floor int) error {
	return tasks.RunFloor(ctx, opts, floor)
}
