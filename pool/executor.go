package pool

import (
	"context"
)

//go:generate mockgen -source=executor.go -package=pool -destination=executor_mock.go

// Executor launches wrapped commands on a range of slots. Execute must return
// as soon as the command has been handed off; completion is detected through
// side effects, never by waiting on the command.
type Executor interface {
	// One-time preparation for a slot, ex: opening a session to its host.
	SetupOnResource(slot *Slot) error

	// Launch command on the slots of loc on behalf of taskID.
	Execute(ctx context.Context, command string, loc *Locator, taskID int) error

	// Undo SetupOnResource.
	ReleaseFromResource(slot *Slot) error

	// Stop anything the executor still owns at the end of a run.
	Terminate() error
}
