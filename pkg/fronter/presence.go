package fronter

import "context"

// ServicePresenceReporter is the canonical service registry key for the
// process-wide presence reporter.
const ServicePresenceReporter = "fronter.presence_reporter"

const (
	// PresenceIdle is the status shown when nobody is fronting.
	PresenceIdle = "Not fronting"
	// PresenceFrontingFormat renders the status for one fronting member name.
	PresenceFrontingFormat = "Fronting as %s"
)

// PresenceReporter pushes a status line derived from one user's fronting state.
//
// Presence is a single process-wide value. The last writer wins across users.
type PresenceReporter interface {
	// Refresh recomputes the status from userID's state and publishes it.
	Refresh(ctx context.Context, userID string) error
	// Current returns the last status text written.
	Current() string
}
