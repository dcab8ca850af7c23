package roster

import "errors"

var (
	// ErrNoMembers indicates that the user has no profile or an empty roster.
	ErrNoMembers = errors.New("roster: no members")
	// ErrMemberNotFound indicates a case-insensitive name lookup miss.
	ErrMemberNotFound = errors.New("roster: member not found")
	// ErrMemberExists indicates an add that would duplicate a member name.
	ErrMemberExists = errors.New("roster: member already exists")
	// ErrInvalidMemberName indicates an empty member name.
	ErrInvalidMemberName = errors.New("roster: invalid member name")
	// ErrInvalidImport indicates a malformed system.json payload.
	ErrInvalidImport = errors.New("roster: invalid import payload")
	// ErrPersistence indicates that a mutation was applied in memory but the
	// snapshot could not be saved.
	ErrPersistence = errors.New("roster: persist snapshot")
)
