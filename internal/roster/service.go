package roster

import "context"

// ServiceStore is the service registry key for the process *Store.
const ServiceStore = "fronter.roster"

// Resolver is the read side of the store used on the message path.
type Resolver interface {
	Resolve(userID string) Decision
}

// Mutator is the command side of the store.
type Mutator interface {
	Resolver
	SwitchMember(ctx context.Context, userID string, name string) (Member, error)
	ToggleProxy(ctx context.Context, userID string) (bool, error)
	DeleteMember(ctx context.Context, userID string, name string) (Member, error)
	AddMember(ctx context.Context, userID string, member Member) (Member, error)
	ImportMembers(ctx context.Context, userID string, payload []byte) (ImportResult, error)
	ListMembers(userID string) []Member
}

var _ Mutator = (*Store)(nil)
