package roster

import "strings"

// Member is one persona a user can front as.
type Member struct {
	// Name is unique within a profile, compared case-insensitively.
	Name string
	// AvatarURL is empty when the member has no avatar.
	AvatarURL string
	// Color is a `#RRGGBB` string.
	Color string
}

// Profile is one user's roster state.
type Profile struct {
	// Members keeps insertion order.
	Members []Member
	// CurrentMember is a copy of the fronting member, or nil.
	CurrentMember *Member
	// ProxyEnabled gates proxying even when CurrentMember is set.
	ProxyEnabled bool
}

func newProfile() *Profile {
	return &Profile{
		Members:      []Member{},
		ProxyEnabled: true,
	}
}

// indexOf returns the position of the first member whose name matches
// case-insensitively, or -1.
func (p *Profile) indexOf(name string) int {
	for index, member := range p.Members {
		if sameName(member.Name, name) {
			return index
		}
	}

	return -1
}

func (p *Profile) clone() Profile {
	cloned := Profile{
		Members:      append([]Member{}, p.Members...),
		ProxyEnabled: p.ProxyEnabled,
	}
	if p.CurrentMember != nil {
		current := *p.CurrentMember
		cloned.CurrentMember = &current
	}

	return cloned
}

func sameName(left, right string) bool {
	return strings.EqualFold(left, right)
}

// Route is the outcome of identity resolution.
type Route int

const (
	// RoutePassThrough leaves the message untouched.
	RoutePassThrough Route = iota
	// RouteProxy re-emits the message as Decision.Member.
	RouteProxy
)

// Decision is the routing decision for one author.
type Decision struct {
	Route  Route
	Member Member
}

// PassThrough returns the non-proxying decision.
func PassThrough() Decision {
	return Decision{Route: RoutePassThrough}
}

// Proxy returns a decision to speak as member.
func Proxy(member Member) Decision {
	return Decision{Route: RouteProxy, Member: member}
}

// IsProxy reports whether the message should be proxied.
func (d Decision) IsProxy() bool {
	return d.Route == RouteProxy
}

// ImportResult counts what an import did.
type ImportResult struct {
	New     int
	Updated int
}
