package fronter

// Capability describes what a module can process and what resources it requires.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet describes event selection criteria for capability negotiation.
type InterestSet struct {
	Kinds          []EventKind
	MediaTypes     []MediaType
	CommandNames   []string
	RequireMessage bool
	RequireCommand bool
	// ExcludeBots filters out events authored by automated accounts.
	ExcludeBots bool
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !containsKind(i.Kinds, event.Kind) {
		return false
	}
	if i.RequireMessage && event.Message == nil {
		return false
	}
	if i.RequireCommand && event.Command == nil {
		return false
	}
	if len(i.CommandNames) > 0 {
		if event.Command == nil || !containsCommandName(i.CommandNames, event.Command.Name) {
			return false
		}
	}
	if i.ExcludeBots && event.Actor.IsBot {
		return false
	}
	if len(i.MediaTypes) > 0 && !eventContainsMediaType(event, i.MediaTypes) {
		return false
	}

	return true
}

// Allows reports whether this interest set can safely satisfy another filter.
//
// A filter is allowed when it is at least as narrow as the capability.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Kinds) > 0 && !allIncluded(filter.Kinds, i.Kinds) {
		return false
	}
	if len(i.MediaTypes) > 0 && !allIncluded(filter.MediaTypes, i.MediaTypes) {
		return false
	}
	if len(i.CommandNames) > 0 && !allCommandNamesIncluded(filter.CommandNames, i.CommandNames) {
		return false
	}
	if i.RequireMessage && !filter.RequireMessage {
		return false
	}
	if i.RequireCommand && !filter.RequireCommand {
		return false
	}
	if i.ExcludeBots && !filter.ExcludeBots {
		return false
	}

	return true
}

// Clone returns a deep copy so callers can keep mutating their own slices.
func (i InterestSet) Clone() InterestSet {
	cloned := i
	if len(i.Kinds) > 0 {
		cloned.Kinds = append([]EventKind(nil), i.Kinds...)
	}
	if len(i.MediaTypes) > 0 {
		cloned.MediaTypes = append([]MediaType(nil), i.MediaTypes...)
	}
	if len(i.CommandNames) > 0 {
		cloned.CommandNames = append([]string(nil), i.CommandNames...)
	}

	return cloned
}

func containsKind(kinds []EventKind, target EventKind) bool {
	for _, candidate := range kinds {
		if candidate == target {
			return true
		}
	}

	return false
}

func containsCommandName(names []string, target string) bool {
	normalized := normalizeCommandName(target)
	for _, candidate := range names {
		if normalizeCommandName(candidate) == normalized {
			return true
		}
	}

	return false
}

// eventContainsMediaType reports whether any message attachment has one of types.
func eventContainsMediaType(event *Event, types []MediaType) bool {
	for _, media := range event.MessageMedia() {
		for _, candidate := range types {
			if media.Type == candidate {
				return true
			}
		}
	}

	return false
}

// allIncluded reports whether subset is fully contained in allowed. An empty
// subset means "everything" and is therefore never contained in a non-empty
// allowed list.
func allIncluded[T comparable](subset, allowed []T) bool {
	if len(subset) == 0 {
		return false
	}
	for _, item := range subset {
		found := false
		for _, candidate := range allowed {
			if candidate == item {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

func allCommandNamesIncluded(subset, allowed []string) bool {
	if len(subset) == 0 {
		return false
	}
	for _, item := range subset {
		if !containsCommandName(allowed, item) {
			return false
		}
	}

	return true
}
