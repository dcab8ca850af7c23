package roster

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"ex-fronter/pkg/fronter"
)

// Store is the process-wide Member Store.
//
// One mutex guards every profile. Mutations hold it through the snapshot
// write, so two commands never interleave their changes or their saves.
type Store struct {
	mu        sync.Mutex
	profiles  map[string]*Profile
	persister Persister
	logger    *slog.Logger
}

// NewStore creates an empty store backed by persister. A nil persister keeps
// the store memory-only.
func NewStore(persister Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		profiles:  make(map[string]*Profile),
		persister: persister,
		logger:    logger,
	}
}

// Load replaces the in-memory state with the persisted snapshot.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	snapshot, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	profiles := make(map[string]*Profile, len(snapshot))
	members := 0
	for userID, record := range snapshot {
		profile := profileFromRecord(record)
		profiles[userID] = profile
		members += len(profile.Members)
	}

	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "roster loaded", "profiles", len(profiles), "members", members)

	return nil
}

// Snapshot returns the persisted form of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

// Profile returns a copy of the user's profile.
func (s *Store) Profile(userID string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, exists := s.profiles[userID]
	if !exists {
		return Profile{}, false
	}

	return profile.clone(), true
}

// Resolve decides how a message from userID is routed. It has no side effects.
func (s *Store) Resolve(userID string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.resolveLocked(userID)
}

func (s *Store) resolveLocked(userID string) Decision {
	profile, exists := s.profiles[userID]
	if !exists || !profile.ProxyEnabled || profile.CurrentMember == nil {
		return PassThrough()
	}

	return Proxy(*profile.CurrentMember)
}

// SwitchMember makes the named member the one fronting for userID.
func (s *Store) SwitchMember(ctx context.Context, userID string, name string) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, index, err := s.lookupLocked(userID, name)
	if err != nil {
		return Member{}, err
	}

	selected := profile.Members[index]
	profile.CurrentMember = &selected

	return selected, s.persistLocked(ctx, "switch_member", userID)
}

// ToggleProxy flips proxying for userID and returns the new state.
func (s *Store) ToggleProxy(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile := s.ensureProfileLocked(userID)
	profile.ProxyEnabled = !profile.ProxyEnabled

	return profile.ProxyEnabled, s.persistLocked(ctx, "toggle_proxy", userID)
}

// DeleteMember removes the named member and clears the fronting member when
// it has the same name.
func (s *Store) DeleteMember(ctx context.Context, userID string, name string) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, index, err := s.lookupLocked(userID, name)
	if err != nil {
		return Member{}, err
	}

	removed := profile.Members[index]
	profile.Members = append(profile.Members[:index], profile.Members[index+1:]...)
	if profile.CurrentMember != nil && sameName(profile.CurrentMember.Name, removed.Name) {
		profile.CurrentMember = nil
	}

	return removed, s.persistLocked(ctx, "delete_member", userID)
}

// AddMember appends a member. An empty color means fronter.DefaultColorHex;
// any other color must be six hex digits and is stored as `#RRGGBB`.
func (s *Store) AddMember(ctx context.Context, userID string, member Member) (Member, error) {
	normalized, err := normalizeMember(member)
	if err != nil {
		return Member{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.profiles[userID]; exists && existing.indexOf(normalized.Name) >= 0 {
		return Member{}, fmt.Errorf("add member %q: %w", normalized.Name, ErrMemberExists)
	}

	profile := s.ensureProfileLocked(userID)
	profile.Members = append(profile.Members, normalized)

	return normalized, s.persistLocked(ctx, "add_member", userID)
}

// ImportMembers merges a system.json payload into the user's roster: a
// case-insensitive name match updates avatar and color in place, anything
// else is appended. A malformed payload changes nothing.
func (s *Store) ImportMembers(ctx context.Context, userID string, payload []byte) (ImportResult, error) {
	entries, err := ParseImport(payload)
	if err != nil {
		return ImportResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile := s.ensureProfileLocked(userID)
	result := ImportResult{}
	for _, entry := range entries {
		index := profile.indexOf(entry.Name)
		if index < 0 {
			profile.Members = append(profile.Members, entry)
			result.New++
			continue
		}

		profile.Members[index].AvatarURL = entry.AvatarURL
		profile.Members[index].Color = entry.Color
		if profile.CurrentMember != nil && sameName(profile.CurrentMember.Name, entry.Name) {
			refreshed := profile.Members[index]
			profile.CurrentMember = &refreshed
		}
		result.Updated++
	}

	return result, s.persistLocked(ctx, "import_members", userID)
}

// ListMembers returns the user's roster in insertion order.
func (s *Store) ListMembers(userID string) []Member {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, exists := s.profiles[userID]
	if !exists || len(profile.Members) == 0 {
		return nil
	}

	return append([]Member(nil), profile.Members...)
}

// lookupLocked finds a member without creating a profile.
func (s *Store) lookupLocked(userID string, name string) (*Profile, int, error) {
	profile, exists := s.profiles[userID]
	if !exists || len(profile.Members) == 0 {
		return nil, -1, ErrNoMembers
	}

	index := profile.indexOf(name)
	if index < 0 {
		return nil, -1, fmt.Errorf("lookup %q: %w", name, ErrMemberNotFound)
	}

	return profile, index, nil
}

func (s *Store) ensureProfileLocked(userID string) *Profile {
	profile, exists := s.profiles[userID]
	if !exists {
		profile = newProfile()
		s.profiles[userID] = profile
	}

	return profile
}

// persistLocked writes the whole store. A failure leaves the mutation in
// place and is reported as ErrPersistence.
func (s *Store) persistLocked(ctx context.Context, operation string, userID string) error {
	if s.persister == nil {
		return nil
	}

	if err := s.persister.Save(ctx, s.snapshotLocked()); err != nil {
		s.logger.ErrorContext(ctx, "roster save failed",
			"operation", operation,
			"user_id", userID,
			"error", err,
		)
		return fmt.Errorf("%s: %w: %w", operation, ErrPersistence, err)
	}

	return nil
}

func (s *Store) snapshotLocked() Snapshot {
	snapshot := make(Snapshot, len(s.profiles))
	for userID, profile := range s.profiles {
		snapshot[userID] = recordFromProfile(profile)
	}

	return snapshot
}

func normalizeMember(member Member) (Member, error) {
	name := strings.TrimSpace(member.Name)
	if name == "" {
		return Member{}, ErrInvalidMemberName
	}

	color, err := NormalizeColor(member.Color)
	if err != nil {
		return Member{}, err
	}

	return Member{
		Name:      name,
		AvatarURL: strings.TrimSpace(member.AvatarURL),
		Color:     color,
	}, nil
}

// NormalizeColor returns the stored form of a user-supplied color. Empty input
// yields the default color.
func NormalizeColor(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return fronter.DefaultColorHex, nil
	}

	parsed, err := fronter.ParseColor(value)
	if err != nil {
		return "", fmt.Errorf("normalize color: %w", err)
	}

	return parsed.Hex(), nil
}
