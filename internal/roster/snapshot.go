package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Persister loads and saves whole Member Store snapshots.
//
// Load must return an empty snapshot, not an error, when nothing was saved yet.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
}

// Snapshot maps user identity to profile record.
type Snapshot map[string]ProfileRecord

// ProfileRecord is the persisted form of one Profile.
type ProfileRecord struct {
	Members       []MemberRecord `json:"members"`
	CurrentMember *MemberRecord  `json:"current_member"`
	ProxyEnabled  bool           `json:"proxy_enabled"`
}

// MemberRecord is the persisted form of one Member. A missing avatar is
// written as null.
type MemberRecord struct {
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url"`
	Color     string  `json:"color"`
}

// UnmarshalJSON decodes a profile, treating an absent proxy_enabled as true.
func (r *ProfileRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Members       []MemberRecord `json:"members"`
		CurrentMember *MemberRecord  `json:"current_member"`
		ProxyEnabled  *bool          `json:"proxy_enabled"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Members = raw.Members
	if r.Members == nil {
		r.Members = []MemberRecord{}
	}
	r.CurrentMember = raw.CurrentMember
	r.ProxyEnabled = raw.ProxyEnabled == nil || *raw.ProxyEnabled

	return nil
}

// EncodeSnapshot renders a snapshot as JSON indented with four spaces.
func EncodeSnapshot(snapshot Snapshot) ([]byte, error) {
	if snapshot == nil {
		snapshot = Snapshot{}
	}

	encoded, err := json.MarshalIndent(snapshot, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	return append(encoded, '\n'), nil
}

// DecodeSnapshot parses JSON produced by EncodeSnapshot. Empty input is an
// empty snapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Snapshot{}, nil
	}

	snapshot := Snapshot{}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	return snapshot, nil
}

// UserIDs returns the snapshot keys in sorted order.
func (s Snapshot) UserIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

func recordFromMember(member Member) MemberRecord {
	record := MemberRecord{
		Name:  member.Name,
		Color: member.Color,
	}
	if member.AvatarURL != "" {
		avatar := member.AvatarURL
		record.AvatarURL = &avatar
	}

	return record
}

func memberFromRecord(record MemberRecord) Member {
	member := Member{
		Name:  record.Name,
		Color: record.Color,
	}
	if record.AvatarURL != nil {
		member.AvatarURL = *record.AvatarURL
	}

	return member
}

func recordFromProfile(profile *Profile) ProfileRecord {
	record := ProfileRecord{
		Members:      make([]MemberRecord, 0, len(profile.Members)),
		ProxyEnabled: profile.ProxyEnabled,
	}
	for _, member := range profile.Members {
		record.Members = append(record.Members, recordFromMember(member))
	}
	if profile.CurrentMember != nil {
		current := recordFromMember(*profile.CurrentMember)
		record.CurrentMember = &current
	}

	return record
}

func profileFromRecord(record ProfileRecord) *Profile {
	profile := &Profile{
		Members:      make([]Member, 0, len(record.Members)),
		ProxyEnabled: record.ProxyEnabled,
	}
	for _, member := range record.Members {
		profile.Members = append(profile.Members, memberFromRecord(member))
	}
	if record.CurrentMember != nil {
		current := memberFromRecord(*record.CurrentMember)
		profile.CurrentMember = &current
	}

	return profile
}
