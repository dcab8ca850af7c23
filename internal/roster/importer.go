package roster

import (
	"encoding/json"
	"fmt"
)

// ImportFileName is the only attachment name import_members accepts.
const ImportFileName = "system.json"

type importDocument struct {
	Members *[]importEntry `json:"members"`
}

type importEntry struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
	Color     *string `json:"color"`
}

// ParseImport validates a system.json payload and returns its members in file
// order with normalized colors. Any structural problem fails the whole
// payload with ErrInvalidImport.
func ParseImport(payload []byte) ([]Member, error) {
	var document importDocument
	if err := json.Unmarshal(payload, &document); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImport, err)
	}
	if document.Members == nil {
		return nil, fmt.Errorf("%w: missing members array", ErrInvalidImport)
	}

	members := make([]Member, 0, len(*document.Members))
	for index, entry := range *document.Members {
		candidate := Member{}
		if entry.Name != nil {
			candidate.Name = *entry.Name
		}
		if entry.AvatarURL != nil {
			candidate.AvatarURL = *entry.AvatarURL
		}
		if entry.Color != nil {
			candidate.Color = *entry.Color
		}

		member, err := normalizeMember(candidate)
		if err != nil {
			return nil, fmt.Errorf("%w: members[%d]: %w", ErrInvalidImport, index, err)
		}
		members = append(members, member)
	}

	return members, nil
}
