package system

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ex-fronter/internal/roster"
	"ex-fronter/pkg/fronter"
)

// outcome is what one command wants said back, plus whether it changed state.
type outcome struct {
	replies []string
	cards   []*fronter.Card
	mutated bool
	err     error
}

func (m *Module) handleCommand(ctx context.Context, event *fronter.Event) error {
	if event == nil || event.Command == nil || event.Message == nil {
		return nil
	}
	if event.Kind != fronter.EventKindCommandReceived || event.Command.Prefix != fronter.CommandPrefixBot {
		return nil
	}
	if m.dispatcher == nil || m.store == nil {
		return fmt.Errorf("system handle command: module not registered")
	}

	userID := event.Actor.ID
	var result outcome
	switch event.Command.Name {
	case commandSwitchMember:
		result = m.switchMember(ctx, userID, event.Command.Arg(0))
	case commandToggleProxy:
		result = m.toggleProxy(ctx, userID)
	case commandDeleteMember:
		result = m.deleteMember(ctx, userID, event.Command.Arg(0))
	case commandAddMember:
		result = m.addMember(ctx, userID, event)
	case commandImportMembers:
		result = m.importMembers(ctx, userID, event)
	case commandListMembers:
		result = m.listMembers(userID)
	default:
		return nil
	}
	if result.err != nil {
		return fmt.Errorf("system %s for %s: %w", event.Command.Name, userID, result.err)
	}
	if result.mutated {
		m.refreshPresence(ctx, event.Command.Name, userID)
	}

	target, err := fronter.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("system derive outbound target: %w", err)
	}
	if err := m.reply(ctx, target, result); err != nil {
		return fmt.Errorf("system %s reply: %w", event.Command.Name, err)
	}

	return nil
}

// refreshPresence runs once the mutation is live, whether or not the reply
// can be delivered afterwards.
func (m *Module) refreshPresence(ctx context.Context, command string, userID string) {
	if m.presence == nil {
		return
	}
	if err := m.presence.Refresh(ctx, userID); err != nil {
		m.logger.WarnContext(ctx, "system presence refresh failed",
			"command", command,
			"user_id", userID,
			"error", err,
		)
	}
}

func (m *Module) switchMember(ctx context.Context, userID string, name string) outcome {
	member, err := m.store.SwitchMember(ctx, userID, name)
	return m.mutation(err, name, func() string {
		return fmt.Sprintf(replySwitched, member.Name)
	})
}

func (m *Module) toggleProxy(ctx context.Context, userID string) outcome {
	enabled, err := m.store.ToggleProxy(ctx, userID)
	return m.mutation(err, "", func() string {
		if enabled {
			return replyProxyEnabled
		}
		return replyProxyDisabled
	})
}

func (m *Module) deleteMember(ctx context.Context, userID string, name string) outcome {
	member, err := m.store.DeleteMember(ctx, userID, name)
	return m.mutation(err, name, func() string {
		return fmt.Sprintf(replyDeleted, member.Name)
	})
}

func (m *Module) addMember(ctx context.Context, userID string, event *fronter.Event) outcome {
	candidate := roster.Member{
		Name:      event.Command.Arg(0),
		AvatarURL: event.Command.Arg(1),
		Color:     event.Command.Arg(2),
	}
	if uri := attachedURI(event.MessageMedia()); uri != "" {
		candidate.AvatarURL = uri
	}

	member, err := m.store.AddMember(ctx, userID, candidate)
	if errors.Is(err, fronter.ErrInvalidColor) {
		return outcome{replies: []string{fmt.Sprintf(replyInvalidColor, candidate.Color)}}
	}

	return m.mutation(err, candidate.Name, func() string {
		avatar := member.AvatarURL
		if avatar == "" {
			avatar = noAvatar
		}
		return fmt.Sprintf(replyAdded, member.Name, avatar, member.Color)
	})
}

func (m *Module) importMembers(ctx context.Context, userID string, event *fronter.Event) outcome {
	attachment, found := importAttachment(event.MessageMedia())
	if !found {
		return outcome{replies: []string{replyMissingImportFile}}
	}

	target, err := fronter.OutboundTargetFromEvent(event)
	if err != nil {
		return outcome{err: fmt.Errorf("derive import target: %w", err)}
	}
	payload, err := m.dispatcher.FetchAttachment(ctx, fronter.FetchAttachmentRequest{
		Target:     target,
		MessageID:  event.Message.ID,
		Attachment: attachment,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "system import download failed",
			"user_id", userID,
			"attachment_id", attachment.ID,
			"error", err,
		)
		return outcome{replies: []string{replyImportDownload}}
	}

	result, err := m.store.ImportMembers(ctx, userID, payload)
	if errors.Is(err, roster.ErrInvalidImport) {
		m.logger.InfoContext(ctx, "system import rejected", "user_id", userID, "error", err)
		return outcome{replies: []string{replyInvalidImport}}
	}

	return m.mutation(err, "", func() string {
		return fmt.Sprintf(replyImported, result.New, result.Updated)
	})
}

func (m *Module) listMembers(userID string) outcome {
	members := m.store.ListMembers(userID)
	if len(members) == 0 {
		return outcome{replies: []string{replyEmptyRoster}}
	}

	cards := make([]*fronter.Card, 0, len(members))
	for _, member := range members {
		cards = append(cards, &fronter.Card{
			Title:        member.Name,
			Description:  fmt.Sprintf("Name: %s\nColor: %s", member.Name, member.Color),
			Color:        fronter.ParseColorOr(member.Color, m.defaultColor),
			ThumbnailURL: member.AvatarURL,
		})
	}

	return outcome{cards: cards}
}

// mutation turns a store result into replies. A persistence failure still
// reports success because the change is live, followed by a warning.
func (m *Module) mutation(err error, name string, success func() string) outcome {
	switch {
	case err == nil:
		return outcome{replies: []string{success()}, mutated: true}
	case errors.Is(err, roster.ErrPersistence):
		return outcome{replies: []string{success(), replyNotSaved}, mutated: true}
	case errors.Is(err, roster.ErrNoMembers):
		return outcome{replies: []string{replyNoMembers}}
	case errors.Is(err, roster.ErrMemberNotFound):
		return outcome{replies: []string{fmt.Sprintf(replyMemberNotFound, name)}}
	case errors.Is(err, roster.ErrMemberExists):
		return outcome{replies: []string{fmt.Sprintf(replyMemberExists, strings.TrimSpace(name))}}
	case errors.Is(err, roster.ErrInvalidMemberName):
		return outcome{replies: []string{replyInvalidName}}
	default:
		return outcome{err: err}
	}
}

func (m *Module) reply(ctx context.Context, target fronter.OutboundTarget, result outcome) error {
	for _, card := range result.cards {
		if _, err := m.dispatcher.SendMessage(ctx, fronter.SendMessageRequest{Target: target, Card: card}); err != nil {
			return fmt.Errorf("send card %s: %w", card.Title, err)
		}
	}
	for _, text := range result.replies {
		if _, err := m.dispatcher.SendMessage(ctx, fronter.SendMessageRequest{Target: target, Text: text}); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}

	return nil
}

// attachedURI returns the first public attachment URI on the message.
func attachedURI(media []fronter.MediaAttachment) string {
	for _, attachment := range media {
		if uri := strings.TrimSpace(attachment.URI); uri != "" {
			return uri
		}
	}

	return ""
}

func importAttachment(media []fronter.MediaAttachment) (fronter.MediaAttachment, bool) {
	for _, attachment := range media {
		if attachment.FileName == roster.ImportFileName && attachment.Transferable() {
			return attachment, true
		}
	}

	return fronter.MediaAttachment{}, false
}
