package telegram

import (
	"strconv"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"ex-fronter/pkg/fronter"
)

// PeerCache maps neutral conversations back to the Telegram input peers seen
// on inbound updates. Bots cannot resolve arbitrary peers, so outbound
// delivery only reaches conversations the bot has heard from.
type PeerCache struct {
	mu    sync.RWMutex
	peers map[peerKey]tg.InputPeerClass
}

type peerKey struct {
	kind fronter.ConversationType
	id   string
}

// NewPeerCache creates an empty, concurrency-safe Telegram peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{peers: make(map[peerKey]tg.InputPeerClass)}
}

// RememberEnvelope ingests the users and chats attached to one update container.
func (c *PeerCache) RememberEnvelope(envelope gotdUpdateEnvelope) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, user := range envelope.usersByID {
		if user == nil {
			continue
		}
		c.storeLocked(fronter.ConversationTypePrivate, strconv.FormatInt(userID, 10), user.AsInputPeer())
	}
	for chatID, chat := range envelope.chatsByID {
		c.storeLocked(chat.kind, strconv.FormatInt(chatID, 10), chat.inputPeer)
	}
}

// RememberConversation stores one explicit conversation-to-peer mapping.
func (c *PeerCache) RememberConversation(chat ChatRef, peer tg.InputPeerClass) {
	if c == nil || chat.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.storeLocked(chat.Type, chat.ID, peer)
}

// storeLocked records peer under kind. Supergroups are groups in neutral
// events but channel peers on the wire, so they are stored under both kinds.
func (c *PeerCache) storeLocked(kind fronter.ConversationType, id string, peer tg.InputPeerClass) {
	if peer == nil {
		return
	}
	c.peers[peerKey{kind: kind, id: id}] = cloneInputPeer(peer)
	if _, isChannel := peer.(*tg.InputPeerChannel); isChannel && kind == fronter.ConversationTypeGroup {
		c.peers[peerKey{kind: fronter.ConversationTypeChannel, id: id}] = cloneInputPeer(peer)
	}
}

// Resolve returns the input peer for an outbound conversation. Unknown
// conversations wrap fronter.ErrOutboundNotFound.
func (c *PeerCache) Resolve(conversation fronter.Conversation) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, errors.New("resolve peer: nil cache")
	}
	if conversation.ID == "" || conversation.Type == "" {
		return nil, errors.Wrapf(fronter.ErrInvalidOutboundRequest, "resolve peer: invalid conversation")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	candidates := []fronter.ConversationType{conversation.Type}
	switch conversation.Type {
	case fronter.ConversationTypeGroup:
		candidates = append(candidates, fronter.ConversationTypeChannel)
	case fronter.ConversationTypeChannel:
		candidates = append(candidates, fronter.ConversationTypeGroup)
	}
	for _, kind := range candidates {
		if peer, ok := c.peers[peerKey{kind: kind, id: conversation.ID}]; ok {
			return cloneInputPeer(peer), nil
		}
	}

	return nil, errors.Wrapf(fronter.ErrOutboundNotFound,
		"resolve peer: conversation %s/%s never seen", conversation.Type, conversation.ID)
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChat:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChannel:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerSelf:
		copyPeer := *typed
		return &copyPeer
	default:
		return peer
	}
}
