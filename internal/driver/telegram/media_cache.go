package telegram

import (
	"container/list"
	"sync"
	"time"

	"github.com/gotd/td/tg"
)

const (
	defaultMediaCacheSize = 4096
	// Telegram file references go stale after roughly a day.
	defaultMediaCacheTTL = 12 * time.Hour
)

// mediaKey identifies one attachment on one inbound message.
type mediaKey struct {
	conversationID string
	messageID      string
	attachmentID   string
}

// mediaLocation is what the downloader needs to fetch an attachment body.
type mediaLocation struct {
	location  tg.InputFileLocationClass
	sizeBytes int64
}

type mediaEntry struct {
	key       mediaKey
	value     mediaLocation
	expiresAt time.Time
}

// MediaCache is a bounded LRU of download locations for recent inbound
// attachments. The mapper fills it; FetchAttachment reads it.
type MediaCache struct {
	maxEntries int
	ttl        time.Duration
	clock      func() time.Time

	mu    sync.Mutex
	lru   *list.List
	index map[mediaKey]*list.Element
}

// NewMediaCache creates a cache holding at most maxEntries locations.
func NewMediaCache(maxEntries int) *MediaCache {
	if maxEntries <= 0 {
		maxEntries = defaultMediaCacheSize
	}

	return &MediaCache{
		maxEntries: maxEntries,
		ttl:        defaultMediaCacheTTL,
		clock:      time.Now,
		lru:        list.New(),
		index:      make(map[mediaKey]*list.Element),
	}
}

// Remember stores or refreshes one location.
func (c *MediaCache) Remember(key mediaKey, value mediaLocation) {
	if c == nil || value.location == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.clock().Add(c.ttl)
	if element, exists := c.index[key]; exists {
		entry := element.Value.(*mediaEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.lru.MoveToFront(element)
		return
	}

	c.index[key] = c.lru.PushFront(&mediaEntry{key: key, value: value, expiresAt: expiresAt})
	for len(c.index) > c.maxEntries {
		c.removeLocked(c.lru.Back())
	}
}

// Lookup returns the location for key when it is cached and fresh.
func (c *MediaCache) Lookup(key mediaKey) (mediaLocation, bool) {
	if c == nil {
		return mediaLocation{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.index[key]
	if !exists {
		return mediaLocation{}, false
	}
	entry := element.Value.(*mediaEntry)
	if !c.clock().Before(entry.expiresAt) {
		c.removeLocked(element)
		return mediaLocation{}, false
	}
	c.lru.MoveToFront(element)

	return entry.value, true
}

// Len returns the number of cached locations.
func (c *MediaCache) Len() int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.index)
}

func (c *MediaCache) removeLocked(element *list.Element) {
	if element == nil {
		return
	}
	entry := element.Value.(*mediaEntry)
	c.lru.Remove(element)
	delete(c.index, entry.key)
}
