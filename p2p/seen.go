package p2p

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"lnsim/core/types"
)

const defaultSeenSize = 4096

type updateKey struct {
	channel   types.ChannelID
	signer    types.NodeID
	timestamp uint64
}

// SeenCache deduplicates gossip before it is accepted or relayed.
// Announcements are keyed by channel id, updates by (channel, signer, timestamp).
type SeenCache struct {
	announcements *lru.Cache
	updates       *lru.Cache
}

// NewSeenCache builds a cache holding up to size entries per message kind.
func NewSeenCache(size int) (*SeenCache, error) {
	if size <= 0 {
		size = defaultSeenSize
	}
	ann, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("p2p: announcement cache: %w", err)
	}
	upd, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("p2p: update cache: %w", err)
	}
	return &SeenCache{announcements: ann, updates: upd}, nil
}

// FirstAnnouncement records id and reports whether it was new.
func (c *SeenCache) FirstAnnouncement(id types.ChannelID) bool {
	seen, _ := c.announcements.ContainsOrAdd(id, struct{}{})
	return !seen
}

// SeenUpdate reports whether the update was already recorded, without recording it.
func (c *SeenCache) SeenUpdate(u *types.ChannelUpdate) bool {
	return c.updates.Contains(updateKey{u.ChannelID, u.Signer, u.Timestamp})
}

// MarkUpdate records the update.
func (c *SeenCache) MarkUpdate(u *types.ChannelUpdate) {
	c.updates.Add(updateKey{u.ChannelID, u.Signer, u.Timestamp}, struct{}{})
}

// ForgetAnnouncement drops id so a later announcement is accepted again.
func (c *SeenCache) ForgetAnnouncement(id types.ChannelID) {
	c.announcements.Remove(id)
}

// Len returns the number of remembered announcements and updates.
func (c *SeenCache) Len() (announcements, updates int) {
	return c.announcements.Len(), c.updates.Len()
}

// Announcements returns the remembered channel ids, oldest first.
func (c *SeenCache) Announcements() []types.ChannelID {
	keys := c.announcements.Keys()
	out := make([]types.ChannelID, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.(types.ChannelID))
	}
	return out
}
