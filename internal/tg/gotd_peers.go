package tg

import (
	"context"
	"fmt"

	tgapi "github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// peerInfo caches the access hash needed to address a previously-seen
// entity in raw API calls. Basic groups have no hash.
type peerInfo struct {
	accessHash int64
	channel    bool
}

func (c *gotdConn) rememberChannel(id, accessHash int64) {
	c.peersMu.Lock()
	c.peers[id] = peerInfo{accessHash: accessHash, channel: true}
	c.peersMu.Unlock()
}

func (c *gotdConn) rememberChat(id int64) {
	c.peersMu.Lock()
	c.peers[id] = peerInfo{}
	c.peersMu.Unlock()
}

func (c *gotdConn) peer(id int64) (peerInfo, bool) {
	c.peersMu.RLock()
	defer c.peersMu.RUnlock()
	p, ok := c.peers[id]
	return p, ok
}

// inputPeer builds an InputPeer for a known entity. Entities only become
// known through dialogs, search, resolve, or inbound updates.
func (c *gotdConn) inputPeer(id int64) (tgapi.InputPeerClass, error) {
	p, ok := c.peer(id)
	if !ok {
		return nil, ErrPeerNotFound
	}
	if p.channel {
		return &tgapi.InputPeerChannel{ChannelID: id, AccessHash: p.accessHash}, nil
	}
	return &tgapi.InputPeerChat{ChatID: id}, nil
}

// summarize maps a raw chat entity to a GroupSummary and feeds the peer
// cache. Returns nil for forbidden or deactivated entities.
func (c *gotdConn) summarize(chat tgapi.ChatClass) *GroupSummary {
	switch v := chat.(type) {
	case *tgapi.Chat:
		if v.Deactivated {
			return nil
		}
		c.rememberChat(v.ID)
		_, hasPhoto := v.Photo.(*tgapi.ChatPhoto)
		return &GroupSummary{
			ID:          v.ID,
			Title:       v.Title,
			MemberCount: v.ParticipantsCount,
			IsGroup:     true,
			HasPhoto:    hasPhoto,
		}
	case *tgapi.Channel:
		c.rememberChannel(v.ID, v.AccessHash)
		_, hasPhoto := v.Photo.(*tgapi.ChatPhoto)
		return &GroupSummary{
			ID:          v.ID,
			Title:       v.Title,
			Username:    v.Username,
			MemberCount: v.ParticipantsCount,
			IsChannel:   true,
			IsGroup:     v.Megagroup,
			IsBroadcast: v.Broadcast,
			IsVerified:  v.Verified,
			HasPhoto:    hasPhoto,
		}
	default:
		return nil
	}
}

func (c *gotdConn) Dialogs(ctx context.Context, limit int) ([]Dialog, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	res, err := c.api.MessagesGetDialogs(ctx, &tgapi.MessagesGetDialogsRequest{
		Limit:      limit,
		OffsetPeer: &tgapi.InputPeerEmpty{},
	})
	if err != nil {
		return nil, wrapRPC(err)
	}

	var chats []tgapi.ChatClass
	switch d := res.(type) {
	case *tgapi.MessagesDialogs:
		chats = d.Chats
	case *tgapi.MessagesDialogsSlice:
		chats = d.Chats
	default:
		return nil, fmt.Errorf("unexpected dialogs type %T", res)
	}

	out := make([]Dialog, 0, len(chats))
	for _, chat := range chats {
		if s := c.summarize(chat); s != nil {
			out = append(out, Dialog{Entity: s})
		}
	}
	return out, nil
}

func (c *gotdConn) SearchPublic(ctx context.Context, query string, limit int) ([]GroupSummary, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	found, err := c.api.ContactsSearch(ctx, &tgapi.ContactsSearchRequest{
		Q:     query,
		Limit: limit,
	})
	if err != nil {
		return nil, wrapRPC(err)
	}

	out := make([]GroupSummary, 0, len(found.Chats))
	for _, chat := range found.Chats {
		if s := c.summarize(chat); s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (c *gotdConn) ResolveUsername(ctx context.Context, username string) (*GroupSummary, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	res, err := c.api.ContactsResolveUsername(ctx, &tgapi.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		if tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID") {
			return nil, ErrPeerNotFound
		}
		return nil, wrapRPC(err)
	}
	for _, chat := range res.Chats {
		if s := c.summarize(chat); s != nil {
			c.enrich(ctx, s)
			return s, nil
		}
	}
	return nil, ErrPeerNotFound
}

func (c *gotdConn) ResolveID(ctx context.Context, id int64) (*GroupSummary, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	p, known := c.peer(id)
	if known && p.channel {
		res, err := c.api.ChannelsGetChannels(ctx, []tgapi.InputChannelClass{
			&tgapi.InputChannel{ChannelID: id, AccessHash: p.accessHash},
		})
		if err != nil {
			return nil, wrapRPC(err)
		}
		for _, chat := range chatsOf(res) {
			if s := c.summarize(chat); s != nil && s.ID == id {
				c.enrich(ctx, s)
				return s, nil
			}
		}
		return nil, ErrPeerNotFound
	}

	// Basic groups resolve by bare id; also the fallback for ids never seen.
	res, err := c.api.MessagesGetChats(ctx, []int64{id})
	if err != nil {
		return nil, wrapRPC(err)
	}
	for _, chat := range chatsOf(res) {
		if s := c.summarize(chat); s != nil && s.ID == id {
			return s, nil
		}
	}
	return nil, ErrPeerNotFound
}

// enrich fills About and an accurate member count from full channel info.
// Best-effort: summaries stay usable when the extra call fails.
func (c *gotdConn) enrich(ctx context.Context, s *GroupSummary) {
	if !s.IsChannel {
		return
	}
	p, ok := c.peer(s.ID)
	if !ok || !p.channel {
		return
	}
	full, err := c.api.ChannelsGetFullChannel(ctx, &tgapi.InputChannel{
		ChannelID:  s.ID,
		AccessHash: p.accessHash,
	})
	if err != nil {
		return
	}
	if cf, ok := full.FullChat.(*tgapi.ChannelFull); ok {
		s.About = cf.About
		if cf.ParticipantsCount > 0 {
			s.MemberCount = cf.ParticipantsCount
		}
	}
}

func (c *gotdConn) JoinChannel(ctx context.Context, username string) (*GroupSummary, error) {
	s, err := c.ResolveUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	p, ok := c.peer(s.ID)
	if !ok || !p.channel {
		return nil, ErrPeerNotFound
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	if _, err := c.api.ChannelsJoinChannel(ctx, &tgapi.InputChannel{
		ChannelID:  s.ID,
		AccessHash: p.accessHash,
	}); err != nil {
		return nil, wrapRPC(err)
	}
	return s, nil
}

func (c *gotdConn) LeaveChannel(ctx context.Context, id int64) error {
	p, ok := c.peer(id)
	if !ok {
		return ErrPeerNotFound
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	if p.channel {
		_, err := c.api.ChannelsLeaveChannel(ctx, &tgapi.InputChannel{
			ChannelID:  id,
			AccessHash: p.accessHash,
		})
		return wrapRPC(err)
	}
	_, err := c.api.MessagesDeleteChatUser(ctx, &tgapi.MessagesDeleteChatUserRequest{
		ChatID: id,
		UserID: &tgapi.InputUserSelf{},
	})
	return wrapRPC(err)
}

func chatsOf(res tgapi.MessagesChatsClass) []tgapi.ChatClass {
	switch v := res.(type) {
	case *tgapi.MessagesChats:
		return v.Chats
	case *tgapi.MessagesChatsSlice:
		return v.Chats
	default:
		return nil
	}
}
