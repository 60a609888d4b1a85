package tg

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"

	tgapi "github.com/gotd/td/tg"
)

func (c *gotdConn) RecentHistory(ctx context.Context, groupID int64, limit int) ([]Message, error) {
	peer, err := c.inputPeer(groupID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	res, err := c.api.MessagesGetHistory(ctx, &tgapi.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: limit,
	})
	if err != nil {
		return nil, wrapRPC(err)
	}
	return c.collectMessages(res, groupID), nil
}

func (c *gotdConn) SearchHistory(ctx context.Context, groupID int64, query string, limit int) ([]Message, error) {
	peer, err := c.inputPeer(groupID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	res, err := c.api.MessagesSearch(ctx, &tgapi.MessagesSearchRequest{
		Peer:   peer,
		Q:      query,
		Filter: &tgapi.InputMessagesFilterEmpty{},
		Limit:  limit,
	})
	if err != nil {
		return nil, wrapRPC(err)
	}
	return c.collectMessages(res, groupID), nil
}

func (c *gotdConn) SendText(ctx context.Context, groupID int64, text string) (int, error) {
	return c.send(ctx, groupID, 0, text)
}

func (c *gotdConn) Reply(ctx context.Context, groupID int64, replyToID int, text string) (int, error) {
	return c.send(ctx, groupID, replyToID, text)
}

func (c *gotdConn) send(ctx context.Context, groupID int64, replyToID int, text string) (int, error) {
	peer, err := c.inputPeer(groupID)
	if err != nil {
		return 0, err
	}

	req := &tgapi.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: randomID(),
	}
	if replyToID != 0 {
		req.ReplyTo = &tgapi.InputReplyToMessage{ReplyToMsgID: replyToID}
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	upd, err := c.api.MessagesSendMessage(ctx, req)
	if err != nil {
		return 0, wrapRPC(err)
	}
	return sentMessageID(upd), nil
}

// OnMessage registers h for inbound messages. The returned func removes
// the registration; the transport-level subscription itself lives for the
// whole connection.
func (c *gotdConn) OnMessage(h func(Message)) func() {
	c.handlersMu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.handlers[id] = h
	c.handlersMu.Unlock()

	return func() {
		c.handlersMu.Lock()
		delete(c.handlers, id)
		c.handlersMu.Unlock()
	}
}

// bindDispatcher routes both plain-group and channel message updates into
// the registered handlers. Registered once per connection.
func (c *gotdConn) bindDispatcher(d tgapi.UpdateDispatcher) {
	d.OnNewMessage(func(_ context.Context, e tgapi.Entities, u *tgapi.UpdateNewMessage) error {
		c.dispatchMessage(u.Message, e)
		return nil
	})
	d.OnNewChannelMessage(func(_ context.Context, e tgapi.Entities, u *tgapi.UpdateNewChannelMessage) error {
		c.dispatchMessage(u.Message, e)
		return nil
	})
}

func (c *gotdConn) dispatchMessage(mc tgapi.MessageClass, e tgapi.Entities) {
	msg, ok := mc.(*tgapi.Message)
	if !ok {
		return
	}

	// Inbound entities are the only source of access hashes for groups the
	// account was already a member of before this process started.
	for id, ch := range e.Channels {
		c.rememberChannel(id, ch.AccessHash)
	}
	for id := range e.Chats {
		c.rememberChat(id)
	}

	m := normalizeMessage(msg, senderIndex{users: e.Users, chats: e.Chats, channels: e.Channels})
	if m == nil {
		return
	}

	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	for _, h := range c.handlers {
		h(*m)
	}
}

// senderIndex resolves sender identity from the entity set that
// accompanies updates or history responses.
type senderIndex struct {
	users    map[int64]*tgapi.User
	chats    map[int64]*tgapi.Chat
	channels map[int64]*tgapi.Channel
}

func (c *gotdConn) collectMessages(res tgapi.MessagesMessagesClass, groupID int64) []Message {
	var (
		raw   []tgapi.MessageClass
		users []tgapi.UserClass
		chats []tgapi.ChatClass
	)
	switch v := res.(type) {
	case *tgapi.MessagesMessages:
		raw, users, chats = v.Messages, v.Users, v.Chats
	case *tgapi.MessagesMessagesSlice:
		raw, users, chats = v.Messages, v.Users, v.Chats
	case *tgapi.MessagesChannelMessages:
		raw, users, chats = v.Messages, v.Users, v.Chats
	default:
		return nil
	}

	idx := senderIndex{
		users:    make(map[int64]*tgapi.User),
		chats:    make(map[int64]*tgapi.Chat),
		channels: make(map[int64]*tgapi.Channel),
	}
	for _, u := range users {
		if usr, ok := u.(*tgapi.User); ok {
			idx.users[usr.ID] = usr
		}
	}
	for _, ch := range chats {
		switch v := ch.(type) {
		case *tgapi.Chat:
			idx.chats[v.ID] = v
		case *tgapi.Channel:
			idx.channels[v.ID] = v
			c.rememberChannel(v.ID, v.AccessHash)
		}
	}

	var out []Message
	for _, mc := range raw {
		msg, ok := mc.(*tgapi.Message)
		if !ok {
			continue
		}
		if m := normalizeMessage(msg, idx); m != nil && m.GroupID == groupID {
			out = append(out, *m)
		}
	}
	return out
}

// normalizeMessage reduces a raw message to the canonical shape. Returns
// nil for private-chat messages and service messages without text.
func normalizeMessage(msg *tgapi.Message, idx senderIndex) *Message {
	var groupID int64
	switch peer := msg.PeerID.(type) {
	case *tgapi.PeerChat:
		groupID = peer.ChatID
	case *tgapi.PeerChannel:
		groupID = peer.ChannelID
	default:
		return nil
	}

	m := &Message{
		ID:       msg.ID,
		GroupID:  groupID,
		Text:     msg.Message,
		Date:     time.Unix(int64(msg.Date), 0),
		FromSelf: msg.Out,
	}

	switch from := msg.FromID.(type) {
	case *tgapi.PeerUser:
		m.SenderID = from.UserID
		if u, ok := idx.users[from.UserID]; ok {
			m.SenderName = User{FirstName: u.FirstName, LastName: u.LastName, Username: u.Username}.DisplayName()
			m.SenderUsername = u.Username
		} else {
			m.SenderName = "unknown"
		}
	case *tgapi.PeerChannel:
		m.SenderID = from.ChannelID
		if ch, ok := idx.channels[from.ChannelID]; ok {
			m.SenderName = ch.Title
			m.SenderUsername = ch.Username
		} else {
			m.SenderName = "unknown"
		}
	default:
		// Anonymous post: the group itself is the sender.
		m.SenderID = groupID
		if ch, ok := idx.channels[groupID]; ok {
			m.SenderName = ch.Title
		} else if chat, ok := idx.chats[groupID]; ok {
			m.SenderName = chat.Title
		} else {
			m.SenderName = "unknown"
		}
	}
	return m
}

func sentMessageID(upd tgapi.UpdatesClass) int {
	switch v := upd.(type) {
	case *tgapi.UpdateShortSentMessage:
		return v.ID
	case *tgapi.Updates:
		for _, u := range v.Updates {
			switch iu := u.(type) {
			case *tgapi.UpdateMessageID:
				return iu.ID
			case *tgapi.UpdateNewChannelMessage:
				if m, ok := iu.Message.(*tgapi.Message); ok {
					return m.ID
				}
			}
		}
	}
	return 0
}

func randomID() int64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return int64(binary.LittleEndian.Uint64(b[:]))
}
