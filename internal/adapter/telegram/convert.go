package telegram

import (
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
)

const (
	dialogTypeChannel = "Channel"
	dialogTypeChat    = "Chat"
	dialogTypeUser    = "User"
)

// extractPeers lists dialogs in server order joined with their entities.
func extractPeers(resp tg.ModifiedMessagesDialogs) []peerEntry {
	channels := make(map[int64]*tg.Channel)
	chats := make(map[int64]*tg.Chat)
	for _, ch := range resp.GetChats() {
		switch v := ch.(type) {
		case *tg.Channel:
			channels[v.ID] = v
		case *tg.Chat:
			chats[v.ID] = v
		}
	}
	users := make(map[int64]*tg.User)
	for _, u := range resp.GetUsers() {
		if v, ok := u.(*tg.User); ok {
			users[v.ID] = v
		}
	}

	var out []peerEntry
	for _, d := range resp.GetDialogs() {
		dlg, ok := d.(*tg.Dialog)
		if !ok {
			continue
		}
		switch p := dlg.Peer.(type) {
		case *tg.PeerChannel:
			if ch, ok := channels[p.ChannelID]; ok {
				out = append(out, peerEntry{
					dialog: domain.Dialog{ID: ch.ID, Name: ch.Title, Username: ch.Username, Type: dialogTypeChannel},
					input:  &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
				})
			}
		case *tg.PeerChat:
			if ch, ok := chats[p.ChatID]; ok {
				out = append(out, peerEntry{
					dialog: domain.Dialog{ID: ch.ID, Name: ch.Title, Type: dialogTypeChat},
					input:  &tg.InputPeerChat{ChatID: ch.ID},
				})
			}
		case *tg.PeerUser:
			if u, ok := users[p.UserID]; ok {
				out = append(out, peerEntry{
					dialog: domain.Dialog{ID: u.ID, Name: userName(u), Username: u.Username, Type: dialogTypeUser},
					input:  &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash},
				})
			}
		}
	}
	return out
}

func userName(u *tg.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// convertMessages keeps regular messages and drops service entries.
func convertMessages(msgs []tg.MessageClass, chatID int64) []domain.Message {
	out := make([]domain.Message, 0, len(msgs))
	for _, mc := range msgs {
		m, ok := mc.(*tg.Message)
		if !ok {
			continue
		}
		out = append(out, convertMessage(m, chatID))
	}
	return out
}

// nextOffset returns the history offset following a raw page: the id of its
// last message, service messages included. An empty page ends the history.
func nextOffset(msgs []tg.MessageClass) (int, bool) {
	if len(msgs) == 0 {
		return 0, false
	}
	return msgs[len(msgs)-1].GetID(), true
}

func convertMessage(m *tg.Message, chatID int64) domain.Message {
	msg := domain.Message{
		ID:     int64(m.ID),
		ChatID: chatID,
		Date:   time.Unix(int64(m.Date), 0).UTC(),
	}
	if m.Message != "" {
		text := m.Message
		msg.Text = &text
	}
	if from, ok := m.GetFromID(); ok {
		msg.SenderID = peerID(from)
	}
	if media, ok := m.GetMedia(); ok && media != nil {
		desc := media.TypeName()
		msg.Media = &desc
	}
	return msg
}

func peerID(p tg.PeerClass) int64 {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID
	case *tg.PeerChannel:
		return v.ChannelID
	case *tg.PeerChat:
		return v.ChatID
	}
	return 0
}
