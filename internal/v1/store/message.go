package store

import (
	"context"
	"time"
)

// CreateMessage records a chat message. History is kept only in the
// cache; the relational side just supplies the sender's profile.
func (s *Store) CreateMessage(ctx context.Context, roomID, senderID int64, content, kind string) (*MessageInfo, error) {
	sender, err := s.GetUser(ctx, senderID)
	if err != nil {
		return nil, err
	}
	id, err := s.cache.NextMessageID(ctx)
	if err != nil {
		return nil, err
	}
	msg := &MessageInfo{
		ID:      id,
		SID:     senderID,
		Name:    sender.Nickname,
		Avatar:  sender.Avatar,
		Content: content,
		Kind:    kind,
		SendAt:  time.Now().UTC(),
	}
	if err := s.cache.PushMessage(ctx, roomID, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
