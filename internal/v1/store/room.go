package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/quillchat/backend/internal/v1/errs"
)

// GetRank returns the caller's rank in a room, or ErrNotInRoom when
// they are not a member.
func (s *Store) GetRank(ctx context.Context, roomID, userID int64) (string, error) {
	var member Member
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", errs.ErrNotInRoom
		}
		return "", wrapDB(err)
	}
	return member.Rank, nil
}

// GetRoom loads a room by id.
func (s *Store) GetRoom(ctx context.Context, id int64) (*Room, error) {
	var room Room
	if err := s.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return nil, wrapDB(err)
	}
	return &room, nil
}

// GetRoomMembers lists the members of one room with their profiles.
func (s *Store) GetRoomMembers(ctx context.Context, roomID int64) ([]MemberInfo, error) {
	var members []MemberInfo
	err := s.db.WithContext(ctx).
		Table("members").
		Select("users.id, users.nickname AS name, users.avatar, members.rank, members.join_at").
		Joins("JOIN users ON users.id = members.user_id").
		Where("members.room_id = ?", roomID).
		Order("members.join_at").
		Scan(&members).Error
	if err != nil {
		return nil, wrapDB(err)
	}
	return members, nil
}

// GetRoomInfo returns one room with its members and recent history.
func (s *Store) GetRoomInfo(ctx context.Context, roomID int64) (*RoomInfo, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	members, err := s.GetRoomMembers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	messages, err := s.cache.RecentMessages(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	return &RoomInfo{
		ID:       room.ID,
		Name:     room.Name,
		Cover:    room.Cover,
		Category: room.Category,
		CreateAt: room.CreateAt,
		Members:  members,
		Messages: messages,
	}, nil
}

// GetUserRooms assembles the initialize payload: every room the user
// belongs to, each carrying its member list and recent history. refTS
// is the client's clock in milliseconds; replayed messages are flagged
// with a divider whenever the day changes relative to it.
func (s *Store) GetUserRooms(ctx context.Context, userID, refTS int64) ([]RoomInfo, error) {
	var rooms []Room
	err := s.db.WithContext(ctx).
		Joins("JOIN members ON members.room_id = rooms.id").
		Where("members.user_id = ?", userID).
		Order("rooms.create_at").
		Find(&rooms).Error
	if err != nil {
		return nil, wrapDB(err)
	}

	infos := make([]RoomInfo, 0, len(rooms))
	for i := range rooms {
		room := &rooms[i]
		members, err := s.GetRoomMembers(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		messages, err := s.cache.RecentMessages(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		markDividers(messages, refTS)
		name, cover := room.Name, room.Cover
		// A private room is displayed under the counterpart's identity.
		if room.Category == CategoryPrivate {
			for _, m := range members {
				if m.ID != userID {
					name, cover = m.Name, m.Avatar
					break
				}
			}
		}
		infos = append(infos, RoomInfo{
			ID:       room.ID,
			Name:     name,
			Cover:    cover,
			Category: room.Category,
			CreateAt: room.CreateAt,
			Members:  members,
			Messages: messages,
		})
	}
	return infos, nil
}

const millisPerDay = 86400000

// markDividers walks a room's history oldest first and flags each
// message that opens a new day, measured against refTS.
func markDividers(messages []MessageInfo, refTS int64) {
	var offset int64
	for i := range messages {
		newOffset := (refTS - messages[i].SendAt.UnixMilli()) / millisPerDay
		if newOffset != offset {
			messages[i].Divide = true
			offset = newOffset
		}
	}
}

// CreateRoom creates a public room. The first listed member becomes
// owner; the rest join as plain members.
func (s *Store) CreateRoom(ctx context.Context, name string, memberIDs []int64) (*RoomInfo, error) {
	room := &Room{Name: name, Cover: PublicRoomCover, Category: CategoryPublic}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		members := make([]Member, len(memberIDs))
		for i, id := range memberIDs {
			rank := RankMember
			if i == 0 {
				rank = RankOwner
			}
			members[i] = Member{RoomID: room.ID, UserID: id, Rank: rank}
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, wrapDB(err)
	}

	members, err := s.GetRoomMembers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	return &RoomInfo{
		ID:       room.ID,
		Name:     room.Name,
		Cover:    room.Cover,
		Category: room.Category,
		CreateAt: room.CreateAt,
		Members:  members,
		Messages: []MessageInfo{},
	}, nil
}

// UpdateRoom renames a room and/or swaps its cover.
func (s *Store) UpdateRoom(ctx context.Context, roomID int64, name, cover string) error {
	updates := map[string]any{}
	if name != "" {
		updates["name"] = name
	}
	if cover != "" {
		updates["cover"] = cover
	}
	if len(updates) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&Room{}).Where("id = ?", roomID).Updates(updates)
	if res.Error != nil {
		return wrapDB(res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// DeleteRoom removes a room with its memberships and cached history,
// returning the ids of the users that were in it.
func (s *Store) DeleteRoom(ctx context.Context, roomID int64) ([]int64, error) {
	var memberIDs []int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Member{}).Where("room_id = ?", roomID).
			Pluck("user_id", &memberIDs).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&Member{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Room{}, roomID).Error
	})
	if err != nil {
		return nil, wrapDB(err)
	}
	if err := s.cache.DropRoomMessages(ctx, roomID); err != nil {
		return nil, err
	}
	return memberIDs, nil
}
