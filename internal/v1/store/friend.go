package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/quillchat/backend/internal/v1/errs"
)

// GetFriend looks a friendship row up regardless of direction.
func (s *Store) GetFriend(ctx context.Context, a, b int64) (*Friend, error) {
	var friend Friend
	err := s.db.WithContext(ctx).
		Where("(requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?)",
			a, b, b, a).
		First(&friend).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, wrapDB(err)
	}
	return &friend, nil
}

// CreateFriend opens a friendship request, creating the private room
// the pair will chat in once accepted.
func (s *Store) CreateFriend(ctx context.Context, requesterID, addresseeID int64) (*Friend, error) {
	friend := &Friend{
		RequesterID: requesterID,
		AddresseeID: addresseeID,
		Status:      StatusAdding,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room := &Room{
			Name:     PrivateRoomName,
			Cover:    PrivateRoomCover,
			Category: CategoryPrivate,
		}
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		friend.RoomID = room.ID
		return tx.Create(friend).Error
	})
	if err != nil {
		return nil, wrapDB(err)
	}
	return friend, nil
}

// ReviveFriend re-requests a deleted friendship, reusing its room. The
// direction is rewritten to the new requester.
func (s *Store) ReviveFriend(ctx context.Context, requesterID, addresseeID int64) (*Friend, error) {
	res := s.db.WithContext(ctx).Model(&Friend{}).
		Where("((requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?)) AND status = ?",
			requesterID, addresseeID, addresseeID, requesterID, StatusDeleted).
		Updates(map[string]any{
			"requester_id": requesterID,
			"addressee_id": addresseeID,
			"status":       StatusAdding,
		})
	if res.Error != nil {
		return nil, wrapDB(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errs.ErrFriendStatus
	}
	return s.GetFriend(ctx, requesterID, addresseeID)
}

// AcceptFriend marks a pending request accepted and seats both users
// in the friendship's room.
func (s *Store) AcceptFriend(ctx context.Context, friend *Friend) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Friend{}).
			Where("requester_id = ? AND addressee_id = ? AND status = ?",
				friend.RequesterID, friend.AddresseeID, StatusAdding).
			Update("status", StatusAccepted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.ErrFriendStatus
		}
		members := []Member{
			{RoomID: friend.RoomID, UserID: friend.RequesterID, Rank: RankMember},
			{RoomID: friend.RoomID, UserID: friend.AddresseeID, Rank: RankMember},
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			return e
		}
		return wrapDB(err)
	}
	friend.Status = StatusAccepted
	return nil
}

// RefuseFriend declines a pending request.
func (s *Store) RefuseFriend(ctx context.Context, friend *Friend) error {
	res := s.db.WithContext(ctx).Model(&Friend{}).
		Where("requester_id = ? AND addressee_id = ? AND status = ?",
			friend.RequesterID, friend.AddresseeID, StatusAdding).
		Update("status", StatusDeleted)
	if res.Error != nil {
		return wrapDB(res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrFriendStatus
	}
	friend.Status = StatusDeleted
	return nil
}

// DeleteFriend ends an accepted friendship and clears both seats from
// its room. The room row stays so a later revival reuses it.
func (s *Store) DeleteFriend(ctx context.Context, friend *Friend) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Friend{}).
			Where("requester_id = ? AND addressee_id = ? AND status = ?",
				friend.RequesterID, friend.AddresseeID, StatusAccepted).
			Update("status", StatusDeleted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.ErrFriendStatus
		}
		return tx.Where("room_id = ?", friend.RoomID).Delete(&Member{}).Error
	})
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			return e
		}
		return wrapDB(err)
	}
	friend.Status = StatusDeleted
	return nil
}

// friendInfoFor describes one side of a friendship. First marks the
// described user as the original requester.
func friendInfoFor(f *Friend, described *User) FriendInfo {
	return FriendInfo{
		ID:       described.ID,
		Username: described.Username,
		Nickname: described.Nickname,
		Avatar:   described.Avatar,
		Status:   f.Status,
		RoomID:   f.RoomID,
		First:    f.RequesterID == described.ID,
		CreateAt: f.CreateAt,
	}
}

// GetFriendViews returns the FriendInfo describing the requester and
// the one describing the addressee, in that order.
func (s *Store) GetFriendViews(ctx context.Context, friend *Friend) (*FriendInfo, *FriendInfo, error) {
	requester, err := s.GetUser(ctx, friend.RequesterID)
	if err != nil {
		return nil, nil, err
	}
	addressee, err := s.GetUser(ctx, friend.AddresseeID)
	if err != nil {
		return nil, nil, err
	}
	rv := friendInfoFor(friend, requester)
	av := friendInfoFor(friend, addressee)
	return &rv, &av, nil
}

// GetFriendRoom returns the friendship's room as seen by one side: a
// private room is displayed under the counterpart's name and avatar.
func (s *Store) GetFriendRoom(ctx context.Context, friend *Friend, viewerID int64) (*RoomInfo, error) {
	counterpartID := friend.RequesterID
	if viewerID == friend.RequesterID {
		counterpartID = friend.AddresseeID
	}
	counterpart, err := s.GetUser(ctx, counterpartID)
	if err != nil {
		return nil, err
	}
	room, err := s.GetRoom(ctx, friend.RoomID)
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
		Name:     counterpart.Nickname,
		Cover:    counterpart.Avatar,
		Category: room.Category,
		CreateAt: room.CreateAt,
		Members:  members,
		Messages: messages,
	}, nil
}

// GetUserFriends lists the user's visible friendships (pending and
// accepted), each described from the user's point of view.
func (s *Store) GetUserFriends(ctx context.Context, userID int64) ([]FriendInfo, error) {
	var friends []Friend
	err := s.db.WithContext(ctx).
		Where("(requester_id = ? OR addressee_id = ?) AND status <> ?",
			userID, userID, StatusDeleted).
		Order("create_at").
		Find(&friends).Error
	if err != nil {
		return nil, wrapDB(err)
	}

	infos := make([]FriendInfo, 0, len(friends))
	for i := range friends {
		f := &friends[i]
		counterpartID := f.RequesterID
		if counterpartID == userID {
			counterpartID = f.AddresseeID
		}
		counterpart, err := s.GetUser(ctx, counterpartID)
		if err != nil {
			return nil, err
		}
		infos = append(infos, friendInfoFor(f, counterpart))
	}
	return infos, nil
}
