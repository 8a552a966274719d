package store

import (
	"context"

	"gorm.io/gorm"
)

// AddMembers inserts the given users into a room and returns their
// member profiles. Existing memberships are skipped.
func (s *Store) AddMembers(ctx context.Context, roomID int64, userIDs []int64) ([]MemberInfo, error) {
	added := make([]int64, 0, len(userIDs))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []int64
		if err := tx.Model(&Member{}).
			Where("room_id = ? AND user_id IN ?", roomID, userIDs).
			Pluck("user_id", &existing).Error; err != nil {
			return err
		}
		present := make(map[int64]bool, len(existing))
		for _, id := range existing {
			present[id] = true
		}
		members := make([]Member, 0, len(userIDs))
		for _, id := range userIDs {
			if present[id] {
				continue
			}
			members = append(members, Member{RoomID: roomID, UserID: id, Rank: RankMember})
			added = append(added, id)
		}
		if len(members) == 0 {
			return nil
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, wrapDB(err)
	}
	if len(added) == 0 {
		return []MemberInfo{}, nil
	}

	var infos []MemberInfo
	err = s.db.WithContext(ctx).
		Table("members").
		Select("users.id, users.nickname AS name, users.avatar, members.rank, members.join_at").
		Joins("JOIN users ON users.id = members.user_id").
		Where("members.room_id = ? AND members.user_id IN ?", roomID, added).
		Scan(&infos).Error
	if err != nil {
		return nil, wrapDB(err)
	}
	return infos, nil
}

// DeleteMembers removes users from a room, never touching owners, and
// returns the ids actually removed.
func (s *Store) DeleteMembers(ctx context.Context, roomID int64, userIDs []int64) ([]int64, error) {
	var removed []int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Member{}).
			Where("room_id = ? AND user_id IN ? AND rank <> ?", roomID, userIDs, RankOwner).
			Pluck("user_id", &removed).Error; err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}
		return tx.Where("room_id = ? AND user_id IN ?", roomID, removed).
			Delete(&Member{}).Error
	})
	if err != nil {
		return nil, wrapDB(err)
	}
	return removed, nil
}
