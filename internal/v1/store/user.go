package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/quillchat/backend/internal/v1/errs"
)

// CreateUser registers a user together with their personal room and
// its owner membership, in one transaction.
func (s *Store) CreateUser(ctx context.Context, username, hashedPassword, nickname string) (*UserInfo, error) {
	user := &User{
		Username:       username,
		HashedPassword: hashedPassword,
		Nickname:       nickname,
		Avatar:         DefaultAvatar,
		Role:           RoleUser,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		room := &Room{
			Name:     PersonalRoomName,
			Cover:    PersonalRoomCover,
			Category: CategoryPersonal,
		}
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		if err := tx.Create(&Member{RoomID: room.ID, UserID: user.ID, Rank: RankOwner}).Error; err != nil {
			return err
		}
		user.RoomID = room.ID
		return tx.Model(user).Update("room_id", room.ID).Error
	})
	if err != nil {
		return nil, wrapDB(err)
	}
	info := user.Info()
	return &info, nil
}

// EnsureAdmin creates the bootstrap admin account if it is missing.
// Idempotent across restarts.
func (s *Store) EnsureAdmin(ctx context.Context, username, hashedPassword, nickname string) (*UserInfo, error) {
	existing, err := s.GetUserByName(ctx, username)
	if err == nil {
		info := existing.Info()
		return &info, nil
	}
	if !errors.Is(err, errs.ErrUserNotExist) {
		return nil, err
	}

	info, err := s.CreateUser(ctx, username, hashedPassword, nickname)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", info.ID).
		Update("role", RoleAdmin).Error; err != nil {
		return nil, wrapDB(err)
	}
	info.Role = RoleAdmin
	return info, nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ? AND deleted = ?", id, false).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrUserNotExist
		}
		return nil, wrapDB(err)
	}
	return &user, nil
}

// GetUserByName loads a user by username, for login and friend search.
func (s *Store) GetUserByName(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("username = ? AND deleted = ?", username, false).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrUserNotExist
		}
		return nil, wrapDB(err)
	}
	return &user, nil
}

// FindUser returns the public view of a user by username.
func (s *Store) FindUser(ctx context.Context, username string) (*UserInfo, error) {
	user, err := s.GetUserByName(ctx, username)
	if err != nil {
		return nil, err
	}
	info := user.Info()
	return &info, nil
}

// UpdateUser changes the user's mutable profile fields.
func (s *Store) UpdateUser(ctx context.Context, id int64, nickname, avatar string) (*UserInfo, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if nickname != "" {
		updates["nickname"] = nickname
	}
	if avatar != "" {
		updates["avatar"] = avatar
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
			return nil, wrapDB(err)
		}
	}
	info := user.Info()
	return &info, nil
}

// ChangePassword swaps the stored hash.
func (s *Store) ChangePassword(ctx context.Context, id int64, hashedPassword string) error {
	res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).
		Update("hashed_password", hashedPassword)
	if res.Error != nil {
		return wrapDB(res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrUserNotExist
	}
	return nil
}
