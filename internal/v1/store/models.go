package store

import "time"

// Enumerated column values shared with the event protocol.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	RankOwner  = "owner"
	RankMember = "member"

	StatusAdding   = "adding"
	StatusAccepted = "accepted"
	StatusDeleted  = "deleted"

	CategoryPublic   = "public"
	CategoryPrivate  = "private"
	CategoryPersonal = "personal"

	KindText  = "text"
	KindImage = "image"
	KindFile  = "file"

	PersonalRoomName  = "My Device"
	PersonalRoomCover = "/cover/personal"
	PrivateRoomName   = "My Friend"
	PrivateRoomCover  = "/cover/personal"
	PublicRoomCover   = "/cover/public"
	DefaultAvatar     = "/avatar/default"
)

// MessagesPerRoom bounds the cached history per room.
const MessagesPerRoom = 60

// RecentMessageCount is how much history initialize returns per room.
const RecentMessageCount = 16

// --- Relational models ---

type User struct {
	ID             int64  `gorm:"primaryKey"`
	Username       string `gorm:"size:50;uniqueIndex"`
	HashedPassword string
	Nickname       string `gorm:"size:50"`
	Avatar         string `gorm:"size:200"`
	Role           string `gorm:"size:10"`
	Deleted        bool
	RoomID         int64     // personal room
	CreateAt       time.Time `gorm:"autoCreateTime"`
}

type Room struct {
	ID       int64     `gorm:"primaryKey"`
	Name     string    `gorm:"size:50"`
	Cover    string    `gorm:"size:200"`
	Category string    `gorm:"size:10"`
	CreateAt time.Time `gorm:"autoCreateTime"`
}

type Member struct {
	RoomID int64     `gorm:"primaryKey"`
	UserID int64     `gorm:"primaryKey"`
	Rank   string    `gorm:"size:10"`
	JoinAt time.Time `gorm:"autoCreateTime"`
}

// Friend is one friendship row; the pair (requester, addressee) is
// unique regardless of direction, enforced by GetFriend's symmetric
// lookup.
type Friend struct {
	RequesterID int64     `gorm:"primaryKey"`
	AddresseeID int64     `gorm:"primaryKey"`
	RoomID      int64     // the private room created with the request
	Status      string    `gorm:"size:10"`
	CreateAt    time.Time `gorm:"autoCreateTime"`
}

// --- Read models returned to the protocol layer ---

type UserInfo struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Nickname string    `json:"nickname"`
	Avatar   string    `json:"avatar"`
	Role     string    `json:"role"`
	CreateAt time.Time `json:"createAt"`
}

type MemberInfo struct {
	ID     int64     `json:"id"`
	Name   string    `json:"name"`
	Avatar string    `json:"avatar"`
	Rank   string    `json:"rank"`
	JoinAt time.Time `json:"joinAt"`
}

type MessageInfo struct {
	ID      int64     `json:"id"`
	SID     int64     `json:"sid"` // sender id
	Name    string    `json:"name"`
	Avatar  string    `json:"avatar"`
	Content string    `json:"content"`
	Kind    string    `json:"kind"`
	Divide  bool      `json:"divide"` // first message of a new day
	SendAt  time.Time `json:"sendAt"`
}

type RoomInfo struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name"`
	Cover    string        `json:"cover"`
	Category string        `json:"category"`
	CreateAt time.Time     `json:"createAt"`
	Members  []MemberInfo  `json:"members"`
	Messages []MessageInfo `json:"messages"`
}

// FriendInfo describes the counterpart of a friendship from one side's
// point of view. First marks the described user as the requester.
type FriendInfo struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Nickname string    `json:"nickname"`
	Avatar   string    `json:"avatar"`
	Status   string    `json:"status"`
	RoomID   int64     `json:"roomId"`
	First    bool      `json:"first"`
	CreateAt time.Time `json:"createAt"`
}

// Info is the public view of a user row.
func (u *User) Info() UserInfo {
	return UserInfo{
		ID:       u.ID,
		Username: u.Username,
		Nickname: u.Nickname,
		Avatar:   u.Avatar,
		Role:     u.Role,
		CreateAt: u.CreateAt,
	}
}
