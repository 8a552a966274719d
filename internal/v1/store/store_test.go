package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quillchat/backend/internal/v1/errs"
)

// newTestStore backs the Store with in-memory sqlite and miniredis.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	s := NewWithConns(db, rdb)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustCreateUser(t *testing.T, s *Store, username string) *UserInfo {
	t.Helper()
	u, err := s.CreateUser(context.Background(), username, "hashed", username+"-nick")
	require.NoError(t, err)
	return u
}

func TestCreateUser_PersonalRoomAndOwnership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	info := mustCreateUser(t, s, "alice")
	assert.Equal(t, "alice", info.Username)
	assert.Equal(t, RoleUser, info.Role)

	user, err := s.GetUser(ctx, info.ID)
	require.NoError(t, err)
	require.NotZero(t, user.RoomID)

	room, err := s.GetRoom(ctx, user.RoomID)
	require.NoError(t, err)
	assert.Equal(t, PersonalRoomName, room.Name)
	assert.Equal(t, CategoryPersonal, room.Category)

	rank, err := s.GetRank(ctx, user.RoomID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, RankOwner, rank)
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	s := newTestStore(t)
	mustCreateUser(t, s, "alice")

	_, err := s.CreateUser(context.Background(), "alice", "hashed", "other")
	require.Error(t, err)
	assert.Equal(t, errs.KindUniqueConstraint, errs.KindOf(err))
}

func TestGetUser_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetUser(context.Background(), 404)
	assert.ErrorIs(t, err, errs.ErrUserNotExist)

	_, err = s.GetUserByName(context.Background(), "nobody")
	assert.ErrorIs(t, err, errs.ErrUserNotExist)
}

func TestChangePassword(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	info := mustCreateUser(t, s, "alice")

	require.NoError(t, s.ChangePassword(ctx, info.ID, "rehashed"))
	user, err := s.GetUser(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, "rehashed", user.HashedPassword)

	assert.ErrorIs(t, s.ChangePassword(ctx, 404, "x"), errs.ErrUserNotExist)
}

func TestCreateRoom_FirstMemberOwnsIt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	bob := mustCreateUser(t, s, "bob")

	room, err := s.CreateRoom(ctx, "lounge", []int64{alice.ID, bob.ID})
	require.NoError(t, err)
	assert.Equal(t, "lounge", room.Name)
	assert.Equal(t, CategoryPublic, room.Category)
	assert.Len(t, room.Members, 2)
	assert.Empty(t, room.Messages)

	rank, err := s.GetRank(ctx, room.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, RankOwner, rank)

	rank, err = s.GetRank(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, RankMember, rank)
}

func TestGetRank_NotInRoom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	room, err := s.CreateRoom(ctx, "lounge", []int64{alice.ID})
	require.NoError(t, err)

	_, err = s.GetRank(ctx, room.ID, 404)
	assert.ErrorIs(t, err, errs.ErrNotInRoom)
}

func TestAddMembers_SkipsExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	bob := mustCreateUser(t, s, "bob")
	carol := mustCreateUser(t, s, "carol")

	room, err := s.CreateRoom(ctx, "lounge", []int64{alice.ID, bob.ID})
	require.NoError(t, err)

	added, err := s.AddMembers(ctx, room.ID, []int64{bob.ID, carol.ID})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, carol.ID, added[0].ID)
	assert.Equal(t, RankMember, added[0].Rank)
}

func TestDeleteMembers_NeverRemovesOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	bob := mustCreateUser(t, s, "bob")

	room, err := s.CreateRoom(ctx, "lounge", []int64{alice.ID, bob.ID})
	require.NoError(t, err)

	removed, err := s.DeleteMembers(ctx, room.ID, []int64{alice.ID, bob.ID})
	require.NoError(t, err)
	assert.Equal(t, []int64{bob.ID}, removed)

	rank, err := s.GetRank(ctx, room.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, RankOwner, rank)
}

func TestDeleteRoom_ReturnsMembersAndDropsHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	bob := mustCreateUser(t, s, "bob")

	room, err := s.CreateRoom(ctx, "lounge", []int64{alice.ID, bob.ID})
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, room.ID, alice.ID, "bye", KindText)
	require.NoError(t, err)

	memberIDs, err := s.DeleteRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{alice.ID, bob.ID}, memberIDs)

	_, err = s.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	msgs, err := s.cache.RecentMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCreateMessage_IDsIncreaseAndHistoryIsChronological(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	room, err := s.CreateRoom(ctx, "lounge", []int64{alice.ID})
	require.NoError(t, err)

	first, err := s.CreateMessage(ctx, room.ID, alice.ID, "one", KindText)
	require.NoError(t, err)
	second, err := s.CreateMessage(ctx, room.ID, alice.ID, "two", KindText)
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)
	assert.Equal(t, alice.Nickname, first.Name)

	msgs, err := s.cache.RecentMessages(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
}

func TestMessageHistory_WindowedToRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	room, err := s.CreateRoom(ctx, "lounge", []int64{alice.ID})
	require.NoError(t, err)

	for i := 0; i < MessagesPerRoom+10; i++ {
		_, err := s.CreateMessage(ctx, room.ID, alice.ID, fmt.Sprintf("msg-%d", i), KindText)
		require.NoError(t, err)
	}

	msgs, err := s.cache.RecentMessages(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, RecentMessageCount)
	// The newest message is last.
	assert.Equal(t, fmt.Sprintf("msg-%d", MessagesPerRoom+9), msgs[len(msgs)-1].Content)
}

func TestGetUserRooms_RenamesPrivateRooms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	bob := mustCreateUser(t, s, "bob")

	friend, err := s.CreateFriend(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.NoError(t, s.AcceptFriend(ctx, friend))

	rooms, err := s.GetUserRooms(ctx, alice.ID, time.Now().UnixMilli())
	require.NoError(t, err)
	require.Len(t, rooms, 2) // personal + private

	var private *RoomInfo
	for i := range rooms {
		if rooms[i].Category == CategoryPrivate {
			private = &rooms[i]
		}
	}
	require.NotNil(t, private)
	assert.Equal(t, bob.Nickname, private.Name)
	assert.Equal(t, bob.Avatar, private.Cover)
}

func TestGetUserRooms_MarksDayDividers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	room, err := s.CreateRoom(ctx, "lounge", []int64{alice.ID})
	require.NoError(t, err)

	ref := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	push := func(id int64, content string, sendAt time.Time) {
		require.NoError(t, s.cache.PushMessage(ctx, room.ID, &MessageInfo{
			ID: id, SID: alice.ID, Content: content, Kind: KindText, SendAt: sendAt,
		}))
	}
	push(1, "yesterday", ref.Add(-26*time.Hour))
	push(2, "morning", ref.Add(-3*time.Hour))
	push(3, "noon", ref.Add(-2*time.Hour))

	rooms, err := s.GetUserRooms(ctx, alice.ID, ref.UnixMilli())
	require.NoError(t, err)

	var lounge *RoomInfo
	for i := range rooms {
		if rooms[i].ID == room.ID {
			lounge = &rooms[i]
		}
	}
	require.NotNil(t, lounge)
	require.Len(t, lounge.Messages, 3)
	assert.True(t, lounge.Messages[0].Divide)  // previous day opens
	assert.True(t, lounge.Messages[1].Divide)  // back to the reference day
	assert.False(t, lounge.Messages[2].Divide) // same day as before
}

func TestFriendLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	bob := mustCreateUser(t, s, "bob")

	// Request.
	friend, err := s.CreateFriend(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAdding, friend.Status)
	require.NotZero(t, friend.RoomID)

	// Not seated in the room yet.
	_, err = s.GetRank(ctx, friend.RoomID, alice.ID)
	assert.ErrorIs(t, err, errs.ErrNotInRoom)

	// Accept seats both users.
	require.NoError(t, s.AcceptFriend(ctx, friend))
	assert.Equal(t, StatusAccepted, friend.Status)
	for _, id := range []int64{alice.ID, bob.ID} {
		rank, err := s.GetRank(ctx, friend.RoomID, id)
		require.NoError(t, err)
		assert.Equal(t, RankMember, rank)
	}

	// Accepting twice is a state error.
	assert.Equal(t, errs.KindFriendStatus, errs.KindOf(s.AcceptFriend(ctx, friend)))

	// Delete clears the seats but keeps the room for revival.
	require.NoError(t, s.DeleteFriend(ctx, friend))
	_, err = s.GetRank(ctx, friend.RoomID, alice.ID)
	assert.ErrorIs(t, err, errs.ErrNotInRoom)
	_, err = s.GetRoom(ctx, friend.RoomID)
	require.NoError(t, err)

	// Revive from the other side reuses the room and flips direction.
	revived, err := s.ReviveFriend(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, friend.RoomID, revived.RoomID)
	assert.Equal(t, bob.ID, revived.RequesterID)
	assert.Equal(t, StatusAdding, revived.Status)
}

func TestRefuseFriend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	bob := mustCreateUser(t, s, "bob")

	friend, err := s.CreateFriend(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.NoError(t, s.RefuseFriend(ctx, friend))
	assert.Equal(t, StatusDeleted, friend.Status)

	// Refusing again is a state error.
	assert.Equal(t, errs.KindFriendStatus, errs.KindOf(s.RefuseFriend(ctx, friend)))
}

func TestGetUserFriends_HidesDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	bob := mustCreateUser(t, s, "bob")
	carol := mustCreateUser(t, s, "carol")

	fb, err := s.CreateFriend(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.NoError(t, s.AcceptFriend(ctx, fb))

	fc, err := s.CreateFriend(ctx, carol.ID, alice.ID)
	require.NoError(t, err)
	require.NoError(t, s.RefuseFriend(ctx, fc))

	friends, err := s.GetUserFriends(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, bob.ID, friends[0].ID)
	assert.False(t, friends[0].First) // bob was the addressee
}

func TestGetFriendViews(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	bob := mustCreateUser(t, s, "bob")

	friend, err := s.CreateFriend(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	requesterView, addresseeView, err := s.GetFriendViews(ctx, friend)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, requesterView.ID)
	assert.True(t, requesterView.First)
	assert.Equal(t, bob.ID, addresseeView.ID)
	assert.False(t, addresseeView.First)
}

func TestGetFriendRoom_DirectedViews(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	bob := mustCreateUser(t, s, "bob")

	friend, err := s.CreateFriend(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.NoError(t, s.AcceptFriend(ctx, friend))

	forAlice, err := s.GetFriendRoom(ctx, friend, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.Nickname, forAlice.Name)

	forBob, err := s.GetFriendRoom(ctx, friend, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.Nickname, forBob.Name)
	assert.Len(t, forBob.Members, 2)
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := &Session{ID: "tok-1", UserID: 1, Username: "alice", Device: "laptop"}
	require.NoError(t, s.cache.CreateSession(ctx, session, time.Hour))

	got, err := s.cache.GetSession(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, session, got)

	require.NoError(t, s.cache.DeleteSession(ctx, "tok-1"))
	_, err = s.cache.GetSession(ctx, "tok-1")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}
