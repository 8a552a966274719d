// Package chat glues the socket sessions to the hub and the store: it
// owns the WebSocket endpoint, the per-session pumps, and the domain
// handlers behind each protocol action.
package chat

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/quillchat/backend/internal/v1/errs"
	"github.com/quillchat/backend/internal/v1/events"
	"github.com/quillchat/backend/internal/v1/hub"
	"github.com/quillchat/backend/internal/v1/logging"
	"github.com/quillchat/backend/internal/v1/metrics"
	"github.com/quillchat/backend/internal/v1/store"
)

// Handlers carries the domain rules for messages, rooms, members, and
// friendships. One instance serves all sessions.
type Handlers struct {
	hub   *hub.Hub
	store *store.Store
}

func NewHandlers(h *hub.Hub, s *store.Store) *Handlers {
	return &Handlers{hub: h, store: s}
}

// dispatcher is the per-session routing state. Only initialize is
// accepted until the client has initialized.
type dispatcher struct {
	handlers    *Handlers
	client      *hub.Client
	initialized bool
}

func newDispatcher(h *Handlers, client *hub.Client) *dispatcher {
	return &dispatcher{handlers: h, client: client}
}

// Handle processes one inbound frame. A recoverable failure turns into
// a toast to the originator; the returned error, when non-nil, is
// fatal and ends the session.
func (d *dispatcher) Handle(ctx context.Context, raw []byte) error {
	env, err := events.Decode(raw)
	if err != nil {
		return d.fail("?", err)
	}

	start := time.Now()
	err = d.route(ctx, env)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.Events.WithLabelValues(env.Action, status).Inc()
	metrics.EventDuration.WithLabelValues(env.Action).Observe(time.Since(start).Seconds())

	if err != nil {
		return d.fail(env.Action, err)
	}
	return nil
}

func (d *dispatcher) route(ctx context.Context, env *events.Envelope) error {
	h := d.handlers
	if env.Action == events.ActionInitialize {
		var req events.InitializeReq
		if err := events.Bind(env, &req); err != nil {
			return err
		}
		if err := h.initialize(ctx, d.client, req.Timestamp); err != nil {
			return err
		}
		d.initialized = true
		return nil
	}
	if !d.initialized {
		return errs.ErrForbidden
	}

	switch env.Action {
	case events.ActionNewMessage:
		var req events.NewMessageReq
		if err := events.Bind(env, &req); err != nil {
			return err
		}
		return h.newMessage(ctx, d.client, &req)
	case events.ActionNewRoom:
		var req events.NewRoomReq
		if err := events.Bind(env, &req); err != nil {
			return err
		}
		return h.newRoom(ctx, d.client, &req)
	case events.ActionUpdateRoom:
		var req events.UpdateRoomReq
		if err := events.Bind(env, &req); err != nil {
			return err
		}
		return h.updateRoom(ctx, d.client, &req)
	case events.ActionDeleteRoom:
		var req events.DeleteRoomReq
		if err := events.Bind(env, &req); err != nil {
			return err
		}
		return h.deleteRoom(ctx, d.client, &req)
	case events.ActionLeaveRoom:
		var req events.LeaveRoomReq
		if err := events.Bind(env, &req); err != nil {
			return err
		}
		return h.leaveRoom(ctx, d.client, &req)
	case events.ActionAddMembers:
		var req events.AddMembersReq
		if err := events.Bind(env, &req); err != nil {
			return err
		}
		return h.addMembers(ctx, d.client, &req)
	case events.ActionDeleteMembers:
		var req events.DeleteMembersReq
		if err := events.Bind(env, &req); err != nil {
			return err
		}
		return h.deleteMembers(ctx, d.client, &req)
	case events.ActionAddFriend:
		var req events.FriendReq
		if err := events.Bind(env, &req); err != nil {
			return err
		}
		return h.addFriend(ctx, d.client, &req)
	case events.ActionAcceptFriend:
		var req events.FriendReq
		if err := events.Bind(env, &req); err != nil {
			return err
		}
		return h.acceptFriend(ctx, d.client, &req)
	case events.ActionRefuseFriend:
		var req events.FriendReq
		if err := events.Bind(env, &req); err != nil {
			return err
		}
		return h.refuseFriend(ctx, d.client, &req)
	case events.ActionDeleteFriend:
		var req events.FriendReq
		if err := events.Bind(env, &req); err != nil {
			return err
		}
		return h.deleteFriend(ctx, d.client, &req)
	default:
		return errs.ErrBadRequest
	}
}

// fail resolves an error to a toast, or escalates it when fatal.
func (d *dispatcher) fail(action string, err error) error {
	if errs.IsFatal(err) {
		return err
	}
	logging.Warn(context.Background(), "Event failed",
		zap.String("action", action),
		zap.Int64("userId", d.client.UserID()),
		zap.Error(err))

	payload, merr := events.Marshal(events.ActionToast, errs.Message(err))
	if merr != nil {
		return merr
	}
	if serr := d.client.Send(hub.TextFrame(payload)); serr != nil {
		return errs.SendFailure(serr)
	}
	return nil
}

// --- emit helpers ---

func (h *Handlers) broadcast(roomID int64, action string, data any) error {
	payload, err := events.Marshal(action, data)
	if err != nil {
		return err
	}
	h.hub.Broadcast(roomID, hub.TextFrame(payload))
	return nil
}

func (h *Handlers) tell(userID int64, action string, data any) error {
	payload, err := events.Marshal(action, data)
	if err != nil {
		return err
	}
	h.hub.Tell(userID, hub.TextFrame(payload))
	return nil
}

func (h *Handlers) notify(userIDs []int64, action string, data any) error {
	payload, err := events.Marshal(action, data)
	if err != nil {
		return err
	}
	h.hub.Notify(userIDs, hub.TextFrame(payload))
	return nil
}

// reply delivers to the originating client only.
func (h *Handlers) reply(client *hub.Client, action string, data any) error {
	payload, err := events.Marshal(action, data)
	if err != nil {
		return err
	}
	if err := client.Send(hub.TextFrame(payload)); err != nil {
		return errs.SendFailure(err)
	}
	return nil
}

// --- domain handlers ---

// initialize loads the caller's world, attaches the client to its
// rooms, and replies with the snapshot. refTS is the client's clock in
// milliseconds, used to place day dividers in the replayed history.
func (h *Handlers) initialize(ctx context.Context, client *hub.Client, refTS int64) error {
	rooms, err := h.store.GetUserRooms(ctx, client.UserID(), refTS)
	if err != nil {
		return err
	}
	friends, err := h.store.GetUserFriends(ctx, client.UserID())
	if err != nil {
		return err
	}

	roomIDs := make([]int64, len(rooms))
	for i := range rooms {
		roomIDs[i] = rooms[i].ID
	}
	h.hub.Connect(client, roomIDs)

	return h.reply(client, events.ActionInitialize, events.InitializePayload{
		Rooms:   rooms,
		Friends: friends,
	})
}

func (h *Handlers) newMessage(ctx context.Context, client *hub.Client, req *events.NewMessageReq) error {
	if !h.hub.IsUserIn(client.UserID(), req.RoomID) {
		return errs.ErrNotInRoom
	}
	msg, err := h.store.CreateMessage(ctx, req.RoomID, client.UserID(), req.Content, req.Kind)
	if err != nil {
		return err
	}
	return h.broadcast(req.RoomID, events.ActionNewMessage, events.MessagePayload{
		RoomID:      req.RoomID,
		MessageInfo: *msg,
	})
}

func (h *Handlers) newRoom(ctx context.Context, client *hub.Client, req *events.NewRoomReq) error {
	if req.MemberIDs[0] != client.UserID() {
		return errs.ErrForbidden
	}
	room, err := h.store.CreateRoom(ctx, req.Name, req.MemberIDs)
	if err != nil {
		return err
	}
	h.hub.AddMembers(room.ID, req.MemberIDs)
	return h.broadcast(room.ID, events.ActionNewRoom, room)
}

func (h *Handlers) updateRoom(ctx context.Context, client *hub.Client, req *events.UpdateRoomReq) error {
	if err := h.requireOwner(ctx, req.RoomID, client.UserID()); err != nil {
		return err
	}
	if err := h.store.UpdateRoom(ctx, req.RoomID, req.Name, ""); err != nil {
		return err
	}
	return h.broadcast(req.RoomID, events.ActionUpdateRoom, events.RoomNamePayload{
		RoomID: req.RoomID,
		Name:   req.Name,
	})
}

func (h *Handlers) deleteRoom(ctx context.Context, client *hub.Client, req *events.DeleteRoomReq) error {
	if err := h.requireOwner(ctx, req.RoomID, client.UserID()); err != nil {
		return err
	}
	members, err := h.store.DeleteRoom(ctx, req.RoomID)
	if err != nil {
		return err
	}
	// Notify before tearing the room down, so the payloads still route.
	if err := h.notify(members, events.ActionDeleteRoom, events.RoomIDPayload{RoomID: req.RoomID}); err != nil {
		return err
	}
	h.hub.DeleteRoom(req.RoomID, members)
	return nil
}

func (h *Handlers) leaveRoom(ctx context.Context, client *hub.Client, req *events.LeaveRoomReq) error {
	rank, err := h.store.GetRank(ctx, req.RoomID, client.UserID())
	if err != nil {
		return err
	}
	if rank == store.RankOwner {
		// The owner deletes the room instead of leaving it.
		return errs.ErrForbidden
	}
	removed, err := h.store.DeleteMembers(ctx, req.RoomID, []int64{client.UserID()})
	if err != nil {
		return err
	}
	h.hub.RemoveMembers(req.RoomID, removed)
	if err := h.tell(client.UserID(), events.ActionDeleteRoom, events.RoomIDPayload{RoomID: req.RoomID}); err != nil {
		return err
	}
	return h.broadcast(req.RoomID, events.ActionDeleteMembers, events.MembersDeletedPayload{
		RoomID:    req.RoomID,
		MemberIDs: removed,
	})
}

func (h *Handlers) addMembers(ctx context.Context, client *hub.Client, req *events.AddMembersReq) error {
	if err := h.requireOwner(ctx, req.RoomID, client.UserID()); err != nil {
		return err
	}
	added, err := h.store.AddMembers(ctx, req.RoomID, req.MemberIDs)
	if err != nil {
		return err
	}
	if err := h.broadcast(req.RoomID, events.ActionAddMembers, events.MembersAddedPayload{
		RoomID:  req.RoomID,
		Members: added,
	}); err != nil {
		return err
	}

	newIDs := make([]int64, len(added))
	for i := range added {
		newIDs[i] = added[i].ID
	}
	h.hub.AddMembers(req.RoomID, newIDs)

	room, err := h.store.GetRoomInfo(ctx, req.RoomID)
	if err != nil {
		return err
	}
	return h.notify(newIDs, events.ActionNewRoom, room)
}

func (h *Handlers) deleteMembers(ctx context.Context, client *hub.Client, req *events.DeleteMembersReq) error {
	if err := h.requireOwner(ctx, req.RoomID, client.UserID()); err != nil {
		return err
	}
	for _, id := range req.MemberIDs {
		if id == client.UserID() {
			return errs.ErrForbidden
		}
	}
	removed, err := h.store.DeleteMembers(ctx, req.RoomID, req.MemberIDs)
	if err != nil {
		return err
	}
	h.hub.RemoveMembers(req.RoomID, removed)
	if err := h.notify(removed, events.ActionDeleteRoom, events.RoomIDPayload{RoomID: req.RoomID}); err != nil {
		return err
	}
	return h.broadcast(req.RoomID, events.ActionDeleteMembers, events.MembersDeletedPayload{
		RoomID:    req.RoomID,
		MemberIDs: removed,
	})
}

func (h *Handlers) addFriend(ctx context.Context, client *hub.Client, req *events.FriendReq) error {
	if req.FriendID == client.UserID() {
		return errs.Validation("You can't add yourself as a friend")
	}
	if _, err := h.store.GetUser(ctx, req.FriendID); err != nil {
		return err
	}

	friend, err := h.store.GetFriend(ctx, client.UserID(), req.FriendID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		friend, err = h.store.CreateFriend(ctx, client.UserID(), req.FriendID)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	case friend.Status == store.StatusDeleted:
		friend, err = h.store.ReviveFriend(ctx, client.UserID(), req.FriendID)
		if err != nil {
			return err
		}
	default:
		return errs.ErrFriendStatus
	}

	requesterView, addresseeView, err := h.store.GetFriendViews(ctx, friend)
	if err != nil {
		return err
	}
	// The addressee sees who is asking; the caller sees who they asked.
	if err := h.tell(req.FriendID, events.ActionAddFriend, requesterView); err != nil {
		return err
	}
	return h.tell(client.UserID(), events.ActionAddFriend, addresseeView)
}

func (h *Handlers) acceptFriend(ctx context.Context, client *hub.Client, req *events.FriendReq) error {
	friend, err := h.store.GetFriend(ctx, client.UserID(), req.FriendID)
	if err != nil {
		return err
	}
	// Only the addressee accepts.
	if friend.AddresseeID != client.UserID() {
		return errs.ErrFriendStatus
	}
	if err := h.store.AcceptFriend(ctx, friend); err != nil {
		return err
	}

	requesterView, addresseeView, err := h.store.GetFriendViews(ctx, friend)
	if err != nil {
		return err
	}
	roomForCaller, err := h.store.GetFriendRoom(ctx, friend, client.UserID())
	if err != nil {
		return err
	}
	roomForFriend, err := h.store.GetFriendRoom(ctx, friend, req.FriendID)
	if err != nil {
		return err
	}

	h.hub.AddMembers(friend.RoomID, []int64{friend.RequesterID, friend.AddresseeID})

	if err := h.tell(client.UserID(), events.ActionAcceptFriend, events.AcceptFriendPayload{
		Friend: *requesterView,
		Room:   *roomForCaller,
	}); err != nil {
		return err
	}
	return h.tell(req.FriendID, events.ActionAcceptFriend, events.AcceptFriendPayload{
		Friend: *addresseeView,
		Room:   *roomForFriend,
	})
}

// refuseFriend ends a pending request from either side: the addressee
// declines it, or the requester withdraws their own.
func (h *Handlers) refuseFriend(ctx context.Context, client *hub.Client, req *events.FriendReq) error {
	friend, err := h.store.GetFriend(ctx, client.UserID(), req.FriendID)
	if err != nil {
		return err
	}
	if err := h.store.RefuseFriend(ctx, friend); err != nil {
		return err
	}
	if err := h.tell(client.UserID(), events.ActionRefuseFriend, events.FriendIDPayload{ID: req.FriendID}); err != nil {
		return err
	}
	return h.tell(req.FriendID, events.ActionRefuseFriend, events.FriendIDPayload{ID: client.UserID()})
}

func (h *Handlers) deleteFriend(ctx context.Context, client *hub.Client, req *events.FriendReq) error {
	friend, err := h.store.GetFriend(ctx, client.UserID(), req.FriendID)
	if err != nil {
		return err
	}
	if err := h.store.DeleteFriend(ctx, friend); err != nil {
		return err
	}
	if err := h.tell(client.UserID(), events.ActionDeleteFriend, events.DeleteFriendPayload{
		ID:     req.FriendID,
		RoomID: friend.RoomID,
	}); err != nil {
		return err
	}
	if err := h.tell(req.FriendID, events.ActionDeleteFriend, events.DeleteFriendPayload{
		ID:     client.UserID(),
		RoomID: friend.RoomID,
	}); err != nil {
		return err
	}
	h.hub.DeleteRoom(friend.RoomID, []int64{friend.RequesterID, friend.AddresseeID})
	return nil
}

func (h *Handlers) requireOwner(ctx context.Context, roomID, userID int64) error {
	rank, err := h.store.GetRank(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if rank != store.RankOwner {
		return errs.ErrForbidden
	}
	return nil
}
