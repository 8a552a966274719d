package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/quillchat/backend/internal/v1/logging"
	"github.com/quillchat/backend/internal/v1/metrics"
)

// CloseReasonDuplicate is sent to an older client when the same device
// logs in again.
const CloseReasonDuplicate = "You have logged in elsewhere"

// CloseReasonShutdown is sent to every client on graceful shutdown.
const CloseReasonShutdown = "Server shutting down"

// userEntry is the Hub's per-user state: every live client keyed by
// client id, the personal room id, and the set of rooms the user is
// known to be in. An entry exists iff the user has at least one client.
type userEntry struct {
	clients map[string]*Client
	roomID  int64
	rooms   map[int64]struct{}
}

// Status is the snapshot served by the admin endpoint.
type Status struct {
	NumUsers   int `json:"numUsers"`
	NumClients int `json:"numClients"`
	NumRooms   int `json:"numRooms"`
}

// Hub is the registry connecting users, their clients, and room actors.
// Routing operations take the read lock; structural changes take the
// write lock. The Hub itself runs no goroutine.
type Hub struct {
	mu    sync.RWMutex
	users map[int64]*userEntry
	rooms map[int64]*roomHandle

	queueCapacity int
}

// New creates an empty Hub. capacity bounds every room inbox.
func New(capacity int) *Hub {
	return &Hub{
		users:         make(map[int64]*userEntry),
		rooms:         make(map[int64]*roomHandle),
		queueCapacity: capacity,
	}
}

// Connect registers a freshly authenticated client and joins it to its
// rooms. A second login from the same device identity closes the older
// client first.
func (h *Hub) Connect(client *Client, roomIDs []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.users[client.UserID()]
	if ok && client.Device() != "" {
		for _, old := range entry.clients {
			if old.Device() == client.Device() {
				_ = old.Send(CloseFrame(CloseReasonDuplicate))
			}
		}
	}

	for _, roomID := range roomIDs {
		rh := h.getOrCreateRoomLocked(roomID)
		rh.post(joinCmd{client: client})
	}

	if ok {
		// Room set is tracked per-user; a second device inherits it.
		entry.clients[client.ID()] = client
	} else {
		rooms := make(map[int64]struct{}, len(roomIDs))
		for _, roomID := range roomIDs {
			rooms[roomID] = struct{}{}
		}
		h.users[client.UserID()] = &userEntry{
			clients: map[string]*Client{client.ID(): client},
			roomID:  client.PersonalRoomID(),
			rooms:   rooms,
		}
		metrics.ActiveUsers.Inc()
	}

	logging.Info(context.Background(), "Client connected to hub",
		zap.Int64("userId", client.UserID()), zap.String("clientId", client.ID()),
		zap.Int("rooms", len(roomIDs)))
}

// Disconnect removes a client from every room it was joined to and
// drops the user entry when its last client goes. Rooms stay alive.
func (h *Hub) Disconnect(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.users[client.UserID()]
	if !ok {
		return
	}

	for roomID := range entry.rooms {
		if rh, ok := h.rooms[roomID]; ok {
			rh.post(leaveCmd{userID: client.UserID(), clientID: client.ID()})
		}
	}

	delete(entry.clients, client.ID())
	if len(entry.clients) == 0 {
		delete(h.users, client.UserID())
		metrics.ActiveUsers.Dec()
	}

	logging.Info(context.Background(), "Client disconnected from hub",
		zap.Int64("userId", client.UserID()), zap.String("clientId", client.ID()))
}

// Broadcast fans a frame out to every subscriber of a room. A missing
// room means no listeners; the frame is silently dropped.
func (h *Hub) Broadcast(roomID int64, f Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if rh, ok := h.rooms[roomID]; ok {
		rh.post(sendCmd{frame: f})
	}
}

// Tell delivers a frame to every device of one user via their personal
// room.
func (h *Hub) Tell(userID int64, f Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.tellLocked(userID, f)
}

// Notify delivers the same frame to each listed user's personal room.
func (h *Hub) Notify(userIDs []int64, f Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, userID := range userIDs {
		h.tellLocked(userID, f)
	}
}

func (h *Hub) tellLocked(userID int64, f Frame) {
	entry, ok := h.users[userID]
	if !ok {
		return
	}
	if rh, ok := h.rooms[entry.roomID]; ok {
		rh.post(sendCmd{frame: f})
	}
}

// AddMembers attaches every currently-online listed user to the room.
// Offline users attach on their next Connect.
func (h *Hub) AddMembers(roomID int64, userIDs []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rh := h.getOrCreateRoomLocked(roomID)
	for _, userID := range userIDs {
		entry, ok := h.users[userID]
		if !ok {
			continue
		}
		clients := make(map[string]*Client, len(entry.clients))
		for id, c := range entry.clients {
			clients[id] = c
		}
		rh.post(addUserCmd{userID: userID, clients: clients})
		entry.rooms[roomID] = struct{}{}
	}
}

// RemoveMembers revokes the listed users' subscriptions to the room.
func (h *Hub) RemoveMembers(roomID int64, userIDs []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rh, ok := h.rooms[roomID]
	if !ok {
		return
	}
	for _, userID := range userIDs {
		if entry, ok := h.users[userID]; ok {
			rh.post(removeUserCmd{userID: userID})
			delete(entry.rooms, roomID)
		}
	}
}

// DeleteRoom aborts the room's actor and forgets it. Commands still
// queued on the inbox are discarded.
func (h *Hub) DeleteRoom(roomID int64, userIDs []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, userID := range userIDs {
		if entry, ok := h.users[userID]; ok {
			delete(entry.rooms, roomID)
		}
	}

	if rh, ok := h.rooms[roomID]; ok {
		rh.cancel()
		delete(h.rooms, roomID)
		metrics.ActiveRooms.Dec()
		logging.Info(context.Background(), "Deleted room from hub", zap.Int64("roomId", roomID))
	}
}

// IsUserIn reports whether the hub knows the user to be a member of the
// room.
func (h *Hub) IsUserIn(userID, roomID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entry, ok := h.users[userID]
	if !ok {
		return false
	}
	_, in := entry.rooms[roomID]
	return in
}

// Status counts users, clients, and rooms for the admin endpoint.
func (h *Hub) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	numClients := 0
	for _, entry := range h.users {
		numClients += len(entry.clients)
	}
	return Status{
		NumUsers:   len(h.users),
		NumClients: numClients,
		NumRooms:   len(h.rooms),
	}
}

// Shutdown sends a close frame to every client and aborts every room
// actor.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, entry := range h.users {
		for _, client := range entry.clients {
			_ = client.Send(CloseFrame(CloseReasonShutdown))
		}
	}
	for roomID, rh := range h.rooms {
		rh.cancel()
		delete(h.rooms, roomID)
		metrics.ActiveRooms.Dec()
	}

	logging.Info(ctx, "Hub shut down", zap.Int("users", len(h.users)))
}

// getOrCreateRoomLocked lazily spawns a room actor. Caller holds the
// write lock.
func (h *Hub) getOrCreateRoomLocked(roomID int64) *roomHandle {
	if rh, ok := h.rooms[roomID]; ok {
		return rh
	}

	rh := newRoomHandle(roomID, h.queueCapacity)
	h.rooms[roomID] = rh
	metrics.ActiveRooms.Inc()
	logging.Info(context.Background(), "Created room actor", zap.Int64("roomId", roomID))
	return rh
}
