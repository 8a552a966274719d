package hub

import "context"

// Room actor commands. Exactly one goroutine drains a room's inbox, so
// the subscriber table needs no locking; inbox arrival order is the
// room's linearization order.

type command interface{ isCommand() }

// sendCmd fans a frame out to every subscriber queue.
type sendCmd struct{ frame Frame }

// joinCmd registers one client under its user.
type joinCmd struct{ client *Client }

// leaveCmd removes one client; the user entry goes when its last
// client does.
type leaveCmd struct {
	userID   int64
	clientID string
}

// addUserCmd installs a full client map for a user added to the room
// while already online.
type addUserCmd struct {
	userID  int64
	clients map[string]*Client
}

// removeUserCmd drops a user entirely (membership revoked).
type removeUserCmd struct{ userID int64 }

func (sendCmd) isCommand()       {}
func (joinCmd) isCommand()       {}
func (leaveCmd) isCommand()      {}
func (addUserCmd) isCommand()    {}
func (removeUserCmd) isCommand() {}

// roomActor owns one room's subscriber table: user id → client id →
// client handle.
type roomActor struct {
	id    int64
	inbox chan command
	subs  map[int64]map[string]*Client
}

// run drains the inbox until the context is cancelled or the inbox is
// closed. Cancellation discards whatever is still queued.
func (a *roomActor) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-a.inbox:
			if !ok {
				return
			}
			a.handle(cmd)
		}
	}
}

func (a *roomActor) handle(cmd command) {
	switch c := cmd.(type) {
	case sendCmd:
		for _, clients := range a.subs {
			for _, client := range clients {
				// Best-effort: a dead subscriber never stalls the room.
				_ = client.Send(c.frame)
			}
		}
	case joinCmd:
		clients, ok := a.subs[c.client.UserID()]
		if !ok {
			clients = make(map[string]*Client)
			a.subs[c.client.UserID()] = clients
		}
		clients[c.client.ID()] = c.client
	case leaveCmd:
		if clients, ok := a.subs[c.userID]; ok {
			delete(clients, c.clientID)
			if len(clients) == 0 {
				delete(a.subs, c.userID)
			}
		}
	case addUserCmd:
		a.subs[c.userID] = c.clients
	case removeUserCmd:
		delete(a.subs, c.userID)
	}
}

// roomHandle is what the Hub keeps per live room: the inbox sender and
// the actor's cancellation. done closes when the actor goroutine exits,
// which unblocks any sender still waiting on a full inbox.
type roomHandle struct {
	inbox  chan command
	cancel context.CancelFunc
	done   chan struct{}
}

// newRoomHandle spawns the drain goroutine for a fresh room.
func newRoomHandle(roomID int64, capacity int) *roomHandle {
	ctx, cancel := context.WithCancel(context.Background())
	rh := &roomHandle{
		inbox:  make(chan command, capacity),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	actor := &roomActor{
		id:    roomID,
		inbox: rh.inbox,
		subs:  make(map[int64]map[string]*Client),
	}
	go actor.run(ctx, rh.done)

	return rh
}

// post enqueues a command, blocking for backpressure while the room is
// alive. A deleted room's handle never blocks the caller.
func (rh *roomHandle) post(cmd command) {
	select {
	case rh.inbox <- cmd:
	case <-rh.done:
	}
}
