// Package events defines the socket protocol: the {action, data}
// envelope, the inbound request shapes with their validation rules,
// and the outbound payloads.
package events

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/quillchat/backend/internal/v1/errs"
	"github.com/quillchat/backend/internal/v1/store"
)

// Inbound actions.
const (
	ActionInitialize    = "initialize"
	ActionNewMessage    = "new-message"
	ActionNewRoom       = "new-room"
	ActionUpdateRoom    = "update-room"
	ActionDeleteRoom    = "delete-room"
	ActionLeaveRoom     = "leave-room"
	ActionAddMembers    = "add-members"
	ActionDeleteMembers = "delete-members"
	ActionAddFriend     = "add-friend"
	ActionAcceptFriend  = "accept-friend"
	ActionRefuseFriend  = "refuse-friend"
	ActionDeleteFriend  = "delete-friend"
)

// Outbound-only actions.
const (
	ActionToast       = "toast"
	ActionChangeCover = "change-cover"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

var validate = validator.New()

// Decode parses an inbound frame into its envelope.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errs.ErrBadRequest
	}
	if env.Action == "" {
		return nil, errs.ErrBadRequest
	}
	return &env, nil
}

// Bind unmarshals an envelope's data into a request and validates it.
func Bind(env *Envelope, req any) error {
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, req); err != nil {
			return errs.ErrBadRequest
		}
	}
	if err := validate.Struct(req); err != nil {
		return errs.Validation("Invalid " + env.Action + " request")
	}
	return nil
}

// Marshal encodes an outbound event. Failure here is fatal for the
// session.
func Marshal(action string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, errs.SerializeFailure(err)
	}
	out, err := json.Marshal(Envelope{Action: action, Data: payload})
	if err != nil {
		return nil, errs.SerializeFailure(err)
	}
	return out, nil
}

// --- Inbound requests ---

type InitializeReq struct {
	Timestamp int64 `json:"timestamp" validate:"gte=0"`
}

type NewMessageReq struct {
	RoomID  int64  `json:"roomId" validate:"gt=0"`
	Content string `json:"content" validate:"min=1,max=500"`
	Kind    string `json:"kind" validate:"oneof=text image file"`
}

type NewRoomReq struct {
	Name      string  `json:"name" validate:"min=2,max=50"`
	MemberIDs []int64 `json:"memberIds" validate:"min=1,unique,dive,gt=0"`
}

type UpdateRoomReq struct {
	RoomID int64  `json:"roomId" validate:"gt=0"`
	Name   string `json:"name" validate:"min=2,max=50"`
}

type DeleteRoomReq struct {
	RoomID int64 `json:"roomId" validate:"gt=0"`
}

type LeaveRoomReq struct {
	RoomID int64 `json:"roomId" validate:"gt=0"`
}

type AddMembersReq struct {
	RoomID    int64   `json:"roomId" validate:"gt=0"`
	MemberIDs []int64 `json:"memberIds" validate:"min=1,unique,dive,gt=0"`
}

type DeleteMembersReq struct {
	RoomID    int64   `json:"roomId" validate:"gt=0"`
	MemberIDs []int64 `json:"memberIds" validate:"min=1,unique,dive,gt=0"`
}

type FriendReq struct {
	FriendID int64 `json:"friendId" validate:"gt=0"`
}

// --- Outbound payloads ---

type InitializePayload struct {
	Rooms   []store.RoomInfo   `json:"rooms"`
	Friends []store.FriendInfo `json:"friends"`
}

type MessagePayload struct {
	RoomID int64 `json:"roomId"`
	store.MessageInfo
}

type RoomNamePayload struct {
	RoomID int64  `json:"roomId"`
	Name   string `json:"name"`
}

type RoomCoverPayload struct {
	RoomID int64  `json:"roomId"`
	Cover  string `json:"cover"`
}

type RoomIDPayload struct {
	RoomID int64 `json:"roomId"`
}

type MembersAddedPayload struct {
	RoomID  int64              `json:"roomId"`
	Members []store.MemberInfo `json:"members"`
}

type MembersDeletedPayload struct {
	RoomID    int64   `json:"roomId"`
	MemberIDs []int64 `json:"memberIds"`
}

// AcceptFriendPayload is directed: Friend describes the counterpart
// and Room the private room as seen by the receiver.
type AcceptFriendPayload struct {
	Friend store.FriendInfo `json:"friend"`
	Room   store.RoomInfo   `json:"room"`
}

// FriendIDPayload identifies the counterpart whose request ended.
type FriendIDPayload struct {
	ID int64 `json:"id"`
}

// DeleteFriendPayload names the counterpart and the private room the
// client should drop with them.
type DeleteFriendPayload struct {
	ID     int64 `json:"id"`
	RoomID int64 `json:"roomId"`
}
