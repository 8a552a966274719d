package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillchat/backend/internal/v1/errs"
)

func TestDecode(t *testing.T) {
	env, err := Decode([]byte(`{"action":"new-message","data":{"roomId":1}}`))
	require.NoError(t, err)
	assert.Equal(t, ActionNewMessage, env.Action)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, errs.ErrBadRequest)

	_, err = Decode([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, errs.ErrBadRequest)
}

func TestBind_NewMessage(t *testing.T) {
	env, err := Decode([]byte(`{"action":"new-message","data":{"roomId":7,"content":"hi","kind":"text"}}`))
	require.NoError(t, err)

	var req NewMessageReq
	require.NoError(t, Bind(env, &req))
	assert.Equal(t, int64(7), req.RoomID)
	assert.Equal(t, "hi", req.Content)
}

func TestBind_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		data string
		req  any
	}{
		{"empty content", `{"roomId":1,"content":"","kind":"text"}`, &NewMessageReq{}},
		{"bad kind", `{"roomId":1,"content":"x","kind":"video"}`, &NewMessageReq{}},
		{"zero room id", `{"roomId":0,"content":"x","kind":"text"}`, &NewMessageReq{}},
		{"short name", `{"name":"a","memberIds":[1]}`, &NewRoomReq{}},
		{"no members", `{"name":"room","memberIds":[]}`, &NewRoomReq{}},
		{"duplicate members", `{"name":"room","memberIds":[1,1]}`, &NewRoomReq{}},
		{"negative member", `{"roomId":1,"memberIds":[-2]}`, &AddMembersReq{}},
		{"zero friend", `{"friendId":0}`, &FriendReq{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := &Envelope{Action: "test", Data: json.RawMessage(tc.data)}
			err := Bind(env, tc.req)
			require.Error(t, err)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		})
	}
}

func TestBind_MalformedData(t *testing.T) {
	env := &Envelope{Action: ActionNewMessage, Data: json.RawMessage(`"nope"`)}
	var req NewMessageReq
	assert.ErrorIs(t, Bind(env, &req), errs.ErrBadRequest)
}

func TestMarshal_RoundTrip(t *testing.T) {
	out, err := Marshal(ActionToast, "something went wrong")
	require.NoError(t, err)

	env, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, ActionToast, env.Action)

	var msg string
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "something went wrong", msg)
}

func TestMarshal_UnencodableIsFatal(t *testing.T) {
	_, err := Marshal(ActionToast, func() {})
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
}
