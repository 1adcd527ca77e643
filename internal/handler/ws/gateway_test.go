package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "chatline-backend/pkg/errors"
)

type MockMembershipChecker struct {
	mock.Mock
}

func (m *MockMembershipChecker) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func receivedError(t *testing.T, c *Client) *ErrorEvent {
	t.Helper()
	event := receivedEvent(t, c)
	if event == nil {
		return nil
	}
	require.Equal(t, EventError, event.Event)

	raw, err := json.Marshal(event.Data)
	require.NoError(t, err)
	var errEvent ErrorEvent
	require.NoError(t, json.Unmarshal(raw, &errEvent))
	return &errEvent
}

func TestJoinRoomRequiresMembership(t *testing.T) {
	members := new(MockMembershipChecker)
	hub := NewHub(nil)
	gateway := NewGateway(hub, nil, nil, members, nil, nil)
	client := testClient(uuid.New())
	client.gateway = gateway
	conversationID := uuid.New()

	members.On("IsParticipant", mock.Anything, conversationID, client.userID).Return(false, nil)

	frame := fmt.Sprintf(`{"event":"join-room","data":{"conversationId":%q}}`, conversationID)
	gateway.dispatch(client, []byte(frame))

	errEvent := receivedError(t, client)
	require.NotNil(t, errEvent)
	assert.Equal(t, string(apperrors.ErrCodeForbidden), errEvent.Code)
	assert.Equal(t, 0, hub.RoomSize(conversationID))
	members.AssertExpectations(t)
}

func TestJoinRoomAdmitsParticipant(t *testing.T) {
	members := new(MockMembershipChecker)
	hub := NewHub(nil)
	gateway := NewGateway(hub, nil, nil, members, nil, nil)
	client := testClient(uuid.New())
	client.gateway = gateway
	conversationID := uuid.New()

	members.On("IsParticipant", mock.Anything, conversationID, client.userID).Return(true, nil)

	frame := fmt.Sprintf(`{"event":"join-room","data":{"conversationId":%q}}`, conversationID)
	gateway.dispatch(client, []byte(frame))

	assert.Nil(t, receivedEvent(t, client))
	assert.Equal(t, 1, hub.RoomSize(conversationID))
}

func TestDispatchDropsMalformedFrames(t *testing.T) {
	gateway := NewGateway(NewHub(nil), nil, nil, nil, nil, nil)
	client := testClient(uuid.New())
	client.gateway = gateway

	gateway.dispatch(client, []byte(`not json`))
	gateway.dispatch(client, []byte(`{"data":{}}`))

	assert.Nil(t, receivedEvent(t, client))
}

func TestDispatchIgnoresUnknownEvents(t *testing.T) {
	gateway := NewGateway(NewHub(nil), nil, nil, nil, nil, nil)
	client := testClient(uuid.New())
	client.gateway = gateway

	gateway.dispatch(client, []byte(`{"event":"self-destruct","data":{}}`))

	assert.Nil(t, receivedEvent(t, client))
}

func TestSignalRelayExcludesEmitterOnly(t *testing.T) {
	hub := NewHub(nil)
	gateway := NewGateway(hub, nil, nil, nil, nil, nil)

	userID := uuid.New()
	emitter := testClient(userID)
	emitter.gateway = gateway
	peer := testClient(uuid.New())
	conversationID := uuid.New()

	hub.Join(emitter, conversationID)
	hub.Join(peer, conversationID)

	callID := uuid.New()
	frame := fmt.Sprintf(
		`{"event":"call-offer","data":{"callId":%q,"conversationId":%q,"sdp":"v=0"}}`,
		callID, conversationID,
	)
	gateway.dispatch(emitter, []byte(frame))

	event := receivedEvent(t, peer)
	require.NotNil(t, event)
	assert.Equal(t, EventCallOffer, event.Event)

	// The payload is relayed verbatim, opaque fields included.
	data, ok := event.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "v=0", data["sdp"])

	assert.Nil(t, receivedEvent(t, emitter))
}

func TestSignalWithoutRoutingFieldsIsDropped(t *testing.T) {
	hub := NewHub(nil)
	gateway := NewGateway(hub, nil, nil, nil, nil, nil)

	emitter := testClient(uuid.New())
	emitter.gateway = gateway
	peer := testClient(uuid.New())
	conversationID := uuid.New()

	hub.Join(emitter, conversationID)
	hub.Join(peer, conversationID)

	gateway.dispatch(emitter, []byte(`{"event":"call-ice","data":{"candidate":"..."}}`))

	assert.Nil(t, receivedEvent(t, peer))
	assert.Nil(t, receivedEvent(t, emitter))
}
