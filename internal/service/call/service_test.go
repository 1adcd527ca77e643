package call

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chatline-backend/internal/domain"
	"chatline-backend/pkg/constants"
	apperrors "chatline-backend/pkg/errors"
	"chatline-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

// Mocks
type MockCallLogRepository struct {
	mock.Mock
}

func (m *MockCallLogRepository) Create(ctx context.Context, log *domain.CallLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockCallLogRepository) MarkAccepted(ctx context.Context, callID uuid.UUID) error {
	args := m.Called(ctx, callID)
	return args.Error(0)
}

func (m *MockCallLogRepository) MarkRejected(ctx context.Context, callID uuid.UUID) error {
	args := m.Called(ctx, callID)
	return args.Error(0)
}

func (m *MockCallLogRepository) MarkMissed(ctx context.Context, callID uuid.UUID) error {
	args := m.Called(ctx, callID)
	return args.Error(0)
}

func (m *MockCallLogRepository) MarkEnded(ctx context.Context, callID uuid.UUID, duration *int) error {
	args := m.Called(ctx, callID, duration)
	return args.Error(0)
}

func (m *MockCallLogRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallLog, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]*domain.CallLog), args.Error(1)
}

type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) Broadcast(conversationID uuid.UUID, event string, payload interface{}) {
	m.Called(conversationID, event, payload)
}

func (m *MockBroadcaster) BroadcastExceptUser(conversationID, userID uuid.UUID, event string, payload interface{}) {
	m.Called(conversationID, userID, event, payload)
}

func (m *MockBroadcaster) BroadcastToUser(conversationID, userID uuid.UUID, event string, payload interface{}) {
	m.Called(conversationID, userID, event, payload)
}

func newStartInput() *StartInput {
	return &StartInput{
		CallID:         uuid.New(),
		ConversationID: uuid.New(),
		CallerID:       uuid.New(),
		CalleeID:       uuid.New(),
		CallType:       constants.CallTypeAudio,
	}
}

func statusMatcher(status string) interface{} {
	return mock.MatchedBy(func(e StatusEvent) bool {
		return e.Status == status
	})
}

func TestStart(t *testing.T) {
	mockLogs := new(MockCallLogRepository)
	mockBroadcaster := new(MockBroadcaster)
	service := NewService(mockLogs, NewRegistry(), mockBroadcaster, nil, time.Minute)

	input := newStartInput()
	ctx := context.Background()

	mockLogs.On("Create", ctx, mock.MatchedBy(func(log *domain.CallLog) bool {
		return log.ID == input.CallID && log.Status == constants.CallStatusMissed
	})).Return(nil)
	mockBroadcaster.On("Broadcast", input.ConversationID, EventCallStatus, statusMatcher(constants.CallStatusRinging)).Return()
	mockBroadcaster.On("BroadcastExceptUser", input.ConversationID, input.CallerID, EventCallIncoming, mock.Anything).Return()

	err := service.Start(ctx, input)

	assert.NoError(t, err)
	assert.Equal(t, 1, service.ActiveSessions())
	mockLogs.AssertExpectations(t)
	mockBroadcaster.AssertExpectations(t)
}

func TestStartUnknownCallType(t *testing.T) {
	mockLogs := new(MockCallLogRepository)
	mockBroadcaster := new(MockBroadcaster)
	service := NewService(mockLogs, NewRegistry(), mockBroadcaster, nil, time.Minute)

	input := newStartInput()
	input.CallType = "hologram"

	err := service.Start(context.Background(), input)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))
	mockLogs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestStartDuplicateCallID(t *testing.T) {
	mockLogs := new(MockCallLogRepository)
	mockBroadcaster := new(MockBroadcaster)
	service := NewService(mockLogs, NewRegistry(), mockBroadcaster, nil, time.Minute)

	input := newStartInput()
	ctx := context.Background()

	mockLogs.On("Create", ctx, mock.Anything).Return(nil).Once()
	mockBroadcaster.On("Broadcast", mock.Anything, mock.Anything, mock.Anything).Return()
	mockBroadcaster.On("BroadcastExceptUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	assert.NoError(t, service.Start(ctx, input))

	err := service.Start(ctx, input)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeCallExists, apperrors.CodeOf(err))
	assert.Equal(t, 1, service.ActiveSessions())
	mockLogs.AssertExpectations(t)
}

func TestStartPersistFailure(t *testing.T) {
	mockLogs := new(MockCallLogRepository)
	mockBroadcaster := new(MockBroadcaster)
	service := NewService(mockLogs, NewRegistry(), mockBroadcaster, nil, time.Minute)

	input := newStartInput()
	ctx := context.Background()

	mockLogs.On("Create", ctx, mock.Anything).Return(errors.New("db down"))

	err := service.Start(ctx, input)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDatabase, apperrors.CodeOf(err))
	assert.Equal(t, 0, service.ActiveSessions())
	mockBroadcaster.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything)
}

func TestAcceptThenEnd(t *testing.T) {
	mockLogs := new(MockCallLogRepository)
	mockBroadcaster := new(MockBroadcaster)
	service := NewService(mockLogs, NewRegistry(), mockBroadcaster, nil, time.Minute)

	input := newStartInput()
	ctx := context.Background()
	duration := 42

	mockLogs.On("Create", ctx, mock.Anything).Return(nil)
	mockLogs.On("MarkAccepted", ctx, input.CallID).Return(nil)
	mockLogs.On("MarkEnded", ctx, input.CallID, &duration).Return(nil)
	mockBroadcaster.On("Broadcast", input.ConversationID, EventCallStatus, mock.Anything).Return()
	mockBroadcaster.On("BroadcastExceptUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	assert.NoError(t, service.Start(ctx, input))
	assert.NoError(t, service.Accept(ctx, input.CallID, input.ConversationID))

	err := service.End(ctx, &EndInput{
		CallID:         input.CallID,
		ConversationID: input.ConversationID,
		Duration:       &duration,
	})

	assert.NoError(t, err)
	assert.Equal(t, 0, service.ActiveSessions())
	mockLogs.AssertExpectations(t)
	mockBroadcaster.AssertCalled(t, "Broadcast", input.ConversationID, EventCallStatus, statusMatcher(constants.CallStatusAccepted))
	mockBroadcaster.AssertCalled(t, "Broadcast", input.ConversationID, EventCallStatus, mock.MatchedBy(func(e StatusEvent) bool {
		return e.Status == constants.CallStatusEnded && e.Duration != nil && *e.Duration == duration
	}))
}

func TestEndComputesDurationFromAccept(t *testing.T) {
	mockLogs := new(MockCallLogRepository)
	mockBroadcaster := new(MockBroadcaster)
	service := NewService(mockLogs, NewRegistry(), mockBroadcaster, nil, time.Minute)

	input := newStartInput()
	ctx := context.Background()

	mockLogs.On("Create", ctx, mock.Anything).Return(nil)
	mockLogs.On("MarkAccepted", ctx, input.CallID).Return(nil)
	mockLogs.On("MarkEnded", ctx, input.CallID, mock.MatchedBy(func(d *int) bool {
		return d != nil && *d >= 0
	})).Return(nil)
	mockBroadcaster.On("Broadcast", mock.Anything, mock.Anything, mock.Anything).Return()
	mockBroadcaster.On("BroadcastExceptUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	assert.NoError(t, service.Start(ctx, input))
	assert.NoError(t, service.Accept(ctx, input.CallID, input.ConversationID))
	assert.NoError(t, service.End(ctx, &EndInput{
		CallID:         input.CallID,
		ConversationID: input.ConversationID,
	}))

	mockLogs.AssertExpectations(t)
}

func TestEndWithoutAcceptLeavesDurationNull(t *testing.T) {
	mockLogs := new(MockCallLogRepository)
	mockBroadcaster := new(MockBroadcaster)
	service := NewService(mockLogs, NewRegistry(), mockBroadcaster, nil, time.Minute)

	input := newStartInput()
	ctx := context.Background()

	mockLogs.On("Create", ctx, mock.Anything).Return(nil)
	mockLogs.On("MarkEnded", ctx, input.CallID, (*int)(nil)).Return(nil)
	mockBroadcaster.On("Broadcast", mock.Anything, mock.Anything, mock.Anything).Return()
	mockBroadcaster.On("BroadcastExceptUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	assert.NoError(t, service.Start(ctx, input))
	assert.NoError(t, service.End(ctx, &EndInput{
		CallID:         input.CallID,
		ConversationID: input.ConversationID,
	}))

	mockLogs.AssertExpectations(t)
}

func TestReject(t *testing.T) {
	mockLogs := new(MockCallLogRepository)
	mockBroadcaster := new(MockBroadcaster)
	service := NewService(mockLogs, NewRegistry(), mockBroadcaster, nil, time.Minute)

	input := newStartInput()
	ctx := context.Background()

	mockLogs.On("Create", ctx, mock.Anything).Return(nil)
	mockLogs.On("MarkRejected", ctx, input.CallID).Return(nil)
	mockBroadcaster.On("Broadcast", mock.Anything, mock.Anything, mock.Anything).Return()
	mockBroadcaster.On("BroadcastExceptUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()
	mockBroadcaster.On("BroadcastToUser", input.ConversationID, input.CallerID, EventCallStatus, statusMatcher(constants.CallStatusNoAnswer)).Return()

	assert.NoError(t, service.Start(ctx, input))
	assert.NoError(t, service.Reject(ctx, input.CallID, input.ConversationID))

	assert.Equal(t, 0, service.ActiveSessions())
	mockLogs.AssertExpectations(t)
	mockBroadcaster.AssertExpectations(t)
	mockBroadcaster.AssertCalled(t, "BroadcastExceptUser", input.ConversationID, input.CallerID, EventCallStatus, statusMatcher(constants.CallStatusEnded))
}

func TestRingTimeout(t *testing.T) {
	mockLogs := new(MockCallLogRepository)
	mockBroadcaster := new(MockBroadcaster)
	service := NewService(mockLogs, NewRegistry(), mockBroadcaster, nil, 20*time.Millisecond)

	input := newStartInput()
	ctx := context.Background()
	missed := make(chan struct{})

	mockLogs.On("Create", ctx, mock.Anything).Return(nil)
	mockLogs.On("MarkMissed", mock.Anything, input.CallID).Return(nil).Run(func(args mock.Arguments) {
		close(missed)
	})
	mockBroadcaster.On("Broadcast", mock.Anything, mock.Anything, mock.Anything).Return()
	mockBroadcaster.On("BroadcastExceptUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	assert.NoError(t, service.Start(ctx, input))

	select {
	case <-missed:
	case <-time.After(2 * time.Second):
		t.Fatal("ring timeout did not fire")
	}

	assert.Equal(t, 0, service.ActiveSessions())
	mockLogs.AssertExpectations(t)
	mockBroadcaster.AssertCalled(t, "Broadcast", input.ConversationID, EventCallStatus, statusMatcher(constants.CallStatusNoAnswer))
}

func TestAcceptDisarmsRingTimeout(t *testing.T) {
	mockLogs := new(MockCallLogRepository)
	mockBroadcaster := new(MockBroadcaster)
	service := NewService(mockLogs, NewRegistry(), mockBroadcaster, nil, 20*time.Millisecond)

	input := newStartInput()
	ctx := context.Background()

	mockLogs.On("Create", ctx, mock.Anything).Return(nil)
	mockLogs.On("MarkAccepted", ctx, input.CallID).Return(nil)
	mockBroadcaster.On("Broadcast", mock.Anything, mock.Anything, mock.Anything).Return()
	mockBroadcaster.On("BroadcastExceptUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	assert.NoError(t, service.Start(ctx, input))
	assert.NoError(t, service.Accept(ctx, input.CallID, input.ConversationID))

	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, service.ActiveSessions())
	mockLogs.AssertNotCalled(t, "MarkMissed", mock.Anything, mock.Anything)
}

func TestAcceptMissingSessionIsIdempotent(t *testing.T) {
	mockLogs := new(MockCallLogRepository)
	mockBroadcaster := new(MockBroadcaster)
	service := NewService(mockLogs, NewRegistry(), mockBroadcaster, nil, time.Minute)

	callID := uuid.New()
	conversationID := uuid.New()

	mockBroadcaster.On("Broadcast", conversationID, EventCallStatus, statusMatcher(constants.CallStatusEnded)).Return()

	err := service.Accept(context.Background(), callID, conversationID)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeCallNotFound, apperrors.CodeOf(err))
	mockLogs.AssertNotCalled(t, "MarkAccepted", mock.Anything, mock.Anything)
	mockBroadcaster.AssertExpectations(t)
}

func TestRejectAfterEndIsIdempotent(t *testing.T) {
	mockLogs := new(MockCallLogRepository)
	mockBroadcaster := new(MockBroadcaster)
	service := NewService(mockLogs, NewRegistry(), mockBroadcaster, nil, time.Minute)

	input := newStartInput()
	ctx := context.Background()

	mockLogs.On("Create", ctx, mock.Anything).Return(nil)
	mockLogs.On("MarkEnded", ctx, input.CallID, (*int)(nil)).Return(nil)
	mockBroadcaster.On("Broadcast", mock.Anything, mock.Anything, mock.Anything).Return()
	mockBroadcaster.On("BroadcastExceptUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	assert.NoError(t, service.Start(ctx, input))
	assert.NoError(t, service.End(ctx, &EndInput{CallID: input.CallID, ConversationID: input.ConversationID}))

	err := service.Reject(ctx, input.CallID, input.ConversationID)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeCallNotFound, apperrors.CodeOf(err))
	mockLogs.AssertNotCalled(t, "MarkRejected", mock.Anything, mock.Anything)
}

func TestAcceptPersistFailureLeavesSessionRinging(t *testing.T) {
	mockLogs := new(MockCallLogRepository)
	mockBroadcaster := new(MockBroadcaster)
	service := NewService(mockLogs, NewRegistry(), mockBroadcaster, nil, time.Minute)

	input := newStartInput()
	ctx := context.Background()

	mockLogs.On("Create", ctx, mock.Anything).Return(nil)
	mockLogs.On("MarkAccepted", ctx, input.CallID).Return(errors.New("db down")).Once()
	mockLogs.On("MarkAccepted", ctx, input.CallID).Return(nil).Once()
	mockBroadcaster.On("Broadcast", mock.Anything, mock.Anything, mock.Anything).Return()
	mockBroadcaster.On("BroadcastExceptUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	assert.NoError(t, service.Start(ctx, input))

	err := service.Accept(ctx, input.CallID, input.ConversationID)
	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDatabase, apperrors.CodeOf(err))
	assert.Equal(t, 1, service.ActiveSessions())

	// Retry succeeds because the failed attempt changed nothing in memory.
	assert.NoError(t, service.Accept(ctx, input.CallID, input.ConversationID))
	mockLogs.AssertExpectations(t)
}

func TestGetUserCallsClampsLimit(t *testing.T) {
	mockLogs := new(MockCallLogRepository)
	mockBroadcaster := new(MockBroadcaster)
	service := NewService(mockLogs, NewRegistry(), mockBroadcaster, nil, time.Minute)

	userID := uuid.New()
	ctx := context.Background()

	mockLogs.On("GetUserCalls", ctx, userID, constants.MaxPageSize, 0).Return([]*domain.CallLog{}, nil)

	calls, err := service.GetUserCalls(ctx, userID, 5000, 0)

	assert.NoError(t, err)
	assert.Empty(t, calls)
	mockLogs.AssertExpectations(t)
}
