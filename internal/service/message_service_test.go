package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chatsync/internal/domain"
	"chatsync/internal/service"
	"chatsync/internal/wire"
)

// fakeRegistry records every emission in order and lets tests flip
// reachability per identity.
type emission struct {
	To      string
	Event   string
	Payload any
}

type fakeRegistry struct {
	mu        sync.Mutex
	online    map[string]bool
	emissions []emission
}

func newFakeRegistry(online ...string) *fakeRegistry {
	f := &fakeRegistry{online: make(map[string]bool)}
	for _, id := range online {
		f.online[id] = true
	}
	return f
}

func (f *fakeRegistry) Emit(identity, eventType string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[identity] {
		return false
	}
	f.emissions = append(f.emissions, emission{To: identity, Event: eventType, Payload: payload})
	return true
}

func (f *fakeRegistry) setOnline(identity string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[identity] = online
}

func (f *fakeRegistry) Reachable(identity string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[identity]
}

func (f *fakeRegistry) sent(to, event string) []emission {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emission
	for _, e := range f.emissions {
		if e.To == to && e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeRegistry) all() []emission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]emission, len(f.emissions))
	copy(out, f.emissions)
	return out
}

// Mocks

type MockConversationStore struct {
	mock.Mock
}

func (m *MockConversationStore) CreateOrGet(ctx context.Context, a, b string) (*domain.Conversation, error) {
	args := m.Called(ctx, a, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationStore) SetLastMessage(ctx context.Context, conversationID, messageID string) error {
	args := m.Called(ctx, conversationID, messageID)
	return args.Error(0)
}

func (m *MockConversationStore) IncrementUnread(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *MockConversationStore) ResetUnread(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Save(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageStore) Get(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageStore) UpdateStatus(ctx context.Context, ids []string, status domain.MessageStatus) error {
	args := m.Called(ctx, ids, status)
	return args.Error(0)
}

func (m *MockMessageStore) SaveReactions(ctx context.Context, messageID string, reactions []domain.Reaction) error {
	args := m.Called(ctx, messageID, reactions)
	return args.Error(0)
}

func (m *MockMessageStore) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// durableFrom builds the record the store would hand back for draft.
func durableFrom(draft *domain.Message, id string) *domain.Message {
	d := *draft
	d.ID = id
	d.ConversationID = "conv-1"
	d.Status = domain.StatusSent
	return &d
}

func TestCompose(t *testing.T) {
	svc := service.NewMessageService(new(MockConversationStore), new(MockMessageStore), newFakeRegistry())

	m := svc.Compose(service.SendInput{SenderID: "alice", ReceiverID: "bob", Content: "hi"})
	assert.Equal(t, domain.StatusSending, m.Status)
	assert.Equal(t, domain.ContentText, m.ContentType)
	assert.Contains(t, m.ID, "temp-")
	assert.NotNil(t, m.Reactions)
}

func TestDispatch(t *testing.T) {
	conv := &domain.Conversation{ID: "conv-1", ParticipantA: "alice", ParticipantB: "bob"}

	t.Run("DeliveredWhenReceiverReachable", func(t *testing.T) {
		convs := new(MockConversationStore)
		msgs := new(MockMessageStore)
		reg := newFakeRegistry("alice", "bob")
		svc := service.NewMessageService(convs, msgs, reg)

		provisional := svc.Compose(service.SendInput{SenderID: "alice", ReceiverID: "bob", Content: "hi"})

		convs.On("CreateOrGet", mock.Anything, "alice", "bob").Return(conv, nil)
		convs.On("SetLastMessage", mock.Anything, "conv-1", "msg-1").Return(nil)
		convs.On("IncrementUnread", mock.Anything, "conv-1").Return(nil)
		msgs.On("Save", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
			return m.Status == domain.StatusSent && m.ConversationID == "conv-1"
		})).Return(durableFrom(provisional, "msg-1"), nil)
		msgs.On("UpdateStatus", mock.Anything, []string{"msg-1"}, domain.StatusDelivered).Return(nil)

		durable, err := svc.Dispatch(context.Background(), provisional)
		assert.NoError(t, err)
		assert.Equal(t, "msg-1", durable.ID)
		assert.Equal(t, domain.StatusDelivered, durable.Status)

		// Sender reconciles the provisional id with the durable record.
		sent := reg.sent("alice", wire.EventMessageSent)
		assert.Len(t, sent, 1)
		assert.Equal(t, provisional.ID, sent[0].Payload.(wire.MessageSent).ProvisionalID)

		// Receiver gets exactly one incoming event, already delivered.
		incoming := reg.sent("bob", wire.EventMessageIncoming)
		assert.Len(t, incoming, 1)
		assert.Equal(t, domain.StatusDelivered, incoming[0].Payload.(wire.MessageIncoming).Message.Status)

		statuses := reg.sent("alice", wire.EventMessageStatusChanged)
		assert.Len(t, statuses, 1)
		assert.Equal(t, domain.StatusDelivered, statuses[0].Payload.(wire.MessageStatusChanged).Status)
	})

	t.Run("SentWhenReceiverUnreachable", func(t *testing.T) {
		convs := new(MockConversationStore)
		msgs := new(MockMessageStore)
		reg := newFakeRegistry("alice")
		svc := service.NewMessageService(convs, msgs, reg)

		provisional := svc.Compose(service.SendInput{SenderID: "alice", ReceiverID: "bob", Content: "hi"})

		convs.On("CreateOrGet", mock.Anything, "alice", "bob").Return(conv, nil)
		convs.On("SetLastMessage", mock.Anything, "conv-1", "msg-2").Return(nil)
		convs.On("IncrementUnread", mock.Anything, "conv-1").Return(nil)
		msgs.On("Save", mock.Anything, mock.Anything).Return(durableFrom(provisional, "msg-2"), nil)

		durable, err := svc.Dispatch(context.Background(), provisional)
		assert.NoError(t, err)
		assert.Equal(t, domain.StatusSent, durable.Status)
		assert.Empty(t, reg.sent("bob", wire.EventMessageIncoming))
		msgs.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("FailedOnPersistFailure", func(t *testing.T) {
		convs := new(MockConversationStore)
		msgs := new(MockMessageStore)
		reg := newFakeRegistry("alice", "bob")
		svc := service.NewMessageService(convs, msgs, reg)

		provisional := svc.Compose(service.SendInput{SenderID: "alice", ReceiverID: "bob", Content: "hi"})

		convs.On("CreateOrGet", mock.Anything, "alice", "bob").Return(conv, nil)
		msgs.On("Save", mock.Anything, mock.Anything).Return(nil, errors.New("disk full"))

		durable, err := svc.Dispatch(context.Background(), provisional)
		assert.Nil(t, durable)
		assert.ErrorIs(t, err, domain.ErrPersistence)
		assert.Equal(t, domain.StatusFailed, provisional.Status)

		// Failure is surfaced to the sender, never to the receiver.
		statuses := reg.sent("alice", wire.EventMessageStatusChanged)
		assert.Len(t, statuses, 1)
		assert.Equal(t, domain.StatusFailed, statuses[0].Payload.(wire.MessageStatusChanged).Status)
		assert.Empty(t, reg.sent("bob", wire.EventMessageIncoming))
	})

	t.Run("RejectsEmptyParticipants", func(t *testing.T) {
		svc := service.NewMessageService(new(MockConversationStore), new(MockMessageStore), newFakeRegistry())
		_, err := svc.Dispatch(context.Background(), &domain.Message{SenderID: "alice"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestMarkRead(t *testing.T) {
	t.Run("TransitionsAndNotifiesSender", func(t *testing.T) {
		convs := new(MockConversationStore)
		msgs := new(MockMessageStore)
		reg := newFakeRegistry("alice", "bob")
		svc := service.NewMessageService(convs, msgs, reg)

		msgs.On("Get", mock.Anything, "m1").Return(&domain.Message{
			ID: "m1", SenderID: "alice", ReceiverID: "bob", Status: domain.StatusDelivered,
		}, nil)
		msgs.On("Get", mock.Anything, "m2").Return(&domain.Message{
			ID: "m2", SenderID: "alice", ReceiverID: "bob", Status: domain.StatusSent,
		}, nil)
		msgs.On("UpdateStatus", mock.Anything, []string{"m1", "m2"}, domain.StatusRead).Return(nil)
		convs.On("ResetUnread", mock.Anything, "conv-1").Return(nil)

		err := svc.MarkRead(context.Background(), "bob", "conv-1", []string{"m1", "m2"})
		assert.NoError(t, err)

		assert.Len(t, reg.sent("alice", wire.EventMessageStatusChanged), 2)
		// One badge-clear per sender, not per message.
		assert.Len(t, reg.sent("alice", wire.EventConversationRead), 1)
	})

	t.Run("AlreadyReadIsNoOp", func(t *testing.T) {
		convs := new(MockConversationStore)
		msgs := new(MockMessageStore)
		reg := newFakeRegistry("alice", "bob")
		svc := service.NewMessageService(convs, msgs, reg)

		msgs.On("Get", mock.Anything, "m1").Return(&domain.Message{
			ID: "m1", SenderID: "alice", ReceiverID: "bob", Status: domain.StatusRead,
		}, nil)

		err := svc.MarkRead(context.Background(), "bob", "conv-1", []string{"m1"})
		assert.NoError(t, err)
		assert.Empty(t, reg.all())
		msgs.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("SkipsMessagesOfOtherReceivers", func(t *testing.T) {
		convs := new(MockConversationStore)
		msgs := new(MockMessageStore)
		reg := newFakeRegistry("alice", "bob")
		svc := service.NewMessageService(convs, msgs, reg)

		msgs.On("Get", mock.Anything, "m1").Return(&domain.Message{
			ID: "m1", SenderID: "bob", ReceiverID: "alice", Status: domain.StatusDelivered,
		}, nil)

		err := svc.MarkRead(context.Background(), "bob", "conv-1", []string{"m1"})
		assert.NoError(t, err)
		assert.Empty(t, reg.all())
	})
}

func TestDelete(t *testing.T) {
	t.Run("SenderDeletes", func(t *testing.T) {
		msgs := new(MockMessageStore)
		reg := newFakeRegistry("alice", "bob")
		svc := service.NewMessageService(new(MockConversationStore), msgs, reg)

		msgs.On("Get", mock.Anything, "m1").Return(&domain.Message{
			ID: "m1", SenderID: "alice", ReceiverID: "bob",
		}, nil)
		msgs.On("Delete", mock.Anything, "m1").Return(nil)

		err := svc.Delete(context.Background(), "alice", "m1")
		assert.NoError(t, err)

		deleted := reg.sent("bob", wire.EventMessageDeleted)
		assert.Len(t, deleted, 1)
		assert.Equal(t, "m1", deleted[0].Payload.(wire.MessageDeleted).MessageID)
	})

	t.Run("ForbiddenForNonSender", func(t *testing.T) {
		msgs := new(MockMessageStore)
		reg := newFakeRegistry("alice", "bob")
		svc := service.NewMessageService(new(MockConversationStore), msgs, reg)

		msgs.On("Get", mock.Anything, "m1").Return(&domain.Message{
			ID: "m1", SenderID: "alice", ReceiverID: "bob",
		}, nil)

		err := svc.Delete(context.Background(), "bob", "m1")
		assert.ErrorIs(t, err, domain.ErrForbidden)
		msgs.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("NotFound", func(t *testing.T) {
		msgs := new(MockMessageStore)
		svc := service.NewMessageService(new(MockConversationStore), msgs, newFakeRegistry())

		msgs.On("Get", mock.Anything, "missing").Return(nil, domain.ErrNotFound)

		err := svc.Delete(context.Background(), "alice", "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
