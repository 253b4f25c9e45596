package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chatsync/internal/domain"
	"chatsync/internal/service"
	"chatsync/internal/wire"
)

func reactionMessage(reactions []domain.Reaction) *domain.Message {
	return &domain.Message{
		ID:         "m1",
		SenderID:   "alice",
		ReceiverID: "bob",
		Status:     domain.StatusDelivered,
		Reactions:  reactions,
	}
}

func TestToggleReaction(t *testing.T) {
	t.Run("AddsWhenAbsent", func(t *testing.T) {
		msgs := new(MockMessageStore)
		reg := newFakeRegistry("alice", "bob")
		svc := service.NewReactionService(msgs, reg)

		msgs.On("Get", mock.Anything, "m1").Return(reactionMessage(nil), nil)
		msgs.On("SaveReactions", mock.Anything, "m1", []domain.Reaction{{UserID: "bob", Emoji: "👍"}}).Return(nil)

		set, err := svc.Toggle(context.Background(), "m1", "bob", "👍")
		assert.NoError(t, err)
		assert.Equal(t, []domain.Reaction{{UserID: "bob", Emoji: "👍"}}, set)

		// Full set pushed to both participants.
		assert.Len(t, reg.sent("alice", wire.EventReactionsChanged), 1)
		assert.Len(t, reg.sent("bob", wire.EventReactionsChanged), 1)
	})

	t.Run("SameEmojiTwiceRoundTrips", func(t *testing.T) {
		msgs := new(MockMessageStore)
		reg := newFakeRegistry("alice", "bob")
		svc := service.NewReactionService(msgs, reg)

		original := []domain.Reaction{{UserID: "alice", Emoji: "❤️"}}
		withBob := []domain.Reaction{{UserID: "alice", Emoji: "❤️"}, {UserID: "bob", Emoji: "👍"}}

		msgs.On("Get", mock.Anything, "m1").Return(reactionMessage(original), nil).Once()
		msgs.On("SaveReactions", mock.Anything, "m1", withBob).Return(nil).Once()
		set, err := svc.Toggle(context.Background(), "m1", "bob", "👍")
		assert.NoError(t, err)
		assert.Equal(t, withBob, set)

		msgs.On("Get", mock.Anything, "m1").Return(reactionMessage(withBob), nil).Once()
		msgs.On("SaveReactions", mock.Anything, "m1", original).Return(nil).Once()
		set, err = svc.Toggle(context.Background(), "m1", "bob", "👍")
		assert.NoError(t, err)
		assert.Equal(t, original, set)
	})

	t.Run("DifferentEmojiReplaces", func(t *testing.T) {
		msgs := new(MockMessageStore)
		reg := newFakeRegistry("alice", "bob")
		svc := service.NewReactionService(msgs, reg)

		msgs.On("Get", mock.Anything, "m1").Return(
			reactionMessage([]domain.Reaction{{UserID: "bob", Emoji: "👍"}}), nil)
		msgs.On("SaveReactions", mock.Anything, "m1", []domain.Reaction{{UserID: "bob", Emoji: "😂"}}).Return(nil)

		set, err := svc.Toggle(context.Background(), "m1", "bob", "😂")
		assert.NoError(t, err)
		assert.Equal(t, []domain.Reaction{{UserID: "bob", Emoji: "😂"}}, set)
	})

	t.Run("PreservesOrderOfOtherUsers", func(t *testing.T) {
		msgs := new(MockMessageStore)
		reg := newFakeRegistry("alice", "bob")
		svc := service.NewReactionService(msgs, reg)

		before := []domain.Reaction{
			{UserID: "alice", Emoji: "❤️"},
			{UserID: "bob", Emoji: "👍"},
			{UserID: "carol", Emoji: "🎉"},
		}
		after := []domain.Reaction{
			{UserID: "alice", Emoji: "❤️"},
			{UserID: "bob", Emoji: "😂"},
			{UserID: "carol", Emoji: "🎉"},
		}
		msgs.On("Get", mock.Anything, "m1").Return(reactionMessage(before), nil)
		msgs.On("SaveReactions", mock.Anything, "m1", after).Return(nil)

		set, err := svc.Toggle(context.Background(), "m1", "bob", "😂")
		assert.NoError(t, err)
		assert.Equal(t, after, set)
	})

	t.Run("MessageNotFound", func(t *testing.T) {
		msgs := new(MockMessageStore)
		svc := service.NewReactionService(msgs, newFakeRegistry())

		msgs.On("Get", mock.Anything, "missing").Return(nil, domain.ErrNotFound)

		_, err := svc.Toggle(context.Background(), "missing", "bob", "👍")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("RejectsEmptyInput", func(t *testing.T) {
		svc := service.NewReactionService(new(MockMessageStore), newFakeRegistry())
		_, err := svc.Toggle(context.Background(), "m1", "bob", "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}
