package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"waster/internal/lifecycle"
	"waster/internal/models"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent(recipient string) ClaimEvent {
	claim := &models.Claim{ID: uuid.New(), PostID: uuid.New(), OwnerID: "owner-1", RecipientID: recipient, Status: models.ClaimApproved}
	return NewClaimEvent(lifecycle.EventClaimApproved, recipient, claim, "Fresh bread")
}

type recordingSink struct {
	mu     sync.Mutex
	name   string
	events []ClaimEvent
	err    error
	panics bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, event ClaimEvent) error {
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) received() []ClaimEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ClaimEvent(nil), s.events...)
}

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.PublishUser(context.Background(), "u1", "payload"))
	assert.NoError(t, n.Deliver(context.Background(), sampleEvent("u1")))
}

func TestUserChannel(t *testing.T) {
	assert.Equal(t, "notifications:user:abc", UserChannel("abc"))
}

func TestNotifier_DeliverPublishesEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, UserChannel("recipient-1"))
	defer func() { _ = sub.Close() }()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	event := sampleEvent("recipient-1")
	require.NoError(t, NewNotifier(rdb).Deliver(ctx, event))

	select {
	case msg := <-sub.Channel():
		var got struct {
			Type    string     `json:"type"`
			Payload ClaimEvent `json:"payload"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "claim_approved", got.Type)
		assert.Equal(t, event.ClaimID, got.Payload.ClaimID)
		assert.Equal(t, "Fresh bread", got.Payload.PostTitle)
		assert.Equal(t, "recipient-1", got.Payload.UserID)
		assert.Equal(t, "recipient-1", got.Payload.RecipientID)
		assert.Equal(t, "owner-1", got.Payload.OwnerID)
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestKafkaSink_Deliver(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewSaramaConfig())
	sink := NewKafkaSink(producer, "claims")
	event := sampleEvent("u1")

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "claims" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != event.ClaimID.String() {
			return errors.New("message not keyed by claim id")
		}
		return nil
	})
	require.NoError(t, sink.Deliver(context.Background(), event))

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	assert.ErrorIs(t, sink.Deliver(context.Background(), event), sarama.ErrOutOfBrokers)

	assert.Equal(t, "kafka", sink.Name())
	require.NoError(t, sink.Close())
}

func TestDispatcher_DeliversToEverySink(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", err: errors.New("down")}
	d := NewDispatcher(8, a, b)
	d.Start()

	first, second := sampleEvent("u1"), sampleEvent("u2")
	d.Publish(first, second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	got := a.received()
	require.Len(t, got, 2)
	assert.Equal(t, first.ClaimID, got[0].ClaimID)
	assert.Equal(t, second.ClaimID, got[1].ClaimID)
	assert.Len(t, b.received(), 2)
}

func TestDispatcher_DropsWhenFullAndAfterClose(t *testing.T) {
	sink := &recordingSink{name: "a"}
	d := NewDispatcher(1, sink)

	// the worker is not running so only one event fits
	d.Publish(sampleEvent("u1"), sampleEvent("u2"), sampleEvent("u3"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.Len(t, sink.received(), 1)

	assert.NotPanics(t, func() { d.Publish(sampleEvent("u4")) })
	require.NoError(t, d.Close(ctx))
	assert.Len(t, sink.received(), 1)
}

func TestDispatcher_SurvivesPanickingSink(t *testing.T) {
	bad := &recordingSink{name: "bad", panics: true}
	good := &recordingSink{name: "good"}
	d := NewDispatcher(4, bad, good)
	d.Start()

	d.Publish(sampleEvent("u1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.Len(t, good.received(), 1)
}

func TestNopPublisher(t *testing.T) {
	assert.NotPanics(t, func() { NopPublisher{}.Publish(sampleEvent("u1")) })
}
