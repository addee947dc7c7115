package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pizzaRun/models"
)

func TestBroker_PublishToSubscribersOfUserOnly(t *testing.T) {
	b := NewBroker()
	alice := b.Subscribe("alice")
	bob := b.Subscribe("bob")
	defer b.Unsubscribe("alice", alice)
	defer b.Unsubscribe("bob", bob)

	b.Publish("alice", Event{Type: TypeAchievement})

	select {
	case ev := <-alice:
		assert.Equal(t, TypeAchievement, ev.Type)
		assert.Equal(t, "alice", ev.UserID)
	case <-time.After(time.Second):
		t.Fatal("alice did not receive event")
	}
	select {
	case ev := <-bob:
		t.Fatalf("bob received %+v", ev)
	default:
	}
}

func TestBroker_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("u")
	for i := 0; i < 100; i++ {
		b.Publish("u", Event{Type: TypeStats})
	}
	assert.Len(t, ch, cap(ch))
	b.Unsubscribe("u", ch)
	b.Publish("u", Event{Type: TypeStats})
}

func TestFeed_FIFOAndNeverDrops(t *testing.T) {
	f := NewFeed()
	for i := 0; i < 500; i++ {
		f.PublishOrderChange(models.OrderChange{After: models.Order{ID: string(rune('a' + i%26))}})
	}
	require.Equal(t, 500, f.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 500; i++ {
		c, err := f.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, string(rune('a'+i%26)), c.After.ID)
	}
	assert.Equal(t, 0, f.Len())
}

func TestFeed_NextHonoursContext(t *testing.T) {
	f := NewFeed()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFeed_WakesBlockedConsumer(t *testing.T) {
	f := NewFeed()
	got := make(chan models.OrderChange, 1)
	go func() {
		c, err := f.Next(context.Background())
		if err == nil {
			got <- c
		}
	}()
	time.Sleep(10 * time.Millisecond)
	f.PublishOrderChange(models.OrderChange{After: models.Order{ID: "o1"}})
	select {
	case c := <-got:
		assert.Equal(t, "o1", c.After.ID)
	case <-time.After(time.Second):
		t.Fatal("consumer not woken")
	}
}
