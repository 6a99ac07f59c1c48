package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator() *Coordinator {
	return NewCoordinator(NewMemoryStore(), zerolog.Nop())
}

func TestQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	require.NoError(t, c.EnqueuePlayer(ctx, "alice", 1500))
	require.NoError(t, c.EnqueuePlayer(ctx, "bob", 1400))

	in, err := c.InQueue(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, in)

	entries, err := c.QueueEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Ordered by rating.
	assert.Equal(t, "bob", entries[0].PlayerID)
	assert.Equal(t, 1400, entries[0].Rating)

	_, ok, err := c.JoinedAt(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.DequeuePlayer(ctx, "alice"))
	in, err = c.InQueue(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, in)
	_, ok, _ = c.JoinedAt(ctx, "alice")
	assert.False(t, ok)
}

func TestEnqueueIsIdempotentOnCardinality(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	require.NoError(t, c.EnqueuePlayer(ctx, "alice", 1500))
	require.NoError(t, c.EnqueuePlayer(ctx, "alice", 1500))

	size, err := c.QueueSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)
}

func TestReservationRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	res, err := c.Reservation(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, res)

	want := Reservation{RoomID: "room-1", MatchID: "m1", ProblemID: "p1", Status: ReservationCreating}
	require.NoError(t, c.PutReservation(ctx, "alice", want, time.Minute))

	res, err = c.Reservation(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, want, *res)

	require.NoError(t, c.DeleteReservations(ctx, "alice"))
	res, err = c.Reservation(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMutateMatchIsTheOnlyWritePath(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	doc := &MatchDoc{
		MatchID:      "m1",
		Status:       MatchOngoing,
		Players:      map[string]PlayerMeta{"alice": {Username: "alice", Rating: 1500}},
		PlayersCode:  map[string]map[string]string{},
		LinesWritten: map[string]int{},
	}
	require.NoError(t, c.PutMatch(ctx, doc, time.Hour))

	got, err := c.MutateMatch(ctx, "m1", time.Hour, func(d *MatchDoc) error {
		d.LinesWritten["alice"] = 12
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 12, got.LinesWritten["alice"])

	reread, err := c.Match(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 12, reread.LinesWritten["alice"])

	_, err = c.MutateMatch(ctx, "missing", time.Hour, func(d *MatchDoc) error { return nil })
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestMatchLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	unlock, err := c.AcquireMatchLock(ctx, "alice", 10*time.Second)
	require.NoError(t, err)

	_, err = c.AcquireMatchLock(ctx, "alice", 10*time.Second)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, unlock())

	unlock2, err := c.AcquireMatchLock(ctx, "alice", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock2())
}

func TestBotKeys(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	require.NoError(t, c.AddActiveBots(ctx, "bot1"))
	require.NoError(t, c.SetBotCurrentMatch(ctx, "bot1", "m1"))
	require.NoError(t, c.SetBotState(ctx, "bot1", BotPlaying))

	active, err := c.IsBotActive(ctx, "bot1")
	require.NoError(t, err)
	assert.True(t, active)

	matchID, ok, err := c.BotCurrentMatch(ctx, "bot1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m1", matchID)

	require.NoError(t, c.RemoveActiveBots(ctx, "bot1"))
	require.NoError(t, c.ClearBotKeys(ctx, "bot1"))

	active, _ = c.IsBotActive(ctx, "bot1")
	assert.False(t, active)
	_, ok, _ = c.BotCurrentMatch(ctx, "bot1")
	assert.False(t, ok)
	_, ok, _ = c.BotState(ctx, "bot1")
	assert.False(t, ok)
}

func TestPubSubRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	events, cancel, err := c.SubscribeMatchEvents(ctx)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, c.PublishMatchEvent(ctx, MatchEvent{Type: "match_created", MatchID: "m1"}))

	select {
	case payload := <-events:
		assert.Contains(t, payload, `"match_created"`)
		assert.Contains(t, payload, `"m1"`)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestSubmissionCache(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	got, err := c.CachedSubmission(ctx, "m1", "alice", "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.CacheSubmission(ctx, "m1", "alice", "deadbeef", []byte(`{"passed":true}`), time.Minute))
	got, err = c.CachedSubmission(ctx, "m1", "alice", "deadbeef")
	require.NoError(t, err)
	assert.JSONEq(t, `{"passed":true}`, string(got))
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem.SetClock(func() time.Time { return now })

	require.NoError(t, mem.Set(ctx, "k", "v", time.Minute))
	_, ok, _ := mem.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = mem.Get(ctx, "k")
	assert.False(t, ok)
}
