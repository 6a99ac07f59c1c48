package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clashcode/arena/internal/config"
	"github.com/clashcode/arena/internal/match"
	"github.com/clashcode/arena/internal/store"
	"github.com/clashcode/arena/pkg/realtime"
)

type fakeCreator struct {
	mu    sync.Mutex
	err   error
	calls []match.CreateParams
}

func (f *fakeCreator) Create(ctx context.Context, params match.CreateParams) (*match.Created, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	return &match.Created{MatchID: "m-1", RoomID: "room-1", ProblemID: "p-1"}, nil
}

func (f *fakeCreator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent map[string][]realtime.Message
}

func (f *fakeNotifier) Send(playerID string, msg realtime.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[string][]realtime.Message{}
	}
	f.sent[playerID] = append(f.sent[playerID], msg)
	return nil
}

func (f *fakeNotifier) Connected(playerID string) bool { return true }

func (f *fakeNotifier) types(playerID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent[playerID] {
		out = append(out, m.Type)
	}
	return out
}

func (f *fakeNotifier) frames(playerID string) []realtime.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.Message(nil), f.sent[playerID]...)
}

func queueConfig() config.Queue {
	return config.Queue{
		MinWaitMS:          3000,
		EloThresholdInit:   50,
		EloThresholdStep:   50,
		EloThresholdMax:    250,
		BotMatchDelayMS:    45000,
		NeedsBotAfterMS:    7000,
		SweepIntervalMS:    5000,
		ReservationLockTTL: 10 * time.Second,
	}
}

type mmFixture struct {
	controller *Controller
	coord      *store.Coordinator
	creator    *fakeCreator
	hub        *fakeNotifier
}

func newMMFixture(t *testing.T) *mmFixture {
	t.Helper()
	coord := store.NewCoordinator(store.NewMemoryStore(), zerolog.Nop())
	creator := &fakeCreator{}
	hub := &fakeNotifier{}
	controller := NewController(coord, creator, hub, queueConfig(), nil, zerolog.Nop())
	return &mmFixture{controller: controller, coord: coord, creator: creator, hub: hub}
}

// enqueueWaiting admits a player and backdates joined_at by the given wait.
func (fx *mmFixture) enqueueWaiting(t *testing.T, playerID string, rating int, waited time.Duration) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.controller.Join(ctx, playerID, rating))
	require.NoError(t, fx.coord.RestoreJoinedAt(ctx, playerID, time.Now().Add(-waited)))
}

func TestJoinEnqueuesAndTracksHuman(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.controller.Join(ctx, "alice", 1200))

	queued, err := fx.coord.InQueue(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, queued)
	tracked, err := fx.coord.Raw().SIsMember(ctx, store.KeyHumanPlayers, "alice")
	require.NoError(t, err)
	assert.True(t, tracked)
	assert.Contains(t, fx.hub.types("alice"), realtime.TypeQueued)
}

func TestJoinDoesNotTrackBots(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.controller.Join(ctx, "bot_7", 1400))

	queued, err := fx.coord.InQueue(ctx, "bot_7")
	require.NoError(t, err)
	assert.True(t, queued)
	tracked, err := fx.coord.Raw().SIsMember(ctx, store.KeyHumanPlayers, "bot_7")
	require.NoError(t, err)
	assert.False(t, tracked)
}

func TestJoinRedirectsReservedHuman(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.coord.PutReservation(ctx, "alice", store.Reservation{
		MatchID: "m-9", RoomID: "room-9", Status: store.ReservationActive,
	}, store.TTLReservation))

	err := fx.controller.Join(ctx, "alice", 1200)
	assert.ErrorIs(t, err, ErrAlreadyInMatch)
	assert.Contains(t, fx.hub.types("alice"), realtime.TypeAlreadyInMatch)

	queued, err := fx.coord.InQueue(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestJoinRejectsReservedBot(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.coord.PutReservation(ctx, "bot_7", store.Reservation{
		MatchID: "m-9", Status: store.ReservationActive,
	}, store.TTLReservation))

	err := fx.controller.Join(ctx, "bot_7", 1400)
	assert.ErrorIs(t, err, ErrBotReserved)
	assert.Empty(t, fx.hub.types("bot_7"))
}

func TestJoinDuplicateAcknowledgedIdempotently(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	commands, cancel, err := fx.coord.Raw().Subscribe(ctx, store.ChannelBotCommands)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, fx.controller.Join(ctx, "alice", 1200))
	require.NoError(t, fx.controller.Join(ctx, "alice", 1200))

	size, err := fx.coord.QueueSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)

	acks := 0
	for _, msg := range fx.hub.frames("alice") {
		if msg.Type != realtime.TypeQueued {
			continue
		}
		acks++
		var p realtime.QueuedPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		assert.Equal(t, 1, p.Position)
	}
	assert.Equal(t, 2, acks)

	queuedCommands := 0
	for len(commands) > 0 {
		if strings.Contains(<-commands, "playerQueued") {
			queuedCommands++
		}
	}
	assert.Equal(t, 1, queuedCommands)
}

func TestJoinRejectsActiveBot(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.coord.AddActiveBots(ctx, "bot_7"))

	err := fx.controller.Join(ctx, "bot_7", 1400)
	assert.ErrorIs(t, err, ErrDuplicateJoin)
}

func TestLeaveClearsQueueState(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.controller.Join(ctx, "alice", 1200))
	require.NoError(t, fx.coord.MarkNeedsBot(ctx, "alice"))

	require.NoError(t, fx.controller.Leave(ctx, "alice"))

	queued, err := fx.coord.InQueue(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, queued)
	tracked, err := fx.coord.Raw().SIsMember(ctx, store.KeyHumanPlayers, "alice")
	require.NoError(t, err)
	assert.False(t, tracked)
	lonely, err := fx.coord.InNeedsBot(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, lonely)
}

func TestThresholdStepsWithWait(t *testing.T) {
	fx := newMMFixture(t)
	assert.Equal(t, 50, fx.controller.threshold(5*time.Second))
	assert.Equal(t, 100, fx.controller.threshold(12*time.Second))
	assert.Equal(t, 150, fx.controller.threshold(25*time.Second))
	assert.Equal(t, 200, fx.controller.threshold(40*time.Second))
	assert.Equal(t, 250, fx.controller.threshold(60*time.Second))
}

func TestSweepPairsClosestHumans(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	fx.enqueueWaiting(t, "alice", 1200, 5*time.Second)
	fx.enqueueWaiting(t, "bob", 1210, 5*time.Second)
	fx.enqueueWaiting(t, "carol", 1400, 5*time.Second)

	fx.controller.Sweep(ctx)

	require.Equal(t, 1, fx.creator.callCount())
	paired := map[string]bool{fx.creator.calls[0].Player1ID: true, fx.creator.calls[0].Player2ID: true}
	assert.True(t, paired["alice"])
	assert.True(t, paired["bob"])

	for _, id := range []string{"alice", "bob"} {
		queued, err := fx.coord.InQueue(ctx, id)
		require.NoError(t, err)
		assert.False(t, queued)
		assert.Contains(t, fx.hub.types(id), realtime.TypeMatchFound)
	}
	queued, err := fx.coord.InQueue(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestSweepRespectsDwellFloor(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	fx.enqueueWaiting(t, "alice", 1200, time.Second)
	fx.enqueueWaiting(t, "bob", 1205, time.Second)

	fx.controller.Sweep(ctx)

	assert.Zero(t, fx.creator.callCount())
}

func TestSweepToleranceWidensWithWait(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	fx.enqueueWaiting(t, "alice", 1200, 5*time.Second)
	fx.enqueueWaiting(t, "bob", 1420, 5*time.Second)

	fx.controller.Sweep(ctx)
	assert.Zero(t, fx.creator.callCount())

	require.NoError(t, fx.coord.RestoreJoinedAt(ctx, "alice", time.Now().Add(-50*time.Second)))
	require.NoError(t, fx.coord.RestoreJoinedAt(ctx, "bob", time.Now().Add(-50*time.Second)))

	fx.controller.Sweep(ctx)
	assert.Equal(t, 1, fx.creator.callCount())
}

func TestSweepBotFillAfterDelay(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	fx.enqueueWaiting(t, "alice", 1200, 50*time.Second)
	fx.enqueueWaiting(t, "bot_7", 1250, 50*time.Second)

	fx.controller.Sweep(ctx)

	require.Equal(t, 1, fx.creator.callCount())
	paired := map[string]bool{fx.creator.calls[0].Player1ID: true, fx.creator.calls[0].Player2ID: true}
	assert.True(t, paired["alice"])
	assert.True(t, paired["bot_7"])

	active, err := fx.coord.IsBotActive(ctx, "bot_7")
	require.NoError(t, err)
	assert.True(t, active)
	assert.NotContains(t, fx.hub.types("bot_7"), realtime.TypeMatchFound)
}

func TestSweepBotFillRequiresDelay(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	fx.enqueueWaiting(t, "alice", 1200, 10*time.Second)
	fx.enqueueWaiting(t, "bot_7", 1250, 10*time.Second)

	fx.controller.Sweep(ctx)

	assert.Zero(t, fx.creator.callCount())
}

func TestSweepBotBotOnlyWithoutHumans(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	fx.enqueueWaiting(t, "bot_1", 1200, 10*time.Second)
	fx.enqueueWaiting(t, "bot_2", 1210, 10*time.Second)
	fx.enqueueWaiting(t, "alice", 1500, time.Second)

	fx.controller.Sweep(ctx)
	assert.Zero(t, fx.creator.callCount(), "humans waiting forbid bot-bot pairing")

	require.NoError(t, fx.controller.Leave(ctx, "alice"))
	fx.controller.Sweep(ctx)
	assert.Equal(t, 1, fx.creator.callCount())
}

func TestSweepRollsBackOnCreateFailure(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	fx.creator.err = errors.New("problem store down")
	joined := time.Now().Add(-5 * time.Second)
	fx.enqueueWaiting(t, "alice", 1200, 5*time.Second)
	fx.enqueueWaiting(t, "bob", 1210, 5*time.Second)
	require.NoError(t, fx.coord.RestoreJoinedAt(ctx, "alice", joined))

	fx.controller.Sweep(ctx)

	require.Equal(t, 1, fx.creator.callCount())
	for _, id := range []string{"alice", "bob"} {
		queued, err := fx.coord.InQueue(ctx, id)
		require.NoError(t, err)
		assert.True(t, queued, "player %s must be requeued", id)
		res, err := fx.coord.Reservation(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, res, "placeholder reservation for %s must be rolled back", id)
		tracked, err := fx.coord.Raw().SIsMember(ctx, store.KeyHumanPlayers, id)
		require.NoError(t, err)
		assert.True(t, tracked)
	}
	restored, ok, err := fx.coord.JoinedAt(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, joined, restored, time.Second)
}

func TestSweepRollsBackBotMembershipOnFailure(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	fx.creator.err = errors.New("problem store down")
	fx.enqueueWaiting(t, "alice", 1200, 50*time.Second)
	fx.enqueueWaiting(t, "bot_7", 1250, 50*time.Second)

	fx.controller.Sweep(ctx)

	require.Equal(t, 1, fx.creator.callCount())
	active, err := fx.coord.IsBotActive(ctx, "bot_7")
	require.NoError(t, err)
	assert.False(t, active)
	queued, err := fx.coord.InQueue(ctx, "bot_7")
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestSweepSkipsPairWhenLockHeld(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	fx.enqueueWaiting(t, "alice", 1200, 5*time.Second)
	fx.enqueueWaiting(t, "bob", 1210, 5*time.Second)
	_, err := fx.coord.AcquireMatchLock(ctx, "alice", 10*time.Second)
	require.NoError(t, err)

	fx.controller.Sweep(ctx)

	assert.Zero(t, fx.creator.callCount())
	for _, id := range []string{"alice", "bob"} {
		queued, err := fx.coord.InQueue(ctx, id)
		require.NoError(t, err)
		assert.True(t, queued)
	}
}

func TestSweepMarksLonelyHumans(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	fx.enqueueWaiting(t, "alice", 1200, 10*time.Second)

	fx.controller.Sweep(ctx)

	lonely, err := fx.coord.InNeedsBot(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, lonely)
}

func TestSweepReservedPlayerFailsRecheck(t *testing.T) {
	fx := newMMFixture(t)
	ctx := context.Background()
	fx.enqueueWaiting(t, "alice", 1200, 5*time.Second)
	fx.enqueueWaiting(t, "bob", 1210, 5*time.Second)
	require.NoError(t, fx.coord.PutReservation(ctx, "bob", store.Reservation{
		MatchID: "other", Status: store.ReservationActive,
	}, store.TTLReservation))

	fx.controller.Sweep(ctx)

	assert.Zero(t, fx.creator.callCount())
}
