// Package matchmaking runs the rating-based queue: admission, eligibility
// filtering, human-priority pairing, bot-fill, and the locked reservation
// handoff into match creation.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clashcode/arena/internal/config"
	"github.com/clashcode/arena/internal/match"
	"github.com/clashcode/arena/internal/metrics"
	"github.com/clashcode/arena/internal/store"
	"github.com/clashcode/arena/pkg/realtime"
)

// Admission errors surfaced to the queue handler.
var (
	ErrAlreadyInMatch = errors.New("player already has a live match")
	ErrDuplicateJoin  = errors.New("player already being matched")
	ErrBotReserved    = errors.New("bot already reserved")
)

// Creator is the match-creation entry point (the match package's Creator).
type Creator interface {
	Create(ctx context.Context, params match.CreateParams) (*match.Created, error)
}

// Notifier is the slice of the hub the queue needs.
type Notifier interface {
	Send(playerID string, msg realtime.Message) error
	Connected(playerID string) bool
}

// Controller owns queue admission and the pairing sweep. One instance per
// process; cross-process safety comes from the per-player NX locks.
type Controller struct {
	coord   *store.Coordinator
	creator Creator
	hub     Notifier
	config  config.Queue
	metrics *metrics.Metrics
	logger  zerolog.Logger

	now func() time.Time

	mu         sync.Mutex
	processing map[string]struct{}
	botTimers  map[string]*time.Timer
}

// NewController wires the matchmaking controller.
func NewController(coord *store.Coordinator, creator Creator, hub Notifier, cfg config.Queue, m *metrics.Metrics, logger zerolog.Logger) *Controller {
	return &Controller{
		coord:      coord,
		creator:    creator,
		hub:        hub,
		config:     cfg,
		metrics:    m,
		logger:     logger.With().Str("component", "matchmaking").Logger(),
		now:        time.Now,
		processing: make(map[string]struct{}),
		botTimers:  make(map[string]*time.Timer),
	}
}

// ---- admission ---------------------------------------------------------------

// Join admits one player. Humans holding a reservation get an
// already_in_match redirect; bots holding one are rejected outright.
func (c *Controller) Join(ctx context.Context, playerID string, rating int) error {
	res, err := c.coord.Reservation(ctx, playerID)
	if err != nil {
		return err
	}
	if res != nil {
		if match.IsBot(playerID) {
			return ErrBotReserved
		}
		c.hub.Send(playerID, realtime.NewMessage(realtime.TypeAlreadyInMatch, realtime.AlreadyInMatchPayload{
			MatchID: res.MatchID,
			RoomID:  res.RoomID,
		}))
		return ErrAlreadyInMatch
	}

	queued, err := c.coord.InQueue(ctx, playerID)
	if err != nil {
		return err
	}
	if queued {
		// A repeat join while queued is acknowledged again without touching
		// queue state: no re-enqueue, no second playerQueued broadcast.
		c.sendQueuedAck(ctx, playerID)
		c.logger.Debug().Str("player_id", playerID).Msg("duplicate join acknowledged")
		return nil
	}
	botActive, err := c.coord.IsBotActive(ctx, playerID)
	if err != nil {
		return err
	}
	if botActive || c.inProcessing(playerID) {
		return ErrDuplicateJoin
	}

	if err := c.coord.EnqueuePlayer(ctx, playerID, rating); err != nil {
		return err
	}
	if !match.IsBot(playerID) {
		if err := c.coord.TrackHuman(ctx, playerID); err != nil {
			c.logger.Warn().Err(err).Str("player_id", playerID).Msg("human tracking failed")
		}
		if err := c.coord.PublishBotCommand(ctx, store.BotCommand{Type: "playerQueued", PlayerID: playerID}); err != nil {
			c.logger.Warn().Err(err).Msg("playerQueued publish failed")
		}
		c.scheduleNeedsBot(playerID)
	}

	c.publishDepth(ctx)
	c.sendQueuedAck(ctx, playerID)
	c.logger.Info().Str("player_id", playerID).Int("rating", rating).Msg("player queued")
	return nil
}

// sendQueuedAck replies queued with the player's current 1-based rank.
func (c *Controller) sendQueuedAck(ctx context.Context, playerID string) {
	position := 0
	if entries, err := c.coord.QueueEntries(ctx); err == nil {
		for i, e := range entries {
			if e.PlayerID == playerID {
				position = i + 1
				break
			}
		}
	}
	c.hub.Send(playerID, realtime.NewMessage(realtime.TypeQueued, realtime.QueuedPayload{Position: position}))
}

// Leave removes a player who backed out.
func (c *Controller) Leave(ctx context.Context, playerID string) error {
	c.cancelNeedsBot(playerID)
	if err := c.coord.DequeuePlayer(ctx, playerID); err != nil {
		return err
	}
	if err := c.coord.UnmarkNeedsBot(ctx, playerID); err != nil {
		c.logger.Warn().Err(err).Msg("needs_bot unmark failed")
	}
	if !match.IsBot(playerID) {
		if err := c.coord.UntrackHuman(ctx, playerID); err != nil {
			c.logger.Warn().Err(err).Msg("human untracking failed")
		}
		if err := c.coord.PublishBotCommand(ctx, store.BotCommand{Type: "playerDequeued", PlayerID: playerID}); err != nil {
			c.logger.Warn().Err(err).Msg("playerDequeued publish failed")
		}
	}
	c.publishDepth(ctx)
	c.logger.Info().Str("player_id", playerID).Msg("player left queue")
	return nil
}

// scheduleNeedsBot arms the advisory timer marking lonely humans.
func (c *Controller) scheduleNeedsBot(playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.botTimers[playerID]; ok {
		t.Stop()
	}
	c.botTimers[playerID] = time.AfterFunc(c.config.NeedsBotAfter(), func() {
		ctx := context.Background()
		queued, err := c.coord.InQueue(ctx, playerID)
		if err != nil || !queued {
			return
		}
		if err := c.coord.MarkNeedsBot(ctx, playerID); err != nil {
			c.logger.Warn().Err(err).Str("player_id", playerID).Msg("needs_bot mark failed")
		}
	})
}

func (c *Controller) cancelNeedsBot(playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.botTimers[playerID]; ok {
		t.Stop()
		delete(c.botTimers, playerID)
	}
}

func (c *Controller) inProcessing(playerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.processing[playerID]
	return ok
}

func (c *Controller) markProcessing(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.processing[id] = struct{}{}
	}
}

func (c *Controller) unmarkProcessing(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.processing, id)
	}
}

func (c *Controller) publishDepth(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	if size, err := c.coord.QueueSize(ctx); err == nil {
		c.metrics.QueueDepth.Set(float64(size))
	}
}

// ---- eligibility -------------------------------------------------------------

type candidate struct {
	store.QueueEntry
	joinedAt time.Time
	wait     time.Duration
	isBot    bool
}

// threshold returns the ELO tolerance for one player's wait time. Tolerance
// widens in steps until the ceiling.
func (c *Controller) threshold(wait time.Duration) int {
	var steps int
	switch {
	case wait < 10*time.Second:
		steps = 0
	case wait < 20*time.Second:
		steps = 1
	case wait < 30*time.Second:
		steps = 2
	case wait < 45*time.Second:
		steps = 3
	default:
		return c.config.EloThresholdMax
	}
	t := c.config.EloThresholdInit + steps*c.config.EloThresholdStep
	if t > c.config.EloThresholdMax {
		t = c.config.EloThresholdMax
	}
	return t
}

// candidates loads the queue with per-player wait and eligibility data.
// Humans are eligible after the dwell floor; bots additionally must be free of
// active-set membership and a current-match pointer.
func (c *Controller) candidates(ctx context.Context) (eligible []candidate, humansWaiting int, err error) {
	entries, err := c.coord.QueueEntries(ctx)
	if err != nil {
		return nil, 0, err
	}
	now := c.now()
	for _, e := range entries {
		isBot := match.IsBot(e.PlayerID)
		if !isBot {
			humansWaiting++
		}
		if c.inProcessing(e.PlayerID) {
			continue
		}
		joinedAt, ok, err := c.coord.JoinedAt(ctx, e.PlayerID)
		if err != nil || !ok {
			continue
		}
		wait := now.Sub(joinedAt)
		if wait < c.config.MinWait() {
			continue
		}
		if isBot {
			active, err := c.coord.IsBotActive(ctx, e.PlayerID)
			if err != nil || active {
				continue
			}
			if _, has, err := c.coord.BotCurrentMatch(ctx, e.PlayerID); err != nil || has {
				continue
			}
		}
		eligible = append(eligible, candidate{QueueEntry: e, joinedAt: joinedAt, wait: wait, isBot: isBot})
	}
	return eligible, humansWaiting, nil
}

// compatible reports whether the rating gap fits inside both players'
// tolerance windows.
func (c *Controller) compatible(a, b candidate) bool {
	diff := a.Rating - b.Rating
	if diff < 0 {
		diff = -diff
	}
	limit := c.threshold(a.wait)
	if other := c.threshold(b.wait); other < limit {
		limit = other
	}
	return diff <= limit
}

// selectPair applies the pairing priority: human-human by minimum rating
// difference, then bot-fill for a lone long-waiting human, then bot-bot only
// when no human is waiting at all.
func (c *Controller) selectPair(eligible []candidate, humansWaiting int) (candidate, candidate, bool) {
	var humans, bots []candidate
	for _, cand := range eligible {
		if cand.isBot {
			bots = append(bots, cand)
		} else {
			humans = append(humans, cand)
		}
	}

	var best [2]candidate
	bestDiff := -1
	for i := 0; i < len(humans); i++ {
		for j := i + 1; j < len(humans); j++ {
			if !c.compatible(humans[i], humans[j]) {
				continue
			}
			diff := humans[i].Rating - humans[j].Rating
			if diff < 0 {
				diff = -diff
			}
			if bestDiff < 0 || diff < bestDiff {
				bestDiff = diff
				best = [2]candidate{humans[i], humans[j]}
			}
		}
	}
	if bestDiff >= 0 {
		return best[0], best[1], true
	}

	// Bot-fill: a lone human who has dwelled past the delay gets the closest
	// queued bot.
	if len(humans) == 1 && len(bots) > 0 && humans[0].wait >= c.config.BotMatchDelay() {
		human := humans[0]
		bot := bots[0]
		botDiff := -1
		for _, b := range bots {
			diff := human.Rating - b.Rating
			if diff < 0 {
				diff = -diff
			}
			if botDiff < 0 || diff < botDiff {
				botDiff = diff
				bot = b
			}
		}
		return human, bot, true
	}

	if humansWaiting == 0 && len(bots) >= 2 {
		return bots[0], bots[1], true
	}

	return candidate{}, candidate{}, false
}

// ---- pairing ----------------------------------------------------------------

// Sweep runs one pairing pass: advisory needs_bot marking, then repeated pair
// selection until no eligible pair remains.
func (c *Controller) Sweep(ctx context.Context) {
	c.markLonelyHumans(ctx)

	for {
		eligible, humansWaiting, err := c.candidates(ctx)
		if err != nil {
			c.logger.Error().Err(err).Msg("queue scan failed")
			return
		}
		a, b, found := c.selectPair(eligible, humansWaiting)
		if !found {
			return
		}
		if err := c.reserveAndCreate(ctx, a, b); err != nil {
			if !errors.Is(err, store.ErrLockHeld) {
				c.logger.Error().Err(err).
					Str("player1", a.PlayerID).
					Str("player2", b.PlayerID).
					Msg("pairing failed")
			}
			return
		}
	}
}

// markLonelyHumans adds humans waiting past the advisory delay to needs_bot.
func (c *Controller) markLonelyHumans(ctx context.Context) {
	entries, err := c.coord.QueueEntries(ctx)
	if err != nil {
		return
	}
	now := c.now()
	for _, e := range entries {
		if match.IsBot(e.PlayerID) {
			continue
		}
		joinedAt, ok, err := c.coord.JoinedAt(ctx, e.PlayerID)
		if err != nil || !ok {
			continue
		}
		if now.Sub(joinedAt) < c.config.NeedsBotAfter() {
			continue
		}
		if in, err := c.coord.InNeedsBot(ctx, e.PlayerID); err == nil && !in {
			if err := c.coord.MarkNeedsBot(ctx, e.PlayerID); err != nil {
				c.logger.Warn().Err(err).Str("player_id", e.PlayerID).Msg("needs_bot mark failed")
			}
		}
	}
}

// reserveAndCreate runs the locked reservation sequence around match
// creation. Locks are ordered by id so two sweeps converging on the same pair
// cannot deadlock.
func (c *Controller) reserveAndCreate(ctx context.Context, a, b candidate) error {
	first, second := a, b
	if second.PlayerID < first.PlayerID {
		first, second = second, first
	}

	unlockFirst, err := c.coord.AcquireMatchLock(ctx, first.PlayerID, c.config.ReservationLockTTL)
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) && c.metrics != nil {
			c.metrics.PairingConflicts.Inc()
		}
		return err
	}
	unlockSecond, err := c.coord.AcquireMatchLock(ctx, second.PlayerID, c.config.ReservationLockTTL)
	if err != nil {
		unlockFirst()
		if errors.Is(err, store.ErrLockHeld) && c.metrics != nil {
			c.metrics.PairingConflicts.Inc()
		}
		return err
	}
	defer func() {
		// Released individually; the key space may be sharded.
		if err := unlockSecond(); err != nil {
			c.logger.Warn().Err(err).Msg("lock release failed")
		}
		if err := unlockFirst(); err != nil {
			c.logger.Warn().Err(err).Msg("lock release failed")
		}
	}()

	if err := c.recheck(ctx, a, b); err != nil {
		if c.metrics != nil {
			c.metrics.PairingConflicts.Inc()
		}
		return err
	}

	c.markProcessing(a.PlayerID, b.PlayerID)
	defer c.unmarkProcessing(a.PlayerID, b.PlayerID)

	placeholder := store.Reservation{Status: store.ReservationCreating}
	var reserved, dequeued []string
	var botsMarked []string
	rollback := func() {
		if err := c.coord.DeleteReservations(ctx, reserved...); err != nil {
			c.logger.Error().Err(err).Msg("rollback: reservation delete failed")
		}
		if err := c.coord.RemoveActiveBots(ctx, botsMarked...); err != nil {
			c.logger.Error().Err(err).Msg("rollback: bots:active cleanup failed")
		}
		for _, cand := range []candidate{a, b} {
			if !contains(dequeued, cand.PlayerID) {
				continue
			}
			if err := c.coord.EnqueuePlayer(ctx, cand.PlayerID, cand.Rating); err != nil {
				c.logger.Error().Err(err).Str("player_id", cand.PlayerID).Msg("rollback: requeue failed")
				continue
			}
			if err := c.coord.RestoreJoinedAt(ctx, cand.PlayerID, cand.joinedAt); err != nil {
				c.logger.Warn().Err(err).Msg("rollback: joined_at restore failed")
			}
			if !cand.isBot {
				if err := c.coord.TrackHuman(ctx, cand.PlayerID); err != nil {
					c.logger.Warn().Err(err).Msg("rollback: human retracking failed")
				}
			}
		}
	}

	for _, cand := range []candidate{a, b} {
		if err := c.coord.PutReservation(ctx, cand.PlayerID, placeholder, store.TTLPlaceholderRes); err != nil {
			rollback()
			return fmt.Errorf("placeholder reservation: %w", err)
		}
		reserved = append(reserved, cand.PlayerID)
		if err := c.coord.DequeuePlayer(ctx, cand.PlayerID); err != nil {
			rollback()
			return fmt.Errorf("dequeue: %w", err)
		}
		dequeued = append(dequeued, cand.PlayerID)
		if cand.isBot {
			if err := c.coord.AddActiveBots(ctx, cand.PlayerID); err != nil {
				rollback()
				return fmt.Errorf("bots:active add: %w", err)
			}
			botsMarked = append(botsMarked, cand.PlayerID)
		} else {
			if err := c.coord.UntrackHuman(ctx, cand.PlayerID); err != nil {
				c.logger.Warn().Err(err).Msg("human untracking failed")
			}
			if err := c.coord.UnmarkNeedsBot(ctx, cand.PlayerID); err != nil {
				c.logger.Warn().Err(err).Msg("needs_bot unmark failed")
			}
			c.cancelNeedsBot(cand.PlayerID)
		}
	}

	created, err := c.creator.Create(ctx, match.CreateParams{
		Player1ID: a.PlayerID,
		Player2ID: b.PlayerID,
	})
	if err != nil {
		rollback()
		return fmt.Errorf("create match: %w", err)
	}

	c.publishDepth(ctx)
	c.notify(a.PlayerID, created)
	c.notify(b.PlayerID, created)
	c.logger.Info().
		Str("match_id", created.MatchID).
		Str("player1", a.PlayerID).
		Str("player2", b.PlayerID).
		Msg("pair matched")
	return nil
}

// recheck revalidates the pair under the locks before any state is written.
func (c *Controller) recheck(ctx context.Context, a, b candidate) error {
	for _, cand := range []candidate{a, b} {
		queued, err := c.coord.InQueue(ctx, cand.PlayerID)
		if err != nil {
			return err
		}
		if !queued {
			return fmt.Errorf("player %s left the queue", cand.PlayerID)
		}
		res, err := c.coord.Reservation(ctx, cand.PlayerID)
		if err != nil {
			return err
		}
		if res != nil {
			return fmt.Errorf("player %s already reserved", cand.PlayerID)
		}
		active, err := c.coord.IsBotActive(ctx, cand.PlayerID)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("player %s already in bots:active", cand.PlayerID)
		}
		if cand.isBot {
			if _, has, err := c.coord.BotCurrentMatch(ctx, cand.PlayerID); err != nil {
				return err
			} else if has {
				return fmt.Errorf("bot %s already pointed at a match", cand.PlayerID)
			}
		}
	}
	return nil
}

func (c *Controller) notify(playerID string, created *match.Created) {
	if match.IsBot(playerID) || !c.hub.Connected(playerID) {
		return
	}
	if err := c.hub.Send(playerID, realtime.NewMessage(realtime.TypeMatchFound, realtime.MatchFoundPayload{
		MatchID:   created.MatchID,
		RoomID:    created.RoomID,
		ProblemID: created.ProblemID,
	})); err != nil {
		c.logger.Warn().Err(err).Str("player_id", playerID).Msg("match_found delivery failed")
	}
}

// Run drives the periodic sweep until the context ends.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.config.SweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
