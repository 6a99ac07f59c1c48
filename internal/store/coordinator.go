package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrLockHeld is returned when an NX lock is already taken by another worker.
var ErrLockHeld = errors.New("lock already held")

// ErrMatchNotFound is returned when a blob mutation targets a missing match.
var ErrMatchNotFound = errors.New("match not found")

// Coordinator is the typed adapter over the coordination store (C1). It owns
// the key namespace; nothing else in the repo touches raw keys.
type Coordinator struct {
	store  Store
	logger zerolog.Logger
}

// NewCoordinator wraps a Store implementation.
func NewCoordinator(store Store, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		logger: logger.With().Str("component", "coordinator").Logger(),
	}
}

// Raw exposes the underlying capability surface for tests.
func (c *Coordinator) Raw() Store { return c.store }

// ---- queue -----------------------------------------------------------------

// EnqueuePlayer adds a player to the rating ZSET and stamps joined_at.
func (c *Coordinator) EnqueuePlayer(ctx context.Context, playerID string, rating int) error {
	if err := c.store.ZAdd(ctx, KeyQueueElo, playerID, float64(rating)); err != nil {
		return fmt.Errorf("zadd queue: %w", err)
	}
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := c.store.Set(ctx, keyJoinedAt(playerID), now, TTLJoinedAt); err != nil {
		return fmt.Errorf("set joined_at: %w", err)
	}
	return nil
}

// DequeuePlayer removes a player from the ZSET and drops joined_at.
func (c *Coordinator) DequeuePlayer(ctx context.Context, playerID string) error {
	if err := c.store.ZRem(ctx, KeyQueueElo, playerID); err != nil {
		return fmt.Errorf("zrem queue: %w", err)
	}
	return c.store.Del(ctx, keyJoinedAt(playerID))
}

// InQueue reports ZSET membership.
func (c *Coordinator) InQueue(ctx context.Context, playerID string) (bool, error) {
	_, ok, err := c.store.ZScore(ctx, KeyQueueElo, playerID)
	return ok, err
}

// QueueEntries returns all queued players ordered by rating.
func (c *Coordinator) QueueEntries(ctx context.Context) ([]QueueEntry, error) {
	members, err := c.store.ZRangeWithScores(ctx, KeyQueueElo)
	if err != nil {
		return nil, err
	}
	entries := make([]QueueEntry, len(members))
	for i, m := range members {
		entries[i] = QueueEntry{PlayerID: m.Member, Rating: int(m.Score)}
	}
	return entries, nil
}

// QueueSize returns the ZSET cardinality.
func (c *Coordinator) QueueSize(ctx context.Context) (int64, error) {
	return c.store.ZCard(ctx, KeyQueueElo)
}

// JoinedAt returns the admission time for a queued player.
func (c *Coordinator) JoinedAt(ctx context.Context, playerID string) (time.Time, bool, error) {
	val, ok, err := c.store.Get(ctx, keyJoinedAt(playerID))
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse joined_at: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

// RestoreJoinedAt rewrites the admission timestamp during pairing rollback.
func (c *Coordinator) RestoreJoinedAt(ctx context.Context, playerID string, joinedAt time.Time) error {
	return c.store.Set(ctx, keyJoinedAt(playerID), strconv.FormatInt(joinedAt.UnixMilli(), 10), TTLJoinedAt)
}

// ---- reservations ----------------------------------------------------------

// Reservation reads a player's ticket, if any.
func (c *Coordinator) Reservation(ctx context.Context, playerID string) (*Reservation, error) {
	val, ok, err := c.store.Get(ctx, keyReservation(playerID))
	if err != nil || !ok {
		return nil, err
	}
	var res Reservation
	if err := json.Unmarshal([]byte(val), &res); err != nil {
		return nil, fmt.Errorf("unmarshal reservation: %w", err)
	}
	return &res, nil
}

// PutReservation writes a player's ticket with the given TTL.
func (c *Coordinator) PutReservation(ctx context.Context, playerID string, res Reservation, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal reservation: %w", err)
	}
	return c.store.Set(ctx, keyReservation(playerID), string(data), ttl)
}

// DeleteReservations clears tickets for the given players.
func (c *Coordinator) DeleteReservations(ctx context.Context, playerIDs ...string) error {
	keys := make([]string, len(playerIDs))
	for i, id := range playerIDs {
		keys[i] = keyReservation(id)
	}
	return c.store.Del(ctx, keys...)
}

// ---- match blob ------------------------------------------------------------

// Match reads the blob for a match, or nil when absent.
func (c *Coordinator) Match(ctx context.Context, matchID string) (*MatchDoc, error) {
	val, ok, err := c.store.Get(ctx, keyMatch(matchID))
	if err != nil || !ok {
		return nil, err
	}
	var doc MatchDoc
	if err := json.Unmarshal([]byte(val), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal match blob: %w", err)
	}
	return &doc, nil
}

// PutMatch writes the blob with a TTL. Used only by match creation, before
// the session exists.
func (c *Coordinator) PutMatch(ctx context.Context, doc *MatchDoc, ttl time.Duration) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal match blob: %w", err)
	}
	return c.store.Set(ctx, keyMatch(doc.MatchID), string(data), ttl)
}

// MutateMatch is the single read-modify-write path for the blob: it reads the
// document, applies the mutator and writes back with the given TTL.
func (c *Coordinator) MutateMatch(ctx context.Context, matchID string, ttl time.Duration, mutate func(doc *MatchDoc) error) (*MatchDoc, error) {
	doc, err := c.Match(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrMatchNotFound
	}
	if err := mutate(doc); err != nil {
		return nil, err
	}
	if err := c.PutMatch(ctx, doc, ttl); err != nil {
		return nil, err
	}
	return doc, nil
}

// AddActiveMatch marks a match live.
func (c *Coordinator) AddActiveMatch(ctx context.Context, matchID string) error {
	return c.store.SAdd(ctx, KeyMatchesActive, matchID)
}

// RemoveActiveMatch clears liveness.
func (c *Coordinator) RemoveActiveMatch(ctx context.Context, matchID string) error {
	return c.store.SRem(ctx, KeyMatchesActive, matchID)
}

// IsMatchActive reports matches:active membership.
func (c *Coordinator) IsMatchActive(ctx context.Context, matchID string) (bool, error) {
	return c.store.SIsMember(ctx, KeyMatchesActive, matchID)
}

// ActiveMatches lists live match ids.
func (c *Coordinator) ActiveMatches(ctx context.Context) ([]string, error) {
	return c.store.SMembers(ctx, KeyMatchesActive)
}

// PutMatchRatings writes the creation-time ratings hash.
func (c *Coordinator) PutMatchRatings(ctx context.Context, matchID string, fields map[string]string) error {
	key := keyMatchRatings(matchID)
	if err := c.store.HSet(ctx, key, fields); err != nil {
		return fmt.Errorf("hset ratings: %w", err)
	}
	return c.store.Expire(ctx, key, TTLMatchRatings)
}

// MatchRatings reads the ratings hash.
func (c *Coordinator) MatchRatings(ctx context.Context, matchID string) (map[string]string, error) {
	return c.store.HGetAll(ctx, keyMatchRatings(matchID))
}

// ---- bots ------------------------------------------------------------------

// SetBotState writes bots:state:{id}.
func (c *Coordinator) SetBotState(ctx context.Context, botID, state string) error {
	return c.store.Set(ctx, keyBotState(botID), state, 0)
}

// BotState reads bots:state:{id}.
func (c *Coordinator) BotState(ctx context.Context, botID string) (string, bool, error) {
	return c.store.Get(ctx, keyBotState(botID))
}

// AddActiveBots marks bots as playing in bots:active.
func (c *Coordinator) AddActiveBots(ctx context.Context, botIDs ...string) error {
	if len(botIDs) == 0 {
		return nil
	}
	return c.store.SAdd(ctx, KeyBotsActive, botIDs...)
}

// RemoveActiveBots clears bots:active membership.
func (c *Coordinator) RemoveActiveBots(ctx context.Context, botIDs ...string) error {
	if len(botIDs) == 0 {
		return nil
	}
	return c.store.SRem(ctx, KeyBotsActive, botIDs...)
}

// IsBotActive reports bots:active membership.
func (c *Coordinator) IsBotActive(ctx context.Context, botID string) (bool, error) {
	return c.store.SIsMember(ctx, KeyBotsActive, botID)
}

// SetBotCurrentMatch points a bot at its live match.
func (c *Coordinator) SetBotCurrentMatch(ctx context.Context, botID, matchID string) error {
	return c.store.Set(ctx, keyBotCurrentMatch(botID), matchID, 0)
}

// BotCurrentMatch reads the pointer.
func (c *Coordinator) BotCurrentMatch(ctx context.Context, botID string) (string, bool, error) {
	return c.store.Get(ctx, keyBotCurrentMatch(botID))
}

// ClearBotKeys removes a bot's pointer and state. Called only by resolution
// cleanup.
func (c *Coordinator) ClearBotKeys(ctx context.Context, botID string) error {
	return c.store.Del(ctx, keyBotCurrentMatch(botID), keyBotState(botID))
}

// MarkNeedsBot adds a waiting human to the advisory needs_bot set.
func (c *Coordinator) MarkNeedsBot(ctx context.Context, playerID string) error {
	return c.store.SAdd(ctx, KeyNeedsBot, playerID)
}

// UnmarkNeedsBot removes the advisory entry.
func (c *Coordinator) UnmarkNeedsBot(ctx context.Context, playerID string) error {
	return c.store.SRem(ctx, KeyNeedsBot, playerID)
}

// InNeedsBot reports needs_bot membership.
func (c *Coordinator) InNeedsBot(ctx context.Context, playerID string) (bool, error) {
	return c.store.SIsMember(ctx, KeyNeedsBot, playerID)
}

// ---- human tracking --------------------------------------------------------

// TrackHuman adds a human to the human_players and queued_players sets.
func (c *Coordinator) TrackHuman(ctx context.Context, playerID string) error {
	if err := c.store.SAdd(ctx, KeyHumanPlayers, playerID); err != nil {
		return err
	}
	return c.store.SAdd(ctx, KeyQueuedPlayers, playerID)
}

// UntrackHuman removes a human from both tracking sets.
func (c *Coordinator) UntrackHuman(ctx context.Context, playerID string) error {
	if err := c.store.SRem(ctx, KeyHumanPlayers, playerID); err != nil {
		return err
	}
	return c.store.SRem(ctx, KeyQueuedPlayers, playerID)
}

// ---- locks -----------------------------------------------------------------

// AcquireMatchLock takes the per-player NX lock. Returns ErrLockHeld when
// another worker owns it. The unlock function deletes only our own lock.
func (c *Coordinator) AcquireMatchLock(ctx context.Context, playerID string, ttl time.Duration) (func() error, error) {
	key := keyMatchLock(playerID)
	lockValue := uuid.New().String()

	acquired, err := c.store.SetNX(ctx, key, lockValue, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}

	unlock := func() error {
		return c.store.CompareAndDelete(context.Background(), key, lockValue)
	}
	return unlock, nil
}

// ---- pub/sub ---------------------------------------------------------------

// MatchEvent is one frame on events:match.
type MatchEvent struct {
	Type    string `json:"type"`
	MatchID string `json:"matchId"`
	RoomID  string `json:"roomId,omitempty"`
	Winner  string `json:"winnerUserId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// BotCommand is one frame on bots:commands.
type BotCommand struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId,omitempty"`
	BotID    string `json:"botId,omitempty"`
}

// PublishMatchEvent emits on events:match.
func (c *Coordinator) PublishMatchEvent(ctx context.Context, evt MatchEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return c.store.Publish(ctx, ChannelMatchEvents, string(data))
}

// PublishBotCommand emits on bots:commands.
func (c *Coordinator) PublishBotCommand(ctx context.Context, cmd BotCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return c.store.Publish(ctx, ChannelBotCommands, string(data))
}

// SubscribeMatchEvents subscribes to events:match.
func (c *Coordinator) SubscribeMatchEvents(ctx context.Context) (<-chan string, func(), error) {
	return c.store.Subscribe(ctx, ChannelMatchEvents)
}

// ---- submission cache ------------------------------------------------------

// CacheSubmission stores a serialized outcome under the per-player cache key.
func (c *Coordinator) CacheSubmission(ctx context.Context, matchID, userID, hash string, outcome []byte, ttl time.Duration) error {
	return c.store.Set(ctx, keySubmissionCache(matchID, userID, hash), string(outcome), ttl)
}

// CachedSubmission replays a stored outcome, or nil on miss.
func (c *Coordinator) CachedSubmission(ctx context.Context, matchID, userID, hash string) ([]byte, error) {
	val, ok, err := c.store.Get(ctx, keySubmissionCache(matchID, userID, hash))
	if err != nil || !ok {
		return nil, err
	}
	return []byte(val), nil
}

// InvalidatePlayerCaches drops the cached stats and activity views after a
// match settles so the next read rebuilds them from the document store.
func (c *Coordinator) InvalidatePlayerCaches(ctx context.Context, playerIDs ...string) error {
	for _, id := range playerIDs {
		if err := c.store.Del(ctx, keyStatsCache(id), keyActivityCache(id)); err != nil {
			return err
		}
	}
	return nil
}

// ---- guest snapshot --------------------------------------------------------

// PutGuestSnapshot writes the guest-view result with its 3h TTL.
func (c *Coordinator) PutGuestSnapshot(ctx context.Context, guestID string, snap GuestSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, keyGuestSnapshot(guestID), string(data), TTLGuestSnapshot)
}
