package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/clashcode/arena/internal/db"
	"github.com/clashcode/arena/internal/db/repository"
	"github.com/clashcode/arena/internal/metrics"
	"github.com/clashcode/arena/internal/problem"
	"github.com/clashcode/arena/internal/rating"
	"github.com/clashcode/arena/internal/store"
)

// ErrNoProblems is returned when the problem store has no verified problems.
var ErrNoProblems = errors.New("no verified problems available")

// SessionOpener is implemented by the session registry: Open allocates a live
// room for the match, Start arms its timers once creation has fully
// committed.
type SessionOpener interface {
	Open(ctx context.Context, doc *store.MatchDoc, prob *problem.Problem) (roomID string, err error)
	Start(matchID string)
}

// CreateParams select the participants and an optional difficulty override.
type CreateParams struct {
	Player1ID          string
	Player2ID          string
	DifficultyOverride string
}

// Created reports the identifiers the queue needs to notify players.
type Created struct {
	MatchID   string
	RoomID    string
	ProblemID string
}

// Creator assembles everything a live match needs: blob, room, active-set
// membership, ratings snapshot, and reservations.
type Creator struct {
	coord    *store.Coordinator
	users    Users
	bots     Bots
	problems Problems
	engine   *rating.Engine
	opener   SessionOpener
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	// roll drives difficulty selection; replaceable in tests.
	roll func() float64
	now  func() time.Time
}

// NewCreator wires a match creator.
func NewCreator(coord *store.Coordinator, users Users, bots Bots, problems Problems, engine *rating.Engine, opener SessionOpener, m *metrics.Metrics, logger zerolog.Logger) *Creator {
	return &Creator{
		coord:    coord,
		users:    users,
		bots:     bots,
		problems: problems,
		engine:   engine,
		opener:   opener,
		metrics:  m,
		logger:   logger.With().Str("component", "match_creator").Logger(),
		roll:     rand.Float64,
		now:      time.Now,
	}
}

// Create runs the creation sequence. A failure after the blob is persisted
// leaves an ongoing blob behind; the session disposal safety net converts
// those to abandoned.
func (c *Creator) Create(ctx context.Context, params CreateParams) (*Created, error) {
	if err := c.preflight(ctx, params.Player1ID); err != nil {
		return nil, err
	}
	if err := c.preflight(ctx, params.Player2ID); err != nil {
		return nil, err
	}

	p1, err := c.participant(ctx, params.Player1ID)
	if err != nil {
		return nil, err
	}
	p2, err := c.participant(ctx, params.Player2ID)
	if err != nil {
		return nil, err
	}

	matchID := db.NewObjectID()

	difficulty := params.DifficultyOverride
	if difficulty == "" {
		avg := float64(p1.Rating+p2.Rating) / 2
		probs := c.engine.ProblemDifficultyProbabilities(avg)
		difficulty = c.engine.SelectDifficultyByProbability(probs, c.roll())
	}
	problemElo := c.engine.TargetElo(difficulty)

	problemID, err := c.pickProblem(ctx, difficulty)
	if err != nil {
		return nil, err
	}
	prob, err := c.problems.GetByID(ctx, problemID)
	if err != nil {
		return nil, fmt.Errorf("load problem %s: %w", problemID, err)
	}

	doc := &store.MatchDoc{
		MatchID:   matchID,
		ProblemID: problemID,
		StartedAt: c.now().UnixMilli(),
		Status:    store.MatchOngoing,
		Players: map[string]store.PlayerMeta{
			params.Player1ID: p1,
			params.Player2ID: p2,
		},
		Ratings: store.RatingsSnapshot{
			Player1:    p1.Rating,
			Player2:    p2.Rating,
			ProblemElo: int(problemElo),
		},
		PlayersCode:  map[string]map[string]string{},
		LinesWritten: map[string]int{},
		Problem:      prob.Sanitize(),
	}

	if err := c.persistBlob(ctx, doc); err != nil {
		return nil, err
	}

	roomID, err := c.opener.Open(ctx, doc, prob)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	doc.RoomID = roomID
	if _, err := c.coord.MutateMatch(ctx, matchID, store.TTLMatchOngoing, func(d *store.MatchDoc) error {
		d.RoomID = roomID
		return nil
	}); err != nil {
		return nil, err
	}

	if err := c.coord.AddActiveMatch(ctx, matchID); err != nil {
		return nil, err
	}
	for _, id := range []string{params.Player1ID, params.Player2ID} {
		if !IsBot(id) {
			continue
		}
		if err := c.coord.SetBotCurrentMatch(ctx, id, matchID); err != nil {
			return nil, err
		}
		if err := c.coord.SetBotState(ctx, id, store.BotPlaying); err != nil {
			return nil, err
		}
	}

	if err := c.coord.PutMatchRatings(ctx, matchID, map[string]string{
		"player1":    strconv.Itoa(p1.Rating),
		"player2":    strconv.Itoa(p2.Rating),
		"userId1":    params.Player1ID,
		"userId2":    params.Player2ID,
		"problemElo": strconv.Itoa(int(problemElo)),
	}); err != nil {
		return nil, err
	}

	res := store.Reservation{
		RoomID:    roomID,
		MatchID:   matchID,
		ProblemID: problemID,
		Status:    store.ReservationActive,
	}
	for _, id := range []string{params.Player1ID, params.Player2ID} {
		if err := c.coord.PutReservation(ctx, id, res, store.TTLReservation); err != nil {
			return nil, err
		}
	}

	if err := c.coord.PublishMatchEvent(ctx, store.MatchEvent{
		Type:    "match_created",
		MatchID: matchID,
		RoomID:  roomID,
	}); err != nil {
		c.logger.Warn().Err(err).Str("match_id", matchID).Msg("match_created publish failed")
	}

	c.opener.Start(matchID)
	if c.metrics != nil {
		c.metrics.MatchesCreated.Inc()
	}
	c.logger.Info().
		Str("match_id", matchID).
		Str("room_id", roomID).
		Str("problem_id", problemID).
		Str("difficulty", difficulty).
		Msg("match created")

	return &Created{MatchID: matchID, RoomID: roomID, ProblemID: problemID}, nil
}

// preflight asserts the player is free to enter a match. A creating-status
// placeholder written by the queue's reservation step is tolerated.
func (c *Creator) preflight(ctx context.Context, playerID string) error {
	res, err := c.coord.Reservation(ctx, playerID)
	if err != nil {
		return err
	}
	if res != nil && res.Status != store.ReservationCreating {
		return fmt.Errorf("player %s already has a reservation", playerID)
	}
	if !IsBot(playerID) {
		active, err := c.coord.IsBotActive(ctx, playerID)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("player %s is marked as an active bot", playerID)
		}
	}
	return nil
}

func (c *Creator) participant(ctx context.Context, id string) (store.PlayerMeta, error) {
	switch {
	case IsBot(id):
		bot, err := c.bots.GetByID(ctx, id)
		if err != nil {
			return store.PlayerMeta{}, fmt.Errorf("load bot %s: %w", id, err)
		}
		return store.PlayerMeta{Username: bot.Username, Rating: bot.Rating}, nil
	case IsGuest(id):
		return store.PlayerMeta{Username: id, Rating: DefaultRating}, nil
	default:
		user, err := c.users.GetByID(ctx, id)
		if err != nil {
			return store.PlayerMeta{}, fmt.Errorf("load user %s: %w", id, err)
		}
		return store.PlayerMeta{Username: user.Username, Rating: user.Rating}, nil
	}
}

// pickProblem selects a random verified problem, falling back to any verified
// problem when the difficulty bucket is empty.
func (c *Creator) pickProblem(ctx context.Context, difficulty string) (string, error) {
	id, err := c.problems.RandomVerifiedByDifficulty(ctx, difficulty)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}
	id, err = c.problems.RandomVerified(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrNoProblems
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// persistBlob writes the initial blob and verifies the write, retrying once.
func (c *Creator) persistBlob(ctx context.Context, doc *store.MatchDoc) error {
	for attempt := 0; attempt < 2; attempt++ {
		if err := c.coord.PutMatch(ctx, doc, store.TTLMatchOngoing); err != nil {
			if attempt == 1 {
				return fmt.Errorf("persist match blob: %w", err)
			}
			continue
		}
		stored, err := c.coord.Match(ctx, doc.MatchID)
		if err == nil && stored != nil && stored.MatchID == doc.MatchID {
			return nil
		}
	}
	return fmt.Errorf("match blob %s not readable after write", doc.MatchID)
}

// docJSON renders the blob for the document store projection.
func docJSON(doc *store.MatchDoc) json.RawMessage {
	raw, _ := json.Marshal(doc)
	return raw
}
