package match

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clashcode/arena/internal/metrics"
	"github.com/clashcode/arena/internal/problem"
	"github.com/clashcode/arena/internal/rating"
	"github.com/clashcode/arena/internal/store"
)

// SessionDeps bundles everything a session needs; the registry clones it into
// every session it opens.
type SessionDeps struct {
	Coord       *store.Coordinator
	Hub         Broadcaster
	Executor    Executor
	Verifier    Verifier
	Users       Users
	Matches     Matches
	Submissions Submissions
	Problems    Problems
	Engine      *rating.Engine
	Metrics     *metrics.Metrics
	Config      SessionConfig
	Logger      zerolog.Logger
}

// Registry tracks live sessions by match id. It implements SessionOpener for
// the creator and recovers sessions from blobs after a restart.
type Registry struct {
	deps SessionDeps

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry builds an empty registry.
func NewRegistry(deps SessionDeps) *Registry {
	return &Registry{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

func (r *Registry) newSession(doc *store.MatchDoc, prob *problem.Problem, roomID string) *Session {
	players := make([]string, 0, len(doc.Players))
	for id := range doc.Players {
		players = append(players, id)
	}
	sort.Strings(players)

	return &Session{
		matchID:     doc.MatchID,
		roomID:      roomID,
		problemID:   doc.ProblemID,
		prob:        prob,
		players:     players,
		startedAt:   time.UnixMilli(doc.StartedAt),
		coord:       r.deps.Coord,
		hub:         r.deps.Hub,
		executor:    r.deps.Executor,
		verifier:    r.deps.Verifier,
		users:       r.deps.Users,
		matches:     r.deps.Matches,
		submissions: r.deps.Submissions,
		engine:      r.deps.Engine,
		metrics:     r.deps.Metrics,
		config:      r.deps.Config,
		logger:      r.deps.Logger.With().Str("component", "session").Str("match_id", doc.MatchID).Logger(),
		now:         time.Now,
		onClose:     r.remove,
		stopCh:      make(chan struct{}),
		rates:       make(map[string][]time.Time),
	}
}

// Open allocates a room and registers the session without arming timers.
func (r *Registry) Open(ctx context.Context, doc *store.MatchDoc, prob *problem.Problem) (string, error) {
	roomID := uuid.NewString()
	session := r.newSession(doc, prob, roomID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[doc.MatchID]; exists {
		return "", fmt.Errorf("session for match %s already open", doc.MatchID)
	}
	r.sessions[doc.MatchID] = session
	return roomID, nil
}

// Start arms the session's timers once creation has committed.
func (r *Registry) Start(matchID string) {
	r.mu.RLock()
	session := r.sessions[matchID]
	r.mu.RUnlock()
	if session != nil {
		session.Start()
	}
}

// Get returns the live session for a match.
func (r *Registry) Get(matchID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[matchID]
	return s, ok
}

func (r *Registry) remove(matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, matchID)
}

// Dispose tears one session down through the safety net.
func (r *Registry) Dispose(ctx context.Context, matchID string) {
	r.mu.Lock()
	session := r.sessions[matchID]
	delete(r.sessions, matchID)
	r.mu.Unlock()
	if session != nil {
		session.Dispose(ctx)
	}
}

// DisposeAll runs at shutdown.
func (r *Registry) DisposeAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Dispose(ctx)
	}
}

// Recover rebuilds sessions for every member of matches:active whose blob is
// still ongoing; stale members are swept into abandonment.
func (r *Registry) Recover(ctx context.Context) error {
	ids, err := r.deps.Coord.ActiveMatches(ctx)
	if err != nil {
		return err
	}
	for _, matchID := range ids {
		doc, err := r.deps.Coord.Match(ctx, matchID)
		if err != nil || doc == nil || doc.Status != store.MatchOngoing {
			if rmErr := r.deps.Coord.RemoveActiveMatch(ctx, matchID); rmErr != nil {
				r.deps.Logger.Warn().Err(rmErr).Str("match_id", matchID).Msg("stale active-match removal failed")
			}
			continue
		}
		prob, err := r.deps.Problems.GetByID(ctx, doc.ProblemID)
		if err != nil {
			r.deps.Logger.Error().Err(err).Str("match_id", matchID).Msg("recovery problem load failed")
			continue
		}
		// Recovery seeds missing player sections with defaults.
		if doc.PlayersCode == nil || doc.LinesWritten == nil {
			doc, err = r.deps.Coord.MutateMatch(ctx, matchID, store.TTLMatchOngoing, func(d *store.MatchDoc) error {
				if d.PlayersCode == nil {
					d.PlayersCode = map[string]map[string]string{}
				}
				if d.LinesWritten == nil {
					d.LinesWritten = map[string]int{}
				}
				return nil
			})
			if err != nil {
				continue
			}
		}

		roomID := doc.RoomID
		if roomID == "" {
			roomID = uuid.NewString()
			if _, err := r.deps.Coord.MutateMatch(ctx, matchID, store.TTLMatchOngoing, func(d *store.MatchDoc) error {
				d.RoomID = roomID
				return nil
			}); err != nil {
				continue
			}
		}

		session := r.newSession(doc, prob, roomID)
		r.mu.Lock()
		if _, exists := r.sessions[matchID]; !exists {
			r.sessions[matchID] = session
			session.Start()
		}
		r.mu.Unlock()
		r.deps.Logger.Info().Str("match_id", matchID).Msg("session recovered")
	}
	return nil
}
