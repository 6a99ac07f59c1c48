package match

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clashcode/arena/internal/db/repository"
	"github.com/clashcode/arena/internal/execute"
	"github.com/clashcode/arena/internal/metrics"
	"github.com/clashcode/arena/internal/problem"
	"github.com/clashcode/arena/internal/rating"
	"github.com/clashcode/arena/internal/sandbox"
	"github.com/clashcode/arena/internal/store"
	"github.com/clashcode/arena/pkg/realtime"
)

// Resolution reasons recorded on the match-end event.
const (
	ReasonCompleted     = "completed"
	ReasonTimeout       = "timeout"
	ReasonAbandoned     = "abandoned"
	ReasonEndRequested  = "end_requested"
	ReasonBotCompletion = "bot_completion"
)

// Rate limits per user: one competitive submit and two test runs per window.
const (
	rateWindow      = 2 * time.Second
	submitPerWindow = 1
	testPerWindow   = 2
)

// SessionConfig carries the runtime knobs a session needs.
type SessionConfig struct {
	MaxDuration        time.Duration
	SubmissionCacheTTL time.Duration
	TestRunCases       int
	BotsEnabled        bool
	BotDist            string
	BotParams          func(difficulty string) (BotTimeParams, bool)
}

// Session drives one live match: it owns the timers, consumes player
// messages, grades submissions, simulates bot opponents, and resolves the
// outcome exactly once.
type Session struct {
	matchID   string
	roomID    string
	problemID string
	prob      *problem.Problem
	players   []string
	startedAt time.Time

	coord       *store.Coordinator
	hub         Broadcaster
	executor    Executor
	verifier    Verifier
	users       Users
	matches     Matches
	submissions Submissions
	engine      *rating.Engine
	metrics     *metrics.Metrics
	config      SessionConfig
	logger      zerolog.Logger

	now     func() time.Time
	onClose func(matchID string)

	mu       sync.Mutex
	finished bool
	timers   []*time.Timer
	stopCh   chan struct{}
	stopped  bool
	rates    map[string][]time.Time
}

func (s *Session) MatchID() string { return s.matchID }
func (s *Session) RoomID() string  { return s.roomID }

// Players returns the participant ids.
func (s *Session) Players() []string { return append([]string(nil), s.players...) }

// isFinished is the timer-callback guard.
func (s *Session) isFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Start arms the duration watchdog and, when enabled, the bot simulation.
// It is idempotent with respect to the blob: a session recovered from a
// snapshot starts the same way a fresh one does.
func (s *Session) Start() {
	go s.watchDuration()

	if !s.config.BotsEnabled {
		return
	}
	difficulty := s.prob.Difficulty
	for _, id := range s.players {
		if IsBot(id) {
			s.startBot(id, difficulty)
		}
	}
}

func (s *Session) watchDuration() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.now().Sub(s.startedAt) >= s.config.MaxDuration {
				if err := s.Resolve(context.Background(), ReasonTimeout, nil); err != nil {
					s.logger.Error().Err(err).Msg("timeout resolution failed")
				}
				return
			}
		}
	}
}

// addTimer registers a one-shot so teardown can cancel it.
func (s *Session) addTimer(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.timers = append(s.timers, time.AfterFunc(d, fn))
}

func (s *Session) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

// allow is the sliding-window rate check for one user action.
func (s *Session) allow(userID, action string, limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + ":" + action
	now := s.now()
	kept := s.rates[key][:0]
	for _, ts := range s.rates[key] {
		if now.Sub(ts) < rateWindow {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= limit {
		s.rates[key] = kept
		return false
	}
	s.rates[key] = append(kept, now)
	return true
}

// HandleMessage dispatches one inbound frame from a connected player.
func (s *Session) HandleMessage(ctx context.Context, userID string, msg realtime.Message) {
	switch msg.Type {
	case realtime.TypeUpdateCode:
		var p realtime.UpdateCodePayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			p.UserID = userID
			s.handleUpdateCode(ctx, p)
		}
	case realtime.TypeSetLanguage:
		var p realtime.SetLanguagePayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			p.UserID = userID
			s.handleSetLanguage(ctx, p)
		}
	case realtime.TypeSubmitCode:
		var p realtime.SubmitCodePayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			p.UserID = userID
			s.handleSubmit(ctx, p)
		}
	case realtime.TypeTestSubmitCode:
		var p realtime.SubmitCodePayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			p.UserID = userID
			s.handleTestSubmit(ctx, p)
		}
	case realtime.TypeEndMatch:
		var p realtime.EndMatchPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			s.handleEndMatch(ctx, p)
		}
	default:
		s.sendError(userID, "unknown_type", "unsupported message type: "+msg.Type)
	}
}

func (s *Session) handleUpdateCode(ctx context.Context, p realtime.UpdateCodePayload) {
	lines := 0
	if p.Lines != nil {
		lines = *p.Lines
	} else if p.Code != "" {
		lines = strings.Count(p.Code, "\n") + 1
	}

	_, err := s.coord.MutateMatch(ctx, s.matchID, store.TTLMatchOngoing, func(d *store.MatchDoc) error {
		if d.PlayersCode == nil {
			d.PlayersCode = map[string]map[string]string{}
		}
		if d.PlayersCode[p.UserID] == nil {
			d.PlayersCode[p.UserID] = map[string]string{}
		}
		d.PlayersCode[p.UserID][p.Language] = p.Code
		if d.LinesWritten == nil {
			d.LinesWritten = map[string]int{}
		}
		d.LinesWritten[p.UserID] = lines
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("persist code update failed")
		return
	}
	s.hub.BroadcastExcept(s.roomID, p.UserID, realtime.NewMessage(realtime.TypeCodeUpdate, realtime.CodeUpdatePayload{
		UserID: p.UserID,
		Lines:  lines,
	}))
}

func (s *Session) handleSetLanguage(ctx context.Context, p realtime.SetLanguagePayload) {
	_, err := s.coord.MutateMatch(ctx, s.matchID, store.TTLMatchOngoing, func(d *store.MatchDoc) error {
		if d.Languages == nil {
			d.Languages = map[string]string{}
		}
		d.Languages[p.UserID] = p.Language
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("persist language change failed")
		return
	}
	s.hub.BroadcastExcept(s.roomID, p.UserID, realtime.NewMessage(realtime.TypeLanguageChanged, realtime.LanguageChangedPayload{
		UserID:   p.UserID,
		Language: p.Language,
	}))
}

func (s *Session) handleEndMatch(ctx context.Context, p realtime.EndMatchPayload) {
	reason := p.Reason
	if reason == "" {
		reason = ReasonEndRequested
	}
	var winner *string
	if p.WinnerUserID != "" {
		winner = &p.WinnerUserID
	}
	if err := s.Resolve(ctx, reason, winner); err != nil {
		s.logger.Error().Err(err).Msg("end_match resolution failed")
	}
}

func (s *Session) handleTestSubmit(ctx context.Context, p realtime.SubmitCodePayload) {
	if !s.allow(p.UserID, "test_submit", testPerWindow) {
		s.hub.Send(p.UserID, realtime.NewMessage(realtime.TypeRateLimit, realtime.RateLimitPayload{Action: realtime.TypeTestSubmitCode}))
		return
	}
	lang, report, ok := s.grade(ctx, p, s.testCases())
	if !ok {
		return
	}

	sub := s.buildSubmission(p, lang, report, false, "")
	if _, err := s.coord.MutateMatch(ctx, s.matchID, store.TTLMatchOngoing, func(d *store.MatchDoc) error {
		d.TestSubmissions = append(d.TestSubmissions, sub)
		return nil
	}); err != nil {
		s.logger.Error().Err(err).Msg("persist test submission failed")
	}
	if id, err := s.insertSubmissionDoc(ctx, sub, false); err != nil {
		s.logger.Error().Err(err).Msg("test submission document insert failed")
	} else if err := s.matches.AddTestRunID(ctx, s.matchID, id); err != nil {
		s.logger.Error().Err(err).Msg("test run link failed")
	}
	if s.metrics != nil {
		s.metrics.SubmissionsTotal.WithLabelValues("test", resultLabel(report.AllPassed)).Inc()
	}

	s.hub.Send(p.UserID, realtime.NewMessage(realtime.TypeTestSubmissionResult, resultPayload(p.UserID, sub)))
}

func (s *Session) handleSubmit(ctx context.Context, p realtime.SubmitCodePayload) {
	if !s.allow(p.UserID, "submit", submitPerWindow) {
		s.hub.Send(p.UserID, realtime.NewMessage(realtime.TypeRateLimit, realtime.RateLimitPayload{Action: realtime.TypeSubmitCode}))
		return
	}
	if s.prob == nil || len(s.prob.TestCases) == 0 {
		s.sendError(p.UserID, "no_problem", "Problem data not available")
		return
	}
	lang, ok := sandbox.Canonical(p.Language)
	if !ok {
		s.sendError(p.UserID, "bad_language", "Unsupported language: "+p.Language)
		return
	}

	hash := submissionHash(p.Code, lang, s.problemID)
	if cached, err := s.coord.CachedSubmission(ctx, s.matchID, p.UserID, hash); err == nil && cached != nil {
		var sub store.Submission
		if json.Unmarshal(cached, &sub) == nil {
			s.replayCached(ctx, p.UserID, sub)
			return
		}
	}

	s.step(p.UserID, realtime.StepCompiling)
	report, err := s.executor.Run(ctx, lang, p.Code, s.prob.Signature, s.prob.TestCases)
	if err != nil {
		s.sendError(p.UserID, "execution_failed", "Submission failed: "+err.Error())
		return
	}
	s.step(p.UserID, realtime.StepRunningTests)

	sub := s.buildSubmission(p, lang, report, false, "")

	// A clean sweep still has to clear the complexity bound when the problem
	// declares one. The verifier failing internally never blocks the player.
	if report.AllPassed && s.prob.TimeComplexity != "" && s.verifier != nil {
		s.step(p.UserID, realtime.StepAnalyzingComplexity)
		verdict, verr := s.verifier.Verify(ctx, p.Code, s.prob.TimeComplexity)
		switch {
		case verr != nil:
			s.logger.Warn().Err(verr).Msg("complexity verification unavailable, failing open")
		case !verdict.Passed():
			sub.Passed = false
			sub.ComplexityFailed = true
			sub.DerivedComplexity = verdict.DerivedComplexity
			s.commitSubmission(ctx, p.UserID, sub, hash)
			s.hub.Broadcast(s.roomID, realtime.NewMessage(realtime.TypeComplexityFailed, realtime.ComplexityFailedPayload{
				UserID:             p.UserID,
				ExpectedComplexity: s.prob.TimeComplexity,
				DerivedComplexity:  verdict.DerivedComplexity,
			}))
			s.hub.Broadcast(s.roomID, realtime.NewMessage(realtime.TypeNewSubmission, newSubmissionPayload(p.UserID, sub)))
			s.hub.Send(p.UserID, realtime.NewMessage(realtime.TypeSubmissionResult, resultPayload(p.UserID, sub)))
			return
		default:
			sub.DerivedComplexity = verdict.DerivedComplexity
		}
	}

	s.commitSubmission(ctx, p.UserID, sub, hash)
	s.hub.Broadcast(s.roomID, realtime.NewMessage(realtime.TypeNewSubmission, newSubmissionPayload(p.UserID, sub)))
	s.hub.Send(p.UserID, realtime.NewMessage(realtime.TypeSubmissionResult, resultPayload(p.UserID, sub)))

	if sub.Passed {
		if err := s.Resolve(ctx, ReasonCompleted, &p.UserID); err != nil {
			s.logger.Error().Err(err).Msg("winner resolution failed")
		}
	}
}

// replayCached reproduces a previously graded outcome without touching the
// sandbox, including the winner transition when the cached run passed.
func (s *Session) replayCached(ctx context.Context, userID string, sub store.Submission) {
	s.logger.Info().Str("user_id", userID).Msg("submission cache hit")
	if sub.ComplexityFailed {
		s.hub.Broadcast(s.roomID, realtime.NewMessage(realtime.TypeComplexityFailed, realtime.ComplexityFailedPayload{
			UserID:             userID,
			ExpectedComplexity: s.prob.TimeComplexity,
			DerivedComplexity:  sub.DerivedComplexity,
		}))
	}
	s.hub.Broadcast(s.roomID, realtime.NewMessage(realtime.TypeNewSubmission, newSubmissionPayload(userID, sub)))
	s.hub.Send(userID, realtime.NewMessage(realtime.TypeSubmissionResult, resultPayload(userID, sub)))
	if sub.Passed {
		if err := s.Resolve(ctx, ReasonCompleted, &userID); err != nil {
			s.logger.Error().Err(err).Msg("cached winner resolution failed")
		}
	}
}

// grade runs the shared validate-map-execute prefix for both submit paths.
func (s *Session) grade(ctx context.Context, p realtime.SubmitCodePayload, cases []problem.TestCase) (string, *execute.Report, bool) {
	if s.prob == nil || len(cases) == 0 {
		s.sendError(p.UserID, "no_problem", "Problem data not available")
		return "", nil, false
	}
	lang, ok := sandbox.Canonical(p.Language)
	if !ok {
		s.sendError(p.UserID, "bad_language", "Unsupported language: "+p.Language)
		return "", nil, false
	}
	report, err := s.executor.Run(ctx, lang, p.Code, s.prob.Signature, cases)
	if err != nil {
		s.sendError(p.UserID, "execution_failed", "Submission failed: "+err.Error())
		return "", nil, false
	}
	return lang, report, true
}

func (s *Session) testCases() []problem.TestCase {
	if s.prob == nil {
		return nil
	}
	n := s.config.TestRunCases
	if n <= 0 || n > len(s.prob.TestCases) {
		n = len(s.prob.TestCases)
	}
	return s.prob.TestCases[:n]
}

// commitSubmission appends to the blob, persists the document, links it to
// the match record, and caches the outcome for replay.
func (s *Session) commitSubmission(ctx context.Context, userID string, sub store.Submission, hash string) {
	doc, err := s.coord.MutateMatch(ctx, s.matchID, store.TTLMatchOngoing, func(d *store.MatchDoc) error {
		if d.HasSubmission(sub.UserID, sub.Timestamp, sub.Code) {
			return nil
		}
		d.Submissions = append(d.Submissions, sub)
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("persist submission failed")
		return
	}
	if id, err := s.insertSubmissionDoc(ctx, sub, true); err != nil {
		s.logger.Error().Err(err).Msg("submission document insert failed")
	} else {
		if err := s.matches.AddSubmissionID(ctx, s.matchID, id); err != nil {
			s.logger.Error().Err(err).Msg("submission link failed")
		}
	}
	s.upsertMatchRecord(ctx, doc)

	if raw, err := json.Marshal(sub); err == nil {
		if err := s.coord.CacheSubmission(ctx, s.matchID, userID, hash, raw, s.config.SubmissionCacheTTL); err != nil {
			s.logger.Warn().Err(err).Msg("submission cache write failed")
		}
	}
	if s.metrics != nil {
		s.metrics.SubmissionsTotal.WithLabelValues("competitive", resultLabel(sub.Passed)).Inc()
	}
}

func (s *Session) buildSubmission(p realtime.SubmitCodePayload, lang string, report *execute.Report, complexityFailed bool, derived string) store.Submission {
	return store.Submission{
		UserID:            p.UserID,
		Language:          lang,
		Timestamp:         s.now().UnixMilli(),
		Passed:            report.AllPassed,
		ComplexityFailed:  complexityFailed,
		DerivedComplexity: derived,
		TestResults:       report.Results,
		AverageTime:       report.AverageTime,
		AverageMemory:     report.AverageMemory,
		TestsPassed:       report.PassedTests,
		TotalTests:        report.TotalTests,
		Code:              p.Code,
	}
}

func (s *Session) insertSubmissionDoc(ctx context.Context, sub store.Submission, competitive bool) (string, error) {
	subType := repository.SubmissionCompetitive
	if !competitive {
		subType = repository.SubmissionTest
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return "", err
	}
	return s.submissions.Insert(ctx, repository.SubmissionRecord{
		MatchID:        s.matchID,
		UserID:         sub.UserID,
		Language:       sub.Language,
		Passed:         sub.Passed,
		SubmissionType: subType,
		CreatedAt:      time.UnixMilli(sub.Timestamp),
		Doc:            raw,
	})
}

func (s *Session) upsertMatchRecord(ctx context.Context, doc *store.MatchDoc) {
	if doc == nil {
		return
	}
	if err := s.matches.Upsert(ctx, matchRecordFromDoc(doc, s.players)); err != nil {
		s.logger.Error().Err(err).Msg("match record upsert failed")
	}
}

func (s *Session) step(userID, step string) {
	s.hub.Send(userID, realtime.NewMessage(realtime.TypeSubmissionStep, realtime.SubmissionStepPayload{
		UserID: userID,
		Step:   step,
	}))
}

func (s *Session) sendError(userID, code, message string) {
	s.hub.Send(userID, realtime.NewMessage(realtime.TypeError, realtime.ErrorPayload{Code: code, Message: message}))
}

// submissionHash is the cache identity: trimmed source, language, problem.
func submissionHash(source, lang, problemID string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(source) + ":" + lang + ":" + problemID))
	return hex.EncodeToString(sum[:])
}

// ---- resolution -------------------------------------------------------------

// Resolve settles the match exactly once: ratings, persistence, cleanup,
// notifications. Later calls are no-ops.
func (s *Session) Resolve(ctx context.Context, reason string, winnerID *string) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil
	}
	s.finished = true
	s.mu.Unlock()
	s.stopTimers()
	ctx = s.logger.WithContext(ctx)

	endedAt := s.now()
	durationMS := endedAt.Sub(s.startedAt).Milliseconds()

	u1, u2, r1, r2, problemElo := s.ratingSnapshot(ctx)

	changes := map[string]store.RatingChange{}
	var winner *string
	if winnerID != nil && (*winnerID == u1 || *winnerID == u2) {
		winner = winnerID
		winnerRating, loserRating, loserID := r1, r2, u2
		if *winnerID == u2 {
			winnerRating, loserRating, loserID = r2, r1, u1
		}
		wc, lc := s.engine.SettleDecisive(float64(winnerRating), float64(loserRating), float64(problemElo))
		changes[*winnerID] = store.RatingChange{OldRating: wc.OldRating, NewRating: wc.NewRating, Change: wc.Delta}
		changes[loserID] = store.RatingChange{OldRating: lc.OldRating, NewRating: lc.NewRating, Change: lc.Delta}
	} else {
		c1, c2 := s.engine.SettleDraw(float64(r1), float64(r2), float64(problemElo))
		changes[u1] = store.RatingChange{OldRating: c1.OldRating, NewRating: c1.NewRating, Change: c1.Delta}
		changes[u2] = store.RatingChange{OldRating: c2.OldRating, NewRating: c2.NewRating, Change: c2.Delta}
	}

	doc, err := s.coord.MutateMatch(ctx, s.matchID, store.TTLMatchFinished, func(d *store.MatchDoc) error {
		d.Status = store.MatchFinished
		d.EndedAt = endedAt.UnixMilli()
		d.WinnerUserID = winner
		d.RatingChanges = changes
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrMatchNotFound) {
		return fmt.Errorf("commit resolution: %w", err)
	}

	for _, id := range []string{u1, u2} {
		if IsBot(id) || IsGuest(id) {
			continue
		}
		change := changes[id]
		outcome := outcomeFor(id, winner)
		if err := s.users.ApplyMatchResult(ctx, id, change.Change, outcome, durationMS, s.matchID); err != nil {
			s.logger.Error().Err(err).Str("user_id", id).Msg("rating settlement failed")
		}
	}
	s.upsertMatchRecord(ctx, doc)
	if err := s.coord.InvalidatePlayerCaches(ctx, u1, u2); err != nil {
		s.logger.Warn().Err(err).Msg("cache invalidation failed")
	}

	if doc != nil {
		for _, id := range []string{u1, u2} {
			if IsGuest(id) {
				s.writeGuestSnapshot(ctx, id, doc)
			}
		}
	}

	s.cleanup(ctx, u1, u2)

	if winner != nil {
		s.hub.Broadcast(s.roomID, realtime.NewMessage(realtime.TypeMatchWinner, realtime.MatchWinnerPayload{
			UserID:        *winner,
			Reason:        reason,
			RatingChanges: toWireChanges(changes),
		}))
	} else {
		s.hub.Broadcast(s.roomID, realtime.NewMessage(realtime.TypeMatchDraw, realtime.MatchDrawPayload{
			Reason:        reason,
			RatingChanges: toWireChanges(changes),
		}))
	}

	evt := store.MatchEvent{Type: "match_end", MatchID: s.matchID, RoomID: s.roomID, Reason: reason}
	if winner != nil {
		evt.Winner = *winner
	}
	if err := s.coord.PublishMatchEvent(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Msg("match_end publish failed")
	}
	if err := s.coord.RemoveActiveMatch(ctx, s.matchID); err != nil {
		s.logger.Warn().Err(err).Msg("active-set removal failed")
	}

	if s.metrics != nil {
		s.metrics.MatchesEnded.WithLabelValues(reason).Inc()
	}
	s.logger.Info().Str("reason", reason).Int64("duration_ms", durationMS).Msg("match resolved")

	s.hub.CloseRoom(s.roomID)
	if s.onClose != nil {
		s.onClose(s.matchID)
	}
	return nil
}

// ratingSnapshot reads the creation-time ratings hash; the blob snapshot is
// the fallback when the hash expired.
func (s *Session) ratingSnapshot(ctx context.Context) (u1, u2 string, r1, r2, problemElo int) {
	fields, err := s.coord.MatchRatings(ctx, s.matchID)
	if err == nil && len(fields) > 0 {
		u1 = fields["userId1"]
		u2 = fields["userId2"]
		r1, _ = strconv.Atoi(fields["player1"])
		r2, _ = strconv.Atoi(fields["player2"])
		problemElo, _ = strconv.Atoi(fields["problemElo"])
		if u1 != "" && u2 != "" {
			return u1, u2, r1, r2, problemElo
		}
	}

	doc, derr := s.coord.Match(ctx, s.matchID)
	if derr != nil || doc == nil {
		if len(s.players) == 2 {
			return s.players[0], s.players[1], DefaultRating, DefaultRating, DefaultRating
		}
		return "", "", DefaultRating, DefaultRating, DefaultRating
	}
	ids := make([]string, 0, len(doc.Players))
	for id := range doc.Players {
		ids = append(ids, id)
	}
	if len(s.players) == 2 {
		ids = s.players
	}
	if len(ids) < 2 {
		ids = append(ids, "", "")
	}
	u1, u2 = ids[0], ids[1]
	r1 = doc.Players[u1].Rating
	r2 = doc.Players[u2].Rating
	return u1, u2, r1, r2, doc.Ratings.ProblemElo
}

func (s *Session) writeGuestSnapshot(ctx context.Context, guestID string, doc *store.MatchDoc) {
	passed := map[string]int{}
	for _, sub := range doc.Submissions {
		if sub.TestsPassed > passed[sub.UserID] {
			passed[sub.UserID] = sub.TestsPassed
		}
	}
	snap := store.GuestSnapshot{
		MatchID:       s.matchID,
		WinnerUserID:  doc.WinnerUserID,
		Status:        doc.Status,
		Submissions:   doc.Submissions,
		TestsPassed:   passed,
		RatingChanges: doc.RatingChanges,
	}
	if err := s.coord.PutGuestSnapshot(ctx, guestID, snap); err != nil {
		s.logger.Warn().Err(err).Str("guest_id", guestID).Msg("guest snapshot write failed")
	}
}

// cleanup clears the coordination keys that kept both players out of the
// queue, in one pass.
func (s *Session) cleanup(ctx context.Context, playerIDs ...string) {
	if err := s.coord.DeleteReservations(ctx, playerIDs...); err != nil {
		s.logger.Warn().Err(err).Msg("reservation cleanup failed")
	}
	for _, id := range playerIDs {
		if !IsBot(id) {
			continue
		}
		if err := s.coord.RemoveActiveBots(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("bot_id", id).Msg("bot active-set cleanup failed")
		}
		if err := s.coord.ClearBotKeys(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("bot_id", id).Msg("bot key cleanup failed")
		}
		if err := s.coord.PublishBotCommand(ctx, store.BotCommand{Type: "botMatchComplete", BotID: id}); err != nil {
			s.logger.Warn().Err(err).Str("bot_id", id).Msg("botMatchComplete publish failed")
		}
	}
}

// Dispose is the teardown safety net: whatever happens to the session
// goroutines, an ongoing blob never outlives its session as "ongoing".
func (s *Session) Dispose(ctx context.Context) {
	s.stopTimers()
	s.mu.Lock()
	finished := s.finished
	s.finished = true
	s.mu.Unlock()
	if finished {
		return
	}

	doc, err := s.coord.Match(ctx, s.matchID)
	if err != nil || doc == nil || doc.Status != store.MatchOngoing {
		return
	}
	if _, err := s.coord.MutateMatch(ctx, s.matchID, store.TTLMatchFinished, func(d *store.MatchDoc) error {
		d.Status = store.MatchAbandoned
		d.EndedAt = s.now().UnixMilli()
		return nil
	}); err != nil {
		s.logger.Error().Err(err).Msg("abandonment write failed")
		return
	}
	if err := s.coord.RemoveActiveMatch(ctx, s.matchID); err != nil {
		s.logger.Warn().Err(err).Msg("active-set removal failed")
	}
	if s.metrics != nil {
		s.metrics.MatchesEnded.WithLabelValues(ReasonAbandoned).Inc()
	}
	s.logger.Warn().Msg("session disposed with ongoing blob, marked abandoned")
}

// ---- bot simulation ---------------------------------------------------------

func (s *Session) startBot(botID, difficulty string) {
	rng := newXorshift32(s.matchID + ":" + difficulty + ":" + botID)

	var params BotTimeParams
	var ok bool
	if s.config.BotParams != nil {
		params, ok = s.config.BotParams(difficulty)
	}
	completion := sampleCompletion(rng, s.config.BotDist, params, ok, s.config.MaxDuration)

	if completion < s.config.MaxDuration {
		planned := store.BotCompletion{
			PlannedCompletionMs:   completion.Milliseconds(),
			PlannedCompletionTime: s.startedAt.Add(completion).UTC().Format(time.RFC3339),
		}
		if _, err := s.coord.MutateMatch(context.Background(), s.matchID, store.TTLMatchOngoing, func(d *store.MatchDoc) error {
			if d.BotCompletionTimes == nil {
				d.BotCompletionTimes = map[string]store.BotCompletion{}
			}
			d.BotCompletionTimes[botID] = planned
			return nil
		}); err != nil {
			s.logger.Error().Err(err).Str("bot_id", botID).Msg("bot completion write failed")
		}
		s.addTimer(completion, func() { s.botWins(botID) })
	}

	s.scheduleBotCode(botID, rng, 0)
	s.scheduleBotTest(botID, rng)
}

// scheduleBotCode chains the 1-60s code-progress ticks.
func (s *Session) scheduleBotCode(botID string, rng *xorshift32, lines int) {
	delay, add := botCodeTick(rng)
	s.addTimer(delay, func() {
		if s.isFinished() {
			return
		}
		next := lines + add
		if next > botMaxLines {
			next = botMaxLines
		}
		if _, err := s.coord.MutateMatch(context.Background(), s.matchID, store.TTLMatchOngoing, func(d *store.MatchDoc) error {
			if d.LinesWritten == nil {
				d.LinesWritten = map[string]int{}
			}
			d.LinesWritten[botID] = next
			return nil
		}); err != nil {
			s.logger.Warn().Err(err).Msg("bot lines write failed")
		}
		s.hub.Broadcast(s.roomID, realtime.NewMessage(realtime.TypeCodeUpdate, realtime.CodeUpdatePayload{
			UserID: botID,
			Lines:  next,
		}))
		s.scheduleBotCode(botID, rng, next)
	})
}

// scheduleBotTest chains the long-period test-progress ticks.
func (s *Session) scheduleBotTest(botID string, rng *xorshift32) {
	delay, add := botTestTick(rng)
	s.addTimer(delay, func() {
		if s.isFinished() {
			return
		}
		total := s.prob.Sanitize().TestCasesCount
		var stats store.BotStats
		if _, err := s.coord.MutateMatch(context.Background(), s.matchID, store.TTLMatchOngoing, func(d *store.MatchDoc) error {
			if d.BotStats == nil {
				d.BotStats = map[string]store.BotStats{}
			}
			stats = d.BotStats[botID]
			stats.Submissions++
			stats.TestCasesSolved += add
			if stats.TestCasesSolved > total {
				stats.TestCasesSolved = total
			}
			d.BotStats[botID] = stats
			return nil
		}); err != nil {
			s.logger.Warn().Err(err).Msg("bot stats write failed")
		}
		s.hub.Broadcast(s.roomID, realtime.NewMessage(realtime.TypeTestProgressUpdate, realtime.TestProgressUpdatePayload{
			UserID:          botID,
			Submissions:     stats.Submissions,
			TestCasesSolved: stats.TestCasesSolved,
			TotalTests:      total,
		}))
		s.scheduleBotTest(botID, rng)
	})
}

// botWins fires when the sampled completion timer elapses.
func (s *Session) botWins(botID string) {
	if s.isFinished() {
		return
	}
	ctx := context.Background()
	total := len(s.prob.TestCases)
	results := make([]store.CaseOutcome, total)
	for i := range results {
		results[i] = store.CaseOutcome{Index: i, Passed: true}
	}
	sub := store.Submission{
		UserID:      botID,
		Language:    sandbox.Python,
		Timestamp:   s.now().UnixMilli(),
		Passed:      true,
		TestResults: results,
		TestsPassed: total,
		TotalTests:  total,
	}
	if _, err := s.coord.MutateMatch(ctx, s.matchID, store.TTLMatchOngoing, func(d *store.MatchDoc) error {
		d.Submissions = append(d.Submissions, sub)
		return nil
	}); err != nil {
		s.logger.Error().Err(err).Msg("bot submission write failed")
	}
	if id, err := s.insertSubmissionDoc(ctx, sub, true); err != nil {
		s.logger.Error().Err(err).Msg("bot submission document insert failed")
	} else if err := s.matches.AddSubmissionID(ctx, s.matchID, id); err != nil {
		s.logger.Error().Err(err).Msg("bot submission link failed")
	}
	s.hub.Broadcast(s.roomID, realtime.NewMessage(realtime.TypeNewSubmission, newSubmissionPayload(botID, sub)))

	if err := s.Resolve(ctx, ReasonBotCompletion, &botID); err != nil {
		s.logger.Error().Err(err).Msg("bot completion resolution failed")
	}
}

// ---- mapping helpers ---------------------------------------------------------

func resultLabel(passed bool) string {
	if passed {
		return "passed"
	}
	return "failed"
}

func outcomeFor(userID string, winner *string) repository.MatchOutcome {
	if winner == nil {
		return repository.OutcomeDraw
	}
	if *winner == userID {
		return repository.OutcomeWin
	}
	return repository.OutcomeLoss
}

// matchRecordFromDoc projects the blob onto the document-store columns.
func matchRecordFromDoc(doc *store.MatchDoc, players []string) repository.MatchRecord {
	ids := players
	if len(ids) < 2 {
		ids = make([]string, 0, len(doc.Players))
		for id := range doc.Players {
			ids = append(ids, id)
		}
		for len(ids) < 2 {
			ids = append(ids, "")
		}
	}
	rec := repository.MatchRecord{
		ID:           doc.MatchID,
		Status:       doc.Status,
		WinnerUserID: doc.WinnerUserID,
		Player1ID:    ids[0],
		Player2ID:    ids[1],
		ProblemID:    doc.ProblemID,
		StartedAt:    time.UnixMilli(doc.StartedAt),
		Doc:          docJSON(doc),
	}
	if doc.EndedAt > 0 {
		ended := time.UnixMilli(doc.EndedAt)
		rec.EndedAt = &ended
	}
	return rec
}

func toWireChanges(changes map[string]store.RatingChange) map[string]realtime.RatingChange {
	out := make(map[string]realtime.RatingChange, len(changes))
	for id, c := range changes {
		out[id] = realtime.RatingChange{OldRating: c.OldRating, NewRating: c.NewRating, Change: c.Change}
	}
	return out
}

func resultPayload(userID string, sub store.Submission) realtime.SubmissionResultPayload {
	results := make([]realtime.CaseResult, len(sub.TestResults))
	for i, r := range sub.TestResults {
		results[i] = realtime.CaseResult{
			Index:          r.Index,
			Passed:         r.Passed,
			ActualOutput:   r.ActualOutput,
			ExpectedOutput: r.ExpectedOutput,
			Error:          r.Error,
		}
	}
	return realtime.SubmissionResultPayload{
		UserID:           userID,
		Passed:           sub.Passed,
		TestsPassed:      sub.TestsPassed,
		TotalTests:       sub.TotalTests,
		Results:          results,
		ComplexityFailed: sub.ComplexityFailed,
	}
}

func newSubmissionPayload(userID string, sub store.Submission) realtime.NewSubmissionPayload {
	return realtime.NewSubmissionPayload{
		UserID:      userID,
		Passed:      sub.Passed,
		TestsPassed: sub.TestsPassed,
		TotalTests:  sub.TotalTests,
		Timestamp:   sub.Timestamp,
	}
}
