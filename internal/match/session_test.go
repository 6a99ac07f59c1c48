package match

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

	"github.com/clashcode/arena/internal/complexity"
	"github.com/clashcode/arena/internal/db/repository"
	"github.com/clashcode/arena/internal/execute"
	"github.com/clashcode/arena/internal/problem"
	"github.com/clashcode/arena/internal/rating"
	"github.com/clashcode/arena/internal/store"
	"github.com/clashcode/arena/pkg/realtime"
)

// ---- fakes -------------------------------------------------------------------

type sentFrame struct {
	To  string
	Msg realtime.Message
}

type fakeHub struct {
	mu         sync.Mutex
	sent       []sentFrame
	broadcasts []realtime.Message
	closed     []string
}

func (f *fakeHub) Broadcast(roomID string, msg realtime.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, msg)
	return nil
}

func (f *fakeHub) BroadcastExcept(roomID, exceptID string, msg realtime.Message) error {
	return f.Broadcast(roomID, msg)
}

func (f *fakeHub) Send(playerID string, msg realtime.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentFrame{To: playerID, Msg: msg})
	return nil
}

func (f *fakeHub) JoinRoom(roomID, playerID string)  {}
func (f *fakeHub) LeaveRoom(roomID, playerID string) {}
func (f *fakeHub) CloseRoom(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, roomID)
}
func (f *fakeHub) Connected(playerID string) bool { return true }

func (f *fakeHub) sentTypes(playerID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.To == playerID {
			out = append(out, s.Msg.Type)
		}
	}
	return out
}

func (f *fakeHub) broadcastTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.broadcasts))
	for i, m := range f.broadcasts {
		out[i] = m.Type
	}
	return out
}

type appliedResult struct {
	UserID  string
	Delta   int
	Outcome repository.MatchOutcome
}

type fakeUsers struct {
	users   map[string]*repository.User
	applied []appliedResult
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*repository.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) ApplyMatchResult(ctx context.Context, userID string, delta int, outcome repository.MatchOutcome, durationMS int64, matchID string) error {
	f.applied = append(f.applied, appliedResult{UserID: userID, Delta: delta, Outcome: outcome})
	return nil
}

type fakeBots struct {
	bots map[string]*repository.Bot
}

func (f *fakeBots) GetByID(ctx context.Context, id string) (*repository.Bot, error) {
	b, ok := f.bots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return b, nil
}

type fakeProblems struct {
	byID         map[string]*problem.Problem
	byDifficulty map[string]string
	fallbackID   string
}

func (f *fakeProblems) GetByID(ctx context.Context, id string) (*problem.Problem, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (f *fakeProblems) RandomVerifiedByDifficulty(ctx context.Context, difficulty string) (string, error) {
	if id, ok := f.byDifficulty[difficulty]; ok {
		return id, nil
	}
	return "", repository.ErrNotFound
}

func (f *fakeProblems) RandomVerified(ctx context.Context) (string, error) {
	if f.fallbackID == "" {
		return "", repository.ErrNotFound
	}
	return f.fallbackID, nil
}

type fakeMatches struct {
	upserts       []repository.MatchRecord
	submissionIDs []string
	testRunIDs    []string
}

func (f *fakeMatches) Upsert(ctx context.Context, rec repository.MatchRecord) error {
	f.upserts = append(f.upserts, rec)
	return nil
}

func (f *fakeMatches) AddSubmissionID(ctx context.Context, matchID, id string) error {
	f.submissionIDs = append(f.submissionIDs, id)
	return nil
}

func (f *fakeMatches) AddTestRunID(ctx context.Context, matchID, id string) error {
	f.testRunIDs = append(f.testRunIDs, id)
	return nil
}

type fakeSubmissions struct {
	inserted []repository.SubmissionRecord
}

func (f *fakeSubmissions) Insert(ctx context.Context, rec repository.SubmissionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = "sub-" + string(rune('a'+len(f.inserted)))
	}
	f.inserted = append(f.inserted, rec)
	return rec.ID, nil
}

type fakeExecutor struct {
	report    *execute.Report
	err       error
	calls     int
	lastCases []problem.TestCase
}

func (f *fakeExecutor) Run(ctx context.Context, language, solution string, sig problem.Signature, cases []problem.TestCase) (*execute.Report, error) {
	f.calls++
	f.lastCases = cases
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

type fakeVerifier struct {
	verdict *complexity.Verdict
	err     error
	calls   int
}

func (f *fakeVerifier) Verify(ctx context.Context, source, expected string) (*complexity.Verdict, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

// ---- fixtures ----------------------------------------------------------------

func testProblem() *problem.Problem {
	return &problem.Problem{
		ID:         "p-1",
		Title:      "Two Sum",
		Difficulty: rating.DifficultyMedium,
		Signature: problem.Signature{
			FunctionName: "twoSum",
			Parameters:   []problem.Parameter{{Name: "nums", Type: "int[]"}, {Name: "target", Type: "int"}},
			ReturnType:   "int[]",
		},
		TestCases: []problem.TestCase{
			{Input: []json.RawMessage{json.RawMessage(`[2,7]`), json.RawMessage(`9`)}, Output: json.RawMessage(`[0,1]`)},
			{Input: []json.RawMessage{json.RawMessage(`[3,3]`), json.RawMessage(`6`)}, Output: json.RawMessage(`[0,1]`)},
			{Input: []json.RawMessage{json.RawMessage(`[1,2]`), json.RawMessage(`3`)}, Output: json.RawMessage(`[0,1]`)},
			{Input: []json.RawMessage{json.RawMessage(`[4,5]`), json.RawMessage(`9`)}, Output: json.RawMessage(`[0,1]`)},
		},
		Verified: true,
	}
}

func passingReport(n int) *execute.Report {
	results := make([]store.CaseOutcome, n)
	for i := range results {
		results[i] = store.CaseOutcome{Index: i, Passed: true}
	}
	return &execute.Report{AllPassed: true, TotalTests: n, PassedTests: n, Results: results}
}

func failingReport(n int) *execute.Report {
	results := make([]store.CaseOutcome, n)
	for i := range results {
		results[i] = store.CaseOutcome{Index: i, Passed: i > 0}
	}
	return &execute.Report{TotalTests: n, PassedTests: n - 1, FailedTests: 1, Results: results}
}

type sessionFixture struct {
	session  *Session
	coord    *store.Coordinator
	hub      *fakeHub
	users    *fakeUsers
	matches  *fakeMatches
	subs     *fakeSubmissions
	executor *fakeExecutor
	verifier *fakeVerifier
}

func newSessionFixture(t *testing.T, prob *problem.Problem, players ...string) *sessionFixture {
	t.Helper()
	if len(players) == 0 {
		players = []string{"alice", "bob"}
	}
	coord := store.NewCoordinator(store.NewMemoryStore(), zerolog.Nop())
	hub := &fakeHub{}
	users := &fakeUsers{users: map[string]*repository.User{
		"alice": {ID: "alice", Username: "alice", Rating: 1200},
		"bob":   {ID: "bob", Username: "bob", Rating: 1400},
	}}
	matches := &fakeMatches{}
	subs := &fakeSubmissions{}
	executor := &fakeExecutor{report: passingReport(len(prob.TestCases))}
	verifier := &fakeVerifier{verdict: &complexity.Verdict{DerivedComplexity: "O(n)", Verdict: complexity.VerdictPass}}

	doc := &store.MatchDoc{
		MatchID:   "m-1",
		ProblemID: prob.ID,
		RoomID:    "room-1",
		StartedAt: time.Now().UnixMilli(),
		Status:    store.MatchOngoing,
		Players:   map[string]store.PlayerMeta{},
		Ratings:   store.RatingsSnapshot{Player1: 1200, Player2: 1400, ProblemElo: 1500},
		Problem:   prob.Sanitize(),
	}
	for _, id := range players {
		doc.Players[id] = store.PlayerMeta{Username: id, Rating: 1200}
	}
	ctx := context.Background()
	require.NoError(t, coord.PutMatch(ctx, doc, store.TTLMatchOngoing))
	require.NoError(t, coord.AddActiveMatch(ctx, "m-1"))
	require.NoError(t, coord.PutMatchRatings(ctx, "m-1", map[string]string{
		"player1": "1200", "player2": "1400",
		"userId1": players[0], "userId2": players[1],
		"problemElo": "1500",
	}))
	require.NoError(t, coord.PutReservation(ctx, players[0], store.Reservation{MatchID: "m-1", Status: store.ReservationActive}, store.TTLReservation))
	require.NoError(t, coord.PutReservation(ctx, players[1], store.Reservation{MatchID: "m-1", Status: store.ReservationActive}, store.TTLReservation))

	registry := NewRegistry(SessionDeps{
		Coord:       coord,
		Hub:         hub,
		Executor:    executor,
		Verifier:    verifier,
		Users:       users,
		Matches:     matches,
		Submissions: subs,
		Problems:    &fakeProblems{byID: map[string]*problem.Problem{prob.ID: prob}},
		Engine:      rating.NewEngine(rating.DefaultConfig()),
		Config: SessionConfig{
			MaxDuration:        45 * time.Minute,
			SubmissionCacheTTL: 50 * time.Minute,
			TestRunCases:       3,
		},
		Logger: zerolog.Nop(),
	})
	session := registry.newSession(doc, prob, "room-1")
	registry.sessions["m-1"] = session

	return &sessionFixture{
		session:  session,
		coord:    coord,
		hub:      hub,
		users:    users,
		matches:  matches,
		subs:     subs,
		executor: executor,
		verifier: verifier,
	}
}

func submitMsg(t *testing.T, lang, code string) realtime.Message {
	t.Helper()
	return realtime.NewMessage(realtime.TypeSubmitCode, realtime.SubmitCodePayload{Language: lang, Code: code})
}

// ---- tests -------------------------------------------------------------------

func TestUpdateCodeRecomputesLinesAndBroadcasts(t *testing.T) {
	fx := newSessionFixture(t, testProblem())
	ctx := context.Background()

	fx.session.HandleMessage(ctx, "alice", realtime.NewMessage(realtime.TypeUpdateCode, realtime.UpdateCodePayload{
		Language: "python",
		Code:     "a\nb\nc",
	}))

	doc, err := fx.coord.Match(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc", doc.PlayersCode["alice"]["python"])
	assert.Equal(t, 3, doc.LinesWritten["alice"])
	assert.Contains(t, fx.hub.broadcastTypes(), realtime.TypeCodeUpdate)
}

func TestSetLanguageRecordedInBlob(t *testing.T) {
	fx := newSessionFixture(t, testProblem())
	ctx := context.Background()

	fx.session.HandleMessage(ctx, "bob", realtime.NewMessage(realtime.TypeSetLanguage, realtime.SetLanguagePayload{Language: "cpp"}))

	doc, err := fx.coord.Match(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "cpp", doc.Languages["bob"])
}

func TestSubmitAllPassedDeclaresWinner(t *testing.T) {
	fx := newSessionFixture(t, testProblem())
	ctx := context.Background()

	fx.session.HandleMessage(ctx, "alice", submitMsg(t, "python", "class Solution: pass"))

	assert.Equal(t, 1, fx.executor.calls)
	doc, err := fx.coord.Match(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, store.MatchFinished, doc.Status)
	require.NotNil(t, doc.WinnerUserID)
	assert.Equal(t, "alice", *doc.WinnerUserID)
	assert.Len(t, doc.Submissions, 1)
	assert.True(t, doc.Submissions[0].Passed)
	assert.Len(t, doc.RatingChanges, 2)
	assert.Positive(t, doc.RatingChanges["alice"].Change)
	assert.Negative(t, doc.RatingChanges["bob"].Change)

	// Winner settlement persists once per human.
	require.Len(t, fx.users.applied, 2)
	outcomes := map[string]repository.MatchOutcome{}
	for _, a := range fx.users.applied {
		outcomes[a.UserID] = a.Outcome
	}
	assert.Equal(t, repository.OutcomeWin, outcomes["alice"])
	assert.Equal(t, repository.OutcomeLoss, outcomes["bob"])

	// Cleanup ran.
	res, err := fx.coord.Reservation(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, res)
	active, err := fx.coord.IsMatchActive(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, active)

	assert.Contains(t, fx.hub.broadcastTypes(), realtime.TypeNewSubmission)
	assert.Contains(t, fx.hub.broadcastTypes(), realtime.TypeMatchWinner)
	assert.Contains(t, fx.hub.sentTypes("alice"), realtime.TypeSubmissionResult)
	assert.NotEmpty(t, fx.matches.submissionIDs)
}

func TestSubmitFailedRunStaysOngoing(t *testing.T) {
	fx := newSessionFixture(t, testProblem())
	fx.executor.report = failingReport(4)
	ctx := context.Background()

	fx.session.HandleMessage(ctx, "alice", submitMsg(t, "python", "class Solution: pass"))

	doc, err := fx.coord.Match(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, store.MatchOngoing, doc.Status)
	assert.Nil(t, doc.WinnerUserID)
	assert.Len(t, doc.Submissions, 1)
	assert.False(t, doc.Submissions[0].Passed)
	assert.Empty(t, fx.users.applied)
}

func TestSubmitRateLimited(t *testing.T) {
	fx := newSessionFixture(t, testProblem())
	fx.executor.report = failingReport(4)
	ctx := context.Background()

	fx.session.HandleMessage(ctx, "alice", submitMsg(t, "python", "v1"))
	fx.session.HandleMessage(ctx, "alice", submitMsg(t, "python", "v2"))

	assert.Equal(t, 1, fx.executor.calls)
	assert.Contains(t, fx.hub.sentTypes("alice"), realtime.TypeRateLimit)
}

func TestSubmitUnsupportedLanguageRejected(t *testing.T) {
	fx := newSessionFixture(t, testProblem())
	ctx := context.Background()

	fx.session.HandleMessage(ctx, "alice", submitMsg(t, "rust", "fn main() {}"))

	assert.Zero(t, fx.executor.calls)
	assert.Contains(t, fx.hub.sentTypes("alice"), realtime.TypeError)
}

func TestSubmitExecutorFailureReportsSubmissionFailed(t *testing.T) {
	fx := newSessionFixture(t, testProblem())
	fx.executor.err = errors.New("sandbox circuit open")
	ctx := context.Background()

	fx.session.HandleMessage(ctx, "alice", submitMsg(t, "python", "print(1)"))

	found := false
	for _, frame := range fx.hub.sent {
		if frame.To != "alice" || frame.Msg.Type != realtime.TypeError {
			continue
		}
		var p realtime.ErrorPayload
		require.NoError(t, json.Unmarshal(frame.Msg.Payload, &p))
		assert.Equal(t, "execution_failed", p.Code)
		assert.True(t, strings.HasPrefix(p.Message, "Submission failed"), p.Message)
		found = true
	}
	assert.True(t, found)
	assert.Empty(t, fx.subs.inserted)
}

func TestSubmitCacheHitSkipsExecutor(t *testing.T) {
	fx := newSessionFixture(t, testProblem())
	ctx := context.Background()

	cached := store.Submission{
		UserID: "alice", Language: "python", Timestamp: 1,
		Passed: false, TestsPassed: 2, TotalTests: 4, Code: "class Solution: pass",
	}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)
	hash := submissionHash("class Solution: pass", "python", "p-1")
	require.NoError(t, fx.coord.CacheSubmission(ctx, "m-1", "alice", hash, raw, time.Minute))

	fx.session.HandleMessage(ctx, "alice", submitMsg(t, "python", "class Solution: pass"))

	assert.Zero(t, fx.executor.calls)
	assert.Contains(t, fx.hub.sentTypes("alice"), realtime.TypeSubmissionResult)
	doc, err := fx.coord.Match(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, store.MatchOngoing, doc.Status)
}

func TestSubmitCachedWinReplaysWinnerTransition(t *testing.T) {
	fx := newSessionFixture(t, testProblem())
	ctx := context.Background()

	cached := store.Submission{
		UserID: "alice", Language: "python", Timestamp: 1,
		Passed: true, TestsPassed: 4, TotalTests: 4, Code: "winner",
	}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)
	hash := submissionHash("winner", "python", "p-1")
	require.NoError(t, fx.coord.CacheSubmission(ctx, "m-1", "alice", hash, raw, time.Minute))

	fx.session.HandleMessage(ctx, "alice", submitMsg(t, "python", "winner"))

	assert.Zero(t, fx.executor.calls)
	doc, err := fx.coord.Match(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, store.MatchFinished, doc.Status)
	require.NotNil(t, doc.WinnerUserID)
	assert.Equal(t, "alice", *doc.WinnerUserID)
}

func TestSubmitCacheWhitespaceInsensitive(t *testing.T) {
	assert.Equal(t,
		submissionHash("  code  ", "python", "p-1"),
		submissionHash("code", "python", "p-1"))
	assert.NotEqual(t,
		submissionHash("code", "python", "p-1"),
		submissionHash("code", "cpp", "p-1"))
}

func TestSubmitComplexityFailBlocksWinner(t *testing.T) {
	prob := testProblem()
	prob.TimeComplexity = "O(n)"
	fx := newSessionFixture(t, prob)
	fx.verifier.verdict = &complexity.Verdict{DerivedComplexity: "O(n^2)", Verdict: complexity.VerdictFail}
	ctx := context.Background()

	fx.session.HandleMessage(ctx, "alice", submitMsg(t, "python", "slow solution"))

	assert.Equal(t, 1, fx.verifier.calls)
	doc, err := fx.coord.Match(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, store.MatchOngoing, doc.Status)
	assert.Nil(t, doc.WinnerUserID)
	require.Len(t, doc.Submissions, 1)
	assert.False(t, doc.Submissions[0].Passed)
	assert.True(t, doc.Submissions[0].ComplexityFailed)
	assert.Equal(t, "O(n^2)", doc.Submissions[0].DerivedComplexity)
	assert.Contains(t, fx.hub.broadcastTypes(), realtime.TypeComplexityFailed)
}

func TestSubmitComplexityVerifierErrorFailsOpen(t *testing.T) {
	prob := testProblem()
	prob.TimeComplexity = "O(n)"
	fx := newSessionFixture(t, prob)
	fx.verifier.err = complexity.ErrMalformedResponse
	ctx := context.Background()

	fx.session.HandleMessage(ctx, "alice", submitMsg(t, "python", "solution"))

	doc, err := fx.coord.Match(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, store.MatchFinished, doc.Status)
	require.NotNil(t, doc.WinnerUserID)
	assert.Equal(t, "alice", *doc.WinnerUserID)
}

func TestTestSubmitRunsFirstCasesOnly(t *testing.T) {
	fx := newSessionFixture(t, testProblem())
	fx.executor.report = passingReport(3)
	ctx := context.Background()

	fx.session.HandleMessage(ctx, "bob", realtime.NewMessage(realtime.TypeTestSubmitCode, realtime.SubmitCodePayload{
		Language: "python", Code: "probe",
	}))

	assert.Equal(t, 1, fx.executor.calls)
	assert.Len(t, fx.executor.lastCases, 3)

	doc, err := fx.coord.Match(ctx, "m-1")
	require.NoError(t, err)
	assert.Len(t, doc.TestSubmissions, 1)
	assert.Empty(t, doc.Submissions)
	assert.Equal(t, store.MatchOngoing, doc.Status)
	assert.Contains(t, fx.hub.sentTypes("bob"), realtime.TypeTestSubmissionResult)
	assert.NotEmpty(t, fx.matches.testRunIDs)
	require.Len(t, fx.subs.inserted, 1)
	assert.Equal(t, repository.SubmissionTest, fx.subs.inserted[0].SubmissionType)
}

func TestTestSubmitRateLimitAllowsTwoPerWindow(t *testing.T) {
	fx := newSessionFixture(t, testProblem())
	fx.executor.report = passingReport(3)
	ctx := context.Background()

	msg := realtime.NewMessage(realtime.TypeTestSubmitCode, realtime.SubmitCodePayload{Language: "python", Code: "p"})
	fx.session.HandleMessage(ctx, "bob", msg)
	fx.session.HandleMessage(ctx, "bob", msg)
	fx.session.HandleMessage(ctx, "bob", msg)

	assert.Equal(t, 2, fx.executor.calls)
	assert.Contains(t, fx.hub.sentTypes("bob"), realtime.TypeRateLimit)
}

func TestEndMatchWithoutWinnerIsDraw(t *testing.T) {
	fx := newSessionFixture(t, testProblem())
	ctx := context.Background()

	fx.session.HandleMessage(ctx, "alice", realtime.NewMessage(realtime.TypeEndMatch, realtime.EndMatchPayload{}))

	doc, err := fx.coord.Match(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, store.MatchFinished, doc.Status)
	assert.Nil(t, doc.WinnerUserID)
	assert.Contains(t, fx.hub.broadcastTypes(), realtime.TypeMatchDraw)
	outcomes := map[string]repository.MatchOutcome{}
	for _, a := range fx.users.applied {
		outcomes[a.UserID] = a.Outcome
	}
	assert.Equal(t, repository.OutcomeDraw, outcomes["alice"])
	assert.Equal(t, repository.OutcomeDraw, outcomes["bob"])
}

func TestResolveIsIdempotent(t *testing.T) {
	fx := newSessionFixture(t, testProblem())
	ctx := context.Background()
	winner := "alice"

	require.NoError(t, fx.session.Resolve(ctx, ReasonCompleted, &winner))
	require.NoError(t, fx.session.Resolve(ctx, ReasonCompleted, &winner))

	assert.Len(t, fx.users.applied, 2)
	assert.Len(t, fx.hub.closed, 1)
}

func TestResolveWritesGuestSnapshot(t *testing.T) {
	fx := newSessionFixture(t, testProblem(), "guest_1", "bob")
	ctx := context.Background()
	winner := "bob"

	require.NoError(t, fx.session.Resolve(ctx, ReasonCompleted, &winner))

	val, ok, err := fx.coord.Raw().Get(ctx, "guest:match:guest_1")
	require.NoError(t, err)
	require.True(t, ok)
	var snap store.GuestSnapshot
	require.NoError(t, json.Unmarshal([]byte(val), &snap))
	assert.Equal(t, "m-1", snap.MatchID)
	require.NotNil(t, snap.WinnerUserID)
	assert.Equal(t, "bob", *snap.WinnerUserID)

	// Guests never hit the user store.
	for _, a := range fx.users.applied {
		assert.NotEqual(t, "guest_1", a.UserID)
	}
}

func TestResolveCleansBotKeys(t *testing.T) {
	fx := newSessionFixture(t, testProblem(), "alice", "bot_7")
	ctx := context.Background()
	require.NoError(t, fx.coord.AddActiveBots(ctx, "bot_7"))
	require.NoError(t, fx.coord.SetBotCurrentMatch(ctx, "bot_7", "m-1"))
	require.NoError(t, fx.coord.SetBotState(ctx, "bot_7", store.BotPlaying))

	winner := "alice"
	require.NoError(t, fx.session.Resolve(ctx, ReasonCompleted, &winner))

	active, err := fx.coord.IsBotActive(ctx, "bot_7")
	require.NoError(t, err)
	assert.False(t, active)
	_, ok, err := fx.coord.BotCurrentMatch(ctx, "bot_7")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisposeMarksOngoingBlobAbandoned(t *testing.T) {
	fx := newSessionFixture(t, testProblem())
	ctx := context.Background()

	fx.session.Dispose(ctx)

	doc, err := fx.coord.Match(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, store.MatchAbandoned, doc.Status)
	assert.Positive(t, doc.EndedAt)
	active, err := fx.coord.IsMatchActive(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestDisposeAfterResolutionIsNoop(t *testing.T) {
	fx := newSessionFixture(t, testProblem())
	ctx := context.Background()
	winner := "bob"
	require.NoError(t, fx.session.Resolve(ctx, ReasonCompleted, &winner))

	fx.session.Dispose(ctx)

	doc, err := fx.coord.Match(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, store.MatchFinished, doc.Status)
}

func TestBotWinsResolvesWithPlaceholderSubmission(t *testing.T) {
	fx := newSessionFixture(t, testProblem(), "alice", "bot_7")
	ctx := context.Background()

	fx.session.botWins("bot_7")

	doc, err := fx.coord.Match(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, store.MatchFinished, doc.Status)
	require.NotNil(t, doc.WinnerUserID)
	assert.Equal(t, "bot_7", *doc.WinnerUserID)
	require.Len(t, doc.Submissions, 1)
	assert.True(t, doc.Submissions[0].Passed)
	assert.Equal(t, 4, doc.Submissions[0].TestsPassed)
	assert.Contains(t, fx.hub.broadcastTypes(), realtime.TypeNewSubmission)
}
