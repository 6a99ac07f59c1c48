// Package match implements match creation and the per-match session runtime:
// code updates, submissions, grading, bot opponents, and resolution.
package match

import (
	"context"
	"strings"

	"github.com/clashcode/arena/internal/complexity"
	"github.com/clashcode/arena/internal/db/repository"
	"github.com/clashcode/arena/internal/execute"
	"github.com/clashcode/arena/internal/problem"
	"github.com/clashcode/arena/pkg/realtime"
)

// Participant id prefixes. Bots and guests never hit the users table.
const (
	BotIDPrefix   = "bot_"
	GuestIDPrefix = "guest_"
)

// DefaultRating seeds guests and unknown players.
const DefaultRating = 1200

// IsBot reports whether a participant id belongs to a bot. The external bot
// service prefixes every id it deploys with bot_, so classification is
// purely lexical and needs no store lookup.
func IsBot(id string) bool { return strings.HasPrefix(id, BotIDPrefix) }

// IsGuest reports whether a participant id belongs to a guest account.
func IsGuest(id string) bool { return strings.HasPrefix(id, GuestIDPrefix) }

// Users is the slice of the user repository the runtime needs.
type Users interface {
	GetByID(ctx context.Context, userID string) (*repository.User, error)
	ApplyMatchResult(ctx context.Context, userID string, ratingDelta int, outcome repository.MatchOutcome, durationMS int64, matchID string) error
}

// Bots is the bot directory.
type Bots interface {
	GetByID(ctx context.Context, botID string) (*repository.Bot, error)
}

// Problems is the problem store.
type Problems interface {
	GetByID(ctx context.Context, problemID string) (*problem.Problem, error)
	RandomVerifiedByDifficulty(ctx context.Context, difficulty string) (string, error)
	RandomVerified(ctx context.Context) (string, error)
}

// Matches persists match documents.
type Matches interface {
	Upsert(ctx context.Context, rec repository.MatchRecord) error
	AddSubmissionID(ctx context.Context, matchID, submissionID string) error
	AddTestRunID(ctx context.Context, matchID, submissionID string) error
}

// Submissions persists immutable submission documents.
type Submissions interface {
	Insert(ctx context.Context, rec repository.SubmissionRecord) (string, error)
}

// Executor grades a solution against test cases.
type Executor interface {
	Run(ctx context.Context, language, solution string, sig problem.Signature, cases []problem.TestCase) (*execute.Report, error)
}

// Verifier checks asymptotic complexity of a passing solution.
type Verifier interface {
	Verify(ctx context.Context, source, expectedComplexity string) (*complexity.Verdict, error)
}

// Broadcaster is the live-connection surface the runtime uses.
type Broadcaster interface {
	Broadcast(roomID string, msg realtime.Message) error
	BroadcastExcept(roomID, exceptID string, msg realtime.Message) error
	Send(playerID string, msg realtime.Message) error
	JoinRoom(roomID, playerID string)
	LeaveRoom(roomID, playerID string)
	CloseRoom(roomID string)
	Connected(playerID string) bool
}
