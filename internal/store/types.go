package store

import (
	"github.com/clashcode/arena/internal/problem"
)

// Match blob status values.
const (
	MatchOngoing   = "ongoing"
	MatchFinished  = "finished"
	MatchAbandoned = "abandoned"
)

// Reservation status values.
const (
	ReservationCreating = "creating"
	ReservationActive   = "active"
)

// Bot lifecycle states.
const (
	BotDeployed = "deployed"
	BotQueued   = "queued"
	BotPlaying  = "playing"
)

// Reservation is a per-player at-most-one ticket preventing re-queueing while
// a match is live.
type Reservation struct {
	RoomID    string `json:"roomId"`
	MatchID   string `json:"matchId"`
	ProblemID string `json:"problemId"`
	Status    string `json:"status"`
}

// QueueEntry is one queued player read back from the rating ZSET.
type QueueEntry struct {
	PlayerID string
	Rating   int
}

// PlayerMeta is the per-player participant record in the blob.
type PlayerMeta struct {
	Username string `json:"username"`
	Rating   int    `json:"rating"`
}

// RatingsSnapshot freezes both ratings and the problem target at creation.
type RatingsSnapshot struct {
	Player1    int `json:"player1"`
	Player2    int `json:"player2"`
	ProblemElo int `json:"problemElo"`
}

// CaseOutcome is one test case's result inside a submission record.
type CaseOutcome struct {
	Index          int    `json:"index"`
	Passed         bool   `json:"passed"`
	ActualOutput   string `json:"actualOutput,omitempty"`
	ExpectedOutput string `json:"expectedOutput,omitempty"`
	Error          string `json:"error,omitempty"`
	TimeSec        float64 `json:"time,omitempty"`
	MemoryKB       float64 `json:"memory,omitempty"`
}

// Submission is one append-only submission record in the blob.
type Submission struct {
	ID                string        `json:"id,omitempty"`
	UserID            string        `json:"userId"`
	Language          string        `json:"language"`
	Timestamp         int64         `json:"timestamp"`
	Passed            bool          `json:"passed"`
	ComplexityFailed  bool          `json:"complexityFailed,omitempty"`
	DerivedComplexity string        `json:"derivedComplexity,omitempty"`
	TestResults       []CaseOutcome `json:"testResults"`
	AverageTime       float64       `json:"averageTime"`
	AverageMemory     float64       `json:"averageMemory"`
	TestsPassed       int           `json:"testsPassed"`
	TotalTests        int           `json:"totalTests"`
	Code              string        `json:"code"`
}

// RatingChange is one player's settlement in the blob outcome section.
type RatingChange struct {
	OldRating int `json:"oldRating"`
	NewRating int `json:"newRating"`
	Change    int `json:"change"`
}

// BotCompletion is the pre-sampled win timer for a bot participant.
type BotCompletion struct {
	PlannedCompletionMs   int64  `json:"plannedCompletionMs"`
	PlannedCompletionTime string `json:"plannedCompletionTime"`
}

// BotStats tracks simulated bot progress.
type BotStats struct {
	Submissions     int `json:"submissions"`
	TestCasesSolved int `json:"testCasesSolved"`
}

// MatchDoc is the per-match JSON blob under match:{id}. All mutation goes
// through Coordinator.MutateMatch.
type MatchDoc struct {
	MatchID   string `json:"matchId"`
	ProblemID string `json:"problemId"`
	RoomID    string `json:"roomId"`
	StartedAt int64  `json:"startedAt"`
	EndedAt   int64  `json:"endedAt,omitempty"`
	Status    string `json:"status"`

	Players map[string]PlayerMeta `json:"players"`
	Ratings RatingsSnapshot       `json:"ratings"`

	PlayersCode  map[string]map[string]string `json:"playersCode"`
	Languages    map[string]string            `json:"languages,omitempty"`
	LinesWritten map[string]int               `json:"linesWritten"`

	Submissions     []Submission `json:"submissions"`
	TestSubmissions []Submission `json:"testSubmissions"`

	WinnerUserID  *string                 `json:"winnerUserId"`
	RatingChanges map[string]RatingChange `json:"ratingChanges,omitempty"`

	BotCompletionTimes map[string]BotCompletion `json:"botCompletionTimes,omitempty"`
	BotStats           map[string]BotStats      `json:"botStats,omitempty"`

	Problem problem.Snapshot `json:"problem"`
}

// HasSubmission reports whether an identical submission is already recorded.
// Identity is (userId, timestamp, code).
func (d *MatchDoc) HasSubmission(userID string, timestamp int64, code string) bool {
	for _, s := range d.Submissions {
		if s.UserID == userID && s.Timestamp == timestamp && s.Code == code {
			return true
		}
	}
	return false
}

// GuestSnapshot is the 3h-TTL view written for guest participants at
// resolution.
type GuestSnapshot struct {
	MatchID       string                  `json:"matchId"`
	WinnerUserID  *string                 `json:"winnerUserId"`
	Status        string                  `json:"status"`
	Submissions   []Submission            `json:"submissions"`
	TestsPassed   map[string]int          `json:"testsPassed"`
	RatingChanges map[string]RatingChange `json:"ratingChanges,omitempty"`
}
