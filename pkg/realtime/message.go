package realtime

import "encoding/json"

// Message type constants for the queue and match-session protocols.
const (
	// Queue, client -> server
	TypeJoin  = "join"
	TypeLeave = "leave"

	// Queue, server -> client
	TypeQueued        = "queued"
	TypeMatchFound    = "match_found"
	TypeAlreadyInMatch = "already_in_match"

	// Session, client -> server
	TypeUpdateCode     = "update_code"
	TypeSetLanguage    = "set_language"
	TypeSubmitCode     = "submit_code"
	TypeTestSubmitCode = "test_submit_code"
	TypeEndMatch       = "end_match"

	// Session, server -> client
	TypeMatchInit            = "match_init"
	TypeCodeUpdate           = "code_update"
	TypeLanguageChanged      = "language_changed"
	TypeSubmissionStep       = "submission_step"
	TypeSubmissionResult     = "submission_result"
	TypeTestSubmissionResult = "test_submission_result"
	TypeNewSubmission        = "new_submission"
	TypeComplexityFailed     = "complexity_failed"
	TypeMatchWinner          = "match_winner"
	TypeMatchDraw            = "match_draw"
	TypeRateLimit            = "rate_limit"
	TypeTestProgressUpdate   = "test_progress_update"

	TypeError = "error"
)

// Submission step values.
const (
	StepCompiling           = "compiling"
	StepRunningTests        = "running_tests"
	StepAnalyzingComplexity = "analyzing_complexity"
)

// Message wraps all WebSocket payloads with a type tag.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"request_id,omitempty"`
}

// NewMessage marshals a payload into a typed frame. Marshal failures are
// programming errors on our own structs; the payload is dropped, not the frame.
func NewMessage(msgType string, payload any) Message {
	raw, _ := json.Marshal(payload)
	return Message{Type: msgType, Payload: raw}
}

// Queue protocol payloads.

type JoinPayload struct {
	UserID string `json:"userId"`
	Rating int    `json:"rating"`
}

type QueuedPayload struct {
	Position int `json:"position"`
}

type MatchFoundPayload struct {
	MatchID   string `json:"matchId"`
	RoomID    string `json:"roomId"`
	ProblemID string `json:"problemId"`
}

type AlreadyInMatchPayload struct {
	MatchID string `json:"matchId"`
	RoomID  string `json:"roomId"`
}

// Session protocol payloads, client -> server.

type UpdateCodePayload struct {
	UserID   string `json:"userId"`
	Language string `json:"language"`
	Code     string `json:"code"`
	Lines    *int   `json:"lines,omitempty"`
}

type SetLanguagePayload struct {
	UserID   string `json:"userId"`
	Language string `json:"language"`
}

type SubmitCodePayload struct {
	UserID   string `json:"userId"`
	Language string `json:"language"`
	Code     string `json:"code"`
}

type EndMatchPayload struct {
	WinnerUserID string `json:"winnerUserId,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Session protocol payloads, server -> client.

type MatchInitPayload struct {
	MatchID   string          `json:"matchId"`
	ProblemID string          `json:"problemId"`
	Problem   json.RawMessage `json:"problem"`
	StartedAt int64           `json:"startedAt"`
	Players   []PlayerInfo    `json:"players"`
}

type PlayerInfo struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Rating   int    `json:"rating"`
}

type CodeUpdatePayload struct {
	UserID string `json:"userId"`
	Lines  int    `json:"lines"`
}

type LanguageChangedPayload struct {
	UserID   string `json:"userId"`
	Language string `json:"language"`
}

type SubmissionStepPayload struct {
	UserID string `json:"userId"`
	Step   string `json:"step"`
}

type SubmissionResultPayload struct {
	UserID           string       `json:"userId"`
	Passed           bool         `json:"passed"`
	TestsPassed      int          `json:"testsPassed"`
	TotalTests       int          `json:"totalTests"`
	Results          []CaseResult `json:"results,omitempty"`
	ComplexityFailed bool         `json:"complexityFailed,omitempty"`
	Error            string       `json:"error,omitempty"`
}

type CaseResult struct {
	Index          int    `json:"index"`
	Passed         bool   `json:"passed"`
	ActualOutput   string `json:"actualOutput,omitempty"`
	ExpectedOutput string `json:"expectedOutput,omitempty"`
	Error          string `json:"error,omitempty"`
}

type NewSubmissionPayload struct {
	UserID      string `json:"userId"`
	Passed      bool   `json:"passed"`
	TestsPassed int    `json:"testsPassed"`
	TotalTests  int    `json:"totalTests"`
	Timestamp   int64  `json:"timestamp"`
}

type ComplexityFailedPayload struct {
	UserID             string `json:"userId"`
	ExpectedComplexity string `json:"expectedComplexity"`
	DerivedComplexity  string `json:"derivedComplexity"`
}

type MatchWinnerPayload struct {
	UserID        string                  `json:"userId"`
	Reason        string                  `json:"reason,omitempty"`
	RatingChanges map[string]RatingChange `json:"ratingChanges"`
}

type MatchDrawPayload struct {
	Reason        string                  `json:"reason,omitempty"`
	RatingChanges map[string]RatingChange `json:"ratingChanges"`
}

type RatingChange struct {
	OldRating int `json:"oldRating"`
	NewRating int `json:"newRating"`
	Change    int `json:"change"`
}

type RateLimitPayload struct {
	Action string `json:"action"`
}

type TestProgressUpdatePayload struct {
	UserID          string `json:"userId"`
	Submissions     int    `json:"submissions"`
	TestCasesSolved int    `json:"testCasesSolved"`
	TotalTests      int    `json:"totalTests"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
