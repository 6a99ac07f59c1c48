package store

import (
	"fmt"
	"time"
)

// Key namespace. These strings are an external contract shared with the bot
// service and must stay byte-stable across versions.
const (
	KeyQueueElo      = "queue:elo"
	KeyMatchesActive = "matches:active"
	KeyBotsActive    = "bots:active"
	KeyBotsDeployed  = "bots:deployed"
	KeyNeedsBot      = "needs_bot"
	KeyQueuedPlayers = "queued_players"
	KeyHumanPlayers  = "human_players"

	ChannelMatchEvents = "events:match"
	ChannelBotCommands = "bots:commands"
)

// TTLs shared with external consumers.
const (
	TTLJoinedAt       = time.Hour
	TTLMatchOngoing   = time.Hour
	TTLMatchFinished  = 24 * time.Hour
	TTLMatchRatings   = time.Hour
	TTLReservation    = time.Hour
	TTLPlaceholderRes = 60 * time.Second
	TTLGuestSnapshot  = 3 * time.Hour
)

func keyJoinedAt(playerID string) string {
	return "queue:joined_at:" + playerID
}

func keyReservation(playerID string) string {
	return "queue:reservation:" + playerID
}

func keyMatch(matchID string) string {
	return "match:" + matchID
}

func keyMatchRatings(matchID string) string {
	return "match:" + matchID + ":ratings"
}

func keyBotCurrentMatch(botID string) string {
	return "bot:current_match:" + botID
}

func keyBotState(botID string) string {
	return "bots:state:" + botID
}

func keyMatchLock(playerID string) string {
	return "lock:match:" + playerID
}

func keyGuestSnapshot(guestID string) string {
	return "guest:match:" + guestID
}

func keySubmissionCache(matchID, userID, hash string) string {
	return fmt.Sprintf("match:%s:%s:submission_cache:%s", matchID, userID, hash)
}

func keyStatsCache(userID string) string {
	return "cache:stats:" + userID
}

func keyActivityCache(userID string) string {
	return "cache:activity:" + userID
}
