package queue

import (
	"time"

	"mfcsync/internal/config"
)

// Score computes an item's sort key within its lane: higher sorts first.
func Score(it *Item, cfg *config.Config, now time.Time) int {
	score := statusBonus(it.StatusTag, cfg)

	if len(it.Cookies) > 0 && it.SessionID != "" {
		score += cfg.Queue.SessionBonus
	}

	popularity := cfg.Queue.PopularityUnit * it.waitingUserCount()
	if popularity > cfg.Queue.PopularityCap {
		popularity = cfg.Queue.PopularityCap
	}
	score += popularity

	ageMinutes := int(now.Sub(it.EnqueuedAt) / time.Minute)
	if ageMinutes > cfg.Queue.AgeCapMinutes {
		ageMinutes = cfg.Queue.AgeCapMinutes
	}
	if ageMinutes > 0 {
		score += ageMinutes
	}

	return score
}

func statusBonus(statusTag string, cfg *config.Config) int {
	switch statusTag {
	case "owned":
		return cfg.Queue.StatusBonusOwned
	case "ordered":
		return cfg.Queue.StatusBonusOrdered
	case "wished", "":
		return cfg.Queue.StatusBonusWished
	default:
		return cfg.Queue.StatusBonusWished
	}
}
