package gamification

import "time"

// Stat is the single per-user progression row.
type Stat struct {
	UserID            string     `json:"userId"`
	XP                int        `json:"xp"`
	Level             int        `json:"level"`
	StreakDays        int        `json:"streakDays"`
	LastActiveDate    *time.Time `json:"lastActiveDate,omitempty"`
	MessagesSent      int        `json:"messagesSent"`
	SessionsCompleted int        `json:"sessionsCompleted"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// NewStat returns the zero-progress row for a user.
func NewStat(userID string) Stat {
	return Stat{UserID: userID, Level: 1}
}

// Reward is the outcome of one reward computation. It is not persisted.
type Reward struct {
	XPGained     int      `json:"xpGained"`
	TotalXP      int      `json:"totalXP"`
	Level        int      `json:"level"`
	LeveledUp    bool     `json:"leveledUp"`
	StreakDays   int      `json:"streakDays"`
	StreakBroken bool     `json:"streakBroken"`
	BadgesEarned []string `json:"badgesEarned"`
}

// LevelProgress describes the position of XP within the current level.
type LevelProgress struct {
	Level          int     `json:"level"`
	XP             int     `json:"xp"`
	CurrentLevelXP int     `json:"currentLevelXP"`
	NextLevelXP    int     `json:"nextLevelXP"`
	Progress       float64 `json:"progress"`
}
