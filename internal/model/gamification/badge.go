package gamification

import "time"

// Badge is the presentation metadata of a badge definition.
type Badge struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// UserBadge records a grant. At most one exists per (UserID, BadgeCode).
type UserBadge struct {
	UserID    string    `json:"userId"`
	BadgeCode string    `json:"badgeCode"`
	EarnedAt  time.Time `json:"earnedAt"`
}
