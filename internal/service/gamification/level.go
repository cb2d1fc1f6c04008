package gamification

import (
	model "github.com/zhouzirui/z-journal/backend/internal/model/gamification"
)

// xpPerLevelUnit scales the quadratic level curve.
const xpPerLevelUnit = 100

// LevelForXP returns floor(sqrt(xp/100)) + 1. Negative XP counts as zero.
func LevelForXP(xp int) int {
	if xp <= 0 {
		return 1
	}
	return isqrt(xp/xpPerLevelUnit) + 1
}

// XPForLevel is the XP at which level starts.
func XPForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	return xpPerLevelUnit * (level - 1) * (level - 1)
}

// XPForNextLevel is the XP at which the level after level starts.
func XPForNextLevel(level int) int {
	if level < 1 {
		level = 1
	}
	return xpPerLevelUnit * level * level
}

// Progress describes where xp sits inside its level.
func Progress(xp int) model.LevelProgress {
	if xp < 0 {
		xp = 0
	}
	level := LevelForXP(xp)
	current := XPForLevel(level)
	next := XPForNextLevel(level)
	return model.LevelProgress{
		Level:          level,
		XP:             xp,
		CurrentLevelXP: current,
		NextLevelXP:    next,
		Progress:       float64(xp-current) / float64(next-current),
	}
}

// isqrt is the integer square root, floor(sqrt(n)), for n >= 0.
func isqrt(n int) int {
	if n < 2 {
		return n
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}
