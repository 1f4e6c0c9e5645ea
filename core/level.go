package core

// xpPerLevelUnit scales the quadratic level curve: reaching level L costs (L-1)^2 * 100 XP.
const xpPerLevelUnit = 100

// LevelFromXP computes a level from total XP using a super-linear curve.
// level = floor(sqrt(xp/100)) + 1, with non-positive XP mapping to level 1.
func LevelFromXP(totalXP int64) int64 {
	if totalXP <= 0 {
		return 1
	}
	return isqrt(totalXP/xpPerLevelUnit) + 1
}

// XPFloorForLevel is the total XP at which level begins.
func XPFloorForLevel(level int64) int64 {
	if level <= 1 {
		return 0
	}
	n := level - 1
	return n * n * xpPerLevelUnit
}

// XPCeilingForLevel is the total XP at which the next level begins (exclusive bound).
func XPCeilingForLevel(level int64) int64 {
	if level < 1 {
		level = 1
	}
	return XPFloorForLevel(level + 1)
}

// LevelProgress describes where a total XP value sits within its level.
type LevelProgress struct {
	Level     int64   `json:"level"`
	TotalXP   int64   `json:"total_xp"`
	XPFloor   int64   `json:"xp_floor"`
	XPCeiling int64   `json:"xp_ceiling"`
	XPInLevel int64   `json:"xp_in_level"`
	XPNeeded  int64   `json:"xp_needed"`
	Fraction  float64 `json:"fraction"`
}

// Progress derives the level and in-level progress for totalXP.
// Fraction is clamped to [0,1]; XPNeeded is always positive.
func Progress(totalXP int64) LevelProgress {
	if totalXP < 0 {
		totalXP = 0
	}
	level := LevelFromXP(totalXP)
	floor := XPFloorForLevel(level)
	ceiling := XPCeilingForLevel(level)
	p := LevelProgress{
		Level:     level,
		TotalXP:   totalXP,
		XPFloor:   floor,
		XPCeiling: ceiling,
		XPInLevel: totalXP - floor,
		XPNeeded:  ceiling - floor,
	}
	if p.XPNeeded > 0 {
		p.Fraction = float64(p.XPInLevel) / float64(p.XPNeeded)
	}
	if p.Fraction < 0 {
		p.Fraction = 0
	}
	if p.Fraction > 1 {
		p.Fraction = 1
	}
	return p
}

// isqrt returns floor(sqrt(n)) for n >= 0 without float rounding error.
func isqrt(n int64) int64 {
	if n < 2 {
		return n
	}
	x := n/2 + 1
	y := (x + n/x) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}
