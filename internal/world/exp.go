package world

// expToNext holds the required exp for the early levels; past the
// table the curve continues geometrically.
var expToNext = [...]int64{
	15, 34, 57, 92, 135, 372, 560, 840, 1242, 1716,
	2360, 3216, 4200, 5460, 7050, 8840, 11040, 13716, 16680, 20216,
}

// ExpToNextLevel returns the experience needed to advance from the
// given level to the next one.
func ExpToNextLevel(level int16) int64 {
	if level < 1 {
		return expToNext[0]
	}
	if int(level) <= len(expToNext) {
		return expToNext[level-1]
	}
	need := expToNext[len(expToNext)-1]
	for l := int16(len(expToNext)); l < level; l++ {
		need += need / 10
		if need > 2_000_000_000 {
			return 2_000_000_000
		}
	}
	return need
}
