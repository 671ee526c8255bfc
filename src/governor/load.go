package governor

// estimateLoad converts window totals into one load percentage for the
// whole domain. The raw busy fraction is scaled by cur/max so that a
// fully busy CPU at half its maximum frequency reports 50, not 100,
// keeping loads comparable across operating points.
func estimateLoad(busy, wall, curKHz, maxKHz uint64) uint64 {
	if wall == 0 || maxKHz == 0 {
		return 0
	}
	raw := busy * 100 / wall
	return raw * curKHz / maxKHz
}
