package openhome

// lcsFlags runs longest-common-subsequence over current and desired,
// returning, for each side, which positions survive the merge (spec
// §4.8). Matching uses itemsMatch, not pointer/value identity.
//
// Tie-break policy (Open Question resolution, SPEC_FULL.md §E.1):
// on a DP tie during backtrack, prefer consuming from current over
// desired — applied uniformly whether this call covers the whole queue
// or one half of a pivot split.
func lcsFlags(current, desired []PlaybackItem) (keepCurrent, keepDesired []bool) {
	m, n := len(current), len(desired)

	dp := make([][]uint32, m+1)
	for i := range dp {
		dp[i] = make([]uint32, n+1)
	}
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			if itemsMatch(current[i], desired[j]) {
				dp[i+1][j+1] = dp[i][j] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i+1][j+1] = dp[i+1][j]
			} else {
				dp[i+1][j+1] = dp[i][j+1]
			}
		}
	}

	keepCurrent = make([]bool, m)
	keepDesired = make([]bool, n)
	i, j := m, n
	for i > 0 && j > 0 {
		switch {
		case itemsMatch(current[i-1], desired[j-1]):
			keepCurrent[i-1] = true
			keepDesired[j-1] = true
			i--
			j--
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}

	return keepCurrent, keepDesired
}
