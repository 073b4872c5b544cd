package search

// Levenshtein returns the edit distance between a and b using the
// single-row dynamic program: O(len(a)*len(b)) time, O(min(len)) space.
func Levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	// Keep the row sized by the shorter string.
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(b) == 0 {
		return len(a)
	}

	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}

	for i := 1; i <= len(a); i++ {
		prev := row[0] // row[j-1] from the previous iteration
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur := row[j]
			m := prev + cost // substitution
			if d := row[j-1] + 1; d < m { // insertion
				m = d
			}
			if d := row[j] + 1; d < m { // deletion
				m = d
			}
			row[j] = m
			prev = cur
		}
	}
	return row[len(b)]
}

// Similarity maps edit distance onto [0,1]: 1 - distance/max(len(a),len(b)).
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(maxLen)
}
