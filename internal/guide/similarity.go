package guide

// Ratio measures the similarity of two strings as 2*M/T, where M is the
// total length of the longest matching blocks found by recursive
// divide-and-conquer and T is the combined length of both inputs. Equal
// strings score 1.0, disjoint strings 0.0. Two empty strings are equal.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	m := newSeqMatcher(ra, rb)
	matched := m.matchTotal(0, len(ra), 0, len(rb))
	return 2 * float64(matched) / float64(total)
}

type seqMatcher struct {
	a, b []rune
	b2j  map[rune][]int
}

func newSeqMatcher(a, b []rune) *seqMatcher {
	m := &seqMatcher{a: a, b: b, b2j: make(map[rune][]int)}
	for j, r := range b {
		m.b2j[r] = append(m.b2j[r], j)
	}
	return m
}

// matchTotal sums the lengths of the longest matching blocks inside the
// given window, recursing into the regions on either side of each block.
func (m *seqMatcher) matchTotal(alo, ahi, blo, bhi int) int {
	i, j, size := m.longestMatch(alo, ahi, blo, bhi)
	if size == 0 {
		return 0
	}
	return size + m.matchTotal(alo, i, blo, j) + m.matchTotal(i+size, ahi, j+size, bhi)
}

// longestMatch finds the longest contiguous run common to a[alo:ahi] and
// b[blo:bhi], preferring the earliest such run on ties.
func (m *seqMatcher) longestMatch(alo, ahi, blo, bhi int) (besti, bestj, bestsize int) {
	besti, bestj = alo, blo
	j2len := map[int]int{}
	for i := alo; i < ahi; i++ {
		newj2len := map[int]int{}
		for _, j := range m.b2j[m.a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			newj2len[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		j2len = newj2len
	}
	return besti, bestj, bestsize
}
