package converter

import (
	"slices"

	"github.com/cespare/xxhash/v2"
)

// lastOccurrences marks, for n rows identified by key, the final row of
// every distinct key.
func lastOccurrences(n int, key func(i int) []string) []bool {
	// hash -> indices of distinct keys with that hash
	seen := make(map[uint64][]int, n)
	keep := make([]bool, n)

	for i := n - 1; i >= 0; i-- {
		k := key(i)
		h := hashKey(k)
		duplicate := false
		for _, j := range seen[h] {
			if slices.Equal(key(j), k) {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		seen[h] = append(seen[h], i)
		keep[i] = true
	}
	return keep
}

func hashKey(fields []string) uint64 {
	d := xxhash.New()
	for _, f := range fields {
		_, _ = d.WriteString(f)
		// length suffix keeps ("ab","c") apart from ("a","bc")
		_, _ = d.Write([]byte{0, byte(len(f)), byte(len(f) >> 8)})
	}
	return d.Sum64()
}
