package clan

import (
	"math/rand"

	"clanbot/internal/storage"
)

// sampleIndexes returns k distinct indexes in [0, n) drawn uniformly, using
// a partial Fisher-Yates shuffle. k is clamped to n.
func sampleIndexes(rng *rand.Rand, n, k int) []int {
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:k]
}

// drawEntries picks k entries uniformly without replacement.
func drawEntries(rng *rand.Rand, entries []storage.Entry, k int) []storage.Entry {
	picked := sampleIndexes(rng, len(entries), k)
	out := make([]storage.Entry, 0, len(picked))
	for _, i := range picked {
		out = append(out, entries[i])
	}
	return out
}

// drawTicketHolders picks up to k distinct users where each entry is one
// ticket: a user's chance of winning scales with their ticket count, and a
// user can win at most once.
func drawTicketHolders(rng *rand.Rand, tickets []storage.Entry, k int) []storage.Entry {
	pool := make([]storage.Entry, len(tickets))
	copy(pool, tickets)

	var out []storage.Entry
	for len(out) < k && len(pool) > 0 {
		win := pool[rng.Intn(len(pool))]
		out = append(out, win)

		// drop every remaining ticket held by the winner
		next := pool[:0]
		for _, t := range pool {
			if t.UserID != win.UserID {
				next = append(next, t)
			}
		}
		pool = next
	}
	return out
}
