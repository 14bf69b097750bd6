package pool

import "github.com/devrev/voicelink/pkg/config"

// candidate is a connected node considered for a new player.
type candidate struct {
	id      string
	index   int
	weight  int
	players int
	cpu     float64
	penalty float64
}

// better reports whether a should be preferred over b under policy.
//
// least-players: fewest assigned players per unit of weight, then lowest
// reported CPU load, then configuration order.
// penalty: lowest load penalty, then the least-players order.
func better(policy string, a, b candidate) bool {
	if policy == config.PolicyPenalty && a.penalty != b.penalty {
		return a.penalty < b.penalty
	}

	// players/weight compared without division.
	lhs := a.players * max(b.weight, 1)
	rhs := b.players * max(a.weight, 1)
	if lhs != rhs {
		return lhs < rhs
	}
	if a.cpu != b.cpu {
		return a.cpu < b.cpu
	}
	return a.index < b.index
}
