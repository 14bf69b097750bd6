package player

import (
	"hash/maphash"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	lerrors "github.com/devrev/voicelink/internal/errors"
	"github.com/devrev/voicelink/pkg/model"
)

const defaultShards = 32

// Sender delivers a command to a node. The table calls it while holding the
// guild's shard lock, so commands for one guild reach the node in the order
// the table accepted them.
type Sender func(nodeID string, cmd model.Command) error

// Assigner picks a node for a guild that has none.
type Assigner func() (string, error)

type shard struct {
	mu      sync.RWMutex
	players map[string]*Player
}

// Table is the sharded guild -> player map. Operations on guilds in
// different shards never contend. Callbacks run under the shard lock and
// must not call back into the table.
type Table struct {
	shards []*shard
	seed   maphash.Seed
	now    func() time.Time

	countsMu sync.Mutex
	counts   map[string]int

	// OnCountChange, when set, is called after a node's player count changes.
	OnCountChange func(nodeID string, count int)
}

// NewTable creates a table with the given number of shards.
func NewTable(shards int) *Table {
	if shards <= 0 {
		shards = defaultShards
	}
	t := &Table{
		shards: make([]*shard, shards),
		seed:   maphash.MakeSeed(),
		now:    time.Now,
		counts: make(map[string]int),
	}
	for i := range t.shards {
		t.shards[i] = &shard{players: make(map[string]*Player)}
	}
	return t
}

func (t *Table) shardFor(guildID string) *shard {
	return t.shards[maphash.String(t.seed, guildID)%uint64(len(t.shards))]
}

// Upsert sends cmd for guildID, creating the player and assigning it a node
// first when the guild has none. A player created by this call is discarded
// again if the send fails. Returns the player after cmd was applied.
func (t *Table) Upsert(guildID string, assign Assigner, cmd model.Command, send Sender) (Player, error) {
	s := t.shardFor(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.now()
	p, exists := s.players[guildID]
	if !exists {
		nodeID, err := assign()
		if err != nil {
			return Player{}, err
		}
		p = newPlayer(guildID, nodeID, now)
	}

	if err := send(p.NodeID, cmd); err != nil {
		return Player{}, err
	}

	if !exists {
		s.players[guildID] = p
		t.adjust(p.NodeID, 1)
	}
	p.apply(cmd, now)
	return *p, nil
}

// Mutate sends cmd to the guild's node and applies it to the desired state.
func (t *Table) Mutate(guildID string, cmd model.Command, send Sender) (Player, error) {
	s := t.shardFor(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[guildID]
	if !ok {
		return Player{}, lerrors.UnknownGuild(guildID)
	}
	if err := send(p.NodeID, cmd); err != nil {
		return Player{}, err
	}
	p.apply(cmd, t.now())
	return *p, nil
}

// Remove sends cmd (normally Destroy) to the guild's node and deletes the
// record. The record is deleted even if the send fails, since the node is
// then gone or closing; the send error is still returned.
func (t *Table) Remove(guildID string, cmd model.Command, send Sender) (Player, error) {
	s := t.shardFor(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[guildID]
	if !ok {
		return Player{}, lerrors.UnknownGuild(guildID)
	}

	var err error
	if cmd != nil && send != nil {
		err = send(p.NodeID, cmd)
	}
	delete(s.players, guildID)
	t.adjust(p.NodeID, -1)
	return *p, err
}

// OnEvent applies an event reported by nodeID. Events from a node the guild
// is no longer assigned to are ignored. A PlayerDestroyed event deletes the
// record. Reports whether the event was applied.
func (t *Table) OnEvent(nodeID string, ev model.Event) bool {
	guildID := ev.Guild()
	if guildID == "" {
		return false
	}

	s := t.shardFor(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[guildID]
	if !ok || p.NodeID != nodeID {
		return false
	}

	if _, destroyed := ev.(model.PlayerDestroyed); destroyed {
		delete(s.players, guildID)
		t.adjust(nodeID, -1)
		return true
	}

	p.observe(ev, t.now())
	return true
}

// Move reassigns guildID away from the failed node from. assign picks the
// new node; replay sends the rebuilt state to it, still under the guild's
// lock so no application command can overtake it. When assign fails the
// record is deleted and the error returned. A guild that is gone or no
// longer on from is left alone and "" is returned.
func (t *Table) Move(guildID, from string, assign Assigner, replay func(p Player, nodeID string) error) (string, error) {
	s := t.shardFor(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[guildID]
	if !ok || p.NodeID != from {
		return "", nil
	}

	to, err := assign()
	if err != nil {
		delete(s.players, guildID)
		t.adjust(from, -1)
		return "", err
	}

	p.NodeID = to
	p.SessionID = uuid.New()
	p.AssignedAt = t.now()
	t.adjust(from, -1)
	t.adjust(to, 1)

	if err := replay(*p, to); err != nil {
		return to, err
	}
	return to, nil
}

// Get returns a copy of the guild's player.
func (t *Table) Get(guildID string) (Player, bool) {
	s := t.shardFor(guildID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[guildID]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// AssignedNode returns the node the guild is assigned to.
func (t *Table) AssignedNode(guildID string) (string, bool) {
	s := t.shardFor(guildID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[guildID]
	if !ok {
		return "", false
	}
	return p.NodeID, true
}

// Guilds returns the guilds assigned to nodeID, sorted.
func (t *Table) Guilds(nodeID string) []string {
	var guilds []string
	for _, s := range t.shards {
		s.mu.RLock()
		for id, p := range s.players {
			if p.NodeID == nodeID {
				guilds = append(guilds, id)
			}
		}
		s.mu.RUnlock()
	}
	sort.Strings(guilds)
	return guilds
}

// Count returns the number of players assigned to nodeID.
func (t *Table) Count(nodeID string) int {
	t.countsMu.Lock()
	defer t.countsMu.Unlock()
	return t.counts[nodeID]
}

// Len returns the total number of players.
func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.players)
		s.mu.RUnlock()
	}
	return n
}

func (t *Table) adjust(nodeID string, delta int) {
	t.countsMu.Lock()
	t.counts[nodeID] += delta
	n := t.counts[nodeID]
	if n <= 0 {
		delete(t.counts, nodeID)
		n = 0
	}
	t.countsMu.Unlock()

	if t.OnCountChange != nil {
		t.OnCountChange(nodeID, n)
	}
}
