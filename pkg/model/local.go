package model

import "time"

// NodeEvent is an event together with the node that produced it, as
// delivered on the merged event stream.
type NodeEvent struct {
	NodeID     string
	Event      Event
	ReceivedAt time.Time
}

// NodeStatus is emitted whenever a node connection changes phase.
type NodeStatus struct {
	Node     string `json:"node"`
	Previous string `json:"previous"`
	Phase    string `json:"phase"`
	Error    string `json:"error,omitempty"`
}

// QueueOverflow is emitted when a node's pending command queue is full and
// the oldest command was dropped to make room.
type QueueOverflow struct {
	Node     string `json:"node"`
	GuildID  string `json:"guildId,omitempty"`
	Dropped  Opcode `json:"dropped"`
	Capacity int    `json:"capacity"`
}

// PlayerMoved is emitted when a guild is reassigned after its node failed.
type PlayerMoved struct {
	GuildID string `json:"guildId"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// PlayerLost is emitted when a guild's node failed and no replacement node
// was available. The player record is gone.
type PlayerLost struct {
	GuildID string `json:"guildId"`
	From    string `json:"from"`
	Reason  string `json:"reason"`
}

func (NodeStatus) Op() Opcode    { return OpNodeStatus }
func (QueueOverflow) Op() Opcode { return OpQueueOverflow }
func (PlayerMoved) Op() Opcode   { return OpPlayerMoved }
func (PlayerLost) Op() Opcode    { return OpPlayerLost }

func (NodeStatus) Guild() string      { return "" }
func (e QueueOverflow) Guild() string { return e.GuildID }
func (e PlayerMoved) Guild() string   { return e.GuildID }
func (e PlayerLost) Guild() string    { return e.GuildID }
