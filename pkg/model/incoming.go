package model

// Event is a frame received from a node, or a diagnostic event produced by
// the library.
type Event interface {
	Op() Opcode
	// Guild returns the guild the event concerns, or "" for node-wide events.
	Guild() string
}

// TrackEventType is the "type" discriminator of op "event" frames.
type TrackEventType string

const (
	TrackStartEvent      TrackEventType = "TrackStartEvent"
	TrackEndEvent        TrackEventType = "TrackEndEvent"
	TrackExceptionEvent  TrackEventType = "TrackExceptionEvent"
	TrackStuckEvent      TrackEventType = "TrackStuckEvent"
	WebSocketClosedEvent TrackEventType = "WebSocketClosedEvent"
	PlayerDestroyedEvent TrackEventType = "PlayerDestroyedEvent"
)

// TrackEndReason explains why a track stopped playing.
type TrackEndReason string

const (
	ReasonFinished   TrackEndReason = "FINISHED"
	ReasonLoadFailed TrackEndReason = "LOAD_FAILED"
	ReasonStopped    TrackEndReason = "STOPPED"
	ReasonReplaced   TrackEndReason = "REPLACED"
	ReasonCleanup    TrackEndReason = "CLEANUP"
)

// MayStartNext reports whether a queue should advance after this reason.
func (r TrackEndReason) MayStartNext() bool {
	return r == ReasonFinished || r == ReasonLoadFailed
}

// PlayerUpdate reports the playback position of a player.
type PlayerUpdate struct {
	GuildID string      `json:"guildId"`
	State   PlayerState `json:"state"`
}

// PlayerState is the node's view of a player. Time is the node's unix
// timestamp in milliseconds when Position was sampled.
type PlayerState struct {
	Time      int64    `json:"time"`
	Position  *int64   `json:"position,omitempty"`
	Paused    bool     `json:"paused"`
	Volume    int      `json:"volume"`
	Filters   *Filters `json:"filters,omitempty"`
	Destroyed *bool    `json:"destroyed,omitempty"`
}

// Stats reports node load. Uptime is in milliseconds.
type Stats struct {
	Players        int          `json:"players"`
	PlayingPlayers int          `json:"playingPlayers"`
	Uptime         int64        `json:"uptime"`
	Memory         StatsMemory  `json:"memory"`
	CPU            StatsCPU     `json:"cpu"`
	Frames         *StatsFrames `json:"frameStats,omitempty"`
}

// CPULoad returns the host system load as a fraction in [0, 1].
func (s Stats) CPULoad() float64 {
	return s.CPU.SystemLoad
}

type StatsMemory struct {
	Allocated  uint64 `json:"allocated"`
	Free       uint64 `json:"free"`
	Reservable uint64 `json:"reservable"`
	Used       uint64 `json:"used"`
}

type StatsCPU struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

// StatsFrames are per-minute audio frame counters.
type StatsFrames struct {
	Sent    int64 `json:"sent"`
	Nulled  int64 `json:"nulled"`
	Deficit int64 `json:"deficit"`
}

type TrackStart struct {
	GuildID string `json:"guildId"`
	Track   string `json:"track"`
}

type TrackEnd struct {
	GuildID string         `json:"guildId"`
	Track   string         `json:"track"`
	Reason  TrackEndReason `json:"reason"`
}

type TrackException struct {
	GuildID   string      `json:"guildId"`
	Track     string      `json:"track"`
	Error     string      `json:"error"`
	Exception *TrackError `json:"exception,omitempty"`
}

type TrackStuck struct {
	GuildID     string `json:"guildId"`
	Track       string `json:"track"`
	ThresholdMs int64  `json:"thresholdMs"`
}

// WebSocketClosed reports that the node's voice connection to Discord closed.
type WebSocketClosed struct {
	GuildID  string `json:"guildId"`
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
	ByRemote bool   `json:"byRemote"`
}

// PlayerDestroyed reports that the node dropped a player. Cleanup is set
// when the node destroyed it on its own, for example after a timeout.
type PlayerDestroyed struct {
	GuildID string `json:"guildId"`
	Cleanup bool   `json:"cleanup"`
}

func (PlayerUpdate) Op() Opcode    { return OpPlayerUpdate }
func (Stats) Op() Opcode           { return OpStats }
func (TrackStart) Op() Opcode      { return OpEvent }
func (TrackEnd) Op() Opcode        { return OpEvent }
func (TrackException) Op() Opcode  { return OpEvent }
func (TrackStuck) Op() Opcode      { return OpEvent }
func (WebSocketClosed) Op() Opcode { return OpEvent }
func (PlayerDestroyed) Op() Opcode { return OpEvent }

func (e PlayerUpdate) Guild() string    { return e.GuildID }
func (Stats) Guild() string             { return "" }
func (e TrackStart) Guild() string      { return e.GuildID }
func (e TrackEnd) Guild() string        { return e.GuildID }
func (e TrackException) Guild() string  { return e.GuildID }
func (e TrackStuck) Guild() string      { return e.GuildID }
func (e WebSocketClosed) Guild() string { return e.GuildID }
func (e PlayerDestroyed) Guild() string { return e.GuildID }

func (TrackStart) Type() TrackEventType      { return TrackStartEvent }
func (TrackEnd) Type() TrackEventType        { return TrackEndEvent }
func (TrackException) Type() TrackEventType  { return TrackExceptionEvent }
func (TrackStuck) Type() TrackEventType      { return TrackStuckEvent }
func (WebSocketClosed) Type() TrackEventType { return WebSocketClosedEvent }
func (PlayerDestroyed) Type() TrackEventType { return PlayerDestroyedEvent }

func (e PlayerUpdate) MarshalJSON() ([]byte, error) {
	type alias PlayerUpdate
	return withOp(OpPlayerUpdate, alias(e))
}

func (e Stats) MarshalJSON() ([]byte, error) {
	type alias Stats
	return withOp(OpStats, alias(e))
}

func (e TrackStart) MarshalJSON() ([]byte, error) {
	type alias TrackStart
	return withEventType(TrackStartEvent, alias(e))
}

func (e TrackEnd) MarshalJSON() ([]byte, error) {
	type alias TrackEnd
	return withEventType(TrackEndEvent, alias(e))
}

func (e TrackException) MarshalJSON() ([]byte, error) {
	type alias TrackException
	return withEventType(TrackExceptionEvent, alias(e))
}

func (e TrackStuck) MarshalJSON() ([]byte, error) {
	type alias TrackStuck
	return withEventType(TrackStuckEvent, alias(e))
}

func (e WebSocketClosed) MarshalJSON() ([]byte, error) {
	type alias WebSocketClosed
	return withEventType(WebSocketClosedEvent, alias(e))
}

func (e PlayerDestroyed) MarshalJSON() ([]byte, error) {
	type alias PlayerDestroyed
	return withEventType(PlayerDestroyedEvent, alias(e))
}
