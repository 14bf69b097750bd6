package model

import "encoding/json"

// Command is a frame sent from the client to a node.
type Command interface {
	Op() Opcode
	// Guild returns the guild the command targets, or "" for node-wide
	// commands such as GetStats.
	Guild() string
}

// VoiceUpdate forwards the Discord voice session and voice server
// credentials so the node can join the voice channel.
type VoiceUpdate struct {
	GuildID   string                `json:"guildId"`
	SessionID string                `json:"sessionId"`
	Event     SlimVoiceServerUpdate `json:"event"`
}

// SlimVoiceServerUpdate is the subset of the gateway VOICE_SERVER_UPDATE
// payload a node needs.
type SlimVoiceServerUpdate struct {
	GuildID  string `json:"guild_id,omitempty"`
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
}

// GetPlayer asks the node for the current state of a player.
type GetPlayer struct {
	GuildID string `json:"guildId"`
}

// Play starts a track. StartTime and EndTime are in milliseconds.
type Play struct {
	GuildID   string `json:"guildId"`
	Track     string `json:"track"`
	StartTime *int64 `json:"startTime,omitempty"`
	EndTime   *int64 `json:"endTime,omitempty"`
	Volume    *int   `json:"volume,omitempty"`
	NoReplace bool   `json:"noReplace"`
}

// Pause pauses or resumes a player.
type Pause struct {
	GuildID string `json:"guildId"`
	Pause   bool   `json:"pause"`
}

// Stop stops the current track of a player.
type Stop struct {
	GuildID string `json:"guildId"`
}

// Seek moves the playback position, in milliseconds.
type Seek struct {
	GuildID  string `json:"guildId"`
	Position int64  `json:"position"`
}

// Volume sets the player volume, 0 to 1000 with 100 as the default.
type Volume struct {
	GuildID string `json:"guildId"`
	Volume  int    `json:"volume"`
}

// Update changes several player properties in a single frame. Nil fields
// are left untouched by the node.
type Update struct {
	GuildID  string   `json:"guildId"`
	Pause    *bool    `json:"pause,omitempty"`
	Position *int64   `json:"position,omitempty"`
	Volume   *int     `json:"volume,omitempty"`
	Filters  *Filters `json:"filters,omitempty"`
}

// Destroy tears down the player for a guild on the node.
type Destroy struct {
	GuildID string `json:"guildId"`
}

// GetStats asks the node for an immediate Stats event.
type GetStats struct{}

// EventBuffer asks the node to buffer events for Timeout seconds while the
// connection is down so they can be replayed on resume.
type EventBuffer struct {
	Timeout int64 `json:"timeout"`
}

func (VoiceUpdate) Op() Opcode { return OpVoiceUpdate }
func (GetPlayer) Op() Opcode   { return OpGetPlayer }
func (Play) Op() Opcode        { return OpPlay }
func (Pause) Op() Opcode       { return OpPause }
func (Stop) Op() Opcode        { return OpStop }
func (Seek) Op() Opcode        { return OpSeek }
func (Volume) Op() Opcode      { return OpVolume }
func (Update) Op() Opcode      { return OpUpdate }
func (Destroy) Op() Opcode     { return OpDestroy }
func (GetStats) Op() Opcode    { return OpGetStats }
func (EventBuffer) Op() Opcode { return OpEventBuffer }

func (c VoiceUpdate) Guild() string { return c.GuildID }
func (c GetPlayer) Guild() string   { return c.GuildID }
func (c Play) Guild() string        { return c.GuildID }
func (c Pause) Guild() string       { return c.GuildID }
func (c Stop) Guild() string        { return c.GuildID }
func (c Seek) Guild() string        { return c.GuildID }
func (c Volume) Guild() string      { return c.GuildID }
func (c Update) Guild() string      { return c.GuildID }
func (c Destroy) Guild() string     { return c.GuildID }
func (GetStats) Guild() string      { return "" }
func (EventBuffer) Guild() string   { return "" }

func (c VoiceUpdate) MarshalJSON() ([]byte, error) {
	type alias VoiceUpdate
	return withOp(OpVoiceUpdate, alias(c))
}

func (c GetPlayer) MarshalJSON() ([]byte, error) {
	type alias GetPlayer
	return withOp(OpGetPlayer, alias(c))
}

func (c Play) MarshalJSON() ([]byte, error) {
	type alias Play
	return withOp(OpPlay, alias(c))
}

func (c Pause) MarshalJSON() ([]byte, error) {
	type alias Pause
	return withOp(OpPause, alias(c))
}

func (c Stop) MarshalJSON() ([]byte, error) {
	type alias Stop
	return withOp(OpStop, alias(c))
}

func (c Seek) MarshalJSON() ([]byte, error) {
	type alias Seek
	return withOp(OpSeek, alias(c))
}

func (c Volume) MarshalJSON() ([]byte, error) {
	type alias Volume
	return withOp(OpVolume, alias(c))
}

func (c Update) MarshalJSON() ([]byte, error) {
	type alias Update
	return withOp(OpUpdate, alias(c))
}

func (c Destroy) MarshalJSON() ([]byte, error) {
	type alias Destroy
	return withOp(OpDestroy, alias(c))
}

func (c GetStats) MarshalJSON() ([]byte, error) {
	return withOp(OpGetStats, struct{}{})
}

func (c EventBuffer) MarshalJSON() ([]byte, error) {
	type alias EventBuffer
	return withOp(OpEventBuffer, alias(c))
}

// withOp marshals v, which must encode as a JSON object, and prepends the
// op field.
func withOp(op Opcode, v any) ([]byte, error) {
	return withHead(`"op":"`+string(op)+`"`, v)
}

// withEventType is withOp for op "event" frames, which also carry a type.
func withEventType(t TrackEventType, v any) ([]byte, error) {
	return withHead(`"op":"`+string(OpEvent)+`","type":"`+string(t)+`"`, v)
}

func withHead(head string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(body) <= 2 {
		return []byte("{" + head + "}"), nil
	}
	out := make([]byte, 0, len(head)+len(body)+2)
	out = append(out, '{')
	out = append(out, head...)
	out = append(out, ',')
	return append(out, body[1:]...), nil
}

// Int64 returns a pointer to v, for optional command fields.
func Int64(v int64) *int64 { return &v }

// Int returns a pointer to v, for optional command fields.
func Int(v int) *int { return &v }

// Bool returns a pointer to v, for optional command fields.
func Bool(v bool) *bool { return &v }
