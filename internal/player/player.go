// Package player tracks the per-guild playback state: which node a guild is
// assigned to, what the application asked for, and what the node reported.
package player

import (
	"time"

	"github.com/google/uuid"

	"github.com/devrev/voicelink/pkg/model"
)

// DefaultVolume is the volume a node applies when none was requested.
const DefaultVolume = 100

// Desired is the playback state requested by the application. Position is
// the track position in milliseconds as of UpdatedAt.
type Desired struct {
	Track     string         `json:"track,omitempty"`
	Position  int64          `json:"position"`
	EndTime   *int64         `json:"end_time,omitempty"`
	Volume    int            `json:"volume"`
	Paused    bool           `json:"paused"`
	Filters   *model.Filters `json:"filters,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Observed is the playback state last reported by the node.
type Observed struct {
	Track       string    `json:"track,omitempty"`
	Playing     bool      `json:"playing"`
	Time        int64     `json:"time"`
	Position    int64     `json:"position"`
	HasPosition bool      `json:"has_position"`
	Paused      bool      `json:"paused"`
	Volume      int       `json:"volume"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Player is the record of one guild. Values returned by the table are
// copies; Voice and Filters are replaced, never modified in place.
type Player struct {
	GuildID    string             `json:"guild_id"`
	NodeID     string             `json:"node_id"`
	SessionID  uuid.UUID          `json:"session_id"`
	AssignedAt time.Time          `json:"assigned_at"`
	Voice      *model.VoiceUpdate `json:"voice,omitempty"`
	Desired    Desired            `json:"desired"`
	Observed   Observed           `json:"observed"`
}

func newPlayer(guildID, nodeID string, now time.Time) *Player {
	return &Player{
		GuildID:    guildID,
		NodeID:     nodeID,
		SessionID:  uuid.New(),
		AssignedAt: now,
		Desired:    Desired{Volume: DefaultVolume, UpdatedAt: now},
	}
}

// ResumePosition estimates the current track position at now, preferring
// the node's latest report over the requested position when it is newer.
func (p Player) ResumePosition(now time.Time) int64 {
	pos, at := p.Desired.Position, p.Desired.UpdatedAt
	if p.Observed.HasPosition && p.Observed.UpdatedAt.After(at) {
		pos, at = p.Observed.Position, p.Observed.UpdatedAt
	}
	if !p.Desired.Paused && !at.IsZero() && now.After(at) {
		pos += now.Sub(at).Milliseconds()
	}
	if p.Desired.EndTime != nil && pos > *p.Desired.EndTime {
		pos = *p.Desired.EndTime
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

// ReplayCommands rebuilds the player on another node: voice credentials,
// the current track at its estimated position, then volume, pause and
// filters when they differ from the defaults.
func (p Player) ReplayCommands(now time.Time) []model.Command {
	var cmds []model.Command

	if p.Voice != nil {
		voice := *p.Voice
		voice.GuildID = p.GuildID
		cmds = append(cmds, voice)
	}

	if p.Desired.Track != "" {
		cmds = append(cmds, model.Play{
			GuildID:   p.GuildID,
			Track:     p.Desired.Track,
			StartTime: model.Int64(p.ResumePosition(now)),
			EndTime:   p.Desired.EndTime,
		})
	}

	if p.Desired.Volume != DefaultVolume {
		cmds = append(cmds, model.Volume{GuildID: p.GuildID, Volume: p.Desired.Volume})
	}
	if p.Desired.Paused {
		cmds = append(cmds, model.Pause{GuildID: p.GuildID, Pause: true})
	}
	if p.Desired.Filters != nil && !p.Desired.Filters.IsZero() {
		cmds = append(cmds, model.Update{GuildID: p.GuildID, Filters: p.Desired.Filters})
	}

	return cmds
}

// apply folds a command the application sent into the desired state.
func (p *Player) apply(cmd model.Command, now time.Time) {
	switch c := cmd.(type) {
	case model.VoiceUpdate:
		voice := c
		p.Voice = &voice

	case model.Play:
		if c.NoReplace && p.Desired.Track != "" && p.Observed.Playing {
			return
		}
		p.Desired.Track = c.Track
		p.Desired.Position = 0
		if c.StartTime != nil {
			p.Desired.Position = *c.StartTime
		}
		p.Desired.EndTime = c.EndTime
		if c.Volume != nil {
			p.Desired.Volume = *c.Volume
		}
		p.Desired.Paused = false
		p.Desired.UpdatedAt = now
		p.Observed = Observed{Volume: p.Observed.Volume}

	case model.Pause:
		p.setPaused(c.Pause, now)

	case model.Stop:
		p.Desired.Track = ""
		p.Desired.Position = 0
		p.Desired.EndTime = nil
		p.Desired.UpdatedAt = now
		p.Observed.Playing = false
		p.Observed.HasPosition = false

	case model.Seek:
		p.seek(c.Position, now)

	case model.Volume:
		p.Desired.Volume = c.Volume

	case model.Update:
		if c.Position != nil {
			p.seek(*c.Position, now)
		}
		if c.Pause != nil {
			p.setPaused(*c.Pause, now)
		}
		if c.Volume != nil {
			p.Desired.Volume = *c.Volume
		}
		if c.Filters != nil {
			filters := *c.Filters
			p.Desired.Filters = &filters
		}
	}
}

func (p *Player) seek(position int64, now time.Time) {
	p.Desired.Position = position
	p.Desired.UpdatedAt = now
	p.Observed.HasPosition = false
}

func (p *Player) setPaused(paused bool, now time.Time) {
	if paused == p.Desired.Paused {
		return
	}
	if paused {
		p.Desired.Position = p.ResumePosition(now)
		p.Observed.HasPosition = false
	}
	p.Desired.Paused = paused
	p.Desired.UpdatedAt = now
}

// observe folds an event from the assigned node into the observed state.
func (p *Player) observe(ev model.Event, now time.Time) {
	switch e := ev.(type) {
	case model.PlayerUpdate:
		if e.State.Destroyed != nil && *e.State.Destroyed {
			return
		}
		p.Observed.Time = e.State.Time
		p.Observed.Paused = e.State.Paused
		p.Observed.Volume = e.State.Volume
		if e.State.Position != nil {
			p.Observed.Position = *e.State.Position
			p.Observed.HasPosition = true
		}
		p.Observed.UpdatedAt = now

	case model.TrackStart:
		p.Observed.Track = e.Track
		p.Observed.Playing = true
		p.Observed.UpdatedAt = now

	case model.TrackEnd:
		p.Observed.Playing = false
		p.Observed.HasPosition = false
		p.Observed.UpdatedAt = now
		if e.Track == p.Desired.Track && e.Reason != model.ReasonReplaced {
			p.Desired.Track = ""
			p.Desired.Position = 0
			p.Desired.EndTime = nil
			p.Desired.UpdatedAt = now
		}
	}
}
