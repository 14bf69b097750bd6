// Package codec maps commands and events to and from the node's JSON wire
// format. Decoding failures are reported as *errors.Error with code
// ErrCodeUnknownOp or ErrCodeMalformed; callers log and discard them.
package codec

import (
	"encoding/json"
	"fmt"

	lerrors "github.com/devrev/voicelink/internal/errors"
	"github.com/devrev/voicelink/pkg/model"
)

// header is the discriminator shared by every frame.
type header struct {
	Op   model.Opcode         `json:"op"`
	Type model.TrackEventType `json:"type"`
}

// Encode serializes a command into a single text frame.
func Encode(cmd model.Command) ([]byte, error) {
	if cmd == nil {
		return nil, lerrors.InvalidCommand("nil command")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s command: %w", cmd.Op(), err)
	}
	return data, nil
}

// Decode parses an incoming frame into one of the event variants.
func Decode(data []byte) (model.Event, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, lerrors.Malformed("", err)
	}

	switch h.Op {
	case model.OpPlayerUpdate:
		var raw struct {
			GuildID string             `json:"guildId"`
			State   *model.PlayerState `json:"state"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, lerrors.Malformed(string(h.Op), err)
		}
		if raw.GuildID == "" {
			return nil, lerrors.MissingField(string(h.Op), "guildId")
		}
		if raw.State == nil {
			return nil, lerrors.MissingField(string(h.Op), "state")
		}
		return model.PlayerUpdate{GuildID: raw.GuildID, State: *raw.State}, nil

	case model.OpStats:
		var stats model.Stats
		if err := json.Unmarshal(data, &stats); err != nil {
			return nil, lerrors.Malformed(string(h.Op), err)
		}
		if err := requireFields(data, string(h.Op), statsFields...); err != nil {
			return nil, err
		}
		return stats, nil

	case model.OpEvent:
		return decodeTrackEvent(h.Type, data)

	case "":
		return nil, lerrors.MissingField("", "op")

	default:
		return nil, lerrors.UnknownOp(string(h.Op))
	}
}

// Fields a frame must carry beyond op, type and guildId. A present field may
// still hold its zero value.
var (
	statsFields = []string{"players", "playingPlayers", "uptime", "memory", "cpu"}

	trackEventFields = map[model.TrackEventType][]string{
		model.TrackStartEvent:      {"track"},
		model.TrackEndEvent:        {"track", "reason"},
		model.TrackExceptionEvent:  {"track", "error"},
		model.TrackStuckEvent:      {"track", "thresholdMs"},
		model.WebSocketClosedEvent: {"code", "byRemote"},
		model.PlayerDestroyedEvent: {"cleanup"},
	}
)

// requireFields reports the first of fields that is absent or null in the
// top-level object of data.
func requireFields(data []byte, op string, fields ...string) error {
	var present map[string]json.RawMessage
	if err := json.Unmarshal(data, &present); err != nil {
		return lerrors.Malformed(op, err)
	}
	for _, f := range fields {
		raw, ok := present[f]
		if !ok || string(raw) == "null" {
			return lerrors.MissingField(op, f)
		}
	}
	return nil
}

func decodeTrackEvent(kind model.TrackEventType, data []byte) (model.Event, error) {
	op := string(model.OpEvent)

	var ev model.Event
	var err error
	switch kind {
	case model.TrackStartEvent:
		var e model.TrackStart
		err = json.Unmarshal(data, &e)
		ev = e
	case model.TrackEndEvent:
		var e model.TrackEnd
		err = json.Unmarshal(data, &e)
		ev = e
	case model.TrackExceptionEvent:
		var e model.TrackException
		err = json.Unmarshal(data, &e)
		ev = e
	case model.TrackStuckEvent:
		var e model.TrackStuck
		err = json.Unmarshal(data, &e)
		ev = e
	case model.WebSocketClosedEvent:
		var e model.WebSocketClosed
		err = json.Unmarshal(data, &e)
		ev = e
	case model.PlayerDestroyedEvent:
		var e model.PlayerDestroyed
		err = json.Unmarshal(data, &e)
		ev = e
	case "":
		return nil, lerrors.MissingField(op, "type")
	default:
		return nil, lerrors.UnknownOp(op + ":" + string(kind))
	}
	if err != nil {
		return nil, lerrors.Malformed(op, err)
	}
	if ev.Guild() == "" {
		return nil, lerrors.MissingField(op, "guildId")
	}
	if err := requireFields(data, op, trackEventFields[kind]...); err != nil {
		return nil, err
	}
	return ev, nil
}

// DecodeCommand parses an outgoing frame. Nodes and tests use it; the
// client itself only encodes commands.
func DecodeCommand(data []byte) (model.Command, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, lerrors.Malformed("", err)
	}

	var cmd model.Command
	var err error
	switch h.Op {
	case model.OpVoiceUpdate:
		var c model.VoiceUpdate
		err = json.Unmarshal(data, &c)
		cmd = c
	case model.OpGetPlayer:
		var c model.GetPlayer
		err = json.Unmarshal(data, &c)
		cmd = c
	case model.OpPlay:
		var c model.Play
		err = json.Unmarshal(data, &c)
		cmd = c
	case model.OpPause:
		var c model.Pause
		err = json.Unmarshal(data, &c)
		cmd = c
	case model.OpStop:
		var c model.Stop
		err = json.Unmarshal(data, &c)
		cmd = c
	case model.OpSeek:
		var c model.Seek
		err = json.Unmarshal(data, &c)
		cmd = c
	case model.OpVolume:
		var c model.Volume
		err = json.Unmarshal(data, &c)
		cmd = c
	case model.OpUpdate:
		var c model.Update
		err = json.Unmarshal(data, &c)
		cmd = c
	case model.OpDestroy:
		var c model.Destroy
		err = json.Unmarshal(data, &c)
		cmd = c
	case model.OpGetStats:
		return model.GetStats{}, nil
	case model.OpEventBuffer:
		var c model.EventBuffer
		err = json.Unmarshal(data, &c)
		cmd = c
	case "":
		return nil, lerrors.MissingField("", "op")
	default:
		return nil, lerrors.UnknownOp(string(h.Op))
	}
	if err != nil {
		return nil, lerrors.Malformed(string(h.Op), err)
	}
	return cmd, nil
}
