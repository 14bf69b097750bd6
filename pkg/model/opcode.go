// Package model contains the commands sent to audio nodes, the events they
// send back, and the REST payloads used for track resolution.
package model

// Opcode is the "op" discriminator of every frame on the node WebSocket.
type Opcode string

// Outgoing opcodes.
const (
	OpVoiceUpdate Opcode = "voiceUpdate"
	OpGetPlayer   Opcode = "get-player"
	OpPlay        Opcode = "play"
	OpPause       Opcode = "pause"
	OpStop        Opcode = "stop"
	OpSeek        Opcode = "seek"
	OpVolume      Opcode = "volume"
	OpUpdate      Opcode = "update"
	OpDestroy     Opcode = "destroy"
	OpGetStats    Opcode = "get-stats"
	OpEventBuffer Opcode = "event-buffer"
)

// Incoming opcodes.
const (
	OpPlayerUpdate Opcode = "playerUpdate"
	OpEvent        Opcode = "event"
	OpStats        Opcode = "stats"
)

// Opcodes of diagnostic events produced by the library itself. They never
// appear on the wire.
const (
	OpNodeStatus    Opcode = "voicelink.nodeStatus"
	OpQueueOverflow Opcode = "voicelink.queueOverflow"
	OpPlayerMoved   Opcode = "voicelink.playerMoved"
	OpPlayerLost    Opcode = "voicelink.playerLost"
)

// IsLocal reports whether op identifies a locally generated event.
func (op Opcode) IsLocal() bool {
	switch op {
	case OpNodeStatus, OpQueueOverflow, OpPlayerMoved, OpPlayerLost:
		return true
	}
	return false
}

func (op Opcode) String() string {
	return string(op)
}
