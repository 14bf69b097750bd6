package node

import (
	"math"
	"time"

	"github.com/devrev/voicelink/pkg/model"
)

// Snapshot is a read-only view of a node connection used for selection and
// reporting.
type Snapshot struct {
	ID           string       `json:"id"`
	Index        int          `json:"index"`
	Region       string       `json:"region,omitempty"`
	Weight       int          `json:"weight"`
	Phase        Phase        `json:"-"`
	PhaseName    string       `json:"phase"`
	Stats        *model.Stats `json:"stats,omitempty"`
	StatsAt      time.Time    `json:"stats_at,omitempty"`
	Penalty      float64      `json:"penalty"`
	Failures     int          `json:"consecutive_failures"`
	QueueDepth   int          `json:"queue_depth"`
	ConnectionID string       `json:"connection_id,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
}

// CPULoad returns the last reported system load, or 0 before any stats.
func (s Snapshot) CPULoad() float64 {
	if s.Stats == nil {
		return 0
	}
	return s.Stats.CPULoad()
}

// Penalty scores how loaded a node is from its reported statistics; higher
// is busier. Playing players count once each, CPU load grows exponentially
// and frame deficits weigh more than nulled frames.
func Penalty(stats *model.Stats) float64 {
	if stats == nil {
		return 0
	}

	cpu := math.Pow(1.05, 100*stats.CPU.SystemLoad)*10 - 10

	var deficit, nulled float64
	if stats.Frames != nil {
		deficit = math.Pow(1.03, 500*(float64(stats.Frames.Deficit)/3000))*300 - 300
		nulled = (math.Pow(1.03, 500*(float64(stats.Frames.Nulled)/3000))*300 - 300) * 2
	}

	return float64(stats.PlayingPlayers) + cpu + deficit + nulled
}
