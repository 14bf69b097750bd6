package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/devrev/voicelink/pkg/model"
)

func TestBackoff_DoublesUpToMax(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 64 * time.Second, Jitter: 0}

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		64 * time.Second,
		64 * time.Second,
	}
	for attempt, want := range expected {
		assert.Equal(t, want, b.Delay(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, 64*time.Second, b.Delay(1000))
}

func TestBackoff_MonotonicWithJitter(t *testing.T) {
	values := []float64{0.99, 0.0, 0.5, 0.99, 0.0, 0.3, 0.99, 0.0, 0.7, 0.1}
	i := 0
	b := Backoff{
		Base:   100 * time.Millisecond,
		Max:    10 * time.Second,
		Jitter: 1,
		Rand: func() float64 {
			v := values[i%len(values)]
			i++
			return v
		},
	}

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, b.Max)
		prev = d
	}
}

func TestBackoff_NegativeAttemptUsesBase(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute}
	assert.Equal(t, time.Second, b.Delay(-3))
}

func TestPenalty(t *testing.T) {
	assert.Zero(t, Penalty(nil))
	assert.Zero(t, Penalty(&model.Stats{}))

	idle := Penalty(&model.Stats{PlayingPlayers: 3})
	assert.InDelta(t, 3.0, idle, 1e-9)

	loaded := Penalty(&model.Stats{PlayingPlayers: 3, CPU: model.StatsCPU{SystemLoad: 0.5}})
	assert.Greater(t, loaded, idle)

	lagging := Penalty(&model.Stats{
		PlayingPlayers: 3,
		Frames:         &model.StatsFrames{Deficit: 300, Nulled: 300},
	})
	deficitOnly := Penalty(&model.Stats{
		PlayingPlayers: 3,
		Frames:         &model.StatsFrames{Deficit: 300},
	})
	assert.Greater(t, lagging, deficitOnly)
	assert.Greater(t, deficitOnly, idle)
}

func TestPendingQueue_DropsOldestWhenFull(t *testing.T) {
	q := newPendingQueue(2)

	_, overflow := q.push(pending{op: model.OpPlay, guildID: "1"})
	assert.False(t, overflow)
	_, overflow = q.push(pending{op: model.OpPause, guildID: "1"})
	assert.False(t, overflow)

	dropped, overflow := q.push(pending{op: model.OpVolume, guildID: "1"})
	assert.True(t, overflow)
	assert.Equal(t, model.OpPlay, dropped.op)
	assert.Equal(t, 2, q.len())

	p, ok := q.pop()
	assert.True(t, ok)
	assert.Equal(t, model.OpPause, p.op)

	assert.True(t, q.requeue(p))
	p, _ = q.pop()
	assert.Equal(t, model.OpPause, p.op)
	p, _ = q.pop()
	assert.Equal(t, model.OpVolume, p.op)

	_, ok = q.pop()
	assert.False(t, ok)
}

func TestPendingQueue_RequeueWhenFullFails(t *testing.T) {
	q := newPendingQueue(1)
	q.push(pending{op: model.OpPlay})
	assert.False(t, q.requeue(pending{op: model.OpStop}))
	assert.Equal(t, 1, q.len())
}
