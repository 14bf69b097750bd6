package node_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	lerrors "github.com/devrev/voicelink/internal/errors"
	"github.com/devrev/voicelink/internal/metrics"
	"github.com/devrev/voicelink/internal/node"
	"github.com/devrev/voicelink/internal/node/nodetest"
	"github.com/devrev/voicelink/pkg/config"
	"github.com/devrev/voicelink/pkg/model"
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
	fatal  []error
}

func (r *recorder) OnEvent(nodeID string, ev model.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) OnFatal(nodeID string, err error) {
	r.mu.Lock()
	r.fatal = append(r.fatal, err)
	r.mu.Unlock()
}

func (r *recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

func (r *recorder) Fatal() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.fatal...)
}

func (r *recorder) find(match func(model.Event) bool) (model.Event, bool) {
	for _, ev := range r.Events() {
		if match(ev) {
			return ev, true
		}
	}
	return nil, false
}

func testOptions(id string, dialer node.Dialer, handler node.Handler) node.Options {
	return node.Options{
		Node:       config.NodeConfig{ID: id, Address: id + ":2333", Authorization: "secret"},
		UserID:     "1234",
		ClientName: "voicelink-test",
		Connection: config.ConnectionConfig{
			HeartbeatInterval: time.Hour,
			ReadTimeout:       time.Hour,
			WriteTimeout:      time.Second,
			HandshakeTimeout:  time.Second,
		},
		Backoff:        config.BackoffConfig{Base: time.Millisecond, Max: 4 * time.Millisecond},
		QueueCapacity:  8,
		FatalThreshold: 3,
		Dialer:         dialer,
		Handler:        handler,
	}
}

func decodeOp(t *testing.T, frame []byte) model.Opcode {
	var head struct {
		Op model.Opcode `json:"op"`
	}
	require.NoError(t, json.Unmarshal(frame, &head))
	return head.Op
}

func nextFrame(t *testing.T, ft *nodetest.Transport) []byte {
	select {
	case frame := <-ft.Written:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame written")
		return nil
	}
}

func TestConnection_QueuedPlayIsFirstFrameOverWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := make(chan []byte, 4)
	headers := make(chan http.Header, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/websocket", r.URL.Path)
		headers <- r.Header.Clone()
		conn, err := upgrader.Upgrade(w, r, http.Header{node.HeaderConnectionID: {"conn-1"}})
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- data
		}
	}))
	defer srv.Close()

	rec := &recorder{}
	opts := testOptions("n1", nil, rec)
	opts.Node.Address = strings.TrimPrefix(srv.URL, "http://")
	conn := node.NewConnection(opts)

	require.NoError(t, conn.Send(model.Play{GuildID: "G1", Track: "T1"}))
	assert.Equal(t, 1, conn.QueueDepth())

	conn.Start(context.Background())
	defer conn.Close(context.Background())

	select {
	case h := <-headers:
		assert.Equal(t, "secret", h.Get(node.HeaderAuthorization))
		assert.Equal(t, "1234", h.Get(node.HeaderUserID))
		assert.Equal(t, "voicelink-test", h.Get(node.HeaderClientName))
		assert.Empty(t, h.Get(node.HeaderResumeID))
	case <-time.After(2 * time.Second):
		t.Fatal("node never received a handshake")
	}

	select {
	case frame := <-frames:
		var play struct {
			Op      model.Opcode `json:"op"`
			GuildID string       `json:"guildId"`
			Track   string       `json:"track"`
		}
		require.NoError(t, json.Unmarshal(frame, &play))
		assert.Equal(t, model.OpPlay, play.Op)
		assert.Equal(t, "G1", play.GuildID)
		assert.Equal(t, "T1", play.Track)
	case <-time.After(2 * time.Second):
		t.Fatal("queued play was never flushed")
	}

	require.Eventually(t, func() bool {
		return conn.Snapshot().ConnectionID == "conn-1"
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, node.PhaseConnected, conn.Phase())
	assert.Zero(t, conn.QueueDepth())
}

func TestConnection_UnauthorizedIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	rec := &recorder{}
	opts := testOptions("n1", nil, rec)
	opts.Node.Address = strings.TrimPrefix(srv.URL, "http://")
	opts.FatalThreshold = 100
	conn := node.NewConnection(opts)

	conn.Start(context.Background())

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection kept retrying after 401")
	}

	assert.Equal(t, node.PhaseClosed, conn.Phase())
	fatal := rec.Fatal()
	require.Len(t, fatal, 1)
	assert.ErrorIs(t, fatal[0], lerrors.ErrNodeFailed)
	assert.ErrorIs(t, fatal[0], lerrors.ErrUnauthorized)
	assert.Equal(t, 1, conn.Snapshot().Failures)
}

func TestConnection_FlushesQueueInOrder(t *testing.T) {
	ft := nodetest.NewTransport()
	rec := &recorder{}
	conn := node.NewConnection(testOptions("n1", nodetest.NewDialer(nodetest.Connected(ft)), rec))

	ops := []model.Command{
		model.Play{GuildID: "G1", Track: "T1"},
		model.Pause{GuildID: "G1", Pause: true},
		model.Volume{GuildID: "G1", Volume: 50},
		model.Stop{GuildID: "G1"},
	}
	for _, cmd := range ops[:2] {
		require.NoError(t, conn.Send(cmd))
	}

	conn.Start(context.Background())
	defer conn.Close(context.Background())

	for _, cmd := range ops[2:] {
		require.NoError(t, conn.Send(cmd))
	}

	for _, cmd := range ops {
		assert.Equal(t, cmd.Op(), decodeOp(t, nextFrame(t, ft)))
	}
}

func TestConnection_DecodeErrorsKeepConnection(t *testing.T) {
	ft := nodetest.NewTransport()
	rec := &recorder{}
	conn := node.NewConnection(testOptions("n1", nodetest.NewDialer(nodetest.Connected(ft)), rec))
	conn.Start(context.Background())
	defer conn.Close(context.Background())

	ft.Deliver([]byte(`{"op":"mystery"}`))
	ft.Deliver([]byte(`{not json`))
	ft.Deliver([]byte(`{"op":"playerUpdate","guildId":"G1","state":{"time":1000,"position":5000}}`))
	ft.Deliver([]byte(`{"op":"stats","players":4,"playingPlayers":2,"uptime":10,"memory":{},"cpu":{"cores":4,"systemLoad":0.25}}`))

	require.Eventually(t, func() bool {
		_, ok := rec.find(func(ev model.Event) bool { _, ok := ev.(model.Stats); return ok })
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	ev, ok := rec.find(func(ev model.Event) bool { return ev.Op() == model.OpPlayerUpdate })
	require.True(t, ok)
	update := ev.(model.PlayerUpdate)
	assert.Equal(t, "G1", update.GuildID)
	require.NotNil(t, update.State.Position)
	assert.Equal(t, int64(5000), *update.State.Position)

	snap := conn.Snapshot()
	assert.Equal(t, node.PhaseConnected, snap.Phase)
	require.NotNil(t, snap.Stats)
	assert.Equal(t, 4, snap.Stats.Players)
	assert.InDelta(t, 0.25, snap.CPULoad(), 1e-9)
	assert.Zero(t, snap.Failures)
}

func TestConnection_TruncatedStatsKeepPreviousSnapshot(t *testing.T) {
	ft := nodetest.NewTransport()
	rec := &recorder{}
	core, logs := observer.New(zapcore.DebugLevel)
	m := metrics.NewMetrics()
	opts := testOptions("n1", nodetest.NewDialer(nodetest.Connected(ft)), rec)
	opts.Logger = zap.New(core)
	opts.Metrics = m
	conn := node.NewConnection(opts)
	conn.Start(context.Background())
	defer conn.Close(context.Background())

	ft.Deliver([]byte(`{"op":"stats","players":4,"playingPlayers":2,"uptime":10,"memory":{},"cpu":{"cores":4,"systemLoad":0.7}}`))
	require.Eventually(t, func() bool { return conn.Snapshot().Stats != nil }, 2*time.Second, 10*time.Millisecond)

	ft.Deliver([]byte(`{"op":"stats"}`))
	ft.Deliver([]byte(`{"op":"stats","players":0,"playingPlayers":0,"uptime":10,"memory":{}}`))
	ft.Deliver([]byte(`{"op":"mystery"}`))
	ft.Deliver([]byte(`{"op":"event","type":"TrackStartEvent","guildId":"G2","track":"T2"}`))

	require.Eventually(t, func() bool {
		_, ok := rec.find(func(ev model.Event) bool { return ev.Guild() == "G2" })
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	snap := conn.Snapshot()
	require.NotNil(t, snap.Stats)
	assert.Equal(t, 4, snap.Stats.Players)
	assert.InDelta(t, 0.7, snap.CPULoad(), 1e-9)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.DecodeErrors.WithLabelValues("n1", "malformed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DecodeErrors.WithLabelValues("n1", "unknown_op")))
	assert.Equal(t, 2, logs.FilterMessage("Discarding malformed frame").FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, 1, logs.FilterMessage("Ignoring frame with unknown op").FilterLevelExact(zapcore.DebugLevel).Len())
}

func TestConnection_FatalAfterConsecutiveFailures(t *testing.T) {
	dialer := nodetest.NewDialer()
	rec := &recorder{}
	conn := node.NewConnection(testOptions("n1", dialer, rec))

	var mu sync.Mutex
	var delays []time.Duration
	conn.SetWait(func(ctx context.Context, d time.Duration) bool {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return true
	})

	require.NoError(t, conn.Send(model.Play{GuildID: "G1", Track: "T1"}))
	conn.Start(context.Background())

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection never gave up")
	}

	assert.Equal(t, 3, dialer.Dials())
	assert.Equal(t, node.PhaseClosed, conn.Phase())
	assert.Zero(t, conn.QueueDepth())
	require.Len(t, rec.Fatal(), 1)
	assert.ErrorIs(t, rec.Fatal()[0], lerrors.ErrNodeFailed)

	mu.Lock()
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
	mu.Unlock()

	err := conn.Send(model.Stop{GuildID: "G1"})
	assert.ErrorIs(t, err, lerrors.ErrClosed)

	phases := []string{}
	for _, ev := range rec.Events() {
		if status, ok := ev.(model.NodeStatus); ok {
			phases = append(phases, status.Phase)
		}
	}
	assert.Equal(t, []string{
		"connecting", "reconnecting",
		"connecting", "reconnecting",
		"connecting", "closed",
	}, phases)
}

func TestConnection_BackoffResetsAfterConnect(t *testing.T) {
	first := nodetest.NewTransport()
	dialer := nodetest.NewDialer(
		nodetest.Refused(),
		nodetest.Refused(),
		nodetest.Connected(first),
		nodetest.Refused(),
	)
	rec := &recorder{}
	opts := testOptions("n1", dialer, rec)
	opts.FatalThreshold = 10
	conn := node.NewConnection(opts)

	var mu sync.Mutex
	var delays []time.Duration
	conn.SetWait(func(ctx context.Context, d time.Duration) bool {
		mu.Lock()
		defer mu.Unlock()
		delays = append(delays, d)
		return len(delays) < 5
	})

	conn.Start(context.Background())

	require.Eventually(t, func() bool {
		return conn.Phase() == node.PhaseConnected
	}, 2*time.Second, 5*time.Millisecond)
	first.Close()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection loop did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{
		time.Millisecond,     // first refusal
		2 * time.Millisecond, // second refusal
		time.Millisecond,     // session dropped, counter reset
		time.Millisecond,     // first refusal after reconnecting
		2 * time.Millisecond,
	}, delays)
	assert.Empty(t, rec.Fatal())
	assert.Equal(t, node.PhaseClosed, conn.Phase())
}

func TestConnection_ResumeSendsEventBufferAndResumeID(t *testing.T) {
	first := nodetest.NewTransport()
	second := nodetest.NewTransport()
	dialer := nodetest.NewDialer(
		nodetest.Step{Transport: first, Header: http.Header{node.HeaderConnectionID: {"abc"}}},
		nodetest.Connected(second),
	)
	rec := &recorder{}
	opts := testOptions("n1", dialer, rec)
	opts.Node.Resume = &config.ResumeConfig{Timeout: 60 * time.Second}
	conn := node.NewConnection(opts)
	conn.SetWait(func(ctx context.Context, d time.Duration) bool { return true })

	require.NoError(t, conn.Send(model.Play{GuildID: "G1", Track: "T1"}))
	conn.Start(context.Background())
	defer conn.Close(context.Background())

	frame := nextFrame(t, first)
	assert.Equal(t, model.OpEventBuffer, decodeOp(t, frame))
	assert.JSONEq(t, `{"op":"event-buffer","timeout":60}`, string(frame))
	assert.Equal(t, model.OpPlay, decodeOp(t, nextFrame(t, first)))

	first.Close()
	assert.Equal(t, model.OpEventBuffer, decodeOp(t, nextFrame(t, second)))

	headers := dialer.Headers()
	require.Len(t, headers, 2)
	assert.Empty(t, headers[0].Get(node.HeaderResumeID))
	assert.Equal(t, "abc", headers[1].Get(node.HeaderResumeID))
}

func TestConnection_QueueOverflowReportsDiagnostic(t *testing.T) {
	rec := &recorder{}
	opts := testOptions("n1", nodetest.NewDialer(), rec)
	opts.QueueCapacity = 2
	conn := node.NewConnection(opts)

	require.NoError(t, conn.Send(model.Play{GuildID: "G1", Track: "T1"}))
	require.NoError(t, conn.Send(model.Seek{GuildID: "G1", Position: 10}))
	require.NoError(t, conn.Send(model.Volume{GuildID: "G2", Volume: 20}))

	assert.Equal(t, 2, conn.QueueDepth())
	ev, ok := rec.find(func(ev model.Event) bool { return ev.Op() == model.OpQueueOverflow })
	require.True(t, ok)
	overflow := ev.(model.QueueOverflow)
	assert.Equal(t, "n1", overflow.Node)
	assert.Equal(t, "G1", overflow.GuildID)
	assert.Equal(t, model.OpPlay, overflow.Dropped)
	assert.Equal(t, 2, overflow.Capacity)
}

func TestConnection_CloseBeforeStart(t *testing.T) {
	conn := node.NewConnection(testOptions("n1", nodetest.NewDialer(), &recorder{}))
	require.NoError(t, conn.Send(model.Play{GuildID: "G1", Track: "T1"}))

	require.NoError(t, conn.Close(context.Background()))
	assert.Equal(t, node.PhaseClosed, conn.Phase())
	assert.Zero(t, conn.QueueDepth())

	conn.Start(context.Background())
	assert.Equal(t, node.PhaseClosed, conn.Phase())
	require.NoError(t, conn.Close(context.Background()))
}
