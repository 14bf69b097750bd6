package node

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/voicelink/internal/codec"
	lerrors "github.com/devrev/voicelink/internal/errors"
	"github.com/devrev/voicelink/internal/metrics"
	"github.com/devrev/voicelink/pkg/config"
	"github.com/devrev/voicelink/pkg/model"
)

// Handshake headers understood by Andesite and Lavalink nodes.
const (
	HeaderAuthorization = "Authorization"
	HeaderUserID        = "User-Id"
	HeaderClientName    = "Client-Name"
	HeaderResumeID      = "Andesite-Resume-Id"
	HeaderConnectionID  = "Andesite-Connection-Id"
)

// Handler receives everything a connection reports. OnEvent is called for
// decoded frames from the read goroutine in arrival order, and for
// diagnostic events from whichever goroutine produced them. OnFatal is
// called once when the connection gives up.
type Handler interface {
	OnEvent(nodeID string, ev model.Event)
	OnFatal(nodeID string, err error)
}

// Options configures a Connection.
type Options struct {
	Node           config.NodeConfig
	Index          int
	UserID         string
	ClientName     string
	Connection     config.ConnectionConfig
	Backoff        config.BackoffConfig
	QueueCapacity  int
	FatalThreshold int
	Dialer         Dialer
	Handler        Handler
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

// Connection owns the control channel to one node. All outgoing commands go
// through its bounded pending queue, which is drained only while Connected.
type Connection struct {
	node           config.NodeConfig
	index          int
	userID         string
	clientName     string
	timeouts       config.ConnectionConfig
	backoff        Backoff
	fatalThreshold int
	dialer         Dialer
	handler        Handler
	logger         *zap.Logger
	metrics        *metrics.Metrics
	queue          *pendingQueue

	wait func(ctx context.Context, d time.Duration) bool

	mu           sync.RWMutex
	phase        Phase
	stats        *model.Stats
	statsAt      time.Time
	failures     int
	connectionID string
	lastErr      error
	started      bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewConnection creates a connection in the Disconnected phase. Nothing is
// dialed until Start.
func NewConnection(opts Options) *Connection {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics()
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{HandshakeTimeout: opts.Connection.HandshakeTimeout}
	}
	if opts.FatalThreshold < 1 {
		opts.FatalThreshold = 1
	}

	c := &Connection{
		node:           opts.Node,
		index:          opts.Index,
		userID:         opts.UserID,
		clientName:     opts.ClientName,
		timeouts:       opts.Connection,
		backoff:        NewBackoff(opts.Backoff),
		fatalThreshold: opts.FatalThreshold,
		dialer:         opts.Dialer,
		handler:        opts.Handler,
		logger:         opts.Logger.With(zap.String("node_id", opts.Node.ID)),
		metrics:        opts.Metrics,
		queue:          newPendingQueue(opts.QueueCapacity),
		wait:           sleepContext,
		phase:          PhaseDisconnected,
		done:           make(chan struct{}),
	}
	c.metrics.SetNodePhase(c.node.ID, int(PhaseDisconnected))
	return c
}

// ID returns the configured node id.
func (c *Connection) ID() string {
	return c.node.ID
}

// Config returns the node configuration.
func (c *Connection) Config() config.NodeConfig {
	return c.node
}

// Phase returns the current phase.
func (c *Connection) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Start launches the connection loop. It returns immediately.
func (c *Connection) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.phase == PhaseClosed {
		c.mu.Unlock()
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run(ctx)
}

// Close stops the connection, discards pending commands and waits for the
// loop to exit or ctx to expire.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.started = true
		c.mu.Unlock()
		c.shutdown()
		close(c.done)
		return nil
	}
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the connection loop has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Send encodes cmd and appends it to the pending queue. It never blocks.
// A full queue drops its oldest entry and reports a QueueOverflow event.
func (c *Connection) Send(cmd model.Command) error {
	if c.Phase() == PhaseClosed {
		return lerrors.Closed("node " + c.node.ID)
	}

	payload, err := codec.Encode(cmd)
	if err != nil {
		return err
	}

	dropped, overflow := c.queue.push(pending{op: cmd.Op(), guildID: cmd.Guild(), payload: payload})
	c.metrics.SetQueueDepth(c.node.ID, c.queue.len())
	if overflow {
		c.reportOverflow(dropped)
	}
	return nil
}

// QueueDepth returns the number of commands waiting to be written.
func (c *Connection) QueueDepth() int {
	return c.queue.len()
}

// Snapshot returns the connection's current state.
func (c *Connection) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		ID:           c.node.ID,
		Index:        c.index,
		Region:       c.node.Region,
		Weight:       c.node.Weight,
		Phase:        c.phase,
		PhaseName:    c.phase.String(),
		StatsAt:      c.statsAt,
		Penalty:      Penalty(c.stats),
		Failures:     c.failures,
		QueueDepth:   c.queue.len(),
		ConnectionID: c.connectionID,
	}
	if c.stats != nil {
		stats := *c.stats
		s.Stats = &stats
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Connection) run(ctx context.Context) {
	defer close(c.done)

	attempt := 0
	for {
		c.setPhase(PhaseConnecting, nil)

		t, err := c.connect(ctx)
		if err == nil {
			attempt = 0
			c.setFailures(0)
			c.setPhase(PhaseConnected, nil)
			err = c.session(ctx, t)
		}

		if ctx.Err() != nil {
			c.shutdown()
			return
		}

		if t == nil {
			attempt++
			c.setFailures(attempt)
			if lerrors.GetCode(err) == lerrors.ErrCodeUnauthorized || attempt >= c.fatalThreshold {
				c.fail(err, attempt)
				return
			}
		}

		delay := c.backoff.Delay(max(attempt-1, 0))
		c.setPhase(PhaseReconnecting, err)
		c.metrics.RecordReconnect(c.node.ID)
		c.logger.Warn("Node connection lost, reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		if !c.wait(ctx, delay) {
			c.shutdown()
			return
		}
	}
}

// connect dials the node and, when resuming is enabled, asks it to buffer
// events across the next disconnect.
func (c *Connection) connect(ctx context.Context) (Transport, error) {
	header := http.Header{}
	if c.node.Authorization != "" {
		header.Set(HeaderAuthorization, c.node.Authorization)
	}
	header.Set(HeaderUserID, c.userID)
	if c.clientName != "" {
		header.Set(HeaderClientName, c.clientName)
	}

	c.mu.RLock()
	resumeID := c.connectionID
	c.mu.RUnlock()
	if c.node.Resume != nil && resumeID != "" {
		header.Set(HeaderResumeID, resumeID)
	}

	dialCtx := ctx
	if c.timeouts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.timeouts.HandshakeTimeout)
		defer cancel()
	}

	t, resp, err := c.dialer.Dial(dialCtx, c.node.WebSocketURL(), header)
	if err != nil {
		return nil, err
	}

	if id := resp.Get(HeaderConnectionID); id != "" {
		c.mu.Lock()
		c.connectionID = id
		c.mu.Unlock()
	}

	if c.node.Resume != nil {
		payload, err := codec.Encode(model.EventBuffer{Timeout: int64(c.node.Resume.Timeout / time.Second)})
		if err == nil {
			err = t.WriteFrame(payload, c.timeouts.WriteTimeout)
		}
		if err != nil {
			_ = t.Close()
			return nil, err
		}
	}

	c.logger.Info("Connected to node",
		zap.String("url", c.node.WebSocketURL()),
		zap.String("connection_id", resp.Get(HeaderConnectionID)),
		zap.Bool("resumed", resumeID != "" && c.node.Resume != nil))
	return t, nil
}

// session runs the reader and writer of one Connected period and returns
// the error that ended it.
func (c *Connection) session(ctx context.Context, t Transport) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.readLoop(t)
	})
	g.Go(func() error {
		return c.writeLoop(gctx, t)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = t.Close()
		return nil
	})

	return g.Wait()
}

func (c *Connection) readLoop(t Transport) error {
	for {
		data, err := t.ReadFrame(c.timeouts.ReadTimeout)
		if err != nil {
			return err
		}

		ev, err := codec.Decode(data)
		if err != nil {
			c.discard(data, err)
			continue
		}

		c.metrics.RecordEventReceived(c.node.ID, string(ev.Op()))
		if stats, ok := ev.(model.Stats); ok {
			c.mu.Lock()
			c.stats = &stats
			c.statsAt = time.Now()
			c.mu.Unlock()
		}

		if c.handler != nil {
			c.handler.OnEvent(c.node.ID, ev)
		}
	}
}

// discard records a frame the codec rejected. Unknown ops are expected from
// newer nodes and only logged at debug level.
func (c *Connection) discard(data []byte, err error) {
	fields := []zap.Field{zap.Int("size", len(data)), zap.Error(err)}
	if !lerrors.IsDecodeError(err) {
		c.metrics.RecordDecodeError(c.node.ID, lerrors.ErrCodeInternal.String())
		c.logger.Error("Failed to decode frame", fields...)
		return
	}

	code := lerrors.GetCode(err)
	c.metrics.RecordDecodeError(c.node.ID, code.String())
	if code == lerrors.ErrCodeUnknownOp {
		c.logger.Debug("Ignoring frame with unknown op", fields...)
		return
	}
	c.logger.Warn("Discarding malformed frame", fields...)
}

// writeLoop drains the pending queue in FIFO order and sends heartbeat pings.
func (c *Connection) writeLoop(ctx context.Context, t Transport) error {
	var heartbeat <-chan time.Time
	if c.timeouts.HeartbeatInterval > 0 {
		ticker := time.NewTicker(c.timeouts.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		for {
			p, ok := c.queue.pop()
			if !ok {
				break
			}
			if err := t.WriteFrame(p.payload, c.timeouts.WriteTimeout); err != nil {
				if !c.queue.requeue(p) {
					c.reportOverflow(p)
				}
				return err
			}
			c.metrics.RecordCommandSent(c.node.ID, string(p.op))
			c.metrics.SetQueueDepth(c.node.ID, c.queue.len())
			c.logger.Debug("Sent command",
				zap.String("op", string(p.op)),
				zap.String("guild_id", p.guildID))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.queue.notify:
		case <-heartbeat:
			if err := t.Ping(c.timeouts.WriteTimeout); err != nil {
				c.metrics.RecordHeartbeatFailure(c.node.ID)
				return err
			}
		}
	}
}

func (c *Connection) fail(err error, attempts int) {
	nodeErr := lerrors.NodeFailed(c.node.ID, attempts, err)
	dropped := c.queue.clear()
	c.metrics.SetQueueDepth(c.node.ID, 0)
	c.metrics.RecordNodeFailure(c.node.ID)
	c.setPhase(PhaseClosed, nodeErr)

	c.logger.Error("Node failed, giving up",
		zap.Int("attempts", attempts),
		zap.Int("dropped_commands", dropped),
		zap.Error(err))

	if c.handler != nil {
		c.handler.OnFatal(c.node.ID, nodeErr)
	}
}

func (c *Connection) shutdown() {
	dropped := c.queue.clear()
	c.metrics.SetQueueDepth(c.node.ID, 0)
	if c.Phase() != PhaseClosed {
		c.setPhase(PhaseClosed, nil)
	}
	c.logger.Info("Node connection closed", zap.Int("dropped_commands", dropped))
}

func (c *Connection) setPhase(phase Phase, err error) {
	c.mu.Lock()
	prev := c.phase
	c.phase = phase
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()

	c.metrics.SetNodePhase(c.node.ID, int(phase))
	if prev == phase {
		return
	}

	c.logger.Debug("Node phase changed",
		zap.String("previous", prev.String()),
		zap.String("phase", phase.String()))

	if c.handler != nil {
		status := model.NodeStatus{Node: c.node.ID, Previous: prev.String(), Phase: phase.String()}
		if err != nil {
			status.Error = err.Error()
		}
		c.handler.OnEvent(c.node.ID, status)
	}
}

func (c *Connection) setFailures(n int) {
	c.mu.Lock()
	c.failures = n
	c.mu.Unlock()
}

func (c *Connection) reportOverflow(dropped pending) {
	c.metrics.RecordQueueOverflow(c.node.ID)
	c.logger.Warn("Pending queue full, dropped oldest command",
		zap.String("op", string(dropped.op)),
		zap.String("guild_id", dropped.guildID),
		zap.Int("capacity", c.queue.capacity))

	if c.handler != nil {
		c.handler.OnEvent(c.node.ID, model.QueueOverflow{
			Node:     c.node.ID,
			GuildID:  dropped.guildID,
			Dropped:  dropped.op,
			Capacity: c.queue.capacity,
		})
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
