// Package pool supervises the node connections, assigns guilds to nodes and
// moves them when a node fails. It also merges every node's events into one
// stream.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	lerrors "github.com/devrev/voicelink/internal/errors"
	"github.com/devrev/voicelink/internal/metrics"
	"github.com/devrev/voicelink/internal/node"
	"github.com/devrev/voicelink/internal/player"
	"github.com/devrev/voicelink/internal/util/workerpool"
	"github.com/devrev/voicelink/pkg/config"
	"github.com/devrev/voicelink/pkg/model"
)

// Options configures a Pool.
type Options struct {
	Config *config.Config
	// Dialer overrides the WebSocket dialer, mainly for tests.
	Dialer  node.Dialer
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Pool owns the node connections and the player table.
type Pool struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	members []*node.Connection
	byID    map[string]*node.Connection
	players *player.Table

	failover   *workerpool.WorkerPool
	failoverWG sync.WaitGroup

	events       chan model.NodeEvent
	eventsMu     sync.RWMutex
	eventsClosed bool

	mu      sync.Mutex
	started bool
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds a pool with one connection per configured node. Nothing is
// dialed until Start.
func New(opts Options) (*Pool, error) {
	if opts.Config == nil {
		return nil, errors.New("pool: config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics()
	}

	cfg := opts.Config
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:     cfg,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		byID:    make(map[string]*node.Connection, len(cfg.Nodes)),
		players: player.NewTable(cfg.Pool.PlayerShards),
		failover: workerpool.New(workerpool.Config{
			Name:       "failover",
			MaxWorkers: cfg.Pool.FailoverWorkers,
			QueueSize:  cfg.Pool.EventBuffer,
			Logger:     opts.Logger,
		}),
		events: make(chan model.NodeEvent, cfg.Pool.EventBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	p.players.OnCountChange = p.metrics.SetPlayers

	for i, n := range cfg.Nodes {
		conn := node.NewConnection(node.Options{
			Node:           n,
			Index:          i,
			UserID:         cfg.UserID,
			ClientName:     cfg.ClientName,
			Connection:     cfg.Connection,
			Backoff:        cfg.Backoff,
			QueueCapacity:  cfg.Pool.QueueCapacity,
			FatalThreshold: cfg.Pool.FatalThreshold,
			Dialer:         opts.Dialer,
			Handler:        p,
			Logger:         opts.Logger,
			Metrics:        opts.Metrics,
		})
		p.members = append(p.members, conn)
		p.byID[n.ID] = conn
		p.metrics.SetPlayers(n.ID, 0)
	}

	return p, nil
}

// Start launches every node connection. The connections stop when ctx is
// cancelled or on Shutdown.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.logger.Info("Starting node pool", zap.Int("nodes", len(p.members)))
	for _, conn := range p.members {
		conn.Start(ctx)
	}
}

// Events returns the merged event stream. It is closed by Shutdown.
func (p *Pool) Events() <-chan model.NodeEvent {
	return p.events
}

// Route delivers cmd to the node its guild is assigned to. VoiceUpdate and
// Play create the assignment when the guild has none; Destroy removes it;
// GetStats goes to every connected node.
func (p *Pool) Route(cmd model.Command) error {
	if p.isClosed() {
		return lerrors.Closed("pool")
	}
	if cmd == nil {
		return lerrors.InvalidCommand("nil command")
	}

	switch cmd.(type) {
	case model.GetStats:
		return p.broadcast(cmd)
	case model.EventBuffer:
		return lerrors.InvalidCommand("event-buffer is sent by the connection on connect")
	}

	guildID := cmd.Guild()
	if guildID == "" {
		return lerrors.InvalidCommand(string(cmd.Op()) + " command has no guild id")
	}

	assign := func() (string, error) {
		return p.SelectNode(guildID)
	}

	var err error
	switch cmd.(type) {
	case model.VoiceUpdate, model.Play:
		var pl player.Player
		pl, err = p.players.Upsert(guildID, assign, cmd, p.send)
		if err == nil {
			p.logger.Debug("Routed command",
				zap.String("guild_id", guildID),
				zap.String("op", string(cmd.Op())),
				zap.String("node_id", pl.NodeID))
		}
	case model.Destroy:
		_, err = p.players.Remove(guildID, cmd, p.send)
		if errors.Is(err, lerrors.ErrClosed) {
			err = nil
		}
	default:
		_, err = p.players.Mutate(guildID, cmd, p.send)
	}
	return err
}

// SelectNode picks the node for a new player. Only Connected nodes are
// candidates. The result depends only on the current snapshots and the
// configuration order.
func (p *Pool) SelectNode(guildID string) (string, error) {
	return p.selectNode(guildID, "")
}

func (p *Pool) selectNode(guildID, exclude string) (string, error) {
	var best *candidate
	for _, conn := range p.members {
		snap := conn.Snapshot()
		if snap.Phase != node.PhaseConnected || snap.ID == exclude {
			continue
		}
		c := candidate{
			id:      snap.ID,
			index:   snap.Index,
			weight:  snap.Weight,
			players: p.players.Count(snap.ID),
			cpu:     snap.CPULoad(),
			penalty: snap.Penalty,
		}
		if best == nil || better(p.cfg.Pool.SelectionPolicy, c, *best) {
			best = &c
		}
	}

	if best == nil {
		return "", lerrors.NoAvailableNode(guildID)
	}
	return best.id, nil
}

// BestNode returns the configuration of the node SelectNode would pick for a
// new guild. The REST helper uses it for track lookups.
func (p *Pool) BestNode() (config.NodeConfig, error) {
	id, err := p.selectNode("", "")
	if err != nil {
		return config.NodeConfig{}, err
	}
	return p.byID[id].Config(), nil
}

// HandleNodeFailure reassigns every guild of nodeID to another connected
// node and replays its last desired state there. Guilds that cannot be
// placed are removed. It returns once every guild has been handled.
func (p *Pool) HandleNodeFailure(nodeID string) {
	guilds := p.players.Guilds(nodeID)
	if len(guilds) == 0 {
		return
	}

	p.logger.Info("Reassigning guilds of failed node",
		zap.String("node_id", nodeID),
		zap.Int("guilds", len(guilds)))

	var wg sync.WaitGroup
	for _, guildID := range guilds {
		guildID := guildID
		wg.Add(1)
		task := workerpool.Task{
			ID: guildID,
			Fn: func(ctx context.Context) error {
				defer wg.Done()
				return p.moveGuild(guildID, nodeID)
			},
		}
		if err := p.failover.Submit(p.ctx, task); err != nil {
			wg.Done()
			_ = p.moveGuild(guildID, nodeID)
		}
	}
	wg.Wait()
}

func (p *Pool) moveGuild(guildID, from string) error {
	to, err := p.players.Move(guildID, from,
		func() (string, error) {
			return p.selectNode(guildID, from)
		},
		func(pl player.Player, to string) error {
			for _, cmd := range pl.ReplayCommands(time.Now()) {
				if err := p.send(to, cmd); err != nil {
					return err
				}
			}
			return nil
		})

	switch {
	case to == "" && err == nil:
		return nil

	case to == "":
		p.metrics.RecordFailover("lost")
		p.logger.Warn("No node available for guild, player dropped",
			zap.String("guild_id", guildID),
			zap.String("from", from),
			zap.Error(err))
		p.publish(from, model.PlayerLost{GuildID: guildID, From: from, Reason: err.Error()}, false)
		return err

	case err != nil:
		p.metrics.RecordFailover("replay_failed")
		p.logger.Warn("Guild moved but replay failed",
			zap.String("guild_id", guildID),
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err))

	default:
		p.metrics.RecordFailover("moved")
		p.logger.Info("Guild moved",
			zap.String("guild_id", guildID),
			zap.String("from", from),
			zap.String("to", to))
	}

	p.publish(to, model.PlayerMoved{GuildID: guildID, From: from, To: to}, false)
	return err
}

// OnEvent implements node.Handler.
func (p *Pool) OnEvent(nodeID string, ev model.Event) {
	if ev.Op().IsLocal() {
		p.publish(nodeID, ev, false)
		return
	}
	if ev.Guild() != "" {
		p.players.OnEvent(nodeID, ev)
	}
	p.publish(nodeID, ev, true)
}

// OnFatal implements node.Handler. The connection has already stopped;
// its guilds are moved in the background.
func (p *Pool) OnFatal(nodeID string, err error) {
	if p.isClosed() {
		return
	}
	p.logger.Error("Node removed from pool",
		zap.String("node_id", nodeID),
		zap.Error(err))

	p.failoverWG.Add(1)
	go func() {
		defer p.failoverWG.Done()
		p.HandleNodeFailure(nodeID)
	}()
}

// publish forwards an event to the merged stream. Node frames wait up to the
// configured send timeout for the consumer; diagnostics never wait.
func (p *Pool) publish(nodeID string, ev model.Event, wait bool) {
	p.eventsMu.RLock()
	defer p.eventsMu.RUnlock()
	if p.eventsClosed {
		return
	}

	out := model.NodeEvent{NodeID: nodeID, Event: ev, ReceivedAt: time.Now()}
	select {
	case p.events <- out:
		return
	default:
	}

	if wait && p.cfg.Pool.EventSendTimeout > 0 {
		timer := time.NewTimer(p.cfg.Pool.EventSendTimeout)
		defer timer.Stop()
		select {
		case p.events <- out:
			return
		case <-timer.C:
		}
	}

	p.metrics.RecordEventDropped()
	p.logger.Warn("Event stream full, dropping event",
		zap.String("node_id", nodeID),
		zap.String("op", string(ev.Op())),
		zap.String("guild_id", ev.Guild()))
}

// Player returns the guild's player record.
func (p *Pool) Player(guildID string) (player.Player, bool) {
	return p.players.Get(guildID)
}

// AssignedNode returns the node a guild is assigned to.
func (p *Pool) AssignedNode(guildID string) (string, bool) {
	return p.players.AssignedNode(guildID)
}

// Guilds returns the guilds assigned to a node.
func (p *Pool) Guilds(nodeID string) []string {
	return p.players.Guilds(nodeID)
}

// Nodes returns a snapshot of every node in configuration order.
func (p *Pool) Nodes() []node.Snapshot {
	snaps := make([]node.Snapshot, 0, len(p.members))
	for _, conn := range p.members {
		snaps = append(snaps, conn.Snapshot())
	}
	return snaps
}

// Node returns the snapshot of one node.
func (p *Pool) Node(nodeID string) (node.Snapshot, error) {
	conn, ok := p.byID[nodeID]
	if !ok {
		return node.Snapshot{}, lerrors.UnknownNode(nodeID)
	}
	return conn.Snapshot(), nil
}

// Ready reports whether at least one node is connected.
func (p *Pool) Ready() bool {
	for _, conn := range p.members {
		if conn.Phase() == node.PhaseConnected {
			return true
		}
	}
	return false
}

// FailoverStats returns the statistics of the failover workers.
func (p *Pool) FailoverStats() workerpool.Stats {
	return p.failover.Stats()
}

// Shutdown closes every node connection concurrently, waits for running
// failovers and closes the event stream.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.logger.Info("Shutting down node pool")

	g, gctx := errgroup.WithContext(ctx)
	for _, conn := range p.members {
		conn := conn
		g.Go(func() error {
			return conn.Close(gctx)
		})
	}
	err := g.Wait()

	p.cancel()
	p.failoverWG.Wait()
	if stopErr := p.failover.Stop(5 * time.Second); stopErr != nil && err == nil {
		err = stopErr
	}

	p.eventsMu.Lock()
	p.eventsClosed = true
	close(p.events)
	p.eventsMu.Unlock()

	return err
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) send(nodeID string, cmd model.Command) error {
	conn, ok := p.byID[nodeID]
	if !ok {
		return lerrors.UnknownNode(nodeID)
	}
	return conn.Send(cmd)
}

func (p *Pool) broadcast(cmd model.Command) error {
	sent := 0
	for _, conn := range p.members {
		if conn.Phase() != node.PhaseConnected {
			continue
		}
		if err := conn.Send(cmd); err != nil {
			p.logger.Warn("Broadcast failed",
				zap.String("node_id", conn.ID()),
				zap.String("op", string(cmd.Op())),
				zap.Error(err))
			continue
		}
		sent++
	}
	if sent == 0 {
		return lerrors.NoAvailableNode("")
	}
	return nil
}
