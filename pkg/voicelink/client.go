// Package voicelink is a client for a pool of Andesite/Lavalink-style audio
// nodes. A Client keeps one control connection per node, assigns every
// guild's player to a node, moves players when a node dies and merges all
// node events into one stream.
//
//	client, err := voicelink.New(cfg, voicelink.Options{Logger: logger})
//	client.Start(ctx)
//	session.AddHandler(client.OnVoiceStateUpdate)
//	session.AddHandler(client.OnVoiceServerUpdate)
//	err = client.Submit(model.Play{GuildID: guildID, Track: track})
package voicelink

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	lerrors "github.com/devrev/voicelink/internal/errors"
	"github.com/devrev/voicelink/internal/metrics"
	"github.com/devrev/voicelink/internal/node"
	"github.com/devrev/voicelink/internal/player"
	"github.com/devrev/voicelink/internal/pool"
	"github.com/devrev/voicelink/internal/rest"
	"github.com/devrev/voicelink/internal/server"
	"github.com/devrev/voicelink/pkg/config"
	"github.com/devrev/voicelink/pkg/model"
)

// Player is the state of one guild's player.
type Player = player.Player

// NodeSnapshot is a read-only view of one node.
type NodeSnapshot = node.Snapshot

// Errors returned by the client; match them with errors.Is.
var (
	ErrNoAvailableNode = lerrors.ErrNoAvailableNode
	ErrUnknownGuild    = lerrors.ErrUnknownGuild
	ErrUnknownNode     = lerrors.ErrUnknownNode
	ErrClosed          = lerrors.ErrClosed
	ErrUnauthorized    = lerrors.ErrUnauthorized
	ErrNodeFailed      = lerrors.ErrNodeFailed
	ErrQueueOverflow   = lerrors.ErrQueueOverflow
	ErrRateLimited     = lerrors.ErrRateLimited
)

// Options configures a Client. Every field is optional.
type Options struct {
	Logger     *zap.Logger
	HTTPClient *http.Client

	dialer node.Dialer
}

// Client is the entry point for applications.
type Client struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	pool    *pool.Pool
	rest    *rest.Client

	sessionsMu sync.Mutex
	sessions   map[string]string
}

// New validates cfg and builds the client. Nothing connects until Start.
func New(cfg *config.Config, opts Options) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("voicelink: config is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := metrics.NewMetrics()
	p, err := pool.New(pool.Options{
		Config:  cfg,
		Dialer:  opts.dialer,
		Logger:  opts.Logger,
		Metrics: m,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:     cfg,
		logger:  opts.Logger,
		metrics: m,
		pool:    p,
		rest: rest.NewClient(rest.Options{
			Config:     cfg.REST,
			Selector:   p,
			HTTPClient: opts.HTTPClient,
			Logger:     opts.Logger,
			Metrics:    m,
		}),
		sessions: make(map[string]string),
	}, nil
}

// Start connects to every node. Connections run until ctx is cancelled or
// Shutdown is called.
func (c *Client) Start(ctx context.Context) {
	c.pool.Start(ctx)
}

// Submit routes a command to the node owning its guild. VoiceUpdate and
// Play create the guild's player if needed; other guild commands fail with
// ErrUnknownGuild when the guild has no player. GetStats goes to every
// connected node.
func (c *Client) Submit(cmd model.Command) error {
	return c.pool.Route(cmd)
}

// Events returns the merged event stream of all nodes, including local
// diagnostics such as NodeStatus and PlayerMoved. It is closed by Shutdown.
func (c *Client) Events() <-chan model.NodeEvent {
	return c.pool.Events()
}

// Player returns the player of a guild.
func (c *Client) Player(guildID string) (Player, bool) {
	return c.pool.Player(guildID)
}

// Nodes returns a snapshot of every configured node in configuration order.
func (c *Client) Nodes() []NodeSnapshot {
	return c.pool.Nodes()
}

// Ready reports whether at least one node is connected.
func (c *Client) Ready() bool {
	return c.pool.Ready()
}

// ResolveTracks loads query on the best connected node.
func (c *Client) ResolveTracks(ctx context.Context, query string) ([]model.Track, error) {
	return c.rest.ResolveTracks(ctx, query)
}

// LoadTracks returns the raw load result of identifier from the best
// connected node.
func (c *Client) LoadTracks(ctx context.Context, identifier string) (*model.LoadResult, error) {
	n, err := c.pool.BestNode()
	if err != nil {
		return nil, err
	}
	return c.rest.LoadTracks(ctx, n, identifier)
}

// DecodeTrack returns the metadata of an encoded track.
func (c *Client) DecodeTrack(ctx context.Context, track string) (*model.TrackInfo, error) {
	n, err := c.pool.BestNode()
	if err != nil {
		return nil, err
	}
	return c.rest.DecodeTrack(ctx, n, track)
}

// VoiceUpdate forwards the voice server credentials of a guild.
func (c *Client) VoiceUpdate(sessionID string, ev *discordgo.VoiceServerUpdate) error {
	if ev == nil {
		return lerrors.InvalidCommand("voice server update is nil")
	}
	return c.Submit(model.VoiceUpdate{
		GuildID:   ev.GuildID,
		SessionID: sessionID,
		Event: model.SlimVoiceServerUpdate{
			GuildID:  ev.GuildID,
			Endpoint: ev.Endpoint,
			Token:    ev.Token,
		},
	})
}

// OnVoiceStateUpdate remembers the bot's voice session id per guild. It can
// be registered with discordgo's Session.AddHandler.
func (c *Client) OnVoiceStateUpdate(_ *discordgo.Session, ev *discordgo.VoiceStateUpdate) {
	if ev == nil || ev.VoiceState == nil || ev.UserID != c.cfg.UserID {
		return
	}

	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	if ev.ChannelID == "" {
		delete(c.sessions, ev.GuildID)
		return
	}
	c.sessions[ev.GuildID] = ev.SessionID
}

// OnVoiceServerUpdate sends a VoiceUpdate once the session id of the guild
// is known. It can be registered with discordgo's Session.AddHandler.
func (c *Client) OnVoiceServerUpdate(_ *discordgo.Session, ev *discordgo.VoiceServerUpdate) {
	if ev == nil {
		return
	}

	c.sessionsMu.Lock()
	sessionID, ok := c.sessions[ev.GuildID]
	c.sessionsMu.Unlock()
	if !ok {
		c.logger.Warn("Voice server update before voice state",
			zap.String("guild_id", ev.GuildID))
		return
	}

	if err := c.VoiceUpdate(sessionID, ev); err != nil {
		c.logger.Warn("Voice update failed",
			zap.String("guild_id", ev.GuildID),
			zap.Error(err))
	}
}

// Gatherer exposes the client's metrics for scraping.
func (c *Client) Gatherer() prometheus.Gatherer {
	return c.metrics.Registry()
}

// AdminServer builds the admin HTTP server for this client from the metrics
// section of the configuration.
func (c *Client) AdminServer() *server.Server {
	return server.NewServer(server.Config{
		Port:        c.cfg.Metrics.Port,
		MetricsPath: c.cfg.Metrics.Path,
	}, c.pool, c.metrics.Registry(), c.logger)
}

// Shutdown closes every node connection and the event stream.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.pool.Shutdown(ctx)
}
