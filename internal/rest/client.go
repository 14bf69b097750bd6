// Package rest wraps the HTTP endpoints an audio node exposes for loading
// and decoding tracks. It is independent of the WebSocket connections: a
// failed request is reported to the caller and never changes node health.
package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	lerrors "github.com/devrev/voicelink/internal/errors"
	"github.com/devrev/voicelink/internal/metrics"
	"github.com/devrev/voicelink/pkg/config"
	"github.com/devrev/voicelink/pkg/model"
)

const (
	endpointLoadTracks  = "loadtracks"
	endpointDecodeTrack = "decodetrack"

	maxErrorBody = 512
)

// NodeSelector supplies the node ResolveTracks sends its request to.
type NodeSelector interface {
	BestNode() (config.NodeConfig, error)
}

// Options configures a Client.
type Options struct {
	Config     config.RESTConfig
	Selector   NodeSelector
	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Client performs rate limited REST requests against audio nodes.
type Client struct {
	http     *http.Client
	limiter  *rate.Limiter
	selector NodeSelector
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewClient creates a REST client.
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Config.Timeout}
	}

	limit := rate.Inf
	if opts.Config.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.Config.RequestsPerSecond)
	}
	burst := opts.Config.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		http:     opts.HTTPClient,
		limiter:  rate.NewLimiter(limit, burst),
		selector: opts.Selector,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// LoadTracks asks node to load identifier, which is a URL or a search query
// such as "ytsearch:name".
func (c *Client) LoadTracks(ctx context.Context, node config.NodeConfig, identifier string) (*model.LoadResult, error) {
	query := url.Values{"identifier": {identifier}}
	var result model.LoadResult
	if err := c.get(ctx, node, endpointLoadTracks, query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DecodeTrack asks node for the metadata of an encoded track.
func (c *Client) DecodeTrack(ctx context.Context, node config.NodeConfig, track string) (*model.TrackInfo, error) {
	query := url.Values{"track": {track}}
	var info model.TrackInfo
	if err := c.get(ctx, node, endpointDecodeTrack, query, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ResolveTracks loads query on the best connected node and returns the
// tracks found. No matches is an empty result, a failed load is an error.
func (c *Client) ResolveTracks(ctx context.Context, query string) ([]model.Track, error) {
	if c.selector == nil {
		return nil, lerrors.NoAvailableNode("")
	}
	node, err := c.selector.BestNode()
	if err != nil {
		return nil, err
	}

	result, err := c.LoadTracks(ctx, node, query)
	if err != nil {
		return nil, err
	}

	switch result.LoadType {
	case model.LoadFailed:
		msg := "load failed"
		if result.Cause != nil {
			msg = result.Cause.Message
		}
		return nil, lerrors.New(lerrors.ErrCodeHTTPStatus, msg, nil).
			WithDetail("node_id", node.ID).
			WithDetail("query", query)
	case model.LoadNoMatches:
		return []model.Track{}, nil
	}
	if result.Tracks == nil {
		return []model.Track{}, nil
	}
	return result.Tracks, nil
}

func (c *Client) get(ctx context.Context, node config.NodeConfig, endpoint string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		c.record(endpoint, "rate_limited", 0)
		return lerrors.RateLimited(err)
	}

	target := node.HTTPURL() + "/" + endpoint + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return lerrors.HTTPTransport(target, err)
	}
	if node.Authorization != "" {
		req.Header.Set("Authorization", node.Authorization)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(endpoint, "error", time.Since(start))
		c.logger.Warn("REST request failed",
			zap.String("node_id", node.ID),
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return lerrors.HTTPTransport(target, err)
	}
	defer resp.Body.Close()
	c.record(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("REST request rejected",
			zap.String("node_id", node.ID),
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode))
		return lerrors.HTTPStatus(target, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return lerrors.HTTPTransport(target, err)
	}

	c.logger.Debug("REST request completed",
		zap.String("node_id", node.ID),
		zap.String("endpoint", endpoint),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (c *Client) record(endpoint, status string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordRESTRequest(endpoint, status, d)
	}
}
