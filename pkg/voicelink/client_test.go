package voicelink_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/voicelink/internal/node"
	"github.com/devrev/voicelink/internal/node/nodetest"
	"github.com/devrev/voicelink/pkg/config"
	"github.com/devrev/voicelink/pkg/model"
	"github.com/devrev/voicelink/pkg/voicelink"
)

const botID = "1234"

type harness struct {
	client    *voicelink.Client
	transport *nodetest.Transport
}

func newHarness(t *testing.T, address string) *harness {
	t.Helper()
	ft := nodetest.NewTransport()
	dialer := nodetest.NewDialer(nodetest.Connected(ft))

	cfg := config.Default(botID, config.NodeConfig{ID: "main", Address: address, Authorization: "secret"})
	cfg.Connection.HeartbeatInterval = time.Hour
	cfg.Connection.ReadTimeout = 2 * time.Hour

	client, err := voicelink.New(cfg, voicelink.Options{}.WithDialer(dialer))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Shutdown(ctx)
	})

	client.Start(context.Background())
	require.Eventually(t, client.Ready, 2*time.Second, 2*time.Millisecond)
	return &harness{client: client, transport: ft}
}

func nextFrame(t *testing.T, ft *nodetest.Transport) map[string]interface{} {
	t.Helper()
	select {
	case data := <-ft.Written:
		var f map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame written")
		return nil
	}
}

func TestClient_VoiceHandlersAndPlay(t *testing.T) {
	h := newHarness(t, "main:2333")

	// A server update without a known session is dropped.
	h.client.OnVoiceServerUpdate(nil, &discordgo.VoiceServerUpdate{GuildID: "G1", Token: "tok", Endpoint: "ep"})

	h.client.OnVoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{
		GuildID: "G1", ChannelID: "C1", UserID: "someone-else", SessionID: "other",
	}})
	h.client.OnVoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{
		GuildID: "G1", ChannelID: "C1", UserID: botID, SessionID: "sess",
	}})
	h.client.OnVoiceServerUpdate(nil, &discordgo.VoiceServerUpdate{GuildID: "G1", Token: "tok", Endpoint: "ep"})

	f := nextFrame(t, h.transport)
	assert.Equal(t, string(model.OpVoiceUpdate), f["op"])
	assert.Equal(t, "sess", f["sessionId"])
	event := f["event"].(map[string]interface{})
	assert.Equal(t, "tok", event["token"])

	require.NoError(t, h.client.Submit(model.Play{GuildID: "G1", Track: "T1"}))
	f = nextFrame(t, h.transport)
	assert.Equal(t, string(model.OpPlay), f["op"])
	assert.Equal(t, "T1", f["track"])

	p, ok := h.client.Player("G1")
	require.True(t, ok)
	assert.Equal(t, "main", p.NodeID)
	assert.Equal(t, "T1", p.Desired.Track)
	require.NotNil(t, p.Voice)
	assert.Equal(t, "sess", p.Voice.SessionID)
}

func TestClient_Errors(t *testing.T) {
	h := newHarness(t, "main:2333")

	err := h.client.Submit(model.Pause{GuildID: "nobody", Pause: true})
	assert.ErrorIs(t, err, voicelink.ErrUnknownGuild)

	err = h.client.VoiceUpdate("s", nil)
	assert.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.client.Shutdown(ctx))

	err = h.client.Submit(model.Play{GuildID: "G1", Track: "T1"})
	assert.ErrorIs(t, err, voicelink.ErrClosed)
}

func TestClient_EventsAndNodes(t *testing.T) {
	h := newHarness(t, "main:2333")
	require.NoError(t, h.client.Submit(model.Play{GuildID: "G1", Track: "T1"}))
	nextFrame(t, h.transport)

	h.transport.Deliver([]byte(`{"op":"event","type":"TrackStartEvent","guildId":"G1","track":"T1"}`))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.client.Events():
			if start, ok := ev.Event.(model.TrackStart); ok {
				assert.Equal(t, "main", ev.NodeID)
				assert.Equal(t, "T1", start.Track)

				nodes := h.client.Nodes()
				require.Len(t, nodes, 1)
				assert.Equal(t, node.PhaseConnected, nodes[0].Phase)
				return
			}
		case <-deadline:
			t.Fatal("TrackStart never delivered")
		}
	}
}

func TestClient_ResolveTracks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/loadtracks":
			_ = json.NewEncoder(w).Encode(model.LoadResult{
				LoadType: model.LoadSearchResult,
				Tracks:   []model.Track{{Track: "QAAA", Info: model.TrackInfo{Title: r.URL.Query().Get("identifier")}}},
			})
		case "/decodetrack":
			_ = json.NewEncoder(w).Encode(model.TrackInfo{Title: "decoded"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	h := newHarness(t, strings.TrimPrefix(srv.URL, "http://"))

	tracks, err := h.client.ResolveTracks(context.Background(), "ytsearch:song")
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "ytsearch:song", tracks[0].Info.Title)

	info, err := h.client.DecodeTrack(context.Background(), "QAAA")
	require.NoError(t, err)
	assert.Equal(t, "decoded", info.Title)
}

func TestClient_AdminServer(t *testing.T) {
	h := newHarness(t, "main:2333")

	rec := httptest.NewRecorder()
	h.client.AdminServer().GetHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.client.AdminServer().GetHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voicelink_node_phase")
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := voicelink.New(nil, voicelink.Options{})
	assert.Error(t, err)

	_, err = voicelink.New(&config.Config{UserID: botID}, voicelink.Options{})
	assert.Error(t, err)
}
