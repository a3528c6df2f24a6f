package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/lobbysync/internal/hub"
	"github.com/DoyleJ11/lobbysync/internal/lobby"
	"github.com/DoyleJ11/lobbysync/internal/setup"
	"github.com/DoyleJ11/lobbysync/internal/types"
	ptypes "github.com/DoyleJ11/lobbysync/pkg/types"
)

type fakeHost struct {
	launchErr error
	kicked    []int
}

func (f *fakeHost) SetOption(context.Context, setup.Option, uint8) error { return nil }
func (f *fakeHost) SetChoice(context.Context, setup.Choice) error        { return nil }
func (f *fakeHost) Launch(context.Context) error                         { return f.launchErr }

func (f *fakeHost) Kick(_ context.Context, slot int) error {
	if slot < 1 || slot > 7 {
		return lobby.ErrNoSuchSlot
	}
	f.kicked = append(f.kicked, slot)
	return nil
}

func newHub(t *testing.T) *hub.Hub {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.NewHub(ctx)
	h.Publish(ptypes.Snapshot{Version: 3, Role: "coordinator", State: "open"})
	return h
}

func TestRoutes_GetLobbyAndHealth(t *testing.T) {
	srv := httptest.NewServer(SetupRoutes(newHub(t), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/lobby")
	require.NoError(t, err)
	defer resp.Body.Close()
	var snap ptypes.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 3, snap.Version)
	assert.Equal(t, "open", snap.State)

	// read-only: no command routes
	resp, err = http.Post(srv.URL+"/lobby/launch", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoutes_Commands(t *testing.T) {
	host := &fakeHost{launchErr: fmt.Errorf("slot 2 is async: %w", lobby.ErrNotReady)}
	srv := httptest.NewServer(SetupRoutes(newHub(t), host))
	defer srv.Close()

	cases := []struct {
		path string
		want int
	}{
		{"/lobby/launch", http.StatusConflict},
		{"/lobby/kick/2", http.StatusAccepted},
		{"/lobby/kick/9", http.StatusNotFound},
		{"/lobby/kick/x", http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, err := http.Post(srv.URL+tc.path, "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tc.want, resp.StatusCode, tc.path)
	}
	assert.Equal(t, []int{2}, host.kicked)
}

func TestWS_StreamsSnapshotAndReportsErrors(t *testing.T) {
	host := &fakeHost{launchErr: lobby.ErrNoPeers}
	srv := httptest.NewServer(SetupRoutes(newHub(t), host))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() types.ServerMessage {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var m types.ServerMessage
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}

	first := read()
	require.Equal(t, "StateSnapshot", first.Type)
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, 3, first.Snapshot.Version)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Launch"}`)))
	for {
		m := read()
		if m.Type == "Error" {
			assert.Equal(t, lobby.ErrNoPeers.Error(), m.Error)
			break
		}
	}

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Dance"}`)))
	for {
		m := read()
		if m.Type == "Error" {
			assert.Equal(t, "unknown type", m.Error)
			break
		}
	}
}
