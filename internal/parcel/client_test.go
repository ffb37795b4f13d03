package parcel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk/casebot/internal/chat"
	"github.com/opsdesk/casebot/internal/chat/chattest"
)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tracking/AR123", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"numero": "AR123",
			"estado": "En camino",
			"movimientos": [
				{"fecha": "15/03/2024 10:00", "sucursal": "CABA", "estado": "Despachado"},
				{"fecha": "14/03/2024 18:00", "sucursal": "", "estado": "Ingresado"}
			]
		}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestTrack(t *testing.T) {
	srv := newUpstream(t)
	client := NewClientWithDoer(srv.Client(), srv.URL, "Bearer test-token")

	s, err := client.Track(context.Background(), "AR123")
	require.NoError(t, err)
	assert.Equal(t, "AR123", s.Number)
	assert.Equal(t, "En camino", s.Status)
	require.Len(t, s.Movements, 2)
	assert.Equal(t, "CABA", s.Movements[0].Location)
}

func TestTrackNotFound(t *testing.T) {
	srv := newUpstream(t)
	client := NewClientWithDoer(srv.Client(), srv.URL, "")

	_, err := client.Track(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandleTracking(t *testing.T) {
	srv := newUpstream(t)
	client := NewClientWithDoer(srv.Client(), srv.URL, "Bearer test-token")
	gateway := &chattest.Gateway{}
	h := NewHandlers(client, gateway)

	err := h.handleTracking(context.Background(), chat.SlashCommand{
		InteractionID: "int-1/tok",
		Args:          map[string]string{"number": "AR123"},
	})
	require.NoError(t, err)

	require.Len(t, gateway.Deferred, 1)
	resp := gateway.LastResponse()
	require.NotNil(t, resp)
	assert.True(t, resp.FollowUp)
	require.Len(t, resp.Message.Embeds, 1)
	assert.Equal(t, "📦 Envío AR123", resp.Message.Embeds[0].Title)
	assert.Contains(t, resp.Message.Embeds[0].Fields[1].Value, "Despachado")
}

func TestHandleTrackingMissingNumber(t *testing.T) {
	gateway := &chattest.Gateway{}
	h := NewHandlers(NewClientWithDoer(http.DefaultClient, "http://unused", ""), gateway)

	err := h.handleTracking(context.Background(), chat.SlashCommand{InteractionID: "int-2/tok"})
	require.NoError(t, err)
	resp := gateway.LastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Message.Content, "número de seguimiento")
	assert.Empty(t, gateway.Deferred)
}
