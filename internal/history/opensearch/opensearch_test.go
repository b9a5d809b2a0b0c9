package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/naidesk/internal/history"
)

func TestSink_Send(t *testing.T) {
	var method, path string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer srv.Close()

	sink := New(srv.URL, "lifecycle")
	ev := history.Event{
		Type:       history.EventWorkerStart,
		OccurredAt: time.Now().UTC(),
		Subject:    "tagger-server",
		PID:        4242,
		Detail:     "/opt/naidesk/tagger-server",
	}
	require.NoError(t, sink.Send(context.Background(), ev))

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/lifecycle/_doc", path)

	ev.ID = "0b6f3c1e-2d7a-4c55-9a57-3f2f7d0c9e11"
	require.NoError(t, sink.Send(context.Background(), ev))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/lifecycle/_doc/"+ev.ID, path)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, string(history.EventWorkerStart), doc["type"])
	assert.Equal(t, "tagger-server", doc["subject"])
	assert.Equal(t, float64(4242), doc["pid"])
}

func TestSink_SendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	err := New(srv.URL, "lifecycle").Send(context.Background(), history.Event{Type: history.EventOverlayOpen, Subject: "overlay"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opensearch sink status 400")
	assert.Contains(t, err.Error(), "bad request")
}

func TestSink_URLConstruction(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		index   string
		want    string
	}{
		{"basic", "http://localhost:9200", "logs", "http://localhost:9200/logs/_doc"},
		{"trailing slash", "http://localhost:9200/", "events", "http://localhost:9200/events/_doc"},
		{"default index", "https://search.local", "", "https://search.local/" + DefaultIndex + "/_doc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.baseURL, tt.index).docURL())
		})
	}
}
