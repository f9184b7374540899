package publishers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httpConfig(url string) Config {
	return sanitizeConfig(Config{
		ID:   "hook",
		Type: TypeHTTP,
		HTTP: &HTTPConfig{
			URL:     url,
			Headers: map[string]string{"X-Token": "secret"},
		},
	})
}

func TestHTTPPublisher_DeliversEvent(t *testing.T) {
	var (
		gotBody   Event
		gotHeader http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	pub, err := newHTTPPublisher(context.Background(), httpConfig(srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, "hook", pub.ID())
	assert.Equal(t, TypeHTTP, pub.Type())

	evt := Event{
		RunID:        "run-42",
		WindowStart:  time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:    time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC),
		ArticleCount: 3,
		ArticleIDs:   []string{"a", "b", "c"},
	}
	require.NoError(t, pub.Publish(context.Background(), evt))

	assert.Equal(t, "run-42", gotBody.RunID)
	assert.Equal(t, 3, gotBody.ArticleCount)
	assert.Equal(t, "run-42", gotHeader.Get("X-Run-ID"))
	assert.Equal(t, "secret", gotHeader.Get("X-Token"))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
}

func TestHTTPPublisher_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pub, err := newHTTPPublisher(context.Background(), httpConfig(srv.URL), nil)
	require.NoError(t, err)

	err = pub.Publish(context.Background(), Event{RunID: "r"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestHTTPPublisher_MissingConfig(t *testing.T) {
	_, err := newHTTPPublisher(context.Background(), Config{ID: "p", Type: TypeHTTP}, nil)
	require.Error(t, err)
}

func TestBuildAll_UnknownType(t *testing.T) {
	reg := DefaultRegistry()
	_, err := BuildAll(context.Background(), reg, []Config{{ID: "p", Type: "smtp"}}, nil)
	require.Error(t, err)
}

func TestBuildAll_HTTP(t *testing.T) {
	reg := DefaultRegistry()
	pubs, err := BuildAll(context.Background(), reg, []Config{httpConfig("https://example.com/hook")}, nil)
	require.NoError(t, err)
	require.Len(t, pubs, 1)
}
