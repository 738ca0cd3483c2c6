package faceclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, routes map[string]http.HandlerFunc) *Client {
	t.Helper()
	mux := http.NewServeMux()
	for path, h := range routes {
		mux.HandleFunc(path, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL, "/models/anti_spoof")
}

func TestClient_Embed(t *testing.T) {
	c := newTestServer(t, map[string]http.HandlerFunc{
		"/embed": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			file, header, err := r.FormFile("image")
			if !assert.NoError(t, err) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer file.Close()
			body, _ := io.ReadAll(file)
			assert.Equal(t, "face.png", header.Filename)
			assert.Equal(t, "png-bytes", string(body))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"embeddings": [[0.1, 0.2, 0.3], [0.9, 0.9, 0.9]], "faces_detected": 2}`))
		},
	})

	res, err := c.Embed(context.Background(), []byte("png-bytes"), "face.png")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, res.Embedding)
	assert.Equal(t, 2, res.FacesDetected)
}

func TestClient_Embed_NoFace(t *testing.T) {
	c := newTestServer(t, map[string]http.HandlerFunc{
		"/embed": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"embeddings": [], "faces_detected": 0}`))
		},
	})

	_, err := c.Embed(context.Background(), []byte("img"), "a.jpg")
	assert.ErrorIs(t, err, ErrNoFace)
}

func TestClient_Liveness(t *testing.T) {
	c := newTestServer(t, map[string]http.HandlerFunc{
		"/liveness": func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "/models/anti_spoof", r.FormValue("model_dir"))
			_, _ = w.Write([]byte(`{"label": 1, "confidence": 0.97}`))
		},
	})

	res, err := c.Liveness(context.Background(), []byte("img"), "")
	require.NoError(t, err)
	assert.True(t, res.Live())
	assert.InDelta(t, 0.97, res.Confidence, 1e-9)
}

func TestClient_Liveness_Spoof(t *testing.T) {
	c := newTestServer(t, map[string]http.HandlerFunc{
		"/liveness": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"label": 2, "confidence": 0.88}`))
		},
	})

	res, err := c.Liveness(context.Background(), []byte("img"), "")
	require.NoError(t, err)
	assert.False(t, res.Live())
}

func TestClient_ServerError(t *testing.T) {
	c := newTestServer(t, map[string]http.HandlerFunc{
		"/embed": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		},
	})

	_, err := c.Embed(context.Background(), []byte("img"), "a.jpg")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoFace)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestClient_EmptyImage(t *testing.T) {
	c := New("http://127.0.0.1:0", "")
	_, err := c.Embed(context.Background(), nil, "a.jpg")
	assert.Error(t, err)
}

func TestClient_Health(t *testing.T) {
	c := newTestServer(t, map[string]http.HandlerFunc{
		"/health": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	})
	assert.NoError(t, c.Health(context.Background()))

	down := New("http://127.0.0.1:1", "")
	assert.Error(t, down.Health(context.Background()))
}
