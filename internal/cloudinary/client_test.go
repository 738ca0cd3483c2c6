package cloudinary

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Upload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "key", r.FormValue("api_key"))
		assert.Equal(t, "oncall", r.FormValue("folder"))
		assert.Equal(t, "1709517600", r.FormValue("timestamp"))
		assert.NotEmpty(t, r.FormValue("signature"))
		_, _ = w.Write([]byte(`{"public_id": "oncall/abc", "secure_url": "https://res.cloudinary.com/demo/abc.png"}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "oncall")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(1709517600, 0) }

	url, err := c.Upload(context.Background(), []byte("png"), "u1.png")
	require.NoError(t, err)
	assert.Equal(t, "https://res.cloudinary.com/demo/abc.png", url)
}

func TestClient_UploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	_, err := c.Upload(context.Background(), []byte("png"), "u1.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid Signature")
}

func TestClient_SignIsOrderIndependent(t *testing.T) {
	c := New("demo", "key", "secret", "")
	a := c.sign(map[string]string{"timestamp": "1", "folder": "x", "api_key": "key"})
	b := c.sign(map[string]string{"folder": "x", "timestamp": "1"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 40)
}
