package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"oncall/internal/metrics"
)

// LiveLabel is the anti-spoofing label for a live face.
const LiveLabel = 1

// ErrNoFace is returned by Embed when the image contains no detectable face.
var ErrNoFace = errors.New("no face found in image")

// EmbedResult holds the first detected face's embedding.
type EmbedResult struct {
	Embedding     []float32
	FacesDetected int
}

// LivenessResult is the anti-spoofing classifier output.
type LivenessResult struct {
	Label      int
	Confidence float64
}

// Live reports whether the classifier labelled the frame as a real face.
func (r LivenessResult) Live() bool { return r.Label == LiveLabel }

// Client calls the face recognition microservice.
type Client struct {
	BaseURL  string
	ModelDir string
	HTTP     *http.Client
}

// New creates a client. modelDir is forwarded to the anti-spoofing classifier.
func New(baseURL, modelDir string) *Client {
	return &Client{
		BaseURL:  baseURL,
		ModelDir: modelDir,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // model inference can be slow on CPU
		},
	}
}

// Embed extracts the face embedding from an image.
func (c *Client) Embed(ctx context.Context, image []byte, filename string) (*EmbedResult, error) {
	var out struct {
		Embeddings    [][]float32 `json:"embeddings"`
		FacesDetected int         `json:"faces_detected"`
	}
	if err := c.postImage(ctx, "embed", "/embed", image, filename, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, ErrNoFace
	}
	faces := out.FacesDetected
	if faces == 0 {
		faces = len(out.Embeddings)
	}
	return &EmbedResult{Embedding: out.Embeddings[0], FacesDetected: faces}, nil
}

// Liveness runs the anti-spoofing classifier on an image.
func (c *Client) Liveness(ctx context.Context, image []byte, filename string) (*LivenessResult, error) {
	var out struct {
		Label      int     `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	fields := map[string]string{}
	if c.ModelDir != "" {
		fields["model_dir"] = c.ModelDir
	}
	if err := c.postImage(ctx, "liveness", "/liveness", image, filename, fields, &out); err != nil {
		return nil, err
	}
	return &LivenessResult{Label: out.Label, Confidence: out.Confidence}, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) postImage(ctx context.Context, op, path string, image []byte, filename string, fields map[string]string, out any) error {
	if len(image) == 0 {
		return errors.New("image required")
	}
	if filename == "" {
		filename = "frame.jpg"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	fw, err := w.CreateFormFile("image", filename)
	if err != nil {
		return err
	}
	if _, err := fw.Write(image); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	metrics.FaceServiceDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("face service %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("face service %s error %s: %s", op, resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
