package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"oncall/internal/face"
	"oncall/internal/faceclient"
	"oncall/internal/metrics"
)

var acceptedTypes = []string{"image/jpeg", "image/png"}

// Embedder extracts a face embedding from an encoded image.
type Embedder interface {
	Embed(ctx context.Context, image []byte, filename string) (*faceclient.EmbedResult, error)
}

// Mirror copies registration photos to external storage and returns their URL.
type Mirror interface {
	Upload(ctx context.Context, data []byte, filename string) (string, error)
}

// Upload is a registration request.
type Upload struct {
	UserID      string
	Data        []byte
	Filename    string
	ContentType string
}

// Service registers faces and keeps the in-memory gallery in sync with storage.
type Service struct {
	store    Store
	embedder Embedder
	gallery  *face.Gallery
	mirror   Mirror
	now      func() time.Time
	log      *slog.Logger
}

// NewService builds the registration service. mirror may be nil.
func NewService(store Store, embedder Embedder, gallery *face.Gallery, mirror Mirror, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, embedder: embedder, gallery: gallery, mirror: mirror, now: time.Now, log: log}
}

// Register validates the photo, extracts its embedding and stores both. Nothing is
// written unless the image is accepted, a face is found and the user exists.
func (s *Service) Register(ctx context.Context, up Upload) error {
	err := s.register(ctx, up)
	metrics.Registrations.WithLabelValues(registrationOutcome(err)).Inc()
	return err
}

func (s *Service) register(ctx context.Context, up Upload) error {
	if !SupportedImage(up.ContentType, up.Data) {
		return ErrUnsupportedFormat
	}

	res, err := s.embedder.Embed(ctx, up.Data, up.Filename)
	if err != nil {
		if errors.Is(err, faceclient.ErrNoFace) {
			return ErrNoFace
		}
		return fmt.Errorf("extract embedding: %w", err)
	}
	if res.FacesDetected > 1 {
		s.log.Warn("multiple faces in registration photo, using the first", "user_id", up.UserID, "faces", res.FacesDetected)
	}

	exists, err := s.store.UserExists(ctx, up.UserID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !exists {
		return ErrUserNotFound
	}
	if err := s.gallery.Accepts(up.UserID, len(res.Embedding)); err != nil {
		return err
	}

	img := Image{Data: up.Data, Timestamp: s.now().UTC()}
	if s.mirror != nil {
		url, err := s.mirror.Upload(ctx, up.Data, up.Filename)
		if err != nil {
			s.log.Warn("registration photo mirror failed", "user_id", up.UserID, "error", err)
		} else {
			img.URL = url
		}
	}

	if err := s.store.SaveRegistration(ctx, up.UserID, res.Embedding, img, MaxImages); err != nil {
		return fmt.Errorf("save registration: %w", err)
	}
	if err := s.gallery.Put(up.UserID, res.Embedding); err != nil {
		return fmt.Errorf("update gallery: %w", err)
	}
	metrics.GallerySize.Set(float64(s.gallery.Len()))
	s.log.Info("face registered", "user_id", up.UserID, "dim", len(res.Embedding))
	return nil
}

// Images returns the stored photos, most recent first.
func (s *Service) Images(ctx context.Context, userID string) ([]Image, error) {
	images, found, err := s.store.ListImages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	if !found || len(images) == 0 {
		return nil, ErrNoImages
	}
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Timestamp.After(images[j].Timestamp)
	})
	return images, nil
}

// RefreshGallery reloads every stored embedding into the gallery.
func (s *Service) RefreshGallery(ctx context.Context) error {
	embeddings, err := s.store.Embeddings(ctx)
	if err != nil {
		return fmt.Errorf("load embeddings: %w", err)
	}
	if skipped := s.gallery.Replace(embeddings); skipped > 0 {
		s.log.Warn("skipped embeddings with inconsistent dimension", "skipped", skipped)
	}
	metrics.GallerySize.Set(float64(s.gallery.Len()))
	return nil
}

// SupportedImage reports whether the declared content type is JPEG or PNG and the bytes agree.
func SupportedImage(contentType string, data []byte) bool {
	declared := false
	for _, t := range acceptedTypes {
		if contentType == t {
			declared = true
			break
		}
	}
	if !declared || len(data) == 0 {
		return false
	}
	return mimetype.Detect(data).Is(contentType)
}

// MIMEType sniffs the stored image type for data URIs.
func MIMEType(data []byte) string {
	return mimetype.Detect(data).String()
}

func registrationOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrNoFace):
		return "no_face"
	case errors.Is(err, ErrUserNotFound):
		return "unknown_user"
	}
	return "error"
}
