// Package registration stores each user's face embedding and recent registration photos.
package registration

import (
	"context"
	"errors"
	"time"
)

// MaxImages is how many registration photos are kept per user, oldest evicted first.
const MaxImages = 5

var (
	ErrUnsupportedFormat = errors.New("only JPEG or PNG images are accepted")
	ErrNoFace            = errors.New("no face found in image")
	ErrUserNotFound      = errors.New("user not found")
	ErrNoImages          = errors.New("user or images not found")
)

// Image is one stored registration photo.
type Image struct {
	Data      []byte
	Timestamp time.Time
	URL       string
}

// Store persists registrations. SaveRegistration must write the embedding and
// the trimmed image history atomically.
type Store interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	SaveRegistration(ctx context.Context, userID string, embedding []float32, img Image, keep int) error
	// ListImages returns found=false when the user does not exist.
	ListImages(ctx context.Context, userID string) (images []Image, found bool, err error)
	Embeddings(ctx context.Context) (map[string][]float32, error)
}
