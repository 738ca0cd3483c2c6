package face

import (
	"context"
	"errors"

	"oncall/internal/faceclient"
)

var (
	// ErrNoPersonsFound means no face was detected in the frame.
	ErrNoPersonsFound = errors.New("no_persons_found")
	// ErrUnknownPerson means a face was found but matched nobody in the gallery.
	ErrUnknownPerson = errors.New("unknown_person")
)

// Embedder extracts a face embedding from an encoded image.
type Embedder interface {
	Embed(ctx context.Context, image []byte, filename string) (*faceclient.EmbedResult, error)
}

// Recognizer identifies the user in a frame.
type Recognizer struct {
	embedder Embedder
	gallery  *Gallery
}

// NewRecognizer pairs an embedder with the gallery it matches against.
func NewRecognizer(embedder Embedder, gallery *Gallery) *Recognizer {
	return &Recognizer{embedder: embedder, gallery: gallery}
}

// Identify returns the matched user id, ErrNoPersonsFound, or ErrUnknownPerson.
func (r *Recognizer) Identify(ctx context.Context, image []byte, filename string) (string, error) {
	res, err := r.embedder.Embed(ctx, image, filename)
	if err != nil {
		if errors.Is(err, faceclient.ErrNoFace) {
			return "", ErrNoPersonsFound
		}
		return "", err
	}
	userID, _, ok := r.gallery.Match(res.Embedding)
	if !ok {
		return "", ErrUnknownPerson
	}
	return userID, nil
}
