// Package core defines the interfaces and shared types of tolatu.
package core

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by an ObjectStore when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Kind identifies one of the two independent conversion flows.
type Kind int

const (
	// KindText converts typed text with a selected voice.
	KindText Kind = iota
	// KindImage converts an uploaded image.
	KindImage
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// DownloadName is the suggested file name for audio produced by the flow.
func (k Kind) DownloadName() string {
	if k == KindImage {
		return "image_speech.mp3"
	}

	return "generated.mp3"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
