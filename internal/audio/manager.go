// Package audio turns backend responses into locally resolvable audio
// resources and releases them when they are superseded.
package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/book-expert/tolatu/internal/core"
	"github.com/book-expert/tolatu/internal/tts"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	contentTypeMPEG = "audio/mpeg"
	dataURIPrefix   = "data:"
	base64Marker    = ";base64,"
	keyExtension    = ".mp3"
)

// ErrNotDataURI is returned by DecodeDataURI for anything but a base64 data URI.
var ErrNotDataURI = errors.New("not a base64 data URI")

// Resource is a playable result held by a Manager.
type Resource struct {
	Key          string    `json:"-"`
	Kind         core.Kind `json:"kind"`
	SourceURL    string    `json:"sourceUrl"`
	DownloadName string    `json:"downloadName"`
	DownloadURL  string    `json:"downloadUrl"`
	ContentType  string    `json:"contentType"`
	Size         int       `json:"size"`
	SizeLabel    string    `json:"sizeLabel"`
}

// Manager materializes responses for one session. It keeps at most one live
// resource per kind.
type Manager struct {
	store         core.ObjectStore
	urlPrefix     string
	embeddedPaths []string

	mu      sync.Mutex
	current map[core.Kind]*Resource
}

// NewManager creates a Manager that keeps binary audio in store and serves it
// under urlPrefix. embeddedPaths are the gjson paths searched, in order, for
// base64 audio inside a JSON response.
func NewManager(store core.ObjectStore, urlPrefix string, embeddedPaths []string) *Manager {
	return &Manager{
		store:         store,
		urlPrefix:     strings.TrimRight(urlPrefix, "/"),
		embeddedPaths: embeddedPaths,
		current:       make(map[core.Kind]*Resource),
	}
}

// Materialize builds a resource for kind from a response body and replaces
// the previous resource of that kind, releasing its stored bytes.
func (m *Manager) Materialize(
	ctx context.Context,
	kind core.Kind,
	body []byte,
	encoding tts.Encoding,
	contentType string,
) (*Resource, error) {
	var (
		res *Resource
		err error
	)

	switch encoding {
	case tts.EncodingEmbedded:
		res, err = m.fromEmbedded(kind, body)
	default:
		res, err = m.fromBinary(ctx, kind, body, contentType)
	}

	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	previous := m.current[kind]
	m.current[kind] = res
	m.mu.Unlock()

	releaseErr := m.release(ctx, previous)
	if releaseErr != nil {
		return res, releaseErr
	}

	return res, nil
}

// Current returns the live resource of kind, if any.
func (m *Manager) Current(kind core.Kind) (*Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.current[kind]

	return res, ok
}

// Release drops the live resource of kind.
func (m *Manager) Release(ctx context.Context, kind core.Kind) error {
	m.mu.Lock()
	previous := m.current[kind]
	delete(m.current, kind)
	m.mu.Unlock()

	return m.release(ctx, previous)
}

// ReleaseAll drops every live resource.
func (m *Manager) ReleaseAll(ctx context.Context) error {
	m.mu.Lock()
	resources := make([]*Resource, 0, len(m.current))

	for kind, res := range m.current {
		resources = append(resources, res)
		delete(m.current, kind)
	}
	m.mu.Unlock()

	var errs []error

	for _, res := range resources {
		errs = append(errs, m.release(ctx, res))
	}

	return errors.Join(errs...)
}

func (m *Manager) fromBinary(ctx context.Context, kind core.Kind, body []byte, contentType string) (*Resource, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty audio payload", tts.ErrDecode)
	}

	if contentType == "" {
		contentType = contentTypeMPEG
	}

	key := uuid.NewString() + keyExtension

	err := m.store.Upload(ctx, key, body)
	if err != nil {
		return nil, fmt.Errorf("failed to store audio for %s flow: %w", kind, err)
	}

	sourceURL := m.urlPrefix + "/" + key

	return &Resource{
		Key:          key,
		Kind:         kind,
		SourceURL:    sourceURL,
		DownloadName: kind.DownloadName(),
		DownloadURL:  sourceURL + "?download=1&name=" + url.QueryEscape(kind.DownloadName()),
		ContentType:  contentType,
		Size:         len(body),
		SizeLabel:    FormatSize(int64(len(body))),
	}, nil
}

func (m *Manager) fromEmbedded(kind core.Kind, body []byte) (*Resource, error) {
	decoded, contentType, err := Decode(body, tts.EncodingEmbedded, "", m.embeddedPaths)
	if err != nil {
		return nil, err
	}

	uri := EncodeDataURI(contentType, decoded)

	return &Resource{
		Kind:         kind,
		SourceURL:    uri,
		DownloadName: kind.DownloadName(),
		DownloadURL:  uri,
		ContentType:  contentType,
		Size:         len(decoded),
		SizeLabel:    FormatSize(int64(len(decoded))),
	}, nil
}

// Decode returns the audio bytes of a response body and their content type.
// Embedded responses are searched along paths for a base64 field.
func Decode(body []byte, encoding tts.Encoding, contentType string, paths []string) ([]byte, string, error) {
	if encoding != tts.EncodingEmbedded {
		if len(body) == 0 {
			return nil, "", fmt.Errorf("%w: empty audio payload", tts.ErrDecode)
		}

		if contentType == "" {
			contentType = contentTypeMPEG
		}

		return body, contentType, nil
	}

	encoded, err := locateEmbedded(body, paths)
	if err != nil {
		return nil, "", err
	}

	return decodeEmbedded(encoded)
}

func locateEmbedded(body []byte, paths []string) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("%w: response is not valid JSON", tts.ErrDecode)
	}

	for _, path := range paths {
		result := gjson.GetBytes(body, path)
		if result.Type == gjson.String && result.Str != "" {
			return result.Str, nil
		}
	}

	return "", fmt.Errorf("%w: no audio field found (searched %s)",
		tts.ErrDecode, strings.Join(paths, ", "))
}

func (m *Manager) release(ctx context.Context, res *Resource) error {
	if res == nil || res.Key == "" {
		return nil
	}

	err := m.store.Delete(ctx, res.Key)
	if err != nil && !errors.Is(err, core.ErrObjectNotFound) {
		return fmt.Errorf("failed to release audio %s: %w", res.Key, err)
	}

	return nil
}

// decodeEmbedded accepts plain base64 (standard, URL-safe, padded or not) or
// a data URI and returns the decoded bytes with their content type.
func decodeEmbedded(value string) ([]byte, string, error) {
	contentType := contentTypeMPEG
	payload := strings.TrimSpace(value)

	if strings.HasPrefix(payload, dataURIPrefix) {
		declared, data, err := splitDataURI(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", tts.ErrDecode, err)
		}

		if strings.HasPrefix(declared, "audio/") {
			contentType = declared
		}

		payload = data
	}

	for _, encoding := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		decoded, err := encoding.DecodeString(payload)
		if err == nil && len(decoded) > 0 {
			return decoded, contentType, nil
		}
	}

	return nil, "", fmt.Errorf("%w: audio field is not valid base64", tts.ErrDecode)
}

// EncodeDataURI wraps data as a base64 data URI.
func EncodeDataURI(contentType string, data []byte) string {
	return dataURIPrefix + contentType + base64Marker + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI returns the content type and bytes of a base64 data URI.
func DecodeDataURI(uri string) (string, []byte, error) {
	contentType, payload, err := splitDataURI(uri)
	if err != nil {
		return "", nil, err
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrNotDataURI, err)
	}

	return contentType, data, nil
}

func splitDataURI(uri string) (string, string, error) {
	if !strings.HasPrefix(uri, dataURIPrefix) {
		return "", "", ErrNotDataURI
	}

	header, payload, found := strings.Cut(strings.TrimPrefix(uri, dataURIPrefix), ",")
	if !found || !strings.HasSuffix(header, ";base64") {
		return "", "", ErrNotDataURI
	}

	return strings.TrimSuffix(header, ";base64"), payload, nil
}
