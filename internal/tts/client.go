// Package tts provides the clients for the external speech backend: the
// voice catalog and the text and image synthesis endpoints.
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// API endpoints and paths.
const (
	apiVoices        = "/get-available-voices"
	apiTextToSpeech  = "/text-to-speech-with-edge"
	apiImageToSpeech = "/image-to-speech"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeMPEG   = "audio/mpeg"
	contentTypeBinary = "application/octet-stream"
)

// maxErrorBody bounds how much of a failed response is read for its detail.
const maxErrorBody = 64 << 10

// Encoding tells the audio manager how a successful response carries audio.
type Encoding int

const (
	// EncodingBinary is a raw audio payload.
	EncodingBinary Encoding = iota
	// EncodingEmbedded is a JSON document with base64 audio in one of its fields.
	EncodingEmbedded
)

func (e Encoding) String() string {
	if e == EncodingEmbedded {
		return "embedded"
	}

	return "binary"
}

// Response is a successful backend answer awaiting materialization.
type Response struct {
	Body        []byte
	ContentType string
	Encoding    Encoding
}

// Image is the payload of an image-to-speech request.
type Image struct {
	Data     []byte
	Name     string
	MimeType string
}

// HTTPClient talks to the speech backend. It keeps no state between calls.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

type imagePayload struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type imageRequest struct {
	Image imagePayload `json:"image"`
}

// errorResponse captures the detail fields backends commonly return on failure.
type errorResponse struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// NewHTTPClient creates a client for the backend at baseURL
// (e.g. "https://api.example.com"). The timeout applies to every request.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the backend base URL.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// FetchVoices retrieves the voice list, drops unusable entries and returns
// the voices in backend order. Every failure wraps ErrCatalogUnavailable.
func (c *HTTPClient) FetchVoices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiVoices, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrCatalogUnavailable, err)
	}

	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrCatalogUnavailable, ErrNetwork, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, parseErrorResponse(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %w", ErrCatalogUnavailable, err)
	}

	var payload struct {
		Data *[]Voice `json:"data"`
	}

	err = parseJSON(body, &payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}

	if payload.Data == nil {
		return nil, fmt.Errorf("%w: response has no voice list", ErrCatalogUnavailable)
	}

	return normalizeVoices(*payload.Data), nil
}

// SynthesizeText converts text with the given voice. Blank text or an empty
// voice fails with ErrInvalidInput before any request is made.
func (c *HTTPClient) SynthesizeText(ctx context.Context, text, voiceID string) (*Response, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalidInput("text cannot be empty")
	}

	if strings.TrimSpace(voiceID) == "" {
		return nil, invalidInput("a voice must be selected")
	}

	query := url.Values{}
	query.Set("text", text)
	query.Set("voice", voiceID)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.baseURL+apiTextToSpeech+"?"+query.Encode(),
		http.NoBody,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerAccept, contentTypeMPEG)

	return c.do(req)
}

// SynthesizeImage posts the image as a data URI and returns the spoken
// description. An empty image fails with ErrInvalidInput.
func (c *HTTPClient) SynthesizeImage(ctx context.Context, img Image) (*Response, error) {
	if len(img.Data) == 0 {
		return nil, invalidInput("image cannot be empty")
	}

	mimeType := img.MimeType
	if mimeType == "" {
		mimeType = mimetype.Detect(img.Data).String()
	}

	payload := imageRequest{
		Image: imagePayload{
			URI:  "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
			Name: img.Name,
			Type: mimeType,
		},
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiImageToSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, contentTypeMPEG+", "+contentTypeJSON)

	return c.do(req)
}

func (c *HTTPClient) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request to %s failed: %w", ErrNetwork, c.baseURL, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, parseErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrNetwork, err)
	}

	if len(body) == 0 {
		return nil, fmt.Errorf("%w: received empty audio data", ErrDecode)
	}

	contentType, encoding, err := classify(resp.Header.Get(headerContentType), body)
	if err != nil {
		return nil, err
	}

	return &Response{
		Body:        body,
		ContentType: contentType,
		Encoding:    encoding,
	}, nil
}

// classify decides how the body carries audio, trusting the declared content
// type first and sniffing the bytes when it is missing or generic.
func classify(declared string, body []byte) (string, Encoding, error) {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err == nil {
		switch {
		case strings.HasPrefix(mediaType, "audio/"):
			return mediaType, EncodingBinary, nil
		case mediaType == contentTypeBinary:
			return contentTypeMPEG, EncodingBinary, nil
		case mediaType == contentTypeJSON || strings.HasSuffix(mediaType, "+json"):
			return mediaType, EncodingEmbedded, nil
		}
	}

	detected := mimetype.Detect(body)

	switch {
	case detected.Is(contentTypeJSON):
		return contentTypeJSON, EncodingEmbedded, nil
	case strings.HasPrefix(detected.String(), "audio/"):
		return detected.String(), EncodingBinary, nil
	case detected.Is(contentTypeBinary):
		return contentTypeMPEG, EncodingBinary, nil
	default:
		return "", EncodingBinary, fmt.Errorf(
			"%w: unexpected content type %q", ErrDecode, detected.String(),
		)
	}
}

// parseErrorResponse builds a BackendError, taking the detail from a JSON
// body when present and falling back to the raw text.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errorResp errorResponse

	detail := strings.TrimSpace(string(body))

	if parseJSON(body, &errorResp) == nil {
		for _, candidate := range []string{errorResp.Detail, errorResp.Message, errorResp.Error} {
			if candidate != "" {
				detail = candidate

				break
			}
		}
	}

	return &BackendError{
		StatusCode: resp.StatusCode,
		Detail:     detail,
	}
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

// IsBackendError reports whether err carries a BackendError and returns it.
func IsBackendError(err error) (*BackendError, bool) {
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr, true
	}

	return nil, false
}

func parseJSON(data []byte, target any) error {
	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}
