package web

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/book-expert/tolatu/internal/controller"
	"github.com/book-expert/tolatu/internal/core"
	"github.com/book-expert/tolatu/internal/flow"
	"github.com/book-expert/tolatu/internal/tts"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

const (
	imageField          = "image"
	defaultAudioType    = "audio/mpeg"
	multipartOverhead   = 1 << 20
	msgMalformedRequest = "The request could not be read."
	msgImageTooLarge    = "The image is too large (limit %d bytes)."
	msgBusy             = "A conversion is already in progress."
	msgSessionExpired   = "Your session has expired. Please reload the page."
)

type voiceView struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Name    string `json:"name"`
	Gender  string `json:"gender"`
	Country string `json:"country"`
}

type voicesResponse struct {
	Voices   []voiceView `json:"voices"`
	Selected string      `json:"selected,omitempty"`
	Notice   string      `json:"notice,omitempty"`
}

type selectRequest struct {
	Voice string `json:"voice" binding:"required"`
}

type textRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type pageData struct {
	Voices         []voiceView
	Selected       string
	Notice         string
	MaxImageBytes  int64
	LongInputRunes int
}

func controllerFrom(c *gin.Context) *controller.Controller {
	ctrl, _ := c.MustGet(controllerKey).(*controller.Controller)

	return ctrl
}

func voiceViews(voices []tts.Voice) []voiceView {
	views := make([]voiceView, 0, len(voices))
	for _, v := range voices {
		views = append(views, voiceView{
			ID:      v.ID,
			Label:   v.Label(),
			Name:    v.Name,
			Gender:  v.Gender,
			Country: v.Country,
		})
	}

	return views
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.opts.Sessions.Len()})
}

func (s *Server) handleIndex(c *gin.Context) {
	ctrl := controllerFrom(c)
	snapshot := ctrl.Snapshot()

	c.HTML(http.StatusOK, "index.html", pageData{
		Voices:         voiceViews(ctrl.Voices()),
		Selected:       snapshot.SelectedVoice,
		Notice:         snapshot.Notice,
		MaxImageBytes:  s.opts.MaxImageBytes,
		LongInputRunes: s.opts.LongInputRunes,
	})
}

func (s *Server) handleVoices(c *gin.Context) {
	ctrl := controllerFrom(c)

	// A session whose catalog failed retries on the next listing.
	if ctrl.Notice() != "" {
		ctrl.LoadVoices(c.Request.Context())
	}

	snapshot := ctrl.Snapshot()

	c.JSON(http.StatusOK, voicesResponse{
		Voices:   voiceViews(ctrl.Voices()),
		Selected: snapshot.SelectedVoice,
		Notice:   snapshot.Notice,
	})
}

func (s *Server) handleSelectVoice(c *gin.Context) {
	var req selectRequest

	err := c.ShouldBindJSON(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: msgMalformedRequest})

		return
	}

	err = controllerFrom(c).SelectVoice(req.Voice)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "The selected voice is not available."})

		return
	}

	c.JSON(http.StatusOK, gin.H{"selected": req.Voice})
}

func (s *Server) handleTextToSpeech(c *gin.Context) {
	var req textRequest

	err := c.ShouldBindJSON(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: msgMalformedRequest})

		return
	}

	view, err := controllerFrom(c).SubmitText(c.Request.Context(), req.Text, req.Voice)
	respondView(c, view, err)
}

func (s *Server) handleImageToSpeech(c *gin.Context) {
	limit := s.opts.MaxImageBytes
	if limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	}

	img, err := s.readImage(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, errImageTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: fmt.Sprintf(msgImageTooLarge, limit)})

			return
		}

		c.JSON(http.StatusBadRequest, errorResponse{Error: msgMalformedRequest})

		return
	}

	view, err := controllerFrom(c).SubmitImage(c.Request.Context(), img)
	respondView(c, view, err)
}

var errImageTooLarge = errors.New("image too large")

// readImage returns an empty image when the field is absent so the
// controller can report the missing selection.
func (s *Server) readImage(c *gin.Context) (tts.Image, error) {
	header, err := c.FormFile(imageField)
	if errors.Is(err, http.ErrMissingFile) {
		return tts.Image{}, nil
	}

	if err != nil {
		return tts.Image{}, fmt.Errorf("failed to read upload: %w", err)
	}

	if s.opts.MaxImageBytes > 0 && header.Size > s.opts.MaxImageBytes {
		return tts.Image{}, errImageTooLarge
	}

	data, err := readPart(header)
	if err != nil {
		return tts.Image{}, err
	}

	return tts.Image{
		Data:     data,
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
	}, nil
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}

	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	return data, nil
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, controllerFrom(c).Snapshot())
}

func (s *Server) handleAudio(c *gin.Context) {
	key := c.Param("key")

	// Playing audio counts as activity so open pages keep their players.
	if id, err := c.Cookie(sessionCookie); err == nil {
		s.opts.Sessions.Lookup(id)
	}

	data, err := s.opts.Store.Download(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			c.Status(http.StatusNotFound)

			return
		}

		s.log.Error("Failed to load audio %s: %v", key, err)
		c.Status(http.StatusInternalServerError)

		return
	}

	contentType := mimetype.Detect(data).String()
	if !strings.HasPrefix(contentType, "audio/") {
		contentType = defaultAudioType
	}

	if c.Query("download") != "" {
		name := c.DefaultQuery("name", key)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}

	c.Data(http.StatusOK, contentType, data)
}

func respondView(c *gin.Context, view flow.View, err error) {
	if errors.Is(err, flow.ErrBusy) {
		view.Message = msgBusy
		c.JSON(http.StatusConflict, view)

		return
	}

	c.JSON(http.StatusOK, view)
}
