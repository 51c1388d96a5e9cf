package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	log "github.com/schollz/logger"

	"github.com/bandbridge/audio/internal/audio"
	"github.com/bandbridge/audio/internal/service"
	"github.com/bandbridge/audio/pkg/response"
)

type AnalysisHandler struct {
	service *service.AnalysisService
	tempDir string
}

func NewAnalysisHandler(svc *service.AnalysisService, tempDir string) *AnalysisHandler {
	return &AnalysisHandler{
		service: svc,
		tempDir: tempDir,
	}
}

// Tempo handles POST /librosa/tempo
func (h *AnalysisHandler) Tempo(c *fiber.Ctx) error {
	return withUpload(c, h.tempDir, func(path string) (interface{}, error) {
		return h.service.Tempo(c.UserContext(), path)
	})
}

// Key handles POST /librosa/key
func (h *AnalysisHandler) Key(c *fiber.Ctx) error {
	return withUpload(c, h.tempDir, func(path string) (interface{}, error) {
		return h.service.Key(c.UserContext(), path)
	})
}

// Chroma handles POST /librosa/chroma
func (h *AnalysisHandler) Chroma(c *fiber.Ctx) error {
	return withUpload(c, h.tempDir, func(path string) (interface{}, error) {
		return h.service.Chroma(c.UserContext(), path)
	})
}

// Beats handles POST /madmom/beats
func (h *AnalysisHandler) Beats(c *fiber.Ctx) error {
	return withUpload(c, h.tempDir, func(path string) (interface{}, error) {
		return h.service.Beats(c.UserContext(), path)
	})
}

// BeatTempo handles POST /aubio/tempo
func (h *AnalysisHandler) BeatTempo(c *fiber.Ctx) error {
	return withUpload(c, h.tempDir, func(path string) (interface{}, error) {
		return h.service.BeatTempo(c.UserContext(), path)
	})
}

// LoopTempo handles POST /sox/tempo
func (h *AnalysisHandler) LoopTempo(c *fiber.Ctx) error {
	return withUpload(c, h.tempDir, func(path string) (interface{}, error) {
		return h.service.LoopTempo(c.UserContext(), path)
	})
}

// Metadata handles POST /metadata
func (h *AnalysisHandler) Metadata(c *fiber.Ctx) error {
	return withUpload(c, h.tempDir, func(path string) (interface{}, error) {
		return h.service.Metadata(c.UserContext(), path)
	})
}

// analysisError maps analysis failures to responses: audio that cannot be
// decoded or carries no rhythm is the client's problem, anything else is ours.
func analysisError(c *fiber.Ctx, filename string, err error) error {
	switch {
	case errors.Is(err, audio.ErrUnsupportedFormat),
		errors.Is(err, audio.ErrDecode),
		errors.Is(err, audio.ErrEmptyAudio),
		errors.Is(err, service.ErrNoTempo):
		log.Debugf("%s: %v", filename, err)
		return response.UnsupportedAudio(c, err.Error())
	}
	log.Errorf("%s: %v", filename, err)
	return response.ServiceError(c, err.Error())
}
