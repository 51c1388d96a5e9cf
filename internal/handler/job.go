package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	log "github.com/schollz/logger"

	"github.com/bandbridge/audio/internal/audio"
	"github.com/bandbridge/audio/internal/middleware"
	"github.com/bandbridge/audio/internal/model"
	"github.com/bandbridge/audio/internal/service"
	"github.com/bandbridge/audio/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/jobs
func (h *JobHandler) Start(c *fiber.Ctx) error {
	fh, err := formAudio(c)
	if err != nil {
		return uploadError(c, err)
	}
	if !audio.IsSupported(fh.Filename) {
		return response.UnsupportedAudio(c, "Unsupported file type")
	}

	req := model.JobStartRequest{Analyses: parseAnalyses(c.FormValue("analyses"))}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	f, err := fh.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	result, err := h.service.StartJob(c.UserContext(), fh.Filename, f, req.Analyses)
	if err != nil {
		log.Errorf("start job for %s: %v", fh.Filename, err)
		return response.ServiceError(c, err.Error())
	}

	log.Infof("job %s queued for %s (user %q)", result.JobID, fh.Filename, middleware.GetUserID(c))
	return response.Accepted(c, result)
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Result handles GET /api/jobs/:jobId/result
func (h *JobHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetResult(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, service.ErrJobNotCompleted) {
			return response.ValidationError(c, "Job not completed yet", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// parseAnalyses splits a comma separated list, dropping blanks and
// duplicates while keeping order.
func parseAnalyses(s string) []model.AnalysisKind {
	var out []model.AnalysisKind
	seen := make(map[model.AnalysisKind]bool)
	for _, part := range strings.Split(s, ",") {
		k := model.AnalysisKind(strings.ToLower(strings.TrimSpace(part)))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
