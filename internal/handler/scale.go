package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/bandbridge/audio/internal/model"
	"github.com/bandbridge/audio/internal/service"
	"github.com/bandbridge/audio/internal/theory"
	"github.com/bandbridge/audio/pkg/response"
)

type ScaleHandler struct {
	service   *service.AnalysisService
	validator *validator.Validate
}

func NewScaleHandler(svc *service.AnalysisService, v *validator.Validate) *ScaleHandler {
	return &ScaleHandler{
		service:   svc,
		validator: v,
	}
}

// Chords handles POST /scale/chords
func (h *ScaleHandler) Chords(c *fiber.Ctx) error {
	var req model.ChordsRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Chords(&req)
	if err != nil {
		if errors.Is(err, theory.ErrInvalidKey) || errors.Is(err, theory.ErrInvalidMode) {
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Namespace()] = e.Tag()
		}
		return fields
	}
	return nil
}
