package router

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/bandbridge/audio/internal/config"
	"github.com/bandbridge/audio/internal/handler"
	"github.com/bandbridge/audio/internal/middleware"
	"github.com/bandbridge/audio/internal/service"
	ws "github.com/bandbridge/audio/internal/websocket"
	"github.com/bandbridge/audio/pkg/response"
)

// Banner is the body of GET /.
const Banner = "Librosa, MADMOM, and Aubio API"

// Deps are the components the routes are wired to. Jobs and Hub may be nil,
// which leaves the job and websocket routes out. A nil Auth serves /api
// without authentication.
type Deps struct {
	Config   *config.Config
	Analysis *service.AnalysisService
	Jobs     *service.JobService
	Hub      *ws.Hub
	Redis    *redis.Client
	Auth     fiber.Handler
	Validate *validator.Validate
}

// New builds the fiber app with middleware and routes.
func New(d Deps) *fiber.App {
	cfg := d.Config
	if d.Validate == nil {
		d.Validate = validator.New()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          response.ErrorHandler,
		BodyLimit:             cfg.BodyLimit(),
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(Banner)
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		storage := "local"
		if cfg.Storage.S3Configured() {
			storage = "s3"
		}
		return c.JSON(fiber.Map{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
			"services": fiber.Map{
				"redis":   d.Redis != nil,
				"jobs":    d.Jobs != nil,
				"storage": storage,
				"auth":    cfg.Auth.Enabled,
			},
		})
	})

	rateLimiter := middleware.NewRateLimiter(d.Redis)
	analysisLimit := rateLimiter.AnalysisLimit(cfg.RateLimit.AnalysisPerMin)

	analysis := handler.NewAnalysisHandler(d.Analysis, cfg.Audio.TempDir)
	scale := handler.NewScaleHandler(d.Analysis, d.Validate)

	librosa := app.Group("/librosa", analysisLimit)
	librosa.Post("/tempo", analysis.Tempo)
	librosa.Post("/key", analysis.Key)
	librosa.Post("/chroma", analysis.Chroma)

	app.Post("/madmom/beats", analysisLimit, analysis.Beats)
	app.Post("/aubio/tempo", analysisLimit, analysis.BeatTempo)
	app.Post("/sox/tempo", analysisLimit, analysis.LoopTempo)
	app.Post("/metadata", analysisLimit, analysis.Metadata)
	app.Post("/scale/chords", scale.Chords)

	if d.Jobs != nil {
		apiHandlers := []fiber.Handler{}
		if d.Auth != nil {
			apiHandlers = append(apiHandlers, d.Auth)
		}
		api := app.Group("/api", apiHandlers...)

		jobs := handler.NewJobHandler(d.Jobs, d.Validate)
		api.Post("/jobs", rateLimiter.JobsLimit(cfg.RateLimit.JobsPerHour), jobs.Start)
		api.Get("/jobs/:jobId", jobs.Status)
		api.Get("/jobs/:jobId/result", jobs.Result)
	}

	if d.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})

		hub := d.Hub
		app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
			hub.HandleConnection(c, c.Params("jobId"))
		}))
	}

	return app
}
