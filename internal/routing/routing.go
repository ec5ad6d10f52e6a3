package routing

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/config"
	"github.com/chiweic/rag-08122025/internal/handlers"
	ai "github.com/chiweic/rag-08122025/internal/handlers/ai"
	"github.com/chiweic/rag-08122025/internal/logger"
	"github.com/chiweic/rag-08122025/internal/metrics"
)

// unlimited - Probes and scrapes are never rate limited.
func unlimited(c echo.Context) bool {
	switch c.Path() {
	case "/health", "/metrics":
		return true
	}
	return false
}

// InitMiddleware - Recover, CORS, access logging into zerolog, request metrics and a per client rate limit.
func InitMiddleware(e *echo.Echo, cfg config.ServerConfig, m *metrics.Metrics, log zerolog.Logger) {
	e.HideBanner = true // why is it even false by default
	e.HidePort = true
	access := logger.Component(log, "http")

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{echo.GET, echo.POST, echo.OPTIONS},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := access.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = access.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	}))
	e.Use(requestMetrics(m))
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: unlimited,
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     max(int(cfg.RateLimit), 1),
				ExpiresIn: 3 * time.Minute,
			}),
			DenyHandler: func(c echo.Context, _ string, _ error) error {
				return c.JSON(http.StatusTooManyRequests, handlers.ReturnType{
					Message: fmt.Sprintf("%g msgs/s rate-limit reached of server.", cfg.RateLimit),
					Kind:    apperr.InvalidRequest,
				})
			},
		}))
	}
}

func requestMetrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}
			route := c.Path()
			m.Requests.WithLabelValues(route, c.Request().Method, strconv.Itoa(status)).Inc()
			m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func InitRoutes(e *echo.Echo, handler *handlers.Handler, chat *ai.AIHandler, m *metrics.Metrics) {
	e.POST("/initialize", handler.PostInitializeHandler)
	e.GET("/health", handler.GetHealthHandler)
	e.GET("/statistics", handler.GetStatisticsHandler)
	e.GET("/config", handler.GetConfigHandler)
	e.POST("/update_config", handler.PostUpdateConfigHandler)
	e.GET("/chunk/:id", handler.GetChunkHandler)
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	e.POST("/query", handler.PostQueryHandler)
	e.POST("/query/stream", handler.PostQueryStreamHandler)
	e.GET("/query/history", handler.GetHistoryHandler)
	e.POST("/retrieve", handler.PostRetrieveHandler)
	e.POST("/synthesize", handler.PostSynthesizeHandler)
	e.POST("/summarize", handler.PostSummarizeHandler)
	e.POST("/translate", handler.PostTranslateHandler)
	e.POST("/recommend", handler.PostRecommendHandler)

	books := e.Group("/books")
	books.POST("/recommend", handler.PostBooksRecommendHandler)
	books.GET("/random/:count", handler.GetRandomBooksHandler)
	books.GET("/:isbn", handler.GetBookHandler)

	events := e.Group("/events")
	events.POST("/recommend", handler.PostEventsRecommendHandler)
	events.GET("/upcoming", handler.GetUpcomingEventsHandler)
	events.GET("/:id", handler.GetEventHandler)

	audio := e.Group("/audio")
	audio.POST("/recommend", handler.PostAudioRecommendHandler)
	audio.GET("/:id", handler.GetAudioHandler)

	queries := e.Group("/queries")
	queries.POST("/related", handler.PostRelatedQueriesHandler)
	queries.GET("/popular", handler.GetPopularQueriesHandler)

	quiz := e.Group("/quiz")
	quiz.POST("/generate", handler.PostQuizGenerateHandler)
	quiz.POST("/evaluate", handler.PostQuizEvaluateHandler)

	v1 := e.Group("/v1")
	v1.GET("/models", chat.GetModelsHandler)
	v1.POST("/chat/completions", chat.PostChatCompletionsHandler)
}
