package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/stylebot/internal/logging"
	"github.com/hrygo/stylebot/internal/profile"
	apiv1 "github.com/hrygo/stylebot/server/router/api/v1"
	"github.com/hrygo/stylebot/store"
)

const requestTimeout = 60 * time.Second

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	components *components

	runnerCancelFuncs []context.CancelFunc
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	s := &Server{
		Store:   store,
		Profile: profile,
	}

	c, err := newComponents(profile, store)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build components")
	}
	s.components = c

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: shortuuid.New,
	}))
	echoServer.Use(requestLogger)
	echoServer.Use(middleware.ContextTimeout(requestTimeout))
	s.echoServer = echoServer

	// Register healthz endpoint.
	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})
	echoServer.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))

	apiV1Service := &apiv1.APIV1Service{
		Profile:       profile,
		Chat:          c.chat,
		Conversations: c.conversations,
		Preferences:   c.profiles,
		Cache:         c.cache,
		Ingestor:      c.ingestor,
		Vectors:       c.vectors,
	}
	apiV1Service.RegisterRoutes(echoServer)

	go c.warmup(ctx)
	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	s.echoServer.Listener = listener

	s.StartBackgroundRunners(ctx)

	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}

	// Drain queued catalog jobs while the runner context is still live.
	s.components.close()
	for _, cancelFunc := range s.runnerCancelFuncs {
		if cancelFunc != nil {
			cancelFunc()
		}
	}

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", slog.String("error", err.Error()))
	}

	slog.Info("stylebot stopped properly")
}

func (s *Server) StartBackgroundRunners(ctx context.Context) {
	runnerCtx, cancel := context.WithCancel(ctx)
	s.runnerCancelFuncs = append(s.runnerCancelFuncs, cancel)

	s.components.ingestor.Start(runnerCtx)
	slog.Info("vector ingestor started")
}

// requestLogger attaches a logger tagged with the request id to the request
// context.
func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		logger := slog.Default().With("request_id", c.Response().Header().Get(echo.HeaderXRequestID))
		c.SetRequest(req.WithContext(logging.ToContext(req.Context(), logger)))

		start := time.Now()
		err := next(c)
		logger.Debug("http request",
			"method", req.Method,
			"path", c.Path(),
			"latency_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return err
	}
}

// Handler exposes the echo router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}
