// Package httpapi exposes the agent's control surface as a local JSON API.
// It is the process boundary: auth, group, monitor, and alert operations
// all go through here.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rikseotools/vence-sub014/internal/auth"
	"github.com/rikseotools/vence-sub014/internal/config"
	"github.com/rikseotools/vence-sub014/internal/conn"
	"github.com/rikseotools/vence-sub014/internal/directory"
	"github.com/rikseotools/vence-sub014/internal/dispatch"
	"github.com/rikseotools/vence-sub014/internal/monitor"
	"github.com/rikseotools/vence-sub014/internal/status"
	"github.com/rikseotools/vence-sub014/internal/store"
	"go.uber.org/zap"
)

// Server is the local HTTP control API.
type Server struct {
	flow    *auth.Flow
	cm      *conn.Manager
	machine *status.Machine
	dir     *directory.Directory
	mon     *monitor.Monitor
	disp    *dispatch.Dispatcher
	db      *store.DB
	cfg     *config.Config
	logger  *zap.Logger

	srv *http.Server
}

// Params collects the server's collaborators.
type Params struct {
	Flow       *auth.Flow
	Conns      *conn.Manager
	Machine    *status.Machine
	Directory  *directory.Directory
	Monitor    *monitor.Monitor
	Dispatcher *dispatch.Dispatcher
	DB         *store.DB
	Config     *config.Config
	Logger     *zap.Logger
}

// New builds the server and its router.
func New(p Params) *Server {
	s := &Server{
		flow:    p.Flow,
		cm:      p.Conns,
		machine: p.Machine,
		dir:     p.Directory,
		mon:     p.Monitor,
		disp:    p.Dispatcher,
		db:      p.DB,
		cfg:     p.Config,
		logger:  p.Logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s.registerRoutes(router)

	s.srv = &http.Server{
		Addr:    p.Config.HTTPAddr,
		Handler: router,
	}
	return s
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start begins serving in the background. Listen errors other than a
// clean shutdown are logged, not returned: the API is an auxiliary
// surface and must not take the agent down.
func (s *Server) Start() {
	go func() {
		s.logger.Info("control api listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control api", zap.Error(err))
		}
	}()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// opCtx derives the per-request operation context with the configured
// protocol timeout.
func (s *Server) opCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	timeout := s.cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}
