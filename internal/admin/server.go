package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/tictacd/internal/history"
	"github.com/danmuck/tictacd/internal/match"
	"github.com/danmuck/tictacd/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

var ErrHistoryDisabled = errors.New("admin: history disabled")

// Sessions is the read side of the match server.
type Sessions interface {
	Sessions() []match.SessionInfo
	Capacity() int
	Serving() bool
	Uptime() time.Duration
}

type History interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

type Config struct {
	ListenAddr  string   `toml:"listen_addr" yaml:"listen_addr"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
}

func DefaultConfig() Config {
	return Config{ListenAddr: ":8080"}
}

type Server struct {
	cfg      Config
	sessions Sessions
	history  History
	hub      *Hub
	router   *gin.Engine
}

// New builds the router. hist and hub may be nil; their routes then answer
// 503 and 404 respectively.
func New(cfg Config, sessions Sessions, hist History, hub *Hub) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		history:  hist,
		hub:      hub,
		router:   r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  s.sessions.Uptime().String(),
			"version": version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.sessions.Serving()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  s.sessions.Uptime().String(),
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/sessions", func(c *gin.Context) {
		list := s.sessions.Sessions()
		c.JSON(http.StatusOK, gin.H{
			"capacity": s.sessions.Capacity(),
			"active":   len(list),
			"sessions": list,
		})
	})

	s.router.GET("/history", func(c *gin.Context) {
		if s.history == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": ErrHistoryDisabled.Error()})
			return
		}
		limit := history.DefaultLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		entries, err := s.history.Recent(c.Request.Context(), limit)
		if err != nil {
			log.Error().Err(err).Msg("history query failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": entries})
	})

	if s.hub != nil {
		s.router.GET("/watch", gin.WrapF(s.hub.ServeWS))
	}
}

// Run serves until ctx is cancelled, then shuts the HTTP server down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("admin api listening")

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if s.hub != nil {
		s.hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
