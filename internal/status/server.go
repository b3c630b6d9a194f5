// Package status exposes the engine's snapshot and control surface over HTTP
// and pushes snapshots to websocket clients.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"signalbot/internal/config"
	"signalbot/internal/engine"
	"signalbot/internal/logger"
	"signalbot/internal/models"
	"signalbot/internal/news"
	"slices"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Controller is the part of the engine the API drives.
type Controller interface {
	Config() config.EngineConfig
	ApplyConfig(p config.EnginePatch) error
	Stop()
	State() engine.State
}

type NewsSource interface {
	NextEvent(ctx context.Context, now time.Time) (news.Event, bool)
}

var _ engine.StatusSink = (*Server)(nil)

type Server struct {
	cfg        config.StatusConfig
	news       NewsSource
	log        *logger.Logger
	router     *gin.Engine
	hub        *Hub
	auth       *Auth
	httpServer *http.Server

	mu     sync.RWMutex
	ctrl   Controller
	latest *models.StatusSnapshot
	dirty  bool
}

func NewServer(cfg config.StatusConfig, newsSource NewsSource, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = time.Second
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.CorsOrigins) == 0 || slices.Contains(cfg.CorsOrigins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CorsOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:    cfg,
		news:   newsSource,
		log:    log,
		router: router,
		hub:    NewHub(log),
		auth:   NewAuth(cfg),
	}
	if !s.auth.Enabled() {
		s.logEntry().Warn("Пароль статус-сервера не задан, API доступен только для /health.")
	}
	router.Use(s.requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) logEntry() *logrus.Entry {
	return s.log.WithComponent("status")
}

// Bind attaches the engine. Control routes answer 503 until it is set.
func (s *Server) Bind(ctrl Controller) {
	s.mu.Lock()
	s.ctrl = ctrl
	s.mu.Unlock()
}

func (s *Server) controller() Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctrl
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Publish stores the snapshot; the push loop delivers it to websocket
// clients on its own cadence.
func (s *Server) Publish(snapshot models.StatusSnapshot) {
	s.mu.Lock()
	s.latest = &snapshot
	s.dirty = true
	s.mu.Unlock()
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.router.POST("/api/login", s.handleLogin)

	api := s.router.Group("/api", s.auth.middleware())
	api.GET("/status", s.handleStatus)
	api.GET("/config", s.handleGetConfig)
	api.POST("/config", s.handleApplyConfig)
	api.POST("/stop", s.handleStop)
	api.GET("/news/next", s.handleNextEvent)

	s.router.GET("/ws", s.auth.middleware(), s.handleWebSocket)
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("некорректный JSON: %v", err)})
		return
	}
	token, err := s.auth.Login(c.ClientIP(), req.Password)
	switch {
	case errors.Is(err, ErrAuthDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ErrTooManyLogins):
		s.logEntry().WithField("remote", c.ClientIP()).Warn("Подбор пароля заблокирован.")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.logEntry().WithField("remote", c.ClientIP()).Warn("Неудачная попытка входа.")
		unauthorized(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "token_type": "Bearer"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logEntry().WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"code":    c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("HTTP запрос.")
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest != nil {
		c.JSON(http.StatusOK, latest)
		return
	}
	snap := models.StatusSnapshot{Time: time.Now()}
	if ctrl := s.controller(); ctrl != nil {
		snap.State = string(ctrl.State())
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleGetConfig(c *gin.Context) {
	ctrl := s.controller()
	if ctrl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "движок не запущен"})
		return
	}
	c.JSON(http.StatusOK, ctrl.Config())
}

func (s *Server) handleApplyConfig(c *gin.Context) {
	ctrl := s.controller()
	if ctrl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "движок не запущен"})
		return
	}
	var patch config.EnginePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("некорректный JSON: %v", err)})
		return
	}
	if err := ctrl.ApplyConfig(patch); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, config.ErrInvalid) {
			code = http.StatusBadRequest
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	s.logEntry().WithField("remote", c.ClientIP()).Info("Конфигурация изменена через API.")
	c.JSON(http.StatusOK, ctrl.Config())
}

func (s *Server) handleStop(c *gin.Context) {
	ctrl := s.controller()
	if ctrl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "движок не запущен"})
		return
	}
	ctrl.Stop()
	s.logEntry().WithField("remote", c.ClientIP()).Warn("Запрошена остановка через API.")
	c.JSON(http.StatusAccepted, gin.H{"state": ctrl.State()})
}

func (s *Server) handleNextEvent(c *gin.Context) {
	if s.news == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "новостной календарь не настроен"})
		return
	}
	ev, ok := s.news.NextEvent(c.Request.Context(), time.Now())
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()

	var initial []byte
	if latest != nil {
		if data, err := json.Marshal(latest); err == nil {
			initial = data
		}
	}
	s.hub.Serve(c.Writer, c.Request, initial)
}

// pushLoop broadcasts the latest snapshot at most once per push interval and
// only when a new one has been published.
func (s *Server) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.push()
		}
	}
}

func (s *Server) push() {
	s.mu.Lock()
	if !s.dirty || s.latest == nil {
		s.mu.Unlock()
		return
	}
	s.dirty = false
	snap := *s.latest
	s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		s.logEntry().WithError(err).Warn("Не удалось сериализовать статус.")
		return
	}
	s.hub.Broadcast(data)
}

// Run serves HTTP on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go s.pushLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logEntry().WithField("listen", s.cfg.Listen).Info("Статус-сервер запущен.")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("Статус-сервер: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("Статус-сервер: %w", err)
	}
	s.logEntry().Info("Статус-сервер остановлен.")
	return nil
}
