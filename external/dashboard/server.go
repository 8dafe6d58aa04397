// Package dashboard serves the control API used by the web dashboard.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/foxseedlab/kuchiguse/internal/bot"
	"github.com/foxseedlab/kuchiguse/internal/logstream"
	"github.com/foxseedlab/kuchiguse/internal/repository"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/skip2/go-qrcode"
)

const qrImageSize = 256

type BotService interface {
	Initialize(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ClearSession(ctx context.Context) error
	ConnectionStatus() bot.Status
}

type Server struct {
	svc      BotService
	repo     repository.Repository
	hub      *logstream.Hub
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

func NewServer(svc BotService, repo repository.Repository, hub *logstream.Hub, corsOrigins []string, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		svc:  svc,
		repo: repo,
		hub:  hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return allowedOrigin(r, corsOrigins)
			},
		},
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	if len(corsOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     corsOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/health", s.health)

	botRoutes := router.Group("/api/bot")
	{
		botRoutes.POST("/start", s.start)
		botRoutes.POST("/stop", s.stop)
		botRoutes.POST("/clear-session", s.clearSession)
		botRoutes.GET("/status", s.status)
		botRoutes.GET("/qr.png", s.qrImage)
		botRoutes.PUT("/settings", s.updateSettings)
	}

	learningRoutes := router.Group("/api/learning")
	{
		learningRoutes.GET("", s.learning)
		learningRoutes.POST("/reset", s.resetLearning)
	}

	logRoutes := router.Group("/api/logs")
	{
		logRoutes.GET("/stream", s.streamLogs)
		logRoutes.GET("/ws", s.websocketLogs)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
	})

	s.engine = router
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

func (s *Server) start(c *gin.Context) {
	slog.Info("starting bot via api")
	if err := s.svc.Initialize(c.Request.Context()); err != nil {
		slog.Error("failed to start bot via api", "error", err)
		c.JSON(http.StatusInternalServerError, actionResponse{Success: false, Message: "Erro ao iniciar o bot"})
		return
	}
	c.JSON(http.StatusOK, actionResponse{Success: true, Message: "Bot iniciado com sucesso"})
}

func (s *Server) stop(c *gin.Context) {
	slog.Info("stopping bot via api")
	if err := s.svc.Disconnect(c.Request.Context()); err != nil {
		slog.Error("failed to stop bot via api", "error", err)
		c.JSON(http.StatusInternalServerError, actionResponse{Success: false, Message: "Erro ao parar o bot"})
		return
	}
	c.JSON(http.StatusOK, actionResponse{Success: true, Message: "Bot parado com sucesso"})
}

func (s *Server) clearSession(c *gin.Context) {
	slog.Info("clearing session via api")
	if err := s.svc.ClearSession(c.Request.Context()); err != nil {
		slog.Error("failed to clear session via api", "error", err)
		c.JSON(http.StatusInternalServerError, actionResponse{Success: false, Message: "Erro ao limpar sessão"})
		return
	}
	c.JSON(http.StatusOK, actionResponse{Success: true, Message: "Sessão limpa com sucesso"})
}

func (s *Server) status(c *gin.Context) {
	cfg, err := s.repo.GetBotConfig(c.Request.Context())
	if err != nil {
		slog.Error("failed to load bot status", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": repository.BotStatusError})
		return
	}
	st := s.svc.ConnectionStatus()
	c.JSON(http.StatusOK, statusResponse{
		Status:          cfg.Status,
		QRCode:          cfg.QRCode,
		CurrentUser:     toUserResponse(st.CurrentUser),
		IsConnected:     st.IsConnected,
		LearningEnabled: cfg.LearningEnabled,
		AudioEnabled:    cfg.AudioEnabled,
		ModelName:       cfg.ModelName,
	})
}

func (s *Server) qrImage(c *gin.Context) {
	cfg, err := s.repo.GetBotConfig(c.Request.Context())
	if err != nil {
		slog.Error("failed to load bot status", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load bot status"})
		return
	}
	if cfg.QRCode == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending qr code"})
		return
	}
	png, err := qrcode.Encode(cfg.QRCode, qrcode.Medium, qrImageSize)
	if err != nil {
		slog.Error("failed to render qr code", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render qr code"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) updateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings: " + err.Error()})
		return
	}
	ctx := c.Request.Context()
	cfg, err := s.repo.GetBotConfig(ctx)
	if err != nil {
		slog.Error("failed to load bot config", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load settings"})
		return
	}
	learningEnabled := lo.FromPtrOr(req.LearningEnabled, cfg.LearningEnabled)
	audioEnabled := lo.FromPtrOr(req.AudioEnabled, cfg.AudioEnabled)
	if err := s.repo.SetBotFlags(ctx, learningEnabled, audioEnabled); err != nil {
		slog.Error("failed to update bot settings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
		return
	}
	slog.Info("bot settings updated", "learning_enabled", learningEnabled, "audio_enabled", audioEnabled)
	c.JSON(http.StatusOK, settingsResponse{LearningEnabled: learningEnabled, AudioEnabled: audioEnabled})
}

func (s *Server) learning(c *gin.Context) {
	user := s.svc.ConnectionStatus().CurrentUser
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no connected user"})
		return
	}
	profile, err := s.repo.GetUserLearningData(c.Request.Context(), user.ID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no learning data"})
		return
	}
	if err != nil {
		slog.Error("failed to load learning data", "error", err, "user_id", user.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load learning data"})
		return
	}
	c.JSON(http.StatusOK, toLearningResponse(profile))
}

func (s *Server) resetLearning(c *gin.Context) {
	user := s.svc.ConnectionStatus().CurrentUser
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no connected user"})
		return
	}
	if err := s.repo.ResetLearningData(c.Request.Context(), user.ID); err != nil {
		slog.Error("failed to reset learning data", "error", err, "user_id", user.ID)
		c.JSON(http.StatusInternalServerError, actionResponse{Success: false, Message: "Erro ao resetar aprendizado"})
		return
	}
	slog.Info("learning data reset", "user_id", user.ID)
	c.JSON(http.StatusOK, actionResponse{Success: true, Message: "Aprendizado resetado com sucesso"})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(started).Milliseconds(),
		)
	}
}

func allowedOrigin(r *http.Request, origins []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if lo.Contains(origins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}
