package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"streampirex-radio/internal/admission"
	"streampirex-radio/internal/api/handlers"
	"streampirex-radio/internal/api/middleware"
	"streampirex-radio/internal/config"
	database "streampirex-radio/internal/db"
	"streampirex-radio/internal/identity"
	"streampirex-radio/internal/rooms"
	"streampirex-radio/internal/sessions"
	"streampirex-radio/internal/transcode"
)

type Server struct {
	cfg    *config.Config
	router *gin.Engine
}

func New(cfg *config.Config, db *database.Client, ctrl *admission.Controller,
	registry *sessions.Registry, hub *rooms.Hub, queue *transcode.Queue,
	store handlers.RenditionChecker, stats *handlers.StatsHandler) *Server {

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		router: gin.New(),
	}
	s.router.Use(middleware.SilentLogger(), gin.Recovery())

	s.setupMiddleware()
	s.setupRoutes(db, ctrl, registry, hub, queue, store, stats)

	return s
}

func (s *Server) setupMiddleware() {
	// CORS Configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}

	// "Authorization" must be allowed so the player can send the JWT
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}

	s.router.Use(cors.New(corsConfig))
}

func (s *Server) setupRoutes(db *database.Client, ctrl *admission.Controller,
	registry *sessions.Registry, hub *rooms.Hub, queue *transcode.Queue,
	store handlers.RenditionChecker, stats *handlers.StatsHandler) {

	secret := []byte(s.cfg.Server.JWTSecret)

	listenHandler := handlers.NewListenHandler(ctrl, registry)
	stationHandler := handlers.NewStationHandler(db.DB)
	roomHandler := handlers.NewRoomHandler(hub, ctrl, secret)
	workerHandler := handlers.NewWorkerHandler(queue, store)

	// Health Check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "streampirex-radio"})
	})

	// API Group. Every route gets an identity: a valid platform JWT or the
	// anonymous ip-hash fallback.
	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.ResolveIdentity(&identity.JWTResolver{Secret: secret}))
	{
		// ==========================================
		// LISTENER SURFACE (anonymous allowed)
		// ==========================================
		v1.POST("/stations/:id/listen", listenHandler.Listen)
		v1.GET("/stations/:id/now", listenHandler.NowPlaying)
		v1.GET("/stations/:id", stationHandler.GetStation)
		v1.POST("/sessions/:id/heartbeat", listenHandler.Heartbeat)
		v1.DELETE("/sessions/:id", listenHandler.CloseSession)

		// Room: websocket entry is guarded by the station-bound room token
		// from the listen grant, chat by a platform account.
		v1.GET("/stations/:id/room", roomHandler.ServeRoom)
		v1.POST("/stations/:id/chat", roomHandler.PostChat)

		v1.GET("/stats", stats.GetStats)

		// ==========================================
		// OWNER CONTROL PLANE (account required)
		// ==========================================
		v1.POST("/stations", requireAccount(), stationHandler.CreateStation)

		owned := v1.Group("/stations/:id")
		owned.Use(middleware.RequireStationOwner(db.DB))
		{
			owned.PUT("/playlist", stationHandler.UpdatePlaylist)
			owned.POST("/loop", stationHandler.StartLoop)
			owned.POST("/live", stationHandler.GoLive)
			owned.DELETE("/live", stationHandler.EndLive)
		}

		// ==========================================
		// TRANSCODE WORKERS (account required)
		// ==========================================
		workers := v1.Group("/transcode")
		workers.Use(requireAccount())
		{
			workers.POST("/next", workerHandler.NextJob)
			workers.POST("/:id/heartbeat", workerHandler.JobHeartbeat)
			workers.POST("/:id/ready", workerHandler.JobReady)
			workers.POST("/:id/failed", workerHandler.JobFailed)
		}
	}
}

// requireAccount rejects anonymous identities. MUST run after ResolveIdentity.
func requireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if middleware.IdentityFrom(c).Anonymous {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid token"})
			return
		}
		c.Next()
	}
}

// Start runs the server on the configured port
func (s *Server) Start(addr string) error {
	return s.router.Run(addr)
}
