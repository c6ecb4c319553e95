package devserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"cafechat/internal/config"
	"cafechat/pkg/logger"
)

// Server bundles the REST stub and the STOMP broker behind one gin engine.
type Server struct {
	cfg        config.DevServerConfig
	log        *logger.Logger
	auth       *Auth
	repo       HistoryRepo
	reads      ReadStateStore
	broker     *Broker
	uploader   *Uploader
	images     *localImages
	readLatest bool
}

// New wires a Server from configuration. Postgres, Redis, and S3 are
// optional; each falls back to an in-process implementation when its
// configuration is absent.
func New(ctx context.Context, cfg config.DevServerConfig, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.NewNop()
	}

	var repo HistoryRepo
	if cfg.DatabaseURL != "" {
		pg, err := NewPostgresHistoryRepo(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		repo = pg
		log.Infof("devserver: history backed by postgres")
	} else {
		repo = NewMemoryHistoryRepo()
		log.Infof("devserver: history in memory")
	}

	var reads ReadStateStore
	if cfg.Redis.Addr != "" {
		rs, err := NewRedisReadState(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		reads = rs
		log.Infof("devserver: read state backed by redis")
	} else {
		reads = NewMemoryReadState()
		log.Infof("devserver: read state in memory")
	}

	var uploader *Uploader
	if cfg.S3.Bucket != "" {
		up, err := NewUploader(ctx, cfg.S3.Bucket, cfg.S3.Region)
		if err != nil {
			return nil, err
		}
		uploader = up
		log.Infof("devserver: images backed by s3 bucket %s", cfg.S3.Bucket)
	}

	auth := NewAuth(cfg.JWTSecret)
	return &Server{
		cfg:        cfg,
		log:        log,
		auth:       auth,
		repo:       repo,
		reads:      reads,
		broker:     NewBroker(auth, repo, log),
		uploader:   uploader,
		images:     newLocalImages(),
		readLatest: cfg.ReadLatest,
	}, nil
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.loggingMiddleware())

	r.GET("/stomp/chats", func(c *gin.Context) {
		s.broker.Handle(c.Writer, c.Request)
	})

	api := r.Group("/api")
	api.POST("/auth/login", s.handleLogin)
	api.GET("/images/:imageId", s.handleImage)

	authed := api.Group("")
	authed.Use(s.auth.Middleware())
	authed.GET("/rooms/:roomId/chats", s.handleHistory)
	authed.POST("/rooms/:roomId/read-status", s.handleReadStatus)
	authed.POST("/rooms/:roomId/read-latest", s.handleReadLatest)
	authed.PATCH("/rooms/:roomId/mute", s.handleMute)
	authed.GET("/rooms/:roomId/participants", s.handleParticipants)
	authed.POST("/images", s.handleUpload)

	return r
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	s.log.Infof("devserver: listening on :%s", s.cfg.Port)
	return s.Router().Run(":" + s.cfg.Port)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.log.Infof("%s %s %d %s", method, path, c.Writer.Status(), time.Since(start).String())
	}
}
