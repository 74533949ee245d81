package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"buildr/internal/api/auth"
	"buildr/internal/api/middleware"
	"buildr/internal/config"
	"buildr/internal/model"
	"buildr/internal/pkg/media"
	"buildr/internal/pkg/metrics"
	"buildr/internal/pkg/notify"
	"buildr/internal/pkg/otp"
	"buildr/internal/pkg/ratelimit"
	"buildr/internal/relation"
	"buildr/internal/store"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、对象存储客户端以及 Gin 路由引擎。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	rdb       *redis.Client
	router    *gin.Engine
	startedAt time.Time

	auth          *auth.Handler
	posts         PostStore
	users         UserDirectory
	launches      LaunchStore
	notifications NotificationStore
	follows       FollowGraph
	bookmarks     BookmarkStore
	votes         relation.DirectedSet
	launchVotes   relation.Set
	media         media.Storage
}

// PostStore 是帖子接口依赖的存储能力。
type PostStore interface {
	Create(ctx context.Context, post *model.Post) error
	ByID(ctx context.Context, id uint) (*model.Post, error)
	Feed(ctx context.Context, offset, limit int) ([]model.Post, error)
	Replies(ctx context.Context, postID uint, offset, limit int) ([]model.Post, error)
	ByAuthor(ctx context.Context, authorID uint, replies bool, offset, limit int) ([]model.Post, error)
	ByIDs(ctx context.Context, ids []uint) ([]model.Post, error)
	ReplyCounts(ctx context.Context, postIDs []uint) (map[uint]int64, error)
	VoteCounts(ctx context.Context, postIDs []uint) (map[uint]model.VoteCount, error)
	UserVotes(ctx context.Context, userID uint, postIDs []uint) (map[uint]int, error)
	SoftDelete(ctx context.Context, postID, authorID uint) error
	IncrementViews(ctx context.Context, postID uint) error
}

// UserDirectory 是用户接口依赖的存储能力。
type UserDirectory interface {
	ByID(ctx context.Context, id uint) (*model.User, error)
	ByUsername(ctx context.Context, username string) (*model.User, error)
	ByIDs(ctx context.Context, ids []uint) (map[uint]*model.User, error)
	Update(ctx context.Context, id uint, fields map[string]any) error
	Search(ctx context.Context, query string, limit int) ([]model.User, error)
}

// LaunchStore 是发布接口依赖的存储能力。
type LaunchStore interface {
	Create(ctx context.Context, launch *model.Launch) error
	ByID(ctx context.Context, id uint) (*model.Launch, error)
	ByDay(ctx context.Context, day time.Time) ([]model.Launch, error)
	HasLaunchedOn(ctx context.Context, authorID uint, day time.Time) (bool, error)
	IncrementViews(ctx context.Context, launchID uint) error
}

// NotificationStore 是通知接口依赖的存储能力。
type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
	List(ctx context.Context, recipientID uint, offset, limit int) ([]model.Notification, error)
	CountUnread(ctx context.Context, recipientID uint) (int64, error)
	MarkRead(ctx context.Context, notificationID, recipientID uint) error
	MarkAllRead(ctx context.Context, recipientID uint) error
}

// FollowGraph 是关注关系的存储能力。
type FollowGraph interface {
	relation.Set
	CountFollowing(ctx context.Context, follower uint) (int64, error)
	FollowerIDs(ctx context.Context, followee uint) ([]uint, error)
	FolloweeIDs(ctx context.Context, follower uint) ([]uint, error)
}

// BookmarkStore 是书签关系的存储能力。
type BookmarkStore interface {
	relation.Set
	PostIDs(ctx context.Context, userID uint) ([]uint, error)
	ContainsMany(ctx context.Context, userID uint, postIDs []uint) (map[uint]bool, error)
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis（OTP 存储与限流）
// 3. 初始化邮件与对象存储客户端
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.User{}, &model.Follow{}, &model.Bookmark{},
		&model.Post{}, &model.PostVote{},
		&model.Launch{}, &model.LaunchUpvote{},
		&model.Notification{},
	); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	mailer := notify.NewEmailMailer(&cfg.Email, logger)

	var storage media.Storage
	if cfg.Media.Bucket != "" {
		storage, err = media.NewS3Storage(ctx, &cfg.Media, logger)
		if err != nil {
			return nil, err
		}
	}

	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg.App.AllowedOrigins))

	otps := otp.NewStore(rdb, cfg.App.OTPTTL)
	limiter := ratelimit.NewLimiter(rdb, cfg.App.RateLimit, cfg.App.RateBurst)
	users := store.NewUserStore(db)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		rdb:       rdb,
		router:    r,
		startedAt: time.Now(),
		auth: auth.NewHandler(users, otps, mailer,
			cfg.Security.JWTSecret, cfg.App.SessionTTL, cfg.App.ResendCooldown,
			cfg.App.FrontendURL, cfg.App.Env != "local", logger),
		posts:         store.NewPostStore(db),
		users:         users,
		launches:      store.NewLaunchStore(db),
		notifications: store.NewNotificationStore(db),
		follows:       relation.NewFollowSet(db),
		bookmarks:     relation.NewBookmarkSet(db),
		votes:         relation.NewVoteSet(db),
		launchVotes:   relation.NewLaunchUpvoteSet(db),
		media:         storage,
	}
	s.registerRoutes(limiter)
	return s, nil
}

// Run 启动 HTTP 服务器并开始监听请求。
func (s *Server) Run() error {
	s.logger.Info("api server listening", slog.String("addr", s.cfg.App.HTTPAddr))
	return s.router.Run(s.cfg.App.HTTPAddr)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else if closeErr := sqlDB.Close(); closeErr != nil {
			if firstErr == nil {
				firstErr = closeErr
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes(limiter *ratelimit.Limiter) {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")

	// 认证入口按 IP 限流，防止验证码轰炸与口令爆破
	open := api.Group("/auth")
	open.Use(middleware.RateLimit(limiter, s.logger))
	open.POST("/register", s.auth.Register)
	open.POST("/resend", s.auth.Resend)
	open.POST("/verify", s.auth.Verify)
	open.POST("/login", s.auth.Login)
	open.POST("/forgot", s.auth.Forgot)
	open.PUT("/reset/:token", s.auth.Reset)

	authed := api.Group("/")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))

	authed.POST("/auth/logout", s.auth.Logout)
	authed.GET("/auth/user", s.auth.Me)

	authed.GET("/posts", s.handleFeed)
	authed.POST("/posts", s.handleCreatePost)
	authed.GET("/posts/:postId", s.handleGetPost)
	authed.DELETE("/posts/:postId", s.handleDeletePost)
	authed.GET("/posts/:postId/comments", s.handleComments)
	authed.POST("/posts/:postId/upvote", s.handleUpvotePost)
	authed.POST("/posts/:postId/downvote", s.handleDownvotePost)

	authed.GET("/users", s.handleExplore)
	authed.PUT("/users/profile", s.handleUpdateProfile)
	authed.GET("/users/profile/:username", s.handleProfile)
	authed.GET("/users/bookmarks", s.handleBookmarks)
	authed.POST("/users/bookmark/:postId", s.handleToggleBookmark)
	authed.GET("/users/:userId/posts", s.handleUserPosts)
	authed.POST("/users/:userId/follow", s.handleToggleFollow)
	authed.GET("/users/:userId/followers", s.handleFollowers)
	authed.GET("/users/:userId/following", s.handleFollowing)

	authed.GET("/launches", s.handleListLaunches)
	authed.POST("/launches", s.handleCreateLaunch)
	authed.GET("/launches/can-launch", s.handleCanLaunch)
	authed.GET("/launches/:launchId", s.handleGetLaunch)
	authed.POST("/launches/:launchId/upvote", s.handleUpvoteLaunch)

	authed.GET("/notifications", s.handleNotifications)
	authed.PUT("/notifications/:notificationId/read", s.handleMarkRead)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	if s.db != nil {
		var one int
		if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
			status = "degraded"
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":      status,
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
		"environment": s.cfg.App.Env,
	})
}

// notifyBestEffort 写通知。通知是副产品，失败只记日志不影响主流程。
func (s *Server) notifyBestEffort(ctx context.Context, n *model.Notification) {
	if err := s.notifications.Create(ctx, n); err != nil {
		metrics.NotificationDroppedTotal.Inc()
		if s.logger != nil {
			s.logger.Warn("drop notification",
				slog.String("type", n.Type),
				slog.Uint64("recipient", uint64(n.RecipientID)),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if n.RecipientID != n.SenderID {
		metrics.NotificationCreatedTotal.Inc()
	}
}
