package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/auth"
	"qrattend/internal/config"
	"qrattend/internal/export"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/ledger"
	"qrattend/internal/metrics"
	"qrattend/internal/qr"
	"qrattend/internal/queue"
	"qrattend/internal/registry"
	"qrattend/internal/session"
	"qrattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.Open(cfg.StoreBackend, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := db.EnsureSchema(context.Background()); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "qrattend:notifications")
	}

	sessionRepo := session.NewRepository(db)
	storeStrategy := session.NewStoreBacked(sessionRepo, cfg.MaxValidity, cfg.BaseURL, nil)

	var strategy session.Strategy
	if cfg.TokenStrategy == "store" {
		strategy = storeStrategy
	} else {
		strategy = session.NewRotating(cfg.RotationSecret, cfg.RotationWindow, cfg.BaseURL, nil)
	}

	directory := registry.New(db, registry.Scope(cfg.RegistryScope), nil)
	ledgerRepo := ledger.NewRepository(db)
	svc := ledger.NewService(ledgerRepo, directory, strategy, q,
		ledger.DedupMode(cfg.DedupMode), cfg.SessionCap, cfg.Location(), nil)

	facultyUsers := auth.ParseUsers(cfg.FacultyUsers)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/login", func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !facultyUsers.Check(req.Username, req.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		token, exp, err := auth.Issue(req.Username, "faculty", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": token, "expires_at": exp.Unix()})
	})

	// Student-facing endpoints: token check, registration, attendance.

	r.GET("/v1/validate", func(c *gin.Context) {
		v, err := svc.Validate(c.Request.Context(), c.Query("token"), c.Query("subject"))
		if err != nil {
			status, reason := rejectionStatus(err)
			c.JSON(status, gin.H{"valid": false, "reason": reason})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"valid":             true,
			"subject":           v.Subject,
			"remaining_seconds": int(v.Remaining.Seconds()),
		})
	})

	r.POST("/v1/register", func(c *gin.Context) {
		var req struct {
			Roll    string `json:"roll" binding:"required"`
			Subject string `json:"subject"`
			Name    string `json:"name" binding:"required"`
			Cohort  string `json:"cohort"`
			Email   string `json:"email"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		profile, created, err := directory.Ensure(c.Request.Context(), req.Roll, req.Subject, &registry.Profile{
			Roll: req.Roll, Name: req.Name, Cohort: req.Cohort, Email: req.Email,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, gin.H{"created": created, "profile": profile})
	})

	r.POST("/v1/attendance", func(c *gin.Context) {
		var req struct {
			Roll    string `json:"roll" binding:"required"`
			Token   string `json:"token" binding:"required"`
			Subject string `json:"subject"`
			Name    string `json:"name"`
			Cohort  string `json:"cohort"`
			Email   string `json:"email"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var profile *registry.Profile
		if req.Name != "" {
			profile = &registry.Profile{Roll: req.Roll, Name: req.Name, Cohort: req.Cohort, Email: req.Email}
		}
		rec, err := svc.Record(c.Request.Context(), req.Roll, req.Token, req.Subject, profile)
		if err != nil {
			if errors.Is(err, ledger.ErrAlreadyRecorded) {
				c.JSON(http.StatusOK, gin.H{"status": "already_recorded"})
				return
			}
			if errors.Is(err, ledger.ErrNotRegistered) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "registration required", "status": "not_registered"})
				return
			}
			status, reason := rejectionStatus(err)
			c.JSON(status, gin.H{"error": reason})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"status": "recorded", "record": rec})
	})

	// Faculty endpoints.

	faculty := r.Group("/v1", auth.FacultyAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	faculty.POST("/sessions", func(c *gin.Context) {
		var req struct {
			Subject         string `json:"subject" binding:"required"`
			ValiditySeconds int    `json:"validity_seconds"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.ValiditySeconds <= 0 {
			req.ValiditySeconds = int(cfg.RotationWindow.Seconds())
		}
		handle, err := strategy.Issue(c.Request.Context(), req.Subject, time.Duration(req.ValiditySeconds)*time.Second)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		metrics.SessionsIssued.WithLabelValues(cfg.TokenStrategy).Inc()
		c.JSON(http.StatusCreated, handle)
	})

	faculty.GET("/sessions/qr", func(c *gin.Context) {
		token, subject := c.Query("token"), c.Query("subject")
		if token == "" || subject == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token and subject required"})
			return
		}
		size := 256
		if v := c.Query("size"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				size = parsed
			}
		}
		png, err := qr.PNG(session.PayloadURL(cfg.BaseURL, token, subject), size)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
			return
		}
		c.Data(http.StatusOK, "image/png", png)
	})

	faculty.POST("/sessions/:token/close", func(c *gin.Context) {
		if cfg.TokenStrategy != "store" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rotating tokens expire on their own"})
			return
		}
		if err := storeStrategy.Close(c.Request.Context(), c.Param("token")); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "closed"})
	})

	faculty.GET("/attendance", func(c *gin.Context) {
		limit, offset := 100, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		records, err := svc.List(c.Request.Context(), c.Query("subject"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	faculty.GET("/summary", func(c *gin.Context) {
		subject := c.Query("subject")
		if subject == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "subject required"})
			return
		}
		total, classDays, perRoll, err := ledgerRepo.Summary(c.Request.Context(), subject)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"subject":       subject,
			"total_present": total,
			"class_days":    classDays,
			"per_roll":      perRoll,
		})
	})

	faculty.GET("/export", func(c *gin.Context) {
		records, err := svc.List(c.Request.Context(), c.Query("subject"), 100000, 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", `attachment; filename="attendance.csv"`)
		c.Header("Content-Type", "text/csv")
		c.Status(http.StatusOK)
		if err := export.WriteCSV(c.Writer, records); err != nil {
			log.Printf("csv export failed: %v", err)
		}
	})

	// Destructive reset, gated by a secret distinct from faculty login.
	r.POST("/v1/admin/reset", auth.AdminSecret(cfg.AdminSecret), func(c *gin.Context) {
		var req struct {
			Subject string `json:"subject"`
		}
		_ = c.ShouldBindJSON(&req)
		if err := svc.Reset(c.Request.Context(), req.Subject); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "reset"})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// rejectionStatus maps validation rejections onto HTTP responses. These are
// expected outcomes rendered as informational messages, never 5xx.
func rejectionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusGone, "not_found"
	case errors.Is(err, session.ErrExpired):
		return http.StatusGone, "expired"
	case errors.Is(err, session.ErrDeactivated):
		return http.StatusGone, "deactivated"
	case errors.Is(err, session.ErrFull):
		return http.StatusConflict, "session_full"
	default:
		return http.StatusServiceUnavailable, "storage unavailable, retry"
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Admin-Secret")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
