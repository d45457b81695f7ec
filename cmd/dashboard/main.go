package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventdash/internal/auth"
	"eventdash/internal/config"
	"eventdash/internal/export"
	"eventdash/internal/httpmiddleware"
	"eventdash/internal/queue"
	"eventdash/internal/reconcile"
	"eventdash/internal/remote"
	"eventdash/internal/scanner"
	"eventdash/internal/store"
	"eventdash/internal/viewmodel"
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

// scanSession guards the single live scanner. The camera is an exclusive
// device: one scanning session at a time, bound to one event.
type scanSession struct {
	mu      sync.Mutex
	eventID int64
	sc      *scanner.Scanner
}

func (s *scanSession) get(eventID int64) (*scanner.Scanner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sc == nil || s.eventID != eventID {
		return nil, false
	}
	return s.sc, true
}

func runHTTP(cfg config.App) error {
	backend := remote.New(cfg.BackendURL, cfg.RemoteTimeout)
	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "eventdash:changes")
	}

	loader := viewmodel.NewLoader(backend)
	dash := reconcile.NewDashboard(backend, loader, q)
	scans := &scanSession{}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		backendHealthy := backend.Health(c.Request.Context()) == nil
		redisHealthy := redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !backendHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "backend": backendHealthy, "redis": redisHealthy})
	})

	r.POST("/v1/sessions", func(c *gin.Context) {
		var req struct {
			OrganizerID string `json:"organizer_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(req.OrganizerID, "organizer", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	v1 := r.Group("/v1", auth.SessionAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	v1.POST("/events/:id/load", func(c *gin.Context) {
		eventID, ok := pathID(c, "id")
		if !ok {
			return
		}
		rows, err := dash.Open(c.Request.Context(), eventID)
		if err != nil {
			// Blocking error state; the UI offers a retry, nothing partial
			// is shown.
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attendees": rows, "tally": viewmodel.Counts(rows)})
	})

	v1.GET("/events/:id/attendees", func(c *gin.Context) {
		eventID, ok := pathID(c, "id")
		if !ok {
			return
		}
		var query viewmodel.Query
		if err := c.ShouldBindQuery(&query); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rows, tally, err := dash.Rows(eventID, query)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attendees": rows, "tally": tally})
	})

	v1.POST("/events/:id/attendees/:pid/toggle", func(c *gin.Context) {
		eventID, ok := pathID(c, "id")
		if !ok {
			return
		}
		participantID, ok := pathID(c, "pid")
		if !ok {
			return
		}

		row, err := dash.Toggle(c.Request.Context(), participantID, eventID)
		switch {
		case errors.Is(err, reconcile.ErrUnknownEvent):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, reconcile.ErrStaleRow):
			// Stale UI, already logged. The row keeps its pre-click state.
			c.JSON(http.StatusOK, gin.H{"updated": false})
		case err != nil:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"updated": true, "attendee": row})
		}
	})

	v1.POST("/events/:id/attendees", func(c *gin.Context) {
		eventID, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req struct {
			ParticipantID int64 `json:"participantId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rec, err := dash.Register(c.Request.Context(), req.ParticipantID, eventID)
		switch {
		case errors.Is(err, remote.ErrAlreadyRegistered):
			c.JSON(http.StatusConflict, gin.H{"error": "attendance record already exists"})
		case err != nil:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusCreated, gin.H{"record": rec})
		}
	})

	v1.POST("/events/:id/import", func(c *gin.Context) {
		eventID, ok := pathID(c, "id")
		if !ok {
			return
		}
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()

		res, err := dash.Import(c.Request.Context(), eventID, header.Filename, file)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"inserted": res.Inserted, "message": res.Message})
	})

	v1.GET("/events/:id/export.csv", func(c *gin.Context) {
		eventID, ok := pathID(c, "id")
		if !ok {
			return
		}
		var query viewmodel.Query
		if err := c.ShouldBindQuery(&query); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rows, _, err := dash.Rows(eventID, query)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		data, err := export.CSV(rows)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		name := export.Filename("asistentes", query.Tab, time.Now()) + ".csv"
		c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
		c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
	})

	v1.GET("/events/:id/report", func(c *gin.Context) {
		eventID, ok := pathID(c, "id")
		if !ok {
			return
		}
		var query viewmodel.Query
		if err := c.ShouldBindQuery(&query); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rows, _, err := dash.Rows(eventID, query)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		name := export.Filename("reporte", query.Tab, time.Now()) + ".txt"
		c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
		c.Data(http.StatusOK, "text/plain; charset=utf-8", export.Report(rows, query.Tab, time.Now()))
	})

	v1.POST("/events/:id/scanner", func(c *gin.Context) {
		eventID, ok := pathID(c, "id")
		if !ok {
			return
		}

		scans.mu.Lock()
		defer scans.mu.Unlock()
		if scans.sc != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "scanner already open"})
			return
		}

		// Camera failure is terminal for the session but does not block
		// manual entry: the scanner opens in the unavailable state.
		cam, err := scanner.OpenSnapshotCamera(c.Request.Context(), cfg.CameraURL, cfg.RemoteTimeout)
		var cameraErr string
		if err != nil {
			log.Printf("camera acquire failed: %v", err)
			cam = nil
			cameraErr = err.Error()
		}

		history := scanner.NewHistory(cfg.ScanHistory, cfg.ScanWindow)
		var sc *scanner.Scanner
		if cam != nil {
			sc = scanner.New(cam, backend, history, cfg.ScanWindow)
		} else {
			sc = scanner.New(nil, backend, history, cfg.ScanWindow)
		}
		scans.sc = sc
		scans.eventID = eventID

		c.JSON(http.StatusCreated, gin.H{"state": sc.State(), "camera_error": cameraErr})
	})

	v1.POST("/events/:id/scanner/scan", func(c *gin.Context) {
		eventID, ok := pathID(c, "id")
		if !ok {
			return
		}
		sc, ok := scans.get(eventID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "scanner not open for this event"})
			return
		}

		res, err := sc.CaptureAndScan(c.Request.Context())
		if err != nil {
			scanError(c, sc, err)
			return
		}
		row, known := dash.ApplyScan(c.Request.Context(), res.Record)
		c.JSON(http.StatusOK, gin.H{"result": res, "attendee": row, "known": known, "state": sc.State()})
	})

	v1.POST("/events/:id/scanner/code", func(c *gin.Context) {
		eventID, ok := pathID(c, "id")
		if !ok {
			return
		}
		sc, ok := scans.get(eventID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "scanner not open for this event"})
			return
		}
		var req struct {
			Code string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res, err := sc.SubmitCode(c.Request.Context(), req.Code)
		if err != nil {
			scanError(c, sc, err)
			return
		}
		row, known := dash.ApplyScan(c.Request.Context(), res.Record)
		c.JSON(http.StatusOK, gin.H{
			"result":        res,
			"attendee":      row,
			"known":         known,
			"auto_close_ms": res.AutoClose.Milliseconds(),
		})
	})

	v1.GET("/events/:id/scanner/history", func(c *gin.Context) {
		eventID, ok := pathID(c, "id")
		if !ok {
			return
		}
		sc, ok := scans.get(eventID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "scanner not open for this event"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"state":   sc.State(),
			"history": sc.History(),
			"error":   sc.LastError(),
		})
	})

	v1.DELETE("/events/:id/scanner", func(c *gin.Context) {
		eventID, ok := pathID(c, "id")
		if !ok {
			return
		}

		scans.mu.Lock()
		defer scans.mu.Unlock()
		if scans.sc == nil || scans.eventID != eventID {
			c.JSON(http.StatusNotFound, gin.H{"error": "scanner not open for this event"})
			return
		}
		if err := scans.sc.Close(); err != nil {
			log.Printf("camera release failed: %v", err)
		}
		scans.sc = nil
		scans.eventID = 0
		c.JSON(http.StatusOK, gin.H{"closed": true})
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

	// Release the camera before the listener goes away; the device must not
	// outlive the session that acquired it.
	scans.mu.Lock()
	if scans.sc != nil {
		_ = scans.sc.Close()
		scans.sc = nil
	}
	scans.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Printf("redis close failed: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// scanError maps scanner failures onto distinct statuses so the UI can word
// the duplicate case differently from an unrecognized code.
func scanError(c *gin.Context, sc *scanner.Scanner, err error) {
	switch {
	case errors.Is(err, scanner.ErrScanInFlight):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, scanner.ErrCameraUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "state": sc.State()})
	case errors.Is(err, remote.ErrAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"error": sc.LastError(), "duplicate": true})
	case errors.Is(err, remote.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": sc.LastError()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
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
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
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
