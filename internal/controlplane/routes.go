package controlplane

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/openmined/syftbackup/internal/backup"
	"github.com/openmined/syftbackup/internal/utils"
	"github.com/openmined/syftbackup/internal/version"
	slogGin "github.com/samber/slog-gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

const (
	CodeUnauthorized  = "E_UNAUTHORIZED"
	CodeRateLimited   = "E_RATE_LIMITED"
	CodeBusy          = "E_BACKUP_IN_PROGRESS"
	CodeNotFound      = "E_NOT_FOUND"
	CodeInternalError = "E_INTERNAL"
	CodeBadRequest    = "E_BAD_REQUEST"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func (s *Server) routes(rate limiter.Rate) http.Handler {
	r := gin.New()

	httpLogger := slog.Default().WithGroup("http")
	r.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.BestSpeed))
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"http://localhost", "http://127.0.0.1"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, version.DetailedWithApp())
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.PureJSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.Use(rateLimiter(rate), bearerAuth(s.config.Token))
	{
		v1.GET("/status", s.getStatus)
		v1.POST("/backup", s.runBackup)
		v1.POST("/monitor/start", s.startMonitor)
		v1.POST("/monitor/stop", s.stopMonitor)
		v1.GET("/reports/latest", s.latestReport)
	}

	r.NoRoute(func(c *gin.Context) {
		c.PureJSON(http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: "not found"})
	})

	return r.Handler()
}

func rateLimiter(rate limiter.Rate) gin.HandlerFunc {
	return mgin.NewMiddleware(
		limiter.New(memory.NewStore(), rate),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.PureJSON(http.StatusTooManyRequests, ErrorResponse{
				Code:    CodeRateLimited,
				Message: "rate limit exceeded",
			})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			c.PureJSON(http.StatusInternalServerError, ErrorResponse{
				Code:    CodeInternalError,
				Message: err.Error(),
			})
		}),
	)
}

func bearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		got, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			slog.Debug("control auth rejected", "ip", c.ClientIP(), "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Code:    CodeUnauthorized,
				Message: "missing or invalid token",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) getStatus(c *gin.Context) {
	c.PureJSON(http.StatusOK, s.monitor.Status())
}

func (s *Server) runBackup(c *gin.Context) {
	// a client that disconnects must not abort a run halfway through the upload
	res, err := s.monitor.RunNow(context.WithoutCancel(c.Request.Context()))
	if errors.Is(err, backup.ErrBackupInProgress) {
		c.PureJSON(http.StatusConflict, ErrorResponse{Code: CodeBusy, Message: err.Error()})
		return
	} else if err != nil {
		c.PureJSON(http.StatusInternalServerError, ErrorResponse{Code: CodeInternalError, Message: err.Error()})
		return
	} else if res == nil {
		c.PureJSON(http.StatusInternalServerError, ErrorResponse{Code: CodeInternalError, Message: "backup returned no result"})
		return
	}

	if errors.Is(res.Err, backup.ErrBackupInProgress) {
		c.PureJSON(http.StatusConflict, res)
		return
	}
	if !res.Success {
		c.PureJSON(http.StatusInternalServerError, res)
		return
	}
	c.PureJSON(http.StatusOK, res)
}

func (s *Server) startMonitor(c *gin.Context) {
	if err := s.monitor.Start(s.monitorContext()); err != nil {
		c.PureJSON(http.StatusInternalServerError, ErrorResponse{Code: CodeInternalError, Message: err.Error()})
		return
	}
	c.PureJSON(http.StatusOK, s.monitor.Status())
}

func (s *Server) stopMonitor(c *gin.Context) {
	s.monitor.Stop()
	c.PureJSON(http.StatusOK, s.monitor.Status())
}

func (s *Server) latestReport(c *gin.Context) {
	last := s.monitor.Status().LastResult
	if last == nil {
		c.PureJSON(http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: "no backup has run yet"})
		return
	}

	var path string
	switch format := c.DefaultQuery("format", "text"); format {
	case "text":
		path = last.ReportPath
	case "html":
		path = last.HTMLReportPath
	case "json":
		path = last.JSONReportPath
	default:
		c.PureJSON(http.StatusBadRequest, ErrorResponse{Code: CodeBadRequest, Message: "format must be text, html or json"})
		return
	}

	if path == "" || !utils.FileExists(path) {
		c.PureJSON(http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: "report not available"})
		return
	}
	c.File(path)
}
