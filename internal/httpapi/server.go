// Package httpapi is the HTTP surface for scanner devices and dashboards.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"qrattendance/internal/attendance"
	"qrattendance/internal/auth"
	"qrattendance/internal/httpmiddleware"
	"qrattendance/internal/live"
	"qrattendance/internal/scanner"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Options wires the server.
type Options struct {
	Engine   *attendance.Engine
	Registry *scanner.Registry
	Backend  attendance.Backend
	Hub      *live.Hub
	Logger   *zap.Logger

	JWTIssuer     string
	JWTSigningKey string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	RateLimitPerMin int
	RequestTimeout  time.Duration
	CORSOrigins     []string
	Health          map[string]HealthCheck
	// MetricsHandler serves /metrics; defaults to the global Prometheus registry.
	MetricsHandler http.Handler
	// Now is the server clock; defaults to time.Now.
	Now func() time.Time
}

// Server holds handler dependencies.
type Server struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// New builds a server.
func New(opts Options) *Server {
	s := &Server{opts: opts, logger: opts.Logger, now: opts.Now}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.opts.MetricsHandler == nil {
		s.opts.MetricsHandler = promhttp.Handler()
	}
	return s
}

// Handler returns the gin router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(s.logger, "/healthz", "/metrics"))
	r.Use(corsMiddleware(s.opts.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(s.opts.MetricsHandler))
	r.GET("/healthz", s.healthz)
	r.POST("/v1/devices/register", s.registerDevice)
	r.POST("/v1/devices/refresh", s.refreshDevice)

	limiter := httpmiddleware.NewSimpleTokenBucket(s.opts.RateLimitPerMin, s.opts.RateLimitPerMin)
	v1 := r.Group("/v1",
		auth.DeviceAuth(s.opts.JWTSigningKey, s.opts.JWTIssuer),
		limiter.GinMiddleware(auth.DeviceID),
	)
	if s.opts.Hub != nil {
		v1.GET("/live", gin.WrapH(s.opts.Hub))
	}

	timed := v1.Group("", httpmiddleware.Timeout(s.opts.RequestTimeout))
	timed.GET("/devices/section", s.getSection)
	timed.PUT("/devices/section", s.selectSection)
	timed.DELETE("/devices/section", s.clearSection)
	timed.POST("/scans", s.scan)
	timed.POST("/sessions/:id/logout", s.logout)
	timed.GET("/students/:student_id/sessions", s.studentSessions)
	timed.GET("/attendance", s.listAttendance)
	timed.GET("/attendance/stats", s.attendanceStats)
	timed.GET("/sections", s.listSections)
	timed.GET("/events", s.listEvents)
	timed.GET("/badge", s.badge)
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       24 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func (s *Server) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.opts.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
