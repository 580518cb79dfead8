package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/accountdesk/accountdesk/pkg/apiresponses"
	"github.com/accountdesk/accountdesk/pkg/config"
	"github.com/accountdesk/accountdesk/pkg/metrics"
	"github.com/accountdesk/accountdesk/pkg/system"
	"github.com/accountdesk/accountdesk/pkg/version"
)

const shutdownTimeout = 10 * time.Second

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

type Server struct {
	gin    *gin.Engine
	config config.Config
	log    *zap.SugaredLogger
}

// debugOrigins are allowed when running with --debug and no origins are configured.
var debugOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}

func NewServer(log *zap.Logger, cfg config.Config, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		system.RequestLogger(log.Sugar()),
	)
	if len(cfg.Server.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			log.Warn("Ignoring invalid trusted proxies", zap.Strings("trustedProxies", cfg.Server.TrustedProxies), zap.Error(err))
		}
	}

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 && debug {
		origins = debugOrigins
	}
	if len(origins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Authorization", "Content-Type", "Accept"},
			MaxAge:       12 * time.Hour,
		}))
	}

	if cfg.Frontend.StaticDir != "" {
		engine.NoRoute(ServeSPA("/", cfg.Frontend.StaticDir))
	} else {
		engine.NoRoute(func(c *gin.Context) {
			apiresponses.RespondNotFoundSimple(c, "not found")
		})
	}

	s := &Server{
		gin:    engine,
		config: cfg,
		log:    log.Sugar().Named("server"),
	}

	engine.GET("healthz", s.getHealth)
	engine.GET("metrics", gin.WrapH(metrics.MetricsHandler()))
	engine.GET("api/config", s.getConfig)
	engine.GET("api/buildinfo", s.getBuildInfo)

	return s
}

func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("api")
	for _, c := range controllers {
		if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns the router wrapped in request tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.gin, "accountdesk",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
		}),
	)
}

// Listen serves until ctx is canceled and then shuts down gracefully,
// giving in-flight requests shutdownTimeout to finish.
func (s *Server) Listen(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Server.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.Server.TLSCertFile != "" && s.config.Server.TLSKeyFile != "" {
			s.log.Infow("Listening with TLS", "address", srv.Addr)
			err = srv.ListenAndServeTLS(s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
		} else {
			s.log.Infow("Listening", "address", srv.Addr)
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// FrontendConfig is what the single page application needs at startup.
type FrontendConfig struct {
	BrandingName   string `json:"brandingName,omitempty"`
	BaseURL        string `json:"baseURL,omitempty"`
	GoogleClientID string `json:"googleClientID,omitempty"`
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, FrontendConfig{
		BrandingName:   s.config.Frontend.BrandingName,
		BaseURL:        s.config.Frontend.BaseURL,
		GoogleClientID: s.config.Auth.GoogleClientID,
	})
}

func (s *Server) getBuildInfo(c *gin.Context) {
	c.JSON(http.StatusOK, version.GetBuildInfo())
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
