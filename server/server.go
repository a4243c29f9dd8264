// Package server exposes the operator side-channel: pairing approvals,
// pause control, rate limit resets, and observability endpoints. It is
// meant for localhost or a private network, never the open internet.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/ghostwriter-im/ghostwriter/gateway/admission"
	"github.com/ghostwriter-im/ghostwriter/gateway/metrics"
	"github.com/ghostwriter-im/ghostwriter/gateway/pause"
	"github.com/ghostwriter-im/ghostwriter/gateway/ratelimit"
	"github.com/ghostwriter-im/ghostwriter/internal/profile"
	"github.com/ghostwriter-im/ghostwriter/internal/version"
	"github.com/ghostwriter-im/ghostwriter/kv"
	"github.com/ghostwriter-im/ghostwriter/store"
)

// Server is the admin HTTP service.
type Server struct {
	e       *echo.Echo
	profile *profile.Profile

	store   *store.Store
	kv      kv.Store
	gate    *admission.Gate
	pauses  *pause.Controller
	limiter *ratelimit.Limiter
}

// New wires the admin routes.
func New(p *profile.Profile, st *store.Store, kvStore kv.Store, gate *admission.Gate,
	pauses *pause.Controller, limiter *ratelimit.Limiter, exporter *metrics.Exporter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI: true, LogStatus: true, LogMethod: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("admin request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	s := &Server{
		e:       e,
		profile: p,
		store:   st,
		kv:      kvStore,
		gate:    gate,
		pauses:  pauses,
		limiter: limiter,
	}

	e.GET("/healthz", s.healthz)
	if exporter != nil {
		e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	}

	api := e.Group("/api/v1", s.authMiddleware)
	api.GET("/pairing", s.listPairing)
	api.GET("/contacts", s.listContacts)
	api.POST("/contacts/approve", s.approveContact)
	api.POST("/contacts/deny", s.denyContact)
	api.POST("/pause", s.pauseAll)
	api.DELETE("/pause", s.resumeAll)
	api.POST("/contacts/pause", s.pauseContact)
	api.POST("/contacts/resume", s.resumeContact)
	api.POST("/contacts/ratelimit/reset", s.resetRateLimit)
	api.GET("/stats/tokens", s.tokenStats)

	return s
}

// Start serves until the context ends.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	slog.Info("admin side-channel listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.e.Shutdown(shutdownCtx)
	}
}

// authMiddleware checks a bearer token against the configured bcrypt
// hash. No hash configured means auth is disabled, for localhost dev.
func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.profile.AdminTokenHash == "" {
			return next(c)
		}
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.profile.AdminTokenHash), []byte(token)); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		return next(c)
	}
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

func (s *Server) listPairing(c echo.Context) error {
	status := store.PairingStatus(c.QueryParam("status"))
	if status == "" {
		status = store.PairingPending
	}
	requests, err := s.store.Pairing.List(c.Request().Context(), status)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, requests)
}

func (s *Server) listContacts(c echo.Context) error {
	contacts, err := s.store.Contacts.ListApproved(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, contacts)
}

type contactActionRequest struct {
	ContactKey string `json:"contactKey"`
	ChannelID  string `json:"channelId,omitempty"`
	Tier       string `json:"tier,omitempty"`
	By         string `json:"by,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func (r *contactActionRequest) bind(c echo.Context) error {
	if err := c.Bind(r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if r.ContactKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "contactKey required")
	}
	if r.By == "" {
		r.By = "admin"
	}
	return nil
}

func (s *Server) approveContact(c echo.Context) error {
	req := &contactActionRequest{}
	if err := req.bind(c); err != nil {
		return err
	}
	if err := s.gate.Approve(c.Request().Context(), req.ContactKey, req.ChannelID, req.By, store.Tier(req.Tier)); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"contactKey": req.ContactKey, "status": "approved"})
}

func (s *Server) denyContact(c echo.Context) error {
	req := &contactActionRequest{}
	if err := req.bind(c); err != nil {
		return err
	}
	if err := s.gate.Deny(c.Request().Context(), req.ContactKey, req.By, req.Reason); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"contactKey": req.ContactKey, "status": "denied"})
}

func (s *Server) pauseAll(c echo.Context) error {
	if err := s.pauses.PauseAll(c.Request().Context(), "admin"); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) resumeAll(c echo.Context) error {
	if err := s.pauses.ResumeAll(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) pauseContact(c echo.Context) error {
	req := &contactActionRequest{}
	if err := req.bind(c); err != nil {
		return err
	}
	if err := s.pauses.Pause(c.Request().Context(), req.ContactKey, pause.ReasonManual); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) resumeContact(c echo.Context) error {
	req := &contactActionRequest{}
	if err := req.bind(c); err != nil {
		return err
	}
	if err := s.pauses.Resume(c.Request().Context(), req.ContactKey); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) resetRateLimit(c echo.Context) error {
	req := &contactActionRequest{}
	if err := req.bind(c); err != nil {
		return err
	}
	clearPause := c.QueryParam("keepPause") != "true"
	if err := s.limiter.Reset(c.Request().Context(), req.ContactKey, clearPause); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) tokenStats(c echo.Context) error {
	day := time.Now()
	if d := c.QueryParam("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		day = parsed
	}
	stats, err := s.kv.MapGet(c.Request().Context(), kv.StatsTokensKey(day))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}
