// Package api serves the coordinator status and administrative commands
// over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"garage-control/internal/message"
	"garage-control/internal/metrics"
	"garage-control/internal/model"
)

// Backend is the coordinator surface the routes need.
type Backend interface {
	Snapshot(ctx context.Context) (model.Status, error)
	Active(ctx context.Context) ([]model.VehicleRecord, error)
	History(ctx context.Context, limit int) ([]model.VehicleRecord, error)
	LastSeen(ctx context.Context) (map[string]time.Time, error)
	Dispatch(ctx context.Context, m *message.Message) *message.Message
}

type Server struct {
	backend Backend
	router  *gin.Engine
	started time.Time
}

func New(b Backend) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log.Logger))
	s := &Server{backend: b, router: r, started: time.Now()}
	s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	s.router.GET("/status", s.status)
	s.router.GET("/vehicles", s.vehicles)
	s.router.GET("/history", s.history)
	s.router.GET("/fare/:plate", s.fare)
	s.router.POST("/close", s.closeParking)
	s.router.POST("/floors/:floor/block", s.blockFloor)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http api listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	seen, err := s.backend.LastSeen(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "erro", "motivo": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"service": "garage-central",
		"nodes":   seen,
	})
}

func (s *Server) status(c *gin.Context) {
	st, err := s.backend.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "erro", "motivo": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) vehicles(c *gin.Context) {
	recs, err := s.backend.Active(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "erro", "motivo": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (s *Server) history(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "erro", "motivo": "limit invalido"})
		return
	}
	recs, err := s.backend.History(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "erro", "motivo": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (s *Server) fare(c *gin.Context) {
	s.reply(c, s.backend.Dispatch(c.Request.Context(), message.NewCalcFare(c.Param("plate"))))
}

type closeRequest struct {
	Close *bool `json:"fechar" binding:"required"`
}

func (s *Server) closeParking(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "erro", "motivo": message.ReasonInvalidMessage})
		return
	}
	s.reply(c, s.backend.Dispatch(c.Request.Context(), message.NewCloseParking(*req.Close)))
}

type blockRequest struct {
	Block *bool `json:"bloquear" binding:"required"`
}

func (s *Server) blockFloor(c *gin.Context) {
	floor, err := strconv.Atoi(c.Param("floor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "erro", "motivo": message.ReasonInvalidFloor})
		return
	}
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "erro", "motivo": message.ReasonInvalidMessage})
		return
	}
	s.reply(c, s.backend.Dispatch(c.Request.Context(), message.NewBlockFloor(model.Floor(floor), *req.Block)))
}

func (s *Server) reply(c *gin.Context, m *message.Message) {
	code := http.StatusOK
	if m == nil {
		m = &message.Message{Status: message.StatusError, Reason: "sem resposta"}
	}
	if m.Status == message.StatusError {
		switch m.Reason {
		case message.ReasonNotFound:
			code = http.StatusNotFound
		case message.ReasonInvalidFloor, message.ReasonInvalidMessage:
			code = http.StatusBadRequest
		case message.ReasonUnavailable:
			code = http.StatusServiceUnavailable
		default:
			code = http.StatusConflict
		}
	}
	c.JSON(code, m)
}
