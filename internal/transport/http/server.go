// Package http exposes the scheduling core over REST for the clinic UI.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"medbook/backend/internal/calendar"
	"medbook/backend/internal/domain"
	"medbook/backend/internal/scheduling"
	"medbook/backend/internal/store"
)

type schedulerService interface {
	CheckAvailability(ctx context.Context, in scheduling.AvailabilityInput) (scheduling.AvailabilityResult, error)
	Create(ctx context.Context, in scheduling.CreateInput) (*domain.Appointment, error)
	Update(ctx context.Context, id uuid.UUID, in scheduling.UpdateInput) (*domain.Appointment, error)
	Get(ctx context.Context, f store.Filter) ([]domain.Appointment, error)
	Transition(ctx context.Context, id uuid.UUID, to domain.Status) (*domain.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, by domain.CancelActor) (*domain.Appointment, error)
}

type syncService interface {
	SyncOutbound(ctx context.Context, providerID string) (calendar.SyncReport, error)
	SyncInbound(ctx context.Context, providerID string) (calendar.SyncReport, error)
}

type Server struct {
	sched schedulerService
	sync  syncService
	log   *slog.Logger
}

func NewServer(sched schedulerService, sync syncService, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		sched: sched,
		sync:  sync,
		log:   log.With(slog.String("component", "http.server")),
	}
}

func (s *Server) Register(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.GET("/availability", s.checkAvailability)
	v1.POST("/appointments", s.createAppointment)
	v1.GET("/appointments", s.listAppointments)
	v1.PATCH("/appointments/:id", s.updateAppointment)
	v1.POST("/appointments/:id/status", s.changeStatus)
	v1.POST("/appointments/:id/cancel", s.cancelAppointment)
	v1.POST("/providers/:id/sync", s.syncOutbound)
	v1.POST("/providers/:id/import", s.syncInbound)
}

// RequestTimeout bounds every handler with a server-side deadline
// unless the caller already set one.
func RequestTimeout(timeout time.Duration) gin.HandlerFunc {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return func(c *gin.Context) {
		if _, ok := c.Request.Context().Deadline(); ok {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
