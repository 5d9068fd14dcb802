// Package handlers exposes the pipeline over HTTP: webhook delivery of
// blob-created events, per-blob status and aggregate metrics.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-blur/internal/auth"
	"github.com/example/face-blur/internal/faces"
	"github.com/example/face-blur/internal/notification"
	"github.com/example/face-blur/internal/pipeline"
)

// MaxEventBodySize bounds a webhook delivery. Event Grid batches are at most 1 MiB.
const MaxEventBodySize = 1 << 20

// Processor is the pipeline surface used by the routes.
type Processor interface {
	HandleEvent(ctx context.Context, ev notification.Event) (*pipeline.Outcome, error)
	Status(ctx context.Context, ref faces.BlobRef) (*pipeline.StatusRecord, error)
	Metrics(ctx context.Context) (*pipeline.MetricsSummary, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Middlewares
// guard every route except /health.
func RegisterRoutes(router *gin.Engine, p Processor, logger *zap.Logger, middlewares ...gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(middlewares...)

	protected.POST("/events", func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxEventBodySize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "event batch too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read body"})
			return
		}

		events, err := notification.DecodeBatch(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognised event payload"})
			return
		}

		reqLogger := logger.With(auth.CallerField(c.Request.Context()))
		for _, ev := range events {
			if code, ok := ev.ValidationCode(); ok {
				reqLogger.Info("answering subscription validation", zap.String("event_id", ev.ID))
				c.JSON(http.StatusOK, gin.H{"validationResponse": code})
				return
			}
		}

		reqLogger.Info("event delivery received", zap.Int("events", len(events)))
		results := make([]gin.H, 0, len(events))
		for _, ev := range events {
			outcome, err := p.HandleEvent(c.Request.Context(), ev)
			if err != nil {
				reqLogger.Error("event processing failed", zap.String("event_id", ev.ID), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":    err.Error(),
					"event_id": ev.ID,
					"results":  results,
				})
				return
			}
			results = append(results, outcomeJSON(ev.ID, outcome))
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
	})

	protected.GET("/status/:container/*key", func(c *gin.Context) {
		ref := faces.BlobRef{
			Container: c.Param("container"),
			Key:       strings.TrimPrefix(c.Param("key"), "/"),
		}
		if ref.Container == "" || ref.Key == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "container and key are required"})
			return
		}

		reqLogger := logger.With(auth.CallerField(c.Request.Context()), zap.String("blob", ref.String()))
		record, err := p.Status(c.Request.Context(), ref)
		if err != nil {
			if errors.Is(err, pipeline.ErrStatusNotFound) {
				reqLogger.Info("status not found")
				c.JSON(http.StatusNotFound, gin.H{"error": "status not found"})
				return
			}
			reqLogger.Error("status lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
			return
		}
		reqLogger.Info("status served", zap.String("status", record.Status))
		c.JSON(http.StatusOK, record)
	})

	protected.GET("/metrics", func(c *gin.Context) {
		summary, err := p.Metrics(c.Request.Context())
		if err != nil {
			logger.Error("metrics aggregation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics unavailable"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func outcomeJSON(eventID string, o *pipeline.Outcome) gin.H {
	result := gin.H{
		"event_id":      eventID,
		"invocation_id": o.InvocationID,
		"status":        o.Status,
	}
	if o.Ref.Key != "" {
		result["source"] = o.Ref.String()
	}
	if o.Destination.Key != "" {
		result["destination"] = o.Destination.String()
		result["faces"] = o.Faces
	}
	return result
}
