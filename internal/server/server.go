// Package server exposes the card analyzer over HTTP.
package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	cardanalyzer "github.com/menta2k/card-analyzer"
	"github.com/menta2k/card-analyzer/pkg/types"
)

const requestIDHeader = "X-Request-ID"

// CardProcessor is the part of cardanalyzer.Analyzer the server uses.
type CardProcessor interface {
	ProcessBytes(ctx context.Context, data []byte, hint string) (types.CardRecord, error)
}

// Options configure the HTTP surface.
type Options struct {
	// MaxUploadBytes rejects larger uploads; zero means 10 MiB.
	MaxUploadBytes int64
	// RequestTimeout bounds one analysis; zero means no extra bound.
	RequestTimeout time.Duration
}

// Server holds the handlers.
type Server struct {
	proc CardProcessor
	opts Options
	log  logrus.FieldLogger
}

// New creates a server around proc.
func New(proc CardProcessor, opts Options, log logrus.FieldLogger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{proc: proc, opts: opts, log: log}
}

// Router returns a gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.MaxMultipartMemory = s.opts.MaxUploadBytes

	r.GET("/health", s.health)
	v1 := r.Group("/api/v1")
	v1.POST("/cards", s.analyzeCard)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Set("request_id", id)

		start := time.Now()
		c.Next()

		s.log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).Round(time.Millisecond),
		}).Info("request")
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": cardanalyzer.Version})
}

// analyzeCard accepts a multipart "file" and an optional payment_network
// query hint. Image content problems are reported in the record's obs.
func (s *Server) analyzeCard(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fh.Size > s.opts.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.opts.MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}

	ctx := c.Request.Context()
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	record, err := s.proc.ProcessBytes(ctx, data, c.Query("payment_network"))
	if err != nil {
		s.log.WithError(err).WithField("request_id", c.GetString("request_id")).Error("analysis failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed"})
		return
	}
	c.JSON(http.StatusOK, record)
}
