// Package server exposes the remover chain over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/rembg/config"
	"github.com/chaos-io/rembg/rembg"
	"github.com/chaos-io/rembg/util"
)

const (
	HeaderRequestID = "X-Request-Id"
	HeaderMethod    = "X-Rembg-Method"
	HeaderSubject   = "X-Rembg-Subject"

	formField = "image"
)

type Server struct {
	chain *rembg.Chain
	cfg   config.ServerConfig
}

func New(chain *rembg.Chain, cfg config.ServerConfig) *Server {
	return &Server{chain: chain, cfg: cfg}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog())

	r.GET("/healthz", s.health)
	r.POST("/api/remove", s.remove)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	err := s.chain.PrimaryAvailable(c.Request.Context())
	resp := gin.H{"status": "ok", "model": err == nil}
	if err != nil {
		resp["model_error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) remove(c *gin.Context) {
	if c.Request.ContentLength > s.cfg.MaxUploadBytes {
		abort(c, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.cfg.MaxUploadBytes))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	fh, err := c.FormFile(formField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(c, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.cfg.MaxUploadBytes))
			return
		}
		abort(c, http.StatusBadRequest, fmt.Errorf("missing form file %q: %w", formField, err))
		return
	}

	f, err := fh.Open()
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	defer func() {
		_ = f.Close()
	}()

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("decode %s: %w", fh.Filename, err))
		return
	}

	res, err := s.chain.Remove(c.Request.Context(), img)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	var buf bytes.Buffer
	if err := util.EncodePNG(&buf, res.Image); err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	c.Header(HeaderMethod, res.Method)
	c.Header(HeaderSubject, formatRect(res.Subject))
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func abort(c *gin.Context, code int, err error) {
	slog.Warn("request failed", "request_id", c.GetString(HeaderRequestID), "status", code, "err", err)
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error(), "request_id": c.GetString(HeaderRequestID)})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = ksuid.New().String()
		}
		c.Set(HeaderRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("request",
			"request_id", c.GetString(HeaderRequestID),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}
}

func formatRect(r image.Rectangle) string {
	if r.Empty() {
		return ""
	}
	return fmt.Sprintf("%d,%d,%d,%d", r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
}
