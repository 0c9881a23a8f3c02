package main

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"pix2pix/data"
	pix2pix "pix2pix/src"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve CHECKPOINT",
		Short: "Serve a trained generator over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE:  ServeHandler,
	}
	addModelFlags(serveCmd)
	serveCmd.Flags().String("host", "127.0.0.1:8686", "Listen address")
	serveCmd.Flags().Int("size", 256, "Images are resized to size×size before translation")
	return serveCmd
}

// ServeHandler loads a checkpoint and serves /api/translate until the
// command context is cancelled.
func ServeHandler(cmd *cobra.Command, args []string) error {
	opts, err := modelOptions(cmd)
	if err != nil {
		return err
	}
	opts.LambdaDistill = 0
	m, err := pix2pix.NewModel(opts)
	if err != nil {
		return err
	}
	if _, err := m.LoadCheckpoint(args[0]); err != nil {
		return err
	}
	size, _ := cmd.Flags().GetInt("size")
	host, _ := cmd.Flags().GetString("host")

	s, err := NewServer(m, size)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", host)
	if err != nil {
		return err
	}
	return s.Serve(cmd.Context(), ln)
}

// Server translates uploaded images with one shared model. Requests are
// serialized because layers cache their last forward pass.
type Server struct {
	mu    sync.Mutex
	model *pix2pix.Model
	size  int
}

// NewServer puts m in eval mode and checks that size suits the generator.
func NewServer(m *pix2pix.Model, size int) (*Server, error) {
	div := 1 << m.Options().NumDowns
	if size <= 0 || size%div != 0 {
		return nil, errors.New("size must be a positive multiple of 2^num-downs")
	}
	m.Eval()
	return &Server{model: m, size: size}, nil
}

// GenerateRoutes returns the gin engine with all API routes.
func (s *Server) GenerateRoutes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.HandleMethodNotAllowed = true

	r.GET("/api/health", s.HealthHandler)
	r.POST("/api/translate", s.TranslateHandler)
	return r
}

// Serve runs the HTTP server on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.GenerateRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server shutdown", "error", err)
		}
	}()

	slog.Info("listening", "addr", ln.Addr().String(), "run", s.model.RunID())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// HealthHandler reports the loaded model.
func (s *Server) HealthHandler(c *gin.Context) {
	o := s.model.Options()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"run":       s.model.RunID(),
		"direction": o.Direction,
		"size":      s.size,
	})
}

// TranslateHandler reads the multipart field "image" and responds with the
// generated PNG.
func (s *Server) TranslateHandler(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing image field"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	img, err := data.DecodeImage(f)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	x, err := data.ToTensor(data.Resize(img, s.size, s.size), s.model.Options().InputNC)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	start := time.Now()
	out, err := s.model.Translate(x)
	s.mu.Unlock()
	if err != nil {
		slog.Error("translate", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	result, err := data.TensorImage(out, 0)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, result); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	slog.Debug("translated", "file", fh.Filename, "duration", time.Since(start))
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}
