package middleware

import (
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// GzipConfig holds gzip compression configuration
type GzipConfig struct {
	Enabled       bool
	MinLength     int      // responses shorter than this go out uncompressed
	Level         int      // 1-9
	ContentTypes  []string // compressible media types
	ExcludedPaths []string // path prefixes never compressed
}

// DefaultGzipConfig returns default gzip configuration. GZIP_ENABLED=false
// and GZIP_MIN_LENGTH override the defaults.
func DefaultGzipConfig() *GzipConfig {
	return &GzipConfig{
		Enabled:      os.Getenv("GZIP_ENABLED") != "false",
		MinLength:    envInt("GZIP_MIN_LENGTH", 1024),
		Level:        gzip.DefaultCompression,
		ContentTypes: []string{"application/json", "text/plain"},
		// auction responses are small and latency bound
		ExcludedPaths: []string{"/metrics", "/health", "/status", "/ads/auction"},
	}
}

// Gzip compresses dashboard, report and wallet responses
type Gzip struct {
	config *GzipConfig
	pool   sync.Pool
}

// NewGzip creates a new Gzip middleware
func NewGzip(config *GzipConfig) *Gzip {
	if config == nil {
		config = DefaultGzipConfig()
	}
	level := config.Level
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}

	g := &Gzip{config: config}
	g.pool.New = func() interface{} {
		zw, _ := gzip.NewWriterLevel(io.Discard, level)
		return zw
	}
	return g
}

func (g *Gzip) compressible(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(mediaType)
	for _, ct := range g.config.ContentTypes {
		if strings.EqualFold(ct, mediaType) {
			return true
		}
	}
	return false
}

func (g *Gzip) excluded(path string) bool {
	for _, prefix := range g.config.ExcludedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// acceptsGzip reports whether Accept-Encoding allows gzip with a non-zero q
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		coding = strings.TrimSpace(coding)
		if coding != "gzip" && coding != "*" {
			continue
		}
		q := strings.ReplaceAll(strings.TrimSpace(params), " ", "")
		if q == "q=0" || q == "q=0.0" || q == "q=0.00" || q == "q=0.000" {
			continue
		}
		return true
	}
	return false
}

// gzipResponseWriter holds back the first MinLength bytes to decide whether
// compression is worth it, then streams
type gzipResponseWriter struct {
	http.ResponseWriter
	g       *Gzip
	status  int
	pending []byte
	zw      *gzip.Writer
	decided bool
}

func (w *gzipResponseWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if !w.decided {
		w.pending = append(w.pending, b...)
		if len(w.pending) < w.g.config.MinLength {
			return len(b), nil
		}
		if err := w.decide(true); err != nil {
			return 0, err
		}
		return len(b), nil
	}
	if w.zw != nil {
		return w.zw.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// decide commits the headers and writes whatever was held back
func (w *gzipResponseWriter) decide(longEnough bool) error {
	w.decided = true
	h := w.Header()

	if longEnough && w.status != http.StatusNoContent && w.status != http.StatusNotModified &&
		h.Get("Content-Encoding") == "" && w.g.compressible(h.Get("Content-Type")) {
		h.Set("Content-Encoding", "gzip")
		h.Del("Content-Length")
		h.Add("Vary", "Accept-Encoding")
		w.zw = w.g.pool.Get().(*gzip.Writer)
		w.zw.Reset(w.ResponseWriter)
	}
	w.ResponseWriter.WriteHeader(w.status)

	pending := w.pending
	w.pending = nil
	if len(pending) == 0 {
		return nil
	}
	var err error
	if w.zw != nil {
		_, err = w.zw.Write(pending)
	} else {
		_, err = w.ResponseWriter.Write(pending)
	}
	return err
}

// Flush forces the decision with what has been written so far
func (w *gzipResponseWriter) Flush() {
	if !w.decided {
		if w.status == 0 {
			w.status = http.StatusOK
		}
		_ = w.decide(false)
	}
	if w.zw != nil {
		_ = w.zw.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// finish writes any held-back body and returns the compressor to the pool
func (w *gzipResponseWriter) finish() error {
	if !w.decided {
		if w.status == 0 {
			w.status = http.StatusOK
		}
		if err := w.decide(false); err != nil {
			return err
		}
	}
	if w.zw == nil {
		return nil
	}
	err := w.zw.Close()
	w.zw.Reset(io.Discard)
	w.g.pool.Put(w.zw)
	w.zw = nil
	return err
}

// Middleware returns the gzip compression middleware handler
func (g *Gzip) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.config.Enabled || r.Method == http.MethodHead || g.excluded(r.URL.Path) ||
			!acceptsGzip(r.Header.Get("Accept-Encoding")) {
			next.ServeHTTP(w, r)
			return
		}

		grw := &gzipResponseWriter{ResponseWriter: w, g: g}
		// headers are already sent if finish fails; nothing left to report to
		defer func() { _ = grw.finish() }()

		next.ServeHTTP(grw, r)
	})
}
