package middleware

import (
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// minCompressLength is the smallest body worth compressing. Session views
// carrying the full status list usually exceed it; tick-sized bodies do not.
const minCompressLength = 1024

// brotliWriter buffers until minCompressLength bytes are seen, then switches
// to brotli for the rest of the response.
type brotliWriter struct {
	gin.ResponseWriter
	enc        *brotli.Writer
	buf        []byte
	compressed bool
}

func (w *brotliWriter) Write(data []byte) (int, error) {
	if w.compressed {
		return w.enc.Write(data)
	}
	w.buf = append(w.buf, data...)
	if len(w.buf) < minCompressLength {
		return len(data), nil
	}

	w.compressed = true
	w.Header().Set("Content-Encoding", "br")
	w.Header().Del("Content-Length")
	if _, err := w.enc.Write(w.buf); err != nil {
		return 0, err
	}
	w.buf = nil
	return len(data), nil
}

func (w *brotliWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// finish writes a short body as-is or closes the brotli stream.
func (w *brotliWriter) finish() error {
	if w.compressed {
		return w.enc.Close()
	}
	if len(w.buf) == 0 {
		return nil
	}
	_, err := w.ResponseWriter.Write(w.buf)
	return err
}

// Brotli compresses REST responses for clients that accept br.
// WebSocket upgrades and event streams pass through untouched.
func Brotli() gin.HandlerFunc {
	return func(c *gin.Context) {
		if streaming(c.Request) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")
		bw := &brotliWriter{
			ResponseWriter: c.Writer,
			enc:            brotli.NewWriterLevel(c.Writer, brotli.DefaultCompression),
		}
		c.Writer = bw
		defer func() {
			if err := bw.finish(); err != nil {
				_ = c.Error(err)
			}
		}()
		c.Next()
	}
}

func streaming(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") ||
		strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "br") {
			return true
		}
	}
	return false
}
