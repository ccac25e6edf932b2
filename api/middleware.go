package api

import (
	"bytes"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// =============================================================================
// REQUEST LOGGING
// =============================================================================

// RequestLogger logs one line per request through zerolog.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				evt := log.Info()
				if status >= http.StatusInternalServerError {
					evt = log.Error()
				}
				evt.
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("actor", r.Header.Get(HeaderActorID)).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

// HeaderIdempotencyKey names the client-chosen replay key.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

type cachedResponse struct {
	status      int
	contentType string
	body        []byte
}

// Idempotency replays the first response for a repeated Idempotency-Key.
// Keys are scoped to actor, method and path. Only completed responses below
// 500 are remembered; two requests racing with the same key both execute.
type Idempotency struct {
	cache *lru.Cache[string, cachedResponse]
}

// NewIdempotency keeps up to size responses.
func NewIdempotency(size int) (*Idempotency, error) {
	cache, err := lru.New[string, cachedResponse](size)
	if err != nil {
		return nil, err
	}
	return &Idempotency{cache: cache}, nil
}

// Middleware applies to POST requests carrying an Idempotency-Key header.
func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderIdempotencyKey)
		if r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		scoped := r.Header.Get(HeaderActorID) + "|" + r.Method + "|" + r.URL.Path + "|" + key

		if cached, ok := i.cache.Get(scoped); ok {
			if cached.contentType != "" {
				w.Header().Set("Content-Type", cached.contentType)
			}
			w.Header().Set(HeaderReplayed, "true")
			w.WriteHeader(cached.status)
			w.Write(cached.body)
			return
		}

		rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status < http.StatusInternalServerError {
			i.cache.Add(scoped, cachedResponse{
				status:      rec.status,
				contentType: rec.Header().Get("Content-Type"),
				body:        rec.buf.Bytes(),
			})
		}
	})
}

// Len reports the number of remembered responses.
func (i *Idempotency) Len() int {
	return i.cache.Len()
}

// recordingWriter passes the response through while keeping a copy.
type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	buf         bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}
