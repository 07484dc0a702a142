// Package httpstatic serves the generated HLS segments, playlists, and
// recordings over plain HTTP, plus a small JSON diagnostics endpoint over
// the accumulator's live statistics.
package httpstatic

import (
	"encoding/json"
	"net/http"

	"github.com/nplex/tracecoord/internal/accumulator"
	"github.com/nplex/tracecoord/internal/scheduler"
)

// statsView is the combined /api/stats payload.
type statsView struct {
	Accumulator accumulator.Stats `json:"accumulator"`
	Scheduler   scheduler.Stats   `json:"scheduler"`
}

// contentTypeRewrites maps a sniffed or extension-derived content type to
// the value clients actually expect. Some systems sniff .ts segments as a
// DLNA MIME type that browsers don't know what to do with.
var contentTypeRewrites = map[string]string{
	"video/vnd.dlna.mpeg-tts": "application/octet-stream",
}

// rewritingWriter wraps an http.ResponseWriter so that a Content-Type
// set by the underlying file server is rewritten before being sent.
type rewritingWriter struct {
	http.ResponseWriter
	rewritten bool
}

func (w *rewritingWriter) WriteHeader(status int) {
	if !w.rewritten {
		if ct := w.Header().Get("Content-Type"); ct != "" {
			if replacement, ok := contentTypeRewrites[ct]; ok {
				w.Header().Set("Content-Type", replacement)
			}
		}
		w.rewritten = true
	}
	w.ResponseWriter.WriteHeader(status)
}

// NewHandler builds the root HTTP handler: static file serving rooted at
// root, plus /api/stats reporting the accumulator's and scheduler's live
// diagnostics side by side.
func NewHandler(root string, acc *accumulator.Accumulator, sched *scheduler.Scheduler) http.Handler {
	mux := http.NewServeMux()

	fileServer := http.FileServer(http.Dir(root))
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fileServer.ServeHTTP(&rewritingWriter{ResponseWriter: w}, r)
	}))

	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		schedStats, err := sched.Stats(r.Context())
		if err != nil {
			http.Error(w, "scheduler unavailable", http.StatusServiceUnavailable)
			return
		}
		view := statsView{Accumulator: acc.Stats(), Scheduler: schedStats}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	})

	return mux
}
