// Package web serves the viewer page and tells it where the websocket
// endpoint lives.
package web

import (
	"net/http"
	"path"

	log "github.com/sirupsen/logrus"
)

type Options struct {
	Logger *log.Entry
	// StaticDir holds index.html and its assets. Empty serves nothing but
	// the discovery endpoints.
	StaticDir    string
	WebsocketURL string
}

type Handler struct {
	log          *log.Entry
	staticDir    string
	websocketURL string
	mux          *http.ServeMux
}

func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	h := &Handler{
		log:          logger.WithField("component", "web"),
		staticDir:    opts.StaticDir,
		websocketURL: opts.WebsocketURL,
		mux:          http.NewServeMux(),
	}
	h.mux.HandleFunc("/websocket_url", h.handleWebsocketURL)
	h.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	h.mux.HandleFunc("/", h.handleStatic)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleWebsocketURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(h.websocketURL))
}

func (h *Handler) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		w.Header().Set("Location", "index.html")
		w.WriteHeader(http.StatusMovedPermanently)
		return
	}
	if h.staticDir == "" {
		http.NotFound(w, r)
		return
	}

	name := path.Clean("/" + r.URL.Path)
	f, err := http.Dir(h.staticDir).Open(name)
	if err != nil {
		h.log.Debugf("static file not found: path=%s", name)
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}
