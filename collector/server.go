package collector

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/tamperguard/guard/report"
	"github.com/hazyhaar/tamperguard/idgen"
	"github.com/hazyhaar/tamperguard/kit"
)

// MaxReportBytes caps a report request body.
const MaxReportBytes = 32 * 1024

const previewRunes = 200

// Config holds the settings needed to create a Server.
type Config struct {
	Store  *Store
	Logger *slog.Logger
	NewID  idgen.Generator  // default: "tev_" + UUIDv7
	Now    func() time.Time // default: time.Now

	// ReportLimit caps report submissions per client IP per ReportWindow.
	// Default: 120 per minute. Negative disables the limit.
	ReportLimit  int
	ReportWindow time.Duration

	// TrustProxy takes the client address from X-Forwarded-For or
	// X-Real-IP. Set it only when a reverse proxy in front of the
	// collector overwrites those headers.
	TrustProxy bool
}

// Server serves the collector API.
type Server struct {
	store  *Store
	logger *slog.Logger
	newID  idgen.Generator
	now    func() time.Time
	strict *bluemonday.Policy
	limit  *rateLimiter
	proxy  bool
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("collector: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = idgen.Prefixed("tev_", idgen.UUIDv7())
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ReportLimit == 0 {
		cfg.ReportLimit = 120
	}
	if cfg.ReportWindow <= 0 {
		cfg.ReportWindow = time.Minute
	}
	return &Server{
		store:  cfg.Store,
		logger: cfg.Logger,
		newID:  cfg.NewID,
		now:    cfg.Now,
		strict: bluemonday.StrictPolicy(),
		limit:  newRateLimiter(cfg.ReportLimit, cfg.ReportWindow, cfg.Now),
		proxy:  cfg.TrustProxy,
	}, nil
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.proxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(withRequestContext)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.With(s.limit.middleware).Post(report.ReportPath, s.handleReport)
	r.Get("/tamper/events", s.handleList)
	r.Get("/tamper/events/{id}", s.handleGet)
	return r
}

// withRequestContext copies chi's request id into the kit context.
func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), "http")
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = kit.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxReportBytes)

	var ev report.TamperEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonErr(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ev.EventType = strings.TrimSpace(ev.EventType)
	if ev.EventType == "" {
		jsonErr(w, "eventType is required", http.StatusBadRequest)
		return
	}
	if ev.TamperType != "" && !ev.TamperType.Valid() {
		jsonErr(w, "unknown tamperType", http.StatusBadRequest)
		return
	}
	if ev.ID == "" || len(ev.ID) > 64 {
		ev.ID = s.newID()
	}
	now := s.now()
	if ev.Timestamp == 0 {
		ev.Timestamp = now.UnixMilli()
	}

	stored := Stored{TamperEvent: ev, RemoteAddr: r.RemoteAddr, ReceivedAt: now.UnixMilli()}
	if err := s.store.Insert(r.Context(), stored); err != nil {
		s.logger.Error("collector: store event", "error", err, "request_id", kit.GetRequestID(r.Context()))
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.logger.Info("collector: event received",
		"id", ev.ID, "event_type", ev.EventType, "tamper_type", ev.TamperType,
		"confidence", ev.Confidence, "url", ev.URL, "request_id", kit.GetRequestID(r.Context()))

	writeJSON(w, http.StatusOK, map[string]string{"id": ev.ID, "status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	f := Filter{Limit: 50}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.Offset = n
		}
	}
	f.EventType = q.Get("type")
	f.TamperType = q.Get("tamper_type")

	events, err := s.store.List(r.Context(), f)
	if err != nil {
		s.logger.Error("collector: list events", "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	for i := range events {
		events[i].Preview = s.preview(events[i].TamperContent)
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		jsonErr(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("collector: get event", "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	ev.Preview = s.preview(ev.TamperContent)
	writeJSON(w, http.StatusOK, ev)
}

// preview strips every tag from tampered content and shortens it, so a
// reviewer never renders attacker markup.
func (s *Server) preview(content string) string {
	text := strings.Join(strings.Fields(s.strict.Sanitize(content)), " ")
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	r := []rune(text)
	return string(r[:previewRunes]) + "…"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
