package control

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/small-frappuccino/kokobot/pkg/files"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
	"github.com/small-frappuccino/kokobot/pkg/log"
	"github.com/small-frappuccino/kokobot/pkg/service"
)

const (
	defaultMaxBodyBytes = 64 * 1024
	healthTimeout       = 3 * time.Second
)

// SessionSource lists live interactive sessions.
type SessionSource interface {
	Sessions() []interactive.Session
}

// Options wires the data the control endpoints serve. Nil fields disable the
// matching endpoint (it answers 404).
type Options struct {
	Sessions SessionSource
	Metrics  http.Handler
	Services func() []service.ServiceInfo
	Config   *files.ConfigManager
	// Checks run on /healthz; any failure turns the response into a 503.
	Checks map[string]func(context.Context) error
}

// Server exposes operational endpoints for a running bot.
type Server struct {
	addr       string
	opts       Options
	httpServer *http.Server
	listener   net.Listener
}

// NewServer returns nil if addr is empty.
func NewServer(addr string, opts Options) *Server {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}

	s := &Server{addr: addr, opts: opts}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/sessions", s.handleSessions)
	mux.HandleFunc("/v1/services", s.handleServices)
	mux.HandleFunc("/v1/config", s.handleConfig)
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics)
	}
	return mux
}

// Addr is the bound address once Start has run, the configured one before.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start opens the control server listening socket.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind control server: %w", err)
	}
	s.listener = ln

	log.ApplicationLogger().Info("Control server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ApplicationLogger().Error("Control server stopped unexpectedly", "err", err)
		}
	}()

	return nil
}

// Stop shuts down the control server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown control server: %w", err)
	}

	log.ApplicationLogger().Info("Control server stopped", "addr", s.addr)
	return nil
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(s.opts.Checks))}
	code := http.StatusOK
	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Sessions == nil {
		http.NotFound(w, r)
		return
	}

	sessions := s.opts.Sessions.Sessions()
	infos := make([]interactive.Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	slices.SortFunc(infos, func(a, b interactive.Info) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.MessageID, b.MessageID))
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(infos),
		"sessions": infos,
	})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Services == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": s.opts.Services()})
}

// handleConfig serves the current settings on GET and applies a flat JSON
// patch of tunables on POST. The patch is saved to settings.toml.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.opts.Config == nil {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, configView(s.opts.Config.Config()))
		return
	case http.MethodPost:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)
	defer r.Body.Close()

	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if len(patch) == 0 {
		http.Error(w, "payload must contain at least one field", http.StatusBadRequest)
		return
	}

	updated, err := s.applyConfigPatch(patch)
	if err != nil {
		status := http.StatusInternalServerError
		var httpErr *httpError
		if errors.As(err, &httpErr) {
			status = httpErr.code
		}
		http.Error(w, fmt.Sprintf("failed to apply config: %v", err), status)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"config": configView(updated),
	})
}

func (s *Server) applyConfigPatch(patch map[string]json.RawMessage) (files.BotConfig, error) {
	cfg := s.opts.Config.Config()
	for field, raw := range patch {
		setter, ok := configFieldSetters[field]
		if !ok {
			return files.BotConfig{}, badRequest(fmt.Errorf("unknown field %q", field))
		}
		if err := setter(&cfg, raw); err != nil {
			return files.BotConfig{}, badRequest(fmt.Errorf("field %s: %w", field, err))
		}
	}
	if err := cfg.Validate(); err != nil {
		return files.BotConfig{}, badRequest(err)
	}
	if err := s.opts.Config.SaveConfig(cfg); err != nil {
		return files.BotConfig{}, err
	}
	log.ApplicationLogger().Info("Settings patched via control server", "fields", len(patch))
	return s.opts.Config.Config(), nil
}

func configView(cfg files.BotConfig) map[string]any {
	return map[string]any{
		"prefix":               cfg.Prefix,
		"theme":                cfg.Theme,
		"page_size":            cfg.Interactive.PageSize,
		"session_expiry":       cfg.Interactive.Expiry.String(),
		"mixer_default_groups": cfg.Mixer.DefaultGroups,
		"mixer_max_groups":     cfg.Mixer.MaxGroups,
		"lookup_marker":        cfg.Notes.LookupMarker,
		"notice_ttl":           cfg.Notes.NoticeTTL.String(),
		"roles_enabled":        cfg.Roles.Enabled,
		"roles_purge_interval": cfg.Roles.PurgeInterval.String(),
		"log_level":            cfg.Logging.Level,
	}
}

type setterFunc func(*files.BotConfig, json.RawMessage) error

var configFieldSetters = map[string]setterFunc{
	"prefix":               stringSetter(func(c *files.BotConfig, v string) { c.Prefix = v }),
	"theme":                stringSetter(func(c *files.BotConfig, v string) { c.Theme = v }),
	"page_size":            intSetter(func(c *files.BotConfig, v int) { c.Interactive.PageSize = v }),
	"session_expiry":       durationSetter(func(c *files.BotConfig, v time.Duration) { c.Interactive.Expiry.Duration = v }),
	"mixer_default_groups": intSetter(func(c *files.BotConfig, v int) { c.Mixer.DefaultGroups = v }),
	"mixer_max_groups":     intSetter(func(c *files.BotConfig, v int) { c.Mixer.MaxGroups = v }),
	"lookup_marker":        stringSetter(func(c *files.BotConfig, v string) { c.Notes.LookupMarker = v }),
	"notice_ttl":           durationSetter(func(c *files.BotConfig, v time.Duration) { c.Notes.NoticeTTL.Duration = v }),
	"roles_enabled":        boolSetter(func(c *files.BotConfig, v bool) { c.Roles.Enabled = v }),
	"roles_purge_interval": durationSetter(func(c *files.BotConfig, v time.Duration) { c.Roles.PurgeInterval.Duration = v }),
	"log_level":            stringSetter(func(c *files.BotConfig, v string) { c.Logging.Level = v }),
}

func stringSetter(assign func(*files.BotConfig, string)) setterFunc {
	return func(c *files.BotConfig, raw json.RawMessage) error {
		v, err := decodeString(raw)
		if err != nil {
			return err
		}
		assign(c, v)
		return nil
	}
}

func boolSetter(assign func(*files.BotConfig, bool)) setterFunc {
	return func(c *files.BotConfig, raw json.RawMessage) error {
		v, err := decodeBool(raw)
		if err != nil {
			return err
		}
		assign(c, v)
		return nil
	}
}

func intSetter(assign func(*files.BotConfig, int)) setterFunc {
	return func(c *files.BotConfig, raw json.RawMessage) error {
		v, err := decodeInt(raw)
		if err != nil {
			return err
		}
		if v <= 0 {
			return fmt.Errorf("must be positive, got %d", v)
		}
		assign(c, v)
		return nil
	}
}

func durationSetter(assign func(*files.BotConfig, time.Duration)) setterFunc {
	return func(c *files.BotConfig, raw json.RawMessage) error {
		v, err := decodeString(raw)
		if err != nil {
			return err
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("must be positive, got %s", d)
		}
		assign(c, d)
		return nil
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.ApplicationLogger().Error("Failed to encode control response", "err", err)
	}
}

func badRequest(err error) error {
	return &httpError{
		code: http.StatusBadRequest,
		err:  err,
	}
}

type httpError struct {
	code int
	err  error
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

func decodeString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("empty string value")
	}

	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	return v, nil
}

func decodeBool(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 {
		return false, fmt.Errorf("empty bool value")
	}
	if bytes.Equal(raw, []byte("null")) {
		return false, nil
	}

	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, err
	}
	return v, nil
}

func decodeInt(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("empty int value")
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
