package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/webssh2/webssh2/internal/adapter"
	"github.com/webssh2/webssh2/internal/gwerrors"
	"github.com/webssh2/webssh2/internal/session"
	"github.com/webssh2/webssh2/internal/sshsvc"
	"github.com/webssh2/webssh2/internal/validation"
)

// handleSSHHost seeds credentials from HTTP Basic auth for the WebSocket
// upgrade that follows. Query parameters: port, sshterm, env=K:V,...
func (s *Server) handleSSHHost(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="WebSSH2"`)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	host, err := validation.Host(chi.URLParam(r, "host"))
	if err != nil {
		s.writeError(w, gwerrors.Wrap(gwerrors.KindValidation, "invalid_host", "invalid host", err))
		return
	}

	port := s.cfg.SSH.Port
	if raw := r.URL.Query().Get("port"); raw != "" {
		p, convErr := strconv.Atoi(raw)
		if convErr != nil || validation.Port(p) != nil {
			s.writeError(w, gwerrors.New(gwerrors.KindValidation, "invalid_port", "invalid port"))
			return
		}
		port = p
	}

	if err := s.checkAllowedSubnets(r, host); err != nil {
		s.writeError(w, err)
		return
	}

	term := s.cfg.SSH.Term
	if t := r.URL.Query().Get("sshterm"); t != "" {
		term = t
	}

	creds := sshsvc.Credentials{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		Term:     term,
	}
	s.seedAndRespond(w, r, creds, "basic", parseEnvParam(r.URL.Query().Get("env")))
}

// handleSSHConfig reports the client-relevant auth policy.
func (s *Server) handleSSHConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	s.writeJSON(w, http.StatusOK, map[string]any{
		"allowedAuthMethods": s.cfg.SSH.AllowedAuthMethods,
	})
}

// handleSSO is the POST entry point for header-mapped single sign-on.
func (s *Server) handleSSO(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.SSO.Enabled {
		http.NotFound(w, r)
		return
	}

	clientIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	if clientIP == "" {
		clientIP = r.RemoteAddr
	}
	if len(s.cfg.SSO.TrustedProxies) == 0 ||
		!validation.IPInSubnets(clientIP, s.cfg.SSO.TrustedProxies) {
		s.writeError(w, gwerrors.New(gwerrors.KindAuth, "untrusted_proxy",
			"request not from a trusted proxy"))
		return
	}

	if err := r.ParseForm(); err != nil {
		s.writeError(w, gwerrors.Wrap(gwerrors.KindValidation, "invalid_form", "parse form", err))
		return
	}
	if s.cfg.SSO.CSRFProtection {
		if r.Header.Get("X-CSRF-Token") == "" || r.Header.Get("X-CSRF-Token") != r.PostFormValue("_csrf") {
			s.writeError(w, gwerrors.New(gwerrors.KindAuth, "csrf_mismatch", "CSRF token mismatch"))
			return
		}
	}

	// Headers take priority over the POST body.
	hm := s.cfg.SSO.HeaderMapping
	username := firstNonEmpty(r.Header.Get(hm.Username), r.PostFormValue("username"))
	password := firstNonEmpty(r.Header.Get(hm.Password), r.PostFormValue("password"))
	if username == "" || password == "" {
		s.writeError(w, gwerrors.New(gwerrors.KindAuth, "missing_credentials",
			"missing SSO credentials"))
		return
	}

	host, err := validation.Host(r.PostFormValue("host"))
	if err != nil {
		s.writeError(w, gwerrors.Wrap(gwerrors.KindValidation, "invalid_host", "invalid host", err))
		return
	}
	port := s.cfg.SSH.Port
	if raw := r.PostFormValue("port"); raw != "" {
		p, convErr := strconv.Atoi(raw)
		if convErr != nil || validation.Port(p) != nil {
			s.writeError(w, gwerrors.New(gwerrors.KindValidation, "invalid_port", "invalid port"))
			return
		}
		port = p
	}
	if err := s.checkAllowedSubnets(r, host); err != nil {
		s.writeError(w, err)
		return
	}

	creds := sshsvc.Credentials{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		Term:     s.cfg.SSH.Term,
	}
	s.seedAndRespond(w, r, creds, "sso", nil)
}

// handleWebSocket upgrades the socket and hands it to the adapter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), s.cfg.HTTP.Origins)
		},
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the response
	}

	var seeded *sshsvc.Credentials
	var seededEnv map[string]string
	provider := ""
	if cookie, cerr := r.Cookie(s.cfg.Session.Name); cerr == nil {
		seeded, provider, seededEnv, _ = s.sessions.Take(cookie.Value)
	}

	clientIP, clientPort := splitRemote(r.RemoteAddr)
	a := adapter.New(ws, adapter.Options{
		Config:         s.cfg,
		Store:          s.deps.Store,
		SSH:            s.deps.SSH,
		HostKeyStore:   s.deps.HostKeys,
		Bus:            s.deps.Bus,
		Logs:           s.deps.Logs,
		Registry:       s.deps.Registry,
		Seeded:         seeded,
		SeededProvider: provider,
		SeededEnv:      seededEnv,
		Client: session.ClientInfo{
			IP:        clientIP,
			Port:      clientPort,
			UserAgent: r.UserAgent(),
		},
		RequestID: chimiddleware.GetReqID(r.Context()),
	})
	log.Debug().Str("session_id", string(a.SessionID())).Msg("socket attached")
	a.Run()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.deps.Store.Len(),
	})
}

// ─── helpers ────────────────────────────────────────────────

// checkAllowedSubnets resolves the target host and verifies every address
// against the configured allow-list. An empty list allows all targets.
func (s *Server) checkAllowedSubnets(r *http.Request, host string) error {
	if len(s.cfg.SSH.AllowedSubnets) == 0 {
		return nil
	}
	addrs, err := net.DefaultResolver.LookupHost(r.Context(), host)
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindNetwork, "dns_failed", "resolve target host", err)
	}
	for _, addr := range addrs {
		if !validation.IPInSubnets(addr, s.cfg.SSH.AllowedSubnets) {
			return gwerrors.New(gwerrors.KindValidation, "subnet_denied",
				"target host is outside the allowed subnets")
		}
	}
	return nil
}

func (s *Server) seedAndRespond(w http.ResponseWriter, r *http.Request, creds sshsvc.Credentials, provider string, env map[string]string) {
	id, err := s.sessions.Put(creds, provider, env)
	if err != nil {
		s.writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Session.Name,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"host": creds.Host,
		"port": creds.Port,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps typed gateway errors to {error, code}; anything else is
// an opaque 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var gw *gwerrors.Error
	if errors.As(err, &gw) {
		status := http.StatusInternalServerError
		switch gw.Kind {
		case gwerrors.KindValidation:
			status = http.StatusBadRequest
		case gwerrors.KindAuth:
			status = http.StatusForbidden
		case gwerrors.KindNetwork, gwerrors.KindTimeout:
			status = http.StatusBadGateway
		}
		s.writeJSON(w, status, map[string]any{"error": gw.Message, "code": gw.Code})
		return
	}
	s.writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error": "An unexpected error occurred",
	})
}

// parseEnvParam parses "K:V,K2:V2" into a validated env map.
func parseEnvParam(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	env := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, found := strings.Cut(pair, ":")
		if !found {
			continue
		}
		env[strings.TrimSpace(k)] = v
	}
	return validation.EnvVars(env)
}

// originAllowed matches an Origin header against host:port patterns where
// either side may be "*".
func originAllowed(origin string, patterns []string) bool {
	if origin == "" {
		return true // non-browser client
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	for _, p := range patterns {
		ph, pp, found := strings.Cut(p, ":")
		if !found {
			ph, pp = p, "*"
		}
		if (ph == "*" || strings.EqualFold(ph, host)) && (pp == "*" || pp == port) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitRemote(remote string) (string, int) {
	host, portStr, err := net.SplitHostPort(remote)
	if err != nil {
		return remote, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
