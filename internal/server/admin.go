package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/engine"
	"lockstep-server/pkg/logger"
	"lockstep-server/pkg/utils"
)

const adminIssuer = "lockstep-server"

// AdminAuth выдает и проверяет токены HTTP-админки. Ключ подписи живет
// только в памяти процесса: после рестарта нужно войти заново.
type AdminAuth struct {
	hash   string
	jwtKey []byte
	ttl    time.Duration
	issuer string
}

// NewAdminAuth - hash это bcrypt-хеш пароля администратора (см. engine.HashPassword).
func NewAdminAuth(hash string, ttl time.Duration) (*AdminAuth, error) {
	if hash == "" {
		return nil, errors.New("admin: password hash is empty")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AdminAuth{hash: hash, jwtKey: utils.RandomBytes(32), ttl: ttl, issuer: adminIssuer}, nil
}

// RegisterRoutes регистрирует /admin/*. Все, кроме login, требуют токен.
func (a *AdminAuth) RegisterRoutes(mux *http.ServeMux, e *engine.Server) {
	h := &adminHandler{engine: e}
	mux.HandleFunc("/admin/login", enableCORS(a.HandleLogin))
	mux.Handle("/admin/kick", a.RequireAuth(http.HandlerFunc(h.handleKick)))
	mux.Handle("/admin/ban", a.RequireAuth(http.HandlerFunc(h.handleBan)))
	mux.Handle("/admin/rcon", a.RequireAuth(http.HandlerFunc(h.handleRcon)))
}

type LoginReq struct {
	Password string `json:"password"`
}
type LoginResp struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (a *AdminAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req LoginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := engine.CheckPasswordHash(a.hash, req.Password); err != nil {
		logger.Log.WithField("remote", r.RemoteAddr).Warn("admin login failed")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	signed, exp, err := a.issue(time.Now())
	if err != nil {
		http.Error(w, "token error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(LoginResp{Token: signed, ExpiresAt: exp.Unix()})
}

func (a *AdminAuth) issue(now time.Time) (string, time.Time, error) {
	exp := now.Add(a.ttl)
	claims := jwt.MapClaims{
		"sub": "admin",
		"iss": a.issuer,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(a.jwtKey)
	return signed, exp, err
}

// ParseToken проверяет подпись, алгоритм, издателя и срок действия.
func (a *AdminAuth) ParseToken(tok string) (string, error) {
	if tok == "" {
		return "", errors.New("missing token")
	}
	t, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) {
		return a.jwtKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(a.issuer))
	if err != nil || !t.Valid {
		return "", errors.New("invalid token")
	}
	sub, err := t.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("bad claims")
	}
	return sub, nil
}

func (a *AdminAuth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if _, err := a.ParseToken(tok); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type adminHandler struct {
	engine *engine.Server
}

type ClientActionReq struct {
	ID     uint32 `json:"id"`
	Reason string `json:"reason"`
}

type RconReq struct {
	Command string `json:"command"`
}
type RconResp struct {
	Lines []string `json:"lines"`
}

func (h *adminHandler) handleKick(w http.ResponseWriter, r *http.Request) {
	var req ClientActionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	h.reply(w, h.engine.Kick(domain.ClientID(req.ID), req.Reason))
}

func (h *adminHandler) handleBan(w http.ResponseWriter, r *http.Request) {
	var req ClientActionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	h.reply(w, h.engine.Ban(domain.ClientID(req.ID), req.Reason))
}

func (h *adminHandler) handleRcon(w http.ResponseWriter, r *http.Request) {
	var req RconReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	lines := h.engine.Rcon(req.Command)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, RconResp{Lines: lines})
}

func (h *adminHandler) reply(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, map[string]bool{"ok": true})
	case errors.Is(err, engine.ErrUnknownClient):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrNoBanList):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
