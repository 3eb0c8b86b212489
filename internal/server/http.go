package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	_ "net/http/pprof" // Profiling
	"strconv"
	"time"

	"lockstep-server/internal/engine"
	"lockstep-server/internal/network"
	"lockstep-server/internal/version"
	"lockstep-server/pkg/logger"
)

type Server struct {
	Engine *engine.Server
	Port   int
	Admin  *AdminAuth // nil - админка выключена
}

func New(e *engine.Server, port int, admin *AdminAuth) *Server {
	return &Server{
		Engine: e,
		Port:   port,
		Admin:  admin,
	}
}

// Handler собирает все маршруты.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", enableCORS(s.handleWS))
	mux.HandleFunc("/health", enableCORS(s.handleHealth))
	mux.HandleFunc("/version", enableCORS(s.handleVersion))

	debugHandler := NewDebugHandler(s.Engine)
	debugHandler.RegisterRoutes(mux)
	mux.Handle("/debug/pprof/", http.DefaultServeMux)

	if s.Admin != nil {
		s.Admin.RegisterRoutes(mux, s.Engine)
	}
	return mux
}

// Run запускает HTTP сервер и останавливает его при отмене ctx.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Log.Infof("🚂 Lockstep server running on :%d", s.Port)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		next(w, r)
	}
}

// handleWS поднимает WebSocket и отдает его сессии. Дальше соединением
// владеет движок: прием и отправка идут только из его тика.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := network.Accept(w, r)
	if err != nil {
		logger.Log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	if _, err := s.Engine.Accept(sock); err != nil {
		logger.Log.WithError(err).WithField("remote", sock.RemoteAddr()).Warn("connection refused")
		_ = sock.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(version.Info())
}
