package server

import (
	"encoding/json"
	"net/http"

	"lockstep-server/internal/engine"
)

// DebugHandler предоставляет доступ к внутреннему состоянию сессии
type DebugHandler struct {
	Service *engine.Server
}

func NewDebugHandler(s *engine.Server) *DebugHandler {
	return &DebugHandler{Service: s}
}

// RegisterRoutes регистрирует debug-эндпоинты
func (h *DebugHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/status", h.handleStatus)
	mux.HandleFunc("/debug/connections", h.handleConnections)
	mux.HandleFunc("/debug/queue", h.handleQueue)
	mux.HandleFunc("/debug/sync", h.handleSync)
}

func (h *DebugHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Service.Status())
}

// /debug/connections - все соединения, включая еще не вошедшие в игру
func (h *DebugHandler) handleConnections(w http.ResponseWriter, r *http.Request) {
	clients := h.Service.Clients()
	if len(clients) == 0 {
		writeJSON(w, nil)
		return
	}
	writeJSON(w, clients)
}

// /debug/queue - очередь исполнения в порядке извлечения и входящие очереди
func (h *DebugHandler) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Service.Queues())
}

// /debug/sync - последние контрольные суммы сервера
func (h *DebugHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Service.SyncHistory())
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	// Разрешаем запросы с любого источника (нужно для локального debug-клиента)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	w.Header().Set("Content-Type", "application/json")

	// Пустой список отдаем как [], а не null
	if data == nil {
		w.Write([]byte("[]"))
		return
	}

	json.NewEncoder(w).Encode(data)
}
