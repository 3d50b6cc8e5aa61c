package registry

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/playpenhq/playpen/types"
	"github.com/playpenhq/playpen/utils"
)

// Handler exposes the registry over HTTP.
type Handler struct {
	reg *Registry
}

// NewHandler wraps a Registry for HTTP serving.
func NewHandler(reg *Registry) *Handler {
	return &Handler{reg: reg}
}

// Routes returns the registry's HTTP mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", h.register)
	mux.HandleFunc("POST /heartbeat/{id}", h.heartbeat)
	mux.HandleFunc("GET /servers", h.list)
	mux.HandleFunc("GET /servers/{id}", h.get)
	mux.HandleFunc("DELETE /servers/{id}", h.deregister)
	mux.HandleFunc("GET /health", h.health)
	return mux
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var reg Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		utils.WriteError(w, r, http.StatusBadRequest, types.CodeInvalidRequest, "malformed registration body", nil)
		return
	}
	rec, err := h.reg.Register(r.Context(), &reg)
	if err != nil {
		utils.WriteError(w, r, http.StatusBadRequest, types.CodeInvalidRequest, err.Error(), nil)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "registered",
		"server_id": rec.ServerID,
	})
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	players := -1
	if raw := r.URL.Query().Get("current_players"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.WriteError(w, r, http.StatusBadRequest, types.CodeInvalidRequest, "invalid current_players", nil)
			return
		}
		players = n
	}
	if err := h.reg.Heartbeat(r.Context(), id, players); err != nil {
		utils.WriteError(w, r, http.StatusNotFound, types.CodeNotFound, err.Error(), nil)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	servers := h.reg.List(r.Context())
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"servers": servers,
		"count":   len(servers),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.reg.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			utils.WriteError(w, r, http.StatusNotFound, types.CodeNotFound, err.Error(), nil)
			return
		}
		utils.WriteError(w, r, http.StatusInternalServerError, types.CodeRuntimeFailure, err.Error(), nil)
		return
	}
	utils.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) deregister(w http.ResponseWriter, r *http.Request) {
	h.reg.Deregister(r.Context(), r.PathValue("id"))
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"status":  "healthy",
		"servers": h.reg.Count(),
	}
	if last := h.reg.LastSweep(); !last.IsZero() {
		out["last_sweep"] = last
	}
	utils.WriteJSON(w, http.StatusOK, out)
}
