// Package httpapi exposes the factory over HTTP: artifact upload through
// triage and synthesis, instance lifecycle, and system introspection.
package httpapi

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/projecteru2/core/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/playpenhq/playpen/analyzer"
	"github.com/playpenhq/playpen/config"
	"github.com/playpenhq/playpen/manager"
	"github.com/playpenhq/playpen/orchestrator"
	"github.com/playpenhq/playpen/synth"
	"github.com/playpenhq/playpen/types"
	"github.com/playpenhq/playpen/utils"
)

const defaultMaxPlayers = 4

// Handler wires the factory's HTTP surface to the orchestrator.
type Handler struct {
	conf *config.Config
	orch *orchestrator.Orchestrator
	mgr  *manager.Manager
}

// NewHandler creates the factory handler. mgr may be nil when no idle
// manager runs (the idle list in /system/stats is then empty).
func NewHandler(conf *config.Config, orch *orchestrator.Orchestrator, mgr *manager.Manager) *Handler {
	return &Handler{conf: conf, orch: orch, mgr: mgr}
}

// Routes returns the factory's HTTP mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", h.upload)
	mux.HandleFunc("GET /servers", h.list)
	mux.HandleFunc("GET /servers/{id}", h.get)
	mux.HandleFunc("POST /servers/{id}/stop", h.stop)
	mux.HandleFunc("POST /servers/{id}/start", h.start)
	mux.HandleFunc("DELETE /servers/{id}", h.remove)
	mux.HandleFunc("GET /servers/{id}/logs", h.logs)
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /system/stats", h.systemStats)
	mux.HandleFunc("GET /system/resources", h.systemResources)
	mux.Handle("GET /metrics", promhttp.Handler())
	return instrument(mux)
}

// kindFromFilename maps an upload's extension to its artifact kind.
func kindFromFilename(name string) (types.ArtifactKind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".js":
		return types.ArtifactScript, true
	case ".html", ".htm":
		return types.ArtifactMarkup, true
	case ".zip":
		return types.ArtifactArchive, true
	}
	return "", false
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.WithFunc("httpapi.upload")

	// Form-field overhead on top of the artifact cap.
	r.Body = http.MaxBytesReader(w, r.Body, h.conf.MaxArtifactBytes+64<<10)
	if err := r.ParseMultipartForm(h.conf.MaxArtifactBytes); err != nil {
		uploadsTotal.WithLabelValues(uploadInvalid).Inc()
		utils.WriteError(w, r, http.StatusBadRequest, types.CodeInvalidArtifact, "malformed or oversized multipart body", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		uploadsTotal.WithLabelValues(uploadInvalid).Inc()
		utils.WriteError(w, r, http.StatusBadRequest, types.CodeInvalidArtifact, "missing file field", nil)
		return
	}
	defer file.Close() //nolint:errcheck
	data, err := io.ReadAll(file)
	if err != nil {
		uploadsTotal.WithLabelValues(uploadInvalid).Inc()
		utils.WriteError(w, r, http.StatusBadRequest, types.CodeInvalidArtifact, "unreadable upload", nil)
		return
	}

	kind, ok := kindFromFilename(header.Filename)
	if !ok {
		uploadsTotal.WithLabelValues(uploadInvalid).Inc()
		utils.WriteError(w, r, http.StatusBadRequest, types.CodeInvalidArtifact,
			"unsupported artifact type, want .js, .html or .zip", nil)
		return
	}
	artifact := &types.Artifact{Kind: kind, Name: header.Filename, Data: data}

	name := r.FormValue("name")
	if name == "" {
		name = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	maxPlayers := defaultMaxPlayers
	if raw := r.FormValue("max_players"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			uploadsTotal.WithLabelValues(uploadInvalid).Inc()
			utils.WriteError(w, r, http.StatusBadRequest, types.CodeInvalidArtifact, "invalid max_players", nil)
			return
		}
		maxPlayers = n
	}

	report, err := analyzer.Analyze(artifact, h.conf.MaxArtifactBytes)
	if err != nil {
		uploadsTotal.WithLabelValues(uploadInvalid).Inc()
		utils.WriteError(w, r, http.StatusBadRequest, types.CodeInvalidArtifact, err.Error(), nil)
		return
	}
	if !report.Accepted {
		uploadsTotal.WithLabelValues(uploadRejected).Inc()
		logger.Warnf(ctx, "rejected upload %q: %d findings", header.Filename, len(report.Findings))
		utils.WriteError(w, r, http.StatusBadRequest, types.CodeSecurityRejected,
			"artifact rejected by security analysis", report.Findings)
		return
	}

	cfg := types.InstanceConfig{
		Name:        name,
		Description: r.FormValue("description"),
		MaxPlayers:  maxPlayers,
	}

	// Identical artifacts share a digest-keyed build context and image.
	tag := synth.ImageTag(artifact)
	key := tag[strings.LastIndexByte(tag, ':')+1:]
	def, err := synth.Synthesize(artifact, cfg, synth.Options{
		BaseImage: h.conf.BaseImage,
		Port:      orchestrator.ContainerPort,
		OutDir:    h.conf.BuildDir(key),
	})
	if err != nil {
		uploadsTotal.WithLabelValues(uploadFailed).Inc()
		utils.WriteError(w, r, http.StatusInternalServerError, types.CodeSynthesisError, err.Error(), nil)
		return
	}

	inst, err := h.orch.Create(ctx, def)
	if err != nil {
		uploadsTotal.WithLabelValues(uploadFailed).Inc()
		if errors.Is(err, orchestrator.ErrResourceExhausted) {
			utils.WriteError(w, r, http.StatusServiceUnavailable, types.CodeResourceExhausted, err.Error(), nil)
			return
		}
		utils.WriteError(w, r, http.StatusInternalServerError, types.CodeRuntimeFailure, err.Error(), nil)
		return
	}

	uploadsTotal.WithLabelValues(uploadAccepted).Inc()
	logger.Infof(ctx, "accepted %q as instance %s on port %d", header.Filename, utils.ShortID(inst.ID), inst.Port)
	utils.WriteJSON(w, http.StatusCreated, map[string]any{
		"server_id": inst.ID,
		"server":    inst,
		"findings":  report.Findings,
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	insts, err := h.orch.List(r.Context())
	if err != nil {
		utils.WriteError(w, r, http.StatusInternalServerError, types.CodeRuntimeFailure, err.Error(), nil)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"servers": insts,
		"count":   len(insts),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	inst, err := h.orch.Inspect(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeLifecycleError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, inst)
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Stop(r.Context(), r.PathValue("id")); err != nil {
		h.writeLifecycleError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Start(r.Context(), r.PathValue("id")); err != nil {
		h.writeLifecycleError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeLifecycleError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	lines := 0
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.WriteError(w, r, http.StatusBadRequest, types.CodeInvalidRequest, "invalid lines parameter", nil)
			return
		}
		lines = n
	}
	logLines, err := h.orch.Logs(r.Context(), id, lines)
	if err != nil {
		h.writeLifecycleError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"server_id": id,
		"logs":      logLines,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) systemStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts, pool, err := h.orch.Stats(ctx)
	if err != nil {
		utils.WriteError(w, r, http.StatusInternalServerError, types.CodeRuntimeFailure, err.Error(), nil)
		return
	}

	for _, state := range []types.InstanceState{
		types.InstanceStateCreating, types.InstanceStateRunning,
		types.InstanceStateStopped, types.InstanceStateError,
	} {
		instancesByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
	portsUsed.Set(float64(pool.PortsUsed))

	idle := []manager.IdleInfo{}
	if h.mgr != nil {
		if insts, err := h.orch.List(ctx); err == nil {
			idle = h.mgr.Idle(insts)
		}
	}

	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"instances": counts,
		"ports": map[string]int{
			"used":  pool.PortsUsed,
			"total": pool.PortsTotal,
		},
		"max_instances": h.conf.MaxInstances,
		"idle":          idle,
	})
}

func (h *Handler) systemResources(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	insts, err := h.orch.List(ctx)
	if err != nil {
		utils.WriteError(w, r, http.StatusInternalServerError, types.CodeRuntimeFailure, err.Error(), nil)
		return
	}

	type entry struct {
		ID    string               `json:"id"`
		Name  string               `json:"name"`
		State types.InstanceState  `json:"state"`
		Usage *types.ResourceUsage `json:"usage,omitempty"`
	}
	out := make([]entry, 0, len(insts))
	for _, inst := range insts {
		e := entry{ID: inst.ID, Name: inst.Config.Name, State: inst.State}
		if inst.State == types.InstanceStateRunning {
			if full, err := h.orch.Inspect(ctx, inst.ID); err == nil {
				e.State = full.State
				e.Usage = full.Usage
			}
		}
		out = append(out, e)
	}

	memLimit, _ := h.conf.MemoryLimitBytes()
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"servers": out,
		"limits": map[string]any{
			"cpu":    h.conf.CPULimit,
			"memory": memLimit,
		},
	})
}

// writeLifecycleError maps orchestrator errors onto the API envelope.
func (h *Handler) writeLifecycleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		utils.WriteError(w, r, http.StatusNotFound, types.CodeNotFound, err.Error(), nil)
	case errors.Is(err, orchestrator.ErrNotRunning):
		utils.WriteError(w, r, http.StatusConflict, types.CodeRuntimeFailure, err.Error(), nil)
	default:
		utils.WriteError(w, r, http.StatusInternalServerError, types.CodeRuntimeFailure, err.Error(), nil)
	}
}
