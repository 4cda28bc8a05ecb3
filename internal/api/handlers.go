package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/livinlefevreloca/remindersync/internal/bridge"
)

// Error codes for failures outside the bridge
const (
	CodeBadRequest = "BAD_REQUEST"
	CodeAppError   = "APP_ERROR"
)

type handlers struct {
	bridge Bridge
	app    App
	logger *slog.Logger
}

// IntervalRequest is the body of POST /api/v1/sync/periodic and PUT /api/v1/app/interval
type IntervalRequest struct {
	IntervalMinutes int `json:"intervalMinutes"`
}

// AppStartResponse is returned by POST /api/v1/app/start
type AppStartResponse struct {
	Success         bool   `json:"success"`
	IntervalMinutes int    `json:"intervalMinutes"`
	WorkName        string `json:"workName"`
}

// AppIntervalResponse is returned by PUT /api/v1/app/interval
type AppIntervalResponse struct {
	IntervalMinutes int `json:"intervalMinutes"`
}

// AppSyncResponse is returned by POST /api/v1/app/sync
type AppSyncResponse struct {
	Executed bool `json:"executed"`
}

// AppStateResponse is returned by GET /api/v1/app/state. The last* fields
// are omitted until a background attempt has finished.
type AppStateResponse struct {
	AutoSync        bool   `json:"autoSync"`
	PeriodicEnabled bool   `json:"periodicEnabled"`
	IntervalMinutes int    `json:"intervalMinutes"`
	LastStatus      string `json:"lastStatus,omitempty"`
	LastSyncCount   *int   `json:"lastSyncCount,omitempty"`
	LastOutcomeAt   int64  `json:"lastOutcomeAt,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *handlers) startPeriodic(w http.ResponseWriter, r *http.Request) {
	var req IntervalRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.bridge.StartPeriodicSync(r.Context(), req.IntervalMinutes)
	h.respond(w, resp, err)
}

func (h *handlers) stopPeriodic(w http.ResponseWriter, r *http.Request) {
	resp, err := h.bridge.StopPeriodicSync(r.Context())
	h.respond(w, resp, err)
}

func (h *handlers) isRunning(w http.ResponseWriter, r *http.Request) {
	resp, err := h.bridge.IsSyncRunning(r.Context())
	h.respond(w, resp, err)
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	resp, err := h.bridge.GetWorkStatus(r.Context())
	h.respond(w, resp, err)
}

func (h *handlers) checkPending(w http.ResponseWriter, r *http.Request) {
	resp, err := h.bridge.CheckPendingSync(r.Context())
	h.respond(w, resp, err)
}

func (h *handlers) clearPending(w http.ResponseWriter, r *http.Request) {
	resp, err := h.bridge.ClearPendingSync(r.Context())
	h.respond(w, resp, err)
}

func (h *handlers) appStart(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Start(r.Context())
	h.respond(w, AppStartResponse{Success: true, IntervalMinutes: res.EffectiveIntervalMinutes, WorkName: res.JobName}, err)
}

func (h *handlers) appStop(w http.ResponseWriter, r *http.Request) {
	err := h.app.Stop(r.Context())
	h.respond(w, bridge.ClearResponse{Success: true}, err)
}

func (h *handlers) appInterval(w http.ResponseWriter, r *http.Request) {
	var req IntervalRequest
	if !h.decode(w, r, &req) {
		return
	}

	minutes, err := h.app.SetSyncInterval(r.Context(), req.IntervalMinutes)
	h.respond(w, AppIntervalResponse{IntervalMinutes: minutes}, err)
}

func (h *handlers) appSync(w http.ResponseWriter, r *http.Request) {
	executed, err := h.app.CheckAndExecutePendingSync(r.Context())
	h.respond(w, AppSyncResponse{Executed: executed}, err)
}

func (h *handlers) appState(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.State(r.Context())

	resp := AppStateResponse{
		AutoSync:        st.AutoSync,
		PeriodicEnabled: st.PeriodicEnabled,
		IntervalMinutes: st.IntervalMinutes,
	}
	if o := st.LastOutcome; o != nil {
		resp.LastStatus = o.Status
		resp.LastSyncCount = &o.SyncCount
		resp.LastOutcomeAt = o.TimestampMillis
	}
	h.respond(w, resp, err)
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, bridge.Error{Code: CodeBadRequest, Message: "invalid request body: " + err.Error()}, http.StatusBadRequest)
		return false
	}
	return true
}

// respond writes resp, or err as a labeled error with status 500
func (h *handlers) respond(w http.ResponseWriter, resp any, err error) {
	if err == nil {
		writeJSON(w, resp, http.StatusOK)
		return
	}

	var bErr *bridge.Error
	if !errors.As(err, &bErr) {
		bErr = &bridge.Error{Code: CodeAppError, Message: err.Error()}
	}

	h.logger.Warn("request failed", "code", bErr.Code, "message", bErr.Message)
	writeJSON(w, bErr, http.StatusInternalServerError)
}
