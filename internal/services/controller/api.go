package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/agroflow/irrigation-controller/internal/eventlog"
	"github.com/agroflow/irrigation-controller/internal/model/entities"
	"github.com/agroflow/irrigation-controller/internal/model/messages"
	"github.com/agroflow/irrigation-controller/internal/observability"
	"github.com/agroflow/irrigation-controller/internal/repository"
)

// eventlogGrace is how long the event log may keep failing before readiness
// flips.
const eventlogGrace = 5 * time.Minute

// APIParams collects the operator API's collaborators.
type APIParams struct {
	Controller *Controller
	Repo       repository.DeviceStateRepository
	EventLog   eventlog.Log
	Liveness   *Liveness
	Weather    WeatherClient
	Crops      *CropResolver
	Metrics    *observability.Metrics
	Logger     *zap.Logger

	// MQTTConnected reports broker connectivity for readiness.
	MQTTConnected func() bool
}

// API is the debug/operator HTTP surface: state inspection, manual lock,
// forced actuation and on-demand threshold queries.
type API struct {
	ctrl     *Controller
	repo     repository.DeviceStateRepository
	log      eventlog.Log
	liveness *Liveness
	weather  WeatherClient
	crops    *CropResolver
	metrics  *observability.Metrics
	logger   *zap.Logger
	ready    func() bool
	now      func() time.Time
}

func NewAPI(p APIParams) *API {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Crops == nil {
		p.Crops = NewBuiltinCropResolver("")
	}
	if p.MQTTConnected == nil {
		p.MQTTConnected = func() bool { return true }
	}
	return &API{
		ctrl:     p.Controller,
		repo:     p.Repo,
		log:      p.EventLog,
		liveness: p.Liveness,
		weather:  p.Weather,
		crops:    p.Crops,
		metrics:  p.Metrics,
		logger:   p.Logger,
		ready:    p.MQTTConnected,
		now:      time.Now,
	}
}

// Routes builds the router. Domain routes are wrapped for per-route metrics.
func (a *API) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", a.handleHealthz).Methods("GET")
	r.HandleFunc("/readyz", a.handleReadyz).Methods("GET")
	r.Handle("/metrics", a.metrics.Handler()).Methods("GET")

	wrap := func(route string, h http.HandlerFunc) http.Handler {
		return a.metrics.WrapHandler(route, h)
	}
	r.Handle("/devices", wrap("devices", a.handleListDevices)).Methods("GET")
	r.Handle("/devices/{id}/state", wrap("device_state", a.handleGetState)).Methods("GET")
	r.Handle("/devices/{id}/state", wrap("device_state_write", a.handleForceWrite)).Methods("POST")
	r.Handle("/devices/{id}/lock", wrap("device_lock", a.handleLock)).Methods("POST")
	r.Handle("/devices/{id}/force", wrap("device_force", a.handleForce)).Methods("POST")
	r.Handle("/devices/{id}/events", wrap("device_events", a.handleEvents)).Methods("GET")
	r.Handle("/thresholds", wrap("thresholds", a.handleThresholds)).Methods("GET")

	return r
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *API) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	type readiness struct {
		MQTTConnected bool   `json:"mqtt_connected"`
		EventLog      string `json:"event_log"`
		Ready         bool   `json:"ready"`
	}
	out := readiness{MQTTConnected: a.ready(), EventLog: "ok"}
	if a.log.LastErrorAge() < eventlogGrace {
		out.EventLog = "degraded"
	}
	out.Ready = out.MQTTConnected && out.EventLog == "ok"

	code := http.StatusOK
	if !out.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, out)
}

type deviceSummary struct {
	entities.DeviceState
	Stale    bool   `json:"stale"`
	LastSeen string `json:"last_seen,omitempty"`
}

func (a *API) summarize(st *entities.DeviceState) deviceSummary {
	out := deviceSummary{DeviceState: *st, Stale: true}
	if last, ok := a.liveness.LastSeen(st.DeviceID); ok {
		out.Stale = a.liveness.Stale(st.DeviceID, a.now())
		out.LastSeen = last.UTC().Format(time.RFC3339)
	}
	return out
}

func (a *API) handleListDevices(w http.ResponseWriter, r *http.Request) {
	states, err := a.repo.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]deviceSummary, 0, len(states))
	for _, st := range states {
		out = append(out, a.summarize(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetState(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, err := a.repo.Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, a.summarize(st))
}

// handleForceWrite patches persisted state fields directly. Debug tooling:
// it does not actuate anything.
func (a *API) handleForceWrite(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var patch repository.ForcePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	st, err := a.repo.ForceWrite(r.Context(), id, patch)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.logger.Info("state force-written", zap.String("device", id))
	writeJSON(w, http.StatusOK, a.summarize(st))
}

func (a *API) handleLock(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Locked bool `json:"locked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	st, err := a.repo.SetManualLock(r.Context(), id, body.Locked)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.logger.Info("manual lock changed",
		zap.String("device", id), zap.Bool("locked", body.Locked))
	writeJSON(w, http.StatusOK, a.summarize(st))
}

func (a *API) handleForce(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var on bool
	switch strings.ToUpper(strings.TrimSpace(body.Action)) {
	case "ON", "FORCE_ON":
		on = true
	case "OFF", "FORCE_OFF":
		on = false
	default:
		writeError(w, http.StatusBadRequest, errors.New("action must be ON or OFF"))
		return
	}
	evt, err := a.ctrl.ForceAction(r.Context(), id, on)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	code := http.StatusOK
	if evt.Reason == messages.ReasonPublishFailed {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, evt)
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := clampQueryInt(r, "limit", 20, 1, 500)
	events, err := a.log.Recent(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleThresholds computes the moisture band on demand, without touching any
// device state. Useful for dashboards and for sanity-checking crop profiles.
func (a *API) handleThresholds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	t := &messages.Telemetry{DeviceID: strings.TrimSpace(q.Get("deviceId"))}
	if v := strings.TrimSpace(q.Get("temp")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("temp must be numeric"))
			return
		}
		t.Temperature = &f
	}

	var forecast *entities.ForecastSnapshot
	latS, lonS := strings.TrimSpace(q.Get("lat")), strings.TrimSpace(q.Get("lon"))
	if a.weather != nil && latS != "" && lonS != "" {
		lat, errLat := strconv.ParseFloat(latS, 64)
		lon, errLon := strconv.ParseFloat(lonS, 64)
		if errLat != nil || errLon != nil {
			writeError(w, http.StatusBadRequest, errors.New("lat/lon must be numeric"))
			return
		}
		if f, err := a.weather.Forecast(r.Context(), lat, lon); err == nil {
			forecast = f
		} else {
			a.logger.Warn("threshold query without forecast", zap.Error(err))
		}
	}

	profile := a.crops.Resolve(q.Get("crop"))
	res := ComputeThresholds(t, forecast, profile)

	writeJSON(w, http.StatusOK, struct {
		DeviceID string `json:"device_id,omitempty"`
		messages.ThresholdResult
	}{DeviceID: t.DeviceID, ThresholdResult: res})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func clampQueryInt(r *http.Request, key string, def, min, max int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
