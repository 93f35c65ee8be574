package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"polymarket-engine/internal/dispatch"
	"polymarket-engine/internal/filter"
	"polymarket-engine/internal/httpx"
	"polymarket-engine/internal/orders"
	"polymarket-engine/internal/pipeline"
	"polymarket-engine/internal/store"
	"polymarket-engine/internal/strategy"
	"polymarket-engine/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Dashboard runs on a different port locally.
		return true
	},
}

// Deps are the engine components the control surface reads and drives.
type Deps struct {
	Scanner    *pipeline.Scanner
	Price      *pipeline.PriceScanner
	Storage    *pipeline.Storage
	Queue      *orders.Queue
	Dispatcher *dispatch.Dispatcher
	Strategies *strategy.Manager
	Store      *store.Store
	Requests   *httpx.MemorySink

	// Ctx is the engine lifetime context handed to stage restarts.
	Ctx context.Context
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	deps   Deps
	hub    *Hub
	logger *slog.Logger
}

func NewHandlers(deps Deps, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{deps: deps, hub: hub, logger: logger.With("component", "api-handlers")}
}

// envelope is the uniform response shape.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *Handlers) respond(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		h.logger.Error("response encode failed", "error", err)
	}
}

func (h *Handlers) respondErr(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: err.Error()})
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.respond(w, map[string]string{"status": "ok"})
}

// QueuesStatus aggregates every stage's state for one dashboard poll.
type QueuesStatus struct {
	Scan          pipeline.ScanStats    `json:"scan"`
	Storage       pipeline.StorageStats `json:"storage"`
	Price         pipeline.PriceStats   `json:"price"`
	Orders        orders.Stats          `json:"orders"`
	Dispatcher    dispatch.Stats        `json:"dispatcher"`
	EmergencyStop bool                  `json:"emergencyStop"`
}

func (h *Handlers) queuesStatus() QueuesStatus {
	return QueuesStatus{
		Scan:          h.deps.Scanner.GetStats(),
		Storage:       h.deps.Storage.GetStats(),
		Price:         h.deps.Price.GetStats(),
		Orders:        h.deps.Queue.GetStats(),
		Dispatcher:    h.deps.Dispatcher.GetStats(),
		EmergencyStop: h.deps.Strategies.EmergencyStopped(),
	}
}

func (h *Handlers) HandleQueuesStatus(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.queuesStatus())
}

type controlRequest struct {
	Action string `json:"action"`
}

func (h *Handlers) HandleQueuesControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondErr(w, http.StatusBadRequest, fmt.Errorf("parse request: %w", err))
		return
	}

	switch req.Action {
	case "start":
		h.deps.Scanner.Start(h.deps.Ctx)
	case "stop":
		h.deps.Scanner.Stop()
	case "pause":
		h.deps.Scanner.Pause()
	case "resume":
		h.deps.Scanner.Resume()
	default:
		h.respondErr(w, http.StatusBadRequest, fmt.Errorf("unknown action %q", req.Action))
		return
	}
	h.logger.Info("scan control", "action", req.Action)
	h.respond(w, map[string]any{"state": h.deps.Scanner.State()})
}

func (h *Handlers) HandlePriceControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondErr(w, http.StatusBadRequest, fmt.Errorf("parse request: %w", err))
		return
	}

	switch req.Action {
	case "start":
		h.deps.Price.Start(h.deps.Ctx)
	case "stop":
		h.deps.Price.Stop()
	default:
		h.respondErr(w, http.StatusBadRequest, fmt.Errorf("unknown action %q", req.Action))
		return
	}
	h.logger.Info("price control", "action", req.Action)
	h.respond(w, map[string]any{"state": h.deps.Price.State()})
}

func (h *Handlers) HandleGetStrategiesConfig(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.deps.Strategies.Get())
}

type updateConfigRequest struct {
	Strategy string          `json:"strategy,omitempty"`
	Config   json.RawMessage `json:"config"`
}

// HandleUpdateStrategiesConfig deep-merges a partial config. When a strategy
// name is given the patch nests under that strategy's key.
func (h *Handlers) HandleUpdateStrategiesConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondErr(w, http.StatusBadRequest, fmt.Errorf("parse request: %w", err))
		return
	}
	if len(req.Config) == 0 {
		h.respondErr(w, http.StatusBadRequest, fmt.Errorf("missing config"))
		return
	}

	patch := req.Config
	if req.Strategy != "" {
		key, ok := strategyConfigKey(types.Strategy(req.Strategy))
		if !ok {
			h.respondErr(w, http.StatusBadRequest, fmt.Errorf("unknown strategy %q", req.Strategy))
			return
		}
		wrapped, err := json.Marshal(map[string]json.RawMessage{key: req.Config})
		if err != nil {
			h.respondErr(w, http.StatusInternalServerError, err)
			return
		}
		patch = wrapped
	}

	if err := h.deps.Strategies.UpdateJSON(patch); err != nil {
		h.respondErr(w, http.StatusBadRequest, err)
		return
	}
	h.respond(w, h.deps.Strategies.Get())
}

func strategyConfigKey(s types.Strategy) (string, bool) {
	switch s {
	case types.StrategyMintSplit:
		return "mintSplit", true
	case types.StrategyArbitrageLong:
		return "arbitrageLong", true
	case types.StrategyMarketMaking:
		return "marketMaking", true
	default:
		return "", false
	}
}

func (h *Handlers) HandleStrategiesStatus(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.deps.Strategies.GetDailyStats())
}

// HandleMarkets serves the stored market list with the dashboard's filter
// query parameters.
func (h *Handlers) HandleMarkets(w http.ResponseWriter, r *http.Request) {
	fc := filter.ParseURLQuery(r.URL.Query())
	if fc.Limit <= 0 || fc.Limit > 500 {
		fc.Limit = 50
	}

	markets, total, err := h.deps.Store.GetMarkets(r.Context(), fc.ToStoreQuery())
	if err != nil {
		h.respondErr(w, http.StatusInternalServerError, err)
		return
	}
	h.respond(w, map[string]any{"markets": markets, "total": total})
}

// HandleRequests serves the newest entries of the in-memory request log.
func (h *Handlers) HandleRequests(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.respondErr(w, http.StatusBadRequest, fmt.Errorf("bad limit %q", v))
			return
		}
		limit = n
	}
	recs := []httpx.Record{}
	if h.deps.Requests != nil {
		recs = h.deps.Requests.Recent(limit)
	}
	h.respond(w, map[string]any{"requests": recs, "count": len(recs)})
}

// HandleWebSocket upgrades and registers a status stream client. The first
// message is a full queues-status snapshot.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn)
	data, err := json.Marshal(Event{Type: "status", Data: h.queuesStatus()})
	if err != nil {
		h.logger.Error("snapshot marshal failed", "error", err)
		return
	}
	client.send <- data
}
