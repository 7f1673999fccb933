// Package handlers provides the debug HTTP surface of the node: a status
// endpoint and a websocket stream of node events.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/archlabs/blockchain/foundation/blockchain/signature"
	"github.com/archlabs/blockchain/foundation/blockchain/state"
	"github.com/archlabs/blockchain/foundation/events"
	"github.com/dimfeld/httptreemux/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config holds the dependencies of the debug surface.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	Evts  *events.Events
}

// DebugMux registers the debug routes and returns the handler.
func DebugMux(cfg Config) http.Handler {
	mux := httptreemux.NewContextMux()

	hdl := handlers{
		log:   cfg.Log,
		state: cfg.State,
		evts:  cfg.Evts,
	}

	mux.Handle(http.MethodGet, "/v1/status", hdl.status)
	mux.Handle(http.MethodGet, "/v1/events", hdl.events)

	return mux
}

type handlers struct {
	log   *zap.SugaredLogger
	state *state.State
	evts  *events.Events
}

// status reports the node's view of the chain and its pools.
func (h handlers) status(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Height  uint32 `json:"height"`
		Tip     string `json:"tip"`
		Mempool int    `json:"mempool"`
		Peers   int    `json:"peers"`
	}{
		Mempool: h.state.Mempool().Count(),
		Peers:   h.state.KnownPeers().Count(),
	}

	if block, err := h.state.LatestBlock(); err == nil {
		resp.Height = block.Header.Height
		resp.Tip = signature.HashString(block.Hash())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Errorw("status", "ERROR", err)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// events streams node events to the client over a websocket until the
// connection drops.
func (h handlers) events(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorw("events", "status", "upgrade failed", "ERROR", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	ch := h.evts.Acquire(id)
	defer h.evts.Release(id)

	h.log.Infow("events", "status", "client subscribed", "id", id)
	defer h.log.Infow("events", "status", "client gone", "id", id)

	for event := range ch {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}
