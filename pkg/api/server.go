package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/dennisvanderpool/mwc-node/pkg/chain"
	"github.com/dennisvanderpool/mwc-node/pkg/p2p"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// OwnerRealm and ForeignRealm name the two Basic-auth realms spec.md §6
// requires for the owner and foreign APIs.
const (
	OwnerRealm   = "MWC-Node-API"
	ForeignRealm = "MWC-Node-Foreign-API"
)

// Server serves the owner/foreign JSON-RPC endpoints and a REST v1
// mirror over a node resolved through Registry, so handlers never hold
// a live collaborator pointer directly.
type Server struct {
	registry *Registry
	nodeID   NodeID
	owner    Credentials
	foreign  bool
	log      *zap.Logger

	http *http.Server
}

// NewServer builds a Server bound to addr, serving node's status
// through registry.
func NewServer(addr string, registry *Registry, nodeID NodeID, owner Credentials, foreignEnabled bool, log *zap.Logger) *Server {
	s := &Server{
		registry: registry,
		nodeID:   nodeID,
		owner:    owner,
		foreign:  foreignEnabled,
		log:      log,
	}
	s.http = &http.Server{Addr: addr, Handler: s.router()}
	return s
}

func (s *Server) router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/v2/owner", basicAuth(OwnerRealm, s.owner, http.HandlerFunc(s.handleJSONRPC))).Methods(http.MethodPost)
	if s.foreign {
		r.HandleFunc("/v2/foreign", s.handleJSONRPC).Methods(http.MethodPost)
	}
	r.HandleFunc("/v2/stratum", s.handleStratumStatus).Methods(http.MethodPost)

	// REST v1 is a deprecated GET-only mirror; spec.md §6/§8 names the
	// full route list.
	r.HandleFunc("/v1/status", s.handleRESTStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/chain", s.handleRESTChain).Methods(http.MethodGet)
	r.HandleFunc("/v1/blocks/{hash}", s.handleRESTBlock).Methods(http.MethodGet)
	r.HandleFunc("/v1/headers/{hash}", s.handleRESTHeader).Methods(http.MethodGet)
	r.HandleFunc("/v1/pool", s.handleRESTPool).Methods(http.MethodGet)
	r.HandleFunc("/v1/peers", s.handleRESTPeersConnected).Methods(http.MethodGet)
	r.HandleFunc("/v1/peers/connected", s.handleRESTPeersConnected).Methods(http.MethodGet)
	r.HandleFunc("/v1/peers/all", s.handleRESTPeersAll).Methods(http.MethodGet)
	return r
}

// rpcRequest is a minimal JSON-RPC 2.0 envelope; mwc-node's owner and
// foreign APIs both speak it, differing only in which methods are
// registered and whether the realm requires auth.
type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result interface{}     `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcResponse{Error: "malformed request: " + err.Error()})
		return
	}

	node, ok := s.registry.Resolve(s.nodeID)
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, rpcResponse{ID: req.ID, Error: "node is shutting down"})
		return
	}

	switch req.Method {
	case "status":
		writeJSON(w, http.StatusOK, rpcResponse{ID: req.ID, Result: node.Manager.Status()})
	default:
		writeJSON(w, http.StatusNotFound, rpcResponse{ID: req.ID, Error: "unknown method " + req.Method})
	}
}

func (s *Server) handleStratumStatus(w http.ResponseWriter, r *http.Request) {
	node, ok := s.registry.Resolve(s.nodeID)
	if !ok {
		http.Error(w, "node is shutting down", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, node.Manager.Status())
}

func (s *Server) handleRESTStatus(w http.ResponseWriter, r *http.Request) {
	node, ok := s.resolve(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, node.Manager.Status())
}

// chainTipView is the REST v1 rendering of a chain.Tip.
type chainTipView struct {
	Hash            string `json:"hash"`
	Height          uint64 `json:"height"`
	TotalDifficulty uint64 `json:"total_difficulty"`
}

func tipView(t chain.Tip) chainTipView {
	return chainTipView{Hash: t.Hash.String(), Height: uint64(t.Height), TotalDifficulty: t.TotalDiff}
}

func (s *Server) handleRESTChain(w http.ResponseWriter, r *http.Request) {
	node, ok := s.resolve(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Head       chainTipView `json:"tip"`
		HeaderHead chainTipView `json:"header_tip"`
	}{Head: tipView(node.Chain.Head()), HeaderHead: tipView(node.Chain.HeaderHead())})
}

// blockView is the REST v1 rendering of a chain.Block header.
type blockView struct {
	Hash       string `json:"hash"`
	PrevHash   string `json:"previous"`
	Height     uint64 `json:"height"`
	Timestamp  int64  `json:"timestamp"`
	Difficulty uint64 `json:"difficulty"`
}

func blockViewOf(b *chain.Block) blockView {
	return blockView{
		Hash:       b.Hash.String(),
		PrevHash:   b.PrevHash.String(),
		Height:     uint64(b.Height),
		Timestamp:  b.Timestamp,
		Difficulty: b.Difficulty,
	}
}

func parseHash(s string) (chain.Hash, bool) {
	var h chain.Hash
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(h) {
		return chain.Hash{}, false
	}
	copy(h[:], raw)
	return h, true
}

func (s *Server) handleRESTBlock(w http.ResponseWriter, r *http.Request) {
	node, ok := s.resolve(w)
	if !ok {
		return
	}
	hash, ok := parseHash(mux.Vars(r)["hash"])
	if !ok {
		http.Error(w, "malformed block hash", http.StatusBadRequest)
		return
	}
	b, err := node.Chain.GetBlockByHash(hash)
	if err != nil {
		http.Error(w, "block not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, blockViewOf(b))
}

func (s *Server) handleRESTHeader(w http.ResponseWriter, r *http.Request) {
	node, ok := s.resolve(w)
	if !ok {
		return
	}
	hash, ok := parseHash(mux.Vars(r)["hash"])
	if !ok {
		http.Error(w, "malformed header hash", http.StatusBadRequest)
		return
	}
	b, err := node.Chain.GetBlockByHash(hash)
	if err != nil {
		http.Error(w, "header not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, blockViewOf(b))
}

func (s *Server) handleRESTPool(w http.ResponseWriter, r *http.Request) {
	node, ok := s.resolve(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Size int `json:"size"`
	}{Size: node.Pool.Size()})
}

// peerView is the REST v1 rendering of a p2p.Peer.
type peerView struct {
	Addr     string `json:"addr"`
	Outbound bool   `json:"outbound"`
}

func peerViewOf(p p2p.Peer) peerView {
	info := p.Info()
	return peerView{Addr: info.Addr.String(), Outbound: info.Outbound}
}

func (s *Server) handleRESTPeersConnected(w http.ResponseWriter, r *http.Request) {
	node, ok := s.resolve(w)
	if !ok {
		return
	}
	connected := node.Peers.Connected()
	out := make([]peerView, len(connected))
	for i, p := range connected {
		out[i] = peerViewOf(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// bannedPeerView is the REST v1 rendering of a banned address, which
// by the time it's banned no longer has a live p2p.Peer to describe.
type bannedPeerView struct {
	Addr   string `json:"addr"`
	Reason string `json:"reason"`
}

func (s *Server) handleRESTPeersAll(w http.ResponseWriter, r *http.Request) {
	node, ok := s.resolve(w)
	if !ok {
		return
	}
	connected := node.Peers.Connected()
	out := struct {
		Connected []peerView       `json:"connected"`
		Banned    []bannedPeerView `json:"banned"`
	}{Connected: make([]peerView, len(connected))}
	for i, p := range connected {
		out.Connected[i] = peerViewOf(p)
	}
	for addr, reason := range node.Peers.BannedAddrs() {
		out.Banned = append(out.Banned, bannedPeerView{Addr: addr.String(), Reason: reason})
	}
	writeJSON(w, http.StatusOK, out)
}

// resolve looks up the registered node, writing a 503 and returning ok
// = false if it's gone.
func (s *Server) resolve(w http.ResponseWriter) (Node, bool) {
	node, ok := s.registry.Resolve(s.nodeID)
	if !ok {
		http.Error(w, "node is shutting down", http.StatusServiceUnavailable)
	}
	return node, ok
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the HTTP server; it blocks until the server
// stops or errors.
func (s *Server) ListenAndServe() error {
	if s.log != nil {
		s.log.Info("api server listening", zap.String("addr", s.http.Addr))
	}
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
