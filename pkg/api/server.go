package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/zigzag/pkg/abci"
	"github.com/uhyunpark/zigzag/pkg/app/core/ledger"
	"github.com/uhyunpark/zigzag/pkg/app/core/oracle"
	"github.com/uhyunpark/zigzag/pkg/app/core/order"
	"github.com/uhyunpark/zigzag/pkg/app/core/settlement"
	"github.com/uhyunpark/zigzag/pkg/app/core/transaction"
	"github.com/uhyunpark/zigzag/pkg/app/exchange"
	"github.com/uhyunpark/zigzag/pkg/storage"
)

const (
	maxBodyBytes     = 1 << 20
	defaultEventPage = 50
	maxEventPage     = 1000
)

// Server handles REST API and WebSocket connections
type Server struct {
	app      *exchange.App
	router   *mux.Router
	hub      *Hub
	gatherer prometheus.Gatherer
	logger   *zap.SugaredLogger
}

// NewServer creates a new API server. A nil gatherer serves the default
// prometheus registry on /metrics.
func NewServer(app *exchange.App, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		app:      app,
		router:   mux.NewRouter(),
		gatherer: gatherer,
		logger:   logger.Sugar(),
	}
	s.hub = NewHub(s.logger)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Submission
	api.HandleFunc("/fills", s.handleSubmitFill).Methods("POST")
	api.HandleFunc("/oracle/time", s.handleSubmitTime).Methods("POST")

	// Orders
	api.HandleFunc("/orders/hash", s.handleOrderHash).Methods("POST")
	api.HandleFunc("/orders/{hash}", s.handleGetOrder).Methods("GET")

	// Ledger
	api.HandleFunc("/tokens/{asset}/balances/{account}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/tokens/{asset}/allowances/{owner}", s.handleGetAllowance).Methods("GET")

	// Oracle and chain
	api.HandleFunc("/oracle", s.handleGetOracle).Methods("GET")
	api.HandleFunc("/settlements", s.handleGetSettlements).Methods("GET")
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")
	api.HandleFunc("/blocks/{height}", s.handleGetBlock).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start runs the WebSocket hub and serves HTTP on addr
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	s.logger.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Hub exposes the WebSocket hub, mainly so callers can run it themselves
func (s *Server) Hub() *Hub { return s.hub }

// ==============================
// Submission Handlers
// ==============================

func (s *Server) handleSubmitFill(w http.ResponseWriter, r *http.Request) {
	body, tx, ok := s.readTx(w, r, transaction.TxTypeFill)
	if !ok {
		return
	}

	req, err := tx.Fill.ToFillRequest()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid fill", err.Error())
		return
	}
	hasher := s.app.Engine().Hasher()
	sellHash, err := hasher.Hash(&req.Sell.Order, req.Sell.Scheme)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid sell order", err.Error())
		return
	}
	buyHash, err := hasher.Hash(&req.Buy.Order, req.Buy.Scheme)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid buy order", err.Error())
		return
	}

	if err := s.app.PushTx(body); err != nil {
		respondError(w, http.StatusBadRequest, "rejected by mempool", err.Error())
		return
	}
	s.logger.Infow("fill_submitted", "sell_hash", sellHash.Hex(), "buy_hash", buyHash.Hex(), "tx_bytes", len(body))

	respondJSON(w, SubmitFillResponse{Status: "submitted", SellHash: sellHash.Hex(), BuyHash: buyHash.Hex()})
}

func (s *Server) handleSubmitTime(w http.ResponseWriter, r *http.Request) {
	body, tx, ok := s.readTx(w, r, transaction.TxTypeTime)
	if !ok {
		return
	}

	// Bad signatures are cheap to catch before they take block space
	writer, err := s.app.Verifier().VerifyTimeTransaction(tx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid signature", err.Error())
		return
	}
	if err := s.app.PushTx(body); err != nil {
		respondError(w, http.StatusBadRequest, "rejected by mempool", err.Error())
		return
	}
	s.logger.Infow("time_submitted", "writer", writer.Hex(), "time", tx.Time.Time)

	respondJSON(w, SubmitTimeResponse{Status: "submitted", Writer: writer.Hex(), Time: tx.Time.Time})
}

// readTx reads a bounded body and checks it is a well-formed tx of the
// wanted type. It writes the error response itself.
func (s *Server) readTx(w http.ResponseWriter, r *http.Request, want transaction.TxType) ([]byte, *transaction.SignedTransaction, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return nil, nil, false
	}
	tx, err := transaction.ParseTransaction(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
		return nil, nil, false
	}
	if tx.Type != want {
		respondError(w, http.StatusBadRequest, "invalid transaction type", "expected type="+string(want))
		return nil, nil, false
	}
	return body, tx, true
}

// ==============================
// Query Handlers
// ==============================

func (s *Server) handleOrderHash(w http.ResponseWriter, r *http.Request) {
	var p transaction.OrderPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	o, err := p.ToOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	scheme, err := order.ParseScheme(p.Scheme)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid scheme", err.Error())
		return
	}
	h, err := s.app.Engine().Hasher().Hash(&o, scheme)
	if err != nil {
		respondError(w, http.StatusBadRequest, "cannot hash order", err.Error())
		return
	}
	respondJSON(w, OrderHashResponse{Hash: h.Hex(), Scheme: scheme.String()})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["hash"]
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid order hash", raw)
		return
	}
	h := common.BytesToHash(b)
	filled, err := s.app.Engine().OrderStatus(h)
	if err != nil {
		s.internalError(w, "order_status_failed", err)
		return
	}
	respondJSON(w, OrderStatus{Hash: h.Hex(), Filled: filled.Dec()})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	asset, ok := parseAddress(w, vars["asset"])
	if !ok {
		return
	}
	account, ok := parseAddress(w, vars["account"])
	if !ok {
		return
	}
	bal, err := ledger.New(s.app.State()).BalanceOf(asset, account)
	if err != nil {
		s.internalError(w, "balance_read_failed", err)
		return
	}
	respondJSON(w, BalanceInfo{Asset: asset.Hex(), Account: account.Hex(), Balance: bal.String()})
}

// handleGetAllowance defaults the spender to the settlement engine
func (s *Server) handleGetAllowance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	asset, ok := parseAddress(w, vars["asset"])
	if !ok {
		return
	}
	owner, ok := parseAddress(w, vars["owner"])
	if !ok {
		return
	}
	spender := s.app.Engine().Address()
	if q := r.URL.Query().Get("spender"); q != "" {
		if spender, ok = parseAddress(w, q); !ok {
			return
		}
	}
	amt, err := ledger.New(s.app.State()).Allowance(asset, owner, spender)
	if err != nil {
		s.internalError(w, "allowance_read_failed", err)
		return
	}
	respondJSON(w, AllowanceInfo{Asset: asset.Hex(), Owner: owner.Hex(), Spender: spender.Hex(), Allowance: amt.String()})
}

func (s *Server) handleGetOracle(w http.ResponseWriter, r *http.Request) {
	state := s.app.State()
	writer, err := oracle.Writer(state)
	if err != nil {
		if errors.Is(err, oracle.ErrNotInitialized) {
			respondError(w, http.StatusServiceUnavailable, "oracle not initialized", "")
			return
		}
		s.internalError(w, "oracle_read_failed", err)
		return
	}
	now, err := oracle.CurrentTime(state)
	if err != nil {
		s.internalError(w, "oracle_read_failed", err)
		return
	}
	respondJSON(w, OracleInfo{Time: now, Writer: writer.Hex()})
}

func (s *Server) handleGetSettlements(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventPage
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", q)
			return
		}
		limit = min(n, maxEventPage)
	}
	events, err := settlement.RecentEvents(s.app.State(), limit)
	if err != nil {
		s.internalError(w, "events_read_failed", err)
		return
	}
	if events == nil {
		events = []settlement.Event{}
	}
	respondJSON(w, events)
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	now, err := oracle.CurrentTime(s.app.State())
	if err != nil {
		s.internalError(w, "oracle_read_failed", err)
		return
	}
	sep, err := s.app.Engine().Hasher().Domain().Separator()
	if err != nil {
		s.internalError(w, "domain_separator_failed", err)
		return
	}
	respondJSON(w, ChainStatus{
		Height:          s.app.Height(),
		AppHash:         s.app.AppHash().Hex(),
		MempoolSize:     s.app.MempoolSize(),
		OracleTime:      now,
		EngineAddress:   s.app.Engine().Address().Hex(),
		DomainSeparator: sep.Hex(),
	})
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["height"]
	height, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || height <= 0 {
		respondError(w, http.StatusBadRequest, "invalid height", raw)
		return
	}
	rec, err := s.app.Block(height)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "block not found", raw)
			return
		}
		s.internalError(w, "block_read_failed", err)
		return
	}
	respondJSON(w, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called from the app's hooks)
// ==============================

// BroadcastSettlement pushes an applied fill to "settlements" and to both
// counterparties' account channels. It runs inside block finalization and
// must not call back into the app.
func (s *Server) BroadcastSettlement(ev settlement.Event) {
	msg := WSMessage{Type: "settlement", Data: ev}
	s.hub.BroadcastToChannel("settlements", msg)
	s.hub.BroadcastToChannel(AccountChannel(ev.SellSigner), msg)
	if ev.BuySigner != ev.SellSigner {
		s.hub.BroadcastToChannel(AccountChannel(ev.BuySigner), msg)
	}
}

// AccountChannel names the per-account WebSocket channel
func AccountChannel(addr common.Address) string {
	return "account:" + addr.Hex()
}

// BroadcastBlock pushes a block summary to "blocks"
func (s *Server) BroadcastBlock(rec exchange.BlockRecord) {
	update := BlockUpdate{
		Height:    rec.Height,
		Timestamp: rec.Timestamp,
		AppHash:   rec.AppHash.Hex(),
		Txs:       len(rec.Txs),
	}
	for _, res := range rec.Results {
		if res.Code != abci.CodeOK {
			update.Rejected++
		}
	}
	s.hub.BroadcastToChannel("blocks", WSMessage{Type: "block", Data: update})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

func (s *Server) internalError(w http.ResponseWriter, event string, err error) {
	s.logger.Errorw(event, "err", err)
	respondError(w, http.StatusInternalServerError, "internal error", "")
}

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}
