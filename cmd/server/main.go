// Package main runs the TrustFlow order backend: the HTTP API, the
// order lifecycle orchestrator, the chain client, and the governance
// simulation, wired over in-memory or external storage.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"trustflow/internal/chain"
	"trustflow/internal/contractgen"
	"trustflow/internal/domain"
	"trustflow/internal/governance"
	"trustflow/internal/observability"
	"trustflow/internal/oneinch"
	"trustflow/internal/orchestrator"
	"trustflow/internal/rules"
	"trustflow/internal/storage"
	chstore "trustflow/internal/storage/clickhouse"
	"trustflow/internal/storage/memory"
	"trustflow/internal/storage/migrations"
	pgstore "trustflow/internal/storage/postgres"
	"trustflow/internal/stream"
)

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	listenAddr := flag.String("listen-addr", ":8080", "HTTP listen address")
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("WEB3_RPC_URL"), "Ethereum JSON-RPC endpoint")
	contractAddr := flag.String("lop-contract", os.Getenv("LOP_CONTRACT_ADDRESS"), "Limit order protocol contract address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (empty: in-memory stores)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for the event journal (empty: in-memory)")
	oneinchChainID := flag.Int("oneinch-chain-id", 1, "Chain id for 1inch aggregator calls")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags)

	// The signing key comes from the environment only, never a flag.
	privateKey := strings.TrimPrefix(os.Getenv("WALLET_PRIVATE_KEY"), "0x")

	if *rpcEndpoint == "" {
		logger.Fatal("WEB3_RPC_URL (or --rpc-endpoint) is required")
	}
	if privateKey == "" {
		logger.Fatal("WALLET_PRIVATE_KEY is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stores: in-memory by default, external when DSNs are configured.
	var (
		orderStore    storage.OrderStore
		proposalStore storage.ProposalStore
		eventStore    storage.OrderEventStore
	)

	if *postgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatalf("postgres migrations: %v", err)
		}
		orderStore = pgstore.NewOrderStore(pool)
		proposalStore = pgstore.NewProposalStore(pool)
		logger.Println("using postgres order/proposal stores")
	} else {
		orderStore = memory.NewOrderStore()
		proposalStore = memory.NewProposalStore()
		logger.Println("using in-memory order/proposal stores")
	}

	if *clickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("clickhouse: %v", err)
		}
		defer conn.Close()
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			logger.Fatalf("clickhouse migrations: %v", err)
		}
		eventStore = chstore.NewOrderEventStore(conn)
		logger.Println("using clickhouse event journal")
	} else {
		eventStore = memory.NewOrderEventStore()
	}

	// Chain client: connectivity or credential failure is fatal.
	chainClient, err := chain.New(ctx, *rpcEndpoint, privateKey, *contractAddr, chain.WithLogger(logger))
	if err != nil {
		logger.Fatalf("chain client: %v", err)
	}
	defer chainClient.Close()

	dao := governance.NewDAOManager(proposalStore, logger)
	hub := stream.NewHub(logger)

	orch := orchestrator.New(orchestrator.Options{
		OrderStore:    orderStore,
		ProposalStore: proposalStore,
		EventStore:    eventStore,
		Chain:         chainClient,
		Gate:          dao,
		Generator:     contractgen.NewTemplateGenerator(),
		Checker:       rules.NewStaticChecker(),
		Sink:          hub,
		Logger:        logger,
	})

	dex := oneinch.New(os.Getenv("ONEINCH_API_KEY"), *oneinchChainID)

	srv := &server{
		orch:   orch,
		dao:    dao,
		dex:    dex,
		hub:    hub,
		logger: logger,
	}

	httpSrv := &http.Server{
		Addr:    *listenAddr,
		Handler: srv.routes(),
	}

	go func() {
		logger.Printf("listening on %s", *listenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}

// server bundles the request handlers' collaborators.
type server struct {
	orch   *orchestrator.Orchestrator
	dao    *governance.DAOManager
	dex    *oneinch.Client
	hub    *stream.Hub
	logger *log.Logger
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// No global timeout: order submission legitimately blocks for the
	// confirmation bound.

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.Handler())

	r.Post("/orders", s.handleCreateOrder)
	r.Get("/orders", s.handleListOrders)
	r.Get("/orders/{id}", s.handleGetOrder)
	r.Post("/orders/{id}/governance", s.handleGovernance)
	r.Post("/orders/{id}/submit", s.handleSubmit)
	r.Post("/orders/{id}/cancel", s.handleCancel)
	r.Post("/orders/{id}/approval/retry", s.handleRetryApproval)
	r.Get("/orders/{id}/audit", s.handleAudit)
	r.Get("/orders/{id}/events", s.handleEvents)

	r.Get("/dao/proposals", s.handleListProposals)
	r.Post("/dao/proposals", s.handleCreateProposal)
	r.Get("/dao/proposals/{id}/tally", s.handleTally)
	r.Post("/dao/proposals/{id}/execute", s.handleExecuteProposal)
	r.Post("/dao/votes", s.handleVote)

	r.Get("/1inch/quote", s.handleQuote)
	r.Post("/1inch/swap", s.handleSwap)

	r.Get("/ws/orders", s.hub.ServeWS)

	return r
}

type createOrderRequest struct {
	Prompt    string  `json:"prompt"`
	FromToken string  `json:"from_token"`
	ToToken   string  `json:"to_token"`
	Amount    float64 `json:"amount"`
	Price     float64 `json:"price"`
}

func (s *server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.FromToken == "" || req.ToToken == "" {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "from_token and to_token are required")
		return
	}
	if req.Amount <= 0 {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "amount must be positive")
		return
	}
	if req.Price <= 0 {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "price must be positive")
		return
	}

	order, err := s.orch.CreateLimitOrder(r.Context(), req.Prompt, req.FromToken, req.ToToken, req.Amount, req.Price)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orch.ListOrders(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := s.orch.GetOrder(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *server) handleGovernance(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	proposal, err := s.orch.InitiateGovernanceApproval(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	// Chain failures come back inside the result, not as an error.
	result, err := s.orch.SubmitAndExecute(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	result, err := s.orch.Cancel(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleRetryApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := s.orch.RetryApproval(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	audit, err := s.orch.OrderAudit(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, audit)
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	events, err := s.orch.OrderEvents(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*domain.OrderEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := s.dao.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if proposals == nil {
		proposals = []*domain.GovernanceProposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

type createProposalRequest struct {
	OrderID  int64  `json:"order_id"`
	Title    string `json:"title"`
	Proposer string `json:"proposer"`
}

// handleCreateProposal creates a standalone ACTIVE proposal, unlike the
// order flow where the simulated gate settles the proposal immediately.
// Standalone proposals go through the real vote/tally/execute path.
func (s *server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Title == "" || req.Proposer == "" {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "title and proposer are required")
		return
	}

	proposal, err := s.dao.Propose(r.Context(), req.OrderID, req.Title, req.Proposer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

func (s *server) handleTally(w http.ResponseWriter, r *http.Request) {
	id, ok := proposalID(w, r)
	if !ok {
		return
	}
	tally, err := s.dao.Tally(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tally)
}

func (s *server) handleExecuteProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := proposalID(w, r)
	if !ok {
		return
	}
	status, err := s.dao.Execute(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

type voteRequest struct {
	ProposalID int64  `json:"proposal_id"`
	Voter      string `json:"voter"`
	Support    bool   `json:"support"`
}

func (s *server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Voter == "" {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "voter is required")
		return
	}
	if err := s.dao.Vote(r.Context(), req.ProposalID, req.Voter, req.Support); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
	fromToken := r.URL.Query().Get("from_token")
	toToken := r.URL.Query().Get("to_token")
	amountStr := r.URL.Query().Get("amount")
	if fromToken == "" || toToken == "" || amountStr == "" {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "from_token, to_token, and amount are required")
		return
	}
	amount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil || amount <= 0 {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "amount must be a positive number")
		return
	}

	from := domain.ResolveToken(fromToken)
	to := domain.ResolveToken(toToken)
	units := domain.ToBaseUnits(amount, from.Decimals)

	quote, err := s.dex.Quote(r.Context(), from.Address, to.Address, units.String())
	if err != nil {
		writeProblem(w, r, http.StatusBadGateway, "aggregator_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

type swapRequest struct {
	FromToken string  `json:"from_token"`
	ToToken   string  `json:"to_token"`
	Amount    float64 `json:"amount"`
	From      string  `json:"from"`
	Slippage  string  `json:"slippage"`
}

func (s *server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.FromToken == "" || req.ToToken == "" || req.Amount <= 0 || req.From == "" {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "from_token, to_token, from, and a positive amount are required")
		return
	}
	if req.Slippage == "" {
		req.Slippage = "1"
	}

	from := domain.ResolveToken(req.FromToken)
	to := domain.ResolveToken(req.ToToken)
	units := domain.ToBaseUnits(req.Amount, from.Decimals)

	swap, err := s.dex.SwapTx(r.Context(), from.Address, to.Address, units.String(), req.From, req.Slippage)
	if err != nil {
		writeProblem(w, r, http.StatusBadGateway, "aggregator_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, swap)
}

// writeError maps orchestrator and governance errors to HTTP problem
// responses.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrOrderNotFound),
		errors.Is(err, governance.ErrProposalNotFound):
		writeProblem(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, orchestrator.ErrOrderTerminal),
		errors.Is(err, orchestrator.ErrInvalidTransition),
		errors.Is(err, governance.ErrProposalNotActive):
		writeProblem(w, r, http.StatusConflict, "conflict", err.Error())
	default:
		s.logger.Printf("internal error on %s: %v", r.URL.Path, err)
		writeProblem(w, r, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, r *http.Request, code int, title, detail string) {
	reqID := middleware.GetReqID(r.Context())
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"title":      title,
		"status":     code,
		"detail":     detail,
		"instance":   r.URL.Path,
		"request_id": reqID,
	})
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	return pathID(w, r, "order id")
}

func proposalID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	return pathID(w, r, "proposal id")
}

func pathID(w http.ResponseWriter, r *http.Request, what string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", fmt.Sprintf("invalid %s", what))
		return 0, false
	}
	return id, true
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
