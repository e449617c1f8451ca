// Package httpapi implements the public REST surface, routed with
// go-chi/chi and go-chi/cors. The listen/serve/shutdown lifecycle follows
// the common net.Listen -> http.Server.Serve in a goroutine ->
// context.WithTimeout-guarded Shutdown shape, routed through chi instead of
// a hand-rolled mux.
package httpapi

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/riftresearch/cbbtc-swapd/internal/metrics"
	"github.com/riftresearch/cbbtc-swapd/internal/orderbook"
	"github.com/riftresearch/cbbtc-swapd/internal/store"
	"github.com/riftresearch/cbbtc-swapd/internal/vault"
	"github.com/riftresearch/cbbtc-swapd/pkg/logging"
)

// Store is the subset of persistence the HTTP surface needs: creating a new
// swap and looking one up by ID. Satisfied by *store.Store.
type Store interface {
	Create(ctx context.Context, sw *store.Swap) error
	ByID(ctx context.Context, swapID string) (*store.Swap, error)
}

// VaultMinter mints a fresh deposit vault. Satisfied by *vault.Vault.
type VaultMinter interface {
	Mint() (salt [vault.SaltLen]byte, derived *vault.Derived, err error)
}

// Book is the orderbook operation the quote handler needs. Satisfied by *orderbook.Client.
type Book interface {
	Quote(ctx context.Context, chainID uint64, sellToken, buyToken string, sellAmount *big.Int, from string) (*orderbook.Quote, error)
}

// Server is the public HTTP API: health, quote, swap creation/status, and
// the Prometheus metrics exposition endpoint.
type Server struct {
	store   Store
	vault   VaultMinter
	book    Book
	metrics *metrics.Registry
	log     *logging.Logger

	requestTimeout time.Duration
	swapTTL        time.Duration

	server   *http.Server
	listener net.Listener
}

// New builds an unstarted Server.
func New(st Store, v VaultMinter, book Book, m *metrics.Registry, requestTimeout, swapTTL time.Duration, log *logging.Logger) *Server {
	return &Server{
		store:          st,
		vault:          v,
		book:           book,
		metrics:        m,
		log:            log,
		requestTimeout: requestTimeout,
		swapTTL:        swapTTL,
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/quote", s.handleQuote)
	r.Post("/swap", s.handleCreateSwap)
	r.Get("/swap/{id}", s.handleSwapStatus)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{}))

	return r
}

// Start begins serving on addr; it returns once the listener is bound, with
// the server itself running in a background goroutine.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server error: %v", err)
		}
	}()

	s.log.Infof("http server listening on %s", addr)
	return nil
}

// Stop gracefully shuts the server down, giving in-flight requests 5s to finish.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
