package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"fluxsdk/pkg"
	"fluxsdk/pkg/sdk"
	"fluxsdk/pkg/subscription"
	"fluxsdk/pkg/vault"
)

// maxBatch bounds the addresses accepted by /vaults.
const maxBatch = 100

type server struct {
	client    *sdk.Client
	logger    *zap.Logger
	startTime time.Time

	mu       sync.Mutex
	watched  map[solana.PublicKey]subscription.SubscriptionID
	lastPush time.Time
	pushes   atomic.Uint64
}

func newServer(client *sdk.Client, logger *zap.Logger) *server {
	return &server{
		client:    client,
		logger:    logger,
		startTime: time.Now(),
		watched:   make(map[solana.PublicKey]subscription.SubscriptionID),
	}
}

// watch keeps address fresh in the client cache through push updates.
func (s *server) watch(address solana.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watched[address]; ok {
		return nil
	}

	id, err := s.client.SubscribeVaultUpdates(address, func(state *vault.VaultState) {
		s.pushes.Add(1)
		s.mu.Lock()
		s.lastPush = time.Now()
		s.mu.Unlock()
		s.logger.Debug("vault updated",
			zap.String("address", address.String()),
			zap.Uint64("slot", state.Slot),
			zap.Uint64("total_assets", state.TotalAssets),
		)
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", address, err)
	}
	s.watched[address] = id
	return nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/vault", s.handleVault)
	mux.HandleFunc("/vaults", s.handleVaults)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	return corsMiddleware(mux)
}

func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Flux Vault Service",
		"status":  "running",
		"watched": s.watchedCount(),
		"endpoints": map[string]string{
			"vault":  "/vault?address=<pubkey>&fresh=<bool>&price=<oracle price>",
			"vaults": "/vaults?addresses=<comma-separated pubkeys>",
			"health": "/health",
		},
	})
}

func (s *server) handleVault(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	address, err := solana.PublicKeyFromBase58(query.Get("address"))
	if err != nil {
		writeError(w, "Invalid or missing address parameter", http.StatusBadRequest)
		return
	}

	fresh := false
	if v := query.Get("fresh"); v != "" {
		if fresh, err = strconv.ParseBool(v); err != nil {
			writeError(w, "Invalid fresh parameter (must be a boolean)", http.StatusBadRequest)
			return
		}
	}

	var price uint64
	if v := query.Get("price"); v != "" {
		if price, err = strconv.ParseUint(v, 10, 64); err != nil {
			writeError(w, "Invalid price parameter (must be a non-negative integer)", http.StatusBadRequest)
			return
		}
	}

	var state *vault.VaultState
	cached := false
	if !fresh {
		state, cached = s.client.CachedVault(address)
	}
	if !cached {
		state, err = s.client.GetVaultState(r.Context(), address, sdk.WithCache(false))
	}
	if err != nil {
		s.logger.Warn("vault read failed", zap.String("address", address.String()), zap.Error(err))
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, &VaultResponse{Summary: state.Summarize(price), Cached: cached})
}

func (s *server) handleVaults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	param := r.URL.Query().Get("addresses")
	if param == "" {
		writeError(w, "Missing required parameter: addresses", http.StatusBadRequest)
		return
	}
	parts := strings.Split(param, ",")
	if len(parts) > maxBatch {
		writeError(w, fmt.Sprintf("At most %d addresses per request", maxBatch), http.StatusBadRequest)
		return
	}

	addresses := make([]solana.PublicKey, 0, len(parts))
	for _, part := range parts {
		address, err := solana.PublicKeyFromBase58(strings.TrimSpace(part))
		if err != nil {
			writeError(w, fmt.Sprintf("Invalid address %q", part), http.StatusBadRequest)
			return
		}
		addresses = append(addresses, address)
	}

	states := make([]*vault.VaultState, len(addresses))
	cached := make([]bool, len(addresses))
	var misses []solana.PublicKey
	var missIndex []int
	for i, address := range addresses {
		if states[i], cached[i] = s.client.CachedVault(address); !cached[i] {
			misses = append(misses, address)
			missIndex = append(missIndex, i)
		}
	}
	if len(misses) > 0 {
		for j, state := range s.client.GetMultipleVaults(r.Context(), misses, sdk.WithCache(false)) {
			states[missIndex[j]] = state
		}
	}

	resp := VaultsResponse{Vaults: make([]*VaultResponse, 0, len(addresses))}
	for i, state := range states {
		if state == nil {
			resp.Failed = append(resp.Failed, addresses[i].String())
			continue
		}
		resp.Vaults = append(resp.Vaults, &VaultResponse{Summary: state.Summarize(0), Cached: cached[i]})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	lastPush := s.lastPush
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Watched:     s.watchedCount(),
		LastPush:    lastPush,
		PushesTotal: s.pushes.Load(),
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *server) watchedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watched)
}

func statusFor(err error) int {
	var decodeErr *pkg.DecodeError
	switch {
	case errors.Is(err, pkg.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &decodeErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pkg.ErrTimeout), errors.Is(err, pkg.ErrMaxRetriesExceeded):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
