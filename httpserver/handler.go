package httpserver

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
	"github.com/ruteri/tee-enclave-bootstrap/registration"
)

// Handler adapts the registration orchestrator to HTTP. Responses carry a
// coarse status only; the detailed failure cause is logged and never
// returned to the caller.
//
// The mutex enforces the one-in-flight rule for registration calls: the
// vault and sealed store are process-wide state and two overlapping
// invocations would corrupt them.
type Handler struct {
	orchestrator *registration.Orchestrator
	log          *slog.Logger

	mu sync.Mutex
}

// NewHandler creates a handler over the orchestrator.
func NewHandler(orchestrator *registration.Orchestrator, log *slog.Logger) *Handler {
	return &Handler{orchestrator: orchestrator, log: log}
}

type bootstrapInitRequest struct {
	APIKey string `json:"api_key,omitempty"`
}

type nodeInitRequest struct {
	PeerPubkey string `json:"peer_pubkey"`
	SeedBlob   string `json:"seed_blob"`
	APIKey     string `json:"api_key,omitempty"`
}

type attestationReportRequest struct {
	APIKey string `json:"api_key,omitempty"`
	Flags  uint32 `json:"flags"`
}

type genesisSeedRequest struct {
	RequesterPubkey string `json:"requester_pubkey"`
}

// HandleBootstrapInit runs bootstrap initialization and returns the master
// seed-exchange public key.
func (h *Handler) HandleBootstrapInit(w http.ResponseWriter, r *http.Request) {
	if !h.mu.TryLock() {
		h.writeBusy(w)
		return
	}
	defer h.mu.Unlock()

	var req bootstrapInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, "bootstrap-init", interfaces.ErrInvalidInput)
		return
	}

	pubkey, err := h.orchestrator.InitBootstrap(r.Context(), []byte(req.APIKey))
	if err != nil {
		h.writeFailure(w, "bootstrap-init", err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "ok", "pubkey": pubkey.String()})
}

// HandleNodeInit joins this node to an existing chain using the peer's
// encrypted-seed blob.
func (h *Handler) HandleNodeInit(w http.ResponseWriter, r *http.Request) {
	if !h.mu.TryLock() {
		h.writeBusy(w)
		return
	}
	defer h.mu.Unlock()

	var req nodeInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, "node-init", interfaces.ErrInvalidInput)
		return
	}
	peerPub, err := hex.DecodeString(req.PeerPubkey)
	if err != nil {
		h.writeFailure(w, "node-init", interfaces.ErrInvalidInput)
		return
	}
	blob, err := hex.DecodeString(req.SeedBlob)
	if err != nil {
		h.writeFailure(w, "node-init", interfaces.ErrInvalidInput)
		return
	}

	if err := h.orchestrator.InitNode(r.Context(), peerPub, blob, []byte(req.APIKey)); err != nil {
		h.writeFailure(w, "node-init", err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "ok"})
}

// HandleKeyGen creates a fresh registration key and returns its public half.
func (h *Handler) HandleKeyGen(w http.ResponseWriter, r *http.Request) {
	if !h.mu.TryLock() {
		h.writeBusy(w)
		return
	}
	defer h.mu.Unlock()

	pubkey, err := h.orchestrator.KeyGen(r.Context())
	if err != nil {
		h.writeFailure(w, "key-gen", err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "ok", "pubkey": pubkey.String()})
}

// HandleAttestationReport produces and exports the combined attestation
// artifact.
func (h *Handler) HandleAttestationReport(w http.ResponseWriter, r *http.Request) {
	if !h.mu.TryLock() {
		h.writeBusy(w)
		return
	}
	defer h.mu.Unlock()

	var req attestationReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, "attestation-report", interfaces.ErrInvalidInput)
		return
	}

	if err := h.orchestrator.AttestationReport(r.Context(), []byte(req.APIKey), req.Flags); err != nil {
		h.writeFailure(w, "attestation-report", err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "ok"})
}

// HandleGenesisSeed encrypts the genesis seed for the requester.
func (h *Handler) HandleGenesisSeed(w http.ResponseWriter, r *http.Request) {
	if !h.mu.TryLock() {
		h.writeBusy(w)
		return
	}
	defer h.mu.Unlock()

	var req genesisSeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, "genesis-seed", interfaces.ErrInvalidInput)
		return
	}
	requesterPub, err := hex.DecodeString(req.RequesterPubkey)
	if err != nil {
		h.writeFailure(w, "genesis-seed", interfaces.ErrInvalidInput)
		return
	}

	blob, err := h.orchestrator.GenesisSeed(r.Context(), requesterPub)
	if err != nil {
		h.writeFailure(w, "genesis-seed", err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "ok", "encrypted_seed": hex.EncodeToString(blob)})
}

// HandleMigrateSealedStorage rewrites legacy sealed records to the current
// format.
func (h *Handler) HandleMigrateSealedStorage(w http.ResponseWriter, r *http.Request) {
	if !h.mu.TryLock() {
		h.writeBusy(w)
		return
	}
	defer h.mu.Unlock()

	if err := h.orchestrator.MigrateSealedStorage(r.Context()); err != nil {
		h.writeFailure(w, "migrate-sealed-storage", err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn("Failed to write response", "err", err)
	}
}

func (h *Handler) writeBusy(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	w.Write([]byte(`{"status":"busy"}`))
}

// writeFailure logs the detailed cause and returns only a coarse status.
// Input errors map to 400, everything else to 500.
func (h *Handler) writeFailure(w http.ResponseWriter, op string, err error) {
	h.log.Error("Operation failed", slog.String("op", op), "err", err)

	status := http.StatusInternalServerError
	if errors.Is(err, interfaces.ErrInvalidInput) || errors.Is(err, interfaces.ErrBadLength) {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"status":"failed"}`))
}
