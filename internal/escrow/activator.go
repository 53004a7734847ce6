package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 10 * time.Second

// idempotencyNamespace seeds the deterministic activation key so that every
// retry for the same contract carries the same Idempotency-Key header and the
// escrow side can deduplicate. Approval may be retried after a downstream
// failure; the key is what keeps retries from double-funding.
var idempotencyNamespace = uuid.MustParse("7b1e2a54-9c1f-4f6a-8f0e-2f9a3d5c6b10")

// ErrActivationRejected indicates the escrow service answered with a
// non-success status.
var ErrActivationRejected = errors.New("escrow: activation rejected")

// HTTPActivator calls the escrow service's activation endpoint when a
// negotiation is approved.
type HTTPActivator struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPActivator constructs an activator targeting the escrow base URL.
func NewHTTPActivator(baseURL string, client *http.Client, logger *zap.Logger) (*HTTPActivator, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("escrow: base url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPActivator{baseURL: baseURL, client: client, logger: logger}, nil
}

type activationPayload struct {
	ContractID string `json:"contract_id"`
}

// Activate posts the contract activation request. The Idempotency-Key header
// is derived from the contract id, so repeated calls for the same contract
// are safe on the escrow side.
func (a *HTTPActivator) Activate(ctx context.Context, contractID string) error {
	body, err := json.Marshal(activationPayload{ContractID: contractID})
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/activations", bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Idempotency-Key", ActivationKey(contractID))

	response, err := a.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 4096))

	if response.StatusCode < 200 || response.StatusCode > 299 {
		a.logger.Warn("escrow activation rejected",
			zap.String("contract_id", contractID),
			zap.Int("status", response.StatusCode))
		return fmt.Errorf("%w: status %d", ErrActivationRejected, response.StatusCode)
	}
	return nil
}

// ActivationKey returns the deterministic idempotency key for a contract.
func ActivationKey(contractID string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(contractID)).String()
}

// NopActivator satisfies the activation contract without any downstream call.
// Used when no escrow endpoint is configured, and in tests.
type NopActivator struct{}

// Activate does nothing.
func (NopActivator) Activate(context.Context, string) error { return nil }
