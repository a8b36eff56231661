package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	apierrors "github.com/coreledger/txcore/internal/pkg/errors"
	"github.com/coreledger/txcore/internal/pkg/logging"
	"github.com/coreledger/txcore/internal/pkg/metrics"
)

func breakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// HTTPGateway is the concrete Gateway talking to the remote Account
// Service over HTTP, wrapped in a circuit breaker the same way the pack's
// Circle API client wraps every outbound call.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Config configures the HTTPGateway's transport, circuit breaker and retry
// budget.
type Config struct {
	BaseURL                 string
	Timeout                 time.Duration
	CircuitBreakerThreshold uint32
	CircuitBreakerCooldown  time.Duration
	CircuitBreakerProbes    uint32
	MaxRetries              int
	RetryInitialInterval    time.Duration
	RetryMaxInterval        time.Duration
}

func NewHTTPGateway(cfg Config) *HTTPGateway {
	st := gobreaker.Settings{
		Name:        "AccountService",
		MaxRequests: cfg.CircuitBreakerProbes,
		Interval:    0,
		Timeout:     cfg.CircuitBreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CircuitBreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("account gateway circuit breaker state changed", map[string]interface{}{
				"name": name, "from": from.String(), "to": to.String(),
			})
			metrics.SetCircuitBreakerState(name, breakerStateValue(to))
		},
	}

	return &HTTPGateway{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker:        gobreaker.NewCircuitBreaker(st),
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.RetryInitialInterval,
		maxBackoff:     cfg.RetryMaxInterval,
	}
}

type accountDTO struct {
	ID              string          `json:"id"`
	Balance         decimal.Decimal `json:"balance"`
	Currency        string          `json:"currency"`
	AccountType     string          `json:"accountType"`
	AvailableCredit decimal.Decimal `json:"availableCredit"`
	Active          bool            `json:"active"`
}

func (g *HTTPGateway) GetAccount(ctx context.Context, accountID string) (*AccountSnapshot, error) {
	start := time.Now()
	var dto accountDTO
	err := g.executeWithBreaker(ctx, func() error {
		return g.doRequestWithRetry(ctx, http.MethodGet, fmt.Sprintf("/accounts/%s", accountID), nil, &dto)
	})
	metrics.RecordAccountGatewayCall("get_account", outcomeLabel(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return &AccountSnapshot{
		AccountID:       dto.ID,
		Balance:         dto.Balance,
		AccountType:     dto.AccountType,
		Currency:        dto.Currency,
		AvailableCredit: dto.AvailableCredit,
		Active:          dto.Active,
	}, nil
}

type balanceOperationRequest struct {
	OperationID     string          `json:"operationId"`
	Delta           decimal.Decimal `json:"delta"`
	Reason          string          `json:"reason"`
	Label           string          `json:"label"`
	CreditBalancing bool            `json:"creditBalancing"`
}

type balanceOperationDTO struct {
	AccountID   string          `json:"accountId"`
	OperationID string          `json:"operationId"`
	Applied     bool            `json:"applied"`
	NewBalance  decimal.Decimal `json:"newBalance"`
	Version     int64           `json:"version"`
	Status      OpStatus        `json:"status"`
	ReasonCode  string          `json:"reasonCode"`
}

func (g *HTTPGateway) ApplyBalanceOperation(ctx context.Context, accountID, operationID string, delta decimal.Decimal, reason, label string, creditBalancing bool) (*BalanceOpResponse, error) {
	req := balanceOperationRequest{
		OperationID:     operationID,
		Delta:           delta,
		Reason:          reason,
		Label:           label,
		CreditBalancing: creditBalancing,
	}

	start := time.Now()
	var dto balanceOperationDTO
	err := g.executeWithBreaker(ctx, func() error {
		return g.doRequestWithRetry(ctx, http.MethodPost, fmt.Sprintf("/accounts/%s/balance-operations", accountID), req, &dto)
	})
	metrics.RecordAccountGatewayCall("apply_balance_operation", outcomeLabel(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	return &BalanceOpResponse{
		AccountID:   dto.AccountID,
		OperationID: dto.OperationID,
		Applied:     dto.Applied,
		NewBalance:  dto.NewBalance,
		Version:     dto.Version,
		Status:      dto.Status,
		ReasonCode:  dto.ReasonCode,
	}, nil
}

// executeWithBreaker runs fn through the circuit breaker, translating an
// open breaker into a stable ServiceUnavailable error.
func (g *HTTPGateway) executeWithBreaker(ctx context.Context, fn func() error) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apierrors.Wrap(apierrors.CodeServiceUnavailable, "account service circuit open", err)
	}
	return err
}

// doRequestWithRetry issues one HTTP call, retrying transient network and
// timeout failures with bounded exponential backoff. HTTP 4xx responses are
// mapped straight to typed errors and never retried.
func (g *HTTPGateway) doRequestWithRetry(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.initialBackoff
	bo.MaxInterval = g.maxBackoff
	bounded := backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(g.maxRetries))

	operation := func() error {
		err := g.doRequest(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, bounded)
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return "error"
}

func isPermanent(err error) bool {
	switch apierrors.CodeOf(err) {
	case apierrors.CodeAccountNotFound, apierrors.CodeValidation, apierrors.CodeConflict:
		return true
	}
	return false
}

func (g *HTTPGateway) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return apierrors.Wrap(apierrors.CodeValidation, "failed to encode request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeServiceUnavailable, "account service request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeServiceUnavailable, "failed reading account service response", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return apierrors.Wrap(apierrors.CodeInternal, "failed to decode account service response", err)
			}
		}
		return nil
	case http.StatusNotFound:
		return apierrors.New(apierrors.CodeAccountNotFound, "account not found")
	case http.StatusConflict:
		return apierrors.New(apierrors.CodeConflict, string(respBody))
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apierrors.New(apierrors.CodeValidation, string(respBody))
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusBadGateway:
		return apierrors.New(apierrors.CodeServiceUnavailable, "account service unavailable")
	default:
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return apierrors.New(apierrors.CodeValidation, fmt.Sprintf("account service rejected request with status %d", resp.StatusCode))
		}
		return apierrors.Wrap(apierrors.CodeInternal, fmt.Sprintf("unexpected account service status %d", resp.StatusCode), nil)
	}
}
