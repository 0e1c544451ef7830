package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"loyaltysdk/gateway/middleware"
	"loyaltysdk/observability/metrics"
	"loyaltysdk/token"
)

const requestBodyLimit = 64 << 10

// TokenService is the slice of *token.Client the gateway serves.
type TokenService interface {
	Account() string
	GetBalance(ctx context.Context, account string) (string, error)
	Allowance(ctx context.Context, owner, spender string) (string, error)
	Owner(ctx context.Context) (string, error)
	Info(ctx context.Context) (token.Info, error)
	Transfer(ctx context.Context, to string, amount *big.Int) error
	Approve(ctx context.Context, spender string, amount *big.Int) error
	IncreaseAllowance(ctx context.Context, spender string, amount *big.Int) error
	DecreaseAllowance(ctx context.Context, spender string, amount *big.Int) error
	TransferFrom(ctx context.Context, from, to string, amount *big.Int) error
	TransferOwnership(ctx context.Context, newOwner string) error
	Mint(ctx context.Context, amount *big.Int) error
}

type tokenRoutes struct {
	svc     TokenService
	timeout time.Duration
	logger  *slog.Logger
}

type balanceResponse struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

type allowanceResponse struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
}

type ownerResponse struct {
	Owner string `json:"owner"`
}

type writeRequest struct {
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Spender  string `json:"spender,omitempty"`
	NewOwner string `json:"newOwner,omitempty"`
	Amount   string `json:"amount,omitempty"`
}

type writeResponse struct {
	Operation string `json:"operation"`
	Signer    string `json:"signer"`
	Status    string `json:"status"`
}

func (tr *tokenRoutes) mountReads(r chi.Router) {
	r.Get("/balance/{account}", tr.balance)
	r.Get("/allowance/{owner}/{spender}", tr.allowance)
	r.Get("/owner", tr.owner)
	r.Get("/info", tr.info)
}

func (tr *tokenRoutes) mountWrites(r chi.Router) {
	r.Post("/transfer", tr.write(token.MethodTransfer, func(ctx context.Context, req writeRequest, amount *big.Int) error {
		return tr.svc.Transfer(ctx, req.To, amount)
	}))
	r.Post("/approve", tr.write(token.MethodApprove, func(ctx context.Context, req writeRequest, amount *big.Int) error {
		return tr.svc.Approve(ctx, req.Spender, amount)
	}))
	r.Post("/allowance/increase", tr.write(token.MethodIncreaseAllowance, func(ctx context.Context, req writeRequest, amount *big.Int) error {
		return tr.svc.IncreaseAllowance(ctx, req.Spender, amount)
	}))
	r.Post("/allowance/decrease", tr.write(token.MethodDecreaseAllowance, func(ctx context.Context, req writeRequest, amount *big.Int) error {
		return tr.svc.DecreaseAllowance(ctx, req.Spender, amount)
	}))
	r.Post("/transfer-from", tr.write(token.MethodTransferFrom, func(ctx context.Context, req writeRequest, amount *big.Int) error {
		return tr.svc.TransferFrom(ctx, req.From, req.To, amount)
	}))
	r.Post("/ownership", tr.write(token.MethodTransferOwnership, func(ctx context.Context, req writeRequest, _ *big.Int) error {
		return tr.svc.TransferOwnership(ctx, req.NewOwner)
	}))
	r.Post("/mint", tr.write(token.MethodMint, func(ctx context.Context, req writeRequest, amount *big.Int) error {
		return tr.svc.Mint(ctx, amount)
	}))
}

func (tr *tokenRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := tr.timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return context.WithTimeout(parent, timeout)
}

func (tr *tokenRoutes) balance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := tr.context(r.Context())
	defer cancel()

	account := chi.URLParam(r, "account")
	balance, err := tr.svc.GetBalance(ctx, account)
	if err != nil {
		tr.writeTokenError(w, r, token.MethodBalanceOf, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Account: account, Balance: balance})
}

func (tr *tokenRoutes) allowance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := tr.context(r.Context())
	defer cancel()

	owner, spender := chi.URLParam(r, "owner"), chi.URLParam(r, "spender")
	allowance, err := tr.svc.Allowance(ctx, owner, spender)
	if err != nil {
		tr.writeTokenError(w, r, token.MethodAllowance, err)
		return
	}
	writeJSON(w, http.StatusOK, allowanceResponse{Owner: owner, Spender: spender, Allowance: allowance})
}

func (tr *tokenRoutes) owner(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := tr.context(r.Context())
	defer cancel()

	owner, err := tr.svc.Owner(ctx)
	if err != nil {
		tr.writeTokenError(w, r, token.MethodOwner, err)
		return
	}
	writeJSON(w, http.StatusOK, ownerResponse{Owner: owner})
}

func (tr *tokenRoutes) info(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := tr.context(r.Context())
	defer cancel()

	info, err := tr.svc.Info(ctx)
	if err != nil {
		tr.writeTokenError(w, r, "info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type writeFunc func(ctx context.Context, req writeRequest, amount *big.Int) error

// write decodes the body, parses the decimal amount when present and runs fn
// until the transaction is confirmed or the request times out.
func (tr *tokenRoutes) write(operation string, fn writeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req writeRequest
		if err := decodeRequest(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err)
			return
		}
		var amount *big.Int
		if operation != token.MethodTransferOwnership {
			parsed, err := parseAmount(req.Amount)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, err)
				return
			}
			amount = parsed
		}

		done := metrics.Gateway().TrackWrite()
		defer done()
		ctx, cancel := tr.context(r.Context())
		defer cancel()

		if err := fn(ctx, req, amount); err != nil {
			tr.writeTokenError(w, r, operation, err)
			return
		}
		tr.logger.Info("transaction confirmed",
			slog.String("method", operation),
			slog.String("subject", middleware.SubjectFromContext(r.Context())),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())))
		writeJSON(w, http.StatusOK, writeResponse{Operation: operation, Signer: tr.svc.Account(), Status: "confirmed"})
	}
}

func (tr *tokenRoutes) writeTokenError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status, class := classify(err)
	metrics.Gateway().IncTokenError(operation, class)
	if status < http.StatusInternalServerError {
		writeJSONError(w, status, err)
		return
	}
	// Upstream failures can carry the RPC endpoint, API key included; the
	// detail stays in the server log.
	requestID := middleware.RequestIDFromContext(r.Context())
	tr.logger.Error("token operation failed",
		slog.String("method", operation),
		slog.String("class", class),
		slog.String("request_id", requestID),
		slog.Any("error", err))
	writeJSON(w, status, errorResponse{Error: http.StatusText(status), Class: class, RequestID: requestID})
}

type errorResponse struct {
	Error     string `json:"error"`
	Class     string `json:"class"`
	RequestID string `json:"requestId,omitempty"`
}

// classify maps the token error taxonomy onto HTTP. Zero-address transfers
// are revert-class even though they are caught locally.
func classify(err error) (int, string) {
	switch {
	case token.IsRevert(err):
		return http.StatusConflict, "revert"
	case token.IsValidation(err):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, token.ErrTransport):
		return http.StatusBadGateway, "transport"
	case errors.Is(err, token.ErrConfirmTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, token.ErrClientClosed):
		return http.StatusServiceUnavailable, "closed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("amount is required")
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal integer", raw)
	}
	return amount, nil
}

func decodeRequest(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, requestBodyLimit))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Errorf("marshal response: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	payload, _ := json.Marshal(map[string]string{"error": message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
