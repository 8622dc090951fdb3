package api

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ignite/leadclean/internal/cleaner"
	"github.com/ignite/leadclean/internal/config"
	"github.com/ignite/leadclean/internal/credit"
	"github.com/ignite/leadclean/internal/extractor"
	"github.com/ignite/leadclean/internal/payments"
	"github.com/ignite/leadclean/internal/pkg/httputil"
	"github.com/ignite/leadclean/internal/pkg/logger"
)

// maxUploadBytes bounds a single CSV upload. Bulk ingestion is out of
// scope; this service cleans lead lists, not warehouses.
const maxUploadBytes = 64 << 20 // 64MB

// Handlers contains all HTTP handlers
type Handlers struct {
	cleaner  *cleaner.Cleaner
	ledger   credit.Ledger
	checkout *payments.Client
	progress *ProgressStore
	sessions *sessionStore
	cfg      *config.Config
}

// NewHandlers creates a new Handlers instance
func NewHandlers(cl *cleaner.Cleaner, ledger credit.Ledger, checkout *payments.Client, progress *ProgressStore, cfg *config.Config) *Handlers {
	return &Handlers{
		cleaner:  cl,
		ledger:   ledger,
		checkout: checkout,
		progress: progress,
		sessions: newSessionStore(),
		cfg:      cfg,
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// GetCredits returns the caller's balance, creating the account on first
// contact.
func (h *Handlers) GetCredits(w http.ResponseWriter, r *http.Request) {
	identity := resolveIdentity(r)
	balance, err := h.ledger.Balance(r.Context(), identity)
	if err != nil {
		logger.Error("balance lookup failed", "identity", identity.Key(), "error", err.Error())
		httputil.Error(w, http.StatusInternalServerError, "could not read credit balance")
		return
	}
	httputil.OK(w, map[string]interface{}{
		"identity_kind": identity.Kind,
		"credits":       balance,
	})
}

// CleanList accepts a CSV upload and starts an asynchronous cleaning
// session. The response carries the session id for progress polling and
// result download.
func (h *Handlers) CleanList(w http.ResponseWriter, r *http.Request) {
	identity := resolveIdentity(r)

	records, err := readCSVUpload(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	sessionID := uuid.NewString()
	h.sessions.create(sessionID, identity)
	if err := h.progress.Set(r.Context(), &Progress{SessionID: sessionID, Status: StatusRunning}); err != nil {
		logger.Warn("progress init failed", "session_id", sessionID, "error", err.Error())
	}

	go h.runSession(sessionID, identity, records)

	httputil.Accepted(w, map[string]string{"session_id": sessionID})
}

// runSession executes the cleaning pipeline detached from the upload
// request, reporting progress through the progress store.
func (h *Handlers) runSession(sessionID string, identity credit.Identity, records [][]string) {
	ctx := context.Background()

	onProgress := func(percent float64) {
		p := &Progress{SessionID: sessionID, Status: StatusRunning, Percent: percent}
		if err := h.progress.Set(ctx, p); err != nil {
			logger.Warn("progress update failed", "session_id", sessionID, "error", err.Error())
		}
	}

	result, err := h.cleaner.Clean(ctx, identity, records, onProgress)
	h.sessions.finish(sessionID, result, err)

	final := &Progress{SessionID: sessionID, Status: StatusComplete, Percent: 100}
	if result != nil {
		final.Candidates = result.Candidates
		final.Verified = result.VerifiedAddresses
		final.CreditsUsed = result.CreditsUsed
	}
	if err != nil {
		final.Status = StatusFailed
		final.Error = err.Error()
		logger.Info("cleaning session failed",
			"session_id", sessionID,
			"identity", identity.Key(),
			"error", err.Error())
	} else {
		logger.Info("cleaning session complete",
			"session_id", sessionID,
			"identity", identity.Key(),
			"candidates", fmt.Sprintf("%d", result.Candidates),
			"kept_rows", fmt.Sprintf("%d", result.KeptRows),
			"credits_used", fmt.Sprintf("%d", result.CreditsUsed))
	}
	if err := h.progress.Set(ctx, final); err != nil {
		logger.Warn("final progress write failed", "session_id", sessionID, "error", err.Error())
	}
}

// GetProgress returns the progress document for a session.
func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	p, err := h.progress.Get(r.Context(), sessionID)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "could not read progress")
		return
	}
	if p == nil {
		httputil.NotFound(w, "unknown session")
		return
	}
	httputil.OK(w, p)
}

// GetResult streams the cleaned CSV for a finished session.
func (h *Handlers) GetResult(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess := h.sessions.get(sessionID)
	if sess == nil {
		httputil.NotFound(w, "unknown session")
		return
	}

	switch sess.Status {
	case StatusRunning:
		httputil.Error(w, http.StatusConflict, "session still running")
		return
	case StatusFailed:
		httputil.Error(w, statusForError(sess.Err), sess.Err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="cleaned_%s.csv"`, sessionID))
	w.Header().Set("X-Credits-Used", fmt.Sprintf("%d", sess.Result.CreditsUsed))

	writer := csv.NewWriter(w)
	if err := writer.WriteAll(sess.Result.Rows); err != nil {
		logger.Error("result stream failed", "session_id", sessionID, "error", err.Error())
	}
}

// CreateCheckout opens a payment session for a credit top-up.
func (h *Handlers) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	identity := resolveIdentity(r)

	var req struct {
		Credits int `json:"credits"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Credits <= 0 {
		httputil.BadRequest(w, "credits must be positive")
		return
	}

	session, err := h.checkout.CreateSession(r.Context(), identity.Key(), req.Credits,
		h.cfg.Checkout.SuccessURL, h.cfg.Checkout.CancelURL)
	if err != nil {
		logger.Error("checkout session failed", "identity", identity.Key(), "error", err.Error())
		httputil.Error(w, http.StatusBadGateway, "could not create checkout session")
		return
	}
	httputil.OK(w, session)
}

// PaymentWebhook handles signed payment confirmations. Crediting is
// idempotent by checkout session id, so processor retries are safe.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httputil.BadRequest(w, "could not read payload")
		return
	}

	event, err := payments.ParseEvent(body, r.Header.Get("X-Checkout-Signature"), h.cfg.Checkout.WebhookSecret)
	if err != nil {
		logger.Warn("webhook rejected", "error", err.Error())
		httputil.BadRequest(w, "invalid webhook")
		return
	}

	if event.Type != payments.EventCheckoutCompleted {
		httputil.OK(w, map[string]bool{"received": true})
		return
	}

	identity, err := credit.ParseKey(event.Data.Metadata["identity"])
	if err != nil {
		httputil.BadRequest(w, "malformed identity metadata")
		return
	}
	var credits int
	if _, err := fmt.Sscanf(event.Data.Metadata["credits"], "%d", &credits); err != nil || credits <= 0 {
		httputil.BadRequest(w, "malformed credits metadata")
		return
	}

	applied, err := h.ledger.AddCredits(r.Context(), identity, credits, event.Data.ID)
	if err != nil {
		logger.Error("crediting failed",
			"payment_id", event.Data.ID,
			"identity", identity.Key(),
			"error", err.Error())
		httputil.Error(w, http.StatusInternalServerError, "could not apply payment")
		return
	}
	if !applied {
		logger.Info("duplicate payment webhook ignored", "payment_id", event.Data.ID)
	} else {
		logger.Info("credits applied",
			"payment_id", event.Data.ID,
			"identity", identity.Key(),
			"credits", fmt.Sprintf("%d", credits))
	}
	httputil.OK(w, map[string]bool{"received": true})
}

// readCSVUpload pulls the uploaded CSV out of a multipart form (field
// "file") or a raw request body and parses it into records.
func readCSVUpload(r *http.Request) ([][]string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)

	var source io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, fmt.Errorf("invalid multipart upload: %w", err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf(`upload must carry a "file" form field`)
		}
		defer file.Close()
		source = file
	}

	reader := csv.NewReader(source)
	reader.FieldsPerRecord = -1 // ragged rows are tolerated; extractor skips short ones
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, extractor.ErrEmptyInput
	}
	return records, nil
}

// statusForError maps session failures to response codes: malformed input
// is the caller's problem, an empty wallet is a payment problem, anything
// else is ours.
func statusForError(err error) int {
	switch {
	case errors.Is(err, credit.ErrInsufficientCredit):
		return http.StatusPaymentRequired
	case errors.Is(err, extractor.ErrNoEmailColumn),
		errors.Is(err, extractor.ErrEmptyInput),
		errors.Is(err, cleaner.ErrNoValidRows):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
