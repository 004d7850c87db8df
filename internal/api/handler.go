package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pesaguard/pesaguard/internal/domain"
	"github.com/pesaguard/pesaguard/internal/repository"
	"github.com/pesaguard/pesaguard/internal/scoring"
)

// transTimeLayout is the gateway's timestamp format, e.g.
// "20240610143000". The gateway sends local wall-clock time.
const transTimeLayout = "20060102150405"

// Handler implements the HTTP endpoints.
type Handler struct {
	repo    domain.Repository
	service *scoring.Service
	bus     domain.EventBus
	logger  *slog.Logger

	// async defers scoring to the worker via the event bus instead of
	// scoring inline before the callback is acknowledged.
	async bool
}

// NewHandler creates an HTTP handler.
func NewHandler(repo domain.Repository, service *scoring.Service, bus domain.EventBus, logger *slog.Logger, async bool) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:    repo,
		service: service,
		bus:     bus,
		logger:  logger,
		async:   async,
	}
}

// CallbackRequest is the C2B confirmation payload from the gateway.
// TransAmount arrives as either a string or a number depending on the
// gateway version.
type CallbackRequest struct {
	TransactionType   string      `json:"TransactionType"`
	TransID           string      `json:"TransID"`
	TransTime         string      `json:"TransTime"`
	TransAmount       json.Number `json:"TransAmount"`
	BusinessShortCode string      `json:"BusinessShortCode"`
	BillRefNumber     string      `json:"BillRefNumber"`
	InvoiceNumber     string      `json:"InvoiceNumber"`
	OrgAccountBalance json.Number `json:"OrgAccountBalance"`
	ThirdPartyTransID string      `json:"ThirdPartyTransID"`
	MSISDN            string      `json:"MSISDN"`
	FirstName         string      `json:"FirstName"`
	MiddleName        string      `json:"MiddleName"`
	LastName          string      `json:"LastName"`
}

// gatewayAck is the response shape the gateway expects.
type gatewayAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// HandleCallback ingests a C2B confirmation: persist the transaction,
// assess it, then acknowledge.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.TransID == "" || req.BusinessShortCode == "" || req.MSISDN == "" {
		writeError(w, http.StatusBadRequest, "TransID, BusinessShortCode and MSISDN are required")
		return
	}

	business, err := h.repo.GetBusinessByShortCode(r.Context(), req.BusinessShortCode)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown business short code")
		return
	}
	if err != nil {
		h.logger.Error("failed to look up business", "short_code", req.BusinessShortCode, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	amount, err := req.TransAmount.Float64()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid TransAmount")
		return
	}

	transTime, err := time.ParseInLocation(transTimeLayout, req.TransTime, time.Local)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid TransTime")
		return
	}

	balance, _ := req.OrgAccountBalance.Float64()

	tx := &domain.Transaction{
		ID:                uuid.NewString(),
		BusinessID:        business.ID,
		TransactionID:     req.TransID,
		Type:              req.TransactionType,
		Amount:            amount,
		ShortCode:         req.BusinessShortCode,
		BillRefNumber:     req.BillRefNumber,
		InvoiceNumber:     req.InvoiceNumber,
		OrgAccountBalance: balance,
		ThirdPartyTransID: req.ThirdPartyTransID,
		MSISDN:            req.MSISDN,
		FirstName:         req.FirstName,
		MiddleName:        req.MiddleName,
		LastName:          req.LastName,
		TransTime:         transTime,
		CreatedAt:         time.Now().UTC(),
	}

	if err := h.repo.SaveTransaction(r.Context(), tx); err != nil {
		h.logger.Error("failed to save transaction", "trans_id", req.TransID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save transaction")
		return
	}

	if h.async {
		payload, _ := json.Marshal(map[string]string{
			"transactionId": tx.ID,
			"businessId":    tx.BusinessID,
		})
		if err := h.bus.Publish(r.Context(), domain.TopicTransactionIngested, payload); err != nil {
			h.logger.Error("failed to publish ingestion event", "transaction_id", tx.ID, "error", err)
		}
	} else {
		if _, err := h.service.ScoreTransaction(r.Context(), tx); err != nil {
			h.logger.Error("failed to assess transaction", "transaction_id", tx.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to assess transaction")
			return
		}
	}

	writeJSON(w, http.StatusOK, gatewayAck{ResultCode: 0, ResultDesc: "Accepted"})
}

// HandleValidation accepts every transaction at the validation stage;
// fraud scoring is advisory and never blocks payment.
func (h *Handler) HandleValidation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gatewayAck{ResultCode: 0, ResultDesc: "Accepted"})
}

type registerBusinessRequest struct {
	Name      string `json:"name"`
	ShortCode string `json:"shortCode"`
}

// HandleRegisterBusiness registers a merchant short code.
func (h *Handler) HandleRegisterBusiness(w http.ResponseWriter, r *http.Request) {
	var req registerBusinessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.ShortCode == "" {
		writeError(w, http.StatusBadRequest, "name and shortCode are required")
		return
	}

	b := &domain.Business{
		ID:        uuid.NewString(),
		Name:      req.Name,
		ShortCode: req.ShortCode,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.SaveBusiness(r.Context(), b); err != nil {
		h.logger.Error("failed to save business", "short_code", req.ShortCode, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save business")
		return
	}

	writeJSON(w, http.StatusCreated, b)
}

// HandleListTransactions lists transactions for a business.
func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	businessID := r.URL.Query().Get("businessId")
	if businessID == "" {
		writeError(w, http.StatusBadRequest, "businessId is required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	transactions, err := h.repo.ListTransactions(r.Context(), businessID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list transactions", "business_id", businessID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if transactions == nil {
		transactions = []*domain.Transaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
}

// HandleGetTransaction retrieves one transaction with its assessment
// if present.
func (h *Handler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(r.Context(), txID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get transaction", "transaction_id", txID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get transaction")
		return
	}

	response := map[string]any{"transaction": tx}
	if a, err := h.repo.GetAssessmentByTransaction(r.Context(), txID); err == nil {
		response["assessment"] = a
	}

	writeJSON(w, http.StatusOK, response)
}

// HandleGetAssessment retrieves one assessment, cache first.
func (h *Handler) HandleGetAssessment(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "id")

	a, err := h.service.GetAssessment(r.Context(), assessmentID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "assessment not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get assessment", "assessment_id", assessmentID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get assessment")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

type batchRequest struct {
	TransactionIDs []string `json:"transactionIds"`
}

type batchItemResponse struct {
	TransactionID string                  `json:"transactionId"`
	Assessment    *domain.FraudAssessment `json:"assessment,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// HandleBatch scores a list of stored transactions, one result per
// input in order.
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.TransactionIDs) == 0 {
		writeError(w, http.StatusBadRequest, "transactionIds is required")
		return
	}

	results := h.service.ScoreBatch(r.Context(), req.TransactionIDs)

	response := make([]batchItemResponse, 0, len(results))
	for _, result := range results {
		item := batchItemResponse{
			TransactionID: result.TransactionID,
			Assessment:    result.Assessment,
		}
		if result.Err != nil {
			item.Error = result.Err.Error()
		}
		response = append(response, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": response})
}

// HandleListFlagged lists flagged transactions awaiting or past
// review.
func (h *Handler) HandleListFlagged(w http.ResponseWriter, r *http.Request) {
	businessID := r.URL.Query().Get("businessId")
	reviewed := r.URL.Query().Get("reviewed") == "true"

	flagged, err := h.repo.ListFlagged(r.Context(), businessID, reviewed)
	if err != nil {
		h.logger.Error("failed to list flagged transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list flagged transactions")
		return
	}
	if flagged == nil {
		flagged = []*domain.FlaggedTransaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"flagged": flagged})
}

type reviewRequest struct {
	UserID string `json:"userId"`
	Notes  string `json:"notes"`
}

// HandleReview marks an assessment as reviewed.
func (h *Handler) HandleReview(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "id")

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	a, err := h.service.Review(r.Context(), assessmentID, req.UserID, req.Notes)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "assessment not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to review assessment", "assessment_id", assessmentID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to review assessment")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// HandleStats aggregates assessment outcomes.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	businessID := r.URL.Query().Get("businessId")

	stats, err := h.repo.FraudStats(r.Context(), businessID)
	if err != nil {
		h.logger.Error("failed to get fraud stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get fraud stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// HandleListPatterns lists the pattern catalog.
func (h *Handler) HandleListPatterns(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	patterns, err := h.repo.ListPatterns(r.Context(), activeOnly)
	if err != nil {
		h.logger.Error("failed to list patterns", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list patterns")
		return
	}
	if patterns == nil {
		patterns = []*domain.FraudPattern{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"patterns": patterns})
}

type savePatternRequest struct {
	ID          string  `json:"id"`
	PatternType string  `json:"patternType"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Active      bool    `json:"active"`
}

// HandleSavePattern creates or updates a pattern and reloads the
// catalog.
func (h *Handler) HandleSavePattern(w http.ResponseWriter, r *http.Request) {
	var req savePatternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PatternType == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "patternType and name are required")
		return
	}
	if req.Weight < 0 || req.Weight > 1 {
		writeError(w, http.StatusBadRequest, "weight must be in [0,1]")
		return
	}

	p := &domain.FraudPattern{
		ID:          req.ID,
		PatternType: domain.SignalType(req.PatternType),
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Weight:      req.Weight,
		Active:      req.Active,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	if err := h.repo.SavePattern(r.Context(), p); err != nil {
		h.logger.Error("failed to save pattern", "pattern_id", p.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save pattern")
		return
	}

	if err := h.service.ReloadPatterns(r.Context()); err != nil {
		// The pattern is stored but rejected by the engine, most
		// likely a bad expression.
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// HandleReloadPatterns reloads the catalog from storage.
func (h *Handler) HandleReloadPatterns(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ReloadPatterns(r.Context()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady reports readiness including storage connectivity.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
