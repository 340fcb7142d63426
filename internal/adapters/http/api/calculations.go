package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/calcstore/internal/adapters/repository"
	"github.com/okian/calcstore/internal/domain/calculation"
	"github.com/okian/calcstore/pkg/logger"
	"github.com/okian/calcstore/pkg/metrics"
)

// Response messages.
const (
	msgSaved          = "Calculation saved successfully"
	msgDeleted        = "Calculation deleted successfully"
	msgNotFound       = "Calculation not found"
	msgInvalidJSON    = "Invalid JSON body"
	msgBodyTooLarge   = "Request body too large"
	msgSaveFailed     = "Failed to save calculation"
	msgListFailed     = "Failed to fetch calculations"
	msgGetFailed      = "Failed to fetch calculation"
	msgDeleteFailed   = "Failed to delete calculation"
	validationMissing = "missing"
	validationInvalid = "invalid"
)

// CalculationHandler serves the /api/calculations routes.
type CalculationHandler struct {
	deps         Dependencies
	logger       logger.Logger
	maxBodyBytes int64
}

// NewCalculationHandler creates a handler backed by deps.
func NewCalculationHandler(deps Dependencies, log logger.Logger, maxBodyBytes int64) *CalculationHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &CalculationHandler{deps: deps, logger: log, maxBodyBytes: maxBodyBytes}
}

// createdCalculation is the add response; updatedAt is not echoed.
type createdCalculation struct {
	ID        string    `json:"id"`
	Number1   float64   `json:"number1"`
	Number2   float64   `json:"number2"`
	Sum       float64   `json:"sum"`
	CreatedAt time.Time `json:"createdAt"`
}

// HandleAdd handles POST /api/calculations/add.
func (h *CalculationHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	const op = "api.add_calculation"

	in, err := h.decodeInput(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge, WrapKind(op, ErrBodyTooLarge, err))
			return
		}
		writeError(w, http.StatusBadRequest, msgInvalidJSON, WrapKind(op, ErrBadRequest, err))
		return
	}

	ops, err := in.Validate()
	if err != nil {
		var verr *calculation.ValidationError
		if !errors.As(err, &verr) {
			h.serverError(w, r, op, msgSaveFailed, err)
			return
		}
		reason := validationInvalid
		if verr.Message == calculation.MsgOperandsRequired {
			reason = validationMissing
		}
		metrics.RecordValidationFailure(reason)
		writeError(w, http.StatusBadRequest, verr.Message, nil)
		return
	}

	c, err := h.deps.AddCalculation(r.Context(), ops)
	if err != nil {
		h.serverError(w, r, op, msgSaveFailed, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Message: msgSaved,
		Data: createdCalculation{
			ID:        c.ID,
			Number1:   c.Number1,
			Number2:   c.Number2,
			Sum:       c.Sum,
			CreatedAt: c.CreatedAt,
		},
	})
}

// HandleList handles GET /api/calculations?limit=N.
func (h *CalculationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_calculations"

	list, err := h.deps.ListCalculations(r.Context(), parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		h.serverError(w, r, op, msgListFailed, err)
		return
	}
	if list == nil {
		list = []calculation.Calculation{}
	}
	count := len(list)
	writeJSON(w, http.StatusOK, envelope{Success: true, Count: &count, Data: list})
}

// HandleGet handles GET /api/calculations/{id}.
func (h *CalculationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_calculation"

	c, err := h.deps.GetCalculation(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound, nil)
	case err != nil:
		h.serverError(w, r, op, msgGetFailed, err)
	default:
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: c})
	}
}

// HandleDelete handles DELETE /api/calculations/{id}.
func (h *CalculationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_calculation"

	c, err := h.deps.DeleteCalculation(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound, nil)
	case err != nil:
		h.serverError(w, r, op, msgDeleteFailed, err)
	default:
		writeJSON(w, http.StatusOK, envelope{Success: true, Message: msgDeleted, Data: c})
	}
}

func (h *CalculationHandler) serverError(w http.ResponseWriter, r *http.Request, op, message string, err error) {
	err = Wrap(op, err)
	h.logger.Error(r.Context(), message,
		logger.Error(err),
		logger.String("request_id", RequestIDFrom(r.Context())))
	writeError(w, http.StatusInternalServerError, message, err)
}

// decodeInput reads the add payload. Bodies that are empty or not declared
// as JSON decode to an empty input.
func (h *CalculationHandler) decodeInput(r *http.Request) (calculation.Input, error) {
	var in calculation.Input
	if r.Body == nil || !isJSON(r.Header.Get("Content-Type")) {
		return in, nil
	}
	body := io.Reader(r.Body)
	if h.maxBodyBytes > 0 {
		body = io.LimitReader(r.Body, h.maxBodyBytes+1)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return in, err
	}
	if h.maxBodyBytes > 0 && int64(len(raw)) > h.maxBodyBytes {
		return in, &http.MaxBytesError{Limit: h.maxBodyBytes}
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return in, nil
	}
	// An array carries no named fields; it is validated like an empty object.
	if raw[0] == '[' && json.Valid(raw) {
		return in, nil
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return calculation.Input{}, err
	}
	return in, nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// parseLimit reads the leading decimal integer of v, so "5abc" is 5 and
// "2.5" is 2. Values without leading digits yield 0, which selects the
// default limit.
func parseLimit(v string) int {
	v = strings.TrimSpace(v)
	end := 0
	if end < len(v) && (v[end] == '+' || v[end] == '-') {
		end++
	}
	digits := end
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.Atoi(v[:end])
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	return n
}
