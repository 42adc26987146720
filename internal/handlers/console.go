package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/lopbooks/backorderd/internal/backorder"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// userErrorStatus maps workflow/user-input errors onto HTTP statuses;
// anything unrecognized is a server fault
func userErrorStatus(err error) int {
	switch {
	case errors.Is(err, backorder.ErrRecordNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, backorder.ErrReasonRequired),
		errors.Is(err, backorder.ErrUnknownAction),
		errors.Is(err, backorder.ErrInvalidUndoIndex),
		errors.Is(err, backorder.ErrEmptyScope),
		errors.Is(err, backorder.ErrUnknownSortKey):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondWorkflowError(w http.ResponseWriter, err error) {
	respondError(w, userErrorStatus(err), err.Error())
}

// detailPage returns one page of the open-backorder detail view
func (r *Router) detailPage(w http.ResponseWriter, req *http.Request) {
	sort, err := backorder.ParseSortKey(req.URL.Query().Get("sort"))
	if err != nil {
		respondWorkflowError(w, err)
		return
	}

	page := 1
	if raw := req.URL.Query().Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			respondError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
	}

	result, err := r.deps.Views.Detail(req.Context(), page, sort)
	if err != nil {
		respondWorkflowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// aggregate returns the title-level rollup
func (r *Router) aggregate(w http.ResponseWriter, req *http.Request) {
	sort, err := backorder.ParseAggSortKey(req.URL.Query().Get("sort"))
	if err != nil {
		respondWorkflowError(w, err)
		return
	}

	rows, err := r.deps.Views.Aggregate(req.Context(), sort)
	if err != nil {
		respondWorkflowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// export returns the windowed rollup for tabular export
func (r *Router) export(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()

	until := time.Now().UTC()
	since := until.AddDate(0, 0, -30)

	var err error
	if raw := q.Get("since"); raw != "" {
		if since, err = time.Parse(dateLayout, raw); err != nil {
			respondError(w, http.StatusBadRequest, "since must be YYYY-MM-DD")
			return
		}
	}
	if raw := q.Get("until"); raw != "" {
		if until, err = time.Parse(dateLayout, raw); err != nil {
			respondError(w, http.StatusBadRequest, "until must be YYYY-MM-DD")
			return
		}
	}

	rows, err := r.deps.Views.Export(req.Context(), since, until)
	if err != nil {
		respondWorkflowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// recentClosures lists the closures undo can target
func (r *Router) recentClosures(w http.ResponseWriter, req *http.Request) {
	limit := 10
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := r.deps.Store.RecentClosures(req.Context(), limit)
	if err != nil {
		respondWorkflowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recs)
}

type overrideRequest struct {
	OrderID    string `json:"order_id"`
	LineItemID string `json:"line_item_id"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
}

func (r *Router) override(w http.ResponseWriter, req *http.Request) {
	var body overrideRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	err := r.deps.Workflow.Override(req.Context(), body.OrderID, body.LineItemID,
		backorder.OverrideAction(body.Action), body.Reason)
	if err != nil {
		respondWorkflowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type fulfillRequest struct {
	OrderID string `json:"order_id"`
	ISBN    string `json:"isbn"`
}

func respondAffected(w http.ResponseWriter, n int64, err error) {
	if err != nil {
		respondWorkflowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"affected": n})
}

func (r *Router) fulfillOrder(w http.ResponseWriter, req *http.Request) {
	var body fulfillRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.OrderID == "" {
		respondError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	n, err := r.deps.Workflow.FulfillOrder(req.Context(), body.OrderID)
	respondAffected(w, n, err)
}

func (r *Router) fulfillItem(w http.ResponseWriter, req *http.Request) {
	var body fulfillRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.OrderID == "" || body.ISBN == "" {
		respondError(w, http.StatusBadRequest, "order_id and isbn are required")
		return
	}
	n, err := r.deps.Workflow.FulfillItem(req.Context(), body.OrderID, body.ISBN)
	respondAffected(w, n, err)
}

func (r *Router) fulfillISBN(w http.ResponseWriter, req *http.Request) {
	var body fulfillRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.ISBN == "" {
		respondError(w, http.StatusBadRequest, "isbn is required")
		return
	}
	n, err := r.deps.Workflow.FulfillISBN(req.Context(), body.ISBN)
	respondAffected(w, n, err)
}

type undoRequest struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (r *Router) undo(w http.ResponseWriter, req *http.Request) {
	var body undoRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	rec, err := r.deps.Workflow.Undo(req.Context(), r.deps.Store, body.Index, body.Reason)
	if err != nil {
		respondWorkflowError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

type etaRequest struct {
	OrderID    string `json:"order_id"`
	LineItemID string `json:"line_item_id"`
	ISBN       string `json:"isbn"`
	Date       string `json:"date"`
}

func (e *etaRequest) scope() backorder.ETAScope {
	return backorder.ETAScope{
		OrderID:    e.OrderID,
		LineItemID: e.LineItemID,
		Barcode:    e.ISBN,
	}
}

func (r *Router) setETA(w http.ResponseWriter, req *http.Request) {
	var body etaRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	date, err := time.Parse(dateLayout, body.Date)
	if err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	n, err := r.deps.Workflow.SetETA(req.Context(), body.scope(), date)
	respondAffected(w, n, err)
}

func (r *Router) clearETA(w http.ResponseWriter, req *http.Request) {
	var body etaRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	n, err := r.deps.Workflow.ClearETA(req.Context(), body.scope())
	respondAffected(w, n, err)
}

type reconcileRequest struct {
	Since string `json:"since"`
}

// triggerReconcile starts a batch reconciliation run on demand
func (r *Router) triggerReconcile(w http.ResponseWriter, req *http.Request) {
	var body reconcileRequest
	if req.Body != nil {
		_ = json.NewDecoder(req.Body).Decode(&body)
	}

	since := time.Now().UTC().AddDate(0, 0, -7)
	if body.Since != "" {
		parsed, err := time.Parse(dateLayout, body.Since)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be YYYY-MM-DD")
			return
		}
		since = parsed
	}

	summary, err := r.deps.Reconciler.Run(req.Context(), since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
