package reconhttp

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/stockrecon/internal/platform/httpx"
	"github.com/odyssey-erp/stockrecon/internal/recon"
	"github.com/odyssey-erp/stockrecon/internal/shared"
	"github.com/odyssey-erp/stockrecon/jobs"
)

type reconService interface {
	TriggerRun(ctx context.Context, input recon.TriggerRunInput) (recon.Run, error)
	GetRun(ctx context.Context, id int64) (recon.Run, error)
	ListRuns(ctx context.Context, limit int) ([]recon.Run, error)
	GetReport(ctx context.Context, id int64) (recon.Report, error)
	DuplicateLots(ctx context.Context, purchaseID int64) ([]recon.LotKey, error)
}

// Handler wires reconciliation endpoints.
type Handler struct {
	logger    *slog.Logger
	service   reconService
	jobs      *jobs.Client
	validator *validator.Validate
	printer   *message.Printer
}

// NewHandler constructs handler.
func NewHandler(logger *slog.Logger, service reconService, jobsClient *jobs.Client) *Handler {
	v := validator.New()
	// Report field errors under their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		logger:    logger,
		service:   service,
		jobs:      jobsClient,
		validator: v,
		printer:   message.NewPrinter(language.English),
	}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/recon", func(r chi.Router) {
		r.Get("/runs", h.listRuns)
		r.Post("/runs", h.triggerRun)
		r.Get("/runs/{id}", h.showRun)
		r.Get("/runs/{id}/report", h.showReport)
		r.Get("/runs/{id}/summary", h.showSummary)
		r.Get("/runs/{id}/export", h.exportReport)
		r.Get("/duplicate-lots", h.duplicateLots)
	})
}

type triggerRunRequest struct {
	PurchaseID  int64 `json:"purchase_id" validate:"required,gt=0"`
	RequestedBy int64 `json:"requested_by" validate:"required,gt=0"`
}

type runResponse struct {
	ID          int64           `json:"id"`
	PurchaseID  int64           `json:"purchase_id"`
	BatchRef    string          `json:"batch_ref"`
	Status      recon.RunStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	RequestedBy int64           `json:"requested_by"`
	GeneratedAt string          `json:"generated_at,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

func toRunResponse(run recon.Run) runResponse {
	resp := runResponse{
		ID:          run.ID,
		PurchaseID:  run.PurchaseID,
		BatchRef:    run.BatchRef,
		Status:      run.Status,
		Error:       run.Error,
		RequestedBy: run.RequestedBy,
		CreatedAt:   run.CreatedAt.UTC().Format(time.RFC3339),
	}
	if run.GeneratedAt != nil {
		resp.GeneratedAt = run.GeneratedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRunRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: malformed body", httpx.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, validationDetail(err)))
		return
	}
	run, err := h.service.TriggerRun(r.Context(), recon.TriggerRunInput{
		PurchaseID: req.PurchaseID,
		ActorID:    req.RequestedBy,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if h.jobs != nil {
		if _, err := h.jobs.EnqueueReconRun(r.Context(), run.ID); err != nil && h.logger != nil {
			h.logger.Warn("enqueue recon run", slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusAccepted, toRunResponse(run))
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 50)
	runs, err := h.service.ListRuns(r.Context(), limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (h *Handler) showRun(w http.ResponseWriter, r *http.Request) {
	id := parseInt64(chi.URLParam(r, "id"))
	run, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRunResponse(run))
}

func (h *Handler) showReport(w http.ResponseWriter, r *http.Request) {
	id := parseInt64(chi.URLParam(r, "id"))
	report, err := h.service.GetReport(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) showSummary(w http.ResponseWriter, r *http.Request) {
	id := parseInt64(chi.URLParam(r, "id"))
	report, err := h.service.GetReport(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	verdict := "clean"
	if !report.Clean() {
		verdict = "discrepancies found"
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"run_id":  id,
		"clean":   report.Clean(),
		"summary": h.printer.Sprintf("Checked %d ledger lines across %d lots (%d duplicated): %d mismatched, %d missing (%s)", report.LineCount, report.LotCount, report.DuplicateLots, report.MismatchCount, report.MissingCount, verdict),
	})
}

func (h *Handler) exportReport(w http.ResponseWriter, r *http.Request) {
	id := parseInt64(chi.URLParam(r, "id"))
	report, err := h.service.GetReport(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if len(report.Rows) == 0 {
		httpx.RespondError(w, fmt.Errorf("%w: report empty", httpx.ErrValidation))
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=recon_run_%d.csv", id))
	writer := csv.NewWriter(w)
	for _, row := range recon.ExportRows(report.Rows) {
		if err := writer.Write(row); err != nil {
			break
		}
	}
	writer.Flush()
}

func (h *Handler) duplicateLots(w http.ResponseWriter, r *http.Request) {
	purchaseID := parseInt64(r.URL.Query().Get("purchase_id"))
	if purchaseID == 0 {
		httpx.RespondError(w, fmt.Errorf("%w: purchase_id required", httpx.ErrValidation))
		return
	}
	keys, err := h.service.DuplicateLots(r.Context(), purchaseID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	lots := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		lots = append(lots, map[string]any{
			"product_id":     key.ProductID,
			"purchase_price": key.Price,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"purchase_id":    purchaseID,
		"duplicate_lots": lots,
	})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, recon.ErrRunNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err))
	case errors.Is(err, recon.ErrRunExists), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrConflict, err))
	case errors.Is(err, recon.ErrReportNotReady):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrConflict, err))
	default:
		if h.logger != nil {
			h.logger.Error("recon handler", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}

func parseInt64(value string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseLimit(value string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || v <= 0 || v > 500 {
		return fallback
	}
	return v
}
