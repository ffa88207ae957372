package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/zaiko-app/zaiko/internal/auth"
	"github.com/zaiko-app/zaiko/internal/domain/inventory"
	"github.com/zaiko-app/zaiko/internal/domain/plan"
	"github.com/zaiko-app/zaiko/internal/excel"
	"github.com/zaiko-app/zaiko/internal/syncer"
)

// Handler carries the API surface: the reconciler, the sync monitor and
// the shared-password gate.
type Handler struct {
	log      *slog.Logger
	svc      *inventory.Service
	monitor  *syncer.Monitor
	gate     *auth.Gate
	sessions *auth.Sessions
	validate *validator.Validate
}

func NewHandler(svc *inventory.Service, monitor *syncer.Monitor, gate *auth.Gate, sessions *auth.Sessions, log *slog.Logger) *Handler {
	return &Handler{
		log:      log,
		svc:      svc,
		monitor:  monitor,
		gate:     gate,
		sessions: sessions,
		validate: validator.New(),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.With(httprate.LimitByIP(10, time.Minute)).Post("/login", h.login)

		r.Group(func(r chi.Router) {
			r.Use(h.requireSession)

			r.Post("/logout", h.logout)

			r.Get("/items", h.listItems)
			r.Post("/items", h.addItem)
			r.Put("/items/{id}", h.editItem)
			r.Delete("/items/{id}", h.deleteItem)

			r.Post("/items/{id}/transactions", h.applyTransaction)
			r.Get("/transactions", h.listTransactions)
			r.Put("/transactions/{id}", h.editTransaction)
			r.Delete("/transactions/{id}", h.deleteTransaction)

			r.Post("/items/{id}/withdrawals", h.addWithdrawal)
			r.Delete("/items/{id}/withdrawals/{recordID}", h.deleteWithdrawal)
			r.Get("/items/{id}/withdrawals/summary", h.withdrawalSummary)

			r.Get("/sync", h.syncStatus)
			r.Post("/sync", h.forceSync)

			r.Get("/export", h.exportExcel)
			r.Post("/import", h.importExcel)
		})
	})

	return r
}

func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || !h.sessions.Valid(token) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the domain error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrDuplicateCode), errors.Is(err, inventory.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidPassword):
		return http.StatusUnauthorized
	case errors.Is(err, syncer.ErrOffline):
		return http.StatusServiceUnavailable
	case errors.Is(err, inventory.ErrRemoteWrite), errors.Is(err, inventory.ErrSyncFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func (h *Handler) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return h.validate.Struct(v)
}

/* auth */

type loginRequest struct {
	Password string `json:"password" validate:"required"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := h.gate.Verify(r.Context(), req.Password); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": h.sessions.Issue()})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Revoke(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	w.WriteHeader(http.StatusNoContent)
}

/* items */

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := inventory.ItemFilters{
		SearchText:      q.Get("search"),
		Unit:            q.Get("unit"),
		StockStatus:     q.Get("stockStatus"),
		StorageLocation: q.Get("storageLocation"),
		SortBy:          q.Get("sortBy"),
	}
	writeJSON(w, http.StatusOK, h.svc.Items(f))
}

type newItemRequest struct {
	Code             string `json:"code" validate:"required"`
	Name             string `json:"name" validate:"required"`
	CorrectionNumber string `json:"correctionNumber"`
	Quantity         int    `json:"quantity" validate:"gte=0"`
	Unit             string `json:"unit"`
	StorageLocation  string `json:"storageLocation"`
	Note             string `json:"note"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req newItemRequest
	if err := h.decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	it, err := h.svc.AddItem(r.Context(), inventory.NewItem{
		Code:             req.Code,
		Name:             req.Name,
		CorrectionNumber: req.CorrectionNumber,
		Quantity:         req.Quantity,
		Unit:             req.Unit,
		StorageLocation:  req.StorageLocation,
		Note:             req.Note,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

type editItemRequest struct {
	Code             *string `json:"code" validate:"omitempty,min=1"`
	Name             *string `json:"name" validate:"omitempty,min=1"`
	CorrectionNumber *string `json:"correctionNumber"`
	Quantity         *int    `json:"quantity" validate:"omitempty,gte=0"`
	Unit             *string `json:"unit"`
	StorageLocation  *string `json:"storageLocation"`
	Note             *string `json:"note"`
}

func (h *Handler) editItem(w http.ResponseWriter, r *http.Request) {
	var req editItemRequest
	if err := h.decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	it, err := h.svc.EditItem(r.Context(), chi.URLParam(r, "id"), inventory.ItemUpdate{
		Code:             req.Code,
		Name:             req.Name,
		CorrectionNumber: req.CorrectionNumber,
		Quantity:         req.Quantity,
		Unit:             req.Unit,
		StorageLocation:  req.StorageLocation,
		Note:             req.Note,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* transactions */

type transactionRequest struct {
	Type     string `json:"type" validate:"required,oneof=入庫 出庫"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
	Note     string `json:"note"`
}

func (h *Handler) applyTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := h.decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	txn, err := h.svc.ApplyTransaction(r.Context(), chi.URLParam(r, "id"), inventory.TxType(req.Type), req.Quantity, req.Note)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := inventory.TransactionFilters{
		Type:       inventory.TxType(q.Get("type")),
		ItemCode:   q.Get("itemCode"),
		SearchText: q.Get("search"),
		SortBy:     q.Get("sortBy"),
	}
	if v := q.Get("startDate"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			f.StartDate = t
		}
	}
	if v := q.Get("endDate"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			// Inclusive day bound.
			f.EndDate = t.Add(24*time.Hour - time.Nanosecond)
		}
	}
	writeJSON(w, http.StatusOK, h.svc.Transactions(f))
}

type transactionUpdateRequest struct {
	Type     *string `json:"type" validate:"omitempty,oneof=入庫 出庫"`
	Quantity *int    `json:"quantity" validate:"omitempty,gt=0"`
	Note     *string `json:"note"`
}

func (h *Handler) editTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionUpdateRequest
	if err := h.decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	upd := inventory.TxUpdate{Quantity: req.Quantity, Note: req.Note}
	if req.Type != nil {
		t := inventory.TxType(*req.Type)
		upd.Type = &t
	}
	txn, err := h.svc.EditTransaction(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *Handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTransaction(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* withdrawals */

type withdrawalRequest struct {
	WithdrawalQuantity int         `json:"withdrawalQuantity" validate:"gte=0"`
	Quantity           int         `json:"quantity" validate:"gte=0"`
	Monthly            map[int]int `json:"monthly"`
	Unit               string      `json:"unit"`
	Note               string      `json:"note"`
}

func (h *Handler) addWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := h.decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	// The month plan travels inside the note in the legacy encoding; the
	// plan total backfills the quantity when the client sends only months.
	note := plan.Encode(req.Monthly, req.Note)
	qty := req.Quantity
	if qty == 0 {
		qty = plan.Total(req.Monthly)
	}

	rec, err := h.svc.AddWithdrawalRecord(r.Context(), chi.URLParam(r, "id"), inventory.NewWithdrawal{
		WithdrawalQuantity: req.WithdrawalQuantity,
		Quantity:           qty,
		Unit:               req.Unit,
		Note:               note,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) deleteWithdrawal(w http.ResponseWriter, r *http.Request) {
	err := h.svc.DeleteWithdrawalRecord(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "recordID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) withdrawalSummary(w http.ResponseWriter, r *http.Request) {
	it, ok := h.svc.ItemByID(chi.URLParam(r, "id"))
	if !ok {
		h.fail(w, inventory.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, plan.Summarize(it.WithdrawalRecords))
}

/* sync */

func (h *Handler) syncStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

func (h *Handler) forceSync(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.Sync(r.Context(), true); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

/* spreadsheet */

func (h *Handler) dataset() inventory.Dataset {
	items := h.svc.Items(inventory.ItemFilters{})
	var recs []inventory.WithdrawalRecord
	for _, it := range items {
		recs = append(recs, it.WithdrawalRecords...)
	}
	return inventory.Dataset{
		Items:        items,
		Transactions: h.svc.Transactions(inventory.TransactionFilters{}),
		Withdrawals:  recs,
	}
}

func (h *Handler) exportExcel(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := excel.Export(&buf, h.dataset()); err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename*=UTF-8''`+url.PathEscape(excel.Filename(time.Now())))
	_, _ = w.Write(buf.Bytes())
}

// importExcel replaces ALL remote and local data with the uploaded
// workbook. The destructive semantic is deliberate; the UI warns before
// calling this.
func (h *Handler) importExcel(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "multipart field 'file' is required"})
		return
	}
	defer func() { _ = file.Close() }()

	data, err := excel.Parse(file, h.svc.Items(inventory.ItemFilters{}))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := h.svc.ImportReplace(r.Context(), data); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"items":        len(data.Items),
		"transactions": len(data.Transactions),
		"withdrawals":  len(data.Withdrawals),
	})
}
