package expense

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"spendsync/cmd/identity/ids"
	"spendsync/cmd/internal/auth/gate"
	"spendsync/cmd/internal/respond"
	v1 "spendsync/shared/contracts/realtime/v1"
)

// Publisher fans a committed mutation out to the account's live connections.
// It must not block; the return value is the number of connections reached.
type Publisher interface {
	Publish(ev v1.MutationEvent) int
}

const maxBodyBytes int64 = 16 << 10

// Handler serves the expense endpoints. Every route requires a session and
// every query is scoped to the caller's account.
type Handler struct {
	log   *slog.Logger
	store Store
	pub   Publisher
	gate  *gate.Gate
	now   func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler. pub may be nil, in which case nothing is
// published.
func NewHandler(log *slog.Logger, store Store, pub Publisher, g *gate.Gate, opts ...HandlerOption) (*Handler, error) {
	if store == nil || g == nil {
		return nil, errors.New("expense: missing dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{log: log, store: store, pub: pub, gate: g, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.Handle("GET /expenses", h.gate.RequireFunc(h.handleList))
	mux.Handle("POST /expenses", h.gate.RequireFunc(h.handleCreate))
	mux.Handle("GET /expenses/summary", h.gate.RequireFunc(h.handleSummary))
	mux.Handle("GET /expenses/{id}", h.gate.RequireFunc(h.handleGet))
	mux.Handle("PUT /expenses/{id}", h.gate.RequireFunc(h.handleUpdate))
	mux.Handle("DELETE /expenses/{id}", h.gate.RequireFunc(h.handleDelete))
}

type expenseRequest struct {
	Title    string   `json:"title"`
	Amount   *float64 `json:"amount"`
	Category string   `json:"category"`
	Date     string   `json:"date"`
	// Version, when set on update, must match the stored version.
	Version int64 `json:"version,omitempty"`
}

type listResponse struct {
	Expenses []Expense `json:"expenses"`
}

func (req expenseRequest) input() (Input, error) {
	in := Input{Title: req.Title, Category: req.Category}
	if req.Amount == nil {
		return in, ValidationError{Field: "amount", Msg: "amount must be a positive number"}
	}
	in.Amount = *req.Amount

	d, ok := parseDate(req.Date)
	if !ok {
		return in, ValidationError{Field: "date", Msg: "invalid date"}
	}
	in.Date = d
	return in, nil
}

// parseDate accepts a calendar day (YYYY-MM-DD, read as UTC midnight) or an
// RFC 3339 timestamp.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	p, _ := gate.PrincipalFrom(r.Context())

	q := r.URL.Query()
	f := Filter{Category: q.Get("category")}
	if raw := strings.TrimSpace(q.Get("date")); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
			return
		}
		f.Day = d
	}

	list, err := h.store.List(r.Context(), p.UserID, f)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listResponse{Expenses: list})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	p, _ := gate.PrincipalFrom(r.Context())

	list, err := h.store.List(r.Context(), p.UserID, Filter{})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, Summarize(list, h.now()))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, _ := gate.PrincipalFrom(r.Context())

	e, err := h.store.Get(r.Context(), p.UserID, r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, e)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	p, _ := gate.PrincipalFrom(r.Context())

	var req expenseRequest
	if err := respond.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	e, err := h.store.Create(r.Context(), p.UserID, in, h.now())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.log.Info("expense.created", "user_id", p.UserID, "expense_id", e.ID)
	h.publish(v1.KindCreate, p.UserID, e.ID, &e)
	respond.JSON(w, http.StatusCreated, e)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	p, _ := gate.PrincipalFrom(r.Context())

	var req expenseRequest
	if err := respond.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	e, err := h.store.Update(r.Context(), p.UserID, r.PathValue("id"), in, req.Version, h.now())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.log.Info("expense.updated", "user_id", p.UserID, "expense_id", e.ID, "version", e.Version)
	h.publish(v1.KindUpdate, p.UserID, e.ID, &e)
	respond.JSON(w, http.StatusOK, e)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	p, _ := gate.PrincipalFrom(r.Context())

	id := strings.TrimSpace(r.PathValue("id"))
	if err := h.store.Delete(r.Context(), p.UserID, id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.log.Info("expense.deleted", "user_id", p.UserID, "expense_id", id)
	h.publish(v1.KindDelete, p.UserID, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// publish runs only after the store has committed. Delivery is best effort.
func (h *Handler) publish(kind v1.Kind, accountID, recordID string, e *Expense) {
	if h.pub == nil {
		return
	}
	now := h.now().UTC()
	eventID, err := ids.NewULID(now)
	if err != nil {
		h.log.Error("expense.publish.id_failed", "err", err)
		return
	}

	ev := v1.MutationEvent{
		EventID:    eventID,
		Kind:       kind,
		RecordType: v1.RecordExpense,
		RecordID:   recordID,
		AccountID:  accountID,
		OccurredAt: now,
	}
	if e != nil {
		raw, err := json.Marshal(e)
		if err != nil {
			h.log.Error("expense.publish.encode_failed", "expense_id", recordID, "err", err)
			return
		}
		ev.Record = raw
		ev.Version = e.Version
	}

	n := h.pub.Publish(ev)
	h.log.Debug("expense.published", "kind", string(kind), "expense_id", recordID, "connections", n)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var ve ValidationError
	switch {
	case errors.As(err, &ve):
		respond.Error(w, http.StatusBadRequest, "invalid_request", ve.Msg)
	case errors.Is(err, ErrNotFound):
		respond.Error(w, http.StatusNotFound, "not_found", "expense not found")
	case errors.Is(err, ErrVersionConflict):
		respond.Error(w, http.StatusConflict, "version_conflict", "expense was changed by another request")
	default:
		h.log.Error("expense.store_failed", "method", r.Method, "path", r.URL.Path, "err", err)
		respond.Error(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
