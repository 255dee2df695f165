package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crm-api-gateway/internal/httputil"
	"github.com/crm-api-gateway/internal/metadata"
	"github.com/crm-api-gateway/internal/middleware"
	"github.com/crm-api-gateway/internal/model"
	"github.com/crm-api-gateway/internal/scope"
	"github.com/crm-api-gateway/internal/service"
	"github.com/crm-api-gateway/internal/store"
	"github.com/crm-api-gateway/internal/webhook"
)

const bulkMaxRecords = 100

var errRecordNotFound = service.NewNotFound("not_found", "record not found")

// Entity serves CRUD, bulk, and search for every registered entity type. The
// entity metadata arrives on the request context; handlers never parse the
// path themselves.
type Entity struct {
	store      store.Store
	dispatcher *webhook.Dispatcher

	// bulkAtomic rejects a batch wholesale when any record fails validation,
	// instead of applying the valid subset.
	bulkAtomic bool
}

func NewEntity(s store.Store, d *webhook.Dispatcher, bulkAtomic bool) *Entity {
	return &Entity{store: s, dispatcher: d, bulkAtomic: bulkAtomic}
}

// List handles GET /api/v1/{entity}.
func (h *Entity) List(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	meta := middleware.GetEntity(r)
	if err := principal.Authorize(meta.Namespace, scope.Read); err != nil {
		fail(w, err)
		return
	}

	q, err := httputil.ParseListQuery(r.URL.Query())
	if err != nil {
		fail(w, service.NewBadRequest("bad_request", err.Error()))
		return
	}
	if err := validateQuery(meta, q); err != nil {
		fail(w, err)
		return
	}

	records, total, err := h.store.ListRecords(r.Context(), principal.TenantID, meta.Name, q)
	if err != nil {
		fail(w, service.NewInternal("internal_error", "failed to list records"))
		return
	}

	out, err := h.presentAll(r.Context(), principal.TenantID, meta, records, q.Fields, q.Expand)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.RespondList(w, http.StatusOK, out, httputil.NewMeta(total, q.Page, q.Limit))
}

// Get handles GET /api/v1/{entity}/{id}.
func (h *Entity) Get(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	meta := middleware.GetEntity(r)
	if err := principal.Authorize(meta.Namespace, scope.Read); err != nil {
		fail(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, errRecordNotFound)
		return
	}

	q := r.URL.Query()
	fields := httputil.SplitCommaList(q.Get("fields"))
	expand := httputil.SplitCommaList(q.Get("expand"))
	if err := validateSelection(meta, fields, expand); err != nil {
		fail(w, err)
		return
	}

	rec, err := h.store.GetRecord(r.Context(), principal.TenantID, meta.Name, id)
	if err != nil {
		fail(w, mapStoreErr(err))
		return
	}

	out, err := h.present(r.Context(), principal.TenantID, meta, rec, fields, expand)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.RespondData(w, http.StatusOK, out)
}

// Create handles POST /api/v1/{entity}.
func (h *Entity) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	meta := middleware.GetEntity(r)
	if err := principal.Authorize(meta.Namespace, scope.Write); err != nil {
		fail(w, err)
		return
	}

	var fields map[string]any
	if err := decodeJSON(r, &fields); err != nil {
		fail(w, err)
		return
	}
	if errs := metadata.Validate(meta, fields, false); len(errs) > 0 {
		fail(w, validationError(errs))
		return
	}

	rec, err := h.store.CreateRecord(r.Context(), principal.TenantID, meta.Name, fields)
	if err != nil {
		fail(w, service.NewInternal("internal_error", "failed to create record"))
		return
	}

	h.notify(r.Context(), principal.TenantID, meta, "created", rec, nil)
	httputil.RespondData(w, http.StatusCreated, flatten(rec))
}

// Update handles PATCH and PUT /api/v1/{entity}/{id}.
func (h *Entity) Update(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	meta := middleware.GetEntity(r)
	if err := principal.Authorize(meta.Namespace, scope.Write); err != nil {
		fail(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, errRecordNotFound)
		return
	}

	var fields map[string]any
	if err := decodeJSON(r, &fields); err != nil {
		fail(w, err)
		return
	}
	if errs := metadata.Validate(meta, fields, true); len(errs) > 0 {
		fail(w, validationError(errs))
		return
	}

	previous, err := h.store.GetRecord(r.Context(), principal.TenantID, meta.Name, id)
	if err != nil {
		fail(w, mapStoreErr(err))
		return
	}

	rec, err := h.store.UpdateRecord(r.Context(), principal.TenantID, meta.Name, id, fields)
	if err != nil {
		fail(w, mapStoreErr(err))
		return
	}

	h.notify(r.Context(), principal.TenantID, meta, "updated", rec, previous)
	httputil.RespondData(w, http.StatusOK, flatten(rec))
}

// Delete handles DELETE /api/v1/{entity}/{id}.
func (h *Entity) Delete(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	meta := middleware.GetEntity(r)
	if err := principal.Authorize(meta.Namespace, scope.Write); err != nil {
		fail(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, errRecordNotFound)
		return
	}

	rec, err := h.store.GetRecord(r.Context(), principal.TenantID, meta.Name, id)
	if err != nil {
		fail(w, mapStoreErr(err))
		return
	}
	if err := h.store.DeleteRecord(r.Context(), principal.TenantID, meta.Name, id); err != nil {
		fail(w, mapStoreErr(err))
		return
	}

	h.notify(r.Context(), principal.TenantID, meta, "deleted", rec, nil)
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/v1/{entity}/search?q=term.
func (h *Entity) Search(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	meta := middleware.GetEntity(r)
	if err := principal.Authorize(meta.Namespace, scope.Read); err != nil {
		fail(w, err)
		return
	}

	term := r.URL.Query().Get("q")
	if term == "" {
		fail(w, service.NewBadRequest("bad_request", "q parameter is required"))
		return
	}
	page, limit, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("limit"))
	if err != nil {
		fail(w, service.NewBadRequest("bad_request", err.Error()))
		return
	}

	records, total, err := h.store.SearchRecords(r.Context(), principal.TenantID, meta.Name, term, meta.SearchableFields(), page, limit)
	if err != nil {
		fail(w, service.NewInternal("internal_error", "search failed"))
		return
	}

	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, flatten(rec))
	}
	httputil.RespondList(w, http.StatusOK, out, httputil.NewMeta(total, page, limit))
}

// bulkResult is the response body of every bulk operation.
type bulkResult struct {
	SuccessCount int         `json:"success_count"`
	FailureCount int         `json:"failure_count"`
	Errors       []bulkError `json:"errors,omitempty"`
}

type bulkError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BulkCreate handles POST /api/v1/{entity}/bulk.
func (h *Entity) BulkCreate(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	meta := middleware.GetEntity(r)
	if err := principal.Authorize(meta.Namespace, scope.Write); err != nil {
		fail(w, err)
		return
	}

	var body struct {
		Records []map[string]any `json:"records"`
	}
	if err := decodeJSON(r, &body); err != nil {
		fail(w, err)
		return
	}
	if err := checkBatchSize(len(body.Records)); err != nil {
		fail(w, err)
		return
	}

	// Validate the whole batch before writing anything, so atomic mode can
	// reject it wholesale and the size cap never half-applies.
	var result bulkResult
	invalid := make(map[int]string)
	for i, fields := range body.Records {
		if errs := metadata.Validate(meta, fields, false); len(errs) > 0 {
			invalid[i] = errs[0].Field + ": " + errs[0].Message
		}
	}
	if h.bulkAtomic && len(invalid) > 0 {
		details := map[string]any{}
		for i, msg := range invalid {
			details[strconv.Itoa(i)] = msg
		}
		fail(w, service.NewValidation("bulk batch rejected", details))
		return
	}

	for i, fields := range body.Records {
		if msg, bad := invalid[i]; bad {
			result.FailureCount++
			result.Errors = append(result.Errors, bulkError{ID: strconv.Itoa(i), Error: msg})
			continue
		}
		rec, err := h.store.CreateRecord(r.Context(), principal.TenantID, meta.Name, fields)
		if err != nil {
			result.FailureCount++
			result.Errors = append(result.Errors, bulkError{ID: strconv.Itoa(i), Error: "failed to create record"})
			continue
		}
		result.SuccessCount++
		h.notify(r.Context(), principal.TenantID, meta, "created", rec, nil)
	}
	httputil.RespondData(w, http.StatusOK, result)
}

// BulkUpdate handles PATCH /api/v1/{entity}/bulk.
func (h *Entity) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	meta := middleware.GetEntity(r)
	if err := principal.Authorize(meta.Namespace, scope.Write); err != nil {
		fail(w, err)
		return
	}

	var body struct {
		Records []map[string]any `json:"records"`
	}
	if err := decodeJSON(r, &body); err != nil {
		fail(w, err)
		return
	}
	if err := checkBatchSize(len(body.Records)); err != nil {
		fail(w, err)
		return
	}

	var result bulkResult
	for i, item := range body.Records {
		rawID, _ := item["id"].(string)
		id, err := uuid.Parse(rawID)
		if err != nil {
			result.FailureCount++
			result.Errors = append(result.Errors, bulkError{ID: strconv.Itoa(i), Error: "missing or invalid id"})
			continue
		}
		fields := make(map[string]any, len(item))
		for k, v := range item {
			if k != "id" {
				fields[k] = v
			}
		}
		if errs := metadata.Validate(meta, fields, true); len(errs) > 0 {
			result.FailureCount++
			result.Errors = append(result.Errors, bulkError{ID: rawID, Error: errs[0].Field + ": " + errs[0].Message})
			continue
		}

		previous, err := h.store.GetRecord(r.Context(), principal.TenantID, meta.Name, id)
		if err != nil {
			result.FailureCount++
			result.Errors = append(result.Errors, bulkError{ID: rawID, Error: "record not found"})
			continue
		}
		rec, err := h.store.UpdateRecord(r.Context(), principal.TenantID, meta.Name, id, fields)
		if err != nil {
			result.FailureCount++
			result.Errors = append(result.Errors, bulkError{ID: rawID, Error: "failed to update record"})
			continue
		}
		result.SuccessCount++
		h.notify(r.Context(), principal.TenantID, meta, "updated", rec, previous)
	}
	httputil.RespondData(w, http.StatusOK, result)
}

// BulkDelete handles DELETE /api/v1/{entity}/bulk.
func (h *Entity) BulkDelete(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	meta := middleware.GetEntity(r)
	if err := principal.Authorize(meta.Namespace, scope.Write); err != nil {
		fail(w, err)
		return
	}

	var body struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &body); err != nil {
		fail(w, err)
		return
	}
	if err := checkBatchSize(len(body.IDs)); err != nil {
		fail(w, err)
		return
	}

	var result bulkResult
	for _, rawID := range body.IDs {
		id, err := uuid.Parse(rawID)
		if err != nil {
			result.FailureCount++
			result.Errors = append(result.Errors, bulkError{ID: rawID, Error: "invalid id"})
			continue
		}
		rec, err := h.store.GetRecord(r.Context(), principal.TenantID, meta.Name, id)
		if err != nil {
			result.FailureCount++
			result.Errors = append(result.Errors, bulkError{ID: rawID, Error: "record not found"})
			continue
		}
		if err := h.store.DeleteRecord(r.Context(), principal.TenantID, meta.Name, id); err != nil {
			result.FailureCount++
			result.Errors = append(result.Errors, bulkError{ID: rawID, Error: "failed to delete record"})
			continue
		}
		result.SuccessCount++
		h.notify(r.Context(), principal.TenantID, meta, "deleted", rec, nil)
	}
	httputil.RespondData(w, http.StatusOK, result)
}

func (h *Entity) notify(ctx context.Context, tenantID uuid.UUID, meta *metadata.Entity, action string, rec *model.Record, previous *model.Record) {
	data := webhook.EventData{
		EntityType: meta.Singular,
		EntityID:   rec.ID,
		Entity:     flatten(rec),
	}
	if previous != nil {
		data.PreviousState = flatten(previous)
	}
	h.dispatcher.Notify(ctx, tenantID, meta.Event(action), data)
}

func (h *Entity) presentAll(ctx context.Context, tenantID uuid.UUID, meta *metadata.Entity, records []*model.Record, fields, expand []string) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		m, err := h.present(ctx, tenantID, meta, rec, fields, expand)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// present flattens a record, applies field selection, and resolves requested
// relationship expansions. Dangling or absent relations are simply omitted.
func (h *Entity) present(ctx context.Context, tenantID uuid.UUID, meta *metadata.Entity, rec *model.Record, fields, expand []string) (map[string]any, error) {
	out := flatten(rec)
	if len(fields) > 0 {
		selected := map[string]any{"id": out["id"], "created_at": out["created_at"], "updated_at": out["updated_at"]}
		for _, f := range fields {
			if v, ok := out[f]; ok {
				selected[f] = v
			}
		}
		out = selected
	}

	for _, name := range expand {
		rel, ok := meta.Relation(name)
		if !ok {
			return nil, service.NewBadRequest("bad_request", fmt.Sprintf("unknown expand relation %q", name))
		}
		rawID, ok := rec.Fields[rel.Name].(string)
		if !ok {
			continue
		}
		relID, err := uuid.Parse(rawID)
		if err != nil {
			continue
		}
		related, err := h.store.GetRecord(ctx, tenantID, rel.RelatedEntity, relID)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, service.NewInternal("internal_error", "failed to expand relation")
		}
		out[name] = flatten(related)
	}
	return out, nil
}

// flatten merges the record's fields with its envelope attributes.
func flatten(rec *model.Record) map[string]any {
	out := make(map[string]any, len(rec.Fields)+3)
	for k, v := range rec.Fields {
		out[k] = v
	}
	out["id"] = rec.ID
	out["created_at"] = rec.CreatedAt
	out["updated_at"] = rec.UpdatedAt
	return out
}

func validationError(errs []metadata.FieldError) error {
	return service.NewValidation("entity validation failed", map[string]any{"errors": errs})
}

func checkBatchSize(n int) error {
	if n == 0 {
		return service.NewBadRequest("bad_request", "batch must contain at least one record")
	}
	if n > bulkMaxRecords {
		return service.NewBadRequest("bad_request", fmt.Sprintf("batch exceeds the maximum of %d records", bulkMaxRecords))
	}
	return nil
}

// validateQuery checks sort and filter fields against the entity metadata.
func validateQuery(meta *metadata.Entity, q model.ListQuery) error {
	if q.SortBy != "" && !queryableField(meta, q.SortBy) {
		return service.NewBadRequest("bad_request", fmt.Sprintf("unknown sort field %q", q.SortBy))
	}
	for _, f := range q.Filters {
		if !queryableField(meta, f.Field) {
			return service.NewBadRequest("bad_request", fmt.Sprintf("unknown filter field %q", f.Field))
		}
	}
	return validateSelection(meta, q.Fields, q.Expand)
}

func validateSelection(meta *metadata.Entity, fields, expand []string) error {
	for _, f := range fields {
		if !queryableField(meta, f) {
			return service.NewBadRequest("bad_request", fmt.Sprintf("unknown field %q", f))
		}
	}
	for _, e := range expand {
		if _, ok := meta.Relation(e); !ok {
			return service.NewBadRequest("bad_request", fmt.Sprintf("unknown expand relation %q", e))
		}
	}
	return nil
}

func queryableField(meta *metadata.Entity, name string) bool {
	if name == "created_at" || name == "updated_at" || name == "id" {
		return true
	}
	_, ok := meta.Field(name)
	return ok
}

func mapStoreErr(err error) error {
	if err == store.ErrNotFound {
		return errRecordNotFound
	}
	return service.NewInternal("internal_error", "storage operation failed")
}
