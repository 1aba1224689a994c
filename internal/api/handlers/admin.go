package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"stripehome/internal/core"
	"stripehome/internal/external"
	"stripehome/internal/types"
)

// defaultResourceLimit is the page size when no limit parameter is given.
const defaultResourceLimit = 20

// overviewKinds are the resource types fetched by the cross-kind overview
// endpoint. Kept small; the overview is a dashboard summary, not an export.
var overviewKinds = []external.ResourceKind{
	external.ResourceCustomer,
	external.ResourceSubscription,
	external.ResourceProduct,
	external.ResourcePrice,
	external.ResourceInvoice,
}

// overviewLimit is the per-kind page size for the overview endpoint.
const overviewLimit = 5

// ResourceHandler exposes read-only listings of provider resources for
// operational inspection. Kinds are validated against an explicit registry;
// arbitrary provider paths are never reachable from the URL.
type ResourceHandler struct {
	billing external.BillingService
	guard   *external.ErrorGuard
	logger  *slog.Logger
}

// NewResourceHandler creates a new ResourceHandler with the provided
// dependencies.
func NewResourceHandler(billing external.BillingService, guard *external.ErrorGuard, l *slog.Logger) *ResourceHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ResourceHandler{billing: billing, guard: guard, logger: l}
}

// RegisterRoutes mounts the resource listing endpoints.
func (h *ResourceHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Get("/billing/resources", h.Overview)
		r.Get("/billing/resources/{kind}", h.List)
	})
}

// List handles GET /v1/billing/resources/{kind}.
//
// Lists resources of one kind with cursor pagination. Unknown kinds are
// rejected before any provider call is made.
func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	kind, _, err := external.ResolveResourceKind(chi.URLParam(r, "kind"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	limit := defaultResourceLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > 100 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidAmount,
				"limit must be a number between 1 and 100",
				nil,
			))
			return
		}
		limit = parsed
	}
	cursor := r.URL.Query().Get("cursor")

	items, pageInfo, err := list(r.Context(), h, kind, limit, cursor)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: items,
		Meta: &types.ResponseMeta{Pagination: &pageInfo},
	})
}

// listResult bundles a resource page so the call can pass through the guard.
type listResult struct {
	items    []map[string]any
	pageInfo types.PageInfo
}

func list(ctx context.Context, h *ResourceHandler, kind external.ResourceKind, limit int, cursor string) ([]map[string]any, types.PageInfo, error) {
	result, err := external.Guard(ctx, h.guard, "resources.list."+string(kind),
		func(ctx context.Context) (listResult, error) {
			items, pageInfo, err := h.billing.ListResources(ctx, kind, limit, cursor)
			return listResult{items: items, pageInfo: pageInfo}, err
		})
	if err != nil {
		return nil, types.PageInfo{}, err
	}
	return result.items, result.pageInfo, nil
}

// Overview handles GET /v1/billing/resources.
//
// Fetches the first page of several kinds concurrently and returns them
// keyed by kind. One failing kind fails the whole response; partial
// overviews would hide provider problems.
func (h *ResourceHandler) Overview(w http.ResponseWriter, r *http.Request) {
	pages := make([][]map[string]any, len(overviewKinds))

	g, ctx := errgroup.WithContext(r.Context())
	for i, kind := range overviewKinds {
		i, kind := i, kind
		g.Go(func() error {
			items, _, err := list(ctx, h, kind, overviewLimit, "")
			if err != nil {
				return err
			}
			pages[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		core.Error(w, r, err)
		return
	}

	overview := make(map[string][]map[string]any, len(overviewKinds))
	for i, kind := range overviewKinds {
		items := pages[i]
		if items == nil {
			items = []map[string]any{}
		}
		overview[string(kind)] = items
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: overview})
}
