package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"stripehome/internal/external"
	"stripehome/internal/types"
)

func newTestResourceHandler(svc external.BillingService) *ResourceHandler {
	logger := quietLogger()
	return NewResourceHandler(svc, external.NewErrorGuard(logger, nil), logger)
}

func TestListResources_Success(t *testing.T) {
	var gotKind external.ResourceKind
	var gotLimit int
	var gotCursor string
	svc := &mockBilling{
		listResourcesFn: func(ctx context.Context, kind external.ResourceKind, limit int, cursor string) ([]map[string]any, types.PageInfo, error) {
			gotKind, gotLimit, gotCursor = kind, limit, cursor
			return []map[string]any{{"id": "cus_1"}, {"id": "cus_2"}},
				types.PageInfo{HasMore: true, NextCursor: "cus_2"}, nil
		},
	}
	h := newTestResourceHandler(svc)

	req := makeRequest("GET", "/v1/billing/resources/customer?limit=2&cursor=cus_0", nil, contextWithUser("user_1"))
	req = withURLParam(req, "kind", "customer")
	rr := httptest.NewRecorder()

	h.List(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotKind != external.ResourceCustomer || gotLimit != 2 || gotCursor != "cus_0" {
		t.Errorf("unexpected list args: kind=%q limit=%d cursor=%q", gotKind, gotLimit, gotCursor)
	}

	var resp struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Pagination *types.PageInfo `json:"pagination"`
		} `json:"meta"`
	}
	parseJSONResponse(t, rr, &resp)
	if len(resp.Data) != 2 {
		t.Errorf("expected 2 items, got %d", len(resp.Data))
	}
	if resp.Meta.Pagination == nil || !resp.Meta.Pagination.HasMore || resp.Meta.Pagination.NextCursor != "cus_2" {
		t.Errorf("unexpected pagination: %+v", resp.Meta.Pagination)
	}
}

func TestListResources_UnknownKindRejectedBeforeProviderCall(t *testing.T) {
	called := false
	svc := &mockBilling{
		listResourcesFn: func(ctx context.Context, kind external.ResourceKind, limit int, cursor string) ([]map[string]any, types.PageInfo, error) {
			called = true
			return nil, types.PageInfo{}, nil
		},
	}
	h := newTestResourceHandler(svc)

	req := makeRequest("GET", "/v1/billing/resources/account", nil, contextWithUser("user_1"))
	req = withURLParam(req, "kind", "account")
	rr := httptest.NewRecorder()

	h.List(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if called {
		t.Error("provider should not be called for an unknown kind")
	}
}

func TestListResources_InvalidLimit(t *testing.T) {
	h := newTestResourceHandler(&mockBilling{})

	for _, limit := range []string{"0", "101", "abc", "-5"} {
		req := makeRequest("GET", "/v1/billing/resources/customer?limit="+limit, nil, contextWithUser("user_1"))
		req = withURLParam(req, "kind", "customer")
		rr := httptest.NewRecorder()

		h.List(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("limit %q: expected status 400, got %d", limit, rr.Code)
		}
	}
}

func TestListResources_DefaultLimit(t *testing.T) {
	var gotLimit int
	svc := &mockBilling{
		listResourcesFn: func(ctx context.Context, kind external.ResourceKind, limit int, cursor string) ([]map[string]any, types.PageInfo, error) {
			gotLimit = limit
			return []map[string]any{}, types.PageInfo{}, nil
		},
	}
	h := newTestResourceHandler(svc)

	req := makeRequest("GET", "/v1/billing/resources/invoice", nil, contextWithUser("user_1"))
	req = withURLParam(req, "kind", "invoice")
	rr := httptest.NewRecorder()

	h.List(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotLimit != defaultResourceLimit {
		t.Errorf("expected default limit %d, got %d", defaultResourceLimit, gotLimit)
	}
}

func TestOverview_FetchesAllKinds(t *testing.T) {
	var mu sync.Mutex
	seen := map[external.ResourceKind]int{}
	svc := &mockBilling{
		listResourcesFn: func(ctx context.Context, kind external.ResourceKind, limit int, cursor string) ([]map[string]any, types.PageInfo, error) {
			mu.Lock()
			seen[kind] = limit
			mu.Unlock()
			return []map[string]any{{"id": string(kind) + "_1"}}, types.PageInfo{}, nil
		},
	}
	h := newTestResourceHandler(svc)

	req := makeRequest("GET", "/v1/billing/resources", nil, contextWithUser("user_1"))
	rr := httptest.NewRecorder()

	h.Overview(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(seen) != len(overviewKinds) {
		t.Fatalf("expected %d kinds fetched, got %d", len(overviewKinds), len(seen))
	}
	for kind, limit := range seen {
		if limit != overviewLimit {
			t.Errorf("kind %q fetched with limit %d, want %d", kind, limit, overviewLimit)
		}
	}

	var resp struct {
		Data map[string][]map[string]any `json:"data"`
	}
	parseJSONResponse(t, rr, &resp)
	for _, kind := range overviewKinds {
		items, ok := resp.Data[string(kind)]
		if !ok {
			t.Errorf("overview missing kind %q", kind)
			continue
		}
		if len(items) != 1 {
			t.Errorf("kind %q: expected 1 item, got %d", kind, len(items))
		}
	}
}

func TestOverview_OneKindFailingFailsResponse(t *testing.T) {
	svc := &mockBilling{
		listResourcesFn: func(ctx context.Context, kind external.ResourceKind, limit int, cursor string) ([]map[string]any, types.PageInfo, error) {
			if kind == external.ResourceInvoice {
				return nil, types.PageInfo{}, types.NewProviderError(types.ErrCodeProviderConnection, nil)
			}
			return []map[string]any{}, types.PageInfo{}, nil
		},
	}
	h := newTestResourceHandler(svc)

	req := makeRequest("GET", "/v1/billing/resources", nil, contextWithUser("user_1"))
	rr := httptest.NewRecorder()

	h.Overview(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d: %s", rr.Code, rr.Body.String())
	}
}
