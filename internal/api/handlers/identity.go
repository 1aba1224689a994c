// Package handlers contains the HTTP handler implementations for the billing
// API: checkout sessions, product and price creation, payment intents,
// resource listing, and the Stripe webhook receiver.
package handlers

import (
	"net/http"

	"stripehome/internal/core"
	"stripehome/internal/types"
)

// Identity headers set by the upstream gateway after it authenticates the
// caller. This service trusts them; it is never exposed directly.
const (
	headerUserID    = "X-User-ID"
	headerUserEmail = "X-User-Email"
)

// RequireUser resolves the acting user from gateway identity headers and
// stores it in the request context as a types.Actor. Requests without a
// user id are rejected with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(headerUserID)
		if userID == "" {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeAuthRequired,
				"authenticated user required",
				nil,
			))
			return
		}

		actor := types.Actor{
			ID:     userID,
			Type:   types.ActorTypeUser,
			Email:  r.Header.Get(headerUserEmail),
			Source: "gateway",
		}
		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), actor)))
	})
}
