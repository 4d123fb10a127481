package httpapi

import (
	"net/http"

	"github.com/mindlog/social_layer/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	httputil.WriteJSON(w, status, payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteServiceError(w, r, err)
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	httputil.BadRequest(w, r, msg)
}

func decodeJSON(r *http.Request, dst any) error {
	return httputil.ReadJSON(r, dst)
}
