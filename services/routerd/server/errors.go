package server

import (
	"encoding/json"
	"errors"
	"net/http"

	nativecommon "lpvault/native/common"
	"lpvault/native/router"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, body errorBody) {
	writeJSON(w, status, errorResponse{Error: body, OperationID: OperationID(r.Context())})
}

// statusFor maps an operation failure onto an HTTP status and response body.
func statusFor(err error) (int, errorBody) {
	body := errorBody{Message: err.Error()}

	var reqErr *requestError
	if errors.As(err, &reqErr) {
		body.Kind = "bad_request"
		return http.StatusBadRequest, body
	}
	if errors.Is(err, router.ErrUnknownMarket) {
		body.Kind = "not_found"
		body.Reason = router.ReasonUnknownMarket
		return http.StatusNotFound, body
	}
	if errors.Is(err, router.ErrUnknownModule) || errors.Is(err, router.ErrNotNative) {
		body.Kind = "bad_request"
		return http.StatusBadRequest, body
	}

	var routerErr *router.Error
	if !errors.As(err, &routerErr) {
		body.Kind = string(router.KindInternal)
		body.Message = http.StatusText(http.StatusInternalServerError)
		return http.StatusInternalServerError, body
	}
	body.Kind = string(routerErr.Kind)
	body.Reason = routerErr.Reason
	body.Side = string(routerErr.Side)
	body.Asset = routerErr.Asset
	switch routerErr.Kind {
	case router.KindAuthorization:
		return http.StatusForbidden, body
	case router.KindZeroAmount, router.KindSlippage:
		return http.StatusUnprocessableEntity, body
	case router.KindExpired:
		return http.StatusRequestTimeout, body
	case router.KindUpstream:
		if errors.Is(err, nativecommon.ErrModulePaused) {
			return http.StatusServiceUnavailable, body
		}
		return http.StatusConflict, body
	default:
		body.Message = http.StatusText(http.StatusInternalServerError)
		return http.StatusInternalServerError, body
	}
}
