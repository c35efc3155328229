package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/peterkariuk1/jobawu-gateway/internal/service"
)

// ============================================================
// Device auth — POST /v1/auth/token
// ============================================================

type tokenRequest struct {
	DeviceID  string `json:"device_id"`
	DeviceKey string `json:"device_key"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func authTokenHandler(authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/auth/token")
		defer span.End()

		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.DeviceID == "" || req.DeviceKey == "" {
			writeError(w, http.StatusBadRequest, "device_id and device_key are required")
			return
		}

		token, expiresIn, err := authSvc.IssueToken(req.DeviceID, req.DeviceKey)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken: token,
			TokenType:   "Bearer",
			ExpiresIn:   expiresIn,
		})
	}
}
