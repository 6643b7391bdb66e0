package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/logger"
	"gatekeeper-backend/internal/security"
	"gatekeeper-backend/internal/service"
)

const initDataHeader = "X-Telegram-InitData"

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type updateConfigParams struct {
	Chat   int64                   `json:"chat"`
	Mode   domain.Mode             `json:"mode"`
	Config *domain.CommunityConfig `json:"config"`
}

type answerParams struct {
	Chat   int64  `json:"chat"`
	Answer string `json:"answer"`
}

type adminActionParams struct {
	Chat   int64 `json:"chat"`
	User   int64 `json:"user"`
	Action struct {
		Type domain.AdminAction `json:"type"`
	} `json:"action"`
}

// handleAuth exchanges signed mini-app init data for a short-lived session
// token, so later RPC calls avoid re-verifying the HMAC chain.
func (h *Handler) handleAuth(w http.ResponseWriter, r *http.Request) {
	user := security.ValidateInitData(r.Header.Get(initDataHeader), h.botToken)
	if user == nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	token, err := h.tokens.GenerateSessionToken(user.ID)
	if err != nil {
		logger.WithComponent("rpc").Error("Could not issue session token", "user", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "token": token})
}

// callerID authenticates an RPC request: a bearer session token first,
// falling back to raw init data.
func (h *Handler) callerID(r *http.Request) (int64, bool) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		claims, err := h.tokens.ValidateToken(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			return 0, false
		}
		return claims.UserID, true
	}
	if raw := r.Header.Get(initDataHeader); raw != "" {
		if user := security.ValidateInitData(raw, h.botToken); user != nil {
			return user.ID, true
		}
	}
	return 0, false
}

func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(r)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: failed to parse request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch req.Method {
	case "status":
		status, err := h.status.UserStatus(ctx, userID)
		if err != nil {
			h.rpcError(w, req.Method, err)
			return
		}
		writeResult(w, status)

	case "updateChatConfig":
		var params updateConfigParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			http.Error(w, "bad request: failed to parse request body", http.StatusBadRequest)
			return
		}
		if !h.requireAdmin(ctx, w, params.Chat, userID) {
			return
		}
		if err := h.community.UpdateConfig(ctx, params.Chat, params.Mode, params.Config); err != nil {
			h.rpcError(w, req.Method, err)
			return
		}
		writeResult(w, nil)

	case "answer":
		var params answerParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			http.Error(w, "bad request: failed to parse request body", http.StatusBadRequest)
			return
		}
		details, _ := json.Marshal(map[string]any{"method": "rpc"})
		result, err := h.admission.HandleUserAnswered(ctx, params.Chat, userID, params.Answer, string(details))
		if err != nil {
			h.rpcError(w, req.Method, err)
			return
		}
		if !result.OK {
			writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": result.Message})
			return
		}
		writeResult(w, nil)

	case "adminAction":
		var params adminActionParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			http.Error(w, "bad request: failed to parse request body", http.StatusBadRequest)
			return
		}
		if !h.requireAdmin(ctx, w, params.Chat, userID) {
			return
		}
		if err := h.admission.HandleAdminAction(ctx, params.Chat, params.User, params.Action.Type); err != nil {
			h.rpcError(w, req.Method, err)
			return
		}
		writeResult(w, nil)

	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "unknown method: " + req.Method})
	}
}

func (h *Handler) requireAdmin(ctx context.Context, w http.ResponseWriter, communityID, userID int64) bool {
	isAdmin, err := h.community.IsAdmin(ctx, communityID, userID)
	if err != nil {
		h.rpcError(w, "adminCheck", err)
		return false
	}
	if !isAdmin {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "permission denied"})
		return false
	}
	return true
}

// rpcError reports failures in-band the way the mini app expects: HTTP 200
// with ok == false. Expected conditions keep their message; everything else
// is logged and collapsed to a generic one.
func (h *Handler) rpcError(w http.ResponseWriter, method string, err error) {
	msg := "internal error"
	switch {
	case errors.Is(err, service.ErrNoPendingRequest), errors.Is(err, service.ErrUnknownAction):
		msg = err.Error()
	default:
		logger.WithComponent("rpc").Error("RPC call failed", "method", method, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": msg})
}

func writeResult(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
}
