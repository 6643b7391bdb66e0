// Package http is the server's HTTP surface: the messaging platform's
// webhook, the mini-app RPC endpoint, session auth, and the photo file
// proxy.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"gatekeeper-backend/internal/cache"
	"gatekeeper-backend/internal/messenger"
	"gatekeeper-backend/internal/security"
	"gatekeeper-backend/internal/service"

	"github.com/gorilla/mux"
)

// FileResolver resolves a platform file id to a fetchable URL.
type FileResolver interface {
	GetFilePath(ctx context.Context, fileID string) (string, error)
	FileURL(filePath string) string
}

// Handler serves every HTTP route.
type Handler struct {
	admission service.AdmissionService
	community service.CommunityService
	status    service.StatusService

	api       messenger.API
	files     FileResolver
	tokens    security.TokenManager
	encryptor *security.Encryptor
	filePaths *cache.TTL[string]

	botToken      string
	botUsername   string
	webhookSecret string
	httpClient    *http.Client
}

type Deps struct {
	Admission service.AdmissionService
	Community service.CommunityService
	Status    service.StatusService
	API       messenger.API
	Files     FileResolver
	Tokens    security.TokenManager
	Encryptor *security.Encryptor

	BotToken      string
	BotUsername   string
	WebhookSecret string
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		admission:     deps.Admission,
		community:     deps.Community,
		status:        deps.Status,
		api:           deps.API,
		files:         deps.Files,
		tokens:        deps.Tokens,
		encryptor:     deps.Encryptor,
		filePaths:     cache.NewTTL[string](2 * time.Hour),
		botToken:      deps.BotToken,
		botUsername:   deps.BotUsername,
		webhookSecret: deps.WebhookSecret,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/webhook", h.handleWebhook).Methods(http.MethodPost)
	router.HandleFunc("/auth", h.handleAuth).Methods(http.MethodPost)
	router.HandleFunc("/rpc", h.handleRPC).Methods(http.MethodPost)
	router.HandleFunc("/file/{id}", h.handleFile).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return router
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
