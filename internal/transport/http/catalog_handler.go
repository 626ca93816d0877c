package http

import (
	"encoding/json"
	"net/http"

	"brainquiz-service/internal/app"
	"go.uber.org/zap"
)

// CatalogHandler serves the subject and tag facets of the question bank.
type CatalogHandler struct {
	service *app.QuizService
	logger  *zap.Logger
}

func NewCatalogHandler(service *app.QuizService, logger *zap.Logger) *CatalogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogHandler{service: service, logger: logger}
}

func (h *CatalogHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	catalog, err := h.service.Catalog(r.Context())
	if err != nil {
		h.logger.Error("build catalog", zap.Error(err))
		http.Error(w, "question bank unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(catalog); err != nil {
		h.logger.Debug("write catalog", zap.Error(err))
	}
}
