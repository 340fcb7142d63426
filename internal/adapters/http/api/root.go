package api

import "net/http"

type rootResponse struct {
	Message   string            `json:"message"`
	Endpoints map[string]string `json:"endpoints"`
}

// RootHandler describes the service at GET /.
type RootHandler struct {
	body rootResponse
}

// NewRootHandler creates the service description handler.
func NewRootHandler() *RootHandler {
	return &RootHandler{body: rootResponse{
		Message: "API is working!",
		Endpoints: map[string]string{
			"health":            "GET /",
			"addCalculation":    "POST /api/calculations/add",
			"getCalculations":   "GET /api/calculations",
			"getCalculation":    "GET /api/calculations/:id",
			"deleteCalculation": "DELETE /api/calculations/:id",
		},
	}}
}

// HandleRoot handles GET /.
func (h *RootHandler) HandleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.body)
}
