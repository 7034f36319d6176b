package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"debugsync/internal/service"
)

// ExecHandler proxies to the code-execution and suggestion collaborators.
type ExecHandler struct {
	runner    service.Runner
	assistant service.Assistant
}

func NewExecHandler(runner service.Runner, assistant service.Assistant) *ExecHandler {
	return &ExecHandler{
		runner:    runner,
		assistant: assistant,
	}
}

// RunRequest is the request body for running code
type RunRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// Run handles POST /v1/run
func (h *ExecHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Language == "" {
		writeError(w, http.StatusBadRequest, "language is required")
		return
	}

	result, err := h.runner.Run(r.Context(), req.Code, req.Language)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// AssistRequest is the request body for a suggestion
type AssistRequest struct {
	Message string `json:"message"`
}

// Assist handles POST /v1/assist
func (h *ExecHandler) Assist(w http.ResponseWriter, r *http.Request) {
	var req AssistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	response, err := h.assistant.Suggest(r.Context(), req.Message)
	if err != nil {
		if errors.Is(err, service.ErrAssistDisabled) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"response": response})
}
