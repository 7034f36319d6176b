package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"debugsync/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	result *service.RunResult
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, code, language string) (*service.RunResult, error) {
	return f.result, f.err
}

type fakeAssistant struct {
	response string
	err      error
}

func (f *fakeAssistant) Suggest(ctx context.Context, prompt string) (string, error) {
	return f.response, f.err
}

func TestRunSuccess(t *testing.T) {
	h := NewExecHandler(&fakeRunner{result: &service.RunResult{Stdout: "1\n"}}, &fakeAssistant{})

	body, _ := json.Marshal(RunRequest{Code: "print(1)", Language: "python"})
	req := httptest.NewRequest(http.MethodPost, "/v1/run", bytes.NewBuffer(body))
	w := httptest.NewRecorder()

	h.Run(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var result service.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "1\n", result.Stdout)
}

func TestRunRequiresLanguage(t *testing.T) {
	h := NewExecHandler(&fakeRunner{}, &fakeAssistant{})

	body, _ := json.Marshal(RunRequest{Code: "print(1)"})
	req := httptest.NewRequest(http.MethodPost, "/v1/run", bytes.NewBuffer(body))
	w := httptest.NewRecorder()

	h.Run(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunRejectsInvalidJSON(t *testing.T) {
	h := NewExecHandler(&fakeRunner{}, &fakeAssistant{})

	req := httptest.NewRequest(http.MethodPost, "/v1/run", bytes.NewBufferString("invalid json"))
	w := httptest.NewRecorder()

	h.Run(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunSurfacesRunnerFailure(t *testing.T) {
	h := NewExecHandler(&fakeRunner{err: errors.New("sandbox unreachable")}, &fakeAssistant{})

	body, _ := json.Marshal(RunRequest{Code: "print(1)", Language: "python"})
	req := httptest.NewRequest(http.MethodPost, "/v1/run", bytes.NewBuffer(body))
	w := httptest.NewRecorder()

	h.Run(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestAssistSuccess(t *testing.T) {
	h := NewExecHandler(&fakeRunner{}, &fakeAssistant{response: "try a map"})

	body, _ := json.Marshal(AssistRequest{Message: "how do I dedupe?"})
	req := httptest.NewRequest(http.MethodPost, "/v1/assist", bytes.NewBuffer(body))
	w := httptest.NewRecorder()

	h.Assist(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "try a map", out["response"])
}

func TestAssistUnavailableWhenDisabled(t *testing.T) {
	h := NewExecHandler(&fakeRunner{}, service.NewAssistClient(""))

	body, _ := json.Marshal(AssistRequest{Message: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/v1/assist", bytes.NewBuffer(body))
	w := httptest.NewRecorder()

	h.Assist(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
