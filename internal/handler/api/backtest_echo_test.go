package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"QuantGate/internal/domain/errs"
	"QuantGate/internal/domain/models"
	"QuantGate/internal/usecase"
	xhttp "QuantGate/pkg/http"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	runErr    error
	enqErr    error
	recentErr error
	got       *models.BacktestRequest
	outcomes  map[string]*models.Outcome
	limit     int
}

func (f *fakeService) Run(_ context.Context, req *models.BacktestRequest) (*models.Outcome, error) {
	f.got = req
	if f.runErr != nil {
		return &models.Outcome{State: models.StateErrored}, f.runErr
	}
	return &models.Outcome{JobID: "abc123", Success: true, State: models.StateDone, ChartURL: "http://example.com/c.html"}, nil
}

func (f *fakeService) Enqueue(_ context.Context, req *models.BacktestRequest) (string, error) {
	f.got = req
	return "req-42", f.enqErr
}

func (f *fakeService) Lookup(_ context.Context, id string) (*models.Outcome, error) {
	if o, ok := f.outcomes[id]; ok {
		return o, nil
	}
	return nil, usecase.ErrOutcomeNotFound
}

func (f *fakeService) Recent(_ context.Context, limit int) ([]models.RunRecord, error) {
	f.limit = limit
	return []models.RunRecord{{JobID: "abc123"}}, f.recentErr
}

func serve(t *testing.T, svc BacktestUseCase, method, target, body string) (*httptest.ResponseRecorder, xhttp.APIResponse) {
	t.Helper()
	e := echo.New()
	NewBacktestEchoHandler(nil, svc, nil).RegisterRoutes(e)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var resp xhttp.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestRun_AppliesDefaultsAndReturnsOutcome(t *testing.T) {
	svc := &fakeService{}
	rec, resp := serve(t, svc, http.MethodPost, "/api/backtests", `{"strategy_id":"s1","capital":100000,"resolution":"15m","fq":"pre"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.got)
	assert.Equal(t, 100000.0, svc.got.Capital)
	assert.Equal(t, 500.0, svc.got.OrderSize)
	assert.Equal(t, 60, svc.got.ListenTime)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "http://example.com/c.html", data["chart_url"])
}

func TestRun_ValidationError(t *testing.T) {
	rec, resp := serve(t, &fakeService{}, http.MethodPost, "/api/backtests", `{"resolution":"7m"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, resp.Data)
}

func TestRun_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&errs.SubmissionError{Status: 400, Err: errors.New("bad")}, http.StatusBadGateway, "ERR_SUBMISSION"},
		{&errs.RenderError{Err: errors.New("disk full")}, http.StatusInternalServerError, "ERR_RENDER"},
	}
	for _, tc := range cases {
		rec, resp := serve(t, &fakeService{runErr: tc.err}, http.MethodPost, "/api/backtests", `{"strategy_id":"s1"}`)
		assert.Equal(t, tc.status, rec.Code)
		items := resp.Data.([]interface{})
		require.Len(t, items, 1)
		assert.Equal(t, tc.code, items[0].(map[string]interface{})["code"])
	}
}

func TestEnqueue_Accepted(t *testing.T) {
	rec, resp := serve(t, &fakeService{}, http.MethodPost, "/api/backtests/async", `{"strategy_id":"s1"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "req-42", resp.Data.(map[string]interface{})["request_id"])

	rec, _ = serve(t, &fakeService{enqErr: usecase.ErrAsyncDisabled}, http.MethodPost, "/api/backtests/async", `{"strategy_id":"s1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGet(t *testing.T) {
	svc := &fakeService{outcomes: map[string]*models.Outcome{"abc123": {JobID: "abc123", State: models.StateDone}}}

	rec, _ := serve(t, svc, http.MethodGet, "/api/backtests/abc123", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp := serve(t, svc, http.MethodGet, "/api/backtests/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ERR_NOT_FOUND", resp.Data.([]interface{})[0].(map[string]interface{})["code"])
}

func TestRecent(t *testing.T) {
	svc := &fakeService{}
	rec, resp := serve(t, svc, http.MethodGet, "/api/backtests?limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, svc.limit)
	assert.EqualValues(t, 1, resp.Data.(map[string]interface{})["total"])
}
