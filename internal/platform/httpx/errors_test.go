package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("x: %w", shared.ErrNotFound), http.StatusNotFound},
		{shared.ErrTenantMismatch, http.StatusForbidden},
		{shared.ErrInsufficientStock, http.StatusConflict},
		{shared.ErrInvalidStateTransition, http.StatusConflict},
		{shared.ErrConflict, http.StatusConflict},
		{shared.ErrIdempotencyConflict, http.StatusConflict},
		{shared.ErrInvalidStrategyConfiguration, http.StatusUnprocessableEntity},
		{shared.ErrInvalidInput, http.StatusBadRequest},
		{ErrValidation, http.StatusBadRequest},
		{fmt.Errorf("pool closed"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Equal(t, tc.status, body.Status)
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("dial tcp 10.0.0.1:5432: refused"))
	require.NotContains(t, rr.Body.String(), "10.0.0.1")
}

func TestNewPageNeverNull(t *testing.T) {
	rr := httptest.NewRecorder()
	JSON(rr, http.StatusOK, NewPage[string](nil))
	require.JSONEq(t, `{"items":[],"count":0}`, rr.Body.String())
}
