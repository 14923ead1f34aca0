package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atelier-b2b/atelier/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.NewError("not_found", shared.ErrNotFound, "request not found"), http.StatusNotFound},
		{fmt.Errorf("wrap: %w", shared.NewError("locked", shared.ErrPrecondition, "locked")), http.StatusConflict},
		{shared.ErrValidation, http.StatusBadRequest},
		{shared.ErrForbidden, http.StatusForbidden},
		{shared.ErrUnauthenticated, http.StatusUnauthorized},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("password=secret"))

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Empty(t, body.Detail)
}

func TestRespondErrorIncludesCode(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, shared.NewError("request_locked", shared.ErrPrecondition, "request is locked"))

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "request_locked", body.Code)
	require.Equal(t, "request is locked", body.Detail)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))
	err := DecodeJSON(req, &target)
	require.ErrorIs(t, err, ErrBadRequest)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	require.NoError(t, DecodeJSON(req, &target))
}
