package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "cashier-service/internal/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{xerrors.AlreadyPending("sub_1"), http.StatusConflict},
		{xerrors.ValidationFailed("bad"), http.StatusUnprocessableEntity},
		{xerrors.UnmappedStatus(7), http.StatusBadGateway},
		{xerrors.RemoteRejected(400, "no"), http.StatusBadGateway},
		{xerrors.ProviderUnavailable("down", errors.New("eof")), http.StatusServiceUnavailable},
		{fmt.Errorf("subscription x: %w", xerrors.ErrNotFound), http.StatusNotFound},
		{xerrors.ErrInvalidTransition, http.StatusConflict},
		{xerrors.ErrInvoiceFulfilled, http.StatusConflict},
		{xerrors.ErrForbidden, http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestFromErrorHidesInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	FromError(c, "failed", errors.New("pq: connection reset"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, xerrors.ErrInternal.Error(), body.Error)
	assert.True(t, c.IsAborted())
}
