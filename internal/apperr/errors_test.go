package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(Unauthorized("no session")))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(Forbidden("sellers cannot purchase")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("payment not found")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(Conflict("coupon code exists")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(BadRequest("cart is empty")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("confirm payment 4: %w", BadRequest("payment is not pending"))

	assert.True(t, Is(err, KindBadRequest))
	assert.Equal(t, "payment is not pending", Message(err))
}

func TestInternalHidesCause(t *testing.T) {
	cause := errors.New("pq: connection refused")
	err := Internal("failed to load cart", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal server error", Message(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
}
