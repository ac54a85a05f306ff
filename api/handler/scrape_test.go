package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/use-agent/urwa/models"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind models.FailureKind
		want int
	}{
		{models.FailInvalidURL, http.StatusBadRequest},
		{models.FailComplianceDenied, http.StatusForbidden},
		{models.FailBlocked, http.StatusForbidden},
		{models.FailCircuitOpen, http.StatusServiceUnavailable},
		{models.FailCostExceeded, http.StatusServiceUnavailable},
		{models.FailCancelled, http.StatusRequestTimeout},
		{models.FailTimeout, http.StatusBadGateway},
		{models.FailChallenge, http.StatusBadGateway},
		{models.FailInternal, http.StatusBadGateway},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.kind), string(tt.kind))
	}
}
