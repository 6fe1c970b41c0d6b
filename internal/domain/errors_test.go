// SPDX-License-Identifier: MIT

package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorSentinelMatching(t *testing.T) {
	err := E(CodeFailedPrecondition, ReasonAgreementInactive, "agreement %s is not active", "AG-1")

	assert.True(t, errors.Is(err, ErrFailedPrecondition))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, CodeFailedPrecondition, CodeOf(err))
	assert.Equal(t, ReasonAgreementInactive, ReasonOf(err))
}

func TestErrorWrappedCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := WrapE(CodeUnavailable, "", cause, "adapter call failed")

	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.ErrorContains(t, err, "connection refused")

	wrapped := fmt.Errorf("submit: %w", err)
	assert.Equal(t, CodeUnavailable, CodeOf(wrapped))
}

func TestCodeOfUnclassified(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Empty(t, ReasonOf(errors.New("boom")))
}

func TestOfferMarker(t *testing.T) {
	assert.False(t, Offer{SupplierOfferRef: "x"}.IsMarker())
	assert.True(t, Offer{Error: ResultTimeout}.IsMarker())
}
