// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))

	// The global tracer must still hand out usable spans.
	_, span := Tracer("test").Start(context.Background(), "op")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestSourceCallAttributes(t *testing.T) {
	attrs := SourceCallAttributes("src-1", "AGR-1", "availability")
	require.Len(t, attrs, 3)
	assert.Equal(t, SourceIDKey, string(attrs[0].Key))
	assert.Equal(t, "src-1", attrs[0].Value.AsString())
}
