package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/jonathan/meal-learner/internal/logger"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), false, Options{}, logger.Nop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_ExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Setup(context.Background(), true, Options{ServiceName: "meal-learner-test", Writer: &buf}, logger.Nop())
	require.NoError(t, err)

	_, span := otel.Tracer("meal-learner/tracing").Start(context.Background(), "pipeline.Execute")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "pipeline.Execute")
	assert.Contains(t, buf.String(), "meal-learner-test")
}
