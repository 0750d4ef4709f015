package telemetry

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(Config{SamplerType: "never"}).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(Config{}).Description())
	assert.Contains(t, sampler(Config{SamplerType: "ratio", SamplerRatio: 0.5}).Description(), "ParentBased")
}

func TestWithSpan(t *testing.T) {
	ctx := context.Background()

	called := false
	err := WithSpan(ctx, "ok", func(ctx context.Context) error {
		called = true
		SetAttributes(ctx, attribute.Int("skills", 3))
		AddEvent(ctx, "scanned")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	boom := errors.New("boom")
	err = WithSpan(ctx, "fail", func(context.Context) error { return boom })
	assert.Equal(t, boom, err)
}
