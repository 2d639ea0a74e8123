package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdoutExporterWritesSpans(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	tp, err := NewProvider(ctx, ExporterStdout, &buf)
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(ctx, "node.run")
	span.End()
	require.NoError(t, tp.Shutdown(ctx))

	assert.Contains(t, buf.String(), `"Name":"node.run"`)
	assert.Contains(t, buf.String(), ServiceName)
}

func TestNoneExporterWritesNothing(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	for _, name := range []string{"", ExporterNone, " NONE "} {
		tp, err := NewProvider(ctx, name, &buf)
		require.NoError(t, err, name)
		_, span := tp.Tracer("test").Start(ctx, "node.run")
		span.End()
		require.NoError(t, tp.Shutdown(ctx))
	}
	assert.Zero(t, buf.Len())
}

func TestUnknownExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), "jaeger", nil)
	assert.ErrorContains(t, err, `unknown trace exporter "jaeger"`)
}
