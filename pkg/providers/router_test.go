package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/gatewaysetup/pkg/engine"
	"github.com/openfroyo/gatewaysetup/pkg/providers/fake"
)

func TestRouter_LongestPrefixWins(t *testing.T) {
	aws := fake.New()
	s3 := fake.New()
	shell := fake.New()

	r := NewRouter().
		MustRegister("aws", aws).
		MustRegister("s3", s3).
		MustRegister("s3.put_object", shell)

	ctx := context.Background()
	for _, kind := range []string{"aws.credentials", "s3.create_bucket", "s3.put_object", "s3"} {
		_, err := r.Invoke(ctx, engine.Action{Kind: kind})
		require.NoError(t, err, kind)
	}

	assert.Equal(t, []string{"aws.credentials"}, aws.Kinds())
	assert.Equal(t, []string{"s3.create_bucket", "s3"}, s3.Kinds())
	assert.Equal(t, []string{"s3.put_object"}, shell.Kinds())
	assert.Equal(t, []string{"aws", "s3", "s3.put_object"}, r.Prefixes())
}

func TestRouter_PrefixMatchesWholeSegment(t *testing.T) {
	s3 := fake.New()
	r := NewRouter().MustRegister("s3", s3)

	_, err := r.Invoke(context.Background(), engine.Action{Kind: "s3control.create_job"})
	require.Error(t, err)
	assert.Zero(t, s3.Count("s3control.create_job"))
}

func TestRouter_UnknownKind(t *testing.T) {
	r := NewRouter().MustRegister("shell", fake.New()).MustRegister("endpoint", fake.New())

	_, err := r.Invoke(context.Background(), engine.Action{Kind: "lambda.invoke"})
	require.Error(t, err)

	var engErr *engine.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, engine.CategoryConfiguration, engErr.Category)
	assert.Equal(t, CodeUnknownAction, engErr.Code)
	assert.Equal(t, "lambda.invoke", engErr.Operation)
	assert.Contains(t, engErr.Remediation, "endpoint, shell")
}

func TestRouter_RegisterErrors(t *testing.T) {
	r := NewRouter()
	require.Error(t, r.Register("", fake.New()))
	require.Error(t, r.Register("s3", nil))
	require.NoError(t, r.Register("s3", fake.New()))
	require.Error(t, r.Register("s3", fake.New()))

	assert.Panics(t, func() { r.MustRegister("s3", fake.New()) })
}
