package fake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/gatewaysetup/pkg/engine"
)

func TestAdapter_ReplaysScriptThenDefault(t *testing.T) {
	boom := errors.New("connection reset by peer")
	a := New().
		Fail("s3.create_bucket", boom, 2).
		Default("s3.bucket_exists", map[string]interface{}{"exists": true})

	ctx := context.Background()
	action := engine.Action{Kind: "s3.create_bucket", Params: map[string]string{"bucket": "schemas"}}

	for i := 0; i < 2; i++ {
		_, err := a.Invoke(ctx, action)
		require.ErrorIs(t, err, boom)
	}
	out, err := a.Invoke(ctx, action)
	require.NoError(t, err)
	assert.Nil(t, out.Output)

	out, err = a.Invoke(ctx, engine.Action{Kind: "s3.bucket_exists"})
	require.NoError(t, err)
	assert.Equal(t, true, out.Output["exists"])

	assert.Equal(t, 3, a.Count("s3.create_bucket"))
	assert.Equal(t, []string{"s3.create_bucket", "s3.create_bucket", "s3.create_bucket", "s3.bucket_exists"}, a.Kinds())
	assert.Equal(t, "schemas", a.Calls()[0].Params["bucket"])
}

func TestAdapter_RecordsParamCopies(t *testing.T) {
	a := New()
	params := map[string]string{"command": "echo"}
	_, err := a.Invoke(context.Background(), engine.Action{Kind: "shell.exec", Params: params})
	require.NoError(t, err)

	params["command"] = "changed"
	assert.Equal(t, "echo", a.Calls()[0].Params["command"])
}

func TestAdapter_Block(t *testing.T) {
	a := New().Script("endpoint.probe", Response{Block: true})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Invoke(ctx, engine.Action{Kind: "endpoint.probe"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
