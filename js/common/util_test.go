package common

import (
	"errors"
	"testing"

	"github.com/grafana/sobek"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrow(t *testing.T) {
	t.Parallel()
	rt := sobek.New()

	require.NoError(t, rt.GlobalObject().Set("fail", func() {
		Throw(rt, errors.New("native failure"))
	}))

	_, err := rt.RunString(`
		try {
			fail();
		} catch (e) {
			e.message;
		}
	`)
	require.NoError(t, err)

	_, err = rt.RunString(`fail()`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "native failure")
}

func TestThrowKeepsExceptions(t *testing.T) {
	t.Parallel()
	rt := sobek.New()

	_, original := rt.RunString(`throw new Error("vm-born")`)
	require.Error(t, original)
	exc, ok := original.(*sobek.Exception) //nolint:errorlint
	require.True(t, ok)

	require.NoError(t, rt.GlobalObject().Set("rethrow", func() {
		Throw(rt, exc)
	}))
	_, err := rt.RunString(`rethrow()`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vm-born")
}
