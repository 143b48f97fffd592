package function

import (
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadlineFiringAfterStopIsIgnored(t *testing.T) {
	vm := goja.New()
	dl := startDeadline(vm, time.Hour)
	dl.stop()

	// A timer callback that was already running when stop returned.
	dl.fire()

	v, err := vm.RunString("1 + 1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.ToInteger())
}

func TestDeadlineInterruptsRunningScript(t *testing.T) {
	vm := goja.New()
	dl := startDeadline(vm, 20*time.Millisecond)
	_, err := vm.RunString("while (true) {}")
	dl.stop()

	var interrupted *goja.InterruptedError
	require.ErrorAs(t, err, &interrupted)

	_, err = vm.RunString("1")
	assert.NoError(t, err)
}

func TestWrapScriptErrorKinds(t *testing.T) {
	vm := goja.New()

	_, err := vm.RunString("throw new Error('bad input')")
	se, ok := wrapScriptError(err).(*ScriptError)
	require.True(t, ok)
	assert.Equal(t, ScriptErrorRuntime, se.Type)
	assert.Equal(t, "bad input", se.Message)

	_, err = goja.Compile("x", "return {", false)
	se, ok = wrapScriptError(err).(*ScriptError)
	require.True(t, ok)
	assert.Equal(t, ScriptErrorSyntax, se.Type)
}
