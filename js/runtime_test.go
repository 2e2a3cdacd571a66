package js

import (
	"bytes"
	"net/url"
	"testing"

	"github.com/grafana/sobek"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tidaljs/tidal/errext"
	"github.com/tidaljs/tidal/js/bindings"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testRuntime struct {
	*Runtime
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newTestRuntime(t testing.TB, files map[string]string) *testRuntime {
	t.Helper()

	fs := afero.NewMemMapFs()
	for name, src := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(src), 0o644))
	}

	logger := logrus.New()
	logger.SetOutput(new(bytes.Buffer))

	tr := &testRuntime{}
	rt, err := New(Options{
		Logger: logger,
		FS:     fs,
		CWD:    &url.URL{Scheme: "file", Path: "/"},
		Stdout: &tr.stdout,
		Stderr: &tr.stderr,
	})
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	tr.Runtime = rt
	return tr
}

func TestRunScript(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	v, err := rt.RunScript("script.js", "1+1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Export())
}

func TestRunScriptCompileError(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	_, err := rt.RunScript("script.js", "1 +")
	require.Error(t, err)
	assert.True(t, errext.IsKind(err, errext.CompileError))
}

func TestRunScriptRuntimeError(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	_, err := rt.RunScript("script.js", `throw new Error("oh no")`)
	require.Error(t, err)
	require.True(t, errext.IsKind(err, errext.RuntimeError))
	assert.Contains(t, err.Error(), "oh no")

	var xerr errext.Exception
	require.ErrorAs(t, err, &xerr)
	assert.Contains(t, xerr.StackTrace(), "oh no")
}

func TestRunScriptAfterError(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	_, err := rt.RunScript("script.js", `throw new Error("first")`)
	require.Error(t, err)

	// the runtime stays usable after a failed run
	v, err := rt.RunScript("script.js", "40+2")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Export())
}

func TestConsole(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	_, err := rt.RunScript("script.js", `
		console.log("hello", 42, {a: 1});
		console.error("bad");
	`)
	require.NoError(t, err)
	assert.Equal(t, "hello 42 {\"a\":1}\n", rt.stdout.String())
	assert.Equal(t, "bad\n", rt.stderr.String())
}

func TestSetTimeoutFromScript(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	_, err := rt.RunScript("script.js", `
		setTimeout(() => console.log("third"), 10);
		setTimeout(() => console.log("second"), 0);
		console.log("first");
	`)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\nthird\n", rt.stdout.String())
}

func TestClearTimeoutFromScript(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	_, err := rt.RunScript("script.js", `
		const id = setTimeout(() => console.log("never"), 5);
		clearTimeout(id);
		setTimeout(() => console.log("only"), 10);
	`)
	require.NoError(t, err)
	assert.Equal(t, "only\n", rt.stdout.String())
}

func TestSetTimeoutRequiresCallable(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	_, err := rt.RunScript("script.js", `setTimeout(42, 0)`)
	require.Error(t, err)
	require.True(t, errext.IsKind(err, errext.RuntimeError))
	assert.Contains(t, err.Error(), "callable")
}

func TestUncaughtRejection(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	_, err := rt.RunScript("script.js", `Promise.reject(new Error("abandoned"))`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Uncaught (in promise)")
}

func TestRunModule(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, map[string]string{
		"/entry.js": `
			import { x } from "./dep.js";
			console.log(x + 1);
		`,
		"/dep.js": "export const x = 41;",
	})

	_, err := rt.RunModule("./entry.js")
	require.NoError(t, err)
	assert.Equal(t, "42\n", rt.stdout.String())
}

func TestRunModuleBareSpecifier(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, map[string]string{
		"/entry.js": `
			import { x } from "dep.js";
			console.log(x + 1);
		`,
		"/dep.js": "export const x = 41;",
	})

	_, err := rt.RunModule("entry.js")
	require.NoError(t, err)
	assert.Equal(t, "42\n", rt.stdout.String())
}

func TestRunModuleSource(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, map[string]string{
		"/dep.js": "export const x = 41;",
	})

	_, err := rt.RunModuleSource("inline", `
		import { x } from "./dep.js";
		console.log(x + 1);
	`)
	require.NoError(t, err)
	assert.Equal(t, "42\n", rt.stdout.String())
}

func TestRunModuleEvaluatesOnce(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, map[string]string{
		"/entry.js": `
			import "./a.js";
			import "./b.js";
			console.log(globalThis.counter);
		`,
		"/a.js":      `import "./shared.js";`,
		"/b.js":      `import "../shared.js";`,
		"/shared.js": "globalThis.counter = (globalThis.counter || 0) + 1;",
	})

	// shared.js is imported through two different spellings but its
	// top-level code runs exactly once
	_, err := rt.RunModule("./entry.js")
	require.NoError(t, err)
	assert.Equal(t, "1\n", rt.stdout.String())
}

func TestRunModuleCircularImports(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, map[string]string{
		"/a.js": `
			import { fromB } from "./b.js";
			export function fromA() { return "a"; }
			console.log(fromA() + fromB());
		`,
		"/b.js": `
			import { fromA } from "./a.js";
			export function fromB() { return "b"; }
		`,
	})

	_, err := rt.RunModule("./a.js")
	require.NoError(t, err)
	assert.Equal(t, "ab\n", rt.stdout.String())
}

func TestRunModuleMissing(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	_, err := rt.RunModule("./missing.js")
	require.Error(t, err)
	assert.True(t, errext.IsKind(err, errext.ResolutionError))
}

func TestRunModuleMissingDep(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, map[string]string{
		"/entry.js": `import "./gone.js"`,
	})

	_, err := rt.RunModule("./entry.js")
	require.Error(t, err)
	assert.True(t, errext.IsKind(err, errext.ResolutionError))
}

func TestRunModuleCompileError(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, map[string]string{
		"/entry.js": "export default",
	})

	_, err := rt.RunModule("./entry.js")
	require.Error(t, err)
	assert.True(t, errext.IsKind(err, errext.CompileError))
}

func TestRunModuleLinkError(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, map[string]string{
		"/entry.js": `import { missing } from "./dep.js"; console.log(missing);`,
		"/dep.js":   "export const present = 1;",
	})

	_, err := rt.RunModule("./entry.js")
	require.Error(t, err)
	assert.True(t, errext.IsKind(err, errext.LinkError))
}

func TestRunModuleThrow(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, map[string]string{
		"/entry.js": `throw new Error("module boom")`,
	})

	_, err := rt.RunModule("./entry.js")
	require.Error(t, err)
	require.True(t, errext.IsKind(err, errext.RuntimeError))
	assert.Contains(t, err.Error(), "module boom")
}

func TestRunModuleTimers(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, map[string]string{
		"/entry.js": `
			setTimeout(() => console.log("later"), 0);
			console.log("now");
		`,
	})

	_, err := rt.RunModule("./entry.js")
	require.NoError(t, err)
	assert.Equal(t, "now\nlater\n", rt.stdout.String())
}

func TestRunModuleTopLevelAwait(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, map[string]string{
		"/entry.js": `
			const value = await new Promise((resolve) => setTimeout(() => resolve(42), 5));
			console.log(value);
		`,
	})

	_, err := rt.RunModule("./entry.js")
	require.NoError(t, err)
	assert.Equal(t, "42\n", rt.stdout.String())
}

func TestNewBindingInitFailure(t *testing.T) {
	t.Parallel()

	registry := bindings.Default()
	registry["broken"] = func(*bindings.Env) (*sobek.Object, error) {
		return nil, assert.AnError
	}

	logger := logrus.New()
	logger.SetOutput(new(bytes.Buffer))
	_, err := New(Options{
		Logger:   logger,
		FS:       afero.NewMemMapFs(),
		CWD:      &url.URL{Scheme: "file", Path: "/"},
		Bindings: registry,
	})
	require.Error(t, err)
	assert.True(t, errext.IsKind(err, errext.ConfigurationError))
	assert.Contains(t, err.Error(), `"broken"`)
}

func TestNewUnknownBindingRequested(t *testing.T) {
	t.Parallel()

	// the bootstrap environment needs timer_wrap; a registry without it
	// must abort construction
	registry := bindings.Registry{"stdio": bindings.Default()["stdio"]}

	logger := logrus.New()
	logger.SetOutput(new(bytes.Buffer))
	_, err := New(Options{
		Logger:   logger,
		FS:       afero.NewMemMapFs(),
		CWD:      &url.URL{Scheme: "file", Path: "/"},
		Bindings: registry,
	})
	require.Error(t, err)
	assert.True(t, errext.IsKind(err, errext.ConfigurationError))
	assert.Contains(t, err.Error(), "timer_wrap")
}
