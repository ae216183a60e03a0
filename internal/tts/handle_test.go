package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errLoadFailed = errors.New("weights not found")

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "tts-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func TestHandle_LoadsExactlyOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	handle := NewHandle(testDevice, func(_ context.Context, device string) (core.Model, error) {
		calls.Add(1)
		assert.Equal(t, testDevice, device)

		return NewStubModel(testSampleRate), nil
	}, newTestLogger(t))

	_, err := handle.Model()
	require.ErrorIs(t, err, ErrModelNotLoaded)

	var waitGroup sync.WaitGroup

	for range 8 {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			assert.NoError(t, handle.Load(context.Background()))
		}()
	}

	waitGroup.Wait()

	assert.Equal(t, int32(1), calls.Load())

	model, err := handle.Model()
	require.NoError(t, err)
	assert.Equal(t, testSampleRate, model.SampleRate())
	assert.Equal(t, testDevice, handle.Device())
	require.NoError(t, handle.Close())
}

func TestHandle_LoadFailureIsSticky(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	handle := NewHandle(testDevice, func(context.Context, string) (core.Model, error) {
		calls.Add(1)

		return nil, errLoadFailed
	}, newTestLogger(t))

	require.ErrorIs(t, handle.Load(context.Background()), errLoadFailed)
	require.ErrorIs(t, handle.Load(context.Background()), errLoadFailed)

	_, err := handle.Model()
	require.ErrorIs(t, err, errLoadFailed)
	assert.Equal(t, int32(1), calls.Load())
	require.NoError(t, handle.Close())
}

func TestLoad_Backends(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)

	model, err := Load(context.Background(), testDevice, Options{Backend: BackendStub}, log)
	require.NoError(t, err)
	assert.Equal(t, DefaultSampleRate, model.SampleRate())

	model, err = Load(context.Background(), testDevice, Options{Backend: BackendExec, Command: "synth --quiet"}, log)
	require.NoError(t, err)
	assert.IsType(t, &ExecModel{}, model)

	_, err = Load(context.Background(), testDevice, Options{Backend: BackendExec, Command: "  "}, log)
	require.ErrorIs(t, err, ErrCommandEmpty)

	_, err = Load(context.Background(), testDevice, Options{Backend: "onnx"}, log)
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestLoad_HTTPBackendRequiresHealthyService(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	model, err := Load(context.Background(), testDevice, Options{
		Backend:    BackendHTTP,
		ServiceURL: healthy.URL,
		Timeout:    time.Second,
	}, log)
	require.NoError(t, err)
	assert.Equal(t, DefaultSampleRate, model.SampleRate())

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	_, err = Load(context.Background(), testDevice, Options{
		Backend:    BackendHTTP,
		ServiceURL: down.URL,
		Timeout:    time.Second,
	}, log)
	require.ErrorIs(t, err, ErrServiceUnhealthy)
}

func TestStubModel_Generate(t *testing.T) {
	t.Parallel()

	model := NewStubModel(testSampleRate)

	samples, err := model.Generate(context.Background(), testParams())
	require.NoError(t, err)
	assert.NotEmpty(t, samples)

	for _, sample := range samples {
		require.LessOrEqual(t, sample, float32(1))
		require.GreaterOrEqual(t, sample, float32(-1))
	}

	again, err := model.Generate(context.Background(), testParams())
	require.NoError(t, err)
	assert.Equal(t, samples, again, "stub output is deterministic")

	params := testParams()
	params.Text = ""

	_, err = model.Generate(context.Background(), params)
	require.ErrorIs(t, err, ErrTextEmpty)
}

func TestExecModel_Generate(t *testing.T) {
	t.Parallel()

	shell, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("Skipping test: no POSIX shell available")
	}

	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.wav")
	require.NoError(t, os.WriteFile(fixture, testWAV(t, testSampleRate), 0o600))

	argsLog := filepath.Join(dir, "args.txt")
	script := filepath.Join(dir, "synth.sh")
	scriptBody := `out=""
echo "$@" > "` + argsLog + `"
while [ $# -gt 0 ]; do
  if [ "$1" = "--output" ]; then out="$2"; fi
  shift
done
cp "` + fixture + `" "$out"
`
	require.NoError(t, os.WriteFile(script, []byte(scriptBody), 0o600))

	outputDir := t.TempDir()

	model, err := NewExecModel(shell+" "+script, testDevice, outputDir, testSampleRate, newTestLogger(t))
	require.NoError(t, err)

	samples, err := model.Generate(context.Background(), testParams())
	require.NoError(t, err)
	assert.Len(t, samples, 4)

	args, err := os.ReadFile(argsLog)
	require.NoError(t, err)
	assert.Contains(t, string(args), "--language-id es")
	assert.Contains(t, string(args), "--audio-prompt /tmp/reference.wav")
	assert.Contains(t, string(args), "--device cpu")
	assert.Contains(t, string(args), "--top-p 1")
	assert.Contains(t, string(args), "--output "+outputDir+string(filepath.Separator)+"tts-exec-")

	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "exec output must be removed after decoding")
}

func TestExecModel_GenerateFailure(t *testing.T) {
	t.Parallel()

	shell, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("Skipping test: no POSIX shell available")
	}

	model, err := NewExecModel(shell+` -c "echo model crashed >&2; exit 3"`, testDevice, "", testSampleRate, newTestLogger(t))
	require.NoError(t, err)

	_, err = model.Generate(context.Background(), testParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")
}
