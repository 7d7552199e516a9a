package multiplex

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingLog struct {
	mu    sync.Mutex
	calls []struct {
		stdout bool
		data   string
	}
	failNext bool
}

func (r *recordingLog) Write(isStdout bool, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, struct {
		stdout bool
		data   string
	}{isStdout, string(data)})
	if r.failNext {
		r.failNext = false
		return os.ErrClosed
	}
	return nil
}

func (r *recordingLog) snapshot() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestRunExitsWhenBothStreamsEOF(t *testing.T) {
	outR, outW, err := os.Pipe()
	require.NoError(t, err)
	errR, errW, err := os.Pipe()
	require.NoError(t, err)

	log := &recordingLog{}
	done := make(chan error, 1)
	go func() {
		done <- Run(Config{
			Stdout: outR,
			Stderr: errR,
			Log:    log,
			Logger: zerolog.Nop(),
		})
	}()

	_, err = outW.WriteString("hello")
	require.NoError(t, err)
	_, err = errW.WriteString("oops")
	require.NoError(t, err)

	require.NoError(t, outW.Close())
	require.NoError(t, errW.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after both streams EOF'd")
	}

	require.GreaterOrEqual(t, log.snapshot(), 2)
}

func TestRunReturnsOnFirstStreamEOF(t *testing.T) {
	outR, outW, err := os.Pipe()
	require.NoError(t, err)
	errR, _, err := os.Pipe()
	require.NoError(t, err)

	log := &recordingLog{}
	done := make(chan error, 1)
	go func() {
		done <- Run(Config{
			Stdout: outR,
			Stderr: errR,
			Log:    log,
			Logger: zerolog.Nop(),
		})
	}()

	// Only stdout is closed; stderr's write end is left open on purpose.
	require.NoError(t, outW.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return on the first stream's EOF")
	}
}

func TestRunWithNilStderrTracksStdoutOnly(t *testing.T) {
	outR, outW, err := os.Pipe()
	require.NoError(t, err)

	log := &recordingLog{}
	done := make(chan error, 1)
	go func() {
		done <- Run(Config{
			Stdout: outR,
			Stderr: nil,
			Log:    log,
			Logger: zerolog.Nop(),
		})
	}()

	_, err = outW.WriteString("merged-pty-output")
	require.NoError(t, err)
	require.NoError(t, outW.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return with a nil Stderr")
	}

	require.Equal(t, 1, log.snapshot())
}

func TestRunSwallowsLogPluginWriteErrors(t *testing.T) {
	outR, outW, err := os.Pipe()
	require.NoError(t, err)
	errR, errW, err := os.Pipe()
	require.NoError(t, err)

	log := &recordingLog{failNext: true}
	done := make(chan error, 1)
	go func() {
		done <- Run(Config{
			Stdout: outR,
			Stderr: errR,
			Log:    log,
			Logger: zerolog.Nop(),
		})
	}()

	_, err = outW.WriteString("first")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = errW.WriteString("second")
	require.NoError(t, err)

	require.NoError(t, outW.Close())
	require.NoError(t, errW.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	// Both writes were attempted despite the first one failing.
	require.Equal(t, 2, log.snapshot())
}
