package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocraft/web"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"millstep/standalone"
	"millstep/standalone/machine"
)

func newTestApp(t *testing.T) (*App, *int) {
	t.Helper()
	built := 0
	app, err := NewApp(func() (machine.Machine, error) {
		built++
		return machine.NewSimulated(0, 0), nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app, &built
}

func serve(router *web.Router, method, path, body string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	router.ServeHTTP(recorder, request)
	return recorder
}

func pollLogs(t *testing.T, router *web.Router, n int) []standalone.LogEntry {
	t.Helper()
	var logs []standalone.LogEntry
	require.Eventually(t, func() bool {
		recorder := serve(router, http.MethodPost, "/get_logs", "")
		require.Equal(t, http.StatusOK, recorder.Code)
		var batch []standalone.LogEntry
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &batch))
		logs = append(logs, batch...)
		return len(logs) >= n
	}, 5*time.Second, 5*time.Millisecond)
	return logs
}

func TestInitializeAndRunGCode(t *testing.T) {
	app, _ := newTestApp(t)
	router := NewRouter(app)

	recorder := serve(router, http.MethodPost, "/initialize", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	var initJob jobResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &initJob))
	assert.NotEqual(t, uuid.Nil, initJob.JobID)

	recorder = serve(router, http.MethodPost, "/gcode", `{"gcode": "G1 X1 Y2"}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	var gcodeJob jobResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &gcodeJob))

	logs := pollLogs(t, router, 2)
	require.Len(t, logs, 2)
	assert.Equal(t, initJob.JobID, logs[0].JobID)
	assert.Equal(t, gcodeJob.JobID, logs[1].JobID)
	assert.Equal(t, standalone.LevelInfo, logs[1].Level)
}

func TestGetLogsEmptyIsArray(t *testing.T) {
	app, _ := newTestApp(t)
	router := NewRouter(app)

	recorder := serve(router, http.MethodGet, "/get_logs", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, "[]", recorder.Body.String())
}

func TestGCodeRejectsMalformedBody(t *testing.T) {
	app, _ := newTestApp(t)
	router := NewRouter(app)

	recorder := serve(router, http.MethodPost, "/gcode", `not json`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "gcode field")
}

func TestSimulate(t *testing.T) {
	app, _ := newTestApp(t)
	router := NewRouter(app)

	recorder := serve(router, http.MethodPost, "/simulate", `{"gcode": "G0 X1\nG1 Y2"}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))
	assert.JSONEq(t, `[[0,0,0,false],[1,0,0,true],[1,2,0,false]]`, recorder.Body.String())
}

func TestSimulateReportsInterpreterError(t *testing.T) {
	app, _ := newTestApp(t)
	router := NewRouter(app)

	recorder := serve(router, http.MethodPost, "/simulate", `{"gcode": "G1 X1\nG1 W1"}`)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "line 2")
	assert.Contains(t, body.Error, "unknown axes W")
}

func TestAbortReplacesWorker(t *testing.T) {
	app, built := newTestApp(t)
	router := NewRouter(app)
	first := app.Worker()

	recorder := serve(router, http.MethodPost, "/abort", "")
	require.Equal(t, http.StatusOK, recorder.Code)

	assert.Equal(t, standalone.StateKilled, first.State())
	assert.NotSame(t, first, app.Worker())
	assert.Equal(t, standalone.StateRunning, app.Worker().State())
	assert.Equal(t, 2, *built)

	// A fresh machine has to be initialized again
	recorder = serve(router, http.MethodPost, "/gcode", `{"gcode": "G1 X1"}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	logs := pollLogs(t, router, 1)
	assert.Equal(t, standalone.LevelError, logs[0].Level)
}

func TestAbortFactoryFailure(t *testing.T) {
	calls := 0
	app, err := NewApp(func() (machine.Machine, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("serial port busy")
		}
		return machine.NewSimulated(0, 0), nil
	})
	require.NoError(t, err)
	router := NewRouter(app)

	recorder := serve(router, http.MethodPost, "/abort", "")
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "serial port busy")

	// The killed worker refuses new jobs until an abort succeeds
	recorder = serve(router, http.MethodPost, "/gcode", `{"gcode": "G1 X1"}`)
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestNewAppRequiresFactory(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)

	_, err = NewApp(func() (machine.Machine, error) {
		return nil, errors.New("no config")
	})
	assert.ErrorContains(t, err, "no config")
}

// lingeringMachine keeps running its initialization after cancellation
// until released, like hardware finishing a pulse
type lingeringMachine struct {
	*machine.Simulated
	entered chan struct{}
	release chan struct{}
}

func (m *lingeringMachine) Initialize(ctx context.Context) error {
	close(m.entered)
	<-ctx.Done()
	<-m.release
	return ctx.Err()
}

func newLingeringApp(t *testing.T, opts ...Option) (*App, *lingeringMachine, *atomic.Int32) {
	t.Helper()
	var built atomic.Int32
	first := &lingeringMachine{
		Simulated: machine.NewSimulated(0, 0),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	app, err := NewApp(func() (machine.Machine, error) {
		if built.Add(1) == 1 {
			return first, nil
		}
		return machine.NewSimulated(0, 0), nil
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })

	_, err = app.Worker().SendInitialize()
	require.NoError(t, err)
	<-first.entered
	return app, first, &built
}

func TestAbortWaitsForKilledJob(t *testing.T) {
	app, first, built := newLingeringApp(t)

	aborted := make(chan error, 1)
	go func() { aborted <- app.Abort() }()

	select {
	case <-aborted:
		t.Fatal("abort returned while the killed job still ran")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int32(1), built.Load(), "no second machine while the first is in use")

	close(first.release)
	require.NoError(t, <-aborted)
	assert.Equal(t, int32(2), built.Load())
	assert.Equal(t, standalone.StateRunning, app.Worker().State())
}

func TestAbortTimeout(t *testing.T) {
	app, first, built := newLingeringApp(t, WithAbortTimeout(20*time.Millisecond))
	defer close(first.release)

	assert.ErrorIs(t, app.Abort(), ErrAbortTimeout)
	assert.Equal(t, int32(1), built.Load())
}
