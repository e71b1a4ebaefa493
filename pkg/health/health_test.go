package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type toggle struct{ fail atomic.Bool }

func (t *toggle) Ping(context.Context) error {
	if t.fail.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func get(t *testing.T, h http.Handler) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, rec.Body.String()
}

func status(t *testing.T, body string) string {
	t.Helper()
	var s string
	require.NoError(t, jx.DecodeStr(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		v, err := d.Str()
		s = v
		return err
	}))
	return s
}

func TestReadinessFlag(t *testing.T) {
	r := New()
	code, body := get(t, r.ReadyHandler())
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", status(t, body))
	assert.False(t, r.Ready())

	r.MarkReady(true)
	code, body = get(t, r.ReadyHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", status(t, body))
	assert.True(t, r.Ready())
}

func TestThresholds(t *testing.T) {
	db := &toggle{}
	r := New()
	r.MarkReady(true)
	r.Register(Probe{Name: "store", Kind: Readiness, Check: PingCheck("store", db), SuccessThreshold: 2})
	p := r.probes[0]
	ctx := context.Background()

	db.fail.Store(true)
	p.run(ctx, time.Now)
	p.run(ctx, time.Now)
	assert.True(t, r.Ready(), "below failure threshold")

	p.run(ctx, time.Now)
	assert.False(t, r.Ready())
	code, body := get(t, r.ReadyHandler())
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "connection refused")

	db.fail.Store(false)
	p.run(ctx, time.Now)
	assert.False(t, r.Ready(), "below success threshold")
	p.run(ctx, time.Now)
	assert.True(t, r.Ready())
}

func TestLiveIgnoresReadiness(t *testing.T) {
	r := New()
	r.Register(Probe{Name: "store", Kind: Readiness, FailureThreshold: 1, Check: func(context.Context) error {
		return errors.New("down")
	}})
	r.Register(Probe{Name: "goroutines", Kind: Liveness, Check: GoroutineCheck(1 << 20)})
	r.probes[0].run(context.Background(), time.Now)

	code, body := get(t, r.LiveHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "goroutines")
	assert.NotContains(t, body, "store")
}

func TestRun(t *testing.T) {
	db := &toggle{}
	db.fail.Store(true)
	r := New()
	r.MarkReady(true)
	r.Register(Probe{Name: "store", Kind: Readiness, FailureThreshold: 1, Check: PingCheck("store", db)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return !r.Ready() }, time.Second, 5*time.Millisecond)
	db.fail.Store(false)
	require.Eventually(t, r.Ready, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestGoroutineCheck(t *testing.T) {
	assert.NoError(t, GoroutineCheck(1<<20)(context.Background()))
	assert.Error(t, GoroutineCheck(0)(context.Background()))
}
