package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type recorder struct {
	events []string
}

func (r *recorder) dep(name string, needs ...string) Func {
	return Func{
		Name:  name,
		Needs: needs,
		StartFn: func(context.Context) error {
			r.events = append(r.events, "start "+name)
			return nil
		},
		StopFn: func(context.Context) error {
			r.events = append(r.events, "stop "+name)
			return nil
		},
	}
}

func noSleep(s *Startup, waits *[]time.Duration) {
	s.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestStartup_StartsInDependencyOrder(t *testing.T) {
	rec := &recorder{}
	s := NewStartup(getTestLogger(), 1)
	s.AddDependency(rec.dep("http", "scheduler", "database"))
	s.AddDependency(rec.dep("scheduler", "redis", "database"))
	s.AddDependency(rec.dep("redis"))
	s.AddDependency(rec.dep("database"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start redis", "start database", "start scheduler", "start http"}, rec.events)

	rec.events = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop http", "stop scheduler", "stop database", "stop redis"}, rec.events)
	assert.Equal(t, StatusStopped, s.Status("redis"))
}

func TestStartup_RetriesWithFibonacciBackoff(t *testing.T) {
	failures := 3
	s := NewStartup(getTestLogger(), 5)
	var waits []time.Duration
	noSleep(s, &waits)
	s.AddDependency(Func{Name: "database", StartFn: func(context.Context) error {
		if failures > 0 {
			failures--
			return errors.New("connection refused")
		}
		return nil
	}})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []time.Duration{time.Second, time.Second, 2 * time.Second}, waits)
	assert.Equal(t, StatusStarted, s.Status("database"))
}

func TestStartup_GivesUp(t *testing.T) {
	s := NewStartup(getTestLogger(), 2)
	var waits []time.Duration
	noSleep(s, &waits)
	s.AddDependency(Func{Name: "kafka", StartFn: func(context.Context) error { return errors.New("no brokers") }})

	err := s.Start(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup failed after 2 attempts")
	assert.Contains(t, err.Error(), "no brokers")
	assert.Len(t, waits, 1)
	assert.Equal(t, StatusFailed, s.Status("kafka"))
}

func TestStartup_DoesNotRestartStartedDependencies(t *testing.T) {
	rec := &recorder{}
	fail := true
	s := NewStartup(getTestLogger(), 2)
	var waits []time.Duration
	noSleep(s, &waits)
	s.AddDependency(rec.dep("database"))
	s.AddDependency(Func{Name: "graph", Needs: []string{"database"}, StartFn: func(context.Context) error {
		if fail {
			fail = false
			return errors.New("bolt unavailable")
		}
		return nil
	}})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start database"}, rec.events)
}

func TestStartup_UnknownAndCyclicDependencies(t *testing.T) {
	s := NewStartup(getTestLogger(), 1)
	s.AddDependency(Func{Name: "http", Needs: []string{"missing"}})
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown startup dependency 'missing'")

	s = NewStartup(getTestLogger(), 1)
	s.AddDependency(Func{Name: "a", Needs: []string{"b"}})
	s.AddDependency(Func{Name: "b", Needs: []string{"a"}})
	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestStartup_StopContinuesAfterError(t *testing.T) {
	rec := &recorder{}
	s := NewStartup(getTestLogger(), 1)
	s.AddDependency(rec.dep("database"))
	s.AddDependency(Func{Name: "http", Needs: []string{"database"}, StopFn: func(context.Context) error {
		return errors.New("shutdown timeout")
	}})

	require.NoError(t, s.Start(context.Background()))
	rec.events = nil

	err := s.Stop(context.Background())

	require.Error(t, err)
	assert.Equal(t, []string{"stop database"}, rec.events)
}
