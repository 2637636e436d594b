package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "safenotify/pkg/logx"
)

func TestRunExclusiveSkipsOverlap(t *testing.T) {
	t.Parallel()
	g := New(logx.Nop())

	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})

	first := make(chan Outcome, 1)
	go func() {
		first <- g.RunExclusive(context.Background(), "edu#1", func(ctx context.Context) error {
			calls.Add(1)
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	require.True(t, g.Running("edu#1"))

	second := g.RunExclusive(context.Background(), "edu#1", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	assert.Equal(t, Skipped, second)

	close(release)
	assert.Equal(t, Ran, <-first)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, g.Names())
}

func TestRunExclusiveReleasesOnError(t *testing.T) {
	t.Parallel()
	g := New(logx.Nop())

	out := g.RunExclusive(context.Background(), "tbm#2", func(ctx context.Context) error {
		return errors.New("smtp down")
	})
	assert.Equal(t, Failed, out)
	assert.False(t, g.Running("tbm#2"))

	// The slot is free again.
	out = g.RunExclusive(context.Background(), "tbm#2", func(ctx context.Context) error { return nil })
	assert.Equal(t, Ran, out)
}

func TestRunExclusiveRecoversPanic(t *testing.T) {
	t.Parallel()
	g := New(logx.Nop())

	out := g.RunExclusive(context.Background(), "insp#3", func(ctx context.Context) error {
		panic("nil recipient list")
	})
	assert.Equal(t, Failed, out)
	assert.Empty(t, g.Names())
}

func TestRunExclusiveDifferentNamesDoNotSerialize(t *testing.T) {
	t.Parallel()
	g := New(logx.Nop())

	var wg sync.WaitGroup
	bothIn := make(chan struct{})
	var in atomic.Int32
	handler := func(ctx context.Context) error {
		if in.Add(1) == 2 {
			close(bothIn)
		}
		select {
		case <-bothIn:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("names were serialized")
		}
	}

	outs := make([]Outcome, 2)
	for i, name := range []string{"a#1", "b#2"} {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			outs[i] = g.RunExclusive(context.Background(), name, handler)
		}(i, name)
	}
	wg.Wait()
	assert.Equal(t, []Outcome{Ran, Ran}, outs)
	assert.Empty(t, g.Names())
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ran", Ran.String())
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "failed", Failed.String())
}
