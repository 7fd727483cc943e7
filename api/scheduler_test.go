package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmoney/collection-engine/lending"
)

func TestSummaryScheduler_RunOncePerScope(t *testing.T) {
	ts := newTestServer(t)
	s := NewSummaryScheduler(ts.h.Collection, []lending.Scope{nil, {"op-1"}}, 0, ts.h.Logger)

	assert.Equal(t, 2, s.RunOnce(context.Background()))
	ts.h.Collection.Engine.Wait()
	assert.Equal(t, 2, ts.pub.count())
}

func TestSummaryScheduler_CancelledContext(t *testing.T) {
	ts := newTestServer(t)
	s := NewSummaryScheduler(ts.h.Collection, nil, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 0, s.RunOnce(ctx))
}

func TestSummaryScheduler_DisabledWithoutInterval(t *testing.T) {
	ts := newTestServer(t)
	s := NewSummaryScheduler(ts.h.Collection, nil, 0, nil)

	s.Start()
	s.Stop()
	assert.Equal(t, 0, ts.pub.count())
}

func TestSummaryScheduler_Ticks(t *testing.T) {
	ts := newTestServer(t)
	s := NewSummaryScheduler(ts.h.Collection, nil, 10*time.Millisecond, nil)

	s.Start()
	require.Eventually(t, func() bool { return ts.pub.count() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
}
