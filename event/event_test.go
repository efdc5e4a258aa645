// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package event_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/succinct-tracker/succinct/event"
)

const testEvtType event.EventType = "test.event"

func TestEventBusSingleSubscriber(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	_, subCh := eb.Subscribe(event.PushEventType)
	eb.Publish(event.PushEventType, event.NewPushEvent("/team/a", 999))
	select {
	case evt, ok := <-subCh:
		require.True(t, ok, "event channel closed unexpectedly")
		push, ok := evt.Data.(event.Push)
		require.True(t, ok, "event data was not of expected type, got %T", evt.Data)
		assert.Equal(t, "/team/a", push.Path)
		assert.Equal(t, 999, push.Payload)
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	_, sub1Ch := eb.Subscribe(testEvtType)
	_, sub2Ch := eb.Subscribe(testEvtType)
	eb.Publish(testEvtType, event.NewEvent(testEvtType, 1))
	for _, ch := range []<-chan event.Event{sub1Ch, sub2Ch} {
		select {
		case evt := <-ch:
			assert.Equal(t, 1, evt.Data)
		case <-time.After(1 * time.Second):
			t.Fatalf("timeout waiting for event")
		}
	}
}

func TestEventBusOtherType(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	_, subCh := eb.Subscribe(testEvtType)
	eb.Publish(event.PushEventType, event.NewPushEvent("/teams", nil))
	select {
	case evt := <-subCh:
		t.Fatalf("received unexpected event: %v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	subId, subCh := eb.Subscribe(testEvtType)
	eb.Unsubscribe(testEvtType, subId)
	eb.Publish(testEvtType, event.NewEvent(testEvtType, 1))
	select {
	case _, ok := <-subCh:
		require.False(t, ok, "event channel should be closed")
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for channel close")
	}
}

func TestEventBusStop(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	_, subCh := eb.Subscribe(testEvtType)
	eb.Stop()
	_, ok := <-subCh
	require.False(t, ok)
	// Still usable after Stop
	_, subCh = eb.Subscribe(testEvtType)
	eb.Publish(testEvtType, event.NewEvent(testEvtType, 2))
	evt := <-subCh
	assert.Equal(t, 2, evt.Data)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	_, subCh := eb.Subscribe(testEvtType)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range event.EventQueueSize * 2 {
			eb.Publish(testEvtType, event.NewEvent(testEvtType, i))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on full subscriber")
	}
	assert.Len(t, subCh, event.EventQueueSize)
	// Oldest events are kept
	evt := <-subCh
	assert.Equal(t, 0, evt.Data)
}

type mockSubscriber struct {
	err      error
	panicMsg string
	closed   atomic.Int32
	count    atomic.Int32
}

func (m *mockSubscriber) Deliver(event.Event) error {
	m.count.Add(1)
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	return m.err
}

func (m *mockSubscriber) Close() {
	m.closed.Add(1)
}

func TestFailingSubscriberUnregistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	eb := event.NewEventBus(reg, nil)
	failing := &mockSubscriber{err: errors.New("connection gone")}
	panicking := &mockSubscriber{panicMsg: "boom"}
	healthy := &mockSubscriber{}
	eb.RegisterSubscriber(event.PushEventType, failing)
	eb.RegisterSubscriber(event.PushEventType, panicking)
	eb.RegisterSubscriber(event.PushEventType, healthy)
	eb.Publish(event.PushEventType, event.NewPushEvent("/teams", nil))
	eb.Publish(event.PushEventType, event.NewPushEvent("/teams", nil))
	assert.Equal(t, int32(1), failing.count.Load())
	assert.Equal(t, int32(1), failing.closed.Load())
	assert.Equal(t, int32(1), panicking.count.Load())
	assert.Equal(t, int32(1), panicking.closed.Load())
	assert.Equal(t, int32(2), healthy.count.Load())
	assert.Equal(t, int32(0), healthy.closed.Load())
	assert.Equal(t, 2.0, counterValue(t, reg, "succinct_event_published_total"))
	assert.Equal(t, 2.0, counterValue(t, reg, "succinct_event_delivery_errors_total"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestSubscribeFunc(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	got := make(chan any, 1)
	eb.SubscribeFunc(testEvtType, func(evt event.Event) {
		got <- evt.Data
	})
	eb.Publish(testEvtType, event.NewEvent(testEvtType, "hello"))
	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for handler")
	}
	eb.Stop()
}
