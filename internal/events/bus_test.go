package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/svbcapture/internal/logging"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan ControlChangedEvent, 1)

	unsub := bus.Subscribe(func(e ControlChangedEvent) {
		received <- e
	})
	defer unsub()

	ev := ControlChangedEvent{
		Camera:    "SIM0000001",
		Control:   "exposure",
		Value:     0.1,
		Raw:       100000,
		Timestamp: "2025-01-27T10:30:00Z",
	}
	bus.Publish(ev)

	select {
	case got := <-received:
		if got != ev {
			t.Errorf("got %+v, want %+v", got, ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New()
	received1 := make(chan CaptureStateChangedEvent, 1)
	received2 := make(chan CaptureStateChangedEvent, 1)

	unsub1 := bus.Subscribe(func(e CaptureStateChangedEvent) { received1 <- e })
	defer unsub1()
	unsub2 := bus.Subscribe(func(e CaptureStateChangedEvent) { received2 <- e })
	defer unsub2()

	bus.Publish(CaptureStateChangedEvent{Camera: "cam", State: "capturing"})

	for i, ch := range []chan CaptureStateChangedEvent{received1, received2} {
		select {
		case e := <-ch:
			if e.State != "capturing" {
				t.Errorf("subscriber %d got state %q", i, e.State)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d not notified", i)
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan CaptureErrorEvent, 1)

	unsub := bus.Subscribe(func(e CaptureErrorEvent) {
		received <- e
	})

	bus.Publish(CaptureErrorEvent{Camera: "a"})
	<-received

	unsub()

	bus.Publish(CaptureErrorEvent{Camera: "b"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	frameReceived := make(chan bool, 1)
	hotplugReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ FrameCapturedEvent) { frameReceived <- true })
	defer unsub1()
	unsub2 := bus.Subscribe(func(_ DeviceHotplugEvent) { hotplugReceived <- true })
	defer unsub2()

	bus.Publish(FrameCapturedEvent{Seq: 1})
	<-frameReceived

	select {
	case <-hotplugReceived:
		t.Fatal("hotplug subscriber received a frame event")
	case <-time.After(10 * time.Millisecond):
	}

	bus.Publish(DeviceHotplugEvent{Action: "remove"})
	<-hotplugReceived

	select {
	case <-frameReceived:
		t.Fatal("frame subscriber received a hotplug event")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_UnknownHandler(_ *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	unsub()
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := New()
	var (
		mu   sync.Mutex
		seen = make(map[uint64]bool)
	)
	done := make(chan struct{})
	const total = 100

	unsub := bus.Subscribe(func(e FrameCapturedEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen[e.Seq] = true
		if len(seen) == total {
			close(done)
		}
	})
	defer unsub()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < total; i += 4 {
				bus.Publish(FrameCapturedEvent{Seq: uint64(i)})
			}
		}(w)
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		mu.Lock()
		defer mu.Unlock()
		t.Fatalf("received %d of %d events", len(seen), total)
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 1)
	unsub := SubscribeToChannel[CaptureStateChangedEvent](bus, ch)
	defer unsub()

	bus.Publish(CaptureStateChangedEvent{State: "idle"})
	select {
	case e := <-ch:
		if got, ok := e.(CaptureStateChangedEvent); !ok || got.State != "idle" {
			t.Errorf("got %#v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}

	// A full channel drops rather than blocks the publisher.
	ch <- "filler"
	bus.Publish(CaptureStateChangedEvent{State: "capturing"})
	time.Sleep(20 * time.Millisecond)
	if e := <-ch; e != "filler" {
		t.Errorf("got %#v, want filler", e)
	}
}

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(FrameCapturedEvent{Camera: "c", Seq: 3, BitDepth: 16})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"camera", "run_id", "seq", "bit_depth", "timestamp"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing %q in %s", key, data)
		}
	}
}

func TestForwardLogs(t *testing.T) {
	bus := New()
	got := make(chan LogEntryEvent, 4)
	defer bus.Subscribe(func(e LogEntryEvent) { got <- e })()

	stop := ForwardLogs(bus)
	defer stop()

	logging.GetLogger("events-test").Warn("Sensor warm", "celsius", 41)

	select {
	case e := <-got:
		if e.Module != "events-test" || e.Message != "Sensor warm" || e.Level != "warn" {
			t.Errorf("event = %+v", e)
		}
		if _, err := time.Parse(time.RFC3339Nano, e.Timestamp); err != nil {
			t.Errorf("timestamp %q: %v", e.Timestamp, err)
		}
	case <-time.After(time.Second):
		t.Fatal("log entry not forwarded")
	}
}
