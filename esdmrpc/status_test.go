package esdmrpc

import (
	"sync"
	"testing"
	"time"
)

func TestLocalPublisherWaitUnblocksOnPublish(t *testing.T) {
	p := newLocalPublisher()
	done := make(chan StatusRecord, 1)

	go func() {
		rec, _ := p.Wait(0)
		done <- rec
	}()

	time.Sleep(10 * time.Millisecond)
	p.Publish(NewInfoRecord("operational", 4, true, false))

	select {
	case rec := <-done:
		if !rec.Operational {
			t.Fatal("expected operational=true in published record")
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not unblock after publish")
	}
}

func TestLocalPublisherGenerationIncrementsMonotonically(t *testing.T) {
	p := newLocalPublisher()
	p.Publish(NewInfoRecord("a", 1, false, true))
	_, gen1 := p.Wait(0)

	p.Publish(NewInfoRecord("b", 1, false, true))
	_, gen2 := p.Wait(gen1)

	if gen2 <= gen1 {
		t.Fatalf("generation must strictly increase: gen1=%d gen2=%d", gen1, gen2)
	}
}

func TestLocalPublisherBroadcastsToEveryWaiter(t *testing.T) {
	p := newLocalPublisher()
	var wg sync.WaitGroup
	results := make([]bool, 4)

	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, _ := p.Wait(0)
			results[i] = rec.NeedEntropy
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	p.Publish(NewInfoRecord("ready", 2, true, true))
	wg.Wait()

	for i, got := range results {
		if !got {
			t.Fatalf("waiter %d did not observe published record", i)
		}
	}
}

func TestNewInfoRecordTruncatesOversizedInfo(t *testing.T) {
	huge := make([]byte, 2048)
	for i := range huge {
		huge[i] = 'x'
	}
	rec := NewInfoRecord(string(huge), 1, false, false)
	if rec.InfoLen != uint32(len(rec.Info)) {
		t.Fatalf("InfoLen = %d, want truncation to %d", rec.InfoLen, len(rec.Info))
	}
}
