package floor

import (
	"sync"
	"testing"

	"pgregory.net/rapid"
)

func TestBargeInSupersedesTurn(t *testing.T) {
	f := New()
	turn := f.BeginTurn()
	d := f.Interrupt()
	if !d.BargeIn || d.Reason != "barge_in" || d.PreviousTurn != turn {
		t.Fatalf("expected barge-in over turn %d, got %+v", turn, d)
	}
	if f.IsCurrent(turn) {
		t.Fatalf("turn %d should be stale after interruption", turn)
	}
	if f.State() != Listening {
		t.Fatalf("expected LISTENING, got %s", f.State())
	}
}

func TestInterruptWhileIdleStillAdvances(t *testing.T) {
	f := New()
	d := f.Interrupt()
	if d.BargeIn {
		t.Fatalf("should not report barge-in when idle")
	}
	if d.Turn != 1 || f.Turn() != 1 {
		t.Fatalf("expected counter 1, got decision=%d turn=%d", d.Turn, f.Turn())
	}
}

func TestFinishOnlyForCurrentTurn(t *testing.T) {
	f := New()
	t1 := f.BeginTurn()
	t2 := f.BeginTurn()
	if f.Finish(t1) {
		t.Fatalf("stale turn must not finish the floor")
	}
	if f.State() != Processing {
		t.Fatalf("expected PROCESSING, got %s", f.State())
	}
	if !f.Finish(t2) || f.State() != Listening {
		t.Fatalf("current turn should release the floor")
	}
}

func TestConcurrentInterruptsCountEach(t *testing.T) {
	f := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() { defer wg.Done(); f.Interrupt() }()
	}
	wg.Wait()
	if f.Turn() != 100 {
		t.Fatalf("expected 100, got %d", f.Turn())
	}
}

func TestTurnCounterProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := New()
		ops := rapid.SliceOf(rapid.SampledFrom([]string{"begin", "interrupt", "finish"})).Draw(t, "ops")
		var last uint64
		for _, op := range ops {
			before := f.Turn()
			switch op {
			case "begin":
				last = f.BeginTurn()
				if last != before+1 {
					t.Fatalf("begin must advance by one: %d -> %d", before, last)
				}
			case "interrupt":
				d := f.Interrupt()
				if d.Turn != before+1 {
					t.Fatalf("interrupt must advance by one: %d -> %d", before, d.Turn)
				}
				if f.IsCurrent(last) && last != 0 {
					t.Fatalf("turn %d still current after interrupt", last)
				}
			case "finish":
				f.Finish(last)
				if f.Turn() != before {
					t.Fatalf("finish must not move the counter")
				}
			}
		}
	})
}
