package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresInOrder(t *testing.T) {
	clk := NewFake(time.Unix(0, 0))
	var fired []int
	clk.AfterFunc(3*time.Second, func() { fired = append(fired, 3) })
	clk.AfterFunc(1*time.Second, func() { fired = append(fired, 1) })
	stopped := clk.AfterFunc(2*time.Second, func() { fired = append(fired, 2) })
	if !stopped.Stop() {
		t.Fatalf("expected stop to report an armed timer")
	}

	clk.Advance(2 * time.Second)
	if len(fired) != 1 || fired[0] != 1 {
		t.Fatalf("expected only the 1s timer, got %v", fired)
	}
	if clk.Pending() != 1 {
		t.Fatalf("expected 1 pending timer, got %d", clk.Pending())
	}

	clk.Advance(5 * time.Second)
	if len(fired) != 2 || fired[1] != 3 {
		t.Fatalf("expected 3s timer to fire, got %v", fired)
	}
	if stopped.Stop() {
		t.Fatalf("stopping twice must report false")
	}
}
