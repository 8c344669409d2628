package sfuadapter

import (
	"errors"
	"testing"
)

func TestPortArenaAllocateRelease(t *testing.T) {
	a := NewPortArena(50000, 50003)

	p1, err := a.Allocate(true)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p1 != 50000 {
		t.Fatalf("first free port = %d, want 50000", p1)
	}
	p2, err := a.Allocate(true)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p2 != 50001 {
		t.Fatalf("second port = %d, want 50001", p2)
	}

	a.Release(p1, true)
	p3, err := a.Allocate(true)
	if err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
	if p3 != p1 {
		t.Fatalf("released port must return to the pool: got %d want %d", p3, p1)
	}
}

func TestPortArenaExhaustion(t *testing.T) {
	a := NewPortArena(50000, 50001)

	if _, err := a.Allocate(true); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := a.Allocate(true); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	_, err := a.Allocate(true)
	if !errors.Is(err, ErrPortsExhausted) {
		t.Fatalf("expected ErrPortsExhausted, got %v", err)
	}
}

func TestPortArenaNonMuxReservesPair(t *testing.T) {
	a := NewPortArena(50000, 50003)

	p, err := a.Allocate(false)
	if err != nil {
		t.Fatalf("allocate pair: %v", err)
	}
	if p != 50000 {
		t.Fatalf("pair base = %d, want 50000", p)
	}
	if a.InUseCount() != 2 {
		t.Fatalf("pair allocation must reserve port+1, in use = %d", a.InUseCount())
	}

	// next pair starts past the reserved rtcp port
	p2, err := a.Allocate(false)
	if err != nil {
		t.Fatalf("allocate second pair: %v", err)
	}
	if p2 != 50002 {
		t.Fatalf("second pair base = %d, want 50002", p2)
	}

	if _, err := a.Allocate(false); !errors.Is(err, ErrPortsExhausted) {
		t.Fatal("no room for a third pair")
	}

	a.Release(p, false)
	if a.InUseCount() != 2 {
		t.Fatalf("pair release must free both ports, in use = %d", a.InUseCount())
	}
}

func TestPortArenaPairNeverStraddlesRangeEnd(t *testing.T) {
	a := NewPortArena(50000, 50000)
	if _, err := a.Allocate(false); !errors.Is(err, ErrPortsExhausted) {
		t.Fatal("a one-port range cannot hold an rtp/rtcp pair")
	}
}
