package pool

import (
	"net"
	"testing"
	"time"

	"github.com/corehttp/corehttp/pkg/conn"
)

func pipePair(t *testing.T) (*conn.Connection, *conn.Connection) {
	t.Helper()
	a, b := net.Pipe()
	return conn.New(a), conn.New(b)
}

func TestPoolAtMostOneIdlePerKey(t *testing.T) {
	p := New(time.Minute)
	key := conn.Key{Scheme: "http", Host: "example.com", Port: 80}

	c1, peer1 := pipePair(t)
	defer peer1.Close()
	c2, peer2 := pipePair(t)
	defer peer2.Close()

	p.Put(key, c1)
	p.Put(key, c2)

	stats := p.Stats()
	if stats.Idle != 1 {
		t.Fatalf("Idle = %d, want 1 (at most one idle connection per key)", stats.Idle)
	}

	got, ok := p.Get(key)
	if !ok {
		t.Fatal("Get() miss, want hit")
	}
	_ = got

	if _, ok := p.Get(key); ok {
		t.Fatal("second Get() should miss: only one connection was ever cached")
	}
}

func TestPoolGetMissOnEmptyKey(t *testing.T) {
	p := New(time.Minute)
	key := conn.Key{Scheme: "http", Host: "nothing.example", Port: 80}
	if _, ok := p.Get(key); ok {
		t.Fatal("Get() on empty pool should miss")
	}
	if stats := p.Stats(); stats.Misses != 1 {
		t.Fatalf("Misses = %d, want 1", stats.Misses)
	}
}

func TestPoolDistinctKeysEachGetOwnSlot(t *testing.T) {
	p := New(time.Minute)
	keyA := conn.Key{Scheme: "http", Host: "a.example", Port: 80}
	keyB := conn.Key{Scheme: "http", Host: "b.example", Port: 80}

	cA, peerA := pipePair(t)
	defer peerA.Close()
	cB, peerB := pipePair(t)
	defer peerB.Close()

	p.Put(keyA, cA)
	p.Put(keyB, cB)

	if stats := p.Stats(); stats.Idle != 2 {
		t.Fatalf("Idle = %d, want 2 (distinct keys don't share a slot)", stats.Idle)
	}
}

func TestPoolExpiredEntryMisses(t *testing.T) {
	p := New(time.Millisecond)
	key := conn.Key{Scheme: "http", Host: "example.com", Port: 80}
	c, peer := pipePair(t)
	defer peer.Close()

	p.Put(key, c)
	time.Sleep(5 * time.Millisecond)

	if _, ok := p.Get(key); ok {
		t.Fatal("expired entry should miss")
	}
}
