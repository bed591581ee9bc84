package app

import (
	"strings"
	"sync"
	"testing"
)

func TestVirtualAccountNumber_FourteenDigits(t *testing.T) {
	gen := &IDGenerator{}
	for i := 0; i < 100; i++ {
		number := gen.VirtualAccountNumber()
		if len(number) != 14 {
			t.Fatalf("expected 14 digits, got %d (%q)", len(number), number)
		}
		for _, r := range number {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit character %q in account number %q", r, number)
			}
		}
	}
}

func TestTransactionID_Format(t *testing.T) {
	gen := &IDGenerator{}
	id := gen.TransactionID()
	if !strings.HasPrefix(id, "TXN_") {
		t.Fatalf("expected TXN_ prefix, got %q", id)
	}
	if parts := strings.Split(id, "_"); len(parts) != 4 {
		t.Fatalf("expected TXN_<millis>_<seq>_<rand>, got %q", id)
	}
}

func TestTransactionID_UniqueUnderConcurrency(t *testing.T) {
	gen := &IDGenerator{}

	const workers = 8
	const perWorker = 200

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]string, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				ids = append(ids, gen.TransactionID())
			}
			mu.Lock()
			for _, id := range ids {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique ids, got %d", workers*perWorker, len(seen))
	}
}
