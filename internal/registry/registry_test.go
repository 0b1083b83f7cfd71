package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RGBKey/yolodice-api/internal/rpckit"
	"github.com/RGBKey/yolodice-api/pkg/models"
)

func TestRegisterAllocatesMonotonicIDs(t *testing.T) {
	r := New(Options{})
	for want := uint64(0); want < 50; want++ {
		call, err := r.Register("ping", 0)
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		if call.ID != want {
			t.Fatalf("expected id %d, got %d", want, call.ID)
		}
	}
	if r.Len() != 50 || r.NextID() != 50 {
		t.Fatalf("unexpected registry state len=%d next=%d", r.Len(), r.NextID())
	}
}

func TestRegisterConcurrentIDsAreUnique(t *testing.T) {
	r := New(Options{})
	const workers, perWorker = 8, 100
	ids := make(chan uint64, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				call, err := r.Register("ping", 0)
				if err != nil {
					t.Errorf("register: %v", err)
					return
				}
				ids <- call.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	for id := uint64(0); id < workers*perWorker; id++ {
		if !seen[id] {
			t.Fatalf("gap at id %d", id)
		}
	}
}

func TestResolveDeliversAtMostOnce(t *testing.T) {
	var completions int
	r := New(Options{OnComplete: func(*Call, error) { completions++ }})
	call, err := r.Register("read_user_data", 0)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	first := &models.Response{ID: call.ID, Result: []byte(`{"balance":1}`)}
	if !r.Resolve(first) {
		t.Fatal("expected first response to resolve")
	}
	if r.Resolve(&models.Response{ID: call.ID, Result: []byte(`{"balance":2}`)}) {
		t.Fatal("duplicate response must not resolve")
	}
	resp, err := call.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if string(resp.Result) != `{"balance":1}` {
		t.Fatalf("expected first envelope, got %s", resp.Result)
	}
	if completions != 1 {
		t.Fatalf("expected one completion, got %d", completions)
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestResolveKeepsApplicationErrorInEnvelope(t *testing.T) {
	r := New(Options{})
	call, _ := r.Register("create_bet", 0)
	r.Resolve(&models.Response{ID: call.ID, Error: []byte(`{"code":3,"message":"insufficient funds"}`)})

	resp, err := call.Wait(context.Background())
	if err != nil {
		t.Fatalf("application errors must not reject the call: %v", err)
	}
	var appErr *rpckit.ApplicationError
	if !errors.As(resp.Err(), &appErr) || appErr.Code != 3 {
		t.Fatalf("unexpected envelope error %v", resp.Err())
	}
}

func TestRegisterTimeoutRemovesEntry(t *testing.T) {
	r := New(Options{})
	call, err := r.Register("ping", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := call.Wait(ctx); !errors.Is(err, rpckit.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if r.Pending(call.ID) {
		t.Fatal("timed out call must leave the registry")
	}
	if r.Resolve(&models.Response{ID: call.ID, Result: []byte("1")}) {
		t.Fatal("late response must be treated as unknown")
	}
}

func TestResolveStopsTimer(t *testing.T) {
	r := New(Options{})
	call, _ := r.Register("ping", 30*time.Millisecond)
	r.Resolve(&models.Response{ID: call.ID, Result: []byte(`"pong"`)})
	time.Sleep(60 * time.Millisecond)

	resp, err := call.Wait(context.Background())
	if err != nil || string(resp.Result) != `"pong"` {
		t.Fatalf("unexpected outcome resp=%v err=%v", resp, err)
	}
}

func TestCloseAllRejectsPendingAndRefusesNewCalls(t *testing.T) {
	r := New(Options{})
	a, _ := r.Register("ping", 0)
	b, _ := r.Register("ping", 0)
	cause := &rpckit.TransportError{Op: "read", Err: errors.New("connection reset")}

	if n := r.CloseAll(cause); n != 2 {
		t.Fatalf("expected 2 rejected calls, got %d", n)
	}
	for _, call := range []*Call{a, b} {
		if !call.Completed() {
			t.Fatalf("call %d should be completed", call.ID)
		}
		if _, err := call.Wait(context.Background()); !errors.Is(err, cause) {
			t.Fatalf("expected transport error, got %v", err)
		}
	}
	if _, err := r.Register("ping", 0); !errors.Is(err, cause) {
		t.Fatalf("expected registration to fail after close, got %v", err)
	}
}

func TestWaitHonoursContextWithoutWithdrawing(t *testing.T) {
	r := New(Options{})
	call, _ := r.Register("ping", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := call.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if !r.Pending(call.ID) {
		t.Fatal("cancelled wait must leave the request pending")
	}
}
