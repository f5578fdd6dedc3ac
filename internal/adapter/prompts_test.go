package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

func TestPromptRegistry_RegisterResolve(t *testing.T) {
	r := newPromptRegistry()
	id, ch, err := r.register()
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if !r.resolve(id, promptAnswer{Action: "accept", Inputs: []string{"yes"}}) {
		t.Fatal("resolve reported unknown id")
	}
	ans := <-ch
	if ans.Action != "accept" || len(ans.Inputs) != 1 {
		t.Errorf("answer = %+v", ans)
	}

	// Each id resolves at most once.
	if r.resolve(id, promptAnswer{}) {
		t.Error("second resolve succeeded")
	}
}

func TestPromptRegistry_UnknownIDIgnored(t *testing.T) {
	r := newPromptRegistry()
	if r.resolve("nope", promptAnswer{}) {
		t.Error("unknown id resolved")
	}
}

func TestPromptRegistry_PendingLimit(t *testing.T) {
	r := newPromptRegistry()
	ids := make([]string, 0, maxPendingPrompts)
	for i := 0; i < maxPendingPrompts; i++ {
		id, _, err := r.register()
		if err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	if _, _, err := r.register(); gwerrors.CodeOf(err) != "too_many_prompts" {
		t.Fatalf("over-limit register = %v", err)
	}

	// Dropping one frees a slot.
	r.drop(ids[0])
	if _, _, err := r.register(); err != nil {
		t.Errorf("register after drop: %v", err)
	}
}

func TestAwait_DeliversAnswer(t *testing.T) {
	r := newPromptRegistry()
	id, ch, _ := r.register()

	go r.resolve(id, promptAnswer{Action: "confirm"})
	ans, err := await(context.Background(), r, id, ch, time.Second)
	if err != nil || ans.Action != "confirm" {
		t.Errorf("await = (%+v, %v)", ans, err)
	}
}

func TestAwait_TimesOutAndDrops(t *testing.T) {
	r := newPromptRegistry()
	id, ch, _ := r.register()

	_, err := await(context.Background(), r, id, ch, 10*time.Millisecond)
	if gwerrors.CodeOf(err) != "prompt_timeout" {
		t.Fatalf("error = %v, want prompt_timeout", err)
	}
	if r.resolve(id, promptAnswer{}) {
		t.Error("timed-out prompt still registered")
	}
}

func TestAwait_ContextCancellation(t *testing.T) {
	r := newPromptRegistry()
	id, ch, _ := r.register()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := await(ctx, r, id, ch, time.Minute); err != context.Canceled {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if r.resolve(id, promptAnswer{}) {
		t.Error("cancelled prompt still registered")
	}
}

func TestAwait_ClampsTimeout(t *testing.T) {
	// A non-positive timeout uses the default rather than firing at once.
	r := newPromptRegistry()
	id, ch, _ := r.register()

	done := make(chan struct{})
	go func() {
		ans, err := await(context.Background(), r, id, ch, 0)
		if err != nil || ans.Action != "accept" {
			t.Errorf("await = (%+v, %v)", ans, err)
		}
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	r.resolve(id, promptAnswer{Action: "accept"})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("await did not return")
	}
}
