package receiver

import (
	"context"
	"errors"
	"testing"
)

func TestExtension_RunsTasksInOrder(t *testing.T) {
	ext := NewExtension()
	var order []int

	ext.WaitUntil(func(ctx context.Context) error {
		order = append(order, 1)
		// Work registered mid-flight still runs before the extension drains.
		ext.WaitUntil(func(ctx context.Context) error {
			order = append(order, 3)
			return nil
		})
		return nil
	})
	ext.WaitUntil(func(ctx context.Context) error {
		order = append(order, 2)
		return nil
	})

	if err := ext.Await(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []int{1, 2, 3}
	for i, v := range want {
		if order[i] != v {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
	if ext.Pending() {
		t.Error("drained extension should have no pending work")
	}
}

func TestExtension_CollectsAllErrors(t *testing.T) {
	ext := NewExtension()
	errFirst := errors.New("first")
	ran := false

	ext.WaitUntil(func(ctx context.Context) error { return errFirst })
	ext.WaitUntil(func(ctx context.Context) error {
		ran = true
		return nil
	})

	err := ext.Await(context.Background())
	if !errors.Is(err, errFirst) {
		t.Fatalf("expected first error preserved, got %v", err)
	}
	if !ran {
		t.Error("a failing task must not stop the rest")
	}
}
