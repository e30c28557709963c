package pool

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakePooled is a minimal PooledObject used to exercise PoolManager without
// depending on any envelope/pipeline type, keeping this package import-free
// of the layers that depend on it.
type fakePooled struct {
	ID       string
	returned bool
}

func (f *fakePooled) Reset()            { f.ID = "" }
func (f *fakePooled) SetReturned(b bool) { f.returned = b }
func (f *fakePooled) IsReturned() bool  { return f.returned }

func newFakePooled() any { return &fakePooled{} }

func TestNewPoolManager(t *testing.T) {
	pm := NewPoolManager()
	if pm == nil {
		t.Fatal("expected non-nil pool manager")
	}
	if pm.pools == nil {
		t.Error("expected pools map to be initialized")
	}
}

func TestRegisterPool(t *testing.T) {
	pm := NewPoolManager()

	err := pm.RegisterPool("test-pool", 10, newFakePooled)
	if err != nil {
		t.Fatalf("RegisterPool failed: %v", err)
	}

	err = pm.RegisterPool("test-pool", 10, newFakePooled)
	if err == nil {
		t.Error("expected error when registering duplicate pool")
	}
}

func TestRegisterPoolInvalidCapacity(t *testing.T) {
	pm := NewPoolManager()

	err := pm.RegisterPool("test-pool", 0, newFakePooled)
	if err == nil {
		t.Error("expected error for zero capacity")
	}

	err = pm.RegisterPool("test-pool", -1, newFakePooled)
	if err == nil {
		t.Error("expected error for negative capacity")
	}
}

func TestGetAndPut(t *testing.T) {
	pm := NewPoolManager()

	err := pm.RegisterPool("items", 5, newFakePooled)
	if err != nil {
		t.Fatalf("RegisterPool failed: %v", err)
	}

	ctx := context.Background()

	obj, err := pm.Get(ctx, "items")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if obj == nil {
		t.Fatal("expected non-nil object")
	}

	item, ok := obj.(*fakePooled)
	if !ok {
		t.Fatalf("expected *fakePooled, got %T", obj)
	}
	item.ID = "test-123"

	pm.Put("items", obj)

	obj2, err := pm.Get(ctx, "items")
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}

	item2, ok := obj2.(*fakePooled)
	if !ok {
		t.Fatalf("expected *fakePooled, got %T", obj2)
	}
	if item2.ID != "" {
		t.Errorf("expected reset ID, got %q", item2.ID)
	}

	pm.Put("items", obj2)
}

func TestGetNonExistentPool(t *testing.T) {
	pm := NewPoolManager()

	ctx := context.Background()
	_, err := pm.Get(ctx, "non-existent")
	if err == nil {
		t.Error("expected error for non-existent pool")
	}
	if err != nil && !errors.Is(err, ErrPoolNotRegistered) {
		t.Errorf("expected ErrPoolNotRegistered, got %v", err)
	}
}

func TestTryGet(t *testing.T) {
	pm := NewPoolManager()

	err := pm.RegisterPool("items", 2, newFakePooled)
	if err != nil {
		t.Fatalf("RegisterPool failed: %v", err)
	}

	obj, ok, err := pm.TryGet("items")
	if err != nil {
		t.Fatalf("TryGet failed: %v", err)
	}
	if !ok {
		t.Fatal("TryGet returned false")
	}
	if obj == nil {
		t.Fatal("expected non-nil object")
	}

	pm.Put("items", obj)
}

func TestGetMany(t *testing.T) {
	pm := NewPoolManager()

	err := pm.RegisterPool("items", 10, newFakePooled)
	if err != nil {
		t.Fatalf("RegisterPool failed: %v", err)
	}

	ctx := context.Background()

	objs, err := pm.GetMany(ctx, "items", 3)
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	if len(objs) != 3 {
		t.Errorf("expected 3 objects, got %d", len(objs))
	}
	for i, obj := range objs {
		if obj == nil {
			t.Errorf("object %d is nil", i)
		}
	}

	pm.PutMany("items", objs)
}

func TestGetManyZeroCount(t *testing.T) {
	pm := NewPoolManager()

	err := pm.RegisterPool("items", 10, newFakePooled)
	if err != nil {
		t.Fatalf("RegisterPool failed: %v", err)
	}

	ctx := context.Background()

	objs, err := pm.GetMany(ctx, "items", 0)
	if err != nil {
		t.Errorf("GetMany with 0 count failed: %v", err)
	}
	if len(objs) != 0 {
		t.Errorf("expected empty slice, got %d objects", len(objs))
	}
}

func TestTryPut(t *testing.T) {
	pm := NewPoolManager()

	err := pm.RegisterPool("items", 2, newFakePooled)
	if err != nil {
		t.Fatalf("RegisterPool failed: %v", err)
	}

	ctx := context.Background()

	obj, err := pm.Get(ctx, "items")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	ok, err := pm.TryPut("items", obj)
	if err != nil {
		t.Fatalf("TryPut failed: %v", err)
	}
	if !ok {
		t.Error("TryPut returned false")
	}
}

func TestShutdown(t *testing.T) {
	pm := NewPoolManager()

	err := pm.RegisterPool("items", 5, newFakePooled)
	if err != nil {
		t.Fatalf("RegisterPool failed: %v", err)
	}

	ctx := context.Background()

	obj, err := pm.Get(ctx, "items")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	pm.Put("items", obj)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pm.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	_, err = pm.Get(ctx, "items")
	if !errors.Is(err, ErrPoolManagerClosed) {
		t.Errorf("expected ErrPoolManagerClosed after shutdown, got %v", err)
	}
}
