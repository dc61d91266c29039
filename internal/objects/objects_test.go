package objects

import (
	"context"
	"sync"
	"testing"

	"github.com/lprior-repo/oya-sub008/internal/ids"
)

func TestGuardSerializesConcurrentAccess(t *testing.T) {
	obj := NewObject(ids.NewObjectID(), Serializable)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = obj.Guard(context.Background(), func(kv map[string]any) {
				n, _ := kv["count"].(int)
				kv["count"] = n + 1
			})
		}()
	}
	wg.Wait()

	got := obj.Snapshot()["count"]
	if got != 100 {
		t.Fatalf("count = %v, want 100 (guard must serialize writers)", got)
	}
}

func TestRegistryGetOrCreateReusesObject(t *testing.T) {
	reg := NewRegistry()
	id := ids.NewObjectID()
	a := reg.GetOrCreate(id, Serializable)
	b := reg.GetOrCreate(id, Serializable)
	if a != b {
		t.Fatal("GetOrCreate returned different objects for the same id")
	}
}
