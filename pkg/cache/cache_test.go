package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBoundedBasicOperations(t *testing.T) {
	c, err := NewBounded[string, string](10)
	if err != nil {
		t.Fatalf("Unexpected error creating cache: %v", err)
	}

	// Get on empty cache
	if value, exists := c.Get("key1"); exists {
		t.Errorf("Expected cache miss, got value: %s", value)
	}

	// Set and Get
	if !c.Set("key1", "value1") {
		t.Error("Expected new entry creation")
	}
	if value, exists := c.Get("key1"); !exists || value != "value1" {
		t.Errorf("Expected 'value1', got value: %s, exists: %t", value, exists)
	}

	// Update
	if c.Set("key1", "value1_updated") {
		t.Error("Expected existing entry update")
	}
	if value, exists := c.Get("key1"); !exists || value != "value1_updated" {
		t.Errorf("Expected 'value1_updated', got value: %s, exists: %t", value, exists)
	}

	// Delete
	if !c.Delete("key1") {
		t.Error("Expected successful deletion")
	}
	if c.Delete("key1") {
		t.Error("Expected deletion failure for non-existent key")
	}
	if value, exists := c.Get("key1"); exists {
		t.Errorf("Expected cache miss after deletion, got value: %s", value)
	}
}

func TestBoundedSizeInvariant(t *testing.T) {
	const bound = 5
	c, err := NewBounded[string, int](bound)
	if err != nil {
		t.Fatalf("Unexpected error creating cache: %v", err)
	}

	for i := 0; i < 50; i++ {
		c.Set(fmt.Sprintf("key%d", i), i)
		if c.Size() > bound {
			t.Fatalf("Size invariant violated after set %d: size=%d bound=%d", i, c.Size(), bound)
		}
	}
	if c.Size() != bound {
		t.Errorf("Expected size %d, got %d", bound, c.Size())
	}
}

func TestBoundedEvictsLeastRecentlyUsed(t *testing.T) {
	var evictedKeys []string
	c, err := NewBounded(3, WithEvictionCallback(func(key string, _ int) {
		evictedKeys = append(evictedKeys, key)
	}))
	if err != nil {
		t.Fatalf("Unexpected error creating cache: %v", err)
	}

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Touch "a" so "b" becomes least recently used.
	c.Get("a")

	c.Set("d", 4)

	if len(evictedKeys) != 1 || evictedKeys[0] != "b" {
		t.Errorf("Expected eviction of 'b', got %v", evictedKeys)
	}
	if _, exists := c.Get("b"); exists {
		t.Error("Expected 'b' to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, exists := c.Get(key); !exists {
			t.Errorf("Expected '%s' to be retained", key)
		}
	}
}

func TestBoundedEvictionCallbackBeforeDrop(t *testing.T) {
	var callbackRan bool
	c, err := NewBounded(1, WithEvictionCallback(func(key string, value string) {
		callbackRan = true
		if key != "first" || value != "v1" {
			t.Errorf("Unexpected eviction of %s=%s", key, value)
		}
	}))
	if err != nil {
		t.Fatalf("Unexpected error creating cache: %v", err)
	}

	c.Set("first", "v1")
	c.Set("second", "v2")

	if !callbackRan {
		t.Error("Expected eviction callback to run synchronously during Set")
	}
	if _, exists := c.Get("first"); exists {
		t.Error("Expected evicted entry to be gone")
	}
}

func TestBoundedEvictionCallbackCompletesBeforeLookups(t *testing.T) {
	evicting := make(chan struct{})
	var released atomic.Bool
	c, err := NewBounded(1, WithEvictionCallback(func(string, string) {
		close(evicting)
		time.Sleep(50 * time.Millisecond)
		released.Store(true)
	}))
	if err != nil {
		t.Fatalf("Unexpected error creating cache: %v", err)
	}
	c.Set("first", "v1")

	// A lookup racing the eviction must wait until the callback has
	// released the evicted entry's resources.
	observed := make(chan bool)
	go func() {
		<-evicting
		c.Get("first")
		observed <- released.Load()
	}()

	c.Set("second", "v2")
	if !<-observed {
		t.Error("Expected concurrent lookup to block until the eviction callback finished")
	}
}

func TestBoundedClearInvokesCallbacks(t *testing.T) {
	evicted := make(map[string]bool)
	c, err := NewBounded(10, WithEvictionCallback(func(key string, _ int) {
		evicted[key] = true
	}))
	if err != nil {
		t.Fatalf("Unexpected error creating cache: %v", err)
	}

	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()

	if c.Size() != 0 {
		t.Errorf("Expected size 0 after clear, got %d", c.Size())
	}
	if !evicted["a"] || !evicted["b"] {
		t.Errorf("Expected callbacks for all cleared entries, got %v", evicted)
	}
}

func TestBoundedStructKeys(t *testing.T) {
	type identity struct {
		Type  string
		Value string
	}

	c, err := NewBounded[identity, string](4)
	if err != nil {
		t.Fatalf("Unexpected error creating cache: %v", err)
	}

	key := identity{Type: "c8y_Serial", Value: "dev-001"}
	c.Set(key, "12345")

	if value, exists := c.Get(identity{Type: "c8y_Serial", Value: "dev-001"}); !exists || value != "12345" {
		t.Errorf("Expected struct-key lookup to hit, got %s, exists: %t", value, exists)
	}
	if _, exists := c.Get(identity{Type: "c8y_Serial", Value: "dev-002"}); exists {
		t.Error("Expected distinct struct key to miss")
	}
}

func TestTenantIsolation(t *testing.T) {
	tc := NewTenant[string, int]()
	if err := tc.Init("tenantA", 5); err != nil {
		t.Fatalf("Unexpected error initializing tenantA: %v", err)
	}
	if err := tc.Init("tenantB", 5); err != nil {
		t.Fatalf("Unexpected error initializing tenantB: %v", err)
	}

	_ = tc.Put("tenantA", "shared-key", 1)
	_ = tc.Put("tenantB", "shared-key", 2)

	if v, _ := tc.Get("tenantA", "shared-key"); v != 1 {
		t.Errorf("tenantA expected 1, got %d", v)
	}
	if v, _ := tc.Get("tenantB", "shared-key"); v != 2 {
		t.Errorf("tenantB expected 2, got %d", v)
	}

	tc.Release("tenantA")
	if _, exists := tc.Get("tenantA", "shared-key"); exists {
		t.Error("Expected released tenant to be absent")
	}
	if v, _ := tc.Get("tenantB", "shared-key"); v != 2 {
		t.Errorf("tenantB must be unaffected by tenantA release, got %d", v)
	}
}

func TestTenantUninitializedPut(t *testing.T) {
	tc := NewTenant[string, int]()
	if err := tc.Put("ghost", "k", 1); err == nil {
		t.Error("Expected error putting into uninitialized tenant partition")
	}
}

func TestTenantClearRecreateWithSize(t *testing.T) {
	var evictions int
	tc := NewTenant(WithEvictionCallback(func(string, int) { evictions++ }))
	if err := tc.Init("t1", 10); err != nil {
		t.Fatalf("Unexpected error initializing tenant: %v", err)
	}

	for i := 0; i < 8; i++ {
		_ = tc.Put("t1", fmt.Sprintf("k%d", i), i)
	}

	if err := tc.Clear("t1", 3); err != nil {
		t.Fatalf("Unexpected error clearing with recreate: %v", err)
	}
	if evictions != 8 {
		t.Errorf("Expected 8 eviction callbacks on recreate, got %d", evictions)
	}
	if got := tc.MaxSize("t1"); got != 3 {
		t.Errorf("Expected recreated bound 3, got %d", got)
	}
	if got := tc.Size("t1"); got != 0 {
		t.Errorf("Expected empty recreated partition, got size %d", got)
	}
}

func TestTenantClearRecreateBlocksLookupsUntilDrained(t *testing.T) {
	clearing := make(chan struct{})
	var drained atomic.Bool
	tc := NewTenant(WithEvictionCallback(func(string, int) {
		close(clearing)
		time.Sleep(50 * time.Millisecond)
		drained.Store(true)
	}))
	if err := tc.Init("t1", 5); err != nil {
		t.Fatalf("Unexpected error initializing tenant: %v", err)
	}
	_ = tc.Put("t1", "k", 1)

	// A lookup racing the recreate must not repopulate the key while the
	// old partition is still being drained.
	observed := make(chan bool)
	go func() {
		<-clearing
		_, exists := tc.Get("t1", "k")
		observed <- drained.Load() && !exists
	}()

	if err := tc.Clear("t1", 3); err != nil {
		t.Fatalf("Unexpected error clearing with recreate: %v", err)
	}
	if !<-observed {
		t.Error("Expected concurrent lookup to miss only after the drain completed")
	}
}

func TestTenantConcurrentStress(t *testing.T) {
	tc := NewTenant[string, int]()
	tenants := []string{"alpha", "beta"}
	for _, tenant := range tenants {
		if err := tc.Init(tenant, 32); err != nil {
			t.Fatalf("Unexpected error initializing %s: %v", tenant, err)
		}
	}

	var wg sync.WaitGroup
	for i, tenant := range tenants {
		wg.Add(1)
		go func(tenant string, base int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				key := fmt.Sprintf("k%d", j%40)
				_ = tc.Put(tenant, key, base+j)
				tc.Get(tenant, key)
				if j%97 == 0 {
					tc.Remove(tenant, key)
				}
			}
		}(tenant, i*10000)
	}
	wg.Wait()

	for _, tenant := range tenants {
		if size := tc.Size(tenant); size > 32 {
			t.Errorf("Tenant %s exceeded bound: %d", tenant, size)
		}
	}
}
