package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/chazu/lilium/compiler"
	"github.com/chazu/lilium/vm"
)

func openCache(t *testing.T) *ModuleCache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache", "modules.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

const square = "(def sq (x) (* x x)) (sq 12)"

func TestCompileCachesModule(t *testing.T) {
	ctx := context.Background()
	c := openCache(t)

	m, hit, err := c.Compile(ctx, square)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Error("first compile reported a cache hit")
	}
	again, hit, err := c.Compile(ctx, square)
	if err != nil {
		t.Fatal(err)
	}
	if !hit || again != m {
		t.Errorf("second compile: hit=%v same=%v", hit, again == m)
	}

	v, err := vm.Execute(ctx, again)
	if err != nil || v != 144 {
		t.Errorf("cached module ran to %d, %v", v, err)
	}

	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCompileErrorNotStored(t *testing.T) {
	ctx := context.Background()
	c := openCache(t)

	_, _, err := c.Compile(ctx, "(nope 1)")
	if !errors.Is(err, compiler.ErrUndefinedFunction) {
		t.Fatalf("expected ErrUndefinedFunction, got %v", err)
	}
	if n, _ := c.Len(ctx); n != 0 {
		t.Errorf("Len = %d after failed compile", n)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "modules.db")

	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	m, err := compiler.Compile(square)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, square, m); err != nil {
		t.Fatal(err)
	}
	c.Close()

	c, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	got, hit, err := c.Get(ctx, square)
	if err != nil || !hit {
		t.Fatalf("Get after reopen: hit=%v err=%v", hit, err)
	}
	if got.Disassemble() != m.Disassemble() {
		t.Errorf("reloaded module differs:\n%s\nwant:\n%s", got.Disassemble(), m.Disassemble())
	}
}

func TestCorruptEntryDropped(t *testing.T) {
	ctx := context.Background()
	c := openCache(t)

	h := HashSource("1")
	if _, err := c.db.Exec("INSERT INTO modules (hash, module, size, created_at) VALUES (?, ?, 3, 0)", h.String(), []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	_, hit, err := c.Get(ctx, "1")
	if err != nil || hit {
		t.Fatalf("Get: hit=%v err=%v", hit, err)
	}
	if n, _ := c.Len(ctx); n != 0 {
		t.Errorf("corrupt entry kept, Len = %d", n)
	}
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	c := openCache(t)
	for _, src := range []string{"1", "2", square} {
		if _, _, err := c.Compile(ctx, src); err != nil {
			t.Fatal(err)
		}
	}
	n, err := c.Purge(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Purge removed %d, want 3", n)
	}
	if _, hit, _ := c.Get(ctx, square); hit {
		t.Error("purged module still served")
	}
}

func TestClosed(t *testing.T) {
	c := openCache(t)
	c.Close()
	if _, _, err := c.Get(context.Background(), "1"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := c.Purge(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestConcurrentCompile(t *testing.T) {
	ctx := context.Background()
	c := openCache(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := c.Compile(ctx, square); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if n, _ := c.Len(ctx); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestHashSource(t *testing.T) {
	if HashSource("a") == HashSource("b") {
		t.Error("distinct sources share a hash")
	}
	if len(HashSource("a").String()) != 64 {
		t.Error("hex hash should be 64 characters")
	}
}
