package server

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/chazu/lilium/store"
)

// newTestClient starts a Server behind httptest and returns a client for it.
func newTestClient(t *testing.T, opts ...Option) *ToolchainClient {
	t.Helper()
	s := New(opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
	})
	return NewToolchainClient(ts.Client(), ts.URL)
}

func openTestCache(t *testing.T) *store.ModuleCache {
	t.Helper()
	c, err := store.Open(filepath.Join(t.TempDir(), "modules.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}
