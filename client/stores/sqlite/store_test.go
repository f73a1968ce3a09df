package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/iam-ankon/TADREACT-sub005/client"
)

func TestStore_GetSetDelete(t *testing.T) {
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Close()

	kv, err := store.ForOrigin("http://localhost:8000/api")
	if err != nil {
		t.Fatalf("ForOrigin() error = %v", err)
	}

	if v, err := kv.Get(client.AuthTokenKey); err != nil || v != "" {
		t.Fatalf("Get() = %q, %v; want empty", v, err)
	}

	if err := kv.Set(client.AuthTokenKey, "one"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := kv.Set(client.AuthTokenKey, "two"); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	if v, _ := kv.Get(client.AuthTokenKey); v != "two" {
		t.Errorf("Get() = %q, want two", v)
	}

	if err := kv.Delete(client.AuthTokenKey); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if v, _ := kv.Get(client.AuthTokenKey); v != "" {
		t.Errorf("Get() after Delete = %q", v)
	}
	if err := kv.Delete(client.AuthTokenKey); err != nil {
		t.Errorf("Delete() of missing key error = %v", err)
	}
}

func TestStore_OriginsAreIsolated(t *testing.T) {
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Close()

	a, _ := store.ForOrigin("http://localhost:8000")
	b, _ := store.ForOrigin("http://localhost:9000")
	a.Set(client.CSRFTokenKey, "a")
	b.Set(client.CSRFTokenKey, "b")

	if v, _ := a.Get(client.CSRFTokenKey); v != "a" {
		t.Errorf("origin a = %q", v)
	}
	if v, _ := b.Get(client.CSRFTokenKey); v != "b" {
		t.Errorf("origin b = %q", v)
	}
}

func TestStore_PersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")

	store1, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	kv1, _ := store1.ForOrigin("https://compliance.example.com")
	if err := kv1.Set(client.AuthTokenKey, "persisted"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	store1.Close()

	store2, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() reopen error = %v", err)
	}
	defer store2.Close()
	kv2, _ := store2.ForOrigin("https://compliance.example.com")
	if v, _ := kv2.Get(client.AuthTokenKey); v != "persisted" {
		t.Errorf("Get() = %q, want persisted", v)
	}
}
