package vector

import (
	"context"
	"testing"
	"time"

	"github.com/hyperjump/raglite/internal/config"
)

func TestNewStore_Memory(t *testing.T) {
	for _, backend := range []string{"memory", ""} {
		s, err := NewStore(context.Background(), config.VectorConfig{Backend: backend})
		if err != nil {
			t.Fatalf("NewStore(%q): %v", backend, err)
		}
		if _, ok := s.(*MemoryStore); !ok {
			t.Errorf("NewStore(%q) = %T, want *MemoryStore", backend, s)
		}
		s.Close()
	}
}

func TestNewStore_Qdrant(t *testing.T) {
	s, err := NewStore(context.Background(), config.VectorConfig{Backend: "qdrant", QdrantURL: "http://localhost:6333", Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*QdrantStore); !ok {
		t.Errorf("got %T, want *QdrantStore", s)
	}
}

func TestNewStore_MissingSettings(t *testing.T) {
	if _, err := NewStore(context.Background(), config.VectorConfig{Backend: "qdrant"}); err == nil {
		t.Error("expected error for qdrant without url")
	}
	if _, err := NewStore(context.Background(), config.VectorConfig{Backend: "pgvector"}); err == nil {
		t.Error("expected error for pgvector without dsn")
	}
}

func TestNewStore_Unknown(t *testing.T) {
	if _, err := NewStore(context.Background(), config.VectorConfig{Backend: "faiss"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestTableName(t *testing.T) {
	a := TableName(CollectionName("acme", "0b6f1c7e-8f0b-4d8e-9a43-6f9f3c2d1e00"))
	b := TableName(CollectionName("acme", "0b6f1c7e-8f0b-4d8e-9a43-6f9f3c2d1e00"))
	if a != b {
		t.Error("table name must be deterministic")
	}
	if len(a) > 63 {
		t.Errorf("table name too long: %d", len(a))
	}
	if a == TableName(CollectionName("other", "0b6f1c7e-8f0b-4d8e-9a43-6f9f3c2d1e00")) {
		t.Error("tenants must map to different tables")
	}
}
