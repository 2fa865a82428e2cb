package cache

import (
	"context"
	"testing"
	"time"

	"reviewscout/internal/model"
)

func sampleArticles() []model.Article {
	return []model.Article{
		{ID: "pmid:1", Index: model.IndexPubMed, Title: "CRISPR screens", Authors: []string{"Smith JQ"}, Year: 2021},
	}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if got, err := c.Get(ctx, "pubmed", "q"); err != nil || got != nil {
		t.Fatalf("empty cache Get = %v, %v", got, err)
	}

	if err := c.Set(ctx, "pubmed", "q", sampleArticles(), time.Hour); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, err := c.Get(ctx, "pubmed", "q")
	if err != nil || got == nil || len(got.Articles) != 1 {
		t.Fatalf("Get after Set = %v, %v", got, err)
	}

	// 不同检索源互不影响
	if other, _ := c.Get(ctx, "arxiv", "q"); other != nil {
		t.Error("expected miss for a different source")
	}

	if err := c.Set(ctx, "pubmed", "old", sampleArticles(), -time.Second); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if expired, _ := c.Get(ctx, "pubmed", "old"); expired != nil {
		t.Error("expired entry should not be returned")
	}
}

func TestFileCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache error: %v", err)
	}

	key := `"Smith JQ"[Author] AND ("crispr"[Title/Abstract])`
	if err := c.Set(ctx, "pubmed", key, sampleArticles(), time.Hour); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, err := c.Get(ctx, "pubmed", key)
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if got.Articles[0].Title != "CRISPR screens" || got.Key != key {
		t.Errorf("unexpected cached result: %+v", got)
	}

	if err := c.Delete(ctx, "pubmed", key); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if got, _ := c.Get(ctx, "pubmed", key); got != nil {
		t.Error("expected miss after Delete")
	}
	if err := c.Delete(ctx, "pubmed", key); err != nil {
		t.Errorf("Delete of missing entry should not fail: %v", err)
	}
}
