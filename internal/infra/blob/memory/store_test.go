package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"plcserver/internal/blob/core"
)

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("driver = %s", s.Driver())
	}
	md := map[string]string{"table": "waterlevel"}
	info, err := s.Put(ctx, "history/waterlevel/1.csv", strings.NewReader("id\n"), core.PutOptions{ContentType: "text/csv", Metadata: md})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	md["table"] = "mutated"
	if info.Size != 3 || info.ETag == "" {
		t.Fatalf("info %+v", info)
	}
	if _, err := s.Put(ctx, "history/waterlevel/1.csv", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("duplicate put: %v", err)
	}
	if _, err := s.Put(ctx, " ", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("blank key: %v", err)
	}

	head, err := s.Head(ctx, "history/waterlevel/1.csv")
	if err != nil || head.Metadata["table"] != "waterlevel" {
		t.Fatalf("head %+v %v", head, err)
	}
	_, rc, err := s.Get(ctx, "history/waterlevel/1.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "id\n" {
		t.Fatalf("data %q", data)
	}

	ok, _ := s.Delete(ctx, "history/waterlevel/1.csv")
	if !ok {
		t.Fatalf("delete should report true")
	}
	ok, _ = s.Delete(ctx, "history/waterlevel/1.csv")
	if ok {
		t.Fatalf("second delete should report false")
	}
	if _, _, err := s.Get(ctx, "history/waterlevel/1.csv"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
	if _, err := s.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head missing: %v", err)
	}
}

func TestListPrefixOrdered(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, k := range []string{"b/2", "a/1", "b/1"} {
		if _, err := s.Put(ctx, k, strings.NewReader(k), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	got, err := s.List(ctx, "b/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Key != "b/1" || got[1].Key != "b/2" {
		t.Fatalf("list = %+v", got)
	}
}

func TestConcurrentPutsDistinctKeys(t *testing.T) {
	ctx := context.Background()
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Put(ctx, fmt.Sprintf("k/%02d", i), strings.NewReader("v"), core.PutOptions{})
		}(i)
	}
	wg.Wait()
	all, _ := s.List(ctx, "")
	if len(all) != 16 {
		t.Fatalf("expected 16 objects, got %d", len(all))
	}
}
