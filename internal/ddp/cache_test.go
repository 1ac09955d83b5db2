package ddp

import "testing"

type fakeSink struct {
	events []sinkEvent
}

type sinkEvent struct {
	kind       string
	collection string
	docID      string
	fields     CollectionEntry
	cleared    []string
}

func (f *fakeSink) emitCollectionEvent(kind, collection, docID string, fields CollectionEntry, cleared []string) {
	f.events = append(f.events, sinkEvent{kind, collection, docID, fields, cleared})
}

func TestCacheMgrAddedThenGet(t *testing.T) {
	sink := &fakeSink{}
	c := newCacheMgr(sink)

	c.handleAdded("posts", "p1", map[string]any{"title": "hello"})

	entry, ok := c.Get("posts", "p1")
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if entry["title"] != "hello" {
		t.Errorf("title = %v, want %q", entry["title"], "hello")
	}
	if len(sink.events) != 1 || sink.events[0].kind != "added" {
		t.Fatalf("expected one 'added' event, got %+v", sink.events)
	}
}

func TestCacheMgrGetReturnsCopy(t *testing.T) {
	sink := &fakeSink{}
	c := newCacheMgr(sink)
	c.handleAdded("posts", "p1", map[string]any{"title": "hello"})

	entry, _ := c.Get("posts", "p1")
	entry["title"] = "mutated"

	entry2, _ := c.Get("posts", "p1")
	if entry2["title"] != "hello" {
		t.Errorf("cache was mutated through a returned entry: %v", entry2["title"])
	}
}

func TestCacheMgrChangedMergesAndClears(t *testing.T) {
	sink := &fakeSink{}
	c := newCacheMgr(sink)
	c.handleAdded("posts", "p1", map[string]any{"title": "hello", "draft": true})

	c.handleChanged("posts", "p1", map[string]any{"title": "updated"}, []string{"draft"})

	entry, _ := c.Get("posts", "p1")
	if entry["title"] != "updated" {
		t.Errorf("title = %v, want %q", entry["title"], "updated")
	}
	if _, present := entry["draft"]; present {
		t.Error("cleared field 'draft' should be gone")
	}
}

func TestCacheMgrChangedNullFieldDeletes(t *testing.T) {
	sink := &fakeSink{}
	c := newCacheMgr(sink)
	c.handleAdded("posts", "p1", map[string]any{"title": "hello", "subtitle": "x"})

	c.handleChanged("posts", "p1", map[string]any{"subtitle": nil}, nil)

	entry, _ := c.Get("posts", "p1")
	if _, present := entry["subtitle"]; present {
		t.Error("field set to null in changed fields should be deleted, not stored as nil")
	}
}

func TestCacheMgrChangedOnMissingDocIsNoop(t *testing.T) {
	sink := &fakeSink{}
	c := newCacheMgr(sink)

	c.handleChanged("posts", "missing", map[string]any{"title": "x"}, nil)

	if _, ok := c.Get("posts", "missing"); ok {
		t.Error("changed on a missing document should not create it")
	}
	if len(sink.events) != 0 {
		t.Errorf("expected no emitted events for changed-on-missing, got %+v", sink.events)
	}
}

func TestCacheMgrRemoved(t *testing.T) {
	sink := &fakeSink{}
	c := newCacheMgr(sink)
	c.handleAdded("posts", "p1", map[string]any{"title": "hello"})

	c.handleRemoved("posts", "p1")

	if _, ok := c.Get("posts", "p1"); ok {
		t.Error("expected document to be removed")
	}

	// removed on an already-absent document still emits, per spec.
	c.handleRemoved("posts", "p1")
	removedCount := 0
	for _, e := range sink.events {
		if e.kind == "removed" {
			removedCount++
		}
	}
	if removedCount != 2 {
		t.Errorf("removed emitted %d times, want 2", removedCount)
	}
}
