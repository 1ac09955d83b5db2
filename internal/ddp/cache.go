package ddp

// CollectionEntry is one document's fields, copied out of the cache for
// external observers. Per spec.md §5, callers must not mutate cache
// entries; entries handed to callbacks are always copies.
type CollectionEntry map[string]any

func (e CollectionEntry) clone() CollectionEntry {
	out := make(CollectionEntry, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// cacheMgr maintains the per-collection document map and fans out
// added/changed/removed notifications through em. Touched only from
// the Client's dispatcher goroutine.
type cacheMgr struct {
	collections map[string]map[string]CollectionEntry
	em          eventSink
}

// eventSink is the minimal surface cacheMgr needs from the Facade's
// event emitter; kept narrow so cacheMgr has no dependency on Client.
type eventSink interface {
	emitCollectionEvent(kind, collection, docID string, fields CollectionEntry, cleared []string)
}

func newCacheMgr(em eventSink) *cacheMgr {
	return &cacheMgr{
		collections: make(map[string]map[string]CollectionEntry),
		em:          em,
	}
}

func (c *cacheMgr) docsFor(collection string) map[string]CollectionEntry {
	docs, ok := c.collections[collection]
	if !ok {
		docs = make(map[string]CollectionEntry)
		c.collections[collection] = docs
	}
	return docs
}

// Get returns a copy of the document at (collection, docID), and
// whether it exists.
func (c *cacheMgr) Get(collection, docID string) (CollectionEntry, bool) {
	docs, ok := c.collections[collection]
	if !ok {
		return nil, false
	}
	doc, ok := docs[docID]
	if !ok {
		return nil, false
	}
	return doc.clone(), true
}

// handleAdded applies an "added" message: set cache[collection][id] to
// fields (replacing any existing entry entirely), then emit.
func (c *cacheMgr) handleAdded(collection, docID string, fields map[string]any) {
	entry := CollectionEntry(fields)
	if entry == nil {
		entry = CollectionEntry{}
	}
	c.docsFor(collection)[docID] = entry
	c.em.emitCollectionEvent("added", collection, docID, entry.clone(), nil)
}

// handleChanged applies a "changed" message. Per spec.md §3, changed is
// a no-op if the entry doesn't exist. cleared keys are removed first,
// then fields are merged in, overwriting; a field whose merged value is
// JSON null is deleted rather than stored as null.
func (c *cacheMgr) handleChanged(collection, docID string, fields map[string]any, cleared []string) {
	docs, ok := c.collections[collection]
	if !ok {
		return
	}
	entry, ok := docs[docID]
	if !ok {
		return
	}

	for _, key := range cleared {
		delete(entry, key)
	}
	for k, v := range fields {
		if v == nil {
			delete(entry, k)
			continue
		}
		entry[k] = v
	}
	docs[docID] = entry

	c.em.emitCollectionEvent("changed", collection, docID, entry.clone(), cleared)
}

// handleRemoved applies a "removed" message: deletes the entry if
// present (a no-op otherwise) and always emits.
func (c *cacheMgr) handleRemoved(collection, docID string) {
	docs, ok := c.collections[collection]
	if ok {
		delete(docs, docID)
	}
	c.em.emitCollectionEvent("removed", collection, docID, nil, nil)
}
