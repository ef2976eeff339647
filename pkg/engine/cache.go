package engine

// DocumentCache maps external ids to the last known state of their documents.
//
// It has no eviction and no locking. All mutation happens from tasks running on
// a concurrency-1 WorkQueue or from the orchestrator goroutine itself.
type DocumentCache struct {
	docs map[string]*TargetDocument
}

// NewDocumentCache creates an empty cache.
func NewDocumentCache() *DocumentCache {
	return &DocumentCache{docs: make(map[string]*TargetDocument)}
}

// Get returns a copy of the cached document for externalID.
func (c *DocumentCache) Get(externalID string) (*TargetDocument, bool) {
	doc, ok := c.docs[externalID]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// Set stores a copy of doc. Documents without an external id are ignored.
func (c *DocumentCache) Set(doc *TargetDocument) {
	if doc == nil || doc.ExternalID == "" {
		return
	}
	c.docs[doc.ExternalID] = doc.Clone()
}

// SetAll stores every document in docs.
func (c *DocumentCache) SetAll(docs []TargetDocument) {
	for i := range docs {
		c.Set(&docs[i])
	}
}

// FindByHandle scans for a document of the given type and handle.
func (c *DocumentCache) FindByHandle(handle, docType string) (*TargetDocument, bool) {
	for _, doc := range c.docs {
		if doc.Handle == handle && doc.Type == docType {
			return doc.Clone(), true
		}
	}
	return nil, false
}

// Len returns the number of cached documents.
func (c *DocumentCache) Len() int {
	return len(c.docs)
}

// Reset drops every cached document.
func (c *DocumentCache) Reset() {
	c.docs = make(map[string]*TargetDocument)
}
