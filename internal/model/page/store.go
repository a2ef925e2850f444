package page

// Store exposes the page catalog to handlers and the renderer.
type Store interface {
	List() []Page
	FindBySlug(slug string) (Page, bool)
	FindByLabel(label string) (Page, bool)
}

// MemoryStore implements Store over a fixed, ordered slice.
type MemoryStore struct {
	items []Page
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied pages.
func NewMemoryStore(items []Page) *MemoryStore {
	return &MemoryStore{items: append([]Page(nil), items...)}
}

// List returns pages in sidebar order.
func (s *MemoryStore) List() []Page {
	return append([]Page(nil), s.items...)
}

// FindBySlug looks up a page by its URL slug.
func (s *MemoryStore) FindBySlug(slug string) (Page, bool) {
	for _, item := range s.items {
		if item.Slug == slug {
			return item, true
		}
	}
	return Page{}, false
}

// FindByLabel looks up a page by the label shown in the selector.
func (s *MemoryStore) FindByLabel(label string) (Page, bool) {
	for _, item := range s.items {
		if item.Label == label {
			return item, true
		}
	}
	return Page{}, false
}
