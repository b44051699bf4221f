package vm

import "sync"

// ---------------------------------------------------------------------------
// StringPool: Interned strings
// ---------------------------------------------------------------------------

// String is an immutable string handle. Interned handles are unique per
// engine, so identifiers compare by pointer.
type String struct {
	text     string
	id       uint32
	interned bool
}

// Text returns the string contents.
func (s *String) Text() string { return s.text }

// ID returns the pool id of an interned string.
func (s *String) ID() uint32 { return s.id }

// Interned reports whether s came from a StringPool.
func (s *String) Interned() bool { return s.interned }

func (s *String) String() string { return s.text }

// StringPool deduplicates identical strings into shared handles. Each engine
// owns one pool for its whole lifetime.
type StringPool struct {
	mu     sync.RWMutex
	byText map[string]*String // text -> handle
	byID   []*String          // ID -> handle
}

// NewStringPool creates a new empty pool.
func NewStringPool() *StringPool {
	return &StringPool{
		byText: make(map[string]*String),
		byID:   make([]*String, 0, 256),
	}
}

// Intern returns the handle for text, creating it if needed.
func (p *StringPool) Intern(text string) *String {
	// Fast path: read-only lookup
	p.mu.RLock()
	if s, ok := p.byText[text]; ok {
		p.mu.RUnlock()
		return s
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if s, ok := p.byText[text]; ok {
		return s
	}

	s := &String{text: text, id: uint32(len(p.byID)), interned: true}
	p.byText[text] = s
	p.byID = append(p.byID, s)
	return s
}

// Lookup returns the handle for text without creating one.
func (p *StringPool) Lookup(text string) (*String, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.byText[text]
	return s, ok
}

// ByID returns the handle with the given id, or nil if invalid.
func (p *StringPool) ByID(id uint32) *String {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if int(id) >= len(p.byID) {
		return nil
	}
	return p.byID[id]
}

// Len returns the number of interned strings.
func (p *StringPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

// All returns all interned strings in ID order.
func (p *StringPool) All() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]string, len(p.byID))
	for i, s := range p.byID {
		result[i] = s.text
	}
	return result
}

// Release drops every entry. Handles already handed out stay valid but are
// no longer shared with later Intern calls.
func (p *StringPool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byText = make(map[string]*String)
	p.byID = nil
}

// newString creates an uninterned handle for runtime string values.
func newString(text string) *String {
	return &String{text: text}
}
