package wisp

// LString is the interned, immutable byte-sequence string value
// (§3.2). Two strings interned through stringTable with equal content
// are pointer-equal. Compiler constants and some lookup keys are built
// without interning, so rawEqual compares string content, not pointers.
type LString struct {
	gcHeader
	bytes []byte
	hash  uint32
}

func (s *LString) Type() Type     { return TypeString }
func (s *LString) Truthy() bool   { return true }
func (s *LString) String() string { return string(s.bytes) }
func (s *LString) Bytes() []byte  { return s.bytes }
func (s *LString) Len() int       { return len(s.bytes) }

// stringHash implements the "seeded by length, sample every
// (len>>5)+1-th byte" rule from §3.2, bounding hashing cost on long
// strings.
func stringHash(b []byte) uint32 {
	h := uint32(len(b))
	step := (len(b) >> 5) + 1
	for i := len(b); i >= step; i -= step {
		h ^= (h << 5) + (h >> 2) + uint32(b[i-1])
	}
	return h
}

// stringBucket is a chained-hashing bucket: the string pool resizes
// automatically, doubling when the load factor crosses 1, matching
// §3.2's "chained hashing and automatic resize".
type stringBucket struct {
	entries []*LString
}

// stringTable is the global content-addressed string pool (§2, "String
// interner" component; §3.6 global state's "string intern table").
type stringTable struct {
	buckets []stringBucket
	count   int
	gc      *gc
}

func newStringTable(collector *gc) *stringTable {
	return &stringTable{
		buckets: make([]stringBucket, 32),
		gc:      collector,
	}
}

// intern returns the unique *LString with the given content, creating
// and registering one with the collector if none exists yet. This is
// the `intern(bytes, len)` operation of §3.2 and the law tested in
// §8.2: intern(s1) == intern(s2) iff bytes(s1) == bytes(s2).
func (t *stringTable) intern(b []byte) *LString {
	h := stringHash(b)
	idx := h & uint32(len(t.buckets)-1)
	bucket := &t.buckets[idx]
	for _, s := range bucket.entries {
		if s.hash == h && string(s.bytes) == string(b) {
			return s
		}
	}

	cp := make([]byte, len(b))
	copy(cp, b)
	s := &LString{bytes: cp, hash: h}
	t.gc.register(s)
	bucket.entries = append(bucket.entries, s)
	t.count++

	if t.count > len(t.buckets) {
		t.resize(len(t.buckets) * 2)
	}
	return s
}

func (t *stringTable) internString(s string) *LString {
	return t.intern([]byte(s))
}

func (t *stringTable) resize(newSize int) {
	newBuckets := make([]stringBucket, newSize)
	for _, bucket := range t.buckets {
		for _, s := range bucket.entries {
			idx := s.hash & uint32(newSize-1)
			newBuckets[idx].entries = append(newBuckets[idx].entries, s)
		}
	}
	t.buckets = newBuckets
}

// sweepStep walks one bucket (§4.3 Sweep-strings phase: "walk the
// string-intern table one bucket at a time per step"), freeing
// unmarked strings and recoloring survivors to the new current white.
// It returns false once every bucket has been swept this cycle.
func (t *stringTable) sweepStep(bucketIdx int, currentWhite gcColor) (more bool) {
	if bucketIdx >= len(t.buckets) {
		return false
	}
	bucket := &t.buckets[bucketIdx]
	live := bucket.entries[:0]
	for _, s := range bucket.entries {
		if s.color == colorWhite0 || s.color == colorWhite1 {
			if s.color != currentWhite {
				// Dead: this string was not reached this cycle.
				t.count--
				continue
			}
		}
		s.color = currentWhite
		live = append(live, s)
	}
	bucket.entries = live
	return bucketIdx+1 < len(t.buckets)
}
