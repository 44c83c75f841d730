package ruleset

// BloomFilter is the minimal interface the token index needs from a Bloom
// filter. A negative answer lets a lookup skip the token map entirely.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}

// BloomFactory constructs BloomFilters sized for capacity and target false
// positive rate.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}
