package dataloader

import (
	"container/list"
	"fmt"
	"sync"
)

// Sample is one preprocessed dataset entry as held by the cache
type Sample struct {
	Data  []float32
	Shape []int
	Label []int32
}

// Bytes returns the in-memory payload size of the sample
func (s *Sample) Bytes() int {
	return 4 * (len(s.Data) + len(s.Label))
}

// CacheManager is an LRU cache of preprocessed samples keyed by dataset index
type CacheManager struct {
	mu          sync.RWMutex
	cache       map[int]*Sample
	lru         *list.List
	lruMap      map[int]*list.Element
	maxSize     int
	currentSize int

	// Statistics
	hits   int64
	misses int64
}

// NewCacheManager creates a cache holding at most maxSize samples
func NewCacheManager(maxSize int) *CacheManager {
	return &CacheManager{
		cache:   make(map[int]*Sample),
		lru:     list.New(),
		lruMap:  make(map[int]*list.Element),
		maxSize: maxSize,
	}
}

// NewCacheManagerForBytes sizes the cache so that samples of sampleBytes each
// fit into budget bytes.
func NewCacheManagerForBytes(budget uint64, sampleBytes int) (*CacheManager, error) {
	if sampleBytes <= 0 {
		return nil, fmt.Errorf("sample size must be positive, got %d", sampleBytes)
	}
	return NewCacheManager(int(budget / uint64(sampleBytes))), nil
}

// Get retrieves a sample from the cache
func (cm *CacheManager) Get(key int) (*Sample, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if s, exists := cm.cache[key]; exists {
		cm.lru.MoveToFront(cm.lruMap[key])
		cm.hits++
		return s, true
	}

	cm.misses++
	return nil, false
}

// Put adds a sample to the cache, evicting the least recently used entries
func (cm *CacheManager) Put(key int, s *Sample) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.maxSize <= 0 {
		return
	}
	if elem, exists := cm.lruMap[key]; exists {
		cm.lru.MoveToFront(elem)
		cm.cache[key] = s
		return
	}

	cm.lruMap[key] = cm.lru.PushFront(key)
	cm.cache[key] = s
	cm.currentSize++

	for cm.currentSize > cm.maxSize {
		cm.removeElement(cm.lru.Back())
	}
}

func (cm *CacheManager) removeElement(elem *list.Element) {
	key := elem.Value.(int)
	cm.lru.Remove(elem)
	delete(cm.lruMap, key)
	delete(cm.cache, key)
	cm.currentSize--
}

// Stats returns cache statistics
func (cm *CacheManager) Stats() CacheStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return CacheStats{
		Size:    cm.currentSize,
		MaxSize: cm.maxSize,
		Hits:    cm.hits,
		Misses:  cm.misses,
		HitRate: cm.calculateHitRate(),
	}
}

func (cm *CacheManager) calculateHitRate() float64 {
	total := cm.hits + cm.misses
	if total == 0 {
		return 0
	}
	return float64(cm.hits) / float64(total) * 100
}

// Clear drops every entry; statistics stay cumulative
func (cm *CacheManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.cache = make(map[int]*Sample)
	cm.lru = list.New()
	cm.lruMap = make(map[int]*list.Element)
	cm.currentSize = 0
}

// ResetStats resets the statistics
func (cm *CacheManager) ResetStats() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.hits = 0
	cm.misses = 0
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
