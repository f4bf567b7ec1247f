// Package queue provides a multi-level list used as the backing structure
// for priority ordered queues.
package queue

import (
	"container/list"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MultiLevelList holds one FIFO list per level. Push and Pop are O(1);
// Remove and Insert are O(m) where m is the size of the level's list.
type MultiLevelList struct {
	sync.RWMutex
	mapLists     map[int]*list.List
	highestLevel int
	size         int
}

// ErrEmptyLevel is returned when the requested level holds no items.
var ErrEmptyLevel = errors.New("no items found in queue for given level")

// NewMultiLevelList initializes the multi level list.
func NewMultiLevelList() *MultiLevelList {
	return &MultiLevelList{
		mapLists:     make(map[int]*list.List),
		highestLevel: math.MinInt32,
	}
}

// Push adds an item to the back of the list for the given level.
func (p *MultiLevelList) Push(level int, element interface{}) {
	p.Lock()
	defer p.Unlock()
	p.levelList(level).PushBack(element)
	p.size++
}

// PushFront adds an item to the front of the list for the given level.
func (p *MultiLevelList) PushFront(level int, element interface{}) {
	p.Lock()
	defer p.Unlock()
	p.levelList(level).PushFront(element)
	p.size++
}

// Insert places the item before the first element for which the before
// predicate returns true, or at the back when none matches.
func (p *MultiLevelList) Insert(
	level int,
	element interface{},
	before func(existing interface{}) bool) {
	p.Lock()
	defer p.Unlock()

	l := p.levelList(level)
	for e := l.Front(); e != nil; e = e.Next() {
		if before(e.Value) {
			l.InsertBefore(element, e)
			p.size++
			return
		}
	}
	l.PushBack(element)
	p.size++
}

// Pop removes and returns the front item for the given level.
func (p *MultiLevelList) Pop(level int) (interface{}, error) {
	p.Lock()
	defer p.Unlock()

	l, ok := p.mapLists[level]
	if !ok {
		return nil, ErrEmptyLevel
	}
	e := l.Front().Value
	l.Remove(l.Front())
	p.size--
	p.pruneLevel(level)
	return e, nil
}

// PeekItem returns the front item for the given level without removing it.
func (p *MultiLevelList) PeekItem(level int) (interface{}, error) {
	p.RLock()
	defer p.RUnlock()

	l, ok := p.mapLists[level]
	if !ok {
		return nil, ErrEmptyLevel
	}
	return l.Front().Value, nil
}

// Remove deletes the first item at the given level matched by the
// predicate. It returns true when an item was removed.
func (p *MultiLevelList) Remove(level int, match func(interface{}) bool) bool {
	p.Lock()
	defer p.Unlock()

	l, ok := p.mapLists[level]
	if !ok {
		return false
	}
	for e := l.Front(); e != nil; e = e.Next() {
		if match(e.Value) {
			l.Remove(e)
			p.size--
			p.pruneLevel(level)
			return true
		}
	}
	return false
}

// Scan visits items at the given level from front to back until the visit
// function returns false.
func (p *MultiLevelList) Scan(level int, visit func(interface{}) bool) {
	p.RLock()
	defer p.RUnlock()

	l, ok := p.mapLists[level]
	if !ok {
		return
	}
	for e := l.Front(); e != nil; e = e.Next() {
		if !visit(e.Value) {
			return
		}
	}
}

// Levels returns the non-empty levels in descending order.
func (p *MultiLevelList) Levels() []int {
	p.RLock()
	defer p.RUnlock()

	levels := make([]int, 0, len(p.mapLists))
	for level := range p.mapLists {
		levels = append(levels, level)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(levels)))
	return levels
}

// GetHighestLevel returns the highest non-empty level.
func (p *MultiLevelList) GetHighestLevel() int {
	p.RLock()
	defer p.RUnlock()
	return p.highestLevel
}

// Len returns the number of items at the given level.
func (p *MultiLevelList) Len(level int) int {
	p.RLock()
	defer p.RUnlock()
	if l, ok := p.mapLists[level]; ok {
		return l.Len()
	}
	return 0
}

// Size returns the total number of items across all levels.
func (p *MultiLevelList) Size() int {
	p.RLock()
	defer p.RUnlock()
	return p.size
}

// IsEmpty returns true when no level holds any item.
func (p *MultiLevelList) IsEmpty() bool {
	return p.Size() == 0
}

// levelList returns the list for the level, creating it when missing.
// Caller must hold the write lock.
func (p *MultiLevelList) levelList(level int) *list.List {
	l, ok := p.mapLists[level]
	if !ok {
		l = list.New()
		p.mapLists[level] = l
	}
	if level > p.highestLevel {
		p.highestLevel = level
	}
	return l
}

// pruneLevel drops an emptied level and recalculates the highest level.
// Caller must hold the write lock.
func (p *MultiLevelList) pruneLevel(level int) {
	if l, ok := p.mapLists[level]; ok && l.Len() == 0 {
		delete(p.mapLists, level)
		p.highestLevel = p.calculateHighestLevel()
	}
}

// calculateHighestLevel returns the highest level present in the list.
// Caller must hold the write lock.
func (p *MultiLevelList) calculateHighestLevel() int {
	level := math.MinInt32
	for key := range p.mapLists {
		if key > level {
			level = key
		}
	}
	return level
}
