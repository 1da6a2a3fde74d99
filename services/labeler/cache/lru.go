// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"container/list"
	"strings"
)

// lruMap is a fixed-capacity map with least-recently-used eviction.
// Not safe for concurrent use; the owning Cache serializes access.
type lruMap struct {
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type lruEntry struct {
	key   string
	value any
}

func newLRUMap(capacity int) *lruMap {
	return &lruMap{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// get returns the value for key and promotes it to most recent.
func (m *lruMap) get(key string) (any, bool) {
	elem, ok := m.items[key]
	if !ok {
		return nil, false
	}
	m.ll.MoveToFront(elem)
	return elem.Value.(*lruEntry).value, true
}

// put inserts or replaces key and returns how many entries were evicted
// to stay within capacity.
func (m *lruMap) put(key string, value any) int {
	if elem, ok := m.items[key]; ok {
		elem.Value.(*lruEntry).value = value
		m.ll.MoveToFront(elem)
		return 0
	}

	m.items[key] = m.ll.PushFront(&lruEntry{key: key, value: value})

	evicted := 0
	for m.ll.Len() > m.capacity {
		oldest := m.ll.Back()
		if oldest == nil {
			break
		}
		m.ll.Remove(oldest)
		delete(m.items, oldest.Value.(*lruEntry).key)
		evicted++
	}
	return evicted
}

func (m *lruMap) remove(key string) bool {
	elem, ok := m.items[key]
	if !ok {
		return false
	}
	m.ll.Remove(elem)
	delete(m.items, key)
	return true
}

// removePatient removes every entry belonging to patient: the bare key
// and any key extending it past the delimiter. Entry "P12" never
// matches patient "P1".
func (m *lruMap) removePatient(patient, delim string) int {
	prefix := patient + delim
	removed := 0
	for key := range m.items {
		if key == patient || strings.HasPrefix(key, prefix) {
			m.remove(key)
			removed++
		}
	}
	return removed
}

// hasPatient reports whether any entry belongs to patient.
func (m *lruMap) hasPatient(patient, delim string) bool {
	if _, ok := m.items[patient]; ok {
		return true
	}
	prefix := patient + delim
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func (m *lruMap) clear() {
	m.ll.Init()
	m.items = make(map[string]*list.Element)
}

func (m *lruMap) len() int {
	return m.ll.Len()
}

// keysMRU returns the keys from most to least recently used.
func (m *lruMap) keysMRU() []string {
	keys := make([]string, 0, m.ll.Len())
	for elem := m.ll.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruEntry).key)
	}
	return keys
}
