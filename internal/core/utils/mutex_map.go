package utils

import (
	"errors"
	"fmt"
	"sync"
)

var ErrMutexMapFull = errors.New("mutex map is full")

// MutexMap hands out one mutex per key. Entries are freed once no goroutine
// holds or waits on the key. At most maxSize keys can be live at once.
type MutexMap struct {
	edit    sync.Mutex
	waiters map[string]int
	mutexes map[string]*sync.Mutex
	maxSize int
}

func NewMutexMap(maxSize int) *MutexMap {
	return &MutexMap{
		waiters: make(map[string]int),
		mutexes: make(map[string]*sync.Mutex),
		maxSize: maxSize,
	}
}

func (m *MutexMap) Lock(key string) error {
	m.edit.Lock()

	mu := m.mutexes[key]
	if mu == nil {
		if len(m.mutexes) >= m.maxSize {
			m.edit.Unlock()
			return ErrMutexMapFull
		}

		mu = &sync.Mutex{}
		m.mutexes[key] = mu
	}

	m.waiters[key]++
	m.edit.Unlock()

	mu.Lock()

	return nil
}

func (m *MutexMap) Unlock(key string) error {
	m.edit.Lock()
	defer m.edit.Unlock()

	mu := m.mutexes[key]
	if mu == nil {
		return fmt.Errorf("key %s not found", key)
	}

	mu.Unlock()
	m.waiters[key]--

	if m.waiters[key] == 0 {
		delete(m.mutexes, key)
		delete(m.waiters, key)
	}

	return nil
}

func (m *MutexMap) Len() int {
	m.edit.Lock()
	defer m.edit.Unlock()
	return len(m.mutexes)
}
