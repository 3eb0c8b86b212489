package banlist

import (
	"fmt"
	"sort"
	"sync"
)

// Memory - список банов в памяти процесса.
type Memory struct {
	mu   sync.Mutex
	bans map[string]string
}

func NewMemory() *Memory {
	return &Memory{bans: make(map[string]string)}
}

func (m *Memory) Contains(addr string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bans[addr]
	return ok, nil
}

func (m *Memory) Add(addr, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bans[addr] = reason
	return nil
}

func (m *Memory) Remove(addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bans[addr]; !ok {
		return fmt.Errorf("%s is not banned", addr)
	}
	delete(m.bans, addr)
	return nil
}

func (m *Memory) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.bans))
	for addr, reason := range m.bans {
		out = append(out, format(addr, reason))
	}
	sort.Strings(out)
	return out, nil
}
