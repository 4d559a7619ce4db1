package store

import (
	"context"
	"sync"

	"journey-detector/internal/journey"
)

// Memory keeps encoded blobs in process memory. It is used for local runs
// and tests; nothing survives a restart.
type Memory struct {
	mu       sync.Mutex
	current  []byte
	archive  [][]byte
	archived map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{archived: make(map[string]struct{})}
}

func (m *Memory) SaveOpenJourney(_ context.Context, j *journey.Journey) error {
	b, err := Encode(j)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.current = b
	m.mu.Unlock()
	return nil
}

func (m *Memory) ClearOpenJourney(context.Context) error {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoadOpenJourney(context.Context) (*journey.Journey, error) {
	m.mu.Lock()
	b := m.current
	m.mu.Unlock()
	if b == nil {
		return nil, nil
	}
	return Decode(b)
}

func (m *Memory) AppendToArchive(_ context.Context, j *journey.Journey) error {
	b, err := Encode(j)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.archived[j.ID]; ok {
		return nil
	}
	m.archived[j.ID] = struct{}{}
	m.archive = append(m.archive, b)
	return nil
}

func (m *Memory) LoadArchive(context.Context) ([]*journey.Journey, error) {
	m.mu.Lock()
	blobs := make([][]byte, len(m.archive))
	copy(blobs, m.archive)
	m.mu.Unlock()

	out := make([]*journey.Journey, 0, len(blobs))
	for _, b := range blobs {
		j, err := Decode(b)
		if err != nil {
			return nil, Wrap(opLoadArchive, err)
		}
		out = append(out, j)
	}
	return out, nil
}
