// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package queue

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-process Store implementation used in unit tests in
// place of a live Redis instance, matching SPEC_FULL.md §10.4.
type MemStore struct {
	mu       sync.Mutex
	lists    map[string][][]byte
	createdAt map[string]time.Time
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		lists:     make(map[string][][]byte),
		createdAt: make(map[string]time.Time),
	}
}

func (s *MemStore) RPush(_ context.Context, key string, items [][]byte) error {
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], items...)
	if _, ok := s.createdAt[key]; !ok {
		s.createdAt[key] = time.Now()
	}
	return nil
}

func (s *MemStore) PopAll(_ context.Context, key string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.lists[key]
	delete(s.lists, key)
	delete(s.createdAt, key)
	return items, nil
}

func (s *MemStore) Len(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key])), nil
}

func (s *MemStore) Age(_ context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.createdAt[key]
	if !ok {
		return 0, false, nil
	}
	return time.Since(t), true, nil
}

func (s *MemStore) ScanKeys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k, v := range s.lists {
		if len(v) == 0 {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *MemStore) NewPipeline() Pipeline {
	return &memPipeline{store: s}
}

type memPipeline struct {
	store *MemStore
	ops   []memOp
}

type memOp struct {
	key   string
	items [][]byte
}

func (p *memPipeline) RPush(_ context.Context, key string, items [][]byte) {
	if len(items) == 0 {
		return
	}
	p.ops = append(p.ops, memOp{key: key, items: items})
}

func (p *memPipeline) Commit(ctx context.Context) error {
	for _, op := range p.ops {
		if err := p.store.RPush(ctx, op.key, op.items); err != nil {
			return err
		}
	}
	p.ops = nil
	return nil
}
