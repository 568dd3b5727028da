package store

import (
	"context"
	"sync"
	"time"

	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/types"
)

// MemoryLedgerStore 是 LedgerStore 的内存实现，用于测试与本地联调。
type MemoryLedgerStore struct {
	mu        sync.RWMutex
	masters   map[types.Pubkey][]*domain.Follower
	positions map[int64]map[types.Pubkey]*domain.Position
	processed map[types.Signature]struct{}
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		masters:   make(map[types.Pubkey][]*domain.Follower),
		positions: make(map[int64]map[types.Pubkey]*domain.Position),
		processed: make(map[types.Signature]struct{}),
	}
}

// AddFollowing 登记一条「跟随者跟踪主账户」的关系。
func (s *MemoryLedgerStore) AddFollowing(master types.Pubkey, follower *domain.Follower) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masters[master] = append(s.masters[master], follower)
}

func (s *MemoryLedgerStore) FollowedMasters(_ context.Context) ([]types.Pubkey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	masters := make([]types.Pubkey, 0, len(s.masters))
	for m := range s.masters {
		masters = append(masters, m)
	}
	return masters, nil
}

func (s *MemoryLedgerStore) FollowersOfMaster(_ context.Context, master types.Pubkey) ([]*domain.Follower, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	followers := make([]*domain.Follower, len(s.masters[master]))
	copy(followers, s.masters[master])
	return followers, nil
}

func (s *MemoryLedgerStore) GetPosition(_ context.Context, followerID int64, mint types.Pubkey) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[followerID][mint]
	if !ok {
		return nil, ErrPositionNotFound
	}
	clone := *pos
	return &clone, nil
}

func (s *MemoryLedgerStore) SavePosition(_ context.Context, pos *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.positions[pos.FollowerID] == nil {
		s.positions[pos.FollowerID] = make(map[types.Pubkey]*domain.Position)
	}
	clone := *pos
	s.positions[pos.FollowerID][pos.Mint] = &clone
	return nil
}

func (s *MemoryLedgerStore) ClosePosition(_ context.Context, followerID int64, mint types.Pubkey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[followerID][mint]
	if !ok {
		return ErrPositionNotFound
	}
	pos.Active = false
	pos.AmountRaw = 0
	pos.UpdatedAt = time.Now().Unix()
	return nil
}

func (s *MemoryLedgerStore) ActivePositions(_ context.Context, followerID int64) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	positions := make([]*domain.Position, 0)
	for _, pos := range s.positions[followerID] {
		if pos.Active {
			clone := *pos
			positions = append(positions, &clone)
		}
	}
	return positions, nil
}

func (s *MemoryLedgerStore) MarkProcessed(_ context.Context, sig types.Signature) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[sig]; ok {
		return false, nil
	}
	s.processed[sig] = struct{}{}
	return true, nil
}
