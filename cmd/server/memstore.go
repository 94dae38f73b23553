package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xtrntr/tradingplatform/internal/models"
)

// memoryStore keeps accounts in process when PERSISTENCE is off
type memoryStore struct {
	mu     sync.Mutex
	byName map[string]*models.User
	byAddr map[common.Address]struct{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		byName: make(map[string]*models.User),
		byAddr: make(map[common.Address]struct{}),
	}
}

func (s *memoryStore) CreateUser(ctx context.Context, username, passwordHash string, address common.Address) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[username]; ok {
		return nil, fmt.Errorf("username %q already taken", username)
	}
	if _, ok := s.byAddr[address]; ok {
		return nil, fmt.Errorf("address %s already registered", address.Hex())
	}
	user := &models.User{
		ID:           len(s.byName) + 1,
		Username:     username,
		PasswordHash: passwordHash,
		Address:      address,
		CreatedAt:    time.Now(),
	}
	s.byName[username] = user
	s.byAddr[address] = struct{}{}
	return user, nil
}

func (s *memoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byName[username]
	if !ok {
		return nil, fmt.Errorf("user %q not found", username)
	}
	return user, nil
}
