// Package leaderboard maintains the durable ranked list of participant scores.
package leaderboard

import (
	"fmt"
	"math"
	"sort"
	"sync"

	apperrors "github.com/tablearena/tablearena/internal/pkg/errors"
)

// Entry is one participant's aggregate score.
type Entry struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Store serializes read-modify-write cycles on a Backend. Reads go straight
// to the backend without taking the write lock.
type Store struct {
	backend Backend
	mu      sync.Mutex
}

// NewStore creates a store over backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Insert adds e, re-sorts and persists the full list. It fails with
// ALREADY_EXISTS when the name is taken, leaving the store unchanged.
func (s *Store) Insert(e Entry) ([]Entry, error) {
	if e.Name == "" {
		return nil, apperrors.ValidationError("leaderboard entry requires a name")
	}
	if math.IsNaN(e.Score) || math.IsInf(e.Score, 0) {
		return nil, apperrors.ValidationError(fmt.Sprintf("invalid score %v", e.Score))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.backend.Read()
	if err != nil {
		return nil, apperrors.StorageError("failed to read leaderboard", err)
	}
	if indexOf(entries, e.Name) >= 0 {
		return nil, apperrors.AlreadyExistsError(fmt.Sprintf("participant %q", e.Name))
	}

	entries = append(entries, e)
	sortEntries(entries)

	if err := s.backend.Write(entries); err != nil {
		return nil, apperrors.StorageError("failed to write leaderboard", err)
	}
	return cloneEntries(entries), nil
}

// Remove deletes the entry for name and persists the list. It fails with
// NOT_FOUND when there is no such entry.
func (s *Store) Remove(name string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.backend.Read()
	if err != nil {
		return nil, apperrors.StorageError("failed to read leaderboard", err)
	}
	i := indexOf(entries, name)
	if i < 0 {
		return nil, apperrors.NotFoundError(fmt.Sprintf("participant %q", name))
	}

	entries = append(entries[:i], entries[i+1:]...)
	if err := s.backend.Write(entries); err != nil {
		return nil, apperrors.StorageError("failed to write leaderboard", err)
	}
	return cloneEntries(entries), nil
}

// List returns a snapshot ordered by descending score.
func (s *Store) List() ([]Entry, error) {
	entries, err := s.backend.Read()
	if err != nil {
		return nil, apperrors.StorageError("failed to read leaderboard", err)
	}
	return entries, nil
}

// Contains reports whether name has an entry.
func (s *Store) Contains(name string) (bool, error) {
	entries, err := s.List()
	if err != nil {
		return false, err
	}
	return indexOf(entries, name) >= 0, nil
}

// Rank returns the 1-based position of name, or 0 when absent.
func (s *Store) Rank(name string) (int, error) {
	entries, err := s.List()
	if err != nil {
		return 0, err
	}
	return RankOf(entries, name), nil
}

// RankOf returns the 1-based position of name in entries, or 0.
func RankOf(entries []Entry, name string) int {
	return indexOf(entries, name) + 1
}

func indexOf(entries []Entry, name string) int {
	for i, e := range entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// sortEntries orders by descending score. Ties keep insertion order.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
}
