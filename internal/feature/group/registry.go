// Package group provides the registry of monitored group chats and its
// persistence backends.
package group

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"tg_agent_bridge/internal/domain"
	"tg_agent_bridge/internal/logging"
)

// Persister stores full registry snapshots.
type Persister interface {
	Load(ctx context.Context) ([]domain.MonitoredGroup, error)
	Save(ctx context.Context, groups []domain.MonitoredGroup) error
	Ping(ctx context.Context) error
}

// Registry owns the ordered list of monitored groups. Mutations are
// serialized and committed to memory only after the persister accepted the
// new snapshot.
type Registry struct {
	mu        sync.RWMutex
	groups    []domain.MonitoredGroup
	persister Persister
	logger    *logrus.Entry
}

// Open loads the registry from the persister.
func Open(ctx context.Context, persister Persister, logger *logrus.Entry) (*Registry, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if persister == nil {
		return nil, errors.New("registry persister is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	groups, err := persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load monitored groups: %w", err)
	}

	logger.WithFields(logging.Fields{
		"event": "registry_loaded",
		"count": len(groups),
	}).Info("loaded monitored groups")

	return &Registry{
		groups:    groups,
		persister: persister,
		logger:    logger,
	}, nil
}

// FindByTitle returns the first group whose title matches name exactly.
func (r *Registry) FindByTitle(name string) (domain.MonitoredGroup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, g := range r.groups {
		if g.Title == name {
			return g, true
		}
	}

	return domain.MonitoredGroup{}, false
}

// Contains reports whether a group with the given id is monitored.
func (r *Registry) Contains(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.indexOf(id) >= 0
}

// List returns a copy of the registry snapshot in insertion order.
func (r *Registry) List() []domain.MonitoredGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.MonitoredGroup, len(r.groups))
	copy(out, r.groups)
	return out
}

// Count returns the number of monitored groups.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.groups)
}

// Ping checks the persistence backend.
func (r *Registry) Ping(ctx context.Context) error {
	return r.persister.Ping(ctx)
}

// Add appends the group unless one with the same id already exists. It
// reports whether the registry changed.
func (r *Registry) Add(ctx context.Context, g domain.MonitoredGroup) (bool, error) {
	if g.ID == 0 {
		return false, errors.New("chat id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(g.ID) >= 0 {
		return false, nil
	}

	next := append(r.snapshot(), normalize(g))
	if err := r.commit(ctx, next); err != nil {
		return false, err
	}

	r.logger.WithFields(logging.Fields{
		"event":   "group_registered",
		"chat_id": g.ID,
		"title":   g.Title,
	}).Info("registered monitored group")

	return true, nil
}

// Listen registers the group or refreshes the title and workspace/agent
// binding of an existing entry with the same id. It reports whether a new
// entry was created.
func (r *Registry) Listen(ctx context.Context, g domain.MonitoredGroup) (bool, error) {
	if g.ID == 0 {
		return false, errors.New("chat id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g = normalize(g)
	next := r.snapshot()
	idx := r.indexOf(g.ID)
	if idx >= 0 {
		if g.Title == "" {
			g.Title = next[idx].Title
		}
		next[idx] = g
	} else {
		next = append(next, g)
	}

	if err := r.commit(ctx, next); err != nil {
		return false, err
	}

	r.logger.WithFields(logging.Fields{
		"event":        "group_listen",
		"chat_id":      g.ID,
		"title":        g.Title,
		"workspace_id": g.WorkspaceID,
		"agent_id":     g.AgentID,
		"created":      idx < 0,
	}).Info("monitoring group")

	return idx < 0, nil
}

// Remove drops the group with the given id. It reports whether an entry was
// removed.
func (r *Registry) Remove(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(id) < 0 {
		return false, nil
	}

	next := make([]domain.MonitoredGroup, 0, len(r.groups))
	for _, g := range r.groups {
		if g.ID != id {
			next = append(next, g)
		}
	}

	if err := r.commit(ctx, next); err != nil {
		return false, err
	}

	r.logger.WithFields(logging.Fields{
		"event":   "group_removed",
		"chat_id": id,
	}).Info("removed monitored group")

	return true, nil
}

// commit must be called with mu held.
func (r *Registry) commit(ctx context.Context, next []domain.MonitoredGroup) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	if err := r.persister.Save(ctx, next); err != nil {
		return fmt.Errorf("save monitored groups: %w", err)
	}

	r.groups = next
	return nil
}

func (r *Registry) snapshot() []domain.MonitoredGroup {
	out := make([]domain.MonitoredGroup, len(r.groups), len(r.groups)+1)
	copy(out, r.groups)
	return out
}

func (r *Registry) indexOf(id int64) int {
	for i, g := range r.groups {
		if g.ID == id {
			return i
		}
	}
	return -1
}

func normalize(g domain.MonitoredGroup) domain.MonitoredGroup {
	g.Title = strings.TrimSpace(g.Title)
	g.WorkspaceID = strings.TrimSpace(g.WorkspaceID)
	g.AgentID = strings.TrimSpace(g.AgentID)
	return g
}
