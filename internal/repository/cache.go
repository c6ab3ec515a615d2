package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"genie-chat/internal/domain"
)

// CachedLedger keeps each user's ownership entries in memory. Other processes
// write to the same backing table, so a cached set is only trusted for
// positive answers: Owns falls through to the backing ledger on a miss and
// ListByUser always reloads. Writes reach the cache only after the backing
// ledger accepted them. Operations for one user are serialized; different
// users proceed in parallel.
type CachedLedger struct {
	backing Ledger
	now     func() time.Time

	mu    sync.Mutex
	users map[string]*userEntries
}

type userEntries struct {
	mu     sync.Mutex
	loaded bool
	byConv map[string]domain.Ownership
}

// NewCachedLedger wraps backing with a per-process cache.
func NewCachedLedger(backing Ledger) (*CachedLedger, error) {
	if backing == nil {
		return nil, errors.New("repository: backing ledger must not be nil")
	}
	return &CachedLedger{
		backing: backing,
		now:     time.Now,
		users:   map[string]*userEntries{},
	}, nil
}

// user returns the locked entry for userID; the caller must unlock it.
func (l *CachedLedger) user(userID string) *userEntries {
	key := strings.ToLower(strings.TrimSpace(userID))
	l.mu.Lock()
	u, ok := l.users[key]
	if !ok {
		u = &userEntries{byConv: map[string]domain.Ownership{}}
		l.users[key] = u
	}
	l.mu.Unlock()
	u.mu.Lock()
	return u
}

func (l *CachedLedger) Record(ctx context.Context, userID, conversationID, title string) error {
	u := l.user(userID)
	defer u.mu.Unlock()
	if err := l.backing.Record(ctx, userID, conversationID, title); err != nil {
		return err
	}
	if _, exists := u.byConv[conversationID]; u.loaded && !exists {
		now := l.now().UTC().Format(time.RFC3339)
		u.byConv[conversationID] = domain.Ownership{
			UserID:         userID,
			ConversationID: conversationID,
			Title:          title,
			CreatedAt:      now,
			LastActivity:   now,
		}
	}
	return nil
}

func (l *CachedLedger) Touch(ctx context.Context, userID, conversationID string) error {
	u := l.user(userID)
	defer u.mu.Unlock()
	if err := l.backing.Touch(ctx, userID, conversationID); err != nil {
		return err
	}
	if o, exists := u.byConv[conversationID]; exists {
		o.LastActivity = l.now().UTC().Format(time.RFC3339)
		u.byConv[conversationID] = o
	}
	return nil
}

func (l *CachedLedger) Remove(ctx context.Context, userID, conversationID string) error {
	u := l.user(userID)
	defer u.mu.Unlock()
	if err := l.backing.Remove(ctx, userID, conversationID); err != nil {
		return err
	}
	delete(u.byConv, conversationID)
	return nil
}

// ListByUser reloads the user's entries from the backing ledger and refreshes
// the cache with them.
func (l *CachedLedger) ListByUser(ctx context.Context, userID string) ([]domain.Ownership, error) {
	u := l.user(userID)
	defer u.mu.Unlock()
	u.loaded = false
	if err := l.load(ctx, userID, u); err != nil {
		return nil, err
	}
	out := make([]domain.Ownership, 0, len(u.byConv))
	for _, o := range u.byConv {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity != out[j].LastActivity {
			return out[i].LastActivity > out[j].LastActivity
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	return out, nil
}

func (l *CachedLedger) Owns(ctx context.Context, userID, conversationID string) (bool, error) {
	u := l.user(userID)
	defer u.mu.Unlock()
	if err := l.load(ctx, userID, u); err != nil {
		return false, err
	}
	if _, ok := u.byConv[conversationID]; ok {
		return true, nil
	}
	owned, err := l.backing.Owns(ctx, userID, conversationID)
	if err != nil || !owned {
		return false, err
	}
	u.byConv[conversationID] = domain.Ownership{UserID: userID, ConversationID: conversationID}
	return true, nil
}

// load fills u from the backing ledger once. u must be locked.
func (l *CachedLedger) load(ctx context.Context, userID string, u *userEntries) error {
	if u.loaded {
		return nil
	}
	owned, err := l.backing.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	u.byConv = make(map[string]domain.Ownership, len(owned))
	for _, o := range owned {
		u.byConv[o.ConversationID] = o
	}
	u.loaded = true
	return nil
}
