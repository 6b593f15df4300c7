package repository

import (
	"context"
	"strings"
	"sync"

	"realtime_chat_service/internal/chat/domain"

	"github.com/jackc/pgx/v4/pgxpool"
)

// UserDirectory identity provider lookups. Unknown ids resolve to a
// placeholder profile instead of an error.
type UserDirectory interface {
	Resolve(ctx context.Context, id string) (domain.UserProfile, error)
	ResolveMany(ctx context.Context, ids []string) (map[string]domain.UserProfile, error)
}

type pgUserDirectory struct {
	db *pgxpool.Pool
}

// NewPGUserDirectory reads the member table of the member service.
func NewPGUserDirectory(db *pgxpool.Pool) UserDirectory {
	return &pgUserDirectory{db: db}
}

// displayNameFromEmail local part of the address
func displayNameFromEmail(email, fallback string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return fallback
}

func (d *pgUserDirectory) Resolve(ctx context.Context, id string) (domain.UserProfile, error) {
	m, err := d.ResolveMany(ctx, []string{id})
	if err != nil {
		return domain.UserProfile{}, err
	}
	return m[id], nil
}

func (d *pgUserDirectory) ResolveMany(ctx context.Context, ids []string) (map[string]domain.UserProfile, error) {
	out := make(map[string]domain.UserProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := d.db.Query(ctx, "SELECT member_id, email FROM member WHERE member_id = ANY($1)", ids)
	if err != nil {
		return nil, domain.Transient("directory.resolve", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, email string
		if err := rows.Scan(&id, &email); err != nil {
			return nil, domain.Transient("directory.resolve", err)
		}
		out[id] = domain.UserProfile{ID: id, DisplayName: displayNameFromEmail(email, id), Email: email}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Transient("directory.resolve", err)
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			out[id] = domain.PlaceholderProfile(id)
		}
	}
	return out, nil
}

// MemoryUserDirectory static directory
type MemoryUserDirectory struct {
	mu       sync.RWMutex
	profiles map[string]domain.UserProfile
}

// NewMemoryUserDirectory .
func NewMemoryUserDirectory(profiles ...domain.UserProfile) *MemoryUserDirectory {
	d := &MemoryUserDirectory{profiles: make(map[string]domain.UserProfile)}
	for _, p := range profiles {
		d.profiles[p.ID] = p
	}
	return d
}

// Put adds or replaces a profile.
func (d *MemoryUserDirectory) Put(p domain.UserProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
}

func (d *MemoryUserDirectory) Resolve(_ context.Context, id string) (domain.UserProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.profiles[id]; ok {
		return p, nil
	}
	return domain.PlaceholderProfile(id), nil
}

func (d *MemoryUserDirectory) ResolveMany(ctx context.Context, ids []string) (map[string]domain.UserProfile, error) {
	out := make(map[string]domain.UserProfile, len(ids))
	for _, id := range ids {
		p, _ := d.Resolve(ctx, id)
		out[id] = p
	}
	return out, nil
}
