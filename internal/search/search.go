// Package search answers contact lookups from the cache or, on request,
// live from the support platform.
//
// Cached lookups list exact email matches first, then contacts whose name
// or email contains the name term, case-insensitively. The name term
// matching email addresses lets a partial address ("@acme") find
// contacts with no name set.
package search

import (
	"context"
	"strings"

	"github.com/matheus3301/deskcache/internal/cache"
	"github.com/matheus3301/deskcache/internal/model"
)

// Live runs a lookup against the support platform.
type Live interface {
	SearchContacts(ctx context.Context, email, name string) ([]model.Contact, error)
}

// Query selects contacts. Empty Email and Name match every contact.
type Query struct {
	Email string
	// Name is a substring matched against both name and email.
	Name string
	Live  bool
	// Limit caps the result; zero means no cap.
	Limit int
}

// Result is the answer to a Query.
type Result struct {
	Contacts []model.Contact `json:"contacts"`
	Count    int             `json:"count"`
	Live     bool            `json:"live"`
	// Cached is false when the contact collection was never refreshed.
	Cached bool `json:"cached"`
}

// Index searches the contact collection.
type Index struct {
	contacts *cache.Collection[model.Contact]
	live     Live
}

// New creates an index over contacts. live may be nil, in which case
// live queries fall back to the cache.
func New(contacts *cache.Collection[model.Contact], live Live) *Index {
	return &Index{contacts: contacts, live: live}
}

// SearchContacts runs q. Cached results list exact email matches first,
// then contacts whose name or email contains q.Name, in snapshot order.
func (x *Index) SearchContacts(ctx context.Context, q Query) (*Result, error) {
	if q.Live && x.live != nil {
		found, err := x.live.SearchContacts(ctx, q.Email, q.Name)
		if err != nil {
			return nil, err
		}
		return newResult(found, q.Limit, true, false), nil
	}

	snap, ok := x.contacts.Get()
	if !ok {
		return newResult(nil, 0, false, false), nil
	}
	return newResult(filter(snap, q), q.Limit, false, true), nil
}

func newResult(contacts []model.Contact, limit int, live, cached bool) *Result {
	if contacts == nil {
		contacts = []model.Contact{}
	}
	if limit > 0 && len(contacts) > limit {
		contacts = contacts[:limit]
	}
	return &Result{Contacts: contacts, Count: len(contacts), Live: live, Cached: cached}
}

func filter(snap *cache.Snapshot[model.Contact], q Query) []model.Contact {
	email := strings.ToLower(strings.TrimSpace(q.Email))
	name := strings.ToLower(strings.TrimSpace(q.Name))
	if email == "" && name == "" {
		return snap.Items()
	}

	var out []model.Contact
	seen := make(map[string]bool)
	if email != "" {
		snap.Each(func(c model.Contact) bool {
			if strings.ToLower(c.Email) == email {
				out = append(out, c)
				seen[c.ID] = true
			}
			return true
		})
	}
	if name != "" {
		snap.Each(func(c model.Contact) bool {
			if seen[c.ID] {
				return true
			}
			if strings.Contains(strings.ToLower(c.Name), name) || strings.Contains(strings.ToLower(c.Email), name) {
				out = append(out, c)
				seen[c.ID] = true
			}
			return true
		})
	}
	return out
}
