package lending

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/smartmoney/collection-engine/generic"
)

// =============================================================================
// ROUTES
// =============================================================================

// RouteChanges edits a route. Nil fields are left unchanged; a non-nil
// Collectors replaces the whole assignment list.
type RouteChanges struct {
	Name         *string
	Description  *string
	DefaultOrder *int
	Collectors   *[]OperatorID
}

// CreateRoute stores a new route. An explicit ID that already exists is
// rejected with ErrDuplicateID.
func (s *Service) CreateRoute(ctx context.Context, r Route) (*Route, error) {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return nil, generic.ErrInvalidRoute
	}
	if r.ID == "" {
		r.ID = RouteID(uuid.NewString())
	}
	if r.Date.IsZero() {
		r.Date = s.Now()
	}
	r.Collectors = uniqueOperators(r.Collectors)

	err := s.Store.WithTx(ctx, func(st Store) error {
		_, err := st.GetRoute(ctx, r.ID)
		switch {
		case err == nil:
			return fmt.Errorf("route %s: %w", r.ID, generic.ErrDuplicateID)
		case !generic.IsNotFound(err):
			return err
		}
		return st.SaveRoute(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("create route: %w", err)
	}

	s.Logger.InfoContext(ctx, "route created", "route", r.ID, "collectors", len(r.Collectors))
	return &r, nil
}

func (s *Service) UpdateRoute(ctx context.Context, id RouteID, ch RouteChanges) (*Route, error) {
	var updated Route
	err := s.Store.WithTx(ctx, func(st Store) error {
		r, err := st.GetRoute(ctx, id)
		if err != nil {
			return err
		}
		if ch.Name != nil {
			name := strings.TrimSpace(*ch.Name)
			if name == "" {
				return generic.ErrInvalidRoute
			}
			r.Name = name
		}
		if ch.Description != nil {
			r.Description = *ch.Description
		}
		if ch.DefaultOrder != nil {
			r.DefaultOrder = *ch.DefaultOrder
		}
		if ch.Collectors != nil {
			r.Collectors = uniqueOperators(*ch.Collectors)
		}
		updated = *r
		return st.SaveRoute(ctx, *r)
	})
	if err != nil {
		return nil, fmt.Errorf("update route %s: %w", id, err)
	}
	return &updated, nil
}

// DeleteRoute removes the route record only. Loans keep their route ID and
// position, so a route recreated under the same ID picks them up again.
func (s *Service) DeleteRoute(ctx context.Context, id RouteID) error {
	if err := s.Store.DeleteRoute(ctx, id); err != nil {
		return fmt.Errorf("delete route %s: %w", id, err)
	}
	s.Logger.InfoContext(ctx, "route deleted", "route", id)
	return nil
}

// uniqueOperators drops blanks and repeats, keeping first-seen order. The
// result is never nil.
func uniqueOperators(ops []OperatorID) []OperatorID {
	out := make([]OperatorID, 0, len(ops))
	seen := make(map[OperatorID]bool, len(ops))
	for _, op := range ops {
		if op == "" || seen[op] {
			continue
		}
		seen[op] = true
		out = append(out, op)
	}
	return out
}
