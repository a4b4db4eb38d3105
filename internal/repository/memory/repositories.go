package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/repository"
)

func stamp(created, updated *time.Time) {
	if created.IsZero() {
		*created = time.Now()
	}
	if updated.IsZero() {
		*updated = *created
	}
}

// ---------------------------------------------------------------------------
// users
// ---------------------------------------------------------------------------

type userRepository struct {
	a access
}

func (r *userRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	out := *user
	err := r.a.write(func(st *state) error {
		if out.TelegramID != 0 {
			for _, u := range st.users {
				if u.TelegramID == out.TelegramID {
					return repository.ErrDuplicate
				}
			}
		}
		if emailTaken(st, out) {
			return repository.ErrDuplicate
		}
		out.ID = st.id()
		out.IsActive = true
		stamp(&out.CreatedAt, &out.UpdatedAt)
		st.users[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// emailTaken mirrors the case-insensitive unique index on users.email.
func emailTaken(st *state, user models.User) bool {
	if user.Email == "" {
		return false
	}
	for _, u := range st.users {
		if u.ID != user.ID && strings.EqualFold(u.Email, user.Email) {
			return true
		}
	}
	return false
}

func (r *userRepository) find(match func(u models.User) bool) (*models.User, error) {
	var found *models.User
	err := r.a.read(func(st *state) error {
		for _, u := range st.users {
			if match(u) {
				u := u
				found = &u
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *userRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return r.find(func(u models.User) bool { return u.TelegramID == telegramID })
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.find(func(u models.User) bool { return u.ID == id })
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.find(func(u models.User) bool {
		return u.TelegramUsername != "" && strings.EqualFold(u.TelegramUsername, username)
	})
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.find(func(u models.User) bool {
		return u.Email != "" && strings.EqualFold(u.Email, email)
	})
}

func (r *userRepository) LockByID(ctx context.Context, id int64) (*models.User, error) {
	return r.GetByID(ctx, id)
}

func (r *userRepository) Update(ctx context.Context, user *models.User) (*models.User, error) {
	out := *user
	err := r.a.write(func(st *state) error {
		if _, ok := st.users[out.ID]; !ok {
			return repository.ErrNotFound
		}
		if emailTaken(st, out) {
			return repository.ErrDuplicate
		}
		if out.UpdatedAt.IsZero() {
			out.UpdatedAt = time.Now()
		}
		st.users[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// plans
// ---------------------------------------------------------------------------

type planRepository struct {
	a access
}

func (r *planRepository) Create(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	out := *plan
	err := r.a.write(func(st *state) error {
		out.ID = st.id()
		stamp(&out.CreatedAt, &out.UpdatedAt)
		st.plans[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *planRepository) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	var found *models.Plan
	err := r.a.read(func(st *state) error {
		if p, ok := st.plans[id]; ok {
			found = &p
		}
		return nil
	})
	return found, err
}

func (r *planRepository) LockByID(ctx context.Context, id int64) (*models.Plan, error) {
	return r.GetByID(ctx, id)
}

func (r *planRepository) Update(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	out := *plan
	err := r.a.write(func(st *state) error {
		if _, ok := st.plans[out.ID]; !ok {
			return repository.ErrNotFound
		}
		if out.UpdatedAt.IsZero() {
			out.UpdatedAt = time.Now()
		}
		st.plans[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *planRepository) filter(match func(st *state, p models.Plan) bool, less func(a, b *models.Plan) bool) ([]*models.Plan, error) {
	var plans []*models.Plan
	err := r.a.read(func(st *state) error {
		for _, p := range st.plans {
			if match(st, p) {
				p := p
				plans = append(plans, &p)
			}
		}
		return nil
	})
	sort.Slice(plans, func(i, j int) bool {
		if less(plans[i], plans[j]) {
			return true
		}
		if less(plans[j], plans[i]) {
			return false
		}
		return plans[i].ID < plans[j].ID
	})
	return plans, err
}

func byStartDate(a, b *models.Plan) bool { return a.StartDate.Before(b.StartDate) }

func byEndDate(a, b *models.Plan) bool { return a.EndDate.Before(b.EndDate) }

func (r *planRepository) FindDueToStart(ctx context.Context, now time.Time, limit int) ([]*models.Plan, error) {
	plans, err := r.filter(func(_ *state, p models.Plan) bool { return p.IsDueToStart(now) }, byStartDate)
	return paginate(plans, limit, 0), err
}

func (r *planRepository) FindDueToComplete(ctx context.Context, now time.Time, limit int) ([]*models.Plan, error) {
	plans, err := r.filter(func(_ *state, p models.Plan) bool { return p.IsDueToComplete(now) }, byEndDate)
	return paginate(plans, limit, 0), err
}

func (r *planRepository) FindCurrentByUser(ctx context.Context, userID int64) (*models.Plan, error) {
	var found *models.Plan
	err := r.a.read(func(st *state) error {
		for _, m := range st.memberships {
			if m.UserID != userID || !m.Status.HoldsPlan() {
				continue
			}
			if p, ok := st.plans[m.PlanID]; ok && p.Status.IsCurrent() {
				found = &p
				return nil
			}
		}
		return nil
	})
	return found, err
}

func related(st *state, userID, planID int64) *models.Membership {
	for _, m := range st.memberships {
		if m.UserID == userID && m.PlanID == planID {
			return &m
		}
	}
	return nil
}

func (r *planRepository) ListDiscoverable(ctx context.Context, userID int64, filters repository.PlanFilters) ([]*models.Plan, error) {
	dest := strings.ToLower(strings.TrimSpace(filters.Destination))
	keyword := strings.ToLower(strings.TrimSpace(filters.Keyword))
	plans, err := r.filter(func(st *state, p models.Plan) bool {
		if !p.IsOpenForApplication() {
			return false
		}
		if dest != "" && !strings.Contains(strings.ToLower(p.Destination), dest) {
			return false
		}
		if keyword != "" && !matchesKeyword(p, keyword) {
			return false
		}
		return related(st, userID, p.ID) == nil
	}, byStartDate)
	return paginate(plans, filters.Limit, filters.Offset), err
}

func (r *planRepository) ListHistory(ctx context.Context, userID int64, filters repository.PlanFilters) ([]*models.Plan, error) {
	plans, err := r.filter(func(st *state, p models.Plan) bool {
		m := related(st, userID, p.ID)
		return m != nil && (p.Status.IsFinal() || m.Status.IsClosed())
	}, func(a, b *models.Plan) bool { return a.StartDate.After(b.StartDate) })
	return paginate(plans, filters.Limit, filters.Offset), err
}

// matchesKeyword reports whether the lower-cased keyword occurs in the
// plan's title, description or destination.
func matchesKeyword(p models.Plan, keyword string) bool {
	for _, field := range []string{p.Title, p.Description, p.Destination} {
		if strings.Contains(strings.ToLower(field), keyword) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// memberships
// ---------------------------------------------------------------------------

type membershipRepository struct {
	a access
}

func (r *membershipRepository) Create(ctx context.Context, m *models.Membership) (*models.Membership, error) {
	out := *m
	out.User = nil
	err := r.a.write(func(st *state) error {
		if related(st, out.UserID, out.PlanID) != nil {
			return repository.ErrDuplicate
		}
		out.ID = st.id()
		stamp(&out.CreatedAt, &out.UpdatedAt)
		st.memberships[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *membershipRepository) Get(ctx context.Context, userID, planID int64) (*models.Membership, error) {
	var found *models.Membership
	err := r.a.read(func(st *state) error {
		found = related(st, userID, planID)
		return nil
	})
	return found, err
}

func (r *membershipRepository) Update(ctx context.Context, m *models.Membership) (*models.Membership, error) {
	out := *m
	out.User = nil
	err := r.a.write(func(st *state) error {
		if _, ok := st.memberships[out.ID]; !ok {
			return repository.ErrNotFound
		}
		if out.UpdatedAt.IsZero() {
			out.UpdatedAt = time.Now()
		}
		st.memberships[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.User = m.User
	return &out, nil
}

func hasStatus(statuses []models.MembershipStatus, s models.MembershipStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (r *membershipRepository) CountByStatus(ctx context.Context, planID int64, statuses []models.MembershipStatus) (int, error) {
	n := 0
	err := r.a.read(func(st *state) error {
		for _, m := range st.memberships {
			if m.PlanID == planID && hasStatus(statuses, m.Status) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *membershipRepository) ListByPlan(ctx context.Context, planID int64, statuses []models.MembershipStatus) ([]*models.Membership, error) {
	var out []*models.Membership
	err := r.a.read(func(st *state) error {
		for _, m := range st.memberships {
			if m.PlanID != planID || !hasStatus(statuses, m.Status) {
				continue
			}
			m := m
			if u, ok := st.users[m.UserID]; ok {
				m.User = &u
			}
			out = append(out, &m)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (r *membershipRepository) HasCurrentPlan(ctx context.Context, userID int64) (bool, error) {
	found := false
	err := r.a.read(func(st *state) error {
		for _, m := range st.memberships {
			if m.UserID != userID || !m.Status.HoldsPlan() {
				continue
			}
			if p, ok := st.plans[m.PlanID]; ok && p.Status.IsCurrent() {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

// ---------------------------------------------------------------------------
// notifications
// ---------------------------------------------------------------------------

type notificationRepository struct {
	a access
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	out := *n
	err := r.a.write(func(st *state) error {
		out.ID = st.id()
		stamp(&out.CreatedAt, &out.UpdatedAt)
		st.notifications[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *notificationRepository) Update(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	out := *n
	err := r.a.write(func(st *state) error {
		if _, ok := st.notifications[out.ID]; !ok {
			return repository.ErrNotFound
		}
		st.notifications[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *notificationRepository) list(match func(n models.Notification) bool, newestFirst bool, limit int) ([]*models.Notification, error) {
	var out []*models.Notification
	err := r.a.read(func(st *state) error {
		for _, n := range st.notifications {
			if match(n) {
				n := n
				out = append(out, &n)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, limit, 0), err
}

func (r *notificationRepository) ListRetryable(ctx context.Context, limit int) ([]*models.Notification, error) {
	return r.list(func(n models.Notification) bool { return n.CanRetry() }, false, limit)
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Notification, error) {
	return r.list(func(n models.Notification) bool { return n.UserID == userID }, true, limit)
}
