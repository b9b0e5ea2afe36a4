// Package memstore is an in-memory store.CredentialStore. Transactions work on
// a copy of the data that replaces the committed state only when the callback
// succeeds, so rollback behaviour matches the Postgres store. Transactions are
// serialized; fn must only use the repositories it is handed.
package memstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/store"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	ventity "github.com/ovaphlow/pitchfork/service-auth-go/internal/verification/entity"
)

var errNoUser = errors.New("memstore: user does not exist")

type state struct {
	users     map[int64]entity.User
	tokens    map[int64]ventity.Token
	nextUser  int64
	nextToken int64
}

func newState() *state {
	return &state{users: map[int64]entity.User{}, tokens: map[int64]ventity.Token{}}
}

func (s *state) clone() *state {
	c := &state{
		users:     make(map[int64]entity.User, len(s.users)),
		tokens:    make(map[int64]ventity.Token, len(s.tokens)),
		nextUser:  s.nextUser,
		nextToken: s.nextToken,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	return c
}

func (s *state) userByEmail(email string) (entity.User, bool) {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, true
		}
	}
	return entity.User{}, false
}

// Store holds the committed state.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

var _ store.CredentialStore = (*Store)(nil)

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

func (s *Store) Users() store.UserRepository   { return users{handle{s: s}} }
func (s *Store) Tokens() store.TokenRepository { return tokens{handle{s: s}} }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.st.clone()
	if err := fn(ctx, txRepos{handle{s: s, tx: snap}}); err != nil {
		return err
	}
	s.st = snap
	return nil
}

// CountUsers and CountTokens are test helpers.
func (s *Store) CountUsers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.users)
}

func (s *Store) CountTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.tokens)
}

type txRepos struct{ h handle }

func (t txRepos) Users() store.UserRepository   { return users{t.h} }
func (t txRepos) Tokens() store.TokenRepository { return tokens{t.h} }

// handle runs an operation either inside a transaction snapshot or against
// the committed state under the store lock.
type handle struct {
	s  *Store
	tx *state
}

func (h handle) do(fn func(st *state) error) error {
	if h.tx != nil {
		return fn(h.tx)
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return fn(h.s.st)
}

type users struct{ h handle }

func (r users) Create(_ context.Context, u *entity.User) (int64, error) {
	err := r.h.do(func(st *state) error {
		if _, ok := st.userByEmail(u.Email); ok {
			return store.ErrDuplicateEmail
		}
		st.nextUser++
		now := r.h.s.now()
		u.ID, u.CreatedAt, u.UpdatedAt = st.nextUser, now, now
		st.users[u.ID] = *u
		return nil
	})
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

func (r users) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	var out *entity.User
	err := r.h.do(func(st *state) error {
		u, ok := st.userByEmail(email)
		if !ok {
			return store.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (r users) GetByID(_ context.Context, id int64) (*entity.User, error) {
	return r.get(id, func(entity.User) bool { return true })
}

func (r users) GetActiveByID(_ context.Context, id int64, requireVerified bool) (*entity.User, error) {
	return r.get(id, func(u entity.User) bool {
		return u.IsActive && (u.IsVerified || !requireVerified)
	})
}

func (r users) get(id int64, match func(entity.User) bool) (*entity.User, error) {
	var out *entity.User
	err := r.h.do(func(st *state) error {
		u, ok := st.users[id]
		if !ok || !match(u) {
			return store.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (r users) update(id int64, fn func(u *entity.User)) error {
	return r.h.do(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return store.ErrNotFound
		}
		fn(&u)
		st.users[id] = u
		return nil
	})
}

func (r users) MarkVerified(_ context.Context, id int64) error {
	return r.update(id, func(u *entity.User) {
		u.IsVerified = true
		u.UpdatedAt = r.h.s.now()
	})
}

func (r users) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	return r.update(id, func(u *entity.User) { u.LastLogin = &at })
}

func (r users) UpdatePassword(_ context.Context, id int64, hash, algo string) error {
	return r.update(id, func(u *entity.User) {
		u.PasswordHash, u.PasswordAlgo = hash, algo
		u.UpdatedAt = r.h.s.now()
	})
}

func (r users) UpdateProfile(_ context.Context, id int64, upd entity.ProfileUpdate) error {
	if upd.Empty() {
		return errors.New("update profile: no fields")
	}
	return r.update(id, func(u *entity.User) {
		if upd.Name != nil {
			u.Name = *upd.Name
		}
		if upd.Phone != nil {
			v := *upd.Phone
			u.Phone = &v
		}
		if upd.Address != nil {
			v := *upd.Address
			u.Address = &v
		}
		if upd.Organization != nil {
			v := *upd.Organization
			u.Organization = &v
		}
		u.UpdatedAt = r.h.s.now()
	})
}

func (r users) Delete(_ context.Context, id int64) error {
	return r.h.do(func(st *state) error {
		if _, ok := st.users[id]; !ok {
			return store.ErrNotFound
		}
		delete(st.users, id)
		for tid, t := range st.tokens {
			if t.UserID == id {
				delete(st.tokens, tid)
			}
		}
		return nil
	})
}

type tokens struct{ h handle }

func (r tokens) Insert(_ context.Context, t *ventity.Token) (int64, error) {
	err := r.h.do(func(st *state) error {
		if _, ok := st.users[t.UserID]; !ok {
			return errNoUser
		}
		st.nextToken++
		t.ID, t.CreatedAt = st.nextToken, r.h.s.now()
		st.tokens[t.ID] = *t
		return nil
	})
	if err != nil {
		return 0, err
	}
	return t.ID, nil
}

func (r tokens) Consume(_ context.Context, hash string, now time.Time) (int64, error) {
	var userID int64
	err := r.h.do(func(st *state) error {
		for id, t := range st.tokens {
			if t.TokenHash != hash || t.Used() || t.Expired(now) {
				continue
			}
			at := now
			t.UsedAt = &at
			st.tokens[id] = t
			userID = t.UserID
			return nil
		}
		return store.ErrNotFound
	})
	return userID, err
}

func (r tokens) FindByHash(_ context.Context, hash string) (*ventity.Token, error) {
	var out *ventity.Token
	err := r.h.do(func(st *state) error {
		for _, t := range st.tokens {
			if t.TokenHash == hash {
				out = &t
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

func (r tokens) RevokeForUser(_ context.Context, userID, keepID int64, now time.Time) error {
	return r.h.do(func(st *state) error {
		for id, t := range st.tokens {
			if t.UserID == userID && id != keepID && !t.Used() {
				at := now
				t.UsedAt = &at
				st.tokens[id] = t
			}
		}
		return nil
	})
}

func (r tokens) Delete(_ context.Context, id int64) error {
	return r.h.do(func(st *state) error {
		delete(st.tokens, id)
		return nil
	})
}
