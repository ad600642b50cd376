package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/darasa/core/user"
)

func (db *DB) CheckUsernameUniqueness(_ context.Context, username, email string, excludedUsers ...user.User) error {
	if err := db.track("CheckUsernameUniqueness"); err != nil {
		return err
	}
	db.rlock()
	defer db.runlock()
	return db.checkUniqueness(username, email, excludedUsers...)
}

func (db *DB) checkUniqueness(username, email string, excludedUsers ...user.User) error {
	excluded := make(map[int]struct{}, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded[u.ID] = struct{}{}
	}
	for _, usr := range db.t.users {
		if _, ok := excluded[usr.ID]; ok {
			continue
		}
		if usr.Username == username {
			return user.ErrUsernameExists
		}
		if usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (db *DB) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	if err := db.track("CreateUser"); err != nil {
		return user.User{}, err
	}
	db.lock()
	defer db.unlock()

	if err := db.checkUniqueness(usr.Username, usr.Email); err != nil {
		return user.User{}, err
	}
	db.t.userSeq++
	usr.ID = db.t.userSeq
	db.t.users[usr.ID] = usr
	return usr, nil
}

func (db *DB) GetUserByID(_ context.Context, id int) (user.User, error) {
	if err := db.track("GetUserByID"); err != nil {
		return user.User{}, err
	}
	db.rlock()
	defer db.runlock()

	if usr, ok := db.t.users[id]; ok {
		return usr, nil
	}
	return user.User{}, user.ErrNotFound
}

func (db *DB) GetUserByUsernameOrEmail(_ context.Context, username string) (user.User, error) {
	if err := db.track("GetUserByUsernameOrEmail"); err != nil {
		return user.User{}, err
	}
	db.rlock()
	defer db.runlock()

	for _, usr := range db.t.users {
		if usr.Username == username || usr.Email == username {
			return usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (db *DB) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	if err := db.track("UpdateUser"); err != nil {
		return user.User{}, err
	}
	db.lock()
	defer db.unlock()

	orig, ok := db.t.users[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	if err := db.checkUniqueness(orig.Username, usr.Email, orig); err != nil {
		return user.User{}, err
	}
	// username, role & created_at are immutable
	orig.Name = usr.Name
	orig.Email = usr.Email
	orig.IsActive = usr.IsActive
	orig.LastLogin = usr.LastLogin
	orig.UpdatedAt = usr.UpdatedAt
	if usr.PasswordHash != nil {
		orig.PasswordHash = usr.PasswordHash
	}
	db.t.users[usr.ID] = orig
	return orig, nil
}

// QueryUsersByIDs implements batch.Repository.
func (db *DB) QueryUsersByIDs(_ context.Context, ids []int) ([]user.User, error) {
	if err := db.track("QueryUsersByIDs"); err != nil {
		return nil, err
	}
	db.rlock()
	defer db.runlock()

	users := make([]user.User, 0, len(ids))
	for _, id := range ids {
		if usr, ok := db.t.users[id]; ok {
			users = append(users, usr)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}
