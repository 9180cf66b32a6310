// Package storage persists namespaced JSON documents locally and remotely.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Key names one of the documents kept per namespace.
type Key string

const (
	KeyDailyTasks     Key = "daily-tasks"
	KeySingleTasks    Key = "single-tasks"
	KeyCompletedTasks Key = "completed-tasks"
	KeyStatistics     Key = "statistics"
	KeyTimerStart     Key = "timer-start"
)

// AllKeys lists every document of a namespace in load order.
var AllKeys = []Key{KeyDailyTasks, KeySingleTasks, KeyCompletedTasks, KeyStatistics, KeyTimerStart}

// Valid reports whether k is one of AllKeys.
func (k Key) Valid() bool {
	for _, known := range AllKeys {
		if k == known {
			return true
		}
	}
	return false
}

// Namespace selects a storage partition: the guest partition or one account.
type Namespace struct {
	UserID string
}

// Guest is the anonymous local-only partition.
func Guest() Namespace { return Namespace{} }

// Account is the partition bound to userID.
func Account(userID string) Namespace { return Namespace{UserID: userID} }

// IsGuest reports whether ns is the guest partition.
func (ns Namespace) IsGuest() bool { return ns.UserID == "" }

// String is the partition name: "guest" or "user_<uid>".
func (ns Namespace) String() string {
	if ns.IsGuest() {
		return "guest"
	}
	return "user_" + ns.UserID
}

// ParseNamespace is the inverse of Namespace.String.
func ParseNamespace(s string) (Namespace, error) {
	if s == "guest" {
		return Guest(), nil
	}
	if uid, ok := strings.CutPrefix(s, "user_"); ok && uid != "" {
		return Account(uid), nil
	}
	return Namespace{}, fmt.Errorf("invalid namespace %q", s)
}

// Store loads and saves raw JSON documents. Load reports found=false for
// documents that were never saved.
type Store interface {
	Load(ctx context.Context, ns Namespace, key Key) (data []byte, found bool, err error)
	Save(ctx context.Context, ns Namespace, key Key, data []byte) error
}

// BulkLoader is implemented by stores that can fetch a whole namespace at once.
type BulkLoader interface {
	LoadAll(ctx context.Context, ns Namespace) (map[Key][]byte, error)
}

// ErrGuestNamespace is returned by remote stores, which only hold account data.
var ErrGuestNamespace = errors.New("guest namespace is local only")

// PersistenceError describes a failed load or save.
type PersistenceError struct {
	Op        string
	Namespace Namespace
	Key       Key
	Remote    bool
	Err       error
}

func (e *PersistenceError) Error() string {
	where := "local"
	if e.Remote {
		where = "remote"
	}
	if e.Key == "" {
		return fmt.Sprintf("%s %s %s: %v", where, e.Op, e.Namespace, e.Err)
	}
	return fmt.Sprintf("%s %s %s/%s: %v", where, e.Op, e.Namespace, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
