package storage

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Documents is the raw content of a namespace, keyed by document.
type Documents map[Key][]byte

// Source names where a namespace load was served from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
	SourceNone   Source = "none"
)

// LoadResult is the outcome of a namespace load. Warnings carry the
// *PersistenceError values that forced a fallback.
type LoadResult struct {
	Namespace Namespace
	Docs      Documents
	Source    Source
	Warnings  []error
}

// Gateway routes persistence between the local store and an optional remote
// store. Account namespaces are read remote-first with local fallback; the
// guest namespace never leaves the local store.
type Gateway struct {
	local   Store
	remote  Store
	timeout time.Duration
	logger  *slog.Logger
}

// NewGateway builds a gateway. remote may be nil for local-only operation.
func NewGateway(local, remote Store, timeout time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{local: local, remote: remote, timeout: timeout, logger: logger}
}

// HasRemote reports whether a remote store is configured.
func (g *Gateway) HasRemote() bool {
	return g.remote != nil
}

func (g *Gateway) usesRemote(ns Namespace) bool {
	return g.remote != nil && !ns.IsGuest()
}

func (g *Gateway) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// LoadNamespace reads every document of ns. It never fails: a remote failure
// falls back to the local copy and a local failure yields an empty namespace,
// each recorded as a warning.
func (g *Gateway) LoadNamespace(ctx context.Context, ns Namespace) LoadResult {
	result := LoadResult{Namespace: ns}

	if g.usesRemote(ns) {
		rctx, cancel := g.remoteContext(ctx)
		docs, err := loadDocuments(rctx, g.remote, ns)
		cancel()
		if err == nil {
			result.Docs, result.Source = docs, SourceRemote
			return result
		}
		perr := &PersistenceError{Op: "load", Namespace: ns, Remote: true, Err: err}
		g.logger.Warn("remote load failed, falling back to local", "namespace", ns.String(), "error", err)
		result.Warnings = append(result.Warnings, perr)
	}

	docs, err := loadDocuments(ctx, g.local, ns)
	if err != nil {
		perr := &PersistenceError{Op: "load", Namespace: ns, Err: err}
		g.logger.Error("local load failed", "namespace", ns.String(), "error", err)
		result.Warnings = append(result.Warnings, perr)
		result.Docs, result.Source = Documents{}, SourceNone
		return result
	}
	result.Docs, result.Source = docs, SourceLocal
	return result
}

func loadDocuments(ctx context.Context, store Store, ns Namespace) (Documents, error) {
	if bulk, ok := store.(BulkLoader); ok {
		docs, err := bulk.LoadAll(ctx, ns)
		if err != nil {
			return nil, err
		}
		out := make(Documents, len(docs))
		for k, v := range docs {
			if k.Valid() {
				out[k] = v
			}
		}
		return out, nil
	}

	bodies := make([][]byte, len(AllKeys))
	found := make([]bool, len(AllKeys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range AllKeys {
		g.Go(func() error {
			body, ok, err := store.Load(gctx, ns, key)
			if err != nil {
				return &PersistenceError{Op: "load", Namespace: ns, Key: key, Err: err}
			}
			bodies[i], found[i] = body, ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(Documents, len(AllKeys))
	for i, key := range AllKeys {
		if found[i] {
			out[key] = bodies[i]
		}
	}
	return out, nil
}

// SaveLocal writes to the local store.
func (g *Gateway) SaveLocal(ctx context.Context, ns Namespace, key Key, data []byte) error {
	if err := g.local.Save(ctx, ns, key, data); err != nil {
		return &PersistenceError{Op: "save", Namespace: ns, Key: key, Err: err}
	}
	return nil
}

// SaveRemote writes to the remote store. It is a no-op for the guest
// namespace and when no remote is configured.
func (g *Gateway) SaveRemote(ctx context.Context, ns Namespace, key Key, data []byte) error {
	if !g.usesRemote(ns) {
		return nil
	}
	rctx, cancel := g.remoteContext(ctx)
	defer cancel()
	if err := g.remote.Save(rctx, ns, key, data); err != nil {
		return &PersistenceError{Op: "save", Namespace: ns, Key: key, Remote: true, Err: err}
	}
	return nil
}
