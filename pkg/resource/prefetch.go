// Package resource resolves resource references in conversation messages
// before a turn starts, so the agent never sees an unresolved reference and
// never blocks on external I/O mid-stream.
package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"streamloop/pkg/types"
)

// FetchFunc fetches the body of one resource from a single server.
type FetchFunc func(ctx context.Context, uri string) ([]mcp.ResourceContents, error)

// Fetchers maps a server key to the function that reads its resources.
type Fetchers map[string]FetchFunc

// ErrInvalidReference is returned for a resource part without a server key or URI.
var ErrInvalidReference = errors.New("resource: invalid reference")

// UnknownServerError reports a reference to a server key with no fetcher.
type UnknownServerError struct {
	Ref types.ResourceRef
}

func (e *UnknownServerError) Error() string {
	return fmt.Sprintf("resource: no fetcher for server %q (uri %s)", e.Ref.ServerKey, e.Ref.URI)
}

// FetchError wraps the failure of a single fetch.
type FetchError struct {
	Ref types.ResourceRef
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("resource: fetch %s from %q: %v", e.Ref.URI, e.Ref.ServerKey, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Cache holds the bodies fetched during one invocation. It is never shared
// between invocations.
type Cache struct {
	mu      sync.RWMutex
	entries map[types.ResourceRef][]mcp.ResourceContents
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[types.ResourceRef][]mcp.ResourceContents)}
}

// Get returns the cached body for ref.
func (c *Cache) Get(ref types.ResourceRef) ([]mcp.ResourceContents, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	body, ok := c.entries[ref]
	return body, ok
}

func (c *Cache) put(ref types.ResourceRef, body []mcp.ResourceContents) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ref] = body
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Prefetcher resolves and inlines resource references.
type Prefetcher struct {
	fetchers    Fetchers
	concurrency int
	logger      *slog.Logger
}

// Option configures a Prefetcher.
type Option func(*Prefetcher)

// WithConcurrency bounds how many distinct resources are fetched at once.
// Values below 1 mean sequential fetching.
func WithConcurrency(n int) Option {
	return func(p *Prefetcher) {
		if n < 1 {
			n = 1
		}
		p.concurrency = n
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prefetcher) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPrefetcher builds a Prefetcher over the given fetchers.
func NewPrefetcher(fetchers Fetchers, opts ...Option) *Prefetcher {
	p := &Prefetcher{
		fetchers:    fetchers,
		concurrency: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prefetch is a convenience wrapper around a sequential Prefetcher.
func Prefetch(ctx context.Context, messages []types.Event, fetchers Fetchers) ([]types.Event, error) {
	return NewPrefetcher(fetchers).Prefetch(ctx, messages)
}

// Prefetch fetches every distinct reference found in messages exactly once
// and returns copies of the messages with the bodies inlined. The input
// slice is left untouched. Any unknown server key or fetch failure aborts
// the whole call.
func (p *Prefetcher) Prefetch(ctx context.Context, messages []types.Event) ([]types.Event, error) {
	refs, err := collectRefs(messages)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return cloneEvents(messages), nil
	}

	for _, ref := range refs {
		if _, ok := p.fetchers[ref.ServerKey]; !ok {
			return nil, &UnknownServerError{Ref: ref}
		}
	}

	cache := NewCache()
	if err := p.fill(ctx, cache, refs); err != nil {
		return nil, err
	}
	p.logger.Debug("resource: prefetched", "resources", cache.Len())

	return inline(messages, cache), nil
}

func (p *Prefetcher) fill(ctx context.Context, cache *Cache, refs []types.ResourceRef) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, ref := range refs {
		fetch := p.fetchers[ref.ServerKey]
		g.Go(func() error {
			body, err := fetch(gctx, ref.URI)
			if err != nil {
				return &FetchError{Ref: ref, Err: err}
			}
			cache.put(ref, body)
			return nil
		})
	}
	return g.Wait()
}

// collectRefs returns the distinct references in first-seen order.
func collectRefs(messages []types.Event) ([]types.ResourceRef, error) {
	var refs []types.ResourceRef
	seen := make(map[types.ResourceRef]struct{})
	for _, msg := range messages {
		for _, part := range msg.Content {
			if part.Type != types.PartResource {
				continue
			}
			if part.Resource == nil || part.Resource.ServerKey == "" || part.Resource.URI == "" {
				return nil, fmt.Errorf("%w in message %q", ErrInvalidReference, msg.ID)
			}
			ref := *part.Resource
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func inline(messages []types.Event, cache *Cache) []types.Event {
	out := make([]types.Event, len(messages))
	for i, msg := range messages {
		msg = msg.Clone()
		if hasResource(msg.Content) {
			content := make(types.Content, 0, len(msg.Content))
			for _, part := range msg.Content {
				if part.Type != types.PartResource {
					content = append(content, part)
					continue
				}
				body, _ := cache.Get(*part.Resource)
				content = append(content, ToParts(body)...)
			}
			msg.Content = content
		}
		out[i] = msg
	}
	return out
}

func hasResource(c types.Content) bool {
	for _, part := range c {
		if part.Type == types.PartResource {
			return true
		}
	}
	return false
}

func cloneEvents(messages []types.Event) []types.Event {
	out := make([]types.Event, len(messages))
	for i, msg := range messages {
		out[i] = msg.Clone()
	}
	return out
}

// ToParts converts MCP resource contents into message parts.
func ToParts(body []mcp.ResourceContents) []types.ContentPart {
	parts := make([]types.ContentPart, 0, len(body))
	for _, c := range body {
		switch v := c.(type) {
		case mcp.TextResourceContents:
			parts = append(parts, textPart(v))
		case *mcp.TextResourceContents:
			parts = append(parts, textPart(*v))
		case mcp.BlobResourceContents:
			parts = append(parts, blobPart(v))
		case *mcp.BlobResourceContents:
			parts = append(parts, blobPart(*v))
		}
	}
	return parts
}

func textPart(v mcp.TextResourceContents) types.ContentPart {
	return types.ContentPart{Type: types.PartText, Text: v.Text, MIMEType: v.MIMEType, URL: v.URI}
}

func blobPart(v mcp.BlobResourceContents) types.ContentPart {
	return types.ContentPart{Type: types.PartBinary, Data: v.Blob, MIMEType: v.MIMEType, URL: v.URI}
}
