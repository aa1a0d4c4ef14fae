package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vinayakr/nofrillsdb/platform/go/logging"
	"github.com/vinayakr/nofrillsdb/platform/go/problem"
	"github.com/vinayakr/nofrillsdb/platform/go/tenant"
)

// SubjectHeader carries the authenticated principal set by the upstream
// gateway after token validation.
const SubjectHeader = "X-Tenant-Subject"

// Resolver maps an external subject to its registered tenant identity,
// creating the registry entry on first sight. Implemented by the tenant
// registry service.
type Resolver interface {
	Resolve(ctx context.Context, subject string) (tenant.Identity, error)
}

// Config controls middleware behavior.
type Config struct {
	// Optional small in-memory TTL cache to avoid registry hits on every
	// request; zero disables caching.
	CacheTTL time.Duration
}

// WithIdentity resolves the subject header to a tenant and attaches the
// identity to the request context. Requests without a subject are rejected.
func WithIdentity(resolver Resolver, cfg Config) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("tenant middleware: resolver is required")
	}

	var cache *identityCache
	if cfg.CacheTTL > 0 {
		cache = newIdentityCache(cfg.CacheTTL)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := r.Header.Get(SubjectHeader)
			if subject == "" {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized,
					"Unauthorized", "subject header is required")
				return
			}

			if cached := cacheGet(cache, subject); cached != nil {
				next.ServeHTTP(w, r.WithContext(contextFor(r, *cached)))
				return
			}

			id, err := resolver.Resolve(r.Context(), subject)
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized,
					"Unauthorized", "tenant could not be resolved")
				return
			}

			cachePut(cache, subject, id)

			next.ServeHTTP(w, r.WithContext(contextFor(r, id)))
		})
	}
}

// contextFor attaches the identity and stamps the request-scoped logger with
// the tenant so every downstream log line carries it.
func contextFor(r *http.Request, id tenant.Identity) context.Context {
	ctx := tenant.WithIdentity(r.Context(), id)
	if lg, ok := logging.FromContext(ctx); ok {
		ctx = logging.WithLogger(ctx, lg.With(zap.String("tenantId", id.TenantID.String())))
	}
	return ctx
}

type identityCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]cacheItem
}

type cacheItem struct {
	identity  tenant.Identity
	expiresAt time.Time
}

func newIdentityCache(ttl time.Duration) *identityCache {
	return &identityCache{ttl: ttl, items: make(map[string]cacheItem)}
}

func cacheGet(c *identityCache, subject string) *tenant.Identity {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[subject]
	if !ok || time.Now().After(item.expiresAt) {
		return nil
	}
	return &item.identity
}

func cachePut(c *identityCache, subject string, id tenant.Identity) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[subject] = cacheItem{identity: id, expiresAt: time.Now().Add(c.ttl)}
}
