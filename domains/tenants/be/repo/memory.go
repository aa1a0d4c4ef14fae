package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vinayakr/nofrillsdb/domains/tenants/be/service"
)

// MemoryRepository is an in-memory registry used by tests and local tooling.
type MemoryRepository struct {
	mu        sync.Mutex
	tenants   map[uuid.UUID]service.Tenant
	databases map[uuid.UUID]map[string]int // name -> insertion order
	certs     map[uuid.UUID]service.Certificate
	seq       int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tenants:   make(map[uuid.UUID]service.Tenant),
		databases: make(map[uuid.UUID]map[string]int),
		certs:     make(map[uuid.UUID]service.Certificate),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[t.ID] = t
	return t, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepository) GetBySubject(ctx context.Context, subject string) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if t.Subject == subject {
			return t, nil
		}
	}
	return service.Tenant{}, service.ErrNotFound
}

func (r *MemoryRepository) AddDatabase(ctx context.Context, id uuid.UUID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.databases[id]
	if !ok {
		set = make(map[string]int)
		r.databases[id] = set
	}
	r.seq++
	set[name] = r.seq
	return nil
}

func (r *MemoryRepository) RemoveDatabase(ctx context.Context, id uuid.UUID, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.databases[id]
	if !ok {
		return false, nil
	}
	if _, present := set[name]; !present {
		return false, nil
	}
	delete(set, name)
	return true, nil
}

func (r *MemoryRepository) HasDatabase(ctx context.Context, id uuid.UUID, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.databases[id]
	if !ok {
		return false, nil
	}
	_, present := set[name]
	return present, nil
}

func (r *MemoryRepository) ListDatabases(ctx context.Context, id uuid.UUID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.databases[id]
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return set[names[i]] < set[names[j]] })
	return names, nil
}

func (r *MemoryRepository) CurrentCertificate(ctx context.Context, id uuid.UUID) (service.Certificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cert, ok := r.certs[id]
	if !ok {
		return service.Certificate{}, service.ErrNoCertificate
	}
	return cert, nil
}

func (r *MemoryRepository) RecordCertificate(ctx context.Context, id uuid.UUID, cert service.Certificate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.certs[id] = cert
	return nil
}

var _ service.Repository = (*MemoryRepository)(nil)
