// internal/status/builder.go - Snapshot builder used by the backend adapters
package status

import "time"

// Builder accumulates normalized records from one fetch cycle into a fresh
// host mapping. Each cycle gets its own Builder; a previous cycle's snapshot
// is never mutated.
type Builder struct {
	backend string
	hosts   map[string]*Host
}

func NewBuilder(backend string) *Builder {
	return &Builder{
		backend: backend,
		hosts:   make(map[string]*Host),
	}
}

// EnsureHost returns the host entry for name, creating it lazily the first
// time a record references it. The first record to create a host wins; later
// records for the same name update the existing entry. Hosts created on behalf
// of a service record default to UP so no service is ever orphaned.
func (b *Builder) EnsureHost(name string) *Host {
	if host, ok := b.hosts[name]; ok {
		return host
	}

	host := &Host{
		Name:     name,
		Server:   b.backend,
		Status:   HostUp,
		Services: make(map[string]*Service),
	}
	b.hosts[name] = host
	return host
}

// AddHost inserts a fully populated host record. An already existing entry
// (created earlier in the same cycle) is updated field by field instead of
// being replaced, so services attached before stay attached.
func (b *Builder) AddHost(host *Host) *Host {
	existing, ok := b.hosts[host.Name]
	if !ok {
		if host.Services == nil {
			host.Services = make(map[string]*Service)
		}
		host.Server = b.backend
		b.hosts[host.Name] = host
		return host
	}

	services := existing.Services
	*existing = *host
	existing.Server = b.backend
	existing.Services = services
	return existing
}

// AddService attaches a service to its host, creating the host if the host
// table never mentioned it.
func (b *Builder) AddService(svc *Service) {
	host := b.EnsureHost(svc.Host)
	svc.Server = b.backend
	host.Services[svc.Name] = svc
}

// Snapshot seals the accumulated mapping into an immutable snapshot. The
// builder must not be reused afterwards.
func (b *Builder) Snapshot(result Result) *Snapshot {
	return &Snapshot{
		Backend: b.backend,
		Hosts:   b.hosts,
		Result:  result,
		Taken:   time.Now(),
	}
}

// ErrorSnapshot produces an empty snapshot carrying only an error result,
// for cycles that failed before any host could be parsed.
func ErrorSnapshot(backend string, result Result) *Snapshot {
	return &Snapshot{
		Backend: backend,
		Hosts:   make(map[string]*Host),
		Result:  result,
		Taken:   time.Now(),
	}
}
