package profile

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"

	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

// Registry owns the profile services of a process. Services start in registration order and stop
// in reverse.
type Registry struct {
	lock     sync.Mutex
	services map[protocol.Profile]*Service
	order    []*Service
}

func NewRegistry() *Registry {
	return &Registry{services: make(map[protocol.Profile]*Service)}
}

func (r *Registry) Register(s *Service) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.services[s.Profile()]; ok {
		return fmt.Errorf("%s service already registered", s.Profile())
	}
	r.services[s.Profile()] = s
	r.order = append(r.order, s)
	return nil
}

func (r *Registry) Service(p protocol.Profile) (*Service, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.services[p]
	return s, ok
}

func (r *Registry) Services() []*Service {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]*Service(nil), r.order...)
}

// StartAll starts every service. If one fails, the services already started are stopped.
func (r *Registry) StartAll(ctx context.Context) error {
	services := r.Services()
	for i, s := range services {
		if err := s.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				services[j].Stop()
			}
			return fmt.Errorf("starting %s service: %w", s.Profile(), err)
		}
	}
	return nil
}

func (r *Registry) StopAll() {
	services := r.Services()
	for i := len(services) - 1; i >= 0; i-- {
		services[i].Stop()
	}
}

// AdapterStateChanged implements adapter.Observer. Services consult the adapter directly, so
// only bond changes are forwarded.
func (r *Registry) AdapterStateChanged(prev, next protocol.AdapterState) {}

func (r *Registry) BondStateChanged(device protocol.Device, state protocol.BondState) {
	for _, s := range r.Services() {
		s.OnBondStateChanged(device, state)
	}
}

func (r *Registry) UUIDsDiscovered(device protocol.Device, uuids []ble.UUID) {}

func (r *Registry) ACLStateChanged(device protocol.Device, connected bool) {}
