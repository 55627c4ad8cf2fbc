// Package client gives synchronized access to the fusion servers.
//
// A Manager keeps one server per device, shared by all the Clients of that device: every Client call holds the
// server lock for its whole duration, so operations from many goroutines are serialized per device.
package client

import (
	"sync"

	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/pkg/fusion/autotune"
	"github.com/gomlx/fusion/pkg/fusion/metrics"
	"github.com/gomlx/fusion/pkg/fusion/server"
	"github.com/gomlx/fusion/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Manager owns the servers of the devices in use and the autotune cache they share.
type Manager struct {
	mu      sync.Mutex
	tuner   *autotune.Tuner
	options server.Options
	servers map[serverKey]*sharedServer
	serial  uint64
	reads   *xsync.InFlight
}

type serverKey struct {
	backend   backends.Backend
	deviceNum backends.DeviceNum
}

// sharedServer is a server and the lock that guards it, reference counted by the Clients using it.
type sharedServer struct {
	mu      sync.Mutex
	server  *server.Server
	device  backends.DeviceID
	serial  uint64
	refs    int
	key     serverKey
	manager *Manager
	metrics *metrics.Metrics
}

// less orders servers for locking: by device, then by creation.
func (s *sharedServer) less(other *sharedServer) bool {
	if s.device != other.device {
		return s.device.Less(other.device)
	}
	return s.serial < other.serial
}

// NewManager creates a Manager with the default server options and a new autotune cache.
func NewManager() *Manager {
	return &Manager{
		tuner:   autotune.New(),
		options: server.DefaultOptions(),
		servers: make(map[serverKey]*sharedServer),
		reads:   xsync.NewInFlight(),
	}
}

// WithOptions sets the options of the servers created from now on.
func (m *Manager) WithOptions(options server.Options) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.options = options
	if options.Metrics != nil {
		m.tuner.SetMetrics(options.Metrics)
	}
	return m
}

// WithMetrics sets the metrics of the servers created from now on, and of the autotune cache.
func (m *Manager) WithMetrics(mt *metrics.Metrics) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.options.Metrics = mt
	m.tuner.SetMetrics(mt)
	return m
}

// WithTuner replaces the autotune cache, for instance to share it with another Manager.
func (m *Manager) WithTuner(tuner *autotune.Tuner) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tuner = tuner
	return m
}

// Tuner returns the autotune cache shared by the servers.
func (m *Manager) Tuner() *autotune.Tuner {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tuner
}

// NumServers returns the number of live servers.
func (m *Manager) NumServers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.servers)
}

// Wait blocks until all pending reads have resolved.
func (m *Manager) Wait() {
	m.reads.Wait()
}

// Client returns a client of the server of the device deviceNum of backend, creating the server if needed.
// The Client must be closed when no longer in use.
func (m *Manager) Client(backend backends.Backend, deviceNum backends.DeviceNum) (*Client, error) {
	if deviceNum < 0 || deviceNum >= backend.NumDevices() {
		return nil, errors.Errorf("backend %q has %d devices, device #%d is invalid",
			backend.Name(), backend.NumDevices(), deviceNum)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := serverKey{backend, deviceNum}
	shared, found := m.servers[key]
	if !found {
		m.serial++
		shared = &sharedServer{
			server:  server.New(backend, deviceNum, m.tuner, m.options),
			serial:  m.serial,
			key:     key,
			manager: m,
			metrics: m.options.Metrics,
		}
		shared.device = shared.server.Device()
		m.servers[key] = shared
		klog.V(1).Infof("created fusion server for %s", shared.device)
	}
	shared.refs++
	return &Client{shared: shared}, nil
}

// release drops one reference of shared, finalizing it when it was the last.
func (m *Manager) release(shared *sharedServer) {
	m.mu.Lock()
	shared.refs--
	last := shared.refs == 0
	if last {
		delete(m.servers, shared.key)
	}
	m.mu.Unlock()
	if !last {
		return
	}
	shared.mu.Lock()
	defer shared.mu.Unlock()
	shared.server.Finalize()
	klog.V(1).Infof("finalized fusion server for %s", shared.device)
}
