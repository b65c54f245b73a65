package relay

import (
	"context"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/onvifrelay/onvifrelay/pkg/onvif"
)

// Device - camera operations used by relay, implemented by *onvif.Device
type Device interface {
	Address() string
	SetAuth(user, pass string)
	Init(ctx context.Context) (*onvif.Info, error)
	FetchSnapshot(ctx context.Context) (*onvif.Snapshot, error)
	PTZMove(ctx context.Context, params onvif.MoveParams) error
	PTZStop(ctx context.Context) error
	GotoHomePosition(ctx context.Context, params onvif.HomeParams) error
	HasPTZ() bool
	CurrentProfile() *onvif.Profile
}

type ProbeFunc func(ctx context.Context) ([]*onvif.ProbeMatch, error)

type DeviceFactory func(xaddr string) (Device, error)

// Handle - registry entry, lives until next successful discovery
type Handle struct {
	Name   string
	Device Device

	authenticated atomic.Bool
}

func (h *Handle) Authenticated() bool {
	return h.authenticated.Load()
}

type Summary struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// DeviceState - registry entry for HTTP API, without credentials
type DeviceState struct {
	Name          string         `json:"name"`
	Address       string         `json:"address"`
	Authenticated bool           `json:"authenticated"`
	PTZ           bool           `json:"ptz"`
	Profile       *onvif.Profile `json:"profile,omitempty"`
}

// Registry - address to device map. Readers never lock, discovery builds
// new map and swaps it, so handles from old map stay usable.
type Registry struct {
	devices atomic.Pointer[map[string]*Handle]

	mu        sync.Mutex // one discovery at a time
	probe     ProbeFunc
	newDevice DeviceFactory
}

func NewRegistry(probe ProbeFunc, newDevice DeviceFactory) *Registry {
	r := &Registry{probe: probe, newDevice: newDevice}
	r.devices.Store(&map[string]*Handle{})
	return r
}

func (r *Registry) Get(address string) *Handle {
	return (*r.devices.Load())[address]
}

func (r *Registry) Len() int {
	return len(*r.devices.Load())
}

// Discover probes network and replaces whole registry. On probe error
// previous devices stay in place.
func (r *Registry) Discover(ctx context.Context) (map[string]Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matches, err := r.probe(ctx)
	if err != nil {
		return nil, err
	}

	devices := make(map[string]*Handle, len(matches))

	for _, match := range matches {
		if len(match.XAddrs) == 0 {
			continue
		}

		dev, err := r.newDevice(match.XAddrs[0])
		if err != nil {
			log.Debug().Err(err).Str("xaddr", match.XAddrs[0]).Msg("[relay] skip device")
			continue
		}

		address := dev.Address()
		if _, ok := devices[address]; ok {
			continue // first match wins
		}

		devices[address] = &Handle{Name: match.Name, Device: dev}
	}

	r.devices.Store(&devices)

	return summaries(devices), nil
}

func (r *Registry) States() []*DeviceState {
	devices := *r.devices.Load()

	states := make([]*DeviceState, 0, len(devices))
	for address, h := range devices {
		states = append(states, &DeviceState{
			Name:          h.Name,
			Address:       address,
			Authenticated: h.Authenticated(),
			PTZ:           h.Device.HasPTZ(),
			Profile:       h.Device.CurrentProfile(),
		})
	}

	slices.SortFunc(states, func(a, b *DeviceState) int {
		return compareAddress(a.Address, b.Address)
	})

	return states
}

func summaries(devices map[string]*Handle) map[string]Summary {
	m := make(map[string]Summary, len(devices))
	for address, h := range devices {
		m[address] = Summary{Name: h.Name, Address: address}
	}
	return m
}

// compareAddress - IP addresses in numeric order, before host names
func compareAddress(a, b string) int {
	ipA, errA := netip.ParseAddr(a)
	ipB, errB := netip.ParseAddr(b)
	switch {
	case errA == nil && errB == nil:
		return ipA.Compare(ipB)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}
