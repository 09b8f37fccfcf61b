package discovery

import (
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"

	"github.com/enbility/zeroconf/v3"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
)

// Defaults applied when the configuration leaves them empty.
const (
	DefaultServiceType = "_http._tcp"
	DefaultDomain      = "local."

	// maxInstanceNameLen is the DNS label limit.
	maxInstanceNameLen = 63
)

// Service describes the advertised dashboard.
type Service struct {
	// Instance is the human-readable name, usually the device id.
	Instance string
	Port     int
	// Text holds key=value TXT records.
	Text map[string]string
}

// registration is a live advertisement.
type registration interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (registration, error)

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (registration, error) {
	server, err := zeroconf.Register(instance, service, domain, port, text, ifaces)
	if err != nil {
		return nil, err
	}
	return server, nil
}

// Advertiser publishes one service at a time.
type Advertiser struct {
	serviceType string
	domain      string
	iface       string
	logger      *logging.Logger
	register    registerFunc

	mu     sync.Mutex
	server registration
}

// NewAdvertiser creates an advertiser bound to iface, or to every
// interface when iface is empty.
func NewAdvertiser(cfg config.MDNSConfig, iface string, logger *logging.Logger) *Advertiser {
	if logger == nil {
		logger = logging.Default()
	}
	a := &Advertiser{
		serviceType: cfg.ServiceType,
		domain:      cfg.Domain,
		iface:       iface,
		logger:      logger.With("component", "mdns"),
		register:    zeroconfRegister,
	}
	if a.serviceType == "" {
		a.serviceType = DefaultServiceType
	}
	if a.domain == "" {
		a.domain = DefaultDomain
	}
	return a
}

// Advertise replaces any current advertisement with svc.
func (a *Advertiser) Advertise(svc Service) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.shutdownLocked()

	instance := InstanceName(svc.Instance)
	server, err := a.register(instance, a.serviceType, a.domain, svc.Port, TXTRecords(svc.Text), a.interfaces())
	if err != nil {
		return fmt.Errorf("failed to register %s service: %w", a.serviceType, err)
	}
	a.server = server
	a.logger.Info("advertising dashboard", "instance", instance, "service", a.serviceType, "port", svc.Port)
	return nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()
}

func (a *Advertiser) shutdownLocked() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// interfaces returns nil (all interfaces) when the named one is missing.
func (a *Advertiser) interfaces() []net.Interface {
	if a.iface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.iface)
	if err != nil {
		a.logger.Debug("interface lookup failed, advertising on all", "interface", a.iface, "error", err)
		return nil
	}
	return []net.Interface{*iface}
}

// InstanceName makes name usable as a DNS-SD instance label.
func InstanceName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, ".", "-"))
	if name == "" {
		name = "graynode"
	}
	if len(name) > maxInstanceNameLen {
		name = name[:maxInstanceNameLen]
	}
	return name
}

// TXTRecords renders key=value pairs in key order.
func TXTRecords(kv map[string]string) []string {
	if len(kv) == 0 {
		return nil
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+kv[k])
	}
	return out
}
