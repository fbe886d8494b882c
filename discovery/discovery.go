// Package discovery publishes the mediator on the local network segment over mDNS/DNS-SD and
// lets peer devices find it by instance name, so nobody has to type an IP address.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_http._tcp"
	Domain      = "local."
)

var ErrNotFound = errors.New("service not found")

// Advertiser registers one service instance at a time.
type Advertiser struct {
	mu     sync.Mutex
	server *zeroconf.Server
}

func NewAdvertiser() *Advertiser {
	return &Advertiser{}
}

// Advertise registers name on port, replacing any previous registration.
func (a *Advertiser) Advertise(name string, port int) error {
	if name == "" {
		return errors.New("service name is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	server, err := zeroconf.Register(name, ServiceType, Domain, port, []string{"txtv=0"}, nil)
	if err != nil {
		return fmt.Errorf("fail to register service %s, err: %w", name, err)
	}
	a.server = server
	return nil
}

// Shutdown unregisters the current instance. It is safe to call when nothing is registered.
func (a *Advertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Endpoint is one resolved address of a service instance.
type Endpoint struct {
	Instance string
	Host     string
	Port     int
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL is the base URL of the relay behind e.
func (e Endpoint) URL() string {
	return "http://" + e.Addr()
}

// Lookup resolves the instance name until ctx is done or the first answer arrives.
func Lookup(ctx context.Context, name string) ([]Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("fail to create resolver, err: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Lookup(ctx, name, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("fail to lookup service %s, err: %w", name, err)
	}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return nil, ErrNotFound
			}
			if endpoints := endpointsOf(entry); len(endpoints) > 0 {
				return endpoints, nil
			}
		case <-ctx.Done():
			return nil, ErrNotFound
		}
	}
}

// Browse lists every instance of the service type seen until ctx is done.
func Browse(ctx context.Context) ([]Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("fail to create resolver, err: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("fail to browse services, err: %w", err)
	}
	var endpoints []Endpoint
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return endpoints, nil
			}
			endpoints = append(endpoints, endpointsOf(entry)...)
		case <-ctx.Done():
			return endpoints, nil
		}
	}
}

// endpointsOf lists the IPv4 addresses of entry before the IPv6 ones.
func endpointsOf(entry *zeroconf.ServiceEntry) []Endpoint {
	if entry == nil {
		return nil
	}
	var endpoints []Endpoint
	for _, ip := range entry.AddrIPv4 {
		endpoints = append(endpoints, Endpoint{Instance: entry.Instance, Host: ip.String(), Port: entry.Port})
	}
	for _, ip := range entry.AddrIPv6 {
		endpoints = append(endpoints, Endpoint{Instance: entry.Instance, Host: ip.String(), Port: entry.Port})
	}
	return endpoints
}
