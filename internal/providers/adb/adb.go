package adb

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/httprunner/httprunner/v5/pkg/gadb"
	"github.com/pkg/errors"
)

const (
	defaultServerHost = "127.0.0.1"
	defaultServerPort = 5037
)

// stateLister 返回 serial 到 gadb 状态名的映射
type stateLister interface {
	ListDevicesWithState(ctx context.Context) (map[string]string, error)
}

// Provider lists devices over the adb server socket instead of the adb binary.
type Provider struct {
	client gadb.Client
	states stateLister
}

// New creates a Provider backed by the given gadb client.
func New(client gadb.Client) *Provider {
	p := &Provider{client: client}
	p.states = p
	return p
}

// NewWithServer creates a Provider connected to the adb server at host:port.
// gadb dials the server once here, so an unreachable server fails early.
func NewWithServer(host, port string) (*Provider, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = defaultServerHost
	}
	portNum := defaultServerPort
	if trimmed := strings.TrimSpace(port); trimmed != "" {
		parsed, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid adb server port %q", port)
		}
		portNum = parsed
	}
	client, err := gadb.NewClientWith(host, portNum)
	if err != nil {
		return nil, errors.Wrap(err, "init adb client for provider")
	}
	return New(client), nil
}

// ListDevices returns serials in the online (`device`) state, sorted.
func (p *Provider) ListDevices(ctx context.Context) ([]string, error) {
	if p == nil || p.states == nil {
		return nil, errors.New("adb provider is nil")
	}
	states, err := p.states.ListDevicesWithState(ctx)
	if err != nil {
		return nil, err
	}
	return onlineSerials(states), nil
}

// ListDevicesWithState returns device serials with their raw gadb state names.
func (p *Provider) ListDevicesWithState(ctx context.Context) (map[string]string, error) {
	if p == nil {
		return nil, errors.New("adb provider is nil")
	}
	devs, err := p.client.DeviceList()
	if err != nil {
		return nil, errors.Wrap(err, "list adb devices")
	}
	stateBySerial := make(map[string]string, len(devs))
	for _, dev := range devs {
		if dev == nil {
			continue
		}
		serial := strings.TrimSpace(dev.Serial())
		if serial == "" {
			continue
		}
		state, err := dev.State()
		if err != nil {
			stateBySerial[serial] = string(gadb.StateUnknown)
			continue
		}
		stateBySerial[serial] = string(state)
	}
	return stateBySerial, nil
}

func onlineSerials(states map[string]string) []string {
	serials := make([]string, 0, len(states))
	for serial, state := range states {
		if state == string(gadb.StateOnline) {
			serials = append(serials, serial)
		}
	}
	sort.Strings(serials)
	return serials
}
