package mdns

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/onvifrelay/onvifrelay/internal/api"
	"github.com/onvifrelay/onvifrelay/internal/app"
	"github.com/onvifrelay/onvifrelay/pkg/xnet"
	"github.com/rs/zerolog"
)

const ServiceType = "_onvif-relay._tcp"

func Init() {
	var cfg struct {
		Mod struct {
			Enabled bool   `yaml:"enabled"`
			Name    string `yaml:"name"`
		} `yaml:"mdns"`
	}

	cfg.Mod.Enabled = true

	app.LoadConfig(&cfg)

	log = app.GetLogger("mdns")

	if !cfg.Mod.Enabled || api.Port == 0 {
		return
	}

	name := cfg.Mod.Name
	if name == "" {
		name, _ = os.Hostname()
	}

	var err error
	if server, err = NewServer(name, api.Port, xnet.LocalIPs(), TXT()); err != nil {
		log.Warn().Err(err).Msg("[mdns] server")
		return
	}

	log.Info().Str("name", name).Int("port", api.Port).Msg("[mdns] advertise")
}

func Close() {
	if server != nil {
		_ = server.Shutdown()
		server = nil
	}
}

var log = zerolog.Nop()

var server *mdns.Server

// TXT - records for clients to build relay URL
func TXT() []string {
	return []string{
		"version=" + app.Version,
		"scheme=" + api.Scheme,
		"path=/api/ws",
	}
}

func NewServer(name string, port int, ips []net.IP, txt []string) (*mdns.Server, error) {
	// hostName must end with `.local.`, ips must be set manually
	service, err := mdns.NewMDNSService(
		name, ServiceType, "", hostName(name), port, ips, txt,
	)
	if err != nil {
		return nil, err
	}

	return mdns.NewServer(&mdns.Config{Zone: service})
}

func hostName(name string) string {
	name = strings.ReplaceAll(name, " ", "-")
	return strings.TrimSuffix(name, ".local") + ".local."
}

type Relay struct {
	Name string   `yaml:"name" json:"name"`
	Addr string   `yaml:"addr" json:"addr"`
	Info []string `yaml:"info,omitempty" json:"info,omitempty"`
}

// Lookup - other relays advertised in local network
func Lookup(timeout time.Duration) ([]*Relay, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	params := &mdns.QueryParam{
		Service: ServiceType, Timeout: timeout, Entries: entries, DisableIPv6: true,
	}

	var relays []*Relay
	done := make(chan struct{})

	go func() {
		for entry := range entries {
			if entry.AddrV4 == nil {
				continue
			}
			relays = append(relays, &Relay{
				Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
				Addr: fmt.Sprintf("%s:%d", entry.AddrV4, entry.Port),
				Info: entry.InfoFields,
			})
		}
		close(done)
	}()

	err := mdns.Query(params)
	close(entries)
	<-done

	return relays, err
}
