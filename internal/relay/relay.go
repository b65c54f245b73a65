package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/onvifrelay/onvifrelay/internal/api"
	"github.com/onvifrelay/onvifrelay/internal/api/ws"
	"github.com/onvifrelay/onvifrelay/internal/app"
	"github.com/onvifrelay/onvifrelay/pkg/onvif"
	"github.com/rs/zerolog"
)

func Init() {
	var cfg struct {
		Mod Config `yaml:"relay"`
	}

	cfg.Mod = DefaultConfig

	app.LoadConfig(&cfg)

	log = app.GetLogger("relay")

	onvif.UserAgent = app.UserAgent

	probe := func(ctx context.Context) ([]*onvif.ProbeMatch, error) {
		return onvif.Probe(ctx, cfg.Mod.DiscoveryTimeout)
	}

	relay = New(cfg.Mod, probe, NewDevice)
	relay.Register()

	api.HandleFunc("api/devices", relay.apiDevices)
}

// Close cancels all in-flight device calls
func Close() {
	if relay != nil {
		relay.Close()
	}
}

var log = zerolog.Nop()

var relay *Relay

type Config struct {
	// PTZGuard - reject ptzMove while previous move not stopped or timed out
	PTZGuard         bool          `yaml:"ptz_guard"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	// RequestTimeout - upper bound for one device call
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

var DefaultConfig = Config{
	PTZGuard:         true,
	DiscoveryTimeout: onvif.DiscoveryTimeout,
	RequestTimeout:   30 * time.Second,
}

// NewDevice - default factory for discovered devices
func NewDevice(xaddr string) (Device, error) {
	dev, err := onvif.NewDevice(xaddr)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

type handlerFunc func(ctx context.Context, s *Session, msg *ws.Message) *ws.Response

// Relay - dispatches client requests to devices from registry
type Relay struct {
	Registry *Registry

	cfg      Config
	handlers map[string]handlerFunc

	// device calls outlive client connection
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, probe ProbeFunc, newDevice DeviceFactory) *Relay {
	r := &Relay{
		Registry: NewRegistry(probe, newDevice),
		cfg:      cfg,
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.handlers = map[string]handlerFunc{
		MethodStartDiscovery: r.startDiscovery,
		MethodConnect:        r.connect,
		MethodFetchSnapshot:  r.fetchSnapshot,
		MethodPTZMove:        r.ptzMove,
		MethodPTZStop:        r.ptzStop,
		MethodPTZHome:        r.ptzHome,
	}

	return r
}

func (r *Relay) Close() {
	r.cancel()
}

// Register installs relay methods and session tracking in websocket API
func (r *Relay) Register() {
	ws.OnOpen(func(tr *ws.Transport) {
		s := NewSession(tr.ID)
		tr.WithContext(func(ctx map[any]any) {
			ctx[sessionKey{}] = s
		})

		activeSessions.Inc()
		tr.OnClose(func() {
			activeSessions.Dec()
			log.Debug().Str("session", s.ID).Str("selected", s.Selected()).Msg("[relay] session closed")
		})
	})

	for method := range r.handlers {
		ws.HandleFunc(method, func(tr *ws.Transport, msg *ws.Message) error {
			tr.Write(r.Handle(session(tr), msg))
			return nil
		})
	}
}

// Handle runs one request and always returns response
func (r *Relay) Handle(s *Session, msg *ws.Message) *ws.Response {
	handler := r.handlers[msg.Method]
	if handler == nil {
		return msg.Reply(msg.Method, nil, errUnknownMethod(msg.Method))
	}

	ctx, cancel := r.requestContext()
	defer cancel()

	res := handler(ctx, s, msg)

	observe(msg.Method, res.Error)

	if res.Error != "" {
		log.Debug().Str("session", s.ID).Str("method", msg.Method).Str("error", res.Error).Msg("[relay] request")
	} else {
		log.Trace().Str("session", s.ID).Str("method", msg.Method).Msg("[relay] request")
	}

	return res
}

func (r *Relay) requestContext() (context.Context, context.CancelFunc) {
	if r.cfg.RequestTimeout > 0 {
		return context.WithTimeout(r.ctx, r.cfg.RequestTimeout)
	}
	return context.WithCancel(r.ctx)
}

func (r *Relay) apiDevices(w http.ResponseWriter, req *http.Request) {
	if req.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusBadRequest)
		return
	}

	api.ResponseJSON(w, r.Registry.States())
}

type sessionKey struct{}

func session(tr *ws.Transport) (s *Session) {
	tr.WithContext(func(ctx map[any]any) {
		if v, ok := ctx[sessionKey{}].(*Session); ok {
			s = v
		} else {
			s = NewSession(tr.ID)
			ctx[sessionKey{}] = s
		}
	})
	return
}
