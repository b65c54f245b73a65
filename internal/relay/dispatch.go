package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/onvifrelay/onvifrelay/internal/api/ws"
	"github.com/onvifrelay/onvifrelay/pkg/onvif"
	"github.com/onvifrelay/onvifrelay/pkg/secrets"
)

const (
	MethodStartDiscovery = "startDiscovery"
	MethodConnect        = "connect"
	MethodFetchSnapshot  = "fetchSnapshot"
	MethodPTZMove        = "ptzMove"
	MethodPTZStop        = "ptzStop"
	MethodPTZHome        = "ptzHome"
)

// DefaultMoveTimeout - used when ptzMove comes without timeout
const DefaultMoveTimeout = time.Second

var (
	ErrNotSupportPTZ = errors.New("The specified device does not support PTZ.")
	ErrNoProfile     = errors.New("The specified device has no current profile. Connect first.")
	ErrAlreadyMoving = errors.New("The device is already moving.")
)

func errNotFound(address string) error {
	return fmt.Errorf("The specified device is not found: %s", address)
}

func errUnknownMethod(method string) error {
	return fmt.Errorf("Unknown method: %s", method)
}

type connectParams struct {
	Address string `json:"address"`
	User    string `json:"user"`
	Pass    string `json:"pass"`
}

type moveParams struct {
	Address string       `json:"address"`
	Speed   onvif.Vector `json:"speed"`
	// Timeout - seconds
	Timeout float64 `json:"timeout"`
}

// startDiscovery probe error answers with "connect" id, old UI listens on it
func (r *Relay) startDiscovery(ctx context.Context, s *Session, msg *ws.Message) *ws.Response {
	msg.Begin()

	devices, err := r.Registry.Discover(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("[relay] discovery")
		return msg.Reply(MethodConnect, nil, err)
	}

	registryDevices.Set(float64(len(devices)))
	log.Debug().Int("devices", len(devices)).Msg("[relay] discovery")

	return msg.Reply(MethodStartDiscovery, devices, nil)
}

func (r *Relay) connect(ctx context.Context, s *Session, msg *ws.Message) *ws.Response {
	var params connectParams
	if err := msg.Unmarshal(&params); err != nil {
		return msg.Reply(MethodConnect, nil, err)
	}

	h := r.Registry.Get(params.Address)
	if h == nil {
		return msg.Reply(MethodConnect, nil, errNotFound(params.Address))
	}

	msg.Begin()

	if params.User != "" {
		secrets.Add(params.Pass)
		h.Device.SetAuth(params.User, params.Pass)
	}

	info, err := h.Device.Init(ctx)
	if err != nil {
		return msg.Reply(MethodConnect, nil, err)
	}

	h.authenticated.Store(true)
	s.Select(params.Address)

	log.Info().Str("address", params.Address).Str("model", info.Model).Bool("ptz", info.PTZ).Msg("[relay] connect")

	return msg.Reply(MethodConnect, info, nil)
}

func (r *Relay) fetchSnapshot(ctx context.Context, s *Session, msg *ws.Message) *ws.Response {
	var params connectParams
	if err := msg.Unmarshal(&params); err != nil {
		return msg.Reply(MethodFetchSnapshot, nil, err)
	}

	h := r.Registry.Get(params.Address)
	if h == nil {
		return msg.Reply(MethodFetchSnapshot, nil, errNotFound(params.Address))
	}

	msg.Begin()

	snap, err := h.Device.FetchSnapshot(ctx)
	if err != nil {
		return msg.Reply(MethodFetchSnapshot, nil, err)
	}

	return msg.Reply(MethodFetchSnapshot, DataURI(snap), nil)
}

func (r *Relay) ptzMove(ctx context.Context, s *Session, msg *ws.Message) *ws.Response {
	var params moveParams
	if err := msg.Unmarshal(&params); err != nil {
		return msg.Reply(MethodPTZMove, nil, err)
	}

	h := r.Registry.Get(params.Address)
	if h == nil {
		return msg.Reply(MethodPTZMove, nil, errNotFound(params.Address))
	}

	timeout := time.Duration(params.Timeout * float64(time.Second))
	if timeout <= 0 {
		timeout = DefaultMoveTimeout
	}

	var moveID uint64
	if r.cfg.PTZGuard {
		var ok bool
		if moveID, ok = s.StartMove(params.Address, time.Now().Add(timeout)); !ok {
			return msg.Reply(MethodPTZMove, nil, ErrAlreadyMoving)
		}
	}

	// guard is set before next message of this session may start
	msg.Begin()

	err := h.Device.PTZMove(ctx, onvif.MoveParams{Speed: params.Speed, Timeout: timeout})
	if err != nil {
		s.CancelMove(params.Address, moveID)
		return msg.Reply(MethodPTZMove, nil, err)
	}

	return msg.Reply(MethodPTZMove, true, nil)
}

// ptzStop always forwarded to device, stop without move is fine
func (r *Relay) ptzStop(ctx context.Context, s *Session, msg *ws.Message) *ws.Response {
	var params connectParams
	if err := msg.Unmarshal(&params); err != nil {
		return msg.Reply(MethodPTZStop, nil, err)
	}

	h := r.Registry.Get(params.Address)
	if h == nil {
		return msg.Reply(MethodPTZStop, nil, errNotFound(params.Address))
	}

	msg.Begin()

	s.StopMove(params.Address)

	if err := h.Device.PTZStop(ctx); err != nil {
		return msg.Reply(MethodPTZStop, nil, err)
	}

	return msg.Reply(MethodPTZStop, true, nil)
}

// ptzHome answers with "ptzMove" id except for capability errors.
// Timeout param accepted but not used.
func (r *Relay) ptzHome(ctx context.Context, s *Session, msg *ws.Message) *ws.Response {
	var params moveParams
	if err := msg.Unmarshal(&params); err != nil {
		return msg.Reply(MethodPTZHome, nil, err)
	}

	h := r.Registry.Get(params.Address)
	if h == nil {
		return msg.Reply(MethodPTZMove, nil, errNotFound(params.Address))
	}

	if !h.Device.HasPTZ() {
		return msg.Reply(MethodPTZHome, nil, ErrNotSupportPTZ)
	}

	profile := h.Device.CurrentProfile()
	if profile == nil {
		return msg.Reply(MethodPTZHome, nil, ErrNoProfile)
	}

	msg.Begin()

	err := h.Device.GotoHomePosition(ctx, onvif.HomeParams{ProfileToken: profile.Token, Speed: 1})
	if err != nil {
		return msg.Reply(MethodPTZMove, nil, err)
	}

	return msg.Reply(MethodPTZMove, true, nil)
}

// DataURI - data:<content-type>;base64,<body>
func DataURI(snap *onvif.Snapshot) string {
	contentType := snap.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(snap.Body)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(snap.Body)
}
