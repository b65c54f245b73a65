package onvif

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/go-resty/resty/v2"
	"github.com/juju/errors"
)

const PathDevice = "/onvif/device_service"

const (
	DeviceGetCapabilities      = "GetCapabilities"
	DeviceGetDeviceInformation = "GetDeviceInformation"
	DeviceGetSystemDateAndTime = "GetSystemDateAndTime"
	MediaGetProfiles           = "GetProfiles"
	MediaGetSnapshotUri        = "GetSnapshotUri"
)

// Timeout for single SOAP request to camera
var Timeout = 5 * time.Second

// UserAgent - sent with SOAP requests and snapshot downloads
var UserAgent = "onvifrelay"

// Info - result of device Init. JSON keys same as GetDeviceInformation response tags.
type Info struct {
	Manufacturer    string   `json:"Manufacturer"`
	Model           string   `json:"Model"`
	FirmwareVersion string   `json:"FirmwareVersion"`
	SerialNumber    string   `json:"SerialNumber"`
	HardwareID      string   `json:"HardwareId"`
	PTZ             bool     `json:"PTZ"`
	Profile         *Profile `json:"Profile,omitempty"`
}

type Profile struct {
	Token string `json:"token"`
	Name  string `json:"name,omitempty"`
	PTZ   bool   `json:"ptz,omitempty"`
}

// Device - single ONVIF camera. Creating it doesn't touch the network,
// all services are resolved in Init.
type Device struct {
	xaddr   *url.URL
	address string

	mu       sync.Mutex
	user     *url.Userinfo
	offset   time.Duration // camera clock minus local clock
	services map[string]string
	profile  *Profile

	snapshotURL string
	client      *resty.Client
}

func NewDevice(xaddr string) (*Device, error) {
	u, err := url.Parse(xaddr)
	if err != nil {
		return nil, errors.Annotate(err, "onvif: wrong xaddr")
	}
	if u.Host == "" {
		return nil, errors.Errorf("onvif: wrong xaddr %q", xaddr)
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if u.Path == "" {
		u.Path = PathDevice
	}
	return &Device{xaddr: u, address: u.Hostname()}, nil
}

// Address - camera host without port, unique key for discovered devices
func (d *Device) Address() string {
	return d.address
}

func (d *Device) XAddr() string {
	return d.xaddr.String()
}

func (d *Device) SetAuth(user, pass string) {
	d.mu.Lock()
	if user != "" {
		d.user = url.UserPassword(user, pass)
	} else {
		d.user = nil
	}
	d.client = nil
	d.mu.Unlock()
}

// Init - sync clock offset, load services, device information and media profiles
func (d *Device) Init(ctx context.Context) (*Info, error) {
	// not all cameras support this, so errors are ignored
	if body, err := d.requestNoAuth(ctx, d.xaddr.String(), `<tds:`+DeviceGetSystemDateAndTime+`/>`); err == nil {
		if ts := parseSystemDateAndTime(body); !ts.IsZero() {
			d.mu.Lock()
			d.offset = time.Until(ts)
			d.mu.Unlock()
		}
	}

	body, err := d.DeviceRequest(ctx, DeviceGetCapabilities)
	if err != nil {
		return nil, errors.Trace(err)
	}

	services := map[string]string{}
	for name, rawURL := range parseCapabilities(body) {
		if s := d.serviceURL(rawURL); s != "" {
			services[name] = s
		}
	}

	if body, err = d.DeviceRequest(ctx, DeviceGetDeviceInformation); err != nil {
		return nil, errors.Trace(err)
	}

	info := parseDeviceInformation(body)

	var profile *Profile
	if mediaURL := services["media"]; mediaURL != "" {
		if body, err = d.Request(ctx, mediaURL, `<trt:`+MediaGetProfiles+`/>`); err != nil {
			return nil, errors.Trace(err)
		}
		profile = selectProfile(parseProfiles(body), services["ptz"] != "")
	}

	info.PTZ = services["ptz"] != ""
	info.Profile = profile

	d.mu.Lock()
	d.services = services
	d.profile = profile
	d.snapshotURL = ""
	d.mu.Unlock()

	return info, nil
}

func (d *Device) CurrentProfile() *Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.profile
}

func (d *Device) HasPTZ() bool {
	return d.service("ptz") != ""
}

func (d *Device) DeviceRequest(ctx context.Context, operation string) (*etree.Element, error) {
	switch operation {
	case DeviceGetCapabilities:
		operation = `<tds:GetCapabilities><tds:Category>All</tds:Category></tds:GetCapabilities>`
	default:
		operation = `<tds:` + operation + `/>`
	}
	return d.Request(ctx, d.xaddr.String(), operation)
}

// Request - send SOAP request with current credentials and return parsed Body
func (d *Device) Request(ctx context.Context, rawURL, body string) (*etree.Element, error) {
	d.mu.Lock()
	user, offset := d.user, d.offset
	d.mu.Unlock()

	b, err := request(ctx, rawURL, NewEnvelopeWithUser(user, offset).appendBody(body))
	if err != nil {
		return nil, err
	}
	return parseBody(b)
}

func (d *Device) requestNoAuth(ctx context.Context, rawURL, body string) (*etree.Element, error) {
	b, err := request(ctx, rawURL, NewEnvelope().appendBody(body))
	if err != nil {
		return nil, err
	}
	return parseBody(b)
}

func (d *Device) service(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.services[name]
}

// serviceURL - cameras behind NAT return their internal IP in XAddr,
// so only path is taken from the answer
func (d *Device) serviceURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Path == "" {
		return ""
	}
	return d.xaddr.Scheme + "://" + d.xaddr.Host + u.Path
}

func selectProfile(profiles []*Profile, ptz bool) *Profile {
	if len(profiles) == 0 {
		return nil
	}
	if ptz {
		for _, profile := range profiles {
			if profile.PTZ {
				return profile
			}
		}
	}
	return profiles[0]
}

func (e *Envelope) appendBody(body string) []byte {
	e.Append(body)
	return e.Bytes()
}

func request(ctx context.Context, rawURL string, buf []byte) ([]byte, error) {
	if rawURL == "" {
		return nil, errors.New("onvif: unsupported service")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	dialer := net.Dialer{Timeout: Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if u.Scheme == "https" {
		conn = tls.Client(conn, &tls.Config{ServerName: u.Hostname(), InsecureSkipVerify: true})
	}

	deadline := time.Now().Add(Timeout)
	if t, ok := ctx.Deadline(); ok && t.Before(deadline) {
		deadline = t
	}
	_ = conn.SetDeadline(deadline)

	req := &http.Request{
		Method:        "POST",
		URL:           u,
		Proto:         "HTTP/1.1",
		Header: http.Header{
			"Content-Type": {"application/soap+xml;charset=utf-8"},
			"User-Agent":   {UserAgent},
		},
		Body:          io.NopCloser(bytes.NewReader(buf)),
		ContentLength: int64(len(buf)),
		Close:         true,
	}

	if err = req.Write(conn); err != nil {
		return nil, err
	}

	rd := bufio.NewReaderSize(conn, 16*1024)

	res, err := http.ReadResponse(rd, req)
	if err != nil {
		// some cameras send broken HTTP headers, look for XML in complete response
		if buf, err = io.ReadAll(rd); err != nil {
			return nil, err
		}
		if i := bytes.Index(buf, []byte("<?xml")); i >= 0 {
			return buf[i:], nil
		}
		return nil, errors.Errorf("onvif: broken response: %.100s", buf)
	}
	defer res.Body.Close()

	if buf, err = io.ReadAll(res.Body); err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		// SOAP Fault usually comes with 400 or 500 status
		if _, err = parseBody(buf); err != nil {
			return nil, err
		}
		return nil, errors.New("onvif: wrong response " + res.Status)
	}

	return buf, nil
}
