package onvif

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"
	"github.com/juju/errors"
)

type Snapshot struct {
	ContentType string
	Body        []byte
}

func (d *Device) GetSnapshotURI(ctx context.Context) (string, error) {
	mediaURL := d.service("media")
	if mediaURL == "" {
		return "", errors.NotSupportedf("onvif: media")
	}

	profile := d.CurrentProfile()
	if profile == nil {
		return "", errors.New("onvif: no media profile")
	}

	body, err := d.Request(ctx, mediaURL, `<trt:`+MediaGetSnapshotUri+`><trt:ProfileToken>`+
		escape(profile.Token)+`</trt:ProfileToken></trt:`+MediaGetSnapshotUri+`>`)
	if err != nil {
		return "", errors.Trace(err)
	}

	uri := findText(body, "//MediaUri/Uri")
	if uri == "" {
		return "", errors.New("onvif: empty snapshot uri")
	}
	return uri, nil
}

// FetchSnapshot - download one JPEG from camera snapshot uri.
// Snapshot uri is resolved once and reused until next Init.
func (d *Device) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	d.mu.Lock()
	uri := d.snapshotURL
	d.mu.Unlock()

	if uri == "" {
		var err error
		if uri, err = d.GetSnapshotURI(ctx); err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.snapshotURL = uri
		d.mu.Unlock()
	}

	client, user := d.httpClient()

	res, err := client.R().SetContext(ctx).Get(uri)
	if user != nil && (err != nil || res.StatusCode() == http.StatusUnauthorized) {
		// digest transport fails on cameras with Basic auth
		pass, _ := user.Password()
		res, err = resty.New().
			SetTimeout(Timeout).
			SetHeader("User-Agent", UserAgent).
			SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}).
			R().SetContext(ctx).SetBasicAuth(user.Username(), pass).Get(uri)
	}
	if err != nil {
		return nil, errors.Annotate(redactURL(err), "onvif: snapshot")
	}

	if res.StatusCode() != http.StatusOK {
		return nil, errors.New("onvif: snapshot " + res.Status())
	}

	body := res.Body()
	contentType := res.Header().Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}

	return &Snapshot{ContentType: contentType, Body: body}, nil
}

func (d *Device) httpClient() (*resty.Client, *url.Userinfo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		d.client = resty.New().
			SetTimeout(Timeout).
			SetHeader("User-Agent", UserAgent).
			SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
		if d.user != nil {
			pass, _ := d.user.Password()
			d.client.SetDigestAuth(d.user.Username(), pass)
		}
	}

	return d.client, d.user
}

// redactURL - some cameras return snapshot uri with user and password inside
func redactURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if u, e := url.Parse(urlErr.URL); e == nil {
			urlErr.URL = u.Redacted()
		}
	}
	return err
}
