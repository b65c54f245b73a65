package onvif

import (
	"context"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/onvifrelay/onvifrelay/pkg/core"
)

const (
	PTZContinuousMove   = "ContinuousMove"
	PTZStop             = "Stop"
	PTZGotoHomePosition = "GotoHomePosition"
)

// Vector - PanTilt (X, Y) and Zoom (Z) velocity in range [-1, 1]
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type MoveParams struct {
	Speed Vector
	// Timeout - camera stops by itself after this time
	Timeout time.Duration
}

type HomeParams struct {
	ProfileToken string
	Speed        float64
}

func (d *Device) PTZMove(ctx context.Context, params MoveParams) error {
	ptzURL, token, err := d.ptzTarget()
	if err != nil {
		return err
	}

	body := `<tptz:` + PTZContinuousMove + `>
	<tptz:ProfileToken>` + escape(token) + `</tptz:ProfileToken>
	<tptz:Velocity>
		<tt:PanTilt x="` + formatSpeed(params.Speed.X) + `" y="` + formatSpeed(params.Speed.Y) + `"/>
		<tt:Zoom x="` + formatSpeed(params.Speed.Z) + `"/>
	</tptz:Velocity>`
	if params.Timeout > 0 {
		body += `
	<tptz:Timeout>` + formatDuration(params.Timeout) + `</tptz:Timeout>`
	}
	body += `
</tptz:` + PTZContinuousMove + `>`

	_, err = d.Request(ctx, ptzURL, body)
	return errors.Trace(err)
}

func (d *Device) PTZStop(ctx context.Context) error {
	ptzURL, token, err := d.ptzTarget()
	if err != nil {
		return err
	}

	body := `<tptz:` + PTZStop + `>
	<tptz:ProfileToken>` + escape(token) + `</tptz:ProfileToken>
	<tptz:PanTilt>true</tptz:PanTilt>
	<tptz:Zoom>true</tptz:Zoom>
</tptz:` + PTZStop + `>`

	_, err = d.Request(ctx, ptzURL, body)
	return errors.Trace(err)
}

func (d *Device) GotoHomePosition(ctx context.Context, params HomeParams) error {
	ptzURL := d.service("ptz")
	if ptzURL == "" {
		return errors.NotSupportedf("onvif: PTZ")
	}

	speed := formatSpeed(params.Speed)
	body := `<tptz:` + PTZGotoHomePosition + `>
	<tptz:ProfileToken>` + escape(params.ProfileToken) + `</tptz:ProfileToken>
	<tptz:Speed>
		<tt:PanTilt x="` + speed + `" y="` + speed + `"/>
		<tt:Zoom x="` + speed + `"/>
	</tptz:Speed>
</tptz:` + PTZGotoHomePosition + `>`

	_, err := d.Request(ctx, ptzURL, body)
	return errors.Trace(err)
}

func (d *Device) ptzTarget() (ptzURL, token string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ptzURL = d.services["ptz"]; ptzURL == "" {
		return "", "", errors.NotSupportedf("onvif: PTZ")
	}
	if d.profile == nil {
		return "", "", errors.New("onvif: no media profile")
	}
	return ptzURL, d.profile.Token, nil
}

func formatSpeed(speed float64) string {
	return strconv.FormatFloat(core.Between(speed, -1, 1), 'f', 2, 64)
}

// formatDuration - xs:duration, ex. PT1.5S
func formatDuration(d time.Duration) string {
	return "PT" + strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "S"
}
