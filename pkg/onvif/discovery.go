package onvif

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"golang.org/x/net/ipv4"
)

type ProbeMatch struct {
	XAddrs   []string `json:"xaddrs"`
	Scopes   []string `json:"scopes,omitempty"`
	Types    []string `json:"types,omitempty"`
	Name     string   `json:"name,omitempty"`
	Hardware string   `json:"hardware,omitempty"`
}

const DiscoveryTimeout = 3 * time.Second

var DiscoveryAddr = &net.UDPAddr{IP: net.IP{239, 255, 255, 250}, Port: 3702}

const (
	scopeName     = "onvif://www.onvif.org/name/"
	scopeHardware = "onvif://www.onvif.org/hardware/"
)

// Probe - send WS-Discovery Probe on every multicast interface and collect answers
// until timeout. No answers is not an error.
func Probe(ctx context.Context, timeout time.Duration) ([]*ProbeMatch, error) {
	if timeout <= 0 {
		timeout = DiscoveryTimeout
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, errors.Annotate(err, "onvif: discovery")
	}
	defer conn.Close()

	msg := probeMessage(uuid.NewString())

	var sent int

	pc := ipv4.NewPacketConn(conn)
	for _, iface := range multicastInterfaces() {
		if err = pc.SetMulticastInterface(iface); err != nil {
			continue
		}
		if _, err = pc.WriteTo(msg, nil, DiscoveryAddr); err != nil {
			continue
		}
		sent++
	}

	if sent == 0 {
		// fallback to default route
		if _, err = conn.WriteTo(msg, DiscoveryAddr); err != nil {
			return nil, errors.Annotate(err, "onvif: discovery")
		}
	}

	deadline := time.Now().Add(timeout)
	if t, ok := ctx.Deadline(); ok && t.Before(deadline) {
		deadline = t
	}
	if err = conn.SetReadDeadline(deadline); err != nil {
		return nil, errors.Annotate(err, "onvif: discovery")
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var matches []*ProbeMatch
	seen := map[string]bool{}

	b := make([]byte, 64*1024)
	for {
		n, _, err := conn.ReadFrom(b)
		if err != nil {
			break
		}

		for _, match := range ParseProbeMatches(b[:n]) {
			if seen[match.XAddrs[0]] {
				continue
			}
			seen[match.XAddrs[0]] = true
			matches = append(matches, match)
		}
	}

	if err = ctx.Err(); err != nil {
		return nil, errors.Annotate(err, "onvif: discovery")
	}

	return matches, nil
}

// ParseProbeMatches - parse ProbeMatches message, skip matches without XAddrs
func ParseProbeMatches(b []byte) []*ProbeMatch {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(b); err != nil {
		return nil
	}

	var matches []*ProbeMatch
	for _, el := range doc.FindElements("//ProbeMatch") {
		match := &ProbeMatch{
			XAddrs: strings.Fields(findText(el, "XAddrs")),
			Scopes: strings.Fields(findText(el, "Scopes")),
			Types:  strings.Fields(findText(el, "Types")),
		}
		if len(match.XAddrs) == 0 {
			continue
		}
		for _, scope := range match.Scopes {
			switch {
			case strings.HasPrefix(scope, scopeName):
				match.Name = scopeValue(scope[len(scopeName):])
			case strings.HasPrefix(scope, scopeHardware):
				match.Hardware = scopeValue(scope[len(scopeHardware):])
			}
		}
		matches = append(matches, match)
	}
	return matches
}

func scopeValue(s string) string {
	if v, err := url.PathUnescape(s); err == nil {
		s = v
	}
	return strings.ReplaceAll(s, "_", " ")
}

func multicastInterfaces() []*net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var items []*net.Interface
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}

		addrs, _ := iface.Addrs()
		for _, addr := range addrs {
			if v, ok := addr.(*net.IPNet); ok && v.IP.To4() != nil {
				items = append(items, iface)
				break
			}
		}
	}
	return items
}

func probeMessage(messageID string) []byte {
	return []byte(`<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:a="http://schemas.xmlsoap.org/ws/2004/08/addressing">
	<s:Header>
		<a:Action s:mustUnderstand="1">http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</a:Action>
		<a:MessageID>uuid:` + messageID + `</a:MessageID>
		<a:ReplyTo><a:Address>http://schemas.xmlsoap.org/ws/2004/08/addressing/role/anonymous</a:Address></a:ReplyTo>
		<a:To s:mustUnderstand="1">urn:schemas-xmlsoap-org:ws:2005:04:discovery</a:To>
	</s:Header>
	<s:Body>
		<d:Probe xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery">
			<d:Types xmlns:dn="http://www.onvif.org/ver10/network/wsdl">dn:NetworkVideoTransmitter</d:Types>
		</d:Probe>
	</s:Body>
</s:Envelope>`)
}
