package rtmp

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/url"
	"strings"
)

// Target - parsed RTMP URL
type Target struct {
	Address string // host:port
	App     string
	Stream  string
	TcURL   string // URL without stream name

	tls *tls.Config
}

// ParseURL - rtmp://host[:port]/app[/stream][?query], rtmps and rtmpx (TLS without verify)
// or bare host[:port]
func ParseURL(rawURL string) (*Target, error) {
	if !strings.Contains(rawURL, "://") {
		u := &url.URL{Scheme: "rtmp", Host: rawURL}
		if _, _, err := net.SplitHostPort(rawURL); err != nil {
			u.Host += ":" + DefaultPort
		}
		return &Target{Address: u.Host, TcURL: u.String()}, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	t := &Target{}

	hostname := u.Hostname()

	switch u.Scheme {
	case "rtmp":
		t.Address = joinPort(u, DefaultPort)
	case "rtmps", "rtmpx":
		t.Address = joinPort(u, DefaultTLSPort)
		if u.Scheme == "rtmpx" || net.ParseIP(hostname) != nil {
			t.tls = &tls.Config{InsecureSkipVerify: true}
		} else {
			t.tls = &tls.Config{ServerName: hostname}
		}
	default:
		return nil, errors.New("rtmp: unsupported scheme: " + u.Scheme)
	}

	if args := strings.Split(u.Path, "/"); len(args) >= 2 {
		t.App = args[1]
		if len(args) >= 3 {
			t.Stream = args[2]
			if u.RawQuery != "" {
				t.Stream += "?" + u.RawQuery
			}
		}
	}

	scheme := u.Scheme
	if scheme == "rtmpx" {
		scheme = "rtmps"
	}
	t.TcURL = scheme + "://" + u.Host + "/" + t.App

	return t, nil
}

func joinPort(u *url.URL, port string) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// Dial - TCP connection with TLS handshake for secure schemes
func (t *Target) Dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return nil, err
	}

	if t.tls == nil {
		return conn, nil
	}

	tlsConn := tls.Client(conn, t.tls)
	if err = tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return tlsConn, nil
}
