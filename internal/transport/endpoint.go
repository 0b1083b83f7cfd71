package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

var ErrInvalidEndpoint = errors.New("invalid endpoint")

// ResolveEndpoint returns the host:port to dial. endpoint wins when set and
// may be either host:port or a multiaddr such as /dns4/example.com/tcp/4444.
func ResolveEndpoint(endpoint, host string, port int) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case strings.HasPrefix(endpoint, "/"):
		return fromMultiaddr(endpoint)
	case endpoint != "":
		h, p, err := net.SplitHostPort(endpoint)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
		}
		if err := validatePort(p); err != nil {
			return "", err
		}
		if strings.TrimSpace(h) == "" {
			return "", fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
		}
		return endpoint, nil
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	if port <= 0 || port > 65535 {
		return "", fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, port)
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// ServerName is the TLS server name for a host:port address.
func ServerName(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func fromMultiaddr(raw string) (string, error) {
	addr, err := ma.NewMultiaddr(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	network, hostport, err := manet.DialArgs(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	switch network {
	case "tcp", "tcp4", "tcp6":
		return hostport, nil
	default:
		return "", fmt.Errorf("%w: unsupported network %q", ErrInvalidEndpoint, network)
	}
}

func validatePort(raw string) error {
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("%w: bad port %q", ErrInvalidEndpoint, raw)
	}
	return nil
}
