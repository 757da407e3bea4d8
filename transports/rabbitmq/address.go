package rabbitmq

import (
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the URI scheme handled by this transport
const Scheme = "rabbitmq"

// Address is a parsed rabbitmq:// destination
type Address struct {
	Exchange   string
	RoutingKey string
}

// ParseAddress accepts rabbitmq://exchange/<exchange>/<routing-key> and rabbitmq://queue/<queue>.
// A queue address publishes through the default exchange with the queue name as routing key.
func ParseAddress(uri *url.URL) (Address, error) {
	if uri == nil {
		return Address{}, fmt.Errorf("%w: nil uri", ErrInvalidAddress)
	}
	if uri.Scheme != Scheme {
		return Address{}, fmt.Errorf("%w: unexpected scheme %q", ErrInvalidAddress, uri.Scheme)
	}

	segments := strings.Split(strings.Trim(uri.Path, "/"), "/")
	switch uri.Host {
	case "exchange":
		if len(segments) == 0 || segments[0] == "" {
			return Address{}, fmt.Errorf("%w: missing exchange in %s", ErrInvalidAddress, uri)
		}
		addr := Address{Exchange: segments[0]}
		if len(segments) > 1 {
			addr.RoutingKey = strings.Join(segments[1:], "/")
		}
		return addr, nil

	case "queue":
		if len(segments) != 1 || segments[0] == "" {
			return Address{}, fmt.Errorf("%w: expected a single queue name in %s", ErrInvalidAddress, uri)
		}
		return Address{RoutingKey: segments[0]}, nil

	default:
		return Address{}, fmt.Errorf("%w: unknown kind %q in %s", ErrInvalidAddress, uri.Host, uri)
	}
}
