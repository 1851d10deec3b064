package metastore

import (
	"net/url"
	"strings"

	"github.com/teranos/tablescan/errors"
)

// HostPlaceholder in the instance component of a service principal is
// replaced with the metadata service host when connecting.
const HostPlaceholder = "_HOST"

// ServerPrincipal expands principal ("service/instance@REALM") for the
// service at address. Only an instance equal to HostPlaceholder is replaced,
// with the lower-cased host of address. An empty principal stays empty.
func ServerPrincipal(principal, address string) (string, error) {
	if principal == "" {
		return "", nil
	}

	service, rest, ok := strings.Cut(principal, "/")
	if !ok {
		return principal, nil
	}
	instance, realm, hasRealm := strings.Cut(rest, "@")
	if instance != HostPlaceholder {
		return principal, nil
	}

	host, err := addressHost(address)
	if err != nil {
		return "", err
	}

	expanded := service + "/" + strings.ToLower(host)
	if hasRealm {
		expanded += "@" + realm
	}
	return expanded, nil
}

func addressHost(address string) (string, error) {
	u, err := url.Parse(address)
	if err == nil && u.Host != "" {
		return u.Hostname(), nil
	}
	// bare host:port
	u, err = url.Parse("//" + address)
	if err != nil || u.Hostname() == "" {
		return "", errors.WithHint(
			errors.NewInvalidRequestError("cannot substitute %s: no host in address %q", HostPlaceholder, address),
			"use an address like meta://host:9083")
	}
	return u.Hostname(), nil
}
