package middleware

import (
	"net"

	"github.com/labstack/echo/v4"
)

// IPExtractor picks how c.RealIP() finds the client. With no trusted proxies
// it is the TCP peer and forwarding headers are ignored. Otherwise
// X-Forwarded-For is walked from the right and only hops inside trusted are
// skipped.
func IPExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	options := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, network := range trusted {
		options = append(options, echo.TrustIPRange(network))
	}
	return echo.ExtractIPFromXFFHeader(options...)
}
