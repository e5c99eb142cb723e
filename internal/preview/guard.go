package preview

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrBlocked возвращается для адресов внутренней сети.
var ErrBlocked = errors.New("address is blocked")

// Resolver разрешает имя хоста в адреса.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Диапазоны, которые не покрывают методы net.IP: "эта сеть" и shared address space операторов (CGNAT).
var blockedNets = []*net.IPNet{
	mustCIDR("0.0.0.0/8"),
	mustCIDR("100.64.0.0/10"),
}

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// IsBlockedIP сообщает, что адрес относится к loopback, частной, link-local или служебной сети.
func IsBlockedIP(ip net.IP) bool {
	for _, n := range blockedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast()
}

// checkHost разрешает хост и отклоняет его, если хотя бы один адрес внутренний.
func checkHost(ctx context.Context, r Resolver, host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if IsBlockedIP(ip) {
			return fmt.Errorf("%w: %s", ErrBlocked, host)
		}
		return nil
	}
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", ErrFetch, host, err)
	}
	for _, a := range addrs {
		if IsBlockedIP(a.IP) {
			return fmt.Errorf("%w: %s resolves to %s", ErrBlocked, host, a.IP)
		}
	}
	return nil
}

// dialControl проверяет адрес непосредственно перед соединением,
// так что перенаправления и повторное разрешение имени не обходят проверку.
func dialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("%w: unresolved address %s", ErrBlocked, address)
	}
	if IsBlockedIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlocked, ip)
	}
	return nil
}
