package facts

import "net"

// netInterfaces returns one address string per interface that has at least
// one address, skipping loopback and down interfaces.
func netInterfaces() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		out = append(out, iface.Name+"="+addrs[0].String())
	}
	return out, nil
}
