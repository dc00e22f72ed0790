package nmapscan

import (
	"net/netip"
	"os"
	"slices"
	"sort"
	"strconv"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/taskpipe/internal/errors"
)

// Report is the part of an nmap XML report the CLI prints.
type Report struct {
	Hosts []Host
	Up    int
	Down  int
	Total int
}

// Host is a host that was up during the scan.
type Host struct {
	Addresses []string
	Hostnames []string
	Ports     []Port
	Hops      []Hop
}

// Port is one scanned port.
type Port struct {
	ID       uint16
	Protocol string
	State    string
	Service  string
	Product  string
	Version  string
}

// Hop is one traceroute hop.
type Hop struct {
	Index int
	Addr  string
	Host  string
	RTTMs float64
}

// OpenPorts returns the numbers of the host's open ports.
func (h Host) OpenPorts() []uint16 {
	var open []uint16
	for _, p := range h.Ports {
		if p.State == "open" {
			open = append(open, p.ID)
		}
	}
	return open
}

// ParseReport reads the nmap XML report at path.
func ParseReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapTaskError(errors.CodeFileNotFound, "Scan report not found", err).
				WithContext("path", path)
		}
		return nil, errors.WrapTaskError(errors.CodeUnknown, "Failed to read scan report", err).
			WithContext("path", path)
	}

	run := &nmap.Run{}
	if err := nmap.Parse(data, run); err != nil {
		return nil, errors.WrapTaskError(errors.CodeMalformedLine, "Failed to parse scan report", err).
			WithContext("path", path)
	}
	return newReport(run), nil
}

func newReport(run *nmap.Run) *Report {
	report := &Report{
		Up:    run.Stats.Hosts.Up,
		Down:  run.Stats.Hosts.Down,
		Total: run.Stats.Hosts.Total,
	}
	for i := range run.Hosts {
		h := &run.Hosts[i]
		if h.Status.State != "up" {
			continue
		}
		report.Hosts = append(report.Hosts, convertHost(h))
	}
	return report
}

func convertHost(h *nmap.Host) Host {
	host := Host{}
	for _, a := range h.Addresses {
		host.Addresses = append(host.Addresses, a.Addr)
	}
	for _, n := range h.Hostnames {
		host.Hostnames = append(host.Hostnames, n.Name)
	}
	for _, p := range h.Ports {
		host.Ports = append(host.Ports, Port{
			ID:       p.ID,
			Protocol: p.Protocol,
			State:    p.State.State,
			Service:  p.Service.Name,
			Product:  p.Service.Product,
			Version:  p.Service.Version,
		})
	}
	for _, hop := range h.Trace.Hops {
		rtt, _ := strconv.ParseFloat(hop.RTT, 64)
		host.Hops = append(host.Hops, Hop{
			Index: int(hop.TTL) - 1,
			Addr:  hop.IPAddr,
			Host:  hop.Host,
			RTTMs: rtt,
		})
	}
	sort.SliceStable(host.Hops, func(i, j int) bool {
		a, b := host.Hops[i], host.Hops[j]
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return a.RTTMs < b.RTTMs
	})
	return host
}

// AllAddresses returns every host and hop address in the report, sorted and
// without duplicates.
func (r *Report) AllAddresses() []string {
	seen := make(map[string]netip.Addr)
	add := func(s string) {
		if addr, err := netip.ParseAddr(s); err == nil {
			seen[addr.String()] = addr
		}
	}
	for _, h := range r.Hosts {
		for _, a := range h.Addresses {
			add(a)
		}
		for _, hop := range h.Hops {
			add(hop.Addr)
		}
	}

	addrs := make([]netip.Addr, 0, len(seen))
	for _, a := range seen {
		addrs = append(addrs, a)
	}
	slices.SortFunc(addrs, func(a, b netip.Addr) int { return a.Compare(b) })

	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
