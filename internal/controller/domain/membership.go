package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Membership is the deployment-wide address list with its change timestamp.
type Membership struct {
	IPs         []string `json:"ips"`
	LastUpdated int64    `json:"last_updated"`
}

// NewMembership builds a membership with deduplicated, sorted addresses.
func NewMembership(ips []string, lastUpdated int64) Membership {
	m := Membership{LastUpdated: lastUpdated}
	m.IPs = normalizeIPs(ips)
	return m
}

// Contains reports whether ip is a member.
func (m Membership) Contains(ip string) bool {
	for _, have := range m.IPs {
		if have == ip {
			return true
		}
	}
	return false
}

// Without returns a copy with the given addresses removed.
func (m Membership) Without(ips ...string) Membership {
	drop := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		drop[ip] = struct{}{}
	}
	kept := make([]string, 0, len(m.IPs))
	for _, ip := range m.IPs {
		if _, ok := drop[ip]; !ok {
			kept = append(kept, ip)
		}
	}
	return Membership{IPs: kept, LastUpdated: m.LastUpdated}
}

// With returns a copy with the given addresses added.
func (m Membership) With(ips ...string) Membership {
	all := append(append([]string(nil), m.IPs...), ips...)
	return Membership{IPs: normalizeIPs(all), LastUpdated: m.LastUpdated}
}

// SameAddresses compares address sets, ignoring timestamps.
func (m Membership) SameAddresses(other Membership) bool {
	a, b := normalizeIPs(m.IPs), normalizeIPs(other.IPs)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Fingerprint hashes the sorted address set.
func (m Membership) Fingerprint() uint64 {
	return murmur3.Sum64([]byte(strings.Join(normalizeIPs(m.IPs), ",")))
}

// Marshal encodes the membership for the store.
func (m Membership) Marshal() ([]byte, error) {
	return json.Marshal(Membership{IPs: normalizeIPs(m.IPs), LastUpdated: m.LastUpdated})
}

// UnmarshalMembership decodes the store representation.
func UnmarshalMembership(data []byte) (Membership, error) {
	var m Membership
	if err := json.Unmarshal(data, &m); err != nil {
		return Membership{}, fmt.Errorf("decode membership: %w", err)
	}
	m.IPs = normalizeIPs(m.IPs)
	return m, nil
}

func normalizeIPs(ips []string) []string {
	seen := make(map[string]struct{}, len(ips))
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			continue
		}
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	sort.Strings(out)
	return out
}
