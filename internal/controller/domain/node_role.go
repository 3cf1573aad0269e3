package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"
)

// KeyDirectory is where per-cloud SSH keys live on every node.
const KeyDirectory = "/etc/appscale/keys"

var ErrMalformedRoleString = errors.New("malformed role string")

var cloudTokenPattern = regexp.MustCompile(`^cloud\d+$`)

const legacyKeySuffix = ".key"

// NodeRole describes one machine of the deployment.
type NodeRole struct {
	PublicIP         string
	PrivateIP        string
	InstanceID       string
	CloudID          string
	SSHKeyPath       string
	CreationTime     *time.Time
	DestructionTime  *time.Time
	FailedHeartbeats int

	roles []Role
}

// NewNodeRole builds a node with the given roles; an empty role list yields {open}.
func NewNodeRole(publicIP, privateIP, instanceID, cloudID, keyName string, roles ...Role) *NodeRole {
	n := &NodeRole{
		PublicIP:   publicIP,
		PrivateIP:  privateIP,
		InstanceID: instanceID,
		CloudID:    cloudID,
		SSHKeyPath: SSHKeyPath(cloudID, keyName),
		roles:      []Role{RoleOpen},
	}
	n.AddRoles(roles...)
	return n
}

// SSHKeyPath derives the key location for a cloud and deployment key name.
func SSHKeyPath(cloudID, keyName string) string {
	if cloudID == "" || keyName == "" {
		return ""
	}
	return filepath.Join(KeyDirectory, cloudID, keyName+".key")
}

// ParseNodeRole parses publicIP:privateIP:role1:...:instanceId:cloud[:keyfile].
// Role tags are matched against the whitelist. The cloud token is only looked for
// in the last position, or second to last when a legacy key file follows it.
// Other unrecognized tokens are instance id candidates and the last one wins.
func ParseNodeRole(roleString, keyName string) (*NodeRole, error) {
	parts := strings.Split(strings.TrimSpace(roleString), ":")
	if len(parts) < 2 || parts[0] == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRoleString, roleString)
	}

	tail := parts[2:]
	var cloud string
	switch n := len(tail); {
	case n >= 1 && cloudTokenPattern.MatchString(tail[n-1]):
		cloud, tail = tail[n-1], tail[:n-1]
	case n >= 2 && cloudTokenPattern.MatchString(tail[n-2]) && !IsKnownRole(Role(tail[n-1])):
		cloud, tail = tail[n-2], tail[:n-2]
	case n >= 1 && strings.HasSuffix(tail[n-1], legacyKeySuffix):
		return nil, fmt.Errorf("%w: key file without cloud in %q", ErrMalformedRoleString, roleString)
	}

	var (
		roles    []Role
		instance string
	)
	for _, tok := range tail {
		switch {
		case tok == "":
		case IsKnownRole(Role(tok)):
			roles = append(roles, Role(tok))
		default:
			instance = tok
		}
	}

	return NewNodeRole(parts[0], parts[1], instance, cloud, keyName, roles...), nil
}

// Serialize renders the node back into its colon-delimited wire form.
func (n *NodeRole) Serialize() string {
	fields := make([]string, 0, len(n.roles)+4)
	fields = append(fields, n.PublicIP, n.PrivateIP)
	fields = append(fields, RoleStrings(n.Roles())...)
	fields = append(fields, n.InstanceID, n.CloudID)
	return strings.Join(fields, ":")
}

func (n *NodeRole) String() string {
	return n.Serialize()
}

// Roles returns a sorted copy of the role set.
func (n *NodeRole) Roles() []Role {
	out := make([]Role, len(n.roles))
	copy(out, n.roles)
	SortRoles(out)
	return out
}

// HasRole reports whether the node carries the given role.
func (n *NodeRole) HasRole(r Role) bool {
	for _, have := range n.roles {
		if have == r {
			return true
		}
	}
	return false
}

// IsOpen reports whether the node has no real role.
func (n *NodeRole) IsOpen() bool {
	return n.HasRole(RoleOpen)
}

// AddRoles unions roles into the set. Adding any real role drops open.
func (n *NodeRole) AddRoles(roles ...Role) {
	for _, r := range roles {
		if r == RoleOpen || n.HasRole(r) {
			continue
		}
		n.roles = append(n.roles, r)
	}
	n.normalize()
}

// RemoveRoles subtracts roles from the set. Removing the last real role reverts to open.
func (n *NodeRole) RemoveRoles(roles ...Role) {
	drop := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		drop[r] = struct{}{}
	}
	kept := n.roles[:0]
	for _, r := range n.roles {
		if _, ok := drop[r]; !ok {
			kept = append(kept, r)
		}
	}
	n.roles = kept
	n.normalize()
}

// RealRoles returns the roles excluding the open sentinel.
func (n *NodeRole) RealRoles() []Role {
	out := make([]Role, 0, len(n.roles))
	for _, r := range n.Roles() {
		if r != RoleOpen {
			out = append(out, r)
		}
	}
	return out
}

func (n *NodeRole) normalize() {
	assigned := 0
	for _, r := range n.roles {
		if r != RoleOpen {
			assigned++
		}
	}
	if assigned == 0 {
		n.roles = []Role{RoleOpen}
		return
	}
	kept := make([]Role, 0, assigned)
	for _, r := range n.roles {
		if r != RoleOpen {
			kept = append(kept, r)
		}
	}
	n.roles = kept
}

// LeaseExpired reports whether the node has a destruction time in the past.
func (n *NodeRole) LeaseExpired(now time.Time) bool {
	return n.DestructionTime != nil && !now.Before(*n.DestructionTime)
}

// Clone returns a deep copy.
func (n *NodeRole) Clone() *NodeRole {
	c := *n
	c.roles = append([]Role(nil), n.roles...)
	if n.CreationTime != nil {
		t := *n.CreationTime
		c.CreationTime = &t
	}
	if n.DestructionTime != nil {
		t := *n.DestructionTime
		c.DestructionTime = &t
	}
	return &c
}

// Fingerprint hashes the fields shared through the coordination store.
func (n *NodeRole) Fingerprint() uint64 {
	var b strings.Builder
	b.WriteString(n.Serialize())
	if n.CreationTime != nil {
		fmt.Fprintf(&b, "|c%d", n.CreationTime.Unix())
	}
	if n.DestructionTime != nil {
		fmt.Fprintf(&b, "|d%d", n.DestructionTime.Unix())
	}
	return murmur3.Sum64([]byte(b.String()))
}

// NodeRecord is the JSON shape stored under job_data and returned by role info queries.
type NodeRecord struct {
	PublicIP        string   `json:"public_ip"`
	PrivateIP       string   `json:"private_ip"`
	Jobs            []string `json:"jobs"`
	InstanceID      string   `json:"instance_id"`
	CloudID         string   `json:"cloud"`
	SSHKey          string   `json:"ssh_key,omitempty"`
	CreationTime    *int64   `json:"creation_time,omitempty"`
	DestructionTime *int64   `json:"destruction_time,omitempty"`
}

// ToRecord converts the node to its store representation.
func (n *NodeRole) ToRecord() NodeRecord {
	rec := NodeRecord{
		PublicIP:   n.PublicIP,
		PrivateIP:  n.PrivateIP,
		Jobs:       RoleStrings(n.Roles()),
		InstanceID: n.InstanceID,
		CloudID:    n.CloudID,
		SSHKey:     n.SSHKeyPath,
	}
	if n.CreationTime != nil {
		ts := n.CreationTime.Unix()
		rec.CreationTime = &ts
	}
	if n.DestructionTime != nil {
		ts := n.DestructionTime.Unix()
		rec.DestructionTime = &ts
	}
	return rec
}

// FromRecord rebuilds a node from its store representation. The SSH key path is
// recomputed locally, never taken from the record.
func FromRecord(rec NodeRecord, keyName string) *NodeRole {
	roles := make([]Role, 0, len(rec.Jobs))
	for _, j := range rec.Jobs {
		if IsKnownRole(Role(j)) {
			roles = append(roles, Role(j))
		}
	}
	n := NewNodeRole(rec.PublicIP, rec.PrivateIP, rec.InstanceID, rec.CloudID, keyName, roles...)
	if rec.CreationTime != nil {
		t := time.Unix(*rec.CreationTime, 0).UTC()
		n.CreationTime = &t
	}
	if rec.DestructionTime != nil {
		t := time.Unix(*rec.DestructionTime, 0).UTC()
		n.DestructionTime = &t
	}
	return n
}

// MarshalJobData encodes the node for the job_data entry.
func (n *NodeRole) MarshalJobData() ([]byte, error) {
	return json.Marshal(n.ToRecord())
}

// UnmarshalJobData decodes a job_data entry.
func UnmarshalJobData(data []byte, keyName string) (*NodeRole, error) {
	var rec NodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode job data: %w", err)
	}
	if rec.PublicIP == "" {
		return nil, fmt.Errorf("%w: job data without public ip", ErrMalformedRoleString)
	}
	return FromRecord(rec, keyName), nil
}
