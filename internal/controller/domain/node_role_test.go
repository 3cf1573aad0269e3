package domain

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodeRole(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		roles    []Role
		instance string
		cloud    string
	}{
		{name: "single role", input: "ip1:pip1:shadow:i1:cloud1", roles: []Role{RoleShadow}, instance: "i1", cloud: "cloud1"},
		{name: "many roles any order", input: "ip2:pip2:appengine:db_master:shadow:i-abc:cloud2", roles: []Role{RoleDBMaster, RoleShadow, RoleAppEngine}, instance: "i-abc", cloud: "cloud2"},
		{name: "legacy key file", input: "ip3:pip3:load_balancer:i3:cloud1:mykey.key", roles: []Role{RoleLoadBalancer}, instance: "i3", cloud: "cloud1"},
		{name: "no roles", input: "ip4:pip4:i4:cloud3", roles: []Role{RoleOpen}, instance: "i4", cloud: "cloud3"},
		{name: "addresses only", input: "ip5:pip5", roles: []Role{RoleOpen}},
		{name: "unknown tokens ignored", input: "ip6:pip6:babel:zookeeper:i6:cloud1", roles: []Role{RoleZookeeper}, instance: "i6", cloud: "cloud1"},
		{name: "cloud shaped instance id", input: "ip7:pip7:shadow:cloud9:cloud1", roles: []Role{RoleShadow}, instance: "cloud9", cloud: "cloud1"},
		{name: "cloud shaped instance id with key file", input: "ip7:pip7:shadow:cloud9:cloud1:mykey.key", roles: []Role{RoleShadow}, instance: "cloud9", cloud: "cloud1"},
		{name: "lone cloud token is the cloud", input: "ip8:pip8:memcache:cloud4", roles: []Role{RoleMemcache}, cloud: "cloud4"},
		{name: "no cloud token", input: "ip9:pip9:memcache:i9", roles: []Role{RoleMemcache}, instance: "i9"},
		{name: "cloud token out of place", input: "ip10:pip10:cloud1:shadow:i10", roles: []Role{RoleShadow}, instance: "i10"},
		{name: "role after cloud token", input: "ip11:pip11:i11:cloud2:shadow", roles: []Role{RoleShadow}, instance: "cloud2"},
		{name: "empty instance and cloud", input: "ip12:pip12:shadow::", roles: []Role{RoleShadow}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := ParseNodeRole(tc.input, "deploykey")
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.roles, n.Roles())
			assert.Equal(t, tc.instance, n.InstanceID)
			assert.Equal(t, tc.cloud, n.CloudID)
		})
	}
}

func TestParseNodeRoleRejectsMalformedStrings(t *testing.T) {
	for _, input := range []string{"", "ip-only", ":pip", "ip:pip:shadow:i1:mykey.key"} {
		_, err := ParseNodeRole(input, "k")
		if !errors.Is(err, ErrMalformedRoleString) {
			t.Fatalf("ParseNodeRole(%q) error = %v, want ErrMalformedRoleString", input, err)
		}
	}
}

func TestNodeRoleRoundTrip(t *testing.T) {
	vocabulary := []Role{
		RoleShadow, RoleLoadBalancer, RoleDBMaster, RoleDBSlave, RoleZookeeper,
		RoleMemcache, RoleTaskQueueMaster, RoleTaskQueueSlave, RoleLogin, RoleSearch, RoleAppEngine,
	}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		var picked []string
		for _, r := range vocabulary {
			if rng.Intn(3) == 0 {
				picked = append(picked, string(r))
			}
		}
		rng.Shuffle(len(picked), func(a, b int) { picked[a], picked[b] = picked[b], picked[a] })

		fields := append([]string{"10.0.0.1", "192.168.0.1"}, picked...)
		fields = append(fields, "i-0001", "cloud1")
		input := strings.Join(fields, ":")

		first, err := ParseNodeRole(input, "k")
		require.NoError(t, err)
		second, err := ParseNodeRole(first.Serialize(), "k")
		require.NoError(t, err)

		assert.ElementsMatch(t, first.Roles(), second.Roles(), "input %q", input)
		assert.Equal(t, first.PublicIP, second.PublicIP)
		assert.Equal(t, first.PrivateIP, second.PrivateIP)
		assert.Equal(t, first.InstanceID, second.InstanceID)
		assert.Equal(t, first.CloudID, second.CloudID)
		assert.Equal(t, first.Fingerprint(), second.Fingerprint())
	}
}

func TestOpenSentinelInvariant(t *testing.T) {
	vocabulary := []Role{RoleShadow, RoleDBMaster, RoleAppEngine, RoleOpen, RoleZookeeper}
	rng := rand.New(rand.NewSource(7))
	n := NewNodeRole("ip", "pip", "i", "cloud1", "k")

	for i := 0; i < 500; i++ {
		r := vocabulary[rng.Intn(len(vocabulary))]
		if rng.Intn(2) == 0 {
			n.AddRoles(r)
		} else {
			n.RemoveRoles(r)
		}

		roles := n.Roles()
		require.NotEmpty(t, roles)
		if n.HasRole(RoleOpen) {
			require.Equal(t, []Role{RoleOpen}, roles)
		} else {
			require.NotContains(t, roles, RoleOpen)
		}
	}
}

func TestSerializePutsAppEngineLast(t *testing.T) {
	n := NewNodeRole("ip", "pip", "i1", "cloud1", "k", RoleAppEngine, RoleZookeeper, RoleDBMaster)
	assert.Equal(t, "ip:pip:db_master:zookeeper:appengine:i1:cloud1", n.Serialize())
}

func TestJobDataRoundTrip(t *testing.T) {
	created := time.Unix(1700000000, 0).UTC()
	destroyed := created.Add(time.Hour)
	n := NewNodeRole("ip1", "pip1", "i1", "cloud1", "k", RoleShadow, RoleDBMaster)
	n.CreationTime = &created
	n.DestructionTime = &destroyed

	data, err := n.MarshalJobData()
	require.NoError(t, err)

	decoded, err := UnmarshalJobData(data, "other-key")
	require.NoError(t, err)
	assert.ElementsMatch(t, n.Roles(), decoded.Roles())
	assert.Equal(t, SSHKeyPath("cloud1", "other-key"), decoded.SSHKeyPath)
	require.NotNil(t, decoded.DestructionTime)
	assert.True(t, decoded.LeaseExpired(destroyed))
	assert.False(t, decoded.LeaseExpired(created))
	assert.Equal(t, n.Fingerprint(), decoded.Fingerprint())
}

func TestDiffRoles(t *testing.T) {
	start, stop := DiffRoles(
		[]Role{RoleShadow, RoleAppEngine},
		[]Role{RoleOpen, RoleAppEngine, RoleMemcache},
	)
	assert.Equal(t, []Role{RoleShadow}, start)
	assert.Equal(t, []Role{RoleMemcache}, stop)
}
