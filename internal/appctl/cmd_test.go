package appctl

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRPC struct {
	mu       sync.Mutex
	requests map[string]map[string]any
	replies  map[string]string
}

func newFakeRPC(t *testing.T, replies map[string]string) (*fakeRPC, *httptest.Server) {
	t.Helper()
	f := &fakeRPC{requests: make(map[string]map[string]any), replies: replies}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/rpc/")
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.requests[method] = body
		f.mu.Unlock()

		reply, ok := f.replies[method]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if body["secret"] != "s3cret" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("Error: bad secret"))
			return
		}
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeRPC) request(method string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[method]
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var out bytes.Buffer
	cmd := NewRootCommand(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRoleInfoCommand(t *testing.T) {
	_, srv := newFakeRPC(t, map[string]string{
		"get_role_info": `[{"public_ip":"ip1","private_ip":"pip1","jobs":["shadow"]},{"public_ip":"ip2","private_ip":"pip2","jobs":["memcache","appengine"]}]`,
	})

	out, err := run(t, "--server", srv.URL, "--secret", "s3cret", "role-info")
	require.NoError(t, err)
	assert.Equal(t, "ip1\tpip1\tshadow\nip2\tpip2\tmemcache,appengine\n", out)
}

func TestPublicIPsAndDone(t *testing.T) {
	_, srv := newFakeRPC(t, map[string]string{
		"get_all_public_ips": `["ip1","ip2"]`,
		"done":               `true`,
	})

	out, err := run(t, "--server", srv.URL, "--secret", "s3cret", "public-ips")
	require.NoError(t, err)
	assert.Equal(t, "ip1\nip2\n", out)

	out, err = run(t, "--server", srv.URL, "--secret", "s3cret", "done")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)
}

func TestAddRoleSendsRole(t *testing.T) {
	rpc, srv := newFakeRPC(t, map[string]string{"add_role": "OK"})

	out, err := run(t, "--server", srv.URL, "--secret", "s3cret", "add-role", "memcache")
	require.NoError(t, err)
	assert.Equal(t, "OK\n", out)
	assert.Equal(t, "memcache", rpc.request("add_role")["role"])
}

func TestMutationErrorReply(t *testing.T) {
	_, srv := newFakeRPC(t, map[string]string{"remove_role": "Error: unknown role: bogus"})

	_, err := run(t, "--server", srv.URL, "--secret", "s3cret", "remove-role", "bogus")
	require.ErrorIs(t, err, ErrRPC)
	assert.Contains(t, err.Error(), "unknown role: bogus")
}

func TestSecretFromEnvironment(t *testing.T) {
	_, srv := newFakeRPC(t, map[string]string{"kill": "OK"})
	t.Setenv("APPCTL_SECRET", "s3cret")

	_, err := run(t, "--server", srv.URL, "kill")
	require.NoError(t, err)
}

func TestBadSecret(t *testing.T) {
	_, srv := newFakeRPC(t, map[string]string{"status": `{}`})

	_, err := run(t, "--server", srv.URL, "--secret", "wrong", "status")
	require.ErrorIs(t, err, ErrRPC)
	assert.Contains(t, err.Error(), "bad secret")
}

func TestConfigFile(t *testing.T) {
	_, srv := newFakeRPC(t, map[string]string{"status": `{"public_ip":"ip1","deployment_ready":true}`})
	path := filepath.Join(t.TempDir(), "appctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: "+srv.URL+"\nsecret: s3cret\n"), 0o600))

	out, err := run(t, "--config", path, "status")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "ip1", st["public_ip"])
	assert.Equal(t, true, st["deployment_ready"])
}

func TestSetParametersSendsLists(t *testing.T) {
	rpc, srv := newFakeRPC(t, map[string]string{"set_parameters": "OK"})

	_, err := run(t, "--server", srv.URL, "--secret", "s3cret", "set-parameters",
		"--location", "ip1:pip1:shadow:i1:cloud1",
		"--location", "ip2:pip2:memcache:i2:cloud1",
		"--credentials", "keyname,bookey",
		"--apps", "guestbook")
	require.NoError(t, err)

	req := rpc.request("set_parameters")
	assert.Equal(t, []any{"ip1:pip1:shadow:i1:cloud1", "ip2:pip2:memcache:i2:cloud1"}, req["locations"])
	assert.Equal(t, []any{"keyname", "bookey"}, req["credentials"])
	assert.Equal(t, []any{"guestbook"}, req["app_names"])
}

func TestMissingConfigFileIsAnError(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "status")
	assert.Error(t, err)
}
