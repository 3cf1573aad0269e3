package service

import (
	"sort"
	"sync"
	"time"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
)

// ControllerState is everything one controller caches about the deployment.
// The coordination store stays the source of truth; this is the local view.
type ControllerState struct {
	mu sync.RWMutex

	secret    string
	publicIP  string
	privateIP string
	bootID    string
	startedAt time.Time

	configured   bool
	credentials  domain.Credentials
	appNames     []string
	nodes        map[string]*domain.NodeRole
	lastObserved int64
	doneLoading  bool
	applyPending bool
	killed       bool

	// released holds protected roles removed through the API that may still run
	// locally until their stop succeeds.
	released map[domain.Role]struct{}
}

func NewControllerState(secret, publicIP, bootID string) *ControllerState {
	return &ControllerState{
		secret:      secret,
		publicIP:    publicIP,
		bootID:      bootID,
		startedAt:   time.Now(),
		credentials: domain.Credentials{},
		nodes:       make(map[string]*domain.NodeRole),
		released:    make(map[domain.Role]struct{}),
	}
}

func (s *ControllerState) Secret() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secret
}

func (s *ControllerState) PublicIP() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publicIP
}

func (s *ControllerState) KeyName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credentials.KeyName()
}

func (s *ControllerState) Configured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configured
}

// configure records the outcome of setParameters. self is the caller's own entry.
func (s *ControllerState) configure(self *domain.NodeRole, creds domain.Credentials, appNames []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured = true
	s.publicIP = self.PublicIP
	s.privateIP = self.PrivateIP
	s.credentials = creds
	s.appNames = append([]string(nil), appNames...)
	if _, ok := s.nodes[self.PublicIP]; !ok {
		s.nodes[self.PublicIP] = self.Clone()
	}
}

// Self returns a copy of this controller's own node, or nil before configuration.
func (s *ControllerState) Self() *domain.NodeRole {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[s.publicIP]
	if !ok {
		return nil
	}
	return n.Clone()
}

// Nodes returns copies of the cached nodes ordered by public address.
func (s *ControllerState) Nodes() []*domain.NodeRole {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedNodes(s.nodes)
}

func (s *ControllerState) nodeMap() map[string]*domain.NodeRole {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.NodeRole, len(s.nodes))
	for ip, n := range s.nodes {
		out[ip] = n.Clone()
	}
	return out
}

func (s *ControllerState) replaceNodes(nodes map[string]*domain.NodeRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*domain.NodeRole, len(nodes))
	for ip, n := range nodes {
		s.nodes[ip] = n.Clone()
	}
}

func (s *ControllerState) putNode(n *domain.NodeRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.PublicIP] = n.Clone()
}

func (s *ControllerState) recordFailure(ip string, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[ip]; ok {
		n.FailedHeartbeats = failed
	}
}

func (s *ControllerState) LastObserved() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastObserved
}

func (s *ControllerState) observe(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastObserved = ts
}

func (s *ControllerState) DoneLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doneLoading
}

func (s *ControllerState) setDoneLoading(done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doneLoading = done
}

func (s *ControllerState) ApplyPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applyPending
}

func (s *ControllerState) setApplyPending(pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyPending = pending
}

func (s *ControllerState) releaseRoles(roles []domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range roles {
		if domain.IsProtectedRole(r) {
			s.released[r] = struct{}{}
		}
	}
}

func (s *ControllerState) reclaimRoles(roles []domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range roles {
		delete(s.released, r)
	}
}

// Released reports whether r was removed through the API and not re-added since.
func (s *ControllerState) Released(r domain.Role) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.released[r]
	return ok
}

// settleReleased forgets released roles that no longer run.
func (s *ControllerState) settleReleased(running []domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	still := make(map[domain.Role]struct{}, len(running))
	for _, r := range running {
		still[r] = struct{}{}
	}
	for r := range s.released {
		if _, ok := still[r]; !ok {
			delete(s.released, r)
		}
	}
}

func (s *ControllerState) AppNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.appNames...)
}

// Killed reports whether a kill was requested.
func (s *ControllerState) Killed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.killed
}

func (s *ControllerState) kill() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	already := s.killed
	s.killed = true
	return !already
}

func (s *ControllerState) identity() (publicIP, privateIP, bootID string, uptime time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publicIP, s.privateIP, s.bootID, time.Since(s.startedAt)
}

func sortedNodes(nodes map[string]*domain.NodeRole) []*domain.NodeRole {
	out := make([]*domain.NodeRole, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicIP < out[j].PublicIP })
	return out
}

func (s *ControllerState) node(ip string) *domain.NodeRole {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.nodes[ip]; ok {
		return n.Clone()
	}
	return nil
}
