package gossip

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/anthanhphan/gosdk/logger"
	"github.com/hashicorp/memberlist"
)

// Peer is a controller seen on the gossip layer.
type Peer struct {
	Name     string
	PublicIP string
	// HealthAddr is the host:port of the peer's health endpoint.
	HealthAddr string
}

// Listener receives membership changes. Callbacks run on memberlist's event
// goroutine and must not block.
type Listener interface {
	PeerJoined(p Peer)
	PeerLeft(p Peer)
}

type nodeMeta struct {
	PublicIP   string `json:"public_ip"`
	HealthPort int    `json:"health_port"`
}

// Agent gossips liveness between controllers so a departure is noticed
// before the coordination store session of the departed node expires.
type Agent struct {
	list *memberlist.Memberlist

	publicIP   string
	bindAddr   string
	healthPort int

	mu       sync.RWMutex
	listener Listener
}

var (
	_ memberlist.Delegate      = (*Agent)(nil)
	_ memberlist.EventDelegate = (*Agent)(nil)
)

// NewAgent starts a memberlist instance named after the node's public IP.
func NewAgent(publicIP, bindAddr string, bindPort, healthPort int, listener Listener) (*Agent, error) {
	config := memberlist.DefaultLANConfig()
	config.Name = publicIP
	config.BindAddr = bindAddr
	config.BindPort = bindPort
	config.AdvertisePort = bindPort
	config.LogOutput = io.Discard

	a := &Agent{
		publicIP:   publicIP,
		bindAddr:   bindAddr,
		healthPort: healthPort,
		listener:   listener,
	}
	config.Events = a
	config.Delegate = a

	list, err := memberlist.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	a.list = list
	return a, nil
}

// Join joins the cluster using seed nodes.
func (a *Agent) Join(seeds []string) error {
	if len(seeds) == 0 {
		return nil
	}
	if _, err := a.list.Join(seeds); err != nil {
		return fmt.Errorf("failed to join cluster: %w", err)
	}
	return nil
}

// Leave announces the departure and shuts the agent down.
func (a *Agent) Leave() error {
	if err := a.list.Leave(5 * time.Second); err != nil {
		return err
	}
	return a.list.Shutdown()
}

// SetListener replaces the membership listener.
func (a *Agent) SetListener(l Listener) {
	a.mu.Lock()
	a.listener = l
	a.mu.Unlock()
}

// Members returns the peers currently considered alive, self included.
func (a *Agent) Members() []Peer {
	members := a.list.Members()
	peers := make([]Peer, 0, len(members))
	for _, m := range members {
		peers = append(peers, peerFromNode(m))
	}
	return peers
}

func (a *Agent) NodeMeta(limit int) []byte {
	data, err := json.Marshal(nodeMeta{PublicIP: a.publicIP, HealthPort: a.healthPort})
	if err != nil {
		logger.Warnw("failed to marshal gossip node meta", "error", err.Error())
		return nil
	}
	if len(data) > limit && limit > 0 {
		logger.Warnw("gossip node meta exceeds limit", "size", len(data), "limit", limit)
		return nil
	}
	return data
}

func (a *Agent) NotifyMsg([]byte)                           {}
func (a *Agent) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (a *Agent) LocalState(join bool) []byte                { return nil }
func (a *Agent) MergeRemoteState(buf []byte, join bool)     {}

func (a *Agent) NotifyJoin(node *memberlist.Node) {
	p := peerFromNode(node)
	if p.PublicIP == a.publicIP {
		return
	}
	logger.Infow("Peer joined", "public_ip", p.PublicIP, "health_addr", p.HealthAddr)
	if l := a.currentListener(); l != nil {
		l.PeerJoined(p)
	}
}

func (a *Agent) NotifyLeave(node *memberlist.Node) {
	p := peerFromNode(node)
	if p.PublicIP == a.publicIP {
		return
	}
	logger.Warnw("Peer left", "public_ip", p.PublicIP)
	if l := a.currentListener(); l != nil {
		l.PeerLeft(p)
	}
}

func (a *Agent) NotifyUpdate(node *memberlist.Node) {}

func (a *Agent) currentListener() Listener {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.listener
}

func peerFromNode(node *memberlist.Node) Peer {
	m := decodeMeta(node.Meta)
	p := Peer{Name: node.Name, PublicIP: m.PublicIP}
	if p.PublicIP == "" {
		p.PublicIP = node.Name
	}
	host := ""
	if node.Addr != nil {
		host = node.Addr.String()
	}
	if m.HealthPort > 0 && host != "" {
		p.HealthAddr = net.JoinHostPort(host, strconv.Itoa(m.HealthPort))
	}
	return p
}

func decodeMeta(meta []byte) nodeMeta {
	var m nodeMeta
	if len(meta) == 0 {
		return m
	}
	if err := json.Unmarshal(meta, &m); err != nil {
		logger.Warnw("failed to decode node metadata", "error", err.Error())
		return nodeMeta{}
	}
	return m
}
