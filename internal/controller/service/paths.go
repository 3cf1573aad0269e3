package service

import "path"

// DefaultRoot is the top of the controller's coordination subtree.
const DefaultRoot = "/appcontroller"

// Layout names every coordination store entry the controller uses.
type Layout struct {
	root string
}

func NewLayout(root string) Layout {
	if root == "" {
		root = DefaultRoot
	}
	return Layout{root: path.Clean(root)}
}

func (l Layout) Root() string      { return l.root }
func (l Layout) Directory() string { return path.Join(l.root, "ips") }
func (l Layout) Lock() string      { return path.Join(l.root, "lock") }
func (l Layout) Nodes() string     { return path.Join(l.root, "nodes") }

// Node is the subtree owned by one public address.
func (l Layout) Node(ip string) string { return path.Join(l.Nodes(), ip) }

func (l Layout) JobData(ip string) string      { return path.Join(l.Node(ip), "job_data") }
func (l Layout) Live(ip string) string         { return path.Join(l.Node(ip), "live") }
func (l Layout) DoneLoading(ip string) string  { return path.Join(l.Node(ip), "done_loading") }
func (l Layout) AppInstances(ip string) string { return path.Join(l.Node(ip), "app_instances") }

// PromotedTo names the node that took over a dead peer's roles while the peer's
// subtree is being removed.
func (l Layout) PromotedTo(ip string) string { return path.Join(l.Node(ip), "promoted_to") }
