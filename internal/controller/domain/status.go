package domain

// NodeSummary is one peer as seen by the reporting controller.
type NodeSummary struct {
	PublicIP         string   `json:"public_ip"`
	Roles            []string `json:"roles"`
	DoneLoading      *bool    `json:"done_loading"`
	Live             bool     `json:"live"`
	FailedHeartbeats int      `json:"failed_heartbeats"`
}

// ControllerStatus is the structured reply of the status RPC.
type ControllerStatus struct {
	PublicIP              string        `json:"public_ip"`
	PrivateIP             string        `json:"private_ip"`
	Roles                 []string      `json:"roles"`
	DoneLoading           bool          `json:"done_loading"`
	BootID                string        `json:"boot_id"`
	UptimeSeconds         int64         `json:"uptime_seconds"`
	LastObserved          int64         `json:"last_observed"`
	MembershipFingerprint uint64        `json:"membership_fingerprint"`
	Apps                  []string      `json:"apps"`
	Nodes                 []NodeSummary `json:"nodes"`
	DeploymentReady       bool          `json:"deployment_ready"`
}
