package node

import "github.com/neromon/dhtcore/contact"

// PeerStatus is the wire shape of one routing table contact reported by
// the `status` bridge method. Status is the numeric contact.State
// (Probing=1, Active=2).
type PeerStatus struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	Status   int    `json:"status"`
}

// Status is the full `status` bridge response.
type Status struct {
	ConnectedPeers int          `json:"connected_peers"`
	ActivePeers    int          `json:"active_peers"`
	IdlePeers      int          `json:"idle_peers"`
	DataCount      int64        `json:"data_count"`
	DataRAMUsage   int64        `json:"data_ram_usage"`
	Host           string       `json:"host"`
	Peers          []PeerStatus `json:"peers"`
}

// Status reports routing table and store occupancy.
func (n *Node) Status() (Status, error) {
	counts := n.routing.CountByState()
	s := Status{
		ConnectedPeers: n.routing.Size(),
		ActivePeers:    counts[contact.Active],
		IdlePeers:      counts[contact.Inactive],
		Host:           n.Endpoint,
	}
	if size, err := n.store.Size(); err == nil {
		s.DataRAMUsage = size
	}
	if count, err := n.store.Count(); err == nil {
		s.DataCount = count
	}
	for _, c := range n.routing.Closest(n.Self, n.routing.Size()+1) {
		s.Peers = append(s.Peers, PeerStatus{
			ID:       c.ID.Hex(),
			Endpoint: c.Endpoint,
			Status:   int(c.State()),
		})
	}
	return s, nil
}

// Clear truncates the local content store (debug).
func (n *Node) Clear() error {
	return n.store.Clear()
}
