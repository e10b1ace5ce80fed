package mesh

import "time"

// Event kinds surfaced on the mesh event tap.
const (
	EventAgentRegistered   = "agent_registered"
	EventAgentDeregistered = "agent_deregistered"
	EventMessageDelivered  = "message_delivered"
	EventMessageDropped    = "message_dropped"
)

// Headers used by the mesh itself.
const (
	// HeaderOrigin marks where a message entered the mesh; the NATS
	// bridge sets it to "remote" on injected traffic so it is never
	// mirrored back out.
	HeaderOrigin = "x-mesh-origin"

	originRemote = "remote"
)

// Event is one observable mesh occurrence, streamed to /ws/stream.
type Event struct {
	Kind      string    `json:"kind"`
	AgentID   string    `json:"agent_id,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
