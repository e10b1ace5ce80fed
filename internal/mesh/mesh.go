package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshwork-labs/meshd/internal/logging"
)

// Sentinel errors returned by meshwork operations.
var (
	ErrAgentExists   = errors.New("agent already registered")
	ErrAgentNotFound = errors.New("agent not found")
	ErrMeshClosed    = errors.New("meshwork is shut down")
	ErrInboxClosed   = errors.New("recipient inbox is closed")
	ErrRequestFailed = errors.New("request failed")
)

// Handler processes one inbound message. For request messages the
// returned message (when non-nil) is routed back to the requester.
type Handler func(ctx context.Context, msg *Message) (*Message, error)

// Options configures a Meshwork.
type Options struct {
	// InboxSize bounds each agent's inbox channel.
	InboxSize int
	// RequestTimeout is the default deadline for Request when the caller's
	// context has none.
	RequestTimeout time.Duration
	// EventBuffer bounds the event tap; overflow drops the oldest event.
	EventBuffer int

	Logger  *logging.Logger
	Metrics *Metrics
}

func (o *Options) applyDefaults() {
	if o.InboxSize <= 0 {
		o.InboxSize = 64
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
}

// registration tracks one agent's attachment to the mesh.
type registration struct {
	agentID string
	handler Handler
	inbox   chan *Message

	closed    chan struct{}
	closeOnce sync.Once
}

func (r *registration) close() {
	r.closeOnce.Do(func() { close(r.closed) })
}

// Meshwork connects named agents. See the package documentation for the
// delivery and ordering guarantees.
type Meshwork struct {
	opts Options

	mu        sync.RWMutex
	agents    map[string]*registration
	adjacency map[string]map[string]struct{}
	subs      map[string]map[string]struct{}

	respMu    sync.Mutex
	responses map[string]chan *Message

	events chan Event

	// onOutbound mirrors broadcasts and publishes to the NATS bridge.
	outboundMu sync.RWMutex
	onOutbound func(*Message)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *logging.Logger
}

// New creates a Meshwork ready for registrations.
func New(opts Options) *Meshwork {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Meshwork{
		opts:      opts,
		agents:    make(map[string]*registration),
		adjacency: make(map[string]map[string]struct{}),
		subs:      make(map[string]map[string]struct{}),
		responses: make(map[string]chan *Message),
		events:    make(chan Event, opts.EventBuffer),
		ctx:       ctx,
		cancel:    cancel,
		log:       opts.Logger.Named("mesh"),
	}
}

// Register attaches an agent and starts its delivery goroutine.
func (m *Meshwork) Register(agentID string, handler Handler) error {
	if agentID == "" {
		return fmt.Errorf("%w: empty agent id", ErrAgentNotFound)
	}
	if handler == nil {
		return fmt.Errorf("nil handler for agent %q", agentID)
	}
	if err := m.ctx.Err(); err != nil {
		return ErrMeshClosed
	}

	reg := &registration{
		agentID: agentID,
		handler: handler,
		inbox:   make(chan *Message, m.opts.InboxSize),
		closed:  make(chan struct{}),
	}

	m.mu.Lock()
	if _, exists := m.agents[agentID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentExists, agentID)
	}
	m.agents[agentID] = reg
	m.mu.Unlock()

	m.wg.Add(1)
	go m.deliver(reg)

	m.opts.Metrics.AgentRegistered()
	m.emit(Event{Kind: EventAgentRegistered, AgentID: agentID, Timestamp: time.Now().UTC()})
	m.log.Debug(m.ctx, "agent registered", zap.String("agent_id", agentID))
	return nil
}

// Deregister detaches an agent. Intake stops immediately; messages still
// queued in the inbox are discarded and counted as dropped. Must not be
// called from inside the agent's own handler.
func (m *Meshwork) Deregister(agentID string) error {
	m.mu.Lock()
	reg, exists := m.agents[agentID]
	if exists {
		delete(m.agents, agentID)
		for neighbor := range m.adjacency[agentID] {
			delete(m.adjacency[neighbor], agentID)
			if len(m.adjacency[neighbor]) == 0 {
				delete(m.adjacency, neighbor)
			}
		}
		delete(m.adjacency, agentID)
		for topic, members := range m.subs {
			delete(members, agentID)
			if len(members) == 0 {
				delete(m.subs, topic)
			}
		}
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}

	reg.close()
	m.opts.Metrics.AgentDeregistered()
	m.emit(Event{Kind: EventAgentDeregistered, AgentID: agentID, Timestamp: time.Now().UTC()})
	m.log.Debug(m.ctx, "agent deregistered", zap.String("agent_id", agentID))
	return nil
}

// Connect records a bidirectional edge between two registered agents.
// Broadcast from an agent with edges reaches its neighbors only.
func (m *Meshwork) Connect(a, b string) error {
	if a == b {
		return fmt.Errorf("cannot connect %q to itself", a)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range []string{a, b} {
		if _, ok := m.agents[id]; !ok {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
		}
	}

	if m.adjacency[a] == nil {
		m.adjacency[a] = make(map[string]struct{})
	}
	if m.adjacency[b] == nil {
		m.adjacency[b] = make(map[string]struct{})
	}
	m.adjacency[a][b] = struct{}{}
	m.adjacency[b][a] = struct{}{}
	return nil
}

// Neighbors returns the recorded adjacency for an agent. A nil slice
// means the agent has no recorded edges and broadcasts mesh-wide.
func (m *Meshwork) Neighbors(agentID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	edges := m.adjacency[agentID]
	if len(edges) == 0 {
		return nil
	}
	out := make([]string, 0, len(edges))
	for id := range edges {
		out = append(out, id)
	}
	return out
}

// Agents returns the IDs of all registered agents.
func (m *Meshwork) Agents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.agents))
	for id := range m.agents {
		out = append(out, id)
	}
	return out
}

// SendDirect enqueues a notification to one agent. Blocks while the
// recipient's inbox is full until delivery, context cancellation, or
// mesh shutdown.
func (m *Meshwork) SendDirect(ctx context.Context, from, to string, payload any) error {
	msg := NewNotification(from, to, payload)
	return m.enqueueBlocking(ctx, msg)
}

// Request sends a request and awaits the correlated response.
func (m *Meshwork) Request(ctx context.Context, from, to string, payload any) (*Message, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.RequestTimeout)
		defer cancel()
	}

	msg := NewRequest(from, to, payload)

	respCh := make(chan *Message, 1)
	m.respMu.Lock()
	m.responses[msg.ID] = respCh
	m.respMu.Unlock()
	defer func() {
		m.respMu.Lock()
		delete(m.responses, msg.ID)
		m.respMu.Unlock()
	}()

	if err := m.enqueueBlocking(ctx, msg); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s -> %s: %v", ErrRequestFailed, from, to, ctx.Err())
	case <-m.ctx.Done():
		return nil, ErrMeshClosed
	}
}

// Broadcast fans a message out to the sender's neighbors, or to every
// other agent when the sender has no recorded edges. Full inboxes drop
// rather than block. Returns the delivered count.
func (m *Meshwork) Broadcast(ctx context.Context, from string, payload any) (int, error) {
	if err := m.ctx.Err(); err != nil {
		return 0, ErrMeshClosed
	}

	delivered := m.broadcastLocal(ctx, from, payload)
	m.mirrorOutbound(NewMessage(from, "", MessageTypeBroadcast, payload))
	return delivered, nil
}

func (m *Meshwork) broadcastLocal(ctx context.Context, from string, payload any) int {
	m.mu.RLock()
	var targets []*registration
	if edges := m.adjacency[from]; len(edges) > 0 {
		targets = make([]*registration, 0, len(edges))
		for id := range edges {
			if reg, ok := m.agents[id]; ok {
				targets = append(targets, reg)
			}
		}
	} else {
		targets = make([]*registration, 0, len(m.agents))
		for id, reg := range m.agents {
			if id != from {
				targets = append(targets, reg)
			}
		}
	}
	m.mu.RUnlock()

	delivered := 0
	for _, reg := range targets {
		msg := NewMessage(from, reg.agentID, MessageTypeBroadcast, payload)
		if m.enqueueNonBlocking(reg, msg) {
			delivered++
		}
	}

	m.log.Debug(ctx, "broadcast sent",
		zap.String("from", from),
		zap.Int("recipients", len(targets)),
		zap.Int("delivered", delivered))
	return delivered
}

// Subscribe adds a registered agent to a topic.
func (m *Meshwork) Subscribe(agentID, topic string) error {
	if topic == "" {
		return fmt.Errorf("empty topic")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[agentID]; !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[string]struct{})
	}
	m.subs[topic][agentID] = struct{}{}
	return nil
}

// Publish fans a notification out to a topic's subscribers. The sender,
// if subscribed, does not receive its own publish. Full inboxes drop.
func (m *Meshwork) Publish(ctx context.Context, from, topic string, payload any) (int, error) {
	if err := m.ctx.Err(); err != nil {
		return 0, ErrMeshClosed
	}

	delivered := m.publishLocal(from, topic, payload)
	m.mirrorOutbound(NewNotification(from, "", payload).WithTopic(topic))
	return delivered, nil
}

func (m *Meshwork) publishLocal(from, topic string, payload any) int {
	m.mu.RLock()
	targets := make([]*registration, 0, len(m.subs[topic]))
	for id := range m.subs[topic] {
		if id == from {
			continue
		}
		if reg, ok := m.agents[id]; ok {
			targets = append(targets, reg)
		}
	}
	m.mu.RUnlock()

	delivered := 0
	for _, reg := range targets {
		msg := NewNotification(from, reg.agentID, payload).WithTopic(topic)
		if m.enqueueNonBlocking(reg, msg) {
			delivered++
		}
	}
	return delivered
}

// Events returns the mesh event tap. Intended for a single consumer
// (the WebSocket feed); overflow drops the oldest event.
func (m *Meshwork) Events() <-chan Event {
	return m.events
}

// SetOutbound installs the bridge mirror hook. Pass nil to detach.
func (m *Meshwork) SetOutbound(fn func(*Message)) {
	m.outboundMu.Lock()
	m.onOutbound = fn
	m.outboundMu.Unlock()
}

// Inject delivers a message that originated outside this process (from
// the NATS bridge). Topic messages reach topic subscribers; everything
// else is treated as a mesh-wide broadcast.
func (m *Meshwork) Inject(ctx context.Context, msg *Message) error {
	if err := m.ctx.Err(); err != nil {
		return ErrMeshClosed
	}
	if msg.Topic != "" {
		m.publishLocal(msg.From, msg.Topic, msg.Payload)
		return nil
	}
	m.broadcastLocal(ctx, msg.From, msg.Payload)
	return nil
}

// Shutdown stops intake and waits for delivery goroutines to exit, or
// until ctx expires.
func (m *Meshwork) Shutdown(ctx context.Context) error {
	m.cancel()

	m.mu.Lock()
	for _, reg := range m.agents {
		reg.close()
	}
	m.agents = make(map[string]*registration)
	m.adjacency = make(map[string]map[string]struct{})
	m.subs = make(map[string]map[string]struct{})
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mesh shutdown: %w", ctx.Err())
	}
}

// enqueueBlocking delivers to the recipient's inbox, blocking on a full
// inbox until space, cancellation, or shutdown.
func (m *Meshwork) enqueueBlocking(ctx context.Context, msg *Message) error {
	m.mu.RLock()
	reg, ok := m.agents[msg.To]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, msg.To)
	}

	select {
	case <-reg.closed:
		return fmt.Errorf("%w: %s", ErrInboxClosed, msg.To)
	default:
	}

	select {
	case reg.inbox <- msg:
		m.opts.Metrics.MessageSent(string(msg.Type))
		return nil
	case <-reg.closed:
		return fmt.Errorf("%w: %s", ErrInboxClosed, msg.To)
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrMeshClosed
	}
}

// enqueueNonBlocking attempts delivery without waiting; a full or closed
// inbox counts as a drop.
func (m *Meshwork) enqueueNonBlocking(reg *registration, msg *Message) bool {
	select {
	case <-reg.closed:
		m.opts.Metrics.MessageDropped(string(msg.Type))
		return false
	default:
	}

	select {
	case reg.inbox <- msg:
		m.opts.Metrics.MessageSent(string(msg.Type))
		return true
	default:
		m.opts.Metrics.MessageDropped(string(msg.Type))
		m.emit(Event{Kind: EventMessageDropped, AgentID: reg.agentID, Message: msg, Timestamp: time.Now().UTC()})
		m.log.Warn(m.ctx, "inbox full, message dropped",
			zap.String("to", reg.agentID),
			zap.String("from", msg.From),
			zap.String("type", string(msg.Type)))
		return false
	}
}

// deliver drains one agent's inbox until the registration closes or the
// mesh shuts down. Closure wins over a ready inbox: once Deregister has
// returned, anything still queued is discarded, never handled.
func (m *Meshwork) deliver(reg *registration) {
	defer m.wg.Done()

	for {
		select {
		case <-reg.closed:
			m.discardQueued(reg)
			return
		case <-m.ctx.Done():
			return
		case msg := <-reg.inbox:
			select {
			case <-reg.closed:
				m.opts.Metrics.MessageDiscarded(string(msg.Type))
				m.discardQueued(reg)
				return
			default:
			}
			m.handleOne(reg, msg)
		}
	}
}

// discardQueued empties a closed registration's inbox, counting each
// queued message as dropped.
func (m *Meshwork) discardQueued(reg *registration) {
	for {
		select {
		case msg := <-reg.inbox:
			m.opts.Metrics.MessageDiscarded(string(msg.Type))
		default:
			return
		}
	}
}

func (m *Meshwork) handleOne(reg *registration, msg *Message) {
	ctx := logging.WithAgentID(m.ctx, reg.agentID)
	ctx = logging.WithMessageID(ctx, msg.ID)

	start := time.Now()
	resp, err := reg.handler(ctx, msg)
	m.opts.Metrics.MessageDelivered(string(msg.Type), time.Since(start))

	if err != nil {
		m.log.Warn(ctx, "handler error",
			zap.String("from", msg.From),
			zap.String("type", string(msg.Type)),
			zap.Error(err))
	}

	m.emit(Event{Kind: EventMessageDelivered, AgentID: reg.agentID, Message: msg, Timestamp: time.Now().UTC()})

	if !msg.IsRequest() {
		return
	}
	if resp == nil {
		// The requester is still waiting; close the loop with an
		// empty response carrying the handler error, if any.
		var payload any
		if err != nil {
			payload = map[string]string{"error": err.Error()}
		}
		resp = msg.Respond(payload)
	}
	resp.ReplyTo = msg.ID
	m.routeResponse(resp)
}

func (m *Meshwork) routeResponse(resp *Message) {
	m.respMu.Lock()
	ch, ok := m.responses[resp.ReplyTo]
	if ok {
		delete(m.responses, resp.ReplyTo)
	}
	m.respMu.Unlock()

	if !ok {
		// Requester gave up (timeout or cancellation); drop quietly.
		m.opts.Metrics.MessageDropped(string(MessageTypeResponse))
		return
	}
	ch <- resp
}

func (m *Meshwork) mirrorOutbound(msg *Message) {
	if msg.Header(HeaderOrigin) == originRemote {
		return
	}
	m.outboundMu.RLock()
	fn := m.onOutbound
	m.outboundMu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

// emit publishes to the event tap, dropping the oldest event on overflow.
func (m *Meshwork) emit(ev Event) {
	select {
	case m.events <- ev:
		return
	default:
	}
	select {
	case <-m.events:
	default:
	}
	select {
	case m.events <- ev:
	default:
	}
}
