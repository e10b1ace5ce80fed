package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/meshwork-labs/meshd/internal/logging"
)

const (
	// subjectPrefix roots the bridge's NATS subject tree. Broadcasts go
	// to <prefix>.broadcast, topic publishes to <prefix>.topic.<topic>.
	subjectPrefix = "mesh"

	headerBridgeNode = "x-mesh-node"
)

// BridgeOptions configures the NATS bridge.
type BridgeOptions struct {
	// URL of the NATS server. Ignored when Embedded is true.
	URL string
	// Embedded starts an in-process nats-server on a random port.
	Embedded bool

	Logger *logging.Logger
}

// Bridge mirrors mesh broadcasts and topic publishes onto NATS, and
// injects remote traffic back into the local meshwork. Every bridged
// message carries the origin node ID so a node never re-consumes its
// own publishes.
type Bridge struct {
	mesh   *Meshwork
	nodeID string

	nc  *nats.Conn
	sub *nats.Subscription
	srv *natsserver.Server

	log *logging.Logger
}

// NewBridge connects the meshwork to NATS and begins mirroring.
func NewBridge(mesh *Meshwork, opts BridgeOptions) (*Bridge, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	b := &Bridge{
		mesh:   mesh,
		nodeID: uuid.NewString(),
		log:    opts.Logger.Named("bridge"),
	}

	url := opts.URL
	if opts.Embedded {
		srv, err := startEmbeddedServer()
		if err != nil {
			return nil, fmt.Errorf("starting embedded nats: %w", err)
		}
		b.srv = srv
		url = srv.ClientURL()
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		b.stopEmbedded()
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	b.nc = nc

	sub, err := nc.Subscribe(subjectPrefix+".>", b.onRemote)
	if err != nil {
		nc.Close()
		b.stopEmbedded()
		return nil, fmt.Errorf("subscribing to %s.>: %w", subjectPrefix, err)
	}
	b.sub = sub

	mesh.SetOutbound(b.publish)

	b.log.Info(context.Background(), "mesh bridge connected",
		zap.String("url", url),
		zap.String("node_id", b.nodeID),
		zap.Bool("embedded", b.srv != nil))
	return b, nil
}

// publish mirrors one outbound mesh message to NATS.
func (b *Bridge) publish(msg *Message) {
	subject := subjectPrefix + ".broadcast"
	if msg.Topic != "" {
		subject = subjectPrefix + ".topic." + msg.Topic
	}

	out := msg.Clone().WithHeader(headerBridgeNode, b.nodeID)
	data, err := json.Marshal(out)
	if err != nil {
		b.log.Warn(context.Background(), "bridge marshal failed", zap.Error(err))
		return
	}
	if err := b.nc.Publish(subject, data); err != nil {
		b.log.Warn(context.Background(), "bridge publish failed",
			zap.String("subject", subject), zap.Error(err))
	}
}

// onRemote injects one remote NATS message into the local mesh.
func (b *Bridge) onRemote(natsMsg *nats.Msg) {
	var msg Message
	if err := json.Unmarshal(natsMsg.Data, &msg); err != nil {
		b.log.Warn(context.Background(), "bridge received malformed message",
			zap.String("subject", natsMsg.Subject), zap.Error(err))
		return
	}

	// Loop guard: skip traffic this node published itself.
	if msg.Header(headerBridgeNode) == b.nodeID {
		return
	}
	msg.WithHeader(HeaderOrigin, originRemote)

	if err := b.mesh.Inject(context.Background(), &msg); err != nil {
		b.log.Warn(context.Background(), "bridge inject failed", zap.Error(err))
	}
}

// ClientURL returns the URL peers can use to join this bridge's NATS
// server. For non-embedded bridges it is the connected server's URL.
func (b *Bridge) ClientURL() string {
	if b.srv != nil {
		return b.srv.ClientURL()
	}
	return b.nc.ConnectedUrl()
}

// Close detaches from the mesh and tears down NATS resources.
func (b *Bridge) Close() {
	b.mesh.SetOutbound(nil)
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.nc != nil {
		b.nc.Close()
	}
	b.stopEmbedded()
}

func (b *Bridge) stopEmbedded() {
	if b.srv != nil {
		b.srv.Shutdown()
		b.srv.WaitForShutdown()
		b.srv = nil
	}
}

// startEmbeddedServer runs an in-process nats-server on a random port.
func startEmbeddedServer() (*natsserver.Server, error) {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, err
	}

	go srv.Start()

	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready")
	}
	return srv, nil
}
