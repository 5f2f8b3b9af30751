// Package daemon wires every collaborator of the neromon daemon together:
// the content store backend, the routing table, the protocol engine, the
// mappings index, the client bridge, and the metrics endpoint. Nothing in
// the core is a package-level singleton; the Daemon struct owns each
// collaborator and threads it through constructors.
package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	logging "github.com/ipfs/go-log/v2"

	"github.com/neromon/dhtcore/bridge"
	"github.com/neromon/dhtcore/config"
	"github.com/neromon/dhtcore/mapping"
	"github.com/neromon/dhtcore/metrics"
	"github.com/neromon/dhtcore/node"
	"github.com/neromon/dhtcore/nodeid"
	"github.com/neromon/dhtcore/record"
	"github.com/neromon/dhtcore/routing"
	"github.com/neromon/dhtcore/store"
	storememory "github.com/neromon/dhtcore/store/memory"
	storepebble "github.com/neromon/dhtcore/store/pebble"
	storepogreb "github.com/neromon/dhtcore/store/pogreb"
	"github.com/neromon/dhtcore/transport"
)

var log = logging.Logger("daemon")

// Sentinel failure classes mapped to the daemon's exit codes by
// cmd/neromond: 1 config error, 2 port in use, 3 fatal storage error.
var (
	ErrConfig  = errors.New("daemon: configuration error")
	ErrBind    = errors.New("daemon: cannot bind listener")
	ErrStorage = errors.New("daemon: fatal storage error")
)

// Daemon owns every running collaborator. Construct with New, start with
// Start, and tear down with Close.
type Daemon struct {
	cfg  config.Config
	self nodeid.NodeId

	dialer   transport.Dialer
	factory  transport.ListenerFactory
	verifier record.SignatureVerifier

	metricsSrv *metrics.Server
	mapping    *mapping.Index
	store      *store.Store
	routing    *routing.Table
	node       *node.Node
	bridge     *bridge.Bridge

	peerLn   transport.Listener
	bridgeLn net.Listener
}

// Option configures a Daemon before Start.
type Option func(*Daemon)

// WithDialer replaces the default TCP dialer with an overlay socket
// factory.
func WithDialer(d transport.Dialer) Option {
	return func(dm *Daemon) { dm.dialer = d }
}

// WithListenerFactory replaces the default TCP listener factory.
func WithListenerFactory(f transport.ListenerFactory) Option {
	return func(dm *Daemon) { dm.factory = f }
}

// WithSignatureVerifier replaces the default keydir-backed RSA verifier.
func WithSignatureVerifier(v record.SignatureVerifier) Option {
	return func(dm *Daemon) { dm.verifier = v }
}

// New builds an unstarted Daemon from cfg.
func New(cfg config.Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Mark(err, ErrConfig)
	}
	d := &Daemon{
		cfg:     cfg,
		self:    nodeid.FromIdentity(cfg.Listen),
		dialer:  transport.NetDialer{},
		factory: transport.NetListenerFactory{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.verifier == nil {
		d.verifier = KeyDirVerifier(filepath.Join(cfg.DataDir, "keys"))
	}
	return d, nil
}

// Start opens storage, binds both listeners, and launches the accept
// loops and the maintenance scheduler. It returns once the daemon is
// serving; it does not block.
func (d *Daemon) Start(ctx context.Context) error {
	if err := os.MkdirAll(d.cfg.DataDir, 0o755); err != nil {
		return errors.Mark(errors.Wrap(err, "daemon: cannot create data dir"), ErrStorage)
	}

	metricsSrv, err := metrics.NewServer(d.cfg.MetricsListen)
	if err != nil {
		return errors.Mark(err, ErrConfig)
	}
	d.metricsSrv = metricsSrv

	idx, err := mapping.Open(filepath.Join(d.cfg.DataDir, "data.sqlite3"))
	if err != nil {
		return errors.Mark(err, ErrStorage)
	}
	d.mapping = idx

	backend, err := d.openBackend()
	if err != nil {
		return errors.Mark(err, ErrStorage)
	}
	validator := record.NewValidator(record.WithSignatureVerifier(d.verifier))
	d.store = store.New(backend, validator)

	d.routing = routing.NewSized(d.self, d.cfg.BucketSize)
	d.node = node.New(d.self, d.cfg.Listen, d.routing, d.store, d.mapping, d.dialer, d.metricsSrv.Metrics,
		node.WithReplicationHorizon(d.cfg.ReplicationHorizon))

	peerLn, err := d.factory.Listen(d.cfg.Listen)
	if err != nil {
		return errors.Mark(err, ErrBind)
	}
	d.peerLn = peerLn
	go func() {
		if err := d.node.Serve(peerLn); err != nil {
			log.Debugw("peer accept loop exited", "err", err)
		}
	}()

	bridgeLn, err := listenLocal(d.cfg.BridgeListen)
	if err != nil {
		return errors.Mark(err, ErrBind)
	}
	d.bridgeLn = bridgeLn
	d.bridge = bridge.NewSized(d.node, d.mapping, d.metricsSrv.Metrics, d.cfg.BridgeWorkers)
	go d.acceptBridge()

	d.node.RunMaintenance()

	if len(d.cfg.Bootstrap) > 0 {
		if err := d.node.Bootstrap(ctx, d.cfg.Bootstrap); err != nil {
			// A failed bootstrap is retried organically by bucket refresh;
			// the daemon stays up to serve its own records.
			log.Warnw("bootstrap incomplete", "err", err)
		}
	}

	log.Infow("daemon started",
		"self", d.self.Hex(),
		"listen", d.cfg.Listen,
		"bridge", d.cfg.BridgeListen,
		"backend", d.cfg.StoreBackend)
	return nil
}

func (d *Daemon) openBackend() (store.Backend, error) {
	switch d.cfg.StoreBackend {
	case config.BackendMemory:
		return storememory.New(), nil
	case config.BackendPogreb:
		b, err := storepogreb.Open(filepath.Join(d.cfg.DataDir, "store"))
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		b, err := storepebble.Open(filepath.Join(d.cfg.DataDir, "store"))
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func (d *Daemon) acceptBridge() {
	for {
		conn, err := d.bridgeLn.Accept()
		if err != nil {
			return
		}
		go d.bridge.ServeConn(conn)
	}
}

// Node exposes the protocol engine, used by tests and embedders.
func (d *Daemon) Node() *node.Node { return d.node }

// Mapping exposes the local index, used by tests and embedders.
func (d *Daemon) Mapping() *mapping.Index { return d.mapping }

// Close tears the daemon down: both listeners first, then the bridge, the
// node, the store, the mapping index, and the metrics server.
func (d *Daemon) Close() error {
	var errs error
	if d.peerLn != nil {
		errs = errors.CombineErrors(errs, d.peerLn.Close())
	}
	if d.bridgeLn != nil {
		errs = errors.CombineErrors(errs, d.bridgeLn.Close())
	}
	if d.bridge != nil {
		d.bridge.Close()
	}
	if d.node != nil {
		d.node.Close()
	}
	if d.store != nil {
		errs = errors.CombineErrors(errs, d.store.Close())
	}
	if d.mapping != nil {
		errs = errors.CombineErrors(errs, d.mapping.Close())
	}
	if d.metricsSrv != nil {
		errs = errors.CombineErrors(errs, d.metricsSrv.Close())
	}
	return errs
}

// listenLocal binds the client bridge's local stream endpoint: a UNIX
// socket when endpoint names a filesystem path ("unix:" prefix or a path
// separator), a loopback TCP port otherwise.
func listenLocal(endpoint string) (net.Listener, error) {
	if path, ok := unixPath(endpoint); ok {
		// A socket file left over from an unclean shutdown blocks bind.
		if _, err := os.Stat(path); err == nil {
			os.Remove(path)
		}
		return net.Listen("unix", path)
	}
	return net.Listen("tcp", endpoint)
}

func unixPath(endpoint string) (string, bool) {
	if strings.HasPrefix(endpoint, "unix:") {
		return strings.TrimPrefix(endpoint, "unix:"), true
	}
	if strings.ContainsRune(endpoint, os.PathSeparator) {
		return endpoint, true
	}
	return "", false
}
