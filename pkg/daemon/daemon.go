// Package daemon runs one BACnet node as a long-lived service: it owns the
// datalink, the session.Session built on top of it, and a tick loop, and
// records each run's lifetime summary to storage on shutdown.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/bip"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/datalink"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/session"
	"github.com/krisarmstrong/bacnet-go/internal/persist"
	"github.com/krisarmstrong/bacnet-go/pkg/config"
	"github.com/krisarmstrong/bacnet-go/pkg/logging"
	"github.com/krisarmstrong/bacnet-go/pkg/storage"
)

// tickInterval is how often Run advances the session's scheduler.
const tickInterval = 100 * time.Millisecond

// Daemon owns one running node and its storage handle across restarts.
type Daemon struct {
	storage *storage.Storage

	mu      sync.Mutex
	running *run
}

type run struct {
	cfg       *config.Config
	sess      *session.Session
	driver    datalink.Driver
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// New opens storagePath (if non-empty) and returns a Daemon ready to run a
// node. An empty storagePath runs without history; "disabled" is passed to
// storage.Open like any other path, which rejects it, so New returns an error.
func New(storagePath string) (*Daemon, error) {
	d := &Daemon{}
	if storagePath != "" {
		store, err := storage.Open(storagePath)
		if err != nil {
			return nil, fmt.Errorf("daemon: open storage: %w", err)
		}
		d.storage = store
	}
	return d, nil
}

// Start brings up the datalink named by cfg.Datalink.Type, loads the
// address cache, and begins ticking the session's scheduler in the
// background. It returns once the node is listening.
func (d *Daemon) Start(cfg *config.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running != nil {
		return fmt.Errorf("daemon: a node is already running")
	}

	driver, err := newDriver(cfg)
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}

	sess := session.New(cfg.SessionConfig(), driver)
	if sess.BBMD != nil {
		if bipDrv, ok := driver.(*bip.Driver); ok {
			bipDrv.SetBBMDHandler(sess.BBMD.HandleInbound)
		}
	}

	if cfg.AddressCache.File != "" {
		if err := persist.Load(cfg.AddressCache.File, sess.Addr); err != nil {
			driver.Cleanup()
			return fmt.Errorf("daemon: load address cache: %w", err)
		}
	}
	for _, b := range cfg.StaticBindings {
		mac, err := persist.ParseMAC(b.MAC)
		if err != nil {
			logging.Warning("skipping static binding for device %d: %v", b.DeviceInstance, err)
			continue
		}
		sess.Addr.Add(b.DeviceInstance, b.MaxAPDU, npdu.Address{Net: b.Network, Mac: mac})
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cfg: cfg, sess: sess, driver: driver, startedAt: time.Now(), cancel: cancel, done: make(chan struct{})}
	d.running = r

	go r.receiveLoop(ctx)
	go r.tickLoop(ctx)

	logging.Session(fmt.Sprintf("device-%d", cfg.Device.Instance), "listening on %s", cfg.Datalink.Type)
	return nil
}

func (r *run) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		src, pdu, err := r.driver.Receive(ctx, tickInterval)
		if err != nil {
			return
		}
		if pdu != nil {
			r.sess.HandleInbound(src, pdu)
		}
	}
}

func (r *run) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sess.Tick(int(tickInterval / time.Millisecond))
		}
	}
}

// Session returns the running node's session, or nil if none is running;
// callers (e.g. pkg/interactive) use it to read live state without taking
// ownership of the tick/receive loops.
func (d *Daemon) Session() *session.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running == nil {
		return nil
	}
	return d.running.sess
}

// Stop halts the running node, persists its address cache, and records a
// run history entry if storage is enabled.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running == nil {
		return fmt.Errorf("daemon: no node running")
	}
	r := d.running
	r.cancel()
	<-r.done

	if r.cfg.AddressCache.File != "" {
		if err := persist.Save(r.cfg.AddressCache.File, r.sess.Addr); err != nil {
			logging.Error("saving address cache: %v", err)
		}
	}
	if err := r.driver.Cleanup(); err != nil {
		logging.Error("closing datalink: %v", err)
	}

	if d.storage != nil {
		_ = d.storage.AddRun(storage.RunRecord{
			StartedAt:        r.startedAt,
			Duration:         time.Since(r.startedAt),
			Datalink:         string(r.cfg.Datalink.Type),
			DeviceInstance:   r.cfg.Device.Instance,
			BoundDeviceCount: len(r.sess.Addr.Snapshot()),
		})
	}

	d.running = nil
	return nil
}

// Shutdown stops any running node and closes storage.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	running := d.running != nil
	d.mu.Unlock()
	if running {
		if err := d.Stop(); err != nil {
			return err
		}
	}
	if d.storage != nil {
		return d.storage.Close()
	}
	return nil
}

func newDriver(cfg *config.Config) (datalink.Driver, error) {
	switch cfg.Datalink.Type {
	case config.DatalinkBIP:
		// cfg.Datalink.Port is 0 only when a caller deliberately clears the
		// default applied by config.Default(), which net.ListenUDP treats
		// as "pick any free port" — useful for tests and co-located nodes.
		return bip.New(cfg.Datalink.Port, [4]byte{255, 255, 255, 255})
	case config.DatalinkMSTP:
		return nil, fmt.Errorf("mstp datalink requires a serial ByteDriver, which this daemon does not open on its own; build one and run an mstp.Port directly instead of Daemon.Start")
	default:
		return nil, fmt.Errorf("unknown datalink type %q", cfg.Datalink.Type)
	}
}
