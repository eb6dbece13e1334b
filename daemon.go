package main

import (
	"context"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"codemerge/buffer"
	"codemerge/engine"
	"codemerge/metrics"
	"codemerge/provider"
	"codemerge/types"

	"github.com/neovim/go-client/nvim"
)

type daemonCommand struct{}

func (c *daemonCommand) Execute(args []string) error {
	config, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}

	ll := setupLogger(config.LogLevel)
	defer ll.Close()

	log.Printf("config: %+v", config)

	daemon, err := NewDaemon(config)
	if err != nil {
		log.Printf("error creating daemon: %v", err)
		return err
	}

	if err := daemon.Start(); err != nil {
		log.Printf("error starting daemon: %v", err)
		return err
	}
	return nil
}

type Daemon struct {
	config      types.Config
	engine      *engine.Engine
	buffer      atomic.Pointer[buffer.NvimBuffer] // buffer of the latest connection
	listener    net.Listener
	socketPath  string
	pidPath     string
	clientCount int64
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewDaemon(config types.Config) (*Daemon, error) {
	pc := providerConfig(config)
	reconciler := provider.NewReconciler(pc)

	eng, err := engine.NewEngine(reconciler, engineConfig(config))
	if err != nil {
		return nil, err
	}

	if config.MetricsURL != "" {
		eng.SetTracker(metrics.NewTracker(config.MetricsURL, pc.APIKey, filepath.Dir(getPidPath())))
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		config:     config,
		engine:     eng,
		socketPath: getSocketPath(),
		pidPath:    getPidPath(),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (d *Daemon) Start() error {
	d.writePidFile()
	defer d.removePidFile()

	if err := d.setupSocket(); err != nil {
		return err
	}
	defer d.cleanup()

	log.Printf("daemon listening on socket: %s", d.socketPath)

	d.engine.Start(d.ctx)

	d.setupShutdownHandling()

	go d.acceptConnections()
	go d.forwardNotifications()
	go d.monitorIdleShutdown()

	<-d.ctx.Done()
	log.Printf("daemon shutting down...")
	return nil
}

func (d *Daemon) setupSocket() error {
	// Remove existing socket
	os.Remove(d.socketPath)

	listener, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return err
	}
	d.listener = listener
	return nil
}

func (d *Daemon) setupShutdownHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("received shutdown signal")
		d.Stop()
	}()
}

func (d *Daemon) acceptConnections() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
				return // Server is shutting down
			default:
				log.Printf("error accepting connection: %v", err)
				continue
			}
		}

		atomic.AddInt64(&d.clientCount, 1)
		log.Printf("new client connected, total clients: %d", atomic.LoadInt64(&d.clientCount))
		go d.handleConnection(conn)
	}
}

func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()
	defer func() {
		atomic.AddInt64(&d.clientCount, -1)
		log.Printf("client disconnected, remaining clients: %d", atomic.LoadInt64(&d.clientCount))
	}()

	n, err := nvim.New(conn, conn, conn, log.Printf)
	if err != nil {
		log.Printf("error creating nvim client: %v", err)
		return
	}

	buf := buffer.New(buffer.Config{
		NsID:          d.config.NsID,
		WorkspacePath: d.engine.WorkspacePath,
	})
	buf.SetClient(n)

	// Handlers must be registered before Serve starts dispatching
	if err := d.engine.SetBuffer(buf); err != nil {
		log.Printf("error attaching buffer: %v", err)
		return
	}
	d.buffer.Store(buf)
	defer d.buffer.CompareAndSwap(buf, nil)

	select {
	case <-d.ctx.Done():
		return
	default:
		if err := n.Serve(); err != nil && err != io.EOF {
			log.Printf("error serving connection: %v", err)
		}
	}
}

// forwardNotifications shows engine notifications in the latest connected editor
func (d *Daemon) forwardNotifications() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case n := <-d.engine.Notifications():
			buf := d.buffer.Load()
			if buf == nil {
				continue
			}
			if err := buf.Notify(n); err != nil {
				log.Printf("error sending notification: %v", err)
			}
		}
	}
}

func (d *Daemon) monitorIdleShutdown() {
	// In debug mode, shut down immediately when no clients are connected
	if d.config.DebugImmediateShutdown {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				if atomic.LoadInt64(&d.clientCount) == 0 {
					log.Printf("debug mode: no clients connected, shutting down daemon immediately")
					d.Stop()
					return
				}
			}
		}
	}

	idleTimer := time.NewTimer(30 * time.Second)
	defer idleTimer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-idleTimer.C:
			if atomic.LoadInt64(&d.clientCount) == 0 {
				log.Printf("no clients connected for timeout period, shutting down daemon")
				d.Stop()
				return
			}
		}

		if atomic.LoadInt64(&d.clientCount) == 0 {
			idleTimer.Reset(5 * time.Second)
		} else {
			idleTimer.Reset(30 * time.Second)
		}
	}
}

func (d *Daemon) Stop() {
	d.engine.Stop()
	if d.listener != nil {
		d.listener.Close()
	}
	d.cancel()
}

func (d *Daemon) cleanup() {
	os.Remove(d.socketPath)
}

func (d *Daemon) writePidFile() {
	pid := os.Getpid()
	err := os.WriteFile(d.pidPath, []byte(strconv.Itoa(pid)), 0644)
	if err != nil {
		log.Printf("warning: could not write PID file: %v", err)
	}
	log.Printf("server started with PID %d", pid)
}

func (d *Daemon) removePidFile() {
	if err := os.Remove(d.pidPath); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not remove PID file: %v", err)
	}
}
