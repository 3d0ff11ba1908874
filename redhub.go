// Package redhub provides a high-performance RESP3 server framework built
// on top of gnet's multi-reactor event loop.
//
// # Basic usage
//
//	rh := redhub.New(
//	    func(c *redhub.Conn) (out resp.Frame, action redhub.Action) {
//	        return resp.Frame{}, redhub.None
//	    },
//	    func(c *redhub.Conn, err error) (action redhub.Action) {
//	        return redhub.None
//	    },
//	    func(frame resp.Frame) (resp.Frame, redhub.Action) {
//	        return resp.NewSimpleString("PONG"), redhub.None
//	    },
//	    logging.Logger{},
//	)
//	err := redhub.ListenAndServe("tcp://127.0.0.1:6379", redhub.Options{Multicore: true}, rh)
//
// # Architecture
//
// Each accepted connection is a non-blocking task pinned to one of the
// engine's event loops: reads accumulate into a per-connection resp.Codec,
// complete frames are drained and dispatched to Handler in arrival order,
// and responses are written back in one batched Write per OnTraffic call,
// the same accumulate-then-drain discipline a byte-oriented RESP framer
// would use, generalized to the full Frame model.
package redhub

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/panjf2000/gnet/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/IceFireDB/respkv/internal/logging"
	"github.com/IceFireDB/respkv/pkg/resp"
)

// Action represents the action to take after an event handler completes.
type Action int

const (
	// None leaves the connection open.
	None Action = iota
	// Close closes the connection after writing any pending response.
	Close
	// Shutdown stops the entire server.
	Shutdown
)

// Conn wraps a gnet.Conn with the per-connection identity this package
// attaches: a UUID used to correlate log lines across one connection's
// lifetime.
type Conn struct {
	gnet.Conn
	ID string
}

func (c *Conn) SetContext(ctx interface{}) { c.Conn.SetContext(ctx) }
func (c *Conn) Context() interface{}       { return c.Conn.Context() }

// Options configures a RedHub server.
type Options struct {
	Multicore        bool
	LockOSThread     bool
	ReadBufferCap    int
	LB               gnet.LoadBalancing
	NumEventLoop     int
	ReusePort        bool
	Ticker           bool
	TCPKeepAlive     time.Duration
	TCPKeepCount     int
	TCPKeepInterval  time.Duration
	TCPNoDelay       gnet.TCPSocketOpt
	SocketRecvBuffer int
	SocketSendBuffer int
	EdgeTriggeredIO  bool

	// TLSListenEnable starts a TLS-terminating listener alongside the
	// plaintext gnet listener, forwarding decrypted bytes to it over a
	// loopback TCP connection (gnet's epoll engine has no native TLS
	// support).
	TLSListenEnable bool
	TLSCertFile     string
	TLSKeyFile      string
	TLSAddr         string
	// TLSForwardPoolSize bounds the goroutine pool used to forward TLS
	// connections. Default: 256.
	TLSForwardPoolSize int
}

// Handler processes one decoded request frame and produces the response
// frame plus the action to take afterward.
type Handler func(frame resp.Frame) (resp.Frame, Action)

// RedHub is the main server type. It implements gnet.EventHandler.
type RedHub struct {
	onOpened func(c *Conn) (out resp.Frame, action Action)
	onClosed func(c *Conn, err error) (action Action)
	handler  Handler
	log      logging.Logger

	connBufs map[gnet.Conn]*connBuffer
	connSync sync.RWMutex

	mu          sync.Mutex
	addr        string
	tcpAddr     string
	running     bool
	engine      gnet.Engine
	tlsListener net.Listener
	forwardPool *ants.Pool
}

type connBuffer struct {
	codec *resp.Codec
	id    string
}

// New creates a RedHub instance with the given lifecycle handlers, request
// handler, and logger. Pass the zero logging.Logger to fall back to a
// stdout logger at info level, created here.
func New(
	onOpened func(c *Conn) (out resp.Frame, action Action),
	onClosed func(c *Conn, err error) (action Action),
	handler Handler,
	log logging.Logger,
) *RedHub {
	if log == (logging.Logger{}) {
		log = logging.New(logging.Options{Stdout: true, Level: "info"})
	}
	return &RedHub{
		connBufs: make(map[gnet.Conn]*connBuffer),
		onOpened: onOpened,
		onClosed: onClosed,
		handler:  handler,
		log:      log,
	}
}

func (rs *RedHub) OnBoot(eng gnet.Engine) (action gnet.Action) {
	rs.mu.Lock()
	rs.engine = eng
	rs.mu.Unlock()
	return gnet.None
}

func (rs *RedHub) OnShutdown(eng gnet.Engine) {}

func (rs *RedHub) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	id := uuid.NewString()
	rs.connSync.Lock()
	rs.connBufs[c] = &connBuffer{codec: resp.NewCodec(), id: id}
	rs.connSync.Unlock()

	rs.log.Infof("conn %s opened from %s", id, c.RemoteAddr())

	resFrame, act := rs.onOpened(&Conn{Conn: c, ID: id})
	if resFrame.Kind == 0 {
		return nil, gnet.Action(act)
	}
	return resp.Encode(resFrame), gnet.Action(act)
}

func (rs *RedHub) OnClose(c gnet.Conn, err error) (action gnet.Action) {
	rs.connSync.Lock()
	cb, ok := rs.connBufs[c]
	delete(rs.connBufs, c)
	rs.connSync.Unlock()

	id := ""
	if ok {
		id = cb.id
		rs.log.Infof("conn %s closed: %v", id, err)
		cb.codec.Close()
	}
	return gnet.Action(rs.onClosed(&Conn{Conn: c, ID: id}, err))
}

// OnTraffic reads everything currently available from c, feeds it through
// the connection's codec, dispatches every complete frame to the handler
// in order, and writes all responses back in a single batched Write.
func (rs *RedHub) OnTraffic(c gnet.Conn) (action gnet.Action) {
	rs.connSync.RLock()
	cb, ok := rs.connBufs[c]
	rs.connSync.RUnlock()

	if !ok {
		_, _ = c.Write(resp.Encode(resp.NewError("ERR client is closed")))
		return gnet.None
	}

	buf, _ := c.Next(-1)
	if len(buf) == 0 {
		return gnet.None
	}

	frames, err := cb.codec.Feed(buf)
	if err != nil {
		_, _ = c.Write(resp.Encode(resp.NewError("ERR " + err.Error())))
		return gnet.None
	}

	for _, frame := range frames {
		rs.log.Debugf("conn %s request kind=%c", cb.id, frame.Kind)
		response, status := rs.handler(frame)
		encoded := resp.Encode(response)
		rs.log.Debugf("conn %s response kind=%c bytes=%d", cb.id, response.Kind, len(encoded))
		cb.codec.Put(response)

		switch status {
		case Close:
			if out := cb.codec.Take(); len(out) > 0 {
				_, _ = c.Write(out)
			}
			return gnet.Close
		case Shutdown:
			if out := cb.codec.Take(); len(out) > 0 {
				_, _ = c.Write(out)
			}
			return gnet.Shutdown
		}
	}

	if out := cb.codec.Take(); len(out) > 0 {
		_, _ = c.Write(out)
	}
	return gnet.None
}

func (rs *RedHub) OnTick() (delay time.Duration, action gnet.Action) {
	return 0, gnet.None
}

// deriveTLSAddr derives a TLS listen address from the plaintext address by
// incrementing the port (e.g. tcp://127.0.0.1:6379 -> tcp://127.0.0.1:6380).
func deriveTLSAddr(tcpAddr string) string {
	if !strings.HasPrefix(tcpAddr, "tcp://") {
		return ""
	}
	hostPort := strings.TrimPrefix(tcpAddr, "tcp://")
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return ""
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ""
	}
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port+1))
}

func (rs *RedHub) startTLSListener(options Options) error {
	cert, err := tls.LoadX509KeyPair(options.TLSCertFile, options.TLSKeyFile)
	if err != nil {
		return err
	}

	tlsAddr := options.TLSAddr
	if tlsAddr == "" {
		tlsAddr = deriveTLSAddr(rs.tcpAddr)
		if tlsAddr == "" {
			return errors.New("failed to derive TLS address from TCP address")
		}
	}
	listenAddr := strings.TrimPrefix(tlsAddr, "tcp://")

	rs.tlsListener, err = tls.Listen("tcp", listenAddr, &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		return err
	}

	poolSize := options.TLSForwardPoolSize
	if poolSize <= 0 {
		poolSize = 256
	}
	rs.forwardPool, err = ants.NewPool(poolSize, ants.WithNonblocking(false))
	if err != nil {
		return err
	}

	tcpForwardAddr := strings.TrimPrefix(rs.tcpAddr, "tcp://")
	go rs.acceptTLSConnections(tcpForwardAddr)
	return nil
}

// acceptTLSConnections accepts TLS connections and hands each to the
// bounded forwarding pool, rather than spawning an unbounded goroutine per
// connection.
func (rs *RedHub) acceptTLSConnections(tcpAddr string) {
	for {
		tlsConn, err := rs.tlsListener.Accept()
		if err != nil {
			if !rs.running {
				return
			}
			continue
		}

		conn := tlsConn
		if err := rs.forwardPool.Submit(func() { rs.handleTLSConn(conn, tcpAddr) }); err != nil {
			rs.log.Warnf("TLS forward pool rejected connection: %v", err)
			_ = conn.Close()
		}
	}
}

// handleTLSConn pairs tlsConn with a freshly dialed plaintext connection to
// the engine and forwards bytes in both directions. The two directions run
// under an errgroup so a failure on either side unblocks both, instead of
// leaking a goroutine parked on a half-closed socket.
func (rs *RedHub) handleTLSConn(tlsConn net.Conn, tcpAddr string) {
	defer tlsConn.Close()

	tcpConn, err := net.Dial("tcp", tcpAddr)
	if err != nil {
		rs.log.Warnf("TLS forward dial %s failed: %v", tcpAddr, err)
		return
	}
	defer tcpConn.Close()

	g := new(errgroup.Group)
	g.Go(func() error {
		_, err := copyStream(tcpConn, tlsConn)
		_ = tcpConn.Close()
		return err
	})
	g.Go(func() error {
		_, err := copyStream(tlsConn, tcpConn)
		_ = tlsConn.Close()
		return err
	})
	if err := g.Wait(); err != nil && !errors.Is(err, net.ErrClosed) {
		rs.log.Debugf("TLS forward for %s ended: %v", tlsConn.RemoteAddr(), err)
	}
}

// copyStream forwards from src to dst until src returns an error (including
// io.EOF, reported here as nil since that's the clean-shutdown case for a
// proxied half-duplex stream).
func copyStream(dst, src net.Conn) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			written, werr := dst.Write(buf[:n])
			total += int64(written)
			if werr != nil {
				return total, werr
			}
		}
		if rerr != nil {
			if rerr.Error() == "EOF" {
				return total, nil
			}
			return total, rerr
		}
	}
}

// ListenAndServe starts the server on addr and blocks until it stops.
func ListenAndServe(addr string, options Options, rh *RedHub) error {
	if options.TLSListenEnable {
		if options.TLSCertFile == "" || options.TLSKeyFile == "" {
			return errors.New("TLSListenEnable requires TLSCertFile and TLSKeyFile")
		}
	}

	var opts []gnet.Option
	if options.Multicore {
		opts = append(opts, gnet.WithMulticore(true))
	}
	if options.LockOSThread {
		opts = append(opts, gnet.WithLockOSThread(true))
	}
	if options.ReadBufferCap > 0 {
		opts = append(opts, gnet.WithReadBufferCap(options.ReadBufferCap))
	}
	if options.NumEventLoop > 0 {
		opts = append(opts, gnet.WithNumEventLoop(options.NumEventLoop))
	} else if options.LB != gnet.RoundRobin {
		opts = append(opts, gnet.WithLoadBalancing(options.LB))
	}
	if options.ReusePort {
		opts = append(opts, gnet.WithReusePort(true))
	}
	if options.Ticker {
		opts = append(opts, gnet.WithTicker(true))
	}
	if options.TCPKeepAlive > 0 {
		opts = append(opts, gnet.WithTCPKeepAlive(options.TCPKeepAlive))
	}
	if options.TCPKeepCount > 0 {
		opts = append(opts, gnet.WithTCPKeepCount(options.TCPKeepCount))
	}
	if options.TCPKeepInterval > 0 {
		opts = append(opts, gnet.WithTCPKeepInterval(options.TCPKeepInterval))
	}
	opts = append(opts, gnet.WithTCPNoDelay(options.TCPNoDelay))
	if options.SocketRecvBuffer > 0 {
		opts = append(opts, gnet.WithSocketRecvBuffer(options.SocketRecvBuffer))
	}
	if options.SocketSendBuffer > 0 {
		opts = append(opts, gnet.WithSocketSendBuffer(options.SocketSendBuffer))
	}
	if options.EdgeTriggeredIO {
		opts = append(opts, gnet.WithEdgeTriggeredIO(true))
	}

	rh.mu.Lock()
	rh.addr = addr
	rh.tcpAddr = addr
	rh.running = true
	rh.mu.Unlock()

	if options.TLSListenEnable {
		if err := rh.startTLSListener(options); err != nil {
			rh.mu.Lock()
			rh.running = false
			rh.mu.Unlock()
			return err
		}
	}

	err := gnet.Run(rh, addr, opts...)

	rh.mu.Lock()
	rh.running = false
	rh.mu.Unlock()

	if rh.tlsListener != nil {
		_ = rh.tlsListener.Close()
	}
	if rh.forwardPool != nil {
		rh.forwardPool.Release()
	}

	return err
}

// Close gracefully shuts down the server, combining every cleanup error
// (TLS listener close, engine stop) into one via multierr rather than
// reporting only the first and discarding the rest.
func (rs *RedHub) Close() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.running {
		return errors.New("server not running")
	}
	rs.running = false

	var errs error
	if rs.tlsListener != nil {
		errs = multierr.Append(errs, rs.tlsListener.Close())
	}
	if rs.forwardPool != nil {
		rs.forwardPool.Release()
	}
	errs = multierr.Append(errs, rs.engine.Stop(context.Background()))
	return errs
}
