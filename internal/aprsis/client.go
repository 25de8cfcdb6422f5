// Package aprsis implements the reconnecting APRS-IS text gateway client
// of spec.md §4.8: login-line construction, the legacy passcode, a
// send-queue ring buffer with compaction/drop-on-overflow, and a state
// machine that can run either as a helper goroutine or as a cooperative
// Step() invoked from the engine's main loop (spec.md §5, §9: "must not
// depend on preemption").
//
// Grounded on original_source/aprsis.c's aprsis_reconnect/
// aprsis_sockreadline/aprsis_queue_ state handling, reimplemented over a
// net.Conn (dialed via net.Dialer with a context deadline) instead of the
// original's raw getaddrinfo/socket calls, and github.com/rs/xid
// (runZeroInc-sockstats) for a per-session correlation id attached to
// every log line so one APRS-IS session's traffic is grep-able.
package aprsis

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/aprx-project/aprxd/internal/applog"
	"github.com/aprx-project/aprxd/internal/xerr"
	"github.com/charmbracelet/log"
	"github.com/rs/xid"
)

// State is the connection state machine (spec.md §4.8).
type State int

const (
	Disconnected State = iota
	Resolving
	Connecting
	LoggedIn
	Active
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Resolving:
		return "resolving"
	case Connecting:
		return "connecting"
	case LoggedIn:
		return "logged-in"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Record is one datagram carried between the digipeater side and the
// APRS-IS client, mirroring spec.md §5's socketpair record layout.
type Record struct {
	Timestamp time.Time
	Addr      string // originating interface/source tag
	Gateway   string // gwcall used for the qAR tag
	Text      string // TNC2 text, without CR/LF
}

// ReconnectCooldown is the fixed cooldown after any close (spec.md §4.8).
const ReconnectCooldown = 60 * time.Second

// DefaultHeartbeatTimeout is applied absent a configured value.
const DefaultHeartbeatTimeout = 120 * time.Second

// SendQueueCapacity bounds the ring buffer (spec.md §4.8: "~16kB").
const SendQueueCapacity = 16 * 1024

// Config parameterizes one Client.
type Config struct {
	Login            string
	Passcode         int
	SoftwareName     string
	SoftwareVersion  string
	Filter           string
	Servers          []string // host:port, tried in rotation
	HeartbeatTimeout time.Duration
	GatewayTag       string // appended as ",qAR,<tag>:" on outbound lines
}

// Client is one logical APRS-IS connection.
type Client struct {
	cfg       Config
	log       *log.Logger
	sessionID xid.ID

	mu           sync.Mutex
	state        State
	conn         net.Conn
	reader       *bufio.Reader
	serverIdx    int
	lastRead     time.Time
	nextRetry    time.Time
	queue        *ringQueue
	Inbound      chan string // lines received, consumed by the digipeater's igate-from-APRSIS handler
}

// New builds a Client in the Disconnected state.
func New(cfg Config) *Client {
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	return &Client{
		cfg:       cfg,
		log:       applog.For("aprsis"),
		sessionID: xid.New(),
		state:     Disconnected,
		queue:     newRingQueue(SendQueueCapacity),
		Inbound:   make(chan string, 64),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LoginLine builds the login line per spec.md §4.8/§6.
func (c *Client) LoginLine() string {
	s := fmt.Sprintf("user %s pass %d vers %s %s", c.cfg.Login, c.cfg.Passcode, c.cfg.SoftwareName, c.cfg.SoftwareVersion)
	if c.cfg.Filter != "" {
		s += " filter " + c.cfg.Filter
	}
	return s + "\r\n"
}

// TagLine augments an outbound TNC2 line with ",qAR,<gwcall>:" before the
// info separator (spec.md §4.8).
func TagLine(tnc2, gwcall string) (string, error) {
	colon := strings.IndexByte(tnc2, ':')
	if colon < 0 {
		return "", xerr.New(xerr.InputMalformed, "tnc2 line has no info separator")
	}
	return tnc2[:colon] + ",qAR," + gwcall + tnc2[colon:], nil
}

// Enqueue appends a line to the send-queue ring buffer, compacting or
// dropping on overflow (spec.md §4.8).
func (c *Client) Enqueue(line string) (dropped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.push(line)
}

// Connect dials the next server in rotation and sends the login line.
// Exposed separately from Step so the helper-goroutine form
// (Run) and the cooperative form (Step) share identical logic.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if len(c.cfg.Servers) == 0 {
		c.mu.Unlock()
		return xerr.New(xerr.ConfigError, "no aprs-is servers configured")
	}
	addr := c.cfg.Servers[c.serverIdx%len(c.cfg.Servers)]
	c.serverIdx++
	c.state = Connecting
	c.mu.Unlock()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.nextRetry = time.Now().Add(ReconnectCooldown)
		c.mu.Unlock()
		return xerr.New(xerr.TransientIO, "dial "+addr+": "+err.Error())
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.lastRead = time.Now()
	c.state = LoggedIn
	c.sessionID = xid.New()
	c.mu.Unlock()

	_, err = io.WriteString(conn, c.LoginLine())
	if err != nil {
		c.mu.Lock()
		c.closeLocked("login write failed: " + err.Error())
		c.mu.Unlock()
		return xerr.New(xerr.TransientIO, err.Error())
	}
	c.log.Infof("session %s connected to %s", c.sessionID, addr)
	c.mu.Lock()
	c.state = Active
	c.mu.Unlock()
	return nil
}

// Step performs one cooperative unit of work: reconnect if due, drain one
// inbound line if available, flush one queued outbound line if the
// connection is writable, and check the heartbeat timeout. Designed to be
// called repeatedly from the engine's single-threaded loop with no
// goroutine (spec.md §9's no-preemption requirement).
func (c *Client) Step(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == Disconnected {
		if time.Now().Before(c.nextRetry) {
			return nil
		}
		return c.Connect(ctx)
	}

	if err := c.checkHeartbeat(); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	reader := c.reader
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	if line, ok := c.queue.pop(); ok {
		if _, err := io.WriteString(conn, line+"\r\n"); err != nil {
			c.mu.Lock()
			c.closeLocked("write error: " + err.Error())
			c.mu.Unlock()
			return xerr.New(xerr.TransientIO, err.Error())
		}
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	line, err := reader.ReadString('\n')
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		c.mu.Lock()
		c.closeLocked("read error: " + err.Error())
		c.mu.Unlock()
		return nil
	}
	line = strings.TrimRight(line, "\r\n")
	c.mu.Lock()
	c.lastRead = time.Now()
	c.mu.Unlock()
	if strings.HasPrefix(line, "#") {
		return nil // comment/heartbeat line
	}
	select {
	case c.Inbound <- line:
	default:
	}
	return nil
}

func (c *Client) checkHeartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return nil
	}
	if time.Since(c.lastRead) > c.cfg.HeartbeatTimeout {
		c.closeLocked("heartbeat timeout")
	}
	return nil
}

// closeLocked closes the socket and schedules the reconnect cooldown.
// Caller must hold c.mu.
func (c *Client) closeLocked(reason string) {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = Disconnected
	c.nextRetry = time.Now().Add(ReconnectCooldown)
	c.log.Errorf("session %s closed: %s", c.sessionID, reason)
}

// Run drives Step in a loop on its own goroutine -- the "helper task"
// form of spec.md §5, for hosts that provide concurrency.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Step(ctx); err != nil {
				c.log.Errorf("step: %v", err)
			}
		}
	}
}

// ringQueue is a small byte-budgeted ring buffer of whole lines (spec.md
// §4.8: "one ring buffer (~16kB)... on overflow, compact; if still not
// enough room, the line is dropped").
type ringQueue struct {
	cap   int
	lines []string
	bytes int
}

func newRingQueue(capBytes int) *ringQueue {
	return &ringQueue{cap: capBytes}
}

func (q *ringQueue) push(line string) (dropped bool) {
	if q.bytes+len(line) > q.cap {
		q.compact()
	}
	if q.bytes+len(line) > q.cap {
		return true
	}
	q.lines = append(q.lines, line)
	q.bytes += len(line)
	return false
}

// compact drops the oldest half of the queue to make room, matching the
// original's coarse "compact" strategy rather than a precise byte count.
func (q *ringQueue) compact() {
	if len(q.lines) == 0 {
		return
	}
	drop := len(q.lines) / 2
	if drop == 0 {
		drop = 1
	}
	for i := 0; i < drop && len(q.lines) > 0; i++ {
		q.bytes -= len(q.lines[0])
		q.lines = q.lines[1:]
	}
}

func (q *ringQueue) pop() (string, bool) {
	if len(q.lines) == 0 {
		return "", false
	}
	line := q.lines[0]
	q.lines = q.lines[1:]
	q.bytes -= len(line)
	return line, true
}
