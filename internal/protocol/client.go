package protocol

import (
	"fmt"
	"net"
	"os"
	"time"
)

// Connect retry policy: failure to reach the UI must never hold a
// session hostage for more than five seconds.
const (
	DefaultDialAttempts = 10
	DefaultDialDelay    = 500 * time.Millisecond
)

// Client is the hub's end of the UI channel.
type Client struct {
	conn net.Conn
	enc  *Encoder
}

// Dial connects to the UI socket in a single attempt.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return &Client{conn: conn, enc: NewEncoder(conn)}, nil
}

// DialRetry connects with a bounded fixed-interval retry loop. It
// returns the last dial error once attempts are exhausted.
func DialRetry(path string, attempts int, delay time.Duration) (*Client, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(delay)
		}
		c, err := Dial(path)
		if err == nil {
			return c, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no UI listener after %d attempts: %w", attempts, lastErr)
}

// Send pushes one message at the UI.
func (c *Client) Send(msgType MessageType, payload any) error {
	return c.enc.Send(msgType, payload)
}

// Close releases the socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Listener is the UI side of the channel: it accepts one hub
// connection per session. The hub tests stand in for the UI with it.
type Listener struct {
	ln   net.Listener
	path string
}

// Listen binds the UI socket, replacing any stale socket file left by
// a previous run.
func Listen(path string) (*Listener, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	return &Listener{ln: ln, path: path}, nil
}

// Accept waits for the next hub connection.
func (l *Listener) Accept() (net.Conn, error) {
	return l.ln.Accept()
}

// Path returns the socket path.
func (l *Listener) Path() string { return l.path }

// Close stops listening and unlinks the socket.
func (l *Listener) Close() error {
	return l.ln.Close()
}
