// Package relay runs short-lived loopback HTTP listeners that turn an OAuth
// provider's browser redirect into a redirect toward the managed server's own
// callback endpoint, carrying the original query string forward.
package relay

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/easycli/proxyctl/internal/metrics"
)

// ErrNotRunning is returned by Stop for a port with no active listener.
var ErrNotRunning = errors.New("no callback listener on port")

// Modes for redirect targeting.
const (
	ModeLocal  = "local"  // redirect to the locally managed server
	ModeRemote = "remote" // redirect to a caller-supplied base URL
)

// CallbackPath maps an OAuth provider name to the managed server's callback
// path. Unrecognized providers fall back to the generic path.
func CallbackPath(provider string) string {
	switch provider {
	case "anthropic":
		return "/anthropic/callback"
	case "codex":
		return "/codex/callback"
	case "google":
		return "/google/callback"
	case "iflow":
		return "/iflow/callback"
	default:
		return "/callback"
	}
}

// Options describes one relay listener.
type Options struct {
	Provider  string `json:"provider"`
	Mode      string `json:"mode"`       // ModeLocal or ModeRemote
	BaseURL   string `json:"base_url"`   // remote mode target base
	LocalPort int    `json:"local_port"` // local mode managed-server port
}

// BuildRedirectURL computes the Location value for a relayed request.
// The query string is forwarded verbatim; an empty query adds no '?'.
func BuildRedirectURL(opts Options, query string) string {
	cb := CallbackPath(opts.Provider)
	var base string
	if opts.Mode == ModeLocal {
		port := opts.LocalPort
		if port <= 0 {
			port = 8317
		}
		base = fmt.Sprintf("http://127.0.0.1:%d%s", port, cb)
	} else {
		bu := opts.BaseURL
		if bu == "" {
			bu = "http://127.0.0.1:8317"
		}
		if strings.HasSuffix(bu, "/") {
			base = bu + strings.TrimPrefix(cb, "/")
		} else {
			base = bu + "/" + strings.TrimPrefix(cb, "/")
		}
	}
	if query == "" {
		return base
	}
	return base + "?" + query
}

// entry is one live listener. The cancel flag marks intentional shutdown so
// the accept loop can tell a close-on-stop from a real accept error.
type entry struct {
	ln     net.Listener
	opts   Options
	cancel atomic.Bool
	done   chan struct{}
}

// Registry owns all relay listeners, keyed by port. At most one listener is
// bound to a given port at any time; replacing holds the registry lock across
// the remove-old/insert-new sequence so stop and start for the same port are
// totally ordered.
type Registry struct {
	mu      sync.Mutex
	servers map[int]*entry
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{servers: make(map[int]*entry), logger: logger}
}

// Start binds a listener on 127.0.0.1:port. An existing listener on the same
// port is torn down synchronously first. Bind failures are returned and leave
// no registry entry behind.
func (r *Registry) Start(port int, opts Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.servers[port]; ok {
		delete(r.servers, port)
		stopEntry(old)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("bind callback listener on port %d: %w", port, err)
	}
	e := &entry{ln: ln, opts: opts, done: make(chan struct{})}
	r.servers[port] = e
	go r.serve(port, e)
	r.logger.Info("callback listener started", "port", port, "provider", opts.Provider, "mode", opts.Mode)
	return nil
}

// Stop tears down the listener on port. Removing the entry and initiating the
// stop happen under one lock acquisition so a concurrent Start for the same
// port cannot interleave.
func (r *Registry) Stop(port int) error {
	r.mu.Lock()
	e, ok := r.servers[port]
	if ok {
		delete(r.servers, port)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotRunning, port)
	}
	stopEntry(e)
	r.logger.Info("callback listener stopped", "port", port)
	return nil
}

// StopAll tears down every listener. Used on agent shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.servers))
	for port, e := range r.servers {
		delete(r.servers, port)
		entries = append(entries, e)
	}
	r.mu.Unlock()
	for _, e := range entries {
		stopEntry(e)
	}
}

// Ports returns the ports with live listeners.
func (r *Registry) Ports() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.servers))
	for p := range r.servers {
		out = append(out, p)
	}
	return out
}

// stopEntry signals the accept loop and joins it. Closing the listener is the
// wake-up mechanism that unblocks the otherwise uncancellable Accept call.
func stopEntry(e *entry) {
	e.cancel.Store(true)
	_ = e.ln.Close()
	<-e.done
}

func (r *Registry) serve(port int, e *entry) {
	defer close(e.done)
	for {
		conn, err := e.ln.Accept()
		if err != nil {
			if e.cancel.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			// One bad connection must not kill the listener.
			r.logger.Warn("callback accept error", "port", port, "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		r.handle(conn, e.opts)
	}
}

// handle reads only the HTTP request line; the inbound request is purely a
// vehicle for its query string. Everything else is discarded.
func (r *Registry) handle(conn net.Conn, opts Options) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	reqLine, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		r.logger.Warn("callback request read failed", "error", err)
		return
	}
	target := "/"
	if fields := strings.Fields(reqLine); len(fields) >= 2 {
		target = fields[1]
	}
	query := ""
	if i := strings.Index(target, "?"); i >= 0 {
		query = target[i+1:]
	}

	loc := BuildRedirectURL(opts, query)
	resp := "HTTP/1.1 302 Found\r\nLocation: " + loc + "\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"
	if _, err := conn.Write([]byte(resp)); err != nil {
		r.logger.Warn("callback response write failed", "error", err)
		return
	}
	metrics.IncRedirect(opts.Provider)
	r.logger.Info("callback redirected", "provider", opts.Provider, "location", loc)
}
