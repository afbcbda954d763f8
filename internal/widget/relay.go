package widget

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kelsos/mesh-link/internal/logger"
	"github.com/kelsos/mesh-link/internal/models"
)

const (
	EventIntegrationConnected = "integrationConnected"
	EventTransferFinished     = "transferFinished"
	EventExit                 = "exit"

	maxEventBodyBytes = 1 << 20
)

var log = logger.With("relay")

// Opened describes a link session that is ready for the user.
type Opened struct {
	SessionID string
	Label     string
	// RelayURL is the local address that redirects to HostedURL.
	RelayURL  string
	HostedURL string
}

// RelayConfig configures the event relay.
type RelayConfig struct {
	Addr        string
	LinkBaseURL string
	// OnOpen is notified every time a link opens.
	OnOpen func(Opened)
}

// eventEnvelope is the body posted by the browser bridge for each widget event.
type eventEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Relay stands in for the browser-side widget. Each opened link is exposed as
// /link/{session}, which redirects to the hosted link page, and widget events
// are posted back to /link/{session}/events.
type Relay struct {
	cfg RelayConfig

	mu       sync.Mutex
	sessions map[string]*relayLink
	baseURL  string
	server   *http.Server

	dispatches sync.WaitGroup
}

// NewRelay creates a relay. It serves nothing until Start is called or its
// Handler is mounted elsewhere.
func NewRelay(cfg RelayConfig) *Relay {
	return &Relay{
		cfg:      cfg,
		sessions: make(map[string]*relayLink),
		baseURL:  "http://" + cfg.Addr,
	}
}

// Handler returns the relay's HTTP routes.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /link/{session}", r.handleOpen)
	mux.HandleFunc("POST /link/{session}/events", r.handleEvent)
	return mux
}

// Start listens on the configured address and serves until Shutdown.
func (r *Relay) Start() error {
	listener, err := net.Listen("tcp", r.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.cfg.Addr, err)
	}

	server := &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	r.mu.Lock()
	r.server = server
	r.baseURL = "http://" + listener.Addr().String()
	r.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Relay server stopped: %v", err)
		}
	}()

	log.Info("Widget relay listening on %s", r.BaseURL())
	return nil
}

// SetBaseURL overrides the address advertised in RelayURL, used when the
// handler is mounted on another server.
func (r *Relay) SetBaseURL(baseURL string) {
	r.mu.Lock()
	r.baseURL = strings.TrimRight(baseURL, "/")
	r.mu.Unlock()
}

// BaseURL returns the address advertised to users.
func (r *Relay) BaseURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.baseURL
}

// Shutdown closes every open session, stops the server and waits for
// in-flight event callbacks to return.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	links := make([]*relayLink, 0, len(r.sessions))
	for _, link := range r.sessions {
		links = append(links, link)
	}
	server := r.server
	r.server = nil
	r.mu.Unlock()

	for _, link := range links {
		link.Close()
	}

	var err error
	if server != nil {
		err = server.Shutdown(ctx)
	}
	r.Wait()
	return err
}

// Wait blocks until every dispatched event callback has returned.
func (r *Relay) Wait() {
	r.dispatches.Wait()
}

// CreateLink implements Factory.
func (r *Relay) CreateLink(opts Options) Link {
	return &relayLink{
		id:    uuid.NewString(),
		relay: r,
		opts:  opts,
	}
}

func (r *Relay) register(link *relayLink) {
	r.mu.Lock()
	r.sessions[link.id] = link
	r.mu.Unlock()
}

func (r *Relay) unregister(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *Relay) lookup(id string) (*relayLink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.sessions[id]
	return link, ok
}

// SessionCount returns the number of live sessions.
func (r *Relay) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Relay) handleOpen(w http.ResponseWriter, req *http.Request) {
	link, ok := r.lookup(req.PathValue("session"))
	if !ok {
		http.Error(w, "link session is no longer active", http.StatusGone)
		return
	}
	http.Redirect(w, req, link.hostedURL(), http.StatusFound)
}

func (r *Relay) handleEvent(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("session")
	link, ok := r.lookup(id)
	if !ok {
		log.Warn("Dropping event for inactive session %s", id)
		http.Error(w, "link session is no longer active", http.StatusGone)
		return
	}

	var envelope eventEnvelope
	if err := json.NewDecoder(io.LimitReader(req.Body, maxEventBodyBytes)).Decode(&envelope); err != nil {
		http.Error(w, fmt.Sprintf("invalid event body: %v", err), http.StatusBadRequest)
		return
	}

	callback, err := link.callbackFor(envelope)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Debug("Session %s (%s) received %s", id, link.opts.Label, envelope.Type)
	if envelope.Type == EventExit {
		r.unregister(id)
	}

	if callback != nil {
		link.dispatch(callback)
	}

	w.WriteHeader(http.StatusAccepted)
}

type relayLink struct {
	id    string
	relay *Relay
	opts  Options

	mu     sync.Mutex
	token  string
	opened bool
	closed bool

	// Callbacks of one session run one at a time, in arrival order.
	queue    []func()
	draining bool
}

func (l *relayLink) dispatch(callback func()) {
	l.relay.dispatches.Add(1)

	l.mu.Lock()
	l.queue = append(l.queue, callback)
	start := !l.draining
	l.draining = true
	l.mu.Unlock()

	if start {
		go l.drain()
	}
}

func (l *relayLink) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}
		callback := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		callback()
		l.relay.dispatches.Done()
	}
}

func (l *relayLink) Open(ctx context.Context, linkToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if linkToken == "" {
		return ErrEmptyToken
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.opened {
		l.mu.Unlock()
		return ErrAlreadyOpened
	}
	l.opened = true
	l.token = linkToken
	l.mu.Unlock()

	l.relay.register(l)

	opened := Opened{
		SessionID: l.id,
		Label:     l.opts.Label,
		RelayURL:  fmt.Sprintf("%s/link/%s", l.relay.BaseURL(), l.id),
		HostedURL: l.hostedURL(),
	}
	log.Info("Opened %s link session %s: %s", l.opts.Label, l.id, opened.RelayURL)
	if l.relay.cfg.OnOpen != nil {
		l.relay.cfg.OnOpen(opened)
	}
	return nil
}

func (l *relayLink) Close() {
	l.mu.Lock()
	alreadyClosed := l.closed
	l.closed = true
	l.mu.Unlock()

	if !alreadyClosed {
		l.relay.unregister(l.id)
		log.Debug("Closed %s link session %s", l.opts.Label, l.id)
	}
}

func (l *relayLink) hostedURL() string {
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()
	return HostedURL(l.relay.cfg.LinkBaseURL, token)
}

// callbackFor decodes the event payload and binds it to the matching callback.
func (l *relayLink) callbackFor(envelope eventEnvelope) (func(), error) {
	events := l.opts.Events
	switch envelope.Type {
	case EventIntegrationConnected:
		var payload models.LinkPayload
		if err := decodePayload(envelope.Payload, &payload); err != nil {
			return nil, err
		}
		if events.OnIntegrationConnected == nil {
			return nil, nil
		}
		return func() { events.OnIntegrationConnected(payload) }, nil
	case EventTransferFinished:
		var payload models.TransferFinishedPayload
		if err := decodePayload(envelope.Payload, &payload); err != nil {
			return nil, err
		}
		if events.OnTransferFinished == nil {
			return nil, nil
		}
		return func() { events.OnTransferFinished(payload) }, nil
	case EventExit:
		if events.OnExit == nil {
			return nil, nil
		}
		message := envelope.Error
		return func() { events.OnExit(message) }, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", envelope.Type)
	}
}

func decodePayload(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("invalid event payload: %w", err)
	}
	return nil
}

// HostedURL resolves the page a link token opens. Link tokens are base64
// encoded URLs; anything else is passed to linkBaseURL as a query parameter.
func HostedURL(linkBaseURL, linkToken string) string {
	for _, encoding := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		decoded, err := encoding.DecodeString(linkToken)
		if err != nil {
			continue
		}
		if parsed, err := url.Parse(string(decoded)); err == nil && (parsed.Scheme == "https" || parsed.Scheme == "http") && parsed.Host != "" {
			return parsed.String()
		}
	}
	return fmt.Sprintf("%s?linkToken=%s", strings.TrimRight(linkBaseURL, "/"), url.QueryEscape(linkToken))
}
