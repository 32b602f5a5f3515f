package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"teamera_server/core/domain"
	"teamera_server/core/port/out"
	"teamera_server/pkg/metrics"
)

// Phoenix channel events used by the Realtime service.
const (
	phxJoin         = "phx_join"
	phxLeave        = "phx_leave"
	phxReply        = "phx_reply"
	phxError        = "phx_error"
	phxClose        = "phx_close"
	phxHeartbeat    = "heartbeat"
	phxAccessToken  = "access_token"
	postgresChanges = "postgres_changes"
)

var ErrRealtimeClosed = errors.New("realtime client closed")

// RealtimeConfig tunes the websocket client.
type RealtimeConfig struct {
	Heartbeat         time.Duration // default 25s
	ReconnectInterval time.Duration // minimum gap between dials, default 1s
	WriteTimeout      time.Duration // default 10s
	Dialer            *websocket.Dialer
	// AccessToken returns the user token sent with joins so row-level
	// security applies. Nil joins with the API key.
	AccessToken func() string
}

func (c *RealtimeConfig) defaults() {
	if c.Heartbeat <= 0 {
		c.Heartbeat = 25 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
}

// Realtime is a Phoenix-protocol client for postgres_changes. It implements
// out.ChangeFeed. One websocket is shared by all subscriptions; it is dialed
// on first use and redialed, rate limited, after a drop.
type Realtime struct {
	url     string
	cfg     RealtimeConfig
	log     zerolog.Logger
	limiter *rate.Limiter
	ref     atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	conn         *websocket.Conn
	channels     map[string]*rtChannel
	nextID       int64
	reconnecting bool
	closed       bool

	writeMu sync.Mutex
}

type rtChannel struct {
	topic    string
	filter   domain.ChangeFilter
	joinRef  string
	handlers map[int64]out.ChangeHandler
}

var _ out.ChangeFeed = (*Realtime)(nil)

// NewRealtime builds a client for the project behind c.
func NewRealtime(c *Client, cfg RealtimeConfig) *Realtime {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())

	q := url.Values{}
	q.Set("apikey", c.apiKey)
	q.Set("vsn", "1.0.0")

	return &Realtime{
		url:      c.realtimeURL + "?" + q.Encode(),
		cfg:      cfg,
		log:      c.log.With().Str("component", "supabase_realtime").Logger(),
		limiter:  rate.NewLimiter(rate.Every(cfg.ReconnectInterval), 1),
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[string]*rtChannel),
	}
}

func topicFor(f domain.ChangeFilter) string {
	t := "realtime:" + f.Schema + ":" + f.Table
	if f.Filter != "" {
		t += ":" + f.Filter
	}
	return t
}

type rtSubscription struct {
	rt    *Realtime
	topic string
	id    int64
	once  sync.Once
}

func (s *rtSubscription) Close() error {
	var err error
	s.once.Do(func() { err = s.rt.remove(s.topic, s.id) })
	return err
}

// Subscribe joins the channel for filter (sharing it when another
// subscription already holds it) and delivers each change to handler on the
// reader goroutine.
func (r *Realtime) Subscribe(ctx context.Context, filter domain.ChangeFilter, handler out.ChangeHandler) (out.Subscription, error) {
	if filter.Schema == "" {
		filter.Schema = "public"
	}
	if filter.Event == "" {
		filter.Event = domain.ChangeAll
	}
	topic := topicFor(filter)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRealtimeClosed
	}
	ch, shared := r.channels[topic]
	if !shared {
		ch = &rtChannel{topic: topic, filter: filter, handlers: make(map[int64]out.ChangeHandler)}
		r.channels[topic] = ch
	}
	id := r.nextID
	r.nextID++
	ch.handlers[id] = handler
	r.mu.Unlock()

	fresh, err := r.connect(ctx)
	if err != nil {
		_ = r.remove(topic, id)
		return nil, err
	}
	switch {
	case fresh:
		r.joinAll()
	case !shared:
		if err := r.join(ch); err != nil {
			_ = r.remove(topic, id)
			return nil, err
		}
	}

	r.log.Debug().Str("topic", topic).Msg("subscribed")
	return &rtSubscription{rt: r, topic: topic, id: id}, nil
}

// remove drops one handler and leaves the channel when it was the last.
func (r *Realtime) remove(topic string, id int64) error {
	r.mu.Lock()
	ch, ok := r.channels[topic]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(ch.handlers, id)
	if len(ch.handlers) > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.channels, topic)
	connected := r.conn != nil
	joinRef := ch.joinRef
	r.mu.Unlock()

	if !connected {
		return nil
	}
	return r.send(topic, phxLeave, map[string]any{}, joinRef)
}

// connect dials if there is no live connection. fresh reports a new dial.
func (r *Realtime) connect(ctx context.Context) (fresh bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrRealtimeClosed
	}
	if r.conn != nil {
		return false, nil
	}

	conn, _, err := r.cfg.Dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return false, fmt.Errorf("realtime dial: %w", err)
	}
	r.conn = conn

	go r.readLoop(conn)
	go r.heartbeat(conn)

	metrics.ObserveRealtime("connect")
	r.log.Info().Msg("realtime connected")
	return true, nil
}

func (r *Realtime) joinAll() {
	r.mu.Lock()
	chans := make([]*rtChannel, 0, len(r.channels))
	for _, ch := range r.channels {
		chans = append(chans, ch)
	}
	r.mu.Unlock()

	for _, ch := range chans {
		if err := r.join(ch); err != nil {
			r.log.Warn().Err(err).Str("topic", ch.topic).Msg("rejoin failed")
		}
	}
}

func (r *Realtime) join(ch *rtChannel) error {
	change := map[string]any{
		"event":  string(ch.filter.Event),
		"schema": ch.filter.Schema,
		"table":  ch.filter.Table,
	}
	if ch.filter.Filter != "" {
		change["filter"] = ch.filter.Filter
	}
	payload := map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]any{"self": false},
			"presence":         map[string]any{"key": ""},
			"postgres_changes": []any{change},
		},
	}
	if r.cfg.AccessToken != nil {
		if tok := r.cfg.AccessToken(); tok != "" {
			payload["access_token"] = tok
		}
	}

	ref := r.nextRef()
	r.mu.Lock()
	ch.joinRef = ref
	r.mu.Unlock()
	return r.sendRef(ch.topic, phxJoin, payload, ref, ref)
}

// UpdateAccessToken pushes a refreshed user token to every joined channel.
func (r *Realtime) UpdateAccessToken(token string) {
	r.mu.Lock()
	if r.conn == nil {
		r.mu.Unlock()
		return
	}
	topics := make(map[string]string, len(r.channels))
	for t, ch := range r.channels {
		topics[t] = ch.joinRef
	}
	r.mu.Unlock()

	for t, joinRef := range topics {
		if err := r.send(t, phxAccessToken, map[string]any{"access_token": token}, joinRef); err != nil {
			r.log.Warn().Err(err).Str("topic", t).Msg("push access token")
		}
	}
}

func (r *Realtime) nextRef() string {
	return strconv.FormatInt(r.ref.Add(1), 10)
}

type phxOutbound struct {
	Topic   string  `json:"topic"`
	Event   string  `json:"event"`
	Payload any     `json:"payload"`
	Ref     string  `json:"ref"`
	JoinRef *string `json:"join_ref,omitempty"`
}

type phxInbound struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

func (r *Realtime) send(topic, event string, payload any, joinRef string) error {
	return r.sendRef(topic, event, payload, r.nextRef(), joinRef)
}

func (r *Realtime) sendRef(topic, event string, payload any, ref, joinRef string) error {
	msg := phxOutbound{Topic: topic, Event: event, Payload: payload, Ref: ref}
	if joinRef != "" {
		msg.JoinRef = &joinRef
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return errors.New("realtime not connected")
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (r *Realtime) heartbeat(conn *websocket.Conn) {
	ticker := time.NewTicker(r.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			current := r.conn == conn
			r.mu.Unlock()
			if !current {
				return
			}
			if err := r.send("phoenix", phxHeartbeat, map[string]any{}, ""); err != nil {
				r.log.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func (r *Realtime) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.dropped(conn, err)
			return
		}

		var msg phxInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			r.log.Warn().Err(err).Msg("decode realtime message")
			continue
		}
		r.handle(msg)
	}
}

func (r *Realtime) handle(msg phxInbound) {
	switch msg.Event {
	case postgresChanges:
		var p struct {
			Data domain.RowChange `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			r.log.Warn().Err(err).Str("topic", msg.Topic).Msg("decode postgres change")
			return
		}
		r.dispatch(msg.Topic, p.Data)

	case phxReply:
		var p struct {
			Status   string          `json:"status"`
			Response json.RawMessage `json:"response"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err == nil && p.Status != "ok" {
			r.log.Warn().Str("topic", msg.Topic).Str("status", p.Status).Str("response", string(p.Response)).
				Msg("realtime request rejected")
		}

	case phxError, phxClose:
		r.log.Warn().Str("topic", msg.Topic).Str("event", msg.Event).Msg("realtime channel closed by server")
	}
}

func (r *Realtime) dispatch(topic string, change domain.RowChange) {
	r.mu.Lock()
	ch, ok := r.channels[topic]
	var handlers []out.ChangeHandler
	if ok {
		handlers = make([]out.ChangeHandler, 0, len(ch.handlers))
		for _, h := range ch.handlers {
			handlers = append(handlers, h)
		}
	}
	r.mu.Unlock()

	metrics.ObserveRealtime(string(change.Type))
	for _, h := range handlers {
		h(change)
	}
}

// dropped clears a dead connection and redials if channels remain.
func (r *Realtime) dropped(conn *websocket.Conn, cause error) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	_ = conn.Close()
	if r.closed || len(r.channels) == 0 || r.reconnecting {
		r.mu.Unlock()
		return
	}
	r.reconnecting = true
	r.mu.Unlock()

	metrics.ObserveRealtime("disconnect")
	r.log.Warn().Err(cause).Msg("realtime connection lost, reconnecting")
	go r.reconnect()
}

func (r *Realtime) reconnect() {
	defer func() {
		r.mu.Lock()
		r.reconnecting = false
		r.mu.Unlock()
	}()

	for {
		if err := r.limiter.Wait(r.ctx); err != nil {
			return
		}
		r.mu.Lock()
		idle := len(r.channels) == 0
		r.mu.Unlock()
		if idle {
			return
		}

		fresh, err := r.connect(r.ctx)
		if err != nil {
			if errors.Is(err, ErrRealtimeClosed) {
				return
			}
			r.log.Warn().Err(err).Msg("realtime redial failed")
			continue
		}
		if fresh {
			r.joinAll()
		}
		return
	}
}

// Close leaves every channel and closes the socket. Further Subscribe calls fail.
func (r *Realtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.conn
	r.conn = nil
	r.channels = make(map[string]*rtChannel)
	r.mu.Unlock()

	r.cancel()
	if conn == nil {
		return nil
	}

	r.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	r.writeMu.Unlock()
	return conn.Close()
}
