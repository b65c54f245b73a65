package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/onvifrelay/onvifrelay/internal/api"
	"github.com/onvifrelay/onvifrelay/internal/app"
	"github.com/rs/zerolog"
)

func Init() {
	var cfg struct {
		Mod struct {
			Origin string `yaml:"origin"`
		} `yaml:"api"`
	}

	app.LoadConfig(&cfg)

	log = app.GetLogger("api")

	initWS(cfg.Mod.Origin)

	api.HandleFunc("api/ws", Serve)
	api.UpgradeHandler = Serve
}

var log = zerolog.Nop()

// Message - client request
type Message struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	RequestID json.RawMessage `json:"requestId,omitempty"`

	prev    <-chan struct{}
	started chan struct{}
	once    sync.Once
}

// Begin waits until previous message of same connection has begun.
// Handlers call it right before device call, so calls start in arrival order
// while still running concurrently.
func (m *Message) Begin() {
	m.once.Do(func() {
		if m.prev != nil {
			<-m.prev
		}
		if m.started != nil {
			close(m.started)
		}
	})
}

// Unmarshal params into v, absent params leave v untouched
func (m *Message) Unmarshal(v any) error {
	if len(m.Params) == 0 || string(m.Params) == "null" {
		return nil
	}
	return json.Unmarshal(m.Params, v)
}

// Reply builds response with exactly one of result or error
func (m *Message) Reply(id string, result any, err error) *Response {
	res := &Response{ID: id, Method: m.Method, RequestID: m.RequestID}
	if err != nil {
		if res.Error = err.Error(); res.Error == "" {
			res.Error = "unknown error"
		}
	} else {
		res.Result = result
	}
	return res
}

// Response - server reply, ID may differ from Method for old UI compatibility
type Response struct {
	ID        string          `json:"id"`
	Result    any             `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Method    string          `json:"method,omitempty"`
	RequestID json.RawMessage `json:"requestId,omitempty"`
}

type WSHandler func(tr *Transport, msg *Message) error

func HandleFunc(method string, handler WSHandler) {
	handlersMu.Lock()
	wsHandlers[method] = handler
	handlersMu.Unlock()
}

// OnOpen - called for every new connection before first message
func OnOpen(f func(tr *Transport)) {
	handlersMu.Lock()
	onOpen = append(onOpen, f)
	handlersMu.Unlock()
}

func getHandler(method string) WSHandler {
	handlersMu.RLock()
	defer handlersMu.RUnlock()
	return wsHandlers[method]
}

var (
	wsHandlers = make(map[string]WSHandler)
	onOpen     []func(tr *Transport)
	handlersMu sync.RWMutex
)

func initWS(origin string) {
	switch origin {
	case "":
		// same origin + ignore port
		wsUp.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header["Origin"]
			if len(origin) == 0 {
				return true
			}
			o, err := url.Parse(origin[0])
			if err != nil {
				return false
			}
			if o.Host == r.Host {
				return true
			}
			log.Trace().Msgf("[api] ws origin=%s, host=%s", o.Host, r.Host)
			if i := strings.IndexByte(o.Host, ':'); i > 0 {
				return o.Host[:i] == r.Host
			}
			return false
		}
	case "*":
		// any origin
		wsUp.CheckOrigin = func(r *http.Request) bool {
			return true
		}
	}
}

var wsUp = &websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024, // snapshots as data URI
}

// Serve upgrades request and runs reader loop until connection closed.
// Every text message is handled in own goroutine.
func Serve(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUp.Upgrade(w, r, nil)
	if err != nil {
		origin := r.Header.Get("Origin")
		log.Error().Err(err).Caller().Msgf("host=%s origin=%s", r.Host, origin)
		return
	}

	tr := &Transport{Request: r, ID: uuid.NewString()}
	tr.OnWrite(func(msg any) error {
		_ = ws.SetWriteDeadline(time.Now().Add(time.Second * 5))
		return ws.WriteJSON(msg)
	})

	conns.Store(tr, ws)

	log.Debug().Str("session", tr.ID).Str("remote", r.RemoteAddr).Msg("[api] ws open")

	handlersMu.RLock()
	hooks := onOpen
	handlersMu.RUnlock()

	for _, f := range hooks {
		f(tr)
	}

	var prev chan struct{}

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Trace().Err(err).Caller().Send()
			}
			break
		}

		if msgType != websocket.TextMessage {
			continue
		}

		msg := &Message{}
		if err = json.Unmarshal(data, msg); err != nil {
			tr.Write(&Response{ID: "error", Error: "Malformed request: " + err.Error()})
			continue
		}

		msg.prev = prev
		msg.started = make(chan struct{})
		prev = msg.started

		log.Trace().Str("session", tr.ID).Str("method", msg.Method).Msg("[api] ws msg")

		go handle(tr, msg)
	}

	_ = ws.Close()
	conns.Delete(tr)

	tr.Close()

	log.Debug().Str("session", tr.ID).Msg("[api] ws close")
}

func handle(tr *Transport, msg *Message) {
	// next message must not wait forever if handler never called Begin
	defer msg.Begin()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("method", msg.Method).Msgf("[api] ws panic: %v", r)
			tr.Write(msg.Reply(msg.Method, nil, fmt.Errorf("%v", r)))
		}
	}()

	handler := getHandler(msg.Method)
	if handler == nil {
		tr.Write(msg.Reply(msg.Method, nil, fmt.Errorf("Unknown method: %s", msg.Method)))
		return
	}

	if err := handler(tr, msg); err != nil {
		tr.Write(msg.Reply(msg.Method, nil, err))
	}
}

var conns sync.Map

// Close drops all active connections, reader loops exit and run OnClose callbacks
func Close() {
	conns.Range(func(key, value any) bool {
		_ = value.(*websocket.Conn).Close()
		return true
	})
}

type Transport struct {
	Request *http.Request
	ID      string

	ctx map[any]any

	closed bool
	mx     sync.Mutex
	wrmx   sync.Mutex

	onWrite func(msg any) error
	onClose []func()
}

func (t *Transport) OnWrite(f func(msg any) error) {
	t.mx.Lock()
	t.onWrite = f
	t.mx.Unlock()
}

// Write - serialized send, does nothing after connection closed
func (t *Transport) Write(msg any) {
	t.mx.Lock()
	closed, onWrite := t.closed, t.onWrite
	t.mx.Unlock()

	if closed || onWrite == nil {
		return
	}

	t.wrmx.Lock()
	if err := onWrite(msg); err != nil {
		log.Trace().Err(err).Str("session", t.ID).Msg("[api] ws write")
	}
	t.wrmx.Unlock()
}

func (t *Transport) Close() {
	t.mx.Lock()
	if t.closed {
		t.mx.Unlock()
		return
	}
	t.closed = true
	callbacks := t.onClose
	t.onClose = nil
	t.mx.Unlock()

	for _, f := range callbacks {
		f()
	}
}

func (t *Transport) Closed() bool {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.closed
}

func (t *Transport) OnClose(f func()) {
	t.mx.Lock()
	if t.closed {
		t.mx.Unlock()
		f()
		return
	}
	t.onClose = append(t.onClose, f)
	t.mx.Unlock()
}

// WithContext - run function with Context variable
func (t *Transport) WithContext(f func(ctx map[any]any)) {
	t.mx.Lock()
	if t.ctx == nil {
		t.ctx = map[any]any{}
	}
	f(t.ctx)
	t.mx.Unlock()
}
