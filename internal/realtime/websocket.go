package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Типы сообщений в websocket-потоке.
const (
	MessageEvent = "event"
	MessageError = "error"
)

// Message - кадр websocket-потока.
type Message struct {
	Type  string        `json:"type"`
	Event *domain.Event `json:"event,omitempty"`
	Error string        `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS поднимает websocket и транслирует в него события треда, пока
// клиент не отключится или подписка не сломается.
func ServeWS(w http.ResponseWriter, r *http.Request, feed Feed, fineID string, log *zap.Logger) {
	log = logging.OrNop(log).With(zap.String("fine_id", fineID))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan Message, sendBuffer)
	var once sync.Once
	fail := func(msg Message) {
		once.Do(func() {
			select {
			case out <- msg:
			default:
			}
			cancel()
		})
	}

	sub, err := feed.Subscribe(ctx, fineID,
		func(ev domain.Event) {
			select {
			case out <- Message{Type: MessageEvent, Event: &ev}:
			default:
				fail(Message{Type: MessageError, Error: "client too slow"})
			}
		},
		func(err error) {
			fail(Message{Type: MessageError, Error: err.Error()})
		},
	)
	if err != nil {
		log.Warn("realtime subscribe failed", zap.Error(err))
		_ = conn.WriteJSON(Message{Type: MessageError, Error: err.Error()})
		return
	}
	defer sub.Unsubscribe()

	// Читаем только для ping/pong и обнаружения закрытия.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			if msg.Type == MessageError {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			// Сообщение об ошибке могло лечь в out одновременно с отменой.
			flush(conn, out)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func flush(conn *websocket.Conn, out <-chan Message) {
	for {
		select {
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// WSFeed - клиент ленты по websocket к другому экземпляру сервиса.
type WSFeed struct {
	baseURL string
	dialer  *websocket.Dialer
	log     *zap.Logger
}

// NewWSFeed принимает http(s)- или ws(s)-адрес сервиса.
func NewWSFeed(baseURL string, log *zap.Logger) *WSFeed {
	return &WSFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer:  websocket.DefaultDialer,
		log:     logging.OrNop(log),
	}
}

func (f *WSFeed) endpoint(fineID string) (string, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.JoinPath("fines", fineID, "comments", "ws").String(), nil
}

// Subscribe открывает соединение. Ошибка рукопожатия возвращается сразу,
// обрыв после него приходит через onError как ErrChannel.
func (f *WSFeed) Subscribe(ctx context.Context, fineID string, onEvent func(domain.Event), onError func(error)) (Subscription, error) {
	if onEvent == nil {
		return nil, fmt.Errorf("subscribe %s: nil event handler", fineID)
	}
	if onError == nil {
		onError = func(error) {}
	}

	endpoint, err := f.endpoint(fineID)
	if err != nil {
		return nil, err
	}
	conn, resp, err := f.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrChannel, endpoint, err)
	}

	s := &wsSub{conn: conn, done: make(chan struct{})}

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Unsubscribe()
		case <-s.done:
		}
	}()

	go func() {
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				if !s.closed() {
					onError(fmt.Errorf("%w: %v", ErrChannel, err))
					_ = s.Unsubscribe()
				}
				return
			}
			switch msg.Type {
			case MessageEvent:
				if msg.Event != nil {
					onEvent(*msg.Event)
				}
			case MessageError:
				if !s.closed() {
					onError(fmt.Errorf("%w: %s", ErrChannel, msg.Error))
					_ = s.Unsubscribe()
				}
				return
			default:
				f.log.Debug("unknown realtime frame", zap.String("type", msg.Type))
			}
		}
	}()

	return s, nil
}

type wsSub struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
	err  error
}

func (s *wsSub) Unsubscribe() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.err = err
		}
	})
	return s.err
}

func (s *wsSub) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
