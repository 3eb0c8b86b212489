package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"lockstep-server/pkg/logger"
)

// Настройки WebSocket
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	queueSize      = 1024
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebsocketSocket - Socket поверх gorilla/websocket. Чтение и запись идут в
// своих горутинах (readPump/writePump), цикл сессии общается с ними только
// через каналы и никогда не блокируется.
type WebsocketSocket struct {
	conn *websocket.Conn
	addr string

	recv chan []byte
	send chan []byte
	done chan struct{}

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// NewWebsocketSocket запускает помпы для уже установленного соединения.
func NewWebsocketSocket(conn *websocket.Conn) *WebsocketSocket {
	s := &WebsocketSocket{
		conn: conn,
		addr: conn.RemoteAddr().String(),
		recv: make(chan []byte, queueSize),
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
	go s.readPump()
	go s.writePump()
	return s
}

// Accept выполняет upgrade HTTP-запроса.
func Accept(w http.ResponseWriter, r *http.Request) (*WebsocketSocket, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebsocketSocket(conn), nil
}

// Dial подключается к серверу по адресу вида ws://host:port/ws.
func Dial(ctx context.Context, url string) (*WebsocketSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebsocketSocket(conn), nil
}

func (s *WebsocketSocket) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// readPump читает пакеты из сети
func (s *WebsocketSocket) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Log.WithError(err).Warn("failed to set read deadline")
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			logger.Log.WithError(err).Warn("failed to set pong read deadline")
		}
		return nil
	})

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Log.WithFields(logrus.Fields{
					"component": "network",
					"remote":    s.addr,
				}).WithError(err).Warn("websocket read failed")
			}
			s.setErr(err)
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		select {
		case s.recv <- data:
		case <-s.done:
			return
		}
	}
}

// writePump отправляет пакеты + Ping
func (s *WebsocketSocket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := s.conn.Close(); err != nil {
			logger.Log.WithError(err).Debug("failed to close websocket connection in writePump")
		}
	}()

	for {
		select {
		case packet := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Log.WithError(err).Warn("failed to set write deadline")
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, packet); err != nil {
				logger.Log.WithError(err).Debug("write message failed")
				s.setErr(err)
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Log.WithError(err).Warn("failed to set ping write deadline")
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Log.WithError(err).Debug("ping failed")
				s.setErr(err)
				return
			}

		case <-s.done:
			s.drain()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
				logger.Log.WithError(err).Debug("write close message failed")
			}
			return
		}
	}
}

// drain дописывает то, что уже поставлено в очередь (например, SERVER_ERROR
// перед закрытием).
func (s *WebsocketSocket) drain() {
	for {
		select {
		case packet := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, packet); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *WebsocketSocket) Recv() ([]byte, bool) {
	select {
	case pkt := <-s.recv:
		return pkt, true
	default:
		return nil, false
	}
}

func (s *WebsocketSocket) Send(packet []byte) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.send <- packet:
		return true
	default:
		return false
	}
}

// Err возвращает ошибку транспорта, когда непрочитанных пакетов не осталось.
func (s *WebsocketSocket) Err() error {
	if len(s.recv) > 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *WebsocketSocket) Close() error {
	s.closeOnce.Do(func() {
		s.setErr(ErrSocketClosed)
		close(s.done)
	})
	return nil
}

func (s *WebsocketSocket) RemoteAddr() string { return s.addr }
