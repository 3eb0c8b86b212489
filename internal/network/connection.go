package network

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/queue"
	"lockstep-server/pkg/api"
	"lockstep-server/pkg/logger"
)

// Connection - одна удаленная сторона: клиент на сервере или сервер на клиенте.
// Принадлежит таблице соединений; остальные ссылаются на него по ID.
type Connection struct {
	ID      domain.ClientID
	Name    string
	Company domain.CompanyID

	status Status
	socket Socket

	// Inbound - команды, полученные от пира и ждущие распределения.
	Inbound queue.Queue[domain.Command]
	// Outbound - команды с назначенным кадром, ждущие отправки пиру.
	Outbound queue.Queue[domain.ScheduledCommand]

	// Пакеты, которые сокет еще не принял
	pending queue.Queue[[]byte]

	LastSeenFrame   uint32 // Последний кадр, отправленный пиру
	LastAckFrame    uint32 // Последний кадр, подтвержденный пиром
	LastPacketFrame uint32 // Кадр последнего полученного пакета
	StatusFrame     uint32 // Кадр последней смены состояния
	JoinFrame       uint32 // Кадр, с которого соединение получает команды

	// Joined - соединение дошло до Active хотя бы раз. Нужен после Sweep,
	// когда статус уже Closed.
	Joined bool

	// Аутентификация
	Challenge    []byte
	AuthAttempts int
	RconAttempts int

	CloseReason api.ErrorCode

	limiter *rate.Limiter
	log     *logrus.Entry
}

// NewConnection создает соединение в состоянии Inactive.
// perSecond <= 0 отключает ограничение входящих пакетов.
func NewConnection(id domain.ClientID, socket Socket, perSecond float64, burst int) *Connection {
	c := &Connection{
		ID:      id,
		Company: domain.CompanySpectator,
		status:  StatusInactive,
		socket:  socket,
	}
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	c.log = logger.Log.WithFields(logrus.Fields{
		"component": "network",
		"client_id": id,
		"remote":    socket.RemoteAddr(),
	})
	return c
}

func (c *Connection) Status() Status { return c.status }

// Log - логгер с полями соединения.
func (c *Connection) Log() *logrus.Entry { return c.log }

func (c *Connection) RemoteAddr() string { return c.socket.RemoteAddr() }

// SetStatus выполняет переход состояния. Недопустимый переход - ошибка,
// состояние при этом не меняется.
func (c *Connection) SetStatus(to Status, frame uint32) error {
	if c.status == to {
		return nil
	}
	if !CanTransition(c.status, to) {
		return fmt.Errorf("illegal status transition %s -> %s", c.status, to)
	}
	c.log.WithFields(logrus.Fields{
		"from":  c.status,
		"to":    to,
		"frame": frame,
	}).Debug("status changed")
	c.status = to
	c.StatusFrame = frame
	return nil
}

// Poll забирает из сокета пришедшие пакеты. Лимитер ограничивает их число:
// пакеты сверх лимита остаются в сокете до следующей итерации.
func (c *Connection) Poll(now time.Time, max int) [][]byte {
	var out [][]byte
	for max <= 0 || len(out) < max {
		if c.limiter != nil && c.limiter.TokensAt(now) < 1 {
			break
		}
		pkt, ok := c.socket.Recv()
		if !ok {
			break
		}
		if c.limiter != nil {
			c.limiter.AllowN(now, 1)
		}
		out = append(out, pkt)
	}
	return out
}

// TransportErr - ошибка сокета, если соединение уже разорвано.
func (c *Connection) TransportErr() error {
	return c.socket.Err()
}

// Send кодирует сообщение и ставит в буфер отправки.
func (c *Connection) Send(m api.Message) {
	c.pending.Push(api.Encode(m))
}

// Flush передает буфер в сокет, пока тот принимает. Остаток ждет следующей
// итерации. Возвращает число отправленных пакетов.
func (c *Connection) Flush() int {
	sent := c.pending.PopWhile(func(pkt []byte) bool {
		return c.socket.Send(pkt)
	})
	return len(sent)
}

// PendingPackets - число пакетов в буфере отправки.
func (c *Connection) PendingPackets() int { return c.pending.Len() }

// release освобождает сокет и отбрасывает очереди. Вызывается только из Table.Sweep.
func (c *Connection) release() {
	c.Flush()
	if err := c.socket.Close(); err != nil {
		c.log.WithError(err).Debug("socket close failed")
	}
	c.Inbound.Clear()
	c.Outbound.Clear()
	c.pending.Clear()
	if c.status != StatusError {
		c.status = StatusClosed
	}
}
