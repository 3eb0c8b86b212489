package network

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"lockstep-server/pkg/api"
)

// Result - итог обработки одного пакета.
type Result uint8

const (
	Continue Result = iota
	Close
	MalformedInput
)

func (r Result) String() string {
	switch r {
	case Continue:
		return "CONTINUE"
	case Close:
		return "CLOSE"
	case MalformedInput:
		return "MALFORMED_INPUT"
	}
	return "UNKNOWN"
}

var (
	// ErrUnknownPacket - для типа пакета нет обработчика.
	ErrUnknownPacket = errors.New("unknown packet type")
	// ErrUnexpectedPacket - пакет не допустим в текущем состоянии соединения.
	ErrUnexpectedPacket = errors.New("packet not expected in this state")
)

// Handler обрабатывает декодированное сообщение.
type Handler func(c *Connection, m api.Message) Result

type route struct {
	handler Handler
	allowed map[Status]bool
}

// Dispatcher - фиксированная таблица "тип пакета -> обработчик".
// Все, что не зарегистрировано, считается враждебным вводом.
type Dispatcher struct {
	routes map[api.PacketType]route
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{routes: make(map[api.PacketType]route)}
}

// Handle регистрирует обработчик, допустимый в перечисленных состояниях.
// Таблица заполняется один раз при создании сессии.
func (d *Dispatcher) Handle(t api.PacketType, h Handler, allowed ...Status) {
	if _, dup := d.routes[t]; dup {
		panic(fmt.Sprintf("dispatcher: duplicate handler for %s", t))
	}
	r := route{handler: h, allowed: make(map[Status]bool, len(allowed))}
	for _, s := range allowed {
		r.allowed[s] = true
	}
	d.routes[t] = r
}

// Dispatch разбирает пакет и вызывает обработчик. Неизвестный тип, пакет
// не в том состоянии или ошибка разбора дают MalformedInput; обработчик при
// этом не вызывается.
func (d *Dispatcher) Dispatch(c *Connection, packet []byte) (Result, error) {
	t, err := api.PeekType(packet)
	if err != nil {
		return MalformedInput, fmt.Errorf("%w: %w", ErrUnknownPacket, err)
	}
	r, ok := d.routes[t]
	if !ok {
		return MalformedInput, fmt.Errorf("%w: %s", ErrUnknownPacket, t)
	}
	if !r.allowed[c.Status()] {
		return MalformedInput, fmt.Errorf("%w: %s in %s", ErrUnexpectedPacket, t, c.Status())
	}
	m, err := api.Decode(packet)
	if err != nil {
		return MalformedInput, err
	}

	res := r.handler(c, m)
	if res != Continue {
		c.Log().WithFields(logrus.Fields{
			"packet": t,
			"result": res,
		}).Debug("handler requested close")
	}
	return res, nil
}
