package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed - вход не является корректной командой. Разбор всегда
	// прерывается целиком, частично разобранная команда не возвращается.
	ErrMalformed = errors.New("malformed command")

	// ErrUnknownOpCode - код команды не входит в известный набор.
	ErrUnknownOpCode = fmt.Errorf("%w: unknown op-code", ErrMalformed)
)

// Command - реплицируемое намерение изменить состояние симуляции.
// После создания не меняется: все модификаторы возвращают копию.
type Command struct {
	Company       CompanyID // От имени какой компании
	Tile          TileIndex // Целевой тайл
	Op            OpCode    // Что делаем
	Payload       Payload   // Данные, уже прошедшие валидацию
	ErrorMsg      StringID  // Текст ошибки для UI при неудаче
	Callback      CallbackID
	CallbackParam uint32
}

// NewCommand создает команду. Код должен входить в известный набор, а payload
// соответствовать коду и проходить собственную валидацию.
func NewCommand(op OpCode, tile TileIndex, payload Payload, company CompanyID) (Command, error) {
	if !op.Valid() {
		return Command{}, fmt.Errorf("%w: %d", ErrUnknownOpCode, op)
	}
	if payload == nil {
		return Command{}, fmt.Errorf("%w: %s without payload", ErrMalformed, op)
	}
	if payload.Op() != op {
		return Command{}, fmt.Errorf("%w: payload for %s used with %s", ErrMalformed, payload.Op(), op)
	}
	if !company.Valid() {
		return Command{}, fmt.Errorf("%w: company %d out of range", ErrMalformed, company)
	}
	if err := payload.Validate(); err != nil {
		return Command{}, fmt.Errorf("%w: %s payload: %w", ErrMalformed, op, err)
	}
	return Command{
		Company: company,
		Tile:    tile,
		Op:      op,
		Payload: payload,
	}, nil
}

// WithCallback возвращает копию команды с обработчиком завершения.
func (c Command) WithCallback(id CallbackID, param uint32) Command {
	c.Callback = id
	c.CallbackParam = param
	if id == CallbackNone {
		c.CallbackParam = 0
	}
	return c
}

// WithErrorMsg возвращает копию команды с идентификатором текста ошибки.
func (c Command) WithErrorMsg(id StringID) Command {
	c.ErrorMsg = id
	return c
}

// HasCallback сообщает, привязан ли к команде локальный обработчик.
func (c Command) HasCallback() bool {
	return c.Callback != CallbackNone
}

// CloneFor готовит копию команды для отправки участнику dest.
// Обработчик завершения - локальный побочный эффект (например, диалог с
// результатом), поэтому он остается только в копии для инициатора.
func (c Command) CloneFor(dest, origin ClientID) Command {
	if dest != origin {
		c.Callback = CallbackNone
		c.CallbackParam = 0
	}
	return c
}

func (c Command) String() string {
	return fmt.Sprintf("%s %s %s", c.Op, c.Company, c.Tile)
}
