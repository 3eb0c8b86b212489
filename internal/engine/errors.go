package engine

import (
	"errors"
	"fmt"

	"lockstep-server/internal/domain"
)

var (
	// ErrAuthFailed - неверный пароль сервера или rcon.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrNotConnected - операция требует активного соединения с сервером.
	ErrNotConnected = errors.New("not connected")
	// ErrUnknownClient - нет соединения с таким ID.
	ErrUnknownClient = errors.New("unknown client")
)

// SchedulingViolation - команда извлечена из очереди позже своего кадра.
// Значит, порядок кадров уже нарушен и симуляция разошлась. Не восстанавливается.
type SchedulingViolation struct {
	Frame   uint32 // Кадр, на который была назначена команда
	Current uint32 // Кадр, на котором ее извлекли
	Op      domain.OpCode
	Origin  domain.ClientID
}

func (e *SchedulingViolation) Error() string {
	return fmt.Sprintf("scheduling violation: %s from %s scheduled for frame %d drained at frame %d",
		e.Op, e.Origin, e.Frame, e.Current)
}
