package domain

import "fmt"

// CallbackFunc вызывается после исполнения собственной команды.
// err - результат ExecuteCommand (nil при успехе).
type CallbackFunc func(cmd Command, param uint32, err error)

// CallbackRegistry - таблица локальных обработчиков завершения.
// Идентификаторы одинаковы у всех участников, а сами функции - только локальные.
type CallbackRegistry struct {
	handlers map[CallbackID]CallbackFunc
}

func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{handlers: make(map[CallbackID]CallbackFunc)}
}

// Register привязывает обработчик к id. CallbackNone зарезервирован.
func (r *CallbackRegistry) Register(id CallbackID, fn CallbackFunc) error {
	if id == CallbackNone {
		return fmt.Errorf("callback id %d is reserved", id)
	}
	if fn == nil {
		return fmt.Errorf("callback %d: nil handler", id)
	}
	r.handlers[id] = fn
	return nil
}

// Invoke вызывает обработчик команды. Возвращает false, если обработчика нет.
func (r *CallbackRegistry) Invoke(cmd Command, err error) bool {
	if !cmd.HasCallback() {
		return false
	}
	fn, ok := r.handlers[cmd.Callback]
	if !ok {
		return false
	}
	fn(cmd, cmd.CallbackParam, err)
	return true
}
