package domain

import "fmt"

// ScheduledCommand - команда, которой Distribution Engine назначил кадр
// исполнения. Frame одинаков во всех копиях одной логической команды.
type ScheduledCommand struct {
	Command
	Frame  uint32   // Кадр исполнения
	Origin ClientID // Кто прислал команду
	IsMine bool     // Инициатор - этот процесс
}

// Schedule создает запись для получателя dest. Обработчик завершения
// остается только у инициатора (см. Command.CloneFor).
func Schedule(c Command, frame uint32, origin, dest ClientID) ScheduledCommand {
	return ScheduledCommand{
		Command: c.CloneFor(dest, origin),
		Frame:   frame,
		Origin:  origin,
		IsMine:  dest == origin,
	}
}

func (s ScheduledCommand) String() string {
	return fmt.Sprintf("frame=%d origin=%s %s", s.Frame, s.Origin, s.Command)
}
