package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/engine"
)

// Replay проигрывает журнал команд на новом мире с сидом журнала и
// останавливается после кадра until (0 - последний кадр журнала). Мир
// получается тем же, что был у сервера на этом кадре.
func Replay(session *domain.CommandLogSession, until uint32) (*Simulation, error) {
	s := New(session.Seed, nil)
	entries := session.Entries
	if until == 0 && len(entries) > 0 {
		until = entries[len(entries)-1].Frame
	}

	i := 0
	for frame := uint32(1); frame <= until; frame++ {
		if i < len(entries) && entries[i].Frame < frame {
			return nil, fmt.Errorf("replay: entry %d for frame %d is out of order", i, entries[i].Frame)
		}
		for ; i < len(entries) && entries[i].Frame == frame; i++ {
			e := entries[i]
			// Отказы симуляции штатные: они были и у сервера
			_ = s.ExecuteCommand(engine.ExecContext{Frame: frame, Origin: e.Origin}, e.Command)
		}
		s.OnFrame(frame)
	}
	s.log.WithFields(logrus.Fields{
		"frame":    until,
		"commands": i,
	}).Info("replay finished")
	return s, nil
}
