package engine

import (
	"github.com/sirupsen/logrus"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/queue"
	"lockstep-server/pkg/logger"
)

// Scheduler ведет счетчик кадров и исполняет команды, чей кадр наступил.
type Scheduler struct {
	frame     uint32
	queue     *queue.ExecutionQueue
	sim       Simulation
	callbacks *domain.CallbackRegistry
	log       *logrus.Entry
}

func NewScheduler(start uint32, sim Simulation, callbacks *domain.CallbackRegistry) *Scheduler {
	return &Scheduler{
		frame:     start,
		queue:     queue.NewExecutionQueue(),
		sim:       sim,
		callbacks: callbacks,
		log:       logger.Component("scheduler"),
	}
}

// Frame - текущий кадр.
func (s *Scheduler) Frame() uint32 { return s.frame }

// Ceiling - кадр, на который назначаются новые команды.
func (s *Scheduler) Ceiling() uint32 { return s.frame + 1 }

// Queue - очередь исполнения. Пишет в нее только распределение команд.
func (s *Scheduler) Queue() *queue.ExecutionQueue { return s.queue }

// Advance увеличивает счетчик ровно на один кадр.
func (s *Scheduler) Advance() uint32 {
	s.frame++
	return s.frame
}

// Reset переставляет счетчик после загрузки состояния и очищает очередь.
func (s *Scheduler) Reset(frame uint32) {
	s.frame = frame
	s.queue.Clear()
}

// ExecuteDue исполняет все команды с кадром <= текущего. Команда с кадром
// строго меньше текущего означает, что ее пропустили: исполнение
// прерывается и возвращается *SchedulingViolation. После исполнения
// симуляция продвигается на кадр через OnFrame.
func (s *Scheduler) ExecuteDue() (int, error) {
	due := s.queue.DrainDue(s.frame)
	for _, sc := range due {
		if sc.Frame < s.frame {
			return 0, &SchedulingViolation{
				Frame:   sc.Frame,
				Current: s.frame,
				Op:      sc.Op,
				Origin:  sc.Origin,
			}
		}
	}

	for _, sc := range due {
		err := s.sim.ExecuteCommand(ExecContext{Frame: s.frame, Origin: sc.Origin, IsMine: sc.IsMine}, sc.Command)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"frame":     s.frame,
				"client_id": sc.Origin,
				"op":        sc.Op,
			}).WithError(err).Debug("command failed")
		}
		if sc.IsMine && s.callbacks != nil {
			s.callbacks.Invoke(sc.Command, err)
		}
	}
	s.sim.OnFrame(s.frame)
	return len(due), nil
}
