package engine

import (
	"github.com/sirupsen/logrus"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/network"
	"lockstep-server/internal/queue"
	"lockstep-server/pkg/logger"
)

// Distributor - единственное место, где командам назначается кадр
// исполнения (только на сервере).
type Distributor struct {
	capClient int
	capServer int
	allowed   domain.OpCodeSet
	cmdlog    *CommandLog
	log       *logrus.Entry
}

func NewDistributor(cfg Config, cmdlog *CommandLog) *Distributor {
	return &Distributor{
		capClient: cfg.CommandsPerFrame,
		capServer: cfg.CommandsPerFrameServer,
		allowed:   cfg.PausedAllowList(),
		cmdlog:    cmdlog,
		log:       logger.Component("distribution"),
	}
}

// ServerQueues - очереди, которые сервер наполняет сам. Admin - пауза из
// rcon и админки: пауза ее не держит, иначе снять паузу было бы нечем.
// Pending - команды игрока сервера.
type ServerQueues struct {
	Admin   *queue.Queue[domain.Command]
	Pending *queue.Queue[domain.Command]
}

// DistributeResult - сводка одного прохода.
type DistributeResult struct {
	Distributed int
	Held        int              // Команды, оставшиеся в очередях из-за лимита или паузы
	Admin       []domain.Command // Распределенные административные команды
}

// Distribute выполняет один проход: сначала административная очередь,
// затем очередь игрока сервера,
// затем входящие очереди активных соединений в порядке таблицы. Каждой
// команде назначается кадр ceiling, копии уходят в исходящие очереди всех
// активных соединений и в локальную очередь исполнения.
//
// Команда, упершаяся в лимит источника или запрещенная на паузе, остается
// головой своей очереди вместе со всем, что за ней: порядок внутри
// источника не нарушается никогда.
func (d *Distributor) Distribute(ceiling uint32, paused bool, local ServerQueues,
	table *network.Table, exec *queue.ExecutionQueue) DistributeResult {

	var res DistributeResult
	recipients := table.Active()

	if local.Admin != nil {
		res.Admin = d.drain(&res, ceiling, false, domain.ClientIDServer, local.Admin, d.capServer, recipients, exec)
	}
	if local.Pending != nil {
		d.drain(&res, ceiling, paused, domain.ClientIDServer, local.Pending, d.capServer, recipients, exec)
	}
	for _, c := range recipients {
		d.drain(&res, ceiling, paused, c.ID, &c.Inbound, d.capClient, recipients, exec)
	}

	if res.Distributed > 0 || res.Held > 0 {
		d.log.WithFields(logrus.Fields{
			"frame":       ceiling,
			"distributed": res.Distributed,
			"held":        res.Held,
			"recipients":  len(recipients),
		}).Debug("distribution pass")
	}
	return res
}

func (d *Distributor) drain(res *DistributeResult, ceiling uint32, paused bool, origin domain.ClientID,
	src *queue.Queue[domain.Command], limit int, recipients []*network.Connection, exec *queue.ExecutionQueue) []domain.Command {

	n := 0
	taken := src.PopWhile(func(cmd domain.Command) bool {
		if n == limit || !d.admit(cmd, paused) {
			return false
		}
		n++
		return true
	})

	for _, cmd := range taken {
		d.cmdlog.Record(domain.CommandLogEntry{Frame: ceiling, Origin: origin, Command: cmd})
		for _, c := range recipients {
			c.Outbound.Push(domain.Schedule(cmd, ceiling, origin, c.ID))
		}
		exec.Push(domain.Schedule(cmd, ceiling, origin, domain.ClientIDServer))
	}
	res.Distributed += len(taken)
	res.Held += src.Len()
	return taken
}

// admit - можно ли распределить команду в текущем состоянии паузы.
func (d *Distributor) admit(cmd domain.Command, paused bool) bool {
	return !paused || d.allowed.Contains(cmd.Op)
}
