package engine

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/network"
	"lockstep-server/pkg/api"
	"lockstep-server/pkg/logger"
)

// Options - внешние зависимости сессии. Обязательна только Simulation.
type Options struct {
	Simulation Simulation
	// Diagnostics по умолчанию берется из Simulation, если та его реализует.
	Diagnostics Diagnostics
	Console     Console
	Bans        BanList
	CommandLog  CommandLogSink
	// OnDesyncDetected вызывается для телеметрии после дампа диагностики.
	OnDesyncDetected func(ev DesyncEvent)
	// OnFatal получает нарушение порядка кадров. По умолчанию завершает процесс.
	OnFatal func(err error)
}

// Session - контекст сетевой сессии: счетчики кадров, очереди, таблица
// соединений и детектор рассинхронизации. Создается при старте сервера или
// подключении клиента. Все изменения идут под mu: цикл держит его целый
// тик, HTTP-обработчики - на время чтения или админской операции.
type Session struct {
	mu sync.Mutex

	cfg        Config
	sim        Simulation
	diag       Diagnostics
	scheduler  *Scheduler
	syncer     *SyncDetector
	callbacks  *domain.CallbackRegistry
	cmdlog     *CommandLog
	table      *network.Table
	dispatcher *network.Dispatcher

	onDesync func(ev DesyncEvent)
	onFatal  func(err error)
	fatal    error

	// complain сообщает пиру о нарушении протокола перед закрытием
	complain func(c *network.Connection)

	log *logrus.Entry
}

func newSession(cfg Config, opts Options, component string) (*Session, error) {
	if opts.Simulation == nil {
		return nil, errors.New("session: simulation is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session: invalid config: %w", err)
	}
	diag := opts.Diagnostics
	if diag == nil {
		if d, ok := opts.Simulation.(Diagnostics); ok {
			diag = d
		}
	}
	onFatal := opts.OnFatal
	if onFatal == nil {
		onFatal = func(err error) {
			logger.Log.WithError(err).Fatal("simulation is out of order, aborting")
		}
	}

	callbacks := domain.NewCallbackRegistry()
	return &Session{
		cfg:        cfg,
		sim:        opts.Simulation,
		diag:       diag,
		scheduler:  NewScheduler(0, opts.Simulation, callbacks),
		syncer:     NewSyncDetector(cfg.SyncInterval, cfg.SyncHistory),
		callbacks:  callbacks,
		cmdlog:     NewCommandLog(cfg.CommandLogSize, opts.CommandLog),
		table:      network.NewTable(),
		dispatcher: network.NewDispatcher(),
		onDesync:   opts.OnDesyncDetected,
		onFatal:    onFatal,
		complain: func(c *network.Connection) {
			c.Send(&api.ServerError{Code: api.ErrorIllegalPacket, Text: "illegal packet"})
		},
		log: logger.Component(component),
	}, nil
}

// Frame - текущий кадр.
func (s *Session) Frame() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler.Frame()
}

// RegisterCallback регистрирует локальный обработчик завершения команды.
func (s *Session) RegisterCallback(id domain.CallbackID, fn domain.CallbackFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callbacks.Register(id, fn)
}

// Do выполняет fn под блокировкой сессии (отладочные и админские эндпоинты).
func (s *Session) Do(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Config возвращает копию конфигурации.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// failFatal фиксирует нарушение порядка кадров. Сессия после этого не тикает.
func (s *Session) failFatal(err error) error {
	s.fatal = err
	s.log.WithError(err).WithField("frame", s.scheduler.Frame()).Error("fatal scheduling violation")
	s.onFatal(err)
	return err
}

// sample снимает контрольную сумму текущего кадра.
func (s *Session) sample(frame uint32) SyncRecord {
	rec := SyncRecord{Frame: frame, Checksum: s.sim.ComputeStateChecksum()}
	if sr, ok := s.sim.(SeedReporter); ok {
		rec.Seed = sr.CurrentSeed()
	}
	return rec
}

// poll читает пакеты всех соединений и передает их в диспетчер.
// Закрытия только помечаются; освобождение - в sweep.
func (s *Session) poll(now time.Time) {
	frame := s.scheduler.Frame()
	s.table.Each(func(c *network.Connection) {
		for _, pkt := range c.Poll(now, 0) {
			c.LastPacketFrame = frame
			res, err := s.dispatcher.Dispatch(c, pkt)
			switch res {
			case network.MalformedInput:
				c.Log().WithError(err).Warn("malformed input, closing connection")
				s.complain(c)
				s.table.MarkFaulty(c.ID, api.ErrorIllegalPacket)
			case network.Close:
				s.table.MarkForRemoval(c.ID, c.CloseReason)
			}
			if s.table.IsMarked(c.ID) {
				// Остаток пакетов отбрасывается вместе с соединением
				return
			}
		}
		if err := c.TransportErr(); err != nil {
			c.Log().WithError(err).Info("transport closed")
			s.table.MarkForRemoval(c.ID, api.ErrorConnectionLost)
		}
	})
}

func (s *Session) flush() {
	for _, c := range s.table.Snapshot() {
		c.Flush()
	}
}

// drop отправляет причину и помечает соединение на удаление.
func (s *Session) drop(c *network.Connection, code api.ErrorCode, text string) {
	if text == "" {
		text = code.String()
	}
	c.Send(&api.ServerError{Code: code, Text: text})
	c.CloseReason = code
	s.table.MarkForRemoval(c.ID, code)
}

// collectDiagnostics собирает дамп рассинхронизации: состояние симуляции,
// последние записи журнала команд и историю контрольных сумм.
func (s *Session) collectDiagnostics(ev DesyncEvent, tag string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "desync at frame %d: local checksum=%08x seed=%08x, remote checksum=%08x seed=%08x\n",
		ev.Frame, ev.Local.Checksum, ev.Local.Seed, ev.Remote.Checksum, ev.Remote.Seed)

	if s.diag != nil {
		if err := s.diag.DumpDiagnostics(&buf); err != nil {
			s.log.WithError(err).Warn("diagnostic dump failed")
		}
		if err := s.diag.PersistDiagnosticSavegame(tag); err != nil {
			s.log.WithError(err).Warn("diagnostic savegame failed")
		}
	}
	if err := s.cmdlog.Dump(&buf); err != nil {
		s.log.WithError(err).Warn("command log dump failed")
	}
	local, held := s.syncer.Snapshot()
	for _, r := range local {
		fmt.Fprintf(&buf, "sync: frame=%d checksum=%08x seed=%08x\n", r.Frame, r.Checksum, r.Seed)
	}
	for _, r := range held {
		fmt.Fprintf(&buf, "sync(remote): frame=%d checksum=%08x seed=%08x\n", r.Frame, r.Checksum, r.Seed)
	}
	return buf.Bytes()
}

// reportDesync - общая часть обработки рассинхронизации: лог, дамп, хук.
func (s *Session) reportDesync(ev DesyncEvent, tag string) []byte {
	s.log.WithFields(logrus.Fields{
		"frame":           ev.Frame,
		"local_checksum":  fmt.Sprintf("%08x", ev.Local.Checksum),
		"remote_checksum": fmt.Sprintf("%08x", ev.Remote.Checksum),
		"local_seed":      ev.Local.Seed,
		"remote_seed":     ev.Remote.Seed,
	}).Error("desync detected")

	dump := s.collectDiagnostics(ev, tag)
	if s.onDesync != nil {
		s.onDesync(ev)
	}
	return dump
}
