package engine

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/network"
	"lockstep-server/internal/queue"
	"lockstep-server/internal/version"
	"lockstep-server/pkg/api"
)

// ErrServerShutdown - сервер остановлен и не принимает соединения.
var ErrServerShutdown = errors.New("server is shut down")

// maxDesyncLog - сколько текста рассинхронизации храним на одного клиента.
const maxDesyncLog = 64 << 10

// Server - авторитетная сторона сессии. Только он назначает кадры командам.
type Server struct {
	*Session

	pending     queue.Queue[domain.Command] // Команды собственного игрока сервера
	admin       queue.Queue[domain.Command] // Пауза из rcon и админки
	distributor *Distributor
	bans        BanList
	console     Console

	nextID   domain.ClientID
	company  domain.CompanyID
	revision string
	password string

	// Снимок состояния, снятый на текущем тике (общий для всех входящих)
	image *stateImage
	// Кадр отправки карты для соединений, еще не приславших CLIENT_MAP_OK
	awaitingMapOK map[domain.ClientID]uint32
	desyncLogs    map[domain.ClientID][]byte

	shutdown bool
}

// NewServer создает сервер на кадре 0.
func NewServer(cfg Config, opts Options) (*Server, error) {
	sess, err := newSession(cfg, opts, "server")
	if err != nil {
		return nil, err
	}
	s := &Server{
		Session:       sess,
		distributor:   NewDistributor(cfg, sess.cmdlog),
		bans:          opts.Bans,
		console:       opts.Console,
		nextID:        domain.ClientIDFirst,
		company:       0,
		revision:      version.NetworkRevision(),
		password:      cfg.ServerPassword,
		awaitingMapOK: make(map[domain.ClientID]uint32),
		desyncLogs:    make(map[domain.ClientID][]byte),
	}
	s.registerHandlers()
	return s, nil
}

// Accept регистрирует новое соединение. Дальше им управляет Tick.
func (s *Server) Accept(socket network.Socket) (*network.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil, ErrServerShutdown
	}

	frame := s.scheduler.Frame()
	c := network.NewConnection(s.nextID, socket, s.cfg.PacketsPerSecond, s.cfg.PacketBurst)
	s.nextID++
	if err := c.SetStatus(network.StatusConnecting, frame); err != nil {
		return nil, err
	}
	c.LastPacketFrame = frame
	s.table.Add(c)
	c.Log().Info("connection accepted")
	return c, nil
}

// Tick выполняет одну итерацию сервера. Порядок шагов фиксирован:
// прием, распределение, кадр, отправка, удаление закрытых.
func (s *Server) Tick(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return s.fatal
	}
	if s.shutdown {
		return ErrServerShutdown
	}

	s.poll(now)
	res := s.distributor.Distribute(s.scheduler.Ceiling(), s.sim.IsPaused(),
		ServerQueues{Admin: &s.admin, Pending: &s.pending}, s.table, s.scheduler.Queue())
	for _, cmd := range res.Admin {
		s.log.WithFields(logrus.Fields{
			"frame": s.scheduler.Ceiling(),
			"op":    cmd.Op,
		}).Info("admin command distributed")
	}

	frame := s.scheduler.Advance()
	if _, err := s.scheduler.ExecuteDue(); err != nil {
		return s.failFatal(err)
	}
	var sync *SyncRecord
	if s.syncer.Due(frame) {
		rec := s.sample(frame)
		s.syncer.Sample(rec)
		sync = &rec
	}

	s.checkTimeouts(frame)
	s.transmit(frame, sync)
	s.sweep()
	s.flush()
	return nil
}

// transmit отправляет каждому соединению его исходящую очередь, затем
// границу кадра и контрольную сумму. Новые клиенты получают снимок.
func (s *Server) transmit(frame uint32, sync *SyncRecord) {
	s.image = nil
	s.table.Each(func(c *network.Connection) {
		joinedNow := false
		if c.Status() == network.StatusDownloadingState {
			if !s.sendState(c, frame) {
				return
			}
			joinedNow = true
		}
		if c.Status() != network.StatusActive {
			return
		}

		for _, sc := range c.Outbound.PopAll() {
			data, err := domain.Serialize(sc.Command)
			if err != nil {
				// Команда прошла NewCommand или Deserialize, сюда не попадаем
				c.Log().WithError(err).WithField("op", sc.Op).Error("failed to serialize scheduled command")
				continue
			}
			c.Send(&api.ServerCommand{Frame: sc.Frame, Origin: uint32(sc.Origin), Command: data})
		}
		c.Send(&api.ServerFrame{Frame: frame})
		c.LastSeenFrame = frame
		if sync != nil && !joinedNow {
			c.Send(&api.ServerSync{Frame: sync.Frame, Checksum: sync.Checksum, Seed: sync.Seed})
		}
	})
}

// sendState передает снимок состояния и переводит соединение в Active.
// Снимок снимается один раз за тик.
func (s *Server) sendState(c *network.Connection, frame uint32) bool {
	if s.image == nil {
		img, err := makeStateImage(s.sim, frame)
		if err != nil {
			c.Log().WithError(err).Error("failed to prepare state for transfer")
			s.drop(c, api.ErrorSavegameFailed, "")
			return false
		}
		s.image = img
	}
	s.image.send(c, s.cfg.MapChunkSize)

	if err := c.SetStatus(network.StatusActive, frame); err != nil {
		c.Log().WithError(err).Error("cannot activate connection")
		s.drop(c, api.ErrorGeneral, "")
		return false
	}
	c.Joined = true
	c.JoinFrame = frame
	c.LastAckFrame = frame
	s.awaitingMapOK[c.ID] = frame

	c.Log().WithFields(logrus.Fields{
		"frame":      frame,
		"name":       c.Name,
		"company":    c.Company,
		"state_size": len(s.image.data),
	}).Info("client joined")
	return true
}

// checkTimeouts закрывает соединения, застрявшие на входе или отставшие.
// Нулевой таймаут отключает проверку.
func (s *Server) checkTimeouts(frame uint32) {
	expired := func(since, limit uint32) bool {
		return limit > 0 && frame > since && frame-since > limit
	}
	s.table.Each(func(c *network.Connection) {
		switch c.Status() {
		case network.StatusConnecting:
			if expired(c.StatusFrame, s.cfg.JoinTimeoutFrames) {
				s.drop(c, api.ErrorTimeoutJoin, "")
			}
		case network.StatusAuthenticating:
			if expired(c.StatusFrame, s.cfg.AuthTimeoutFrames) {
				s.drop(c, api.ErrorTimeoutPassword, "")
			}
		case network.StatusActive:
			if sent, ok := s.awaitingMapOK[c.ID]; ok && expired(sent, s.cfg.MapTimeoutFrames) {
				s.drop(c, api.ErrorTimeoutMap, "")
				return
			}
			if expired(c.LastAckFrame, s.cfg.MaxLagFrames) {
				c.Log().WithFields(logrus.Fields{
					"frame":    frame,
					"last_ack": c.LastAckFrame,
				}).Warn("client lags too far behind")
				s.drop(c, api.ErrorTimeoutComputer, "")
				return
			}
			if expired(c.LastPacketFrame, s.cfg.IdleTimeoutFrames) {
				s.drop(c, api.ErrorTimeoutComputer, "")
			}
		}
	})
}

// sweep освобождает помеченные соединения и сообщает остальным об ушедших.
func (s *Server) sweep() {
	for _, c := range s.table.Sweep() {
		delete(s.awaitingMapOK, c.ID)
		delete(s.desyncLogs, c.ID)
		c.Log().WithFields(logrus.Fields{
			"reason": c.CloseReason,
			"status": c.Status(),
		}).Info("connection removed")
		if c.Joined {
			s.table.Broadcast(&api.ServerQuit{ClientID: uint32(c.ID)})
		}
	}
}

// EnqueueLocalCommand ставит команду игрока сервера в очередь распределения.
func (s *Server) EnqueueLocalCommand(op domain.OpCode, tile domain.TileIndex, payload domain.Payload,
	callback domain.CallbackID, param uint32) error {

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocal(op, tile, payload, callback, param)
}

func (s *Server) enqueueLocal(op domain.OpCode, tile domain.TileIndex, payload domain.Payload,
	callback domain.CallbackID, param uint32) error {

	cmd, err := domain.NewCommand(op, tile, payload, s.company)
	if err != nil {
		return err
	}
	s.pending.Push(cmd.WithCallback(callback, param))
	return nil
}

// SetCompany - компания, от имени которой играет сервер.
func (s *Server) SetCompany(company domain.CompanyID) error {
	if !company.Valid() {
		return fmt.Errorf("company %d out of range", company)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.company = company
	return nil
}

// Shutdown рассылает SERVER_SHUTDOWN и закрывает все соединения.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	s.shutdown = true
	for _, c := range s.table.Snapshot() {
		c.Send(&api.ServerShutdown{})
		s.table.MarkForRemoval(c.ID, api.ErrorGeneral)
	}
	// Соединения уходят без SERVER_QUIT друг о друге
	for _, c := range s.table.Sweep() {
		delete(s.awaitingMapOK, c.ID)
	}
	s.log.WithField("frame", s.scheduler.Frame()).Info("server shut down")
}

// joinedCount - соединения, прошедшие CLIENT_JOIN.
func (s *Server) joinedCount() int {
	n := 0
	for _, c := range s.table.Snapshot() {
		switch c.Status() {
		case network.StatusAuthenticating, network.StatusDownloadingState, network.StatusActive:
			if !s.table.IsMarked(c.ID) {
				n++
			}
		}
	}
	return n
}

// hostOf отрезает порт: блокируется адрес, а не конкретное соединение.
func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
