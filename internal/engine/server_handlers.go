package engine

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/network"
	"lockstep-server/pkg/api"
)

var (
	preJoin  = []network.Status{network.StatusConnecting}
	anyState = []network.Status{
		network.StatusConnecting,
		network.StatusAuthenticating,
		network.StatusDownloadingState,
		network.StatusActive,
	}
)

func (s *Server) registerHandlers() {
	d := s.dispatcher
	d.Handle(api.PacketClientGameInfo, s.onGameInfo, preJoin...)
	d.Handle(api.PacketClientJoin, s.onJoin, preJoin...)
	d.Handle(api.PacketClientPassword, s.onPassword, network.StatusAuthenticating)
	d.Handle(api.PacketClientMapOK, s.onMapOK, network.StatusActive)
	d.Handle(api.PacketClientCommand, s.onCommand, network.StatusActive)
	d.Handle(api.PacketClientAck, s.onAck, network.StatusActive)
	d.Handle(api.PacketClientChat, s.onChat, network.StatusActive)
	d.Handle(api.PacketClientRcon, s.onRcon, network.StatusActive)
	d.Handle(api.PacketClientMove, s.onMove, network.StatusActive)
	d.Handle(api.PacketClientDesyncLog, s.onDesyncLog, network.StatusActive)
	d.Handle(api.PacketClientQuit, s.onQuit, anyState...)
	d.Handle(api.PacketClientError, s.onClientError, anyState...)
}

// refuse отвечает ошибкой и закрывает соединение.
func refuse(c *network.Connection, code api.ErrorCode, text string) network.Result {
	if text == "" {
		text = code.String()
	}
	c.Send(&api.ServerError{Code: code, Text: text})
	c.CloseReason = code
	return network.Close
}

// onGameInfo - запрос информации о сервере без входа.
func (s *Server) onGameInfo(c *network.Connection, _ api.Message) network.Result {
	c.Send(&api.ServerGameInfo{
		Revision:     s.revision,
		ServerName:   s.cfg.ServerName,
		Clients:      uint8(s.joinedCount()),
		MaxClients:   uint8(s.cfg.MaxClients),
		Frame:        s.scheduler.Frame(),
		NeedPassword: s.password != "",
	})
	c.CloseReason = api.ErrorGeneral
	return network.Close
}

func (s *Server) onJoin(c *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ClientJoin)
	log := c.Log().WithFields(logrus.Fields{"name": msg.Name, "revision": msg.Revision})

	if msg.Revision != s.revision {
		log.Warn("join refused: wrong revision")
		return refuse(c, api.ErrorWrongRevision, "server runs "+s.revision)
	}
	if s.bans != nil {
		banned, err := s.bans.Contains(hostOf(c.RemoteAddr()))
		if err != nil {
			log.WithError(err).Warn("ban list lookup failed")
		}
		if banned {
			log.Warn("join refused: banned")
			return refuse(c, api.ErrorBanned, "")
		}
	}
	if s.joinedCount() >= s.cfg.MaxClients {
		return refuse(c, api.ErrorFull, "")
	}
	name := strings.TrimSpace(msg.Name)
	if name == "" {
		return network.MalformedInput
	}
	for _, other := range s.table.Snapshot() {
		if other != c && other.Name == name && !other.Status().Terminal() && !s.table.IsMarked(other.ID) {
			return refuse(c, api.ErrorNameInUse, "")
		}
	}
	company := domain.CompanyID(msg.Company)
	if !company.Valid() {
		return refuse(c, api.ErrorCompanyMismatch, "")
	}
	c.Name = name
	c.Company = company

	if s.password != "" {
		c.Challenge = newChallenge()
		if err := c.SetStatus(network.StatusAuthenticating, s.scheduler.Frame()); err != nil {
			return network.MalformedInput
		}
		c.Send(&api.ServerNeedPassword{Salt: c.Challenge})
		return network.Continue
	}
	return s.admit(c)
}

// admit - вход разрешен: клиент получит снимок на ближайшей отправке.
func (s *Server) admit(c *network.Connection) network.Result {
	if err := c.SetStatus(network.StatusDownloadingState, s.scheduler.Frame()); err != nil {
		return network.MalformedInput
	}
	c.Send(&api.ServerWelcome{ClientID: uint32(c.ID), Seed: s.cfg.Seed, SyncInterval: s.cfg.SyncInterval})
	c.Log().WithFields(logrus.Fields{
		"name":    c.Name,
		"company": c.Company,
	}).Info("client admitted")
	return network.Continue
}

func (s *Server) onPassword(c *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ClientPassword)
	if checkPasswordDigest(c.Challenge, s.password, msg.Digest) {
		c.Challenge = nil
		return s.admit(c)
	}

	c.AuthAttempts++
	c.Log().WithField("attempt", c.AuthAttempts).Warn("wrong server password")
	if c.AuthAttempts >= s.cfg.MaxAuthAttempts {
		return refuse(c, api.ErrorWrongPassword, "")
	}
	c.Challenge = newChallenge()
	c.Send(&api.ServerNeedPassword{Salt: c.Challenge})
	return network.Continue
}

func (s *Server) onMapOK(c *network.Connection, _ api.Message) network.Result {
	if _, ok := s.awaitingMapOK[c.ID]; !ok {
		return network.MalformedInput
	}
	delete(s.awaitingMapOK, c.ID)
	c.Log().WithField("frame", s.scheduler.Frame()).Debug("state loaded by client")
	return network.Continue
}

// onCommand ставит команду клиента во входящую очередь. Кадр ей назначит
// распределение.
func (s *Server) onCommand(c *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ClientCommand)
	cmd, err := domain.Deserialize(msg.Command)
	if err != nil {
		c.Log().WithError(err).Warn("malformed command")
		return network.MalformedInput
	}
	if cmd.Company != c.Company {
		c.Log().WithFields(logrus.Fields{
			"op":      cmd.Op,
			"company": cmd.Company,
			"own":     c.Company,
		}).Warn("command for a foreign company")
		return refuse(c, api.ErrorCompanyMismatch, "")
	}
	if c.Inbound.Len() >= s.cfg.MaxInboundCommands {
		return refuse(c, api.ErrorTooManyCommands, "")
	}
	c.Inbound.Push(cmd)
	return network.Continue
}

func (s *Server) onAck(c *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ClientAck)
	if msg.Frame > s.scheduler.Frame() {
		// Клиент не может подтвердить кадр, которого сервер еще не выдал
		return network.MalformedInput
	}
	if msg.Frame > c.LastAckFrame {
		c.LastAckFrame = msg.Frame
	}
	return network.Continue
}

func (s *Server) onChat(c *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ClientChat)
	c.Log().WithField("text", msg.Text).Info("chat")
	s.table.Broadcast(&api.ServerChat{From: uint32(c.ID), Text: msg.Text})
	return network.Continue
}

func (s *Server) onRcon(c *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ClientRcon)
	if s.cfg.RconPasswordHash == "" {
		c.Send(&api.ServerRcon{Line: "rcon is disabled on this server"})
		return network.Continue
	}
	if err := CheckPasswordHash(s.cfg.RconPasswordHash, msg.Password); err != nil {
		c.RconAttempts++
		c.Log().WithField("attempt", c.RconAttempts).Warn("wrong rcon password")
		if c.RconAttempts >= s.cfg.MaxAuthAttempts {
			return refuse(c, api.ErrorNotAuthorized, "")
		}
		c.Send(&api.ServerRcon{Line: "access denied"})
		return network.Continue
	}

	c.Log().WithField("command", msg.Command).Info("rcon")
	for _, line := range s.rcon(msg.Command) {
		c.Send(&api.ServerRcon{Line: line})
	}
	return network.Continue
}

func (s *Server) onMove(c *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ClientMove)
	company := domain.CompanyID(msg.Company)
	if !company.Valid() {
		return network.MalformedInput
	}
	c.Company = company
	c.Log().WithField("company", company).Info("client moved")
	s.table.Broadcast(&api.ServerMove{ClientID: uint32(c.ID), Company: msg.Company})
	return network.Continue
}

func (s *Server) onDesyncLog(c *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ClientDesyncLog)
	buf := s.desyncLogs[c.ID]
	if len(buf)+len(msg.Text) > maxDesyncLog {
		return network.Continue
	}
	s.desyncLogs[c.ID] = append(buf, msg.Text...)
	return network.Continue
}

func (s *Server) onQuit(c *network.Connection, _ api.Message) network.Result {
	c.Log().Info("client quit")
	c.CloseReason = api.ErrorGeneral
	return network.Close
}

// onClientError - клиент сообщает о своей ошибке и уходит. Рассинхронизация
// фиксируется на сервере вместе с присланным клиентом дампом.
func (s *Server) onClientError(c *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ClientError)
	frame := s.scheduler.Frame()
	log := c.Log().WithFields(logrus.Fields{
		"code":  msg.Code,
		"frame": frame,
	})

	if msg.Code == api.ErrorDesync {
		log.WithField("client_log", string(s.desyncLogs[c.ID])).Error("client reported desync")
		if s.diag != nil {
			tag := fmt.Sprintf("server_f%d_c%d", frame, c.ID)
			if err := s.diag.PersistDiagnosticSavegame(tag); err != nil {
				log.WithError(err).Warn("diagnostic savegame failed")
			}
		}
	} else {
		log.Warn("client reported error")
	}
	c.CloseReason = msg.Code
	return network.Close
}
