package engine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/network"
	"lockstep-server/pkg/api"
)

// ErrNoBanList - сервер запущен без хранилища банов.
var ErrNoBanList = errors.New("ban list is not configured")

// ClientInfo - сводка по соединению для админки и отладки.
type ClientInfo struct {
	ID              domain.ClientID  `json:"id"`
	Name            string           `json:"name"`
	Company         domain.CompanyID `json:"company"`
	Status          string           `json:"status"`
	Remote          string           `json:"remote"`
	JoinFrame       uint32           `json:"join_frame"`
	LastSeenFrame   uint32           `json:"last_seen_frame"`
	LastAckFrame    uint32           `json:"last_ack_frame"`
	LastPacketFrame uint32           `json:"last_packet_frame"`
	Inbound         int              `json:"inbound"`
	Outbound        int              `json:"outbound"`
	PendingPackets  int              `json:"pending_packets"`
}

func describe(c *network.Connection) ClientInfo {
	return ClientInfo{
		ID:              c.ID,
		Name:            c.Name,
		Company:         c.Company,
		Status:          c.Status().String(),
		Remote:          c.RemoteAddr(),
		JoinFrame:       c.JoinFrame,
		LastSeenFrame:   c.LastSeenFrame,
		LastAckFrame:    c.LastAckFrame,
		LastPacketFrame: c.LastPacketFrame,
		Inbound:         c.Inbound.Len(),
		Outbound:        c.Outbound.Len(),
		PendingPackets:  c.PendingPackets(),
	}
}

// StatusInfo - состояние сервера.
type StatusInfo struct {
	Frame       uint32       `json:"frame"`
	Paused      bool         `json:"paused"`
	Clients     int          `json:"clients"`
	Pending     int          `json:"pending"`
	Scheduled   int          `json:"scheduled"`
	PasswordSet bool         `json:"password_set"`
	Sync        []SyncRecord `json:"sync"`
}

// Clients - все соединения в порядке входа.
func (s *Server) Clients() []ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients()
}

func (s *Server) clients() []ClientInfo {
	conns := s.table.Snapshot()
	out := make([]ClientInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, describe(c))
	}
	return out
}

func (s *Server) Status() StatusInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status()
}

func (s *Server) status() StatusInfo {
	local, _ := s.syncer.Snapshot()
	return StatusInfo{
		Frame:       s.scheduler.Frame(),
		Paused:      s.sim.IsPaused(),
		Clients:     len(s.table.Active()),
		Pending:     s.admin.Len() + s.pending.Len(),
		Scheduled:   s.scheduler.Queue().Len(),
		PasswordSet: s.password != "",
		Sync:        local,
	}
}

// QueueView - содержимое очередей для отладки.
type QueueView struct {
	Frame     uint32         `json:"frame"`
	Ceiling   uint32         `json:"ceiling"`
	Pending   []string       `json:"pending"`
	Inbound   map[string]int `json:"inbound"`
	Scheduled []string       `json:"scheduled"`
}

// Queues - снимок очереди исполнения и входящих очередей соединений.
func (s *Server) Queues() QueueView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := QueueView{
		Frame:   s.scheduler.Frame(),
		Ceiling: s.scheduler.Ceiling(),
		Inbound: map[string]int{},
	}
	for _, cmd := range s.admin.Snapshot() {
		v.Pending = append(v.Pending, cmd.String())
	}
	for _, cmd := range s.pending.Snapshot() {
		v.Pending = append(v.Pending, cmd.String())
	}
	for _, c := range s.table.Snapshot() {
		v.Inbound[c.ID.String()] = c.Inbound.Len()
	}
	for _, sc := range s.scheduler.Queue().Snapshot() {
		v.Scheduled = append(v.Scheduled, sc.String())
	}
	return v
}

// SyncView - история контрольных сумм сервера и записи, ждущие пары.
type SyncView struct {
	Interval uint32       `json:"interval"`
	Local    []SyncRecord `json:"local"`
	Held     []SyncRecord `json:"held"`
}

func (s *Server) SyncHistory() SyncView {
	s.mu.Lock()
	defer s.mu.Unlock()
	local, held := s.syncer.Snapshot()
	return SyncView{Interval: s.cfg.SyncInterval, Local: local, Held: held}
}

// Kick отключает клиента. Удаление произойдет в конце текущего или следующего тика.
func (s *Server) Kick(id domain.ClientID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kick(id, api.ErrorKicked, reason)
}

func (s *Server) kick(id domain.ClientID, code api.ErrorCode, reason string) error {
	c, ok := s.table.Lookup(id)
	if !ok || s.table.IsMarked(id) {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	c.Log().WithField("reason", reason).Info("client kicked")
	s.drop(c, code, reason)
	return nil
}

// Ban заносит адрес клиента в список банов и отключает его.
func (s *Server) Ban(id domain.ClientID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ban(id, reason)
}

func (s *Server) ban(id domain.ClientID, reason string) error {
	if s.bans == nil {
		return ErrNoBanList
	}
	c, ok := s.table.Lookup(id)
	if !ok || s.table.IsMarked(id) {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	if err := s.bans.Add(hostOf(c.RemoteAddr()), reason); err != nil {
		return fmt.Errorf("ban %s: %w", id, err)
	}
	return s.kick(id, api.ErrorBanned, reason)
}

// Unban убирает адрес из списка банов.
func (s *Server) Unban(addr string) error {
	if s.bans == nil {
		return ErrNoBanList
	}
	return s.bans.Remove(addr)
}

// SetServerPassword меняет пароль входа. Пустая строка снимает пароль.
// Уже вошедших клиентов не затрагивает.
func (s *Server) SetServerPassword(password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.password = password
	s.log.WithField("password_set", password != "").Info("server password changed")
}

// Rcon исполняет строку rcon и возвращает вывод.
func (s *Server) Rcon(line string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rcon(line)
}

func (s *Server) rcon(line string) []string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]
	rest := strings.Join(args, " ")

	switch verb {
	case "help":
		return []string{"kick <id> [reason]", "ban <id> [reason]", "unban <addr>", "bans",
			"pause", "unpause", "clients", "status", "password [new]"}

	case "kick", "ban":
		if len(args) == 0 {
			return []string{"usage: " + verb + " <id> [reason]"}
		}
		id, err := parseClientID(args[0])
		if err != nil {
			return []string{err.Error()}
		}
		reason := strings.Join(args[1:], " ")
		done := "kicked "
		if verb == "kick" {
			err = s.kick(id, api.ErrorKicked, reason)
		} else {
			err = s.ban(id, reason)
			done = "banned "
		}
		if err != nil {
			return []string{err.Error()}
		}
		return []string{done + id.String()}

	case "unban":
		if rest == "" {
			return []string{"usage: unban <addr>"}
		}
		if err := s.Unban(rest); err != nil {
			return []string{err.Error()}
		}
		return []string{"unbanned " + rest}

	case "bans":
		if s.bans == nil {
			return []string{ErrNoBanList.Error()}
		}
		list, err := s.bans.List()
		if err != nil {
			return []string{err.Error()}
		}
		sort.Strings(list)
		return list

	case "pause", "unpause":
		// Пауза - обычная команда: ее исполнят все участники на одном кадре.
		// Кадр назначит распределение, своя очередь не ждет команд игрока сервера.
		cmd, err := domain.NewCommand(domain.OpPause, 0, domain.PausePayload{Paused: verb == "pause"}, s.company)
		if err != nil {
			return []string{err.Error()}
		}
		s.admin.Push(cmd)
		return []string{verb + " queued"}

	case "clients":
		var out []string
		for _, ci := range s.clients() {
			out = append(out, fmt.Sprintf("%s %q %s %s ack=%d", ci.ID, ci.Name, ci.Company, ci.Status, ci.LastAckFrame))
		}
		return out

	case "status":
		st := s.status()
		return []string{fmt.Sprintf("frame=%d paused=%t clients=%d pending=%d scheduled=%d",
			st.Frame, st.Paused, st.Clients, st.Pending, st.Scheduled)}

	case "password":
		s.password = rest
		s.log.WithField("password_set", rest != "").Info("server password changed via rcon")
		if rest == "" {
			return []string{"password removed"}
		}
		return []string{"password set"}
	}

	if s.console != nil {
		return s.console.ExecuteConsole(line)
	}
	return []string{"unknown command: " + verb}
}

func parseClientID(s string) (domain.ClientID, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 10, 32)
	if err != nil {
		return domain.ClientIDInvalid, fmt.Errorf("bad client id %q", s)
	}
	return domain.ClientID(n), nil
}
