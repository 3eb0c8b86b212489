package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/network"
	"lockstep-server/internal/queue"
	"lockstep-server/internal/version"
	"lockstep-server/pkg/api"
)

// rejoinBackoff - пауза между попытками переподключения.
const rejoinBackoff = time.Second

// Dialer открывает новый сокет к серверу (повторный вход после рассинхронизации).
type Dialer func(ctx context.Context) (network.Socket, error)

// ClientOptions - кто входит и куда.
type ClientOptions struct {
	Name     string
	Company  domain.CompanyID
	Password string
	Dial     Dialer

	OnChat func(from domain.ClientID, text string)
	OnRcon func(line string)
}

// Client - сторона участника. Сам кадры не назначает: исполняет то, что
// прислал сервер, и не уходит дальше разрешенного сервером кадра.
type Client struct {
	*Session

	opts     ClientOptions
	revision string

	conn     *network.Connection         // Соединение с сервером, nil вне сессии
	outgoing queue.Queue[domain.Command] // Свои команды, еще не отправленные серверу

	id       domain.ClientID
	seed     uint64
	frameMax uint32 // Последний кадр, разрешенный сервером
	lastAck  uint32
	receiver *mapReceiver

	needRejoin  bool
	lastRejoin  time.Time
	closeReason api.ErrorCode
}

func NewClient(cfg Config, opts Options, copts ClientOptions) (*Client, error) {
	if copts.Name == "" {
		return nil, errors.New("client: name is required")
	}
	if !copts.Company.Valid() {
		return nil, fmt.Errorf("client: company %d out of range", copts.Company)
	}
	sess, err := newSession(cfg, opts, "client")
	if err != nil {
		return nil, err
	}
	c := &Client{
		Session:  sess,
		opts:     copts,
		revision: version.NetworkRevision(),
	}
	sess.complain = func(conn *network.Connection) {
		conn.Send(&api.ClientError{Code: api.ErrorIllegalPacket})
	}
	c.registerHandlers()
	return c, nil
}

// Connect начинает вход на сервер через уже открытый сокет.
func (c *Client) Connect(socket network.Socket) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return errors.New("client: already connected")
	}

	frame := c.scheduler.Frame()
	conn := network.NewConnection(domain.ClientIDServer, socket, 0, 0)
	if err := conn.SetStatus(network.StatusConnecting, frame); err != nil {
		return err
	}
	conn.Name = "server"
	c.table.Add(conn)
	c.conn = conn
	c.receiver = nil
	c.needRejoin = false
	c.closeReason = api.ErrorGeneral

	conn.Send(&api.ClientJoin{
		Revision: c.revision,
		Name:     c.opts.Name,
		Company:  uint8(c.opts.Company),
	})
	conn.Flush()
	c.log.WithField("remote", socket.RemoteAddr()).Info("joining server")
	return nil
}

// Tick выполняет одну итерацию клиента: прием, не больше одного кадра,
// подтверждение и отправка своих команд, удаление закрытого соединения.
func (c *Client) Tick(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		return c.fatal
	}

	c.poll(now)

	if c.active() && c.scheduler.Frame() < c.frameMax {
		frame := c.scheduler.Advance()
		if _, err := c.scheduler.ExecuteDue(); err != nil {
			return c.failFatal(err)
		}
		if c.syncer.Due(frame) {
			if ev := c.syncer.Sample(c.sample(frame)); ev != nil {
				c.desync(*ev)
			}
		}
	}

	if c.active() {
		frame := c.scheduler.Frame()
		if frame-c.lastAck >= c.cfg.FrameAckInterval {
			c.conn.Send(&api.ClientAck{Frame: frame})
			c.lastAck = frame
		}
		c.sendOutgoing()
	}

	c.flush()
	c.sweep()
	return nil
}

func (c *Client) sendOutgoing() {
	for _, cmd := range c.outgoing.PopAll() {
		data, err := domain.Serialize(cmd)
		if err != nil {
			c.log.WithError(err).WithField("op", cmd.Op).Error("failed to serialize local command")
			continue
		}
		c.conn.Send(&api.ClientCommand{Command: data})
	}
}

func (c *Client) active() bool {
	return c.conn != nil && c.conn.Status() == network.StatusActive && !c.table.IsMarked(c.conn.ID)
}

func (c *Client) sweep() {
	for _, conn := range c.table.Sweep() {
		c.log.WithFields(logrus.Fields{
			"reason": conn.CloseReason,
			"frame":  c.scheduler.Frame(),
		}).Info("disconnected from server")
		if conn == c.conn {
			c.closeReason = conn.CloseReason
			c.conn = nil
			c.outgoing.Clear()
		}
	}
}

// desync - контрольные суммы разошлись. Дамп уходит серверу, соединение
// закрывается; состояние не чинится, только повторный вход.
func (c *Client) desync(ev DesyncEvent) {
	dump := c.reportDesync(ev, fmt.Sprintf("client_%d_f%d", c.id, ev.Frame))
	if c.conn == nil {
		return
	}
	for _, chunk := range splitUTF8(string(dump), api.MaxDesyncChunk) {
		c.conn.Send(&api.ClientDesyncLog{Text: chunk})
	}
	c.conn.Send(&api.ClientError{Code: api.ErrorDesync})
	c.table.MarkForRemoval(c.conn.ID, api.ErrorDesync)
	c.needRejoin = c.cfg.AutoRejoin
}

// splitUTF8 режет текст на куски не длиннее max байт, не разрывая руны.
func splitUTF8(s string, max int) []string {
	var out []string
	for len(s) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = max
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// EnqueueLocalCommand отправляет команду серверу на следующем тике. Кадр ей
// назначит сервер; исполнится она, когда вернется в SERVER_COMMAND.
func (c *Client) EnqueueLocalCommand(op domain.OpCode, tile domain.TileIndex, payload domain.Payload,
	callback domain.CallbackID, param uint32) error {

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active() {
		return ErrNotConnected
	}
	cmd, err := domain.NewCommand(op, tile, payload, c.opts.Company)
	if err != nil {
		return err
	}
	c.outgoing.Push(cmd.WithCallback(callback, param))
	return nil
}

// Chat отправляет сообщение в общий чат.
func (c *Client) Chat(text string) error {
	return c.send(&api.ClientChat{Text: text})
}

// Rcon отправляет команду удаленной консоли. Ответ придет в OnRcon.
func (c *Client) Rcon(password, command string) error {
	return c.send(&api.ClientRcon{Password: password, Command: command})
}

// Move переводит клиента в другую компанию. Команды, поставленные до смены,
// уходят серверу раньше CLIENT_MOVE и исполняются от старой компании.
func (c *Client) Move(company domain.CompanyID) error {
	if !company.Valid() {
		return fmt.Errorf("company %d out of range", company)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active() {
		return ErrNotConnected
	}
	c.sendOutgoing()
	c.conn.Send(&api.ClientMove{Company: uint8(company)})
	c.opts.Company = company
	return nil
}

// Quit сообщает серверу об уходе и закрывает соединение.
func (c *Client) Quit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	c.conn.Send(&api.ClientQuit{})
	c.table.MarkForRemoval(c.conn.ID, api.ErrorGeneral)
	c.needRejoin = false
	c.sweep()
}

func (c *Client) send(m api.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active() {
		return ErrNotConnected
	}
	c.conn.Send(m)
	return nil
}

// ID - идентификатор, выданный сервером.
func (c *Client) ID() domain.ClientID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Company - текущая компания клиента.
func (c *Client) Company() domain.CompanyID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.Company
}

// FrameMax - последний кадр, разрешенный сервером.
func (c *Client) FrameMax() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frameMax
}

// Active - клиент в игре и исполняет команды.
func (c *Client) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active()
}

// CloseReason - причина последнего отключения.
func (c *Client) CloseReason() api.ErrorCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// Behind - клиент отстал от сервера больше чем на кадр. Цикл догоняет
// дополнительными тиками.
func (c *Client) Behind() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active() && c.frameMax > c.scheduler.Frame()+1
}

// NeedsRejoin - соединение закрыто из-за рассинхронизации и включен повторный вход.
func (c *Client) NeedsRejoin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needRejoin && c.conn == nil
}

// Rejoin открывает новое соединение и заново загружает состояние сервера.
// Сокет открывается без блокировки сессии.
func (c *Client) Rejoin(ctx context.Context) error {
	if c.opts.Dial == nil {
		return errors.New("client: no dialer configured")
	}
	socket, err := c.opts.Dial(ctx)
	if err != nil {
		return fmt.Errorf("rejoin: %w", err)
	}
	if err := c.Connect(socket); err != nil {
		_ = socket.Close()
		return fmt.Errorf("rejoin: %w", err)
	}
	return nil
}

// AfterTick вызывается циклом вне блокировки: здесь выполняется повторный вход.
func (c *Client) AfterTick(ctx context.Context, now time.Time) {
	if !c.NeedsRejoin() || now.Sub(c.lastRejoin) < rejoinBackoff {
		return
	}
	c.lastRejoin = now
	if err := c.Rejoin(ctx); err != nil {
		c.log.WithError(err).Warn("rejoin failed")
	}
}
