package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/network"
	"lockstep-server/pkg/api"
)

func (c *Client) registerHandlers() {
	d := c.dispatcher
	joining := []network.Status{network.StatusConnecting, network.StatusAuthenticating}
	d.Handle(api.PacketServerNeedPassword, c.onNeedPassword, joining...)
	d.Handle(api.PacketServerWelcome, c.onWelcome, joining...)
	d.Handle(api.PacketServerMapBegin, c.onMapBegin, network.StatusDownloadingState)
	d.Handle(api.PacketServerMapSize, c.onMapSize, network.StatusDownloadingState)
	d.Handle(api.PacketServerMapData, c.onMapData, network.StatusDownloadingState)
	d.Handle(api.PacketServerMapDone, c.onMapDone, network.StatusDownloadingState)
	d.Handle(api.PacketServerFrame, c.onFrame, network.StatusActive)
	d.Handle(api.PacketServerSync, c.onSync, network.StatusActive)
	d.Handle(api.PacketServerCommand, c.onCommand, network.StatusActive)
	d.Handle(api.PacketServerChat, c.onChat, network.StatusActive)
	d.Handle(api.PacketServerRcon, c.onRcon, network.StatusActive)
	d.Handle(api.PacketServerMove, c.onMove, network.StatusActive)
	d.Handle(api.PacketServerQuit, c.onQuit, network.StatusActive)
	d.Handle(api.PacketServerError, c.onError, anyState...)
	d.Handle(api.PacketServerShutdown, c.onShutdown, anyState...)
}

func (c *Client) onNeedPassword(conn *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ServerNeedPassword)
	// Повторный вызов после неверного пароля приходит уже в Authenticating
	if conn.Status() == network.StatusConnecting {
		if err := conn.SetStatus(network.StatusAuthenticating, c.scheduler.Frame()); err != nil {
			return network.MalformedInput
		}
	}
	conn.Send(&api.ClientPassword{Digest: PasswordDigest(msg.Salt, c.opts.Password)})
	return network.Continue
}

func (c *Client) onWelcome(conn *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ServerWelcome)
	id := domain.ClientID(msg.ClientID)
	if id < domain.ClientIDFirst {
		return network.MalformedInput
	}
	if err := conn.SetStatus(network.StatusDownloadingState, c.scheduler.Frame()); err != nil {
		return network.MalformedInput
	}
	c.id = id
	c.seed = msg.Seed
	// Сверяемся на тех же кадрах, что и сервер, а не по своему конфигу
	c.syncer.SetInterval(msg.SyncInterval)
	c.log.WithFields(logrus.Fields{
		"client_id":     id,
		"seed":          msg.Seed,
		"sync_interval": msg.SyncInterval,
	}).Info("welcomed by server")
	return network.Continue
}

func (c *Client) onMapBegin(_ *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ServerMapBegin)
	if c.receiver != nil {
		return network.MalformedInput
	}
	c.receiver = &mapReceiver{frame: msg.Frame}
	return network.Continue
}

func (c *Client) onMapSize(conn *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ServerMapSize)
	if c.receiver == nil {
		return network.MalformedInput
	}
	if err := c.receiver.setSize(msg.Size); err != nil {
		conn.Log().WithError(err).Warn("bad map size")
		return network.MalformedInput
	}
	return network.Continue
}

func (c *Client) onMapData(conn *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ServerMapData)
	if c.receiver == nil {
		return network.MalformedInput
	}
	if err := c.receiver.add(msg.Chunk); err != nil {
		conn.Log().WithError(err).Warn("bad map chunk")
		return network.MalformedInput
	}
	return network.Continue
}

// onMapDone загружает снимок и переводит клиента на кадр снимка.
func (c *Client) onMapDone(conn *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ServerMapDone)
	if c.receiver == nil {
		return network.MalformedInput
	}
	recv := c.receiver
	c.receiver = nil

	raw, err := recv.finish(msg.Digest)
	if err != nil {
		conn.Log().WithError(err).Error("state transfer failed")
		conn.Send(&api.ClientError{Code: api.ErrorSavegameFailed})
		conn.CloseReason = api.ErrorSavegameFailed
		return network.Close
	}
	if err := c.sim.LoadState(raw); err != nil {
		conn.Log().WithError(err).Error("failed to load server state")
		conn.Send(&api.ClientError{Code: api.ErrorSavegameFailed})
		conn.CloseReason = api.ErrorSavegameFailed
		return network.Close
	}

	c.scheduler.Reset(recv.frame)
	c.syncer.Reset()
	c.frameMax = recv.frame
	c.lastAck = recv.frame
	if err := conn.SetStatus(network.StatusActive, recv.frame); err != nil {
		return network.MalformedInput
	}
	conn.Joined = true
	conn.JoinFrame = recv.frame
	conn.Send(&api.ClientMapOK{})

	c.log.WithFields(logrus.Fields{
		"frame":      recv.frame,
		"state_size": len(raw),
	}).Info("state loaded, joined game")
	return network.Continue
}

func (c *Client) onFrame(_ *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ServerFrame)
	if msg.Frame < c.frameMax {
		// Разрешенный кадр не может уменьшаться
		return network.MalformedInput
	}
	c.frameMax = msg.Frame
	return network.Continue
}

func (c *Client) onSync(_ *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ServerSync)
	if ev := c.syncer.Compare(SyncRecord{Frame: msg.Frame, Checksum: msg.Checksum, Seed: msg.Seed}); ev != nil {
		c.desync(*ev)
	}
	return network.Continue
}

// onCommand ставит команду в очередь исполнения на назначенный сервером кадр.
// Опоздавшая команда тоже ставится: планировщик остановит сессию.
func (c *Client) onCommand(conn *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ServerCommand)
	cmd, err := domain.Deserialize(msg.Command)
	if err != nil {
		conn.Log().WithError(err).Warn("malformed command from server")
		return network.MalformedInput
	}
	origin := domain.ClientID(msg.Origin)
	c.scheduler.Queue().Push(domain.ScheduledCommand{
		Command: cmd,
		Frame:   msg.Frame,
		Origin:  origin,
		IsMine:  origin == c.id,
	})
	return network.Continue
}

func (c *Client) onChat(_ *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ServerChat)
	from := domain.ClientID(msg.From)
	c.log.WithFields(logrus.Fields{"from": from, "text": msg.Text}).Info("chat")
	if c.opts.OnChat != nil {
		c.opts.OnChat(from, msg.Text)
	}
	return network.Continue
}

func (c *Client) onRcon(_ *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ServerRcon)
	if c.opts.OnRcon != nil {
		c.opts.OnRcon(msg.Line)
	} else {
		c.log.WithField("line", msg.Line).Info("rcon")
	}
	return network.Continue
}

func (c *Client) onMove(_ *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ServerMove)
	c.log.WithFields(logrus.Fields{
		"client_id": domain.ClientID(msg.ClientID),
		"company":   domain.CompanyID(msg.Company),
	}).Info("client moved")
	return network.Continue
}

func (c *Client) onQuit(_ *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ServerQuit)
	c.log.WithField("client_id", domain.ClientID(msg.ClientID)).Info("client left")
	return network.Continue
}

func (c *Client) onError(conn *network.Connection, m api.Message) network.Result {
	msg := m.(*api.ServerError)
	conn.Log().WithFields(logrus.Fields{
		"code": msg.Code,
		"text": msg.Text,
	}).Warn("server closed the connection")
	conn.CloseReason = msg.Code
	return network.Close
}

func (c *Client) onShutdown(conn *network.Connection, _ api.Message) network.Result {
	conn.Log().Info("server shut down")
	conn.CloseReason = api.ErrorConnectionLost
	return network.Close
}

// QueryGameInfo спрашивает сервер о текущей игре без входа. Сокет
// закрывается в любом случае.
func QueryGameInfo(ctx context.Context, socket network.Socket) (*api.ServerGameInfo, error) {
	defer socket.Close()

	for !socket.Send(api.Encode(&api.ClientGameInfo{})) {
		if err := sleepCtx(ctx, queryPoll); err != nil {
			return nil, err
		}
	}
	for {
		for {
			pkt, ok := socket.Recv()
			if !ok {
				break
			}
			m, err := api.Decode(pkt)
			if err != nil {
				return nil, err
			}
			switch msg := m.(type) {
			case *api.ServerGameInfo:
				return msg, nil
			case *api.ServerError:
				return nil, fmt.Errorf("server refused: %s", msg.Code)
			}
		}
		if err := socket.Err(); err != nil {
			return nil, err
		}
		if err := sleepCtx(ctx, queryPoll); err != nil {
			return nil, err
		}
	}
}

const queryPoll = 10 * time.Millisecond

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
