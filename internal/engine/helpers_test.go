package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/network"
	"lockstep-server/pkg/api"
	"lockstep-server/pkg/logger"
)

func init() {
	logger.Silence()
}

// execRecord - одна исполненная команда в фейковой симуляции.
type execRecord struct {
	Frame  uint32
	Origin domain.ClientID
	IsMine bool
	Cmd    domain.Command
}

// fakeSim - детерминированная симуляция для тестов. Состояние сводится к
// одному аккумулятору, который зависит от всех команд и кадров.
type fakeSim struct {
	executed []execRecord
	frames   []uint32
	paused   bool
	acc      uint32
	drift    uint32 // Добавляется к контрольной сумме: имитация недетерминизма
	saves    []string
	dumps    int
}

func (s *fakeSim) ExecuteCommand(ctx ExecContext, cmd domain.Command) error {
	s.executed = append(s.executed, execRecord{Frame: ctx.Frame, Origin: ctx.Origin, IsMine: ctx.IsMine, Cmd: cmd})
	s.acc = s.acc*31 + uint32(cmd.Op) + ctx.Frame
	if p, ok := cmd.Payload.(domain.PausePayload); ok {
		s.paused = p.Paused
	}
	if p, ok := cmd.Payload.(domain.GiveMoneyPayload); ok && p.Amount > 1_000_000 {
		return errors.New("not enough money")
	}
	return nil
}

func (s *fakeSim) OnFrame(frame uint32) {
	s.frames = append(s.frames, frame)
	s.acc ^= frame
}

func (s *fakeSim) ComputeStateChecksum() uint32 { return s.acc + s.drift }
func (s *fakeSim) IsPaused() bool               { return s.paused }

func (s *fakeSim) SnapshotState() ([]byte, error) {
	b := make([]byte, 5)
	binary.LittleEndian.PutUint32(b, s.acc)
	if s.paused {
		b[4] = 1
	}
	return b, nil
}

func (s *fakeSim) LoadState(data []byte) error {
	if len(data) != 5 {
		return fmt.Errorf("bad state length %d", len(data))
	}
	s.acc = binary.LittleEndian.Uint32(data)
	s.paused = data[4] == 1
	return nil
}

func (s *fakeSim) DumpDiagnostics(w io.Writer) error {
	s.dumps++
	_, err := fmt.Fprintf(w, "fake sim: acc=%d paused=%t\n", s.acc, s.paused)
	return err
}

func (s *fakeSim) PersistDiagnosticSavegame(tag string) error {
	s.saves = append(s.saves, tag)
	return nil
}

// executedAt - команды, исполненные на кадре frame, в порядке исполнения.
func (s *fakeSim) executedAt(frame uint32) []execRecord {
	var out []execRecord
	for _, r := range s.executed {
		if r.Frame == frame {
			out = append(out, r)
		}
	}
	return out
}

var t0 = time.Unix(1_700_000_000, 0)

func testConfig() Config {
	cfg := NewConfig()
	cfg.Seed = 42
	cfg.PacketsPerSecond = 0
	cfg.SyncInterval = 5
	cfg.FrameAckInterval = 1
	return cfg
}

// harness - сервер и клиенты в одном процессе, связанные PipeSocket.
// Тики идут вручную: сначала сервер, затем клиенты.
type harness struct {
	t       *testing.T
	cfg     Config
	server  *Server
	ssim    *fakeSim
	clients []*Client
	sims    []*fakeSim
	now     time.Time
	fatal   []error
	dialed  int
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{t: t, cfg: cfg, ssim: &fakeSim{}, now: t0}
	srv, err := NewServer(cfg, Options{
		Simulation: h.ssim,
		OnFatal:    func(err error) { h.fatal = append(h.fatal, err) },
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	h.server = srv
	return h
}

// pipe создает пару сокетов и регистрирует серверную сторону.
func (h *harness) pipe() (*network.Connection, *network.PipeSocket) {
	h.t.Helper()
	h.dialed++
	addr := fmt.Sprintf("10.0.0.%d:5000", h.dialed+1)
	srvSide, cliSide := network.NewPipe("10.0.0.1:8080", addr)
	conn, err := h.server.Accept(srvSide)
	if err != nil {
		h.t.Fatalf("Accept: %v", err)
	}
	return conn, cliSide
}

func (h *harness) connect(opts ClientOptions) (*Client, *fakeSim) {
	h.t.Helper()
	sim := &fakeSim{}
	cl, err := NewClient(h.cfg, Options{
		Simulation: sim,
		OnFatal:    func(err error) { h.fatal = append(h.fatal, err) },
	}, opts)
	if err != nil {
		h.t.Fatalf("NewClient: %v", err)
	}
	_, sock := h.pipe()
	if err := cl.Connect(sock); err != nil {
		h.t.Fatalf("Connect: %v", err)
	}
	h.clients = append(h.clients, cl)
	h.sims = append(h.sims, sim)
	return cl, sim
}

// join подключает клиента и ждет, пока он войдет в игру.
func (h *harness) join(name string, company domain.CompanyID) (*Client, *fakeSim) {
	h.t.Helper()
	cl, sim := h.connect(ClientOptions{Name: name, Company: company})
	for i := 0; i < 10 && !cl.Active(); i++ {
		h.step(1)
	}
	if !cl.Active() {
		h.t.Fatalf("client %s did not join", name)
	}
	return cl, sim
}

func (h *harness) step(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		if err := h.server.Tick(h.now); err != nil {
			h.t.Fatalf("server tick: %v", err)
		}
		for _, c := range h.clients {
			if err := c.Tick(h.now); err != nil {
				h.t.Fatalf("client tick: %v", err)
			}
		}
		h.now = h.now.Add(h.cfg.TickInterval())
	}
}

func (h *harness) stepServer(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		if err := h.server.Tick(h.now); err != nil {
			h.t.Fatalf("server tick: %v", err)
		}
		h.now = h.now.Add(h.cfg.TickInterval())
	}
}

func (h *harness) stepUntil(frame uint32) {
	h.t.Helper()
	for h.server.Frame() < frame {
		h.step(1)
	}
}

// drain декодирует все пакеты, пришедшие в сырой сокет.
func drain(t *testing.T, sock network.Socket) []api.Message {
	t.Helper()
	var out []api.Message
	for {
		pkt, ok := sock.Recv()
		if !ok {
			return out
		}
		m, err := api.Decode(pkt)
		if err != nil {
			t.Fatalf("decode %v: %v", pkt, err)
		}
		out = append(out, m)
	}
}

func findError(msgs []api.Message) (*api.ServerError, bool) {
	for _, m := range msgs {
		if e, ok := m.(*api.ServerError); ok {
			return e, true
		}
	}
	return nil, false
}

func send(t *testing.T, sock network.Socket, m api.Message) {
	t.Helper()
	if !sock.Send(api.Encode(m)) {
		t.Fatalf("socket refused %s", m.Type())
	}
}

func mustCommand(t *testing.T, op domain.OpCode, tile domain.TileIndex, p domain.Payload, company domain.CompanyID) domain.Command {
	t.Helper()
	cmd, err := domain.NewCommand(op, tile, p, company)
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	return cmd
}

var build = domain.BuildTilePayload{Kind: domain.TileKindRail}
