package sim

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/engine"
	"lockstep-server/pkg/logger"
)

func init() {
	logger.Silence()
}

func command(t *testing.T, op domain.OpCode, tile domain.TileIndex, p domain.Payload, company domain.CompanyID) domain.Command {
	t.Helper()
	cmd, err := domain.NewCommand(op, tile, p, company)
	if err != nil {
		t.Fatal(err)
	}
	return cmd
}

// grassTile ищет свободный тайл с травой.
func grassTile(t *testing.T, s *Simulation) domain.TileIndex {
	t.Helper()
	for i, tile := range s.World().Tiles {
		if tile.Terrain == TerrainGrass && tile.Kind == domain.TileKindClear {
			return domain.TileXY(uint32(i%MapWidth), uint32(i/MapWidth), MapLog2X)
		}
	}
	t.Fatal("no free grass tile")
	return 0
}

func TestWorld_SameSeedSameWorld(t *testing.T) {
	a, b := New(42, nil), New(42, nil)
	if a.ComputeStateChecksum() != b.ComputeStateChecksum() {
		t.Fatal("same seed produced different worlds")
	}
	if New(43, nil).ComputeStateChecksum() == a.ComputeStateChecksum() {
		t.Error("different seeds produced identical worlds")
	}
}

func TestSimulation_Determinism(t *testing.T) {
	a, b := New(7, nil), New(7, nil)
	tile := grassTile(t, a)
	cmds := []domain.Command{
		command(t, domain.OpBuildTile, tile, domain.BuildTilePayload{Kind: domain.TileKindStation}, 0),
		command(t, domain.OpCompanyCtrl, 0, domain.CompanyCtrlPayload{Action: domain.CompanyActionNew, Company: 3}, 0),
		command(t, domain.OpGiveMoney, 0, domain.GiveMoneyPayload{Amount: 500, Dest: 3}, 0),
	}
	for frame := uint32(1); frame <= 200; frame++ {
		for _, s := range []*Simulation{a, b} {
			if frame == 10 {
				for _, c := range cmds {
					_ = s.ExecuteCommand(engine.ExecContext{Frame: frame}, c)
				}
			}
			s.OnFrame(frame)
		}
		if a.ComputeStateChecksum() != b.ComputeStateChecksum() || a.CurrentSeed() != b.CurrentSeed() {
			t.Fatalf("diverged at frame %d", frame)
		}
	}
	if a.World().Companies[0].Money <= StartMoney-1_500-500 {
		t.Error("station produced no income")
	}
}

func TestSimulation_CommandRefusals(t *testing.T) {
	s := New(1, nil)
	tile := grassTile(t, s)
	var water domain.TileIndex
	for i, tl := range s.World().Tiles {
		if tl.Terrain == TerrainWater {
			water = domain.TileXY(uint32(i%MapWidth), uint32(i/MapWidth), MapLog2X)
			break
		}
	}
	rail := domain.BuildTilePayload{Kind: domain.TileKindRail}

	tests := []struct {
		name string
		cmd  domain.Command
		want error
	}{
		{"no company", command(t, domain.OpBuildTile, tile, rail, 5), ErrNoCompany},
		{"out of map", command(t, domain.OpBuildTile, domain.TileXY(0, MapHeight+1, MapLog2X), rail, 0), ErrOutOfMap},
		{"water", command(t, domain.OpBuildTile, water, rail, 0), ErrWater},
		{"no money", command(t, domain.OpGiveMoney, 0, domain.GiveMoneyPayload{Amount: StartMoney + 1, Dest: 0}, 0), ErrNoMoney},
		{"delete host company", command(t, domain.OpCompanyCtrl, 0, domain.CompanyCtrlPayload{Action: domain.CompanyActionDelete, Company: 0}, 0), ErrNoCompany},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := s.ComputeStateChecksum()
			if err := s.ExecuteCommand(engine.ExecContext{}, tt.cmd); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			// Отказ не меняет состояние
			if s.ComputeStateChecksum() != before {
				t.Error("refused command changed state")
			}
		})
	}

	build := command(t, domain.OpBuildTile, tile, rail, 0)
	if err := s.ExecuteCommand(engine.ExecContext{}, build); err != nil {
		t.Fatal(err)
	}
	if err := s.ExecuteCommand(engine.ExecContext{}, build); !errors.Is(err, ErrTileOccupied) {
		t.Errorf("second build: %v", err)
	}
}

func TestSimulation_PauseStopsFrameLogic(t *testing.T) {
	s := New(3, nil)
	pause := command(t, domain.OpPause, 0, domain.PausePayload{Paused: true}, 0)
	if err := s.ExecuteCommand(engine.ExecContext{}, pause); err != nil {
		t.Fatal(err)
	}
	seed := s.CurrentSeed()
	for f := uint32(1); f <= 60; f++ {
		s.OnFrame(f)
	}
	if !s.IsPaused() || s.CurrentSeed() != seed {
		t.Error("world advanced while paused")
	}
}

func TestSimulation_SnapshotRoundTrip(t *testing.T) {
	a := New(11, nil)
	_ = a.ExecuteCommand(engine.ExecContext{}, command(t, domain.OpChangeSetting, 0,
		domain.ChangeSettingPayload{Name: "zeta", Value: -4}, 0))
	for f := uint32(1); f <= 45; f++ {
		a.OnFrame(f)
	}
	data, err := a.SnapshotState()
	if err != nil {
		t.Fatal(err)
	}

	b := New(999, nil)
	if err := b.LoadState(data); err != nil {
		t.Fatal(err)
	}
	if a.ComputeStateChecksum() != b.ComputeStateChecksum() {
		t.Fatal("checksum differs after load")
	}
	a.OnFrame(46)
	b.OnFrame(46)
	if a.ComputeStateChecksum() != b.ComputeStateChecksum() {
		t.Error("worlds diverged after load")
	}

	before := b.ComputeStateChecksum()
	if err := b.LoadState(data[:len(data)-3]); err == nil {
		t.Error("truncated state accepted")
	}
	if b.ComputeStateChecksum() != before {
		t.Error("failed load changed the world")
	}
}

// Число настроек ограничено: новое имя сверх предела отклоняется, а уже
// известные меняются как обычно. Снимок мира при этом остается читаемым.
func TestSimulation_SettingsLimit(t *testing.T) {
	s := New(3, nil)
	set := func(name string, v int32) error {
		return s.ExecuteCommand(engine.ExecContext{}, command(t, domain.OpChangeSetting, 0,
			domain.ChangeSettingPayload{Name: name, Value: v}, 0))
	}
	for i := 0; len(s.World().Settings) < MaxSettings; i++ {
		if err := set(fmt.Sprintf("s%03d", i), int32(i)); err != nil {
			t.Fatalf("setting %d: %v", i, err)
		}
	}

	before := s.ComputeStateChecksum()
	if err := set("one_more", 1); !errors.Is(err, ErrTooManySettings) {
		t.Fatalf("error = %v, want ErrTooManySettings", err)
	}
	if s.ComputeStateChecksum() != before {
		t.Error("refused setting changed state")
	}
	if err := set("difficulty", 3); err != nil {
		t.Errorf("known setting refused: %v", err)
	}

	data, err := s.SnapshotState()
	if err != nil {
		t.Fatal(err)
	}
	b := New(4, nil)
	if err := b.LoadState(data); err != nil {
		t.Fatal(err)
	}
	if len(b.World().Settings) != MaxSettings {
		t.Errorf("loaded %d settings, want %d", len(b.World().Settings), MaxSettings)
	}
}

type memSaves map[string][]byte

func (m memSaves) Persist(tag string, data []byte) (string, error) {
	m[tag] = data
	return "mem:" + tag, nil
}

func TestSimulation_Diagnostics(t *testing.T) {
	saves := memSaves{}
	s := New(5, saves)

	var buf bytes.Buffer
	if err := s.DumpDiagnostics(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `company 0 "Company 0"`) {
		t.Errorf("dump = %s", buf.String())
	}

	if err := s.PersistDiagnosticSavegame("client_2_f10"); err != nil {
		t.Fatal(err)
	}
	restored := New(0, nil)
	if err := restored.LoadState(saves["client_2_f10"]); err != nil {
		t.Fatalf("saved state does not load: %v", err)
	}

	if err := New(5, nil).PersistDiagnosticSavegame("x"); err == nil {
		t.Error("persist without store succeeded")
	}

	if out := s.ExecuteConsole("settings"); len(out) != 2 || out[0] != "difficulty=1" {
		t.Errorf("settings = %v", out)
	}
	if out := s.ExecuteConsole("tile 999 0"); out[0] != "bad coordinates" {
		t.Errorf("tile = %v", out)
	}
}

type collectSink struct {
	entries []domain.CommandLogEntry
}

func (c *collectSink) Append(e domain.CommandLogEntry) error {
	c.entries = append(c.entries, e)
	return nil
}

// Журнал распределенных команд восстанавливает мир сервера кадр в кадр.
func TestReplay_ReproducesServerWorld(t *testing.T) {
	cfg := engine.NewConfig()
	cfg.Seed = 99
	cfg.PacketsPerSecond = 0
	world := New(cfg.Seed, nil)
	sink := &collectSink{}
	srv, err := engine.NewServer(cfg, engine.Options{Simulation: world, CommandLog: sink})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 120; i++ {
		if i%7 == 0 {
			tile := grassTile(t, world)
			if err := srv.EnqueueLocalCommand(domain.OpBuildTile, tile, domain.BuildTilePayload{Kind: domain.TileKindRoad}, domain.CallbackNone, 0); err != nil {
				t.Fatal(err)
			}
		}
		if err := srv.Tick(now); err != nil {
			t.Fatal(err)
		}
		now = now.Add(cfg.TickInterval())
	}
	if len(sink.entries) == 0 {
		t.Fatal("command log is empty")
	}

	session := &domain.CommandLogSession{Seed: cfg.Seed, Entries: sink.entries}
	replayed, err := Replay(session, srv.Frame())
	if err != nil {
		t.Fatal(err)
	}
	if replayed.World().Frame != world.World().Frame {
		t.Fatalf("replayed frame %d, server frame %d", replayed.World().Frame, world.World().Frame)
	}
	if got, want := replayed.ComputeStateChecksum(), world.ComputeStateChecksum(); got != want {
		t.Errorf("replayed checksum %08x, server %08x", got, want)
	}

	bad := &domain.CommandLogSession{Seed: 1, Entries: []domain.CommandLogEntry{sink.entries[0], sink.entries[0]}}
	bad.Entries[0].Frame = 5
	bad.Entries[1].Frame = 3
	if _, err := Replay(bad, 10); err == nil {
		t.Error("out-of-order log accepted")
	}
}
