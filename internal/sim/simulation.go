package sim

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/engine"
	"lockstep-server/pkg/logger"
)

// Стоимость строительства
var buildCost = map[domain.TileKind]int64{
	domain.TileKindRail:    100,
	domain.TileKindRoad:    60,
	domain.TileKindStation: 1_500,
	domain.TileKindHouse:   800,
}

const (
	clearCost      = 40
	roughSurcharge = 2 // Множитель стоимости на каменистом тайле
)

// Штатные отказы команд. Одинаковы у всех участников.
var (
	ErrNoCompany       = errors.New("company does not exist")
	ErrNoMoney         = errors.New("not enough money")
	ErrOutOfMap        = errors.New("tile outside the map")
	ErrTileOccupied    = errors.New("tile is occupied")
	ErrTileForeign     = errors.New("tile belongs to another company")
	ErrWater           = errors.New("cannot build on water")
	ErrCompanyExists   = errors.New("company already exists")
	ErrTooManySettings = errors.New("too many settings")
)

// SavegameStore - куда складываются диагностические сохранения.
type SavegameStore interface {
	Persist(tag string, data []byte) (string, error)
}

// Simulation реализует engine.Simulation поверх World.
type Simulation struct {
	world *World
	saves SavegameStore
	log   *logrus.Entry
}

var (
	_ engine.Simulation   = (*Simulation)(nil)
	_ engine.SeedReporter = (*Simulation)(nil)
	_ engine.Diagnostics  = (*Simulation)(nil)
	_ engine.Console      = (*Simulation)(nil)
)

// New создает мир из сида. saves может быть nil: сохранения не пишутся.
func New(seed uint64, saves SavegameStore) *Simulation {
	return &Simulation{
		world: NewWorld(seed),
		saves: saves,
		log:   logger.Component("sim"),
	}
}

// World - текущее состояние (только для чтения вне тика).
func (s *Simulation) World() *World { return s.world }

func (s *Simulation) ExecuteCommand(ctx engine.ExecContext, cmd domain.Command) error {
	w := s.world
	switch p := cmd.Payload.(type) {
	case domain.PausePayload:
		w.Paused = p.Paused
		return nil

	case domain.ChangeSettingPayload:
		if _, ok := w.Settings[p.Name]; !ok && len(w.Settings) >= MaxSettings {
			return ErrTooManySettings
		}
		w.Settings[p.Name] = p.Value
		return nil

	case domain.CompanyCtrlPayload:
		c := &w.Companies[p.Company]
		switch p.Action {
		case domain.CompanyActionNew:
			if c.Exists {
				return ErrCompanyExists
			}
			*c = Company{Exists: true, Name: fmt.Sprintf("Company %d", p.Company), Money: StartMoney}
		case domain.CompanyActionDelete:
			if p.Company == 0 || !c.Exists {
				return ErrNoCompany
			}
			*c = Company{}
			for i := range w.Tiles {
				if w.Tiles[i].Owner == p.Company {
					w.Tiles[i].Owner = domain.CompanySpectator
				}
			}
		}
		return nil
	}

	company := w.company(cmd.Company)
	if company == nil {
		return ErrNoCompany
	}

	switch p := cmd.Payload.(type) {
	case domain.BuildTilePayload:
		t := w.TileAt(cmd.Tile)
		if t == nil {
			return ErrOutOfMap
		}
		if t.Terrain == TerrainWater {
			return ErrWater
		}
		if t.Kind != domain.TileKindClear {
			return ErrTileOccupied
		}
		cost := buildCost[p.Kind]
		if t.Terrain == TerrainRough {
			cost *= roughSurcharge
		}
		if company.Money < cost {
			return ErrNoMoney
		}
		company.Money -= cost
		t.Kind = p.Kind
		t.Owner = cmd.Company

	case domain.ClearTilePayload:
		t := w.TileAt(cmd.Tile)
		if t == nil {
			return ErrOutOfMap
		}
		if t.Owner != cmd.Company && t.Owner != domain.CompanySpectator {
			return ErrTileForeign
		}
		if company.Money < clearCost {
			return ErrNoMoney
		}
		company.Money -= clearCost
		t.Kind = domain.TileKindClear
		t.Owner = domain.CompanySpectator

	case domain.GiveMoneyPayload:
		dest := w.company(p.Dest)
		if dest == nil {
			return ErrNoCompany
		}
		if company.Money < p.Amount {
			return ErrNoMoney
		}
		company.Money -= p.Amount
		dest.Money += p.Amount

	case domain.RenameCompanyPayload:
		company.Name = p.Name

	default:
		return fmt.Errorf("unsupported op %s", cmd.Op)
	}
	return nil
}

// OnFrame - игровая логика кадра: доход и рост городов. На паузе стоит.
func (s *Simulation) OnFrame(frame uint32) {
	w := s.world
	w.Frame = frame
	if w.Paused {
		return
	}

	if frame%IncomeInterval == 0 {
		var income [domain.MaxCompanies]int64
		for _, t := range w.Tiles {
			if t.Owner.IsSpectator() || !t.Owner.Valid() {
				continue
			}
			switch t.Kind {
			case domain.TileKindStation:
				income[t.Owner] += 50
			case domain.TileKindRail, domain.TileKindRoad:
				income[t.Owner]++
			}
		}
		for id := range w.Companies {
			if w.Companies[id].Exists {
				w.Companies[id].Money += income[id]
			}
		}
	}

	// Рост городов: один случайный тайл за кадр
	idx := int(w.Rng.Next() % uint32(len(w.Tiles)))
	if w.Settings["town_growth"] > 0 && w.Rng.Next()%64 == 0 {
		t := &w.Tiles[idx]
		if t.Kind == domain.TileKindClear && t.Terrain == TerrainGrass && hasHouseNear(w, idx) {
			t.Kind = domain.TileKindHouse
		}
	}
}

func hasHouseNear(w *World, idx int) bool {
	x, y := idx%MapWidth, idx/MapWidth
	for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		nx, ny := x+d[0], y+d[1]
		if nx < 0 || ny < 0 || nx >= MapWidth || ny >= MapHeight {
			continue
		}
		if w.Tiles[ny*MapWidth+nx].Kind == domain.TileKindHouse {
			return true
		}
	}
	return false
}

func (s *Simulation) IsPaused() bool { return s.world.Paused }

// CurrentSeed - состояние ГПСЧ для Sync Record.
func (s *Simulation) CurrentSeed() uint32 { return s.world.Rng.State() }

// sortedSettings - имена настроек в каноническом порядке.
func sortedSettings(m map[string]int32) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
