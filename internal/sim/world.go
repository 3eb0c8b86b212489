// Package sim - эталонная детерминированная симуляция: сетка тайлов и
// компании с деньгами. Все изменения идут через команды и OnFrame.
package sim

import (
	"lockstep-server/internal/domain"
)

// Константы мира
const (
	MapLog2X   = 6
	MapWidth   = 1 << MapLog2X
	MapHeight  = 48
	StartMoney = 100_000

	// IncomeInterval - раз во сколько кадров начисляется доход
	IncomeInterval = 30

	// MaxSettings - предел числа именованных настроек мира
	MaxSettings = 256
)

// Terrain - рельеф тайла, задается генерацией и не меняется.
type Terrain uint8

const (
	TerrainGrass Terrain = iota
	TerrainWater
	TerrainRough
)

// Tile - клетка карты
type Tile struct {
	Terrain Terrain
	Kind    domain.TileKind
	Owner   domain.CompanyID
}

// Company - игровая компания
type Company struct {
	Exists bool
	Name   string
	Money  int64
}

// World - все состояние симуляции. Порядок полей и обход в encode фиксированы.
type World struct {
	Seed      uint64
	Frame     uint32
	Paused    bool
	Tiles     []Tile
	Companies [domain.MaxCompanies]Company
	Settings  map[string]int32
	Rng       Random
}

// NewWorld генерирует мир из мастер-зерна.
func NewWorld(seed uint64) *World {
	w := &World{
		Seed:     seed,
		Tiles:    make([]Tile, MapWidth*MapHeight),
		Settings: map[string]int32{"difficulty": 1, "town_growth": 1},
		Rng:      NewRandom(seed),
	}
	for i := range w.Tiles {
		w.Tiles[i].Owner = domain.CompanySpectator
	}
	// Компания 0 принадлежит хосту и существует всегда
	w.Companies[0] = Company{Exists: true, Name: "Company 0", Money: StartMoney}
	generate(w)
	return w
}

// TileAt возвращает тайл или nil вне карты.
func (w *World) TileAt(t domain.TileIndex) *Tile {
	x, y := t.X(MapLog2X), t.Y(MapLog2X)
	if x >= MapWidth || y >= MapHeight {
		return nil
	}
	return &w.Tiles[y*MapWidth+x]
}

func (w *World) company(id domain.CompanyID) *Company {
	if id.IsSpectator() || !id.Valid() || !w.Companies[id].Exists {
		return nil
	}
	return &w.Companies[id]
}
