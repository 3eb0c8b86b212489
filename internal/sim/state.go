package sim

import (
	"encoding/binary"
	"fmt"

	"lukechampine.com/blake3"

	"lockstep-server/internal/domain"
	"lockstep-server/pkg/api"
)

const stateVersion = 1

// encode - каноническое представление мира. Одинаковые миры дают
// одинаковые байты: настройки пишутся в отсортированном порядке.
func (w *World) encode() []byte {
	wr := api.NewRawWriter()
	wr.Uint8(stateVersion)
	wr.Uint64(w.Seed)
	wr.Uint32(w.Frame)
	wr.Bool(w.Paused)
	wr.Uint32(w.Rng.State())

	wr.Uint32(uint32(len(w.Tiles)))
	for _, t := range w.Tiles {
		wr.Uint8(uint8(t.Terrain))
		wr.Uint8(uint8(t.Kind))
		wr.Uint8(uint8(t.Owner))
	}
	for _, c := range w.Companies {
		wr.Bool(c.Exists)
		wr.String(c.Name)
		wr.Int64(c.Money)
	}
	names := sortedSettings(w.Settings)
	wr.Uint16(uint16(len(names)))
	for _, n := range names {
		wr.String(n)
		wr.Int32(w.Settings[n])
	}
	return wr.Bytes()
}

func decodeWorld(data []byte) (*World, error) {
	r := api.NewReader(data)
	if v := r.Uint8(); v != stateVersion && r.Err() == nil {
		return nil, fmt.Errorf("unsupported state version %d", v)
	}
	w := &World{
		Seed:     r.Uint64(),
		Frame:    r.Uint32(),
		Paused:   r.Bool(),
		Rng:      Random{state: r.Uint32()},
		Settings: make(map[string]int32),
	}

	n := r.Uint32()
	if n != MapWidth*MapHeight && r.Err() == nil {
		return nil, fmt.Errorf("map has %d tiles, want %d", n, MapWidth*MapHeight)
	}
	w.Tiles = make([]Tile, MapWidth*MapHeight)
	for i := range w.Tiles {
		t := Tile{Terrain: Terrain(r.Uint8()), Kind: domain.TileKind(r.Uint8()), Owner: domain.CompanyID(r.Uint8())}
		if r.Err() == nil && (t.Terrain > TerrainRough || !t.Kind.Valid() || !t.Owner.Valid()) {
			return nil, fmt.Errorf("tile %d out of range", i)
		}
		w.Tiles[i] = t
	}
	for i := range w.Companies {
		w.Companies[i] = Company{Exists: r.Bool(), Name: r.String(domain.MaxCompanyNameLen), Money: r.Int64()}
	}
	settings := int(r.Uint16())
	if settings > MaxSettings {
		return nil, fmt.Errorf("state has %d settings, limit %d", settings, MaxSettings)
	}
	for i := 0; i < settings && r.Err() == nil; i++ {
		name := r.String(domain.MaxSettingNameLen)
		w.Settings[name] = r.Int32()
	}
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return w, nil
}

// ComputeStateChecksum - первые 4 байта blake3 от канонического состояния.
func (s *Simulation) ComputeStateChecksum() uint32 {
	sum := blake3.Sum256(s.world.encode())
	return binary.LittleEndian.Uint32(sum[:4])
}

func (s *Simulation) SnapshotState() ([]byte, error) {
	return s.world.encode(), nil
}

// LoadState заменяет мир целиком. При ошибке текущий мир не меняется.
func (s *Simulation) LoadState(data []byte) error {
	w, err := decodeWorld(data)
	if err != nil {
		return err
	}
	s.world = w
	return nil
}
