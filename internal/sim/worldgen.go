package sim

import "lockstep-server/internal/domain"

// Константы генерации
const (
	MaxLakes  = 6
	MaxTowns  = 5
	MinSize   = 3
	MaxSize   = 9
	TownHouse = 6
)

// Rect - прямоугольная область карты
type Rect struct {
	X, Y, W, H int
}

func (r Rect) Center() (int, int) {
	return r.X + r.W/2, r.Y + r.H/2
}

func (r Rect) Intersects(other Rect) bool {
	return r.X <= other.X+other.W && r.X+r.W >= other.X &&
		r.Y <= other.Y+other.H && r.Y+r.H >= other.Y
}

// generate раскладывает озера и города. Все случайное берется из w.Rng,
// поэтому один сид дает одну карту у всех участников.
func generate(w *World) {
	var placed []Rect

	tryPlace := func() (Rect, bool) {
		width := w.Rng.Range(MinSize, MaxSize)
		height := w.Rng.Range(MinSize, MaxSize)
		r := Rect{
			X: w.Rng.Range(1, MapWidth-width-1),
			Y: w.Rng.Range(1, MapHeight-height-1),
			W: width,
			H: height,
		}
		for _, other := range placed {
			if r.Intersects(other) {
				return r, false
			}
		}
		placed = append(placed, r)
		return r, true
	}

	for i := 0; i < MaxLakes; i++ {
		if r, ok := tryPlace(); ok {
			fill(w, r, func(t *Tile) { t.Terrain = TerrainWater })
		}
	}

	// Каменистые пятна вокруг озер
	for i := 0; i < MapWidth*MapHeight/40; i++ {
		x, y := w.Rng.Range(0, MapWidth-1), w.Rng.Range(0, MapHeight-1)
		t := &w.Tiles[y*MapWidth+x]
		if t.Terrain == TerrainGrass {
			t.Terrain = TerrainRough
		}
	}

	for i := 0; i < MaxTowns; i++ {
		r, ok := tryPlace()
		if !ok {
			continue
		}
		cx, cy := r.Center()
		for h := 0; h < TownHouse; h++ {
			x := clamp(cx+w.Rng.Range(-2, 2), 0, MapWidth-1)
			y := clamp(cy+w.Rng.Range(-2, 2), 0, MapHeight-1)
			t := &w.Tiles[y*MapWidth+x]
			t.Terrain = TerrainGrass
			t.Kind = domain.TileKindHouse
		}
	}
}

func fill(w *World, r Rect, fn func(t *Tile)) {
	for y := r.Y; y < r.Y+r.H && y < MapHeight; y++ {
		for x := r.X; x < r.X+r.W && x < MapWidth; x++ {
			fn(&w.Tiles[y*MapWidth+x])
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
