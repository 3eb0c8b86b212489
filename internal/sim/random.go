package sim

// Random - детерминированный ГПСЧ симуляции (xorshift32). Состояние - одно
// число: оно попадает в Sync Record и в снимок состояния.
type Random struct {
	state uint32
}

func NewRandom(seed uint64) Random {
	s := uint32(seed) ^ uint32(seed>>32)
	if s == 0 {
		s = 0x9E3779B9
	}
	return Random{state: s}
}

func (r *Random) Next() uint32 {
	x := r.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	r.state = x
	return x
}

// Range - число в [min, max].
func (r *Random) Range(min, max int) int {
	if max <= min {
		return min
	}
	return min + int(r.Next()%uint32(max-min+1))
}

func (r *Random) State() uint32 { return r.state }
