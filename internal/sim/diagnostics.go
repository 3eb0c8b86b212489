package sim

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"lockstep-server/internal/domain"
)

// DumpDiagnostics пишет сводку мира для разбора рассинхронизации.
func (s *Simulation) DumpDiagnostics(sink io.Writer) error {
	w := s.world
	if _, err := fmt.Fprintf(sink, "sim: frame=%d paused=%t rng=%08x checksum=%08x\n",
		w.Frame, w.Paused, w.Rng.State(), s.ComputeStateChecksum()); err != nil {
		return err
	}
	for id, c := range w.Companies {
		if !c.Exists {
			continue
		}
		if _, err := fmt.Fprintf(sink, "company %d %q money=%d tiles=%d\n", id, c.Name, c.Money, s.ownedTiles(domain.CompanyID(id))); err != nil {
			return err
		}
	}
	for _, name := range sortedSettings(w.Settings) {
		if _, err := fmt.Fprintf(sink, "setting %s=%d\n", name, w.Settings[name]); err != nil {
			return err
		}
	}
	return nil
}

// PersistDiagnosticSavegame сохраняет полный снимок мира.
func (s *Simulation) PersistDiagnosticSavegame(tag string) error {
	if s.saves == nil {
		return errors.New("no savegame store configured")
	}
	path, err := s.saves.Persist(tag, s.world.encode())
	if err != nil {
		return err
	}
	s.log.WithField("path", path).Info("diagnostic savegame written")
	return nil
}

func (s *Simulation) ownedTiles(id domain.CompanyID) int {
	n := 0
	for _, t := range s.world.Tiles {
		if t.Owner == id {
			n++
		}
	}
	return n
}

// ExecuteConsole - команды консоли только для чтения. Все, что меняет мир,
// должно идти через команды.
func (s *Simulation) ExecuteConsole(line string) []string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	w := s.world
	switch fields[0] {
	case "companies":
		var out []string
		for id, c := range w.Companies {
			if c.Exists {
				out = append(out, fmt.Sprintf("%d %q money=%d", id, c.Name, c.Money))
			}
		}
		return out

	case "tile":
		if len(fields) != 3 {
			return []string{"usage: tile <x> <y>"}
		}
		x, errX := strconv.ParseUint(fields[1], 10, 32)
		y, errY := strconv.ParseUint(fields[2], 10, 32)
		if errX != nil || errY != nil || x >= MapWidth || y >= MapHeight {
			return []string{"bad coordinates"}
		}
		t := w.Tiles[int(y)*MapWidth+int(x)]
		return []string{fmt.Sprintf("terrain=%d kind=%d owner=%s", t.Terrain, t.Kind, t.Owner)}

	case "settings":
		var out []string
		for _, name := range sortedSettings(w.Settings) {
			out = append(out, fmt.Sprintf("%s=%d", name, w.Settings[name]))
		}
		return out

	case "checksum":
		return []string{fmt.Sprintf("%08x", s.ComputeStateChecksum())}
	}
	return []string{"unknown command: " + fields[0]}
}
