package version

import (
	"fmt"
	"time"

	"lockstep-server/internal/domain"
	"lockstep-server/pkg/api"
)

var (
	BuildDate   string // YYYY-MM-DD (UTC)
	BuildCommit string
	BuildBranch string
	BuildCI     string
)

var buildEpoch = time.Date(
	2025, time.December, 4,
	0, 0, 0, 0,
	time.UTC,
)

// VersionInfo - метаданные сборки и версии протокола для /version и логов.
type VersionInfo struct {
	BuildID    int    `json:"build_id"`
	BuildDate  string `json:"build_date"`
	Commit     string `json:"commit"`
	Branch     string `json:"branch"`
	CI         string `json:"ci"`
	Calculated bool   `json:"calculated"`
	Error      string `json:"error,omitempty"`

	PacketTypes uint8  `json:"packet_types_version"`
	OpCodes     uint8  `json:"op_codes_version"`
	Revision    string `json:"network_revision"`
}

func CalculateBuildID() (int, error) {
	if BuildDate == "" {
		return 0, fmt.Errorf("BuildDate is empty")
	}

	t, err := time.ParseInLocation("2006-01-02", BuildDate, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("invalid BuildDate %q: %w", BuildDate, err)
	}

	if t.Before(buildEpoch) {
		return 0, fmt.Errorf("BuildDate %s is before epoch", BuildDate)
	}

	// Using hours avoids DST issues; epoch and build date are both UTC.
	days := int(t.Sub(buildEpoch).Hours() / 24)
	return days, nil
}

// Info returns structured version information.
// Safe to call at any time.
func Info() VersionInfo {
	id, err := CalculateBuildID()

	info := VersionInfo{
		BuildDate:   BuildDate,
		Commit:      BuildCommit,
		Branch:      BuildBranch,
		CI:          BuildCI,
		PacketTypes: uint8(api.PacketTypeVersion),
		OpCodes:     uint8(domain.OpCodeSetVersion),
		Revision:    NetworkRevision(),
	}

	if err != nil {
		info.Error = err.Error()
		return info
	}

	info.BuildID = id
	info.Calculated = true
	return info
}

// String returns a human-readable build string.
func String() string {
	info := Info()

	if !info.Calculated {
		return fmt.Sprintf("Build unknown (%s) revision[%s]", info.Error, info.Revision)
	}

	return fmt.Sprintf(
		"Build %d (%s) revision[%s] commit[%s] branch[%s] ci[%s]",
		info.BuildID,
		info.BuildDate,
		info.Revision,
		coalesce(info.Commit, "unknown"),
		coalesce(info.Branch, "unknown"),
		coalesce(info.CI, "local"),
	)
}

func coalesce(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// NetworkRevision - строка, которую клиент и сервер сверяют при входе.
// Включает версии протокола и набора команд: клиент другой сборки
// получает WRONG_REVISION, а не рассинхронизацию через сотню кадров.
func NetworkRevision() string {
	return fmt.Sprintf("lockstep/p%d/c%d/%s",
		api.PacketTypeVersion,
		domain.OpCodeSetVersion,
		coalesce(BuildCommit, "dev"),
	)
}
