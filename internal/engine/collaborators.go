package engine

import (
	"io"

	"lockstep-server/internal/domain"
)

// ExecContext - контекст исполнения команды.
type ExecContext struct {
	Frame  uint32
	Origin domain.ClientID
	// IsMine - команду инициировал этот процесс. Симуляция показывает
	// локальную обратную связь (диалоги, звуки) только для своих команд.
	IsMine bool
}

// Simulation - детерминированная игровая логика, которую меняют команды.
// Сетевое ядро ничего не знает о ее внутреннем устройстве.
type Simulation interface {
	// ExecuteCommand применяет проверенную команду. Ошибка - штатный отказ
	// игры (не хватает денег и т.п.), одинаковый у всех участников.
	ExecuteCommand(ctx ExecContext, cmd domain.Command) error
	// OnFrame продвигает игровую логику на один кадр после исполнения команд.
	OnFrame(frame uint32)
	// ComputeStateChecksum - дешевая контрольная сумма состояния.
	ComputeStateChecksum() uint32
	// IsPaused - игра на паузе: распределяются только разрешенные команды.
	IsPaused() bool

	// SnapshotState и LoadState - полное состояние для передачи новому клиенту.
	SnapshotState() ([]byte, error)
	LoadState(data []byte) error
}

// SeedReporter - необязательное расширение Simulation: текущее состояние ГПСЧ
// попадает в Sync Record рядом с контрольной суммой.
type SeedReporter interface {
	CurrentSeed() uint32
}

// Diagnostics собирает данные для разбора рассинхронизации.
type Diagnostics interface {
	DumpDiagnostics(sink io.Writer) error
	PersistDiagnosticSavegame(tag string) error
}

// Console исполняет rcon-команды, которые не распознало ядро.
type Console interface {
	ExecuteConsole(line string) []string
}

// BanList - хранилище заблокированных адресов.
type BanList interface {
	Contains(addr string) (bool, error)
	Add(addr, reason string) error
	Remove(addr string) error
	List() ([]string, error)
}

// CommandLogSink - постоянный журнал распределенных команд.
type CommandLogSink interface {
	Append(entry domain.CommandLogEntry) error
}
