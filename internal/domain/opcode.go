package domain

import "strings"

// OpCodeSetVersion - версия набора команд. Меняется при любом изменении
// состава OpCode или формата их payload; входит в сетевую ревизию.
const OpCodeSetVersion = 3

// OpCode - внутренний числовой идентификатор команды (что именно меняем в симуляции)
type OpCode uint8

const (
	OpUnknown OpCode = iota
	OpPause
	OpBuildTile
	OpClearTile
	OpGiveMoney
	OpRenameCompany
	OpChangeSetting
	OpCompanyCtrl

	opCodeEnd // граница известного набора, не является командой
)

// Маппинг для конвертации конфигов/rcon -> Domain
var opStringToCode = map[string]OpCode{
	"PAUSE":          OpPause,
	"BUILD_TILE":     OpBuildTile,
	"CLEAR_TILE":     OpClearTile,
	"GIVE_MONEY":     OpGiveMoney,
	"RENAME_COMPANY": OpRenameCompany,
	"CHANGE_SETTING": OpChangeSetting,
	"COMPANY_CTRL":   OpCompanyCtrl,
}

// Маппинг для логов Domain -> String
var opCodeToString = map[OpCode]string{
	OpPause:         "PAUSE",
	OpBuildTile:     "BUILD_TILE",
	OpClearTile:     "CLEAR_TILE",
	OpGiveMoney:     "GIVE_MONEY",
	OpRenameCompany: "RENAME_COMPANY",
	OpChangeSetting: "CHANGE_SETTING",
	OpCompanyCtrl:   "COMPANY_CTRL",
}

// ParseOpCode конвертирует строку в OpCode. Регистр не важен.
func ParseOpCode(s string) OpCode {
	if val, ok := opStringToCode[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return val
	}
	return OpUnknown
}

// Valid сообщает, входит ли код в известный набор команд.
func (op OpCode) Valid() bool {
	return op > OpUnknown && op < opCodeEnd
}

// String реализует интерфейс Stringer (для логов)
func (op OpCode) String() string {
	if val, ok := opCodeToString[op]; ok {
		return val
	}
	return "UNKNOWN"
}

// OpCodeSet - множество кодов (например, список разрешенных во время паузы).
type OpCodeSet map[OpCode]struct{}

// NewOpCodeSet собирает множество из строковых имен. Неизвестные имена
// возвращаются отдельно, чтобы конфиг мог сообщить об ошибке.
func NewOpCodeSet(names []string) (OpCodeSet, []string) {
	set := make(OpCodeSet, len(names))
	var unknown []string
	for _, name := range names {
		op := ParseOpCode(name)
		if op == OpUnknown {
			unknown = append(unknown, name)
			continue
		}
		set[op] = struct{}{}
	}
	return set, unknown
}

// Contains проверяет принадлежность кода множеству.
func (s OpCodeSet) Contains(op OpCode) bool {
	_, ok := s[op]
	return ok
}
