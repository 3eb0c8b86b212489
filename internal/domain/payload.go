package domain

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"lockstep-server/pkg/api"
)

// Payload - данные конкретной команды. Каждому OpCode соответствует ровно один
// тип payload; набор типов закрыт (encode не экспортируется).
type Payload interface {
	Op() OpCode
	Validate() error
	encode(w *api.Writer)
}

// Ограничения на строковые поля payload
const (
	MaxCompanyNameLen = 32
	MaxSettingNameLen = 64
)

// TileKind - что строится на тайле
type TileKind uint8

const (
	TileKindClear TileKind = iota
	TileKindRail
	TileKindRoad
	TileKindStation
	TileKindHouse

	tileKindEnd
)

func (k TileKind) Valid() bool { return k < tileKindEnd }

// CompanyAction - действие над компанией в COMPANY_CTRL
type CompanyAction uint8

const (
	CompanyActionNew CompanyAction = iota
	CompanyActionDelete

	companyActionEnd
)

// --- Варианты payload ---

// PausePayload ставит или снимает паузу симуляции.
type PausePayload struct {
	Paused bool
}

func (PausePayload) Op() OpCode { return OpPause }
func (PausePayload) Validate() error { return nil }
func (p PausePayload) encode(w *api.Writer) { w.Bool(p.Paused) }

// BuildTilePayload строит объект на тайле команды.
type BuildTilePayload struct {
	Kind     TileKind
	Rotation uint8 // 0..3, четверть оборота
}

func (BuildTilePayload) Op() OpCode { return OpBuildTile }

func (p BuildTilePayload) Validate() error {
	if !p.Kind.Valid() || p.Kind == TileKindClear {
		return fmt.Errorf("tile kind %d out of range", p.Kind)
	}
	if p.Rotation > 3 {
		return fmt.Errorf("rotation %d out of range", p.Rotation)
	}
	return nil
}

func (p BuildTilePayload) encode(w *api.Writer) {
	w.Uint8(uint8(p.Kind))
	w.Uint8(p.Rotation)
}

// ClearTilePayload сносит всё на тайле команды. Данных не несет.
type ClearTilePayload struct{}

func (ClearTilePayload) Op() OpCode { return OpClearTile }
func (ClearTilePayload) Validate() error { return nil }
func (ClearTilePayload) encode(*api.Writer) {}

// GiveMoneyPayload переводит деньги другой компании.
type GiveMoneyPayload struct {
	Amount int64
	Dest   CompanyID
}

func (GiveMoneyPayload) Op() OpCode { return OpGiveMoney }

func (p GiveMoneyPayload) Validate() error {
	if p.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	if !p.Dest.Valid() || p.Dest.IsSpectator() {
		return fmt.Errorf("destination company %d out of range", p.Dest)
	}
	return nil
}

func (p GiveMoneyPayload) encode(w *api.Writer) {
	w.Int64(p.Amount)
	w.Uint8(uint8(p.Dest))
}

// RenameCompanyPayload меняет название компании.
type RenameCompanyPayload struct {
	Name string
}

func (RenameCompanyPayload) Op() OpCode { return OpRenameCompany }

func (p RenameCompanyPayload) Validate() error {
	if p.Name == "" || len(p.Name) > MaxCompanyNameLen {
		return fmt.Errorf("company name length %d out of range", len(p.Name))
	}
	if !utf8.ValidString(p.Name) {
		return errors.New("company name is not valid utf-8")
	}
	return nil
}

func (p RenameCompanyPayload) encode(w *api.Writer) { w.String(p.Name) }

// ChangeSettingPayload меняет игровую настройку (одинаково у всех участников).
type ChangeSettingPayload struct {
	Name  string
	Value int32
}

func (ChangeSettingPayload) Op() OpCode { return OpChangeSetting }

func (p ChangeSettingPayload) Validate() error {
	if p.Name == "" || len(p.Name) > MaxSettingNameLen {
		return fmt.Errorf("setting name length %d out of range", len(p.Name))
	}
	if !utf8.ValidString(p.Name) {
		return errors.New("setting name is not valid utf-8")
	}
	return nil
}

func (p ChangeSettingPayload) encode(w *api.Writer) {
	w.String(p.Name)
	w.Int32(p.Value)
}

// CompanyCtrlPayload создает или удаляет компанию.
type CompanyCtrlPayload struct {
	Action  CompanyAction
	Company CompanyID
}

func (CompanyCtrlPayload) Op() OpCode { return OpCompanyCtrl }

func (p CompanyCtrlPayload) Validate() error {
	if p.Action >= companyActionEnd {
		return fmt.Errorf("company action %d out of range", p.Action)
	}
	if !p.Company.Valid() || p.Company.IsSpectator() {
		return fmt.Errorf("company %d out of range", p.Company)
	}
	return nil
}

func (p CompanyCtrlPayload) encode(w *api.Writer) {
	w.Uint8(uint8(p.Action))
	w.Uint8(uint8(p.Company))
}

// --- Декодирование ---

// payloadDecoders - фиксированная таблица OpCode -> декодер.
// Декодер читает поля; проверку диапазонов делает Validate.
var payloadDecoders = map[OpCode]func(r *api.Reader) Payload{
	OpPause: func(r *api.Reader) Payload {
		return PausePayload{Paused: r.Bool()}
	},
	OpBuildTile: func(r *api.Reader) Payload {
		return BuildTilePayload{Kind: TileKind(r.Uint8()), Rotation: r.Uint8()}
	},
	OpClearTile: func(*api.Reader) Payload {
		return ClearTilePayload{}
	},
	OpGiveMoney: func(r *api.Reader) Payload {
		return GiveMoneyPayload{Amount: r.Int64(), Dest: CompanyID(r.Uint8())}
	},
	OpRenameCompany: func(r *api.Reader) Payload {
		return RenameCompanyPayload{Name: r.String(MaxCompanyNameLen)}
	},
	OpChangeSetting: func(r *api.Reader) Payload {
		return ChangeSettingPayload{Name: r.String(MaxSettingNameLen), Value: r.Int32()}
	},
	OpCompanyCtrl: func(r *api.Reader) Payload {
		return CompanyCtrlPayload{Action: CompanyAction(r.Uint8()), Company: CompanyID(r.Uint8())}
	},
}

func decodePayload(op OpCode, body []byte) (Payload, error) {
	decode, ok := payloadDecoders[op]
	if !ok {
		return nil, ErrUnknownOpCode
	}
	r := api.NewReader(body)
	p := decode(r)
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %w", ErrMalformed, op, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %w", ErrMalformed, op, err)
	}
	return p, nil
}
