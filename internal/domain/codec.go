package domain

import (
	"fmt"
	"math"

	"lockstep-server/pkg/api"
)

// Формат команды на проводе (little-endian):
//
//	op(1) company(1) tile(4) error_msg(2) payload_len(2) payload(n) callback(1) [callback_param(4)]
//
// callback_param присутствует только если callback != 0.

// MaxPayloadSize - предел размера payload одной команды.
const MaxPayloadSize = 1024

// Serialize кодирует команду в байты.
func Serialize(c Command) ([]byte, error) {
	w := api.NewRawWriter()
	if err := WriteCommand(w, c); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// WriteCommand дописывает команду в существующий буфер (например, в пакет).
func WriteCommand(w *api.Writer, c Command) error {
	if !c.Op.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownOpCode, c.Op)
	}
	if c.Payload == nil || c.Payload.Op() != c.Op {
		return fmt.Errorf("%w: payload does not match %s", ErrMalformed, c.Op)
	}

	body := api.NewRawWriter()
	c.Payload.encode(body)
	payload := body.Bytes()
	if len(payload) > MaxPayloadSize || len(payload) > math.MaxUint16 {
		return fmt.Errorf("%w: payload too long: %d", ErrMalformed, len(payload))
	}

	w.Uint8(uint8(c.Op))
	w.Uint8(uint8(c.Company))
	w.Uint32(uint32(c.Tile))
	w.Uint16(uint16(c.ErrorMsg))
	w.Blob(payload)
	w.Uint8(uint8(c.Callback))
	if c.Callback != CallbackNone {
		w.Uint32(c.CallbackParam)
	}
	return nil
}

// Deserialize разбирает команду. Любая ошибка (неизвестный код, обрезанные
// данные, значение вне диапазона, лишние байты) возвращается как ErrMalformed.
func Deserialize(b []byte) (Command, error) {
	r := api.NewReader(b)
	c, err := ReadCommand(r)
	if err != nil {
		return Command{}, err
	}
	if err := r.Done(); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return c, nil
}

// ReadCommand читает одну команду из пакета, не требуя конца буфера.
func ReadCommand(r *api.Reader) (Command, error) {
	op := OpCode(r.Uint8())
	company := CompanyID(r.Uint8())
	tile := TileIndex(r.Uint32())
	errMsg := StringID(r.Uint16())
	body := r.Blob(MaxPayloadSize)
	callback := CallbackID(r.Uint8())
	var param uint32
	if callback != CallbackNone {
		param = r.Uint32()
	}
	if err := r.Err(); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if !op.Valid() {
		return Command{}, fmt.Errorf("%w: %d", ErrUnknownOpCode, op)
	}
	if !company.Valid() {
		return Command{}, fmt.Errorf("%w: company %d out of range", ErrMalformed, company)
	}
	payload, err := decodePayload(op, body)
	if err != nil {
		return Command{}, err
	}

	return Command{
		Company:       company,
		Tile:          tile,
		Op:            op,
		Payload:       payload,
		ErrorMsg:      errMsg,
		Callback:      callback,
		CallbackParam: param,
	}, nil
}
