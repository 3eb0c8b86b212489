package domain

import (
	"fmt"
	"strconv"
)

// ClientID - идентификатор участника сессии. Сервер всегда ClientIDServer,
// клиенты получают последовательные ID начиная с ClientIDFirst.
type ClientID uint32

const (
	ClientIDInvalid ClientID = 0
	ClientIDServer  ClientID = 1
	ClientIDFirst   ClientID = 2
)

func (id ClientID) String() string {
	if id == ClientIDServer {
		return "server"
	}
	return "#" + strconv.FormatUint(uint64(id), 10)
}

// CompanyID - игровая компания, от имени которой выполняется команда.
type CompanyID uint8

const (
	// MaxCompanies - максимальное число одновременно существующих компаний.
	MaxCompanies = 15

	// CompanySpectator - наблюдатель, не владеет ничем.
	CompanySpectator CompanyID = 255
)

// Valid проверяет, что значение лежит в допустимом диапазоне перечисления.
func (c CompanyID) Valid() bool {
	return c < MaxCompanies || c == CompanySpectator
}

// IsSpectator сообщает, является ли компания наблюдателем.
func (c CompanyID) IsSpectator() bool {
	return c == CompanySpectator
}

func (c CompanyID) String() string {
	if c == CompanySpectator {
		return "spectator"
	}
	return "company_" + strconv.Itoa(int(c))
}

// TileIndex - упакованная координата тайла карты.
//
// Формат битов: [ Y | X (log2X бит) ], где log2X - логарифм ширины карты.
// Такой формат совпадает с порядком тайлов в массиве карты.
type TileIndex uint32

// TileXY собирает индекс из координат для карты шириной 1<<log2X.
func TileXY(x, y uint32, log2X uint8) TileIndex {
	return TileIndex(y<<log2X | x&(1<<log2X-1))
}

// X возвращает горизонтальную координату.
func (t TileIndex) X(log2X uint8) uint32 {
	return uint32(t) & (1<<log2X - 1)
}

// Y возвращает вертикальную координату.
func (t TileIndex) Y(log2X uint8) uint32 {
	return uint32(t) >> log2X
}

func (t TileIndex) String() string {
	return fmt.Sprintf("tile(0x%x)", uint32(t))
}

// CallbackID - идентификатор локального обработчика завершения команды.
// 0 означает отсутствие обработчика.
type CallbackID uint8

const CallbackNone CallbackID = 0

// StringID - идентификатор строки с текстом ошибки для UI.
type StringID uint16
