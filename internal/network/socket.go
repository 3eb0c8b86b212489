package network

import "errors"

// ErrSocketClosed - сокет закрыт локально или удаленной стороной.
var ErrSocketClosed = errors.New("socket closed")

// Socket - неблокирующий транспорт пакетов. Все методы возвращаются сразу:
// цикл сессии опрашивает сокет один раз за итерацию.
type Socket interface {
	// Recv возвращает следующий пакет, если он уже пришел.
	Recv() ([]byte, bool)
	// Send ставит пакет в очередь отправки. false - очередь полна, повторить позже.
	Send(packet []byte) bool
	// Err возвращает ошибку транспорта, если она была. Пакеты, пришедшие до
	// ошибки, все еще можно прочитать через Recv.
	Err() error
	Close() error
	RemoteAddr() string
}
