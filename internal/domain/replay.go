package domain

// CommandLogEntry - запись журнала распределения: кто, что и на какой кадр.
// По журналу восстанавливают ход партии после рассинхронизации.
type CommandLogEntry struct {
	Frame   uint32
	Origin  ClientID
	Command Command
}

// CommandLogSession - журнал одной сессии.
type CommandLogSession struct {
	Seed      uint64
	Timestamp int64 // Unix seconds, начало записи
	Entries   []CommandLogEntry
}
