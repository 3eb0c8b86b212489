package api

// PacketTypeVersion меняется при любом изменении списка или формата пакетов.
// Входит в сетевую ревизию, которую клиент присылает в CLIENT_JOIN.
const PacketTypeVersion = 5

// PacketType - первый байт каждого пакета.
type PacketType uint8

const (
	PacketInvalid PacketType = iota

	// --- Вход в игру ---
	PacketClientJoin         // Клиент -> Сервер: ревизия, имя, компания
	PacketClientGameInfo     // Клиент -> Сервер: запрос сведений об игре
	PacketServerGameInfo     // Сервер -> Клиент: сведения об игре
	PacketServerNeedPassword // Сервер -> Клиент: требуется пароль, соль
	PacketClientPassword     // Клиент -> Сервер: хеш пароля
	PacketServerWelcome      // Сервер -> Клиент: присвоенный ID

	// --- Передача состояния ---
	PacketServerMapBegin
	PacketServerMapSize
	PacketServerMapData
	PacketServerMapDone
	PacketClientMapOK

	// --- Lockstep ---
	PacketServerFrame   // Сервер -> Клиент: до какого кадра можно симулировать
	PacketServerSync    // Сервер -> Клиент: контрольная сумма кадра
	PacketClientCommand // Клиент -> Сервер: новая команда
	PacketServerCommand // Сервер -> Клиент: команда с кадром исполнения
	PacketClientAck     // Клиент -> Сервер: последний исполненный кадр

	// --- Прочее ---
	PacketClientChat
	PacketServerChat
	PacketClientRcon
	PacketServerRcon
	PacketClientMove
	PacketServerMove
	PacketClientQuit
	PacketServerQuit
	PacketClientError
	PacketServerError
	PacketClientDesyncLog
	PacketServerShutdown

	packetTypeEnd
)

var packetNames = [...]string{
	PacketInvalid:            "INVALID",
	PacketClientJoin:         "CLIENT_JOIN",
	PacketClientGameInfo:     "CLIENT_GAME_INFO",
	PacketServerGameInfo:     "SERVER_GAME_INFO",
	PacketServerNeedPassword: "SERVER_NEED_PASSWORD",
	PacketClientPassword:     "CLIENT_PASSWORD",
	PacketServerWelcome:      "SERVER_WELCOME",
	PacketServerMapBegin:     "SERVER_MAP_BEGIN",
	PacketServerMapSize:      "SERVER_MAP_SIZE",
	PacketServerMapData:      "SERVER_MAP_DATA",
	PacketServerMapDone:      "SERVER_MAP_DONE",
	PacketClientMapOK:        "CLIENT_MAP_OK",
	PacketServerFrame:        "SERVER_FRAME",
	PacketServerSync:         "SERVER_SYNC",
	PacketClientCommand:      "CLIENT_COMMAND",
	PacketServerCommand:      "SERVER_COMMAND",
	PacketClientAck:          "CLIENT_ACK",
	PacketClientChat:         "CLIENT_CHAT",
	PacketServerChat:         "SERVER_CHAT",
	PacketClientRcon:         "CLIENT_RCON",
	PacketServerRcon:         "SERVER_RCON",
	PacketClientMove:         "CLIENT_MOVE",
	PacketServerMove:         "SERVER_MOVE",
	PacketClientQuit:         "CLIENT_QUIT",
	PacketServerQuit:         "SERVER_QUIT",
	PacketClientError:        "CLIENT_ERROR",
	PacketServerError:        "SERVER_ERROR",
	PacketClientDesyncLog:    "CLIENT_DESYNC_LOG",
	PacketServerShutdown:     "SERVER_SHUTDOWN",
}

// Valid сообщает, входит ли значение в перечисление.
func (t PacketType) Valid() bool {
	return t > PacketInvalid && t < packetTypeEnd
}

func (t PacketType) String() string {
	if int(t) < len(packetNames) {
		return packetNames[t]
	}
	return "UNKNOWN"
}

// ErrorCode передается в CLIENT_ERROR / SERVER_ERROR.
type ErrorCode uint8

const (
	ErrorGeneral ErrorCode = iota
	ErrorDesync
	ErrorSavegameFailed
	ErrorConnectionLost
	ErrorIllegalPacket
	ErrorNotAuthorized
	ErrorNotExpected
	ErrorWrongRevision
	ErrorNameInUse
	ErrorWrongPassword
	ErrorCompanyMismatch
	ErrorKicked
	ErrorCheater
	ErrorFull
	ErrorTooManyCommands
	ErrorTimeoutPassword
	ErrorTimeoutComputer
	ErrorTimeoutMap
	ErrorTimeoutJoin
	ErrorBanned

	errorCodeEnd
)

var errorNames = [...]string{
	ErrorGeneral:         "GENERAL",
	ErrorDesync:          "DESYNC",
	ErrorSavegameFailed:  "SAVEGAME_FAILED",
	ErrorConnectionLost:  "CONNECTION_LOST",
	ErrorIllegalPacket:   "ILLEGAL_PACKET",
	ErrorNotAuthorized:   "NOT_AUTHORIZED",
	ErrorNotExpected:     "NOT_EXPECTED",
	ErrorWrongRevision:   "WRONG_REVISION",
	ErrorNameInUse:       "NAME_IN_USE",
	ErrorWrongPassword:   "WRONG_PASSWORD",
	ErrorCompanyMismatch: "COMPANY_MISMATCH",
	ErrorKicked:          "KICKED",
	ErrorCheater:         "CHEATER",
	ErrorFull:            "FULL",
	ErrorTooManyCommands: "TOO_MANY_COMMANDS",
	ErrorTimeoutPassword: "TIMEOUT_PASSWORD",
	ErrorTimeoutComputer: "TIMEOUT_COMPUTER",
	ErrorTimeoutMap:      "TIMEOUT_MAP",
	ErrorTimeoutJoin:     "TIMEOUT_JOIN",
	ErrorBanned:          "BANNED",
}

func (c ErrorCode) Valid() bool { return c < errorCodeEnd }

func (c ErrorCode) String() string {
	if c.Valid() {
		return errorNames[c]
	}
	return "UNKNOWN"
}
