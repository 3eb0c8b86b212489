package network

// Status - состояние соединения. Меняется только при получении определенных
// пакетов или по явному локальному вызову.
type Status uint8

const (
	StatusInactive Status = iota
	StatusConnecting
	StatusAuthenticating
	StatusDownloadingState
	StatusActive
	StatusClosing
	StatusClosed
	StatusError
)

var statusNames = [...]string{
	StatusInactive:         "INACTIVE",
	StatusConnecting:       "CONNECTING",
	StatusAuthenticating:   "AUTHENTICATING",
	StatusDownloadingState: "DOWNLOADING_STATE",
	StatusActive:           "ACTIVE",
	StatusClosing:          "CLOSING",
	StatusClosed:           "CLOSED",
	StatusError:            "ERROR",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "UNKNOWN"
}

// transitions - разрешенные переходы. StatusError достижим из любого
// нетерминального состояния и проверяется отдельно.
var transitions = map[Status][]Status{
	StatusInactive:         {StatusConnecting, StatusClosing},
	StatusConnecting:       {StatusAuthenticating, StatusDownloadingState, StatusClosing},
	StatusAuthenticating:   {StatusDownloadingState, StatusClosing},
	StatusDownloadingState: {StatusActive, StatusClosing},
	StatusActive:           {StatusClosing},
	StatusClosing:          {StatusClosed},
	StatusError:            {StatusClosed},
}

// CanTransition сообщает, допустим ли переход from -> to.
func CanTransition(from, to Status) bool {
	if from == StatusClosed {
		return false
	}
	if to == StatusError {
		return from != StatusError
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal - соединение закрыто или в ошибке.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusError
}

// Joined - соединение прошло вход и получает команды.
func (s Status) Joined() bool {
	return s == StatusActive
}
