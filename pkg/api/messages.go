package api

import "fmt"

// Ограничения на поля сообщений
const (
	MaxNameLen      = 32
	MaxRevisionLen  = 64
	MaxChatLen      = 512
	MaxRconLen      = 512
	MaxPasswordLen  = 128
	MaxErrorTextLen = 256
	MaxMapChunk     = 32 * 1024
	MaxCommandLen   = 2048
	MaxDesyncChunk  = 4096
	SaltLen         = 16
	DigestLen       = 32
)

// Message - типизированное содержимое пакета.
// encode/decode пишут и читают только тело, байт типа обрабатывает Encode/Decode.
type Message interface {
	Type() PacketType
	encode(w *Writer)
	decode(r *Reader)
}

// Encode собирает пакет: байт типа + тело.
func Encode(m Message) []byte {
	w := NewWriter(m.Type())
	m.encode(w)
	return w.Bytes()
}

// PeekType возвращает тип пакета без разбора тела.
func PeekType(packet []byte) (PacketType, error) {
	if len(packet) == 0 {
		return PacketInvalid, fmt.Errorf("%w: empty packet", ErrTruncated)
	}
	t := PacketType(packet[0])
	if !t.Valid() {
		return t, fmt.Errorf("%w: unknown packet type %d", ErrMalformed, packet[0])
	}
	return t, nil
}

// Decode разбирает пакет целиком. Лишние байты, обрезанное тело или
// неуспешная валидация - ошибка, частично разобранное сообщение не возвращается.
func Decode(packet []byte) (Message, error) {
	t, err := PeekType(packet)
	if err != nil {
		return nil, err
	}
	m := newMessage(t)
	if m == nil {
		return nil, fmt.Errorf("%w: no decoder for %s", ErrMalformed, t)
	}
	r := NewReader(packet[1:])
	m.decode(r)
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%s: %w", t, err)
	}
	if v, ok := m.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, t, err)
		}
	}
	return m, nil
}

func newMessage(t PacketType) Message {
	switch t {
	case PacketClientJoin:
		return &ClientJoin{}
	case PacketClientGameInfo:
		return &ClientGameInfo{}
	case PacketServerGameInfo:
		return &ServerGameInfo{}
	case PacketServerNeedPassword:
		return &ServerNeedPassword{}
	case PacketClientPassword:
		return &ClientPassword{}
	case PacketServerWelcome:
		return &ServerWelcome{}
	case PacketServerMapBegin:
		return &ServerMapBegin{}
	case PacketServerMapSize:
		return &ServerMapSize{}
	case PacketServerMapData:
		return &ServerMapData{}
	case PacketServerMapDone:
		return &ServerMapDone{}
	case PacketClientMapOK:
		return &ClientMapOK{}
	case PacketServerFrame:
		return &ServerFrame{}
	case PacketServerSync:
		return &ServerSync{}
	case PacketClientCommand:
		return &ClientCommand{}
	case PacketServerCommand:
		return &ServerCommand{}
	case PacketClientAck:
		return &ClientAck{}
	case PacketClientChat:
		return &ClientChat{}
	case PacketServerChat:
		return &ServerChat{}
	case PacketClientRcon:
		return &ClientRcon{}
	case PacketServerRcon:
		return &ServerRcon{}
	case PacketClientMove:
		return &ClientMove{}
	case PacketServerMove:
		return &ServerMove{}
	case PacketClientQuit:
		return &ClientQuit{}
	case PacketServerQuit:
		return &ServerQuit{}
	case PacketClientError:
		return &ClientError{}
	case PacketServerError:
		return &ServerError{}
	case PacketClientDesyncLog:
		return &ClientDesyncLog{}
	case PacketServerShutdown:
		return &ServerShutdown{}
	}
	return nil
}

// --- Вход в игру ---

// ClientJoin - первый пакет клиента.
type ClientJoin struct {
	Revision string
	Name     string
	Company  uint8
}

func (*ClientJoin) Type() PacketType { return PacketClientJoin }

func (m *ClientJoin) encode(w *Writer) {
	w.String(m.Revision)
	w.String(m.Name)
	w.Uint8(m.Company)
}

func (m *ClientJoin) decode(r *Reader) {
	m.Revision = r.String(MaxRevisionLen)
	m.Name = r.String(MaxNameLen)
	m.Company = r.Uint8()
}

// ClientGameInfo - запрос сведений об игре без входа.
type ClientGameInfo struct{}

func (*ClientGameInfo) Type() PacketType { return PacketClientGameInfo }
func (*ClientGameInfo) encode(*Writer)   {}
func (*ClientGameInfo) decode(*Reader)   {}

// ServerGameInfo - ответ на CLIENT_GAME_INFO.
type ServerGameInfo struct {
	Revision     string
	ServerName   string
	Clients      uint8
	MaxClients   uint8
	Frame        uint32
	NeedPassword bool
}

func (*ServerGameInfo) Type() PacketType { return PacketServerGameInfo }

func (m *ServerGameInfo) encode(w *Writer) {
	w.String(m.Revision)
	w.String(m.ServerName)
	w.Uint8(m.Clients)
	w.Uint8(m.MaxClients)
	w.Uint32(m.Frame)
	w.Bool(m.NeedPassword)
}

func (m *ServerGameInfo) decode(r *Reader) {
	m.Revision = r.String(MaxRevisionLen)
	m.ServerName = r.String(MaxNameLen)
	m.Clients = r.Uint8()
	m.MaxClients = r.Uint8()
	m.Frame = r.Uint32()
	m.NeedPassword = r.Bool()
}

// ServerNeedPassword - вызов: клиент должен ответить хешем соли и пароля.
type ServerNeedPassword struct {
	Salt []byte
}

func (*ServerNeedPassword) Type() PacketType   { return PacketServerNeedPassword }
func (m *ServerNeedPassword) encode(w *Writer) { w.Blob(m.Salt) }
func (m *ServerNeedPassword) decode(r *Reader) { m.Salt = r.Blob(SaltLen) }

// ClientPassword - ответ на вызов.
type ClientPassword struct {
	Digest []byte
}

func (*ClientPassword) Type() PacketType   { return PacketClientPassword }
func (m *ClientPassword) encode(w *Writer) { w.Blob(m.Digest) }
func (m *ClientPassword) decode(r *Reader) { m.Digest = r.Blob(DigestLen) }

// ServerWelcome сообщает клиенту его ID, seed сессии и интервал сверки
// контрольных сумм.
type ServerWelcome struct {
	ClientID     uint32
	Seed         uint64
	SyncInterval uint32 // Кадров между SERVER_SYNC
}

func (*ServerWelcome) Type() PacketType { return PacketServerWelcome }

func (m *ServerWelcome) encode(w *Writer) {
	w.Uint32(m.ClientID)
	w.Uint64(m.Seed)
	w.Uint32(m.SyncInterval)
}

func (m *ServerWelcome) decode(r *Reader) {
	m.ClientID = r.Uint32()
	m.Seed = r.Uint64()
	m.SyncInterval = r.Uint32()
}

// --- Передача состояния ---

type ServerMapBegin struct {
	Frame uint32
}

func (*ServerMapBegin) Type() PacketType   { return PacketServerMapBegin }
func (m *ServerMapBegin) encode(w *Writer) { w.Uint32(m.Frame) }
func (m *ServerMapBegin) decode(r *Reader) { m.Frame = r.Uint32() }

// ServerMapSize - размер сжатого снимка в байтах.
type ServerMapSize struct {
	Size uint32
}

func (*ServerMapSize) Type() PacketType   { return PacketServerMapSize }
func (m *ServerMapSize) encode(w *Writer) { w.Uint32(m.Size) }
func (m *ServerMapSize) decode(r *Reader) { m.Size = r.Uint32() }

type ServerMapData struct {
	Chunk []byte
}

func (*ServerMapData) Type() PacketType   { return PacketServerMapData }
func (m *ServerMapData) encode(w *Writer) { w.Blob(m.Chunk) }
func (m *ServerMapData) decode(r *Reader) { m.Chunk = r.Blob(MaxMapChunk) }

// ServerMapDone завершает передачу и несет хеш сжатого снимка.
type ServerMapDone struct {
	Digest []byte
}

func (*ServerMapDone) Type() PacketType   { return PacketServerMapDone }
func (m *ServerMapDone) encode(w *Writer) { w.Blob(m.Digest) }
func (m *ServerMapDone) decode(r *Reader) { m.Digest = r.Blob(DigestLen) }

type ClientMapOK struct{}

func (*ClientMapOK) Type() PacketType { return PacketClientMapOK }
func (*ClientMapOK) encode(*Writer)   {}
func (*ClientMapOK) decode(*Reader)   {}

// --- Lockstep ---

// ServerFrame разрешает клиенту симулировать до кадра Frame включительно.
type ServerFrame struct {
	Frame uint32
}

func (*ServerFrame) Type() PacketType   { return PacketServerFrame }
func (m *ServerFrame) encode(w *Writer) { w.Uint32(m.Frame) }
func (m *ServerFrame) decode(r *Reader) { m.Frame = r.Uint32() }

// ServerSync - контрольная сумма состояния сервера на кадре Frame.
type ServerSync struct {
	Frame    uint32
	Checksum uint32
	Seed     uint32
}

func (*ServerSync) Type() PacketType { return PacketServerSync }

func (m *ServerSync) encode(w *Writer) {
	w.Uint32(m.Frame)
	w.Uint32(m.Checksum)
	w.Uint32(m.Seed)
}

func (m *ServerSync) decode(r *Reader) {
	m.Frame = r.Uint32()
	m.Checksum = r.Uint32()
	m.Seed = r.Uint32()
}

// ClientCommand несет сериализованную команду (формат internal/domain).
type ClientCommand struct {
	Command []byte
}

func (*ClientCommand) Type() PacketType   { return PacketClientCommand }
func (m *ClientCommand) encode(w *Writer) { w.Blob(m.Command) }
func (m *ClientCommand) decode(r *Reader) { m.Command = r.Blob(MaxCommandLen) }

// ServerCommand - команда, назначенная на кадр Frame. Origin - ID инициатора.
type ServerCommand struct {
	Frame   uint32
	Origin  uint32
	Command []byte
}

func (*ServerCommand) Type() PacketType { return PacketServerCommand }

func (m *ServerCommand) encode(w *Writer) {
	w.Uint32(m.Frame)
	w.Uint32(m.Origin)
	w.Blob(m.Command)
}

func (m *ServerCommand) decode(r *Reader) {
	m.Frame = r.Uint32()
	m.Origin = r.Uint32()
	m.Command = r.Blob(MaxCommandLen)
}

// ClientAck - последний кадр, который клиент исполнил.
type ClientAck struct {
	Frame uint32
}

func (*ClientAck) Type() PacketType   { return PacketClientAck }
func (m *ClientAck) encode(w *Writer) { w.Uint32(m.Frame) }
func (m *ClientAck) decode(r *Reader) { m.Frame = r.Uint32() }

// --- Прочее ---

type ClientChat struct {
	Text string
}

func (*ClientChat) Type() PacketType   { return PacketClientChat }
func (m *ClientChat) encode(w *Writer) { w.String(m.Text) }
func (m *ClientChat) decode(r *Reader) { m.Text = r.String(MaxChatLen) }

type ServerChat struct {
	From uint32
	Text string
}

func (*ServerChat) Type() PacketType { return PacketServerChat }

func (m *ServerChat) encode(w *Writer) {
	w.Uint32(m.From)
	w.String(m.Text)
}

func (m *ServerChat) decode(r *Reader) {
	m.From = r.Uint32()
	m.Text = r.String(MaxChatLen)
}

// ClientRcon - удаленная консоль: пароль и строка команды.
type ClientRcon struct {
	Password string
	Command  string
}

func (*ClientRcon) Type() PacketType { return PacketClientRcon }

func (m *ClientRcon) encode(w *Writer) {
	w.String(m.Password)
	w.String(m.Command)
}

func (m *ClientRcon) decode(r *Reader) {
	m.Password = r.String(MaxPasswordLen)
	m.Command = r.String(MaxRconLen)
}

// ServerRcon - одна строка вывода консоли.
type ServerRcon struct {
	Line string
}

func (*ServerRcon) Type() PacketType   { return PacketServerRcon }
func (m *ServerRcon) encode(w *Writer) { w.String(m.Line) }
func (m *ServerRcon) decode(r *Reader) { m.Line = r.String(MaxRconLen) }

type ClientMove struct {
	Company uint8
}

func (*ClientMove) Type() PacketType   { return PacketClientMove }
func (m *ClientMove) encode(w *Writer) { w.Uint8(m.Company) }
func (m *ClientMove) decode(r *Reader) { m.Company = r.Uint8() }

type ServerMove struct {
	ClientID uint32
	Company  uint8
}

func (*ServerMove) Type() PacketType { return PacketServerMove }

func (m *ServerMove) encode(w *Writer) {
	w.Uint32(m.ClientID)
	w.Uint8(m.Company)
}

func (m *ServerMove) decode(r *Reader) {
	m.ClientID = r.Uint32()
	m.Company = r.Uint8()
}

type ClientQuit struct{}

func (*ClientQuit) Type() PacketType { return PacketClientQuit }
func (*ClientQuit) encode(*Writer)   {}
func (*ClientQuit) decode(*Reader)   {}

type ServerQuit struct {
	ClientID uint32
}

func (*ServerQuit) Type() PacketType   { return PacketServerQuit }
func (m *ServerQuit) encode(w *Writer) { w.Uint32(m.ClientID) }
func (m *ServerQuit) decode(r *Reader) { m.ClientID = r.Uint32() }

type ClientError struct {
	Code ErrorCode
}

func (*ClientError) Type() PacketType   { return PacketClientError }
func (m *ClientError) encode(w *Writer) { w.Uint8(uint8(m.Code)) }
func (m *ClientError) decode(r *Reader) { m.Code = ErrorCode(r.Uint8()) }

type ServerError struct {
	Code ErrorCode
	Text string
}

func (*ServerError) Type() PacketType { return PacketServerError }

func (m *ServerError) encode(w *Writer) {
	w.Uint8(uint8(m.Code))
	w.String(m.Text)
}

func (m *ServerError) decode(r *Reader) {
	m.Code = ErrorCode(r.Uint8())
	m.Text = r.String(MaxErrorTextLen)
}

// ClientDesyncLog - фрагмент диагностики рассинхронизации.
type ClientDesyncLog struct {
	Text string
}

func (*ClientDesyncLog) Type() PacketType   { return PacketClientDesyncLog }
func (m *ClientDesyncLog) encode(w *Writer) { w.String(m.Text) }
func (m *ClientDesyncLog) decode(r *Reader) { m.Text = r.String(MaxDesyncChunk) }

type ServerShutdown struct{}

func (*ServerShutdown) Type() PacketType { return PacketServerShutdown }
func (*ServerShutdown) encode(*Writer)   {}
func (*ServerShutdown) decode(*Reader)   {}
