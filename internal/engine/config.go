package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"lockstep-server/internal/domain"
	"lockstep-server/pkg/api"
)

// Config хранит параметры сетевой сессии. Читается из JSON-файла, затем
// переопределяется переменными окружения и флагами (см. cmd/server).
type Config struct {
	// Seed - мастер-зерно симуляции. Передается клиентам в SERVER_WELCOME.
	Seed       uint64 `json:"seed" jsonschema:"description=Master seed of the simulation"`
	ServerName string `json:"server_name,omitempty"`
	Port       int    `json:"port" jsonschema:"minimum=1,maximum=65535"`

	// --- Цикл ---
	FrameRate       int `json:"frame_rate" jsonschema:"minimum=1,description=Simulation frames per second"`
	CatchupMaxTicks int `json:"catchup_max_ticks" jsonschema:"minimum=1"`

	// --- Распределение ---
	CommandsPerFrame       int      `json:"commands_per_frame" jsonschema:"minimum=1,description=Per-client commands distributed per frame"`
	CommandsPerFrameServer int      `json:"commands_per_frame_server" jsonschema:"minimum=1"`
	MaxInboundCommands     int      `json:"max_inbound_commands" jsonschema:"minimum=1"`
	AllowedWhilePaused     []string `json:"allowed_while_paused" jsonschema:"description=Op-codes distributed while the game is paused"`

	// --- Синхронизация ---
	SyncInterval     uint32 `json:"sync_interval" jsonschema:"minimum=1"`
	SyncHistory      int    `json:"sync_history" jsonschema:"minimum=1"`
	FrameAckInterval uint32 `json:"frame_ack_interval" jsonschema:"minimum=1"`
	AutoRejoin       bool   `json:"auto_rejoin"`

	// --- Таймауты, в кадрах ---
	MaxLagFrames      uint32 `json:"max_lag_frames"`
	JoinTimeoutFrames uint32 `json:"join_timeout_frames"`
	AuthTimeoutFrames uint32 `json:"auth_timeout_frames"`
	MapTimeoutFrames  uint32 `json:"map_timeout_frames"`
	IdleTimeoutFrames uint32 `json:"idle_timeout_frames"`

	// --- Доступ ---
	MaxClients        int    `json:"max_clients" jsonschema:"minimum=1,maximum=250"`
	MaxAuthAttempts   int    `json:"max_auth_attempts" jsonschema:"minimum=1"`
	ServerPassword    string `json:"server_password,omitempty"`
	RconPasswordHash  string `json:"rcon_password_hash,omitempty" jsonschema:"description=bcrypt hash; empty disables rcon"`
	AdminPasswordHash string `json:"admin_password_hash,omitempty" jsonschema:"description=bcrypt hash; empty disables the HTTP admin API"`
	AdminTokenTTL     int    `json:"admin_token_ttl_seconds"`

	// --- Транспорт ---
	PacketsPerSecond float64 `json:"packets_per_second" jsonschema:"description=Inbound packet rate per connection; 0 disables limiting"`
	PacketBurst      int     `json:"packet_burst"`
	MapChunkSize     int     `json:"map_chunk_size" jsonschema:"minimum=256,maximum=32768"`

	// --- Хранилище ---
	CommandLogPath string `json:"command_log_path,omitempty"`
	CommandLogSize int    `json:"command_log_size"`
	DiagnosticsDir string `json:"diagnostics_dir,omitempty"`
	BanDBPath      string `json:"ban_db_path,omitempty"`
}

// NewConfig создает конфиг по умолчанию (случайный сид)
func NewConfig() Config {
	return Config{
		Seed:       uint64(time.Now().UnixNano()),
		ServerName: "lockstep-server",
		Port:       8080,

		FrameRate:       30,
		CatchupMaxTicks: 4,

		CommandsPerFrame:       2,
		CommandsPerFrameServer: 16,
		MaxInboundCommands:     256,
		AllowedWhilePaused:     []string{"PAUSE", "CHANGE_SETTING"},

		SyncInterval:     10,
		SyncHistory:      32,
		FrameAckInterval: 10,

		MaxLagFrames:      300,
		JoinTimeoutFrames: 300,
		AuthTimeoutFrames: 600,
		MapTimeoutFrames:  900,
		IdleTimeoutFrames: 600,

		MaxClients:      16,
		MaxAuthAttempts: 3,
		AdminTokenTTL:   3600,

		PacketsPerSecond: 200,
		PacketBurst:      400,
		MapChunkSize:     16 * 1024,

		CommandLogSize: 256,
		DiagnosticsDir: "diagnostics",
	}
}

// LoadConfigFile читает JSON поверх значений по умолчанию.
// Поля, которых нет в файле, сохраняют значения NewConfig.
func LoadConfigFile(path string) (Config, error) {
	cfg := NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv переопределяет поля из переменных окружения LOCKSTEP_*.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv("LOCKSTEP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOCKSTEP_PORT: %w", err)
		}
		c.Port = port
	}
	if v, ok := os.LookupEnv("LOCKSTEP_SERVER_PASSWORD"); ok {
		c.ServerPassword = v
	}
	if v, ok := os.LookupEnv("LOCKSTEP_RCON_PASSWORD_HASH"); ok {
		c.RconPasswordHash = v
	}
	if v, ok := os.LookupEnv("LOCKSTEP_ADMIN_PASSWORD_HASH"); ok {
		c.AdminPasswordHash = v
	}
	return nil
}

// Validate проверяет диапазоны. Нулевые лимиты сделали бы сессию неработоспособной.
func (c Config) Validate() error {
	var errs []error
	if c.FrameRate <= 0 {
		errs = append(errs, errors.New("frame_rate must be positive"))
	}
	if c.CommandsPerFrame <= 0 || c.CommandsPerFrameServer <= 0 {
		errs = append(errs, errors.New("commands_per_frame caps must be positive"))
	}
	if c.MaxInboundCommands <= 0 {
		errs = append(errs, errors.New("max_inbound_commands must be positive"))
	}
	if c.SyncInterval == 0 || c.SyncHistory <= 0 {
		errs = append(errs, errors.New("sync_interval and sync_history must be positive"))
	}
	if c.FrameAckInterval == 0 {
		errs = append(errs, errors.New("frame_ack_interval must be positive"))
	}
	if c.MaxClients <= 0 || c.MaxClients > 250 {
		errs = append(errs, fmt.Errorf("max_clients %d out of range", c.MaxClients))
	}
	if c.MaxAuthAttempts <= 0 {
		errs = append(errs, errors.New("max_auth_attempts must be positive"))
	}
	if c.MapChunkSize < 256 || c.MapChunkSize > api.MaxMapChunk {
		errs = append(errs, fmt.Errorf("map_chunk_size must be within [256, %d]", api.MaxMapChunk))
	}
	if _, unknown := domain.NewOpCodeSet(c.AllowedWhilePaused); len(unknown) > 0 {
		errs = append(errs, fmt.Errorf("allowed_while_paused: unknown op-codes %v", unknown))
	}
	return errors.Join(errs...)
}

// PausedAllowList - разобранный AllowedWhilePaused.
func (c Config) PausedAllowList() domain.OpCodeSet {
	set, _ := domain.NewOpCodeSet(c.AllowedWhilePaused)
	return set
}

// TickInterval - длительность одного кадра.
func (c Config) TickInterval() time.Duration {
	if c.FrameRate <= 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(c.FrameRate)
}
