package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/infrastructure/banlist"
	"lockstep-server/internal/network"
	"lockstep-server/pkg/api"
)

// rawJoin входит на сервер через сырой сокет и возвращает его после загрузки карты.
func rawJoin(t *testing.T, h *harness, name string, company uint8) *network.PipeSocket {
	t.Helper()
	_, sock := h.pipe()
	send(t, sock, &api.ClientJoin{Revision: h.server.revision, Name: name, Company: company})
	h.stepServer(1)
	msgs := drain(t, sock)
	if len(msgs) == 0 {
		t.Fatal("no answer to CLIENT_JOIN")
	}
	if _, ok := msgs[0].(*api.ServerWelcome); !ok {
		t.Fatalf("first answer is %s, want SERVER_WELCOME", msgs[0].Type())
	}
	send(t, sock, &api.ClientMapOK{})
	return sock
}

func TestServer_UnknownPacketClosesConnection(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
	}{
		{"unknown discriminant", []byte{0xEE, 1, 2, 3}},
		{"zero discriminant", []byte{0}},
		{"empty packet", []byte{}},
		{"server packet from client", api.Encode(&api.ServerFrame{Frame: 1})},
		{"truncated join", api.Encode(&api.ClientJoin{Revision: "r", Name: "n"})[:3]},
		{"command before join", api.Encode(&api.ClientCommand{Command: []byte{1}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			_, sock := h.pipe()
			if !sock.Send(tt.packet) {
				t.Fatal("pipe refused packet")
			}
			// Хороший пакет после плохого уже не обрабатывается
			send(t, sock, &api.ClientJoin{Revision: h.server.revision, Name: "x"})
			h.stepServer(1)

			e, ok := findError(drain(t, sock))
			if !ok || e.Code != api.ErrorIllegalPacket {
				t.Fatalf("got %+v, want ILLEGAL_PACKET", e)
			}
			if n := len(h.server.Clients()); n != 0 {
				t.Errorf("%d connections left in table", n)
			}
			if sock.Err() == nil {
				t.Error("socket not closed")
			}
		})
	}
}

func TestServer_JoinRefusals(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		join  api.ClientJoin
		want  api.ErrorCode
	}{
		{
			name: "wrong revision",
			join: api.ClientJoin{Revision: "other", Name: "alice"},
			want: api.ErrorWrongRevision,
		},
		{
			name:  "name in use",
			setup: func(h *harness) { h.join("alice", 1) },
			join:  api.ClientJoin{Name: "alice", Company: 2},
			want:  api.ErrorNameInUse,
		},
		{
			name: "server full",
			setup: func(h *harness) {
				h.server.cfg.MaxClients = 1
				h.join("bob", 1)
			},
			join: api.ClientJoin{Name: "alice"},
			want: api.ErrorFull,
		},
		{
			name: "bad company",
			join: api.ClientJoin{Name: "alice", Company: 100},
			want: api.ErrorCompanyMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			if tt.setup != nil {
				tt.setup(h)
			}
			_, sock := h.pipe()
			join := tt.join
			if join.Revision == "" {
				join.Revision = h.server.revision
			}
			send(t, sock, &join)
			h.stepServer(1)

			e, ok := findError(drain(t, sock))
			if !ok || e.Code != tt.want {
				t.Fatalf("got %+v, want %s", e, tt.want)
			}
		})
	}
}

func TestServer_BannedAddressRefused(t *testing.T) {
	bans := banlist.NewMemory()
	h := newHarness(t, testConfig())
	h.server.bans = bans

	h.join("alice", 1)
	id := h.clients[0].ID()
	if err := h.server.Ban(id, "griefing"); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	h.step(1)
	if h.clients[0].Active() {
		t.Fatal("banned client still active")
	}
	if got := h.clients[0].CloseReason(); got != api.ErrorBanned {
		t.Errorf("close reason = %s", got)
	}

	// Тот же адрес с новым соединением
	if ok, _ := bans.Contains("10.0.0.2"); !ok {
		t.Fatal("address not in ban list")
	}
	srvSide, sock := network.NewPipe("10.0.0.1:8080", "10.0.0.2:6000")
	if _, err := h.server.Accept(srvSide); err != nil {
		t.Fatal(err)
	}
	send(t, sock, &api.ClientJoin{Revision: h.server.revision, Name: "alice2"})
	h.stepServer(1)
	if e, ok := findError(drain(t, sock)); !ok || e.Code != api.ErrorBanned {
		t.Fatalf("got %+v, want BANNED", e)
	}

	if err := h.server.Unban("10.0.0.2"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := bans.Contains("10.0.0.2"); ok {
		t.Error("address still banned after Unban")
	}
}

func TestServer_PasswordThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.ServerPassword = "secret"
	cfg.MaxAuthAttempts = 3

	t.Run("correct password", func(t *testing.T) {
		h := newHarness(t, cfg)
		cl, _ := h.connect(ClientOptions{Name: "alice", Company: 1, Password: "secret"})
		h.step(4)
		if !cl.Active() {
			t.Fatal("client with correct password did not join")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		h := newHarness(t, cfg)
		cl, _ := h.connect(ClientOptions{Name: "alice", Company: 1, Password: "guess"})
		h.step(2 * cfg.MaxAuthAttempts)
		if cl.Active() {
			t.Fatal("client with wrong password joined")
		}
		if got := cl.CloseReason(); got != api.ErrorWrongPassword {
			t.Errorf("close reason = %s, want WRONG_PASSWORD", got)
		}
		if n := len(h.server.Clients()); n != 0 {
			t.Errorf("%d connections left", n)
		}
	})

	t.Run("retry below threshold", func(t *testing.T) {
		h := newHarness(t, cfg)
		_, sock := h.pipe()
		send(t, sock, &api.ClientJoin{Revision: h.server.revision, Name: "alice"})
		h.stepServer(1)

		for attempt := 1; attempt < cfg.MaxAuthAttempts; attempt++ {
			msgs := drain(t, sock)
			challenge, ok := msgs[len(msgs)-1].(*api.ServerNeedPassword)
			if !ok {
				t.Fatalf("attempt %d: got %s, want SERVER_NEED_PASSWORD", attempt, msgs[len(msgs)-1].Type())
			}
			send(t, sock, &api.ClientPassword{Digest: PasswordDigest(challenge.Salt, "wrong")})
			h.stepServer(1)
		}

		msgs := drain(t, sock)
		challenge := msgs[len(msgs)-1].(*api.ServerNeedPassword)
		send(t, sock, &api.ClientPassword{Digest: PasswordDigest(challenge.Salt, "secret")})
		h.stepServer(1)
		msgs = drain(t, sock)
		if _, ok := msgs[0].(*api.ServerWelcome); !ok {
			t.Fatalf("got %s after correct password, want SERVER_WELCOME", msgs[0].Type())
		}
	})
}

func TestServer_CommandValidation(t *testing.T) {
	t.Run("foreign company", func(t *testing.T) {
		h := newHarness(t, testConfig())
		sock := rawJoin(t, h, "alice", 1)
		cmd := mustCommand(t, domain.OpClearTile, 1, domain.ClearTilePayload{}, 5)
		data, _ := domain.Serialize(cmd)
		send(t, sock, &api.ClientCommand{Command: data})
		h.stepServer(1)
		if e, ok := findError(drain(t, sock)); !ok || e.Code != api.ErrorCompanyMismatch {
			t.Fatalf("got %+v, want COMPANY_MISMATCH", e)
		}
	})

	t.Run("malformed command", func(t *testing.T) {
		h := newHarness(t, testConfig())
		sock := rawJoin(t, h, "alice", 1)
		send(t, sock, &api.ClientCommand{Command: []byte{byte(domain.OpBuildTile), 1}})
		h.stepServer(1)
		if e, ok := findError(drain(t, sock)); !ok || e.Code != api.ErrorIllegalPacket {
			t.Fatalf("got %+v, want ILLEGAL_PACKET", e)
		}
	})

	t.Run("flood", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxInboundCommands = 2
		h := newHarness(t, cfg)
		sock := rawJoin(t, h, "alice", 1)
		cmd := mustCommand(t, domain.OpClearTile, 1, domain.ClearTilePayload{}, 1)
		data, _ := domain.Serialize(cmd)
		for i := 0; i < 5; i++ {
			send(t, sock, &api.ClientCommand{Command: data})
		}
		h.stepServer(1)
		if e, ok := findError(drain(t, sock)); !ok || e.Code != api.ErrorTooManyCommands {
			t.Fatalf("got %+v, want TOO_MANY_COMMANDS", e)
		}
		// Очереди закрытого соединения отбрасываются
		if len(h.ssim.executed) != 0 {
			t.Errorf("%d commands of dropped client executed", len(h.ssim.executed))
		}
	})

	t.Run("ack from the future", func(t *testing.T) {
		h := newHarness(t, testConfig())
		sock := rawJoin(t, h, "alice", 1)
		send(t, sock, &api.ClientAck{Frame: 1000})
		h.stepServer(1)
		if e, ok := findError(drain(t, sock)); !ok || e.Code != api.ErrorIllegalPacket {
			t.Fatalf("got %+v, want ILLEGAL_PACKET", e)
		}
	})
}

func TestServer_Timeouts(t *testing.T) {
	t.Run("join", func(t *testing.T) {
		cfg := testConfig()
		cfg.JoinTimeoutFrames = 5
		h := newHarness(t, cfg)
		_, sock := h.pipe()
		h.stepServer(7)
		if e, ok := findError(drain(t, sock)); !ok || e.Code != api.ErrorTimeoutJoin {
			t.Fatalf("got %+v, want TIMEOUT_JOIN", e)
		}
	})

	t.Run("lag", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxLagFrames = 10
		h := newHarness(t, cfg)
		cl, _ := h.join("alice", 1)
		h.stepServer(12)
		cl.Tick(h.now)
		if cl.Active() {
			t.Fatal("lagging client not dropped")
		}
		if got := cl.CloseReason(); got != api.ErrorTimeoutComputer {
			t.Errorf("close reason = %s", got)
		}
	})

	t.Run("map", func(t *testing.T) {
		cfg := testConfig()
		cfg.MapTimeoutFrames = 5
		h := newHarness(t, cfg)
		_, sock := h.pipe()
		send(t, sock, &api.ClientJoin{Revision: h.server.revision, Name: "slow"})
		h.stepServer(8)
		if e, ok := findError(drain(t, sock)); !ok || e.Code != api.ErrorTimeoutMap {
			t.Fatalf("got %+v, want TIMEOUT_MAP", e)
		}
	})
}

func TestServer_QuitIsBroadcast(t *testing.T) {
	h := newHarness(t, testConfig())
	sock := rawJoin(t, h, "watcher", 1)
	cl, _ := h.join("alice", 2)
	id := cl.ID()
	drain(t, sock)

	cl.Quit()
	h.stepServer(1)

	var quit *api.ServerQuit
	for _, m := range drain(t, sock) {
		if q, ok := m.(*api.ServerQuit); ok {
			quit = q
		}
	}
	if quit == nil || domain.ClientID(quit.ClientID) != id {
		t.Fatalf("SERVER_QUIT for %s not broadcast: %+v", id, quit)
	}
}

func TestServer_ChatAndRcon(t *testing.T) {
	cfg := testConfig()
	hash, err := HashPassword("adm")
	if err != nil {
		t.Fatal(err)
	}
	cfg.RconPasswordHash = hash
	h := newHarness(t, cfg)

	var chat []string
	var rcon []string
	cl, _ := h.connect(ClientOptions{
		Name:    "alice",
		Company: 1,
		OnChat:  func(_ domain.ClientID, text string) { chat = append(chat, text) },
		OnRcon:  func(line string) { rcon = append(rcon, line) },
	})
	h.step(2)

	if err := cl.Chat("hello"); err != nil {
		t.Fatal(err)
	}
	if err := cl.Rcon("nope", "status"); err != nil {
		t.Fatal(err)
	}
	if err := cl.Rcon("adm", "status"); err != nil {
		t.Fatal(err)
	}
	h.step(3)

	if len(chat) != 1 || chat[0] != "hello" {
		t.Errorf("chat = %v", chat)
	}
	if len(rcon) != 2 || rcon[0] != "access denied" || !strings.HasPrefix(rcon[1], "frame=") {
		t.Errorf("rcon output = %v", rcon)
	}
}

func TestServer_RconCommands(t *testing.T) {
	h := newHarness(t, testConfig())
	cl, _ := h.join("alice", 1)
	h.server.console = consoleFunc(func(line string) []string { return []string{"console: " + line} })

	tests := []struct {
		line string
		want string
	}{
		{"status", "frame="},
		{"clients", cl.ID().String()},
		{"kick", "usage:"},
		{"kick abc", "bad client id"},
		{"kick #99", "unknown client"},
		{"ban " + cl.ID().String(), "ban list is not configured"},
		{"password hunter2", "password set"},
		{"password", "password removed"},
		{"give_money 5", "console: give_money 5"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			out := h.server.Rcon(tt.line)
			if len(out) == 0 || !strings.Contains(strings.Join(out, "\n"), tt.want) {
				t.Errorf("Rcon(%q) = %v, want %q", tt.line, out, tt.want)
			}
		})
	}

	if out := h.server.Rcon("kick " + cl.ID().String() + " bye"); len(out) != 1 || !strings.HasPrefix(out[0], "kicked") {
		t.Fatalf("kick output = %v", out)
	}
	h.step(1)
	if got := cl.CloseReason(); got != api.ErrorKicked {
		t.Errorf("close reason = %s, want KICKED", got)
	}
}

type consoleFunc func(line string) []string

func (f consoleFunc) ExecuteConsole(line string) []string { return f(line) }

func TestServer_GameInfoQuery(t *testing.T) {
	cfg := testConfig()
	cfg.ServerName = "test server"
	cfg.ServerPassword = "x"
	h := newHarness(t, cfg)
	h.stepServer(3)

	_, sock := h.pipe()
	done := make(chan *api.ServerGameInfo, 1)
	errs := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		info, err := QueryGameInfo(ctx, sock)
		if err != nil {
			errs <- err
			return
		}
		done <- info
	}()

	for {
		select {
		case info := <-done:
			if info.ServerName != "test server" || !info.NeedPassword || info.Frame < 3 {
				t.Errorf("info = %+v", info)
			}
			if info.Revision != h.server.revision {
				t.Errorf("revision = %q", info.Revision)
			}
			return
		case err := <-errs:
			t.Fatalf("QueryGameInfo: %v", err)
		case <-ctx.Done():
			t.Fatal("query timed out")
		case <-time.After(5 * time.Millisecond):
			h.stepServer(1)
		}
	}
}

func TestServer_ShutdownNotifiesClients(t *testing.T) {
	h := newHarness(t, testConfig())
	cl, _ := h.join("alice", 1)

	h.server.Shutdown()
	if err := cl.Tick(h.now); err != nil {
		t.Fatal(err)
	}
	if cl.Active() {
		t.Fatal("client still active after shutdown")
	}
	if got := cl.CloseReason(); got != api.ErrorConnectionLost {
		t.Errorf("close reason = %s", got)
	}
	if _, err := h.server.Accept(nil); err != ErrServerShutdown {
		t.Errorf("Accept after shutdown: %v", err)
	}
}
