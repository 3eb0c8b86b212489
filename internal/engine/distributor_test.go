package engine

import (
	"testing"

	"lockstep-server/internal/domain"
	"lockstep-server/internal/network"
	"lockstep-server/internal/queue"
)

func activeConn(t *testing.T, id domain.ClientID, company domain.CompanyID) *network.Connection {
	t.Helper()
	sock, _ := network.NewPipe("server", "client")
	c := network.NewConnection(id, sock, 0, 0)
	c.Company = company
	for _, st := range []network.Status{network.StatusConnecting, network.StatusDownloadingState, network.StatusActive} {
		if err := c.SetStatus(st, 0); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

func newDistributorFixture(t *testing.T, cfg Config) (*Distributor, *network.Table, *queue.ExecutionQueue) {
	t.Helper()
	return NewDistributor(cfg, NewCommandLog(16, nil)), network.NewTable(), queue.NewExecutionQueue()
}

func TestDistributor_SameFrameForAllCopies(t *testing.T) {
	d, table, exec := newDistributorFixture(t, testConfig())
	a := activeConn(t, 2, 1)
	b := activeConn(t, 3, 2)
	table.Add(a)
	table.Add(b)

	var pending queue.Queue[domain.Command]
	pending.Push(mustCommand(t, domain.OpClearTile, 1, domain.ClearTilePayload{}, 0))
	a.Inbound.Push(mustCommand(t, domain.OpClearTile, 2, domain.ClearTilePayload{}, 1))
	b.Inbound.Push(mustCommand(t, domain.OpClearTile, 3, domain.ClearTilePayload{}, 2))

	res := d.Distribute(41, false, ServerQueues{Pending: &pending}, table, exec)
	if res.Distributed != 3 || res.Held != 0 {
		t.Fatalf("result = %+v", res)
	}

	local := exec.Snapshot()
	if len(local) != 3 {
		t.Fatalf("local queue has %d commands", len(local))
	}
	// Сначала очередь сервера, затем соединения в порядке входа
	wantOrigins := []domain.ClientID{domain.ClientIDServer, 2, 3}
	for i, sc := range local {
		if sc.Frame != 41 || sc.Origin != wantOrigins[i] {
			t.Errorf("local[%d] = %s", i, sc)
		}
	}
	for _, c := range []*network.Connection{a, b} {
		out := c.Outbound.Snapshot()
		if len(out) != 3 {
			t.Fatalf("%s outbound = %d", c.ID, len(out))
		}
		for i, sc := range out {
			if sc.Frame != 41 || sc.Origin != wantOrigins[i] || sc.IsMine != (sc.Origin == c.ID) {
				t.Errorf("%s outbound[%d] = %s mine=%t", c.ID, i, sc, sc.IsMine)
			}
		}
	}
}

func TestDistributor_CapHoldsRestInOrder(t *testing.T) {
	cfg := testConfig()
	cfg.CommandsPerFrame = 2
	d, table, exec := newDistributorFixture(t, cfg)
	a := activeConn(t, 2, 1)
	table.Add(a)
	for tile := domain.TileIndex(1); tile <= 5; tile++ {
		a.Inbound.Push(mustCommand(t, domain.OpClearTile, tile, domain.ClearTilePayload{}, 1))
	}

	var pending queue.Queue[domain.Command]
	var tiles []domain.TileIndex
	for frame := uint32(1); frame <= 3; frame++ {
		res := d.Distribute(frame, false, ServerQueues{Pending: &pending}, table, exec)
		if res.Distributed > 2 {
			t.Errorf("frame %d: distributed %d over cap", frame, res.Distributed)
		}
		for _, sc := range exec.DrainDue(frame) {
			tiles = append(tiles, sc.Tile)
		}
	}
	for i, tile := range tiles {
		if tile != domain.TileIndex(i+1) {
			t.Fatalf("order = %v", tiles)
		}
	}
	if len(tiles) != 5 {
		t.Errorf("distributed %d of 5", len(tiles))
	}
}

func TestDistributor_PauseHoldsHeadOfLine(t *testing.T) {
	d, table, exec := newDistributorFixture(t, testConfig())
	a := activeConn(t, 2, 1)
	table.Add(a)
	a.Inbound.Push(mustCommand(t, domain.OpBuildTile, 1, build, 1))
	a.Inbound.Push(mustCommand(t, domain.OpPause, 0, domain.PausePayload{}, 1))

	var pending queue.Queue[domain.Command]
	pending.Push(mustCommand(t, domain.OpChangeSetting, 0, domain.ChangeSettingPayload{Name: "x", Value: 1}, 0))

	res := d.Distribute(1, true, ServerQueues{Pending: &pending}, table, exec)
	if res.Distributed != 1 || res.Held != 2 {
		t.Fatalf("result = %+v", res)
	}
	// PAUSE разрешена, но стоит за BUILD_TILE и ждет вместе с ней
	if got := exec.Snapshot(); len(got) != 1 || got[0].Op != domain.OpChangeSetting {
		t.Errorf("distributed = %v", got)
	}

	res = d.Distribute(2, false, ServerQueues{Pending: &pending}, table, exec)
	if res.Distributed != 2 {
		t.Errorf("after unpause distributed %d", res.Distributed)
	}
}

func TestDistributor_CallbackOnlyInOriginatorCopy(t *testing.T) {
	d, table, exec := newDistributorFixture(t, testConfig())
	a := activeConn(t, 2, 1)
	b := activeConn(t, 3, 2)
	table.Add(a)
	table.Add(b)
	a.Inbound.Push(mustCommand(t, domain.OpClearTile, 1, domain.ClearTilePayload{}, 1).WithCallback(9, 4))

	var pending queue.Queue[domain.Command]
	d.Distribute(1, false, ServerQueues{Pending: &pending}, table, exec)

	if got := a.Outbound.Snapshot()[0]; got.Callback != 9 || got.CallbackParam != 4 {
		t.Errorf("originator copy lost callback: %+v", got.Command)
	}
	if got := b.Outbound.Snapshot()[0]; got.HasCallback() {
		t.Errorf("peer copy carries callback: %+v", got.Command)
	}
	if got := exec.Snapshot()[0]; got.HasCallback() || got.IsMine {
		t.Errorf("server copy = %+v", got)
	}
}

func TestDistributor_SkipsConnectionsNotActive(t *testing.T) {
	d, table, exec := newDistributorFixture(t, testConfig())
	a := activeConn(t, 2, 1)
	sock, _ := network.NewPipe("server", "client")
	loading := network.NewConnection(3, sock, 0, 0)
	_ = loading.SetStatus(network.StatusConnecting, 0)
	_ = loading.SetStatus(network.StatusDownloadingState, 0)
	loading.Inbound.Push(mustCommand(t, domain.OpClearTile, 9, domain.ClearTilePayload{}, 0))
	table.Add(a)
	table.Add(loading)

	var pending queue.Queue[domain.Command]
	pending.Push(mustCommand(t, domain.OpClearTile, 1, domain.ClearTilePayload{}, 0))
	d.Distribute(1, false, ServerQueues{Pending: &pending}, table, exec)

	if loading.Outbound.Len() != 0 {
		t.Error("connection loading state received commands")
	}
	if loading.Inbound.Len() != 1 {
		t.Error("inbound of loading connection was drained")
	}
	if a.Outbound.Len() != 1 {
		t.Errorf("active outbound = %d", a.Outbound.Len())
	}
}

// Административная очередь идет первой и паузой не задерживается, даже если
// PAUSE убран из списка разрешенных.
func TestDistributor_AdminQueueBypassesPause(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedWhilePaused = nil
	d, table, exec := newDistributorFixture(t, cfg)
	table.Add(activeConn(t, 2, 1))

	var admin, pending queue.Queue[domain.Command]
	pending.Push(mustCommand(t, domain.OpBuildTile, 1, build, 0))
	admin.Push(mustCommand(t, domain.OpPause, 0, domain.PausePayload{Paused: false}, 0))

	res := d.Distribute(7, true, ServerQueues{Admin: &admin, Pending: &pending}, table, exec)
	if res.Distributed != 1 || res.Held != 1 || len(res.Admin) != 1 {
		t.Fatalf("result = %+v", res)
	}
	got := exec.Snapshot()
	if len(got) != 1 || got[0].Op != domain.OpPause || got[0].Frame != 7 {
		t.Fatalf("local queue = %v", got)
	}
	if pending.Len() != 1 {
		t.Error("held player command was removed")
	}
}
