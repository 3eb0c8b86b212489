package network

import (
	"errors"
	"testing"
	"time"

	"lockstep-server/internal/domain"
	"lockstep-server/pkg/api"
	"lockstep-server/pkg/logger"
)

func init() {
	logger.Silence()
}

func newTestConn(id domain.ClientID) (*Connection, *PipeSocket) {
	local, remote := NewPipe("server", "peer")
	return NewConnection(id, local, 0, 0), remote
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusInactive, StatusConnecting, true},
		{StatusConnecting, StatusAuthenticating, true},
		{StatusConnecting, StatusDownloadingState, true},
		{StatusAuthenticating, StatusDownloadingState, true},
		{StatusDownloadingState, StatusActive, true},
		{StatusActive, StatusClosing, true},
		{StatusClosing, StatusClosed, true},
		{StatusActive, StatusError, true},
		{StatusInactive, StatusActive, false},
		{StatusConnecting, StatusActive, false},
		{StatusActive, StatusConnecting, false},
		{StatusClosed, StatusError, false},
		{StatusClosed, StatusConnecting, false},
		{StatusError, StatusError, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestConnection_SetStatusRefusesIllegal(t *testing.T) {
	c, _ := newTestConn(2)
	if err := c.SetStatus(StatusActive, 1); err == nil {
		t.Fatalf("Inactive -> Active must fail")
	}
	if c.Status() != StatusInactive {
		t.Errorf("status changed to %s after refused transition", c.Status())
	}
	if err := c.SetStatus(StatusConnecting, 3); err != nil {
		t.Fatal(err)
	}
	if c.StatusFrame != 3 {
		t.Errorf("StatusFrame = %d, want 3", c.StatusFrame)
	}
}

func TestDispatcher_FailsClosed(t *testing.T) {
	d := NewDispatcher()
	called := 0
	d.Handle(api.PacketClientChat, func(c *Connection, m api.Message) Result {
		called++
		return Continue
	}, StatusActive)

	c, _ := newTestConn(2)
	_ = c.SetStatus(StatusConnecting, 0)

	tests := []struct {
		name    string
		packet  []byte
		wantErr error
	}{
		{"empty", nil, ErrUnknownPacket},
		{"unknown discriminant", []byte{250}, ErrUnknownPacket},
		{"known but unregistered", api.Encode(&api.ClientQuit{}), ErrUnknownPacket},
		{"wrong status", api.Encode(&api.ClientChat{Text: "hi"}), ErrUnexpectedPacket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.Dispatch(c, tt.packet)
			if res != MalformedInput {
				t.Errorf("result = %s, want MALFORMED_INPUT", res)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if called != 0 {
		t.Fatalf("handler called %d times for rejected packets", called)
	}

	_ = c.SetStatus(StatusDownloadingState, 0)
	_ = c.SetStatus(StatusActive, 0)
	if res, err := d.Dispatch(c, api.Encode(&api.ClientChat{Text: "hi"})); res != Continue || err != nil {
		t.Fatalf("valid packet: res=%s err=%v", res, err)
	}
	if res, _ := d.Dispatch(c, append(api.Encode(&api.ClientChat{Text: "hi"}), 1)); res != MalformedInput {
		t.Errorf("trailing byte: res=%s, want MALFORMED_INPUT", res)
	}
	if called != 1 {
		t.Errorf("handler called %d times, want 1", called)
	}
}

func TestTable_DeferredRemovalDuringEach(t *testing.T) {
	table := NewTable()
	var remotes []*PipeSocket
	for id := domain.ClientIDFirst; id < domain.ClientIDFirst+3; id++ {
		c, r := newTestConn(id)
		table.Add(c)
		remotes = append(remotes, r)
	}

	visited := 0
	table.Each(func(c *Connection) {
		visited++
		// Обработчик закрывает собственное соединение и соседнее
		table.MarkForRemoval(c.ID, api.ErrorGeneral)
		if c.ID == domain.ClientIDFirst {
			table.MarkForRemoval(domain.ClientIDFirst+1, api.ErrorKicked)
		}
		if removed := table.Sweep(); removed != nil {
			t.Fatalf("Sweep removed %d connections during Each", len(removed))
		}
		if _, ok := table.Lookup(c.ID); !ok {
			t.Fatalf("connection %s vanished during its own handler", c.ID)
		}
	})
	// Помеченное внутри обхода соседнее соединение пропускается
	if visited != 2 {
		t.Errorf("visited %d connections, want 2", visited)
	}
	if table.Len() != 3 {
		t.Fatalf("Len = %d before Sweep, want 3", table.Len())
	}

	removed := table.Sweep()
	if len(removed) != 3 || table.Len() != 0 {
		t.Fatalf("Sweep removed %d, left %d", len(removed), table.Len())
	}
	for _, c := range removed {
		if c.Status() != StatusClosed {
			t.Errorf("%s status = %s, want CLOSED", c.ID, c.Status())
		}
	}
	if removed[1].CloseReason != api.ErrorKicked {
		t.Errorf("reason = %s, want KICKED", removed[1].CloseReason)
	}
	for _, r := range remotes {
		if !errors.Is(r.Err(), ErrSocketClosed) {
			t.Errorf("remote side not closed: %v", r.Err())
		}
	}
}

func TestTable_SweepDiscardsQueues(t *testing.T) {
	table := NewTable()
	c, _ := newTestConn(domain.ClientIDFirst)
	table.Add(c)
	c.Inbound.Push(domain.Command{Op: domain.OpClearTile})
	c.Outbound.Push(domain.ScheduledCommand{Frame: 5})

	table.MarkFaulty(c.ID, api.ErrorIllegalPacket)
	if c.Status() != StatusError {
		t.Fatalf("status = %s, want ERROR", c.Status())
	}
	table.Sweep()
	if c.Inbound.Len() != 0 || c.Outbound.Len() != 0 {
		t.Errorf("queues not discarded: in=%d out=%d", c.Inbound.Len(), c.Outbound.Len())
	}
	if _, ok := table.Lookup(c.ID); ok {
		t.Errorf("connection still in lookup table")
	}
}

func TestConnection_PollRateLimitHoldsPackets(t *testing.T) {
	local, remote := NewPipe("server", "peer")
	c := NewConnection(domain.ClientIDFirst, local, 1, 3)
	for i := 0; i < 5; i++ {
		remote.Send(api.Encode(&api.ClientAck{Frame: uint32(i)}))
	}

	now := time.Now()
	got := c.Poll(now, 0)
	if len(got) != 3 {
		t.Fatalf("first poll got %d packets, want burst of 3", len(got))
	}
	if local.Pending() != 2 {
		t.Fatalf("%d packets left in socket, want 2 (held, not dropped)", local.Pending())
	}

	got = c.Poll(now.Add(2*time.Second), 0)
	if len(got) != 2 {
		t.Fatalf("second poll got %d packets, want 2", len(got))
	}
	m, err := api.Decode(got[1])
	if err != nil {
		t.Fatal(err)
	}
	if m.(*api.ClientAck).Frame != 4 {
		t.Errorf("packets reordered: last frame %d", m.(*api.ClientAck).Frame)
	}
}

func TestConnection_FlushKeepsRemainder(t *testing.T) {
	local, remote := NewPipe("server", "peer")
	local.limit = 2
	c := NewConnection(domain.ClientIDFirst, local, 0, 0)
	for i := 0; i < 3; i++ {
		c.Send(&api.ServerFrame{Frame: uint32(i)})
	}
	if n := c.Flush(); n != 2 {
		t.Fatalf("Flush sent %d, want 2", n)
	}
	if c.PendingPackets() != 1 {
		t.Fatalf("pending = %d, want 1", c.PendingPackets())
	}
	for i := 0; i < 2; i++ {
		if _, ok := remote.Recv(); !ok {
			t.Fatalf("packet %d missing", i)
		}
	}
	if n := c.Flush(); n != 1 {
		t.Errorf("second Flush sent %d, want 1", n)
	}
}
