package network

import "sync"

// pipeEnd - одна сторона пары PipeSocket.
type pipeEnd struct {
	mu     sync.Mutex
	inbox  [][]byte
	closed bool
}

// PipeSocket - сокет в памяти. Используется ботами внутри процесса и тестами:
// отправленный пакет сразу становится доступен Recv другой стороны.
type PipeSocket struct {
	in, out *pipeEnd
	addr    string
	limit   int
}

// DefaultPipeCapacity - сколько пакетов может ждать в одном направлении.
const DefaultPipeCapacity = 4096

// NewPipe создает связанную пару сокетов.
func NewPipe(addrA, addrB string) (*PipeSocket, *PipeSocket) {
	ab, ba := &pipeEnd{}, &pipeEnd{}
	a := &PipeSocket{in: ba, out: ab, addr: addrB, limit: DefaultPipeCapacity}
	b := &PipeSocket{in: ab, out: ba, addr: addrA, limit: DefaultPipeCapacity}
	return a, b
}

func (p *PipeSocket) Recv() ([]byte, bool) {
	p.in.mu.Lock()
	defer p.in.mu.Unlock()
	if len(p.in.inbox) == 0 {
		return nil, false
	}
	pkt := p.in.inbox[0]
	p.in.inbox[0] = nil
	p.in.inbox = p.in.inbox[1:]
	return pkt, true
}

func (p *PipeSocket) Send(packet []byte) bool {
	p.out.mu.Lock()
	defer p.out.mu.Unlock()
	if p.out.closed {
		// Пакет теряется так же, как при записи в разорванный TCP
		return true
	}
	if len(p.out.inbox) >= p.limit {
		return false
	}
	cp := make([]byte, len(packet))
	copy(cp, packet)
	p.out.inbox = append(p.out.inbox, cp)
	return true
}

// Err сообщает о закрытии, когда входящих пакетов больше нет.
func (p *PipeSocket) Err() error {
	p.in.mu.Lock()
	defer p.in.mu.Unlock()
	if p.in.closed && len(p.in.inbox) == 0 {
		return ErrSocketClosed
	}
	return nil
}

// Close закрывает оба направления.
func (p *PipeSocket) Close() error {
	for _, end := range []*pipeEnd{p.in, p.out} {
		end.mu.Lock()
		end.closed = true
		end.mu.Unlock()
	}
	return nil
}

func (p *PipeSocket) RemoteAddr() string { return p.addr }

// Pending - сколько пакетов ждет чтения (для тестов).
func (p *PipeSocket) Pending() int {
	p.in.mu.Lock()
	defer p.in.mu.Unlock()
	return len(p.in.inbox)
}
