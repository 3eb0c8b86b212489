package engine

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"

	"lockstep-server/internal/network"
	"lockstep-server/pkg/api"
)

// MaxStateSize - предел размера снимка (сжатого и распакованного).
const MaxStateSize = 64 << 20

var errMapTransfer = errors.New("map transfer")

// stateImage - сжатый снимок состояния, готовый к отправке.
type stateImage struct {
	frame  uint32
	data   []byte
	digest [32]byte
}

func compressState(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressState(src []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(src))
	var buf bytes.Buffer
	// +1, чтобы отличить ровно предельный размер от превышения
	n, err := io.Copy(&buf, io.LimitReader(zr, MaxStateSize+1))
	if err != nil {
		return nil, err
	}
	if n > MaxStateSize {
		return nil, fmt.Errorf("%w: state exceeds %d bytes", errMapTransfer, MaxStateSize)
	}
	return buf.Bytes(), nil
}

// makeStateImage снимает и сжимает состояние симуляции на кадре frame.
func makeStateImage(sim Simulation, frame uint32) (*stateImage, error) {
	raw, err := sim.SnapshotState()
	if err != nil {
		return nil, fmt.Errorf("snapshot state: %w", err)
	}
	packed, err := compressState(raw)
	if err != nil {
		return nil, fmt.Errorf("compress state: %w", err)
	}
	if len(packed) > MaxStateSize {
		return nil, fmt.Errorf("%w: compressed state is %d bytes", errMapTransfer, len(packed))
	}
	return &stateImage{frame: frame, data: packed, digest: blake3.Sum256(packed)}, nil
}

// send ставит весь снимок в буфер соединения: BEGIN, SIZE, DATA..., DONE.
func (img *stateImage) send(c *network.Connection, chunk int) {
	c.Send(&api.ServerMapBegin{Frame: img.frame})
	c.Send(&api.ServerMapSize{Size: uint32(len(img.data))})
	for off := 0; off < len(img.data); off += chunk {
		end := off + chunk
		if end > len(img.data) {
			end = len(img.data)
		}
		c.Send(&api.ServerMapData{Chunk: img.data[off:end]})
	}
	c.Send(&api.ServerMapDone{Digest: img.digest[:]})
}

// mapReceiver собирает снимок на клиенте.
type mapReceiver struct {
	frame   uint32
	size    uint32
	hasSize bool
	buf     bytes.Buffer
}

func (r *mapReceiver) setSize(size uint32) error {
	if r.hasSize {
		return fmt.Errorf("%w: duplicate size", errMapTransfer)
	}
	if size == 0 || size > MaxStateSize {
		return fmt.Errorf("%w: size %d out of range", errMapTransfer, size)
	}
	r.size = size
	r.hasSize = true
	r.buf.Grow(int(size))
	return nil
}

func (r *mapReceiver) add(chunk []byte) error {
	if !r.hasSize {
		return fmt.Errorf("%w: data before size", errMapTransfer)
	}
	if uint64(r.buf.Len())+uint64(len(chunk)) > uint64(r.size) {
		return fmt.Errorf("%w: more data than announced", errMapTransfer)
	}
	r.buf.Write(chunk)
	return nil
}

// finish проверяет размер и хеш и возвращает распакованное состояние.
func (r *mapReceiver) finish(digest []byte) ([]byte, error) {
	if !r.hasSize || uint32(r.buf.Len()) != r.size {
		return nil, fmt.Errorf("%w: got %d of %d bytes", errMapTransfer, r.buf.Len(), r.size)
	}
	sum := blake3.Sum256(r.buf.Bytes())
	if subtle.ConstantTimeCompare(sum[:], digest) != 1 {
		return nil, fmt.Errorf("%w: digest mismatch", errMapTransfer)
	}
	return decompressState(r.buf.Bytes())
}
