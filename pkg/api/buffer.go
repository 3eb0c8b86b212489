package api

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrTruncated - данных меньше, чем требует формат.
	ErrTruncated = errors.New("truncated packet")
	// ErrMalformed - данные есть, но значение недопустимо.
	ErrMalformed = errors.New("malformed packet")
)

// MaxBlobLen - предел для полей с префиксом длины uint16.
const MaxBlobLen = 1<<16 - 1

// Writer собирает пакет. Порядок байт - little-endian.
type Writer struct {
	buf []byte
}

// NewWriter начинает пакет заданного типа.
func NewWriter(t PacketType) *Writer {
	w := &Writer{buf: make([]byte, 0, 64)}
	w.buf = append(w.buf, byte(t))
	return w
}

// NewRawWriter создает буфер без байта типа (для вложенных структур).
func NewRawWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 32)}
}

func (w *Writer) Uint8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) Uint16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *Writer) Uint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *Writer) Uint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *Writer) Int32(v int32)   { w.Uint32(uint32(v)) }
func (w *Writer) Int64(v int64)   { w.Uint64(uint64(v)) }

func (w *Writer) Bool(v bool) {
	if v {
		w.Uint8(1)
		return
	}
	w.Uint8(0)
}

// String пишет строку с префиксом длины uint16. Длинные строки обрезаются
// по границе руны, чтобы на провод не попал невалидный UTF-8.
func (w *Writer) String(s string) {
	if len(s) > MaxBlobLen {
		s = s[:MaxBlobLen]
		for len(s) > 0 && !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
	}
	w.Uint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// Blob пишет байты с префиксом длины uint16. Вызывающий отвечает за размер.
func (w *Writer) Blob(b []byte) {
	w.Uint16(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

// Raw дописывает байты как есть.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Bytes возвращает собранный буфер.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Len() int { return len(w.buf) }

// Reader разбирает пакет с проверкой границ. Первая ошибка запоминается,
// все последующие чтения возвращают нулевые значения.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Err возвращает первую ошибку разбора.
func (r *Reader) Err() error { return r.err }

// Remaining - сколько байт осталось непрочитанными.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Done проверяет, что разбор прошел без ошибок и лишних байт нет.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		r.err = fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.buf)-r.off)
	}
	return r.err
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.fail(fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, r.Remaining()))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) Uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) Int32() int32 { return int32(r.Uint32()) }
func (r *Reader) Int64() int64 { return int64(r.Uint64()) }

// Bool принимает только 0 и 1.
func (r *Reader) Bool() bool {
	v := r.Uint8()
	if v > 1 {
		r.fail(fmt.Errorf("%w: bool value %d", ErrMalformed, v))
		return false
	}
	return v == 1
}

// String читает строку не длиннее max байт. Невалидный UTF-8 - ошибка.
func (r *Reader) String(max int) string {
	n := int(r.Uint16())
	if r.err != nil {
		return ""
	}
	if n > max {
		r.fail(fmt.Errorf("%w: string length %d exceeds %d", ErrMalformed, n, max))
		return ""
	}
	b := r.take(n)
	if b == nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.fail(fmt.Errorf("%w: string is not valid utf-8", ErrMalformed))
		return ""
	}
	return string(b)
}

// Blob читает байты с префиксом длины uint16, не длиннее max.
// Возвращается копия, чтобы результат не держал весь пакет.
func (r *Reader) Blob(max int) []byte {
	n := int(r.Uint16())
	if r.err != nil {
		return nil
	}
	if n > max {
		r.fail(fmt.Errorf("%w: blob length %d exceeds %d", ErrMalformed, n, max))
		return nil
	}
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Rest забирает все оставшиеся байты.
func (r *Reader) Rest() []byte {
	b := r.take(r.Remaining())
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
