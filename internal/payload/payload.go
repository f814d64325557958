// Package payload implements the chunked ChaCha20-Poly1305 encryption of
// the plaintext that follows the age-threshold header: a random 16-byte
// nonce, followed by fixed-size encrypted chunks.
package payload

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ChunkSize is the maximum number of plaintext bytes per chunk.
const ChunkSize = 64 * 1024

const (
	nonceSize     = 16
	chunkNonceLen = chacha20poly1305.NonceSize
	encChunkSize  = ChunkSize + chacha20poly1305.Overhead
	lastChunkFlag = 0x01
)

func deriveKey(fileKey [16]byte, nonce []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, fileKey[:], nonce, []byte("payload"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("payload: deriving AEAD key: %w", err)
	}
	return key, nil
}

// chunkNonce builds the 12-byte per-chunk nonce: an 11-byte little-endian
// counter followed by a one-byte flag, 0x01 on the final chunk.
func chunkNonce(counter uint64, last bool) [chunkNonceLen]byte {
	var n [chunkNonceLen]byte
	for i := 0; i < 11; i++ {
		n[i] = byte(counter >> (8 * i))
	}
	if last {
		n[11] = lastChunkFlag
	}
	return n
}

// Writer encrypts a plaintext stream into the chunked payload format. The
// 16-byte random nonce is written to dst on the first Write.
type Writer struct {
	a          cipher.AEAD
	dst        io.Writer
	buf        bytes.Buffer
	counter    uint64
	wroteNonce bool
	fileKey    [16]byte
	err        error
}

// NewWriter prepares a Writer. The nonce prefix is written lazily, on the
// first call to Write or Close, so that constructing a Writer for an
// ultimately-empty plaintext still produces a valid one-chunk payload.
func NewWriter(fileKey [16]byte, dst io.Writer) *Writer {
	return &Writer{dst: dst, fileKey: fileKey}
}

func (w *Writer) init() error {
	if w.wroteNonce {
		return nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("payload: generating nonce: %w", err)
	}
	if _, err := w.dst.Write(nonce); err != nil {
		return err
	}
	key, err := deriveKey(w.fileKey, nonce)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("payload: constructing AEAD: %w", err)
	}
	w.a = aead
	w.wroteNonce = true
	return nil
}

func (w *Writer) Write(p []byte) (n int, err error) {
	if w.err != nil {
		return 0, w.err
	}
	if err := w.init(); err != nil {
		w.err = err
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	total := len(p)
	for len(p) > 0 {
		room := ChunkSize - w.buf.Len()
		take := room
		if take > len(p) {
			take = len(p)
		}
		w.buf.Write(p[:take])
		p = p[take:]

		if w.buf.Len() == ChunkSize && len(p) > 0 {
			if err := w.flushChunk(false); err != nil {
				w.err = err
				return 0, err
			}
		}
	}
	return total, nil
}

// Close flushes the final chunk (which may be empty, for an empty
// plaintext) and marks it with the last-chunk flag. It does not close dst.
func (w *Writer) Close() error {
	if w.err != nil {
		return w.err
	}
	if err := w.init(); err != nil {
		w.err = err
		return err
	}
	if err := w.flushChunk(true); err != nil {
		w.err = err
		return err
	}
	w.err = errors.New("payload: Writer is already closed")
	return nil
}

func (w *Writer) flushChunk(last bool) error {
	if !last && w.buf.Len() != ChunkSize {
		panic("payload: internal error: flush called with a partial, non-final chunk")
	}
	nonce := chunkNonce(w.counter, last)
	w.buf.Grow(chacha20poly1305.Overhead)
	ciphertext := w.a.Seal(w.buf.Bytes()[:0], nonce[:], w.buf.Bytes(), nil)
	_, err := w.dst.Write(ciphertext)
	w.counter++
	w.buf.Reset()
	return err
}

// Reader decrypts a chunked payload stream produced by Writer.
type Reader struct {
	a       cipher.AEAD
	src     io.Reader
	counter uint64

	unread   []byte
	buf      [encChunkSize]byte
	plainBuf [ChunkSize]byte

	err     error
	got     bool // whether the nonce prefix has been read
	fileKey [16]byte
}

// NewReader prepares a Reader. The nonce prefix is read lazily from src on
// the first Read call.
func NewReader(fileKey [16]byte, src io.Reader) *Reader {
	return &Reader{src: src, fileKey: fileKey}
}

func (r *Reader) init() error {
	if r.got {
		return nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(r.src, nonce); err != nil {
		return fmt.Errorf("payload: reading nonce: %w", err)
	}
	key, err := deriveKey(r.fileKey, nonce)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("payload: constructing AEAD: %w", err)
	}
	r.a = aead
	r.got = true
	return nil
}

func (r *Reader) Read(p []byte) (int, error) {
	if err := r.init(); err != nil {
		r.err = err
		return 0, err
	}
	if len(r.unread) > 0 {
		n := copy(p, r.unread)
		r.unread = r.unread[n:]
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	last, err := r.readChunk()
	if err != nil {
		r.err = err
		return 0, err
	}

	n := copy(p, r.unread)
	r.unread = r.unread[n:]

	if last {
		if _, err := r.src.Read(make([]byte, 1)); err == nil {
			r.err = errors.New("payload: trailing data after the final chunk")
		} else if err != io.EOF {
			r.err = fmt.Errorf("payload: non-EOF error reading after the final chunk: %w", err)
		} else {
			r.err = io.EOF
		}
	}

	return n, nil
}

// readChunk reads the next chunk into r.unread and reports whether it was
// the final chunk. A short read marks the final chunk; a full-size chunk
// that fails to open with the non-final nonce is retried with the final
// flag set. Read then requires EOF right after the final chunk.
func (r *Reader) readChunk() (last bool, err error) {
	if len(r.unread) != 0 {
		panic("payload: internal error: readChunk called with a dirty buffer")
	}

	in := r.buf[:]
	n, err := io.ReadFull(r.src, in)
	switch {
	case err == io.EOF:
		return false, io.ErrUnexpectedEOF
	case err == io.ErrUnexpectedEOF:
		if r.counter != 0 && n == chacha20poly1305.Overhead {
			return false, errors.New("payload: final chunk is empty")
		}
		in = in[:n]
		last = true
	case err != nil:
		return false, err
	}

	nonce := chunkNonce(r.counter, last)
	outBuf := r.plainBuf[:0]
	out, err := r.a.Open(outBuf, nonce[:], in, nil)
	if err != nil && !last {
		last = true
		nonce = chunkNonce(r.counter, last)
		out, err = r.a.Open(outBuf, nonce[:], in, nil)
	}
	if err != nil {
		return false, errors.New("payload: failed to decrypt and authenticate a payload chunk, file may be corrupted or tampered with")
	}

	r.counter++
	r.unread = r.buf[:copy(r.buf[:], out)]
	return last, nil
}
