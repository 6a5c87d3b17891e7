package container

import (
	"github.com/sloonz/shelvery/lib"

	"bufio"
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
)

var (
	magic                 = "github.com/sloonz/shelvery/v1\n"
	ErrInvalidMagicHeader = errors.New("invalid magic header")
	ErrInvalidHeaderHash  = errors.New("invalid header hash")
)

// Encode into the envelope format: magic, header line, then a zstd stream,
// optionally age-encrypted (in which case the header hash is sealed first)
type Writer struct {
	w  io.Writer
	aw io.WriteCloser
	zw *zstd.Encoder
}

func NewWriter(w io.Writer, recipients []age.Recipient, kind string, compressionLevel int) (*Writer, error) {
	var aw io.WriteCloser
	var zw *zstd.Encoder

	hdr := bytes.NewBuffer(nil)
	hdr.WriteString(magic)
	if len(recipients) == 0 {
		hdr.WriteString(fmt.Sprintf("kind=%s,compression=zstd,plain=1\n", kind))
	} else {
		hdr.WriteString(fmt.Sprintf("kind=%s,compression=zstd\n", kind))
	}
	_, err := w.Write(hdr.Bytes())
	if err != nil {
		return nil, err
	}

	if len(recipients) == 0 {
		zw, err = zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, err
		}
	} else {
		aw, err = age.Encrypt(w, recipients...)
		if err != nil {
			return nil, err
		}

		hdrHash := sha256.Sum256(hdr.Bytes())
		_, err = aw.Write(hdrHash[:])
		if err != nil {
			return nil, err
		}

		zw, err = zstd.NewWriter(aw, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, err
		}
	}

	return &Writer{
		w:  w,
		aw: aw,
		zw: zw,
	}, nil
}

// Part of io.WriteCloser interface
func (w *Writer) Write(p []byte) (int, error) {
	return w.zw.Write(p)
}

// Part of io.WriteCloser interface
// Note that this will write remaining buffered data to the underlying writer.
func (w *Writer) Close() error {
	err := w.zw.Close()
	if err != nil {
		return err
	}

	if w.aw != nil {
		return w.aw.Close()
	}

	return nil
}

// Decoder for the envelope format
type Reader struct {
	r       io.Reader
	br      *bufio.Reader
	ar      io.Reader
	zr      *zstd.Decoder
	hdrHash [sha256.Size]byte
	Options *shelvery.Options
}

func NewReader(r io.Reader) (*Reader, error) {
	m := make([]byte, len(magic))
	_, err := io.ReadFull(r, m)
	if err != nil {
		return nil, err
	}
	if string(m) != magic {
		return nil, ErrInvalidMagicHeader
	}

	br := bufio.NewReader(r)
	optionsLine, err := br.ReadString('\n')
	if err != nil {
		return nil, err
	}
	opts, err := shelvery.EvalOptions(shelvery.SplitOptions(strings.TrimSpace(optionsLine)), nil)
	if err != nil {
		return nil, err
	}

	hdr := bytes.NewBufferString(magic)
	hdr.WriteString(optionsLine)
	hdrHash := sha256.Sum256(hdr.Bytes())

	return &Reader{
		r:       r,
		br:      br,
		hdrHash: hdrHash,
		Options: opts,
	}, nil
}

func (r *Reader) Kind() string {
	return r.Options.String["kind"]
}

func (r *Reader) IsPlain() bool {
	return r.Options.String["plain"] == "1"
}

// Prepares the decryption process. This must be called before any Read() call
func (r *Reader) Unseal(identities []age.Identity) error {
	var err error

	if r.IsPlain() {
		r.zr, err = zstd.NewReader(r.br)
		return err
	}

	if len(identities) == 0 {
		return errors.New("encountered an encrypted envelope, but no private key has been provided")
	}

	r.ar, err = age.Decrypt(r.br, identities...)
	if err != nil {
		return err
	}

	var encryptedHash [sha256.Size]byte
	_, err = io.ReadFull(r.ar, encryptedHash[:])
	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare(encryptedHash[:], r.hdrHash[:]) == 0 {
		return ErrInvalidHeaderHash
	}

	r.zr, err = zstd.NewReader(r.ar)
	return err
}

// Part of io.ReadCloser interface
func (r *Reader) Read(p []byte) (int, error) {
	return r.zr.Read(p)
}

// Part of io.ReadCloser interface
func (r *Reader) Close() error {
	if r.zr != nil {
		r.zr.Close()
	}
	return nil
}

// Whether data starts with the envelope magic header
func IsEnveloped(data []byte) bool {
	return bytes.HasPrefix(data, []byte(magic))
}

// Wrap data into an envelope
func Seal(data []byte, recipients []age.Recipient, kind string) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	w, err := NewWriter(buf, recipients, kind, 3)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(data); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Reverse of Seal. Data that is not enveloped is returned unchanged.
func Open(data []byte, identities []age.Identity) ([]byte, error) {
	if !IsEnveloped(data) {
		return data, nil
	}

	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if err = r.Unseal(identities); err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
