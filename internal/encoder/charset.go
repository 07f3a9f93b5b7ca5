package encoder

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	apperrors "github.com/jittakal/kafcsvconnect/internal/errors"
)

// DefaultEncoding is used when no character encoding is configured.
const DefaultEncoding = "UTF-8"

// LookupEncoding returns the character encoding registered under name.
// Names follow the WHATWG encoding labels ("UTF-8", "ISO-8859-1", "Shift_JIS", ...).
func LookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownEncoding, name)
	}
	return enc, nil
}

// NewDecodingReader returns a reader yielding UTF-8 text decoded from r.
func NewDecodingReader(r io.Reader, name string) (io.Reader, error) {
	enc, err := LookupEncoding(name)
	if err != nil {
		return nil, err
	}
	if enc == unicode.UTF8 {
		return r, nil
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// encodingWriter returns a writer encoding UTF-8 text into w. Closing it
// flushes pending bytes but does not close w.
func encodingWriter(w io.Writer, enc encoding.Encoding) io.WriteCloser {
	if enc == unicode.UTF8 {
		return nopWriteCloser{w}
	}
	return transform.NewWriter(w, enc.NewEncoder())
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
