package milterutil

import (
	"io"

	"golang.org/x/text/transform"
)

// percentEscaper doubles every % sign. MTAs run reply texts through printf style formatting.
type percentEscaper struct {
	transform.NopResetter
}

func (percentEscaper) Transform(dst, src []byte, _ bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		n := 1
		if c == '%' {
			n = 2
		}
		if nDst+n > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = c
		if n == 2 {
			dst[nDst+1] = c
		}
		nDst += n
		nSrc++
	}
	return nDst, nSrc, nil
}

// lfNormalizer turns CR LF and lone CR line endings into LF.
type lfNormalizer struct {
	afterCR bool
}

func (t *lfNormalizer) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		if c == '\n' && t.afterCR {
			t.afterCR = false
			nSrc++
			continue
		}
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		t.afterCR = c == '\r'
		if t.afterCR {
			c = '\n'
		}
		dst[nDst] = c
		nDst++
		nSrc++
	}
	return nDst, nSrc, nil
}

func (t *lfNormalizer) Reset() {
	t.afterCR = false
}

// crlfCanonicalizer turns LF and lone CR line endings into CR LF.
type crlfCanonicalizer struct {
	afterCR bool
}

func (t *crlfCanonicalizer) Transform(dst, src []byte, _ bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		if c == '\n' && t.afterCR {
			t.afterCR = false
			nSrc++
			continue
		}
		if c == '\r' || c == '\n' {
			if nDst+2 > len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst], dst[nDst+1] = '\r', '\n'
			nDst += 2
		} else {
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = c
			nDst++
		}
		t.afterCR = c == '\r'
		nSrc++
	}
	return nDst, nSrc, nil
}

func (t *crlfCanonicalizer) Reset() {
	t.afterCR = false
}

// CrLfReader returns a reader that converts all line endings of r to CR LF.
// Header and body data in the milter protocol use CR LF line endings.
func CrLfReader(r io.Reader) io.Reader {
	return transform.NewReader(r, &crlfCanonicalizer{})
}

// CrLfToLf replaces all CR LF and lone CR line endings in s with LF.
//
// Postfix wants LF line endings in header values. CR LF results in double CR sequences.
func CrLfToLf(s string) string {
	out, _, err := transform.String(&lfNormalizer{}, s)
	if err != nil {
		// lfNormalizer never produces more bytes than it consumes
		panic(err)
	}
	return out
}

// escapeReplyText doubles % signs and normalizes line endings to LF.
func escapeReplyText(s string) (string, error) {
	out, _, err := transform.String(transform.Chain(percentEscaper{}, &lfNormalizer{}), s)
	return out, err
}
