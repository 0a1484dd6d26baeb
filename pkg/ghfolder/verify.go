// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package ghfolder

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strconv"
	"strings"
)

// sniffLen is how much of a file's head is inspected by looksBinary.
const sniffLen = 8 << 10

// newBlobHash returns a hash primed with the git blob header for size, so
// that writing the content yields the object id git and GitHub report.
func newBlobHash(size int64) hash.Hash {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.FormatInt(size, 10) + "\x00"))
	return h
}

// GitBlobSHA computes the git object id of the file at path.
func GitBlobSHA(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	h := newBlobHash(fi.Size())
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyWritten checks a downloaded file against its descriptor.
// sum is the blob hash computed while streaming, or "" when not hashed.
func verifyWritten(mode string, d FileDescriptor, written int64, sum string) error {
	if mode == VerifyNone {
		return nil
	}
	if written != d.Size {
		return &VerificationError{
			Path:     d.Path,
			Method:   "size",
			Expected: strconv.FormatInt(d.Size, 10),
			Actual:   strconv.FormatInt(written, 10),
		}
	}
	if mode == VerifyHash && d.Token != "" && !strings.EqualFold(sum, d.Token) {
		return &VerificationError{Path: d.Path, Method: "hash", Expected: d.Token, Actual: sum}
	}
	return nil
}

// headSniffer keeps the first sniffLen bytes written through it.
type headSniffer struct {
	buf []byte
}

func (s *headSniffer) Write(p []byte) (int, error) {
	if room := sniffLen - len(s.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		s.buf = append(s.buf, p[:room]...)
	}
	return len(p), nil
}

// looksBinary reports whether head contains a NUL byte or more than 10%
// non-printable bytes.
func looksBinary(head []byte) bool {
	if len(head) == 0 {
		return false
	}
	var odd int
	for _, b := range head {
		switch {
		case b == 0:
			return true
		case b == '\n' || b == '\r' || b == '\t' || b == '\f' || b == '\b':
		case b < 32 || b == 127:
			odd++
		}
	}
	return odd*10 > len(head)
}

// validMode reports whether s names a verification mode.
func validMode(s string) error {
	switch s {
	case VerifyNone, VerifySize, VerifyHash:
		return nil
	default:
		return fmt.Errorf("invalid verify mode %q (want none, size or hash)", s)
	}
}
