package muaio

import (
	"strings"
	"testing"
)

func TestBase64Writer(t *testing.T) {
	var sb strings.Builder
	bw := Base64Writer(&sb)
	_, err := bw.Write([]byte("0123456789012345678901234567890123456789012345678901234567890123456789"))
	tcheckf(t, err, "write")
	err = bw.Close()
	tcheckf(t, err, "close")
	s := sb.String()
	exp := "MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIz\nNDU2Nzg5MDEyMzQ1Njc4OQ==\n"
	if s != exp {
		t.Fatalf("base64writer, got %q, expected %q", s, exp)
	}

	sb.Reset()
	bw = Base64Writer(&sb)
	err = bw.Close()
	tcheckf(t, err, "close")
	if sb.String() != "\n" {
		t.Fatalf("empty base64, got %q", sb.String())
	}
}
