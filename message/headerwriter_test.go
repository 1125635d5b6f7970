package message

import (
	"strings"
	"testing"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if got != exp {
		t.Fatalf("got %q, expected %q", got, exp)
	}
}

func TestWriteHeader(t *testing.T) {
	write := func(tag, value string, opts HeaderOpts) string {
		t.Helper()
		var b strings.Builder
		err := WriteHeader(&b, tag, value, opts)
		tcheck(t, err, "write header")
		return b.String()
	}

	tcompare(t, write("Subject", "hello", HeaderOpts{}), "Subject: hello\n")

	words := strings.TrimSpace(strings.Repeat("word ", 20))
	exp := "Subject: " + strings.TrimSpace(strings.Repeat("word ", 13)) + "\n" + strings.Repeat(" word", 7) + "\n"
	tcompare(t, write("Subject", words, HeaderOpts{}), exp)

	// Folded input is unfolded before refolding.
	tcompare(t, write("Subject", "a\n b", HeaderOpts{}), "Subject: a b\n")

	tcompare(t, write("", "To: x\nSubject: y\n", HeaderOpts{Prefix: "> "}), "> To: x\n> Subject: y\n")

	// Lines are never longer than the maximum.
	long := strings.Repeat("x", 1200)
	out := write("X-Long", long, HeaderOpts{})
	for _, line := range strings.Split(out, "\n") {
		if len(line) > MaxLine {
			t.Fatalf("line too long, %d bytes", len(line))
		}
	}
}

func TestHeaderWriter(t *testing.T) {
	var w HeaderWriter
	w.Add("", "Content-Type: text/plain;")
	w.Add(" ", "charset=us-ascii;", "format=flowed")
	tcompare(t, w.String(), "Content-Type: text/plain; charset=us-ascii; format=flowed\n")

	w = HeaderWriter{Width: 20}
	w.Add(" ", "References:", "<a@b.example>", "<c@d.example>")
	tcompare(t, w.String(), "References:\n\t<a@b.example>\n\t<c@d.example>\n")
}

func TestWriteReferences(t *testing.T) {
	refs := []string{"<c>", "<b>", "<a>"}
	var b strings.Builder
	err := WriteReferences(&b, refs, 0)
	tcheck(t, err, "write")
	tcompare(t, b.String(), " <a>\n <b>\n <c>")

	b.Reset()
	err = WriteReferences(&b, refs, 2)
	tcheck(t, err, "write")
	tcompare(t, b.String(), " <b>\n <c>")
}

func TestWriter(t *testing.T) {
	var b strings.Builder
	w := NewWriter(&b, true)
	for _, s := range []string{"a\n", "b\r", "\nc\n"} {
		_, err := w.Write([]byte(s))
		tcheck(t, err, "write")
	}
	tcompare(t, b.String(), "a\r\nb\r\nc\r\n")
	if w.Lines != 3 || w.Size != 9 || w.Has8bit {
		t.Fatalf("writer state %#v", w)
	}

	b.Reset()
	w = NewWriter(&b, false)
	_, err := w.Write([]byte("café\n"))
	tcheck(t, err, "write")
	tcompare(t, b.String(), "café\n")
	if !w.Has8bit {
		t.Fatalf("8bit not detected")
	}
}
