package config

import (
	"bytes"
	"strings"
	"testing"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func TestParse(t *testing.T) {
	const conf = `Charset: utf-8
MailLists:
	- ^list@example\.org$
MboxType: mmdf
Spam:
	-
		Pattern: ^X-Spam-Score: ([0-9]+)
		Template: %1
`
	c, err := Parse(strings.NewReader(conf))
	tcheck(t, err, "parse")
	if c.MboxType != "mmdf" || len(c.MailLists) != 1 || len(c.Spam) != 1 || c.Spam[0].Template != "%1" {
		t.Fatalf("unexpected config %#v", c)
	}
	if c.ScoreThresholdFlag != 9999 || c.SpamSeparator != "," || c.Sendmail != DefaultSendmail {
		t.Fatalf("defaults not filled in: %#v", c)
	}

	_, err = Parse(strings.NewReader("MboxType: maildir\n"))
	if err == nil {
		t.Fatalf("expected error for bad mbox type")
	}
	_, err = Parse(strings.NewReader("MailLists:\n\t- (\n"))
	if err == nil {
		t.Fatalf("expected error for bad regexp")
	}
}

func TestDescribe(t *testing.T) {
	var b bytes.Buffer
	err := Describe(&b)
	tcheck(t, err, "describe")
	if !strings.Contains(b.String(), "SendCharset") {
		t.Fatalf("describe output lacks field: %s", b.String())
	}

	b.Reset()
	err = Write(&b, Default())
	tcheck(t, err, "write")
	c, err := Parse(&b)
	tcheck(t, err, "parse written config")
	if c.Sort != "date" {
		t.Fatalf("roundtrip lost sort")
	}
}
