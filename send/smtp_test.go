package send

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/config"
)

// testBackend is an SMTP server that keeps the last submitted message.
type testBackend struct {
	sync.Mutex
	user     string
	password string
	authed   bool
	from     string
	body8bit bool
	rcpts    []string
	data     string
	reject   string // Recipient to reject.
}

func (be *testBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &testSession{be: be}, nil
}

type testSession struct {
	be *testBackend
}

func (s *testSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *testSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.be.user || password != s.be.password {
			return &smtp.SMTPError{Code: 535, EnhancedCode: smtp.EnhancedCode{5, 7, 8}, Message: "bad credentials"}
		}
		s.be.Lock()
		s.be.authed = true
		s.be.Unlock()
		return nil
	}), nil
}

func (s *testSession) Mail(from string, opts *smtp.MailOptions) error {
	s.be.Lock()
	defer s.be.Unlock()
	if s.be.user != "" && !s.be.authed {
		return errors.New("authentication required")
	}
	s.be.from = from
	s.be.body8bit = opts != nil && opts.Body == smtp.Body8BitMIME
	s.be.rcpts = nil
	return nil
}

func (s *testSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.be.Lock()
	defer s.be.Unlock()
	if to == s.be.reject {
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "no such user"}
	}
	s.be.rcpts = append(s.be.rcpts, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.be.Lock()
	defer s.be.Unlock()
	s.be.data = string(buf)
	return nil
}

func (s *testSession) Reset() {}

func (s *testSession) Logout() error {
	return nil
}

func startSMTP(t *testing.T, be *testBackend) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	tcheck(t, err, "listen")
	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Close()
	})
	return ln.Addr().String()
}

func TestSMTPDeliver(t *testing.T) {
	be := &testBackend{user: "mjl", password: "test1234", reject: "nobody@example.org"}
	addr := startSMTP(t, be)

	c := testConfig(t, func(s *config.Static) {
		s.SMTPURL = "smtp://mjl:test1234@" + addr
	})
	msg := writeFile(t, "msg", "From: me@example.org\nTo: bob@example.org\nSubject: over smtp\n\nbody\n")
	d := Delivery{
		From:     address.Parse("me@example.org"),
		To:       address.Parse("bob@example.org"),
		Bcc:      address.Parse("carol@example.org"),
		Path:     msg,
		EightBit: true,
	}
	tr := NewTransport(c)
	status, err := tr.Deliver(ctxbg, d)
	tcheck(t, err, "deliver")
	tcompare(t, status, StatusSent)

	be.Lock()
	tcompare(t, be.authed, true)
	tcompare(t, be.from, "me@example.org")
	tcompare(t, be.rcpts, []string{"bob@example.org", "carol@example.org"})
	tcompare(t, be.body8bit, true)
	data := be.data
	be.Unlock()
	if !strings.Contains(data, "Subject: over smtp") || !strings.Contains(data, "body") {
		t.Fatalf("unexpected data %q", data)
	}

	// Rejected recipient.
	d.To = address.Parse("nobody@example.org")
	_, err = tr.Deliver(ctxbg, d)
	var mtaErr *MTAError
	if !errors.As(err, &mtaErr) {
		t.Fatalf("got %v, expected MTAError", err)
	}
	tcompare(t, mtaErr.Code, 550)
	tcompare(t, mtaErr.Temporary(), false)

	// Bad password.
	c = testConfig(t, func(s *config.Static) {
		s.SMTPURL = "smtp://" + addr
		s.SMTPUser = "mjl"
		s.SMTPPassword = "wrong"
	})
	_, err = NewTransport(c).Deliver(ctxbg, d)
	if !errors.Is(err, ErrMTA) {
		t.Fatalf("got %v, expected MTAError", err)
	}
}
