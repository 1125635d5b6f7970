package send

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/mua-"
)

// Delivery is a message to deliver.
type Delivery struct {
	From address.List
	To   address.List
	Cc   address.List
	Bcc  address.List

	Path     string // File with the message, header and body.
	EightBit bool   // Some part has 8bit transfer encoding.
}

// recipients returns the mailboxes of all recipients.
func (d Delivery) recipients() []string {
	var l []string
	for _, al := range []address.List{d.To, d.Cc, d.Bcc} {
		l = append(l, al.Mailboxes()...)
	}
	return l
}

// Transport delivers messages.
type Transport interface {
	Name() string
	// WritesBcc returns whether the Bcc header may be included in the
	// delivered message, for transports that remove it themselves.
	WritesBcc() bool
	Deliver(ctx context.Context, d Delivery) (Status, error)
}

// NewTransport returns the SMTP transport if an SMTP URL is configured, and
// the sendmail transport otherwise.
func NewTransport(c *mua.Config) Transport {
	if c.Static.SMTPURL != "" {
		return &SMTP{Config: c}
	}
	return &Sendmail{Config: c}
}

// envelopeFrom returns the envelope sender for a delivery, or an empty string
// if none is configured.
func envelopeFrom(c *mua.Config, from address.List) string {
	if c.Static.EnvelopeFromAddress != "" {
		if l := address.Parse(c.Static.EnvelopeFromAddress); len(l) > 0 {
			return l[0].Mailbox
		}
	}
	if mbs := from.Mailboxes(); len(mbs) == 1 {
		return mbs[0]
	}
	return ""
}

// Sendmail delivers messages by running the configured sendmail command
// with the message on standard input.
type Sendmail struct {
	Config *mua.Config
}

func (s *Sendmail) Name() string {
	return "sendmail"
}

func (s *Sendmail) WritesBcc() bool {
	return s.Config.Static.WriteBcc
}

// Args returns the command line for delivering d.
func (s *Sendmail) Args(d Delivery) ([]string, error) {
	static := s.Config.Static
	words, err := shellquote.Split(static.Sendmail)
	if err != nil {
		return nil, fmt.Errorf("%w: sendmail command %q: %v", ErrSyntax, static.Sendmail, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: empty sendmail command", ErrSyntax)
	}

	// Arguments after -- follow the recipients.
	var extra []string
	for i, w := range words {
		if w == "--" {
			words, extra = words[:i], words[i+1:]
			break
		}
	}
	args := append([]string{}, words...)
	if d.EightBit && static.Use8bitMIME {
		args = append(args, "-B8BITMIME")
	}
	if static.UseEnvelopeFrom {
		if from := envelopeFrom(s.Config, d.From); from != "" {
			args = append(args, "-f", from)
		}
	}
	if static.DSNNotify != "" {
		args = append(args, "-N", static.DSNNotify)
	}
	if static.DSNReturn != "" {
		args = append(args, "-R", static.DSNReturn)
	}
	args = append(args, "--")
	args = append(args, extra...)
	args = append(args, d.recipients()...)
	return args, nil
}

// Deliver runs sendmail. With a negative SendmailWait, sendmail is not
// waited for and the message counts as sent. With a positive SendmailWait,
// sendmail continues in the background when it takes longer, and
// StatusBackground is returned. Results of sendmail in the background are
// only logged.
func (s *Sendmail) Deliver(ctx context.Context, d Delivery) (Status, error) {
	log := pkglog.WithContext(ctx)
	args, err := s.Args(d)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(d.Path)
	if err != nil {
		return 0, fmt.Errorf("opening message: %w", err)
	}
	defer func() {
		err := f.Close()
		log.Check(err, "closing message file")
	}()

	// The context does not kill sendmail: it may continue in the background.
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = f
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	detach(cmd)

	log.Debug("running sendmail", slog.Any("args", args))
	if err := cmd.Start(); err != nil {
		return 0, &MTAError{Transport: s.Name(), Code: -1, Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	background := func() {
		go func() {
			err := <-done
			log.Check(s.result(err, &out), "sendmail in background")
		}()
	}

	wait := s.Config.Static.SendmailWait
	if wait < 0 {
		background()
		return StatusSent, nil
	}
	var timeout <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(time.Duration(wait) * time.Second)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case err := <-done:
		return StatusSent, s.result(err, &out)
	case <-timeout:
		log.Info("sendmail continues in background", slog.Int("wait", wait))
		background()
		return StatusBackground, nil
	case <-ctx.Done():
		log.Info("sendmail continues in background after cancel")
		background()
		return 0, ctx.Err()
	}
}

func (s *Sendmail) result(err error, out *bytes.Buffer) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &MTAError{Transport: s.Name(), Code: exitErr.ExitCode(), Output: strings.TrimSpace(out.String())}
	}
	return &MTAError{Transport: s.Name(), Code: -1, Err: err}
}
