package send

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/metrics"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/msgcopy"
	"github.com/muacore/mua/parse"
	"github.com/muacore/mua/rfc2047"
)

// Bounce redelivers message e, read from in, to the addresses in to. The
// message is sent unchanged with Resent-* headers added.
func (s *Sender) Bounce(ctx context.Context, in io.ReaderAt, e *email.Email, to address.List) (Status, error) {
	log := pkglog.WithContext(ctx)
	c := s.Config
	if e.Body == nil {
		return 0, fmt.Errorf("%w: message without body", ErrSyntax)
	}
	to = to.Copy(true)
	to.Qualify(c.Hostname())
	if to.CountRecips() == 0 {
		return 0, ErrNoRecipients
	}

	from := c.From()
	if from == nil {
		return 0, fmt.Errorf("%w: no from address for resent-from", ErrAddress)
	}
	if from.Personal == "" {
		from.Personal = c.Static.RealName
	}
	fromList := address.List{from}
	fromList.Qualify(c.Hostname())
	rfc2047.EncodeAddrList(fromList, "Resent-From", c.SendCharsets())
	if failed := fromList.ToIntl(); len(failed) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrAddress, failed[0])
	}
	if failed := to.ToIntl(); len(failed) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrAddress, failed[0])
	}

	flags := msgcopy.HXmit | msgcopy.HNoStatus | msgcopy.HNoQFrom | msgcopy.HNoNewline
	if c.Static.NoBounceDelivered {
		flags |= msgcopy.HWeedDelivered
	}
	now := s.now()
	tr := s.transport()
	path, _, err := s.writeTemp(ctx, "bounce", func(f *os.File) error {
		if err := fromList.WriteFile(f, "Resent-From"); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(f, "Resent-Date: %s\nResent-Message-ID: %s\n", parse.FormatDate(now), c.MessageIDGen(now)); err != nil {
			return err
		}
		if err := to.WriteFile(f, "Resent-To"); err != nil {
			return err
		}
		if err := msgcopy.CopyEmailHeader(c, in, e, f, flags, msgcopy.CopyOpts{}); err != nil {
			return err
		}
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
		_, err := io.Copy(f, io.NewSectionReader(in, e.Body.Offset, e.Body.Length))
		return err
	}, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		err := os.Remove(path)
		log.Check(err, "removing temporary message file", slog.String("path", path))
	}()

	d := Delivery{
		From:     fromList,
		To:       to,
		Path:     path,
		EightBit: e.Body.Encoding == mime.Enc8bit,
	}
	status, err := tr.Deliver(ctx, d)
	metrics.SendInc(tr.Name(), sendResult(err))
	if err != nil {
		return 0, err
	}
	log.Info("message bounced", slog.Any("to", to.Mailboxes()))
	return status, nil
}
