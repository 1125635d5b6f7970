package handler

import (
	"context"
	"io"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/msgcopy"
	"github.com/muacore/mua/mua-"
)

// CopyMessage copies message e from in to out like msgcopy.CopyMessage,
// writing the body through the handlers for msgcopy.MDecode.
func CopyMessage(ctx context.Context, c *mua.Config, in io.ReaderAt, e *email.Email, out io.Writer, mflags msgcopy.MessageFlags, hflags msgcopy.HeaderFlags, opts msgcopy.CopyOpts, crypto Crypto) error {
	if mflags&msgcopy.MDecode != 0 {
		opts.Decode = func(w io.Writer, prefix string) error {
			s := NewState(ctx, c, in, w, copyStateFlags(mflags))
			if mflags&msgcopy.MPrefix != 0 {
				s.Prefix = prefix
			}
			s.WrapLen = opts.WrapLen
			s.Crypto = crypto
			if err := BodyHandler(s, e.Body); err != nil {
				return err
			}
			return s.Err()
		}
	}
	return msgcopy.CopyMessage(c, in, e, out, mflags, hflags, opts)
}

func copyStateFlags(mflags msgcopy.MessageFlags) Flags {
	var flags Flags
	for _, m := range []struct {
		mf msgcopy.MessageFlags
		f  Flags
	}{
		{msgcopy.MDisplay, Display},
		{msgcopy.MPrinting, Printing},
		{msgcopy.MVerify, Verify},
		{msgcopy.MCharConv, CharConv},
		{msgcopy.MReplying, Replying},
		{msgcopy.MWeed, Weed},
	} {
		if mflags&m.mf != 0 {
			flags |= m.f
		}
	}
	return flags
}
