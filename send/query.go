package send

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/mua-"
)

// ErrQuery is returned when the query command fails. The message printed by
// the command is part of the error.
var ErrQuery = errors.New("send: query command failed")

// QueryResult is a match returned by the query command.
type QueryResult struct {
	Addr    address.List
	Name    string
	Comment string
	Other   string // Fields after the comment.
}

// ParseQueryOutput parses the output of a query command. The first line is
// returned as msg. Each further line is a match with address, name and
// comment separated by tabs. Lines without a tab are skipped.
func ParseQueryOutput(r io.Reader) (msg string, results []QueryResult, rerr error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)
	if scanner.Scan() {
		msg = strings.TrimRight(scanner.Text(), "\r")
	}
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		t := strings.SplitN(line, "\t", 4)
		if len(t) < 2 {
			continue
		}
		qr := QueryResult{Addr: address.Parse(t[0]), Name: t[1]}
		if len(t) > 2 {
			qr.Comment = t[2]
		}
		if len(t) > 3 {
			qr.Other = t[3]
		}
		results = append(results, qr)
	}
	if err := scanner.Err(); err != nil {
		return msg, results, fmt.Errorf("reading query output: %w", err)
	}
	return msg, results, nil
}

// Query runs the QueryCommand for s, with %s in the command replaced by the
// shell quoted query.
func Query(ctx context.Context, c *mua.Config, s string) (string, []QueryResult, error) {
	log := pkglog.WithContext(ctx)
	qc := c.Static.QueryCommand
	if qc == "" {
		return "", nil, fmt.Errorf("%w: no query command configured", ErrQuery)
	}
	line := strings.ReplaceAll(qc, "%s", shellquote.Join(s))
	words, err := shellquote.Split(line)
	if err != nil || len(words) == 0 {
		return "", nil, fmt.Errorf("%w: parsing command %q: %v", ErrSyntax, line, err)
	}
	cmd := exec.CommandContext(ctx, words[0], words[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	log.Debug("running query command", slog.Any("args", words))
	out, err := cmd.Output()
	msg, results, perr := ParseQueryOutput(bytes.NewReader(out))
	if err != nil {
		if msg == "" {
			msg = strings.TrimSpace(stderr.String())
		}
		return msg, nil, fmt.Errorf("%w: %s: %v", ErrQuery, msg, err)
	}
	if perr != nil {
		return msg, nil, perr
	}
	log.Debug("query results", slog.Int("count", len(results)))
	return msg, results, nil
}
