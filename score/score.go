// Package score assigns scores to messages with rules of a pattern and a
// value, and flags messages based on the score thresholds.
package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/emailsort"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/mlog"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/pattern"
)

var pkglog = mlog.New("score", nil)

var ErrSyntax = errors.New("score: syntax error")

// Saturating values set the score of a matching message like exact rules.
const (
	Max = 9999
	Min = -9999
)

// Rule adds Value to the score of messages matching Pattern, or sets the
// score if Exact.
type Rule struct {
	Pattern string
	Value   int
	Exact   bool

	pat *pattern.Pattern
}

func (r Rule) String() string {
	v := strconv.Itoa(r.Value)
	if r.Exact {
		v = "=" + v
	}
	return r.Pattern + " " + v
}

// Scorer holds the score rules in order of definition.
type Scorer struct {
	Config *mua.Config

	rules   []*Rule
	rescore bool
}

// New returns a scorer without rules.
func New(c *mua.Config) *Scorer {
	return &Scorer{Config: c}
}

// Load returns a scorer with the rules of c.Static.Scores, each a pattern
// followed by a value.
func Load(ctx context.Context, c *mua.Config) (*Scorer, error) {
	s := New(c)
	for _, line := range c.Static.Scores {
		line = strings.TrimSpace(line)
		i := strings.LastIndexAny(line, " \t")
		if i < 0 {
			return nil, fmt.Errorf("%w: %q: missing value", ErrSyntax, line)
		}
		if err := s.Add(ctx, strings.TrimSpace(line[:i]), line[i+1:]); err != nil {
			return nil, fmt.Errorf("score %q: %w", line, err)
		}
	}
	return s, nil
}

func parseValue(v string) (int, bool, error) {
	exact := strings.HasPrefix(v, "=")
	n, err := strconv.Atoi(strings.TrimPrefix(v, "="))
	if err != nil {
		return 0, false, fmt.Errorf("%w: invalid number %q", ErrSyntax, v)
	}
	return n, exact, nil
}

// Add adds a rule, or changes the value of an existing rule with the same
// pattern. Value is a number, prefixed with "=" for an exact rule.
func (s *Scorer) Add(ctx context.Context, pat, value string) error {
	n, exact, err := parseValue(value)
	if err != nil {
		return err
	}
	var rule *Rule
	for _, r := range s.rules {
		if r.Pattern == pat {
			rule = r
			break
		}
	}
	if rule == nil {
		p, err := pattern.Compile(ctx, s.Config, pat, pattern.Options{Flags: pattern.Dynamic})
		if err != nil {
			return err
		}
		rule = &Rule{Pattern: pat, pat: p}
		s.rules = append(s.rules, rule)
	}
	rule.Value = n
	rule.Exact = exact
	s.rescore = true
	pkglog.WithContext(ctx).Debug("score rule", slog.String("pattern", pat), slog.Int("value", n), slog.Bool("exact", exact))
	return nil
}

// Remove removes the rules with the given patterns, or all rules for "*".
func (s *Scorer) Remove(patterns ...string) {
	for _, pat := range patterns {
		if pat == "*" {
			s.rules = nil
			continue
		}
		var l []*Rule
		for _, r := range s.rules {
			if r.Pattern != pat {
				l = append(l, r)
			}
		}
		s.rules = l
	}
	s.rescore = true
}

// Execute runs a "score pattern value" or "unscore pattern..." command line.
// It returns false for other commands.
func (s *Scorer) Execute(ctx context.Context, line string) (bool, error) {
	args, err := shellquote.Split(line)
	if err != nil || len(args) == 0 {
		return false, nil
	}
	switch args[0] {
	case "score":
		if len(args) < 3 {
			return true, fmt.Errorf("%w: too few arguments", ErrSyntax)
		}
		if len(args) > 3 {
			return true, fmt.Errorf("%w: too many arguments", ErrSyntax)
		}
		return true, s.Add(ctx, args[1], args[2])
	case "unscore":
		if len(args) < 2 {
			return true, fmt.Errorf("%w: too few arguments", ErrSyntax)
		}
		s.Remove(args[1:]...)
		return true, nil
	}
	return false, nil
}

// Rules returns a copy of the rules.
func (s *Scorer) Rules() []Rule {
	l := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		l[i] = *r
	}
	return l
}

// Invalidate marks the scores of messages as outdated, e.g. after changing
// the thresholds.
func (s *Scorer) Invalidate() {
	s.rescore = true
}

// NeedRescore returns whether rules changed since the last Rescore.
func (s *Scorer) NeedRescore() bool {
	return s.rescore
}

// ScoreMessage computes the score of e and sets the deleted, read and
// flagged flags for scores past the thresholds. It returns whether flags
// changed.
func (s *Scorer) ScoreMessage(ctx context.Context, m *pattern.Matcher, e *email.Email) bool {
	mm := *m
	mm.FullAddress = true
	cache := &pattern.Cache{}
	e.Score = 0
	for _, r := range s.rules {
		if !mm.Match(ctx, r.pat, e, cache) {
			continue
		}
		if r.Exact || r.Value == Max || r.Value == Min {
			e.Score = r.Value
			break
		}
		e.Score += r.Value
	}
	if e.Score < 0 {
		e.Score = 0
	}

	static := s.Config.Static
	var changed bool
	if e.Score <= static.ScoreThresholdDelete {
		changed = e.SetFlag(email.FlagDeleted, true) || changed
	}
	if e.Score <= static.ScoreThresholdRead {
		changed = e.SetFlag(email.FlagRead, true) || changed
	}
	if e.Score >= static.ScoreThresholdFlag {
		changed = e.SetFlag(email.FlagFlagged, true) || changed
	}
	return changed
}

// Rescore scores all messages of the mailbox if rules changed. It returns
// whether the mailbox must be sorted again because it is sorted by score.
func (s *Scorer) Rescore(ctx context.Context, m *pattern.Matcher, mb *mailbox.Mailbox) bool {
	if !s.rescore || s.Config.Static.NoScore {
		return false
	}
	log := pkglog.WithContext(ctx)
	var flagged int
	for _, e := range mb.Emails {
		if s.ScoreMessage(ctx, m, e) {
			flagged++
		}
	}
	mb.UpdateCounts()
	s.rescore = false
	log.Debug("rescored mailbox", slog.String("mailbox", mb.Path), slog.Int("messages", len(mb.Emails)), slog.Int("flagschanged", flagged))

	primary, aux, err := emailsort.Orders(s.Config)
	if err != nil {
		log.Debugx("sort orders", err)
		return false
	}
	return primary.Key == emailsort.KeyScore || aux.Key == emailsort.KeyScore
}
