package mua

import (
	"encoding/base32"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageIDGen returns a new Message-ID, including the angle brackets, in the
// form <YYYYMMDDhhmmss.random@host>.
func (c *Config) MessageIDGen(now time.Time) string {
	id := uuid.New()
	rnd := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(id[:]))
	host := c.Hostname()
	if host == "" {
		host = "localhost"
	}
	return "<" + now.UTC().Format("20060102150405") + "." + rnd[:12] + "@" + host + ">"
}
