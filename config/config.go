// Package config holds the configuration file definitions for mua.
//
// The configuration is in sconf format, see
// https://pkg.go.dev/github.com/mjl-/sconf. Fields are named after the
// options of classic console mail clients. Boolean options whose natural
// default is "yes" are named in the negative, so the zero value is the
// default.
package config

// Static is the parsed form of mua.conf.
type Static struct {
	LogLevel         string            `sconf:"optional" sconf-doc:"NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be on their own line, they don't end a line. Do not escape or quote strings. Details: https://pkg.go.dev/github.com/mjl-/sconf.\n\n\nDefault log level, one of: error, info, debug, trace, traceauth, tracedata. Trace logs SMTP protocol transcripts, with traceauth also authentication commands, and tracedata on top of that also the full message data."`
	PackageLogLevels map[string]string `sconf:"optional" sconf-doc:"Overrides of log level per package (e.g. parse, mbox, send, smtp, hcache)."`
	Hostname         string            `sconf:"optional" sconf-doc:"Fully qualified hostname, used in generated Message-ID headers and as domain for unqualified addresses. Default: the system hostname."`
	Tmpdir           string            `sconf:"optional" sconf-doc:"Directory for temporary files, and for recovery copies of mailboxes after a failed sync. Default: $TMPDIR or /tmp."`

	Charset        string   `sconf:"optional" sconf-doc:"Local character set, text is converted to it for display. Default: utf-8."`
	SendCharset    []string `sconf:"optional" sconf-doc:"Character sets tried in order when encoding outgoing text, the first that can represent the text without loss is used. Default: us-ascii, iso-8859-1, utf-8."`
	AssumedCharset []string `sconf:"optional" sconf-doc:"Character sets assumed for text parts and headers without charset label. The first is used as default for text parts."`
	AttachCharset  []string `sconf:"optional" sconf-doc:"Character sets tried when detecting the charset of a text attachment."`

	Disallow8bit        bool `sconf:"optional" sconf-doc:"Do not send 8-bit data in text parts, use quoted-printable instead."`
	Use8bitMIME         bool `sconf:"optional" sconf-doc:"Pass -B8BITMIME to sendmail when the message contains 8-bit data."`
	EncodeFrom          bool `sconf:"optional" sconf-doc:"Quoted-printable encode text parts that contain a line starting with From, to prevent mangling by mbox based systems."`
	NoRFC2047Parameters bool `sconf:"optional" sconf-doc:"Do not decode RFC 2047 encoded words in MIME parameter values, which some broken mailers send."`
	MimeForwardDecode   bool `sconf:"optional" sconf-doc:"Decode message/rfc822 parts that are forwarded as text."`

	TextFlowed          bool   `sconf:"optional" sconf-doc:"Compose text/plain parts with format=flowed and space-stuff them before sending."`
	NoReflowText        bool   `sconf:"optional" sconf-doc:"Do not reflow format=flowed text for display."`
	ReflowWrap          int    `sconf:"optional" sconf-doc:"Maximum width of reflowed text. A negative value is relative to the screen width. Zero means the default of 78."`
	NoReflowSpaceQuotes bool   `sconf:"optional" sconf-doc:"Do not add a space between quote markers when displaying or replying to format=flowed text."`
	Wrap                int    `sconf:"optional" sconf-doc:"Screen width used when displaying text. Zero means the terminal width, or 80."`
	IndentString        string `sconf:"optional" sconf-doc:"Prefix for quoted lines when replying to non-flowed text. Default: '> '."`

	HeaderOrder        []string `sconf:"optional" sconf-doc:"Header name prefixes in the order they are shown when displaying messages, other headers follow."`
	AlternativeOrder   []string `sconf:"optional" sconf-doc:"Preferred types of multipart/alternative parts, e.g. text/plain, text/enriched or a major type like text. Without a match, text/enriched, text/plain and text/html are preferred in that order."`
	PreferredLanguages []string `sconf:"optional" sconf-doc:"Languages to show of multipart/multilingual messages, e.g. en, de."`

	NoWeed        bool     `sconf:"optional" sconf-doc:"Do not weed headers with the ignore lists when displaying or copying messages."`
	Ignore        []string `sconf:"optional" sconf-doc:"Header name prefixes that are not shown. Default: *, everything."`
	UnIgnore      []string `sconf:"optional" sconf-doc:"Header name prefixes that are shown even when on the ignore list. Default: from, subject, to, cc, date, x-mailer, x-url, user-agent."`
	MailToAllow   []string `sconf:"optional" sconf-doc:"Header fields that may be set from a mailto URL. A value of * allows all. Default: body, cc, in-reply-to, references, subject."`
	AutoSubscribe bool     `sconf:"optional" sconf-doc:"Automatically add the list address of List-Post headers to the subscribed lists."`
	SpamSeparator string   `sconf:"optional" sconf-doc:"Separator between multiple matching spam tags. Default: comma."`
	ReplyRegex    string   `sconf:"optional" sconf-doc:"Regular expression matching reply prefixes in subjects, the remainder is the real subject used for sorting and threading. Default: ^((re|aw|sv)(\\[[0-9]+\\])*:[ \\t]*)*"`
	HiddenHost    bool     `sconf:"optional" sconf-doc:"Do not add the hostname to unqualified addresses."`

	MailLists    []string            `sconf:"optional" sconf-doc:"Regular expressions matching mailing list addresses."`
	UnMailLists  []string            `sconf:"optional" sconf-doc:"Exceptions to MailLists."`
	Subscribe    []string            `sconf:"optional" sconf-doc:"Regular expressions matching addresses of subscribed mailing lists. Subscribed lists are mailing lists too."`
	UnSubscribe  []string            `sconf:"optional" sconf-doc:"Exceptions to Subscribe."`
	Alternates   []string            `sconf:"optional" sconf-doc:"Regular expressions matching addresses of the user, in addition to From."`
	UnAlternates []string            `sconf:"optional" sconf-doc:"Exceptions to Alternates."`
	Spam         []SpamRule          `sconf:"optional" sconf-doc:"Headers that classify a message as spam, with a template for the spam tag."`
	NoSpam       []string            `sconf:"optional" sconf-doc:"Regular expressions of headers that remove earlier spam classification."`
	Groups       map[string][]string `sconf:"optional" sconf-doc:"Named address groups, each with regular expressions matching member addresses. Used in patterns with %."`

	Folder string `sconf:"optional" sconf-doc:"Directory with mailboxes, the = and + prefixes of mailbox paths refer to it. Default: ~/Mail."`
	Spool  string `sconf:"optional" sconf-doc:"Incoming mailbox, the ! mailbox path refers to it. Default: $MAIL."`

	MboxType      string `sconf:"optional" sconf-doc:"Format of newly created mailboxes, mbox or mmdf. Default: mbox."`
	CheckMboxSize bool   `sconf:"optional" sconf-doc:"Use the file size instead of access time to detect new mail in mailboxes."`
	LockRetries   int    `sconf:"optional" sconf-doc:"Number of attempts, a second apart, to acquire a mailbox lock. Default: 5."`

	StrictThreads      bool `sconf:"optional" sconf-doc:"Only thread messages by references, do not group messages with the same subject."`
	NoDuplicateThreads bool `sconf:"optional" sconf-doc:"Do not thread messages with the same Message-ID as children of the first."`

	NoThoroughSearch      bool   `sconf:"optional" sconf-doc:"Search the raw message in body and header patterns, instead of the decoded text."`
	ExternalSearchCommand string `sconf:"optional" sconf-doc:"Command run for ~I patterns, with the mailbox path and the search terms appended. It prints one Message-ID per line."`

	Sort    string `sconf:"optional" sconf-doc:"Sort order of messages, e.g. date, date-received, from, to, subject, score, size, spam, label, unsorted, optionally prefixed with reverse-. Default: date."`
	SortAux string `sconf:"optional" sconf-doc:"Secondary sort order. Default: date."`

	DefaultHook string `sconf:"optional" sconf-doc:"Pattern used for hooks given a plain string instead of a pattern, with %s replaced by the string. Default: ~f %s !~P | (~P ~C %s)."`
	SaveAddress bool   `sconf:"optional" sconf-doc:"Use the full address including domain for default save and fcc mailbox names."`
	SaveName    bool   `sconf:"optional" sconf-doc:"Save copies of sent messages in a mailbox named after the recipient, if it exists."`
	ForceName   bool   `sconf:"optional" sconf-doc:"Save copies of sent messages in a mailbox named after the recipient, creating it if needed."`

	NoScore              bool     `sconf:"optional" sconf-doc:"Do not apply score rules."`
	ScoreThresholdDelete int      `sconf:"optional" sconf-doc:"Messages with a score at or below this value are marked deleted. Default: -1, disabled."`
	ScoreThresholdRead   int      `sconf:"optional" sconf-doc:"Messages with a score at or below this value are marked read. Default: -1, disabled."`
	ScoreThresholdFlag   int      `sconf:"optional" sconf-doc:"Messages with a score at or above this value are flagged. Default: 9999."`
	Scores               []string `sconf:"optional" sconf-doc:"Score rules, each a pattern followed by a value, e.g. '~f boss@example.org 50'. A value prefixed with = sets the score and stops evaluation."`
	Hooks                []string `sconf:"optional" sconf-doc:"Hook commands, e.g. send-hook '~t list@example.org' 'my_hdr X-List: yes'."`

	FromAddress             string   `sconf:"optional" sconf-doc:"Default From address of composed messages."`
	MyHeaders               []string `sconf:"optional" sconf-doc:"Headers added to composed messages, as 'Name: value'. From, Reply-To and Message-ID replace the defaults."`
	ForwardFormat           string   `sconf:"optional" sconf-doc:"Subject of forwarded messages, with index expandos of the forwarded message. Default: [%a: %s]."`
	QueryCommand            string   `sconf:"optional" sconf-doc:"Command to query an address book, with %s replaced by the quoted query. The output is a line with a message, then one match per line: address, name and comment separated by tabs."`
	EmptySubject            string   `sconf:"optional" sconf-doc:"Subject of replies to messages without subject. Default: Re: your mail."`
	RealName                string   `sconf:"optional" sconf-doc:"Display name for the From address."`
	UserAgent               bool     `sconf:"optional" sconf-doc:"Add a User-Agent header to composed messages."`
	Sendmail                string   `sconf:"optional" sconf-doc:"Command to deliver messages, used when SMTPURL is not set. Arguments after -- are added after the recipients. Default: /usr/sbin/sendmail -oem -oi."`
	SendmailWait            int      `sconf:"optional" sconf-doc:"Seconds to wait for sendmail to finish. Zero waits indefinitely. If the time passes, sendmail continues in the background. A negative value does not wait at all."`
	SMTPURL                 string   `sconf:"optional" sconf-doc:"SMTP submission server, e.g. smtps://user@host:465 or smtp://host:587. STARTTLS is used with smtp:// when offered."`
	SMTPUser                string   `sconf:"optional" sconf-doc:"Username for SMTP authentication, if not in SMTPURL."`
	SMTPPassword            string   `sconf:"optional" sconf-doc:"Password for SMTP authentication."`
	SMTPAuthenticators      []string `sconf:"optional" sconf-doc:"SASL mechanisms to try in order, of: PLAIN, LOGIN. Default: all supported by the server."`
	UseEnvelopeFrom         bool     `sconf:"optional" sconf-doc:"Pass the sender with -f to sendmail."`
	EnvelopeFromAddress     string   `sconf:"optional" sconf-doc:"Envelope sender used with UseEnvelopeFrom. Default: the From address."`
	DSNNotify               string   `sconf:"optional" sconf-doc:"Delivery status notification request, e.g. failure,delay."`
	DSNReturn               string   `sconf:"optional" sconf-doc:"Delivery status notification return, hdrs or full."`
	WriteBcc                bool     `sconf:"optional" sconf-doc:"Include the Bcc header in sent messages. The header is always kept in saved and postponed copies."`
	Record                  string   `sconf:"optional" sconf-doc:"Mailbox to save copies of sent messages in (fcc). Empty disables saving."`
	FccBeforeSend           bool     `sconf:"optional" sconf-doc:"Save the copy before sending instead of after."`
	FccClear                bool     `sconf:"optional" sconf-doc:"Save copies unencrypted and unsigned."`
	Postponed               string   `sconf:"optional" sconf-doc:"Mailbox for postponed messages. Default: ~/postponed."`
	NoHonorFollowupTo       bool     `sconf:"optional" sconf-doc:"Ignore Mail-Followup-To when replying to a list."`
	IgnoreListReplyTo       bool     `sconf:"optional" sconf-doc:"Ignore a Reply-To that points back to the mailing list."`
	ReplySelf               bool     `sconf:"optional" sconf-doc:"When replying to a message sent by the user, reply to the user instead of to the original recipients."`
	Metoo                   bool     `sconf:"optional" sconf-doc:"Keep the user's own addresses in the recipients of replies."`
	NoBounceDelivered       bool     `sconf:"optional" sconf-doc:"Remove Delivered-To headers when bouncing messages."`
	AbortUnmodified         string   `sconf:"optional" sconf-doc:"Abort sending when the message was not modified in the editor: yes, no. Default: yes."`
	PostponeEncrypt         bool     `sconf:"optional" sconf-doc:"Encrypt postponed messages that are to be encrypted when sent. Requires a crypto provider."`
	ProtectedHeadersWrite   bool     `sconf:"optional" sconf-doc:"Write protected headers in encrypted messages."`
	ProtectedHeadersSubject string   `sconf:"optional" sconf-doc:"Replacement for the outer Subject when protected headers are written. Default: ..."`

	HeaderCache         string `sconf:"optional" sconf-doc:"Path of the header cache database. Empty disables caching of parsed mailboxes."`
	HeaderCacheBackend  string `sconf:"optional" sconf-doc:"Header cache storage, one of bstore, bolt, sqlite. Default: bstore."`
	HeaderCacheCompress bool   `sconf:"optional" sconf-doc:"Compress header cache entries with zstd."`

	TagTransforms map[string]string `sconf:"optional" sconf-doc:"Display names for driver tags, e.g. inbox: i."`
}

// SpamRule classifies messages with a matching header as spam.
type SpamRule struct {
	Pattern  string `sconf-doc:"Regular expression matched against each header line."`
	Template string `sconf-doc:"Spam tag, with %1 to %9 replaced by the regular expression submatches."`
}
