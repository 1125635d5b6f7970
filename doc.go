/*
Command mua reads, filters, sorts, composes and sends email in local mailbox
files.

  - Reads and writes mbox and MMDF mailboxes, with locking and detection of
    changes by other programs.
  - Caches parsed headers of large mailboxes, in a bstore, bolt or sqlite
    database.
  - Searches messages with patterns, scores them, and sorts and threads them.
  - Composes messages with send hooks and configured headers, and delivers
    them with sendmail or SMTP.
  - Watches mailboxes for new mail, optionally exporting Prometheus metrics.

# Commands

	mua [-config mua.conf] [-loglevel level] ...
	mua version
	mua help [command ...]
	mua config describe >mua.conf
	mua config test
	mua parse [-body] [message-file]
	mua mbox list [-sort order] [-pattern pattern] mailbox
	mua mbox check [-wait duration] mailbox
	mua mbox sync [-delete pattern] [-read pattern] [-flag pattern] mailbox
	mua mbox append mailbox [message-file]
	mua mbox stats mailbox ...
	mua flowed [-delsp] [-quote] [file]
	mua rfc2047 encode [-charset charset ...] [-specials chars] [-col n] text
	mua rfc2047 decode [-assumed charset,...] text
	mua pattern test [-count] pattern mailbox
	mua score [-rules file] [-v] mailbox
	mua send [-s subject] [-c cc] [-b bcc] [-a file ...] [-fcc mailbox] [-batch] [-in mailbox -reply msgno [-group | -list]] [address ...]
	mua bounce mailbox msgno address ...
	mua postpone [-s subject] [-c cc] [-b bcc] [-a file ...] [-fcc mailbox] [-batch] [address ...]
	mua recall [-index n] [-send] [-in mailbox]
	mua query query
	mua watch [-poll interval] [-metrics address] [mailbox ...]
	mua hcache stats
	mua hcache purge

The configuration file is read from the -config flag, the MUACONF environment
variable, or mua/mua.conf in the user configuration directory. Without a
configuration file at the default location, the defaults are used.

Mailbox arguments are expanded: "~" is the home directory, "=" and "+" refer
to the configured folder, and "!" is the spool mailbox.

# mua config describe

Prints an annotated empty configuration for use as mua.conf.

All fields are optional, the defaults are used for missing fields.

	usage: mua config describe >mua.conf

# mua config test

Parses and validates the configuration file.

If valid, the command exits with status 0. If not valid, all errors encountered
are printed. The scores, user headers and hooks are checked too.

	usage: mua config test

# mua parse

Parse a message and print its envelope and MIME structure.

The message is read from the file, or from standard input. With -body, the
decoded body is printed as it would be displayed.

	usage: mua parse [-body] [message-file]
	  -body
	    	print the decoded body

# mua mbox list

List the messages of a mailbox.

The sort order is a sort key like "date", "from", "subject", "score", "size" or
"threads", prefixed with "reverse-" for descending order. Without -sort, the
configured sort order is used. With -pattern, only matching messages are
listed, see "mua pattern test".

	usage: mua mbox list [-sort order] [-pattern pattern] mailbox
	  -pattern string
	    	only list messages matching pattern
	  -sort string
	    	sort order

# mua mbox check

Open a mailbox, wait, and check it for changes by other programs.

New messages appended by another program are parsed. When the file was
rewritten, the mailbox is reopened. The result and the message counts are
printed.

	usage: mua mbox check [-wait duration] mailbox
	  -wait duration
	    	time to wait before checking (default 10s)

# mua mbox sync

Change flags of messages and write the changes to the mailbox.

Messages matching the -delete pattern are removed from the mailbox. Messages
matching -read are marked as read, and -flag as flagged. The mailbox is not
written if another program changed it.

	usage: mua mbox sync [-delete pattern] [-read pattern] [-flag pattern] mailbox

# mua mbox append

Append a message to a mailbox.

The message is read from the file, or from standard input. The mailbox is
created if it does not exist.

	usage: mua mbox append mailbox [message-file]
	  -read
	    	mark the message as read

# mua mbox stats

Print message counts of mailboxes.

The mailboxes are checked concurrently.

	usage: mua mbox stats mailbox ...

# mua flowed

Reformat format=flowed text for display, or for quoting in a reply.

	usage: mua flowed [-delsp] [-quote] [file]

# mua rfc2047 encode

Encode text as RFC 2047 encoded-words for use in a header.

	usage: mua rfc2047 encode [-charset charset ...] [-specials chars] [-col n] text

# mua rfc2047 decode

Decode RFC 2047 encoded-words in header text.

	usage: mua rfc2047 decode [-assumed charset,...] text

# mua pattern test

Print the messages of a mailbox matching a pattern.

Patterns consist of terms like "~f alice" (from), "~s subject", "~b body", "~N"
(new), "~d <1w" (date), combined with "!" (not), "|" (or) and parentheses. A
pattern without "~" searches the configured simple search.

	usage: mua pattern test [-count] pattern mailbox

# mua score

Score the messages of a mailbox and print the scores.

	usage: mua score [-rules file] [-v] mailbox

# mua send

Compose and send a message.

The body is read from standard input with -batch or when it is not a terminal.
Otherwise an editor is started, from $VISUAL or $EDITOR. Send hooks and the
configured headers are applied, and the message is delivered with sendmail or
SMTP, depending on the configuration. A copy is saved in the fcc mailbox.

	usage: mua send [-s subject] [-c cc] [-b bcc] [-a file ...] [-fcc mailbox] [-batch] [-in mailbox -reply msgno [-group | -list]] [address ...]

# mua bounce

Bounce a message to other recipients.

	usage: mua bounce mailbox msgno address ...

# mua postpone

Compose a message and save it as a draft in the postponed mailbox.

	usage: mua postpone [-s subject] [-c cc] [-b bcc] [-a file ...] [-fcc mailbox] [-batch] [address ...]

# mua recall

Recall a postponed message.

	usage: mua recall [-index n] [-send] [-in mailbox]

# mua query

Look up addresses with the configured query command.

	usage: mua query query

# mua watch

Watch mailboxes and print a line when they change.

Without mailboxes, the spool mailbox is watched. With -metrics, message counts
are exported in Prometheus format at /metrics on the address.

	usage: mua watch [-poll interval] [-metrics address] [mailbox ...]

# mua hcache stats

Print statistics of the header cache.

	usage: mua hcache stats

# mua hcache purge

Remove stale entries from the header cache.

	usage: mua hcache purge

# mua version

Prints this mua version.

	usage: mua version
*/
package main
