// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/sstable"
	"github.com/cockroachdb/errors"
)

var stdout = io.Writer(os.Stdout)
var stderr = io.Writer(os.Stderr)
var stdin = io.Reader(os.Stdin)
var osExit = os.Exit

type key []byte

func (k *key) String() string {
	return string(*k)
}

func (k *key) Type() string {
	return "key"
}

func (k *key) Set(v string) error {
	switch {
	case strings.HasPrefix(v, "hex:"):
		v = strings.TrimPrefix(v, "hex:")
		b, err := hex.DecodeString(v)
		if err != nil {
			return err
		}
		*k = key(b)

	case strings.HasPrefix(v, "raw:"):
		*k = key(strings.TrimPrefix(v, "raw:"))

	default:
		*k = key(v)
	}
	return nil
}

type formatter struct {
	spec string
	fn   base.FormatKey
}

func (f *formatter) String() string {
	return f.spec
}

func (f *formatter) Type() string {
	return "formatter"
}

func (f *formatter) Set(spec string) error {
	f.spec = spec
	switch spec {
	case "null":
		f.fn = formatNull
	case "quoted":
		f.fn = formatQuoted
	case "pretty":
		f.fn = base.DefaultFormatter
	default:
		if strings.Count(spec, "%") != 1 {
			return errors.Errorf("unknown formatter: %q", spec)
		}
		f.fn = func(v []byte) fmt.Formatter {
			return fmtFormatter{spec, v}
		}
	}
	return nil
}

func (f *formatter) mustSet(spec string) {
	if err := f.Set(spec); err != nil {
		panic(err)
	}
}

// setForComparer sets the key formatter to the comparer's FormatKey if the
// "pretty" formatter was requested.
func (f *formatter) setForComparer(c *base.Comparer) {
	if f.spec == "pretty" && c != nil && c.FormatKey != nil {
		f.fn = c.FormatKey
	}
}

type fmtFormatter struct {
	fmt string
	v   []byte
}

func (f fmtFormatter) Format(s fmt.State, c rune) {
	fmt.Fprintf(s, f.fmt, f.v)
}

func formatNull(v []byte) fmt.Formatter {
	return fmtFormatter{"%.0s", v}
}

type quoted []byte

func (q quoted) Format(s fmt.State, c rune) {
	b := strconv.AppendQuote(make([]byte, 0, len(q)+2), string(q))
	_, _ = s.Write(b[1 : len(b)-1])
}

func formatQuoted(v []byte) fmt.Formatter {
	return quoted(v)
}

func formatKeyValue(
	w io.Writer, fmtKey formatter, fmtValue formatter, key *base.InternalKey, value []byte,
) {
	needDelimiter := false
	if fmtKey.spec != "null" {
		fmt.Fprintf(w, "%s#%s,%s", fmtKey.fn(key.UserKey), key.SeqNum(), key.Kind())
		needDelimiter = true
	}
	if fmtValue.spec != "null" {
		if needDelimiter {
			fmt.Fprint(w, " ")
		}
		fmt.Fprintf(w, "%s", fmtValue.fn(value))
	}
	fmt.Fprint(w, "\n")
}

// parseRecord parses a record of the build input. A record is either
// "<key> <value>", which is added as a SET at sequence number zero, or
// "<key>#<seqnum>,<kind> [<value>]". The value of a RANGEDEL record is the
// end key of the tombstone.
func parseRecord(line string) (sstable.InternalKey, []byte, error) {
	k, v, _ := strings.Cut(line, " ")
	if k == "" {
		return sstable.InternalKey{}, nil, errors.Errorf("malformed record %q", line)
	}
	if !strings.Contains(k, "#") {
		return sstable.MakeInternalKey([]byte(k), 0, sstable.InternalKeyKindSet), []byte(v), nil
	}
	var ikey sstable.InternalKey
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("malformed record %q: %v", line, r)
			}
		}()
		ikey = base.ParseInternalKey(k)
		return nil
	}()
	return ikey, []byte(v), err
}

// tableFormatName describes the table format and checksum of a reader.
func tableFormatName(r *sstable.Reader) string {
	l, err := r.Layout()
	if err != nil {
		return r.TableFormat().String()
	}
	return fmt.Sprintf("%s (%s)", l.Format, l.Checksum)
}
