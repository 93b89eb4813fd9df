// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/objstorage"
	"github.com/cockroachdb/blocktable/sstable"
	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/errors"
	"github.com/guptarohit/asciigraph"
	"github.com/hashicorp/go-multierror"
	"github.com/kr/pretty"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// sstableT implements sstable-level tools, including both configuration state
// and the commands themselves.
type sstableT struct {
	Root       *cobra.Command
	Build      *cobra.Command
	Check      *cobra.Command
	Get        *cobra.Command
	Layout     *cobra.Command
	Properties *cobra.Command
	Scan       *cobra.Command

	// Configuration and state.
	comparers sstable.Comparers
	filters   sstable.FilterPolicies

	// Flags.
	config      string
	concurrency int
	fmtKey      formatter
	fmtValue    formatter
	start       key
	end         key
	stats       bool
	plot        bool
	verbose     bool
}

func newSSTable(comparers sstable.Comparers, filters sstable.FilterPolicies) *sstableT {
	s := &sstableT{
		comparers: comparers,
		filters:   filters,
	}
	s.fmtKey.mustSet("quoted")
	s.fmtValue.mustSet("[%x]")

	s.Root = &cobra.Command{
		Use:   "sstable",
		Short: "sstable introspection tools",
	}
	s.Build = &cobra.Command{
		Use:   "build <sstable> [<input>]",
		Short: "build an sstable from records",
		Long: `
Build an sstable from the records read from the input file, or from stdin
if no input is given. Each line holds one record, either "<key> <value>",
which is added as a SET at sequence number zero, or
"<key>#<seqnum>,<kind> [<value>]". The value of a RANGEDEL record is the end
key of the deleted span. Records must be in key order. The table options are
read from the YAML file named by --config.
`,
		Args: cobra.RangeArgs(1, 2),
		Run:  s.runBuild,
	}
	s.Check = &cobra.Command{
		Use:   "check <sstables>",
		Short: "verify checksums and key order",
		Long: `
Verify the checksum of every block and the order of the keys of each sstable.
The files are checked concurrently.
`,
		Args: cobra.MinimumNArgs(1),
		Run:  s.runCheck,
	}
	s.Get = &cobra.Command{
		Use:   "get <sstable> <keys>",
		Short: "look up keys in an sstable",
		Long: `
Print the value of the newest record of each key. Keys that are absent from
the table are reported as not found.
`,
		Args: cobra.MinimumNArgs(2),
		Run:  s.runGet,
	}
	s.Layout = &cobra.Command{
		Use:   "layout <sstables>",
		Short: "print sstable block and record layout",
		Long: `
Print the layout for the sstables. The -v flag controls whether record layout
is displayed or omitted. The --stats flag summarizes the sizes of the data
blocks and --plot draws them.
`,
		Args: cobra.MinimumNArgs(1),
		Run:  s.runLayout,
	}
	s.Properties = &cobra.Command{
		Use:   "properties <sstables>",
		Short: "print sstable properties",
		Long: `
Print the properties of the sstables. The -v flag prints every stored
property.
`,
		Args: cobra.MinimumNArgs(1),
		Run:  s.runProperties,
	}
	s.Scan = &cobra.Command{
		Use:   "scan <sstables>",
		Short: "print sstable records",
		Long: `
Print the records in the sstables. The sstables are scanned in command line
order which means the records will be printed in that order. Range deletions
are printed after the point records of each table.
`,
		Args: cobra.MinimumNArgs(1),
		Run:  s.runScan,
	}

	s.Root.AddCommand(s.Build, s.Check, s.Get, s.Layout, s.Properties, s.Scan)
	s.Root.PersistentFlags().BoolVarP(&s.verbose, "verbose", "v", false, "verbose output")

	s.Build.Flags().StringVar(
		&s.config, "config", "", "YAML file holding the table options")
	s.Check.Flags().IntVar(
		&s.concurrency, "concurrency", 4, "number of files checked in parallel")
	for _, cmd := range []*cobra.Command{s.Get, s.Layout, s.Scan} {
		cmd.Flags().Var(
			&s.fmtKey, "key", "key formatter")
		cmd.Flags().Var(
			&s.fmtValue, "value", "value formatter")
	}
	s.Layout.Flags().BoolVar(
		&s.stats, "stats", false, "summarize data block sizes")
	s.Layout.Flags().BoolVar(
		&s.plot, "plot", false, "plot data block sizes")
	s.Scan.Flags().Var(
		&s.start, "start", "start key for the scan")
	s.Scan.Flags().Var(
		&s.end, "end", "end key for the scan")
	return s
}

func (s *sstableT) newReader(path string) (*sstable.Reader, error) {
	f, err := objstorage.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := sstable.NewReader(f, sstable.ReaderOptions{
		Comparers: s.comparers,
		Filters:   s.filters,
	})
	if err != nil {
		return nil, err
	}
	s.fmtKey.setForComparer(r.Comparer())
	return r, nil
}

func (s *sstableT) runBuild(cmd *cobra.Command, args []string) {
	if err := s.build(args); err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		osExit(1)
	}
}

func (s *sstableT) build(args []string) error {
	cfg := &sstable.Config{}
	if s.config != "" {
		var err error
		if cfg, err = sstable.LoadConfig(s.config); err != nil {
			return err
		}
	}
	factory, err := cfg.TableFactory(nil, base.NoopLogger{})
	if err != nil {
		return err
	}

	in := stdin
	if len(args) > 1 {
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	w, err := factory.Create(args[0])
	if err != nil {
		return err
	}
	if err := addRecords(w, in); err != nil {
		_ = w.Close()
		_ = os.Remove(args[0])
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	m, err := w.Metadata()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %s entries in %s data blocks, %s\n", args[0],
		crhumanize.Count(int64(m.Properties.NumEntries), crhumanize.Compact),
		crhumanize.Count(int64(m.Properties.NumDataBlocks), crhumanize.Compact),
		crhumanize.Bytes(int64(m.Size), crhumanize.Compact, crhumanize.OmitI))
	if m.HasPointKeys {
		fmt.Fprintf(stdout, "point:    [%s-%s]\n", m.SmallestPoint, m.LargestPoint)
	}
	if m.HasRangeDelKeys {
		fmt.Fprintf(stdout, "rangedel: [%s-%s]\n", m.SmallestRangeDel, m.LargestRangeDel)
	}
	return nil
}

func addRecords(w *sstable.Writer, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), 64<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		ikey, value, err := parseRecord(text)
		if err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		if err := w.Add(ikey, value); err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
	}
	return scanner.Err()
}

// checkResult is the outcome of checking one file.
type checkResult struct {
	path    string
	size    int64
	entries uint64
}

func (s *sstableT) runCheck(cmd *cobra.Command, args []string) {
	results, err := s.check(cmd.Context(), args)
	for _, r := range results {
		if r.path != "" {
			fmt.Fprintf(stdout, "%s: ok, %s entries, %s\n", r.path,
				crhumanize.Count(int64(r.entries), crhumanize.Compact),
				crhumanize.Bytes(r.size, crhumanize.Compact, crhumanize.OmitI))
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		osExit(1)
	}
}

// check verifies each of the files. The result of a file that failed the
// check has an empty path, and its error is included in the returned error.
func (s *sstableT) check(ctx context.Context, paths []string) ([]checkResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]checkResult, len(paths))
	fileErrs := make([]error, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.concurrency, 1))
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := s.checkFile(path)
			if err != nil {
				fileErrs[i] = errors.Wrap(err, path)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	var errs *multierror.Error
	for _, err := range fileErrs {
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return results, errs.ErrorOrNil()
}

func (s *sstableT) checkFile(path string) (checkResult, error) {
	r, err := s.newReader(path)
	if err != nil {
		return checkResult{}, err
	}
	defer r.Close()

	if err := r.ValidateChecksums(); err != nil {
		return checkResult{}, err
	}

	res := checkResult{path: path}
	if l, err := r.Layout(); err == nil {
		res.size = int64(l.Footer.End())
	}
	it := r.NewIter()
	var prev base.InternalKey
	for k := range it.All() {
		if res.entries > 0 && base.InternalCompare(r.Comparer().Compare, prev, k) >= 0 {
			_ = it.Close()
			return checkResult{}, errors.Errorf("out of order keys %s >= %s",
				prev.Pretty(r.Comparer().FormatKey), k.Pretty(r.Comparer().FormatKey))
		}
		prev.Trailer = k.Trailer
		prev.UserKey = append(prev.UserKey[:0], k.UserKey...)
		res.entries++
	}
	if err := it.Close(); err != nil {
		return checkResult{}, err
	}
	if res.entries != r.Properties.NumEntries-r.Properties.NumRangeDeletions {
		return checkResult{}, errors.Errorf("found %d point entries, properties record %d",
			res.entries, r.Properties.NumEntries-r.Properties.NumRangeDeletions)
	}
	return res, nil
}

func (s *sstableT) runGet(cmd *cobra.Command, args []string) {
	r, err := s.newReader(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return
	}
	defer r.Close()

	for _, arg := range args[1:] {
		var k key
		if err := k.Set(arg); err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
			continue
		}
		v, err := r.Get(k)
		switch {
		case errors.Is(err, base.ErrNotFound):
			fmt.Fprintf(stdout, "%s: not found\n", s.fmtKey.fn(k))
		case err != nil:
			fmt.Fprintf(stdout, "%s: %s\n", s.fmtKey.fn(k), err)
		default:
			fmt.Fprintf(stdout, "%s: %s\n", s.fmtKey.fn(k), s.fmtValue.fn(v))
		}
	}
}

func (s *sstableT) runLayout(cmd *cobra.Command, args []string) {
	for _, arg := range args {
		func() {
			r, err := s.newReader(arg)
			if err != nil {
				fmt.Fprintf(stdout, "%s\n", err)
				return
			}
			defer r.Close()

			fmt.Fprintf(stdout, "%s\n", arg)
			l, err := r.Layout()
			if err != nil {
				fmt.Fprintf(stdout, "%s\n", err)
				return
			}
			fmtRecord := func(key *base.InternalKey, value []byte) {
				formatKeyValue(stdout, s.fmtKey, s.fmtValue, key, value)
			}
			if s.fmtKey.spec == "null" && s.fmtValue.spec == "null" {
				fmtRecord = nil
			}
			l.Describe(stdout, s.verbose, r, fmtRecord)
			if s.stats || s.plot {
				describeBlockSizes(stdout, l, s.stats, s.plot)
			}
		}()
	}
}

// describeBlockSizes summarizes the sizes of the data blocks of a table.
func describeBlockSizes(w io.Writer, l *sstable.Layout, stats, plot bool) {
	if len(l.Data) == 0 {
		fmt.Fprintf(w, "no data blocks\n")
		return
	}
	h := hdrhistogram.New(1, 64<<20, 1)
	sizes := make([]float64, len(l.Data))
	for i, bh := range l.Data {
		_ = h.RecordValue(int64(bh.Length))
		sizes[i] = float64(bh.Length)
	}
	if stats {
		fmt.Fprintf(w, "data blocks: %d\n", len(l.Data))
		fmt.Fprintf(w, "  mean: %.1f\n", h.Mean())
		for _, p := range []float64{50, 90, 99, 100} {
			fmt.Fprintf(w, "  p%-3.0f: %d\n", p, h.ValueAtPercentile(p))
		}
	}
	if plot {
		fmt.Fprintf(w, "%s\n", asciigraph.Plot(sizes, asciigraph.Height(10),
			asciigraph.Caption("data block sizes")))
	}
}

func (s *sstableT) runProperties(cmd *cobra.Command, args []string) {
	for _, arg := range args {
		func() {
			r, err := s.newReader(arg)
			if err != nil {
				fmt.Fprintf(stdout, "%s\n", err)
				return
			}
			defer r.Close()

			fmt.Fprintf(stdout, "%s\n", arg)
			if s.verbose {
				fmt.Fprintf(stdout, "%s", r.Properties.String())
				return
			}
			fmt.Fprintf(stdout, "%# v\n", pretty.Formatter(struct {
				Format     string
				Comparer   string
				Filter     string
				Compressor string
			}{
				Format:     tableFormatName(r),
				Comparer:   r.Properties.ComparerName,
				Filter:     r.Properties.FilterPolicyName,
				Compressor: r.Properties.CompressionName,
			}))

			p := &r.Properties
			table := tablewriter.NewWriter(stdout)
			table.SetHeader([]string{"property", "value"})
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			size := func(v uint64) string {
				return string(crhumanize.Bytes(int64(v), crhumanize.Compact, crhumanize.OmitI))
			}
			count := func(v uint64) string {
				return string(crhumanize.Count(int64(v), crhumanize.Compact))
			}
			table.Append([]string{"data blocks", count(p.NumDataBlocks)})
			table.Append([]string{"data size", size(p.DataSize)})
			table.Append([]string{"index size", size(p.IndexSize)})
			table.Append([]string{"filter size", size(p.FilterSize)})
			table.Append([]string{"entries", count(p.NumEntries)})
			table.Append([]string{"deletions", count(p.NumPointDeletions())})
			table.Append([]string{"range deletions", count(p.NumRangeDeletions)})
			table.Append([]string{"merge operands", count(p.NumMergeOperands)})
			table.Append([]string{"raw key size", size(p.RawKeySize)})
			table.Append([]string{"raw value size", size(p.RawValueSize)})
			table.Append([]string{"global seqnum", r.GlobalSeqNum().String()})
			table.Render()

			if len(p.UserProperties) > 0 {
				tw := tabwriter.NewWriter(stdout, 2, 1, 2, ' ', 0)
				fmt.Fprintf(tw, "user properties\n")
				keys := make([]string, 0, len(p.UserProperties))
				for k := range p.UserProperties {
					keys = append(keys, k)
				}
				slices.Sort(keys)
				for _, k := range keys {
					fmt.Fprintf(tw, "  %s\t%q\n", k, p.UserProperties[k])
				}
				_ = tw.Flush()
			}
		}()
	}
}

func (s *sstableT) runScan(cmd *cobra.Command, args []string) {
	for _, arg := range args {
		func() {
			r, err := s.newReader(arg)
			if err != nil {
				fmt.Fprintf(stdout, "%s\n", err)
				return
			}
			defer r.Close()

			fmt.Fprintf(stdout, "%s\n", arg)
			cmp := r.Comparer().Compare
			it := r.NewIter()
			valid := it.First()
			if len(s.start) > 0 {
				valid = it.SeekGE(s.start)
			}
			for ; valid; valid = it.Next() {
				key := it.Key()
				if len(s.end) > 0 && cmp(key.UserKey, s.end) >= 0 {
					break
				}
				formatKeyValue(stdout, s.fmtKey, s.fmtValue, &key, it.Value())
			}
			if err := it.Close(); err != nil {
				fmt.Fprintf(stdout, "%s\n", err)
				return
			}

			rangeDels, err := r.NewRangeDelIter()
			if err != nil {
				fmt.Fprintf(stdout, "%s\n", err)
				return
			}
			if rangeDels == nil {
				return
			}
			defer rangeDels.Close()
			for valid := rangeDels.First(); valid; valid = rangeDels.Next() {
				key := rangeDels.Key()
				end := rangeDels.Value()
				if len(s.end) > 0 && cmp(key.UserKey, s.end) >= 0 {
					break
				}
				if len(s.start) > 0 && cmp(end, s.start) <= 0 {
					continue
				}
				formatKeyValue(stdout, s.fmtKey, s.fmtKey, &key, end)
			}
		}()
	}
}
