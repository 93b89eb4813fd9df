// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/blocktable/bloom"
	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/objstorage"
	"github.com/cockroachdb/blocktable/sstable/block"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

type testKV struct {
	key   base.InternalKey
	value []byte
}

// recordingLogger records log lines for assertions.
type recordingLogger struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (l *recordingLogger) Infof(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(&l.buf, format+"\n", args...)
}

func (l *recordingLogger) Errorf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(&l.buf, "error: "+format+"\n", args...)
}

func (l *recordingLogger) Fatalf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

func (l *recordingLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

// buildTable writes kvs, which must be sorted, to an in-memory table and
// returns its bytes.
func buildTable(t testing.TB, o WriterOptions, kvs []testKV) []byte {
	t.Helper()
	var obj objstorage.MemObj
	w := NewWriter(&obj, o)
	for _, kv := range kvs {
		require.NoError(t, w.Add(kv.key, kv.value))
	}
	require.NoError(t, w.Close())
	return obj.Data()
}

func openTable(t testing.TB, data []byte, o ReaderOptions) *Reader {
	t.Helper()
	r, err := NewReader(objstorage.NewMemReadable(data), o)
	require.NoError(t, err)
	return r
}

// makeKVs returns n SET entries with keys "key-00000", "key-00001", ...
func makeKVs(n int) []testKV {
	kvs := make([]testKV, n)
	for i := range kvs {
		kvs[i] = testKV{
			key:   base.MakeInternalKey([]byte(fmt.Sprintf("key-%05d", i)), base.SeqNum(i+1), base.InternalKeyKindSet),
			value: []byte(fmt.Sprintf("value-%d", i)),
		}
	}
	return kvs
}

// writerVariants are the writer configurations every round trip is run with.
func writerVariants() map[string]WriterOptions {
	return map[string]WriterOptions{
		"default":     {},
		"tiny-blocks": {BlockSize: 64, BlockRestartInterval: 2},
		"no-compression-xxhash": {
			Compression: NoCompression, Checksum: block.ChecksumTypeXXHash64,
		},
		"zstd-table-filter": {
			Compression: ZstdCompression, FilterPolicy: bloom.FilterPolicy(10), BlockSize: 256,
		},
		"zlib-block-filter": {
			Compression: ZlibCompression, FilterPolicy: bloom.FilterPolicy(10),
			FilterType: base.BlockFilter, BlockSize: 256,
		},
		"minlz-hash-index": {
			Compression: MinLZCompression, DataBlockIndexType: DataBlockBinaryAndHash, BlockSize: 512,
		},
		"leveldb": {
			TableFormat: TableFormatLevelDB, FilterPolicy: bloom.FilterPolicy(10),
			FilterType: base.BlockFilter, BlockSize: 128,
		},
		"index-restarts": {BlockSize: 64, IndexBlockRestartInterval: 4},
	}
}

func TestReaderRoundTrip(t *testing.T) {
	kvs := makeKVs(500)
	for name, o := range writerVariants() {
		t.Run(name, func(t *testing.T) {
			r := openTable(t, buildTable(t, o, kvs), ReaderOptions{})
			defer r.Close()

			it := r.NewIter()
			var got []testKV
			for k, v := range it.All() {
				got = append(got, testKV{key: k.Clone(), value: slices.Clone(v)})
			}
			require.NoError(t, it.Error())
			require.Equal(t, kvs, got)

			// Reverse.
			i := len(kvs) - 1
			for valid := it.Last(); valid; valid = it.Prev() {
				require.Equal(t, kvs[i].key, it.Key())
				require.Equal(t, kvs[i].value, it.Value())
				i--
			}
			require.Equal(t, -1, i)
			require.NoError(t, it.Close())

			for _, kv := range kvs {
				v, err := r.Get(kv.key.UserKey)
				require.NoError(t, err)
				require.Equal(t, kv.value, v)
			}
			for _, missing := range []string{"", "a", "key-", "key-00000\x00", "key-00499\x00", "zzz"} {
				_, err := r.Get([]byte(missing))
				require.ErrorIs(t, err, base.ErrNotFound, "key %q", missing)
			}
			require.NoError(t, r.ValidateChecksums())
		})
	}
}

func TestReaderSeek(t *testing.T) {
	kvs := makeKVs(200)
	for name, o := range writerVariants() {
		t.Run(name, func(t *testing.T) {
			r := openTable(t, buildTable(t, o, kvs), ReaderOptions{})
			defer r.Close()
			it := r.NewIter()
			defer it.Close()

			for _, target := range []string{"", "key-00000", "key-00050", "key-000505", "key-00199", "key-2", "z"} {
				idx, _ := slices.BinarySearchFunc(kvs, target, func(kv testKV, target string) int {
					return strings.Compare(string(kv.key.UserKey), target)
				})
				valid := it.SeekGE([]byte(target))
				if idx == len(kvs) {
					require.False(t, valid, "SeekGE(%q)", target)
				} else {
					require.True(t, valid, "SeekGE(%q)", target)
					require.Equal(t, kvs[idx].key, it.Key(), "SeekGE(%q)", target)
				}

				valid = it.SeekLT([]byte(target))
				if idx == 0 {
					require.False(t, valid, "SeekLT(%q)", target)
				} else {
					require.True(t, valid, "SeekLT(%q)", target)
					require.Equal(t, kvs[idx-1].key, it.Key(), "SeekLT(%q)", target)
				}
			}
			require.NoError(t, it.Error())
		})
	}
}

func TestReaderMultipleVersions(t *testing.T) {
	kvs := []testKV{
		{base.ParseInternalKey("a#9,SET"), []byte("a9")},
		{base.ParseInternalKey("a#7,DEL"), nil},
		{base.ParseInternalKey("a#3,SET"), []byte("a3")},
		{base.ParseInternalKey("b#8,DEL"), nil},
		{base.ParseInternalKey("b#2,SET"), []byte("b2")},
		{base.ParseInternalKey("c#6,MERGE"), []byte("c6")},
	}
	for name, o := range writerVariants() {
		t.Run(name, func(t *testing.T) {
			o.BlockSize = 1
			r := openTable(t, buildTable(t, o, kvs), ReaderOptions{})
			defer r.Close()

			v, err := r.Get([]byte("a"))
			require.NoError(t, err)
			require.Equal(t, "a9", string(v))
			_, err = r.Get([]byte("b"))
			require.ErrorIs(t, err, base.ErrNotFound)
			v, err = r.Get([]byte("c"))
			require.NoError(t, err)
			require.Equal(t, "c6", string(v))

			it := r.NewIter()
			defer it.Close()
			require.True(t, it.SeekInternalGE(base.ParseInternalKey("a#5,SET")))
			require.Equal(t, "a#3,SET", it.Key().String())
			require.True(t, it.SeekInternalGE(base.ParseInternalKey("a#1,SET")))
			require.Equal(t, "b#8,DEL", it.Key().String())
			require.True(t, it.SeekGE([]byte("b")))
			require.Equal(t, "b#8,DEL", it.Key().String())
			require.True(t, it.Prev())
			require.Equal(t, "a#3,SET", it.Key().String())
		})
	}
}

func TestReaderEmptyTable(t *testing.T) {
	for name, o := range writerVariants() {
		t.Run(name, func(t *testing.T) {
			r := openTable(t, buildTable(t, o, nil), ReaderOptions{})
			defer r.Close()
			it := r.NewIter()
			require.False(t, it.First())
			require.False(t, it.Last())
			require.False(t, it.SeekGE([]byte("a")))
			require.False(t, it.SeekLT([]byte("a")))
			require.NoError(t, it.Close())
			_, err := r.Get([]byte("a"))
			require.ErrorIs(t, err, base.ErrNotFound)
			require.Equal(t, uint64(0), r.Properties.NumEntries)
			require.NoError(t, r.ValidateChecksums())
		})
	}
}

func TestReaderConcurrentIterators(t *testing.T) {
	kvs := makeKVs(1000)
	r := openTable(t, buildTable(t, WriterOptions{BlockSize: 128}, kvs), ReaderOptions{})
	defer r.Close()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for g := range errs {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(uint64(g)))
			it := r.NewIter()
			defer it.Close()
			for n := 0; n < 200; n++ {
				i := rng.Intn(len(kvs))
				if !it.SeekGE(kvs[i].key.UserKey) || !bytes.Equal(it.Value(), kvs[i].value) {
					errs[g] = errors.Newf("SeekGE(%s) = %s", kvs[i].key, it.Key())
					return
				}
				if it.Next() && !bytes.Equal(it.Value(), kvs[i+1].value) {
					errs[g] = errors.Newf("Next after %s = %s", kvs[i].key, it.Key())
					return
				}
			}
			errs[g] = it.Error()
		}(g)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestReaderFilterMetrics(t *testing.T) {
	for _, ftype := range []base.FilterType{base.TableFilter, base.BlockFilter} {
		t.Run(ftype.String(), func(t *testing.T) {
			kvs := makeKVs(300)
			o := WriterOptions{FilterPolicy: bloom.FilterPolicy(10), FilterType: ftype, BlockSize: 512}
			var m FilterMetricsTracker
			r := openTable(t, buildTable(t, o, kvs), ReaderOptions{FilterMetrics: &m})
			defer r.Close()
			if ftype == base.TableFilter {
				require.NotNil(t, r.tableFilter)
			} else {
				require.NotNil(t, r.blockFilter)
			}

			for _, kv := range kvs {
				_, err := r.Get(kv.key.UserKey)
				require.NoError(t, err)
			}
			require.Equal(t, FilterMetrics{Misses: int64(len(kvs))}, m.Load())

			for i := 0; i < 1000; i++ {
				_, err := r.Get([]byte(fmt.Sprintf("key-%05d.absent", i%300)))
				require.ErrorIs(t, err, base.ErrNotFound)
			}
			// A 10 bits per key bloom filter has a false positive rate of about
			// 1%.
			require.Greater(t, m.Load().Hits, int64(900))
		})
	}
}

func TestReaderUnknownFilterPolicy(t *testing.T) {
	kvs := makeKVs(50)
	o := WriterOptions{FilterPolicy: testFilterPolicy{}}
	data := buildTable(t, o, kvs)

	var logger recordingLogger
	r := openTable(t, data, ReaderOptions{Logger: &logger})
	require.Nil(t, r.tableFilter)
	require.Contains(t, logger.String(), `filter policy "test.filter" is not available`)
	for _, kv := range kvs {
		_, err := r.Get(kv.key.UserKey)
		require.NoError(t, err)
	}
	require.NoError(t, r.Close())

	r = openTable(t, data, ReaderOptions{Filters: FilterPolicies{"test.filter": testFilterPolicy{}}})
	require.NotNil(t, r.tableFilter)
	_, err := r.Get([]byte("absent"))
	require.ErrorIs(t, err, base.ErrNotFound)
	require.NoError(t, r.Close())
}

func TestReaderFilterExactName(t *testing.T) {
	kvs := makeKVs(50)
	data := buildTable(t, WriterOptions{FilterPolicy: testFilterPolicy{}}, kvs)

	// A policy whose name is a prefix of the table's policy name is not used.
	var logger recordingLogger
	r := openTable(t, data, ReaderOptions{
		Filters: FilterPolicies{"test": renamedFilterPolicy{name: "test"}},
		Logger:  &logger,
	})
	require.Nil(t, r.tableFilter)
	require.Equal(t, "", r.filterName)
	require.Contains(t, logger.String(), `filter policy "test.filter" is not available`)
	require.NoError(t, r.Close())

	// The configured policy is matched by its own name.
	r = openTable(t, data, ReaderOptions{
		Filters: FilterPolicies{"alias": renamedFilterPolicy{name: "test.filter"}},
	})
	require.NotNil(t, r.tableFilter)
	require.Equal(t, "fullfilter.test.filter", r.filterName)
	require.NoError(t, r.Close())

	// Bloom policies are recognized without being configured.
	o := WriterOptions{FilterPolicy: bloom.FilterPolicy(5), FilterType: base.BlockFilter}
	data = buildTable(t, o, kvs)
	r = openTable(t, data, ReaderOptions{Filters: FilterPolicies{"test.filter": testFilterPolicy{}}})
	require.NotNil(t, r.blockFilter)
	require.Equal(t, "filter.bloom(5)", r.filterName)
	for _, kv := range kvs {
		_, err := r.Get(kv.key.UserKey)
		require.NoError(t, err)
	}
	require.NoError(t, r.Close())
}

// renamedFilterPolicy is a testFilterPolicy registered under another name.
type renamedFilterPolicy struct {
	testFilterPolicy
	name string
}

func (p renamedFilterPolicy) Name() string { return p.name }

// testFilterPolicy is an exact filter that stores every key.
type testFilterPolicy struct{}

func (testFilterPolicy) Name() string { return "test.filter" }

func (testFilterPolicy) MayContain(_ base.FilterType, filter, key []byte) bool {
	for len(filter) > 0 {
		n := int(filter[0])
		if bytes.Equal(filter[1:1+n], key) {
			return true
		}
		filter = filter[1+n:]
	}
	return false
}

func (testFilterPolicy) NewWriter(base.FilterType) base.FilterWriter {
	return &testFilterWriter{}
}

type testFilterWriter struct {
	keys [][]byte
}

func (w *testFilterWriter) AddKey(key []byte) {
	w.keys = append(w.keys, slices.Clone(key))
}

func (w *testFilterWriter) Finish(buf []byte) []byte {
	buf = buf[:0]
	for _, k := range w.keys {
		buf = append(buf, byte(len(k)))
		buf = append(buf, k...)
	}
	w.keys = w.keys[:0]
	return buf
}

func TestReaderComparer(t *testing.T) {
	reverse := &base.Comparer{
		Compare:   func(a, b []byte) int { return bytes.Compare(b, a) },
		Equal:     bytes.Equal,
		Separator: func(dst, a, b []byte) []byte { return append(dst, a...) },
		Successor: func(dst, a []byte) []byte { return append(dst, a...) },
		FormatKey: base.DefaultFormatter,
		Name:      "test.reverse",
	}
	kvs := []testKV{
		{base.ParseInternalKey("c#1,SET"), []byte("c")},
		{base.ParseInternalKey("b#1,SET"), []byte("b")},
		{base.ParseInternalKey("a#1,SET"), []byte("a")},
	}
	data := buildTable(t, WriterOptions{Comparer: reverse, BlockSize: 1}, kvs)

	_, err := NewReader(objstorage.NewMemReadable(data), ReaderOptions{})
	require.ErrorContains(t, err, `comparer "test.reverse"`)

	r := openTable(t, data, ReaderOptions{Comparers: Comparers{reverse.Name: reverse}})
	defer r.Close()
	require.Equal(t, "test.reverse", r.Comparer().Name)
	it := r.NewIter()
	defer it.Close()
	require.True(t, it.SeekGE([]byte("b")))
	require.Equal(t, "b", string(it.Value()))
	require.True(t, it.Next())
	require.Equal(t, "a", string(it.Value()))
	v, err := r.Get([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, "c", string(v))
}

func TestReaderGlobalSeqNum(t *testing.T) {
	kvs := []testKV{
		{base.ParseInternalKey("a#0,SET"), []byte("a")},
		{base.ParseInternalKey("b#0,DEL"), nil},
		{base.ParseInternalKey("c#0,MERGE"), []byte("c")},
	}
	for _, external := range []bool{false, true} {
		t.Run(fmt.Sprintf("external=%t", external), func(t *testing.T) {
			data := buildTable(t, WriterOptions{ExternalFile: external, BlockSize: 1}, kvs)
			var logger recordingLogger
			r := openTable(t, data, ReaderOptions{GlobalSeqNum: 42, Logger: &logger})
			defer r.Close()

			want := base.SeqNum(0)
			if external {
				want = 42
				require.Equal(t, base.SeqNum(42), r.GlobalSeqNum())
			} else {
				require.Equal(t, base.SeqNumDisableGlobal, r.GlobalSeqNum())
				require.Contains(t, logger.String(), "ignoring global sequence number 42")
			}
			it := r.NewIter()
			defer it.Close()
			i := 0
			for k := range it.All() {
				require.Equal(t, kvs[i].key.UserKey, k.UserKey)
				require.Equal(t, kvs[i].key.Kind(), k.Kind())
				require.Equal(t, want, k.SeqNum())
				i++
			}
			require.Equal(t, len(kvs), i)

			if external {
				require.True(t, it.SeekInternalGE(base.MakeInternalKey([]byte("b"), 42, base.InternalKeyKindMax)))
				require.Equal(t, "b#42,DEL", it.Key().String())
				require.True(t, it.SeekInternalGE(base.MakeInternalKey([]byte("b"), 41, base.InternalKeyKindMax)))
				require.Equal(t, "c#42,MERGE", it.Key().String())
			}
		})
	}
}

func TestReaderRangeDeletions(t *testing.T) {
	var obj objstorage.MemObj
	w := NewWriter(&obj, WriterOptions{})
	require.NoError(t, w.Set([]byte("a"), []byte("1")))
	require.NoError(t, w.DeleteRange([]byte("b"), []byte("d")))
	require.NoError(t, w.Set([]byte("c"), []byte("3")))
	require.NoError(t, w.DeleteRange([]byte("e"), []byte("g")))
	require.NoError(t, w.Close())

	r := openTable(t, obj.Data(), ReaderOptions{})
	defer r.Close()
	require.Equal(t, uint64(4), r.Properties.NumEntries)
	require.Equal(t, uint64(2), r.Properties.NumRangeDeletions)
	require.Equal(t, uint64(0), r.Properties.NumPointDeletions())

	rd, err := r.NewRangeDelIter()
	require.NoError(t, err)
	require.NotNil(t, rd)
	var got []string
	for valid := rd.First(); valid; valid = rd.Next() {
		got = append(got, fmt.Sprintf("%s-%s", rd.Key(), rd.Value()))
	}
	require.NoError(t, rd.Close())
	require.Equal(t, []string{"b#0,RANGEDEL-d", "e#0,RANGEDEL-g"}, got)

	// Range deletions are not point keys.
	_, err = r.Get([]byte("b"))
	require.ErrorIs(t, err, base.ErrNotFound)
	v, err := r.Get([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, "3", string(v))
}

func TestReaderLayout(t *testing.T) {
	kvs := makeKVs(100)
	o := WriterOptions{BlockSize: 256, FilterPolicy: bloom.FilterPolicy(10)}
	data := buildTable(t, o, kvs)
	r := openTable(t, data, ReaderOptions{})
	defer r.Close()

	l, err := r.Layout()
	require.NoError(t, err)
	require.Equal(t, int(r.Properties.NumDataBlocks), len(l.Data))
	require.Equal(t, "fullfilter.rocksdb.BuiltinBloomFilter", l.FilterName)

	// Blocks are contiguous and in write order.
	var kinds []string
	offset := uint64(0)
	for _, h := range l.Handles() {
		require.Equal(t, offset, h.Offset, "%s block", h.Kind)
		offset = h.End()
		if len(kinds) == 0 || kinds[len(kinds)-1] != h.Kind {
			kinds = append(kinds, h.Kind)
		}
	}
	require.Equal(t, []string{"data", "filter", "index", "properties", "meta-index"}, kinds)
	require.Equal(t, offset, l.Footer.Offset)
	require.Equal(t, uint64(len(data)), l.Footer.Offset+l.Footer.Length)

	var buf bytes.Buffer
	l.Describe(&buf, true, r, nil)
	out := buf.String()
	require.Contains(t, out, "  data (")
	require.Contains(t, out, "  meta-index (")
	require.Contains(t, out, "rocksdb.properties block:")
	require.Contains(t, out, "checksum type: crc32c")
	require.NotContains(t, out, "OUT OF ORDER")
	require.True(t, strings.HasSuffix(out, fmt.Sprintf("%10d  EOF\n", len(data))))

	require.NoError(t, r.ValidateChecksums())
	r.Properties.NumDataBlocks++
	err = r.ValidateChecksums()
	require.True(t, base.IsCorruptionError(err), "%+v", err)
	require.ErrorContains(t, err, "properties record")
}

func TestReaderCorruption(t *testing.T) {
	kvs := makeKVs(100)
	data := buildTable(t, WriterOptions{BlockSize: 256, Compression: NoCompression}, kvs)
	r := openTable(t, data, ReaderOptions{})
	l, err := r.Layout()
	require.NoError(t, err)
	require.NoError(t, r.Close())

	t.Run("data-block", func(t *testing.T) {
		bad := slices.Clone(data)
		bad[l.Data[1].Offset+3] ^= 0x40
		r := openTable(t, bad, ReaderOptions{})
		defer r.Close()

		it := r.NewIter()
		n := 0
		for valid := it.First(); valid; valid = it.Next() {
			n++
		}
		require.Less(t, n, len(kvs))
		require.True(t, base.IsCorruptionError(it.Error()), "%v", it.Error())
		// The error is sticky.
		require.False(t, it.First())
		require.Error(t, it.Close())

		require.True(t, base.IsCorruptionError(r.ValidateChecksums()))
	})

	t.Run("metaindex", func(t *testing.T) {
		bad := slices.Clone(data)
		bad[l.MetaIndex.Offset] ^= 0x01
		_, err := NewReader(objstorage.NewMemReadable(bad), ReaderOptions{})
		require.True(t, base.IsCorruptionError(err), "%v", err)
	})

	t.Run("magic", func(t *testing.T) {
		bad := slices.Clone(data)
		bad[len(bad)-1] ^= 0xff
		_, err := NewReader(objstorage.NewMemReadable(bad), ReaderOptions{})
		require.True(t, base.IsCorruptionError(err), "%v", err)
	})

	t.Run("truncated", func(t *testing.T) {
		for _, n := range []int{0, 10, minFooterLen - 1, len(data) / 2, len(data) - 1} {
			_, err := NewReader(objstorage.NewMemReadable(data[:n]), ReaderOptions{})
			require.Error(t, err, "truncated to %d bytes", n)
		}
	})
}

func TestReaderSlowReads(t *testing.T) {
	data := buildTable(t, WriterOptions{}, makeKVs(10))
	var logger recordingLogger
	r := openTable(t, data, ReaderOptions{Logger: &logger})
	defer r.Close()
	require.Empty(t, logger.String())

	defer base.DeterministicReadDurationForTesting()()
	_, err := r.Get([]byte("key-00003"))
	require.NoError(t, err)
	require.Contains(t, logger.String(), "slow block read 0/")
}
