// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bytes"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/cockroachdb/blocktable/bloom"
	"github.com/cockroachdb/blocktable/internal/base"
	"github.com/cockroachdb/blocktable/objstorage"
	"github.com/cockroachdb/blocktable/sstable/block"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = func() *validator.Validate {
	v := validator.New()
	// Report fields by their YAML names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Config is the YAML form of a table configuration. Zero values select the
// defaults of WriterOptions.
//
//	block_size: 16384
//	compression: zstd
//	filter:
//	  bits_per_key: 10
//	  type: table
type Config struct {
	BlockSize            int           `yaml:"block_size" validate:"omitempty,min=64,max=268435456"`
	BlockSizeThreshold   int           `yaml:"block_size_threshold" validate:"omitempty,min=1,max=100"`
	RestartInterval      int           `yaml:"restart_interval" validate:"omitempty,min=1,max=65536"`
	IndexRestartInterval int           `yaml:"index_restart_interval" validate:"omitempty,min=1,max=65536"`
	Compression          string        `yaml:"compression" validate:"omitempty,oneof=none snappy zlib zstd minlz"`
	Checksum             string        `yaml:"checksum" validate:"omitempty,oneof=crc32c xxhash64"`
	Filter               *FilterConfig `yaml:"filter" validate:"omitempty"`
	TableFormat          string        `yaml:"table_format" validate:"omitempty,oneof=rocksdbv2 leveldb"`
	DataBlockIndex       string        `yaml:"data_block_index" validate:"omitempty,oneof=binary binary_and_hash"`
	HashIndexUtilRatio   float64       `yaml:"hash_index_util_ratio" validate:"omitempty,gt=0,lte=1"`
	ExternalFile         bool          `yaml:"external_file"`
	BytesPerSecond       int64         `yaml:"bytes_per_second" validate:"omitempty,min=1"`
	BytesPerSync         int           `yaml:"bytes_per_sync" validate:"omitempty,min=1"`
	DirectIO             bool          `yaml:"direct_io"`
}

// FilterConfig configures the bloom filter of a table.
type FilterConfig struct {
	BitsPerKey int    `yaml:"bits_per_key" validate:"required,min=1,max=64"`
	Type       string `yaml:"type" validate:"omitempty,oneof=table block"`
}

// LoadConfig reads and validates the YAML table configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	c, err := ParseConfig(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return c, nil
}

// ParseConfig parses and validates a YAML table configuration.
func ParseConfig(data []byte) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "parsing table config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration for out of range or conflicting values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if c.TableFormat == "leveldb" && c.Checksum != "" && c.Checksum != "crc32c" {
		return errors.Newf("checksum: the leveldb table format requires crc32c, not %s", c.Checksum)
	}
	if c.HashIndexUtilRatio != 0 && c.DataBlockIndex != "binary_and_hash" {
		return errors.New("hash_index_util_ratio: requires data_block_index binary_and_hash")
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	e := verrs[0]
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required":
		return errors.Newf("%s: field is required", field)
	case "min", "gt":
		return errors.Newf("%s: must be at least %s", field, e.Param())
	case "max", "lte":
		return errors.Newf("%s: must not exceed %s", field, e.Param())
	case "oneof":
		return errors.Newf("%s: must be one of [%s], got %v", field, e.Param(), e.Value())
	}
	return errors.Newf("%s: failed %s validation", field, e.Tag())
}

// WriterOptions returns the writer options described by the configuration.
// Fields the configuration does not cover are taken from o.
func (c *Config) WriterOptions(o WriterOptions) (WriterOptions, error) {
	if c.BlockSize != 0 {
		o.BlockSize = c.BlockSize
	}
	if c.BlockSizeThreshold != 0 {
		o.BlockSizeThreshold = c.BlockSizeThreshold
	}
	if c.RestartInterval != 0 {
		o.BlockRestartInterval = c.RestartInterval
	}
	if c.IndexRestartInterval != 0 {
		o.IndexBlockRestartInterval = c.IndexRestartInterval
	}
	if c.Compression != "" {
		comp, err := ParseCompression(c.Compression)
		if err != nil {
			return o, err
		}
		o.Compression = comp
	}
	if c.Checksum != "" {
		sum, err := block.ParseChecksumType(c.Checksum)
		if err != nil {
			return o, err
		}
		o.Checksum = sum
	}
	if c.TableFormat != "" {
		f, err := ParseTableFormat(c.TableFormat)
		if err != nil {
			return o, err
		}
		o.TableFormat = f
	}
	if c.Filter != nil {
		o.FilterPolicy = bloom.FilterPolicy(c.Filter.BitsPerKey)
		o.FilterType = baseFilterType(c.Filter.Type)
	}
	if c.DataBlockIndex != "" {
		t, err := ParseDataBlockIndexType(c.DataBlockIndex)
		if err != nil {
			return o, err
		}
		o.DataBlockIndexType = t
	}
	if c.HashIndexUtilRatio != 0 {
		o.HashIndexUtilRatio = c.HashIndexUtilRatio
	}
	if c.ExternalFile {
		o.ExternalFile = true
	}
	return o, nil
}

// CreateOptions returns the file creation options described by the
// configuration.
func (c *Config) CreateOptions() objstorage.CreateOptions {
	o := objstorage.DefaultCreateOptions
	if c.BytesPerSync != 0 {
		o.BytesPerSync = c.BytesPerSync
	}
	o.BytesPerSecond = c.BytesPerSecond
	o.DirectIO = c.DirectIO
	return o
}

// TableFactory returns a factory for tables built with the configuration.
// The comparer and logger are used by both the writers and the readers of the
// factory, and may be nil.
func (c *Config) TableFactory(comparer *base.Comparer, logger base.Logger) (*TableFactory, error) {
	wo, err := c.WriterOptions(WriterOptions{Comparer: comparer, Logger: logger})
	if err != nil {
		return nil, err
	}
	ro := ReaderOptions{Comparer: comparer, Logger: logger}
	return NewTableFactory(wo, ro, c.CreateOptions()), nil
}

func baseFilterType(s string) base.FilterType {
	if s == "block" {
		return base.BlockFilter
	}
	return base.TableFilter
}
