// Package shard resolves which slice of an array job this process owns.
//
// Batch schedulers expose the array index under different variable names, so
// the name itself is read from IndexVarNameEnv. Everything outside this
// package only sees the resolved integer.
package shard

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/literal"
	"github.com/animus-labs/taskexec/internal/platform/env"
	"github.com/animus-labs/taskexec/internal/storage"
)

const (
	IndexVarNameEnv = "BATCH_JOB_ARRAY_INDEX_VAR_NAME"
	IndexOffsetEnv  = "BATCH_JOB_ARRAY_INDEX_OFFSET"
	// LookupFileName is the index lookup table stored next to the inputs.
	LookupFileName = "indexlookup.pb"
	InputsFileName = "inputs.pb"
)

// Active reports whether the process runs as part of an array job.
func Active(lookup env.Lookup) bool {
	return lookup.Set(IndexVarNameEnv)
}

// ResolveIndex returns offset + raw index. The offset defaults to 0 when
// absent or empty.
func ResolveIndex(lookup env.Lookup) (int, error) {
	name := strings.TrimSpace(lookup.String(IndexVarNameEnv, ""))
	if name == "" {
		return 0, failure.Configf("%s is not set", IndexVarNameEnv)
	}
	rawValue, ok := lookup.Get(name)
	if !ok || strings.TrimSpace(rawValue) == "" {
		return 0, failure.Configf("array index variable %s (named by %s) is not set", name, IndexVarNameEnv)
	}
	raw, err := strconv.Atoi(strings.TrimSpace(rawValue))
	if err != nil {
		return 0, failure.Config(fmt.Sprintf("array index variable %s", name), err)
	}

	offset := 0
	if v := strings.TrimSpace(lookup.String(IndexOffsetEnv, "")); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, failure.Config(IndexOffsetEnv, err)
		}
	}

	index := offset + raw
	if index < 0 {
		return 0, failure.Configf("shard index %d (offset %d + raw %d) is negative", index, offset, raw)
	}
	return index, nil
}

// Remap translates index through the lookup table in remoteDataDir, if one
// exists. The table is downloaded into localScratch. Entries must be
// non-negative integers.
func Remap(ctx context.Context, proxy storage.Proxy, localScratch, remoteDataDir string, index int) (int, error) {
	remote := storage.Join(remoteDataDir, LookupFileName)
	ok, err := proxy.Exists(ctx, remote)
	if err != nil {
		return 0, err
	}
	if !ok {
		return index, nil
	}

	local := filepath.Join(localScratch, LookupFileName)
	if err := proxy.Get(ctx, remote, local); err != nil {
		return 0, err
	}
	table, err := literal.ReadCollectionFile(local)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", remote, err)
	}
	if index < 0 || index >= len(table) {
		return 0, failure.Assertf("shard index %d is out of bounds for lookup table %s of length %d", index, remote, len(table))
	}
	v, ok := literal.AsInt(table[index])
	if !ok {
		return 0, failure.Assertf("lookup table %s holds %T at position %d, want integer", remote, table[index], index)
	}
	if v < 0 || v > math.MaxInt {
		return 0, failure.Assertf("lookup table %s maps index %d to invalid shard %d", remote, index, v)
	}
	return int(v), nil
}

// InputPath is the inputs file of shard index below the data directory the
// scheduler passes as the inputs location.
func InputPath(dataDir string, index int) string {
	return storage.Join(dataDir, strconv.Itoa(index), InputsFileName)
}

// OutputPrefix is the per-shard output location.
func OutputPrefix(prefix string, index int) string {
	return storage.Join(prefix, strconv.Itoa(index))
}
