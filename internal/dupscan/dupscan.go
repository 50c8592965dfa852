// Package dupscan finds duplicate files among a batch of uploads by
// content hash. A size pre-filter keeps hashing off files that cannot
// possibly match.
package dupscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"

	"mediaforge/internal/job"
)

// Group is one set of files with identical content.
type Group struct {
	Hash  string   `json:"hash"`
	Size  string   `json:"size"`
	Bytes int64    `json:"bytes"`
	Files []string `json:"files"`
}

// Report is the JSON artifact a duplicate-scan job produces.
type Report struct {
	ScannedFiles    int     `json:"scanned_files"`
	DuplicateGroups []Group `json:"duplicate_groups"`
	WastedBytes     int64   `json:"wasted_bytes"`
	WastedSize      string  `json:"wasted_size"`
}

// Op scans the uploaded files and writes a duplicates report.
type Op struct {
	Inputs []string
}

func (op Op) Run(ctx context.Context, env job.Env) (job.Result, error) {
	if len(op.Inputs) < 2 {
		return job.Result{}, fmt.Errorf("duplicate scan needs at least 2 files, got %d", len(op.Inputs))
	}

	bySize := make(map[int64][]string)
	for _, path := range op.Inputs {
		info, err := os.Stat(path)
		if err != nil {
			return job.Result{}, fmt.Errorf("stat %s: %w", filepath.Base(path), err)
		}
		bySize[info.Size()] = append(bySize[info.Size()], path)
	}

	byHash := make(map[string][]string)
	hashSize := make(map[string]int64)
	hashed := 0
	total := len(op.Inputs)
	for size, paths := range bySize {
		if len(paths) < 2 {
			hashed += len(paths)
			continue
		}
		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				return job.Result{}, err
			}
			sum, err := hashFile(path)
			if err != nil {
				return job.Result{}, fmt.Errorf("hash %s: %w", filepath.Base(path), err)
			}
			byHash[sum] = append(byHash[sum], path)
			hashSize[sum] = size
			hashed++
			env.Reporter.Progress(hashed*90/total, fmt.Sprintf("hashed %d/%d files", hashed, total))
		}
	}

	report := Report{ScannedFiles: total}
	for sum, paths := range byHash {
		if len(paths) < 2 {
			continue
		}
		names := make([]string, len(paths))
		for i, p := range paths {
			names[i] = filepath.Base(p)
		}
		sort.Strings(names)
		size := hashSize[sum]
		report.DuplicateGroups = append(report.DuplicateGroups, Group{
			Hash:  sum,
			Size:  humanize.Bytes(uint64(size)),
			Bytes: size,
			Files: names,
		})
		report.WastedBytes += size * int64(len(paths)-1)
	}
	sort.Slice(report.DuplicateGroups, func(i, j int) bool {
		return report.DuplicateGroups[i].Hash < report.DuplicateGroups[j].Hash
	})
	report.WastedSize = humanize.Bytes(uint64(report.WastedBytes))

	outPath := filepath.Join(env.Dir, "duplicates-report.json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return job.Result{}, fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o640); err != nil {
		return job.Result{}, fmt.Errorf("write report: %w", err)
	}

	msg := fmt.Sprintf("found %d duplicate group(s) among %d files", len(report.DuplicateGroups), total)
	return job.Result{
		Files:   []string{outPath},
		Message: msg,
		Title:   "duplicate scan",
	}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // upload path built by the API layer
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
