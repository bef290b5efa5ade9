package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
)

const (
	TextExtension    = ".txt"
	SidecarExtension = ".json"
)

// PendingFile is a text payload waiting for ingestion together with its
// optional metadata sidecar (same base name, .json extension).
type PendingFile struct {
	ID          string
	TextPath    string
	SidecarPath string
}

// Paths returns every file that belongs to the pending document.
func (f PendingFile) Paths() []string {
	if f.SidecarPath == "" {
		return []string{f.TextPath}
	}
	return []string{f.TextPath, f.SidecarPath}
}

// Scan lists the pending text files of dir in name order. Sidecars without
// a matching text file are ignored. A missing directory yields no files.
func Scan(dir string) ([]PendingFile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending directory %s: %w", dir, err)
	}

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names[e.Name()] = true
		}
	}

	var files []PendingFile
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(e.Name()), TextExtension) {
			continue
		}
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		f := PendingFile{
			ID:       base,
			TextPath: filepath.Join(dir, e.Name()),
		}
		if sidecar := base + SidecarExtension; names[sidecar] {
			f.SidecarPath = filepath.Join(dir, sidecar)
		}
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].TextPath < files[j].TextPath })
	return files, nil
}

// Load reads the payload and sidecar of f into a Document. The file origin
// markers are always set; a source_id in the sidecar replaces the file base
// name as document ID.
func Load(ctx context.Context, f PendingFile) (common.Document, error) {
	if err := ctx.Err(); err != nil {
		return common.Document{}, err
	}

	text, err := os.ReadFile(f.TextPath)
	if err != nil {
		return common.Document{}, fmt.Errorf("failed to read %s: %w", f.TextPath, err)
	}

	meta := map[string]string{}
	if f.SidecarPath != "" {
		raw, err := os.ReadFile(f.SidecarPath)
		if err != nil {
			return common.Document{}, fmt.Errorf("failed to read sidecar %s: %w", f.SidecarPath, err)
		}
		meta, err = ParseSidecar(raw)
		if err != nil {
			return common.Document{}, fmt.Errorf("invalid sidecar %s: %w", f.SidecarPath, err)
		}
	}
	meta[common.MetaFileName] = filepath.Base(f.TextPath)
	meta[common.MetaFilePath] = f.TextPath

	id := f.ID
	if sid := strings.TrimSpace(meta[common.MetaSourceID]); sid != "" {
		id = sid
	}

	return common.Document{
		ID:       id,
		Text:     string(text),
		Metadata: meta,
	}, nil
}

// ParseSidecar flattens a JSON object into string metadata. Arrays are
// joined with "; ", nested objects are kept as JSON and nulls are dropped.
func ParseSidecar(raw []byte) (map[string]string, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}

	meta := make(map[string]string, len(obj))
	for k, v := range obj {
		if s, ok := flattenValue(v); ok {
			meta[k] = s
		}
	}
	return meta, nil
}

func flattenValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := flattenValue(item); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; "), true
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
