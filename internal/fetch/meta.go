package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// FileFingerprint holds stat-based identity for a local file.
type FileFingerprint struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// StatFile creates a FileFingerprint from an on-disk file.
func StatFile(path string) (FileFingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileFingerprint{}, err
	}
	return FileFingerprint{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// sidecar is the key=value metadata written next to a fetched file:
//
//	<data_dir>/AlphaMissense_hg38.tsv.gz       (fetched file)
//	<data_dir>/AlphaMissense_hg38.tsv.gz.meta  (source, size, sha256)
type sidecar struct {
	Source    string
	Size      int64
	SHA256    string
	FetchedAt time.Time
}

func metaPath(path string) string {
	return path + ".meta"
}

func writeMeta(path string, m sidecar) error {
	lines := []string{
		"source=" + m.Source,
		"size=" + strconv.FormatInt(m.Size, 10),
		"sha256=" + m.SHA256,
		"fetched_at=" + m.FetchedAt.UTC().Format(time.RFC3339),
		"",
	}
	return os.WriteFile(metaPath(path), []byte(strings.Join(lines, "\n")), 0644)
}

func readMeta(path string) (sidecar, error) {
	data, err := os.ReadFile(metaPath(path))
	if err != nil {
		return sidecar{}, err
	}

	kv := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			kv[k] = v
		}
	}

	size, err := strconv.ParseInt(kv["size"], 10, 64)
	if err != nil {
		return sidecar{}, fmt.Errorf("parse size in %s: %w", metaPath(path), err)
	}
	m := sidecar{Source: kv["source"], Size: size, SHA256: kv["sha256"]}
	if t, err := time.Parse(time.RFC3339, kv["fetched_at"]); err == nil {
		m.FetchedAt = t
	}
	return m, nil
}

// FileSHA256 returns the hex SHA-256 of a file's contents.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
