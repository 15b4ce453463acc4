package fetch

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// progressWriter logs download progress at most once per interval.
type progressWriter struct {
	name       string
	total      int64
	downloaded int64
	interval   time.Duration
	lastPrint  time.Time
	logger     *zap.Logger
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	pw.downloaded += int64(n)

	if time.Since(pw.lastPrint) > pw.interval {
		fields := []zap.Field{
			zap.String("file", pw.name),
			zap.String("downloaded", FormatSize(pw.downloaded)),
		}
		if pw.total > 0 {
			pct := float64(pw.downloaded) / float64(pw.total) * 100
			fields = append(fields,
				zap.String("total", FormatSize(pw.total)),
				zap.String("percent", fmt.Sprintf("%.1f", pct)))
		}
		pw.logger.Info("download progress", fields...)
		pw.lastPrint = time.Now()
	}

	return n, nil
}

// FormatSize formats bytes as human-readable size.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
