package ramdisk

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"

	"grimm.is/discoverd/internal/clock"
	"grimm.is/discoverd/internal/logging"
)

// journalMember is the archive name of the systemd journal dump.
const journalMember = "journal"

// CollectLogs archives the given files plus the current boot journal
// into a gzipped tar and returns it base64 encoded. Missing files are
// skipped. Member names are the file paths without the leading slash.
func CollectLogs(ctx context.Context, runner Runner, files []string, logger *logging.Logger) (string, error) {
	logger = logging.OrDefault(logger)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	if journal, err := runner.Output(ctx, "journalctl", "--no-pager", "-b"); err != nil {
		logger.Warn("failed to dump the journal", "error", err)
	} else if err := addMember(tw, journalMember, journal); err != nil {
		return "", err
	}

	for _, name := range uniqueSorted(files) {
		data, err := os.ReadFile(name)
		if err != nil {
			logger.Warn("log file cannot be read", "file", name, "error", err)
			continue
		}
		if err := addMember(tw, strings.TrimPrefix(name, "/"), data); err != nil {
			return "", err
		}
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish log archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("failed to compress log archive: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func addMember(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: clock.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to add %s to log archive: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to add %s to log archive: %w", name, err)
	}
	return nil
}

func uniqueSorted(files []string) []string {
	seen := make(map[string]bool, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
