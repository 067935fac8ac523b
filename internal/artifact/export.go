package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/JakeFAU/runwatch/internal/runs"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatText = "txt"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// JoinContent concatenates artifact contents separated by a blank line.
func JoinContent(artifacts []runs.Artifact) string {
	parts := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		parts = append(parts, a.Content)
	}
	return strings.Join(parts, "\n\n")
}

// MarshalJSON renders artifacts as an indented JSON array.
func MarshalJSON(artifacts []runs.Artifact) ([]byte, error) {
	if artifacts == nil {
		artifacts = []runs.Artifact{}
	}
	data, err := json.MarshalIndent(artifacts, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal artifacts: %w", err)
	}
	return data, nil
}

// ExportName builds "<topic>_<category>.<ext>" with whitespace runs in the
// topic replaced by underscores.
func ExportName(topic, category, ext string) string {
	return fmt.Sprintf("%s_%s.%s", whitespaceRun.ReplaceAllString(topic, "_"), category, ext)
}

// Encode renders the filtered artifacts in format and returns the payload and
// its content type.
func Encode(artifacts []runs.Artifact, format string) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		data, err := MarshalJSON(artifacts)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	case FormatText:
		return []byte(JoinContent(artifacts)), "text/plain; charset=utf-8", nil
	default:
		return nil, "", fmt.Errorf("unsupported export format %q", format)
	}
}

// ExportRequest describes one export of a category of a run's artifacts.
type ExportRequest struct {
	RunID    int64
	Topic    string
	Category string
	Format   string
	Prefix   string
}

// Export filters artifacts by category, encodes them and writes the result
// to store under <prefix>/<run id>/<export name>. It returns the store URI.
func Export(ctx context.Context, store runs.BlobStore, req ExportRequest, artifacts []runs.Artifact) (string, error) {
	if store == nil {
		return "", errors.New("blob store is required")
	}
	if !ValidCategory(req.Category) {
		return "", fmt.Errorf("unknown category %q", req.Category)
	}
	data, contentType, err := Encode(FilterByCategory(artifacts, req.Category), req.Format)
	if err != nil {
		return "", err
	}
	name := ExportName(req.Topic, req.Category, req.Format)
	key := path.Join(req.Prefix, fmt.Sprint(req.RunID), name)
	uri, err := store.PutObject(ctx, key, contentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("write export %s: %w", key, err)
	}
	return uri, nil
}
