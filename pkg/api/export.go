package api

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/caretrust/auditchain/pkg/service"
)

// Exporter builds downloadable evidence packs from ledger ranges. The
// pack is a zip of the raw signed entries plus a manifest carrying the
// chain head, so an auditor can re-verify the range offline.
type Exporter struct {
	svc *service.Service
}

func NewExporter(svc *service.Service) *Exporter {
	return &Exporter{svc: svc}
}

// GeneratePack creates a zip containing the entries in [from, to] and a
// manifest with checksums. Returns the zip bytes and their sha256 hex.
func (e *Exporter) GeneratePack(ctx context.Context, from, to uint64) ([]byte, string, error) {
	entries, err := e.svc.Entries(ctx, from, to)
	if err != nil {
		return nil, "", err
	}

	entriesJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, "", err
	}

	headSeq, headDigest := e.svc.Head()
	manifest := map[string]any{
		"generated_at":  time.Now().UTC(),
		"entry_count":   len(entries),
		"head_sequence": headSeq,
		"head_digest":   headDigest,
		"range": map[string]uint64{
			"from": from,
			"to":   to,
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("api: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("entries.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(entriesJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	_, _ = fmt.Fprintf(f, "Audit chain evidence pack\nGenerated at %s\nEntries: %d\nHead: %d %s\n",
		time.Now().UTC().Format(time.RFC3339), len(entries), headSeq, headDigest)

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(hash[:]), nil
}
