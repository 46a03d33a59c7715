package models

import (
	"strings"
	"time"
)

// WorkFile references a blob stored on one node of the remote cluster.
// AffinityToken identifies that node. It is assigned at upload time and never changes.
type WorkFile struct {
	ID            string `json:"fileId"`
	AffinityToken string `json:"affinityToken"`
	Format        string `json:"fileExtension"`
}

// NewWorkFile builds a WorkFile, normalizing format to a lowercase extension without a leading dot.
func NewWorkFile(id, affinityToken, format string) WorkFile {
	return WorkFile{
		ID:            id,
		AffinityToken: affinityToken,
		Format:        NormalizeFormat(format),
	}
}

// NormalizeFormat lowercases a file extension hint and strips any leading dot.
func NormalizeFormat(format string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
}

// WorkFileRecord is the ledger entry written for every upload.
type WorkFileRecord struct {
	FileID        string    `db:"file_id"        json:"file_id"`
	AffinityToken string    `db:"affinity_token" json:"affinity_token"`
	Format        string    `db:"format"         json:"format"`
	Size          int64     `db:"size"           json:"size"`
	Digest        string    `db:"digest"         json:"digest"`
	UploadedAt    time.Time `db:"uploaded_at"    json:"uploaded_at"`
}
