package database

import (
	"fmt"
	"strconv"
	"strings"
)

// Revision is the parsed form of a document's "<index>-<hash>" rev
// string, matching spec §3's Revision Knowledge and §8's boundary
// behavior: `_parse_doc_revision("3-abc") == (3, "abc")`.
type Revision struct {
	Index uint64
	Hash  string
}

func (r Revision) String() string {
	return fmt.Sprintf("%d-%s", r.Index, r.Hash)
}

// ParseRevision splits a "<index>-<hash>" string. Both parts must be
// present; a malformed revision is rejected.
func ParseRevision(rev string) (Revision, error) {
	idx := strings.IndexByte(rev, '-')
	if idx <= 0 || idx == len(rev)-1 {
		return Revision{}, fmt.Errorf("database: malformed revision %q", rev)
	}
	n, err := strconv.ParseUint(rev[:idx], 10, 64)
	if err != nil {
		return Revision{}, fmt.Errorf("database: malformed revision index %q: %w", rev, err)
	}
	hash := rev[idx+1:]
	if hash == "" {
		return Revision{}, fmt.Errorf("database: malformed revision hash %q", rev)
	}
	return Revision{Index: n, Hash: hash}, nil
}
