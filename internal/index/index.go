// Package index maintains a per-project character-trigram index over a
// repository's source tree, used for sublinear keyword retrieval, plus a
// content-relevance scorer used to rank and excerpt matching files.
package index

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/alekspetrov/gitbot/internal/forge"
	"github.com/alekspetrov/gitbot/internal/logging"
)

const (
	maxIndexedFiles  = 1000
	maxFileSizeBytes = 100_000
	buildConcurrency = 10
)

// indexableExtensions is the fixed whitelist of source-file suffixes this
// index will trigram. Matched case-sensitively on the tail after the last '.'.
var indexableExtensions = map[string]bool{
	"rs": true, "py": true, "js": true, "ts": true, "tsx": true, "jsx": true,
	"java": true, "c": true, "cpp": true, "h": true, "hpp": true, "go": true,
	"rb": true, "php": true, "cs": true, "scala": true, "kt": true, "swift": true,
	"sh": true, "vue": true, "svelte": true, "md": true,
}

var lowerCaser = cases.Lower(language.Und)

// ShouldIndexFile reports whether p's extension is in the indexable whitelist.
func ShouldIndexFile(p string) bool {
	dot := strings.LastIndex(p, ".")
	if dot < 0 || dot == len(p)-1 {
		return false
	}
	return indexableExtensions[p[dot+1:]]
}

// Index is a per-project trigram index: trigram -> set of file paths, plus
// a content-hash per path so unchanged files are never reindexed.
type Index struct {
	mu           sync.RWMutex
	trigrams     map[string]map[string]bool
	fileHashes   map[string]uint64
	lastBuilt    time.Time
	refreshEvery time.Duration
}

// New returns an empty index. refreshEvery is used purely to compute the
// staleness warning threshold (twice refreshEvery).
func New(refreshEvery time.Duration) *Index {
	return &Index{
		trigrams:     make(map[string]map[string]bool),
		fileHashes:   make(map[string]uint64),
		refreshEvery: refreshEvery,
	}
}

// ContentHash computes the 64-bit FNV-1a hash of content, used as the
// index's change-detection guard.
func ContentHash(content string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(content))
	return h.Sum64()
}

// Trigrams lowercases s and yields every sliding 3-character window. If s
// has fewer than 3 runes, the lowercased whole string is the sole trigram.
func Trigrams(s string) []string {
	lower := lowerCaser.String(s)
	runes := []rune(lower)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) < 3 {
		return []string{string(runes)}
	}
	out := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		out = append(out, string(runes[i:i+3]))
	}
	return out
}

// AddFile inserts or updates path's content. A no-op if content's hash is
// unchanged from what's already recorded for path.
func (idx *Index) AddFile(path, content string) {
	newHash := ContentHash(content)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existing, ok := idx.fileHashes[path]; ok && existing == newHash {
		return
	}

	idx.removeLocked(path)

	for _, tri := range Trigrams(content) {
		bucket, ok := idx.trigrams[tri]
		if !ok {
			bucket = make(map[string]bool)
			idx.trigrams[tri] = bucket
		}
		bucket[path] = true
	}
	idx.fileHashes[path] = newHash
}

// RemoveFile deletes path from every trigram bucket it appears in and
// purges any bucket left empty.
func (idx *Index) RemoveFile(path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(path)
}

func (idx *Index) removeLocked(path string) {
	if _, ok := idx.fileHashes[path]; !ok {
		return
	}
	for tri, bucket := range idx.trigrams {
		delete(bucket, path)
		if len(bucket) == 0 {
			delete(idx.trigrams, tri)
		}
	}
	delete(idx.fileHashes, path)
}

// Search intersects, across keywords, the set of files whose trigrams
// match that keyword's trigrams. An empty keyword list yields no results;
// a keyword with no matching trigrams collapses the whole intersection.
func (idx *Index) Search(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var result map[string]bool
	for i, kw := range keywords {
		candidates := idx.candidateSetLocked(kw)
		if i == 0 {
			result = candidates
			continue
		}
		result = intersect(result, candidates)
		if len(result) == 0 {
			return nil
		}
	}

	out := make([]string, 0, len(result))
	for path := range result {
		out = append(out, path)
	}
	return out
}

func (idx *Index) candidateSetLocked(keyword string) map[string]bool {
	union := make(map[string]bool)
	tris := Trigrams(keyword)
	if len(tris) == 1 && len([]rune(tris[0])) < 3 {
		// A keyword shorter than a trigram matches every bucket whose
		// trigram contains it.
		for tri, bucket := range idx.trigrams {
			if strings.Contains(tri, tris[0]) {
				for path := range bucket {
					union[path] = true
				}
			}
		}
		return union
	}
	for _, tri := range tris {
		if bucket, ok := idx.trigrams[tri]; ok {
			for path := range bucket {
				union[path] = true
			}
		}
	}
	return union
}

func intersect(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for path := range small {
		if big[path] {
			out[path] = true
		}
	}
	return out
}

// LastBuilt reports when Build last completed successfully.
func (idx *Index) LastBuilt() time.Time {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.lastBuilt
}

// FileCount reports how many distinct paths are currently indexed.
func (idx *Index) FileCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.fileHashes)
}

// WarnIfStale logs a warning when the index hasn't rebuilt in over twice
// its configured refresh interval.
func (idx *Index) WarnIfStale(ctx context.Context, project string) {
	last := idx.LastBuilt()
	if last.IsZero() || idx.refreshEvery <= 0 {
		return
	}
	if time.Since(last) > 2*idx.refreshEvery {
		logging.WarnContext(ctx, "index is stale", "project", project, "last_built", last, "refresh_every", idx.refreshEvery)
	}
}

// FileFetcher is the subset of the forge client Build needs, so tests can
// supply a fake without standing up an httptest server.
type FileFetcher interface {
	GetRepositoryTree(ctx context.Context, projectID int) ([]forge.TreeEntry, error)
	GetFileContent(ctx context.Context, projectID int, path, ref string) (*forge.File, error)
}

// Build fetches the repository tree, filters to indexable extensions, and
// fetches up to maxIndexedFiles file bodies with a concurrency cap of 10,
// skipping anything over maxFileSizeBytes. Individual file errors are
// counted but never abort the build.
func (idx *Index) Build(ctx context.Context, client FileFetcher, projectID int, ref string) error {
	ctx = logging.ContextWithComponent(ctx, logging.ComponentIndex)
	tree, err := client.GetRepositoryTree(ctx, projectID)
	if err != nil {
		return err
	}

	var candidates []string
	for _, entry := range tree {
		if !ShouldIndexFile(entry.Path) {
			continue
		}
		candidates = append(candidates, entry.Path)
		if len(candidates) >= maxIndexedFiles {
			break
		}
	}

	var errCount int
	var errMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(buildConcurrency)

	for _, path := range candidates {
		path := path
		g.Go(func() error {
			file, err := client.GetFileContent(gctx, projectID, path, ref)
			if err != nil {
				errMu.Lock()
				errCount++
				errMu.Unlock()
				return nil
			}
			if file.SizeInBytes > maxFileSizeBytes || len(file.Content) > maxFileSizeBytes {
				return nil
			}
			idx.AddFile(path, file.Content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	idx.mu.Lock()
	idx.lastBuilt = time.Now()
	idx.mu.Unlock()

	if errCount > 0 {
		logging.WarnContext(ctx, "index build had file errors", "project_id", projectID, "error_count", errCount, "candidates", len(candidates))
	}
	return nil
}
