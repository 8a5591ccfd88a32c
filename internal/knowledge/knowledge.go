// Package knowledge loads a small corpus of markdown documents, splits
// them into addressable chunks and ranks chunk relevance against a query.
package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/docaskhq/docask/pkg/models"
)

// DefaultTopK is how many chunks a query returns unless the caller asks
// for a different cut-off.
const DefaultTopK = 3

const titleWeight = 3

var (
	slugPattern = regexp.MustCompile(`[^a-z0-9]+`)
	termPattern = regexp.MustCompile(`[a-z0-9]+`)
)

// Store owns the chunk cache: documents are parsed once on first access
// and served from memory afterwards. Load may race on first access; the
// parse is idempotent so a redundant load is harmless.
type Store struct {
	dir string

	mu     sync.RWMutex
	loaded bool
	chunks []models.Chunk
}

// NewStore creates a store over a directory of documents. The directory
// is not touched until the first Load or FindRelevant call.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Load parses the corpus on first call and returns the cached chunks on
// every call after that. A missing corpus directory yields an empty
// corpus rather than an error; read failures on individual files
// propagate, since they indicate a deployment defect.
func (s *Store) Load() ([]models.Chunk, error) {
	s.mu.RLock()
	if s.loaded {
		chunks := s.chunks
		s.mu.RUnlock()
		return chunks, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.chunks, nil
	}

	chunks, err := s.loadCorpus()
	if err != nil {
		return nil, err
	}
	s.chunks = chunks
	s.loaded = true
	return s.chunks, nil
}

// Reset drops the cache so the next Load re-parses the corpus. Test
// utility; production code never calls it.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.chunks = nil
}

// FindRelevant scores every chunk against the query and returns at most
// topK chunks with positive score, most relevant first. Ties keep the
// stable order in which documents and sections were loaded. A query that
// shares no vocabulary with the corpus returns an empty slice.
func (s *Store) FindRelevant(query string, topK int) ([]models.ScoredChunk, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	chunks, err := s.Load()
	if err != nil {
		return nil, err
	}

	terms := queryTerms(query)
	if len(terms) == 0 {
		return []models.ScoredChunk{}, nil
	}

	scored := make([]models.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if score := scoreChunk(c, terms); score > 0 {
			scored = append(scored, models.ScoredChunk{Chunk: c, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// queryTerms lower-cases the query and keeps alphanumeric tokens longer
// than two characters; shorter tokens are noise.
func queryTerms(query string) []string {
	tokens := termPattern.FindAllString(strings.ToLower(query), -1)
	terms := tokens[:0]
	for _, t := range tokens {
		if len(t) > 2 {
			terms = append(terms, t)
		}
	}
	return terms
}

// scoreChunk counts term occurrences, weighting a heading match higher
// than an incidental body mention.
func scoreChunk(c models.Chunk, terms []string) float64 {
	title := strings.ToLower(c.Title)
	combined := strings.ToLower(c.Content)

	score := 0
	for _, term := range terms {
		score += titleWeight * strings.Count(title, term)
		score += strings.Count(combined, term)
	}
	return float64(score)
}

func (s *Store) loadCorpus() ([]models.Chunk, error) {
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		log.Warn().Str("dir", s.dir).Msg("corpus directory missing, serving empty knowledge base")
		return []models.Chunk{}, nil
	}

	var files []string
	err := godirwalk.Walk(s.dir, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(osPathname)) {
			case ".md", ".markdown", ".txt":
				files = append(files, osPathname)
			}
			return nil
		},
		// Lexical order keeps chunk order (and tie-breaking) stable
		// across loads.
		Unsorted: false,
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus %s: %w", s.dir, err)
	}

	chunks := make([]models.Chunk, 0, len(files)*4)
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read corpus file %s: %w", path, err)
		}
		source := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		chunks = append(chunks, chunkDocument(source, string(raw))...)
	}

	log.Info().Int("documents", len(files)).Int("chunks", len(chunks)).Str("dir", s.dir).Msg("knowledge corpus loaded")
	return chunks, nil
}

// chunkDocument splits one document into chunks on second-level headings.
// Text before the first "## " heading becomes the intro chunk, titled by
// the document's top-level heading (or its base name when absent). Every
// section keeps its heading line inside the chunk content. Sections with
// an empty body are dropped.
func chunkDocument(source, text string) []models.Chunk {
	lines := strings.Split(text, "\n")

	var chunks []models.Chunk
	introEnd := len(lines)
	for i, line := range lines {
		if strings.HasPrefix(line, "## ") {
			introEnd = i
			break
		}
	}

	intro := strings.TrimSpace(strings.Join(lines[:introEnd], "\n"))
	if intro != "" {
		title := source
		for _, line := range lines[:introEnd] {
			if strings.HasPrefix(line, "# ") {
				title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
				break
			}
		}
		chunks = append(chunks, models.Chunk{
			ID:      source + "#intro",
			Title:   title,
			Content: intro,
			Source:  source,
		})
	}

	i := introEnd
	for i < len(lines) {
		heading := strings.TrimSpace(strings.TrimPrefix(lines[i], "## "))
		j := i + 1
		for j < len(lines) && !strings.HasPrefix(lines[j], "## ") {
			j++
		}
		body := strings.TrimSpace(strings.Join(lines[i+1:j], "\n"))
		if body != "" {
			chunks = append(chunks, models.Chunk{
				ID:      source + "#" + slugify(heading),
				Title:   heading,
				Content: lines[i] + "\n" + body,
				Source:  source,
			})
		}
		i = j
	}

	return chunks
}

// slugify lower-cases a title and collapses every run of non-alphanumeric
// characters into a single hyphen.
func slugify(title string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(title), "-")
	return strings.Trim(slug, "-")
}
