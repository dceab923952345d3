package retrieval

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"health-assistant/internal/agent"
)

// Chunk is a persisted piece of a source document.
type Chunk struct {
	ID        uint   `gorm:"primaryKey"`
	Source    string `gorm:"index"`
	Ord       int
	Content   string `gorm:"type:text"`
	Embedding []byte
}

func (Chunk) TableName() string { return "chunks" }

// IndexMeta records the current build of the index. There is one row.
type IndexMeta struct {
	ID         uint `gorm:"primaryKey"`
	Version    float64
	EmbedModel string
	Chunks     int
	BuiltAt    time.Time
}

func (IndexMeta) TableName() string { return "index_meta" }

const metaRowID = 1

// Models lists the tables the index needs migrated.
var Models = []any{&Chunk{}, &IndexMeta{}}

type loadedChunk struct {
	source string
	text   string
	vec    []float32
	terms  map[string]int
}

// Index is an in-memory view over the chunk table. Searches hold a read
// lock; Replace swaps the whole corpus under the write lock.
type Index struct {
	db       *gorm.DB
	embedder agent.Client
	logger   zerolog.Logger

	mu     sync.RWMutex
	chunks []loadedChunk
	df     map[string]int
	meta   IndexMeta
}

// NewIndex loads the current index from db. embedder may be nil, in which
// case only lexical search is available.
func NewIndex(db *gorm.DB, embedder agent.Client, logger zerolog.Logger) (*Index, error) {
	idx := &Index{
		db:       db,
		embedder: embedder,
		logger:   logger.With().Str("component", "retrieval.index").Logger(),
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) load() error {
	var meta IndexMeta
	res := idx.db.Limit(1).Find(&meta, metaRowID)
	if res.Error != nil {
		return fmt.Errorf("load index meta: %w", res.Error)
	}

	var rows []Chunk
	if err := idx.db.Order("id asc").Find(&rows).Error; err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}

	chunks := make([]loadedChunk, 0, len(rows))
	df := make(map[string]int)
	for _, r := range rows {
		terms := termFreq(r.Content)
		for t := range terms {
			df[t]++
		}
		chunks = append(chunks, loadedChunk{
			source: r.Source,
			text:   r.Content,
			vec:    decodeVector(r.Embedding),
			terms:  terms,
		})
	}

	idx.mu.Lock()
	idx.chunks = chunks
	idx.df = df
	idx.meta = meta
	idx.mu.Unlock()

	idx.logger.Debug().Int("chunks", len(chunks)).Float64("version", meta.Version).Msg("index loaded")
	return nil
}

// Version is the unix time, in seconds, of the last successful build. It
// is zero for an index that was never built.
func (idx *Index) Version() float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.meta.Version
}

// Len returns the number of chunks in the index.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

// Search ranks chunks against query. The query is embedded before the read
// lock is taken so a slow embedding call never holds up a rebuild.
func (idx *Index) Search(ctx context.Context, query string, k int) Result {
	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}
	if k <= 0 {
		k = 3
	}

	idx.mu.RLock()
	empty, semantic := len(idx.chunks) == 0, idx.semantic()
	idx.mu.RUnlock()
	if empty {
		return Result{}
	}

	var qvec []float32
	if semantic {
		vecs, err := idx.embedder.Embed(ctx, []string{query})
		switch {
		case err == nil && len(vecs) == 1:
			qvec = vecs[0]
		case ctx.Err() != nil:
			return Result{Err: ctx.Err()}
		default:
			idx.logger.Warn().Err(err).Msg("query embedding failed, using lexical search")
		}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	// the corpus may have been rebuilt with another model meanwhile
	if qvec != nil && idx.semantic() {
		return Result{Passages: idx.rankByVector(qvec, k)}
	}
	return Result{Passages: idx.rankByTerms(query, k)}
}

func (idx *Index) semantic() bool {
	return idx.embedder != nil &&
		idx.meta.EmbedModel != "" &&
		idx.meta.EmbedModel == idx.embedder.EmbedModel()
}

func (idx *Index) rankByVector(q []float32, k int) []Passage {
	scored := make([]Passage, 0, len(idx.chunks))
	for _, c := range idx.chunks {
		if len(c.vec) == 0 {
			continue
		}
		scored = append(scored, Passage{Content: c.text, Source: c.source, Score: cosine(q, c.vec)})
	}
	return topK(scored, k)
}

func (idx *Index) rankByTerms(query string, k int) []Passage {
	qterms := termFreq(query)
	if len(qterms) == 0 {
		return nil
	}
	n := float64(len(idx.chunks))
	scored := make([]Passage, 0, len(idx.chunks))
	for _, c := range idx.chunks {
		var score float64
		for t := range qterms {
			tf := c.terms[t]
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + n/float64(idx.df[t]))
			score += (1 + math.Log(float64(tf))) * idf
		}
		if score > 0 {
			scored = append(scored, Passage{Content: c.text, Source: c.source, Score: score})
		}
	}
	return topK(scored, k)
}

func topK(scored []Passage, k int) []Passage {
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// Replace swaps the indexed corpus for chunks in a single transaction and
// advances the version. embedModel is empty when chunks carry no vectors.
func (idx *Index) Replace(ctx context.Context, chunks []Chunk, embedModel string) error {
	prev := idx.Version()
	version := float64(time.Now().UnixNano()) / 1e9
	if version <= prev {
		version = prev + 1e-3
	}

	err := idx.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Chunk{}).Error; err != nil {
			return fmt.Errorf("clear chunks: %w", err)
		}
		if len(chunks) > 0 {
			for i := range chunks {
				chunks[i].ID = 0
			}
			if err := tx.CreateInBatches(chunks, 200).Error; err != nil {
				return fmt.Errorf("insert chunks: %w", err)
			}
		}
		meta := IndexMeta{
			ID:         metaRowID,
			Version:    version,
			EmbedModel: embedModel,
			Chunks:     len(chunks),
			BuiltAt:    time.Now(),
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&meta).Error; err != nil {
			return fmt.Errorf("write index meta: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return idx.load()
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"are": true, "was": true, "what": true, "how": true, "from": true, "have": true,
	"has": true, "you": true, "your": true, "not": true, "but": true, "can": true,
	"its": true, "into": true, "of": true, "to": true, "in": true, "is": true,
	"on": true, "or": true, "an": true, "as": true, "be": true, "by": true, "it": true,
	"at": true, "do": true, "if": true, "my": true, "me": true, "i": true, "a": true,
}

func termFreq(s string) map[string]int {
	out := make(map[string]int)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) < 2 || stopwords[w] {
			continue
		}
		out[w]++
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
