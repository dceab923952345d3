package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"health-assistant/internal/agent"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	embedBatchSize      = 64
)

var ErrNoDocuments = errors.New("no documents found")

// Stats summarizes an ingestion run.
type Stats struct {
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Mode      string `json:"mode"`
}

// Ingester rebuilds the index from the documents under a data directory.
type Ingester struct {
	dataDir  string
	index    *Index
	embedder agent.Client
	logger   zerolog.Logger

	ChunkSize    int
	ChunkOverlap int
}

func NewIngester(dataDir string, index *Index, embedder agent.Client, logger zerolog.Logger) *Ingester {
	return &Ingester{
		dataDir:      dataDir,
		index:        index,
		embedder:     embedder,
		logger:       logger.With().Str("component", "retrieval.ingest").Logger(),
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
	}
}

type document struct {
	source string
	text   string
}

// Ingest loads every PDF, text and markdown file under the data directory,
// splits it into overlapping chunks and replaces the index. When no
// document yields text the existing index is left untouched and
// ErrNoDocuments is returned.
func (in *Ingester) Ingest(ctx context.Context) (Stats, error) {
	paths, err := in.collect()
	if err != nil {
		return Stats{}, err
	}
	in.logger.Info().Str("dir", in.dataDir).Int("files", len(paths)).Msg("loading documents")

	docs := make([]document, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := readDocument(p)
			if err != nil {
				in.logger.Warn().Err(err).Str("file", p).Msg("skipping unreadable document")
				return nil
			}
			docs[i] = document{source: p, text: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	var chunks []Chunk
	ndocs := 0
	for _, d := range docs {
		if strings.TrimSpace(d.text) == "" {
			continue
		}
		ndocs++
		for i, c := range SplitText(d.text, in.ChunkSize, in.ChunkOverlap) {
			chunks = append(chunks, Chunk{Source: d.source, Ord: i, Content: c})
		}
	}
	if len(chunks) == 0 {
		in.logger.Warn().Str("dir", in.dataDir).Msg("no documents found")
		return Stats{Mode: "none"}, ErrNoDocuments
	}

	embedModel := ""
	mode := "lexical"
	if in.embedder != nil {
		if err := in.embed(ctx, chunks); err != nil {
			in.logger.Warn().Err(err).Msg("embedding failed, building lexical index")
			for i := range chunks {
				chunks[i].Embedding = nil
			}
		} else {
			embedModel = in.embedder.EmbedModel()
			mode = "semantic"
		}
	}

	if err := in.index.Replace(ctx, chunks, embedModel); err != nil {
		return Stats{}, fmt.Errorf("replace index: %w", err)
	}

	stats := Stats{Documents: ndocs, Chunks: len(chunks), Mode: mode}
	in.logger.Info().
		Int("documents", stats.Documents).
		Int("chunks", stats.Chunks).
		Str("mode", mode).
		Msg("index rebuilt")
	return stats, nil
}

func (in *Ingester) collect() ([]string, error) {
	if _, err := os.Stat(in.dataDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat data dir: %w", err)
	}
	var paths []string
	err := filepath.WalkDir(in.dataDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".pdf", ".txt", ".md":
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk data dir: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (in *Ingester) embed(ctx context.Context, chunks []Chunk) error {
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		inputs := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			inputs = append(inputs, c.Content)
		}
		vecs, err := in.embedder.Embed(ctx, inputs)
		if err != nil {
			return err
		}
		for i, v := range vecs {
			chunks[start+i].Embedding = encodeVector(v)
		}
	}
	return nil
}

func readDocument(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return readPDF(path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readPDF extracts text row by row so that "Label: value" lines survive.
func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("pdf open: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("pdf page %d: %w", i, err)
		}
		for _, row := range rows {
			for _, word := range row.Content {
				sb.WriteString(word.S)
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// SplitText splits text on newlines and packs the pieces into chunks of at
// most size characters, carrying roughly overlap characters of trailing
// context into the next chunk. A single line longer than size becomes its
// own chunk.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	var (
		chunks  []string
		current []string
		length  int
	)
	joinedLen := func(n, add int) int {
		if n == 0 {
			return add
		}
		return n + 1 + add
	}
	for _, l := range lines {
		if length > 0 && joinedLen(length, len(l)) > size {
			chunks = append(chunks, strings.Join(current, "\n"))
			// keep trailing lines that fit in the overlap window
			for length > overlap || (length > 0 && joinedLen(length, len(l)) > size) {
				length -= len(current[0])
				if len(current) > 1 {
					length--
				}
				current = current[1:]
			}
		}
		current = append(current, l)
		length = joinedLen(length, len(l))
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n"))
	}
	return chunks
}
