package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/vectorstore"
)

// SeedFile is one YAML corpus file: a target collection and its documents.
//
//	collection: formulad_theory
//	documents:
//	  - id: hbd_hba_pairing
//	    text: >
//	      Strong hydrogen bond donors such as urea pair with ...
//	    metadata:
//	      topic: component_selection
//	      source: des_handbook
type SeedFile struct {
	Collection string         `koanf:"collection"`
	Documents  []SeedDocument `koanf:"documents"`
}

// SeedDocument is one corpus entry.
type SeedDocument struct {
	ID       string            `koanf:"id"`
	Text     string            `koanf:"text"`
	Metadata map[string]string `koanf:"metadata"`
}

// LoadSeedFile reads and validates a YAML seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}

	var file SeedFile
	if err := k.Unmarshal("", &file); err != nil {
		return nil, fmt.Errorf("unmarshaling seed file %s: %w", path, err)
	}

	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return &file, nil
}

// Validate checks the seed file structure.
func (f *SeedFile) Validate() error {
	if err := vectorstore.ValidateCollectionName(f.Collection); err != nil {
		return err
	}
	if len(f.Documents) == 0 {
		return fmt.Errorf("no documents")
	}
	for i, doc := range f.Documents {
		if doc.Text == "" {
			return fmt.Errorf("document %d (%s): empty text", i, doc.ID)
		}
	}
	return nil
}

// Seed embeds and writes a seed file's documents into its collection.
// Returns the number of documents added.
func Seed(ctx context.Context, store vectorstore.Store, file *SeedFile, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	docs := make([]vectorstore.Document, len(file.Documents))
	for i, d := range file.Documents {
		metadata := make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			metadata[k] = v
		}
		docs[i] = vectorstore.Document{
			ID:         d.ID,
			Content:    d.Text,
			Metadata:   metadata,
			Collection: file.Collection,
		}
	}

	ids, err := store.AddDocuments(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("seeding collection %s: %w", file.Collection, err)
	}

	logger.Info("seeded knowledge collection",
		zap.String("collection", file.Collection),
		zap.Int("documents", len(ids)))
	return len(ids), nil
}

// SeedDirectory loads every *.yaml / *.yml file under dir (sorted by
// name) and seeds each into its collection. Returns the total number of
// documents added.
func SeedDirectory(ctx context.Context, store vectorstore.Store, dir string, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading seed directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		logger.Warn("seed directory contains no yaml files", zap.String("dir", dir))
		return 0, nil
	}

	total := 0
	for _, path := range paths {
		file, err := LoadSeedFile(path)
		if err != nil {
			return total, err
		}
		n, err := Seed(ctx, store, file, logger)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
