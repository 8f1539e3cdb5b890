package drugmodel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Repository is a registry of drug models keyed by drug id. It is filled once
// at startup and then only read.
type Repository struct {
	mu     sync.RWMutex
	byDrug map[string][]*DrugModel
	byID   map[string]*DrugModel
	logger *zap.Logger
}

// NewRepository creates an empty repository.
func NewRepository(logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		byDrug: make(map[string][]*DrugModel),
		byID:   make(map[string]*DrugModel),
		logger: logger,
	}
}

// Add registers a model. A model id registered twice keeps the first model.
func (r *Repository) Add(m *DrugModel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[m.ID]; ok {
		r.logger.Warn("duplicate drug model ignored", zap.String("drug_model_id", m.ID))
		return false
	}
	r.byID[m.ID] = m
	models := append(r.byDrug[m.DrugID], m)
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	r.byDrug[m.DrugID] = models
	return true
}

// AddFolderPath loads every *.xml and *.tdd file found directly in path.
// Files are parsed in parallel; a file that fails to parse is logged and skipped.
// It returns the number of models added.
func (r *Repository) AddFolderPath(ctx context.Context, path string) (int, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, fmt.Errorf("read drug model folder %s: %w", path, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".xml" || ext == ".tdd" {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}

	models := make([]*DrugModel, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := loadFile(file)
			if err != nil {
				r.logger.Warn("skipping drug model file", zap.String("file", file), zap.Error(err))
				return nil
			}
			models[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	added := 0
	for _, m := range models {
		if m != nil && r.Add(m) {
			added++
		}
	}
	r.logger.Info("drug models loaded",
		zap.String("path", path),
		zap.Int("files", len(files)),
		zap.Int("models", added))
	return added, nil
}

func loadFile(file string) (*DrugModel, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, filepath.Base(file))
}

// ModelsByDrugID returns the models of a drug, ordered by model id.
func (r *Repository) ModelsByDrugID(drugID string) []*DrugModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := r.byDrug[drugID]
	out := make([]*DrugModel, len(models))
	copy(out, models)
	return out
}

// Len returns the number of registered models.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
