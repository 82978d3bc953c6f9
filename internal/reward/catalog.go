package reward

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/reward/entity"
)

type catalogEntry struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	Cost           int64  `yaml:"cost"`
	Stock          *int64 `yaml:"stock"`
	CollectionInfo string `yaml:"collectionInfo"`
	Available      *bool  `yaml:"available"`
}

type catalogFile struct {
	Rewards []catalogEntry `yaml:"rewards"`
}

// LoadCatalog reads reward definitions from a YAML file:
//
//	rewards:
//	  - name: Reusable tote bag
//	    cost: 200
//	    stock: 50
//	    available: true
//
// Stock defaults to unlimited (-1) and available to true.
func LoadCatalog(path string) ([]*entity.Reward, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(b)
}

func ParseCatalog(b []byte) ([]*entity.Reward, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	seen := map[string]bool{}
	out := make([]*entity.Reward, 0, len(f.Rewards))
	for i, e := range f.Rewards {
		name := strings.TrimSpace(e.Name)
		switch {
		case name == "":
			return nil, fmt.Errorf("catalog entry %d: name is required", i)
		case e.Cost <= 0:
			return nil, fmt.Errorf("catalog entry %q: cost must be positive", name)
		case seen[name]:
			return nil, fmt.Errorf("catalog entry %q: duplicate name", name)
		}
		seen[name] = true
		rw := &entity.Reward{
			Name:           name,
			Description:    e.Description,
			Cost:           e.Cost,
			Stock:          -1,
			CollectionInfo: e.CollectionInfo,
			IsAvailable:    true,
		}
		if e.Stock != nil {
			rw.Stock = *e.Stock
		}
		if e.Available != nil {
			rw.IsAvailable = *e.Available
		}
		out = append(out, rw)
	}
	return out, nil
}

// SeedCatalog upserts every reward by name.
func (s *Service) SeedCatalog(ctx context.Context, items []*entity.Reward) error {
	for _, rw := range items {
		if err := s.rewards.UpsertByName(ctx, rw); err != nil {
			return fmt.Errorf("seed reward %q: %w", rw.Name, err)
		}
	}
	s.logger.Infow("reward catalog seeded", "count", len(items))
	return nil
}
