package catalog

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/starford/airules/internal/checksum"
	"github.com/starford/airules/internal/recipe"
)

// Sync brings the catalog in line with recipes:
//   - new/changed recipes (by content checksum) are upserted
//   - keys no longer present are deleted
func Sync(db Catalog, recipes []recipe.Recipe, logger *slog.Logger) error {
	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	current := make(map[string]struct{}, len(recipes))
	for _, r := range recipes {
		current[r.Key] = struct{}{}

		body, err := json.Marshal(r)
		if err != nil {
			logger.Warn("catalog: encode failed", slog.String("key", r.Key), slog.String("error", err.Error()))
			continue
		}
		cs := checksum.Sum(body)
		if checksums[r.Key] == cs {
			continue
		}

		updated := r.Source.FetchedAt
		if updated.IsZero() {
			updated = now
		}
		row := Row{
			Key:       r.Key,
			Name:      r.Name,
			Category:  r.Category,
			Tags:      r.Tags,
			Origin:    r.Source.Origin,
			Checksum:  cs,
			UpdatedAt: updated,
		}
		if err := db.Upsert(row, body); err != nil {
			logger.Warn("catalog: upsert failed", slog.String("key", r.Key), slog.String("error", err.Error()))
		} else {
			logger.Debug("catalog: indexed", slog.String("key", r.Key))
		}
	}

	for k := range checksums {
		if _, ok := current[k]; ok {
			continue
		}
		if err := db.Delete(k); err != nil {
			logger.Warn("catalog: delete failed", slog.String("key", k), slog.String("error", err.Error()))
		} else {
			logger.Debug("catalog: removed stale", slog.String("key", k))
		}
	}

	return nil
}
