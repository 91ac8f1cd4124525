package inventory

import (
	"www.velocidex.com/golang/velopack/config"
	"www.velocidex.com/golang/velopack/corpus"
	"www.velocidex.com/golang/velopack/logging"
)

// BuildDatabase aggregates every tool reference in the corpus into a
// deduplicated ToolDatabase. This is pure in-memory work - no
// network or disk access - which keeps it trivially replayable.
func BuildDatabase(config_obj *config.Config,
	collection *corpus.Corpus) *ToolDatabase {

	db := NewToolDatabase()

	for _, artifact := range collection.Artifacts {
		for _, ref := range artifact.Tools {
			db.AddTool(artifact.Name, &Tool{
				Name:         ref.Name,
				Url:          ref.Url,
				Version:      ref.Version,
				ExpectedHash: ref.ExpectedHash,
			})
		}
	}

	logger := logging.GetLogger(config_obj, &logging.GenericComponent)
	logger.Info("Indexed <green>%v</> unique tools from %v artifacts",
		db.Len(), len(collection.Artifacts))

	for _, warning := range db.Warnings {
		logger.Warn("%v", warning)
	}

	return db
}
