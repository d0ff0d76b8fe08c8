package sync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldsync-service/internal/logger"
	"fieldsync-service/internal/store"
)

// Analysis is the field-level comparison of a local and a remote version of
// the same entity. An entity is in conflict solely when at least one
// declared field diverges.
type Analysis struct {
	Conflict     store.Conflict `json:"conflict"`
	HasConflicts bool           `json:"has_conflicts"`
}

// Analyzer computes field-level diffs over the static per-entity field
// tables. It runs for every strategy, including the degenerate ones, so the
// divergence is always available for audit and display.
type Analyzer struct{}

func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze decodes both snapshots and compares every declared field of the
// entity type. Undeclared fields (identity, timestamps, sync bookkeeping,
// nested objects) never participate.
func (a *Analyzer) Analyze(entityType, entityID string, local, remote json.RawMessage, localModifiedAt, remoteModifiedAt time.Time) Analysis {
	specs := FieldsFor(entityType)
	if len(specs) == 0 {
		logger.Log.Warn("No comparable fields declared for entity type",
			zap.String("entity_type", entityType))
	}

	localDoc := decodeEntity(local)
	remoteDoc := decodeEntity(remote)

	var fields []store.FieldConflict
	for _, spec := range specs {
		lv := localDoc[spec.Name]
		rv := remoteDoc[spec.Name]
		if fieldEqual(spec.Kind, lv, rv) {
			continue
		}
		fields = append(fields, store.FieldConflict{
			FieldName:   spec.Name,
			DisplayName: spec.DisplayName,
			FieldType:   string(spec.Kind),
			LocalValue:  formatValue(spec.Kind, lv),
			RemoteValue: formatValue(spec.Kind, rv),
			Resolution:  store.ResolutionPending,
		})
	}

	analysis := Analysis{
		Conflict: store.Conflict{
			ID:               uuid.New().String(),
			EntityType:       entityType,
			EntityID:         entityID,
			LocalData:        local,
			RemoteData:       remote,
			LocalModifiedAt:  localModifiedAt,
			RemoteModifiedAt: remoteModifiedAt,
			FieldConflicts:   fields,
			DetectedAt:       time.Now(),
		},
		HasConflicts: len(fields) > 0,
	}

	if analysis.HasConflicts {
		logger.Log.Info("Conflict detected",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Int("fields", len(fields)),
		)
	}
	return analysis
}

func decodeEntity(raw json.RawMessage) map[string]interface{} {
	doc := map[string]interface{}{}
	if len(raw) == 0 {
		return doc
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		logger.Log.Warn("Failed to decode entity snapshot", zap.Error(err))
	}
	return doc
}
