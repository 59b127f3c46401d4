package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dotsetgreg/factmem/pkg/logger"
)

// Message length bounds for auto-capture. Very short texts carry no facts;
// very long ones are usually pasted artifacts.
const (
	captureMinChars = 30
	captureMaxChars = 5000
)

// captureFromMessages extracts and stores facts from a completed turn.
// Only user and assistant messages are considered; injected memory context is
// skipped. Both new facts and in-place updates count toward maxCapture.
// Storage errors are logged and skipped, never propagated.
func captureFromMessages(ctx context.Context, store FactStore, messages []Message, maxCapture int, entities *EntityRegistry) CaptureResult {
	nowMS := time.Now().UnixMilli()
	var result CaptureResult

	for _, msg := range messages {
		if result.Stored >= maxCapture {
			break
		}
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		if containsContextMarker(msg.Content) {
			continue
		}
		if len(msg.Content) < captureMinChars || len(msg.Content) > captureMaxChars {
			continue
		}

		for _, fact := range ExtractFacts(msg.Content, entities) {
			if result.Stored >= maxCapture {
				break
			}
			description := fmt.Sprintf("%s.%s = %s", fact.Entity, fact.Key, fact.Value)

			id, err := store.LiveFactID(ctx, fact.Entity, fact.Key)
			if err != nil {
				logger.WarnCF("memory", "capture lookup failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			if id != "" {
				if err := store.UpdateFactValue(ctx, id, fact.Value, description); err != nil {
					logger.WarnCF("memory", "capture update failed", map[string]interface{}{"error": err.Error()})
					continue
				}
				result.Stored++
				result.Embeds = append(result.Embeds, EmbedTarget{FactID: id, Text: description})
				logger.InfoCF("memory", "updated fact", map[string]interface{}{"entity": fact.Entity, "key": fact.Key})
				continue
			}

			// Heuristic TTL and importance by speaker role: user statements
			// are trusted more and kept longer.
			ttlClass := TTLActive
			importance := 0.6
			if msg.Role == "user" {
				ttlClass = TTLStable
				importance = 0.75
			}

			id = uuid.NewString()
			err = store.InsertFact(ctx, Fact{
				ID:             id,
				Session:        "auto",
				TimestampMS:    nowMS,
				Category:       "auto-capture",
				Description:    description,
				Rationale:      "Auto-captured from conversation",
				Classification: "ARCHIVE",
				Importance:     importance,
				TTLClass:       ttlClass,
				ExpiresAtMS:    ttlExpiry(ttlClass, nowMS),
				LastAccessedMS: nowMS,
				Entity:         fact.Entity,
				Key:            fact.Key,
				Value:          fact.Value,
				Tags:           `["auto-capture"]`,
			})
			if err != nil {
				logger.WarnCF("memory", "capture insert failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			result.Stored++
			result.Embeds = append(result.Embeds, EmbedTarget{FactID: id, Text: description})
			logger.InfoCF("memory", "captured fact", map[string]interface{}{"entity": fact.Entity, "key": fact.Key})
		}
	}
	return result
}
