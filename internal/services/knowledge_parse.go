package services

import (
	"errors"
	"fmt"
	"strings"

	"flower-classifier-backend/internal/gemini"
	"flower-classifier-backend/internal/models"
)

var errMissingDescription = errors.New("synthesis payload has no description")

func monographPrompt(label string) string {
	return fmt.Sprintf(`You are a botanical expert. Provide comprehensive information about the flower "%s" in JSON format with the following structure:
{
  "common_names": ["array of common names"],
  "description": "detailed description of the flower",
  "botanical_properties": {
    "family": "plant family",
    "genus": "genus name",
    "native_region": "native region",
    "bloom_season": "blooming season",
    "growth_habit": "growth habit description"
  },
  "common_uses": ["ornamental", "medicinal", "culinary"],
  "visual_states": {
    "healthy": "description of healthy flower appearance",
    "wilted": "description when old/wilted",
    "damaged": "description when damaged",
    "diseased": "common diseases and their visual signs"
  },
  "care_instructions": "how to care for this flower",
  "toxicity_info": {
    "pets": "toxicity info for dogs, cats, etc",
    "humans": "toxicity info for humans"
  }
}

Provide accurate, detailed information. If unsure about any field, use an empty string or empty array.`, label)
}

func answerPrompt(subject, question string) string {
	return fmt.Sprintf(`You are a botanical expert. Answer the following question about the flower "%s":

Question: %s

Provide a clear, accurate, and concise answer. If you don't know the answer, say so.`, subject, question)
}

// parseMonograph turns a synthesis reply into a monograph for key. Only the
// description is required; the remaining fields are coerced leniently because
// the upstream shape is not guaranteed.
func parseMonograph(key, text string) (*models.FlowerMonograph, error) {
	payload, err := gemini.ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}

	description := strings.TrimSpace(stringField(payload["description"]))
	if description == "" {
		return nil, errMissingDescription
	}

	return &models.FlowerMonograph{
		ScientificName:      key,
		CommonNames:         stringList(payload["common_names"]),
		Description:         description,
		BotanicalProperties: objectField(payload["botanical_properties"]),
		CommonUses:          stringList(payload["common_uses"]),
		VisualStates:        objectField(payload["visual_states"]),
		CareInstructions:    strings.TrimSpace(stringField(payload["care_instructions"])),
		ToxicityInfo:        objectField(payload["toxicity_info"]),
		QAndA:               []models.QAEntry{},
		Source:              models.FlowerSourceSynthesized,
	}, nil
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		return strings.Join(stringList(t), "\n")
	default:
		return ""
	}
}

func stringList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		if strings.TrimSpace(t) != "" {
			out = append(out, strings.TrimSpace(t))
		}
	}
	return out
}

func objectField(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
