package models

import (
	"time"

	"github.com/google/uuid"
)

const FlowerSourceSynthesized = "synthesized"

// FlowerMonograph is the cached reference document for one normalized label.
// The open maps keep whatever shape the synthesis service returned.
type FlowerMonograph struct {
	ID                  uuid.UUID      `json:"id"`
	ScientificName      string         `json:"scientific_name"`
	CommonNames         []string       `json:"common_names"`
	Description         string         `json:"description"`
	BotanicalProperties map[string]any `json:"botanical_properties"`
	CommonUses          []string       `json:"common_uses"`
	VisualStates        map[string]any `json:"visual_states"`
	CareInstructions    string         `json:"care_instructions"`
	ToxicityInfo        map[string]any `json:"toxicity_info"`
	QAndA               []QAEntry      `json:"q_and_a"`
	Source              string         `json:"source"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

type QAEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// FlowerQuestion is the stored form of a QAEntry, unique per (FlowerKey, NormalizedQuestion).
type FlowerQuestion struct {
	ID                 uuid.UUID
	FlowerKey          string
	Question           string
	NormalizedQuestion string
	Answer             string
	CreatedAt          time.Time
}
