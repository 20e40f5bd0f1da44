package llm

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

// Stage prompt template filenames. The numbering reflects pipeline order;
// impact rating historically ships as file 4 and threat scenarios as
// file 3, so stages address templates by name, never by index.
const (
	PromptAssetRegister     = "1.asset_register.txt"
	PromptDamageScenario    = "2.damage_scenario.txt"
	PromptThreatScenario    = "3.threat_scenario.txt"
	PromptImpactRating      = "4.impact_rating.txt"
	PromptVulnAttackPath    = "5.vulnerability_attackpath.txt"
	PromptAttackFeasibility = "6.attack_feasibility.txt"
	PromptRiskValues        = "7.risk_values.txt"
)

//go:embed prompts/*.txt
var embeddedPrompts embed.FS

// LoadPrompt returns a stage system prompt. When overrideDir is set and
// holds a file with the same name, that file wins over the embedded
// default, letting deployments tune prompts without rebuilding.
func LoadPrompt(overrideDir, filename string) (string, error) {
	if overrideDir != "" {
		data, err := os.ReadFile(filepath.Join(overrideDir, filename))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading prompt override %s: %w", filename, err)
		}
	}

	data, err := embeddedPrompts.ReadFile("prompts/" + filename)
	if err != nil {
		return "", fmt.Errorf("unknown prompt template %s: %w", filename, err)
	}
	return string(data), nil
}
