package evaluate

import (
	"strings"

	"github.com/tetraminz/sales_coach/internal/knowledge"
	"github.com/tetraminz/sales_coach/internal/model"
)

type pattern struct {
	id       model.TechniqueID
	triggers []string
}

// discoveryPatterns is the fallback table; discovery techniques only.
var discoveryPatterns = []pattern{
	{id: "2.1.1", triggers: []string{"hoeveel", "hoe lang", "welke systemen", "met hoeveel", "sinds wanneer"}},
	{id: "2.1.2", triggers: []string{"wat vindt u", "wat vind je", "hoe ervaart u", "hoe kijkt u", "wat is uw mening"}},
	{id: "2.1.4.1", triggers: []string{"als ik het goed begrijp", "als ik u goed hoor", "samengevat", "even samenvatten"}},
	{id: "2.2.1", triggers: []string{"stel dat", "wat als", "als u zou kunnen", "stelt u zich eens voor"}},
	{id: "2.3.1", triggers: []string{"wat betekent dat voor", "wat is het gevolg", "wat kost dat u", "welke impact", "wat gebeurt er als"}},
	{id: "2.4.1", triggers: []string{"hoe belangrijk is het", "als we dat oplossen", "wilt u dat oplossen", "is dat iets waar u"}},
}

// MatchPatterns returns each discovery technique whose trigger phrase occurs
// in text, rated bijna.
func MatchPatterns(kb knowledge.Base, text string) []model.DetectedTechnique {
	lowered := strings.ToLower(text)

	var out []model.DetectedTechnique
	for _, p := range discoveryPatterns {
		for _, trigger := range p.triggers {
			if !strings.Contains(lowered, trigger) {
				continue
			}
			name := string(p.id)
			if kb != nil {
				name = knowledge.Name(kb, p.id)
			}
			out = append(out, model.DetectedTechnique{
				ID:      p.id,
				Name:    name,
				Quality: model.QualityBijna,
				Score:   model.QualityBijna.Points(),
			})
			break
		}
	}
	return out
}
