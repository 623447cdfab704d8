package missed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tetraminz/sales_coach/internal/llm"
	"github.com/tetraminz/sales_coach/internal/logger"
	"github.com/tetraminz/sales_coach/internal/model"
)

const defaultEnrichTimeout = 30 * time.Second

// Enricher fills BetterQuestion with one batched generation call.
type Enricher struct {
	gen     llm.Generator
	timeout time.Duration
	log     *logrus.Entry
}

func NewEnricher(gen llm.Generator, timeout time.Duration, log *logrus.Entry) *Enricher {
	if timeout <= 0 {
		timeout = defaultEnrichTimeout
	}
	return &Enricher{gen: gen, timeout: timeout, log: logger.Component(log, "missed")}
}

type enrichOutput struct {
	Suggestions []struct {
		Index          int    `json:"index"`
		BetterQuestion string `json:"betterQuestion"`
	} `json:"suggestions"`
}

// Enrich returns a copy of opportunities with BetterQuestion filled where the
// service suggested one. Any failure leaves the copy unchanged.
func (e *Enricher) Enrich(ctx context.Context, opportunities []model.MissedOpportunity) []model.MissedOpportunity {
	out := append([]model.MissedOpportunity(nil), opportunities...)

	var pending []int
	for i, m := range out {
		if strings.TrimSpace(m.BetterQuestion) == "" {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 || e.gen == nil {
		return out
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var resp enrichOutput
	req := llm.Request{
		Unit:       llm.UnitEnrichment,
		System:     enrichSystemPrompt,
		Prompt:     buildEnrichPrompt(out, pending),
		SchemaName: "missed_enrichment_v1",
		Schema:     enrichSchema,
	}
	if err := llm.GenerateJSON(callCtx, e.gen, req, &resp); err != nil {
		e.log.WithError(err).WithField("flags", len(pending)).Warn("missed opportunity enrichment failed")
		return out
	}

	wanted := make(map[int]bool, len(pending))
	for _, i := range pending {
		wanted[i] = true
	}
	for _, s := range resp.Suggestions {
		if !wanted[s.Index] {
			continue
		}
		if q := strings.TrimSpace(s.BetterQuestion); q != "" {
			out[s.Index].BetterQuestion = q
		}
	}
	return out
}

func buildEnrichPrompt(opportunities []model.MissedOpportunity, pending []int) string {
	var b strings.Builder
	b.WriteString("Gemiste kansen:\n")
	for _, i := range pending {
		m := opportunities[i]
		fmt.Fprintf(&b, "[%d] type=%s\n    omschrijving: %s\n", i, m.Type, m.Description)
		if m.CustomerSaid != "" {
			fmt.Fprintf(&b, "    klant: %q\n", m.CustomerSaid)
		}
		if m.SellerSaid != "" {
			fmt.Fprintf(&b, "    verkoper: %q\n", m.SellerSaid)
		}
	}
	return b.String()
}

const enrichSystemPrompt = `Je bent een verkoopcoach. Geef voor elke gemiste kans één betere vraag die de verkoper had kunnen stellen.
Antwoord alleen met JSON: {"suggestions":[{"index":<nummer>,"betterQuestion":"<vraag>"}]}.`

var enrichSchema = llm.MustParseSchema(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["suggestions"],
  "properties": {
    "suggestions": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["index", "betterQuestion"],
        "properties": {
          "index": { "type": "integer" },
          "betterQuestion": { "type": "string" }
        }
      }
    }
  }
}`)
