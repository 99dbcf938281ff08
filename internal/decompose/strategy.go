package decompose

import (
	"fmt"
	"regexp"
	"strings"
)

// Request is the input handed to a Strategy.
type Request struct {
	Text     string
	Codebase *CodebaseContext
	// MaxUnits is the most subtasks the strategy may emit.
	MaxUnits int
	// MinWords is the smallest clause, in words, worth its own subtask.
	MinWords int
}

// Strategy is a rule-based splitter. Split must return at least one subtask and
// may only reference ids it emits itself.
type Strategy interface {
	Name() string
	Split(req Request) []*Subtask
}

func defaultStrategies() map[string]Strategy {
	return map[string]Strategy{
		StrategyComponentBased: ComponentStrategy{},
		StrategyPhaseBased:     PhaseStrategy{},
		StrategyClauseBased:    ClauseStrategy{},
	}
}

// single is the fallback when a task cannot be split any further.
func single(text, component string) []*Subtask {
	caps := inferCapabilities(text)
	if len(caps) == 0 {
		caps = []string{"code"}
	}
	return []*Subtask{{
		ID:                   "task-1",
		Title:                truncate(text, 72),
		Description:          strings.TrimSpace(text),
		RequiredCapabilities: caps,
		Complexity:           inferComplexity(text),
		Component:            component,
	}}
}

// ComponentStrategy partitions work along architectural components: an analysis
// step and an implementation step per component, then one verification step.
type ComponentStrategy struct{}

func (ComponentStrategy) Name() string { return StrategyComponentBased }

func (ComponentStrategy) Split(req Request) []*Subtask {
	var names []string
	for _, c := range matchComponents(req.Text, req.Codebase) {
		names = append(names, c.Name)
	}
	if len(names) == 0 {
		names = detectComponents(req.Text)
	}

	if req.MaxUnits < 3 {
		component := ""
		if len(names) == 1 {
			component = names[0]
		}
		return single(req.Text, component)
	}
	if len(names) == 0 {
		names = []string{""}
	}

	// Each component costs two subtasks plus one shared verification step.
	if fit := (req.MaxUnits - 1) / 2; len(names) > fit {
		folded := append([]string(nil), names[:fit-1]...)
		names = append(folded, strings.Join(names[fit-1:], ", "))
	}

	verb := leadingVerb(req.Text)
	complexity := inferComplexity(req.Text)
	var (
		out        []*Subtask
		implements []string
		used       = make(map[string]bool)
	)
	for _, name := range names {
		suffix, scope := "", "the task"
		if name != "" {
			suffix, scope = "-"+uniqueSlug(name, used), name
		}
		analyze := &Subtask{
			ID:                   "analyze" + suffix,
			Title:                fmt.Sprintf("Analyze %s", scope),
			Description:          fmt.Sprintf("Map the code, interfaces and callers affected by: %s", strings.TrimSpace(req.Text)),
			RequiredCapabilities: []string{"analysis"},
			Complexity:           ComplexityLow,
			Component:            name,
		}
		implement := &Subtask{
			ID:                   "implement" + suffix,
			Title:                fmt.Sprintf("%s %s", verb, scope),
			Description:          strings.TrimSpace(req.Text),
			Dependencies:         []string{analyze.ID},
			RequiredCapabilities: inferCapabilities(req.Text, "code"),
			Complexity:           complexity,
			Component:            name,
		}
		out = append(out, analyze, implement)
		implements = append(implements, implement.ID)
	}

	verifyComplexity := ComplexityLow
	if len(names) > 1 {
		verifyComplexity = ComplexityMedium
	}
	out = append(out, &Subtask{
		ID:                   "verify",
		Title:                "Verify and integrate changes",
		Description:          "Run the test suite and check the changed components work together.",
		Dependencies:         implements,
		RequiredCapabilities: []string{"test"},
		Complexity:           verifyComplexity,
	})
	return out
}

// PhaseStrategy emits an analyze, implement, test, document chain.
type PhaseStrategy struct{}

func (PhaseStrategy) Name() string { return StrategyPhaseBased }

func (PhaseStrategy) Split(req Request) []*Subtask {
	if req.MaxUnits < 2 {
		return single(req.Text, "")
	}
	text := strings.TrimSpace(req.Text)
	phases := []*Subtask{
		{
			ID:                   "analyze",
			Title:                "Analyze requirements",
			Description:          "Work out the affected code and a plan for: " + text,
			RequiredCapabilities: []string{"analysis"},
			Complexity:           ComplexityLow,
		},
		{
			ID:                   "implement",
			Title:                truncate(text, 72),
			Description:          text,
			RequiredCapabilities: inferCapabilities(text, "code"),
			Complexity:           inferComplexity(text),
		},
		{
			ID:                   "test",
			Title:                "Test the change",
			Description:          "Add or update tests covering: " + text,
			RequiredCapabilities: []string{"test"},
			Complexity:           ComplexityMedium,
		},
		{
			ID:                   "document",
			Title:                "Document the change",
			Description:          "Update documentation for: " + text,
			RequiredCapabilities: []string{"docs"},
			Complexity:           ComplexityLow,
		},
	}

	// Drop analysis first, then documentation, when the budget is tight.
	switch {
	case req.MaxUnits == 2:
		phases = phases[1:3]
	case req.MaxUnits == 3:
		phases = phases[:3]
	}
	for i := 1; i < len(phases); i++ {
		phases[i].Dependencies = []string{phases[i-1].ID}
	}
	return phases
}

// ClauseStrategy splits the text into sentences and clauses. Clauses introduced
// by "then", "after that" or "finally" depend on the clause before them; clauses
// joined with "and" share the dependencies of their sibling.
type ClauseStrategy struct{}

func (ClauseStrategy) Name() string { return StrategyClauseBased }

type relation int

const (
	relNone relation = iota
	relAfter
	relSibling
)

type clause struct {
	text string
	rel  relation
}

var (
	sentenceSplit  = regexp.MustCompile(`[.;!?]+(?:\s+|$)`)
	connectorSplit = regexp.MustCompile(`(?i)\s*,?\s+\b(and then|then|after that|afterwards|finally|and)\b\s+`)
	leadingSeq     = regexp.MustCompile(`(?i)^(then|after that|afterwards|finally|next)\b[,\s]*`)
)

func splitClauses(text string) []clause {
	var out []clause
	for _, sentence := range sentenceSplit.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		rel := relNone
		if loc := leadingSeq.FindStringIndex(sentence); loc != nil && len(out) > 0 {
			rel = relAfter
			sentence = strings.TrimSpace(sentence[loc[1]:])
		}

		seps := connectorSplit.FindAllStringSubmatchIndex(sentence, -1)
		start := 0
		for _, m := range seps {
			if part := strings.TrimSpace(sentence[start:m[0]]); part != "" {
				out = append(out, clause{text: part, rel: rel})
			}
			if strings.EqualFold(sentence[m[2]:m[3]], "and") {
				rel = relSibling
			} else {
				rel = relAfter
			}
			start = m[1]
		}
		if part := strings.TrimSpace(sentence[start:]); part != "" {
			out = append(out, clause{text: part, rel: rel})
		}
	}
	if len(out) > 0 {
		out[0].rel = relNone
	}
	return out
}

func mergeClauses(clauses []clause, minWords, maxUnits int) []clause {
	var merged []clause
	for _, c := range clauses {
		if len(merged) > 0 && wordCount(c.text) < minWords {
			last := &merged[len(merged)-1]
			last.text += joiner(c.rel) + c.text
			continue
		}
		merged = append(merged, c)
	}
	// A short leading clause folds into its successor.
	if len(merged) > 1 && wordCount(merged[0].text) < minWords {
		merged[1].text = merged[0].text + joiner(merged[1].rel) + merged[1].text
		merged[1].rel = relNone
		merged = merged[1:]
	}
	for len(merged) > maxUnits {
		n := len(merged)
		merged[n-2].text += joiner(merged[n-1].rel) + merged[n-1].text
		merged = merged[:n-1]
	}
	return merged
}

func joiner(rel relation) string {
	if rel == relAfter {
		return ", then "
	}
	return " and "
}

func (ClauseStrategy) Split(req Request) []*Subtask {
	clauses := mergeClauses(splitClauses(req.Text), req.MinWords, max(1, req.MaxUnits))
	if len(clauses) <= 1 {
		return single(req.Text, "")
	}

	out := make([]*Subtask, 0, len(clauses))
	for i, c := range clauses {
		st := &Subtask{
			ID:                   fmt.Sprintf("step-%d", i+1),
			Title:                truncate(capitalize(c.text), 72),
			Description:          c.text,
			RequiredCapabilities: inferCapabilities(c.text),
			Complexity:           inferComplexity(c.text),
		}
		switch {
		case i == 0:
		case c.rel == relAfter:
			st.Dependencies = []string{out[i-1].ID}
		case c.rel == relSibling:
			st.Dependencies = append([]string(nil), out[i-1].Dependencies...)
		}
		out = append(out, st)
	}
	return out
}
