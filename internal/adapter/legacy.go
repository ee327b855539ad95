package adapter

import (
	"strings"

	"github.com/pitabwire/cartable/model"
)

// LegacyTitleTags maps the display titles older definitions relied on to
// step tags. Definitions are tagged from it when saved or loaded; the
// status mirror falls back to it for untagged records stored earlier.
var LegacyTitleTags = map[string]string{
	"درخواست":      model.StepTagRequest,
	"در حال انجام": model.StepTagInProgress,
	"تایید":        model.StepTagVerification,
	"اتمام":        model.StepTagFinished,
}

// InferTags fills empty step tags from LegacyTitleTags and returns the
// number of steps it tagged.
func InferTags(def *model.WorkflowDefinition) int {
	n := 0
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.Tag != "" {
			continue
		}
		if tag, ok := TagForTitle(step.Title); ok {
			step.Tag = tag
			n++
		}
	}
	return n
}

// TagForTitle returns the tag a legacy step title stands for.
func TagForTitle(title string) (string, bool) {
	tag, ok := LegacyTitleTags[strings.TrimSpace(title)]
	return tag, ok
}
