package stages

import (
	"context"
	"regexp"
	"strings"

	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/logger"
	"github.com/postersafari/postr-engine/pipeline"
)

// Pattern is a named expression. Group 1 is the reported match; anything
// after it is context that must follow the match but is not part of it.
type Pattern struct {
	Name string
	Expr string
}

const (
	umlauts = `äöüßÄÖÜ`
	months  = `Jan|Feb|Mar|Apr|Mai|Jun|Jul|Aug|Sep|Okt|Nov|Dez|jan|feb|mar|apr|mai|jun|jul|aug|sep|okt|nov|dez|` +
		`JAN|FEB|MAR|APR|MAI|JUN|JUL|AUG|OKT|NOV|DEZ|Mär|mär|MÄR|Oct|oct|OCT|Dec|dec|DEC`
	notDigit = `(?:$|\D)`
)

// Patterns is the default pattern set, tuned for German posters.
var Patterns = []Pattern{
	{"city", `(\b\d{5} +(?:[a-zA-Z` + umlauts + `-]|\. ){4,})`},
	{"date", `((?:am |AM |vom |VOM |zum |ZUM |bis |BIS )?(?:31|30|[012]\d|\d)(?:[./]|\s)+` +
		`(?:0\d|1[012]|[1-9]|(?:` + months + `)[a-zA-Z]*)(?:(?:[./]|\s)+(?:20)?\d{2})?)` + notDigit},
	{"datetime", `((?:um |ab |gegen |Einlass |EINLASS |UM |AB |GEGEN |Beginn |BEGINN |Start |START |von |VON |bis |BIS )*` +
		`(?:1[0-9]|2[0-3]|[1-9])(?:[:.\s][0-5][05])?(?:[,\s-]*(?:Uhr|H|UHR|h|uhr|AM|PM|am|pm))?)` + notDigit},
	{"dayofweek", `\b(Montag|Dienstag|Mittwoch|Donnerstag|Freitag|Samstag|Sonntag|` +
		`MONTAG|DIENSTAG|MITTWOCH|DONNERSTAG|FREITAG|SAMSTAG|SONNTAG|Mo|Di|Mi|Do|Fr|Sa|So|MO|DI|MI|DO|FR|SA|SO)\b`},
	{"email", `([a-zA-Z][a-z0-9_.-]+@[\da-z.-]+(?:\.| )[a-z.]{2,6})`},
	{"price", `(\b(?:[0-9]+[,. ]*)+(?:€|\$|EUR|,-))`},
	{"streetaddress", `((?:[a-zA-Z` + umlauts + ` -]){4,}\d{1,4})` + notDigit},
	{"url", `((?:https?://)?[a-zA-Z][\da-zA-Z-]+\.*(?:\.| )[a-zA-Z.]{2,6}[/\w .-]*/?)`},
}

type compiled struct {
	name string
	re   *regexp.Regexp
	// short matches are kept for this pattern
	keepShort bool
}

// NewRegex returns the "regex" stage. For every text frame it appends the
// matches of each pattern to frame.info[<pattern>]. Matches shorter than
// min_length are dropped unless the pattern is listed in keep_short, and a
// match equal to the previous one in the same frame is skipped.
func NewRegex(sc *pipeline.Scheduler) (pipeline.Stage, error) {
	return newRegex(sc, "regex", Patterns)
}

func newRegex(sc *pipeline.Scheduler, name string, patterns []Pattern) (*pipeline.AsyncStage, error) {
	p := sc.Params()
	minLen := p.Int(name, "min_length", 4, "matches shorter than this are dropped")
	keep := p.String(name, "keep_short", "price,dayofweek", "comma separated patterns exempt from min_length")
	only := p.String(name, "patterns", "", "comma separated subset of patterns to apply; empty applies all")

	exempt := splitSet(keep)
	enabled := splitSet(only)
	set := make([]compiled, 0, len(patterns))
	for _, pat := range patterns {
		if len(enabled) > 0 && !enabled[pat.Name] {
			continue
		}
		re, err := regexp.Compile(pat.Expr)
		if err != nil {
			return nil, err
		}
		set = append(set, compiled{name: pat.Name, re: re, keepShort: exempt[pat.Name]})
	}

	work := func(ctx context.Context, a *pipeline.Activation) int {
		frames, ok := a.Item().TextFrames()
		if !ok {
			a.Logger().Error("no text input given", logger.Fields(logger.FieldItemID, a.Item().ID()))
			return pipeline.StatusFailed
		}
		for i, c := range set {
			for _, frame := range frames {
				if ctx.Err() != nil {
					return pipeline.StatusCanceled
				}
				text, _ := frame[document.KeyText].(string)
				var last string
				for _, m := range findAll(c.re, text) {
					if (len([]rune(m)) < minLen && !c.keepShort) || m == last {
						continue
					}
					addInfo(frame, c.name, m)
					last = m
				}
			}
			a.SetProgress((i + 1) * 100 / len(set))
		}
		return pipeline.StatusOK
	}
	return pipeline.NewAsyncStage(sc, name, work), nil
}

// findAll returns group 1 of every match. The search resumes after group
// 1, so a trailing context character can start the next match.
func findAll(re *regexp.Regexp, s string) []string {
	var out []string
	for pos := 0; pos <= len(s); {
		loc := re.FindStringSubmatchIndex(s[pos:])
		if loc == nil {
			break
		}
		start, end := loc[2], loc[3]
		if start < 0 {
			start, end = loc[0], loc[1]
		}
		if end > start {
			out = append(out, s[pos+start:pos+end])
		}
		next := pos + end
		if next <= pos {
			next = pos + max(loc[1], 1)
		}
		pos = next
	}
	return out
}

func addInfo(frame map[string]any, pattern, match string) {
	info, _ := frame["info"].(map[string]any)
	if info == nil {
		info = make(map[string]any)
		frame["info"] = info
	}
	list, _ := info[pattern].([]any)
	info[pattern] = append(list, match)
}

func splitSet(csv string) map[string]bool {
	set := make(map[string]bool)
	for _, s := range strings.Split(csv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			set[s] = true
		}
	}
	return set
}
