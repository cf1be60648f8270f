package devbackend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cbbshop1/solace-sentience/internal/types"
)

// Reply is the backend half of a turn.
type Reply struct {
	Text      string
	Reasoning string
	Affect    types.AffectVector
	Trust     float64
}

// Responder produces a reply for text given the conversation so far.
type Responder interface {
	Reply(history []types.LogEntry, text string) Reply
}

// Reflector is a deterministic lexical responder. It nudges each affect
// component toward 1 for every cue word found and lets unmatched components
// drift back toward neutral.
type Reflector struct{}

const (
	cueStep   = 0.15
	driftRate = 0.1
	trustKeep = 0.7
)

var cues = map[string][]string{
	"vuln":  {"alone", "hurt", "exposed", "fragile", "ashamed", "weak"},
	"conf":  {"confused", "unsure", "lost", "why", "understand", "unclear"},
	"trust": {"trust", "honest", "rely", "safe", "believe"},
	"adm":   {"admire", "amazing", "proud", "respect", "inspire"},
	"grief": {"loss", "miss", "died", "grief", "mourning", "gone"},
	"hap":   {"happy", "glad", "joy", "love", "thanks", "great"},
	"fear":  {"afraid", "scared", "fear", "anxious", "worried", "panic"},
	"cour":  {"try", "brave", "face", "courage", "decided", "will"},
}

var openers = map[string]string{
	"vuln":  "It takes something to say that out loud.",
	"conf":  "Let's slow down and untangle it together.",
	"trust": "I'm glad you feel you can be straight with me.",
	"adm":   "That sounds like something worth being proud of.",
	"grief": "I'm sorry. Loss like that doesn't fit on a schedule.",
	"hap":   "That's good to hear.",
	"fear":  "That sounds frightening.",
	"cour":  "That's a brave step.",
}

// Reply implements Responder.
func (Reflector) Reply(history []types.LogEntry, text string) Reply {
	prev := types.NeutralAffect()
	prevTrust := types.NeutralTrust
	if n := len(history); n > 0 {
		prev = history[n-1].Affect
		prevTrust = history[n-1].Trust()
	}

	hits := countCues(text)
	comps := prev.Components()
	next := map[string]float64{}
	var matched []string
	for _, c := range comps {
		v := c.Value
		if n := hits[c.Key]; n > 0 {
			v += cueStep * float64(n)
			if v > 1 {
				v = 1
			}
			matched = append(matched, fmt.Sprintf("%s(%d)", c.Key, n))
		} else {
			v += (types.NeutralComponent - v) * driftRate
		}
		next[c.Key] = v
	}
	affect := types.AffectVector{
		Vulnerability: next["vuln"],
		Confusion:     next["conf"],
		Trust:         next["trust"],
		Admiration:    next["adm"],
		Grief:         next["grief"],
		Happiness:     next["hap"],
		Fear:          next["fear"],
		Courage:       next["cour"],
	}

	reasoning := types.NoTraceSentinel
	if len(matched) > 0 {
		reasoning = "cues: " + strings.Join(matched, ", ")
	}
	return Reply{
		Text:      compose(affect, hits, text),
		Reasoning: reasoning,
		Affect:    affect,
		Trust:     trustKeep*prevTrust + (1-trustKeep)*affect.Trust,
	}
}

func countCues(text string) map[string]int {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r == '\'')
	})
	hits := map[string]int{}
	for _, w := range words {
		for key, list := range cues {
			for _, cue := range list {
				if w == cue {
					hits[key]++
				}
			}
		}
	}
	return hits
}

// compose leads with the strongest matched component, ties broken by the
// canonical component order.
func compose(a types.AffectVector, hits map[string]int, text string) string {
	if len(hits) == 0 {
		return fmt.Sprintf("I'm listening. Tell me more about %q.", summarize(text))
	}
	comps := a.Components()
	sort.SliceStable(comps, func(i, j int) bool { return comps[i].Value > comps[j].Value })
	for _, c := range comps {
		if hits[c.Key] > 0 {
			return openers[c.Key] + " What feels most important about it right now?"
		}
	}
	return "I'm listening."
}

func summarize(text string) string {
	const limit = 40
	r := []rune(strings.TrimSpace(text))
	if len(r) <= limit {
		return string(r)
	}
	return string(r[:limit]) + "..."
}
