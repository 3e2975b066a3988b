// Package markdown renders the small markdown dialect used in widget bubbles
// into markup. The renderer is an ordered chain of string rewrites; each step
// documents which of its neighbours it depends on.
package markdown

import (
	"regexp"
	"strconv"
	"strings"
)

// mark delimits parked fragments. NUL never survives normalize, so user text
// cannot forge a placeholder.
const mark = "\x00"

const (
	kindFence  = 'F'
	kindCode   = 'C'
	kindTarget = 'U'
)

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

var (
	fencePattern      = regexp.MustCompile("(?s)```(.*?)```")
	inlineCodePattern = regexp.MustCompile("`([^`\n]+)`")

	h3Pattern         = regexp.MustCompile(`(?m)^### (.*)$`)
	h2Pattern         = regexp.MustCompile(`(?m)^## (.*)$`)
	h1Pattern         = regexp.MustCompile(`(?m)^# (.*)$`)
	quotePattern      = regexp.MustCompile(`(?m)^&gt; (.*)$`)
	starItemPattern   = regexp.MustCompile(`(?m)^\* (.*)$`)
	dashItemPattern   = regexp.MustCompile(`(?m)^- (.*)$`)
	numberItemPattern = regexp.MustCompile(`(?m)^\d+\. (.*)$`)

	linkSourcePattern = regexp.MustCompile(`\[([^\]\n]+)\]\(([^)\n]+)\)`)
	linkPattern       = regexp.MustCompile(`\[([^\]\n]+)\]\(` + mark + `U(\d+)` + mark + `\)`)

	boldStarPattern       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderscorePattern = regexp.MustCompile(`__(.+?)__`)
	italicStarPattern     = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicUnderPattern    = regexp.MustCompile(`_([^_\n]+)_`)

	tagPattern         = regexp.MustCompile(`<(/?)([a-z0-9]+)[^>]*>`)
	blankLinePattern   = regexp.MustCompile(`\n(?:[ \t]*\n)+`)
	placeholderPattern = regexp.MustCompile(mark + `([FCU])(\d+)` + mark)
)

// blockPrefixes are the element openings that must not be wrapped in a
// paragraph.
var blockPrefixes = []string{
	"<h1", "<h2", "<h3", "<ul", "<ol", "<blockquote", "<pre",
	mark + string(kindFence),
}

var safeSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"mailto": true,
}

// Render converts text into bubble markup. It never fails: input without any
// recognised syntax comes back as an escaped paragraph.
func Render(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}

	text := normalize(input)
	// Escaping runs first so no tag inserted below is ever re-escaped.
	text = Escape(text)

	var p parking
	// Fences are parked before the line rules so a "# comment" or "* x" line
	// inside a code block keeps its literal form.
	text = p.parkFences(text)

	text = headings(text)
	text = blockquotes(text)
	text = listItems(text)

	// Span rules never cross a newline, so every item line is finished
	// before grouping joins the items of a run.
	text = p.parkInlineCode(text)
	// Targets are parked before emphasis so "_" or "*" in a URL never turns
	// into markup inside the href attribute.
	text = p.parkLinkTargets(text)
	// Bold must consume "**" pairs before the single-star italic rule sees
	// them.
	text = bold(text)
	text = italic(text)
	text = p.links(text)

	text = groupLists(text)
	text = paragraphs(text)
	return p.restore(text)
}

// Escape replaces the three markup metacharacters with entities.
func Escape(text string) string {
	return htmlEscaper.Replace(text)
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.ReplaceAll(text, mark, "")
}

func headings(text string) string {
	text = h3Pattern.ReplaceAllString(text, "<h3>${1}</h3>")
	text = h2Pattern.ReplaceAllString(text, "<h2>${1}</h2>")
	return h1Pattern.ReplaceAllString(text, "<h1>${1}</h1>")
}

// blockquotes matches the escaped marker because Escape has already turned
// "> " into "&gt; ".
func blockquotes(text string) string {
	return quotePattern.ReplaceAllString(text, "<blockquote>${1}</blockquote>")
}

// listItems collapses "* ", "- " and "N. " items into the same element.
// Ordered lists are not distinguished from unordered ones.
func listItems(text string) string {
	text = starItemPattern.ReplaceAllString(text, "<li>${1}</li>")
	text = dashItemPattern.ReplaceAllString(text, "<li>${1}</li>")
	return numberItemPattern.ReplaceAllString(text, "<li>${1}</li>")
}

// groupLists wraps every maximal run of consecutive list-item lines in one
// list container. A run ends at the first line that is not a list item.
func groupLists(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	var run []string

	flush := func() {
		if len(run) == 0 {
			return
		}
		out = append(out, "<ul>"+strings.Join(run, "")+"</ul>")
		run = run[:0]
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "<li>") && strings.HasSuffix(line, "</li>") {
			run = append(run, line)
			continue
		}
		flush()
		out = append(out, line)
	}
	flush()

	return strings.Join(out, "\n")
}

func bold(text string) string {
	text = wrapBalanced(boldStarPattern, text, "strong")
	return wrapBalanced(boldUnderscorePattern, text, "strong")
}

func italic(text string) string {
	text = wrapBalanced(italicStarPattern, text, "em")
	return wrapBalanced(italicUnderPattern, text, "em")
}

// wrapBalanced wraps the first group of every match in tag. A match whose
// content would split an element already emitted is left literal.
func wrapBalanced(pattern *regexp.Regexp, text, tag string) string {
	return pattern.ReplaceAllStringFunc(text, func(match string) string {
		inner := pattern.FindStringSubmatch(match)[1]
		if !balanced(inner) {
			return match
		}
		return "<" + tag + ">" + inner + "</" + tag + ">"
	})
}

// balanced reports whether every tag in s is closed inside s. Escape has
// already run, so any "<" left in the text belongs to a generated tag.
func balanced(s string) bool {
	var open []string
	for _, m := range tagPattern.FindAllStringSubmatch(s, -1) {
		name := m[2]
		if name == "br" {
			continue
		}
		if m[1] == "" {
			open = append(open, name)
			continue
		}
		if len(open) == 0 || open[len(open)-1] != name {
			return false
		}
		open = open[:len(open)-1]
	}
	return len(open) == 0
}

// paragraphs splits on blank lines, then splits each segment into runs of
// block lines and text lines. Block runs pass through with their newlines;
// text runs become one paragraph with <br> between lines.
func paragraphs(text string) string {
	var b strings.Builder
	for _, segment := range blankLinePattern.Split(text, -1) {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		var blocks, texts []string
		flush := func() {
			if len(blocks) > 0 {
				b.WriteString(strings.Join(blocks, "\n"))
				blocks = blocks[:0]
			}
			if len(texts) > 0 {
				b.WriteString("<p>" + strings.Join(texts, "<br>") + "</p>")
				texts = texts[:0]
			}
		}
		for _, line := range strings.Split(segment, "\n") {
			if startsWithBlock(line) {
				if len(texts) > 0 {
					flush()
				}
				blocks = append(blocks, line)
				continue
			}
			if len(blocks) > 0 {
				flush()
			}
			texts = append(texts, line)
		}
		flush()
	}
	return b.String()
}

func startsWithBlock(line string) bool {
	for _, prefix := range blockPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// parking holds fragments that later rules must not rewrite.
type parking struct {
	fences  []string
	codes   []string
	targets []string
}

func placeholder(kind byte, index int) string {
	return mark + string(kind) + strconv.Itoa(index) + mark
}

func (p *parking) parkFences(text string) string {
	return fencePattern.ReplaceAllStringFunc(text, func(match string) string {
		body := match[3 : len(match)-3]
		p.fences = append(p.fences, "<pre><code>"+body+"</code></pre>")
		return placeholder(kindFence, len(p.fences)-1)
	})
}

func (p *parking) parkInlineCode(text string) string {
	return inlineCodePattern.ReplaceAllStringFunc(text, func(match string) string {
		body := match[1 : len(match)-1]
		p.codes = append(p.codes, "<code>"+body+"</code>")
		return placeholder(kindCode, len(p.codes)-1)
	})
}

func (p *parking) parkLinkTargets(text string) string {
	return linkSourcePattern.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkSourcePattern.FindStringSubmatch(match)
		p.targets = append(p.targets, parts[2])
		return "[" + parts[1] + "](" + placeholder(kindTarget, len(p.targets)-1) + ")"
	})
}

// links renders parked link targets as anchors that open in a new browsing
// context without opener or referrer.
func (p *parking) links(text string) string {
	return linkPattern.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkPattern.FindStringSubmatch(match)
		label := parts[1]
		if !balanced(label) {
			return match
		}
		index, err := strconv.Atoi(parts[2])
		if err != nil || index >= len(p.targets) {
			return match
		}
		href := strings.TrimSpace(p.targets[index])
		if !safeHref(href) {
			return label
		}
		href = strings.ReplaceAll(href, `"`, "&quot;")
		return `<a href="` + href + `" target="_blank" rel="noopener noreferrer">` + label + `</a>`
	})
}

// safeHref accepts relative references and the schemes in safeSchemes.
func safeHref(href string) bool {
	colon := strings.IndexByte(href, ':')
	if colon < 0 {
		return true
	}
	if strings.ContainsAny(href[:colon], "/?#") {
		return true
	}
	return safeSchemes[strings.ToLower(href[:colon])]
}

// restore puts parked fragments back. Inline code may enclose a fence
// placeholder, so restoration repeats until nothing is left.
func (p *parking) restore(text string) string {
	for i := 0; i < 3 && strings.Contains(text, mark); i++ {
		text = placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
			parts := placeholderPattern.FindStringSubmatch(match)
			index, err := strconv.Atoi(parts[2])
			if err != nil {
				return ""
			}
			var pool []string
			switch parts[1][0] {
			case kindFence:
				pool = p.fences
			case kindCode:
				pool = p.codes
			case kindTarget:
				pool = p.targets
			}
			if index >= len(pool) {
				return ""
			}
			return pool[index]
		})
	}
	return text
}
