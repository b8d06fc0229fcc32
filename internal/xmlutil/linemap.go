package xmlutil

import (
	"encoding/xml"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var elementMessage = regexp.MustCompile(`(?i)^element ['"]([^'"]+)['"]`)

type lineTag struct {
	line int
	tag  string
}

// LineMap maps source lines of a serialized document to breadcrumb ids, so
// diagnostics reported by line can be tied back to an element.
type LineMap struct {
	byLine map[int]string
	byTag  map[lineTag]string
	last   int
}

// BuildLineMap scans serialized text once, numbering elements in document
// order the same way AddLocators does. The first element starting on a
// line wins for that line, and also for its tag on that line.
func BuildLineMap(text string) (*LineMap, error) {
	lm := &LineMap{
		byLine: make(map[int]string),
		byTag:  make(map[lineTag]string),
	}

	n := 0
	d := xml.NewDecoder(strings.NewReader(text))
	d.Strict = false
	for {
		line, _ := d.InputPos()
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		n++
		eid := "_" + strconv.Itoa(n)
		lm.last = line
		if _, ok := lm.byLine[line]; !ok {
			lm.byLine[line] = eid
		}
		key := lineTag{line: line, tag: start.Name.Local}
		if _, ok := lm.byTag[key]; !ok {
			lm.byTag[key] = eid
		}
	}

	return lm, nil
}

// Locate returns the best breadcrumb id for a diagnostic. Messages of the
// form "Element 'TAG' ..." prefer an element with that tag on the line.
// A line where no element starts (a closing tag, say) falls back to the
// nearest element starting above it.
func (lm *LineMap) Locate(line int, message string) string {
	if lm == nil || line <= 0 {
		return ""
	}
	if m := elementMessage.FindStringSubmatch(message); m != nil {
		tag := m[1]
		if i := strings.LastIndex(tag, "}"); i >= 0 {
			tag = tag[i+1:]
		}
		if eid, ok := lm.byTag[lineTag{line: line, tag: tag}]; ok {
			return eid
		}
	}
	if line > lm.last {
		line = lm.last
	}
	for ; line > 0; line-- {
		if eid, ok := lm.byLine[line]; ok {
			return eid
		}
	}
	return ""
}
