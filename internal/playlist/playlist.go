// Package playlist parses line-oriented playlist text (M3U-style): a
// metadata line announcing attributes and a display name, followed by the
// stream reference on the next non-comment line.
package playlist

import (
	"bufio"
	"regexp"
	"strings"
)

const maxLineSize = 1 << 20 // 1 MiB per line

var (
	idRe        = regexp.MustCompile(`acestream://([0-9a-zA-Z_]+)`)
	getstreamRe = regexp.MustCompile(`ace/getstream\?id=([0-9a-zA-Z_]+)`)
	attrRe      = regexp.MustCompile(`(tvg-id|tvg-name|tvg-logo|group-title)="([^"]*)"`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// Entry is one parsed playlist channel.
type Entry struct {
	ID        string
	Name      string
	Group     string
	Logo      string
	GuideID   string
	GuideName string
	// SyntheticName is true when the playlist omitted a display name and the
	// entry was named "Channel {id}". Playlist authors may leave titles out
	// intentionally, so this is the one place synthetic names are produced.
	SyntheticName bool
}

// CleanText collapses internal whitespace runs to a single space and trims.
func CleanText(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// ExtractID locates the channel id inside a stream reference line. It
// recognizes both the acestream:// scheme and engine getstream URLs.
func ExtractID(line string) string {
	if m := idRe.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	if m := getstreamRe.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	return ""
}

// Parse parses playlist text into entries. Lines without a locatable channel
// id are dropped.
func Parse(content string) []Entry {
	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(nil, maxLineSize)

	var out []Entry
	var pending *Entry
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#EXTINF:") {
			pending = parseExtinf(line)
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		id := ExtractID(line)
		if id == "" {
			pending = nil
			continue
		}
		e := Entry{}
		if pending != nil {
			e = *pending
		}
		e.ID = id
		if e.Name == "" {
			e.Name = "Channel " + id
			e.SyntheticName = true
		}
		out = append(out, e)
		pending = nil
	}
	return out
}

// parseExtinf pulls the display name and the recognized attributes (group,
// logo, guide id, guide name) out of a metadata line.
func parseExtinf(line string) *Entry {
	e := &Entry{}
	for _, m := range attrRe.FindAllStringSubmatch(line, -1) {
		switch m[1] {
		case "tvg-id":
			e.GuideID = m[2]
		case "tvg-name":
			e.GuideName = CleanText(m[2])
		case "tvg-logo":
			e.Logo = m[2]
		case "group-title":
			e.Group = CleanText(m[2])
		}
	}
	if i := nameComma(line); i >= 0 {
		e.Name = CleanText(line[i+1:])
	}
	return e
}

// nameComma finds the comma separating attributes from the display name,
// ignoring commas inside quoted attribute values.
func nameComma(line string) int {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				return i
			}
		}
	}
	return -1
}
