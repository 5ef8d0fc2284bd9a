// Package extract turns a fetched document into candidate channel tuples.
// It is a chain of stateless strategies applied in a fixed priority order:
// an inline flat-list block supersedes everything, then an embedded
// linksData script object, then a raw-pattern scan paired with DOM name
// lookup, then playlist files referenced by the document. Malformed input
// degrades to an empty result, never an error.
package extract

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/acescout/acescout/internal/catalog"
	"github.com/acescout/acescout/internal/playlist"
)

var (
	idRe = regexp.MustCompile(`acestream://([0-9a-zA-Z_]+)`)
	// linksDataRe captures the JSON object assigned to the well-known
	// linksData variable in embedded scripts.
	linksDataRe = regexp.MustCompile(`(?s)const linksData\s*=\s*(\{.*?\});`)
	// flatListRe matches one "name: acestream://id" line of the prioritized
	// inline list block. The colon must lead straight into the scheme so
	// JSON fragments ("url": "acestream://…") don't qualify.
	flatListRe = regexp.MustCompile(`(?m)^\s*([^"{}\[\]]+?)\s*:\s*acestream://([0-9a-zA-Z_]+)\s*$`)
	// playlistURLRe finds absolute playlist links in page text.
	playlistURLRe = regexp.MustCompile(`https?://[^\s<>"]+?\.m3u8?`)
	// playlistRelRe finds quoted root-relative playlist paths.
	playlistRelRe = regexp.MustCompile(`["'](/[^"']*?\.m3u8?)["']`)
)

// PlaylistFetchFunc fetches a playlist document discovered inside a page.
type PlaylistFetchFunc func(ctx context.Context, address string) (string, error)

// Extractor runs the extraction chain. PlaylistFetch may be nil to disable
// the secondary-playlist step (used by tests and preview paths).
type Extractor struct {
	PlaylistFetch PlaylistFetchFunc
}

// Extract yields the channels found in doc, deduplicated by id with the
// first occurrence winning. sourceAddr is used to resolve relative playlist
// links.
func (e *Extractor) Extract(ctx context.Context, doc, sourceAddr string) []catalog.Channel {
	// The inline flat list is authoritative when present: it supersedes the
	// script block entirely.
	if flat := extractFlatList(doc); len(flat) > 0 {
		return flat
	}

	seen := map[string]bool{}
	var out []catalog.Channel
	add := func(ch catalog.Channel) {
		ch.Name = playlist.CleanText(ch.Name)
		if ch.ID == "" || ch.Name == "" || seen[ch.ID] {
			return
		}
		seen[ch.ID] = true
		out = append(out, ch)
	}

	root, parseErr := html.Parse(strings.NewReader(doc))

	for _, ch := range extractScriptData(doc) {
		add(ch)
	}
	if parseErr == nil {
		for _, ch := range extractRawPattern(root, seen) {
			add(ch)
		}
	}
	if e.PlaylistFetch != nil {
		for _, ref := range playlistLinks(doc, sourceAddr) {
			body, err := e.PlaylistFetch(ctx, ref)
			if err != nil {
				continue
			}
			for _, entry := range playlist.Parse(body) {
				// Placeholder-named entries are dropped here: only the
				// playlist module itself may synthesize names.
				if entry.SyntheticName {
					continue
				}
				add(catalog.Channel{
					ID:        entry.ID,
					Name:      entry.Name,
					Group:     entry.Group,
					Logo:      entry.Logo,
					GuideID:   entry.GuideID,
					GuideName: entry.GuideName,
				})
			}
		}
	}
	return out
}

// extractFlatList parses the prioritized "name: acestream://id" block.
func extractFlatList(doc string) []catalog.Channel {
	seen := map[string]bool{}
	var out []catalog.Channel
	for _, m := range flatListRe.FindAllStringSubmatch(doc, -1) {
		name := playlist.CleanText(m[1])
		id := m[2]
		if name == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, catalog.Channel{ID: id, Name: name})
	}
	return out
}

// extractScriptData parses the embedded linksData JSON object.
func extractScriptData(doc string) []catalog.Channel {
	m := linksDataRe.FindStringSubmatch(doc)
	if m == nil {
		return nil
	}
	var data struct {
		Links []struct {
			URL  string `json:"url"`
			Name string `json:"name"`
		} `json:"links"`
	}
	if err := json.Unmarshal([]byte(m[1]), &data); err != nil {
		// Malformed embedded data degrades to "nothing found".
		return nil
	}
	var out []catalog.Channel
	for _, link := range data.Links {
		idm := idRe.FindStringSubmatch(link.URL)
		if idm == nil {
			continue
		}
		out = append(out, catalog.Channel{ID: idm[1], Name: link.Name})
	}
	return out
}

// extractRawPattern scans the DOM for acestream ids not captured by earlier
// steps and pairs each with a name from a nearby link-name element. Ids with
// no discoverable name are dropped, not given placeholder names.
func extractRawPattern(root *html.Node, captured map[string]bool) []catalog.Channel {
	var out []catalog.Channel
	seen := map[string]bool{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, id := range nodeChannelIDs(n) {
				if captured[id] || seen[id] {
					continue
				}
				name := nearbyLinkName(n)
				if name == "" {
					continue
				}
				seen[id] = true
				out = append(out, catalog.Channel{ID: id, Name: name})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

// nodeChannelIDs returns the channel ids referenced directly by one element:
// href/src attributes plus immediate text children.
func nodeChannelIDs(n *html.Node) []string {
	var ids []string
	for _, a := range n.Attr {
		if a.Key != "href" && a.Key != "src" {
			continue
		}
		if m := idRe.FindStringSubmatch(a.Val); m != nil {
			ids = append(ids, m[1])
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.TextNode {
			continue
		}
		for _, m := range idRe.FindAllStringSubmatch(c.Data, -1) {
			ids = append(ids, m[1])
		}
	}
	return ids
}

// nearbyLinkName finds the text of the closest link-name element: the node
// itself, then enclosing ancestors. Climbing stops at an ancestor holding
// more than one channel id, so a shared container never donates another
// item's name.
func nearbyLinkName(n *html.Node) string {
	if hasClass(n, "link-name") {
		return playlist.CleanText(textExcludingIDs(n))
	}
	anc := n.Parent
	for depth := 0; depth < 3 && anc != nil; depth++ {
		if countChannelIDs(anc) > 1 {
			return ""
		}
		if found := findLinkName(anc); found != nil {
			return playlist.CleanText(textExcludingIDs(found))
		}
		anc = anc.Parent
	}
	return ""
}

// countChannelIDs counts distinct channel ids referenced inside a subtree,
// stopping at two.
func countChannelIDs(n *html.Node) int {
	seen := map[string]bool{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(seen) > 1 {
			return
		}
		if n.Type == html.ElementNode {
			for _, id := range nodeChannelIDs(n) {
				seen[id] = true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return len(seen)
}

func findLinkName(n *html.Node) *html.Node {
	if hasClass(n, "link-name") {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findLinkName(c); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

// textExcludingIDs collects the node's text content minus any acestream URL
// fragments, so an id sitting inside the name element doesn't pollute the
// display name.
func textExcludingIDs(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(idRe.ReplaceAllString(n.Data, ""))
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// playlistLinks collects playlist references from the document: absolute
// URLs as-is, root-relative paths resolved against the source address.
func playlistLinks(doc, sourceAddr string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range playlistURLRe.FindAllString(doc, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	base, err := url.Parse(sourceAddr)
	if err != nil {
		return out
	}
	for _, m := range playlistRelRe.FindAllStringSubmatch(doc, -1) {
		ref, err := url.Parse(m[1])
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref).String()
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}
	return out
}
