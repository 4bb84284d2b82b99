// Package channel loads the channel list from an M3U playlist or from
// configuration and provides ordered, wrap-around navigation over it.
package channel

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"

	"github.com/jmylchreest/tvplay/internal/models"
)

// ErrNoOnTarget is returned by Parse when the parser has no OnTarget callback.
var ErrNoOnTarget = errors.New("OnTarget callback is required")

// maxLineSize bounds a single playlist line; some providers emit very long URLs.
const maxLineSize = 1024 * 1024

var (
	// #EXTINF:-1 tvg-id="..." tvg-name="...",Title
	extinfRegex = regexp.MustCompile(`^#EXTINF:\s*(-?\d+)\s*(.*)$`)

	// key="value" or key=value
	attrRegex = regexp.MustCompile(`([a-zA-Z0-9_-]+)=(?:"([^"]*)"|([^\s,]+))`)
)

// Parser reads M3U and extended M3U playlists and emits one Target per
// stream line. IDs come from tvg-id, or are derived from the position, and
// are made unique within the playlist.
type Parser struct {
	// OnTarget is called for each parsed target.
	OnTarget func(target models.Target) error

	// OnError is called for malformed lines, which are skipped.
	OnError func(lineNum int, err error)

	seen     map[string]int
	position int
}

// extinf is the metadata from an #EXTINF line awaiting its URL line.
type extinf struct {
	id     string
	name   string
	title  string
	logo   string
	group  string
	number int
}

// Parse parses an uncompressed playlist.
func (p *Parser) Parse(r io.Reader) error {
	if p.OnTarget == nil {
		return ErrNoOnTarget
	}
	p.seen = make(map[string]int)
	p.position = 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var pending *extinf
	lineNum := 0
	isExtM3U := false

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}

		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXTM3U"):
			isExtM3U = true
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			meta, err := parseExtinf(line)
			if err != nil {
				p.handleError(lineNum, err)
				pending = nil
				continue
			}
			pending = meta
			continue
		case strings.HasPrefix(line, "#"):
			continue
		}

		if pending == nil && !isExtM3U {
			continue
		}
		if pending == nil {
			pending = &extinf{title: titleFromURL(line)}
		}

		if err := p.OnTarget(p.target(pending, line)); err != nil {
			return fmt.Errorf("callback error at line %d: %w", lineNum, err)
		}
		pending = nil
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning playlist: %w", err)
	}
	return nil
}

// ParseCompressed parses a playlist that may be gzip, bzip2 or xz
// compressed, detected from its magic bytes.
func (p *Parser) ParseCompressed(r io.Reader) error {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return fmt.Errorf("peeking header: %w", err)
	}

	var reader io.Reader = br

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		bzr, err := bzip2.NewReader(br, nil)
		if err != nil {
			return fmt.Errorf("creating bzip2 reader: %w", err)
		}
		defer bzr.Close()
		reader = bzr

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating xz reader: %w", err)
		}
		reader = xzr
	}

	return p.Parse(reader)
}

// ParseAll parses a possibly compressed playlist and returns every target.
func ParseAll(r io.Reader) ([]models.Target, error) {
	var targets []models.Target
	p := &Parser{
		OnTarget: func(t models.Target) error {
			targets = append(targets, t)
			return nil
		},
	}
	if err := p.ParseCompressed(r); err != nil {
		return nil, err
	}
	return targets, nil
}

func (p *Parser) target(meta *extinf, uri string) models.Target {
	p.position++

	name := meta.title
	if name == "" {
		name = meta.name
	}

	id := meta.id
	if id == "" {
		id = "ch-" + strconv.Itoa(p.position)
	}
	p.seen[id]++
	if n := p.seen[id]; n > 1 {
		id = id + "-" + strconv.Itoa(n)
	}

	number := meta.number
	if number <= 0 {
		number = p.position
	}

	return models.Target{
		ID:     id,
		Name:   name,
		URI:    uri,
		Number: number,
		Group:  meta.group,
		Logo:   meta.logo,
	}
}

func parseExtinf(line string) (*extinf, error) {
	matches := extinfRegex.FindStringSubmatch(line)
	if matches == nil {
		return nil, fmt.Errorf("invalid EXTINF format")
	}

	remainder := matches[2]
	meta := &extinf{}

	if idx := findTitleStart(remainder); idx >= 0 {
		meta.title = strings.TrimSpace(remainder[idx+1:])
		remainder = remainder[:idx]
	}

	for _, match := range attrRegex.FindAllStringSubmatch(remainder, -1) {
		value := match[2]
		if value == "" {
			value = match[3]
		}
		switch strings.ToLower(match[1]) {
		case "tvg-id":
			meta.id = value
		case "tvg-name":
			meta.name = value
		case "tvg-logo":
			meta.logo = value
		case "group-title":
			meta.group = value
		case "tvg-chno", "channel-number":
			meta.number, _ = strconv.Atoi(value)
		}
	}

	return meta, nil
}

// findTitleStart finds the comma separating attributes from the title,
// ignoring commas inside quoted values.
func findTitleStart(s string) int {
	inQuotes := false
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '"' {
			inQuotes = !inQuotes
		}
		if s[i] == ',' && !inQuotes {
			return i
		}
	}
	return -1
}

// titleFromURL names a bare stream line after its file name.
func titleFromURL(uri string) string {
	name := uri
	if idx := strings.IndexAny(name, "?#"); idx >= 0 {
		name = name[:idx]
	}
	name = strings.TrimRight(name, "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	if name == "" {
		return "Unknown"
	}
	return name
}

func (p *Parser) handleError(lineNum int, err error) {
	if p.OnError != nil {
		p.OnError(lineNum, err)
	}
}
