package streamingmodule

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// parseMasterManifest extracts the quality levels from a master playlist
// document. Each #EXT-X-STREAM-INF line describes one variant; the URI on
// the following line locates its media playlist.
func parseMasterManifest(data []byte) ([]QualityLevel, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))

	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "#EXTM3U" {
		return nil, fmt.Errorf("not a valid manifest: missing #EXTM3U header")
	}

	var levels []QualityLevel
	var pending *QualityLevel

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			level, err := parseStreamInf(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			if err != nil {
				return nil, err
			}
			pending = level
			continue
		}

		if strings.HasPrefix(line, "#") {
			continue
		}

		// A non-tag line following a stream-inf tag is the variant URI.
		if pending != nil {
			pending.URI = line
			if pending.Label == "" {
				pending.Label = fmt.Sprintf("variant-%d", len(levels))
			}
			levels = append(levels, *pending)
			pending = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if len(levels) == 0 {
		return nil, fmt.Errorf("manifest lists no quality levels")
	}
	return levels, nil
}

// parseStreamInf parses the attribute list of a #EXT-X-STREAM-INF tag.
func parseStreamInf(attrs string) (*QualityLevel, error) {
	level := &QualityLevel{}

	for _, attr := range splitAttributes(attrs) {
		key, value, found := strings.Cut(attr, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)

		switch key {
		case "BANDWIDTH":
			bw, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid BANDWIDTH attribute %q", value)
			}
			level.BitrateHint = bw
		case "RESOLUTION":
			w, h, found := strings.Cut(value, "x")
			if !found {
				return nil, fmt.Errorf("invalid RESOLUTION attribute %q", value)
			}
			width, errW := strconv.Atoi(w)
			height, errH := strconv.Atoi(h)
			if errW != nil || errH != nil {
				return nil, fmt.Errorf("invalid RESOLUTION attribute %q", value)
			}
			level.Width = width
			level.Height = height
			if level.Label == "" {
				level.Label = fmt.Sprintf("%dp", height)
			}
		case "NAME":
			level.Label = value
		}
	}

	if level.BitrateHint <= 0 {
		return nil, fmt.Errorf("stream variant missing BANDWIDTH")
	}
	return level, nil
}

// splitAttributes splits an attribute list on commas, respecting quoted
// values (RESOLUTION=1920x1080,CODECS="avc1.64001f,mp4a.40.2").
func splitAttributes(attrs string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false

	for _, r := range attrs {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			current.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
