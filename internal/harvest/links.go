package harvest

import (
	"encoding/json"
	"strings"

	"github.com/pbaille/geoharvest/internal/domain"
)

// name|description|url|type|format|...
const linkFields = 5

// StringList decodes a JSON value that upstream sends either as a single
// string or as a list of strings. Any other shape decodes to an empty list
// and non-string list entries are dropped.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		*l = StringList{t}
	case []any:
		out := make(StringList, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		*l = out
	default:
		*l = nil
	}
	return nil
}

// FirstString decodes a value upstream sends as a string or as a list of
// strings, keeping the first string. Other shapes decode to "".
type FirstString string

func (s *FirstString) UnmarshalJSON(data []byte) error {
	var l StringList
	if err := l.UnmarshalJSON(data); err != nil {
		return err
	}
	*s = ""
	if len(l) > 0 {
		*s = FirstString(l[0])
	}
	return nil
}

// DecodeLink splits one pipe-delimited descriptor into a ResourceLink.
func DecodeLink(raw string) (domain.ResourceLink, error) {
	parts := strings.Split(raw, "|")
	if len(parts) < linkFields {
		return domain.ResourceLink{}, &MalformedLinkError{Raw: raw, Fields: len(parts)}
	}
	return domain.ResourceLink{
		URL:    parts[2],
		Type:   parts[3],
		Format: parts[4],
	}, nil
}

// DecodeLinks decodes every descriptor, failing on the first truncated one.
func DecodeLinks(raw StringList) ([]domain.ResourceLink, error) {
	links := make([]domain.ResourceLink, 0, len(raw))
	for _, r := range raw {
		link, err := DecodeLink(r)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}
