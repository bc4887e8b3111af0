package authz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/jonwraymond/toolgate/auth"
)

// FilterToolsList removes the tools identity may not call from a
// tools/list result.
//
// Retained entries keep their order and their exact bytes, and every byte
// outside the tools array is left untouched. Entries without a string name
// are removed. A result without a tools member is returned as is.
func FilterToolsList(identity *auth.Identity, result json.RawMessage) (json.RawMessage, error) {
	return filterToolsAt(identity, result, "tools")
}

// FilterResponseBody applies FilterToolsList to the result of a complete
// JSON-RPC response body. Error responses are returned as is.
func FilterResponseBody(identity *auth.Identity, body []byte) ([]byte, error) {
	return filterToolsAt(identity, body, "result", "tools")
}

// FilterResponse filters msg.Result in place.
func FilterResponse(identity *auth.Identity, msg *Message) error {
	if msg == nil || len(msg.Result) == 0 {
		return nil
	}
	filtered, err := FilterToolsList(identity, msg.Result)
	if err != nil {
		return err
	}
	msg.Result = filtered
	return nil
}

func filterToolsAt(identity *auth.Identity, doc []byte, path ...string) ([]byte, error) {
	if identity.Unrestricted() {
		return doc, nil
	}
	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedResult)
	}

	start, end, tools, err := locate(doc, path)
	if err != nil {
		return nil, err
	}
	if start < 0 {
		return doc, nil
	}
	if !tools.IsArray() {
		return nil, fmt.Errorf("%w: tools is not an array", ErrMalformedResult)
	}

	var kept []string
	total := 0
	tools.ForEach(func(_, entry gjson.Result) bool {
		total++
		if name, ok := entryName(entry); ok && AuthorizeToolCall(identity, name) {
			kept = append(kept, entry.Raw)
		}
		return true
	})
	if len(kept) == total {
		return doc, nil
	}

	out := make([]byte, 0, len(doc))
	out = append(out, doc[:start]...)
	out = append(out, '[')
	out = append(out, strings.Join(kept, ",")...)
	out = append(out, ']')
	out = append(out, doc[end:]...)
	return out, nil
}

// locate walks the object members named by path and returns the byte
// range of the final value within doc. start is -1 when a member is
// missing. Duplicate member names are rejected since clients may honor a
// different duplicate than the one filtered.
func locate(doc []byte, path []string) (start, end int, value gjson.Result, err error) {
	base := 0
	cur := doc
	for _, key := range path {
		lead := len(cur) - len(bytes.TrimLeft(cur, " \t\r\n"))
		obj := gjson.ParseBytes(cur[lead:])
		if !obj.IsObject() {
			return -1, -1, gjson.Result{}, fmt.Errorf("%w: %s parent is not an object", ErrMalformedResult, key)
		}

		var found gjson.Result
		matches := 0
		obj.ForEach(func(k, v gjson.Result) bool {
			if k.Str == key {
				matches++
				found = v
			}
			return true
		})
		switch {
		case matches == 0:
			return -1, -1, gjson.Result{}, nil
		case matches > 1:
			return -1, -1, gjson.Result{}, fmt.Errorf("%w: duplicate %q member", ErrMalformedResult, key)
		}

		offset := base + lead + found.Index
		if found.Index <= 0 || offset+len(found.Raw) > len(doc) || string(doc[offset:offset+len(found.Raw)]) != found.Raw {
			return -1, -1, gjson.Result{}, fmt.Errorf("%w: cannot locate %q", ErrMalformedResult, key)
		}
		base = offset
		cur = doc[offset : offset+len(found.Raw)]
		value = found
	}
	return base, base + len(value.Raw), value, nil
}

// entryName returns the name of a tools/list entry. An entry with zero or
// several name members has no name.
func entryName(entry gjson.Result) (string, bool) {
	name, count := nameMembers(entry)
	if count != 1 || name.Type != gjson.String {
		return "", false
	}
	return name.Str, true
}

// nameMembers returns the last "name" member of obj and how many there
// are. Keys are compared after unescaping.
func nameMembers(obj gjson.Result) (gjson.Result, int) {
	var name gjson.Result
	count := 0
	if !obj.IsObject() {
		return name, 0
	}
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.Str == "name" {
			count++
			name = v
		}
		return true
	})
	return name, count
}
