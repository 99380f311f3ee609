package hubdb

import "strings"

// getPath/setPath/unsetPath implement dotted-path access into a
// hubtypes.Document (e.g. "download.status", "upload.jobs.main.count"),
// letting the mutation operator set address nested fields the way the
// spec's source/build records are shaped.

func getPath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(doc)
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	m := doc
	for i, p := range parts {
		if i == len(parts)-1 {
			m[p] = value
			return
		}
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
}

func unsetPath(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	m := doc
	for i, p := range parts {
		if i == len(parts)-1 {
			delete(m, p)
			return
		}
		next, ok := m[p].(map[string]any)
		if !ok {
			return
		}
		m = next
	}
}
