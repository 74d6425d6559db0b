package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/risk-engine/internal/model"
)

// loadProfiles reads profile snapshots from a fixture file. JSON files hold
// one object or an array. YAML files may hold one profile or a list per
// document, with any number of documents.
func loadProfiles(path string, now time.Time) ([]model.ProfileSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read profiles %s", path)
	}

	var profiles []model.ProfileSnapshot
	if strings.EqualFold(filepath.Ext(path), ".json") {
		profiles, err = decodeJSONProfiles(raw)
	} else {
		profiles, err = decodeYAMLProfiles(raw)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "parse profiles %s", path)
	}

	for i := range profiles {
		if strings.TrimSpace(profiles[i].UserID) == "" {
			return nil, eris.Errorf("profile %d in %s has no user_id", i, path)
		}
		if profiles[i].CapturedAt.IsZero() {
			profiles[i].CapturedAt = now.UTC()
		}
	}
	return profiles, nil
}

func decodeJSONProfiles(raw []byte) ([]model.ProfileSnapshot, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []model.ProfileSnapshot
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var p model.ProfileSnapshot
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, err
	}
	return []model.ProfileSnapshot{p}, nil
}

func decodeYAMLProfiles(raw []byte) ([]model.ProfileSnapshot, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))

	var out []model.ProfileSnapshot
	for {
		var doc yaml.Node
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		node := &doc
		if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
			node = node.Content[0]
		}

		if node.Kind == yaml.SequenceNode {
			var list []model.ProfileSnapshot
			if err := node.Decode(&list); err != nil {
				return nil, err
			}
			out = append(out, list...)
			continue
		}
		var p model.ProfileSnapshot
		if err := node.Decode(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
