package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"savings/internal/core"
)

// CurrentVersion is the document version written by this build.
const CurrentVersion = 1

var (
	ErrUnsupportedVersion = errors.New("unsupported document version")
	ErrNotInitialized     = errors.New("store not initialized")
	ErrReadOnly           = errors.New("store is read-only: stored goals could not be read or backed up")
)

// document is the persisted form of the goal collection.
type document struct {
	Version int         `json:"version"`
	Goals   []core.Goal `json:"goals"`
}

type envelope struct {
	Version int             `json:"version"`
	Goals   json.RawMessage `json:"goals"`
}

// migrations[v] upgrades the goals array of a version v document to v+1.
var migrations = map[int]func(json.RawMessage) (json.RawMessage, error){
	0: migrateLegacyArray,
}

func encodeDocument(goals []core.Goal) ([]byte, error) {
	if goals == nil {
		goals = []core.Goal{}
	}
	return json.Marshal(document{Version: CurrentVersion, Goals: goals})
}

// decodeDocument accepts the current envelope, older envelopes and the
// un-versioned bare array, upgrading through migrations as needed.
func decodeDocument(data []byte) ([]core.Goal, int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, 0, errors.New("empty document")
	}

	var (
		version int
		raw     json.RawMessage
	)
	if data[0] == '[' {
		raw = data
	} else {
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, 0, fmt.Errorf("parse envelope: %w", err)
		}
		version, raw = env.Version, env.Goals
	}
	if version > CurrentVersion {
		return nil, version, fmt.Errorf("%w: %d (newest known %d)", ErrUnsupportedVersion, version, CurrentVersion)
	}
	if version < 0 {
		return nil, version, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	from := version
	for v := version; v < CurrentVersion; v++ {
		migrate, ok := migrations[v]
		if !ok {
			return nil, from, fmt.Errorf("no migration from version %d", v)
		}
		var err error
		if raw, err = migrate(raw); err != nil {
			return nil, from, fmt.Errorf("migrate from version %d: %w", v, err)
		}
	}

	var goals []core.Goal
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &goals); err != nil {
			return nil, from, fmt.Errorf("parse goals: %w", err)
		}
	}
	for i := range goals {
		if goals[i].Contributions == nil {
			goals[i].Contributions = []core.Contribution{}
		}
	}
	return goals, from, nil
}

// migrateLegacyArray fills fields that early browser-stored documents could
// omit: a missing contributions list and a missing running total.
func migrateLegacyArray(raw json.RawMessage) (json.RawMessage, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	for _, item := range items {
		if c, ok := item["contributions"]; !ok || string(c) == "null" {
			item["contributions"] = json.RawMessage("[]")
		}
		if _, ok := item["currentAmount"]; !ok {
			item["currentAmount"] = json.RawMessage("0")
		}
	}
	return json.Marshal(items)
}
