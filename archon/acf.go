package archon

import (
	"fmt"
	"strconv"
	"strings"
)

// ACF is the client-side model of an Archon configuration file: a
// sectioned key/value document plus an embedded timing script. Top-level
// sections are preserved in their original order so re-emission keeps the
// original layout; the CONFIG section's numeric parameter table carries a
// secondary name->slot index so named-parameter edits are O(1).
type ACF struct {
	sectionOrder []string
	sections     map[string]*acfSection
	// paramOrder is CONFIG's numeric slot order, e.g. "CONFIG.PARAMETER12".
	paramOrder []string
	paramName  map[string]string // NAME -> "CONFIG.PARAMETERnnn" line key
	nameSlot   map[string]int    // NAME -> slot index within its PARAMETERn group
}

type acfSection struct {
	name     string
	keyOrder []string
	values   map[string]string
}

// ParseACF parses raw ACF text into an ACF model.
func ParseACF(text string) (*ACF, error) {
	a := &ACF{
		sections:  make(map[string]*acfSection),
		paramName: make(map[string]string),
		nameSlot:  make(map[string]int),
	}
	var cur *acfSection
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.ToUpper(strings.Trim(line, "[]"))
			if _, ok := a.sections[name]; !ok {
				a.sections[name] = &acfSection{name: name, values: make(map[string]string)}
				a.sectionOrder = append(a.sectionOrder, name)
			}
			cur = a.sections[name]
			continue
		}
		if cur == nil {
			continue
		}
		key, val, ok := splitKV(line)
		if !ok {
			continue
		}
		if _, exists := cur.values[key]; !exists {
			cur.keyOrder = append(cur.keyOrder, key)
		}
		cur.values[key] = val
		a.indexParameter(cur.name, key, val)
	}
	return a, nil
}

func splitKV(line string) (key, val string, ok bool) {
	i := strings.Index(line, "=")
	if i < 0 {
		return "", "", false
	}
	return line[:i], line[i+1:], true
}

// indexParameter updates the name->slot index when a CONFIG.PARAMETERn or
// CONFIG.PARAMETERSn line (NAME=VALUE encoded as its own value) is seen.
func (a *ACF) indexParameter(section, key, val string) {
	if section != "CONFIG" {
		return
	}
	lower := strings.ToUpper(key)
	if !strings.HasPrefix(lower, "PARAMETER") {
		return
	}
	digits := strings.TrimLeft(lower[len("PARAMETER"):], "S")
	slot, err := strconv.Atoi(digits)
	if err != nil {
		return
	}
	name, _, ok := splitKV(val)
	if !ok {
		return
	}
	a.paramName[strings.ToUpper(name)] = fmt.Sprintf("CONFIG.%s", key)
	a.nameSlot[strings.ToUpper(name)] = slot
}

// Get returns the raw value at section.key.
func (a *ACF) Get(section, key string) (string, bool) {
	s, ok := a.sections[strings.ToUpper(section)]
	if !ok {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// Set overwrites or appends section.key=value, preserving layout.
func (a *ACF) Set(section, key, value string) {
	section = strings.ToUpper(section)
	s, ok := a.sections[section]
	if !ok {
		s = &acfSection{name: section, values: make(map[string]string)}
		a.sections[section] = s
		a.sectionOrder = append(a.sectionOrder, section)
	}
	if _, exists := s.values[key]; !exists {
		s.keyOrder = append(s.keyOrder, key)
	}
	s.values[key] = value
	a.indexParameter(section, key, value)
}

// ParamSlot resolves a named CONFIG parameter (e.g. "Exposures") to its
// numeric WCONFIG/RCONFIG slot. Named parameters are addressed only through
// this indirection: editing by name requires locating the slot first.
func (a *ACF) ParamSlot(name string) (int, error) {
	slot, ok := a.nameSlot[strings.ToUpper(name)]
	if !ok {
		return 0, &ConfigError{Reason: fmt.Sprintf("parameter %q not found in ACF", name)}
	}
	return slot, nil
}

// ParamValue returns the current VALUE half of a NAME=VALUE parameter line.
func (a *ACF) ParamValue(name string) (string, error) {
	key, ok := a.paramName[strings.ToUpper(name)]
	if !ok {
		return "", &ConfigError{Reason: fmt.Sprintf("parameter %q not found in ACF", name)}
	}
	parts := strings.SplitN(key, ".", 2)
	raw, _ := a.Get(parts[0], parts[1])
	_, val, _ := splitKV(raw)
	return val, nil
}

// SetParamValue rewrites the VALUE half of a named parameter's line while
// keeping its slot and NAME unchanged.
func (a *ACF) SetParamValue(name, value string) error {
	key, ok := a.paramName[strings.ToUpper(name)]
	if !ok {
		return &ConfigError{Reason: fmt.Sprintf("parameter %q not found in ACF", name)}
	}
	parts := strings.SplitN(key, ".", 2)
	a.Set(parts[0], parts[1], fmt.Sprintf("%s=%s", name, value))
	return nil
}

// Serialize re-emits the ACF text, preserving section and key order.
func (a *ACF) Serialize() string {
	var b strings.Builder
	for _, sname := range a.sectionOrder {
		s := a.sections[sname]
		fmt.Fprintf(&b, "[%s]\n", s.name)
		for _, k := range s.keyOrder {
			fmt.Fprintf(&b, "%s=%s\n", k, s.values[k])
		}
	}
	return b.String()
}

// WconfigLines renders the full CONFIG section as a stream of
// "WCONFIGnnnnKEY=VALUE" command texts, one per line in the file's original
// order with nnnn the sequential line index, matching the sequence
// write_config issues after CLEARCONFIG (the controller numbers WCONFIG
// lines by position in the stream, not by each key's own numeric suffix).
func (a *ACF) WconfigLines() []string {
	s, ok := a.sections["CONFIG"]
	if !ok {
		return nil
	}
	lines := make([]string, 0, len(s.keyOrder))
	for i, k := range s.keyOrder {
		lines = append(lines, fmt.Sprintf("WCONFIG%04X%s=%s", i, k, s.values[k]))
	}
	return lines
}
