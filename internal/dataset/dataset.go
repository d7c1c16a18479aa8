// Package dataset holds the bblfr document model: cities, baggers (speakers)
// and the denormalized bagger documents written to the search backend.
// Attributes the model does not name are carried through unchanged.
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Dataset is the parsed source payload.
type Dataset struct {
	Cities  []City   `json:"cities"`
	Baggers []Bagger `json:"baggers"`
}

// City is a place where talks happen.
type City struct {
	Name  string   `json:"name"`
	Image string   `json:"ville_img,omitempty"`
	Lat   *float64 `json:"lat,omitempty"`
	Lng   *float64 `json:"lng,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Bagger is a speaker as it appears in the source, with cities referenced by
// name.
type Bagger struct {
	Name   string   `json:"name"`
	Cities []string `json:"cities"`

	Extra map[string]json.RawMessage `json:"-"`
}

// BaggerDocument is a Bagger whose city names were replaced by the full city
// records. A nil entry marks a reference that matched no city and encodes as
// JSON null.
type BaggerDocument struct {
	Name   string  `json:"name"`
	Cities []*City `json:"cities"`

	Extra map[string]json.RawMessage `json:"-"`
}

var (
	cityFields   = []string{"name", "ville_img", "lat", "lng"}
	baggerFields = []string{"name", "cities"}
)

func (c *City) UnmarshalJSON(data []byte) error {
	type plain City
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraFields(data, cityFields)
	if err != nil {
		return err
	}
	*c = City(p)
	c.Extra = extra
	return nil
}

func (c City) MarshalJSON() ([]byte, error) {
	type plain City
	return mergeFields(plain(c), c.Extra)
}

func (b *Bagger) UnmarshalJSON(data []byte) error {
	type plain Bagger
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraFields(data, baggerFields)
	if err != nil {
		return err
	}
	*b = Bagger(p)
	b.Extra = extra
	return nil
}

func (b Bagger) MarshalJSON() ([]byte, error) {
	type plain Bagger
	return mergeFields(plain(b), b.Extra)
}

func (d BaggerDocument) MarshalJSON() ([]byte, error) {
	type plain BaggerDocument
	if d.Cities == nil {
		d.Cities = []*City{}
	}
	return mergeFields(plain(d), d.Extra)
}

// extraFields returns the members of a JSON object other than known.
func extraFields(data []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// mergeFields encodes v and adds the extra members it does not already have.
func mergeFields(v any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return data, nil
	}
	var merged map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&merged); err != nil {
		return nil, fmt.Errorf("re-reading encoded document: %w", err)
	}
	for k, raw := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = raw
		}
	}
	return json.Marshal(merged)
}
