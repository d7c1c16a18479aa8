package dataset

// UnresolvedReference is a bagger city name that matched no city.
type UnresolvedReference struct {
	Bagger string
	City   string
}

// Resolution is the output of the transform step.
type Resolution struct {
	Cities     []City
	Baggers    []BaggerDocument
	Unresolved []UnresolvedReference
}

// CityLookup maps city names to city records. When several cities share a
// name the last one wins.
type CityLookup map[string]City

// NewCityLookup indexes cities by name.
func NewCityLookup(cities []City) CityLookup {
	lookup := make(CityLookup, len(cities))
	for _, c := range cities {
		lookup[c.Name] = c
	}
	return lookup
}

// Denormalize replaces each city name of b by its record, keeping order and
// length. Names with no match become nil entries and are returned as missing.
func (l CityLookup) Denormalize(b Bagger) (BaggerDocument, []string) {
	doc := BaggerDocument{
		Name:   b.Name,
		Cities: make([]*City, len(b.Cities)),
		Extra:  b.Extra,
	}
	var missing []string
	for i, name := range b.Cities {
		city, ok := l[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		doc.Cities[i] = &city
	}
	return doc, missing
}

// Resolve denormalizes every bagger of ds. Cities are returned unchanged and
// in source order.
func Resolve(ds *Dataset) *Resolution {
	lookup := NewCityLookup(ds.Cities)
	res := &Resolution{
		Cities:  ds.Cities,
		Baggers: make([]BaggerDocument, 0, len(ds.Baggers)),
	}
	for _, b := range ds.Baggers {
		doc, missing := lookup.Denormalize(b)
		for _, name := range missing {
			res.Unresolved = append(res.Unresolved, UnresolvedReference{Bagger: b.Name, City: name})
		}
		res.Baggers = append(res.Baggers, doc)
	}
	return res
}
