package dataset

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) *Dataset {
	t.Helper()
	var ds Dataset
	require.NoError(t, json.Unmarshal([]byte(raw), &ds))
	return &ds
}

func TestResolveReplacesCityNames(t *testing.T) {
	ds := decode(t, `{
		"cities":[{"name":"Lille","lat":50.63,"lng":3.06}],
		"baggers":[{"name":"Alice","cities":["Lille"]}]
	}`)

	res := Resolve(ds)

	require.Len(t, res.Baggers, 1)
	assert.Empty(t, res.Unresolved)
	got, err := json.Marshal(res.Baggers[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Alice","cities":[{"name":"Lille","lat":50.63,"lng":3.06}]}`, string(got))
}

func TestResolveUnknownCityBecomesNull(t *testing.T) {
	ds := decode(t, `{
		"cities":[{"name":"Lille"}],
		"baggers":[{"name":"Bob","cities":["Lille","Atlantis"]}]
	}`)

	res := Resolve(ds)

	require.Len(t, res.Baggers, 1)
	doc := res.Baggers[0]
	require.Len(t, doc.Cities, 2)
	assert.NotNil(t, doc.Cities[0])
	assert.Nil(t, doc.Cities[1])
	assert.Equal(t, []UnresolvedReference{{Bagger: "Bob", City: "Atlantis"}}, res.Unresolved)

	got, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Bob","cities":[{"name":"Lille"},null]}`, string(got))
}

func TestResolveDuplicateCityLastWins(t *testing.T) {
	ds := decode(t, `{
		"cities":[{"name":"Paris","ville_img":"old.png"},{"name":"Paris","ville_img":"new.png"}],
		"baggers":[{"name":"Carol","cities":["Paris"]}]
	}`)

	res := Resolve(ds)

	require.NotNil(t, res.Baggers[0].Cities[0])
	assert.Equal(t, "new.png", res.Baggers[0].Cities[0].Image)
	assert.Len(t, res.Cities, 2)
}

func TestResolveKeepsOrderAndLength(t *testing.T) {
	ds := decode(t, `{
		"cities":[{"name":"A"},{"name":"B"}],
		"baggers":[
			{"name":"x","cities":["B","A","B"]},
			{"name":"y","cities":[]},
			{"name":"z"}
		]
	}`)

	res := Resolve(ds)

	require.Len(t, res.Baggers, 3)
	names := []string{}
	for _, c := range res.Baggers[0].Cities {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"B", "A", "B"}, names)
	assert.Empty(t, res.Baggers[1].Cities)

	got, err := json.Marshal(res.Baggers[2])
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"z","cities":[]}`, string(got))
}

func TestResolvePreservesUnknownAttributes(t *testing.T) {
	ds := decode(t, `{
		"cities":[{"name":"Nantes","lat":47.2,"contact":{"email":"n@bbl.fr"}}],
		"baggers":[{"name":"Dan","bio":"Go","sessions":[{"title":"t"}],"cities":["Nantes"]}]
	}`)

	res := Resolve(ds)

	city, err := json.Marshal(res.Cities[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Nantes","lat":47.2,"contact":{"email":"n@bbl.fr"}}`, string(city))

	bagger, err := json.Marshal(res.Baggers[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"name":"Dan","bio":"Go","sessions":[{"title":"t"}],
		"cities":[{"name":"Nantes","lat":47.2,"contact":{"email":"n@bbl.fr"}}]
	}`, string(bagger))
}

func TestResolveEmptyDataset(t *testing.T) {
	res := Resolve(&Dataset{})
	assert.Empty(t, res.Cities)
	assert.Empty(t, res.Baggers)
	assert.Empty(t, res.Unresolved)
}

func TestResolveKeepsEmptyBaggerName(t *testing.T) {
	ds := decode(t, `{"cities":[],"baggers":[{"name":"","cities":[]}]}`)

	raw, err := json.Marshal(ds.Baggers[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"","cities":[]}`, string(raw))

	doc, err := json.Marshal(Resolve(ds).Baggers[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"","cities":[]}`, string(doc))
}
