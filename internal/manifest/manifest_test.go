package manifest

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func overrides(t *testing.T, doc string) *Object {
	t.Helper()
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(doc), &node))
	v, err := FromYAML(&node)
	require.NoError(t, err)
	obj, ok := v.(*Object)
	require.True(t, ok)
	return obj
}

func compact(t *testing.T, m *Object) string {
	t.Helper()
	data, err := m.MarshalJSON()
	require.NoError(t, err)
	return string(data)
}

func TestBuildReferenceManifest(t *testing.T) {
	d := &Descriptor{
		Name:      "x",
		Version:   "1.0.0",
		Overrides: overrides(t, "permissions: [storage]\n"),
	}

	m, conflicts := Build(d, Sentinels{Background: true})

	assert.Empty(t, conflicts)
	assert.Equal(t,
		`{"manifest_version":3,"name":"x","version":"1.0.0","permissions":["storage"],"background":{"service_worker":"background/index.js"}}`,
		compact(t, m))
}

func TestBuildKeyOrder(t *testing.T) {
	d := &Descriptor{
		Name:      "ext",
		Version:   "0.1",
		Overrides: overrides(t, "permissions: []\nhost_permissions: [\"https://*/*\"]\ndescription: demo\n"),
	}

	m, _ := Build(d, Sentinels{Background: true, Content: true, Popup: true})

	assert.Equal(t, []string{
		"manifest_version", "name", "version",
		"permissions", "host_permissions", "description",
		"background", "content_scripts", "action",
	}, m.Keys())
	assert.Equal(t,
		`{"manifest_version":3,"name":"ext","version":"0.1","permissions":[],"host_permissions":["https://*/*"],"description":"demo",`+
			`"background":{"service_worker":"background/index.js"},`+
			`"content_scripts":[{"matches":["<all_urls>"],"js":["content/index.js"]}],`+
			`"action":{"default_popup":"popup/index.html"}}`,
		compact(t, m))
}

func TestSameValue(t *testing.T) {
	tests := []struct {
		name string
		a, b interface{}
		want bool
	}{
		{"int and int", 3, 3, true},
		{"int and json number", json.Number("3"), 3, true},
		{"int and float", 3.0, 3, true},
		{"string and int", "3", 3, false},
		{"different ints", 2, 3, false},
		{"strings", "ext", "ext", true},
		{"string and number string", "1", json.Number("1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sameValue(tt.a, tt.b))
		})
	}
}

func TestBuildPrecedence(t *testing.T) {
	tests := []struct {
		name         string
		doc          string
		sentinels    Sentinels
		expected     string
		conflictKeys []string
	}{
		{
			name:     "matching manifest_version is silent",
			doc:      "manifest_version: 3\npermissions: []\n",
			expected: `{"manifest_version":3,"name":"n","version":"1","permissions":[]}`,
		},
		{
			name:         "base fields cannot be replaced",
			doc:          "manifest_version: 2\nname: other\n",
			expected:     `{"manifest_version":3,"name":"n","version":"1"}`,
			conflictKeys: []string{"manifest_version", "name"},
		},
		{
			name:         "string manifest_version is a conflict",
			doc:          "manifest_version: \"3\"\n",
			expected:     `{"manifest_version":3,"name":"n","version":"1"}`,
			conflictKeys: []string{"manifest_version"},
		},
		{
			name:     "float manifest_version matches",
			doc:      "manifest_version: 3.0\n",
			expected: `{"manifest_version":3,"name":"n","version":"1"}`,
		},
		{
			name:         "sentinel wins over override",
			doc:          "action:\n  default_popup: custom.html\nbackground:\n  service_worker: bg.js\n",
			sentinels:    Sentinels{Popup: true},
			expected:     `{"manifest_version":3,"name":"n","version":"1","background":{"service_worker":"bg.js"},"action":{"default_popup":"popup/index.html"}}`,
			conflictKeys: []string{"action"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Descriptor{Name: "n", Version: "1", Overrides: overrides(t, tt.doc)}
			m, conflicts := Build(d, tt.sentinels)

			assert.Equal(t, tt.expected, compact(t, m))
			var keys []string
			for _, c := range conflicts {
				keys = append(keys, c.Key)
			}
			assert.Equal(t, tt.conflictKeys, keys)
		})
	}
}

func TestMarshalIndent(t *testing.T) {
	m, _ := Build(&Descriptor{Name: "x", Version: "1.0.0"}, Sentinels{Content: true})

	data, err := Marshal(m)
	require.NoError(t, err)

	expected := `{
    "manifest_version": 3,
    "name": "x",
    "version": "1.0.0",
    "content_scripts": [
        {
            "matches": [
                "<all_urls>"
            ],
            "js": [
                "content/index.js"
            ]
        }
    ]
}`
	assert.Equal(t, expected, string(data))
}

func TestObjectJSONRoundTripKeepsOrder(t *testing.T) {
	var obj Object
	require.NoError(t, obj.UnmarshalJSON([]byte(`{"z":1,"a":{"y":true,"b":[1,{"k":"v"}]},"m":null}`)))

	assert.Equal(t, []string{"z", "a", "m"}, obj.Keys())
	out, err := obj.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":{"y":true,"b":[1,{"k":"v"}]},"m":null}`, string(out))
}

func TestObjectSet(t *testing.T) {
	obj := NewObject()
	obj.Set("a", 1)
	obj.Set("b", 2)
	obj.Set("a", 3)

	assert.Equal(t, []string{"a", "b"}, obj.Keys())
	v, ok := obj.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	assert.Equal(t, 2, obj.Len())
	_, ok = obj.Get("missing")
	assert.False(t, ok)
}

func TestFromMapSortsKeys(t *testing.T) {
	obj := FromMap(map[string]interface{}{
		"b": 1,
		"a": map[string]interface{}{"d": 1, "c": 2},
	})

	assert.Equal(t, `{"a":{"c":2,"d":1},"b":1}`, compact(t, obj))
}

func TestSynthesizerWrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := filepath.Join("project", "src")
	dist := filepath.Join("project", "dist")
	require.NoError(t, afero.WriteFile(fs, filepath.Join(src, "background", "index.js"), []byte("//bg"), 0o644))
	require.NoError(t, fs.MkdirAll(filepath.Join(src, "popup", "index.html"), 0o755)) // directory, not a file
	require.NoError(t, fs.MkdirAll(dist, 0o755))

	s := NewSynthesizer(fs, nil)
	d := &Descriptor{Name: "x", Version: "1.0.0", Overrides: overrides(t, "permissions: [storage]\n")}

	n, err := s.Write(context.Background(), d, src, dist)
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, filepath.Join(dist, FileName))
	require.NoError(t, err)
	assert.Len(t, data, n)

	var parsed Object
	require.NoError(t, parsed.UnmarshalJSON(data))
	assert.Equal(t,
		`{"manifest_version":3,"name":"x","version":"1.0.0","permissions":["storage"],"background":{"service_worker":"background/index.js"}}`,
		compact(t, &parsed))
}

func TestSynthesizeMissingDescriptor(t *testing.T) {
	s := NewSynthesizer(afero.NewMemMapFs(), nil)

	_, err := s.Synthesize(context.Background(), nil, "src")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFIG_MISSING")
}

func TestSynthesizeIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "src/content/index.js", []byte("//c"), 0o644))
	s := NewSynthesizer(fs, nil)
	d := &Descriptor{Name: "x", Version: "2", Overrides: overrides(t, "a: 1\nb: [1, 2]\n")}

	first, err := s.Synthesize(context.Background(), d, "src")
	require.NoError(t, err)
	second, err := s.Synthesize(context.Background(), d, "src")
	require.NoError(t, err)

	a, err := Marshal(first)
	require.NoError(t, err)
	b, err := Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
