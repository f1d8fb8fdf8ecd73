package dispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsAccessors(t *testing.T) {
	p := Params{
		"query":    "up",
		"size":     float64(20),
		"ratio":    "0.5",
		"verbose":  "true",
		"step":     "1m",
		"seconds":  float64(90),
		"indices":  []any{"logs-a", "logs-b"},
		"csv":      "a, b,,c",
		"body":     `{"match_all":{}}`,
		"at":       "2024-01-02T03:04:05Z",
		"unix":     float64(1700000000),
		"fraction": float64(1.5),
	}

	s, err := p.RequiredString("query")
	require.NoError(t, err)
	assert.Equal(t, "up", s)

	n, err := p.Int("size", 10)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	n, err = p.Int("absent", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	_, err = p.Int("fraction", 0)
	assert.True(t, errors.Is(err, ErrInvalidParameter))

	f, err := p.Float("ratio", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.5, f)

	b, err := p.Bool("verbose", false)
	require.NoError(t, err)
	assert.True(t, b)

	d, err := p.Duration("step", 0)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = p.Duration("seconds", 0)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	list, err := p.Strings("indices")
	require.NoError(t, err)
	assert.Equal(t, []string{"logs-a", "logs-b"}, list)

	list, err = p.Strings("csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, list)

	obj, err := p.Object("body")
	require.NoError(t, err)
	assert.Contains(t, obj, "match_all")

	ts, ok, err := p.Time("at")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ts)

	ts, ok, err = p.Time("unix")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), ts.Unix())

	_, ok, err = p.Time("absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParamsTypeErrors(t *testing.T) {
	p := Params{
		"query":   map[string]any{},
		"flag":    "maybe",
		"list":    []any{1.0},
		"when":    "yesterday",
		"missing": "",
	}

	_, err := p.String("query")
	var perr *InvalidParameterError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "query", perr.Param)

	_, err = p.Bool("flag", false)
	assert.Error(t, err)

	_, err = p.Strings("list")
	assert.Error(t, err)

	_, _, err = p.Time("when")
	assert.Error(t, err)

	_, err = p.RequiredString("missing")
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "is required", perr.Reason)
}

func TestParamsClone(t *testing.T) {
	p := Params{"a": "1"}
	c := p.Clone()
	c["b"] = "2"
	assert.NotContains(t, p, "b")
	assert.Nil(t, Params(nil).Clone())
}
