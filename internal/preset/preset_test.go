package preset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"custord/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinsResolve(t *testing.T) {
	r, err := NewRegistry("")
	require.NoError(t, err)
	assert.Len(t, r.List(), 7)

	id, params, err := r.Resolve("", map[string]any{
		"loose_stop_loss_pct":          3,
		"take_profit_pct":              "5",
		"tight_trailing_stop_loss_pct": 1.5,
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultID, id)
	assert.Equal(t, order.ReferenceMA, params.Reference)
	assert.Equal(t, order.MATypeHMA, params.MAType)
	assert.Equal(t, 5, params.MAPeriod)
	assert.Equal(t, order.LooseStopTrailing, params.LooseStop)
	assert.True(t, params.TakeProfit)
	assert.Equal(t, 5.0, *params.TakeProfitPct)
	assert.False(t, params.TakeProfitHit)
}

func TestResolveErrors(t *testing.T) {
	r, err := NewRegistry("")
	require.NoError(t, err)

	_, _, err = r.Resolve("stop_loss", nil)
	var missing *order.MissingParameterError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, order.FieldLooseStopLossPct, missing.Field)

	_, _, err = r.Resolve("stop_loss", map[string]any{"loose_stop_loss_pct": -1})
	assert.Error(t, err, "schema rejects negative pct")

	_, _, err = r.Resolve("stop_loss", map[string]any{"loose_stop_loss_pct": 1, "take_profit_hit": true})
	assert.Error(t, err, "runtime field")

	_, _, err = r.Resolve("stop_loss", map[string]any{"loose_stop_loss_pct": 1, "bogus": 1})
	assert.Error(t, err, "unknown field")

	_, _, err = r.Resolve("nope", nil)
	assert.Error(t, err)
}

func TestSlopePresetDefaults(t *testing.T) {
	r, err := NewRegistry("")
	require.NoError(t, err)
	_, params, err := r.Resolve("ma_slope", map[string]any{"loose_stop_loss_pct": 2, "slope_threshold": -0.1})
	require.NoError(t, err)
	assert.True(t, params.SlopeExit)
	assert.Equal(t, 5, params.SlopePeriod)
	assert.Equal(t, -0.1, *params.SlopeThreshold)
	assert.Equal(t, order.ReferenceRate, params.EffectiveReference())
}

const presetFile = `presets:
  scalp:
    description: quick trailing stop
    tiers:
      reference: rate
      loose_stop: trailing
    defaults:
      loose_stop_loss_pct: 0.5
`

func TestFilePresetsAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(presetFile), 0o644))

	r, err := NewRegistry(path)
	require.NoError(t, err)
	assert.Len(t, r.List(), 8)
	_, params, err := r.Resolve("scalp", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, *params.LooseStopLossPct)

	changed := make(chan Snapshot, 4)
	r.OnChange(func(s Snapshot) { changed <- s })
	updated := presetFile + "      ma_type: EMA\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	// 写文件可能触发多次事件，等到包含新字段的快照为止
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-changed:
			if snap.Presets["scalp"].Defaults["ma_type"] == "EMA" {
				_, params, err := r.Resolve("scalp", nil)
				require.NoError(t, err)
				assert.Equal(t, order.MATypeEMA, params.MAType)
				return
			}
		case <-deadline:
			t.Fatal("preset file change not observed")
		}
	}
}

func TestUnknownYAMLFieldRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("presets:\n  x:\n    colour: red\n"), 0o644))
	_, err := NewRegistry(path)
	assert.Error(t, err)
}

func TestExport(t *testing.T) {
	r, err := NewRegistry("")
	require.NoError(t, err)
	raw, err := r.Export()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ma_trailing_stop_loss:")
}
