package sqldb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	positional := Dialect{Positional: true}
	assert.Equal(t,
		"UPDATE products SET stock = $1 WHERE id = $2 AND stock = $3",
		positional.Rebind("UPDATE products SET stock = ? WHERE id = ? AND stock = ?"))

	plain := Dialect{}
	assert.Equal(t, "SELECT 1 WHERE a = ?", plain.Rebind("SELECT 1 WHERE a = ?"))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestTimeValue_Scan(t *testing.T) {
	want := time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC)

	var tv timeValue
	require.NoError(t, tv.Scan("2025-01-10T09:00:00Z"))
	assert.Equal(t, want, tv.Time)

	require.NoError(t, tv.Scan([]byte("2025-01-10T04:00:00-05:00")))
	assert.Equal(t, want, tv.Time)

	require.NoError(t, tv.Scan(want.In(time.FixedZone("ECT", -5*3600))))
	assert.Equal(t, want, tv.Time)

	require.NoError(t, tv.Scan(nil))
	assert.True(t, tv.Time.IsZero())

	assert.Error(t, tv.Scan("yesterday"))
	assert.Error(t, tv.Scan(42))
}

func TestFormatTime_NormalizesToUTCSeconds(t *testing.T) {
	at := time.Date(2025, time.January, 10, 4, 0, 0, 999, time.FixedZone("ECT", -5*3600))
	assert.Equal(t, "2025-01-10T09:00:00Z", formatTime(at))
}
